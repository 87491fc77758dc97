// Package ot applies and transforms range-based text edits against a line-oriented buffer.
//
// Coordinates are 1-based and end-exclusive, matching the editing widget. Columns count Unicode
// code points. The transform is deliberately conservative: it shifts ranges for edits that precede
// them and resolves overlaps with a priority rule, and a full-document resync is the recovery path
// when that is not enough.
package ot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"collab-sync/backend/internal/platform/apperr"
)

// Position is a 1-based line/column location in a buffer.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is an end-exclusive span. Field names follow the editor's wire format.
type Range struct {
	StartLine   int `json:"startLineNumber"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLineNumber"`
	EndColumn   int `json:"endColumn"`
}

// Operation replaces Range with Text. An empty range is an insertion; empty Text is a deletion.
type Operation struct {
	Range Range  `json:"range"`
	Text  string `json:"text"`
}

// Insert returns an insertion of text at (line, column).
func Insert(line, column int, text string) Operation {
	return Operation{Range: Range{StartLine: line, StartColumn: column, EndLine: line, EndColumn: column}, Text: text}
}

// Replace returns an operation replacing the given span with text.
func Replace(startLine, startColumn, endLine, endColumn int, text string) Operation {
	return Operation{
		Range: Range{StartLine: startLine, StartColumn: startColumn, EndLine: endLine, EndColumn: endColumn},
		Text:  text,
	}
}

func (r Range) Start() Position { return Position{Line: r.StartLine, Column: r.StartColumn} }
func (r Range) End() Position   { return Position{Line: r.EndLine, Column: r.EndColumn} }

// IsEmpty reports whether the range selects no characters.
func (r Range) IsEmpty() bool { return r.Start() == r.End() }

func (r Range) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.StartLine, r.StartColumn, r.EndLine, r.EndColumn)
}

// Compare returns -1, 0 or 1 as p is before, equal to or after q.
func (p Position) Compare(q Position) int {
	switch {
	case p.Line < q.Line:
		return -1
	case p.Line > q.Line:
		return 1
	case p.Column < q.Column:
		return -1
	case p.Column > q.Column:
		return 1
	}
	return 0
}

// Check validates the shape of op independent of any buffer: positive coordinates and start <= end.
// The gateway calls it on every decoded operation before the batch reaches Apply.
func (op Operation) Check() error {
	r := op.Range
	if r.StartLine < 1 || r.StartColumn < 1 || r.EndLine < 1 || r.EndColumn < 1 {
		return apperr.Newf(apperr.KindValidation, "range %s: coordinates must be >= 1", r)
	}
	if r.Start().Compare(r.End()) > 0 {
		return apperr.Newf(apperr.KindValidation, "range %s: start is after end", r)
	}
	return nil
}

// CheckAll runs Check on every operation and reports the first failure with its index.
func CheckAll(ops []Operation) error {
	for i, op := range ops {
		if err := op.Check(); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return nil
}

// Validate reports whether op can be applied to buffer: both endpoints must fall within the buffer's
// line count and within each referenced line's length + 1.
func Validate(buffer string, op Operation) error {
	return validateLines(splitLines(buffer), op)
}

func validateLines(lines []string, op Operation) error {
	if err := op.Check(); err != nil {
		return err
	}
	r := op.Range
	if r.StartLine > len(lines) || r.EndLine > len(lines) {
		return apperr.Newf(apperr.KindValidation, "range %s: buffer has %d lines", r, len(lines))
	}
	if limit := utf8.RuneCountInString(lines[r.StartLine-1]) + 1; r.StartColumn > limit {
		return apperr.Newf(apperr.KindValidation, "range %s: start column exceeds line length", r)
	}
	if limit := utf8.RuneCountInString(lines[r.EndLine-1]) + 1; r.EndColumn > limit {
		return apperr.Newf(apperr.KindValidation, "range %s: end column exceeds line length", r)
	}
	return nil
}

func splitLines(s string) []string {
	return strings.Split(s, "\n")
}
