package ot

import (
	"strings"
	"unicode/utf8"
)

// Priority decides which side wins when two operations' ranges overlap.
type Priority int

const (
	// PriorityLeft keeps the transformed operation's intent: it is shifted by the other operation's delta.
	PriorityLeft Priority = iota
	// PriorityRight lets the other operation win: the transformed operation is returned unshifted.
	PriorityRight
)

// Shift is the net line/column change an operation introduces at its end position.
type Shift struct {
	Lines   int
	Columns int
}

// Delta returns the net line/column shift op introduces. A single-line edit that does not add or
// remove lines shifts columns; anything else shifts lines only.
func Delta(op Operation) Shift {
	r := op.Range
	textLines := strings.Split(op.Text, "\n")
	lineDiff := (len(textLines) - 1) - (r.EndLine - r.StartLine)
	if lineDiff == 0 && r.StartLine == r.EndLine {
		return Shift{Columns: utf8.RuneCountInString(textLines[0]) - (r.EndColumn - r.StartColumn)}
	}
	return Shift{Lines: lineDiff}
}

// Transform adjusts op to account for other having been applied first, with PriorityLeft on overlap.
func Transform(op, other Operation) Operation {
	return TransformWithPriority(op, other, PriorityLeft)
}

// TransformWithPriority adjusts op to account for other having been applied first.
//
// When the ranges do not overlap and other ends at or before op's start, op is moved to where its
// text now sits. When they do not overlap and other is after op, op is unchanged. Overlapping
// ranges are resolved by priority; neither outcome is guaranteed to match the author's intent, which
// is why clients fall back to a full-document resync.
func TransformWithPriority(op, other Operation, p Priority) Operation {
	if !overlaps(op.Range, other.Range) {
		if other.Range.End().Compare(op.Range.Start()) <= 0 {
			op.Range = rangeBetween(shiftPosition(op.Range.Start(), other), shiftPosition(op.Range.End(), other))
		}
		return op
	}
	if p == PriorityRight {
		return op
	}
	op.Range = adjust(op.Range, Delta(other))
	return op
}

// TransformAll transforms every op in ops against each of others in order.
func TransformAll(ops, others []Operation) []Operation {
	out := make([]Operation, len(ops))
	copy(out, ops)
	for _, other := range others {
		for i := range out {
			out[i] = Transform(out[i], other)
		}
	}
	return out
}

func overlaps(a, b Range) bool {
	return !(a.End().Compare(b.Start()) <= 0 || b.End().Compare(a.Start()) <= 0)
}

// shiftPosition moves p, which lies at or after other's end, by the text other inserted.
// Positions on other's end line keep their distance from the end; later lines only move vertically.
func shiftPosition(p Position, other Operation) Position {
	r := other.Range
	textLines := strings.Split(other.Text, "\n")
	newEndLine := r.StartLine + len(textLines) - 1
	newEndColumn := utf8.RuneCountInString(textLines[len(textLines)-1]) + 1
	if len(textLines) == 1 {
		newEndColumn += r.StartColumn - 1
	}
	if p.Line == r.EndLine {
		return Position{Line: newEndLine, Column: newEndColumn + (p.Column - r.EndColumn)}
	}
	return Position{Line: p.Line + newEndLine - r.EndLine, Column: p.Column}
}

func adjust(r Range, s Shift) Range {
	out := Range{
		StartLine:   r.StartLine + s.Lines,
		StartColumn: r.StartColumn,
		EndLine:     r.EndLine + s.Lines,
		EndColumn:   r.EndColumn,
	}
	if s.Lines == 0 {
		out.StartColumn += s.Columns
		out.EndColumn += s.Columns
	}
	return out
}

func rangeBetween(start, end Position) Range {
	return Range{StartLine: start.Line, StartColumn: start.Column, EndLine: end.Line, EndColumn: end.Column}
}
