package ot

import (
	"fmt"
	"sort"
	"strings"
)

// Apply applies ops to buffer and returns the new buffer.
//
// Operations are applied bottom-to-top, right-to-left so that an applied edit never moves the
// coordinates of edits still waiting in the same batch. Every operation is validated against the
// buffer state it is applied to; if any is invalid, Apply returns a ValidationError and the original
// buffer is left untouched (no partial application).
func Apply(buffer string, ops []Operation) (string, error) {
	if len(ops) == 0 {
		return buffer, nil
	}
	sorted := make([]Operation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Range.Start().Compare(sorted[j].Range.Start()) > 0
	})

	lines := splitLines(buffer)
	for i, op := range sorted {
		if err := validateLines(lines, op); err != nil {
			return buffer, fmt.Errorf("apply operation %d: %w", i, err)
		}
		lines = splice(lines, op)
	}
	return strings.Join(lines, "\n"), nil
}

// splice replaces op's range in lines. The unaffected prefix of the start line and suffix of the
// end line are joined around the inserted text, and the result is re-split on its own line breaks.
func splice(lines []string, op Operation) []string {
	r := op.Range
	startLine := []rune(lines[r.StartLine-1])
	endLine := []rune(lines[r.EndLine-1])
	joined := string(startLine[:r.StartColumn-1]) + op.Text + string(endLine[r.EndColumn-1:])

	if r.StartLine == r.EndLine && !strings.Contains(op.Text, "\n") {
		lines[r.StartLine-1] = joined
		return lines
	}

	replacement := splitLines(joined)
	out := make([]string, 0, len(lines)-(r.EndLine-r.StartLine+1)+len(replacement))
	out = append(out, lines[:r.StartLine-1]...)
	out = append(out, replacement...)
	out = append(out, lines[r.EndLine:]...)
	return out
}
