package ot

import (
	"errors"
	"strings"
	"testing"

	"collab-sync/backend/internal/platform/apperr"
)

func TestDelta(t *testing.T) {
	testCases := []struct {
		name string
		op   Operation
		want Shift
	}{
		{"insert chars", Insert(1, 1, "abc"), Shift{Columns: 3}},
		{"delete chars", Replace(1, 2, 1, 5, ""), Shift{Columns: -3}},
		{"replace same length", Replace(1, 1, 1, 3, "xy"), Shift{}},
		{"insert line", Insert(2, 1, "a\n"), Shift{Lines: 1}},
		{"delete lines", Replace(1, 1, 3, 1, ""), Shift{Lines: -2}},
		{"multi-line replace same line count", Replace(1, 1, 2, 1, "x\ny"), Shift{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Delta(tc.op); got != tc.want {
				t.Errorf("Delta = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestTransform(t *testing.T) {
	testCases := []struct {
		name  string
		op    Operation
		other Operation
		want  Range
	}{
		{
			name:  "other inserts earlier on same line",
			op:    Insert(1, 4, "Y"),
			other: Insert(1, 1, "XX"),
			want:  Range{1, 6, 1, 6},
		},
		{
			name:  "other deletes earlier on same line",
			op:    Replace(1, 5, 1, 6, "Q"),
			other: Replace(1, 1, 1, 3, ""),
			want:  Range{1, 3, 1, 4},
		},
		{
			name:  "other is after op",
			op:    Insert(1, 1, "A"),
			other: Insert(1, 3, "B"),
			want:  Range{1, 1, 1, 1},
		},
		{
			name:  "other adds a line above",
			op:    Insert(3, 2, "Z"),
			other: Insert(1, 1, "a\n"),
			want:  Range{4, 2, 4, 2},
		},
		{
			name:  "other removes lines above",
			op:    Replace(5, 1, 5, 3, ""),
			other: Replace(1, 1, 3, 1, ""),
			want:  Range{3, 1, 3, 3},
		},
		{
			name:  "other splits op's line before it",
			op:    Insert(2, 5, "!"),
			other: Insert(2, 3, "a\nbc"),
			want:  Range{3, 5, 3, 5},
		},
		{
			name:  "other adds a line before op on its line",
			op:    Insert(1, 5, "Z"),
			other: Insert(1, 1, "a\nb"),
			want:  Range{2, 6, 2, 6},
		},
		{
			name:  "inserts at same position: other goes first",
			op:    Insert(1, 3, "o"),
			other: Insert(1, 3, "ot"),
			want:  Range{1, 5, 1, 5},
		},
		{
			name:  "overlap: left priority shifts by other's delta",
			op:    Replace(1, 3, 1, 6, "Q"),
			other: Replace(1, 1, 1, 4, "XYZW"),
			want:  Range{1, 4, 1, 7},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Transform(tc.op, tc.other)
			if got.Range != tc.want {
				t.Errorf("Transform range = %s, want %s", got.Range, tc.want)
			}
			if got.Text != tc.op.Text {
				t.Errorf("Transform changed text to %q", got.Text)
			}
		})
	}
}

func TestTransformWithPriority_RightReturnsUnshifted(t *testing.T) {
	op := Replace(1, 3, 1, 6, "Q")
	other := Replace(1, 1, 1, 4, "XYZW")
	got := TransformWithPriority(op, other, PriorityRight)
	if got != op {
		t.Errorf("TransformWithPriority(right) = %+v, want unchanged %+v", got, op)
	}
}

func TestTransform_ConcurrentNonOverlappingEditsConverge(t *testing.T) {
	base := "hello world"
	a := Insert(1, 1, "> ")
	b := Insert(1, 12, "!")

	siteA, err := Apply(base, []Operation{a})
	if err != nil {
		t.Fatalf("Apply a: %v", err)
	}
	siteA, err = Apply(siteA, []Operation{Transform(b, a)})
	if err != nil {
		t.Fatalf("Apply b': %v", err)
	}
	siteB, err := Apply(base, []Operation{b})
	if err != nil {
		t.Fatalf("Apply b: %v", err)
	}
	siteB, err = Apply(siteB, []Operation{Transform(a, b)})
	if err != nil {
		t.Fatalf("Apply a': %v", err)
	}
	if siteA != siteB || siteA != "> hello world!" {
		t.Errorf("site A = %q, site B = %q, want both %q", siteA, siteB, "> hello world!")
	}
}

func TestTransformAll(t *testing.T) {
	ops := []Operation{Insert(2, 1, "x"), Insert(1, 5, "y")}
	others := []Operation{Insert(1, 1, "ab"), Insert(1, 1, "\n")}
	got := TransformAll(ops, others)

	// After "ab": (2,1) stays, (1,5) -> (1,7). After "\n" at (1,1): both move down a line.
	want := []Range{{3, 1, 3, 1}, {2, 7, 2, 7}}
	for i := range want {
		if got[i].Range != want[i] {
			t.Errorf("op %d range = %s, want %s", i, got[i].Range, want[i])
		}
	}
	if ops[1].Range.StartColumn != 5 {
		t.Error("TransformAll modified its input")
	}
}

func TestValidate(t *testing.T) {
	buf := "abc\nde"
	testCases := []struct {
		name    string
		op      Operation
		wantErr bool
	}{
		{"end of line insertion", Insert(1, 4, "x"), false},
		{"last line end", Insert(2, 3, "x"), false},
		{"whole buffer", Replace(1, 1, 2, 3, ""), false},
		{"column two past end", Insert(1, 5, "x"), true},
		{"line past end", Insert(3, 1, "x"), true},
		{"end column past end", Replace(1, 1, 2, 4, ""), true},
		{"zero column", Insert(1, 0, "x"), true},
		{"reversed", Replace(2, 1, 1, 1, ""), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(buf, tc.op)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate err = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("Validate error kind = %q", apperr.KindOf(err))
			}
		})
	}
}

func TestCheckAll_ReportsIndex(t *testing.T) {
	err := CheckAll([]Operation{Insert(1, 1, "a"), Insert(-1, 1, "b")})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("kind = %q", apperr.KindOf(err))
	}
	if !strings.Contains(err.Error(), "operation 1") {
		t.Errorf("error %q does not name the failing index", err)
	}
}
