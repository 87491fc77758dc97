package client

import (
	"strings"
	"sync"
	"unicode/utf8"

	"collab-sync/backend/internal/ot"
)

// Buffer is an in-memory Editor. Like a real editing widget it reports every change, programmatic
// or not, to its listener; the engine tells the two apart.
type Buffer struct {
	mu       sync.Mutex
	text     string
	listener func([]ot.Operation) bool
}

// NewBuffer returns a Buffer holding text.
func NewBuffer(text string) *Buffer {
	return &Buffer{text: text}
}

// OnChange sets the change listener, typically Engine.LocalEdit.
func (b *Buffer) OnChange(fn func([]ot.Operation) bool) {
	b.mu.Lock()
	b.listener = fn
	b.mu.Unlock()
}

func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// Edit applies a user edit.
func (b *Buffer) Edit(ops []ot.Operation) error {
	return b.ApplyEdits(ops)
}

func (b *Buffer) ApplyEdits(ops []ot.Operation) error {
	b.mu.Lock()
	next, err := ot.Apply(b.text, ops)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.text = next
	fn := b.listener
	b.mu.Unlock()
	if fn != nil {
		fn(ops)
	}
	return nil
}

// SetText replaces the buffer and reports it as one whole-buffer replacement.
func (b *Buffer) SetText(text string) error {
	b.mu.Lock()
	whole := wholeRange(b.text)
	b.text = text
	fn := b.listener
	b.mu.Unlock()
	if fn != nil {
		fn([]ot.Operation{{Range: whole, Text: text}})
	}
	return nil
}

func wholeRange(text string) ot.Range {
	lines := strings.Split(text, "\n")
	last := lines[len(lines)-1]
	return ot.Range{StartLine: 1, StartColumn: 1, EndLine: len(lines), EndColumn: utf8.RuneCountInString(last) + 1}
}
