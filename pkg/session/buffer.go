package session

import "github.com/mudpuppy/mudpuppy/pkg/dial"

// OutputKind classifies items in a session's output buffer.
type OutputKind int

const (
	OutputMud OutputKind = iota
	OutputInput
	OutputPrompt
	OutputConnection
	OutputCommand
	OutputDebug
)

// OutputItem is one entry in the output buffer. The renderer decides how to
// draw each kind.
type OutputItem struct {
	Kind    OutputKind
	Line    MudLine          // OutputMud, OutputPrompt
	Input   InputLine        // OutputInput
	Message string           // OutputConnection, OutputCommand, OutputDebug
	Failed  bool             // OutputCommand: command failed
	Info    *dial.StreamInfo // OutputConnection, when connected
}

// MudOutput wraps a received line as an output item.
func MudOutput(line MudLine) OutputItem {
	return OutputItem{Kind: OutputMud, Line: line}
}

// PromptOutput wraps a prompt line as an output item.
func PromptOutput(line MudLine) OutputItem {
	return OutputItem{Kind: OutputPrompt, Line: line}
}

// InputOutput wraps an echoed input line as an output item.
func InputOutput(line InputLine) OutputItem {
	return OutputItem{Kind: OutputInput, Input: line}
}

// ConnectionOutput records a connection state change.
func ConnectionOutput(message string, info *dial.StreamInfo) OutputItem {
	return OutputItem{Kind: OutputConnection, Message: message, Info: info}
}

// CommandOutput records the result of a slash command. failed marks error
// results.
func CommandOutput(message string, failed bool) OutputItem {
	return OutputItem{Kind: OutputCommand, Message: message, Failed: failed}
}

// DebugOutput records a debug line (e.g. GMCP echo).
func DebugOutput(message string) OutputItem {
	return OutputItem{Kind: OutputDebug, Message: message}
}

// Buffer is a bounded ring of output items. When full, items are trimmed
// from the head.
type Buffer struct {
	items []OutputItem
	max   int
	dims  struct{ w, h int }
}

// NewBuffer creates a buffer bounded to max items.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 10_000
	}
	return &Buffer{max: max}
}

// Add appends an item, trimming from the head when over capacity.
func (b *Buffer) Add(item OutputItem) {
	b.items = append(b.items, item)
	if len(b.items) > b.max {
		// Drop the overflow from the head, keeping exactly max items.
		drop := len(b.items) - b.max
		b.items = append(b.items[:0], b.items[drop:]...)
	}
}

// Len returns the number of buffered items.
func (b *Buffer) Len() int {
	return len(b.items)
}

// Items returns the buffered items, oldest first. The returned slice is the
// buffer's backing store; callers must not mutate it.
func (b *Buffer) Items() []OutputItem {
	return b.items
}

// Last returns up to n items from the tail, oldest first.
func (b *Buffer) Last(n int) []OutputItem {
	if n >= len(b.items) {
		return b.items
	}
	return b.items[len(b.items)-n:]
}

// SetDims records the rendered dimensions, reporting whether they changed.
func (b *Buffer) SetDims(w, h int) bool {
	if b.dims.w == w && b.dims.h == h {
		return false
	}
	b.dims.w, b.dims.h = w, h
	return true
}

// Dims returns the last recorded dimensions.
func (b *Buffer) Dims() (int, int) {
	return b.dims.w, b.dims.h
}
