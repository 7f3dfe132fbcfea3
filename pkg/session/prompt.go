package session

import (
	"fmt"
	"time"

	"github.com/mudpuppy/mudpuppy/pkg/telnet"
)

// PromptSignal identifies the Telnet command a MUD uses to mark prompts.
type PromptSignal int

const (
	SignalEndOfRecord PromptSignal = iota
	SignalGoAhead
)

func (s PromptSignal) String() string {
	if s == SignalGoAhead {
		return "go ahead (GA)"
	}
	return "end of record (EoR)"
}

// Byte returns the Telnet command byte for the signal.
func (s PromptSignal) Byte() byte {
	if s == SignalGoAhead {
		return telnet.GA
	}
	return telnet.EOR
}

// Terminator returns the line terminator kind the signal produces.
func (s PromptSignal) Terminator() telnet.Terminator {
	if s == SignalGoAhead {
		return telnet.TermGoAhead
	}
	return telnet.TermEndOfRecord
}

// PromptMode selects how trailing partial lines are classified as prompts.
//
// In unsignalled mode there is no way to tell a prompt from a line whose
// terminator just hasn't arrived yet, so a timing heuristic is used: if no
// further data arrives within Timeout of the last byte, the partial buffer
// is flushed as a prompt.
//
// In signalled mode the MUD explicitly marks prompts with EOR or GA and no
// timer is needed.
type PromptMode struct {
	Signalled bool
	Signal    PromptSignal
	Timeout   time.Duration
}

// UnsignalledMode returns a timeout-heuristic prompt mode.
func UnsignalledMode(timeout time.Duration) PromptMode {
	return PromptMode{Timeout: timeout}
}

// SignalledMode returns an explicit-signal prompt mode.
func SignalledMode(signal PromptSignal) PromptMode {
	return PromptMode{Signalled: true, Signal: signal}
}

// DefaultPromptMode is unsignalled with a 200ms flush timeout.
func DefaultPromptMode() PromptMode {
	return UnsignalledMode(200 * time.Millisecond)
}

func (m PromptMode) String() string {
	if m.Signalled {
		return fmt.Sprintf("signalled prompt mode (%s)", m.Signal)
	}
	return fmt.Sprintf("unsignalled prompt mode (%s flush timeout)", m.Timeout)
}

// flusher runs the unsignalled-mode timeout. Each Extend call restarts the
// single-shot timer; when it expires with no intervening Extend, flush is
// invoked once. flush typically posts a Flush action to the connection,
// which answers with the codec's partial buffer.
type flusher struct {
	extend chan struct{}
	stop   chan struct{}
}

func newFlusher(timeout time.Duration, flush func()) *flusher {
	f := &flusher{
		extend: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go f.run(timeout, flush)
	return f
}

func (f *flusher) run(timeout time.Duration, flush func()) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	armed := true
	for {
		select {
		case <-f.extend:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
			armed = true
		case <-timer.C:
			if armed {
				flush()
				armed = false
			}
		case <-f.stop:
			return
		}
	}
}

// Extend restarts the flush timeout. Called for every byte of received data.
func (f *flusher) Extend() {
	select {
	case f.extend <- struct{}{}:
	default:
	}
}

// Stop terminates the flusher goroutine.
func (f *flusher) Stop() {
	close(f.stop)
}
