package client

import (
	"fmt"

	"github.com/mudpuppy/mudpuppy/pkg/session"
)

// ViewSnapshot is what the renderer needs to draw the focused session. It is
// a copy; the renderer never touches engine state directly.
type ViewSnapshot struct {
	SessionID  int
	MudName    string
	Status     session.Status
	Info       string
	Lines      []string
	Prompt     string
	Echo       session.EchoState
	Sessions   int
	HoldPrompt bool
}

// ActiveView renders up to maxLines of the focused session's output into a
// snapshot for the TUI.
func (c *Client) ActiveView(maxLines int) ViewSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := ViewSnapshot{Sessions: c.Registry.Len()}
	s, ok := c.activeLocked()
	if !ok {
		return snap
	}
	snap.SessionID = s.ID
	snap.MudName = s.Mud.Name
	snap.Status = s.Status()
	snap.Echo = s.Echo()
	snap.HoldPrompt = s.Mud.HoldPrompt
	if s.Status() == session.StatusConnected {
		snap.Info = s.Info().String()
	}
	if held := s.HeldPrompt(); held != nil {
		snap.Prompt = held.String()
	}
	for _, item := range s.Output.Last(maxLines) {
		snap.Lines = append(snap.Lines, formatItem(item))
	}
	return snap
}

func formatItem(item session.OutputItem) string {
	switch item.Kind {
	case session.OutputMud, session.OutputPrompt:
		return item.Line.String()
	case session.OutputInput:
		return "> " + item.Input.Masked()
	case session.OutputConnection:
		if item.Info != nil {
			return fmt.Sprintf("· %s %s", item.Message, item.Info)
		}
		return "· " + item.Message
	case session.OutputCommand:
		if item.Failed {
			return "! " + item.Message
		}
		return "· " + item.Message
	case session.OutputDebug:
		return "[debug] " + item.Message
	}
	return item.Message
}

// HistoryAt recalls the focused session's input history, n entries back.
func (c *Client) HistoryAt(n int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.activeLocked()
	if !ok {
		return "", false
	}
	return s.History.At(n)
}

// CycleActive moves session focus forward or backward.
func (c *Client) CycleActive(dir int) {
	c.Registry.Cycle(dir)
}
