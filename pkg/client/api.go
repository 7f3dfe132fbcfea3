package client

import (
	"fmt"

	"github.com/mudpuppy/mudpuppy/pkg/events"
	"github.com/mudpuppy/mudpuppy/pkg/script"
	"github.com/mudpuppy/mudpuppy/pkg/session"
)

// moduleAPI is the per-module implementation of script.API. Every
// registration made through it carries the module's name, which is what
// makes reload purges exact.
type moduleAPI struct {
	c      *Client
	module string
}

func (c *Client) apiFor(module string) script.API {
	return &moduleAPI{c: c, module: module}
}

func (a *moduleAPI) Module() string { return a.module }

func (a *moduleAPI) Print(text string) {
	a.c.Print(text)
}

// Subscribe wraps the handler so it runs on the engine's dispatch queue,
// off the emitting path. Registration order is preserved end to end.
func (a *moduleAPI) Subscribe(typ events.Type, fn events.Handler) int {
	return a.c.Bus.Subscribe(typ, a.module, func(ev events.Event) {
		a.c.dispatch.push(func() { fn(ev) })
	})
}

func (a *moduleAPI) RegisterCommand(name, help string, fn script.CommandFunc) error {
	run := func(c *Client, sessionID int, args string) error {
		return fn(a, sessionID, args)
	}
	return a.c.registerCommand(&command{name: name, help: help, module: a.module, run: run})
}

func (a *moduleAPI) ActiveSession() (int, bool) {
	return a.c.Registry.Active()
}

func (a *moduleAPI) SessionIDs() []int {
	return a.c.Registry.IDs()
}

func (a *moduleAPI) withSession(id int, fn func(*session.Session) error) error {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	s, ok := a.c.Registry.Get(id)
	if !ok {
		return &session.NotFoundError{Kind: "session", ID: id}
	}
	return fn(s)
}

func (a *moduleAPI) SessionStatus(id int) (session.Status, error) {
	var status session.Status
	err := a.withSession(id, func(s *session.Session) error {
		status = s.Status()
		return nil
	})
	return status, err
}

func (a *moduleAPI) SendLine(id int, text string) error {
	return a.withSession(id, func(s *session.Session) error {
		return s.SendLine(text, true)
	})
}

func (a *moduleAPI) RequestEnableOption(id int, option byte) error {
	return a.withSession(id, func(s *session.Session) error {
		return s.RequestEnableOption(option)
	})
}

func (a *moduleAPI) RequestDisableOption(id int, option byte) error {
	return a.withSession(id, func(s *session.Session) error {
		return s.RequestDisableOption(option)
	})
}

func (a *moduleAPI) SendSubnegotiation(id int, option byte, data []byte) error {
	return a.withSession(id, func(s *session.Session) error {
		return s.SendSubnegotiation(option, data)
	})
}

func (a *moduleAPI) AddTrigger(id int, cfg session.TriggerConfig) (int, error) {
	cfg.Module = a.module
	var triggerID int
	err := a.withSession(id, func(s *session.Session) error {
		t, err := s.AddTrigger(cfg)
		if err != nil {
			return err
		}
		triggerID = t.ID
		return nil
	})
	return triggerID, err
}

func (a *moduleAPI) RemoveTrigger(id, triggerID int) error {
	return a.withSession(id, func(s *session.Session) error {
		return s.RemoveTrigger(triggerID)
	})
}

func (a *moduleAPI) AddAlias(id int, cfg session.AliasConfig) (int, error) {
	cfg.Module = a.module
	var aliasID int
	err := a.withSession(id, func(s *session.Session) error {
		al, err := s.AddAlias(cfg)
		if err != nil {
			return err
		}
		aliasID = al.ID
		return nil
	})
	return aliasID, err
}

func (a *moduleAPI) RemoveAlias(id, aliasID int) error {
	return a.withSession(id, func(s *session.Session) error {
		return s.RemoveAlias(aliasID)
	})
}

func (a *moduleAPI) AddTimer(cfg session.TimerConfig) (int, error) {
	cfg.Module = a.module
	t, err := a.c.Wheel.Add(cfg)
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (a *moduleAPI) StartTimer(timerID int) error {
	if !a.c.Wheel.Start(timerID) {
		return &session.NotFoundError{Kind: "timer", ID: timerID}
	}
	return nil
}

func (a *moduleAPI) StopTimer(timerID int) error {
	if !a.c.Wheel.Stop(timerID) {
		return &session.NotFoundError{Kind: "timer", ID: timerID}
	}
	return nil
}

func (a *moduleAPI) RemoveTimer(timerID int) error {
	if !a.c.Wheel.Remove(timerID) {
		return &session.NotFoundError{Kind: "timer", ID: timerID}
	}
	return nil
}

func (a *moduleAPI) GmcpRegister(id int, pkg string) error {
	return a.withSession(id, func(s *session.Session) error {
		return s.GmcpRegister(pkg)
	})
}

func (a *moduleAPI) GmcpUnregister(id int, pkg string) error {
	return a.withSession(id, func(s *session.Session) error {
		return s.GmcpUnregister(pkg)
	})
}

func (a *moduleAPI) GmcpSend(id int, pkg, jsonData string) error {
	return a.withSession(id, func(s *session.Session) error {
		return s.GmcpSend(pkg, jsonData)
	})
}

func (a *moduleAPI) EmitCustom(sessionID int, tag string, payload any) {
	a.c.Bus.Emit(events.Event{
		Type:    events.Custom,
		Session: sessionID,
		Text:    tag,
		Payload: payload,
	})
}

var _ script.API = (*moduleAPI)(nil)

func (a *moduleAPI) String() string {
	return fmt.Sprintf("api(%s)", a.module)
}
