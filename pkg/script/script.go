// Package script defines the bridge contract between the session engine and
// embedded scripting modules. The engine side hands each module an API
// handle; everything a module registers through it is tagged with the
// module's name so a live reload can purge and re-import the module without
// leaking callbacks.
//
// Modules address sessions by integer ID, never by reference, so a handle
// kept across a reload or a suspension stays valid (or fails with a
// not-found error) instead of dangling.
package script

import (
	"github.com/mudpuppy/mudpuppy/pkg/events"
	"github.com/mudpuppy/mudpuppy/pkg/session"
)

// CommandFunc runs a script-registered slash command. sessionID is the
// focused session, zero when none.
type CommandFunc func(api API, sessionID int, args string) error

// API is the engine surface exposed to a single module. Methods are safe to
// call from any callback; operations on removed objects fail with a
// not-found error rather than panicking.
type API interface {
	// Module returns the name registrations are tagged with.
	Module() string

	// Print adds a line to the focused session's output, or logs when no
	// session is focused.
	Print(text string)

	// Subscribe registers an event handler, tagged with this module.
	Subscribe(typ events.Type, fn events.Handler) int

	// RegisterCommand adds a slash command, tagged with this module.
	RegisterCommand(name, help string, fn CommandFunc) error

	ActiveSession() (int, bool)
	SessionIDs() []int
	SessionStatus(sessionID int) (session.Status, error)

	// SendLine transmits text to a session as scripted input (alias
	// evaluation is bypassed).
	SendLine(sessionID int, text string) error

	RequestEnableOption(sessionID int, option byte) error
	RequestDisableOption(sessionID int, option byte) error
	SendSubnegotiation(sessionID int, option byte, data []byte) error

	AddTrigger(sessionID int, cfg session.TriggerConfig) (int, error)
	RemoveTrigger(sessionID, triggerID int) error
	AddAlias(sessionID int, cfg session.AliasConfig) (int, error)
	RemoveAlias(sessionID, aliasID int) error

	AddTimer(cfg session.TimerConfig) (int, error)
	StartTimer(timerID int) error
	StopTimer(timerID int) error
	RemoveTimer(timerID int) error

	GmcpRegister(sessionID int, pkg string) error
	GmcpUnregister(sessionID int, pkg string) error
	GmcpSend(sessionID int, pkg, jsonData string) error

	// EmitCustom publishes a Custom event for other modules.
	EmitCustom(sessionID int, tag string, payload any)
}

// Module is one unit of user code. Load is called at import time and again
// after each reload purge; everything the module needs must be re-registered
// there.
type Module interface {
	Name() string
	Load(api API) error
}

// Reloader is implemented by modules that want a hook before a reload
// purges their registrations.
type Reloader interface {
	BeforeReload()
}

// Evaluator is implemented by runtimes that can evaluate expressions for
// the /py command.
type Evaluator interface {
	Eval(expr string) (string, error)
}

// Registry holds the loaded modules in import order.
type Registry struct {
	modules []Module
	byName  map[string]Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Module{}}
}

// Register adds a module. Later registrations with the same name replace
// earlier ones.
func (r *Registry) Register(m Module) {
	if _, ok := r.byName[m.Name()]; ok {
		for i, existing := range r.modules {
			if existing.Name() == m.Name() {
				r.modules[i] = m
				break
			}
		}
	} else {
		r.modules = append(r.modules, m)
	}
	r.byName[m.Name()] = m
}

// Modules returns the modules in import order.
func (r *Registry) Modules() []Module {
	return r.modules
}

// Get returns a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	m, ok := r.byName[name]
	return m, ok
}
