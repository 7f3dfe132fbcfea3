package client

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/mudpuppy/mudpuppy/pkg/config"
	"github.com/mudpuppy/mudpuppy/pkg/events"
	"github.com/mudpuppy/mudpuppy/pkg/script"
	"github.com/mudpuppy/mudpuppy/pkg/session"
)

// Client is the engine root. One engine goroutine (Run) drives connection
// and timer events; script callbacks run on their own goroutines and
// re-enter through the API, serialized by the engine mutex.
type Client struct {
	// mu serializes all access to sessions and config. Bus handlers never
	// run under it; they are enqueued onto the dispatch queue instead.
	mu  sync.Mutex
	cfg *config.Config

	Bus      *events.Bus
	Registry *Registry
	Wheel    *session.Wheel

	connEvents chan session.ConnEvent
	dispatch   *workQueue

	commands map[string]*command
	cmdOrder []string
	scripts  *script.Registry
	metrics  *Metrics

	ctx      context.Context
	quit     chan struct{}
	quitOnce sync.Once
}

// New assembles a client around a config snapshot and a script registry.
func New(cfg *config.Config, scripts *script.Registry) *Client {
	c := &Client{
		cfg:        cfg,
		Bus:        events.NewBus(),
		Registry:   NewRegistry(),
		Wheel:      session.NewWheel(),
		connEvents: make(chan session.ConnEvent, 256),
		dispatch:   newWorkQueue(),
		commands:   map[string]*command{},
		scripts:    scripts,
		metrics:    NewMetrics(),
		ctx:        context.Background(),
		quit:       make(chan struct{}),
	}
	registerBuiltinCommands(c)
	return c
}

// Metrics returns the engine's Prometheus instruments.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Config returns the current config snapshot.
func (c *Client) Config() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetConfig swaps in a reloaded config snapshot and emits ConfigReloaded.
// Existing sessions keep the Mud snapshot they were created with.
func (c *Client) SetConfig(cfg *config.Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.Bus.Emit(events.Event{Type: events.ConfigReloaded, Payload: cfg})
}

// Go implements session.Executor: it runs an asynchronous script callback,
// catching failures so one broken callback cannot take the engine down.
func (c *Client) Go(label string, fn func() error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.scriptFailure(label, fmt.Errorf("panic: %v", r))
			}
		}()
		if err := fn(); err != nil {
			c.scriptFailure(label, err)
		}
	}()
}

func (c *Client) scriptFailure(label string, err error) {
	log.Printf("script callback %s failed: %v", label, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.activeLocked(); ok {
		s.AddOutput(session.CommandOutput(fmt.Sprintf("%s failed: %v", label, err), true))
	}
}

// Run processes connection events, timer fires and dispatched handler work
// until Quit is called or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	for {
		select {
		case ev := <-c.connEvents:
			c.handleConnEvent(ev)
		case fire := <-c.Wheel.Fires:
			c.fireTimer(fire)
		case <-c.dispatch.ready:
			for _, fn := range c.dispatch.drain() {
				fn()
			}
		case <-c.quit:
			c.teardown()
			return nil
		case <-ctx.Done():
			c.teardown()
			return ctx.Err()
		}
	}
}

// Quit requests a clean shutdown.
func (c *Client) Quit() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// Done reports whether a quit was requested.
func (c *Client) Done() <-chan struct{} {
	return c.quit
}

func (c *Client) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.Registry.Sessions() {
		s.Close()
	}
	c.Wheel.Close()
}

func (c *Client) handleConnEvent(ev session.ConnEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.Registry.Get(ev.Session)
	if !ok {
		return
	}
	before := s.Status()
	s.HandleConnEvent(ev)
	c.metrics.Observe(ev)
	if before != session.StatusDisconnected && s.Status() == session.StatusDisconnected {
		// Per-session timers pause (not remove) so script-side IDs stay
		// valid until explicit removal.
		c.Wheel.StopSession(s.ID)
		if before == session.StatusConnected {
			c.metrics.Connected.Dec()
		}
	}
	if before != session.StatusConnected && s.Status() == session.StatusConnected {
		c.metrics.Connected.Inc()
	}
}

func (c *Client) fireTimer(fire session.TimerFire) {
	c.metrics.TimerFires.Inc()
	hint := fire.Session
	if hint == 0 {
		if active, ok := c.Registry.Active(); ok {
			hint = active
		}
	}
	timer := fire.Timer
	if cb := timer.Config.Callback; cb != nil {
		c.Go(fmt.Sprintf("timer %q", timer.Config.Name), func() error {
			return cb(timer, hint)
		})
	}
	if timer.Config.Expansion != "" {
		c.mu.Lock()
		if s, ok := c.Registry.Get(timer.Config.Session); ok {
			if err := s.SendLine(timer.Config.Expansion, true); err != nil {
				log.Printf("timer %q expansion: %v", timer.Config.Name, err)
			}
		}
		c.mu.Unlock()
	}
}

// NewSession creates a session for the named MUD and emits NewSession.
func (c *Client) NewSession(mudName string) (*session.Session, error) {
	c.mu.Lock()
	mud := c.cfg.Mud(mudName)
	if mud == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("no MUD named %q in config", mudName)
	}
	// Copy the Mud so the session keeps an immutable snapshot across
	// config reloads.
	snapshot := *mud
	id := c.Registry.NextID()
	s := session.New(id, &snapshot, c.cfg.OutputBufferSize, c.Bus, c, c.connEvents)
	c.Registry.Add(s)
	c.metrics.Sessions.Inc()
	c.mu.Unlock()

	log.Printf("[%d] new session for %s", id, mudName)
	c.Bus.Emit(events.Event{Type: events.NewSession, Session: id, Text: mudName})
	return s, nil
}

// Connect starts dialing a session's MUD.
func (c *Client) Connect(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.Registry.Get(id)
	if !ok {
		return &session.NotFoundError{Kind: "session", ID: id}
	}
	return s.Connect(c.ctx)
}

// Disconnect tears down a session's connection.
func (c *Client) Disconnect(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.Registry.Get(id)
	if !ok {
		return &session.NotFoundError{Kind: "session", ID: id}
	}
	return s.Disconnect()
}

// CloseSession destroys a session entirely.
func (c *Client) CloseSession(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.Registry.Remove(id)
	if !ok {
		return &session.NotFoundError{Kind: "session", ID: id}
	}
	s.Close()
	c.Wheel.StopSession(id)
	c.metrics.Sessions.Dec()
	return nil
}

// LoadScripts imports every registered module. Called once at startup.
func (c *Client) LoadScripts() error {
	for _, m := range c.scripts.Modules() {
		if err := m.Load(c.apiFor(m.Name())); err != nil {
			return fmt.Errorf("loading module %s: %w", m.Name(), err)
		}
		log.Printf("loaded module %s", m.Name())
	}
	return nil
}

// Reload hot-reloads all script modules: reload hooks run first, then every
// per-module registration is purged, then modules re-import. ScriptsReloaded
// is emitted exactly once, followed by one ResumeSession per extant session
// so scripts can re-subscribe their per-session state.
func (c *Client) Reload() error {
	log.Printf("reloading %d script modules", len(c.scripts.Modules()))

	for _, m := range c.scripts.Modules() {
		if r, ok := m.(script.Reloader); ok {
			r.BeforeReload()
		}
	}

	for _, m := range c.scripts.Modules() {
		name := m.Name()
		c.Bus.Unload(name)
		c.Wheel.Unload(name)
		c.mu.Lock()
		for _, s := range c.Registry.Sessions() {
			s.Unload(name)
		}
		c.unloadCommandsLocked(name)
		c.mu.Unlock()
	}

	var failed error
	for _, m := range c.scripts.Modules() {
		if err := m.Load(c.apiFor(m.Name())); err != nil {
			log.Printf("reloading module %s failed: %v", m.Name(), err)
			if failed == nil {
				failed = err
			}
		}
	}

	c.metrics.Reloads.Inc()
	c.Bus.Emit(events.Event{Type: events.ScriptsReloaded})
	for _, id := range c.Registry.IDs() {
		c.Bus.Emit(events.Event{Type: events.ResumeSession, Session: id})
	}
	return failed
}

// activeLocked returns the focused session; caller holds c.mu.
func (c *Client) activeLocked() (*session.Session, bool) {
	id, ok := c.Registry.Active()
	if !ok {
		return nil, false
	}
	s, ok := c.Registry.Get(id)
	return s, ok
}

// Print adds a command-result line to the focused session's buffer, or logs
// it when no session exists.
func (c *Client) Print(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.activeLocked(); ok {
		s.AddOutput(session.CommandOutput(text, false))
		return
	}
	log.Printf("print (no session): %s", text)
}

// SetDims propagates renderer dimensions to every session.
func (c *Client) SetDims(w, h int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.Registry.Sessions() {
		s.SetDims(w, h)
	}
}

// workQueue is an unbounded FIFO of handler work, drained by the engine
// loop. Unbounded so enqueueing while the loop holds the engine mutex can
// never deadlock.
type workQueue struct {
	mu    sync.Mutex
	items []func()
	ready chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{ready: make(chan struct{}, 1)}
}

func (q *workQueue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *workQueue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
