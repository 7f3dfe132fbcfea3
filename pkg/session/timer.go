package session

import (
	"container/heap"
	"fmt"
	"sync"
	"time"
)

// TimerFunc is an asynchronous timer callback. sessionID is the timer's
// associated session, or, for global timers, the currently focused session
// at fire time (zero when none is focused).
type TimerFunc func(timer *Timer, sessionID int) error

// TimerConfig is the immutable schema of a timer.
type TimerConfig struct {
	Name     string
	Duration time.Duration
	// MaxTicks stops and removes the timer after this many fires.
	// Zero means unlimited.
	MaxTicks uint64
	// Session associates the timer with a session; zero makes it global.
	Session int
	// Expansion is sent to the associated session as scripted input on
	// each fire.
	Expansion string
	// Module tags the owning script module for reload purges.
	Module string

	Callback TimerFunc
}

// Timer is a scheduled periodic callback. Timer IDs are process-global.
type Timer struct {
	ID       int
	Config   TimerConfig
	HitCount uint64

	running   bool
	remaining uint64 // ticks left when MaxTicks > 0
	gen       uint64 // invalidates queued entries from before a stop
}

// Running reports whether the timer is scheduled to fire.
func (t *Timer) Running() bool {
	return t.running
}

func (t *Timer) String() string {
	return fmt.Sprintf("%s: every %s", t.Config.Name, t.Config.Duration)
}

// TimerFire describes one timer expiry, delivered on the wheel's channel.
type TimerFire struct {
	Timer *Timer
	// Session is the timer's session, or zero for global timers; the
	// consumer substitutes the focused session as a hint.
	Session int
}

type wheelEntry struct {
	fireAt time.Time
	id     int
	gen    uint64
	seq    uint64
}

type wheelHeap []wheelEntry

func (h wheelHeap) Len() int { return len(h) }
func (h wheelHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}
func (h wheelHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *wheelHeap) Push(x any)   { *h = append(*h, x.(wheelEntry)) }
func (h *wheelHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Wheel schedules all timers in the process on a single priority queue keyed
// by next-fire time. Expiries are delivered on Fires; the consumer invokes
// callbacks on the script executor. The time source is the monotonic clock.
type Wheel struct {
	mu     sync.Mutex
	timers map[int]*Timer
	queue  wheelHeap
	nextID int
	seq    uint64
	wake   chan struct{}
	done   chan struct{}

	// Fires delivers timer expiries in fire order.
	Fires chan TimerFire
}

// NewWheel creates and starts a timer wheel.
func NewWheel() *Wheel {
	w := &Wheel{
		timers: make(map[int]*Timer),
		nextID: 1,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		Fires:  make(chan TimerFire, 64),
	}
	go w.run()
	return w
}

// Close stops the wheel goroutine. Pending fires are dropped.
func (w *Wheel) Close() {
	close(w.done)
}

// Add registers a timer and starts it. The returned Timer carries its new
// process-global ID.
func (w *Wheel) Add(cfg TimerConfig) (*Timer, error) {
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("timer %q: duration must be positive", cfg.Name)
	}
	if cfg.Callback == nil && cfg.Expansion == "" {
		return nil, fmt.Errorf("timer %q: one of callback or expansion required", cfg.Name)
	}
	if cfg.Expansion != "" && cfg.Session == 0 {
		return nil, fmt.Errorf("timer %q: expansion requires a session", cfg.Name)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	t := &Timer{
		ID:        w.nextID,
		Config:    cfg,
		running:   true,
		remaining: cfg.MaxTicks,
	}
	w.nextID++
	w.timers[t.ID] = t
	w.schedule(t)
	return t, nil
}

// schedule pushes the timer's next expiry; caller holds the lock.
func (w *Wheel) schedule(t *Timer) {
	w.seq++
	heap.Push(&w.queue, wheelEntry{
		fireAt: time.Now().Add(t.Config.Duration),
		id:     t.ID,
		gen:    t.gen,
		seq:    w.seq,
	})
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Get returns the timer with the given ID.
func (w *Wheel) Get(id int) (*Timer, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.timers[id]
	return t, ok
}

// Start resumes a stopped timer, retaining its remaining tick budget.
func (w *Wheel) Start(id int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.timers[id]
	if !ok || t.running {
		return ok
	}
	t.running = true
	w.schedule(t)
	return true
}

// Stop pauses a timer without destroying it; script-side IDs stay valid.
func (w *Wheel) Stop(id int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.timers[id]
	if !ok {
		return false
	}
	t.running = false
	t.gen++
	return true
}

// Remove destroys a timer.
func (w *Wheel) Remove(id int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.timers[id]; !ok {
		return false
	}
	delete(w.timers, id)
	return true
}

// StopSession pauses all timers associated with a session. Used when the
// session disconnects; stop rather than remove so IDs stay valid.
func (w *Wheel) StopSession(sessionID int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, t := range w.timers {
		if t.Config.Session == sessionID && t.running {
			t.running = false
			t.gen++
			n++
		}
	}
	return n
}

// Unload removes every timer tagged with the given module.
func (w *Wheel) Unload(module string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for id, t := range w.timers {
		if t.Config.Module == module {
			delete(w.timers, id)
			n++
		}
	}
	return n
}

// Timers returns a snapshot of all registered timers.
func (w *Wheel) Timers() []*Timer {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Timer, 0, len(w.timers))
	for _, t := range w.timers {
		out = append(out, t)
	}
	return out
}

func (w *Wheel) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		w.mu.Lock()
		wait := time.Hour
		now := time.Now()
		var fires []TimerFire

		for len(w.queue) > 0 {
			next := w.queue[0]
			t, ok := w.timers[next.id]
			if !ok || !t.running || next.gen != t.gen {
				// Removed, stopped, or superseded by a restart; discard the
				// stale entry.
				heap.Pop(&w.queue)
				continue
			}
			if next.fireAt.After(now) {
				wait = next.fireAt.Sub(now)
				break
			}
			heap.Pop(&w.queue)
			t.HitCount++
			if t.Config.MaxTicks > 0 {
				t.remaining--
				if t.remaining == 0 {
					t.running = false
					delete(w.timers, t.ID)
				}
			}
			if t.running {
				w.schedule(t)
			}
			fires = append(fires, TimerFire{Timer: t, Session: t.Config.Session})
		}
		w.mu.Unlock()

		for _, fire := range fires {
			select {
			case w.Fires <- fire:
			case <-w.done:
				return
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-w.wake:
		case <-w.done:
			return
		}
	}
}
