package session

import (
	"testing"
	"time"
)

func collectFires(t *testing.T, w *Wheel, n int, within time.Duration) []TimerFire {
	t.Helper()
	var fires []TimerFire
	deadline := time.After(within)
	for len(fires) < n {
		select {
		case fire := <-w.Fires:
			fires = append(fires, fire)
		case <-deadline:
			t.Fatalf("timed out after %d/%d fires", len(fires), n)
		}
	}
	return fires
}

func TestWheelFiresPeriodically(t *testing.T) {
	w := NewWheel()
	defer w.Close()

	timer, err := w.Add(TimerConfig{
		Name:     "tick",
		Duration: 20 * time.Millisecond,
		Session:  7,
		Callback: func(*Timer, int) error { return nil },
	})
	if err != nil {
		t.Fatal(err)
	}

	fires := collectFires(t, w, 3, time.Second)
	for _, fire := range fires {
		if fire.Timer.ID != timer.ID || fire.Session != 7 {
			t.Errorf("fire = %+v", fire)
		}
	}
	if timer.HitCount < 3 {
		t.Errorf("hit count = %d, want >= 3", timer.HitCount)
	}
}

func TestWheelMaxTicksRemoves(t *testing.T) {
	w := NewWheel()
	defer w.Close()

	timer, err := w.Add(TimerConfig{
		Name:     "capped",
		Duration: 10 * time.Millisecond,
		MaxTicks: 2,
		Callback: func(*Timer, int) error { return nil },
	})
	if err != nil {
		t.Fatal(err)
	}

	collectFires(t, w, 2, time.Second)
	// Allow the wheel to settle, then confirm the timer is gone.
	time.Sleep(50 * time.Millisecond)
	if _, ok := w.Get(timer.ID); ok {
		t.Error("timer should be removed after max ticks")
	}
	select {
	case fire := <-w.Fires:
		t.Errorf("unexpected extra fire %+v", fire)
	default:
	}
}

func TestWheelStopRetainsTimer(t *testing.T) {
	w := NewWheel()
	defer w.Close()

	timer, err := w.Add(TimerConfig{
		Name:     "pausable",
		Duration: 10 * time.Millisecond,
		MaxTicks: 10,
		Callback: func(*Timer, int) error { return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	collectFires(t, w, 1, time.Second)

	if !w.Stop(timer.ID) {
		t.Fatal("stop failed")
	}
	time.Sleep(50 * time.Millisecond)
	// Drain anything that raced the stop.
	for {
		select {
		case <-w.Fires:
			continue
		default:
		}
		break
	}

	got, ok := w.Get(timer.ID)
	if !ok {
		t.Fatal("stopped timer should remain registered")
	}
	if got.Running() {
		t.Error("timer should not be running")
	}

	// Restart fires again.
	if !w.Start(timer.ID) {
		t.Fatal("start failed")
	}
	collectFires(t, w, 1, time.Second)
}

func TestWheelStopSession(t *testing.T) {
	w := NewWheel()
	defer w.Close()

	for i := 0; i < 2; i++ {
		if _, err := w.Add(TimerConfig{
			Name:     "sess",
			Duration: time.Hour,
			Session:  42,
			Callback: func(*Timer, int) error { return nil },
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := w.Add(TimerConfig{
		Name:     "global",
		Duration: time.Hour,
		Callback: func(*Timer, int) error { return nil },
	}); err != nil {
		t.Fatal(err)
	}

	if n := w.StopSession(42); n != 2 {
		t.Errorf("stopped %d, want 2", n)
	}
	for _, timer := range w.Timers() {
		if timer.Config.Session == 42 && timer.Running() {
			t.Error("session timer still running")
		}
		if timer.Config.Session == 0 && !timer.Running() {
			t.Error("global timer should be untouched")
		}
	}
}

func TestWheelUnloadModule(t *testing.T) {
	w := NewWheel()
	defer w.Close()

	if _, err := w.Add(TimerConfig{
		Name: "m1", Duration: time.Hour, Module: "mod",
		Callback: func(*Timer, int) error { return nil },
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add(TimerConfig{
		Name: "other", Duration: time.Hour, Module: "keep",
		Callback: func(*Timer, int) error { return nil },
	}); err != nil {
		t.Fatal(err)
	}

	if n := w.Unload("mod"); n != 1 {
		t.Errorf("unloaded %d, want 1", n)
	}
	if len(w.Timers()) != 1 {
		t.Errorf("%d timers remain, want 1", len(w.Timers()))
	}
}

func TestWheelRejectsBadConfig(t *testing.T) {
	w := NewWheel()
	defer w.Close()

	if _, err := w.Add(TimerConfig{Name: "x", Duration: 0, Callback: func(*Timer, int) error { return nil }}); err == nil {
		t.Error("zero duration should be rejected")
	}
	if _, err := w.Add(TimerConfig{Name: "x", Duration: time.Second}); err == nil {
		t.Error("callback-less, expansion-less timer should be rejected")
	}
	if _, err := w.Add(TimerConfig{Name: "x", Duration: time.Second, Expansion: "look"}); err == nil {
		t.Error("expansion without session should be rejected")
	}
}

func TestWheelGlobalIDsMonotonic(t *testing.T) {
	w := NewWheel()
	defer w.Close()

	a, _ := w.Add(TimerConfig{Name: "a", Duration: time.Hour, Callback: func(*Timer, int) error { return nil }})
	w.Remove(a.ID)
	b, _ := w.Add(TimerConfig{Name: "b", Duration: time.Hour, Callback: func(*Timer, int) error { return nil }})
	if b.ID <= a.ID {
		t.Errorf("IDs must not be reused: %d then %d", a.ID, b.ID)
	}
}
