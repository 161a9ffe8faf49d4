package consent

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// flagChecker is a Checker whose answer can be flipped by tests.
type flagChecker struct {
	granted atomic.Bool
	calls   atomic.Int32
}

func (f *flagChecker) Granted() bool {
	f.calls.Add(1)
	return f.granted.Load()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestOnConsent_AlreadyGrantedFiresSynchronously(t *testing.T) {
	feed := NewBroadcast()
	g := NewGate(Static(true), []Feed{feed}, time.Millisecond, 10)

	var calls int
	g.OnConsent(func() { calls++ })

	if calls != 1 {
		t.Fatalf("callback calls = %d, want 1 before OnConsent returns", calls)
	}
	if feed.Subscribers() != 0 {
		t.Errorf("feed subscribers = %d, want 0", feed.Subscribers())
	}
}

func TestOnConsent_PushFeedGrant(t *testing.T) {
	feed := NewBroadcast()
	g := NewGate(Static(false), []Feed{feed}, 0, 0)

	var calls atomic.Int32
	g.OnConsent(func() { calls.Add(1) })

	feed.Publish(false)
	if calls.Load() != 0 {
		t.Fatal("denied update must not fire")
	}
	feed.Publish(true)
	feed.Publish(true)

	if calls.Load() != 1 {
		t.Errorf("callback calls = %d, want 1", calls.Load())
	}
	if feed.Subscribers() != 0 {
		t.Errorf("subscription not torn down: %d left", feed.Subscribers())
	}
}

func TestOnConsent_PollingGrant(t *testing.T) {
	checker := &flagChecker{}
	g := NewGate(checker, nil, time.Millisecond, 1000)

	var calls atomic.Int32
	g.OnConsent(func() { calls.Add(1) })
	checker.granted.Store(true)

	waitFor(t, func() bool { return calls.Load() == 1 })
	time.Sleep(10 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("callback calls = %d, want 1", calls.Load())
	}
}

func TestOnConsent_PollingIsBounded(t *testing.T) {
	checker := &flagChecker{}
	g := NewGate(checker, nil, time.Millisecond, 5)

	g.OnConsent(func() { t.Error("callback must not fire without consent") })

	// One synchronous check plus at most maxAttempts polls.
	waitFor(t, func() bool { return checker.calls.Load() == 6 })
	time.Sleep(20 * time.Millisecond)
	if got := checker.calls.Load(); got != 6 {
		t.Errorf("checker calls = %d, want 6", got)
	}
}

func TestOnConsent_FeedAndPollRaceFiresOnce(t *testing.T) {
	checker := &flagChecker{}
	widget := NewBroadcast()
	layer := NewDataLayer()
	g := NewGate(checker, []Feed{layer, widget}, time.Microsecond, 100000)

	var calls atomic.Int32
	g.OnConsent(func() { calls.Add(1) })

	checker.granted.Store(true)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			widget.Publish(true)
		}()
		go func() {
			defer wg.Done()
			layer.Push("consent", "update", map[string]any{StorageKey: "granted"})
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return g.Fired() })
	time.Sleep(10 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("callback calls = %d, want exactly 1", calls.Load())
	}
}

func TestOnConsent_NoGrantNeverFires(t *testing.T) {
	feed := NewBroadcast()
	g := NewGate(Static(false), []Feed{feed}, time.Millisecond, 3)

	fired := make(chan struct{}, 1)
	g.OnConsent(func() { fired <- struct{}{} })

	select {
	case <-fired:
		t.Fatal("callback fired without consent")
	case <-time.After(30 * time.Millisecond):
	}
	// Push feeds stay subscribed after polling gives up.
	if feed.Subscribers() != 1 {
		t.Errorf("feed subscribers = %d, want 1", feed.Subscribers())
	}
}

func TestStop_PreventsLaterGrant(t *testing.T) {
	feed := NewBroadcast()
	g := NewGate(Static(false), []Feed{feed}, 0, 0)

	var calls atomic.Int32
	g.OnConsent(func() { calls.Add(1) })
	g.Stop()
	feed.Publish(true)

	if calls.Load() != 0 {
		t.Error("callback fired after Stop")
	}
	if feed.Subscribers() != 0 {
		t.Errorf("feed subscribers = %d after Stop", feed.Subscribers())
	}
}

// syncFeed grants from inside Subscribe, before the gate has recorded the
// cancel function.
type syncFeed struct {
	cancelled atomic.Bool
}

func (s *syncFeed) Subscribe(handler func(bool)) func() {
	handler(true)
	return func() { s.cancelled.Store(true) }
}

func TestOnConsent_GrantDuringSubscribe(t *testing.T) {
	feed := &syncFeed{}
	g := NewGate(Static(false), []Feed{feed}, 0, 0)

	var calls int
	g.OnConsent(func() { calls++ })

	if calls != 1 {
		t.Errorf("callback calls = %d, want 1", calls)
	}
	if !feed.cancelled.Load() {
		t.Error("subscription made during grant was not cancelled")
	}
}

func TestDataLayer(t *testing.T) {
	layer := NewDataLayer()
	var updates []bool
	cancel := layer.Subscribe(func(granted bool) { updates = append(updates, granted) })
	defer cancel()

	layer.Push("event", "page_view")
	layer.Push("consent", "default", map[string]any{StorageKey: "denied"})
	if err := layer.PushJSON([]byte(`["consent","update",{"analytics_storage":"granted"}]`)); err != nil {
		t.Fatalf("PushJSON: %v", err)
	}
	layer.Push("consent", "update", map[string]any{StorageKey: "granted"})

	if !layer.Granted() {
		t.Error("Granted() = false after update")
	}
	if len(updates) != 1 || !updates[0] {
		t.Errorf("updates = %v, want [true]", updates)
	}
	if err := layer.PushJSON([]byte(`{`)); err == nil {
		t.Error("expected decode error")
	}
}
