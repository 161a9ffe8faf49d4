// Package consent gates all tracking on a runtime consent signal that may
// arrive at any point in the page's life, or never.
package consent

import (
	"log"
	"sync"
	"time"
)

// Checker reports the current consent state. It is queried once when a
// callback is registered and then by the bounded polling fallback.
type Checker interface {
	Granted() bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func() bool

func (f CheckerFunc) Granted() bool { return f() }

// Static is a Checker with a fixed answer.
type Static bool

func (s Static) Granted() bool { return bool(s) }

// Feed pushes consent changes. Subscribe returns a cancel function; the
// handler may be invoked from any goroutine, including synchronously from
// Subscribe itself.
type Feed interface {
	Subscribe(handler func(granted bool)) (cancel func())
}

// Gate invokes a callback exactly once, the first time any source reports
// consent as granted. Without a grant the callback never runs.
type Gate struct {
	checker     Checker
	feeds       []Feed
	interval    time.Duration
	maxAttempts int

	once    sync.Once
	mu      sync.Mutex
	done    bool
	cb      func()
	cancels []func()
	stop    chan struct{}
}

// NewGate builds a gate over a checker and any number of push feeds. Polling
// runs every interval for at most maxAttempts; zero disables it.
func NewGate(checker Checker, feeds []Feed, interval time.Duration, maxAttempts int) *Gate {
	return &Gate{
		checker:     checker,
		feeds:       feeds,
		interval:    interval,
		maxAttempts: maxAttempts,
		stop:        make(chan struct{}),
	}
}

// OnConsent registers cb. If consent is already granted cb runs before
// OnConsent returns; otherwise it runs on whichever goroutine first observes
// the grant. OnConsent must be called at most once per Gate.
func (g *Gate) OnConsent(cb func()) {
	g.mu.Lock()
	g.cb = cb
	g.mu.Unlock()

	if g.checker != nil && g.checker.Granted() {
		g.fire()
		return
	}

	for _, feed := range g.feeds {
		if feed == nil {
			continue
		}
		cancel := feed.Subscribe(func(granted bool) {
			if granted {
				g.fire()
			}
		})
		g.track(cancel)
	}

	if g.checker != nil && g.interval > 0 && g.maxAttempts > 0 {
		go g.poll()
	}
}

// Stop tears down every subscription without firing. A gate that already
// fired is unaffected.
func (g *Gate) Stop() {
	g.once.Do(func() { g.shutdown() })
}

// Fired reports whether the gate has released or been stopped.
func (g *Gate) Fired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

func (g *Gate) fire() {
	g.once.Do(func() {
		if cb := g.shutdown(); cb != nil {
			cb()
		}
	})
}

// shutdown marks the gate done, cancels subscriptions and stops polling. It
// returns the registered callback.
func (g *Gate) shutdown() func() {
	g.mu.Lock()
	g.done = true
	cancels := g.cancels
	g.cancels = nil
	cb := g.cb
	close(g.stop)
	g.mu.Unlock()

	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
	return cb
}

// track keeps cancel for shutdown, or runs it at once if the gate already
// fired while the subscription was being set up.
func (g *Gate) track(cancel func()) {
	if cancel == nil {
		return
	}
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		cancel()
		return
	}
	g.cancels = append(g.cancels, cancel)
	g.mu.Unlock()
}

func (g *Gate) poll() {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
		}
		if g.checker.Granted() {
			g.fire()
			return
		}
	}
	log.Printf("consent: polling stopped after %d attempts, waiting on push feeds only", g.maxAttempts)
}
