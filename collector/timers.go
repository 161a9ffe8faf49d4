package collector

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"mabletask/tracker/behavior"
	"mabletask/tracker/cart"
)

// IdleInterval is the attention accounting tick.
const IdleInterval = time.Second

// RunIdle emits an IdleTick every interval until ctx is done.
func RunIdle(ctx context.Context, interval time.Duration, now func() time.Time, out Emitter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			out.Idle(behavior.IdleTick{T: now()})
		}
	}
}

// CartPoller fetches the cart on a fixed cadence. A poll is skipped while the
// previous fetch is still running, and failed fetches are logged and dropped.
type CartPoller struct {
	src      cart.Source
	interval time.Duration
	out      Emitter
	busy     atomic.Bool
	skipped  atomic.Int64
}

func NewCartPoller(src cart.Source, interval time.Duration, out Emitter) *CartPoller {
	return &CartPoller{src: src, interval: interval, out: out}
}

// Skipped counts polls dropped because a fetch was in flight.
func (p *CartPoller) Skipped() int64 { return p.skipped.Load() }

// Poll starts one fetch in the background. It reports false when a fetch is
// already running.
func (p *CartPoller) Poll(ctx context.Context) bool {
	if !p.busy.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		return false
	}
	go func() {
		defer p.busy.Store(false)
		snap, err := p.src.Fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("collector: cart poll failed: %v", err)
			}
			return
		}
		p.out.Cart(snap)
	}()
	return true
}

// Run polls once immediately and then every interval until ctx is done.
func (p *CartPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}
