package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mabletask/tracker/models"
)

// Sink receives timeline event batches. Storing an event twice must be a
// no-op on the sink's side.
type Sink interface {
	InsertTimelineEvents(ctx context.Context, events []models.TimelineEvent) error
}

type Dispatcher struct {
	queue *Queue
	sink  Sink

	mu    sync.Mutex
	ready bool
}

func NewDispatcher(queue *Queue, sink Sink) *Dispatcher {
	return &Dispatcher{queue: queue, sink: sink}
}

func (d *Dispatcher) Queue() *Queue { return d.queue }

func (d *Dispatcher) Enqueue(ev models.TimelineEvent) { d.queue.Enqueue(ev) }

func (d *Dispatcher) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// MarkReady records that the sink accepted the session handshake. The first
// transition to ready flushes immediately so events buffered during startup
// go out without waiting for the next interval.
func (d *Dispatcher) MarkReady(ctx context.Context) error {
	d.mu.Lock()
	was := d.ready
	d.ready = true
	d.mu.Unlock()

	if was {
		return nil
	}
	return d.Flush(ctx)
}

// Flush delivers everything buffered at call time as one batch, in enqueue
// order. On success exactly that batch is removed; on failure it stays at
// the head of the queue for the next flush.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if !d.Ready() {
		return ErrSinkNotReady
	}
	batch, err := d.queue.take()
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		d.queue.ack()
		return nil
	}

	if err := d.sink.InsertTimelineEvents(ctx, batch); err != nil {
		d.queue.nack()
		return fmt.Errorf("dispatch: deliver %d event(s): %w", len(batch), err)
	}
	d.queue.ack()
	return nil
}

// Run flushes every interval until ctx is done. Delivery failures are logged
// and retried on the next tick.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Flush(ctx); err != nil && !errors.Is(err, ErrSinkNotReady) && !errors.Is(err, ErrFlushInFlight) {
				log.Printf("dispatch: periodic flush failed, %d event(s) kept: %v", d.queue.Len(), err)
			}
		}
	}
}
