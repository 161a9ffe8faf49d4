// Package dispatch buffers timeline events in memory and delivers them to
// the sink in enqueue order, keeping anything that failed for the next try.
package dispatch

import (
	"errors"
	"log"
	"sync"

	"mabletask/tracker/models"
)

var (
	ErrFlushInFlight = errors.New("dispatch: flush already in flight")
	ErrSinkNotReady  = errors.New("dispatch: sink not ready")
)

const (
	// DefaultMaxSize caps the buffer in long sessions with an unreachable sink.
	DefaultMaxSize = 1000
	// MaxBatch is the most events the ingest API accepts in one timeline
	// insert. A flush sends the whole buffer, so the buffer never grows past it.
	MaxBatch = 5000
)

type State int

const (
	Pending State = iota
	InFlight
	FailedRequeued
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in-flight"
	case FailedRequeued:
		return "failed-requeued"
	default:
		return "unknown"
	}
}

// QueuedEvent is a timeline event with its delivery state. It leaves the
// queue only when the sink acknowledges it or when it is dropped by the cap.
type QueuedEvent struct {
	Event    models.TimelineEvent
	State    State
	Attempts int
}

// Queue is an ordered in-memory buffer. The in-flight batch, if any, is
// always a prefix of the queue.
type Queue struct {
	mu       sync.Mutex
	items    []*QueuedEvent
	inFlight int
	maxSize  int
	dropped  int
}

func NewQueue(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if maxSize > MaxBatch {
		log.Printf("dispatch: queue size %d exceeds the %d-event batch limit, using %d", maxSize, MaxBatch, MaxBatch)
		maxSize = MaxBatch
	}
	return &Queue{maxSize: maxSize}
}

// Enqueue appends ev. It never blocks on or fails because of the sink. When
// the buffer is over its cap the oldest events not currently in flight are
// dropped and the loss is logged.
func (q *Queue) Enqueue(ev models.TimelineEvent) {
	q.mu.Lock()
	q.items = append(q.items, &QueuedEvent{Event: ev, State: Pending})
	over := len(q.items) - q.maxSize
	if over > 0 {
		// Drop right after the in-flight prefix so the batch stays intact.
		q.items = append(q.items[:q.inFlight], q.items[q.inFlight+over:]...)
		q.dropped += over
	}
	q.mu.Unlock()

	if over > 0 {
		log.Printf("dispatch: queue over capacity (%d), dropped %d oldest event(s)", q.maxSize, over)
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped is the number of events lost to the cap.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Items returns a copy of the buffered entries in order.
func (q *Queue) Items() []QueuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedEvent, len(q.items))
	for i, it := range q.items {
		out[i] = *it
	}
	return out
}

// take marks everything currently buffered as in flight and returns it.
func (q *Queue) take() ([]models.TimelineEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		return nil, ErrFlushInFlight
	}
	batch := make([]models.TimelineEvent, len(q.items))
	for i, it := range q.items {
		it.State = InFlight
		it.Attempts++
		batch[i] = it.Event
	}
	q.inFlight = len(q.items)
	return batch, nil
}

// ack removes the in-flight prefix.
func (q *Queue) ack() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items[:0:0], q.items[q.inFlight:]...)
	q.inFlight = 0
}

// nack returns the in-flight prefix to the head of the queue.
func (q *Queue) nack() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items[:q.inFlight] {
		it.State = FailedRequeued
	}
	q.inFlight = 0
}
