package consent

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Broadcast is a Feed that hosts publish to directly, for example from a
// consent widget's "accepted" event.
type Broadcast struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(bool)
}

func NewBroadcast() *Broadcast {
	return &Broadcast{handlers: make(map[int]func(bool))}
}

func (b *Broadcast) Subscribe(handler func(granted bool)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish notifies every current subscriber. Handlers run outside the lock
// so they may unsubscribe.
func (b *Broadcast) Publish(granted bool) {
	b.mu.Lock()
	handlers := make([]func(bool), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(granted)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcast) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

// DataLayer adapts a push-array consent provider. Every entry the provider
// appends is passed to Push; consent commands of the form
//
//	["consent", "default"|"update", {"analytics_storage": "granted"|"denied"}]
//
// update the state and notify subscribers. It is both a Checker and a Feed.
type DataLayer struct {
	Broadcast

	mu      sync.Mutex
	granted bool
}

// StorageKey is the consent category the tracker requires.
const StorageKey = "analytics_storage"

func NewDataLayer() *DataLayer {
	return &DataLayer{Broadcast: Broadcast{handlers: make(map[int]func(bool))}}
}

func (d *DataLayer) Granted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.granted
}

// Push records one data-layer entry. Non-consent entries are ignored.
func (d *DataLayer) Push(entry ...any) {
	if len(entry) < 3 {
		return
	}
	if cmd, _ := entry[0].(string); cmd != "consent" {
		return
	}
	if action, _ := entry[1].(string); action != "default" && action != "update" {
		return
	}
	params, ok := entry[2].(map[string]any)
	if !ok {
		return
	}
	state, ok := params[StorageKey].(string)
	if !ok {
		return
	}

	granted := state == "granted"
	d.mu.Lock()
	changed := d.granted != granted
	d.granted = granted
	d.mu.Unlock()

	if changed {
		d.Publish(granted)
	}
}

// PushJSON decodes a JSON array entry and forwards it to Push.
func (d *DataLayer) PushJSON(raw []byte) error {
	var entry []any
	if err := json.Unmarshal(raw, &entry); err != nil {
		return fmt.Errorf("consent: decode data layer entry: %w", err)
	}
	d.Push(entry...)
	return nil
}
