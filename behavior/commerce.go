package behavior

import (
	"mabletask/tracker/cart"
	"mabletask/tracker/models"
)

type commerceState struct {
	baseline    bool
	fingerprint string
	quantities  map[string]int
	status      string

	value      float64
	peak       float64
	items      int
	adds       int
	removes    int
	lastChange string
}

// CartChange is the item-level difference between two distinct polls.
// Added and Removed are unit counts.
type CartChange struct {
	Added   int
	Removed int
	Value   float64
}

// CartResult reports what a poll changed. Change and status are derived
// independently: a poll may change contents without changing status.
type CartResult struct {
	Change        *CartChange
	StatusChanged bool
	Status        string
}

// Cart folds one cart poll. The first poll only establishes the baseline.
// Polls whose {item id, quantity} fingerprint is unchanged produce nothing.
func (a *Aggregator) Cart(s cart.Snapshot) CartResult {
	c := &a.commerce
	c.value = s.TotalValue
	if s.TotalValue > c.peak {
		c.peak = s.TotalValue
	}
	c.items = s.ItemCount()

	fp := s.Fingerprint()
	if !c.baseline {
		c.baseline = true
		c.fingerprint = fp
		c.quantities = s.Quantities()
		c.status = s.Status()
		return CartResult{}
	}
	if fp == c.fingerprint {
		return CartResult{}
	}

	next := s.Quantities()
	change := &CartChange{Value: s.TotalValue}
	for id, q := range next {
		if prev := c.quantities[id]; q > prev {
			change.Added += q - prev
		}
	}
	for id, prev := range c.quantities {
		if q := next[id]; q < prev {
			change.Removed += prev - q
		}
	}

	switch {
	case change.Added > 0 && change.Removed > 0:
		c.adds++
		c.removes++
		c.lastChange = "mixed"
	case change.Added > 0:
		c.adds++
		c.lastChange = "add"
	case change.Removed > 0:
		c.removes++
		c.lastChange = "remove"
	}

	res := CartResult{Change: change, Status: s.Status()}
	if res.Status != c.status {
		res.StatusChanged = true
		c.status = res.Status
	}
	c.fingerprint = fp
	c.quantities = next
	return res
}

// CartStatus is the last observed cart status, empty before the first poll.
func (a *Aggregator) CartStatus() string { return a.commerce.status }

func (c *commerceState) snapshot() models.CommerceSnapshot {
	last := c.lastChange
	if last == "" {
		last = "none"
	}
	return models.CommerceSnapshot{
		CartValue:     c.value,
		PeakCartValue: c.peak,
		ItemCount:     c.items,
		AddEvents:     c.adds,
		RemoveEvents:  c.removes,
		LastChange:    last,
		CartStatus:    c.status,
	}
}
