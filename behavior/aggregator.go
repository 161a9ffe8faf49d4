// Package behavior reduces a session's micro-events into a compact behavior
// profile. An Aggregator is owned by a single goroutine and is not safe for
// concurrent use; every update is O(1) amortized and never retains raw
// sample history.
package behavior

import (
	"time"

	"mabletask/tracker/models"
)

// Config holds the classifier thresholds.
type Config struct {
	IdleThreshold time.Duration

	ReadingVelocity  float64 // px/s; slower scrolling is reading
	SkimmingVelocity float64 // px/s; faster scrolling is skimming
	SearchWindow     int     // samples in the direction-change window
	SearchReversals  int     // reversals in the window that mark searching
	MaxScrollGap     time.Duration

	PointerWindow         int
	AccelerationThreshold float64 // px/s change between consecutive samples

	RageWindow time.Duration
	RageRadius float64
	RageClicks int

	MaxOpenHovers int
}

func DefaultConfig() Config {
	return Config{
		IdleThreshold:         5 * time.Second,
		ReadingVelocity:       300,
		SkimmingVelocity:      2000,
		SearchWindow:          10,
		SearchReversals:       3,
		MaxScrollGap:          5 * time.Second,
		PointerWindow:         20,
		AccelerationThreshold: 1500,
		RageWindow:            time.Second,
		RageRadius:            50,
		RageClicks:            3,
		MaxOpenHovers:         64,
	}
}

type Aggregator struct {
	cfg Config

	scroll    scrollState
	pointer   pointerState
	clicks    clickState
	hovers    hoverState
	attention attentionState
	commerce  commerceState
	counts    models.InteractionSnapshot

	forms map[string]bool
}

// New starts a profile at session start time.
func New(start time.Time, cfg Config) *Aggregator {
	if cfg.SearchWindow <= 0 {
		cfg.SearchWindow = 1
	}
	if cfg.PointerWindow <= 0 {
		cfg.PointerWindow = 1
	}
	return &Aggregator{
		cfg:       cfg,
		scroll:    newScrollState(cfg.SearchWindow),
		pointer:   newPointerState(cfg.PointerWindow),
		hovers:    hoverState{open: make(map[string]openHover), stats: make(map[Category]*hoverStats)},
		attention: attentionState{start: start, lastTick: start},
		forms:     make(map[string]bool),
	}
}

type attentionState struct {
	start     time.Time
	lastTick  time.Time
	lastInput time.Time
	hasInput  bool
	hidden    bool
	idle      time.Duration
	engaged   time.Duration
}

// touch records a qualifying input event.
func (a *Aggregator) touch(t time.Time) {
	at := &a.attention
	if !at.hasInput || t.After(at.lastInput) {
		at.lastInput = t
		at.hasInput = true
	}
}

// Tick attributes the wall time since the previous tick to engaged time when
// a qualifying input happened within the idle threshold and the page is
// visible, and to idle time otherwise. Idle plus engaged always equals the
// time from session start to the last tick.
func (a *Aggregator) Tick(tick IdleTick) {
	at := &a.attention
	if !tick.T.After(at.lastTick) {
		return
	}
	elapsed := tick.T.Sub(at.lastTick)
	if !at.hidden && at.hasInput && tick.T.Sub(at.lastInput) <= a.cfg.IdleThreshold {
		at.engaged += elapsed
	} else {
		at.idle += elapsed
	}
	at.lastTick = tick.T
}

// Elapsed is the session time accounted for so far.
func (a *Aggregator) Elapsed() time.Duration {
	return a.attention.lastTick.Sub(a.attention.start)
}

// Visibility records a page visibility change. It reports whether the state
// actually changed.
func (a *Aggregator) Visibility(s VisibilitySample) bool {
	if a.attention.hidden == s.Hidden {
		return false
	}
	a.attention.hidden = s.Hidden
	return true
}

// Input records a key press or touch.
func (a *Aggregator) Input(s InputSample) {
	a.touch(s.T)
}

// FormStart counts the first interaction with each form. It reports whether
// this sample started a form.
func (a *Aggregator) FormStart(s FormStartSample) bool {
	a.touch(s.T)
	if a.forms[s.FormKey] {
		return false
	}
	a.forms[s.FormKey] = true
	a.counts.FormStarts++
	return true
}

func (a *Aggregator) Clipboard(s ClipboardSample) {
	if s.Paste {
		a.counts.Pastes++
	} else {
		a.counts.Copies++
	}
}

// Snapshot renders the profile. Flags, score and level are recomputed from
// the counters on every call.
func (a *Aggregator) Snapshot() models.BehaviorSnapshot {
	snap := models.BehaviorSnapshot{
		Scroll:  a.scroll.snapshot(),
		Pointer: a.pointer.snapshot(),
		Attention: models.AttentionSnapshot{
			IdleMs:    a.attention.idle.Milliseconds(),
			EngagedMs: a.attention.engaged.Milliseconds(),
			Hidden:    a.attention.hidden,
		},
		Interactions: a.counts,
		Commerce:     a.commerce.snapshot(),
	}
	snap.Pointer.RageClicks = a.clicks.rage
	snap.Pointer.DeadClicks = a.clicks.dead
	snap.Pointer.Hovers = a.hovers.snapshot()

	snap.Flags = Flags(snap)
	snap.Engagement = Score(snap)
	snap.Level = Level(snap.Engagement)
	return snap
}
