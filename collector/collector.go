// Package collector turns raw page input into the normalized samples the
// behavior aggregator consumes. Collectors keep no cross-sample state apart
// from their throttles and are safe to call from any goroutine.
package collector

import (
	"sync/atomic"
	"time"

	"mabletask/tracker/behavior"
	"mabletask/tracker/cart"
)

type RawScroll struct {
	ScrollY        float64
	ScrollHeight   float64
	ViewportHeight float64
	At             time.Time
}

type RawPointer struct {
	X, Y float64
	At   time.Time
}

type RawClick struct {
	X, Y   float64
	Target *Element
	At     time.Time
}

type RawHover struct {
	Target *Element
	Enter  bool
	At     time.Time
}

type RawVisibility struct {
	Hidden bool
	At     time.Time
}

type RawKey struct{ At time.Time }

type RawTouch struct{ At time.Time }

type RawFocus struct {
	Target *Element
	At     time.Time
}

type RawClipboard struct {
	Paste bool
	At    time.Time
}

// Emitter receives normalized samples.
type Emitter interface {
	Scroll(behavior.ScrollSample)
	Pointer(behavior.PointerSample)
	Click(behavior.ClickSample)
	Hover(behavior.HoverSample)
	Visibility(behavior.VisibilitySample)
	Input(behavior.InputSample)
	FormStart(behavior.FormStartSample)
	Clipboard(behavior.ClipboardSample)
	Idle(behavior.IdleTick)
	Cart(cart.Snapshot)
}

// Set is the page's collectors. After Stop every handler is a no-op.
// Raw input without a timestamp is stamped with Now on arrival.
type Set struct {
	Now     func() time.Time
	out     Emitter
	scroll  *Throttle
	pointer *Throttle
	stopped atomic.Bool
}

func NewSet(out Emitter) *Set {
	return &Set{
		Now:     time.Now,
		out:     out,
		scroll:  NewThrottle(ScrollHz),
		pointer: NewThrottle(PointerHz),
	}
}

func (s *Set) stamp(at time.Time) time.Time {
	if at.IsZero() {
		return s.Now()
	}
	return at
}

func (s *Set) Stop() { s.stopped.Store(true) }

func (s *Set) Stopped() bool { return s.stopped.Load() }

func (s *Set) Scroll(r RawScroll) {
	if s.Stopped() {
		return
	}
	at := s.stamp(r.At)
	if !s.scroll.Allow(at) {
		return
	}
	s.out.Scroll(behavior.ScrollSample{
		ScrollTop: r.ScrollY,
		DocHeight: r.ScrollHeight - r.ViewportHeight,
		T:         at,
	})
}

func (s *Set) Pointer(r RawPointer) {
	if s.Stopped() {
		return
	}
	at := s.stamp(r.At)
	if !s.pointer.Allow(at) {
		return
	}
	s.out.Pointer(behavior.PointerSample{X: r.X, Y: r.Y, T: at})
}

func (s *Set) Click(r RawClick) {
	if s.Stopped() || r.Target == nil {
		return
	}
	s.out.Click(behavior.ClickSample{
		X:           r.X,
		Y:           r.Y,
		Category:    Classify(r.Target),
		Interactive: r.Target.Interactive(),
		Label:       r.Target.Label(),
		T:           s.stamp(r.At),
	})
}

// Hover forwards enter/leave only for allow-listed categories.
func (s *Set) Hover(r RawHover) {
	if s.Stopped() || r.Target == nil {
		return
	}
	cat := Classify(r.Target)
	if !behavior.Tracked(cat) {
		return
	}
	phase := behavior.HoverLeave
	if r.Enter {
		phase = behavior.HoverEnter
	}
	s.out.Hover(behavior.HoverSample{
		ElementKey: r.Target.Key(),
		Category:   cat,
		Phase:      phase,
		T:          s.stamp(r.At),
	})
}

func (s *Set) Visibility(r RawVisibility) {
	if s.Stopped() {
		return
	}
	s.out.Visibility(behavior.VisibilitySample{Hidden: r.Hidden, T: s.stamp(r.At)})
}

func (s *Set) Key(r RawKey) {
	if s.Stopped() {
		return
	}
	s.out.Input(behavior.InputSample{Kind: "key", T: s.stamp(r.At)})
}

func (s *Set) Touch(r RawTouch) {
	if s.Stopped() {
		return
	}
	s.out.Input(behavior.InputSample{Kind: "touch", T: s.stamp(r.At)})
}

// Focus reports a form start when the focused element sits inside a form.
// The aggregator counts only the first one per form.
func (s *Set) Focus(r RawFocus) {
	if s.Stopped() {
		return
	}
	key := FormKey(r.Target)
	if key == "" {
		return
	}
	s.out.FormStart(behavior.FormStartSample{FormKey: key, T: s.stamp(r.At)})
}

func (s *Set) Clipboard(r RawClipboard) {
	if s.Stopped() {
		return
	}
	s.out.Clipboard(behavior.ClipboardSample{Paste: r.Paste, T: s.stamp(r.At)})
}
