package behavior

import (
	"math"
	"time"

	"mabletask/tracker/models"
)

type pointerState struct {
	distance float64
	peak     float64
	accel    int
	samples  int

	have  bool
	lastX float64
	lastY float64
	lastT time.Time
	haveV bool
	lastV float64

	// Rolling velocity window with a running sum.
	velocities []float64
	next       int
	filled     int
	sum        float64
}

func newPointerState(window int) pointerState {
	return pointerState{velocities: make([]float64, window)}
}

func (p *pointerState) pushVelocity(v float64) {
	if p.filled == len(p.velocities) {
		p.sum -= p.velocities[p.next]
	} else {
		p.filled++
	}
	p.velocities[p.next] = v
	p.sum += v
	p.next = (p.next + 1) % len(p.velocities)
}

func (p *pointerState) average() float64 {
	if p.filled == 0 {
		return 0
	}
	return p.sum / float64(p.filled)
}

// Pointer folds one throttled pointer position.
func (a *Aggregator) Pointer(s PointerSample) {
	a.touch(s.T)
	p := &a.pointer
	if p.have {
		dist := math.Hypot(s.X-p.lastX, s.Y-p.lastY)
		p.distance += dist
		if dt := s.T.Sub(p.lastT).Seconds(); dt > 0 {
			v := dist / dt
			p.pushVelocity(v)
			p.samples++
			if v > p.peak {
				p.peak = v
			}
			if p.haveV && math.Abs(v-p.lastV) > a.cfg.AccelerationThreshold {
				p.accel++
			}
			p.lastV = v
			p.haveV = true
		}
	}
	p.have = true
	p.lastX, p.lastY, p.lastT = s.X, s.Y, s.T
}

// pattern classifies pointer movement: none until enough samples, erratic
// when velocity jumps are frequent, scanning when fast, steady otherwise.
func (p *pointerState) pattern() string {
	if p.samples < 5 {
		return "none"
	}
	switch {
	case float64(p.accel)/float64(p.samples) > 0.3:
		return "erratic"
	case p.average() > 800:
		return "scanning"
	default:
		return "steady"
	}
}

func (p *pointerState) snapshot() models.PointerSnapshot {
	return models.PointerSnapshot{
		TotalDistance:      p.distance,
		AverageVelocity:    p.average(),
		PeakVelocity:       p.peak,
		AccelerationEvents: p.accel,
		Pattern:            p.pattern(),
	}
}

type clickState struct {
	rage int
	dead int

	have  bool
	lastX float64
	lastY float64
	lastT time.Time
	run   int
}

// ClickResult reports the frustration signals a click produced.
type ClickResult struct {
	Rage bool
	Dead bool
}

// Click folds a click. A click within RageWindow and RageRadius of the
// previous click extends the current run, anything else starts a new run of
// one. A run counts as one rage click when it reaches RageClicks; longer runs
// do not count again.
func (a *Aggregator) Click(s ClickSample) ClickResult {
	a.touch(s.T)
	a.counts.Clicks++

	c := &a.clicks
	dt := s.T.Sub(c.lastT)
	if c.have && dt >= 0 && dt <= a.cfg.RageWindow && math.Hypot(s.X-c.lastX, s.Y-c.lastY) <= a.cfg.RageRadius {
		c.run++
	} else {
		c.run = 1
	}
	c.have = true
	c.lastX, c.lastY, c.lastT = s.X, s.Y, s.T

	var res ClickResult
	if c.run == a.cfg.RageClicks {
		c.rage++
		res.Rage = true
	}
	if !s.Interactive {
		c.dead++
		res.Dead = true
	}
	return res
}

type hoverStats struct {
	count int
	total time.Duration
	max   time.Duration
}

type openHover struct {
	cat   Category
	since time.Time
}

type hoverState struct {
	open  map[string]openHover
	stats map[Category]*hoverStats
}

// Hover folds enter/leave pairs for allow-listed categories. The time between
// an element's enter and leave is added to its category's running stats.
func (a *Aggregator) Hover(s HoverSample) {
	if !Tracked(s.Category) {
		return
	}
	h := &a.hovers
	key := s.ElementKey + "|" + string(s.Category)

	switch s.Phase {
	case HoverEnter:
		if _, ok := h.open[key]; !ok && len(h.open) >= a.cfg.MaxOpenHovers {
			return
		}
		h.open[key] = openHover{cat: s.Category, since: s.T}
	case HoverLeave:
		o, ok := h.open[key]
		if !ok {
			return
		}
		delete(h.open, key)
		a.foldHover(o, s.T)
	}
}

// CloseHovers ends every open hover at t, as if the pointer left when the
// page went away.
func (a *Aggregator) CloseHovers(t time.Time) {
	for key, o := range a.hovers.open {
		delete(a.hovers.open, key)
		a.foldHover(o, t)
	}
}

func (a *Aggregator) foldHover(o openHover, end time.Time) {
	d := max(end.Sub(o.since), 0)
	st := a.hovers.stats[o.cat]
	if st == nil {
		st = &hoverStats{}
		a.hovers.stats[o.cat] = st
	}
	st.count++
	st.total += d
	if d > st.max {
		st.max = d
	}
	a.counts.Hovers++
}

func (h *hoverState) snapshot() map[string]models.HoverSnapshot {
	out := make(map[string]models.HoverSnapshot, len(h.stats))
	for cat, st := range h.stats {
		var avg int64
		if st.count > 0 {
			avg = st.total.Milliseconds() / int64(st.count)
		}
		out[string(cat)] = models.HoverSnapshot{
			Count:   st.count,
			TotalMs: st.total.Milliseconds(),
			AvgMs:   avg,
			MaxMs:   st.max.Milliseconds(),
		}
	}
	return out
}
