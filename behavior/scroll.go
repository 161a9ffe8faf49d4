package behavior

import (
	"math"
	"time"

	"mabletask/tracker/models"
)

// Milestones are the scroll depths reported as timeline events.
var Milestones = []int{25, 50, 75, 100}

type scrollState struct {
	maxDepth  int
	distance  float64
	reversals int
	reading   time.Duration
	skimming  time.Duration
	searching time.Duration

	have    bool
	lastTop float64
	lastT   time.Time
	lastDir int

	// window holds whether each of the last n samples was a reversal.
	window       []bool
	windowNext   int
	windowFilled int
	windowCount  int

	nextMilestone int
}

func newScrollState(window int) scrollState {
	return scrollState{window: make([]bool, window)}
}

func (s *scrollState) pushReversal(rev bool) {
	if s.windowFilled == len(s.window) {
		if s.window[s.windowNext] {
			s.windowCount--
		}
	} else {
		s.windowFilled++
	}
	s.window[s.windowNext] = rev
	if rev {
		s.windowCount++
	}
	s.windowNext = (s.windowNext + 1) % len(s.window)
}

// Scroll folds one scroll sample and returns the depth milestones it crossed
// for the first time. Samples with a non-positive DocHeight carry no depth
// and are skipped.
func (a *Aggregator) Scroll(s ScrollSample) []int {
	a.touch(s.T)
	if s.DocHeight <= 0 {
		return nil
	}
	a.counts.Scrolls++

	st := &a.scroll
	var crossed []int
	depth := int(math.Round(100 * s.ScrollTop / s.DocHeight))
	depth = max(0, min(100, depth))
	if depth > st.maxDepth {
		st.maxDepth = depth
		for st.nextMilestone < len(Milestones) && Milestones[st.nextMilestone] <= depth {
			crossed = append(crossed, Milestones[st.nextMilestone])
			st.nextMilestone++
		}
	}

	if st.have {
		delta := s.ScrollTop - st.lastTop
		dist := math.Abs(delta)
		st.distance += dist

		dir := 0
		switch {
		case delta > 0:
			dir = 1
		case delta < 0:
			dir = -1
		}
		reversal := dir != 0 && st.lastDir != 0 && dir != st.lastDir
		if reversal {
			st.reversals++
		}
		st.pushReversal(reversal)
		if dir != 0 {
			st.lastDir = dir
		}

		if dt := s.T.Sub(st.lastT); dt > 0 {
			velocity := dist / dt.Seconds()
			attributed := min(dt, a.cfg.MaxScrollGap)
			switch {
			case velocity < a.cfg.ReadingVelocity:
				st.reading += attributed
			case velocity > a.cfg.SkimmingVelocity:
				st.skimming += attributed
			case st.windowCount >= a.cfg.SearchReversals:
				st.searching += attributed
			}
		}
	}

	st.have = true
	st.lastTop = s.ScrollTop
	st.lastT = s.T
	return crossed
}

// MaxDepth is the deepest scroll position seen, in percent.
func (a *Aggregator) MaxDepth() int { return a.scroll.maxDepth }

// pattern names the bucket holding the most time.
func (s *scrollState) pattern() string {
	best, name := time.Duration(0), "none"
	for _, b := range []struct {
		d    time.Duration
		name string
	}{{s.reading, "reading"}, {s.skimming, "skimming"}, {s.searching, "searching"}} {
		if b.d > best {
			best, name = b.d, b.name
		}
	}
	return name
}

func (s *scrollState) snapshot() models.ScrollSnapshot {
	return models.ScrollSnapshot{
		MaxDepthPercent:  s.maxDepth,
		TotalDistance:    s.distance,
		DirectionChanges: s.reversals,
		ReadingMs:        s.reading.Milliseconds(),
		SkimmingMs:       s.skimming.Milliseconds(),
		SearchingMs:      s.searching.Milliseconds(),
		Pattern:          s.pattern(),
	}
}
