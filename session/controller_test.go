package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mabletask/tracker/behavior"
	"mabletask/tracker/cart"
	"mabletask/tracker/collector"
	"mabletask/tracker/consent"
	"mabletask/tracker/identity"
	"mabletask/tracker/models"
	"mabletask/tracker/storage"
)

type fakeSink struct {
	mu          sync.Mutex
	upsertCalls int
	failUpserts int
	failInserts bool
	users       []models.Visitor
	sessions    []models.Session
	profiles    []models.BehaviorSnapshot
	events      []models.TimelineEvent
}

func (f *fakeSink) UpsertUser(ctx context.Context, v models.Visitor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.upsertCalls <= f.failUpserts {
		return errors.New("sink unavailable")
	}
	f.users = append(f.users, v)
	return nil
}

func (f *fakeSink) InsertSessionIfAbsent(ctx context.Context, s models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeSink) UpdateSessionProfile(ctx context.Context, sessionID string, p models.BehaviorSnapshot, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = append(f.profiles, p)
	return nil
}

func (f *fakeSink) InsertTimelineEvents(ctx context.Context, events []models.TimelineEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInserts {
		return errors.New("sink unavailable")
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeSink) setFailInserts(v bool) {
	f.mu.Lock()
	f.failInserts = v
	f.mu.Unlock()
}

func (f *fakeSink) counts() (upserts, users, sessions, profiles, events int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsertCalls, len(f.users), len(f.sessions), len(f.profiles), len(f.events)
}

func (f *fakeSink) eventTypes() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, ev := range f.events {
		out[ev.EventType]++
	}
	return out
}

func (f *fakeSink) lastProfile() models.BehaviorSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.profiles) == 0 {
		return models.BehaviorSnapshot{}
	}
	return f.profiles[len(f.profiles)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.SnapshotInterval = time.Hour
	opts.FlushInterval = time.Hour
	opts.CartPollInterval = time.Hour
	opts.IdleInterval = 10 * time.Millisecond
	opts.HandshakeAttempts = 3
	opts.TeardownTimeout = time.Second
	opts.NewBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return opts
}

type env struct {
	durable   *storage.Memory
	ephemeral *storage.Memory
	sink      *fakeSink
}

func newEnv() *env {
	return &env{durable: storage.NewMemory(), ephemeral: storage.NewMemory(), sink: &fakeSink{}}
}

func (e *env) identity() *identity.Store {
	return identity.NewStore(e.durable, e.ephemeral, 0)
}

func (e *env) controller(page Page, granted bool, opts Options) *Controller {
	gate := consent.NewGate(consent.Static(granted), nil, time.Millisecond, 3)
	return New(page, Deps{Consent: gate, Identity: e.identity(), Sink: e.sink}, opts)
}

var productPage = Page{
	URL:       "https://shop.example/products/shoe?utm_source=newsletter",
	Referrer:  "https://mail.example/",
	UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148",
}

func TestController_NoConsentMeansNoActivity(t *testing.T) {
	e := newEnv()
	c := e.controller(productPage, false, testOptions())

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Collectors().Click(collector.RawClick{Target: &collector.Element{Tag: "button"}, At: time.Now()})
	time.Sleep(30 * time.Millisecond)

	if s := c.State(); s != AwaitingConsent {
		t.Fatalf("state = %v, want awaiting-consent", s)
	}
	if _, err := c.Snapshot(); !errors.Is(err, ErrClosed) {
		t.Errorf("Snapshot before consent err = %v", err)
	}

	c.Teardown()
	<-c.Done()
	if s := c.State(); s != Closed {
		t.Fatalf("state after teardown = %v", s)
	}
	if upserts, _, sessions, profiles, events := e.sink.counts(); upserts+sessions+profiles+events != 0 {
		t.Errorf("sink saw activity without consent: %d %d %d %d", upserts, sessions, profiles, events)
	}
	if _, err := e.durable.Get("visitor_id"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("visitor id written without consent: %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after close err = %v, want ErrClosed", err)
	}
}

func TestController_Lifecycle(t *testing.T) {
	e := newEnv()
	c := e.controller(productPage, true, testOptions())

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "active", func() bool { return c.State() == Active })

	_, users, sessions, _, events := e.sink.counts()
	if users != 1 || sessions != 1 {
		t.Fatalf("handshake users=%d sessions=%d, want 1/1", users, sessions)
	}
	if events != 2 {
		t.Fatalf("events delivered on ready = %d, want session_start and page_view", events)
	}

	t0 := time.Now()
	div := &collector.Element{Tag: "div"}
	form := &collector.Element{Tag: "form", ID: "newsletter"}
	set := c.Collectors()
	for i := 0; i < 3; i++ {
		set.Click(collector.RawClick{X: 100, Y: 100, Target: div, At: t0.Add(time.Duration(i) * 100 * time.Millisecond)})
	}
	set.Scroll(collector.RawScroll{ScrollY: 600, ScrollHeight: 1800, ViewportHeight: 800, At: t0})
	set.Focus(collector.RawFocus{Target: &collector.Element{Tag: "input", Parent: form}, At: t0})
	set.Focus(collector.RawFocus{Target: &collector.Element{Tag: "input", Parent: form}, At: t0.Add(time.Second)})
	set.Clipboard(collector.RawClipboard{At: t0})

	snap, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Interactions.Clicks != 3 || snap.Pointer.RageClicks != 1 || snap.Pointer.DeadClicks != 3 {
		t.Errorf("clicks=%d rage=%d dead=%d", snap.Interactions.Clicks, snap.Pointer.RageClicks, snap.Pointer.DeadClicks)
	}
	if snap.Scroll.MaxDepthPercent != 60 {
		t.Errorf("max depth = %d, want 60", snap.Scroll.MaxDepthPercent)
	}
	if !snap.Flags.IsFrustrated || !snap.Flags.IsResearchMode {
		t.Errorf("flags = %+v", snap.Flags)
	}

	c.Teardown()
	c.Teardown()
	if s := c.State(); s != Closed {
		t.Fatalf("state = %v, want closed", s)
	}

	types := e.sink.eventTypes()
	want := map[string]int{
		models.EventSessionStart:    1,
		models.EventPageView:        1,
		models.EventClick:           3,
		models.EventRageClick:       1,
		models.EventDeadClick:       3,
		models.EventScrollMilestone: 2,
		models.EventFormStart:       1,
		models.EventCopy:            1,
		models.EventSessionEnd:      1,
	}
	for typ, n := range want {
		if types[typ] != n {
			t.Errorf("%s events = %d, want %d", typ, types[typ], n)
		}
	}
	if c.Queue().Len() != 0 {
		t.Errorf("queue not drained: %d", c.Queue().Len())
	}
	if p := e.sink.lastProfile(); p.Interactions.Clicks != 3 {
		t.Errorf("final profile clicks = %d", p.Interactions.Clicks)
	}

	cont := e.identity().LoadContinuity()
	if cont.LastSeen == nil || len(cont.LastPages) != 1 || cont.LastPages[0] != "/products/shoe" {
		t.Errorf("continuity = %+v", cont)
	}

	// Input after teardown goes nowhere.
	set.Click(collector.RawClick{X: 1, Y: 1, Target: div, At: t0})
	if _, err := c.Snapshot(); !errors.Is(err, ErrClosed) {
		t.Errorf("Snapshot after close err = %v", err)
	}
}

func TestController_TeardownClosesOpenHovers(t *testing.T) {
	e := newEnv()
	c := e.controller(productPage, true, testOptions())
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "active", func() bool { return c.State() == Active })

	button := &collector.Element{Tag: "button", Attrs: map[string]string{"name": "add"}}
	c.Collectors().Hover(collector.RawHover{Target: button, Enter: true, At: time.Now().Add(-3 * time.Second)})
	c.Teardown()

	p := e.sink.lastProfile()
	atc := p.Pointer.Hovers[string(behavior.CategoryAddToCart)]
	if atc.Count != 1 || atc.MaxMs < 3000 {
		t.Errorf("add-to-cart hover at close = %+v", atc)
	}
	if !p.Flags.ShowsPurchaseIntent {
		t.Error("hover still open at close should count toward purchase intent")
	}
}

func TestController_HandshakeRetries(t *testing.T) {
	e := newEnv()
	e.sink.failUpserts = 2
	c := e.controller(productPage, true, testOptions())
	c.Start()
	waitFor(t, "active", func() bool { return c.State() == Active })

	upserts, users, sessions, _, _ := e.sink.counts()
	if upserts != 3 || users != 1 || sessions != 1 {
		t.Errorf("upserts=%d users=%d sessions=%d, want 3/1/1", upserts, users, sessions)
	}
	c.Teardown()
}

func TestController_HandshakeAbandoned(t *testing.T) {
	e := newEnv()
	e.sink.failUpserts = 100
	opts := testOptions()
	opts.HandshakeAttempts = 2
	c := e.controller(productPage, true, opts)
	c.Start()
	waitFor(t, "active", func() bool { return c.State() == Active })

	upserts, users, sessions, _, events := e.sink.counts()
	if upserts != 2 || users != 0 || sessions != 0 {
		t.Errorf("upserts=%d users=%d sessions=%d", upserts, users, sessions)
	}
	if events != 2 {
		t.Errorf("events = %d, want buffered events delivered anyway", events)
	}

	c.Teardown()
	if upserts, _, _, _, _ := e.sink.counts(); upserts != 3 {
		t.Errorf("teardown did not retry the handshake once: upserts=%d", upserts)
	}
	if c.State() != Closed {
		t.Errorf("state = %v", c.State())
	}
}

func TestController_SinkOutageKeepsEvents(t *testing.T) {
	e := newEnv()
	e.sink.failInserts = true
	opts := testOptions()
	opts.FlushInterval = 5 * time.Millisecond
	c := e.controller(productPage, true, opts)
	c.Start()
	waitFor(t, "active", func() bool { return c.State() == Active })

	time.Sleep(20 * time.Millisecond)
	if n := c.Queue().Len(); n != 2 {
		t.Fatalf("queue length during outage = %d, want 2", n)
	}

	e.sink.setFailInserts(false)
	waitFor(t, "delivery after recovery", func() bool { return c.Queue().Len() == 0 })
	if types := e.sink.eventTypes(); types[models.EventSessionStart] != 1 || types[models.EventPageView] != 1 {
		t.Errorf("delivered = %v", types)
	}
	c.Teardown()
}

func TestController_SessionContinuesAcrossPages(t *testing.T) {
	e := newEnv()
	first := e.controller(productPage, true, testOptions())
	first.Start()
	waitFor(t, "first active", func() bool { return first.State() == Active })
	first.Teardown()

	firstSink := e.sink
	e.sink = &fakeSink{}
	second := e.controller(Page{URL: "https://shop.example/cart"}, true, testOptions())
	second.Start()
	waitFor(t, "second active", func() bool { return second.State() == Active })
	second.Teardown()

	if firstSink.events[0].SessionID != e.sink.events[0].SessionID {
		t.Error("second page load started a new session")
	}
	if firstSink.users[0].UserID != e.sink.users[0].UserID {
		t.Error("visitor id changed between page loads")
	}
	if !e.sink.users[0].IsReturning {
		t.Error("second page load not marked returning")
	}
	if _, _, sessions, _, _ := e.sink.counts(); sessions != 0 {
		t.Errorf("existing session inserted again: %d", sessions)
	}
	if n := e.sink.eventTypes()[models.EventSessionStart]; n != 0 {
		t.Errorf("session_start on a continued session: %d", n)
	}

	cont := e.identity().LoadContinuity()
	if len(cont.LastPages) != 2 || cont.LastPages[1] != "/cart" {
		t.Errorf("last pages = %v", cont.LastPages)
	}
}

type scriptedCart struct {
	mu    sync.Mutex
	seq   []cart.Snapshot
	calls int
}

func (s *scriptedCart) Fetch(ctx context.Context) (cart.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.seq)-1)
	s.calls++
	return s.seq[i], nil
}

func (s *scriptedCart) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestController_CartPolling(t *testing.T) {
	e := newEnv()
	item := []cart.Item{{ID: "1", Quantity: 1, Price: 10}}
	src := &scriptedCart{seq: []cart.Snapshot{
		{},
		{Items: item, TotalValue: 10},
		{Items: item, TotalValue: 10},
		{},
	}}
	opts := testOptions()
	opts.CartPollInterval = 5 * time.Millisecond
	gate := consent.NewGate(consent.Static(true), nil, 0, 0)
	c := New(productPage, Deps{Consent: gate, Identity: e.identity(), Sink: e.sink, Cart: src}, opts)

	c.Start()
	waitFor(t, "cart polls", func() bool { return src.count() >= 6 })
	if _, err := c.Snapshot(); err != nil {
		t.Fatal(err)
	}
	c.Teardown()

	types := e.sink.eventTypes()
	if types[models.EventCartAdd] != 1 || types[models.EventCartRemove] != 1 {
		t.Errorf("cart add=%d remove=%d, want 1/1", types[models.EventCartAdd], types[models.EventCartRemove])
	}
	if types[models.EventCartStatus] != 2 {
		t.Errorf("cart status changes = %d, want 2", types[models.EventCartStatus])
	}
	if got := e.identity().LoadContinuity().LastCartStatus; got != cart.StatusEmpty {
		t.Errorf("last cart status = %q", got)
	}
}

func TestController_PeriodicSnapshots(t *testing.T) {
	e := newEnv()
	opts := testOptions()
	opts.SnapshotInterval = 5 * time.Millisecond
	c := e.controller(productPage, true, opts)
	c.Start()

	waitFor(t, "snapshots", func() bool {
		_, _, _, profiles, _ := e.sink.counts()
		return profiles >= 2
	})
	c.Teardown()
}

func TestSessionContext(t *testing.T) {
	seen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ctx := sessionContext(productPage, identity.Continuity{
		LastSeen:       &seen,
		LastPages:      []string{"/"},
		LastCartStatus: cart.StatusHasItems,
	})

	if ctx.Traffic.UTMSource != "newsletter" || ctx.Traffic.Referrer != "https://mail.example/" {
		t.Errorf("traffic = %+v", ctx.Traffic)
	}
	if ctx.Device.DeviceType != "mobile" {
		t.Errorf("device type = %q", ctx.Device.DeviceType)
	}
	if ctx.Storefront.PagePath != "/products/shoe" || ctx.Storefront.Currency != "GBP" {
		t.Errorf("storefront = %+v", ctx.Storefront)
	}
	if !ctx.History.IsReturning || ctx.History.LastSessionCartStatus != cart.StatusHasItems {
		t.Errorf("history = %+v", ctx.History)
	}
	if p := (Page{URL: "::not a url"}).Path(); p != "/" {
		t.Errorf("Path of bad URL = %q", p)
	}
}

func TestStateString(t *testing.T) {
	if Active.String() != "active" || Closed.String() != "closed" || State(42).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
