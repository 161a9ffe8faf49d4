// Package session runs one page load's telemetry: it waits for consent,
// resolves identity, feeds collector samples through the behavior aggregator
// and ships timeline events and profile snapshots to the sink until the page
// is torn down.
package session

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"mabletask/tracker/behavior"
	"mabletask/tracker/cart"
	"mabletask/tracker/collector"
	"mabletask/tracker/consent"
	"mabletask/tracker/dispatch"
	"mabletask/tracker/enrich"
	"mabletask/tracker/identity"
	"mabletask/tracker/models"
	"mabletask/tracker/sink"
)

type Options struct {
	SnapshotInterval  time.Duration
	FlushInterval     time.Duration
	CartPollInterval  time.Duration
	IdleInterval      time.Duration
	HandshakeAttempts uint
	TeardownTimeout   time.Duration
	MaxQueue          int
	InboxSize         int
	Behavior          behavior.Config
	// NewBackOff builds the handshake retry schedule.
	NewBackOff func() backoff.BackOff
}

func DefaultOptions() Options {
	return Options{
		SnapshotInterval:  30 * time.Second,
		FlushInterval:     10 * time.Second,
		CartPollInterval:  15 * time.Second,
		IdleInterval:      collector.IdleInterval,
		HandshakeAttempts: 5,
		TeardownTimeout:   2 * time.Second,
		MaxQueue:          dispatch.DefaultMaxSize,
		InboxSize:         1024,
		Behavior:          behavior.DefaultConfig(),
		NewBackOff:        func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Deps are the controller's collaborators. Cart and Enricher are optional.
type Deps struct {
	Consent  *consent.Gate
	Identity *identity.Store
	Sink     sink.Sink
	Cart     cart.Source
	Enricher enrich.Provider
	Now      func() time.Time
}

// Controller owns a page load's session. Aggregation happens on a single
// loop goroutine; collectors, timers and network calls hand their results to
// it as closures.
type Controller struct {
	page Page
	deps Deps
	opts Options
	now  func() time.Time

	mu        sync.Mutex
	state     State
	handshook bool

	// lifecycle serializes initialization and teardown.
	lifecycle sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once

	set        *collector.Set
	observing  atomic.Bool
	dropped    atomic.Int64
	dispatcher *dispatch.Dispatcher

	inbox    chan func()
	stopLoop chan struct{}
	loopDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
	closed chan struct{}

	// Set during initialization, then read only by the loop goroutine and
	// by goroutines started after it.
	visitorID  string
	sess       identity.Session
	fresh      bool
	continuity identity.Continuity
	sessCtx    models.SessionContext

	// Loop-owned.
	agg        *behavior.Aggregator
	enrichment *models.Enrichment
}

func New(page Page, deps Deps, opts Options) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	def := DefaultOptions()
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = def.SnapshotInterval
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = def.FlushInterval
	}
	if opts.CartPollInterval <= 0 {
		opts.CartPollInterval = def.CartPollInterval
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = def.IdleInterval
	}
	if opts.HandshakeAttempts == 0 {
		opts.HandshakeAttempts = def.HandshakeAttempts
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = def.TeardownTimeout
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = def.InboxSize
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = def.NewBackOff
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		page:       page,
		deps:       deps,
		opts:       opts,
		now:        deps.Now,
		state:      AwaitingConsent,
		dispatcher: dispatch.NewDispatcher(dispatch.NewQueue(opts.MaxQueue), deps.Sink),
		inbox:      make(chan func(), opts.InboxSize),
		stopLoop:   make(chan struct{}),
		loopDone:   make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		closed:     make(chan struct{}),
	}
	c.set = collector.NewSet(emitter{c})
	c.set.Now = deps.Now
	return c
}

// Collectors is where the host feeds raw page input. Input arriving before
// consent or after teardown is discarded.
func (c *Controller) Collectors() *collector.Set { return c.set }

// Queue exposes the pending timeline events.
func (c *Controller) Queue() *dispatch.Queue { return c.dispatcher.Queue() }

// Dropped counts samples discarded because the loop fell behind.
func (c *Controller) Dropped() int64 { return c.dropped.Load() }

// Done is closed once the controller reaches Closed.
func (c *Controller) Done() <-chan struct{} { return c.closed }

// Start registers for consent. Nothing is observed, stored or sent until
// consent is granted.
func (c *Controller) Start() error {
	if c.State() == Closed {
		return ErrClosed
	}
	c.startOnce.Do(func() {
		c.deps.Consent.OnConsent(c.initialize)
	})
	return nil
}

// Snapshot renders the current profile. It fails before consent and after
// teardown.
func (c *Controller) Snapshot() (models.BehaviorSnapshot, error) {
	switch c.State() {
	case Initializing, Active:
	default:
		return models.BehaviorSnapshot{}, ErrClosed
	}
	var snap models.BehaviorSnapshot
	if !c.do(func() { snap = c.profile() }) {
		return models.BehaviorSnapshot{}, ErrClosed
	}
	return snap, nil
}

func (c *Controller) initialize() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if !c.beginInitializing() {
		return
	}
	now := c.now()

	visitorID, err := c.deps.Identity.GetOrCreateVisitorID()
	if err != nil {
		log.Printf("session: visitor id unavailable, using a page-scoped one: %v", err)
		visitorID = uuid.New().String()
	}
	sess, fresh, err := c.deps.Identity.GetOrRenewSession(now)
	if err != nil {
		log.Printf("session: session id unavailable, using a page-scoped one: %v", err)
		sess = identity.Session{ID: uuid.New().String(), StartedAt: now, LastTouchedAt: now}
		fresh = true
	}
	c.visitorID, c.sess, c.fresh = visitorID, sess, fresh
	c.continuity = c.deps.Identity.LoadContinuity()
	c.sessCtx = sessionContext(c.page, c.continuity)
	c.agg = behavior.New(now, c.opts.Behavior)

	if fresh {
		c.enqueue(models.EventSessionStart, "Session started", now, map[string]any{
			"referrer":     c.page.Referrer,
			"utm_source":   c.sessCtx.Traffic.UTMSource,
			"is_returning": c.sessCtx.History.IsReturning,
		})
	}
	c.enqueue(models.EventPageView, "Viewed "+c.page.Path(), now, map[string]any{"path": c.page.Path()})

	go c.loop()
	c.observing.Store(true)

	c.spawn(func(ctx context.Context) { c.dispatcher.Run(ctx, c.opts.FlushInterval) })
	c.spawn(c.runSnapshots)
	c.spawn(func(ctx context.Context) { collector.RunIdle(ctx, c.opts.IdleInterval, c.now, emitter{c}) })
	if c.deps.Cart != nil {
		poller := collector.NewCartPoller(c.deps.Cart, c.opts.CartPollInterval, emitter{c})
		c.spawn(poller.Run)
	}
	c.spawn(c.resolveEnrichment)
	c.spawn(c.runHandshake)
}

func (c *Controller) spawn(fn func(ctx context.Context)) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn(c.ctx)
	}()
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.stopLoop:
			return
		}
	}
}

// post hands fn to the loop without blocking. Samples are dropped when the
// loop is behind.
func (c *Controller) post(fn func()) {
	if !c.observing.Load() {
		return
	}
	select {
	case c.inbox <- fn:
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("session: loop busy, %d sample(s) dropped so far", n)
		}
	}
}

// do runs fn on the loop and waits for it. It reports false when the loop
// has stopped.
func (c *Controller) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case c.inbox <- func() { fn(); close(done) }:
	case <-c.loopDone:
		return false
	}
	select {
	case <-done:
		return true
	case <-c.loopDone:
		return false
	}
}

func (c *Controller) enqueue(eventType, message string, at time.Time, metadata any) {
	if at.IsZero() {
		at = c.now()
	}
	c.dispatcher.Enqueue(models.NewTimelineEvent(c.visitorID, c.sess.ID, eventType, message, at, metadata))
}

func (c *Controller) profile() models.BehaviorSnapshot {
	snap := c.agg.Snapshot()
	snap.Enrichment = c.enrichment
	return snap
}

func (c *Controller) visitor() models.Visitor {
	now := c.now()
	return models.Visitor{
		UserID:      c.visitorID,
		FirstSeenAt: now,
		LastSeenAt:  now,
		IsReturning: c.continuity.IsReturning(),
		PrevSeenAt:  c.continuity.LastSeen,
		Device:      c.sessCtx.Device,
	}
}

func (c *Controller) remoteSession() models.Session {
	return models.Session{
		SessionID: c.sess.ID,
		UserID:    c.visitorID,
		StartedAt: c.sess.StartedAt,
		Context:   c.sessCtx,
	}
}

// runHandshake prepares the sink and then activates the session. An
// abandoned handshake still activates: events carry their own ids and keep
// flowing, and the user upsert is retried at teardown.
func (c *Controller) runHandshake(ctx context.Context) {
	err := handshake(ctx, c.deps.Sink, c.visitor(), c.remoteSession(), c.fresh, c.opts.HandshakeAttempts, c.opts.NewBackOff())
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("session: sink handshake abandoned after %d attempt(s): %v", c.opts.HandshakeAttempts, err)
	} else {
		c.mu.Lock()
		c.handshook = true
		c.mu.Unlock()
	}
	if err := c.dispatcher.MarkReady(ctx); err != nil && ctx.Err() == nil {
		log.Printf("session: initial flush failed: %v", err)
	}
	c.activate()
}

func (c *Controller) handshakeDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshook
}

func (c *Controller) resolveEnrichment(ctx context.Context) {
	rec := enrich.Resolve(ctx, c.deps.Enricher, c.now())
	if ctx.Err() != nil {
		return
	}
	c.do(func() { c.enrichment = &rec })
}

func (c *Controller) runSnapshots(ctx context.Context) {
	ticker := time.NewTicker(c.opts.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pushSnapshot(ctx)
		}
	}
}

// pushSnapshot sends the current profile. The push happens off the loop so a
// slow sink never delays aggregation.
func (c *Controller) pushSnapshot(ctx context.Context) {
	if !c.dispatcher.Ready() {
		return
	}
	var snap models.BehaviorSnapshot
	if !c.do(func() { snap = c.profile() }) {
		return
	}
	if err := c.deps.Sink.UpdateSessionProfile(ctx, c.sess.ID, snap, c.now()); err != nil && ctx.Err() == nil {
		log.Printf("session: profile snapshot failed: %v", err)
	}
}

// Teardown finalizes the session: timers stop, session_end is queued, and
// one last profile push, queue flush and continuity save are attempted
// within TeardownTimeout. Only the first call does anything.
func (c *Controller) Teardown() {
	c.stopOnce.Do(c.teardown)
}

func (c *Controller) teardown() {
	// Stop may wait for a consent callback already running, so it comes
	// before the lifecycle lock that callback takes.
	c.deps.Consent.Stop()

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	defer close(c.closed)

	from, ok := c.beginFinalizing()
	if !ok {
		return
	}
	if from == AwaitingConsent {
		c.cancel()
		return
	}

	c.observing.Store(false)
	c.set.Stop()
	c.cancel()
	c.bg.Wait()

	now := c.now()
	var (
		snap models.BehaviorSnapshot
		next identity.Continuity
	)
	c.do(func() {
		c.agg.Tick(behavior.IdleTick{T: now})
		c.agg.CloseHovers(now)
		snap = c.profile()
		c.enqueue(models.EventSessionEnd, "Session ended", now, map[string]any{
			"duration_ms":      c.agg.Elapsed().Milliseconds(),
			"engagement_score": snap.Engagement,
			"engagement_level": snap.Level,
		})
		next = c.nextContinuity(now)
	})
	close(c.stopLoop)
	<-c.loopDone

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.TeardownTimeout)
	defer cancel()

	if !c.handshakeDone() {
		if err := handshake(ctx, c.deps.Sink, c.visitor(), c.remoteSession(), c.fresh, 1, &backoff.StopBackOff{}); err != nil {
			log.Printf("session: final handshake failed: %v", err)
		}
	}
	if err := c.deps.Sink.UpdateSessionProfile(ctx, c.sess.ID, snap, now); err != nil {
		log.Printf("session: final profile snapshot failed: %v", err)
	}
	err := c.dispatcher.MarkReady(ctx)
	if err == nil {
		err = c.dispatcher.Flush(ctx)
	}
	if err != nil {
		log.Printf("session: final flush failed, %d event(s) lost: %v", c.dispatcher.Queue().Len(), err)
	}

	if err := c.deps.Identity.SaveContinuity(next); err != nil {
		log.Printf("session: %v", err)
	}
	c.finish()
}

// nextContinuity is what this page load leaves for the next one. A new
// session starts a new page history.
func (c *Controller) nextContinuity(now time.Time) identity.Continuity {
	pages := []string{c.page.Path()}
	if !c.fresh {
		pages = append(append([]string(nil), c.continuity.LastPages...), c.page.Path())
	}
	status := c.agg.CartStatus()
	if status == "" {
		status = c.continuity.LastCartStatus
	}
	return identity.Continuity{LastSeen: &now, LastPages: pages, LastCartStatus: status}
}
