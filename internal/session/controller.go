// Package session runs the tutor session lifecycle: device acquisition,
// transport connect with retry, inbound audio and transcript dispatch,
// interruption, and fault-tolerant teardown.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/antoniostano/salut/internal/audio"
	"github.com/antoniostano/salut/internal/device"
	"github.com/antoniostano/salut/internal/lipsync"
	"github.com/antoniostano/salut/internal/live"
	"github.com/antoniostano/salut/internal/observability"
	"github.com/antoniostano/salut/internal/playback"
	"github.com/antoniostano/salut/internal/store"
	"github.com/antoniostano/salut/internal/transcript"
)

type Deps struct {
	Connector live.Connector
	Devices   device.Backend
	Store     store.Store
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Controller owns at most one session at a time. All lifecycle state is
// mutated by the goroutine running Run; everything else posts events.
type Controller struct {
	opts      Options
	connector live.Connector
	devices   device.Backend
	store     store.Store
	metrics   *observability.Metrics
	logger    zerolog.Logger
	now       func() time.Time

	events  chan event
	quit    chan struct{}
	running atomic.Bool

	decoder  *audio.Decoder
	agg      *transcript.Aggregator
	tap      tapRef
	analyzer *lipsync.Analyzer
	animator *lipsync.Animator

	// Owned by the loop goroutine.
	state        State
	epoch        uint64
	cur          *activeSession
	retryPending bool
	retryTimer   *time.Timer
	retryCount   int
	lastErr      string
	sessionID    string
	startedAt    time.Time
	speaking     bool
	turnBegin    time.Time
	turnAwaiting time.Time

	lastActivity atomic.Int64

	writes       chan func()
	writerActive atomic.Bool

	mu         sync.RWMutex
	snap       Snapshot
	lastReport TeardownReport
	subs       map[int]chan Event
	nextSub    int
}

func NewController(opts Options, deps Deps) (*Controller, error) {
	if deps.Connector == nil {
		return nil, errors.New("session: connector is required")
	}
	if deps.Devices == nil {
		return nil, errors.New("session: device backend is required")
	}
	if deps.Metrics == nil {
		return nil, errors.New("session: metrics are required")
	}
	mapper, err := lipsync.NewMapper(opts.Thresholds)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		deps.Store = store.NewInMemoryStore()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if strings.TrimSpace(opts.ProgressKey) == "" {
		opts.ProgressKey = DefaultOptions().ProgressKey
	}

	c := &Controller{
		opts:      opts,
		connector: deps.Connector,
		devices:   deps.Devices,
		store:     deps.Store,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With().Str("component", "session").Logger(),
		now:       deps.Now,
		events:    make(chan event, 256),
		writes:    make(chan func(), writeQueueSize),
		quit:      make(chan struct{}),
		decoder:   audio.NewDecoder(audio.OutputSampleRate),
		agg:       transcript.NewAggregator(),
		state:     StateIdle,
		subs:      make(map[int]chan Event),
	}
	c.analyzer = lipsync.NewAnalyzer(&c.tap, opts.FFTSize, lipsync.NewSmoother(opts.Release, lipsync.DefaultFloor))
	c.animator = lipsync.NewAnimator(c.analyzer, mapper, opts.FPS)
	c.snap = Snapshot{State: StateIdle}
	return c, nil
}

// Run processes lifecycle events until ctx is done. An active session is
// stopped cleanly before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session: controller already running")
	}
	defer close(c.quit)

	stopWriter := c.startWriter()
	defer stopWriter()

	animCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.animator.Run(animCtx)
	frames, unsubscribe := c.animator.Subscribe()
	defer unsubscribe()

	var watchdog <-chan time.Time
	if c.opts.InactivityTimeout > 0 {
		ticker := time.NewTicker(watchdogInterval(c.opts.InactivityTimeout))
		defer ticker.Stop()
		watchdog = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			c.handleStop("shutdown")
			c.cancelRetry()
			return nil
		case ev := <-c.events:
			c.transition(ev)
		case f := <-frames:
			c.broadcast(Event{Type: EventViseme, Frame: f})
		case <-watchdog:
			c.transition(event{kind: evInactivityCheck})
		}
	}
}

// Start begins a new session, tearing down any active one first. It returns
// once the request is accepted; progress is reported through Subscribe.
func (c *Controller) Start(ctx context.Context) error {
	return c.request(ctx, event{kind: evStart})
}

func (c *Controller) Stop(ctx context.Context) error {
	return c.request(ctx, event{kind: evStop, text: "user"})
}

// SendText forwards typed text to the tutor.
func (c *Controller) SendText(ctx context.Context, text string) error {
	return c.request(ctx, event{kind: evSendText, text: text})
}

func (c *Controller) request(ctx context.Context, ev event) error {
	ev.reply = make(chan error, 1)
	select {
	case c.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrControllerStopped
	}
	select {
	case err := <-ev.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrControllerStopped
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	s := c.snap
	c.mu.RUnlock()
	f := c.animator.Current()
	s.Volume = f.Volume
	s.Viseme = f.Viseme
	s.Transcript = c.agg.Items()
	if s.Transcript == nil {
		s.Transcript = []transcript.Item{}
	}
	return s
}

func (c *Controller) Transcript() []transcript.Item { return c.agg.Items() }

// LastTeardown reports the most recent teardown.
func (c *Controller) LastTeardown() TeardownReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastReport
}

// Subscribe returns a channel of presentation events and a cancel func. Slow
// subscribers miss events rather than stalling the loop.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) broadcast(ev Event) {
	c.mu.RLock()
	targets := make([]chan Event, 0, len(c.subs))
	for _, ch := range c.subs {
		targets = append(targets, ch)
	}
	c.mu.RUnlock()
	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
		}
	}
}

// publish copies loop state into the snapshot and notifies subscribers.
func (c *Controller) publish() {
	s := Snapshot{
		SessionID:  c.sessionID,
		State:      c.state,
		Speaking:   c.speaking,
		RetryCount: c.retryCount,
		Retrying:   c.retryPending,
		Error:      c.lastErr,
	}
	if !c.startedAt.IsZero() {
		t := c.startedAt
		s.StartedAt = &t
	}
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
	c.broadcast(Event{Type: EventState, Snapshot: s})
}

func (c *Controller) setState(s State) {
	c.state = s
	c.publish()
}

func (c *Controller) setSpeaking(v bool) {
	if c.speaking == v {
		return
	}
	c.speaking = v
	c.publish()
}

func (c *Controller) touch() {
	c.lastActivity.Store(c.now().UnixNano())
}

// post delivers a controller-scoped event such as a due retry.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

// postSession delivers an event on behalf of sess and reports whether it was
// queued. Events for a torn down session are dropped.
func (c *Controller) postSession(sess *activeSession, ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-sess.done:
		return false
	case <-c.quit:
		return false
	}
}

// tapRef lets the analyzer follow the current session's output tap.
type tapRef struct {
	p atomic.Pointer[playback.Tap]
}

func (r *tapRef) set(t *playback.Tap) { r.p.Store(t) }

func (r *tapRef) Latest(dst []float32) int {
	t := r.p.Load()
	if t == nil {
		for i := range dst {
			dst[i] = 0
		}
		return 0
	}
	return t.Latest(dst)
}

func newSessionID() string { return uuid.NewString() }
