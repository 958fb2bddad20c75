// Package lifecycle owns a card's player. It resolves the stream, creates
// and destroys players in strict sequence, and suspends playback while the
// card is not visible.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"dashie_cam/native/internal/domain"
	xlog "dashie_cam/native/internal/log"
	"dashie_cam/native/internal/player"

	"github.com/rs/zerolog"
)

const (
	defaultAttemptTimeout = 30 * time.Second
	updatesBuffer         = 16
)

// Resolver turns a card configuration into a playable stream.
type Resolver interface {
	Resolve(ctx context.Context, cfg domain.CardConfig, platform domain.Platform, nc domain.NetworkContext) (domain.ResolvedStreamConfig, error)
}

// PlatformDetector classifies the runtime.
type PlatformDetector interface {
	Detect() domain.Platform
}

// PlayerFactory creates an idle player for a transport.
type PlayerFactory func(kind domain.TransportKind) (player.Player, error)

// Deps are the controller's collaborators.
type Deps struct {
	Resolver       Resolver
	Detector       PlatformDetector
	Network        domain.NetworkContext
	NewPlayer      PlayerFactory
	AttemptTimeout time.Duration
}

// Phase is the user-visible state of the card.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhasePlaying   Phase = "playing"
	PhaseSuspended Phase = "suspended"
	PhaseError     Phase = "error"
)

// Status is a snapshot of the card. Err is set only in PhaseError and is
// always the latest failure alone.
type Status struct {
	Phase     Phase
	Resolved  domain.ResolvedStreamConfig
	Err       error
	Retryable bool
}

type eventKind int

const (
	evAttach eventKind = iota
	evDetach
	evViewport
	evPage
	evReconfigure
	evResolved
	evLoaded
	evClose
)

type event struct {
	kind     eventKind
	gen      uint64
	visible  bool
	cfg      domain.CardConfig
	resolved domain.ResolvedStreamConfig
	err      error
}

// Controller runs one event loop per card. Public methods only enqueue
// events; all state belongs to the loop goroutine.
type Controller struct {
	deps    Deps
	events  chan event
	updates chan Status
	done    chan struct{}
	started chan struct{}
	once    sync.Once
	log     zerolog.Logger

	statusMu sync.Mutex
	status   Status

	// loop-owned
	cfg      domain.CardConfig
	vis      domain.VisibilityState
	attached bool
	gen      uint64
	attempt  context.Context
	cancel   context.CancelFunc
	player   player.Player
	resolved domain.ResolvedStreamConfig
}

// New creates a controller for cfg. Both visibility signals start visible.
func New(cfg domain.CardConfig, deps Deps) *Controller {
	if deps.AttemptTimeout <= 0 {
		deps.AttemptTimeout = defaultAttemptTimeout
	}
	return &Controller{
		deps:    deps,
		events:  make(chan event),
		updates: make(chan Status, updatesBuffer),
		done:    make(chan struct{}),
		started: make(chan struct{}),
		log:     xlog.WithComponent("lifecycle").With().Str(xlog.FieldStream, cfg.Target.Name()).Logger(),
		status:  Status{Phase: PhaseIdle},
		cfg:     cfg,
		vis:     domain.VisibilityState{ViewportVisible: true, PageVisible: true},
	}
}

// Start runs the event loop until ctx ends or Close is called.
func (c *Controller) Start(ctx context.Context) {
	c.once.Do(func() {
		close(c.started)
		go c.loop(ctx)
	})
}

// Attach is called when the card is mounted.
func (c *Controller) Attach() { c.send(event{kind: evAttach}) }

// Detach is called when the card is removed.
func (c *Controller) Detach() { c.send(event{kind: evDetach}) }

// SetViewportVisible reports viewport intersection changes.
func (c *Controller) SetViewportVisible(v bool) { c.send(event{kind: evViewport, visible: v}) }

// SetPageVisible reports document visibility changes.
func (c *Controller) SetPageVisible(v bool) { c.send(event{kind: evPage, visible: v}) }

// Reconfigure replaces the card configuration, which re-initializes the
// card from scratch.
func (c *Controller) Reconfigure(cfg domain.CardConfig) { c.send(event{kind: evReconfigure, cfg: cfg}) }

// Status returns the latest status.
func (c *Controller) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// Updates delivers status changes. Slow readers miss intermediate ones.
func (c *Controller) Updates() <-chan Status { return c.updates }

// Close tears down the player and stops the loop.
func (c *Controller) Close() {
	select {
	case <-c.started:
	default:
		return
	}
	c.send(event{kind: evClose})
	<-c.done
}

func (c *Controller) send(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)
	defer c.teardown()

	for {
		var errs <-chan error
		if c.player != nil {
			errs = c.player.Errors()
		}

		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			c.onPlayerError(err)
		case ev := <-c.events:
			switch ev.kind {
			case evAttach:
				c.onAttach()
			case evDetach:
				c.onDetach()
			case evViewport:
				c.onVisibility(ev.visible, c.vis.PageVisible)
			case evPage:
				c.onVisibility(c.vis.ViewportVisible, ev.visible)
			case evReconfigure:
				c.onReconfigure(ev.cfg)
			case evResolved:
				c.onResolved(ev)
			case evLoaded:
				c.onLoaded(ev)
			case evClose:
				return
			}
		}
	}
}

func (c *Controller) onAttach() {
	if c.attached {
		return
	}
	c.attached = true
	if c.vis.Visible() {
		c.begin()
		return
	}
	c.vis.WasPlayingBeforeHide = true
	c.setStatus(Status{Phase: PhaseSuspended})
}

func (c *Controller) onDetach() {
	if !c.attached {
		return
	}
	c.attached = false
	c.vis.WasPlayingBeforeHide = false
	c.abandon()
	c.destroyPlayer()
	c.setStatus(Status{Phase: PhaseIdle})
}

func (c *Controller) onVisibility(viewport, page bool) {
	wasVisible := c.vis.Visible()
	c.vis.ViewportVisible, c.vis.PageVisible = viewport, page
	nowVisible := c.vis.Visible()

	switch {
	case wasVisible && !nowVisible:
		c.suspend()
	case !wasVisible && nowVisible && c.attached && c.vis.WasPlayingBeforeHide:
		c.log.Debug().Msg("visible again, resolving from scratch")
		c.begin()
	}
}

func (c *Controller) onReconfigure(cfg domain.CardConfig) {
	c.abandon()
	c.destroyPlayer()
	c.cfg = cfg
	c.log = xlog.WithComponent("lifecycle").With().Str(xlog.FieldStream, cfg.Target.Name()).Logger()
	if !c.attached {
		c.setStatus(Status{Phase: PhaseIdle})
		return
	}
	if c.vis.Visible() {
		c.begin()
		return
	}
	c.vis.WasPlayingBeforeHide = true
	c.setStatus(Status{Phase: PhaseSuspended})
}

// suspend stops the active player but keeps it for the next cycle.
func (c *Controller) suspend() {
	if !c.attached {
		return
	}
	phase := c.Status().Phase
	active := c.player != nil || phase == PhaseLoading
	if !active && !(phase == PhaseError && c.Status().Retryable) {
		return
	}
	c.vis.WasPlayingBeforeHide = true
	c.abandon()
	if c.player != nil {
		if err := c.player.Stop(); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			c.log.Warn().Err(err).Msg("player stop failed")
		}
	}
	c.setStatus(Status{Phase: PhaseSuspended, Resolved: c.resolved})
}

// begin starts a fresh resolution. Any previous player is destroyed before
// anything new is created.
func (c *Controller) begin() {
	c.abandon()
	c.destroyPlayer()
	c.vis.WasPlayingBeforeHide = false

	c.gen++
	gen := c.gen
	// resolve and load of one attempt share a single timeout
	ctx, cancel := context.WithTimeout(context.Background(), c.deps.AttemptTimeout)
	c.attempt, c.cancel = ctx, cancel
	c.setStatus(Status{Phase: PhaseLoading})

	cfg := c.cfg
	platform := c.deps.Detector.Detect()
	nc := c.deps.Network
	go func() {
		res, err := c.deps.Resolver.Resolve(ctx, cfg, platform, nc)
		c.send(event{kind: evResolved, gen: gen, resolved: res, err: err})
	}()
}

func (c *Controller) onResolved(ev event) {
	if ev.gen != c.gen {
		return
	}
	if ev.err != nil {
		c.fail(timedOut(ev.err, domain.ErrResolutionExhausted, "lifecycle.resolve"))
		return
	}
	c.resolved = ev.resolved

	p, err := c.deps.NewPlayer(ev.resolved.Transport)
	if err != nil {
		c.fail(err)
		return
	}
	c.player = p

	ctx, gen := c.attempt, ev.gen
	locator := ev.resolved.Locator
	go func() {
		err := p.Load(ctx, locator)
		c.send(event{kind: evLoaded, gen: gen, err: err})
	}()
}

func (c *Controller) onLoaded(ev event) {
	if ev.gen != c.gen {
		return
	}
	if ev.err != nil {
		c.fail(timedOut(ev.err, domain.ErrTransport, "lifecycle.load"))
		return
	}
	c.cancel()
	c.attempt, c.cancel = nil, nil
	c.log.Info().
		Str(xlog.FieldTransport, string(c.resolved.Transport)).
		Str(xlog.FieldReason, c.resolved.Reason).
		Msg("playing")
	c.setStatus(Status{Phase: PhasePlaying, Resolved: c.resolved})
}

func (c *Controller) onPlayerError(err error) {
	c.fail(err)
}

// fail surfaces err as the single error state and releases everything.
// Retryable failures re-run on the next hidden to visible transition.
func (c *Controller) fail(err error) {
	c.abandon()
	c.destroyPlayer()
	retry := domain.Retryable(err)
	c.vis.WasPlayingBeforeHide = retry
	c.log.Warn().Err(err).Bool("retryable", retry).Msg("card failed")
	c.setStatus(Status{Phase: PhaseError, Resolved: c.resolved, Err: err, Retryable: retry})
}

// timedOut classifies an attempt that ran out of time as kind, so it is
// retried on the next visibility cycle.
func timedOut(err, kind error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(kind, op, err)
	}
	return err
}

// abandon invalidates in-flight tasks. Their late results are dropped by
// the generation check.
func (c *Controller) abandon() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.attempt = nil
}

func (c *Controller) destroyPlayer() {
	if c.player == nil {
		return
	}
	if err := c.player.Destroy(); err != nil {
		c.log.Warn().Err(err).Msg("player destroy failed")
	}
	c.player = nil
}

func (c *Controller) teardown() {
	c.abandon()
	c.destroyPlayer()
	c.setStatus(Status{Phase: PhaseIdle})
}

func (c *Controller) setStatus(s Status) {
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()

	for {
		select {
		case c.updates <- s:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}
