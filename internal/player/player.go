// Package player implements the five media transports behind one
// lifecycle contract. A Handle owns the state machine; a per-transport
// driver owns the native resources of one loaded session.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"dashie_cam/native/internal/domain"
	xlog "dashie_cam/native/internal/log"
	"dashie_cam/native/internal/metrics"
	"dashie_cam/native/internal/surface"
	rtc "dashie_cam/native/internal/webrtc"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// DefaultReadyTimeout bounds the wait for the first media of a load.
const DefaultReadyTimeout = 15 * time.Second

// ErrAborted is returned by a Load that was overtaken by Stop or Destroy.
var ErrAborted = errors.New("load aborted")

// Player is the lifecycle contract shared by every transport.
type Player interface {
	ID() string
	Kind() domain.TransportKind
	Load(ctx context.Context, locator string) error
	Play() error
	Pause() error
	Stop() error
	Destroy() error
	State() State
	Errors() <-chan error
}

// Deps are the collaborators a player may need. Each transport checks for
// the ones it uses.
type Deps struct {
	HTTP          *http.Client
	Dialer        *websocket.Dialer
	Signaler      rtc.Signaler
	Bridge        domain.Bridge
	Surface       domain.Surface
	Layout        domain.Layout
	NewBuffer     func(w io.Writer) domain.SourceBuffer
	ICEServers    []string
	PionLogger    logging.LoggerFactory
	ReadyTimeout  time.Duration
	GatherTimeout time.Duration
	Metrics       *metrics.Metrics
}

// session is the native resource set of one successful load.
type session interface {
	pause() error
	resume() error
	close() error
}

// driver opens sessions for one transport. open blocks until the stream is
// ready or fails; fail reports errors that happen after open returned.
type driver interface {
	open(ctx context.Context, id, locator string, fail func(error)) (session, error)
}

// New creates an idle player for kind.
func New(kind domain.TransportKind, deps Deps) (*Handle, error) {
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{}
	}
	if deps.Dialer == nil {
		deps.Dialer = websocket.DefaultDialer
	}
	if deps.ReadyTimeout <= 0 {
		deps.ReadyTimeout = DefaultReadyTimeout
	}
	if deps.NewBuffer == nil {
		deps.NewBuffer = func(w io.Writer) domain.SourceBuffer { return surface.NewBuffer(w) }
	}

	var (
		drv  driver
		need []string
	)
	switch kind {
	case domain.TransportRealtimePeer:
		drv = &peerDriver{deps: deps}
		need = missing(need, deps.Signaler == nil, "signaler")
		need = missing(need, deps.Surface == nil, "surface")
	case domain.TransportSegmentedHTTP:
		drv = &segmentedDriver{deps: deps}
		need = missing(need, deps.Surface == nil, "surface")
	case domain.TransportFragmentedHTTP:
		drv = &progressiveDriver{deps: deps}
		need = missing(need, deps.Surface == nil, "surface")
	case domain.TransportFragmentedByteStream:
		drv = &byteStreamDriver{deps: deps}
		need = missing(need, deps.Surface == nil, "surface")
	case domain.TransportNativeOverlay:
		drv = &overlayDriver{deps: deps}
		need = missing(need, deps.Bridge == nil, "bridge")
		need = missing(need, deps.Layout == nil, "layout")
	default:
		return nil, domain.NewError(domain.ErrConfiguration, "player.new", fmt.Errorf("unknown transport %q", kind))
	}
	if len(need) > 0 {
		return nil, domain.NewError(domain.ErrConfiguration, "player.new", fmt.Errorf("%s player needs %v", kind, need))
	}
	return newHandle(kind, drv, deps.Metrics), nil
}

func missing(need []string, absent bool, name string) []string {
	if absent {
		return append(need, name)
	}
	return need
}

// Handle is a player. Its state only changes through the transition table;
// every load runs under a context the handle cancels on Stop and Destroy,
// and a load that settles after being overtaken releases what it acquired.
type Handle struct {
	id      string
	kind    domain.TransportKind
	drv     driver
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu      sync.Mutex
	state   State
	gen     uint64
	cancel  context.CancelFunc
	loading chan struct{}
	sess    session
	errs    chan error
	early   error
}

func newHandle(kind domain.TransportKind, drv driver, m *metrics.Metrics) *Handle {
	id := uuid.NewString()
	return &Handle{
		id:      id,
		kind:    kind,
		drv:     drv,
		metrics: m,
		log: xlog.WithComponent("player").With().
			Str(xlog.FieldTransport, string(kind)).
			Str("player_id", id).
			Logger(),
		errs: make(chan error, 1),
	}
}

// ID identifies the player as a surface owner and overlay id.
func (h *Handle) ID() string { return h.id }

// Kind returns the transport.
func (h *Handle) Kind() domain.TransportKind { return h.kind }

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Errors delivers unrecovered playback errors of the current session.
func (h *Handle) Errors() <-chan error { return h.errs }

// Load opens locator and starts playback. It blocks until the stream is
// ready, fails, or is overtaken by Stop or Destroy.
func (h *Handle) Load(ctx context.Context, locator string) error {
	h.mu.Lock()
	if h.state == Destroyed {
		h.mu.Unlock()
		return domain.ErrDestroyed
	}
	if !canTransition(h.state, Loading) {
		err := h.invalid("load")
		h.mu.Unlock()
		return err
	}
	h.setState(Loading)
	h.early = nil
	select {
	case <-h.errs:
	default:
	}
	h.gen++
	gen := h.gen
	pctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	done := make(chan struct{})
	h.loading = done
	h.mu.Unlock()
	defer close(done)

	stop := context.AfterFunc(ctx, cancel)
	sess, err := h.drv.open(pctx, h.id, locator, func(err error) { h.fail(gen, err) })
	stop()

	h.mu.Lock()
	if h.gen != gen || h.state != Loading {
		h.mu.Unlock()
		if sess != nil {
			h.closeSession(sess, false)
		}
		h.log.Debug().Msg("discarding overtaken load")
		return ErrAborted
	}
	if err != nil {
		h.setState(Stopped)
		h.cancel()
		h.cancel = nil
		h.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return domain.NewError(domain.ErrTransport, "player.load "+string(h.kind), err)
	}
	h.sess = sess
	h.setState(Playing)
	h.metrics.PlayerCreated()
	if h.early != nil {
		h.deliver(h.early)
		h.early = nil
	}
	h.mu.Unlock()
	return nil
}

// Play resumes a paused player.
func (h *Handle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case Playing:
		return nil
	case Paused:
		if err := h.sess.resume(); err != nil {
			return err
		}
		h.setState(Playing)
		return nil
	case Destroyed:
		return domain.ErrDestroyed
	}
	return h.invalid("play")
}

// Pause halts rendering without releasing resources.
func (h *Handle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case Paused:
		return nil
	case Playing:
		if err := h.sess.pause(); err != nil {
			return err
		}
		h.setState(Paused)
		return nil
	case Destroyed:
		return domain.ErrDestroyed
	}
	return h.invalid("pause")
}

// Stop releases the transport and decoder resources. The player may be
// loaded again afterwards.
func (h *Handle) Stop() error {
	h.mu.Lock()
	switch h.state {
	case Stopped:
		h.mu.Unlock()
		return nil
	case Destroyed:
		h.mu.Unlock()
		return domain.ErrDestroyed
	case Idle:
		err := h.invalid("stop")
		h.mu.Unlock()
		return err
	}
	sess, loading := h.release(Stopped)
	h.mu.Unlock()

	h.settle(sess, loading)
	return nil
}

// Destroy releases everything and waits for in-flight work to settle.
// Calling it again is a no-op.
func (h *Handle) Destroy() error {
	h.mu.Lock()
	if h.state == Destroyed {
		h.mu.Unlock()
		return nil
	}
	sess, loading := h.release(Destroyed)
	h.mu.Unlock()

	h.settle(sess, loading)
	return nil
}

// release moves to state to, invalidates the current generation and hands
// back what must be torn down. Caller holds mu.
func (h *Handle) release(to State) (session, chan struct{}) {
	h.setState(to)
	h.gen++
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	sess := h.sess
	h.sess = nil
	return sess, h.loading
}

func (h *Handle) settle(sess session, loading chan struct{}) {
	if sess != nil {
		h.closeSession(sess, true)
	}
	if loading != nil {
		<-loading
	}
}

func (h *Handle) closeSession(sess session, live bool) {
	if err := sess.close(); err != nil {
		h.log.Warn().Err(err).Msg("session close failed")
	}
	if live {
		h.metrics.PlayerDestroyed()
	}
}

func (h *Handle) fail(gen uint64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if gen != h.gen {
		return
	}
	switch h.state {
	case Loading:
		// open already returned success; report once committed
		h.early = err
	case Playing, Paused:
		h.deliver(err)
	}
}

// deliver publishes err. Caller holds mu.
func (h *Handle) deliver(err error) {
	h.log.Warn().Err(err).Msg("playback failed")
	h.metrics.IncPlayerError(string(h.kind))
	select {
	case h.errs <- domain.NewError(domain.ErrTransport, "player."+string(h.kind), err):
	default:
	}
}

func (h *Handle) setState(s State) {
	if h.state == s {
		return
	}
	h.log.Debug().
		Str(xlog.FieldOldState, h.state.String()).
		Str(xlog.FieldNewState, s.String()).
		Msg("state changed")
	h.state = s
}

func (h *Handle) invalid(op string) error {
	return fmt.Errorf("%w: %s while %s", domain.ErrInvalidTransition, op, h.state)
}

// gate drops writes while paused.
type gate struct {
	w      io.Writer
	paused atomic.Bool
}

func (g *gate) Write(p []byte) (int, error) {
	if g.paused.Load() {
		return len(p), nil
	}
	return g.w.Write(p)
}

func (g *gate) pause() error  { g.paused.Store(true); return nil }
func (g *gate) resume() error { g.paused.Store(false); return nil }
