package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dashie_cam/native/internal/domain"
	xlog "dashie_cam/native/internal/log"

	"github.com/rs/zerolog"
)

const overlayCallTimeout = 5 * time.Second

var errNoPlaceholder = errors.New("overlay placeholder has no visible area")

// overlayDriver hands decoding to the bridge's native compositor and keeps
// the overlay aligned with its placeholder.
type overlayDriver struct {
	deps Deps
}

type overlaySession struct {
	bridge domain.Bridge
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	log    zerolog.Logger
}

func (d *overlayDriver) open(ctx context.Context, id, locator string, _ func(error)) (session, error) {
	r := d.deps.Layout.Rect()
	if r.Empty() {
		return nil, errNoPlaceholder
	}

	sctx, scancel := context.WithTimeout(ctx, overlayCallTimeout)
	defer scancel()
	if err := d.deps.Bridge.StartOverlay(sctx, id, locator, r); err != nil {
		return nil, fmt.Errorf("start overlay: %w", err)
	}

	wctx, cancel := context.WithCancel(ctx)
	s := &overlaySession{
		bridge: d.deps.Bridge,
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    xlog.WithComponent("player").With().Str(xlog.FieldOverlayID, id).Logger(),
	}
	go s.track(wctx, d.deps.Layout.Changes())
	return s, nil
}

// track pushes placeholder moves to the native side until the session ends
// or the placeholder goes away.
func (s *overlaySession) track(ctx context.Context, changes <-chan domain.Rect) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-changes:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, overlayCallTimeout)
			err := s.bridge.UpdateOverlay(cctx, s.id, r)
			cancel()
			if err != nil {
				s.log.Warn().Err(err).Msg("overlay update failed")
			}
		}
	}
}

func (s *overlaySession) pause() error {
	return fmt.Errorf("pause native overlay: %w", domain.ErrUnsupported)
}

func (s *overlaySession) resume() error { return nil }

func (s *overlaySession) close() error {
	s.cancel()
	<-s.done
	ctx, cancel := context.WithTimeout(context.Background(), overlayCallTimeout)
	defer cancel()
	return s.bridge.StopOverlay(ctx, s.id)
}
