package player

import (
	"context"
	"fmt"
	"time"

	rtc "dashie_cam/native/internal/webrtc"
)

// peerDriver plays the relay's real-time peer endpoint.
type peerDriver struct {
	deps Deps
}

type peerSession struct {
	*gate
	rtc     *rtc.Session
	cancel  context.CancelFunc
	done    chan struct{}
	release func()
}

func (d *peerDriver) open(ctx context.Context, id, locator string, fail func(error)) (session, error) {
	w, err := d.deps.Surface.Claim(id)
	if err != nil {
		return nil, err
	}
	release := func() { d.deps.Surface.Release(id) }

	s, err := rtc.NewSession(rtc.Config{
		ICEServers:    d.deps.ICEServers,
		GatherTimeout: d.deps.GatherTimeout,
		LoggerFactory: d.deps.PionLogger,
	})
	if err != nil {
		release()
		return nil, err
	}

	g := &gate{w: w}
	cctx, cancel := context.WithTimeout(ctx, d.deps.ReadyTimeout)
	defer cancel()
	err = s.Connect(cctx, d.deps.Signaler, locator, g)
	if err == nil {
		err = awaitFirstMedia(cctx, ctx, d.deps.ReadyTimeout, s.FirstMedia(), s.Failed())
	}
	if err != nil {
		_ = s.Close()
		release()
		return nil, err
	}

	wctx, wcancel := context.WithCancel(ctx)
	ps := &peerSession{gate: g, rtc: s, cancel: wcancel, done: make(chan struct{}), release: release}
	go func() {
		defer close(ps.done)
		select {
		case err := <-s.Failed():
			fail(err)
		case <-wctx.Done():
		}
	}()
	return ps, nil
}

// awaitFirstMedia blocks until the first video reaches the surface. A
// connection loss or the ready deadline fails the load; cancellation of the
// caller's ctx is returned as is.
func awaitFirstMedia(readyCtx, ctx context.Context, timeout time.Duration, media <-chan struct{}, failed <-chan error) error {
	select {
	case <-media:
		return nil
	case err := <-failed:
		return err
	case <-readyCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w (%s)", errReadyTimeout, timeout)
	}
}

func (s *peerSession) close() error {
	s.cancel()
	<-s.done
	err := s.rtc.Close()
	s.release()
	return err
}
