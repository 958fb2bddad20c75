package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	errReadyTimeout = errors.New("stream not ready before timeout")
	errStreamEnded  = errors.New("stream ended")
)

// streamSession is a session whose media is pumped by one goroutine.
type streamSession struct {
	*gate
	cancel  context.CancelFunc
	done    chan struct{}
	release func()
}

func (s *streamSession) close() error {
	s.cancel()
	<-s.done
	s.release()
	return nil
}

// runFunc pumps media into w until ctx ends or the stream fails. It calls
// ready once the first media has been delivered.
type runFunc func(ctx context.Context, w io.Writer, ready func()) error

// startStream runs run in the background and waits for its first media.
// Errors before ready fail the load; errors after it go to fail. release
// is called exactly once, when the stream is torn down.
func startStream(ctx context.Context, timeout time.Duration, g *gate, release func(), fail func(error), run runFunc) (session, error) {
	sctx, cancel := context.WithCancel(ctx)
	ready := make(chan struct{})
	done := make(chan struct{})
	errc := make(chan error, 1)
	var once sync.Once
	markReady := func() { once.Do(func() { close(ready) }) }

	go func() {
		defer close(done)
		err := run(sctx, g, markReady)
		if err == nil || errors.Is(err, io.EOF) {
			err = errStreamEnded
		}
		if sctx.Err() != nil {
			errc <- sctx.Err()
			return
		}
		select {
		case <-ready:
			fail(err)
		default:
			errc <- err
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case <-ready:
		return &streamSession{gate: g, cancel: cancel, done: done, release: release}, nil
	case err = <-errc:
	case <-timer.C:
		err = fmt.Errorf("%w (%s)", errReadyTimeout, timeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	cancel()
	<-done
	release()
	return nil, err
}
