package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"dashie_cam/native/internal/domain"
	"dashie_cam/native/internal/surface"

	"github.com/gorilla/websocket"
)

const (
	// TrimKeep is the history kept behind the playhead when the buffer
	// quota is hit.
	TrimKeep = 5 * time.Second
	// MaxQuotaRetries caps trim-and-retry rounds per segment.
	MaxQuotaRetries = 3

	frameQueueSize = 64
	mseCodecs      = "avc1.640029,avc1.64002A,avc1.640033,hvc1.1.6.L153.B0,mp4a.40.2,mp4a.40.5,opus"
)

var errFramesDone = errors.New("frame reader finished")

// byteStreamDriver feeds the relay's websocket fragmented-container stream
// into a managed append buffer.
type byteStreamDriver struct {
	deps Deps
}

type frame struct {
	text bool
	data []byte
}

type mseMessage struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (d *byteStreamDriver) open(ctx context.Context, id, locator string, fail func(error)) (session, error) {
	w, err := d.deps.Surface.Claim(id)
	if err != nil {
		return nil, err
	}
	g := &gate{w: w}
	buf := d.deps.NewBuffer(g)
	release := func() {
		buf.Reset()
		d.deps.Surface.Release(id)
	}

	return startStream(ctx, d.deps.ReadyTimeout, g, release, fail,
		func(ctx context.Context, _ io.Writer, ready func()) error {
			return d.run(ctx, locator, buf, ready)
		})
}

func (d *byteStreamDriver) run(ctx context.Context, locator string, buf domain.SourceBuffer, ready func()) error {
	conn, _, err := d.deps.Dialer.DialContext(ctx, locator, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(mseMessage{Type: "mse", Value: mseCodecs}); err != nil {
		return fmt.Errorf("send codec request: %w", err)
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	frames := make(chan frame, frameQueueSize)
	readErr := make(chan error, 1)
	go func() { readErr <- readFrames(rctx, conn, frames) }()

	f := &feeder{buf: buf, ready: ready}
	err = f.run(rctx, frames)
	cancel()
	conn.Close()
	rerr := <-readErr
	if errors.Is(err, errFramesDone) {
		return rerr
	}
	return err
}

func readFrames(ctx context.Context, conn *websocket.Conn, out chan<- frame) error {
	defer close(out)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		select {
		case out <- frame{text: mt == websocket.TextMessage, data: data}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// feeder orders segments for the append buffer: the initialization segment
// goes first whatever its arrival position, and only one append is in
// flight at a time.
type feeder struct {
	buf          domain.SourceBuffer
	ready        func()
	mime         string
	queue        [][]byte
	initSeen     bool
	initAppended bool
}

func (f *feeder) run(ctx context.Context, frames <-chan frame) error {
	for {
		if err := f.drain(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fr, ok := <-frames:
			if !ok {
				return errFramesDone
			}
			if err := f.accept(fr); err != nil {
				return err
			}
		}
	}
}

func (f *feeder) accept(fr frame) error {
	if !fr.text {
		f.push(fr.data)
		return nil
	}

	var msg mseMessage
	if err := json.Unmarshal(fr.data, &msg); err != nil {
		msg = mseMessage{Type: "mse", Value: strings.TrimSpace(string(fr.data))}
	}
	switch msg.Type {
	case "mse":
		if f.mime != "" {
			return nil
		}
		if err := f.buf.SetMimeType(msg.Value); err != nil {
			return fmt.Errorf("set mime type: %w", err)
		}
		f.mime = msg.Value
	case "error":
		return fmt.Errorf("relay: %s", msg.Value)
	}
	return nil
}

func (f *feeder) push(seg []byte) {
	if !f.initSeen && surface.IsInitSegment(seg) {
		f.initSeen = true
		f.queue = append([][]byte{seg}, f.queue...)
		return
	}
	f.queue = append(f.queue, seg)
}

// next returns the segment to append, or nil while the codec string or the
// initialization segment is still missing.
func (f *feeder) next() []byte {
	if f.mime == "" || len(f.queue) == 0 {
		return nil
	}
	if !f.initAppended && !surface.IsInitSegment(f.queue[0]) {
		return nil
	}
	return f.queue[0]
}

func (f *feeder) drain(ctx context.Context) error {
	for seg := f.next(); seg != nil; seg = f.next() {
		if err := f.append(ctx, seg); err != nil {
			return err
		}
		f.queue = f.queue[1:]
		if surface.IsInitSegment(seg) {
			f.initAppended = true
			continue
		}
		f.ready()
	}
	return nil
}

func (f *feeder) append(ctx context.Context, seg []byte) error {
	for trims := 0; ; trims++ {
		err := await(ctx, f.buf.Append(seg))
		if !errors.Is(err, domain.ErrQuotaExceeded) {
			return err
		}
		end := f.buf.CurrentTime() - TrimKeep
		if trims >= MaxQuotaRetries || end <= 0 {
			return fmt.Errorf("append after %d trims: %w", trims, err)
		}
		if err := await(ctx, f.buf.Remove(0, end)); err != nil {
			return fmt.Errorf("trim buffer: %w", err)
		}
	}
}

func await(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
