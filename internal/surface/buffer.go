package surface

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"dashie_cam/native/internal/domain"
)

const (
	// DefaultQuota bounds the bytes a Buffer retains before rejecting appends.
	DefaultQuota = 32 << 20
	// DefaultSegmentDuration is the playback time credited per media segment.
	DefaultSegmentDuration = time.Second
)

var (
	ErrUpdating        = errors.New("buffer operation already in flight")
	ErrNoInit          = errors.New("media segment appended before initialization segment")
	ErrMimeTypeMissing = errors.New("buffer mime type not set")
)

type segment struct {
	start, end time.Duration
	size       int
}

// Buffer is a domain.SourceBuffer writing appended data to an io.Writer.
// It plays at the live edge: every media segment advances the current time
// by the segment duration and stays retained, counting against the quota,
// until removed.
type Buffer struct {
	out      io.Writer
	quota    int
	segDur   time.Duration
	mu       sync.Mutex
	mime     string
	inited   bool
	updating bool
	segments []segment
	retained int
	edge     time.Duration
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithQuota sets the retained byte limit.
func WithQuota(n int) BufferOption {
	return func(b *Buffer) { b.quota = n }
}

// WithSegmentDuration sets the time credited per media segment.
func WithSegmentDuration(d time.Duration) BufferOption {
	return func(b *Buffer) { b.segDur = d }
}

// NewBuffer creates a buffer writing to out.
func NewBuffer(out io.Writer, opts ...BufferOption) *Buffer {
	b := &Buffer{out: out, quota: DefaultQuota, segDur: DefaultSegmentDuration}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetMimeType declares the codec string of the stream.
func (b *Buffer) SetMimeType(mime string) error {
	if mime == "" {
		return ErrMimeTypeMissing
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mime != "" && b.mime != mime {
		return fmt.Errorf("buffer mime type already set to %q", b.mime)
	}
	b.mime = mime
	return nil
}

// Append starts writing data. The result arrives on the returned channel.
func (b *Buffer) Append(data []byte) <-chan error {
	done := make(chan error, 1)

	b.mu.Lock()
	switch {
	case b.updating:
		b.mu.Unlock()
		done <- ErrUpdating
		return done
	case b.mime == "":
		b.mu.Unlock()
		done <- ErrMimeTypeMissing
		return done
	}
	init := IsInitSegment(data)
	if !init && !b.inited {
		b.mu.Unlock()
		done <- ErrNoInit
		return done
	}
	if !init && b.retained+len(data) > b.quota {
		b.mu.Unlock()
		done <- domain.ErrQuotaExceeded
		return done
	}
	b.updating = true
	b.mu.Unlock()

	go func() {
		_, err := b.out.Write(data)

		b.mu.Lock()
		b.updating = false
		if err == nil {
			if init {
				b.inited = true
			} else {
				b.segments = append(b.segments, segment{start: b.edge, end: b.edge + b.segDur, size: len(data)})
				b.retained += len(data)
				b.edge += b.segDur
			}
		}
		b.mu.Unlock()
		done <- err
	}()
	return done
}

// Remove drops retained segments lying entirely inside [start, end).
func (b *Buffer) Remove(start, end time.Duration) <-chan error {
	done := make(chan error, 1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.updating {
		done <- ErrUpdating
		return done
	}

	kept := b.segments[:0]
	for _, s := range b.segments {
		if s.start >= start && s.end <= end {
			b.retained -= s.size
			continue
		}
		kept = append(kept, s)
	}
	b.segments = kept
	done <- nil
	return done
}

// CurrentTime returns the playback position, which is the live edge.
func (b *Buffer) CurrentTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.edge
}

// Retained returns the bytes currently counted against the quota.
func (b *Buffer) Retained() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retained
}

// Reset clears all state so the buffer can take a new stream.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mime = ""
	b.inited = false
	b.segments = nil
	b.retained = 0
	b.edge = 0
}

// IsInitSegment reports whether data starts with an ISO BMFF ftyp or moov
// box, which only initialization segments do.
func IsInitSegment(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	box := data[4:8]
	return bytes.Equal(box, []byte("ftyp")) || bytes.Equal(box, []byte("moov"))
}
