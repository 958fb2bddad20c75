// Package surface provides the render targets players write into: an
// exclusively claimed byte sink, a managed append buffer and a placeholder
// layout for native overlays.
package surface

import (
	"errors"
	"io"
	"sync"

	"dashie_cam/native/internal/domain"
)

// ErrReleased is returned by a writer whose claim was released.
var ErrReleased = errors.New("surface claim released")

// Sink is a domain.Surface backed by an io.Writer. Writes are serialized
// and only the current owner's writer gets through.
type Sink struct {
	mu     sync.Mutex
	out    io.Writer
	owner  string
	claims int
}

// NewSink wraps out.
func NewSink(out io.Writer) *Sink {
	return &Sink{out: out}
}

// Claim grants owner exclusive access. Re-claiming by the same owner is
// allowed; a different owner gets ErrSurfaceBusy.
func (s *Sink) Claim(owner string) (io.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner != "" && s.owner != owner {
		return nil, domain.ErrSurfaceBusyFor(s.owner)
	}
	if s.owner == "" {
		s.claims++
	}
	s.owner = owner
	return &claimWriter{sink: s, owner: owner}, nil
}

// Release drops owner's claim. Releasing a claim held by someone else is a
// no-op.
func (s *Sink) Release(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == owner {
		s.owner = ""
	}
}

// Owner returns the current claim holder, or "".
func (s *Sink) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Claims counts successful fresh claims.
func (s *Sink) Claims() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims
}

type claimWriter struct {
	sink  *Sink
	owner string
}

func (w *claimWriter) Write(p []byte) (int, error) {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	if w.sink.owner != w.owner {
		return 0, ErrReleased
	}
	return w.sink.out.Write(p)
}
