package surface

import (
	"sync"

	"dashie_cam/native/internal/domain"
)

// Placeholder is a domain.Layout whose rect is moved by the caller. Only
// the latest pending change is kept.
type Placeholder struct {
	mu     sync.Mutex
	rect   domain.Rect
	ch     chan domain.Rect
	closed bool
}

// NewPlaceholder creates a placeholder at r.
func NewPlaceholder(r domain.Rect) *Placeholder {
	return &Placeholder{rect: r, ch: make(chan domain.Rect, 1)}
}

// Rect returns the current placement.
func (p *Placeholder) Rect() domain.Rect {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rect
}

// Changes delivers placement updates and is closed by Close.
func (p *Placeholder) Changes() <-chan domain.Rect {
	return p.ch
}

// Move updates the placement. Ignored after Close.
func (p *Placeholder) Move(r domain.Rect) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || r == p.rect {
		return
	}
	p.rect = r
	select {
	case <-p.ch:
	default:
	}
	p.ch <- r
}

// Close removes the placeholder.
func (p *Placeholder) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}
