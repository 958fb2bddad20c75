package domain

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Rect is the on-screen placement of a card's placeholder surface.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the rect has no visible area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Capabilities is what the embedded bridge reports about the device.
type Capabilities struct {
	Codecs          []string
	DecoderCount    int
	TemperatureC    float64
	BatteryLevel    int
	Plugged         bool
	SupportsPairing bool
}

// SupportsCodec reports whether codec appears in the device codec list.
func (c Capabilities) SupportsCodec(codec string) bool {
	for _, have := range c.Codecs {
		if have == codec {
			return true
		}
	}
	return false
}

// Bridge is the host-provided native object of the embedded WebView.
type Bridge interface {
	Capabilities(ctx context.Context) (Capabilities, error)
	StartOverlay(ctx context.Context, id, locator string, r Rect) error
	UpdateOverlay(ctx context.Context, id string, r Rect) error
	StopOverlay(ctx context.Context, id string) error
	HideAllOverlays(ctx context.Context) error
	ShowAllOverlays(ctx context.Context) error
	SupportsPairing() bool
}

// Entity is a host dashboard state object.
type Entity struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Attr returns a string attribute, or "" when absent or not a string.
func (e Entity) Attr(key string) string {
	if v, ok := e.Attributes[key].(string); ok {
		return v
	}
	return ""
}

// Host is the dashboard the card lives in.
type Host interface {
	// Entity looks up the state object for entityID.
	Entity(ctx context.Context, entityID string) (Entity, error)
	// RequestStream asks for a session-authenticated streaming channel and
	// returns its locator.
	RequestStream(ctx context.Context, entityID, format string) (string, error)
	// CallService invokes a service with the host's elevated trust.
	CallService(ctx context.Context, domain, service string, data map[string]any) (map[string]any, error)
}

// Surface is the render target of a card. At most one owner may hold a
// claim; a second claim fails with ErrSurfaceBusy.
type Surface interface {
	Claim(owner string) (io.Writer, error)
	Release(owner string)
}

// SourceBuffer is a managed append-only media buffer. Append and Remove
// start an asynchronous operation whose completion is delivered on the
// returned channel. Only one operation may be in flight.
type SourceBuffer interface {
	SetMimeType(mime string) error
	Append(data []byte) <-chan error
	Remove(start, end time.Duration) <-chan error
	CurrentTime() time.Duration
	Reset()
}

// Layout reports the placement of a placeholder surface. Changes is closed
// when the placeholder goes away.
type Layout interface {
	Rect() Rect
	Changes() <-chan Rect
}

// ErrSurfaceBusyFor decorates ErrSurfaceBusy with the current owner.
func ErrSurfaceBusyFor(owner string) error {
	return fmt.Errorf("%w by %s", ErrSurfaceBusy, owner)
}
