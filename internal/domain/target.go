package domain

import (
	"fmt"
	"strings"
)

// CompositeSpec describes a grid stream combining several cameras into one
// tiled picture produced by the relay.
type CompositeSpec struct {
	Cameras []string `yaml:"cameras"`
	Grid    string   `yaml:"grid"`    // "auto" or "<cols>x<rows>"
	FPS     int      `yaml:"fps"`     // defaults to 10
	Quality int      `yaml:"quality"` // x264 CRF, defaults to 30
	Name    string   `yaml:"name"`    // optional explicit relay stream name
}

const (
	DefaultCompositeFPS     = 10
	DefaultCompositeQuality = 30
	compositeNamePrefix     = "dashie_camgrid_"
)

// StreamName returns the relay stream name of the composite.
func (c CompositeSpec) StreamName() string {
	if c.Name != "" {
		return c.Name
	}
	if len(c.Cameras) == 0 {
		return ""
	}
	parts := make([]string, 0, len(c.Cameras))
	for _, cam := range c.Cameras {
		parts = append(parts, strings.TrimPrefix(cam, "camera."))
	}
	return compositeNamePrefix + strings.Join(parts, "_")
}

// WithDefaults fills unset frame rate, quality and grid values.
func (c CompositeSpec) WithDefaults() CompositeSpec {
	if c.FPS <= 0 {
		c.FPS = DefaultCompositeFPS
	}
	if c.Quality <= 0 {
		c.Quality = DefaultCompositeQuality
	}
	if c.Grid == "" {
		c.Grid = "auto"
	}
	return c
}

// StreamTarget identifies what a card plays.
type StreamTarget struct {
	EntityID   string
	StreamName string
	Composite  *CompositeSpec
}

// NewStreamTarget builds a target and rejects one that cannot name a stream.
func NewStreamTarget(entityID, streamName string, composite *CompositeSpec) (StreamTarget, error) {
	t := StreamTarget{
		EntityID:   strings.TrimSpace(entityID),
		StreamName: strings.TrimSpace(streamName),
		Composite:  composite,
	}
	if err := t.Validate(); err != nil {
		return StreamTarget{}, err
	}
	return t, nil
}

// IsComposite reports whether the target is a multi-source grid.
func (t StreamTarget) IsComposite() bool {
	return t.Composite != nil && len(t.Composite.Cameras) > 0
}

// Name returns the relay stream name the target resolves to. An explicit
// name wins over a composite, which wins over the entity identifier.
func (t StreamTarget) Name() string {
	switch {
	case t.StreamName != "":
		return t.StreamName
	case t.IsComposite():
		return t.Composite.StreamName()
	default:
		return t.EntityID
	}
}

// Validate enforces that the target resolves to a non-empty stream name.
func (t StreamTarget) Validate() error {
	if t.Name() == "" {
		return NewError(ErrConfiguration, "target.validate", fmt.Errorf("no entity, stream name or composite cameras configured"))
	}
	return nil
}

// TranscodeMode controls derived low-resolution stream provisioning.
type TranscodeMode string

const (
	TranscodeAuto   TranscodeMode = "auto"
	TranscodeAlways TranscodeMode = "always"
	TranscodeNever  TranscodeMode = "never"
)

// CardConfig is the full configuration of one camera card.
type CardConfig struct {
	Target          StreamTarget
	RelayURL        string
	Protocol        TransportKind // empty means auto-detect
	Transcode       TranscodeMode
	TranscodeWidth  int
	TranscodeHeight int
}

const (
	DefaultTranscodeWidth  = 1280
	DefaultTranscodeHeight = 720
)

// TranscodeSize returns the configured or default derived stream size.
func (c CardConfig) TranscodeSize() (int, int) {
	w, h := c.TranscodeWidth, c.TranscodeHeight
	if w <= 0 {
		w = DefaultTranscodeWidth
	}
	if h <= 0 {
		h = DefaultTranscodeHeight
	}
	return w, h
}

// TranscodeRequested reports whether a derived stream should be attempted
// on the given platform. Embedded decoders reject multi-megapixel high
// profile input, so auto means yes there.
func (c CardConfig) TranscodeRequested(p Platform) bool {
	switch c.Transcode {
	case TranscodeAlways:
		return true
	case TranscodeNever:
		return false
	default:
		return p == PlatformEmbeddedBridge
	}
}
