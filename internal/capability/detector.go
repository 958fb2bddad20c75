// Package capability classifies the runtime hosting a camera card.
package capability

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"dashie_cam/native/internal/domain"
	xlog "dashie_cam/native/internal/log"

	"github.com/rs/zerolog"
)

// userAgentMarkers identify the embedded tablet app. A bare Android WebView
// marker ("; wv)") is deliberately not one of them: without the bridge the
// host cannot provide overlay or metrics services.
var userAgentMarkers = []string{"DashieLite", "Dashie/"}

// Detector reports the platform and device capabilities. Results are
// memoized for the lifetime of the detector.
type Detector struct {
	bridge    domain.Bridge
	userAgent string
	log       zerolog.Logger

	mu       sync.Mutex
	platform domain.Platform
	caps     *domain.Capabilities
}

// NewDetector creates a detector. bridge may be nil when the native
// capability bridge is absent.
func NewDetector(bridge domain.Bridge, userAgent string) *Detector {
	return &Detector{
		bridge:    bridge,
		userAgent: userAgent,
		log:       xlog.WithComponent("capability"),
	}
}

// Detect returns the platform, probing only on the first call.
func (d *Detector) Detect() domain.Platform {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.platform != "" {
		return d.platform
	}

	var source string
	switch {
	case d.bridge != nil:
		d.platform, source = domain.PlatformEmbeddedBridge, "bridge"
	case hasMarker(d.userAgent):
		d.platform, source = domain.PlatformEmbeddedBridge, "user_agent"
	default:
		d.platform, source = domain.PlatformBrowser, "default"
	}

	d.log.Info().
		Str(xlog.FieldPlatform, string(d.platform)).
		Str("source", source).
		Msg("platform detected")
	return d.platform
}

// Capabilities queries the bridge once and caches a successful answer.
func (d *Detector) Capabilities(ctx context.Context) (domain.Capabilities, error) {
	d.mu.Lock()
	if d.caps != nil {
		caps := *d.caps
		d.mu.Unlock()
		return caps, nil
	}
	d.mu.Unlock()

	if d.bridge == nil {
		return domain.Capabilities{}, fmt.Errorf("capabilities: %w: no bridge", domain.ErrUnsupported)
	}
	caps, err := d.bridge.Capabilities(ctx)
	if err != nil {
		return domain.Capabilities{}, fmt.Errorf("capabilities: %w", err)
	}

	d.mu.Lock()
	d.caps = &caps
	d.mu.Unlock()
	return caps, nil
}

// Reset forgets memoized results. Intended for tests.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.platform = ""
	d.caps = nil
}

func hasMarker(ua string) bool {
	for _, m := range userAgentMarkers {
		if strings.Contains(ua, m) {
			return true
		}
	}
	return false
}
