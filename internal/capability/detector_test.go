package capability

import (
	"context"
	"errors"
	"testing"

	"dashie_cam/native/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	caps  domain.Capabilities
	err   error
	calls int
}

func (b *fakeBridge) Capabilities(context.Context) (domain.Capabilities, error) {
	b.calls++
	return b.caps, b.err
}
func (b *fakeBridge) StartOverlay(context.Context, string, string, domain.Rect) error { return nil }
func (b *fakeBridge) UpdateOverlay(context.Context, string, domain.Rect) error         { return nil }
func (b *fakeBridge) StopOverlay(context.Context, string) error                        { return nil }
func (b *fakeBridge) HideAllOverlays(context.Context) error                            { return nil }
func (b *fakeBridge) ShowAllOverlays(context.Context) error                            { return nil }
func (b *fakeBridge) SupportsPairing() bool                                            { return false }

const androidWebView = "Mozilla/5.0 (Linux; Android 12; wv) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36"

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		bridge domain.Bridge
		ua     string
		want   domain.Platform
	}{
		{"bridge present", &fakeBridge{}, "Mozilla/5.0", domain.PlatformEmbeddedBridge},
		{"ua marker", nil, androidWebView + " DashieLite/2.21", domain.PlatformEmbeddedBridge},
		{"webview without bridge", nil, androidWebView, domain.PlatformBrowser},
		{"desktop browser", nil, "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0", domain.PlatformBrowser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(tt.bridge, tt.ua)
			assert.Equal(t, tt.want, d.Detect())
		})
	}
}

func TestDetect_MemoizedUntilReset(t *testing.T) {
	d := NewDetector(nil, "plain")
	require.Equal(t, domain.PlatformBrowser, d.Detect())

	d.userAgent = "DashieLite"
	assert.Equal(t, domain.PlatformBrowser, d.Detect(), "result must be memoized")

	d.Reset()
	assert.Equal(t, domain.PlatformEmbeddedBridge, d.Detect())
}

func TestCapabilities_CachesSuccess(t *testing.T) {
	b := &fakeBridge{caps: domain.Capabilities{Codecs: []string{"h264"}, DecoderCount: 2}}
	d := NewDetector(b, "")

	caps, err := d.Capabilities(context.Background())
	require.NoError(t, err)
	assert.True(t, caps.SupportsCodec("h264"))

	_, err = d.Capabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, b.calls)
}

func TestCapabilities_ErrorNotCached(t *testing.T) {
	b := &fakeBridge{err: errors.New("offline")}
	d := NewDetector(b, "")

	_, err := d.Capabilities(context.Background())
	require.Error(t, err)
	_, err = d.Capabilities(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, b.calls)
}

func TestCapabilities_NoBridge(t *testing.T) {
	_, err := NewDetector(nil, "").Capabilities(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}
