package relay

import (
	"strings"
	"testing"

	"dashie_cam/native/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocator(t *testing.T) {
	tests := []struct {
		base string
		kind domain.TransportKind
		want string
	}{
		{"http://relay:1984", domain.TransportFragmentedHTTP, "http://relay:1984/api/stream.mp4?src=camera.kitchen"},
		{"http://relay:1984/", domain.TransportSegmentedHTTP, "http://relay:1984/api/stream.m3u8?src=camera.kitchen"},
		{"http://relay:1984", domain.TransportRealtimePeer, "http://relay:1984/api/webrtc?src=camera.kitchen"},
		{"http://relay:1984", domain.TransportFragmentedByteStream, "ws://relay:1984/api/ws?src=camera.kitchen"},
		{"https://relay.example", domain.TransportFragmentedByteStream, "wss://relay.example/api/ws?src=camera.kitchen"},
		{"http://relay:1984", domain.TransportNativeOverlay, "rtsp://relay:8554/camera.kitchen"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := Locator(tt.base, tt.kind, "camera.kitchen")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Locator("http://relay", "bogus", "x")
	assert.Error(t, err)
}

func TestNormalizeBase(t *testing.T) {
	assert.Equal(t, "http://relay:1984", NormalizeBase(" relay:1984/ "))
	assert.Equal(t, "https://relay", NormalizeBase("https://relay/"))
	assert.Equal(t, "", NormalizeBase(""))
}

func TestGridLayout(t *testing.T) {
	tests := []struct {
		n          int
		grid       string
		cols, rows int
	}{
		{1, "auto", 1, 1},
		{2, "auto", 2, 1},
		{3, "", 2, 2},
		{4, "auto", 2, 2},
		{5, "auto", 3, 2},
		{6, "auto", 3, 2},
		{7, "auto", 3, 3},
		{10, "auto", 3, 4},
		{3, "3x1", 3, 1},
	}
	for _, tt := range tests {
		cols, rows, err := GridLayout(tt.n, tt.grid)
		require.NoError(t, err)
		assert.Equal(t, tt.cols, cols, "n=%d grid=%s", tt.n, tt.grid)
		assert.Equal(t, tt.rows, rows, "n=%d grid=%s", tt.n, tt.grid)
	}

	for _, bad := range []string{"2x", "x2", "0x3", "banana", "1x2"} {
		_, _, err := GridLayout(3, bad)
		assert.Error(t, err, bad)
	}
}

func TestCompositeSource_FiveCameras(t *testing.T) {
	src, err := CompositeSource(domain.CompositeSpec{
		Cameras: []string{"camera.a", "camera.b", "camera.c", "camera.d", "camera.e"},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(src, "exec:ffmpeg "))
	assert.Equal(t, 5, strings.Count(src, "-rtsp_transport tcp -i rtsp://127.0.0.1:8554/camera."))
	assert.Contains(t, src, "scale=284:240")
	assert.Contains(t, src, "nullsrc=s=284x240")
	assert.Contains(t, src, "[row0][row1]vstack=inputs=2[v]")
	assert.Contains(t, src, "-crf 30")
	assert.Contains(t, src, "-r 10 -g 20")
}

func TestCompositeSource_SingleRow(t *testing.T) {
	src, err := CompositeSource(domain.CompositeSpec{Cameras: []string{"camera.a", "camera.b"}, FPS: 15, Quality: 28})
	require.NoError(t, err)
	assert.Contains(t, src, "[v0][v1]hstack=inputs=2[v]")
	assert.NotContains(t, src, "vstack")
	assert.Contains(t, src, "-crf 28")
	assert.Contains(t, src, "-r 15 -g 30")
}

func TestDerived(t *testing.T) {
	assert.Equal(t, "camera.kitchen_720p", DerivedName("camera.kitchen", 720))
	assert.Equal(t, "ffmpeg:camera.kitchen#video=h264#width=1280#height=720", DerivedSource("camera.kitchen", 1280, 720))
}
