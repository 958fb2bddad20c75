package planner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"dashie_cam/native/internal/domain"
	"dashie_cam/native/internal/relay"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayServer struct {
	mu      sync.Mutex
	streams map[string]string
	failPut bool
	calls   atomic.Int32
	puts    atomic.Int32
}

func newRelayServer(t *testing.T, names ...string) (*relayServer, string) {
	t.Helper()
	rs := &relayServer{streams: map[string]string{}}
	for _, n := range names {
		rs.streams[n] = "rtsp://cam/" + n
	}
	srv := httptest.NewServer(rs)
	t.Cleanup(srv.Close)
	return rs, srv.URL
}

func (rs *relayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rs.calls.Add(1)
	switch {
	case r.URL.Path == "/api/streams" && r.Method == http.MethodGet:
		rs.mu.Lock()
		out := map[string]any{}
		for n := range rs.streams {
			out[n] = map[string]any{}
		}
		rs.mu.Unlock()
		_ = json.NewEncoder(w).Encode(out)
	case r.URL.Path == "/api/streams" && r.Method == http.MethodPut:
		rs.puts.Add(1)
		if rs.failPut {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		rs.mu.Lock()
		rs.streams[r.URL.Query().Get("name")] = r.URL.Query().Get("src")
		rs.mu.Unlock()
	default:
		http.NotFound(w, r)
	}
}

func (rs *relayServer) source(name string) string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.streams[name]
}

type fakeHost struct {
	mu          sync.Mutex
	entities    map[string]domain.Entity
	streamURL   string
	streamErr   error
	serviceResp map[string]any
	serviceErr  error
	requests    []string
	services    []string
}

func (h *fakeHost) Entity(_ context.Context, id string) (domain.Entity, error) {
	e, ok := h.entities[id]
	if !ok {
		return domain.Entity{}, errors.New("not found")
	}
	return e, nil
}

func (h *fakeHost) RequestStream(_ context.Context, id, format string) (string, error) {
	h.mu.Lock()
	h.requests = append(h.requests, id+"/"+format)
	h.mu.Unlock()
	return h.streamURL, h.streamErr
}

func (h *fakeHost) CallService(_ context.Context, d, s string, _ map[string]any) (map[string]any, error) {
	h.mu.Lock()
	h.services = append(h.services, d+"."+s)
	h.mu.Unlock()
	return h.serviceResp, h.serviceErr
}

func newPlanner(host domain.Host) *Planner {
	return New(relay.NewClient(relay.Options{}), host, WithDiscovery(nil))
}

func cardFor(t *testing.T, entity, base string) domain.CardConfig {
	t.Helper()
	target, err := domain.NewStreamTarget(entity, "", nil)
	require.NoError(t, err)
	return domain.CardConfig{Target: target, RelayURL: base}
}

var local = domain.NetworkContextFromURL("http://192.168.1.10:8123/lovelace/0")

func TestResolve_EmbeddedExistingStream(t *testing.T) {
	_, base := newRelayServer(t, "camera.front_door")
	cfg := cardFor(t, "camera.front_door", base)
	cfg.Transcode = domain.TranscodeNever

	got, err := newPlanner(nil).Resolve(context.Background(), cfg, domain.PlatformEmbeddedBridge, local)
	require.NoError(t, err)

	want := domain.ResolvedStreamConfig{
		Transport:  domain.TransportFragmentedHTTP,
		Locator:    base + "/api/stream.mp4?src=camera.front_door",
		StreamName: "camera.front_door",
		Reason:     ReasonRawStream,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_EmbeddedTranscode(t *testing.T) {
	rs, base := newRelayServer(t)
	cfg := cardFor(t, "camera.kitchen", base)
	cfg.Transcode = domain.TranscodeAuto

	got, err := newPlanner(nil).Resolve(context.Background(), cfg, domain.PlatformEmbeddedBridge, local)
	require.NoError(t, err)

	assert.Equal(t, domain.TransportFragmentedHTTP, got.Transport)
	assert.Equal(t, "camera.kitchen_720p", got.StreamName)
	assert.Equal(t, "camera.kitchen_720p", got.Provisioned)
	assert.Equal(t, base+"/api/stream.mp4?src=camera.kitchen_720p", got.Locator)
	assert.Equal(t, "ffmpeg:camera.kitchen#video=h264#width=1280#height=720", rs.source("camera.kitchen_720p"))
}

func TestResolve_EmbeddedTranscodeFailureFallsThrough(t *testing.T) {
	rs, base := newRelayServer(t, "camera.kitchen")
	rs.failPut = true
	cfg := cardFor(t, "camera.kitchen", base)
	cfg.Transcode = domain.TranscodeAlways

	got, err := newPlanner(nil).Resolve(context.Background(), cfg, domain.PlatformEmbeddedBridge, local)
	require.NoError(t, err)
	assert.Equal(t, ReasonRawStream, got.Reason)
	assert.Equal(t, "camera.kitchen", got.StreamName)
}

func TestResolve_EmbeddedSourceHint(t *testing.T) {
	rs, base := newRelayServer(t)
	host := &fakeHost{entities: map[string]domain.Entity{
		"camera.porch": {EntityID: "camera.porch", Attributes: map[string]any{AttrStreamSource: "rtsp://10.0.0.5/live"}},
	}}
	cfg := cardFor(t, "camera.porch", base)
	cfg.Transcode = domain.TranscodeNever

	got, err := newPlanner(host).Resolve(context.Background(), cfg, domain.PlatformEmbeddedBridge, local)
	require.NoError(t, err)
	assert.Equal(t, ReasonSourceHint, got.Reason)
	assert.Equal(t, "camera.porch", got.Provisioned)
	assert.Equal(t, "rtsp://10.0.0.5/live", rs.source("camera.porch"))
}

func TestResolve_EmbeddedHostFallback(t *testing.T) {
	_, base := newRelayServer(t)
	host := &fakeHost{streamURL: "http://ha.local:8123/api/hls/abc/master_playlist.m3u8"}
	cfg := cardFor(t, "camera.garage", base)
	cfg.Transcode = domain.TranscodeNever

	got, err := newPlanner(host).Resolve(context.Background(), cfg, domain.PlatformEmbeddedBridge, local)
	require.NoError(t, err)
	assert.Equal(t, domain.TransportSegmentedHTTP, got.Transport)
	assert.Equal(t, host.streamURL, got.Locator)
	assert.Equal(t, []string{"camera.garage/hls"}, host.requests)
}

func TestResolve_EmbeddedExhausted(t *testing.T) {
	_, base := newRelayServer(t)
	cfg := cardFor(t, "camera.garage", base)
	cfg.Transcode = domain.TranscodeNever

	_, err := newPlanner(nil).Resolve(context.Background(), cfg, domain.PlatformEmbeddedBridge, local)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrResolutionExhausted)
	assert.True(t, domain.Retryable(err))
}

func TestResolve_BrowserDefaultsToRealtime(t *testing.T) {
	_, base := newRelayServer(t)
	cfg := cardFor(t, "camera.garden", base)

	got, err := newPlanner(nil).Resolve(context.Background(), cfg, domain.PlatformBrowser, local)
	require.NoError(t, err)
	assert.Equal(t, domain.TransportRealtimePeer, got.Transport)
	assert.Equal(t, base+"/api/webrtc?src=camera.garden", got.Locator)
	assert.Equal(t, ReasonDefaultRealtime, got.Reason)
}

func TestResolve_RemoteTunnelUsesHost(t *testing.T) {
	rs, _ := newRelayServer(t)
	host := &fakeHost{streamURL: "https://x.ui.nabu.casa/api/hls/tok/master_playlist.m3u8"}
	cfg := cardFor(t, "camera.front", "")
	remote := domain.NetworkContextFromURL("https://x.ui.nabu.casa/lovelace")
	require.True(t, remote.RemoteTunnel())

	got, err := newPlanner(host).Resolve(context.Background(), cfg, domain.PlatformBrowser, remote)
	require.NoError(t, err)
	assert.Equal(t, domain.TransportSegmentedHTTP, got.Transport)
	assert.Equal(t, ReasonRemoteProxy, got.Reason)
	assert.Equal(t, host.streamURL, got.Locator)
	assert.Zero(t, rs.calls.Load())
}

func TestResolve_CompositeViaRelay(t *testing.T) {
	rs, base := newRelayServer(t)
	target, err := domain.NewStreamTarget("", "", &domain.CompositeSpec{
		Cameras: []string{"camera.a", "camera.b", "camera.c", "camera.d", "camera.e"},
	})
	require.NoError(t, err)
	cfg := domain.CardConfig{Target: target, RelayURL: base}

	got, err := newPlanner(nil).Resolve(context.Background(), cfg, domain.PlatformBrowser, local)
	require.NoError(t, err)
	assert.Equal(t, domain.TransportFragmentedHTTP, got.Transport)
	assert.Equal(t, "dashie_camgrid_a_b_c_d_e", got.StreamName)
	assert.Equal(t, "dashie_camgrid_a_b_c_d_e", got.Provisioned)
	assert.Contains(t, rs.source("dashie_camgrid_a_b_c_d_e"), "exec:ffmpeg")
	assert.Equal(t, int32(1), rs.puts.Load())
}

func TestResolve_CompositeViaTrustedService(t *testing.T) {
	rs, base := newRelayServer(t)
	host := &fakeHost{serviceResp: map[string]any{"success": true}}
	target, err := domain.NewStreamTarget("", "", &domain.CompositeSpec{Cameras: []string{"camera.a", "camera.b"}})
	require.NoError(t, err)
	cfg := domain.CardConfig{Target: target, RelayURL: base}

	got, err := newPlanner(host).Resolve(context.Background(), cfg, domain.PlatformEmbeddedBridge, local)
	require.NoError(t, err)
	assert.Equal(t, ReasonComposite, got.Reason)
	assert.Equal(t, []string{"dashie.provision_camgrid"}, host.services)
	assert.Zero(t, rs.puts.Load())
}

func TestResolve_CompositeProvisioningFailure(t *testing.T) {
	rs, base := newRelayServer(t)
	rs.failPut = true
	target, err := domain.NewStreamTarget("", "", &domain.CompositeSpec{Cameras: []string{"camera.a", "camera.b"}})
	require.NoError(t, err)
	cfg := domain.CardConfig{Target: target, RelayURL: base}

	_, err = newPlanner(nil).Resolve(context.Background(), cfg, domain.PlatformBrowser, local)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrResolutionExhausted)
	assert.ErrorIs(t, err, domain.ErrProvisioning)
}

func TestResolve_OverrideWins(t *testing.T) {
	_, base := newRelayServer(t)
	cfg := cardFor(t, "camera.lobby", base)
	cfg.Protocol = domain.TransportFragmentedByteStream

	p := newPlanner(nil)
	for _, platform := range []domain.Platform{domain.PlatformBrowser, domain.PlatformEmbeddedBridge} {
		got, err := p.Resolve(context.Background(), cfg, platform, local)
		require.NoError(t, err)
		assert.Equal(t, domain.TransportFragmentedByteStream, got.Transport)
		assert.Equal(t, "ws"+base[len("http"):]+"/api/ws?src=camera.lobby", got.Locator)
		assert.Equal(t, ReasonOverride, got.Reason)
	}
}

func TestResolve_BrowserSegmentedOverride(t *testing.T) {
	rs, base := newRelayServer(t)
	cfg := cardFor(t, "camera.kitchen", base)
	cfg.Protocol = domain.TransportSegmentedHTTP

	got, err := newPlanner(nil).Resolve(context.Background(), cfg, domain.PlatformBrowser, local)
	require.NoError(t, err)
	assert.Equal(t, domain.TransportSegmentedHTTP, got.Transport)
	assert.Equal(t, base+"/api/stream.m3u8?src=camera.kitchen", got.Locator)
	assert.Equal(t, ReasonOverride, got.Reason)
	assert.Zero(t, rs.puts.Load(), "an override never provisions")
}

func TestResolve_OverrideNativeOverlay(t *testing.T) {
	cfg := cardFor(t, "camera.lobby", "http://192.168.1.20:1984")
	cfg.Protocol = domain.TransportNativeOverlay

	got, err := newPlanner(nil).Resolve(context.Background(), cfg, domain.PlatformEmbeddedBridge, local)
	require.NoError(t, err)
	assert.Equal(t, "rtsp://192.168.1.20:8554/camera.lobby", got.Locator)
}

func TestResolve_RelayURLFromEntityHint(t *testing.T) {
	_, base := newRelayServer(t)
	host := &fakeHost{entities: map[string]domain.Entity{
		"camera.side": {EntityID: "camera.side", Attributes: map[string]any{AttrRelayURL: base + "/"}},
	}}
	cfg := cardFor(t, "camera.side", "")

	got, err := newPlanner(host).Resolve(context.Background(), cfg, domain.PlatformBrowser, local)
	require.NoError(t, err)
	assert.Equal(t, base+"/api/webrtc?src=camera.side", got.Locator)
}

func TestResolve_NoRelayIsExhausted(t *testing.T) {
	cfg := cardFor(t, "camera.side", "")

	_, err := newPlanner(nil).Resolve(context.Background(), cfg, domain.PlatformBrowser, local)
	assert.ErrorIs(t, err, domain.ErrResolutionExhausted)
}

func TestResolve_ConfigurationErrorBeforeNetwork(t *testing.T) {
	rs, base := newRelayServer(t)
	host := &fakeHost{}
	cfg := domain.CardConfig{RelayURL: base}

	_, err := newPlanner(host).Resolve(context.Background(), cfg, domain.PlatformEmbeddedBridge, local)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.False(t, domain.Retryable(err))
	assert.Zero(t, rs.calls.Load())
	assert.Empty(t, host.requests)
	assert.Empty(t, host.services)
}

func TestResolve_SharedClientCreatesOnce(t *testing.T) {
	rs, base := newRelayServer(t)
	target, err := domain.NewStreamTarget("", "", &domain.CompositeSpec{Cameras: []string{"camera.a", "camera.b"}})
	require.NoError(t, err)
	cfg := domain.CardConfig{Target: target, RelayURL: base}

	p := newPlanner(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Resolve(context.Background(), cfg, domain.PlatformBrowser, local)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), rs.puts.Load())
}
