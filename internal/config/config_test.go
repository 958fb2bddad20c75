package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dashie_cam/native/internal/domain"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noDotEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad(t *testing.T) {
	t.Setenv("CAMSTREAM_CARD", "/etc/camstream/lobby.yaml")
	t.Setenv("CAMSTREAM_HOST_URL", "http://homeassistant.local:8123")
	t.Setenv("CAMSTREAM_HOST_TOKEN", "llat")
	t.Setenv("CAMSTREAM_READY_TIMEOUT", "20")
	t.Setenv("CAMSTREAM_PAGE_URL", "")

	cfg, err := Load(noDotEnv(t))
	require.NoError(t, err)
	assert.Equal(t, "/etc/camstream/lobby.yaml", cfg.CardPath)
	assert.Equal(t, "http://homeassistant.local:8123", cfg.PageURL, "page defaults to the host")
	assert.Equal(t, 20*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, "camstream", cfg.UserAgent)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("CAMSTREAM_CARD", "")
	_, err := Load(noDotEnv(t))
	assert.ErrorContains(t, err, "CAMSTREAM_CARD")

	t.Setenv("CAMSTREAM_CARD", "card.yaml")
	t.Setenv("CAMSTREAM_HOST_URL", "http://ha:8123")
	t.Setenv("CAMSTREAM_HOST_TOKEN", "")
	_, err = Load(noDotEnv(t))
	assert.ErrorContains(t, err, "CAMSTREAM_HOST_TOKEN")
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CAMSTREAM_RELAY_URL=http://relay:1984\n"), 0o600))
	t.Setenv("CAMSTREAM_CARD", "card.yaml")
	t.Setenv("CAMSTREAM_HOST_URL", "")
	// restored on cleanup
	t.Setenv("CAMSTREAM_RELAY_URL", "")
	require.NoError(t, os.Unsetenv("CAMSTREAM_RELAY_URL"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://relay:1984", cfg.RelayURL)
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DUR", "1500ms")
	assert.Equal(t, 1500*time.Millisecond, GetEnvDuration("X_DUR", time.Second))
	t.Setenv("X_DUR", "3")
	assert.Equal(t, 3*time.Second, GetEnvDuration("X_DUR", time.Second))
	t.Setenv("X_DUR", "soon")
	assert.Equal(t, time.Second, GetEnvDuration("X_DUR", time.Second))
}

func TestParseCard(t *testing.T) {
	card, err := ParseCard([]byte(`
entity: camera.lobby
relay_url: http://192.168.1.20:1984
protocol: mse
transcode: never
`))
	require.NoError(t, err)
	want := domain.CardConfig{
		Target:    domain.StreamTarget{EntityID: "camera.lobby"},
		RelayURL:  "http://192.168.1.20:1984",
		Protocol:  domain.TransportFragmentedByteStream,
		Transcode: domain.TranscodeNever,
	}
	if diff := cmp.Diff(want, card); diff != "" {
		t.Errorf("card mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCard_Composite(t *testing.T) {
	card, err := ParseCard([]byte(`
cameras: [camera.front, camera.back, camera.garage]
grid: 2x2
`))
	require.NoError(t, err)
	require.True(t, card.Target.IsComposite())
	assert.Equal(t, "dashie_camgrid_front_back_garage", card.Target.Name())
	assert.Equal(t, domain.DefaultCompositeFPS, card.Target.Composite.FPS)
	assert.Equal(t, domain.TranscodeAuto, card.Transcode)
	assert.Empty(t, card.Protocol)
}

func TestParseCard_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"no target":      "protocol: hls\n",
		"bad protocol":   "entity: camera.a\nprotocol: rtmp\n",
		"bad transcode":  "entity: camera.a\ntranscode: sometimes\n",
		"unknown key":    "entity: camera.a\nentitiy: camera.b\n",
		"empty document": "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCard([]byte(body))
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestWatchCard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "card.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entity: camera.lobby\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan domain.CardConfig, 4)
	w, err := WatchCard(ctx, path, 20*time.Millisecond, func(c domain.CardConfig) { changes <- c })
	require.NoError(t, err)
	defer func() {
		cancel()
		w.Wait()
	}()

	// an invalid edit keeps the previous card
	require.NoError(t, os.WriteFile(path, []byte("protocol: rtmp\n"), 0o600))
	select {
	case c := <-changes:
		t.Fatalf("invalid card delivered: %+v", c)
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("entity: camera.garage\n"), 0o600))
	select {
	case c := <-changes:
		assert.Equal(t, "camera.garage", c.Target.Name())
	case <-time.After(2 * time.Second):
		t.Fatal("card change not delivered")
	}
}
