package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	xlog "dashie_cam/native/internal/log"
)

// WellKnownEndpoints are probed, in order, when no relay address is
// configured: standalone installs, the add-on container and Frigate's
// bundled relay.
var WellKnownEndpoints = []string{
	"http://localhost:1984",
	"http://127.0.0.1:1984",
	"http://ccab4aaf-go2rtc:1984",
	"http://addon_ccab4aaf_go2rtc:1984",
	"http://ccab4aaf-frigate:1984",
	"http://frigate:1984",
	"http://homeassistant.local:1984",
}

const probeTimeout = 2 * time.Second

// ErrNotFound is returned by Discover when no candidate answered.
var ErrNotFound = errors.New("relay not found")

// Discover probes custom first, then candidates, with GET /api and returns
// the first base URL answering 200.
func (c *Client) Discover(ctx context.Context, custom string, candidates []string) (string, error) {
	var endpoints []string
	if custom != "" {
		endpoints = append(endpoints, NormalizeBase(custom))
	}
	endpoints = append(endpoints, candidates...)

	for _, base := range endpoints {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if c.probe(ctx, base) {
			c.log.Info().Str(xlog.FieldRelay, base).Msg("relay found")
			return base, nil
		}
	}
	c.log.Warn().Int("candidates", len(endpoints)).Msg("relay not found at any known endpoint")
	return "", ErrNotFound
}

func (c *Client) probe(ctx context.Context, base string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL(base, "/api", nil), nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
