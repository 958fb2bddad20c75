// Package bridge talks to the tablet app's local command API, which exposes
// device capabilities and the native camera overlay compositor.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"dashie_cam/native/internal/domain"
	xlog "dashie_cam/native/internal/log"

	"github.com/rs/zerolog"
)

// DefaultPort is the tablet app's API port.
const DefaultPort = 2323

const (
	cmdDeviceInfo    = "deviceInfo"
	cmdStartOverlay  = "startCameraOverlay"
	cmdUpdateOverlay = "updateCameraOverlay"
	cmdStopOverlay   = "stopCameraOverlay"
	cmdHideAll       = "hideAllCameraOverlays"
	cmdShowAll       = "showAllCameraOverlays"
)

type deviceInfo struct {
	BatteryLevel     int      `json:"batteryLevel"`
	Plugged          bool     `json:"plugged"`
	CPUTemperature   float64  `json:"cpuTemperature"`
	SupportedCodecs  []string `json:"supportedCodecs"`
	DecoderCount     int      `json:"decoderCount"`
	PairingSupported bool     `json:"pairingSupported"`
}

type commandResult struct {
	Status     string `json:"status"`
	StatusText string `json:"statustext"`
}

// Client implements domain.Bridge over HTTP.
type Client struct {
	baseURL  string
	password string
	http     *http.Client
	pairing  atomic.Bool
	log      zerolog.Logger
}

// NewClient creates a bridge client for baseURL, e.g. http://10.0.0.5:2323.
func NewClient(baseURL, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		password: password,
		http:     &http.Client{Timeout: 5 * time.Second},
		log:      xlog.WithComponent("bridge"),
	}
}

// Capabilities queries codec, decoder and telemetry information.
func (c *Client) Capabilities(ctx context.Context) (domain.Capabilities, error) {
	body, err := c.command(ctx, cmdDeviceInfo, nil)
	if err != nil {
		return domain.Capabilities{}, err
	}
	var info deviceInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return domain.Capabilities{}, fmt.Errorf("unmarshal device info: %w", err)
	}
	c.pairing.Store(info.PairingSupported)
	return domain.Capabilities{
		Codecs:          info.SupportedCodecs,
		DecoderCount:    info.DecoderCount,
		TemperatureC:    info.CPUTemperature,
		BatteryLevel:    info.BatteryLevel,
		Plugged:         info.Plugged,
		SupportsPairing: info.PairingSupported,
	}, nil
}

// StartOverlay starts a native overlay for stream id at r.
func (c *Client) StartOverlay(ctx context.Context, id, locator string, r domain.Rect) error {
	q := rectParams(r)
	q.Set("streamId", id)
	q.Set("url", locator)
	return c.run(ctx, cmdStartOverlay, q)
}

// UpdateOverlay moves or resizes the overlay of stream id.
func (c *Client) UpdateOverlay(ctx context.Context, id string, r domain.Rect) error {
	q := rectParams(r)
	q.Set("streamId", id)
	return c.run(ctx, cmdUpdateOverlay, q)
}

// StopOverlay stops the overlay of stream id.
func (c *Client) StopOverlay(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("streamId", id)
	return c.run(ctx, cmdStopOverlay, q)
}

func (c *Client) HideAllOverlays(ctx context.Context) error { return c.run(ctx, cmdHideAll, nil) }
func (c *Client) ShowAllOverlays(ctx context.Context) error { return c.run(ctx, cmdShowAll, nil) }

// SupportsPairing reports the flag from the last capability query.
func (c *Client) SupportsPairing() bool {
	return c.pairing.Load()
}

func (c *Client) run(ctx context.Context, cmd string, q url.Values) error {
	body, err := c.command(ctx, cmd, q)
	if err != nil {
		return err
	}
	var res commandResult
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("%s: unmarshal result: %w", cmd, err)
	}
	if !strings.EqualFold(res.Status, "OK") {
		return fmt.Errorf("%s: %s", cmd, res.StatusText)
	}
	return nil
}

func (c *Client) command(ctx context.Context, cmd string, q url.Values) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("cmd", cmd)
	q.Set("type", "json")
	if c.password != "" {
		q.Set("password", c.password)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", cmd, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: http %d: %s", cmd, resp.StatusCode, string(body))
	}
	c.log.Debug().Str("cmd", cmd).Msg("command sent")
	return body, nil
}

func rectParams(r domain.Rect) url.Values {
	q := url.Values{}
	q.Set("x", strconv.Itoa(int(r.X)))
	q.Set("y", strconv.Itoa(int(r.Y)))
	q.Set("width", strconv.Itoa(int(r.Width)))
	q.Set("height", strconv.Itoa(int(r.Height)))
	return q
}
