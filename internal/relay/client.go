// Package relay talks to the remote media relay's HTTP API: stream
// registry queries, idempotent stream provisioning and SDP exchange.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dashie_cam/native/internal/domain"
	xlog "dashie_cam/native/internal/log"
	"dashie_cam/native/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout        = 5 * time.Second
	defaultCreateTimeout  = 10 * time.Second
	defaultRateLimit      = 10
	defaultRateLimitBurst = 20
)

// CreateFunc performs the actual stream creation for ProvisionWith.
type CreateFunc func(ctx context.Context) error

// Options configures a Client.
type Options struct {
	HTTPClient     *http.Client
	Timeout        time.Duration
	CreateTimeout  time.Duration
	CacheTTL       time.Duration
	RateLimit      rate.Limit
	RateLimitBurst int
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Client is the relay provisioning client. One Client is meant to be shared
// by every card of a process so its cache guards against duplicate creation.
type Client struct {
	http          *http.Client
	timeout       time.Duration
	createTimeout time.Duration
	limiter       *rate.Limiter
	exists        *existenceCache
	created       *existenceCache
	flight        singleflight.Group
	metrics       *metrics.Metrics
	log           zerolog.Logger
}

// NewClient creates a relay client.
func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = defaultCreateTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	return &Client{
		http:          opts.HTTPClient,
		timeout:       opts.Timeout,
		createTimeout: opts.CreateTimeout,
		limiter:       rate.NewLimiter(opts.RateLimit, opts.RateLimitBurst),
		exists:        newExistenceCache(opts.CacheTTL, opts.Now),
		created:       newExistenceCache(opts.CacheTTL, opts.Now),
		metrics:       opts.Metrics,
		log:           xlog.WithComponent("relay"),
	}
}

// CacheStats returns existence cache counters.
func (c *Client) CacheStats() CacheStats {
	return c.exists.snapshot()
}

// Streams returns the relay's stream registry keyed by stream name.
func (c *Client) Streams(ctx context.Context, base string) (map[string]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.do(ctx, http.MethodGet, apiURL(base, "/api/streams", nil), nil, "")
	if err != nil {
		return nil, err
	}

	streams := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(body)) == 0 {
		return streams, nil
	}
	if err := json.Unmarshal(body, &streams); err != nil {
		return nil, fmt.Errorf("unmarshal streams: %w", err)
	}
	for name := range streams {
		c.exists.set(cacheKey(base, name), true)
	}
	return streams, nil
}

// Exists reports whether name is registered on the relay. Any failure
// yields false: "not confirmed" sends the planner to provisioning or
// fallback. Cached negatives are never trusted.
func (c *Client) Exists(ctx context.Context, base, name string) bool {
	if ok, found := c.exists.get(cacheKey(base, name)); found && ok {
		return true
	}

	streams, err := c.Streams(ctx, base)
	if err != nil {
		c.log.Warn().Err(err).
			Str(xlog.FieldRelay, base).
			Str(xlog.FieldStream, name).
			Msg("existence check failed")
		return false
	}
	_, ok := streams[name]
	if !ok {
		c.exists.set(cacheKey(base, name), false)
	}
	return ok
}

// Provision makes sure name exists on the relay, creating it from src with
// a PUT when it does not. It reports whether a creation call was issued.
func (c *Client) Provision(ctx context.Context, base, name, src string) (bool, error) {
	return c.ProvisionWith(ctx, base, name, func(ctx context.Context) error {
		return c.Create(ctx, base, name, src)
	})
}

// Create registers name with source src unconditionally. Callers wanting
// idempotence go through Provision.
func (c *Client) Create(ctx context.Context, base, name, src string) error {
	q := url.Values{}
	q.Set("name", name)
	q.Set("src", src)
	_, err := c.do(ctx, http.MethodPut, apiURL(base, "/api/streams", q), nil, "")
	return err
}

// ProvisionWith is Provision with a caller-supplied creation step, used when
// creation must run through a trusted producer. Existence is always checked
// first, concurrent calls for the same stream share one attempt, and a
// stream created within the cache TTL is never created again. The shared
// attempt is detached from any one caller's cancellation; each caller stops
// waiting when its own ctx ends.
func (c *Client) ProvisionWith(ctx context.Context, base, name string, create CreateFunc) (bool, error) {
	key := cacheKey(base, name)
	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		ctx := shared
		if done, found := c.created.get(key); found && done {
			c.metrics.IncProvision("reused")
			return false, nil
		}
		if c.Exists(ctx, base, name) {
			c.log.Debug().Str(xlog.FieldStream, name).Msg("stream already registered")
			c.metrics.IncProvision("reused")
			return false, nil
		}

		cctx, cancel := context.WithTimeout(ctx, c.createTimeout)
		defer cancel()
		if err := create(cctx); err != nil {
			c.metrics.IncProvision("failed")
			return false, domain.NewError(domain.ErrProvisioning, "relay.provision "+name, err)
		}

		c.exists.invalidate(key)
		c.created.set(key, true)
		c.metrics.IncProvision("created")
		c.log.Info().
			Str(xlog.FieldRelay, base).
			Str(xlog.FieldStream, name).
			Msg("stream provisioned")
		return true, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, domain.NewError(domain.ErrProvisioning, "relay.provision "+name, ctx.Err())
	}
}

// ExchangeSDP posts a local session description to the relay's signaling
// endpoint and returns the answer.
func (c *Client) ExchangeSDP(ctx context.Context, locator string, offer domain.SDPPayload) (domain.SDPPayload, error) {
	body, err := json.Marshal(offer)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("marshal offer: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, locator, body, "application/json")
	if err != nil {
		return domain.SDPPayload{}, err
	}

	var answer domain.SDPPayload
	if err := json.Unmarshal(respBody, &answer); err != nil {
		// Some relay builds answer with a bare SDP body.
		if s := string(respBody); strings.HasPrefix(s, "v=0") {
			return domain.SDPPayload{Type: "answer", SDP: s}, nil
		}
		return domain.SDPPayload{}, fmt.Errorf("unmarshal answer: %w", err)
	}
	if answer.SDP == "" {
		return domain.SDPPayload{}, fmt.Errorf("empty answer from relay")
	}
	return answer, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, contentType string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

func apiURL(base, path string, q url.Values) string {
	u := strings.TrimRight(base, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}
