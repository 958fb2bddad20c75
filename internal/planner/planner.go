// Package planner decides how a card plays its stream: which transport,
// which locator, and which relay streams must be provisioned first.
package planner

import (
	"context"
	"errors"
	"fmt"

	"dashie_cam/native/internal/domain"
	xlog "dashie_cam/native/internal/log"
	"dashie_cam/native/internal/metrics"
	"dashie_cam/native/internal/relay"

	"github.com/rs/zerolog"
)

// Reasons recorded on every ResolvedStreamConfig.
const (
	ReasonOverride        = "protocol_override"
	ReasonComposite       = "composite"
	ReasonRemoteProxy     = "remote_host_proxy"
	ReasonTranscode       = "embedded_transcode"
	ReasonRawStream       = "embedded_raw_stream"
	ReasonSourceHint      = "embedded_source_hint"
	ReasonEmbeddedProxy   = "embedded_host_proxy"
	ReasonDefaultRealtime = "default_webrtc"
)

// Entity attributes read opportunistically from the host.
const (
	AttrRelayURL     = "go2rtc_url"
	AttrStreamSource = "stream_source"
)

// Host service creating composite streams with trusted-producer rights.
const (
	compositeServiceDomain = "dashie"
	compositeService       = "provision_camgrid"
)

// hostStreamFormat is the format requested from the host's proxied channel.
const hostStreamFormat = "hls"

// Relay is the provisioning client the planner drives.
type Relay interface {
	Exists(ctx context.Context, base, name string) bool
	Provision(ctx context.Context, base, name, src string) (bool, error)
	ProvisionWith(ctx context.Context, base, name string, create relay.CreateFunc) (bool, error)
	Create(ctx context.Context, base, name, src string) error
	Discover(ctx context.Context, custom string, candidates []string) (string, error)
}

// Option configures a Planner.
type Option func(*Planner)

// WithDiscovery sets the endpoints probed when no relay address is known.
// nil disables discovery.
func WithDiscovery(candidates []string) Option {
	return func(p *Planner) { p.candidates = candidates }
}

// WithMetrics records resolutions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Planner) { p.metrics = m }
}

// Planner resolves card configurations. It keeps no state of its own; the
// provisioning cache lives in the relay client.
type Planner struct {
	relay      Relay
	host       domain.Host
	candidates []string
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// New creates a planner. host may be nil when the card runs outside a
// dashboard host.
func New(r Relay, host domain.Host, opts ...Option) *Planner {
	p := &Planner{
		relay:      r,
		host:       host,
		candidates: relay.WellKnownEndpoints,
		log:        xlog.WithComponent("planner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// resolution carries per-call lazily fetched context.
type resolution struct {
	cfg      domain.CardConfig
	platform domain.Platform
	network  domain.NetworkContext
	name     string

	entity       *domain.Entity
	base         string
	baseResolved bool
	baseErr      error
}

// Resolve runs the decision chain. The first matching branch wins:
// explicit override, composite, remote tunnel, embedded transcode,
// embedded raw stream, then the real-time default.
func (p *Planner) Resolve(ctx context.Context, cfg domain.CardConfig, platform domain.Platform, nc domain.NetworkContext) (domain.ResolvedStreamConfig, error) {
	if err := cfg.Target.Validate(); err != nil {
		return domain.ResolvedStreamConfig{}, err
	}

	r := &resolution{cfg: cfg, platform: platform, network: nc, name: cfg.Target.Name()}
	out, err := p.resolve(ctx, r)
	if err != nil {
		p.log.Warn().Err(err).
			Str(xlog.FieldStream, r.name).
			Str(xlog.FieldPlatform, string(platform)).
			Msg("resolution failed")
		return domain.ResolvedStreamConfig{}, err
	}

	p.metrics.IncResolution(string(out.Transport), out.Reason)
	p.log.Info().
		Str(xlog.FieldStream, out.StreamName).
		Str(xlog.FieldTransport, string(out.Transport)).
		Str(xlog.FieldLocator, out.Locator).
		Str(xlog.FieldReason, out.Reason).
		Msg("stream resolved")
	return out, nil
}

func (p *Planner) resolve(ctx context.Context, r *resolution) (domain.ResolvedStreamConfig, error) {
	target := r.cfg.Target

	if r.cfg.Protocol != "" {
		return p.override(ctx, r)
	}

	if target.IsComposite() {
		base, err := p.relayBase(ctx, r)
		if err != nil {
			return exhausted("composite", err)
		}
		if err := p.provisionComposite(ctx, base, *target.Composite); err != nil {
			return exhausted("composite", err)
		}
		return p.relayResult(base, domain.TransportFragmentedHTTP, r.name, r.name, ReasonComposite)
	}

	if r.network.RemoteTunnel() && r.cfg.RelayURL == "" && target.EntityID != "" && p.host != nil {
		return p.hostProxy(ctx, r, ReasonRemoteProxy)
	}

	base, baseErr := p.relayBase(ctx, r)

	if r.platform == domain.PlatformEmbeddedBridge {
		if base != "" && r.cfg.TranscodeRequested(r.platform) {
			w, h := r.cfg.TranscodeSize()
			derived := relay.DerivedName(r.name, h)
			_, err := p.relay.Provision(ctx, base, derived, relay.DerivedSource(r.name, w, h))
			if err == nil {
				return p.relayResult(base, domain.TransportFragmentedHTTP, derived, derived, ReasonTranscode)
			}
			p.log.Warn().Err(err).Str(xlog.FieldStream, derived).Msg("transcode provisioning failed, falling through")
		}

		if base != "" {
			if p.relay.Exists(ctx, base, r.name) {
				return p.relayResult(base, domain.TransportFragmentedHTTP, r.name, "", ReasonRawStream)
			}
			if src := p.entityAttr(ctx, r, AttrStreamSource); src != "" {
				_, err := p.relay.Provision(ctx, base, r.name, src)
				if err == nil {
					return p.relayResult(base, domain.TransportFragmentedHTTP, r.name, r.name, ReasonSourceHint)
				}
				p.log.Warn().Err(err).Str(xlog.FieldStream, r.name).Msg("source hint provisioning failed")
			}
		}

		if target.EntityID != "" && p.host != nil {
			return p.hostProxy(ctx, r, ReasonEmbeddedProxy)
		}
		if baseErr != nil {
			return exhausted("embedded", baseErr)
		}
		return exhausted("embedded", fmt.Errorf("stream %s is not on the relay and no host channel is available", r.name))
	}

	if baseErr != nil {
		return exhausted("default", baseErr)
	}
	return p.relayResult(base, domain.TransportRealtimePeer, r.name, "", ReasonDefaultRealtime)
}

// override honours a pinned transport regardless of platform defaults.
func (p *Planner) override(ctx context.Context, r *resolution) (domain.ResolvedStreamConfig, error) {
	base, err := p.relayBase(ctx, r)
	if err != nil {
		return exhausted("override", err)
	}
	provisioned := ""
	if r.cfg.Target.IsComposite() {
		if err := p.provisionComposite(ctx, base, *r.cfg.Target.Composite); err != nil {
			return exhausted("override", err)
		}
		provisioned = r.name
	}
	return p.relayResult(base, r.cfg.Protocol, r.name, provisioned, ReasonOverride)
}

func (p *Planner) hostProxy(ctx context.Context, r *resolution, reason string) (domain.ResolvedStreamConfig, error) {
	loc, err := p.host.RequestStream(ctx, r.cfg.Target.EntityID, hostStreamFormat)
	if err != nil {
		return exhausted("host_proxy", err)
	}
	return domain.ResolvedStreamConfig{
		Transport:  domain.TransportSegmentedHTTP,
		Locator:    loc,
		StreamName: r.name,
		Reason:     reason,
	}, nil
}

func (p *Planner) relayResult(base string, kind domain.TransportKind, name, provisioned, reason string) (domain.ResolvedStreamConfig, error) {
	loc, err := relay.Locator(base, kind, name)
	if err != nil {
		return domain.ResolvedStreamConfig{}, domain.NewError(domain.ErrConfiguration, "planner.locator", err)
	}
	return domain.ResolvedStreamConfig{
		Transport:   kind,
		Locator:     loc,
		StreamName:  name,
		Provisioned: provisioned,
		Reason:      reason,
	}, nil
}

// provisionComposite creates the grid stream, preferring the host's trusted
// service and falling back to a direct relay call.
func (p *Planner) provisionComposite(ctx context.Context, base string, spec domain.CompositeSpec) error {
	spec = spec.WithDefaults()
	name := spec.StreamName()
	src, err := relay.CompositeSource(spec)
	if err != nil {
		return domain.NewError(domain.ErrConfiguration, "planner.composite", err)
	}

	_, err = p.relay.ProvisionWith(ctx, base, name, func(ctx context.Context) error {
		if p.host != nil {
			err := p.trustedComposite(ctx, name, spec)
			if err == nil {
				return nil
			}
			p.log.Warn().Err(err).Str(xlog.FieldStream, name).Msg("trusted composite provisioning failed, trying relay directly")
		}
		return p.relay.Create(ctx, base, name, src)
	})
	return err
}

func (p *Planner) trustedComposite(ctx context.Context, name string, spec domain.CompositeSpec) error {
	resp, err := p.host.CallService(ctx, compositeServiceDomain, compositeService, map[string]any{
		"cameras":     spec.Cameras,
		"grid":        spec.Grid,
		"fps":         spec.FPS,
		"quality":     spec.Quality,
		"stream_name": name,
	})
	if err != nil {
		return err
	}
	if ok, _ := resp["success"].(bool); !ok {
		msg, _ := resp["error"].(string)
		return fmt.Errorf("provision_camgrid: %s", msg)
	}
	return nil
}

// relayBase resolves the relay address: configuration, then the entity's
// hint attribute, then discovery. The answer is memoized per resolution.
func (p *Planner) relayBase(ctx context.Context, r *resolution) (string, error) {
	if r.baseResolved {
		return r.base, r.baseErr
	}
	r.baseResolved = true

	switch {
	case r.cfg.RelayURL != "":
		r.base = relay.NormalizeBase(r.cfg.RelayURL)
	case p.entityAttr(ctx, r, AttrRelayURL) != "":
		r.base = relay.NormalizeBase(p.entityAttr(ctx, r, AttrRelayURL))
	case len(p.candidates) > 0:
		r.base, r.baseErr = p.relay.Discover(ctx, "", p.candidates)
	default:
		r.baseErr = errors.New("no relay address configured")
	}
	return r.base, r.baseErr
}

func (p *Planner) entityAttr(ctx context.Context, r *resolution, key string) string {
	if r.cfg.Target.EntityID == "" || p.host == nil {
		return ""
	}
	if r.entity == nil {
		e, err := p.host.Entity(ctx, r.cfg.Target.EntityID)
		if err != nil {
			p.log.Debug().Err(err).Str(xlog.FieldEntityID, r.cfg.Target.EntityID).Msg("entity lookup failed")
		}
		r.entity = &e
	}
	return r.entity.Attr(key)
}

func exhausted(branch string, err error) (domain.ResolvedStreamConfig, error) {
	if errors.Is(err, domain.ErrConfiguration) {
		return domain.ResolvedStreamConfig{}, err
	}
	return domain.ResolvedStreamConfig{}, domain.NewError(domain.ErrResolutionExhausted, "planner."+branch, err)
}
