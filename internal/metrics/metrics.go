// Package metrics holds the Prometheus collectors of the streaming client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry       *prometheus.Registry
	resolutions    *prometheus.CounterVec
	provisionCalls *prometheus.CounterVec
	playersLive    prometheus.Gauge
	playerErrors   *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camstream_resolutions_total",
		Help: "Stream resolutions by selected transport and decision reason",
	}, []string{"transport", "reason"})
	provisionCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camstream_provision_calls_total",
		Help: "Relay provisioning attempts by result (reused, created, failed)",
	}, []string{"result"})
	playersLive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camstream_players_live",
		Help: "Players currently holding native resources",
	})
	playerErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camstream_player_errors_total",
		Help: "Unrecovered player errors by transport",
	}, []string{"transport"})

	registry.MustRegister(resolutions, provisionCalls, playersLive, playerErrors)

	return &Metrics{
		registry:       registry,
		resolutions:    resolutions,
		provisionCalls: provisionCalls,
		playersLive:    playersLive,
		playerErrors:   playerErrors,
	}
}

// IncResolution counts one planner result.
func (m *Metrics) IncResolution(transport, reason string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(transport, reason).Inc()
}

// IncProvision counts one provisioning outcome.
func (m *Metrics) IncProvision(result string) {
	if m == nil {
		return
	}
	m.provisionCalls.WithLabelValues(result).Inc()
}

// PlayerCreated increments the live player gauge.
func (m *Metrics) PlayerCreated() {
	if m == nil {
		return
	}
	m.playersLive.Inc()
}

// PlayerDestroyed decrements the live player gauge.
func (m *Metrics) PlayerDestroyed() {
	if m == nil {
		return
	}
	m.playersLive.Dec()
}

// IncPlayerError counts an unrecovered player error.
func (m *Metrics) IncPlayerError(transport string) {
	if m == nil {
		return
	}
	m.playerErrors.WithLabelValues(transport).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
