package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"dashie_cam/native/internal/bridge"
	"dashie_cam/native/internal/capability"
	"dashie_cam/native/internal/config"
	"dashie_cam/native/internal/domain"
	"dashie_cam/native/internal/host"
	"dashie_cam/native/internal/lifecycle"
	xlog "dashie_cam/native/internal/log"
	"dashie_cam/native/internal/metrics"
	"dashie_cam/native/internal/planner"
	"dashie_cam/native/internal/player"
	"dashie_cam/native/internal/relay"
	"dashie_cam/native/internal/surface"

	"github.com/go-chi/chi/v5"
)

const (
	shutdownTimeout = 10 * time.Second
	connectTimeout  = 15 * time.Second
)

const helpText = `camstream - Play a dashboard camera card headlessly

Usage:
  camstream [options]

The card is resolved against the relay and played with the selected
transport. The media byte stream (Annex B H264 for webrtc, fragmented MP4
or MPEG-TS otherwise) is written to stdout. Logs go to stderr.

Environment Variables:
  CAMSTREAM_CARD          Path to the card YAML (required, watched for changes)
  CAMSTREAM_HOST_URL      Dashboard base URL, e.g. http://homeassistant.local:8123
  CAMSTREAM_HOST_TOKEN    Long-lived access token for the dashboard
  CAMSTREAM_RELAY_URL     Relay base URL (otherwise taken from the card or discovered)
  CAMSTREAM_BRIDGE_URL    Embedded bridge URL, e.g. http://tablet.lan:2323
  CAMSTREAM_BRIDGE_PASSWORD
  CAMSTREAM_USER_AGENT    User agent used for platform detection
  CAMSTREAM_PAGE_URL      Page URL used to classify the network (defaults to host URL)
  CAMSTREAM_METRICS_ADDR  Listen address for /metrics and /healthz
  LOG_LEVEL               debug, info, warn, error

Signals:
  SIGUSR1  page hidden
  SIGUSR2  page visible

Examples:
  # Live playback
  camstream | ffplay -

  # Record to a file
  camstream > lobby.bin

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "camstream: %v\n", err)
		os.Exit(2)
	}
	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Output: os.Stderr, Service: "camstream"})
	logger := xlog.WithComponent("main")

	card, err := config.LoadCard(cfg.CardPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.CardPath).Msg("load card")
	}
	if cfg.RelayURL != "" && card.RelayURL == "" {
		card.RelayURL = cfg.RelayURL
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	met := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, met)
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	var hostPort domain.Host
	if cfg.HostURL != "" {
		hc := host.NewClient(cfg.HostURL, cfg.HostToken)
		cctx, ccancel := context.WithTimeout(ctx, connectTimeout)
		err := hc.Connect(cctx)
		ccancel()
		if err != nil {
			logger.Fatal().Err(err).Str("host", cfg.HostURL).Msg("connect to host")
		}
		defer hc.Close()
		hostPort = hc
	}

	var bridgePort domain.Bridge
	if cfg.BridgeURL != "" {
		bridgePort = bridge.NewClient(cfg.BridgeURL, cfg.BridgePass)
	}

	detector := capability.NewDetector(bridgePort, cfg.UserAgent)
	if bridgePort != nil {
		cctx, ccancel := context.WithTimeout(ctx, connectTimeout)
		caps, err := detector.Capabilities(cctx)
		ccancel()
		if err != nil {
			logger.Warn().Err(err).Msg("bridge capabilities unavailable")
		} else {
			logger.Info().
				Strs("codecs", caps.Codecs).
				Int("decoders", caps.DecoderCount).
				Bool("pairing", caps.SupportsPairing).
				Msg("bridge capabilities")
		}
	}
	rc := relay.NewClient(relay.Options{Metrics: met})
	plan := planner.New(rc, hostPort, planner.WithMetrics(met))

	sink := surface.NewSink(os.Stdout)
	placeholder := surface.NewPlaceholder(domain.Rect{Width: 1280, Height: 720})
	defer placeholder.Close()

	deps := player.Deps{
		Signaler:     rc,
		Bridge:       bridgePort,
		Surface:      sink,
		Layout:       placeholder,
		ReadyTimeout: cfg.ReadyTimeout,
		Metrics:      met,
	}
	newPlayer := func(kind domain.TransportKind) (player.Player, error) {
		h, err := player.New(kind, deps)
		if err != nil {
			return nil, err
		}
		return h, nil
	}

	ctrl := lifecycle.New(card, lifecycle.Deps{
		Resolver:  plan,
		Detector:  detector,
		Network:   domain.NetworkContextFromURL(cfg.PageURL),
		NewPlayer: newPlayer,
	})
	ctrl.Start(ctx)
	go logStatus(ctx, ctrl)

	watcher, err := config.WatchCard(ctx, cfg.CardPath, 0, func(c domain.CardConfig) {
		if cfg.RelayURL != "" && c.RelayURL == "" {
			c.RelayURL = cfg.RelayURL
		}
		ctrl.Reconfigure(c)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("card watcher disabled")
	}

	logger.Info().
		Str(xlog.FieldStream, card.Target.Name()).
		Str(xlog.FieldPlatform, string(detector.Detect())).
		Msg("starting card")
	ctrl.Attach()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	for running := true; running; {
		sig := <-sigCh
		switch sig {
		case syscall.SIGUSR1:
			logger.Info().Msg("page hidden")
			ctrl.SetPageVisible(false)
			overlays(ctx, bridgePort, false)
		case syscall.SIGUSR2:
			logger.Info().Msg("page visible")
			overlays(ctx, bridgePort, true)
			ctrl.SetPageVisible(true)
		default:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			running = false
		}
	}

	ctrl.Detach()
	ctrl.Close()
	cancel()
	if watcher != nil {
		watcher.Wait()
	}
	logger.Info().Msg("done")
}

func serveMetrics(addr string, met *metrics.Metrics) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", met.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger := xlog.WithComponent("metrics")
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

// overlays hides or shows every native overlay on the tablet along with
// the page.
func overlays(ctx context.Context, b domain.Bridge, visible bool) {
	if b == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	if visible {
		err = b.ShowAllOverlays(ctx)
	} else {
		err = b.HideAllOverlays(ctx)
	}
	if err != nil {
		logger := xlog.WithComponent("main")
		logger.Warn().Err(err).Bool("visible", visible).Msg("overlay visibility")
	}
}

func logStatus(ctx context.Context, ctrl *lifecycle.Controller) {
	logger := xlog.WithComponent("main")
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-ctrl.Updates():
			ev := logger.Info().Str("phase", string(st.Phase))
			if st.Resolved.Transport != "" {
				ev = ev.Str(xlog.FieldTransport, string(st.Resolved.Transport)).
					Str(xlog.FieldReason, st.Resolved.Reason)
			}
			if st.Err != nil {
				ev = ev.Err(st.Err).Bool("retryable", st.Retryable)
			}
			ev.Msg("card status")
		}
	}
}
