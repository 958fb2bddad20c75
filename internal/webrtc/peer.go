// Package webrtc is the receive-only peer connection used by the real-time
// transport: offer/answer against the relay's signaling endpoint and H264
// extraction into an Annex B byte stream.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"dashie_cam/native/internal/domain"
	xlog "dashie_cam/native/internal/log"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const (
	defaultGatherTimeout   = 2 * time.Second
	defaultDisconnectGrace = 5 * time.Second
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

var (
	// ErrConnectionFailed is reported when ICE or DTLS gives up.
	ErrConnectionFailed = errors.New("peer connection failed")
	// ErrDisconnected is reported when the connection stays disconnected
	// for longer than the disconnect grace.
	ErrDisconnected = errors.New("peer connection disconnected")
	// ErrConnectionClosed is reported when the connection closes without
	// a local Close.
	ErrConnectionClosed = errors.New("peer connection closed by remote")
)

// Signaler exchanges a local offer for the remote answer.
type Signaler interface {
	ExchangeSDP(ctx context.Context, locator string, offer domain.SDPPayload) (domain.SDPPayload, error)
}

// Config configures a Session.
type Config struct {
	ICEServers      []string
	GatherTimeout   time.Duration
	DisconnectGrace time.Duration
	LoggerFactory   logging.LoggerFactory
}

// Session wraps a pion PeerConnection with recvonly video and audio.
type Session struct {
	pc  *pion.PeerConnection
	log zerolog.Logger

	mu     sync.Mutex
	closed bool
	grace  *time.Timer
	wg     sync.WaitGroup

	gatherTimeout   time.Duration
	disconnectGrace time.Duration
	firstMedia      chan struct{}
	firstOnce       sync.Once
	failed          chan error
}

// NewSession creates the peer connection. Nothing is sent until Connect.
func NewSession(cfg Config) (*Session, error) {
	m := &pion.MediaEngine{}
	for _, c := range []struct {
		params pion.RTPCodecParameters
		kind   pion.RTPCodecType
	}{
		{h264Codec(102, "42e01f"), pion.RTPCodecTypeVideo},
		{h264Codec(112, "640c1f"), pion.RTPCodecTypeVideo},
		{pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			PayloadType:        111,
		}, pion.RTPCodecTypeAudio},
		{pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypePCMU, ClockRate: 8000, Channels: 1},
			PayloadType:        0,
		}, pion.RTPCodecTypeAudio},
	} {
		if err := m.RegisterCodec(c.params, c.kind); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.params.MimeType, err)
		}
	}

	i := &interceptor.Registry{}
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)
	if err := pion.ConfigureRTCPReports(i); err != nil {
		return nil, fmt.Errorf("configure rtcp reports: %w", err)
	}

	se := pion.SettingEngine{}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	} else {
		se.LoggerFactory = xlog.NewPionFactory()
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	)

	var servers []pion.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = append(servers, pion.ICEServer{URLs: cfg.ICEServers})
	}
	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeVideo, pion.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = defaultGatherTimeout
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = defaultDisconnectGrace
	}
	s := &Session{
		pc:              pc,
		log:             xlog.WithComponent("webrtc"),
		gatherTimeout:   cfg.GatherTimeout,
		disconnectGrace: cfg.DisconnectGrace,
		firstMedia:      make(chan struct{}),
		failed:          make(chan error, 1),
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		s.log.Debug().Str("ice_state", state.String()).Msg("ice state changed")
	})
	pc.OnConnectionStateChange(s.onState)
	return s, nil
}

// onState turns connection state changes into a single loss report.
// Disconnected is only reported if no recovery happens within the grace;
// Closed is only reported when Close was not called locally.
func (s *Session) onState(state pion.PeerConnectionState) {
	s.log.Debug().Str("pc_state", state.String()).Msg("peer connection state changed")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if state != pion.PeerConnectionStateDisconnected && s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}

	switch state {
	case pion.PeerConnectionStateFailed:
		s.report(ErrConnectionFailed)
	case pion.PeerConnectionStateClosed:
		s.report(ErrConnectionClosed)
	case pion.PeerConnectionStateDisconnected:
		if s.grace != nil {
			return
		}
		var t *time.Timer
		t = time.AfterFunc(s.disconnectGrace, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closed || s.grace != t {
				return
			}
			s.grace = nil
			s.log.Warn().Dur("grace", s.disconnectGrace).Msg("peer connection did not recover")
			s.report(ErrDisconnected)
		})
		s.grace = t
	}
}

// report must be called with mu held.
func (s *Session) report(err error) {
	select {
	case s.failed <- err:
	default:
	}
}

func h264Codec(pt pion.PayloadType, profile string) pion.RTPCodecParameters {
	return pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=" + profile,
		},
		PayloadType: pt,
	}
}

// Connect performs the offer/answer exchange. Candidates are gathered for
// at most the gather timeout before the offer is sent. Video is written to
// video as Annex B; audio is drained.
func (s *Session) Connect(ctx context.Context, sig Signaler, locator string, video io.Writer) error {
	s.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()

		codec := track.Codec()
		s.log.Info().
			Str("kind", track.Kind().String()).
			Str("codec", codec.MimeType).
			Msg("track received")

		go func() {
			defer s.wg.Done()
			if track.Kind() == pion.RTPCodecTypeVideo {
				s.readVideo(track, video)
				return
			}
			drain(track)
		}()
	})

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gathered := pion.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	timer := time.NewTimer(s.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		s.log.Debug().Msg("candidate gathering timed out, sending partial offer")
	case <-ctx.Done():
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	local := s.pc.LocalDescription()
	answer, err := sig.ExchangeSDP(ctx, locator, domain.SDPPayload{Type: "offer", SDP: local.SDP})
	if err != nil {
		return fmt.Errorf("exchange sdp: %w", err)
	}
	if err := s.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// FirstMedia is closed once the first video NAL unit has been written.
func (s *Session) FirstMedia() <-chan struct{} {
	return s.firstMedia
}

// Failed delivers ErrConnectionFailed, ErrDisconnected or
// ErrConnectionClosed when the connection is lost. At most one loss is
// buffered.
func (s *Session) Failed() <-chan error {
	return s.failed
}

func (s *Session) readVideo(track *pion.TrackRemote, w io.Writer) {
	depack := NewH264Depacketizer()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.log.Debug().Err(err).Msg("video track ended")
			return
		}

		for _, nalu := range depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
			if len(nalu) == 0 {
				continue
			}
			if _, err := w.Write(append(append([]byte{}, startCode...), nalu...)); err != nil {
				s.log.Debug().Err(err).Msg("video sink closed")
				return
			}
			s.firstOnce.Do(func() { close(s.firstMedia) })
		}
	}
}

func drain(track *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// Close tears down the connection and waits for the track readers.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	s.mu.Unlock()

	// stopping the transceivers releases the receivers' decoder claims
	for _, tr := range s.pc.GetTransceivers() {
		if err := tr.Stop(); err != nil {
			s.log.Debug().Err(err).Msg("transceiver stop failed")
		}
	}
	err := s.pc.Close()
	s.wg.Wait()
	return err
}
