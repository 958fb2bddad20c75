package relay

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"dashie_cam/native/internal/domain"
)

// RTSPPort is the relay's RTSP server port used by native overlays and
// composite inputs.
const RTSPPort = "8554"

// Locator returns the relay endpoint that serves stream name over the
// given transport.
func Locator(base string, kind domain.TransportKind, name string) (string, error) {
	q := url.Values{}
	q.Set("src", name)

	switch kind {
	case domain.TransportFragmentedHTTP:
		return apiURL(base, "/api/stream.mp4", q), nil
	case domain.TransportSegmentedHTTP:
		return apiURL(base, "/api/stream.m3u8", q), nil
	case domain.TransportRealtimePeer:
		return apiURL(base, "/api/webrtc", q), nil
	case domain.TransportFragmentedByteStream:
		u, err := url.Parse(apiURL(base, "/api/ws", q))
		if err != nil {
			return "", fmt.Errorf("parse relay url: %w", err)
		}
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
		return u.String(), nil
	case domain.TransportNativeOverlay:
		u, err := url.Parse(base)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("parse relay url %q", base)
		}
		return "rtsp://" + net.JoinHostPort(u.Hostname(), RTSPPort) + "/" + url.PathEscape(name), nil
	}
	return "", fmt.Errorf("no relay locator for transport %q", kind)
}

// NormalizeBase trims whitespace and trailing slashes and adds a scheme
// when missing.
func NormalizeBase(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return base
}
