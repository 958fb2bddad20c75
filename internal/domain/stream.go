package domain

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// TransportKind is the media transport a player uses.
type TransportKind string

const (
	TransportRealtimePeer         TransportKind = "webrtc"
	TransportSegmentedHTTP        TransportKind = "hls"
	TransportFragmentedHTTP       TransportKind = "mp4"
	TransportFragmentedByteStream TransportKind = "mse"
	TransportNativeOverlay        TransportKind = "native"
)

// ParseTransportKind accepts the canonical names and a few common aliases.
// An empty string yields an empty kind (auto).
func ParseTransportKind(s string) (TransportKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", nil
	case "webrtc", "real-time-peer", "rtc":
		return TransportRealtimePeer, nil
	case "hls", "segmented-http", "m3u8":
		return TransportSegmentedHTTP, nil
	case "mp4", "fragmented-http", "fmp4":
		return TransportFragmentedHTTP, nil
	case "mse", "ws", "fragmented-bytestream":
		return TransportFragmentedByteStream, nil
	case "native", "native-overlay", "overlay":
		return TransportNativeOverlay, nil
	}
	return "", NewError(ErrConfiguration, "protocol.parse", fmt.Errorf("unknown protocol %q", s))
}

// Platform classifies the runtime hosting the card.
type Platform string

const (
	PlatformEmbeddedBridge Platform = "embedded-bridge"
	PlatformBrowser        Platform = "generic-browser"
)

// NetworkContext describes how the client reached the dashboard.
type NetworkContext struct {
	HostURL string
	Secure  bool
	Remote  bool
}

// RemoteTunnel reports access over an encrypted path from outside the
// local network, where the relay is usually unreachable.
func (n NetworkContext) RemoteTunnel() bool {
	return n.Secure && n.Remote
}

// NetworkContextFromURL classifies the dashboard page URL. Loopback,
// private, link-local addresses and mDNS/.lan names count as local.
func NetworkContextFromURL(raw string) NetworkContext {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return NetworkContext{HostURL: raw}
	}
	nc := NetworkContext{
		HostURL: raw,
		Secure:  u.Scheme == "https" || u.Scheme == "wss",
	}
	nc.Remote = !isLocalHost(u.Hostname())
	return nc
}

func isLocalHost(host string) bool {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
	}
	return host == "localhost" ||
		strings.HasSuffix(host, ".local") ||
		strings.HasSuffix(host, ".lan") ||
		!strings.Contains(host, ".")
}

// ResolvedStreamConfig is the planner's immutable output.
type ResolvedStreamConfig struct {
	Transport   TransportKind
	Locator     string
	StreamName  string
	Provisioned string // relay stream created or reused by provisioning, if any
	Reason      string
}

func (r ResolvedStreamConfig) String() string {
	return fmt.Sprintf("%s %s (%s)", r.Transport, r.Locator, r.Reason)
}

// VisibilityState tracks the two visibility signals of a card.
type VisibilityState struct {
	ViewportVisible      bool
	PageVisible          bool
	WasPlayingBeforeHide bool
}

// Visible reports whether both signals are visible.
func (v VisibilityState) Visible() bool {
	return v.ViewportVisible && v.PageVisible
}
