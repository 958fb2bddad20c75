package player

import (
	"bufio"
	"errors"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// playlist is the subset of an HLS playlist a live follower needs.
type playlist struct {
	Variants       []string
	Segments       []string
	Map            string
	MediaSequence  int64
	TargetDuration time.Duration
	Ended          bool
}

// Master reports whether the playlist lists variants instead of segments.
func (p playlist) Master() bool {
	return len(p.Variants) > 0
}

func parsePlaylist(r io.Reader) (playlist, error) {
	var (
		p         playlist
		sc        = bufio.NewScanner(r)
		first     = true
		expectURI bool
		variant   bool
	)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			if line != "#EXTM3U" {
				return playlist{}, errors.New("missing #EXTM3U header")
			}
			first = false
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			expectURI, variant = true, true
		case strings.HasPrefix(line, "#EXTINF"):
			expectURI, variant = true, false
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			n, err := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			if err != nil {
				return playlist{}, errors.New("bad media sequence")
			}
			p.MediaSequence = n
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			f, err := strconv.ParseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), 64)
			if err != nil {
				return playlist{}, errors.New("bad target duration")
			}
			p.TargetDuration = time.Duration(math.Ceil(f)) * time.Second
		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			p.Map = attr(strings.TrimPrefix(line, "#EXT-X-MAP:"), "URI")
		case line == "#EXT-X-ENDLIST":
			p.Ended = true
		case strings.HasPrefix(line, "#"):
		default:
			if !expectURI {
				continue
			}
			if variant {
				p.Variants = append(p.Variants, line)
			} else {
				p.Segments = append(p.Segments, line)
			}
			expectURI = false
		}
	}
	if err := sc.Err(); err != nil {
		return playlist{}, err
	}
	if first {
		return playlist{}, errors.New("empty playlist")
	}
	return p, nil
}

// attr extracts a quoted or bare attribute value from an attribute list.
func attr(list, key string) string {
	for _, kv := range splitAttrs(list) {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.TrimSpace(k) == key {
			return strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return ""
}

func splitAttrs(list string) []string {
	var (
		out    []string
		quoted bool
		start  int
	)
	for i, r := range list {
		switch r {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				out = append(out, list[start:i])
				start = i + 1
			}
		}
	}
	return append(out, list[start:])
}

func resolveURI(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
