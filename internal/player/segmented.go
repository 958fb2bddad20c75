package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	xlog "dashie_cam/native/internal/log"
)

const (
	minPlaylistRefresh = 500 * time.Millisecond
	liveEdgeSegments   = 3
	maxPlaylistBytes   = 1 << 20
)

// segmentedDriver follows a live HLS playlist and writes its segments in
// order. A failing source is reloaded once before the error is reported.
type segmentedDriver struct {
	deps Deps
}

func (d *segmentedDriver) open(ctx context.Context, id, locator string, fail func(error)) (session, error) {
	w, err := d.deps.Surface.Claim(id)
	if err != nil {
		return nil, err
	}
	release := func() { d.deps.Surface.Release(id) }

	return startStream(ctx, d.deps.ReadyTimeout, &gate{w: w}, release, fail,
		func(ctx context.Context, w io.Writer, ready func()) error {
			err := d.follow(ctx, locator, w, ready)
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return err
			}
			logger := xlog.WithComponent("player")
			logger.Warn().Err(err).
				Str(xlog.FieldLocator, locator).
				Msg("segmented stream failed, reloading source")
			return d.follow(ctx, locator, w, ready)
		})
}

// follow plays locator until the playlist ends or a fetch fails.
func (d *segmentedDriver) follow(ctx context.Context, locator string, w io.Writer, ready func()) error {
	mediaURL := locator
	pl, err := d.playlist(ctx, mediaURL)
	if err != nil {
		return err
	}
	if pl.Master() {
		if mediaURL, err = resolveURI(locator, pl.Variants[0]); err != nil {
			return fmt.Errorf("resolve variant: %w", err)
		}
		if pl, err = d.playlist(ctx, mediaURL); err != nil {
			return err
		}
	}

	next := int64(-1)
	mapWritten := ""
	for {
		if pl.Map != "" && pl.Map != mapWritten {
			if err := d.segment(ctx, mediaURL, pl.Map, w); err != nil {
				return fmt.Errorf("init segment: %w", err)
			}
			mapWritten = pl.Map
		}

		if next < 0 {
			// join near the live edge
			next = pl.MediaSequence + int64(max(0, len(pl.Segments)-liveEdgeSegments))
		}
		for i, uri := range pl.Segments {
			seq := pl.MediaSequence + int64(i)
			if seq < next {
				continue
			}
			if err := d.segment(ctx, mediaURL, uri, w); err != nil {
				return fmt.Errorf("segment %d: %w", seq, err)
			}
			ready()
			next = seq + 1
		}
		if pl.Ended {
			return io.EOF
		}

		wait := max(pl.TargetDuration/2, minPlaylistRefresh)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if pl, err = d.playlist(ctx, mediaURL); err != nil {
			return err
		}
	}
}

func (d *segmentedDriver) playlist(ctx context.Context, target string) (playlist, error) {
	body, err := d.get(ctx, target)
	if err != nil {
		return playlist{}, fmt.Errorf("playlist: %w", err)
	}
	defer body.Close()
	pl, err := parsePlaylist(io.LimitReader(body, maxPlaylistBytes))
	if err != nil {
		return playlist{}, fmt.Errorf("parse playlist: %w", err)
	}
	return pl, nil
}

func (d *segmentedDriver) segment(ctx context.Context, base, uri string, w io.Writer) error {
	target, err := resolveURI(base, uri)
	if err != nil {
		return err
	}
	body, err := d.get(ctx, target)
	if err != nil {
		return err
	}
	defer body.Close()
	_, err = io.Copy(w, body)
	return err
}

func (d *segmentedDriver) get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	resp, err := d.deps.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("http %d from %s", resp.StatusCode, req.URL.Path)
	}
	return resp.Body, nil
}
