package player

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// progressiveDriver plays the relay's chunked fragmented-container endpoint
// as one long download.
type progressiveDriver struct {
	deps Deps
}

func (d *progressiveDriver) open(ctx context.Context, id, locator string, fail func(error)) (session, error) {
	w, err := d.deps.Surface.Claim(id)
	if err != nil {
		return nil, err
	}
	release := func() { d.deps.Surface.Release(id) }

	return startStream(ctx, d.deps.ReadyTimeout, &gate{w: w}, release, fail,
		func(ctx context.Context, w io.Writer, ready func()) error {
			return d.run(ctx, locator, w, ready)
		})
}

func (d *progressiveDriver) run(ctx context.Context, locator string, w io.Writer, ready func()) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	resp, err := d.deps.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d from %s", resp.StatusCode, req.URL.Path)
	}

	buf := make([]byte, 32<<10)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			ready()
		}
		if err != nil {
			return err
		}
	}
}
