package relay

import (
	"fmt"
	"strconv"
	"strings"

	"dashie_cam/native/internal/domain"
)

// Composite output is roughly 480p regardless of grid size.
const (
	compositeWidth  = 854
	compositeHeight = 480
)

// GridLayout returns the columns and rows for n cameras. grid is "auto" or
// "<cols>x<rows>".
func GridLayout(n int, grid string) (int, int, error) {
	if n <= 0 {
		return 0, 0, fmt.Errorf("grid: no cameras")
	}
	if grid == "" || grid == "auto" {
		switch {
		case n <= 2:
			return n, 1, nil
		case n <= 4:
			return 2, 2, nil
		case n <= 6:
			return 3, 2, nil
		default:
			return 3, (n + 2) / 3, nil
		}
	}

	c, r, ok := strings.Cut(strings.ToLower(grid), "x")
	if !ok {
		return 0, 0, fmt.Errorf("grid %q: want <cols>x<rows>", grid)
	}
	cols, err1 := strconv.Atoi(c)
	rows, err2 := strconv.Atoi(r)
	if err1 != nil || err2 != nil || cols <= 0 || rows <= 0 {
		return 0, 0, fmt.Errorf("grid %q: want positive <cols>x<rows>", grid)
	}
	if cols*rows < n {
		return 0, 0, fmt.Errorf("grid %q holds %d cells, need %d", grid, cols*rows, n)
	}
	return cols, rows, nil
}

// CompositeSource builds the exec pipeline descriptor that tiles the
// cameras of spec into one H264 stream. Each camera is read back from the
// relay's own RTSP server.
func CompositeSource(spec domain.CompositeSpec) (string, error) {
	spec = spec.WithDefaults()
	n := len(spec.Cameras)
	cols, rows, err := GridLayout(n, spec.Grid)
	if err != nil {
		return "", err
	}

	cellW := compositeWidth / cols
	cellH := compositeHeight / rows
	gop := spec.FPS * 2

	inputs := make([]string, 0, n)
	filters := make([]string, 0, cols*rows)
	labels := make([]string, 0, cols*rows)
	for i, cam := range spec.Cameras {
		inputs = append(inputs, fmt.Sprintf("-thread_queue_size 64 -rtsp_transport tcp -i rtsp://127.0.0.1:%s/%s", RTSPPort, cam))
		filters = append(filters, fmt.Sprintf("[%d:v]fps=%d,scale=%d:%d,setpts=PTS-STARTPTS[v%d]", i, spec.FPS, cellW, cellH, i))
		labels = append(labels, fmt.Sprintf("v%d", i))
	}

	var stacks []string
	rowOut := make([]string, 0, rows)
	for r := 0; r < rows; r++ {
		lo, hi := r*cols, (r+1)*cols
		var row []string
		if lo < len(labels) {
			row = append(row, labels[lo:min(hi, len(labels))]...)
		}
		for i := len(row); i < cols; i++ {
			idx := n + r*cols + i
			filters = append(filters, fmt.Sprintf("nullsrc=s=%dx%d:d=1,loop=-1:1[v%d]", cellW, cellH, idx))
			row = append(row, fmt.Sprintf("v%d", idx))
		}
		out := fmt.Sprintf("row%d", r)
		if rows == 1 {
			out = "v"
		}
		if cols == 1 {
			stacks = append(stacks, fmt.Sprintf("%snull[%s]", joinLabels(row), out))
		} else {
			stacks = append(stacks, fmt.Sprintf("%shstack=inputs=%d[%s]", joinLabels(row), cols, out))
		}
		rowOut = append(rowOut, out)
	}
	if rows > 1 {
		stacks = append(stacks, fmt.Sprintf("%svstack=inputs=%d[v]", joinLabels(rowOut), rows))
	}

	filter := strings.Join(append(filters, stacks...), ";")
	return fmt.Sprintf(
		"exec:ffmpeg -hide_banner -fflags nobuffer -flags low_delay %s "+
			"-filter_complex '%s' -map '[v]' -an "+
			"-c:v libx264 -preset superfast -tune zerolatency -crf %d -profile:v baseline "+
			"-r %d -g %d -f mpegts pipe:1",
		strings.Join(inputs, " "), filter, spec.Quality, spec.FPS, gop,
	), nil
}

func joinLabels(labels []string) string {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString("[" + l + "]")
	}
	return b.String()
}
