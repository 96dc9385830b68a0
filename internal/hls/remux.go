package hls

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// Remuxer drives FFmpeg as a subprocess to cut one transport-stream
// segment out of a media file. Copy mode only: streams are never
// re-encoded, so a segment costs container work, not CPU.
type Remuxer struct {
	FFmpegPath string
	Timeout    time.Duration
}

// Segment reads the media head from src, then asks FFmpeg for the window
// [start, start+dur) as MPEG-TS. A non-zero exit or an overrun of the
// timeout fails the segment.
func (r *Remuxer) Segment(ctx context.Context, src io.Reader, start, dur float64) ([]byte, error) {
	in, err := os.CreateTemp("", "hls-in-*.bin")
	if err != nil {
		return nil, fmt.Errorf("remux: %w", err)
	}
	defer os.Remove(in.Name())

	if _, err := io.Copy(in, src); err != nil {
		in.Close()
		return nil, fmt.Errorf("remux: buffer input: %w", err)
	}
	in.Close()

	out, err := os.CreateTemp("", "hls-out-*.ts")
	if err != nil {
		return nil, fmt.Errorf("remux: %w", err)
	}
	out.Close()
	defer os.Remove(out.Name())

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bin := r.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-ss", formatSeconds(start),
		"-i", in.Name(),
		"-t", formatSeconds(dur),
		"-c", "copy",
		"-f", "mpegts",
		"-copyts",
		"-avoid_negative_ts", "make_zero",
		"-y", out.Name(),
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	t0 := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("remux: ffmpeg timed out after %s", timeout)
		}
		return nil, fmt.Errorf("remux: ffmpeg: %w (%s)", err, firstLine(stderr.String()))
	}

	data, err := os.ReadFile(out.Name())
	if err != nil {
		return nil, fmt.Errorf("remux: read output: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("remux: ffmpeg produced no output (%s)", firstLine(stderr.String()))
	}
	log.Printf("[hls] remuxed %.1fs at %.1fs: %d bytes in %s", dur, start, len(data), time.Since(t0).Round(time.Millisecond))
	return data, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	if s == "" {
		return "no stderr"
	}
	return s
}
