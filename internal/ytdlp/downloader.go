// Package ytdlp shells out to the yt-dlp binary to probe and fetch videos
// from supported platforms.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"
)

const (
	defaultFormat     = "best[ext=mp4]/best"
	constrainedFormat = "best[filesize<50M]/worst"
)

// Metadata is the pre-flight information yt-dlp reports for a URL without
// downloading it. Filesize is 0 when the platform does not declare one.
type Metadata struct {
	Title    string
	Duration float64 // seconds
	Filesize int64   // bytes, best known estimate
}

// Options tune the download behaviour. The zero value gets sensible local
// defaults; Constrained selects the tighter budget used on small deployments.
type Options struct {
	BinaryPath     string        // defaults to "yt-dlp" on PATH
	Format         string        // yt-dlp -f selector
	SocketTimeout  time.Duration // per-socket-operation timeout passed to yt-dlp
	Retries        int           // yt-dlp internal retry count
	Attempts       int           // outer attempts per Fetch
	AttemptTimeout time.Duration // wall-clock bound per attempt
	Constrained    bool
}

// Client invokes the local yt-dlp binary.
type Client struct {
	opts    Options
	backoff func(attempt int) time.Duration
	logger  *slog.Logger
}

// New creates a Client, filling in defaults for unset options.
func New(opts Options) *Client {
	if opts.BinaryPath == "" {
		opts.BinaryPath = "yt-dlp"
	}
	if opts.Format == "" {
		if opts.Constrained {
			opts.Format = constrainedFormat
		} else {
			opts.Format = defaultFormat
		}
	}
	if opts.SocketTimeout <= 0 {
		if opts.Constrained {
			opts.SocketTimeout = 20 * time.Second
		} else {
			opts.SocketTimeout = 30 * time.Second
		}
	}
	if opts.Retries <= 0 {
		if opts.Constrained {
			opts.Retries = 1
		} else {
			opts.Retries = 3
		}
	}
	if opts.Attempts <= 0 {
		if opts.Constrained {
			opts.Attempts = 1
		} else {
			opts.Attempts = 3
		}
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 2 * time.Minute
	}
	return &Client{
		opts:    opts,
		backoff: defaultBackoff,
		logger:  slog.Default(),
	}
}

func defaultBackoff(attempt int) time.Duration {
	d := time.Duration(5*(attempt+1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (c *Client) probeArgs(url string) []string {
	return []string{
		"-J",
		"--skip-download",
		"--no-warnings",
		"--no-playlist",
		"--socket-timeout", strconv.Itoa(int(c.opts.SocketTimeout.Seconds())),
		url,
	}
}

func (c *Client) fetchArgs(url, dest string) []string {
	return []string{
		"-f", c.opts.Format,
		"-o", dest,
		"--no-warnings",
		"--no-playlist",
		"--no-part",
		"--socket-timeout", strconv.Itoa(int(c.opts.SocketTimeout.Seconds())),
		"--retries", strconv.Itoa(c.opts.Retries),
		url,
	}
}

// probeInfo mirrors the subset of yt-dlp's -J output we care about.
type probeInfo struct {
	Title          string  `json:"title"`
	Duration       float64 `json:"duration"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

// Probe fetches metadata for the URL without downloading the video.
func (c *Client) Probe(ctx context.Context, url string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.opts.BinaryPath, c.probeArgs(url)...)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Metadata{}, fmt.Errorf("yt-dlp probe failed: %w, stderr: %s", err, stderr.String())
	}

	var info probeInfo
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		return Metadata{}, fmt.Errorf("parsing yt-dlp metadata: %w", err)
	}

	size := info.Filesize
	if size == 0 {
		size = info.FilesizeApprox
	}
	return Metadata{Title: info.Title, Duration: info.Duration, Filesize: size}, nil
}

// Fetch downloads the video at url into dest, retrying with backoff up to the
// configured attempt budget. A partial file from a failed attempt is removed
// before the next one.
func (c *Client) Fetch(ctx context.Context, url, dest string) error {
	var lastErr error
	for attempt := 0; attempt < c.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = c.fetchOnce(ctx, url, dest)
		if lastErr == nil {
			return nil
		}

		c.logger.Warn("yt-dlp attempt failed", "attempt", attempt+1, "url", url, "error", lastErr)
		os.Remove(dest)

		if attempt < c.opts.Attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", c.opts.Attempts, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, url, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.opts.BinaryPath, c.fetchArgs(url, dest)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("yt-dlp failed: %w, stderr: %s", err, stderr.String())
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("downloaded file missing: %w", err)
	}
	if fi.Size() == 0 {
		os.Remove(dest)
		return fmt.Errorf("downloaded file is empty")
	}
	return nil
}
