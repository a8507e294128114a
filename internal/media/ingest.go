// Package media turns uploads and platform URLs into local temporary media
// artifacts, each owned by a video session.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"plugd/internal/session"
	"plugd/internal/storage"
	"plugd/internal/ytdlp"
)

// DefaultHosts is the supported-platform allow-list.
var DefaultHosts = []string{
	"youtube.com", "youtu.be",
	"instagram.com", "instagr.am",
	"tiktok.com",
	"twitter.com", "x.com",
}

var allowedExtensions = map[string]bool{
	"mp4": true,
	"mov": true,
	"avi": true,
}

// Fetcher is the capability contract for the external downloader.
type Fetcher interface {
	Probe(ctx context.Context, url string) (ytdlp.Metadata, error)
	Fetch(ctx context.Context, url, dest string) error
}

// Ingestor validates incoming videos and writes them into its media
// directory, registering a pending session for each.
type Ingestor struct {
	store    *storage.Store
	fetcher  Fetcher
	mediaDir string
	maxBytes int64
	hosts    []string
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor rooted at mediaDir, creating the directory
// if needed. An empty hosts slice falls back to DefaultHosts.
func NewIngestor(store *storage.Store, fetcher Fetcher, mediaDir string, maxBytes int64, hosts []string) (*Ingestor, error) {
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	return &Ingestor{
		store:    store,
		fetcher:  fetcher,
		mediaDir: mediaDir,
		maxBytes: maxBytes,
		hosts:    hosts,
		logger:   slog.Default(),
	}, nil
}

// Hosts returns the active platform allow-list.
func (ing *Ingestor) Hosts() []string {
	return ing.hosts
}

// IngestFile validates and stores an uploaded video, returning its pending
// session. A failed validation leaves no artifact behind.
func (ing *Ingestor) IngestFile(ctx context.Context, r io.Reader, filename string) (storage.VideoSession, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !allowedExtensions[ext] {
		return storage.VideoSession{}, fmt.Errorf("%w: extension %q not allowed (mp4, mov, avi)", session.ErrInvalidMedia, ext)
	}

	id := uuid.New().String()
	dest := filepath.Join(ing.mediaDir, id+"."+ext)

	f, err := os.Create(dest)
	if err != nil {
		return storage.VideoSession{}, fmt.Errorf("%w: creating artifact: %v", session.ErrStorage, err)
	}

	// Copy one byte past the cap to detect oversized input without buffering
	// the whole body.
	n, err := io.Copy(f, io.LimitReader(r, ing.maxBytes+1))
	closeErr := f.Close()
	if err != nil {
		os.Remove(dest)
		return storage.VideoSession{}, fmt.Errorf("%w: writing artifact: %v", session.ErrStorage, err)
	}
	if closeErr != nil {
		os.Remove(dest)
		return storage.VideoSession{}, fmt.Errorf("%w: closing artifact: %v", session.ErrStorage, closeErr)
	}
	if n > ing.maxBytes {
		os.Remove(dest)
		return storage.VideoSession{}, fmt.Errorf("%w: file exceeds %d byte limit", session.ErrSizeExceeded, ing.maxBytes)
	}
	if n == 0 {
		os.Remove(dest)
		return storage.VideoSession{}, fmt.Errorf("%w: empty file", session.ErrInvalidMedia)
	}

	sess := storage.VideoSession{
		ID:           id,
		Source:       storage.SourceFile,
		Origin:       filepath.Base(filename),
		ArtifactPath: dest,
		Status:       storage.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := ing.store.SaveSession(sess); err != nil {
		os.Remove(dest)
		return storage.VideoSession{}, fmt.Errorf("%w: saving session: %v", session.ErrStorage, err)
	}

	ing.logger.Info("file ingested", "session_id", id, "bytes", n, "origin", sess.Origin)
	return sess, nil
}

// IngestURL validates the URL against the platform allow-list, delegates the
// download to the fetcher, and returns the pending session. Size is checked
// via pre-flight metadata when the platform declares one, and always again
// after download.
func (ing *Ingestor) IngestURL(ctx context.Context, rawURL string) (storage.VideoSession, error) {
	if !ing.supportedURL(rawURL) {
		return storage.VideoSession{}, fmt.Errorf("%w: %s", session.ErrUnsupportedSource, rawURL)
	}

	// Pre-flight: skip the download when the declared size already exceeds
	// the cap. Metadata is best-effort; a probe failure is not fatal.
	if md, err := ing.fetcher.Probe(ctx, rawURL); err == nil {
		if md.Filesize > ing.maxBytes {
			return storage.VideoSession{}, fmt.Errorf("%w: declared size %d exceeds %d byte limit", session.ErrSizeExceeded, md.Filesize, ing.maxBytes)
		}
	} else {
		ing.logger.Debug("probe failed, continuing with download", "url", rawURL, "error", err)
	}

	id := uuid.New().String()
	dest := filepath.Join(ing.mediaDir, id+".mp4")

	if err := ing.fetcher.Fetch(ctx, rawURL, dest); err != nil {
		os.Remove(dest)
		return storage.VideoSession{}, fmt.Errorf("%w: %v", session.ErrDownloadFailed, err)
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return storage.VideoSession{}, fmt.Errorf("%w: %v", session.ErrDownloadFailed, err)
	}
	if fi.Size() > ing.maxBytes {
		os.Remove(dest)
		return storage.VideoSession{}, fmt.Errorf("%w: fetched %d bytes, limit is %d", session.ErrSizeExceeded, fi.Size(), ing.maxBytes)
	}

	sess := storage.VideoSession{
		ID:           id,
		Source:       storage.SourceURL,
		Origin:       rawURL,
		ArtifactPath: dest,
		Status:       storage.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := ing.store.SaveSession(sess); err != nil {
		os.Remove(dest)
		return storage.VideoSession{}, fmt.Errorf("%w: saving session: %v", session.ErrStorage, err)
	}

	ing.logger.Info("url ingested", "session_id", id, "bytes", fi.Size(), "origin", rawURL)
	return sess, nil
}

// supportedURL reports whether the URL's host is on the platform allow-list.
func (ing *Ingestor) supportedURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range ing.hosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// Remove deletes a session's artifact. Missing files are not an error.
func (ing *Ingestor) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Sweep deletes every artifact in the media directory. Called at startup,
// paired with the store wiping stale sessions.
func (ing *Ingestor) Sweep(ctx context.Context) error {
	entries, err := os.ReadDir(ing.mediaDir)
	if err != nil {
		return fmt.Errorf("reading media directory: %w", err)
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(ing.mediaDir, entry.Name())
		g.Go(func() error {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("removing %s: %w", path, err)
			}
			return nil
		})
	}
	return g.Wait()
}
