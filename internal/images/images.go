// Package images stores product images on local disk, one file per slug.
package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/maltedev/stall-scraper/internal/metrics"
	"github.com/maltedev/stall-scraper/internal/models"
	"github.com/maltedev/stall-scraper/internal/notify"
)

var ErrDownloadFailed = errors.New("image download failed")

// Downloader fetches raw bytes. *fetcher.Fetcher satisfies it.
type Downloader interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// Result reports what Acquire did for one product.
type Result struct {
	Path    string
	Reused  bool
	Outcome models.Outcome
	Err     error
}

type Acquirer struct {
	downloader Downloader
	dir        string
	notifier   notify.Notifier
	logger     *slog.Logger
}

func NewAcquirer(downloader Downloader, dir string, notifier notify.Notifier, logger *slog.Logger) *Acquirer {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Acquirer{
		downloader: downloader,
		dir:        dir,
		notifier:   notifier,
		logger:     logger.With("component", "images"),
	}
}

// Dir returns the directory images are written to.
func (a *Acquirer) Dir() string {
	return a.dir
}

// Acquire makes sure the image for slug exists locally and returns its path.
// An image already on disk is reused without any network call. Failures are
// reported through the notifier and the Result; they never panic.
func (a *Acquirer) Acquire(ctx context.Context, sourceURL, slug string) Result {
	name, err := FileName(sourceURL, slug)
	if err != nil {
		return a.fail(ctx, sourceURL, slug, err)
	}
	dest := filepath.Join(a.dir, name)

	if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() {
		metrics.ImagesTotal.WithLabelValues("reused").Inc()
		a.logger.DebugContext(ctx, "image already present", "slug", slug, "path", dest)
		return Result{Path: dest, Reused: true, Outcome: models.OutcomeSucceeded}
	}

	data, err := a.downloader.FetchBytes(ctx, sourceURL)
	if err != nil {
		return a.fail(ctx, sourceURL, slug, err)
	}

	if err := writeAtomic(a.dir, dest, data); err != nil {
		return a.fail(ctx, sourceURL, slug, err)
	}

	metrics.ImagesTotal.WithLabelValues("downloaded").Inc()
	a.logger.DebugContext(ctx, "image downloaded", "slug", slug, "path", dest, "size", len(data))
	return Result{Path: dest, Outcome: models.OutcomeSucceeded}
}

func (a *Acquirer) fail(ctx context.Context, sourceURL, slug string, cause error) Result {
	err := fmt.Errorf("%w: %s: %w", ErrDownloadFailed, sourceURL, cause)
	metrics.ImagesTotal.WithLabelValues("failed").Inc()
	a.notifier.Warning(ctx, "failed to download image", "slug", slug, "url", sourceURL, "error", cause)
	return Result{Outcome: models.OutcomeFailed, Err: err}
}

// FileName derives the local file name: the slug followed by the extension of
// the source URL path.
func FileName(sourceURL, slug string) (string, error) {
	if slug == "" || slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) {
		return "", fmt.Errorf("invalid slug %q", slug)
	}
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "", fmt.Errorf("invalid image url: %w", err)
	}
	return slug + path.Ext(u.Path), nil
}

func writeAtomic(dir, dest string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close image: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move image into place: %w", err)
	}
	return nil
}
