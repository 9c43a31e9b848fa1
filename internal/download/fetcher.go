package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/handiism/m2m-downloader/internal/http"
	ioutils "github.com/handiism/m2m-downloader/internal/io"
	"github.com/rs/zerolog"
)

// FetchOptions configures a Fetcher.
type FetchOptions struct {
	// MaxRetries is the number of extra attempts after a failed transfer.
	// Default: 3
	MaxRetries int

	// RetryDelay is the fixed wait before each retry.
	// Default: 5s
	RetryDelay time.Duration

	// StartJitter bounds a random wait before the first attempt, spreading
	// the start of concurrent transfers.
	// Default: 3s
	StartJitter time.Duration

	// Progress receives the bytes written so far and the declared total of
	// the current attempt for path.
	Progress func(path string, written, total int64)

	Logger zerolog.Logger
}

// DefaultFetchOptions returns options with sensible defaults.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		MaxRetries:  3,
		RetryDelay:  5 * time.Second,
		StartJitter: 3 * time.Second,
		Logger:      zerolog.Nop(),
	}
}

// FetchResult describes a finished fetch.
type FetchResult struct {
	Path  string
	Bytes int64

	// Skipped is true when a verified copy already existed and nothing
	// was requested from the network.
	Skipped bool
}

// Fetcher downloads one URL to one path with content-length verification.
//
// A transfer is complete only when the file on disk has exactly the
// declared length; the length is then written to a .size sidecar, which
// later runs use to skip the download entirely.
type Fetcher struct {
	http  *http.Client
	opts  FetchOptions
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a Fetcher that transfers through client.
func NewFetcher(client *http.Client, opts FetchOptions) *Fetcher {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Fetcher{http: client, opts: opts, sleep: sleepContext}
}

// Fetch downloads url to path.
//
// If path is already available locally, Fetch returns at once with
// Skipped set. A zero or unknown content length fails immediately with
// ErrEmptyContent. Any other failure, including a size mismatch, is
// retried MaxRetries times after RetryDelay; when retries run out the
// partial file is removed and a *DownloadError is returned.
func (f *Fetcher) Fetch(ctx context.Context, url, path string) (FetchResult, error) {
	name := filepath.Base(path)
	log := f.opts.Logger.With().Str("file", name).Str("url", url).Logger()

	if ioutils.AvailableLocally(path) {
		size, _ := ioutils.FileSize(path)
		log.Info().Str("path", path).Msg("file is already available")
		return FetchResult{Path: path, Bytes: size, Skipped: true}, nil
	}

	if f.opts.StartJitter > 0 {
		if err := f.sleep(ctx, time.Duration(rand.Int64N(int64(f.opts.StartJitter)))); err != nil {
			return FetchResult{}, err
		}
	}

	if err := ioutils.EnsureDir(filepath.Dir(path)); err != nil {
		return FetchResult{}, &DownloadError{URL: url, Path: path, Err: err}
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Err(lastErr).
				Int("retries_left", f.opts.MaxRetries-attempt+1).
				Msg("transfer failed, retrying")
			if err := f.sleep(ctx, f.opts.RetryDelay); err != nil {
				ioutils.RemoveIfExists(path)
				return FetchResult{}, err
			}
		}

		attempts++
		log.Info().Str("path", path).Int("attempt", attempts).Msg("downloading")

		n, err := f.transfer(ctx, url, path)
		if err == nil {
			if err := ioutils.WriteSidecar(path, n); err != nil {
				return FetchResult{}, &DownloadError{URL: url, Path: path, Attempts: attempts, Err: fmt.Errorf("write sidecar: %w", err)}
			}
			log.Info().Int64("bytes", n).Msg("download complete")
			return FetchResult{Path: path, Bytes: n}, nil
		}

		if errors.Is(err, ErrEmptyContent) {
			log.Error().Msg("content size is 0")
			return FetchResult{}, &DownloadError{URL: url, Path: path, Attempts: attempts, Err: err}
		}
		if ctx.Err() != nil {
			ioutils.RemoveIfExists(path)
			return FetchResult{}, ctx.Err()
		}
		lastErr = err
	}

	ioutils.RemoveIfExists(path)
	log.Error().Err(lastErr).Msg("no more retries available")
	return FetchResult{}, &DownloadError{URL: url, Path: path, Attempts: attempts, Err: lastErr}
}

// transfer performs one attempt and returns the verified byte count.
func (f *Fetcher) transfer(ctx context.Context, url, path string) (int64, error) {
	resp, err := f.http.Stream(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	declared := resp.ContentLength
	if declared <= 0 {
		return 0, ErrEmptyContent
	}

	if err := ioutils.RemoveArchive(path); err != nil {
		return 0, err
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	pw := &http.ProgressWriter{Writer: file, Total: declared}
	if f.opts.Progress != nil {
		pw.OnUpdate = func(written, total int64) {
			f.opts.Progress(path, written, total)
		}
	}

	_, copyErr := io.Copy(pw, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		return 0, fmt.Errorf("%w: stream ended after %d of %d bytes: %v", ErrSizeMismatch, pw.Written, declared, copyErr)
	}
	if closeErr != nil {
		return 0, closeErr
	}

	size, err := ioutils.FileSize(path)
	if err != nil {
		return 0, err
	}
	if size != declared {
		return 0, fmt.Errorf("%w: wrote %d of %d bytes", ErrSizeMismatch, size, declared)
	}
	return size, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
