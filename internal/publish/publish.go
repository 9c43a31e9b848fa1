package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"

	ioutils "github.com/handiism/m2m-downloader/internal/io"
	"github.com/rs/zerolog"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrIncomplete is returned for archives without a matching sidecar.
var ErrIncomplete = errors.New("publish: archive is not complete")

// Options configures a Publisher.
type Options struct {
	// Prefix is prepended to every object key.
	Prefix string

	Logger zerolog.Logger
}

// Publisher uploads complete archives and their sidecars to a bucket.
type Publisher struct {
	bucket *blob.Bucket
	prefix string
	logger zerolog.Logger
	owned  bool
}

// Open opens the bucket at bucketURL.
func Open(ctx context.Context, bucketURL string, opts Options) (*Publisher, error) {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	p := New(bkt, opts)
	p.owned = true
	return p, nil
}

// New returns a Publisher writing to an already open bucket. Close does
// not close bucket.
func New(bucket *blob.Bucket, opts Options) *Publisher {
	return &Publisher{bucket: bucket, prefix: opts.Prefix, logger: opts.Logger}
}

// Key returns the object key for the archive at localPath.
func (p *Publisher) Key(localPath string) string {
	return path.Join(p.prefix, filepath.Base(localPath))
}

// Publish uploads the archive at localPath and then its sidecar. An
// object of the same size already at the key is left alone.
func (p *Publisher) Publish(ctx context.Context, localPath string) error {
	if !ioutils.AvailableLocally(localPath) {
		return fmt.Errorf("%w: %s", ErrIncomplete, localPath)
	}
	size, err := ioutils.FileSize(localPath)
	if err != nil {
		return err
	}

	key := p.Key(localPath)
	log := p.logger.With().Str("path", localPath).Str("key", key).Logger()

	attrs, err := p.bucket.Attributes(ctx, key)
	switch {
	case err == nil && attrs.Size == size:
		log.Debug().Int64("bytes", size).Msg("object already published")
		return nil
	case err != nil && gcerrors.Code(err) != gcerrors.NotFound:
		return fmt.Errorf("stat %s: %w", key, err)
	}

	if err := p.upload(ctx, localPath, key); err != nil {
		return err
	}
	sidecar := []byte(strconv.FormatInt(size, 10))
	if err := p.bucket.WriteAll(ctx, key+ioutils.SidecarSuffix, sidecar, &blob.WriterOptions{ContentType: "text/plain"}); err != nil {
		return fmt.Errorf("write %s%s: %w", key, ioutils.SidecarSuffix, err)
	}

	log.Info().Int64("bytes", size).Msg("published archive")
	return nil
}

func (p *Publisher) upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := p.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "application/x-tar"})
	if err != nil {
		return fmt.Errorf("open writer %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		// Cancelling before Close discards the partial object.
		cancel()
		w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Close releases the bucket if Open created it.
func (p *Publisher) Close() error {
	if p.owned {
		return p.bucket.Close()
	}
	return nil
}
