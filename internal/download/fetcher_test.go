package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/handiism/m2m-downloader/internal/http"
	ioutils "github.com/handiism/m2m-downloader/internal/io"
	"github.com/handiism/m2m-downloader/internal/m2m/m2mtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(retries int) *Fetcher {
	return NewFetcher(http.NewClient(http.DefaultOptions()), FetchOptions{MaxRetries: retries})
}

func TestFetch_Success(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	data := []byte("scene archive contents")
	url := srv.AddFile("scene.tar", data)
	path := filepath.Join(t.TempDir(), "out", "scene.tar")

	var mu sync.Mutex
	var last [2]int64
	f := newTestFetcher(3)
	f.opts.Progress = func(p string, written, total int64) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, path, p)
		last = [2]int64{written, total}
	}

	res, err := f.Fetch(context.Background(), url, path)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(len(data)), res.Bytes)
	assert.Equal(t, [2]int64{int64(len(data)), int64(len(data))}, last)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	size, err := ioutils.ReadSidecar(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	assert.True(t, ioutils.AvailableLocally(path))
}

func TestFetch_SkipsWhenAvailableLocally(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	url := srv.AddFile("scene.tar", []byte("new"))
	path := filepath.Join(t.TempDir(), "scene.tar")
	require.NoError(t, os.WriteFile(path, []byte("existing"), 0644))
	require.NoError(t, ioutils.WriteSidecar(path, 8))

	res, err := newTestFetcher(3).Fetch(context.Background(), url, path)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, int64(8), res.Bytes)
	assert.Equal(t, 0, srv.FileHits("scene.tar"))
}

func TestFetch_RedownloadsWhenSidecarDisagrees(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	url := srv.AddFile("scene.tar", []byte("fresh"))
	path := filepath.Join(t.TempDir(), "scene.tar")
	require.NoError(t, os.WriteFile(path, []byte("stale-bytes"), 0644))
	require.NoError(t, ioutils.WriteSidecar(path, 99))

	res, err := newTestFetcher(0).Fetch(context.Background(), url, path)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, srv.FileHits("scene.tar"))

	got, _ := os.ReadFile(path)
	assert.Equal(t, "fresh", string(got))
}

func TestFetch_EmptyContentNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		length int64
	}{
		{"zero length", 0},
		{"unknown length", m2mtest.UnknownLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := m2mtest.NewServer()
			defer srv.Close()

			url := srv.AddFileWithLength("scene.tar", []byte("data"), tt.length)
			path := filepath.Join(t.TempDir(), "scene.tar")

			_, err := newTestFetcher(3).Fetch(context.Background(), url, path)

			var dErr *DownloadError
			require.ErrorAs(t, err, &dErr)
			assert.ErrorIs(t, err, ErrEmptyContent)
			assert.Equal(t, 1, dErr.Attempts)
			assert.Equal(t, 1, srv.FileHits("scene.tar"))
			assert.NoFileExists(t, path)
			assert.NoFileExists(t, ioutils.SidecarPath(path))
		})
	}
}

func TestFetch_SizeMismatchRetriedThenFails(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	url := srv.AddFileWithLength("scene.tar", []byte("short"), 100)
	path := filepath.Join(t.TempDir(), "scene.tar")

	f := newTestFetcher(2)
	var waits []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	f.opts.RetryDelay = 5 * time.Second

	_, err := f.Fetch(context.Background(), url, path)

	var dErr *DownloadError
	require.ErrorAs(t, err, &dErr)
	assert.ErrorIs(t, err, ErrSizeMismatch)
	assert.Equal(t, 3, dErr.Attempts)
	assert.Equal(t, url, dErr.URL)
	assert.Equal(t, 3, srv.FileHits("scene.tar"))
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, waits)
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, ioutils.SidecarPath(path))
}

func TestFetch_NotFoundRetried(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "scene.tar")
	_, err := newTestFetcher(1).Fetch(context.Background(), srv.URL+"/files/missing.tar", path)

	var dErr *DownloadError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, 2, dErr.Attempts)
	assert.Equal(t, 2, srv.FileHits("missing.tar"))
}

func TestFetch_ContextCancelledDuringRetryWait(t *testing.T) {
	srv := m2mtest.NewServer()
	defer srv.Close()

	url := srv.AddFileWithLength("scene.tar", []byte("short"), 100)
	path := filepath.Join(t.TempDir(), "scene.tar")

	ctx, cancel := context.WithCancel(context.Background())
	f := newTestFetcher(3)
	f.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := f.Fetch(ctx, url, path)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, srv.FileHits("scene.tar"))
	assert.NoFileExists(t, path)
}
