package extract

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ioutils "github.com/handiism/m2m-downloader/internal/io"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// ErrIncomplete is returned for archives that are not verified complete.
var ErrIncomplete = errors.New("extract: archive is not complete")

// DefaultBands are extracted when no band is requested.
var DefaultBands = []string{"B3", "B4"}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Extractor pulls band rasters out of scene archives.
type Extractor struct {
	logger zerolog.Logger
}

// New creates an Extractor.
func New(logger zerolog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Bands extracts the members of the archive at archivePath whose name ends
// in _<BAND>.TIF for one of bands, into destDir. It returns the written
// paths, sorted.
//
// The archive must be available locally, that is complete with a matching
// sidecar. Plain, gzip and zstd compressed tar files are accepted. Members
// whose name would leave destDir are skipped. Existing files are replaced.
func (e *Extractor) Bands(ctx context.Context, archivePath, destDir string, bands []string) ([]string, error) {
	if !ioutils.AvailableLocally(archivePath) {
		return nil, fmt.Errorf("%w: %s", ErrIncomplete, archivePath)
	}
	if len(bands) == 0 {
		bands = DefaultBands
	}
	if err := ioutils.EnsureDir(destDir); err != nil {
		return nil, err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, closeReader, err := decompress(f)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", archivePath, err)
	}
	defer closeReader()

	log := e.logger.With().Str("archive", archivePath).Logger()

	var written []string
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("read %s: %w", archivePath, err)
		}
		if hdr.Typeflag != tar.TypeReg || !matchesBand(hdr.Name, bands) {
			continue
		}

		name := filepath.Base(filepath.FromSlash(hdr.Name))
		if !safeName(hdr.Name) {
			log.Warn().Str("member", hdr.Name).Msg("skipping member with unsafe path")
			continue
		}

		dest := filepath.Join(destDir, name)
		if err := writeMember(dest, tr); err != nil {
			return written, fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
		log.Debug().Str("path", dest).Int64("bytes", hdr.Size).Msg("extracted band")
		written = append(written, dest)
	}

	sort.Strings(written)
	return written, nil
}

// Directory runs Bands for every complete .tar archive directly in dir.
// Each archive is extracted into destDir/<archive name without extension>.
// Incomplete archives are skipped. Errors of single archives are joined.
func (e *Extractor) Directory(ctx context.Context, dir, destDir string, bands []string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string)
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isArchive(entry.Name()) {
			continue
		}
		archive := filepath.Join(dir, entry.Name())
		if !ioutils.AvailableLocally(archive) {
			e.logger.Info().Str("archive", archive).Msg("skipping incomplete archive")
			continue
		}

		files, err := e.Bands(ctx, archive, filepath.Join(destDir, archiveStem(entry.Name())), bands)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		out[archive] = files
	}
	return out, errors.Join(errs...)
}

func decompress(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4)

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	default:
		return br, func() {}, nil
	}
}

func matchesBand(name string, bands []string) bool {
	upper := strings.ToUpper(name)
	for _, b := range bands {
		if strings.HasSuffix(upper, "_"+strings.ToUpper(b)+".TIF") {
			return true
		}
	}
	return false
}

func safeName(name string) bool {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

func writeMember(dest string, r io.Reader) error {
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

var archiveSuffixes = []string{".tar.gz", ".tar.zst", ".tgz", ".tar"}

func isArchive(name string) bool {
	return archiveStem(name) != name
}

func archiveStem(name string) string {
	lower := strings.ToLower(name)
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(lower, s) {
			return name[:len(name)-len(s)]
		}
	}
	return name
}
