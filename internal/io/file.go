package ioutils

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SidecarSuffix is appended to an archive path to name its size sidecar.
const SidecarSuffix = ".size"

// SidecarPath returns the sidecar path for the archive at path.
func SidecarPath(path string) string {
	return path + SidecarSuffix
}

// WriteSidecar records size as the verified length of the archive at path.
//
// The sidecar is written only after the archive itself is complete; its
// presence is what marks the archive as usable.
func WriteSidecar(path string, size int64) error {
	return WriteFileAtomic(context.Background(), SidecarPath(path), []byte(strconv.FormatInt(size, 10)))
}

// ReadSidecar returns the size recorded next to the archive at path.
func ReadSidecar(path string) (int64, error) {
	data, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse sidecar %s: %w", SidecarPath(path), err)
	}
	return size, nil
}

// AvailableLocally reports whether a complete copy of the archive exists.
//
// True only when the archive and its sidecar both exist, the sidecar
// holds a positive size, and the archive is exactly that size.
// Any read or parse failure yields false.
func AvailableLocally(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	want, err := ReadSidecar(path)
	if err != nil || want <= 0 {
		return false
	}
	return info.Size() == want
}

// RemoveArchive deletes the archive at path and its sidecar.
// Missing files are not an error.
func RemoveArchive(path string) error {
	return errors.Join(RemoveIfExists(path), RemoveIfExists(SidecarPath(path)))
}

// RemoveIfExists deletes the file at path, ignoring a missing file.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// FileSize returns the size of the file at path.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// WriteFileAtomic writes data to a temporary file next to path and
// renames it into place, so readers never observe a partial file.
//
// The file is created with mode 0644.
//
// Example:
//
//	manifest, _ := json.Marshal(entries)
//	err := WriteFileAtomic(ctx, "/data/raw/landsat/manifest.json", manifest)
func WriteFileAtomic(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// EnsureDir creates a directory and all parent directories if they don't exist.
//
// Directories are created with mode 0755 (rwxr-xr-x).
// If the directory already exists, no error is returned.
//
// Example:
//
//	err := EnsureDir("/data/raw/landsat")
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
