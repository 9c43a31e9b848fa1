package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DownloadID identifies one download in a catalog order.
// The catalog reports it as a number; it is kept as a string key.
type DownloadID string

// UnmarshalJSON accepts both a JSON number and a JSON string.
func (id *DownloadID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = DownloadID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("download id: %w", err)
	}
	*id = DownloadID(n.String())
	return nil
}

// Offer is a product eligible for download after option filtering.
type Offer struct {
	EntityID  string `json:"entityId"`
	ProductID string `json:"productId"`
}

// DownloadStatus tracks what the orchestrator has done with an entry.
type DownloadStatus string

const (
	// StatusPending means the entry is known but has no URL yet.
	StatusPending DownloadStatus = "pending"
	// StatusQueued means the entry was handed to the downloader pool.
	StatusQueued DownloadStatus = "queued"
	// StatusLocal means a verified copy was already on disk; nothing was fetched.
	StatusLocal DownloadStatus = "local"
	// StatusComplete means the file was fetched and verified.
	StatusComplete DownloadStatus = "complete"
	// StatusFailed means the fetch exhausted its retries.
	StatusFailed DownloadStatus = "failed"
)

// DownloadEntry is one record of the download metadata, keyed by DownloadID.
//
// Entries are seeded from the catalog's download search and completed as
// URLs become available. Only the orchestrator writes to them; the
// downloader pool receives a copy of URL and LocalPath.
type DownloadEntry struct {
	DownloadID DownloadID     `json:"downloadId"`
	EntityID   string         `json:"entityId"`
	DisplayID  string         `json:"displayId"`
	Label      string         `json:"label"`
	URL        string         `json:"url,omitempty"`
	LocalPath  string         `json:"localPath,omitempty"`
	Status     DownloadStatus `json:"status"`
	Bytes      int64          `json:"bytes,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Dispatched reports whether the entry has already been handed off or resolved.
func (e *DownloadEntry) Dispatched() bool {
	return e.Status != "" && e.Status != StatusPending
}

// PathConfig holds path formatting settings for downloaded archives.
//
// FileNameFormat supports placeholders that are replaced with actual values:
//   - {displayId} - Display ID of the scene
//   - {entityId} - Entity ID of the scene
//   - {downloadId} - Download ID; keeps several products of one scene apart
//   - {year}, {month}, {day} - Acquisition date components, "unknown" if the
//     display ID carries no date
//
// Example:
//
//	cfg := &PathConfig{
//	    DownloadsPath:  "/data/raw/landsat",
//	    FileNameFormat: "{year}/{displayId}.tar",
//	}
type PathConfig struct {
	// DownloadsPath is the directory archives are written to.
	DownloadsPath string

	// FileNameFormat is the template for archive file names, relative to
	// DownloadsPath. Slashes create subdirectories.
	FileNameFormat string
}

// DefaultFileNameFormat names archives after their display ID.
const DefaultFileNameFormat = "{displayId}.tar"

// ComputePath returns the local path for the entry under cfg.
func (e *DownloadEntry) ComputePath(cfg *PathConfig) string {
	format := cfg.FileNameFormat
	if format == "" {
		format = DefaultFileNameFormat
	}

	year, month, day := "unknown", "unknown", "unknown"
	if t, err := ParseAcquisitionDate(e.DisplayID); err == nil {
		year, month, day = t.Format("2006"), t.Format("01"), t.Format("02")
	}

	var parts []string
	for _, part := range strings.Split(format, "/") {
		part = strings.ReplaceAll(part, "{year}", year)
		part = strings.ReplaceAll(part, "{month}", month)
		part = strings.ReplaceAll(part, "{day}", day)
		part = strings.ReplaceAll(part, "{displayId}", e.DisplayID)
		part = strings.ReplaceAll(part, "{entityId}", e.EntityID)
		part = strings.ReplaceAll(part, "{downloadId}", string(e.DownloadID))
		if part = sanitizeFileName(part); part != "" {
			parts = append(parts, part)
		}
	}

	return filepath.Join(append([]string{cfg.DownloadsPath}, parts...)...)
}

var (
	invalidChars  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots  = regexp.MustCompile(`\.+$`)
	repeatedSpace = regexp.MustCompile(`\s+`)
)

// sanitizeFileName removes or replaces characters that are invalid in file/folder names.
//
// The following transformations are applied:
//   - Invalid characters (<>:"/\|?* and control chars) are replaced with underscore
//   - Trailing dots are removed (Windows limitation)
//   - Multiple whitespace is collapsed to single space
//   - Leading and trailing whitespace is removed
//
// Example:
//
//	sanitizeFileName("scene: 1/2") // Returns "scene_ 1_2"
func sanitizeFileName(name string) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = trailingDots.ReplaceAllString(name, "")
	name = repeatedSpace.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
