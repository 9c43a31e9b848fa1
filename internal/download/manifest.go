package download

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/handiism/m2m-downloader/internal/model"
)

// ManifestFormat represents supported run manifest formats.
//
//   - JSON: every download entry with its status, for tooling
//   - List: one completed archive path per line, for shell pipelines
type ManifestFormat int

const (
	// ManifestJSON writes <label>.manifest.json.
	ManifestJSON ManifestFormat = iota

	// ManifestList writes <label>.txt with the archives that are ready.
	ManifestList
)

// Extension returns the file extension of the format.
func (f ManifestFormat) Extension() string {
	if f == ManifestList {
		return ".txt"
	}
	return ".manifest.json"
}

// ManifestCreator renders the download metadata of a run.
//
// Example:
//
//	creator := NewManifestCreator(ManifestJSON)
//	content, _ := creator.CreateManifest("batch1", result.Meta)
//	os.WriteFile(creator.Path(dir, "batch1"), content, 0644)
type ManifestCreator struct {
	format ManifestFormat
	now    func() time.Time
}

// NewManifestCreator creates a new ManifestCreator.
func NewManifestCreator(format ManifestFormat) *ManifestCreator {
	return &ManifestCreator{format: format, now: time.Now}
}

// Path returns where the manifest of label is written inside dir.
func (c *ManifestCreator) Path(dir, label string) string {
	return filepath.Join(dir, label+c.format.Extension())
}

type manifest struct {
	Label     string                 `json:"label"`
	CreatedAt time.Time              `json:"createdAt"`
	Downloads []*model.DownloadEntry `json:"downloads"`
}

// CreateManifest renders entries in the creator's format, sorted by
// download ID. Paths in list manifests are relative to the archive directory.
func (c *ManifestCreator) CreateManifest(label string, entries map[model.DownloadID]*model.DownloadEntry) ([]byte, error) {
	sorted := sortedEntries(entries)

	switch c.format {
	case ManifestList:
		var b strings.Builder
		for _, e := range sorted {
			if e.LocalPath == "" || (e.Status != model.StatusComplete && e.Status != model.StatusLocal) {
				continue
			}
			fmt.Fprintln(&b, filepath.Base(e.LocalPath))
		}
		return []byte(b.String()), nil

	default:
		return json.MarshalIndent(manifest{
			Label:     label,
			CreatedAt: c.now().UTC(),
			Downloads: sorted,
		}, "", "  ")
	}
}

func sortedEntries(entries map[model.DownloadID]*model.DownloadEntry) []*model.DownloadEntry {
	out := make([]*model.DownloadEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].DownloadID, out[j].DownloadID
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return out
}
