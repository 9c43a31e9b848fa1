package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Scene represents one catalog-indexed satellite acquisition.
//
// Scene contains what the downloader needs from a search result:
//   - EntityID for scene lists and download options
//   - DisplayID for file naming; it encodes the acquisition date
//   - Browse image URLs for optional previews
//
// Scenes are never modified after the catalog returns them.
type Scene struct {
	// EntityID is the catalog's identifier for the scene.
	EntityID string

	// DisplayID is the human-readable product identifier,
	// e.g. "LT05_L1TP_016037_20010723_20161128_01_T1".
	DisplayID string

	// CloudCover is the scene cloud cover in percent, or -1 when unknown.
	CloudCover float64

	// BrowseURL is the full-size browse image, empty when none is published.
	BrowseURL string

	// ThumbnailURL is the small browse image, empty when none is published.
	ThumbnailURL string

	// PublishDate is when the catalog published the scene.
	PublishDate time.Time
}

// HasBrowse returns true if the scene has a browse image available for download.
func (s Scene) HasBrowse() bool {
	return s.BrowseURL != ""
}

// AcquisitionDate returns the acquisition date encoded in the display ID.
func (s Scene) AcquisitionDate() (time.Time, error) {
	return ParseAcquisitionDate(s.DisplayID)
}

// legacySceneID matches pre-collection Landsat scene IDs such as
// LT50160372001204XXX01, where 2001204 is year and day of year.
var legacySceneID = regexp.MustCompile(`^L[A-Z0-9]\d{7}(\d{4})(\d{3})`)

// ParseAcquisitionDate extracts the acquisition date from a display ID.
//
// Supported forms:
//   - Collection product IDs: LT05_L1TP_016037_20010723_20161128_01_T1
//   - Sentinel-2 product IDs: S2A_MSIL1C_20170105T013442_N0204_R031_T53NMJ_20170105T013443
//   - Legacy Landsat scene IDs: LT50160372001204XXX01
//
// For underscore-separated IDs, the first field that begins with a valid
// YYYYMMDD date after the sensor field is used.
func ParseAcquisitionDate(displayID string) (time.Time, error) {
	fields := strings.Split(displayID, "_")
	if len(fields) > 1 {
		for _, f := range fields[1:] {
			if len(f) < 8 {
				continue
			}
			if t, err := time.Parse("20060102", f[:8]); err == nil {
				return t, nil
			}
		}
	}

	if m := legacySceneID.FindStringSubmatch(displayID); m != nil {
		year, _ := strconv.Atoi(m[1])
		doy, _ := strconv.Atoi(m[2])
		if doy >= 1 && doy <= 366 {
			return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1), nil
		}
	}

	return time.Time{}, fmt.Errorf("no acquisition date in display ID %q", displayID)
}

// EntityIDs returns the entity IDs of scenes, in order.
func EntityIDs(scenes []Scene) []string {
	ids := make([]string, len(scenes))
	for i, s := range scenes {
		ids[i] = s.EntityID
	}
	return ids
}
