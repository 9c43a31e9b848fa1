package m2m

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/handiism/m2m-downloader/internal/model"
)

// BoundingBox is a minimum bounding rectangle in decimal degrees.
type BoundingBox struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
}

// DateRange bounds acquisition dates, inclusive. A zero End means open-ended.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// CloudCoverRange bounds scene cloud cover in percent.
type CloudCoverRange struct {
	Min            int
	Max            int
	IncludeUnknown bool
}

// SceneSearch holds the filters of a scene search. Nil filters are omitted.
type SceneSearch struct {
	Spatial     *BoundingBox
	Acquisition *DateRange
	CloudCover  *CloudCoverRange

	// MaxResults caps the number of records returned. Zero lets the
	// service apply its own default.
	MaxResults int

	// StartingNumber is the 1-based index of the first record, for paging.
	StartingNumber int
}

// SceneSearchResult is the outcome of a scene search.
type SceneSearchResult struct {
	Scenes          []model.Scene
	TotalHits       int
	RecordsReturned int
	NextRecord      int
}

// Truncated reports whether more scenes matched than were returned.
func (r *SceneSearchResult) Truncated() bool {
	return r.TotalHits > r.RecordsReturned
}

// Dataset is one entry of a dataset search.
type Dataset struct {
	Alias          string `json:"datasetAlias"`
	CollectionName string `json:"collectionName"`
	ID             string `json:"datasetId"`
	Abstract       string `json:"abstractText"`
}

// DatasetSearch filters a dataset search. Empty fields are omitted.
type DatasetSearch struct {
	Name        string
	Spatial     *BoundingBox
	Acquisition *DateRange
}

// ListedScene is one member of a scene list.
type ListedScene struct {
	EntityID    string `json:"entityId"`
	DatasetName string `json:"datasetName"`
}

// DownloadOptionsRequest selects the scenes whose products are listed:
// either a scene list, or explicit entity IDs.
type DownloadOptionsRequest struct {
	ListID                     string
	EntityIDs                  []string
	IncludeSecondaryFileGroups bool
}

// DownloadOption is one downloadable product advertised for a scene.
type DownloadOption struct {
	ID             string
	EntityID       string
	DisplayID      string
	ProductName    string
	DownloadSystem string
	Available      bool
	FileSize       int64

	// Fields holds every member of the option as decoded JSON, for filtering.
	Fields map[string]any
}

// Offers converts options to the entity/product pairs of a download request.
func Offers(options []DownloadOption) []model.Offer {
	offers := make([]model.Offer, len(options))
	for i, o := range options {
		offers[i] = model.Offer{EntityID: o.EntityID, ProductID: o.ID}
	}
	return offers
}

// DownloadURL is one download reported by a request or retrieve call.
type DownloadURL struct {
	DownloadID model.DownloadID `json:"downloadId"`
	EntityID   string           `json:"entityId"`
	DisplayID  string           `json:"displayId"`
	URL        string           `json:"url"`
	StatusText string           `json:"statusText"`
}

// DownloadOrder is the response to a download request.
type DownloadOrder struct {
	AvailableDownloads []DownloadURL     `json:"availableDownloads"`
	PreparingDownloads []DownloadURL     `json:"preparingDownloads"`
	DuplicateProducts  DuplicateProducts `json:"duplicateProducts"`
	Failed             []json.RawMessage `json:"failed"`
	NumInvalidScenes   int               `json:"numInvalidScenes"`
}

// Pending reports whether some downloads are still being prepared.
func (o *DownloadOrder) Pending() bool {
	return len(o.PreparingDownloads) > 0
}

// DuplicateProducts maps a product already on order to the label of the
// order that holds it.
type DuplicateProducts map[string]string

// UnmarshalJSON accepts an object, null, or the empty array the service
// sends when there are no duplicates.
func (d *DuplicateProducts) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		var discard []json.RawMessage
		if bytes.Equal(data, []byte("null")) {
			return nil
		}
		if err := json.Unmarshal(data, &discard); err != nil {
			return err
		}
		*d = nil
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(DuplicateProducts, len(raw))
	for product, label := range raw {
		out[product] = rawString(label)
	}
	*d = out
	return nil
}

// Labels returns the distinct non-empty labels, sorted.
func (d DuplicateProducts) Labels() []string {
	seen := make(map[string]bool, len(d))
	var labels []string
	for _, l := range d {
		if l != "" && !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	sort.Strings(labels)
	return labels
}

// RetrieveResult is the state of the downloads of one label.
type RetrieveResult struct {
	Available []DownloadURL `json:"available"`
	Requested []DownloadURL `json:"requested"`
	QueueSize int           `json:"queueSize"`
}

// DownloadRecord is one entry of a download search.
type DownloadRecord struct {
	DownloadID  model.DownloadID `json:"downloadId"`
	EntityID    string           `json:"entityId"`
	DisplayID   string           `json:"displayId"`
	Label       string           `json:"label"`
	ProductCode string           `json:"productCode"`
	StatusText  string           `json:"statusText"`
	URL         string           `json:"url"`
	FileSize    flexInt          `json:"fileSize"`
}

// Entry converts the record to a download metadata entry.
func (r DownloadRecord) Entry() *model.DownloadEntry {
	return &model.DownloadEntry{
		DownloadID: r.DownloadID,
		EntityID:   r.EntityID,
		DisplayID:  r.DisplayID,
		Label:      r.Label,
		Status:     model.StatusPending,
	}
}

// Wire forms.

type point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type spatialFilter struct {
	FilterType string `json:"filterType"`
	LowerLeft  point  `json:"lowerLeft"`
	UpperRight point  `json:"upperRight"`
}

type acquisitionFilter struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

type cloudCoverFilter struct {
	Min            int  `json:"min"`
	Max            int  `json:"max"`
	IncludeUnknown bool `json:"includeUnknown"`
}

type sceneFilter struct {
	SpatialFilter     *spatialFilter     `json:"spatialFilter,omitempty"`
	AcquisitionFilter *acquisitionFilter `json:"acquisitionFilter,omitempty"`
	CloudCoverFilter  *cloudCoverFilter  `json:"cloudCoverFilter,omitempty"`
}

type sceneSearchRequest struct {
	DatasetName    string       `json:"datasetName"`
	MaxResults     int          `json:"maxResults,omitempty"`
	StartingNumber int          `json:"startingNumber,omitempty"`
	SceneFilter    *sceneFilter `json:"sceneFilter,omitempty"`
}

type sceneSearchResponse struct {
	Results         []sceneRecord `json:"results"`
	TotalHits       int           `json:"totalHits"`
	RecordsReturned int           `json:"recordsReturned"`
	NextRecord      flexInt       `json:"nextRecord"`
}

type sceneRecord struct {
	EntityID    string    `json:"entityId"`
	DisplayID   string    `json:"displayId"`
	CloudCover  flexFloat `json:"cloudCover"`
	PublishDate string    `json:"publishDate"`
	Browse      []struct {
		BrowsePath    string `json:"browsePath"`
		ThumbnailPath string `json:"thumbnailPath"`
	} `json:"browse"`
}

func (r sceneRecord) toModel() model.Scene {
	s := model.Scene{
		EntityID:    r.EntityID,
		DisplayID:   r.DisplayID,
		CloudCover:  float64(r.CloudCover),
		PublishDate: parseServiceTime(r.PublishDate),
	}
	if len(r.Browse) > 0 {
		s.BrowseURL = r.Browse[0].BrowsePath
		s.ThumbnailURL = r.Browse[0].ThumbnailPath
	}
	return s
}

type downloadOptionRecord struct {
	ID             string  `json:"id"`
	EntityID       string  `json:"entityId"`
	DisplayID      string  `json:"displayId"`
	ProductName    string  `json:"productName"`
	DownloadSystem string  `json:"downloadSystem"`
	Available      bool    `json:"available"`
	FileSize       flexInt `json:"filesize"`
}

func fromBoundingBox(b *BoundingBox) *spatialFilter {
	if b == nil {
		return nil
	}
	return &spatialFilter{
		FilterType: "mbr",
		LowerLeft:  point{Latitude: b.MinLat, Longitude: b.MinLon},
		UpperRight: point{Latitude: b.MaxLat, Longitude: b.MaxLon},
	}
}

func fromDateRange(r *DateRange) *acquisitionFilter {
	if r == nil {
		return nil
	}
	f := &acquisitionFilter{Start: r.Start.Format(time.DateOnly)}
	if !r.End.IsZero() {
		f.End = r.End.Format(time.DateOnly)
	}
	return f
}

// flexFloat decodes a number, a numeric string, or null. Unknown is -1.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = -1
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = -1
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// flexInt decodes a number, a numeric string, or null as an int64.
type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexInt(v)
	return nil
}

var serviceTimeLayouts = []string{
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.DateOnly,
}

func parseServiceTime(s string) time.Time {
	for _, layout := range serviceTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
