package m2m

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/handiism/m2m-downloader/internal/model"
	"github.com/rs/zerolog"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	Logger zerolog.Logger
}

// Client performs typed catalog operations over an authenticated Session.
//
// NewClient loads the list of dataset aliases once. Operations that take
// a dataset name reject names outside that list with a *ValidationError
// before any request is sent.
//
// Example usage:
//
//	client, err := m2m.NewClient(ctx, session, m2m.ClientOptions{})
//	res, err := client.SearchScenes(ctx, "landsat_tm_c2_l1", m2m.SceneSearch{
//	    Spatial:    &m2m.BoundingBox{MinLon: -81.5, MinLat: 35.1, MaxLon: -80.5, MaxLat: 36.1},
//	    MaxResults: 100,
//	})
type Client struct {
	session  *Session
	logger   zerolog.Logger
	datasets []string
	known    map[string]bool
}

// NewClient fetches the dataset list through session and returns a Client.
// session must already be authenticated.
func NewClient(ctx context.Context, session *Session, opts ClientOptions) (*Client, error) {
	var all []Dataset
	if err := session.Send(ctx, "dataset-search", nil, &all); err != nil {
		return nil, err
	}

	c := &Client{
		session: session,
		logger:  opts.Logger,
		known:   make(map[string]bool, len(all)),
	}
	for _, d := range all {
		if d.Alias == "" || c.known[d.Alias] {
			continue
		}
		c.known[d.Alias] = true
		c.datasets = append(c.datasets, d.Alias)
	}
	sort.Strings(c.datasets)

	c.logger.Debug().Int("datasets", len(c.datasets)).Msg("loaded dataset list")
	return c, nil
}

// Session returns the session the client sends requests through.
func (c *Client) Session() *Session {
	return c.session
}

// Datasets returns the known dataset aliases, sorted.
func (c *Client) Datasets() []string {
	return slices.Clone(c.datasets)
}

// ValidateDataset returns a *ValidationError unless name is a known dataset.
func (c *Client) ValidateDataset(name string) error {
	if !c.known[name] {
		return &ValidationError{Field: "dataset", Value: name, Allowed: c.Datasets()}
	}
	return nil
}

func validateLabel(label string) error {
	if label == "" {
		return &ValidationError{Field: "label", Value: label}
	}
	return nil
}

// Permissions returns the access rights of the authenticated user.
func (c *Client) Permissions(ctx context.Context) ([]string, error) {
	var perms []string
	if err := c.session.Send(ctx, "permissions", nil, &perms); err != nil {
		return nil, err
	}
	return perms, nil
}

// SearchDatasets lists datasets matching q.
func (c *Client) SearchDatasets(ctx context.Context, q DatasetSearch) ([]Dataset, error) {
	payload := map[string]any{}
	if q.Name != "" {
		payload["datasetName"] = q.Name
	}
	if f := fromBoundingBox(q.Spatial); f != nil {
		payload["spatialFilter"] = f
	}
	if f := fromDateRange(q.Acquisition); f != nil {
		payload["temporalFilter"] = f
	}

	var datasets []Dataset
	if err := c.session.Send(ctx, "dataset-search", payload, &datasets); err != nil {
		return nil, err
	}
	return datasets, nil
}

// SearchScenes searches dataset for scenes matching q.
//
// When the service matched more scenes than it returned, a warning is
// logged; callers can check Truncated and raise MaxResults.
func (c *Client) SearchScenes(ctx context.Context, dataset string, q SceneSearch) (*SceneSearchResult, error) {
	if err := c.ValidateDataset(dataset); err != nil {
		return nil, err
	}
	if err := q.validate(); err != nil {
		return nil, err
	}

	req := sceneSearchRequest{
		DatasetName:    dataset,
		MaxResults:     q.MaxResults,
		StartingNumber: q.StartingNumber,
	}
	if q.Spatial != nil || q.Acquisition != nil || q.CloudCover != nil {
		req.SceneFilter = &sceneFilter{
			SpatialFilter:     fromBoundingBox(q.Spatial),
			AcquisitionFilter: fromDateRange(q.Acquisition),
		}
		if cc := q.CloudCover; cc != nil {
			req.SceneFilter.CloudCoverFilter = &cloudCoverFilter{Min: cc.Min, Max: cc.Max, IncludeUnknown: cc.IncludeUnknown}
		}
	}

	var resp sceneSearchResponse
	if err := c.session.Send(ctx, "scene-search", req, &resp); err != nil {
		return nil, err
	}

	result := &SceneSearchResult{
		Scenes:          make([]model.Scene, 0, len(resp.Results)),
		TotalHits:       resp.TotalHits,
		RecordsReturned: resp.RecordsReturned,
		NextRecord:      int(resp.NextRecord),
	}
	for _, r := range resp.Results {
		result.Scenes = append(result.Scenes, r.toModel())
	}

	if result.Truncated() {
		c.logger.Warn().
			Str("dataset", dataset).
			Int("total_hits", result.TotalHits).
			Int("records_returned", result.RecordsReturned).
			Msg("more hits than returned records")
	}
	return result, nil
}

func formatRange(r *DateRange) string {
	return r.Start.Format("2006-01-02") + ".." + r.End.Format("2006-01-02")
}

func formatCloud(cc *CloudCoverRange) string {
	return fmt.Sprintf("%d..%d", cc.Min, cc.Max)
}

func (q SceneSearch) validate() error {
	if b := q.Spatial; b != nil {
		if b.MinLat > b.MaxLat || b.MinLon > b.MaxLon ||
			b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
			return &ValidationError{Field: "bounding box", Value: b.String()}
		}
	}
	if r := q.Acquisition; r != nil {
		if r.Start.IsZero() || (!r.End.IsZero() && r.End.Before(r.Start)) {
			return &ValidationError{Field: "acquisition range", Value: formatRange(r)}
		}
	}
	if cc := q.CloudCover; cc != nil {
		if cc.Min < 0 || cc.Max > 100 || cc.Min > cc.Max {
			return &ValidationError{Field: "cloud cover range", Value: formatCloud(cc)}
		}
	}
	if q.MaxResults < 0 {
		return &ValidationError{Field: "max results", Value: fmt.Sprint(q.MaxResults)}
	}
	return nil
}

// SceneListAdd adds entityIDs of dataset to the scene list named label,
// creating the list if needed.
func (c *Client) SceneListAdd(ctx context.Context, label, dataset string, entityIDs []string) error {
	if err := c.ValidateDataset(dataset); err != nil {
		return err
	}
	if err := validateLabel(label); err != nil {
		return err
	}
	return c.session.Send(ctx, "scene-list-add", map[string]any{
		"listId":      label,
		"datasetName": dataset,
		"entityIds":   entityIDs,
	}, nil)
}

// SceneListGet returns the members of the scene list named label.
func (c *Client) SceneListGet(ctx context.Context, label string) ([]ListedScene, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}
	var scenes []ListedScene
	if err := c.session.Send(ctx, "scene-list-get", map[string]any{"listId": label}, &scenes); err != nil {
		return nil, err
	}
	return scenes, nil
}

// SceneListRemove deletes the scene list named label.
func (c *Client) SceneListRemove(ctx context.Context, label string) error {
	if err := validateLabel(label); err != nil {
		return err
	}
	return c.session.Send(ctx, "scene-list-remove", map[string]any{"listId": label}, nil)
}

// DownloadOptions lists the products of the selected scenes of dataset
// and keeps those that pass filter.
func (c *Client) DownloadOptions(ctx context.Context, dataset string, req DownloadOptionsRequest, filter OptionFilter) ([]DownloadOption, error) {
	if err := c.ValidateDataset(dataset); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"datasetName":                dataset,
		"includeSecondaryFileGroups": req.IncludeSecondaryFileGroups,
	}
	if req.ListID != "" {
		payload["listId"] = req.ListID
	}
	if len(req.EntityIDs) > 0 {
		payload["entityIds"] = req.EntityIDs
	}

	var raw []json.RawMessage
	if err := c.session.Send(ctx, "download-options", payload, &raw); err != nil {
		return nil, err
	}

	options := make([]DownloadOption, 0, len(raw))
	for _, r := range raw {
		var rec downloadOptionRecord
		var fields map[string]any
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, &APIError{Endpoint: "download-options", Status: statusOK, Message: "decode option: " + err.Error()}
		}
		if err := json.Unmarshal(r, &fields); err != nil {
			return nil, &APIError{Endpoint: "download-options", Status: statusOK, Message: "decode option: " + err.Error()}
		}
		options = append(options, DownloadOption{
			ID:             rec.ID,
			EntityID:       rec.EntityID,
			DisplayID:      rec.DisplayID,
			ProductName:    rec.ProductName,
			DownloadSystem: rec.DownloadSystem,
			Available:      rec.Available,
			FileSize:       int64(rec.FileSize),
			Fields:         fields,
		})
	}

	filtered := Filter(options, filter)
	c.logger.Debug().
		Str("dataset", dataset).
		Int("options", len(options)).
		Int("eligible", len(filtered)).
		Msg("download options")
	return filtered, nil
}

// DownloadRequest orders offers under label.
func (c *Client) DownloadRequest(ctx context.Context, offers []model.Offer, label string) (*DownloadOrder, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}
	var order DownloadOrder
	if err := c.session.Send(ctx, "download-request", map[string]any{
		"downloads": offers,
		"label":     label,
	}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// DownloadRetrieve returns the available and still requested downloads
// of the order named label.
func (c *Client) DownloadRetrieve(ctx context.Context, label string) (*RetrieveResult, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}
	var res RetrieveResult
	if err := c.session.Send(ctx, "download-retrieve", map[string]any{"label": label}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DownloadSearch lists the downloads of the order named label, or of all
// orders when label is empty.
func (c *Client) DownloadSearch(ctx context.Context, label string) ([]DownloadRecord, error) {
	payload := map[string]any{}
	if label != "" {
		payload["label"] = label
	}
	var records []DownloadRecord
	if err := c.session.Send(ctx, "download-search", payload, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// DownloadOrderRemove deletes the order named label.
func (c *Client) DownloadOrderRemove(ctx context.Context, label string) error {
	if err := validateLabel(label); err != nil {
		return err
	}
	return c.session.Send(ctx, "download-order-remove", map[string]any{"label": label}, nil)
}
