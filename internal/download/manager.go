package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/handiism/m2m-downloader/internal/config"
	"github.com/handiism/m2m-downloader/internal/http"
	ioutils "github.com/handiism/m2m-downloader/internal/io"
	"github.com/handiism/m2m-downloader/internal/m2m"
	"github.com/handiism/m2m-downloader/internal/model"
	"github.com/rs/zerolog"
)

// ProgressLevel indicates the severity/type of a progress message.
type ProgressLevel int

const (
	LevelInfo ProgressLevel = iota
	LevelVerbose
	LevelWarning
	LevelError
	LevelSuccess
)

// ProgressEvent represents a download progress update.
type ProgressEvent struct {
	Message string
	Level   ProgressLevel
}

// Catalog is the subset of the catalog client used by the Manager.
// *m2m.Client implements it.
type Catalog interface {
	SceneListAdd(ctx context.Context, label, dataset string, entityIDs []string) error
	SceneListRemove(ctx context.Context, label string) error
	DownloadOptions(ctx context.Context, dataset string, req m2m.DownloadOptionsRequest, filter m2m.OptionFilter) ([]m2m.DownloadOption, error)
	DownloadRequest(ctx context.Context, offers []model.Offer, label string) (*m2m.DownloadOrder, error)
	DownloadRetrieve(ctx context.Context, label string) (*m2m.RetrieveResult, error)
	DownloadSearch(ctx context.Context, label string) ([]m2m.DownloadRecord, error)
	DownloadOrderRemove(ctx context.Context, label string) error
}

// Publisher copies a verified archive somewhere else after download.
type Publisher interface {
	Publish(ctx context.Context, path string) error
}

// ManagerOptions holds the collaborators of a Manager. Zero values are
// replaced with defaults built from the settings.
type ManagerOptions struct {
	HTTP       *http.Client
	Publisher  Publisher
	Logger     zerolog.Logger
	OnProgress func(ProgressEvent)
}

// RetrieveOptions configures one RetrieveScenes run.
type RetrieveOptions struct {
	// Label names the scene list and order. Default: settings label
	// prefix plus a random UUID.
	Label string

	// Filter selects download options. Default: built from settings.
	Filter m2m.OptionFilter

	// DownloadDir overrides the settings downloads path.
	DownloadDir string
}

// Result describes a finished RetrieveScenes run.
type Result struct {
	// Labels holds the run label followed by labels discovered through
	// duplicate products. Each was cleaned up at the end of the run.
	Labels []string

	// Requested is the number of offers submitted.
	Requested int

	// Meta is the download metadata, keyed by download ID.
	Meta map[model.DownloadID]*model.DownloadEntry

	Completed []JobResult
	Failed    []JobResult

	// Skipped lists downloads whose archive was already available locally.
	Skipped []model.DownloadID

	// Unmatched lists download IDs reported by the service that no
	// download search returned. They are logged and never fetched.
	Unmatched []model.DownloadID

	// ManifestPath is set when a manifest was written.
	ManifestPath string
}

// Manager coordinates scene retrieval: ordering, polling, concurrent
// fetching and cleanup of server-side state.
type Manager struct {
	settings     *config.Settings
	catalog      Catalog
	httpClient   *http.Client
	fetcher      *Fetcher
	manifest     *ManifestCreator
	imageService *ioutils.ImageService
	publisher    Publisher
	logger       zerolog.Logger

	totalBytes      int64
	receivedBytes   int64
	totalFiles      int32
	downloadedFiles int32
	transfers       map[string][2]int64

	onProgress func(ProgressEvent)
	sleep      func(ctx context.Context, d time.Duration) error
	mu         sync.Mutex
}

// NewManager creates a new download Manager.
func NewManager(settings *config.Settings, catalog Catalog, opts ManagerOptions) *Manager {
	if opts.HTTP == nil {
		opts.HTTP = http.NewClient(settings.ToHTTPOptions(opts.Logger))
	}

	var manifestFormat ManifestFormat
	switch settings.ManifestFormat {
	case "list":
		manifestFormat = ManifestList
	default:
		manifestFormat = ManifestJSON
	}

	m := &Manager{
		settings:     settings,
		catalog:      catalog,
		httpClient:   opts.HTTP,
		manifest:     NewManifestCreator(manifestFormat),
		imageService: ioutils.NewImageService(),
		publisher:    opts.Publisher,
		logger:       opts.Logger,
		transfers:    make(map[string][2]int64),
		onProgress:   opts.OnProgress,
		sleep:        sleepContext,
	}
	m.fetcher = NewFetcher(opts.HTTP, FetchOptions{
		MaxRetries:  settings.DownloadMaxRetries,
		RetryDelay:  settings.DownloadRetryDelayDuration(),
		StartJitter: settings.DownloadStartJitterDuration(),
		Progress:    m.trackBytes,
		Logger:      opts.Logger,
	})
	return m
}

// NewLabel returns a fresh label under the configured prefix.
func (m *Manager) NewLabel() string {
	return m.settings.LabelPrefix + "-" + uuid.NewString()
}

// GetProgress returns current download progress.
func (m *Manager) GetProgress() (received, total int64, filesReceived, filesTotal int32) {
	return atomic.LoadInt64(&m.receivedBytes), atomic.LoadInt64(&m.totalBytes),
		atomic.LoadInt32(&m.downloadedFiles), atomic.LoadInt32(&m.totalFiles)
}

// run carries the mutable state of one RetrieveScenes call. Only the
// coordinating goroutine touches it.
type run struct {
	pathCfg   *model.PathConfig
	pool      *Pool
	res       *Result
	seen      map[string]bool
	accounted map[model.DownloadID]bool
	unmatched map[model.DownloadID]bool

	// claimed maps each local path to the download writing it.
	claimed map[string]model.DownloadID

	// own holds the downloads of this run's order and label. dupEntities
	// holds the entities of offered products another label already holds.
	own         map[model.DownloadID]bool
	dupEntities map[string]bool
	dupProducts int

	unmatchedEntity map[model.DownloadID]string
}

// done returns the number of requested downloads accounted for. Downloads
// of duplicate labels count only for the entities this run offered them
// for, and at most once per duplicate product.
func (r *run) done() int {
	owned, dup := 0, 0
	for id := range r.accounted {
		switch {
		case r.own[id]:
			owned++
		case r.dupEntities[r.entity(id)]:
			dup++
		}
	}
	return owned + min(dup, r.dupProducts)
}

func (r *run) account(label string, id model.DownloadID) {
	r.accounted[id] = true
	if label == r.res.Labels[0] {
		r.own[id] = true
	}
}

func (r *run) entity(id model.DownloadID) string {
	if e, ok := r.res.Meta[id]; ok {
		return e.EntityID
	}
	return r.unmatchedEntity[id]
}

// RetrieveScenes orders every eligible product of scenes and downloads it.
//
// The scenes are added to a scene list named by the run label, their
// download options are filtered, and the eligible products are requested.
// Labels of duplicate products join the run. If some downloads are still
// being prepared, every label is polled until all requested downloads are
// accounted for or the poll budget runs out; each download is handed to
// the worker pool as soon as its URL is known. Otherwise the available
// downloads are fetched directly.
//
// The order and scene list of every label are removed before returning,
// whatever the outcome. Failed files are reported in Result.Failed and do
// not make the run fail.
func (m *Manager) RetrieveScenes(ctx context.Context, dataset string, scenes []model.Scene, opts RetrieveOptions) (res *Result, err error) {
	label := opts.Label
	if label == "" {
		label = m.NewLabel()
	}
	filter := opts.Filter
	if filter == nil {
		filter = m.settings.ToOptionFilter()
	}
	pathCfg := m.settings.ToPathConfig()
	if opts.DownloadDir != "" {
		pathCfg.DownloadsPath = opts.DownloadDir
	}

	res = &Result{
		Labels: []string{label},
		Meta:   make(map[model.DownloadID]*model.DownloadEntry),
	}
	if len(scenes) == 0 {
		m.progress(ProgressEvent{Message: "No scenes to retrieve", Level: LevelInfo})
		return res, nil
	}

	log := m.logger.With().Str("label", label).Str("dataset", dataset).Logger()

	r := &run{
		pathCfg:         pathCfg,
		res:             res,
		seen:            map[string]bool{label: true},
		accounted:       make(map[model.DownloadID]bool),
		unmatched:       make(map[model.DownloadID]bool),
		claimed:         make(map[string]model.DownloadID),
		own:             make(map[model.DownloadID]bool),
		dupEntities:     make(map[string]bool),
		unmatchedEntity: make(map[model.DownloadID]string),
	}
	r.pool = NewPool(ctx, m.fetcher, m.settings.MaxConcurrentDownloads, m.jobDone)

	// A rejected add may still have created the list, so cleanup covers it too.
	defer func() {
		m.collect(res, r.pool.Wait())
		m.finish(ctx, res, scenes, pathCfg.DownloadsPath, label)
		if cerr := m.cleanup(context.WithoutCancel(ctx), res.Labels); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := m.catalog.SceneListAdd(ctx, label, dataset, model.EntityIDs(scenes)); err != nil {
		return res, fmt.Errorf("add scenes to list %s: %w", label, err)
	}

	options, err := m.catalog.DownloadOptions(ctx, dataset, m2m.DownloadOptionsRequest{
		ListID:                     label,
		IncludeSecondaryFileGroups: m.settings.IncludeSecondaryFileGroups,
	}, filter)
	if err != nil {
		return res, fmt.Errorf("download options: %w", err)
	}

	offers := m2m.Offers(options)
	res.Requested = len(offers)
	if res.Requested == 0 {
		log.Info().Msg("no download options found")
		m.progress(ProgressEvent{Message: "No download options found", Level: LevelWarning})
		return res, nil
	}

	log.Info().Int("requested", res.Requested).Msg("requesting downloads")
	m.progress(ProgressEvent{Message: fmt.Sprintf("Requesting %d downloads", res.Requested), Level: LevelInfo})

	order, err := m.catalog.DownloadRequest(ctx, offers, label)
	if err != nil {
		return res, fmt.Errorf("download request: %w", err)
	}

	for _, d := range order.AvailableDownloads {
		r.own[d.DownloadID] = true
	}
	for _, d := range order.PreparingDownloads {
		r.own[d.DownloadID] = true
	}
	for _, o := range offers {
		if _, ok := order.DuplicateProducts[o.ProductID]; ok {
			r.dupEntities[o.EntityID] = true
			r.dupProducts++
		}
	}

	for _, dup := range order.DuplicateProducts.Labels() {
		if !r.seen[dup] {
			r.seen[dup] = true
			res.Labels = append(res.Labels, dup)
			log.Info().Str("duplicate_label", dup).Msg("products already ordered under another label")
		}
	}

	for _, l := range res.Labels {
		if err := m.seed(ctx, r, l); err != nil {
			return res, err
		}
	}

	if !order.Pending() {
		m.dispatch(ctx, r, label, order.AvailableDownloads)
		// Duplicate products are only reachable through their own label.
		for _, l := range res.Labels[1:] {
			if err := m.sweepLabel(ctx, r, l, true); err != nil {
				return res, err
			}
		}
		return res, nil
	}

	return res, m.poll(ctx, r)
}

// poll sweeps every label until all requested downloads are accounted for.
// The first sweep also takes the requested downloads of each order.
func (m *Manager) poll(ctx context.Context, r *run) error {
	interval := m.settings.PollIntervalDuration()

	for polls := 0; ; polls++ {
		for _, l := range r.res.Labels {
			if err := m.sweepLabel(ctx, r, l, polls == 0); err != nil {
				return err
			}
		}

		remaining := r.res.Requested - r.done()
		if remaining <= 0 {
			return nil
		}
		if polls >= m.settings.MaxPolls {
			return fmt.Errorf("%w: %d of %d downloads still unavailable after %d polls",
				ErrPollBudgetExhausted, remaining, r.res.Requested, polls)
		}

		m.logger.Info().
			Int("preparing", remaining).
			Dur("wait", interval).
			Msg("downloads are not available yet")
		m.progress(ProgressEvent{
			Message: fmt.Sprintf("%d downloads are not available. Waiting %s...", remaining, interval),
			Level:   LevelVerbose,
		})

		if err := m.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func (m *Manager) sweepLabel(ctx context.Context, r *run, label string, withRequested bool) error {
	update, err := m.catalog.DownloadRetrieve(ctx, label)
	if err != nil {
		return fmt.Errorf("download retrieve %s: %w", label, err)
	}
	urls := update.Available
	if withRequested {
		urls = append(append([]m2m.DownloadURL(nil), update.Available...), update.Requested...)
	}
	m.dispatch(ctx, r, label, urls)
	return nil
}

// seed adds the download search results of label to the metadata.
// Existing entries are kept.
func (m *Manager) seed(ctx context.Context, r *run, label string) error {
	records, err := m.catalog.DownloadSearch(ctx, label)
	if err != nil {
		return fmt.Errorf("download search %s: %w", label, err)
	}
	for _, rec := range records {
		if _, ok := r.res.Meta[rec.DownloadID]; ok {
			continue
		}
		entry := rec.Entry()
		if entry.Label == "" {
			entry.Label = label
		}
		entry.LocalPath = entry.ComputePath(r.pathCfg)
		r.res.Meta[rec.DownloadID] = entry
	}
	return nil
}

// dispatch merges urls into the metadata and queues each newly available
// download. Entries without a URL are not ready and are left for a later sweep.
func (m *Manager) dispatch(ctx context.Context, r *run, label string, urls []m2m.DownloadURL) {
	refreshed := false

	for _, d := range urls {
		if d.URL == "" || r.accounted[d.DownloadID] {
			continue
		}

		entry, ok := r.res.Meta[d.DownloadID]
		if !ok && !refreshed {
			refreshed = true
			if err := m.seed(ctx, r, label); err != nil {
				m.logger.Warn().Err(err).Str("label", label).Msg("could not refresh download metadata")
			}
			entry, ok = r.res.Meta[d.DownloadID]
		}
		if !ok {
			if !r.unmatched[d.DownloadID] {
				r.unmatched[d.DownloadID] = true
				r.unmatchedEntity[d.DownloadID] = d.EntityID
				r.account(label, d.DownloadID)
				r.res.Unmatched = append(r.res.Unmatched, d.DownloadID)
				m.logger.Warn().
					Str("label", label).
					Str("download_id", string(d.DownloadID)).
					Str("url", d.URL).
					Msg("download not found in metadata, skipping")
				m.progress(ProgressEvent{Message: fmt.Sprintf("Download %s not found in metadata, skipping", d.DownloadID), Level: LevelWarning})
			}
			continue
		}

		r.account(label, d.DownloadID)
		if entry.Dispatched() {
			continue
		}
		entry.URL = d.URL

		if owner, ok := r.claimed[entry.LocalPath]; ok && owner != entry.DownloadID {
			m.conflict(r, entry, owner)
			continue
		}
		r.claimed[entry.LocalPath] = entry.DownloadID

		if ioutils.AvailableLocally(entry.LocalPath) {
			entry.Status = model.StatusLocal
			entry.Bytes, _ = ioutils.FileSize(entry.LocalPath)
			r.res.Skipped = append(r.res.Skipped, entry.DownloadID)
			atomic.AddInt32(&m.totalFiles, 1)
			atomic.AddInt32(&m.downloadedFiles, 1)
			m.progress(ProgressEvent{Message: fmt.Sprintf("Already available: %s", filepath.Base(entry.LocalPath)), Level: LevelVerbose})
			continue
		}

		if err := ctx.Err(); err != nil {
			entry.Status = model.StatusFailed
			entry.Error = err.Error()
			continue
		}

		entry.Status = model.StatusQueued
		atomic.AddInt32(&m.totalFiles, 1)
		if err := r.pool.Submit(Job{ID: entry.DownloadID, URL: entry.URL, Path: entry.LocalPath}); err != nil {
			entry.Status = model.StatusFailed
			entry.Error = err.Error()
			continue
		}
		m.progress(ProgressEvent{Message: fmt.Sprintf("Queued %s", entry.DisplayID), Level: LevelVerbose})
	}
}

// conflict fails entry because owner already writes to its local path.
func (m *Manager) conflict(r *run, entry *model.DownloadEntry, owner model.DownloadID) {
	err := fmt.Errorf("%w: %s is the target of download %s", ErrPathConflict, entry.LocalPath, owner)
	entry.Status = model.StatusFailed
	entry.Error = err.Error()
	r.res.Failed = append(r.res.Failed, JobResult{
		Job: Job{ID: entry.DownloadID, URL: entry.URL, Path: entry.LocalPath},
		Err: err,
	})

	m.logger.Warn().
		Str("download_id", string(entry.DownloadID)).
		Str("owner", string(owner)).
		Str("path", entry.LocalPath).
		Msg("local path already claimed, add {downloadId} to the file name format")
	m.progress(ProgressEvent{
		Message: fmt.Sprintf("Skipping download %s: %s is already the target of download %s", entry.DownloadID, filepath.Base(entry.LocalPath), owner),
		Level:   LevelWarning,
	})
}

func (m *Manager) jobDone(jr JobResult) {
	if jr.Err != nil {
		m.logger.Error().
			Err(jr.Err).
			Str("download_id", string(jr.ID)).
			Str("url", jr.URL).
			Str("path", jr.Path).
			Msg("download failed")
		m.progress(ProgressEvent{Message: fmt.Sprintf("Error downloading %s: %v", filepath.Base(jr.Path), jr.Err), Level: LevelError})
		return
	}
	atomic.AddInt32(&m.downloadedFiles, 1)
	m.progress(ProgressEvent{Message: fmt.Sprintf("Downloaded: %s", filepath.Base(jr.Path)), Level: LevelSuccess})
}

// collect records pool results in the metadata. It runs after the pool
// has stopped, on the coordinating goroutine.
func (m *Manager) collect(res *Result, results []JobResult) {
	for _, jr := range results {
		entry := res.Meta[jr.ID]
		if jr.Err != nil {
			res.Failed = append(res.Failed, jr)
			if entry != nil {
				entry.Status = model.StatusFailed
				entry.Error = jr.Err.Error()
			}
			continue
		}
		res.Completed = append(res.Completed, jr)
		if entry != nil {
			entry.Status = model.StatusComplete
			entry.Bytes = jr.Result.Bytes
			if jr.Result.Skipped {
				entry.Status = model.StatusLocal
			}
		}
	}

	if len(res.Failed) == 0 && len(res.Completed)+len(res.Skipped) > 0 {
		m.progress(ProgressEvent{Message: fmt.Sprintf("All %d downloads finished", len(res.Completed)+len(res.Skipped)), Level: LevelSuccess})
	} else if len(res.Failed) > 0 {
		m.progress(ProgressEvent{Message: fmt.Sprintf("Finished, %d of %d downloads failed", len(res.Failed), len(res.Failed)+len(res.Completed)), Level: LevelWarning})
	}
}

// finish runs the optional post-download steps. Their failures are warnings.
func (m *Manager) finish(ctx context.Context, res *Result, scenes []model.Scene, dir, label string) {
	ctx = context.WithoutCancel(ctx)

	if m.settings.SaveBrowse {
		m.saveBrowse(ctx, scenes, dir)
	}

	if m.publisher != nil {
		for _, e := range sortedEntries(res.Meta) {
			if e.Status != model.StatusComplete && e.Status != model.StatusLocal {
				continue
			}
			if err := m.publisher.Publish(ctx, e.LocalPath); err != nil {
				m.progress(ProgressEvent{Message: fmt.Sprintf("Error publishing %s: %v", filepath.Base(e.LocalPath), err), Level: LevelWarning})
				continue
			}
			m.progress(ProgressEvent{Message: fmt.Sprintf("Published %s", filepath.Base(e.LocalPath)), Level: LevelVerbose})
		}
	}

	if m.settings.WriteManifest && len(res.Meta) > 0 {
		content, err := m.manifest.CreateManifest(label, res.Meta)
		if err == nil {
			path := m.manifest.Path(dir, label)
			if err = ioutils.EnsureDir(dir); err == nil {
				err = ioutils.WriteFileAtomic(ctx, path, content)
			}
			if err == nil {
				res.ManifestPath = path
			}
		}
		if err != nil {
			m.progress(ProgressEvent{Message: fmt.Sprintf("Error writing manifest: %v", err), Level: LevelWarning})
		}
	}
}

func (m *Manager) saveBrowse(ctx context.Context, scenes []model.Scene, dir string) {
	if err := ioutils.EnsureDir(dir); err != nil {
		m.progress(ProgressEvent{Message: fmt.Sprintf("Error creating directory: %v", err), Level: LevelWarning})
		return
	}

	for _, s := range scenes {
		if !s.HasBrowse() {
			continue
		}
		path := filepath.Join(dir, s.DisplayID+"_browse.jpg")
		if _, err := os.Stat(path); err == nil {
			continue
		}

		data, err := m.httpClient.Get(ctx, s.BrowseURL)
		if err == nil {
			data, err = m.imageService.ResizeImage(ctx, data, m.settings.BrowseMaxSize, m.settings.BrowseMaxSize)
		}
		if err == nil {
			err = ioutils.WriteFileAtomic(ctx, path, data)
		}
		if err != nil {
			m.progress(ProgressEvent{Message: fmt.Sprintf("Error saving browse image for %s: %v", s.DisplayID, err), Level: LevelWarning})
			continue
		}
		m.progress(ProgressEvent{Message: fmt.Sprintf("Saved browse image for %s", s.DisplayID), Level: LevelVerbose})
	}
}

// cleanup removes the order and scene list of every label. Every removal
// is attempted; failures are joined.
func (m *Manager) cleanup(ctx context.Context, labels []string) error {
	var errs []error
	for _, l := range labels {
		if err := m.catalog.DownloadOrderRemove(ctx, l); err != nil {
			errs = append(errs, fmt.Errorf("remove order %s: %w", l, err))
		}
		if err := m.catalog.SceneListRemove(ctx, l); err != nil {
			errs = append(errs, fmt.Errorf("remove scene list %s: %w", l, err))
		}
		m.logger.Debug().Str("label", l).Msg("removed order and scene list")
	}
	if len(errs) > 0 {
		m.logger.Error().Err(errors.Join(errs...)).Msg("cleanup incomplete")
	}
	return errors.Join(errs...)
}

// trackBytes converts per-attempt progress into global byte counters.
func (m *Manager) trackBytes(path string, written, total int64) {
	m.mu.Lock()
	prev := m.transfers[path]
	m.transfers[path] = [2]int64{written, total}
	m.mu.Unlock()

	atomic.AddInt64(&m.receivedBytes, written-prev[0])
	atomic.AddInt64(&m.totalBytes, total-prev[1])
}

func (m *Manager) progress(event ProgressEvent) {
	if m.onProgress != nil {
		m.onProgress(event)
	}
}
