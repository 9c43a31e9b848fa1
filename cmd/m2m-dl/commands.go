package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/handiism/m2m-downloader/internal/config"
	"github.com/handiism/m2m-downloader/internal/download"
	"github.com/handiism/m2m-downloader/internal/extract"
	"github.com/handiism/m2m-downloader/internal/http"
	"github.com/handiism/m2m-downloader/internal/logging"
	"github.com/handiism/m2m-downloader/internal/m2m"
	"github.com/handiism/m2m-downloader/internal/model"
	"github.com/handiism/m2m-downloader/internal/publish"
	"github.com/rs/zerolog"
	cli "gopkg.in/urfave/cli.v1"
)

var searchFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "dataset, d",
		Usage: "Dataset alias, e.g. landsat_tm_c2_l1",
	},
	cli.StringFlag{
		Name:  "bbox",
		Usage: "Bounding box as minLon,minLat,maxLon,maxLat",
	},
	cli.StringFlag{
		Name:  "start",
		Usage: "First acquisition date (YYYY-MM-DD)",
	},
	cli.StringFlag{
		Name:  "end",
		Usage: "Last acquisition date (YYYY-MM-DD)",
	},
	cli.IntFlag{
		Name:  "max-results",
		Usage: "Maximum number of scenes returned",
	},
	cli.IntFlag{
		Name:  "min-cloud",
		Usage: "Minimum cloud cover in percent",
	},
	cli.IntFlag{
		Name:  "max-cloud",
		Usage: "Maximum cloud cover in percent",
	},
}

func newCommands(ctx context.Context) cli.Commands {
	return cli.Commands{
		cli.Command{
			Name:    "datasets",
			Aliases: []string{"ds"},
			Usage:   "List datasets visible to the account",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "name", Usage: "Dataset name filter"},
			},
			Action: func(c *cli.Context) error { return datasetsAction(ctx, c) },
		},
		cli.Command{
			Name:   "search",
			Usage:  "Search scenes of a dataset",
			Flags:  append(searchFlags, cli.BoolFlag{Name: "json", Usage: "Print scenes as JSON"}),
			Action: func(c *cli.Context) error { return searchAction(ctx, c) },
		},
		cli.Command{
			Name:      "download",
			Aliases:   []string{"dl"},
			Usage:     "Order and download scenes by search or by entity ID",
			ArgsUsage: "[entity ID...]",
			Flags: append(searchFlags,
				cli.StringFlag{Name: "label", Usage: "Scene list and order label"},
				cli.StringFlag{Name: "output, o", Usage: "Output directory (overrides config)"},
				cli.BoolFlag{Name: "browse", Usage: "Save browse images next to the archives"},
				cli.StringFlag{Name: "publish", Usage: "Bucket URL receiving verified archives, e.g. gs://bucket"},
			),
			Action: func(c *cli.Context) error { return downloadAction(ctx, c) },
		},
		cli.Command{
			Name:      "extract",
			Aliases:   []string{"x"},
			Usage:     "Extract band rasters from downloaded archives",
			ArgsUsage: "[archive...]",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "dir", Usage: "Extract every complete archive in this directory"},
				cli.StringSliceFlag{Name: "band, b", Usage: "Band to extract, repeatable (default B3 and B4)"},
				cli.StringFlag{Name: "output, o", Usage: "Destination directory"},
			},
			Action: func(c *cli.Context) error { return extractAction(ctx, c) },
		},
		cli.Command{
			Name:   "permissions",
			Usage:  "Show the access rights of the account",
			Action: func(c *cli.Context) error { return permissionsAction(ctx, c) },
		},
		cli.Command{
			Name:   "logout",
			Usage:  "Invalidate and forget the stored token",
			Action: func(c *cli.Context) error { return logoutAction(ctx, c) },
		},
	}
}

// loadSettings reads settings from --config, the environment and global
// flags, in that order.
func loadSettings(c *cli.Context) (*config.Settings, error) {
	settings := config.DefaultSettings()
	if path := c.GlobalString("config"); path != "" {
		var err error
		if settings, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := settings.LoadFromEnv(); err != nil {
		return nil, err
	}
	if url := c.GlobalString("service-url"); url != "" {
		settings.ServiceURL = url
	}
	if user := c.GlobalString("username"); user != "" {
		settings.Username = user
	}
	if c.GlobalBool("verbose") {
		settings.LogLevel = "debug"
	}
	return settings, settings.Validate()
}

func newLogger(settings *config.Settings) zerolog.Logger {
	return logging.New(logging.Options{Level: settings.LogLevel, Pretty: true})
}

// connect authenticates and returns a catalog client. The token is stored
// for later runs; missing credentials are prompted for on the terminal.
func connect(ctx context.Context, c *cli.Context, settings *config.Settings, logger zerolog.Logger) (*m2m.Client, *http.Client, error) {
	httpClient := http.NewClient(settings.ToHTTPOptions(logger))
	session := m2m.NewSession(settings.ServiceURL, m2m.SessionOptions{
		HTTP:     httpClient,
		Store:    config.NewCredentialStore(config.DefaultCredentialPath()),
		Prompter: m2m.NewTerminalPrompter(),
		Logger:   logger,
	})

	err := session.Authenticate(ctx, m2m.Credentials{
		Username: settings.Username,
		Password: c.GlobalString("password"),
		Token:    c.GlobalString("token"),
	})
	if err != nil {
		return nil, nil, err
	}

	client, err := m2m.NewClient(ctx, session, m2m.ClientOptions{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return client, httpClient, nil
}

func datasetsAction(ctx context.Context, c *cli.Context) error {
	settings, err := loadSettings(c)
	if err != nil {
		return err
	}
	client, _, err := connect(ctx, c, settings, newLogger(settings))
	if err != nil {
		return err
	}

	if name := c.String("name"); name != "" {
		datasets, err := client.SearchDatasets(ctx, m2m.DatasetSearch{Name: name})
		if err != nil {
			return err
		}
		for _, ds := range datasets {
			fmt.Printf("%-28s %s\n", ds.Alias, ds.CollectionName)
		}
		return nil
	}

	for _, alias := range client.Datasets() {
		fmt.Println(alias)
	}
	return nil
}

func permissionsAction(ctx context.Context, c *cli.Context) error {
	settings, err := loadSettings(c)
	if err != nil {
		return err
	}
	client, _, err := connect(ctx, c, settings, newLogger(settings))
	if err != nil {
		return err
	}

	perms, err := client.Permissions(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", client.Session().Username(), strings.Join(perms, ", "))
	return nil
}

// buildSearch applies the search flags on top of settings.
func buildSearch(c *cli.Context, settings *config.Settings) (string, m2m.SceneSearch, error) {
	var q m2m.SceneSearch

	dataset := c.String("dataset")
	if dataset == "" {
		dataset = settings.Dataset
	}
	if dataset == "" {
		return "", q, errors.New("a dataset is required (--dataset or M2M_DATASET)")
	}

	bbox, err := m2m.ParseBoundingBox(c.String("bbox"))
	if err != nil {
		return "", q, err
	}
	acquisition, err := m2m.ParseDateRange(c.String("start"), c.String("end"))
	if err != nil {
		return "", q, err
	}

	if c.IsSet("max-results") {
		settings.MaxResults = c.Int("max-results")
	}
	if c.IsSet("min-cloud") {
		settings.MinCloudCover = c.Int("min-cloud")
	}
	if c.IsSet("max-cloud") {
		settings.MaxCloudCover = c.Int("max-cloud")
	}
	if err := settings.Validate(); err != nil {
		return "", q, err
	}

	q.Spatial = bbox
	q.Acquisition = acquisition
	q.CloudCover = settings.CloudCover()
	q.MaxResults = settings.MaxResults
	return dataset, q, nil
}

type sceneRow struct {
	EntityID   string  `json:"entityId"`
	DisplayID  string  `json:"displayId"`
	CloudCover float64 `json:"cloudCover"`
	Acquired   string  `json:"acquired,omitempty"`
	Browse     string  `json:"browse,omitempty"`
}

func toRow(s model.Scene) sceneRow {
	row := sceneRow{EntityID: s.EntityID, DisplayID: s.DisplayID, CloudCover: s.CloudCover, Browse: s.BrowseURL}
	if t, err := s.AcquisitionDate(); err == nil {
		row.Acquired = t.Format(m2m.DateLayout)
	}
	return row
}

func searchAction(ctx context.Context, c *cli.Context) error {
	settings, err := loadSettings(c)
	if err != nil {
		return err
	}
	dataset, q, err := buildSearch(c, settings)
	if err != nil {
		return err
	}
	client, _, err := connect(ctx, c, settings, newLogger(settings))
	if err != nil {
		return err
	}

	result, err := client.SearchScenes(ctx, dataset, q)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		rows := make([]sceneRow, 0, len(result.Scenes))
		for _, s := range result.Scenes {
			rows = append(rows, toRow(s))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	for _, s := range result.Scenes {
		row := toRow(s)
		fmt.Printf("%-44s %-24s %6.2f  %s\n", row.DisplayID, row.EntityID, row.CloudCover, row.Acquired)
	}
	if result.Truncated() {
		fmt.Fprintf(os.Stderr, "%d of %d scenes shown, raise --max-results to see more\n", result.RecordsReturned, result.TotalHits)
	}
	return nil
}

func downloadAction(ctx context.Context, c *cli.Context) error {
	settings, err := loadSettings(c)
	if err != nil {
		return err
	}
	if out := c.String("output"); out != "" {
		settings.DownloadsPath = out
	}
	if c.Bool("browse") {
		settings.SaveBrowse = true
	}
	if url := c.String("publish"); url != "" {
		settings.PublishURL = url
	}

	dataset, q, err := buildSearch(c, settings)
	if err != nil {
		return err
	}

	logger := newLogger(settings)
	client, httpClient, err := connect(ctx, c, settings, logger)
	if err != nil {
		return err
	}

	var scenes []model.Scene
	if c.NArg() > 0 {
		for _, id := range c.Args() {
			scenes = append(scenes, model.Scene{EntityID: id})
		}
	} else {
		result, err := client.SearchScenes(ctx, dataset, q)
		if err != nil {
			return err
		}
		if result.Truncated() {
			fmt.Printf("⚠️  %d scenes matched, only the first %d are downloaded\n", result.TotalHits, result.RecordsReturned)
		}
		scenes = result.Scenes
	}
	if len(scenes) == 0 {
		fmt.Println("No scenes matched.")
		return nil
	}

	opts := download.ManagerOptions{
		HTTP:       httpClient,
		Logger:     logger,
		OnProgress: printProgress(c.GlobalBool("verbose")),
	}
	if settings.PublishURL != "" {
		pub, err := publish.Open(ctx, settings.PublishURL, publish.Options{Prefix: settings.PublishPrefix, Logger: logger})
		if err != nil {
			return err
		}
		defer pub.Close()
		opts.Publisher = pub
	}

	manager := download.NewManager(settings, client, opts)

	fmt.Printf("📥 Retrieving %d scene(s) of %s\n\n", len(scenes), dataset)
	res, err := manager.RetrieveScenes(ctx, dataset, scenes, download.RetrieveOptions{Label: c.String("label")})
	if res != nil {
		printSummary(manager, res)
	}
	return err
}

func printProgress(verbose bool) func(download.ProgressEvent) {
	return func(event download.ProgressEvent) {
		if event.Level == download.LevelVerbose && !verbose {
			return
		}

		prefix := ""
		switch event.Level {
		case download.LevelError:
			prefix = "❌ "
		case download.LevelWarning:
			prefix = "⚠️  "
		case download.LevelSuccess:
			prefix = "✅ "
		case download.LevelInfo:
			prefix = "ℹ️  "
		default:
			prefix = "   "
		}

		fmt.Println(prefix + event.Message)
	}
}

func printSummary(manager *download.Manager, res *download.Result) {
	received, total, filesReceived, filesTotal := manager.GetProgress()
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("✨ Downloaded %d/%d archives (%.2f MB)\n", filesReceived, filesTotal, float64(received)/1024/1024)
	if total > 0 && received < total {
		fmt.Printf("   (%.2f MB expected)\n", float64(total)/1024/1024)
	}
	if n := len(res.Skipped); n > 0 {
		fmt.Printf("   %d already available locally\n", n)
	}
	if n := len(res.Failed); n > 0 {
		fmt.Printf("   %d failed\n", n)
	}
	if n := len(res.Unmatched); n > 0 {
		fmt.Printf("   %d never matched a download record\n", n)
	}
	if res.ManifestPath != "" {
		fmt.Printf("   manifest: %s\n", res.ManifestPath)
	}
}

func extractAction(ctx context.Context, c *cli.Context) error {
	settings, err := loadSettings(c)
	if err != nil {
		return err
	}
	logger := newLogger(settings)

	bands := c.StringSlice("band")
	if len(bands) == 0 {
		bands = settings.ExtractBands
	}
	dest := c.String("output")
	if dest == "" {
		dest = settings.ExtractPath
	}

	x := extract.New(logger)

	if dir := c.String("dir"); dir != "" {
		if dest == "" {
			dest = dir
		}
		out, err := x.Directory(ctx, dir, dest, bands)
		for archive, files := range out {
			fmt.Printf("✅ %s: %d band(s)\n", archive, len(files))
		}
		return err
	}

	if c.NArg() == 0 {
		return errors.New("give archives to extract or --dir")
	}

	var errs []error
	for _, archive := range c.Args() {
		target := dest
		if target == "" {
			target = "."
		}
		files, err := x.Bands(ctx, archive, target, bands)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", archive, err)
			errs = append(errs, err)
			continue
		}
		for _, f := range files {
			fmt.Println(f)
		}
	}
	return errors.Join(errs...)
}

func logoutAction(ctx context.Context, c *cli.Context) error {
	settings, err := loadSettings(c)
	if err != nil {
		return err
	}
	logger := newLogger(settings)
	store := config.NewCredentialStore(config.DefaultCredentialPath())

	username, token, err := store.Load()
	if err != nil {
		return err
	}
	if token == "" {
		fmt.Println("Not logged in.")
		return nil
	}

	session := m2m.NewSession(settings.ServiceURL, m2m.SessionOptions{
		HTTP:   http.NewClient(settings.ToHTTPOptions(logger)),
		Logger: logger,
	})
	if settings.Username != "" {
		username = settings.Username
	}

	var logoutErr error
	if err := session.Authenticate(ctx, m2m.Credentials{Username: username, Token: token}); err != nil {
		logoutErr = err
	} else {
		logoutErr = session.Logout(ctx)
	}
	if err := store.Clear(); err != nil {
		return errors.Join(logoutErr, err)
	}
	if logoutErr != nil {
		return fmt.Errorf("stored token cleared, service logout failed: %w", logoutErr)
	}
	fmt.Printf("Logged out %s.\n", username)
	return nil
}
