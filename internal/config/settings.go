package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/handiism/m2m-downloader/internal/http"
	"github.com/handiism/m2m-downloader/internal/m2m"
	"github.com/handiism/m2m-downloader/internal/model"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Settings holds all configuration options.
// Durations are in seconds.
type Settings struct {
	// Service settings
	ServiceURL string `json:"service_url" yaml:"service_url"`
	Dataset    string `json:"dataset" yaml:"dataset"`
	Username   string `json:"username" yaml:"username"`

	// Download settings
	DownloadsPath          string  `json:"downloads_path" yaml:"downloads_path"`
	FileNameFormat         string  `json:"file_name_format" yaml:"file_name_format"`
	MaxConcurrentDownloads int     `json:"max_concurrent_downloads" yaml:"max_concurrent_downloads"`
	DownloadMaxRetries     int     `json:"download_max_retries" yaml:"download_max_retries"`
	DownloadRetryDelay     float64 `json:"download_retry_delay" yaml:"download_retry_delay"`
	DownloadStartJitter    float64 `json:"download_start_jitter" yaml:"download_start_jitter"`

	// Request settings
	RequestTimeout      float64 `json:"request_timeout" yaml:"request_timeout"`
	RequestMaxRetries   int     `json:"request_max_retries" yaml:"request_max_retries"`
	RequestRetryBackoff float64 `json:"request_retry_backoff" yaml:"request_retry_backoff"`
	RequestRetryJitter  float64 `json:"request_retry_jitter" yaml:"request_retry_jitter"`
	RequestsPerSecond   float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// Order settings
	LabelPrefix                string   `json:"label_prefix" yaml:"label_prefix"`
	PollInterval               float64  `json:"poll_interval" yaml:"poll_interval"`
	MaxPolls                   int      `json:"max_polls" yaml:"max_polls"`
	DownloadSystems            []string `json:"download_systems" yaml:"download_systems"`
	RequireAvailable           bool     `json:"require_available" yaml:"require_available"`
	IncludeSecondaryFileGroups bool     `json:"include_secondary_file_groups" yaml:"include_secondary_file_groups"`

	// Search settings
	MaxResults    int `json:"max_results" yaml:"max_results"`
	MinCloudCover int `json:"min_cloud_cover" yaml:"min_cloud_cover"`
	MaxCloudCover int `json:"max_cloud_cover" yaml:"max_cloud_cover"`

	// Browse preview settings
	SaveBrowse    bool `json:"save_browse" yaml:"save_browse"`
	BrowseMaxSize int  `json:"browse_max_size" yaml:"browse_max_size"`

	// Manifest settings
	WriteManifest  bool   `json:"write_manifest" yaml:"write_manifest"`
	ManifestFormat string `json:"manifest_format" yaml:"manifest_format"` // json, list

	// Extraction settings
	ExtractPath  string   `json:"extract_path" yaml:"extract_path"`
	ExtractBands []string `json:"extract_bands" yaml:"extract_bands"`

	// Publish settings
	PublishURL    string `json:"publish_url" yaml:"publish_url"`
	PublishPrefix string `json:"publish_prefix" yaml:"publish_prefix"`

	// Proxy settings
	ProxyURL string `json:"proxy_url" yaml:"proxy_url"`

	// Logging
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	return &Settings{
		ServiceURL: m2m.DefaultServiceURL,

		DownloadsPath:          filepath.Join("data", "raw", "landsat"),
		FileNameFormat:         model.DefaultFileNameFormat,
		MaxConcurrentDownloads: 10,
		DownloadMaxRetries:     3,
		DownloadRetryDelay:     5,
		DownloadStartJitter:    3,

		RequestTimeout:      600,
		RequestMaxRetries:   5,
		RequestRetryBackoff: 1,
		RequestRetryJitter:  2,

		LabelPrefix:      "m2m-api_download",
		PollInterval:     10,
		MaxPolls:         360,
		DownloadSystems:  []string{"dds", "ls_zip"},
		RequireAvailable: true,

		MaxResults:    100,
		MinCloudCover: 0,
		MaxCloudCover: 100,

		BrowseMaxSize:  512,
		WriteManifest:  true,
		ManifestFormat: "json",

		ExtractBands: []string{"B3", "B4"},

		LogLevel: "info",
	}
}

// Load reads settings from a JSON or YAML file, chosen by extension.
// A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if isYAML(path) {
		err = yaml.Unmarshal(data, settings)
	} else {
		err = json.Unmarshal(data, settings)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return settings, nil
}

// Save writes settings to a JSON or YAML file, chosen by extension.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(s)
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "M2M_"

// LoadFromEnv overrides settings with M2M_-prefixed environment variables:
// SERVICE_URL, DATASET, USERNAME, DOWNLOADS_PATH, WORKERS, POLL_INTERVAL,
// MAX_POLLS, LABEL_PREFIX, PUBLISH_URL, PROXY_URL and LOG_LEVEL.
// Unset variables leave the current value.
func (s *Settings) LoadFromEnv() error {
	strs := map[string]*string{
		"SERVICE_URL":    &s.ServiceURL,
		"DATASET":        &s.Dataset,
		"USERNAME":       &s.Username,
		"DOWNLOADS_PATH": &s.DownloadsPath,
		"LABEL_PREFIX":   &s.LabelPrefix,
		"PUBLISH_URL":    &s.PublishURL,
		"PROXY_URL":      &s.ProxyURL,
		"LOG_LEVEL":      &s.LogLevel,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	var errs []error
	ints := map[string]*int{
		"WORKERS":   &s.MaxConcurrentDownloads,
		"MAX_POLLS": &s.MaxPolls,
	}
	for name, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				continue
			}
			*dst = n
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "POLL_INTERVAL"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sPOLL_INTERVAL: %w", EnvPrefix, err))
		} else {
			s.PollInterval = f
		}
	}

	return errors.Join(errs...)
}

// Validate reports every setting that cannot be used.
func (s *Settings) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(s.ServiceURL != "", "service_url is empty")
	check(s.DownloadsPath != "", "downloads_path is empty")
	check(s.MaxConcurrentDownloads > 0, "max_concurrent_downloads must be positive, got %d", s.MaxConcurrentDownloads)
	check(s.DownloadMaxRetries >= 0, "download_max_retries must not be negative, got %d", s.DownloadMaxRetries)
	check(s.DownloadRetryDelay >= 0, "download_retry_delay must not be negative")
	check(s.DownloadStartJitter >= 0, "download_start_jitter must not be negative")
	check(s.RequestTimeout > 0, "request_timeout must be positive")
	check(s.RequestMaxRetries > 0, "request_max_retries must be positive, got %d", s.RequestMaxRetries)
	check(s.RequestRetryBackoff >= 0 && s.RequestRetryJitter >= 0, "request retry backoff and jitter must not be negative")
	check(s.RequestsPerSecond >= 0, "requests_per_second must not be negative")
	check(s.PollInterval > 0, "poll_interval must be positive")
	check(s.MaxPolls > 0, "max_polls must be positive, got %d", s.MaxPolls)
	check(s.LabelPrefix != "", "label_prefix is empty")
	check(s.MaxResults > 0, "max_results must be positive, got %d", s.MaxResults)
	check(s.MinCloudCover >= 0 && s.MaxCloudCover <= 100 && s.MinCloudCover <= s.MaxCloudCover,
		"cloud cover range %d..%d is invalid", s.MinCloudCover, s.MaxCloudCover)
	check(!s.SaveBrowse || s.BrowseMaxSize > 0, "browse_max_size must be positive")
	check(s.ManifestFormat == "" || s.ManifestFormat == "json" || s.ManifestFormat == "list",
		"manifest_format must be json or list, got %q", s.ManifestFormat)

	return errors.Join(errs...)
}

// ToPathConfig converts settings to PathConfig.
func (s *Settings) ToPathConfig() *model.PathConfig {
	return &model.PathConfig{
		DownloadsPath:  s.DownloadsPath,
		FileNameFormat: s.FileNameFormat,
	}
}

// ToHTTPOptions converts settings to transport options.
func (s *Settings) ToHTTPOptions(logger zerolog.Logger) http.Options {
	opts := http.DefaultOptions()
	opts.Timeout = seconds(s.RequestTimeout)
	opts.RetryAttempts = s.RequestMaxRetries
	opts.RetryBackoff = seconds(s.RequestRetryBackoff)
	opts.RetryJitter = seconds(s.RequestRetryJitter)
	opts.RequestsPerSecond = s.RequestsPerSecond
	opts.ProxyURL = s.ProxyURL
	opts.Logger = logger
	return opts
}

// ToOptionFilter builds the download option filter.
func (s *Settings) ToOptionFilter() m2m.OptionFilter {
	f := m2m.OptionFilter{}
	if len(s.DownloadSystems) > 0 {
		f["downloadSystem"] = m2m.OneOf(s.DownloadSystems...)
	}
	if s.RequireAvailable {
		f["available"] = m2m.IsTrue()
	}
	return f
}

// CloudCover returns the cloud cover filter, or nil when it admits everything.
func (s *Settings) CloudCover() *m2m.CloudCoverRange {
	if s.MinCloudCover <= 0 && s.MaxCloudCover >= 100 {
		return nil
	}
	return &m2m.CloudCoverRange{Min: s.MinCloudCover, Max: s.MaxCloudCover}
}

// Duration accessors.

func (s *Settings) DownloadRetryDelayDuration() time.Duration  { return seconds(s.DownloadRetryDelay) }
func (s *Settings) DownloadStartJitterDuration() time.Duration { return seconds(s.DownloadStartJitter) }
func (s *Settings) PollIntervalDuration() time.Duration        { return seconds(s.PollInterval) }

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
