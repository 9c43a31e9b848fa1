package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	assert.Equal(t, 10, s.MaxConcurrentDownloads)
	assert.Equal(t, 3, s.DownloadMaxRetries)
	assert.Equal(t, 5*time.Second, s.DownloadRetryDelayDuration())
	assert.Equal(t, 3*time.Second, s.DownloadStartJitterDuration())
	assert.Equal(t, 10*time.Second, s.PollIntervalDuration())
	assert.Equal(t, []string{"dds", "ls_zip"}, s.DownloadSystems)
	assert.Nil(t, s.CloudCover())
}

func TestLoad_MissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"dataset":"landsat_tm_c2_l1","max_concurrent_downloads":4}`), 0644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "landsat_tm_c2_l1", s.Dataset)
	assert.Equal(t, 4, s.MaxConcurrentDownloads)
	assert.Equal(t, 3, s.DownloadMaxRetries, "unset fields keep defaults")
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "dataset: landsat_ot_c2_l2\npoll_interval: 2.5\ndownload_systems:\n  - dds\nmax_cloud_cover: 20\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "landsat_ot_c2_l2", s.Dataset)
	assert.Equal(t, 2500*time.Millisecond, s.PollIntervalDuration())
	assert.Equal(t, []string{"dds"}, s.DownloadSystems)
	require.NotNil(t, s.CloudCover())
	assert.Equal(t, 20, s.CloudCover().Max)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"settings.json", "settings.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			s := DefaultSettings()
			s.Dataset = "landsat_tm_c2_l1"
			s.SaveBrowse = true
			require.NoError(t, s.Save(path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, s, loaded)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("M2M_DATASET", "landsat_ot_c2_l2")
	t.Setenv("M2M_WORKERS", "3")
	t.Setenv("M2M_POLL_INTERVAL", "0.5")
	t.Setenv("M2M_LOG_LEVEL", "debug")

	s := DefaultSettings()
	require.NoError(t, s.LoadFromEnv())
	assert.Equal(t, "landsat_ot_c2_l2", s.Dataset)
	assert.Equal(t, 3, s.MaxConcurrentDownloads)
	assert.Equal(t, 500*time.Millisecond, s.PollIntervalDuration())
	assert.Equal(t, "debug", s.LogLevel)
}

func TestLoadFromEnv_BadNumber(t *testing.T) {
	t.Setenv("M2M_WORKERS", "many")
	s := DefaultSettings()
	err := s.LoadFromEnv()
	assert.ErrorContains(t, err, "M2M_WORKERS")
	assert.Equal(t, 10, s.MaxConcurrentDownloads)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
	}{
		{"no workers", func(s *Settings) { s.MaxConcurrentDownloads = 0 }},
		{"negative retries", func(s *Settings) { s.DownloadMaxRetries = -1 }},
		{"zero poll interval", func(s *Settings) { s.PollInterval = 0 }},
		{"zero polls", func(s *Settings) { s.MaxPolls = 0 }},
		{"no timeout", func(s *Settings) { s.RequestTimeout = 0 }},
		{"inverted cloud cover", func(s *Settings) { s.MinCloudCover, s.MaxCloudCover = 50, 10 }},
		{"empty label prefix", func(s *Settings) { s.LabelPrefix = "" }},
		{"unknown manifest format", func(s *Settings) { s.ManifestFormat = "m3u" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestToOptionFilter(t *testing.T) {
	f := DefaultSettings().ToOptionFilter()
	assert.True(t, f.Match(map[string]any{"downloadSystem": "dds", "available": true}))
	assert.False(t, f.Match(map[string]any{"downloadSystem": "dds", "available": false}))

	s := DefaultSettings()
	s.RequireAvailable = false
	s.DownloadSystems = nil
	assert.True(t, s.ToOptionFilter().Match(map[string]any{}))
}

func TestToHTTPOptions(t *testing.T) {
	s := DefaultSettings()
	s.RequestsPerSecond = 2
	opts := s.ToHTTPOptions(zerologNop())
	assert.Equal(t, 10*time.Minute, opts.Timeout)
	assert.Equal(t, 5, opts.RetryAttempts)
	assert.Equal(t, time.Second, opts.RetryBackoff)
	assert.Equal(t, 2*time.Second, opts.RetryJitter)
	assert.Equal(t, 2.0, opts.RequestsPerSecond)
}
