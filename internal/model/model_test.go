package model

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"LT05_L1TP_016037_20010723_20161128_01_T1.tar", "LT05_L1TP_016037_20010723_20161128_01_T1.tar"},
		{"file:with:colons.tar", "file_with_colons.tar"},
		{"file<with>brackets.tar", "file_with_brackets.tar"},
		{"file\\with\\slashes.tar", "file_with_slashes.tar"},
		{"file|with|pipes.tar", "file_with_pipes.tar"},
		{"file?with*wildcards.tar", "file_with_wildcards.tar"},
		{"file\"with\"quotes.tar", "file_with_quotes.tar"},
		{"trailing dots...", "trailing dots"},
		{"multiple   spaces", "multiple spaces"},
		{"trailing spaces   ", "trailing spaces"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeFileName(tt.input)
			if got != tt.want {
				t.Errorf("sanitizeFileName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseAcquisitionDate(t *testing.T) {
	tests := []struct {
		displayID string
		want      time.Time
		wantErr   bool
	}{
		{"LT05_L1TP_016037_20010723_20161128_01_T1", time.Date(2001, 7, 23, 0, 0, 0, 0, time.UTC), false},
		{"LC08_L2SP_044034_20200104_20200823_02_T1", time.Date(2020, 1, 4, 0, 0, 0, 0, time.UTC), false},
		{"S2A_MSIL1C_20170105T013442_N0204_R031_T53NMJ_20170105T013443", time.Date(2017, 1, 5, 0, 0, 0, 0, time.UTC), false},
		{"LT50160372001204XXX01", time.Date(2001, 7, 23, 0, 0, 0, 0, time.UTC), false},
		{"not-a-product", time.Time{}, true},
		{"", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.displayID, func(t *testing.T) {
			got, err := ParseAcquisitionDate(tt.displayID)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseAcquisitionDate(%q) expected error, got %v", tt.displayID, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAcquisitionDate(%q): %v", tt.displayID, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseAcquisitionDate(%q) = %v, want %v", tt.displayID, got, tt.want)
			}
		})
	}
}

func TestScene_HasBrowse(t *testing.T) {
	if (Scene{}).HasBrowse() {
		t.Error("scene without browse URL should not report a browse")
	}
	if !(Scene{BrowseURL: "https://example.com/b.jpg"}).HasBrowse() {
		t.Error("scene with browse URL should report a browse")
	}
}

func TestEntityIDs(t *testing.T) {
	scenes := []Scene{{EntityID: "a"}, {EntityID: "b"}, {EntityID: "c"}}
	got := EntityIDs(scenes)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("EntityIDs() = %v", got)
	}
}

func TestDownloadEntry_ComputePath(t *testing.T) {
	entry := &DownloadEntry{
		DownloadID: "55",
		EntityID:   "LT50160372001204XXX01",
		DisplayID:  "LT05_L1TP_016037_20010723_20161128_01_T1",
	}

	tests := []struct {
		name   string
		format string
		want   string
	}{
		{"default", "", filepath.Join("/data", "LT05_L1TP_016037_20010723_20161128_01_T1.tar")},
		{"dated", "{year}/{month}/{displayId}.tar", filepath.Join("/data", "2001", "07", "LT05_L1TP_016037_20010723_20161128_01_T1.tar")},
		{"entity", "{entityId}-{day}.tar", filepath.Join("/data", "LT50160372001204XXX01-23.tar")},
		{"download id", "{displayId}_{downloadId}.tar", filepath.Join("/data", "LT05_L1TP_016037_20010723_20161128_01_T1_55.tar")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := entry.ComputePath(&PathConfig{DownloadsPath: "/data", FileNameFormat: tt.format})
			if got != tt.want {
				t.Errorf("ComputePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDownloadEntry_ComputePath_UnknownDate(t *testing.T) {
	entry := &DownloadEntry{DisplayID: "mystery"}
	got := entry.ComputePath(&PathConfig{DownloadsPath: "/data", FileNameFormat: "{year}/{displayId}.tar"})
	want := filepath.Join("/data", "unknown", "mystery.tar")
	if got != want {
		t.Errorf("ComputePath() = %q, want %q", got, want)
	}
}

func TestDownloadEntry_Dispatched(t *testing.T) {
	tests := []struct {
		status DownloadStatus
		want   bool
	}{
		{"", false},
		{StatusPending, false},
		{StatusQueued, true},
		{StatusLocal, true},
		{StatusComplete, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		e := &DownloadEntry{Status: tt.status}
		if got := e.Dispatched(); got != tt.want {
			t.Errorf("Dispatched() with status %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestDownloadID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input string
		want  DownloadID
	}{
		{`55`, "55"},
		{`"55"`, "55"},
		{`12345678901`, "12345678901"},
		{`null`, ""},
	}

	for _, tt := range tests {
		var id DownloadID
		if err := json.Unmarshal([]byte(tt.input), &id); err != nil {
			t.Errorf("Unmarshal(%s): %v", tt.input, err)
			continue
		}
		if id != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.input, id, tt.want)
		}
	}

	var id DownloadID
	if err := json.Unmarshal([]byte(`{}`), &id); err == nil {
		t.Error("expected error for object")
	}
}
