package m2m

import "testing"

func TestOptionFilter_Match(t *testing.T) {
	def := DefaultOptionFilter()

	tests := []struct {
		name   string
		filter OptionFilter
		fields map[string]any
		want   bool
	}{
		{"dds available", def, map[string]any{"downloadSystem": "dds", "available": true}, true},
		{"ls_zip available", def, map[string]any{"downloadSystem": "ls_zip", "available": true}, true},
		{"unavailable", def, map[string]any{"downloadSystem": "dds", "available": false}, false},
		{"other system", def, map[string]any{"downloadSystem": "folder", "available": true}, false},
		{"missing field", def, map[string]any{"downloadSystem": "dds"}, false},
		{"wrong type", def, map[string]any{"downloadSystem": "dds", "available": "true"}, false},
		{"nil filter", nil, map[string]any{}, true},
		{"equals number", OptionFilter{"filesize": Equals(1024)}, map[string]any{"filesize": float64(1024)}, true},
		{"equals string", OptionFilter{"productName": Equals("L1")}, map[string]any{"productName": "L2"}, false},
		{"nil predicate", OptionFilter{"available": nil}, map[string]any{"available": true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(tt.fields); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	options := []DownloadOption{
		{ID: "a", Fields: map[string]any{"downloadSystem": "dds", "available": true}},
		{ID: "b", Fields: map[string]any{"downloadSystem": "dds", "available": false}},
		{ID: "c", Fields: map[string]any{"downloadSystem": "ls_zip", "available": true}},
	}

	got := Filter(options, DefaultOptionFilter())
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("Filter() kept %v", got)
	}
}
