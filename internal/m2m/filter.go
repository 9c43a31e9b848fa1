package m2m

import (
	"reflect"
	"slices"
)

// Predicate tests one field of a download option. value is the field as
// decoded by encoding/json: string, float64, bool, nil, []any or map[string]any.
type Predicate func(value any) bool

// OptionFilter maps an option field name to the predicate it must satisfy.
// An option passes when every predicate holds; a missing field fails.
// A nil or empty filter passes every option.
type OptionFilter map[string]Predicate

// Match reports whether fields satisfy every predicate of f.
func (f OptionFilter) Match(fields map[string]any) bool {
	for name, pred := range f {
		value, ok := fields[name]
		if !ok || pred == nil || !pred(value) {
			return false
		}
	}
	return true
}

// DefaultOptionFilter keeps products delivered by the dds or ls_zip
// systems that are available now.
func DefaultOptionFilter() OptionFilter {
	return OptionFilter{
		"downloadSystem": OneOf("dds", "ls_zip"),
		"available":      IsTrue(),
	}
}

// OneOf matches string values equal to one of values.
func OneOf(values ...string) Predicate {
	return func(v any) bool {
		s, ok := v.(string)
		return ok && slices.Contains(values, s)
	}
}

// IsTrue matches the boolean true.
func IsTrue() Predicate {
	return func(v any) bool {
		b, ok := v.(bool)
		return ok && b
	}
}

// Equals matches values equal to want. Numbers compare as float64.
func Equals(want any) Predicate {
	return func(v any) bool {
		switch w := want.(type) {
		case int:
			f, ok := v.(float64)
			return ok && f == float64(w)
		case int64:
			f, ok := v.(float64)
			return ok && f == float64(w)
		}
		return reflect.DeepEqual(v, want)
	}
}

// Filter returns the options that pass f, preserving order.
func Filter(options []DownloadOption, f OptionFilter) []DownloadOption {
	var out []DownloadOption
	for _, o := range options {
		if f.Match(o.Fields) {
			out = append(out, o)
		}
	}
	return out
}
