package m2m

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout of dates accepted on the command line.
const DateLayout = "2006-01-02"

// ParseBoundingBox parses "minLon,minLat,maxLon,maxLat". An empty string
// yields nil, meaning no spatial filter.
func ParseBoundingBox(s string) (*BoundingBox, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, &ValidationError{Field: "bounding box", Value: s}
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, &ValidationError{Field: "bounding box", Value: s}
		}
		v[i] = f
	}

	box := &BoundingBox{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
	if err := (SceneSearch{Spatial: box}).validate(); err != nil {
		return nil, err
	}
	return box, nil
}

// ParseDateRange parses two YYYY-MM-DD dates. Both empty yields nil; an
// empty end leaves the range open.
func ParseDateRange(start, end string) (*DateRange, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return nil, nil
	}

	var r DateRange
	var err error
	if r.Start, err = time.Parse(DateLayout, start); err != nil {
		return nil, &ValidationError{Field: "start date", Value: start}
	}
	if end != "" {
		if r.End, err = time.Parse(DateLayout, end); err != nil {
			return nil, &ValidationError{Field: "end date", Value: end}
		}
	}
	if err := (SceneSearch{Acquisition: &r}).validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// String formats the box the way ParseBoundingBox reads it.
func (b BoundingBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}
