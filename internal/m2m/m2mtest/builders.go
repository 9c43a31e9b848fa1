package m2mtest

// Download describes one download in scripted responses.
type Download struct {
	ID        int64
	EntityID  string
	DisplayID string
	Label     string
	URL       string
}

func (d Download) urlRecord() map[string]any {
	return map[string]any{
		"downloadId": d.ID,
		"entityId":   d.EntityID,
		"displayId":  d.DisplayID,
		"url":        d.URL,
		"statusText": "Available",
	}
}

func urlRecords(ds []Download) []map[string]any {
	out := make([]map[string]any, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.urlRecord())
	}
	return out
}

// Order builds a download-request response. A nil duplicates map is sent
// as the empty array the real service uses.
func Order(available, preparing []Download, duplicates map[string]string) map[string]any {
	var dup any = []any{}
	if duplicates != nil {
		dup = duplicates
	}
	return map[string]any{
		"availableDownloads": urlRecords(available),
		"preparingDownloads": urlRecords(preparing),
		"duplicateProducts":  dup,
		"failed":             []any{},
		"numInvalidScenes":   0,
	}
}

// Retrieve builds a download-retrieve response.
func Retrieve(available, requested []Download) map[string]any {
	return map[string]any{
		"available": urlRecords(available),
		"requested": urlRecords(requested),
		"queueSize": len(requested),
	}
}

// Search builds a download-search response.
func Search(ds ...Download) []map[string]any {
	out := make([]map[string]any, 0, len(ds))
	for _, d := range ds {
		out = append(out, map[string]any{
			"downloadId":  d.ID,
			"entityId":    d.EntityID,
			"displayId":   d.DisplayID,
			"label":       d.Label,
			"statusText":  "Proxied",
			"productCode": "D534",
		})
	}
	return out
}

// Option builds one download-options entry.
func Option(id, entityID, displayID, system string, available bool) map[string]any {
	return map[string]any{
		"id":             id,
		"entityId":       entityID,
		"displayId":      displayID,
		"productName":    "Level-1 GeoTIFF Data Product",
		"downloadSystem": system,
		"available":      available,
		"filesize":       1024,
	}
}

// Scene builds one scene-search result.
func Scene(entityID, displayID string, cloudCover any) map[string]any {
	return map[string]any{
		"entityId":    entityID,
		"displayId":   displayID,
		"cloudCover":  cloudCover,
		"publishDate": "2016-11-28 00:00:00-05",
		"browse": []map[string]any{{
			"browsePath":    "https://example.com/browse/" + entityID + ".png",
			"thumbnailPath": "https://example.com/thumb/" + entityID + ".png",
		}},
	}
}

// SceneSearch builds a scene-search response.
func SceneSearch(totalHits int, scenes ...map[string]any) map[string]any {
	return map[string]any{
		"results":         scenes,
		"totalHits":       totalHits,
		"recordsReturned": len(scenes),
		"nextRecord":      len(scenes) + 1,
	}
}
