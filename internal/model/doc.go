// Package model defines the core data structures used throughout
// the m2m-downloader application.
//
// # Scene
//
// Scene is one catalog-indexed acquisition returned by a scene search:
//
//	scene := model.Scene{EntityID: "LT50160372001204XXX01", DisplayID: "LT05_L1TP_016037_20010723_20161128_01_T1"}
//	date, err := scene.AcquisitionDate() // 2001-07-23
//
// # Offer
//
// Offer is an entityId/productId pair that passed download-option filtering
// and is submitted in a download request.
//
// # DownloadEntry
//
// DownloadEntry is one record of the download metadata kept by the
// orchestrator, keyed by DownloadID:
//
//	entry := &model.DownloadEntry{DownloadID: "55", DisplayID: displayID}
//	entry.LocalPath = entry.ComputePath(&model.PathConfig{
//	    DownloadsPath:  "/data/raw/landsat",
//	    FileNameFormat: "{displayId}.tar",
//	})
//
// Available placeholders: {displayId}, {entityId}, {year}, {month}, {day}
package model
