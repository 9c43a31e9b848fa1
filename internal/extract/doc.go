// Package extract pulls band rasters out of downloaded scene archives.
//
// Only archives with a matching .size sidecar are opened, so a transfer
// that is still running or failed is never read. Members are matched on
// their band suffix:
//
//	ex := extract.New(logger)
//	files, err := ex.Bands(ctx, "data/raw/landsat/LT05_..._T1.tar", "data/bands", []string{"B3", "B4"})
package extract
