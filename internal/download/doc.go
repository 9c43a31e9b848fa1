// Package download provides the download orchestration logic for
// ordering and fetching scene archives from the catalog.
//
// # Manager
//
// The Manager coordinates one retrieval run:
//
//  1. Add the scenes to a scene list named by the run label
//  2. List and filter the download options of the list
//  3. Request the eligible products
//  4. Poll every label until the prepared downloads have URLs
//  5. Fetch the archives concurrently, verifying their size
//  6. Remove the order and scene list of every label
//
// # Basic Usage
//
//	manager := download.NewManager(settings, client, download.ManagerOptions{
//	    OnProgress: func(event download.ProgressEvent) {
//	        fmt.Println(event.Message)
//	    },
//	})
//
//	res, err := manager.RetrieveScenes(ctx, "landsat_tm_c2_l1", scenes, download.RetrieveOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(len(res.Completed), "downloaded,", len(res.Failed), "failed")
//
// # Concurrency
//
// Archives are fetched by a Pool of settings.MaxConcurrentDownloads
// workers. Downloads are queued as soon as their URL is known, so fetching
// overlaps with polling. A failed download never stops the others.
//
// # Verification
//
// A Fetcher writes the declared content length next to each archive in a
// .size sidecar once the archive is complete. An archive whose sidecar
// matches its size is never downloaded again.
//
// # Retry Logic
//
// Failed transfers are retried after a fixed delay, configurable via
// settings.DownloadMaxRetries and settings.DownloadRetryDelay. A server
// that declares an empty file is not retried.
package download
