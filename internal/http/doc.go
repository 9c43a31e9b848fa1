// Package http provides the HTTP client shared by the catalog session and
// the downloader.
//
// The Client in this package handles:
//   - JSON POST requests with a fixed per-request timeout
//   - Retry on timeout with a randomized wait, up to a configured budget
//   - Optional request pacing with a token bucket
//   - Streamed GET requests for large archives
//   - Small in-memory GET requests for browse images
//
// # Basic Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	// Call a JSON endpoint
//	resp, err := client.PostJSON(ctx, endpointURL, map[string]string{"X-Auth-Token": token}, body)
//	if errors.Is(err, http.ErrTimeoutExhausted) {
//	    // every attempt timed out
//	}
//
//	// Stream an archive
//	stream, err := client.Stream(ctx, archiveURL)
//	defer stream.Body.Close()
//
// # Retry Policy
//
// Only timeouts are retried. Connection refusals, TLS failures and every
// HTTP status are returned to the caller on the first attempt, since the
// catalog protocol reports semantic failures in the response payload.
package http
