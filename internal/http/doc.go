// Package http provides the streaming HTTP client used by file transfers.
//
// This package handles:
//   - Resumable GETs with "Range: bytes=<offset>-"
//   - Transparent gzip and zstd decoding of fresh downloads
//   - Status classification via [StatusError], with redirects surfaced
//     instead of followed
//   - Retry with exponential backoff on transport errors
//   - Dial and response-header timeouts (bodies are never cut off)
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	// Anonymous attempt
//	resp, err := client.Open(ctx, nil, url, offset)
//
//	// Retry through an authenticated client
//	authed, _ := provider.Client(ctx, url)
//	resp, err = client.Open(ctx, authed, url, offset)
//	defer resp.Body.Close()
package http
