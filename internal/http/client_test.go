package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var payload = []byte("Hello, World! This is test data for range requests.")

func rangeServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Write(data)
			return
		}

		// Parse range header: bytes=start-
		start, _ := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(rangeHeader, "bytes="), "-"), 10, 64)
		end := int64(len(data)) - 1

		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.Itoa(len(data)))
		w.Header().Set("Content-Length", strconv.Itoa(int(end-start+1)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryBackoff = 10 * time.Millisecond
	opts.RetryMaxBackoff = 50 * time.Millisecond
	return opts
}

func TestOpenFresh(t *testing.T) {
	server := rangeServer(t, payload)
	defer server.Close()

	client := NewClient(testOptions())
	resp, err := client.Open(context.Background(), nil, server.URL, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Errorf("body mismatch: got %q", body)
	}
	if resp.TotalSize != int64(len(payload)) {
		t.Errorf("expected total %d, got %d", len(payload), resp.TotalSize)
	}
	if !resp.Partial {
		t.Error("expected fresh response to count as starting at offset")
	}
}

func TestOpenResume(t *testing.T) {
	var gotRange atomic.Value
	inner := rangeServer(t, payload)
	defer inner.Close()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange.Store(r.Header.Get("Range"))
		inner.Config.Handler.ServeHTTP(w, r)
	}))
	defer server.Close()

	client := NewClient(testOptions())
	resp, err := client.Open(context.Background(), nil, server.URL, 7)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer resp.Body.Close()

	if got := gotRange.Load(); got != "bytes=7-" {
		t.Errorf("expected Range bytes=7-, got %v", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(payload[7:]) {
		t.Errorf("expected %q, got %q", payload[7:], body)
	}
	if !resp.Partial || resp.StatusCode != http.StatusPartialContent {
		t.Errorf("expected partial 206 response, got %d partial=%v", resp.StatusCode, resp.Partial)
	}
	if resp.TotalSize != int64(len(payload)) {
		t.Errorf("expected total %d, got %d", len(payload), resp.TotalSize)
	}
}

func TestOpenRangeAtEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(payload))
	}))
	defer server.Close()

	client := NewClient(testOptions())
	resp, err := client.Open(context.Background(), nil, server.URL, int64(len(payload)))
	if err != nil {
		t.Fatalf("Open at end of resource: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Errorf("expected empty body, got %q", body)
	}
	if !resp.Partial || resp.TotalSize != int64(len(payload)) {
		t.Errorf("expected partial response of total %d, got partial=%v total=%d", len(payload), resp.Partial, resp.TotalSize)
	}

	// An offset beyond the end is still an error.
	_, err = client.Open(context.Background(), nil, server.URL, int64(len(payload))+5)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Errorf("expected 416 status error, got %v", err)
	}
}

func TestOpenRangeIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	client := NewClient(testOptions())
	resp, err := client.Open(context.Background(), nil, server.URL, 10)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer resp.Body.Close()

	if resp.Partial {
		t.Error("expected Partial false when server ignores Range")
	}
}

func TestOpenGzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			t.Errorf("expected gzip in Accept-Encoding, got %q", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		zw.Write(payload)
		zw.Close()
	}))
	defer server.Close()

	client := NewClient(testOptions())
	resp, err := client.Open(context.Background(), nil, server.URL, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if !bytes.Equal(body, payload) {
		t.Errorf("decoded body mismatch: %q", body)
	}
	if resp.Encoding != "gzip" || resp.ContentLength != -1 || resp.TotalSize != -1 {
		t.Errorf("unexpected response metadata: %+v", resp)
	}
}

func TestOpenZstd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "zstd")
		zw, _ := zstd.NewWriter(w)
		zw.Write(payload)
		zw.Close()
	}))
	defer server.Close()

	client := NewClient(testOptions())
	resp, err := client.Open(context.Background(), nil, server.URL, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Errorf("decoded body mismatch: %q", body)
	}
}

func TestOpenStatusErrors(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusFound, ErrRedirect},
		{http.StatusInternalServerError, ErrServerError},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tt.code == http.StatusFound {
				http.Redirect(w, r, "/login", tt.code)
				return
			}
			w.WriteHeader(tt.code)
		}))

		client := NewClient(testOptions())
		_, err := client.Open(context.Background(), nil, server.URL+"/file", 0)
		server.Close()

		var se *StatusError
		if !errors.As(err, &se) {
			t.Errorf("status %d: expected *StatusError, got %v", tt.code, err)
			continue
		}
		if se.Code != tt.code {
			t.Errorf("expected code %d, got %d", tt.code, se.Code)
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected errors.Is %v", tt.code, tt.want)
		}
	}
}

func TestOpenUsesDoer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "yes" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write(payload)
	}))
	defer server.Close()

	client := NewClient(testOptions())
	doer := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		r.Header.Set("X-Test", "yes")
		return client.Transport().RoundTrip(r)
	})}

	resp, err := client.Open(context.Background(), doer, server.URL, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	resp.Body.Close()
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestOpenConnectionClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.Close {
			t.Error("expected Connection: close")
		}
		w.Write(payload)
	}))
	defer server.Close()

	opts := testOptions()
	opts.ConnectionClose = true
	client := NewClient(opts)
	resp, err := client.Open(context.Background(), nil, server.URL, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	resp.Body.Close()
}

func TestOpenRetriesTransportErrors(t *testing.T) {
	var attempts atomic.Int32
	server := rangeServer(t, payload)
	defer server.Close()

	client := NewClient(testOptions())
	doer := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("connection reset")
		}
		return http.DefaultTransport.RoundTrip(r)
	})}

	resp, err := client.Open(context.Background(), doer, server.URL, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	resp.Body.Close()

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header string
		start  int64
		end    int64
		total  int64
	}{
		{"bytes 0-99/1000", 0, 99, 1000},
		{"bytes 100-199/1000", 100, 199, 1000},
		{"bytes 0-99/*", 0, 99, -1},
	}

	for _, tt := range tests {
		start, end, total, err := ParseContentRange(tt.header)
		if err != nil {
			t.Errorf("ParseContentRange(%q): %v", tt.header, err)
			continue
		}
		if start != tt.start || end != tt.end || total != tt.total {
			t.Errorf("ParseContentRange(%q) = (%d, %d, %d), want (%d, %d, %d)",
				tt.header, start, end, total, tt.start, tt.end, tt.total)
		}
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(testOptions())
	_, err := client.Open(ctx, nil, server.URL, 0)
	if err == nil {
		t.Error("expected error due to context cancellation")
	}
}
