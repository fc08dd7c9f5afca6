package progress

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/gridfetch/internal/catalog"
	"github.com/ligustah/gridfetch/internal/download"
	"github.com/ligustah/gridfetch/internal/scheduler"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{256 * 1024 * 1024, "256 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 1024, "1.0 TiB"},
		{2.5 * 1024 * 1024 * 1024 * 1024, "2.5 TiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatBytes(tt.input), "FormatBytes(%d)", tt.input)
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KiB", 1024},
		{"32KiB", 32 * 1024},
		{"1.5KiB", 1536},
		{"256MiB", 256 * 1024 * 1024},
		{"1GiB", 1024 * 1024 * 1024},
		{"1TiB", 1024 * 1024 * 1024 * 1024},
		{"1KB", 1000},
		{"1 MB", 1000 * 1000},
		{"1GB", 1000 * 1000 * 1000},
	}

	for _, tt := range tests {
		got, err := ParseBytes(tt.input)
		require.NoError(t, err, "ParseBytes(%q)", tt.input)
		assert.Equal(t, tt.expected, got, "ParseBytes(%q)", tt.input)
	}
}

func TestParseBytesInvalid(t *testing.T) {
	for _, s := range []string{"invalid", "", "12 parsecs"} {
		_, err := ParseBytes(s)
		assert.Error(t, err, "ParseBytes(%q)", s)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "3m 7s", formatDuration(3*time.Minute+7*time.Second))
	assert.Equal(t, "2h 0m 5s", formatDuration(2*time.Hour+5*time.Second))
}

// syncBuffer is a bytes.Buffer safe for the reporter goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// inline runs jobs at submission time.
type inline struct{}

func (inline) Submit(job scheduler.Job) error {
	job.Run(context.Background())
	return nil
}

func httpFile(id, url string) catalog.File {
	return catalog.File{
		InstanceID: id,
		Size:       4,
		Replicas: []catalog.Replica{{
			DataNode: "node",
			Services: map[catalog.ServiceKind]string{catalog.ServiceHTTP: url},
		}},
	}
}

func newRegistry(sub download.Submitter, files ...catalog.File) *download.Registry {
	return download.NewRegistry(download.Services{
		Catalog:   catalog.NewMemory(&catalog.Dataset{InstanceID: "ds", Files: files}),
		Fs:        afero.NewMemMapFs(),
		Scheduler: sub,
		Root:      "/data",
	})
}

func TestCollect(t *testing.T) {
	reg := newRegistry(&holdQueue{},
		httpFile("a.nc", "http://node.invalid/a.nc"),
		httpFile("b.nc", "http://node.invalid/b.nc"),
		httpFile("c.nc", "http://node.invalid/c.nc"))
	d, err := reg.Enqueue(context.Background(), "ds")
	require.NoError(t, err)
	c, _ := d.File("c.nc")
	require.NoError(t, d.Skip(c))

	s := Collect(reg.List())
	assert.Equal(t, Stats{Total: 8, Datasets: 1, Pending: 2}, s)
}

// holdQueue accepts jobs without running them.
type holdQueue struct{}

func (*holdQueue) Submit(scheduler.Job) error { return nil }

func TestReporterCompletionLine(t *testing.T) {
	srv := newFileServer(t)
	reg := newRegistry(inline{}, httpFile("a.nc", srv+"/a.nc"))

	var out syncBuffer
	r := NewReporter(reg, Options{Output: &out, UpdateInterval: time.Hour})
	reg.Observe(r)

	d, err := reg.Enqueue(context.Background(), "ds")
	require.NoError(t, err)
	require.NoError(t, d.StartAll(context.Background()))
	require.Equal(t, download.StatusFinished, d.Status())

	assert.Contains(t, out.String(), "[gridfetch] Finished ds: 4 B in ")
}

func TestReporterErrorLine(t *testing.T) {
	srv := newFileServer(t)
	bad := httpFile("a.nc", srv+"/a.nc")
	bad.Checksum, bad.ChecksumType = "00", "MD5"
	reg := newRegistry(inline{}, bad)

	var out syncBuffer
	reg.Observe(NewReporter(reg, Options{Output: &out}))

	d, err := reg.Enqueue(context.Background(), "ds")
	require.NoError(t, err)
	require.NoError(t, d.StartAll(context.Background()))

	assert.Contains(t, out.String(), "[gridfetch] Failed ds: a.nc CHECKSUM_FAILED")
}

func TestReporterUnauthorizedLine(t *testing.T) {
	srv := newFileServer(t)
	reg := newRegistry(inline{}, httpFile("restricted.nc", srv+"/restricted.nc"))

	var out syncBuffer
	reg.Observe(NewReporter(reg, Options{Output: &out}))

	d, err := reg.Enqueue(context.Background(), "ds")
	require.NoError(t, err)
	require.NoError(t, d.StartAll(context.Background()))

	assert.Contains(t, out.String(), "[gridfetch] Unauthorized ds: restricted.nc UNAUTHORIZED (log in and retry)")
}

func TestReporterPeriodicOutput(t *testing.T) {
	reg := newRegistry(&holdQueue{}, httpFile("a.nc", "http://node.invalid/a.nc"))
	_, err := reg.Enqueue(context.Background(), "ds")
	require.NoError(t, err)

	var out syncBuffer
	r := NewReporter(reg, Options{Output: &out, UpdateInterval: 10 * time.Millisecond})
	r.Start()
	r.Start()
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[gridfetch] Progress: 0.0% | 0 B / 4 B")
	}, 2*time.Second, 5*time.Millisecond)
	r.Stop()
	r.Stop()

	assert.Contains(t, out.String(), "[gridfetch] Files: 0 active | 0 finished | 0 failed | 1 pending")
	assert.Contains(t, out.String(), "[gridfetch] Done: 0 B / 4 B")
}
