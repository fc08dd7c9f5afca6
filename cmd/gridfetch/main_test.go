package main

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/gridfetch/internal/catalog"
	"github.com/ligustah/gridfetch/internal/download"
)

type cliEnv struct {
	t        *testing.T
	dir      string
	node     *httptest.Server
	files    map[string][]byte
	baseArgs []string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	require.NoError(t, os.MkdirAll(stateDir, 0o755))

	e := &cliEnv{
		t:   t,
		dir: dir,
		files: map[string][]byte{
			"tas_day.nc": bytes.Repeat([]byte("tas"), 5000),
			"pr_day.nc":  bytes.Repeat([]byte("pr"), 3000),
		},
	}
	e.node = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := e.files[filepath.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(e.node.Close)

	e.baseArgs = []string{
		"--env-file", "",
		"--log-level", "error",
		"--catalog", filepath.Join(dir, "catalog.db"),
		"--download-dir", filepath.Join(dir, "data"),
		"--state", "file://" + stateDir,
	}
	return e
}

func (e *cliEnv) run(args ...string) int {
	e.t.Helper()
	return run(append(append([]string{}, e.baseArgs...), args...))
}

func (e *cliEnv) record(id string, names ...string) *catalog.Dataset {
	d := &catalog.Dataset{InstanceID: id}
	for _, name := range names {
		sum := sha256.Sum256(e.files[name])
		d.Files = append(d.Files, catalog.File{
			InstanceID:   name,
			Size:         int64(len(e.files[name])),
			Checksum:     hex.EncodeToString(sum[:]),
			ChecksumType: "SHA256",
			Replicas: []catalog.Replica{{
				DataNode: "node",
				Services: map[catalog.ServiceKind]string{catalog.ServiceHTTP: e.node.URL + "/thredds/fileServer/" + name},
			}},
		})
	}
	return d
}

func (e *cliEnv) importCatalog(datasets ...*catalog.Dataset) {
	e.t.Helper()
	raw, err := json.Marshal(datasets)
	require.NoError(e.t, err)
	path := filepath.Join(e.dir, "records.json")
	require.NoError(e.t, os.WriteFile(path, raw, 0o644))
	require.Equal(e.t, ExitSuccess, e.run("catalog", "import", path))
}

func (e *cliEnv) localFile(datasetID, name string) string {
	return filepath.Join(e.dir, "data", datasetID, name)
}

func TestFetchDownloadsDataset(t *testing.T) {
	e := newCLIEnv(t)
	e.importCatalog(e.record("cmip5.test.v1", "tas_day.nc", "pr_day.nc"))

	require.Equal(t, ExitSuccess, e.run("fetch", "cmip5.test.v1"))

	for name, data := range e.files {
		got, err := os.ReadFile(e.localFile("cmip5.test.v1", name))
		require.NoError(t, err)
		assert.Equal(t, data, got, name)
	}

	// A second run finds everything finished in the saved state.
	assert.Equal(t, ExitSuccess, e.run("fetch", "cmip5.test.v1"))
}

func TestFetchSelectedFiles(t *testing.T) {
	e := newCLIEnv(t)
	e.importCatalog(e.record("ds", "tas_day.nc", "pr_day.nc"))

	require.Equal(t, ExitSuccess, e.run("fetch", "ds", "--files", "pr_day.nc"))

	_, err := os.Stat(e.localFile("ds", "pr_day.nc"))
	assert.NoError(t, err)
	_, err = os.Stat(e.localFile("ds", "tas_day.nc"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, ExitInvalidArgs, e.run("fetch", "ds", "--files", "nope.nc"))
}

func TestFetchChecksumFailure(t *testing.T) {
	e := newCLIEnv(t)
	rec := e.record("ds", "tas_day.nc")
	sum := md5.Sum([]byte("something else"))
	rec.Files[0].Checksum, rec.Files[0].ChecksumType = hex.EncodeToString(sum[:]), "MD5"
	e.importCatalog(rec)

	assert.Equal(t, ExitValidationFailed, e.run("fetch", "ds"))
	// The file is kept for inspection.
	_, err := os.Stat(e.localFile("ds", "tas_day.nc"))
	assert.NoError(t, err)
}

func TestFetchUnauthorized(t *testing.T) {
	e := newCLIEnv(t)
	rec := e.record("ds", "tas_day.nc")
	rec.Files[0].Replicas[0].Services[catalog.ServiceHTTP] = e.node.URL + "/restricted.nc"
	e.importCatalog(rec)

	assert.Equal(t, ExitUnauthorized, e.run("fetch", "ds"))
}

func TestFetchFailedWithSession(t *testing.T) {
	e := newCLIEnv(t)
	rec := e.record("ds", "tas_day.nc")
	rec.Files[0].Replicas[0].Services[catalog.ServiceHTTP] = e.node.URL + "/missing.nc"
	e.importCatalog(rec)

	assert.Equal(t, ExitSourceNotAccess, e.run("--token", "abc", "fetch", "ds"))

	// Fixing the replica and retrying succeeds.
	e.importCatalog(e.record("ds", "tas_day.nc"))
	assert.Equal(t, ExitSourceNotAccess, e.run("--token", "abc", "fetch", "ds"))
	assert.Equal(t, ExitSuccess, e.run("--token", "abc", "fetch", "ds", "--retry"))
}

func TestFetchUnknownDataset(t *testing.T) {
	e := newCLIEnv(t)
	assert.Equal(t, ExitInvalidArgs, e.run("fetch", "nope"))
}

func TestStatusCommand(t *testing.T) {
	e := newCLIEnv(t)
	assert.Equal(t, ExitSuccess, e.run("status"))

	e.importCatalog(e.record("ds", "tas_day.nc"))
	require.Equal(t, ExitSuccess, e.run("fetch", "ds"))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append(append([]string{}, e.baseArgs...), "status", "--files"))
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "ds")
	assert.Contains(t, out.String(), string(download.StatusFinished))
	assert.Contains(t, out.String(), "tas_day.nc")
}

func TestCatalogList(t *testing.T) {
	e := newCLIEnv(t)
	e.importCatalog(e.record("a", "tas_day.nc"), e.record("b", "tas_day.nc", "pr_day.nc"))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append(append([]string{}, e.baseArgs...), "catalog", "list"))
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "DATASET")
	assert.Regexp(t, `b\s+2\s+`, out.String())
}

func TestUsageErrors(t *testing.T) {
	e := newCLIEnv(t)
	assert.Equal(t, ExitInvalidArgs, run([]string{"--no-such-flag"}))
	assert.Equal(t, ExitInvalidArgs, e.run("fetch"))
	assert.Equal(t, ExitInvalidArgs, e.run("catalog", "import", filepath.Join(e.dir, "missing.json")))
	assert.Equal(t, ExitInvalidArgs, e.run("--workers", "-1", "status"))
	assert.Equal(t, ExitInvalidArgs, run([]string{"--env-file", "", "--log-level", "error", "status"}))
}
