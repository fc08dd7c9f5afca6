package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/gridfetch/internal/credential"
	"github.com/ligustah/gridfetch/internal/diskspace"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, int64(32*1024), cfg.ChunkSize)
	assert.False(t, cfg.PriorityOrder)
	assert.Equal(t, 30*time.Second, cfg.StateInterval)
	assert.Equal(t, 30*time.Second, cfg.HTTP.DialTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ResponseHeaderTimeout)
	assert.Equal(t, 3, cfg.HTTP.Retry.Attempts)
	assert.Equal(t, time.Second, cfg.HTTP.Retry.Backoff)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Retry.MaxBackoff)
	assert.Zero(t, cfg.RateLimit)
	assert.True(t, cfg.Credentials.Empty())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	t.Setenv("TEST_ESGF_TOKEN", "secret-token")
	path := writeFile(t, "gridfetch.yaml", `
download_dir: /data/esgf
workers: 8
chunk_size: 64KiB
priority_order: true
catalog_path: /var/lib/gridfetch/catalog.db
state_url: file:///var/lib/gridfetch
state_interval: 1m
rate_limit: 50MB
min_free_space: 10GiB
listen: 0.0.0.0:9000
log_level: debug
http:
  dial_timeout: 5s
  response_header_timeout: 45s
  connection_close: true
  retry:
    attempts: 10
    backoff: 2s
    max_backoff: 60s
credentials:
  token: ${TEST_ESGF_TOKEN}
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/esgf", cfg.DownloadDir)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, int64(64*1024), cfg.ChunkSize)
	assert.True(t, cfg.PriorityOrder)
	assert.Equal(t, "/var/lib/gridfetch/catalog.db", cfg.CatalogPath)
	assert.Equal(t, "file:///var/lib/gridfetch", cfg.StateURL)
	assert.Equal(t, time.Minute, cfg.StateInterval)
	assert.Equal(t, int64(50_000_000), cfg.RateLimit)
	assert.Equal(t, int64(10<<30), cfg.MinFreeSpace)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.HTTP.DialTimeout)
	assert.Equal(t, 45*time.Second, cfg.HTTP.ResponseHeaderTimeout)
	assert.True(t, cfg.HTTP.ConnectionClose)
	assert.Equal(t, 10, cfg.HTTP.Retry.Attempts)
	assert.Equal(t, 2*time.Second, cfg.HTTP.Retry.Backoff)
	assert.Equal(t, time.Minute, cfg.HTTP.Retry.MaxBackoff)
	assert.Equal(t, "secret-token", cfg.Credentials.Token)
}

func TestLoadFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeFile(t, "c.yaml", "workers: 2\n"))
	require.NoError(t, err)

	want := Default()
	want.Workers = 2
	assert.Equal(t, want, cfg)
}

func TestLoadFromYAMLErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	for name, content := range map[string]string{
		"syntax":   "workers: [",
		"bytes":    "chunk_size: lots",
		"duration": "state_interval: soon",
		"nested":   "http:\n  retry:\n    backoff: 1 parsec\n",
	} {
		_, err := LoadFromFile(writeFile(t, name+".yaml", content))
		assert.Error(t, err, name)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GRIDFETCH_DOWNLOAD_DIR", "/scratch")
	t.Setenv("GRIDFETCH_WORKERS", "12")
	t.Setenv("GRIDFETCH_CHUNK_SIZE", "1MiB")
	t.Setenv("GRIDFETCH_PRIORITY_ORDER", "1")
	t.Setenv("GRIDFETCH_STATE_INTERVAL", "15s")
	t.Setenv("GRIDFETCH_RATE_LIMIT", "1MB")
	t.Setenv("GRIDFETCH_RETRY_ATTEMPTS", "0")
	t.Setenv("GRIDFETCH_CONNECTION_CLOSE", "true")
	t.Setenv("GRIDFETCH_CREDENTIALS_USERNAME", "alice")
	t.Setenv("GRIDFETCH_CREDENTIALS_PASSWORD", "pw")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "/scratch", cfg.DownloadDir)
	assert.Equal(t, 12, cfg.Workers)
	assert.Equal(t, int64(1<<20), cfg.ChunkSize)
	assert.True(t, cfg.PriorityOrder)
	assert.Equal(t, 15*time.Second, cfg.StateInterval)
	assert.Equal(t, int64(1_000_000), cfg.RateLimit)
	assert.Equal(t, 0, cfg.HTTP.Retry.Attempts)
	assert.True(t, cfg.HTTP.ConnectionClose)
	assert.Equal(t, Credentials{Username: "alice", Password: "pw"}, cfg.Credentials)
}

func TestLoadFromEnvErrors(t *testing.T) {
	for key, value := range map[string]string{
		"GRIDFETCH_WORKERS":        "many",
		"GRIDFETCH_CHUNK_SIZE":     "big",
		"GRIDFETCH_STATE_INTERVAL": "often",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			cfg := Default()
			assert.Error(t, cfg.LoadFromEnv())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "GRIDFETCH_TEST_DOTENV=from-file\nGRIDFETCH_TEST_DOTENV_SET=from-file\n")
	t.Setenv("GRIDFETCH_TEST_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("GRIDFETCH_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env"), path))
	assert.Equal(t, "from-file", os.Getenv("GRIDFETCH_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("GRIDFETCH_TEST_DOTENV_SET"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no download dir", func(c *Config) { c.DownloadDir = "" }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }},
		{"negative free space", func(c *Config) { c.MinFreeSpace = -1 }},
		{"state without interval", func(c *Config) { c.StateURL = "mem://"; c.StateInterval = 0 }},
		{"negative retries", func(c *Config) { c.HTTP.Retry.Attempts = -1 }},
		{"password without user", func(c *Config) { c.Credentials.Password = "pw" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	base.StateURL = "file:///state"

	merged := base.Merge(Config{
		DownloadDir:   "/override",
		Workers:       20,
		PriorityOrder: true,
		RateLimit:     1000,
		HTTP:          HTTPConfig{Retry: RetryConfig{Attempts: 7}},
		Credentials:   Credentials{Token: "t"},
	})

	assert.Equal(t, "/override", merged.DownloadDir)
	assert.Equal(t, 20, merged.Workers)
	assert.True(t, merged.PriorityOrder)
	assert.Equal(t, int64(1000), merged.RateLimit)
	assert.Equal(t, 7, merged.HTTP.Retry.Attempts)
	assert.Equal(t, "t", merged.Credentials.Token)

	assert.Equal(t, "file:///state", merged.StateURL)
	assert.Equal(t, base.ChunkSize, merged.ChunkSize)
	assert.Equal(t, base.HTTP.Retry.Backoff, merged.HTTP.Retry.Backoff)
	assert.Equal(t, base.HTTP.DialTimeout, merged.HTTP.DialTimeout)
}

func TestLimiter(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.Limiter())

	cfg.RateLimit = 1 << 20
	l := cfg.Limiter()
	require.NotNil(t, l)
	assert.Equal(t, float64(1<<20), float64(l.Limit()))
	assert.Equal(t, int(cfg.ChunkSize), l.Burst())
}

func TestServices(t *testing.T) {
	cfg := Default()
	cfg.DownloadDir = t.TempDir()
	cfg.MinFreeSpace = 1024
	cfg.Credentials.Token = "abc"

	svc := cfg.Services(nil, nil)
	assert.Equal(t, cfg.DownloadDir, svc.Root)
	assert.Equal(t, int(cfg.ChunkSize), svc.ChunkSize)
	assert.Equal(t, uint64(1024), svc.MinFreeSpace)
	assert.IsType(t, diskspace.Disk{}, svc.Space)
	require.NotNil(t, svc.HTTP)
	sess, ok := svc.Credentials.(*credential.Session)
	require.True(t, ok)
	assert.True(t, sess.HasActiveSession())

	assert.False(t, Default().Session(svc.HTTP).HasActiveSession())

	opts := cfg.SchedulerOptions()
	assert.Equal(t, cfg.Workers, opts.Workers)
}
