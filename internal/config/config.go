package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/gridfetch/internal/progress"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "GRIDFETCH_"

// Config defines configuration for the gridfetch CLI.
type Config struct {
	DownloadDir   string
	Workers       int
	ChunkSize     int64
	PriorityOrder bool
	CatalogPath   string
	StateURL      string
	StateInterval time.Duration
	RateLimit     int64
	MinFreeSpace  int64
	Listen        string
	LogLevel      string
	HTTP          HTTPConfig
	Credentials   Credentials
}

// HTTPConfig configures the data-node client.
type HTTPConfig struct {
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	ConnectionClose       bool
	Retry                 RetryConfig
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Credentials open an authenticated session when either a username or a
// token is set. A token wins over basic credentials.
type Credentials struct {
	Username string
	Password string
	Token    string
}

func (c Credentials) Empty() bool {
	return c.Username == "" && c.Token == ""
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		DownloadDir:   "downloads",
		Workers:       5,
		ChunkSize:     32 * 1024,
		CatalogPath:   "gridfetch-catalog.db",
		StateInterval: 30 * time.Second,
		Listen:        "127.0.0.1:8642",
		LogLevel:      "info",
		HTTP: HTTPConfig{
			DialTimeout:           30 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			Retry: RetryConfig{
				Attempts:   3,
				Backoff:    time.Second,
				MaxBackoff: 30 * time.Second,
			},
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	DownloadDir   string          `yaml:"download_dir"`
	Workers       int             `yaml:"workers"`
	ChunkSize     string          `yaml:"chunk_size"`
	PriorityOrder bool            `yaml:"priority_order"`
	CatalogPath   string          `yaml:"catalog_path"`
	StateURL      string          `yaml:"state_url"`
	StateInterval string          `yaml:"state_interval"`
	RateLimit     string          `yaml:"rate_limit"`
	MinFreeSpace  string          `yaml:"min_free_space"`
	Listen        string          `yaml:"listen"`
	LogLevel      string          `yaml:"log_level"`
	HTTP          yamlHTTPConfig  `yaml:"http"`
	Credentials   yamlCredentials `yaml:"credentials"`
}

type yamlHTTPConfig struct {
	DialTimeout           string          `yaml:"dial_timeout"`
	ResponseHeaderTimeout string          `yaml:"response_header_timeout"`
	ConnectionClose       bool            `yaml:"connection_close"`
	Retry                 yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

type yamlCredentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
// ${VAR} references are expanded from the environment before parsing.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	setString(&cfg.DownloadDir, yc.DownloadDir)
	setString(&cfg.CatalogPath, yc.CatalogPath)
	setString(&cfg.StateURL, yc.StateURL)
	setString(&cfg.Listen, yc.Listen)
	setString(&cfg.LogLevel, yc.LogLevel)
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	cfg.PriorityOrder = yc.PriorityOrder
	cfg.HTTP.ConnectionClose = yc.HTTP.ConnectionClose
	if yc.HTTP.Retry.Attempts != 0 {
		cfg.HTTP.Retry.Attempts = yc.HTTP.Retry.Attempts
	}
	cfg.Credentials = Credentials(yc.Credentials)

	for _, b := range []struct {
		key string
		in  string
		out *int64
	}{
		{"chunk_size", yc.ChunkSize, &cfg.ChunkSize},
		{"rate_limit", yc.RateLimit, &cfg.RateLimit},
		{"min_free_space", yc.MinFreeSpace, &cfg.MinFreeSpace},
	} {
		if err := parseBytes(b.key, b.in, b.out); err != nil {
			return Config{}, err
		}
	}

	for _, d := range []struct {
		key string
		in  string
		out *time.Duration
	}{
		{"state_interval", yc.StateInterval, &cfg.StateInterval},
		{"http.dial_timeout", yc.HTTP.DialTimeout, &cfg.HTTP.DialTimeout},
		{"http.response_header_timeout", yc.HTTP.ResponseHeaderTimeout, &cfg.HTTP.ResponseHeaderTimeout},
		{"http.retry.backoff", yc.HTTP.Retry.Backoff, &cfg.HTTP.Retry.Backoff},
		{"http.retry.max_backoff", yc.HTTP.Retry.MaxBackoff, &cfg.HTTP.Retry.MaxBackoff},
	} {
		if err := parseDuration(d.key, d.in, d.out); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the GRIDFETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	for key, dst := range map[string]*string{
		"DOWNLOAD_DIR":         &c.DownloadDir,
		"CATALOG_PATH":         &c.CatalogPath,
		"STATE_URL":            &c.StateURL,
		"LISTEN":               &c.Listen,
		"LOG_LEVEL":            &c.LogLevel,
		"CREDENTIALS_USERNAME": &c.Credentials.Username,
		"CREDENTIALS_PASSWORD": &c.Credentials.Password,
		"CREDENTIALS_TOKEN":    &c.Credentials.Token,
	} {
		setString(dst, os.Getenv(EnvPrefix+key))
	}

	for key, dst := range map[string]*int64{
		"CHUNK_SIZE":     &c.ChunkSize,
		"RATE_LIMIT":     &c.RateLimit,
		"MIN_FREE_SPACE": &c.MinFreeSpace,
	} {
		if err := parseBytes(EnvPrefix+key, os.Getenv(EnvPrefix+key), dst); err != nil {
			return err
		}
	}

	for key, dst := range map[string]*time.Duration{
		"STATE_INTERVAL":          &c.StateInterval,
		"DIAL_TIMEOUT":            &c.HTTP.DialTimeout,
		"RESPONSE_HEADER_TIMEOUT": &c.HTTP.ResponseHeaderTimeout,
		"RETRY_BACKOFF":           &c.HTTP.Retry.Backoff,
		"RETRY_MAX_BACKOFF":       &c.HTTP.Retry.MaxBackoff,
	} {
		if err := parseDuration(EnvPrefix+key, os.Getenv(EnvPrefix+key), dst); err != nil {
			return err
		}
	}

	for key, dst := range map[string]*int{
		"WORKERS":        &c.Workers,
		"RETRY_ATTEMPTS": &c.HTTP.Retry.Attempts,
	} {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	for key, dst := range map[string]*bool{
		"PRIORITY_ORDER":   &c.PriorityOrder,
		"CONNECTION_CLOSE": &c.HTTP.ConnectionClose,
	} {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.DownloadDir == "" {
		errs = append(errs, errors.New("config: download_dir is required"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("config: workers must be positive"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, errors.New("config: chunk_size must be positive"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("config: rate_limit must not be negative"))
	}
	if c.MinFreeSpace < 0 {
		errs = append(errs, errors.New("config: min_free_space must not be negative"))
	}
	if c.StateURL != "" && c.StateInterval <= 0 {
		errs = append(errs, errors.New("config: state_interval must be positive"))
	}
	if c.HTTP.Retry.Attempts < 0 {
		errs = append(errs, errors.New("config: http.retry.attempts must not be negative"))
	}
	if c.Credentials.Password != "" && c.Credentials.Username == "" {
		errs = append(errs, errors.New("config: credentials.password needs credentials.username"))
	}
	return errors.Join(errs...)
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	setString(&c.DownloadDir, override.DownloadDir)
	setString(&c.CatalogPath, override.CatalogPath)
	setString(&c.StateURL, override.StateURL)
	setString(&c.Listen, override.Listen)
	setString(&c.LogLevel, override.LogLevel)
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.PriorityOrder {
		c.PriorityOrder = true
	}
	if override.StateInterval != 0 {
		c.StateInterval = override.StateInterval
	}
	if override.RateLimit != 0 {
		c.RateLimit = override.RateLimit
	}
	if override.MinFreeSpace != 0 {
		c.MinFreeSpace = override.MinFreeSpace
	}
	if override.HTTP.DialTimeout != 0 {
		c.HTTP.DialTimeout = override.HTTP.DialTimeout
	}
	if override.HTTP.ResponseHeaderTimeout != 0 {
		c.HTTP.ResponseHeaderTimeout = override.HTTP.ResponseHeaderTimeout
	}
	if override.HTTP.ConnectionClose {
		c.HTTP.ConnectionClose = true
	}
	if override.HTTP.Retry.Attempts != 0 {
		c.HTTP.Retry.Attempts = override.HTTP.Retry.Attempts
	}
	if override.HTTP.Retry.Backoff != 0 {
		c.HTTP.Retry.Backoff = override.HTTP.Retry.Backoff
	}
	if override.HTTP.Retry.MaxBackoff != 0 {
		c.HTTP.Retry.MaxBackoff = override.HTTP.Retry.MaxBackoff
	}
	if !override.Credentials.Empty() {
		c.Credentials = override.Credentials
	}
	return c
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseBytes(key, v string, dst *int64) error {
	if v == "" {
		return nil
	}
	n, err := progress.ParseBytes(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = n
	return nil
}

func parseDuration(key, v string, dst *time.Duration) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
