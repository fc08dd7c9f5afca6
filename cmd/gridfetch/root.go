package main

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"github.com/ligustah/gridfetch/internal/config"
	"github.com/ligustah/gridfetch/internal/progress"
)

// globalFlags are the flags shared by every command. Empty values leave the
// loaded configuration untouched.
type globalFlags struct {
	configPath  string
	envFile     string
	downloadDir string
	workers     int
	catalogPath string
	stateURL    string
	logLevel    string
	rateLimit   string
	username    string
	password    string
	token       string
}

func newRootCmd() *cobra.Command {
	var (
		flags globalFlags
		cfg   config.Config
	)

	root := &cobra.Command{
		Use:   "gridfetch",
		Short: "Bulk, resumable downloads from a replicated data grid",
		Long: `gridfetch downloads dataset files from replicated grid data nodes.

Transfers resume where they stopped, verify checksums from the catalog and
fall back to authenticated access when a data node refuses anonymous
requests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(flags)
			if err != nil {
				return &exitError{code: ExitInvalidArgs, err: err}
			}
			cfg = loaded
			return logging.SetLogLevel("*", cfg.LogLevel)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file with GRIDFETCH_ variables")
	pf.StringVar(&flags.downloadDir, "download-dir", "", "root directory for downloaded datasets")
	pf.IntVar(&flags.workers, "workers", 0, "number of concurrent transfers")
	pf.StringVar(&flags.catalogPath, "catalog", "", "catalog database path")
	pf.StringVar(&flags.stateURL, "state", "", "blob URL persisting download state (file://, s3://, gs://, mem://)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.rateLimit, "rate-limit", "", "aggregate bandwidth limit, e.g. 50MB")
	pf.StringVar(&flags.username, "username", "", "data node username")
	pf.StringVar(&flags.password, "password", "", "data node password")
	pf.StringVar(&flags.token, "token", "", "data node bearer token")

	cfgFn := func() config.Config { return cfg }
	root.AddCommand(
		newFetchCmd(cfgFn),
		newServeCmd(cfgFn),
		newStatusCmd(cfgFn),
		newCatalogCmd(cfgFn),
	)
	return root
}

func loadConfig(flags globalFlags) (config.Config, error) {
	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if flags.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(flags.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := config.Config{
		DownloadDir: flags.downloadDir,
		Workers:     flags.workers,
		CatalogPath: flags.catalogPath,
		StateURL:    flags.stateURL,
		LogLevel:    flags.logLevel,
		Credentials: config.Credentials{
			Username: flags.username,
			Password: flags.password,
			Token:    flags.token,
		},
	}
	if flags.rateLimit != "" {
		n, err := progress.ParseBytes(flags.rateLimit)
		if err != nil {
			return config.Config{}, err
		}
		override.RateLimit = n
	}

	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
