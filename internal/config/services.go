package config

import (
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/ligustah/gridfetch/internal/catalog"
	"github.com/ligustah/gridfetch/internal/credential"
	"github.com/ligustah/gridfetch/internal/diskspace"
	"github.com/ligustah/gridfetch/internal/download"
	gfhttp "github.com/ligustah/gridfetch/internal/http"
	"github.com/ligustah/gridfetch/internal/scheduler"
)

// HTTPOptions returns the data-node client options.
func (c Config) HTTPOptions() gfhttp.Options {
	opts := gfhttp.DefaultOptions()
	opts.DialTimeout = c.HTTP.DialTimeout
	opts.ResponseHeaderTimeout = c.HTTP.ResponseHeaderTimeout
	opts.ConnectionClose = c.HTTP.ConnectionClose
	opts.UserAgent = "gridfetch"
	opts.RetryAttempts = c.HTTP.Retry.Attempts
	opts.RetryBackoff = c.HTTP.Retry.Backoff
	opts.RetryMaxBackoff = c.HTTP.Retry.MaxBackoff
	return opts
}

func (c Config) SchedulerOptions() scheduler.Options {
	return scheduler.Options{Workers: c.Workers, PriorityOrder: c.PriorityOrder}
}

// Limiter returns the shared bandwidth limiter, or nil when rate_limit is
// zero. The burst is one chunk so a single read never exceeds it.
func (c Config) Limiter() *rate.Limiter {
	if c.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.RateLimit), int(max(c.ChunkSize, 1)))
}

// Session returns a credential session over base, logged in with the
// configured credentials.
func (c Config) Session(base *gfhttp.Client) *credential.Session {
	s := credential.NewSession(base.Transport())
	switch {
	case c.Credentials.Token != "":
		s.LoginToken(c.Credentials.Token)
	case c.Credentials.Username != "":
		s.LoginBasic(c.Credentials.Username, c.Credentials.Password)
	}
	return s
}

// Services wires the collaborators of a download registry. Transfers write
// to the operating system file system and are guarded by a free-space
// check.
func (c Config) Services(cat catalog.Catalog, sub download.Submitter) download.Services {
	client := gfhttp.NewClient(c.HTTPOptions())
	return download.Services{
		Catalog:      cat,
		Credentials:  c.Session(client),
		HTTP:         client,
		Fs:           afero.NewOsFs(),
		Scheduler:    sub,
		Root:         c.DownloadDir,
		ChunkSize:    int(c.ChunkSize),
		Limiter:      c.Limiter(),
		Space:        diskspace.Disk{},
		MinFreeSpace: uint64(c.MinFreeSpace),
	}
}
