package download

import (
	"math/rand/v2"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/ligustah/gridfetch/internal/catalog"
	"github.com/ligustah/gridfetch/internal/credential"
	"github.com/ligustah/gridfetch/internal/diskspace"
	gfhttp "github.com/ligustah/gridfetch/internal/http"
	"github.com/ligustah/gridfetch/internal/scheduler"
)

// DefaultChunkSize is the number of bytes read from the network per loop
// iteration and per progress notification.
const DefaultChunkSize = 32 * 1024

// Submitter queues file transfers. *scheduler.Scheduler satisfies it.
type Submitter interface {
	Submit(job scheduler.Job) error
}

// Services are the collaborators shared by every dataset and file of a
// registry.
type Services struct {
	Catalog     catalog.Catalog
	Credentials credential.Provider
	HTTP        *gfhttp.Client
	Fs          afero.Fs
	Scheduler   Submitter

	// Root is the directory under which dataset paths are derived.
	Root string

	// ChunkSize is the transfer read size.
	// Default: 32 KiB
	ChunkSize int

	// Limiter throttles the aggregate transfer rate when set.
	Limiter *rate.Limiter

	// Space guards against filling the disk when set.
	Space diskspace.Checker

	// MinFreeSpace is kept free on top of the remaining bytes of a file.
	MinFreeSpace uint64

	// pick chooses a replica index in [0, n). Overridden by tests.
	pick func(n int) int
}

func (s *Services) withDefaults() *Services {
	c := *s
	if c.Credentials == nil {
		c.Credentials = credential.None{}
	}
	if c.HTTP == nil {
		c.HTTP = gfhttp.NewClient(gfhttp.DefaultOptions())
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.pick == nil {
		c.pick = rand.IntN
	}
	return &c
}
