package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/ligustah/gridfetch/internal/catalog"
	"github.com/ligustah/gridfetch/internal/checksum"
	gfhttp "github.com/ligustah/gridfetch/internal/http"
)

// plan is the snapshot of file state a single transfer works from.
type plan struct {
	url    string
	offset int64
	total  int64
	sum    string
	kind   checksum.Kind
}

// Execute downloads a READY file. A file that is PAUSED or SKIPPED by the
// time a worker picks it up is left alone. Cancelling ctx pauses the file at
// the next chunk boundary.
//
// The returned error is also recorded on the file, which moves to FAILED,
// UNAUTHORIZED or CHECKSUM_FAILED depending on its kind.
func (f *File) Execute(ctx context.Context) error {
	for {
		p, ok, err := f.begin()
		if err != nil || !ok {
			return err
		}

		err = f.transfer(ctx, p)
		if err != nil {
			f.fail(err)
		}
		// Prepared again while winding down: the queued job was already
		// consumed, so run the new attempt here.
		if ctx.Err() != nil || f.Status() != StatusReady {
			return err
		}
		log.Debugw("file re-armed during transfer", "file", f.id)
	}
}

func (f *File) begin() (plan, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.status {
	case StatusReady:
	case StatusPaused, StatusSkipped:
		return plan{}, false, nil
	default:
		return plan{}, false, fmt.Errorf("%w: execute %s from %s", ErrIllegalState, f.id, f.status)
	}

	url, _ := f.replica.URL(catalog.ServiceHTTP)
	f.status = StatusDownloading
	f.started = time.Now()
	f.finished = time.Time{}
	f.err = nil
	return plan{
		url:    url,
		offset: f.currentSize,
		total:  f.totalSize,
		sum:    f.checksum,
		kind:   f.checksumKind,
	}, true, nil
}

func (f *File) transfer(ctx context.Context, p plan) error {
	fs := f.svc.Fs
	path := f.Path()

	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %w", ErrTransfer, err)
	}

	resume := p.offset > 0
	if !resume && p.sum != "" && p.total > 0 && f.validInPlace(path, p) {
		f.mu.Lock()
		if f.status != StatusDownloading {
			f.mu.Unlock()
			return nil
		}
		f.currentSize = p.total
		f.dataset.adjust(p.total, 0)
		f.mu.Unlock()

		log.Infow("existing file matches checksum, skipping transfer", "file", f.id)
		f.dataset.events.Progress(f.dataset)
		f.finish()
		return nil
	}

	// Every byte arrived before the last run stopped; a range request past
	// the end would only be refused.
	if resume && p.total > 0 && p.offset >= p.total {
		log.Infow("recorded progress covers the whole file, verifying", "file", f.id, "offset", p.offset)
		return f.complete(path, p)
	}

	if err := f.checkSpace(filepath.Dir(path), p.total-p.offset); err != nil {
		return err
	}

	out, err := openOutput(fs, path, p.offset)
	if err != nil {
		return err
	}
	var body io.ReadCloser
	defer func() {
		if body != nil {
			closeQuietly(f.id, body)
		}
		if out != nil {
			closeQuietly(f.id, out)
		}
	}()

	resp, err := f.connect(ctx, p.url, p.offset)
	if err != nil {
		if ctx.Err() != nil {
			f.interrupt()
			return nil
		}
		return err
	}
	body = resp.Body

	current := p.offset
	if resume && !resp.Partial {
		log.Infow("server ignored range request, restarting from zero", "file", f.id, "offset", p.offset)
		if err := rewind(out); err != nil {
			return err
		}
		if !f.rewind() {
			return nil
		}
		current = 0
	}
	total := f.adoptTotal(resp.TotalSize)

	buf := make([]byte, f.svc.ChunkSize)
	for {
		if ctx.Err() != nil {
			f.interrupt()
			return nil
		}
		if f.Status() != StatusDownloading {
			return nil
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if total > 0 && current+int64(n) > total {
				return fmt.Errorf("%w: %s received more than %d bytes", ErrTransfer, f.id, total)
			}
			if err := f.throttle(ctx, n); err != nil {
				f.interrupt()
				return nil
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: write %s: %w", ErrTransfer, f.id, err)
			}
			if !f.advance(int64(n)) {
				return nil
			}
			current += int64(n)
			f.dataset.events.Progress(f.dataset)
			f.events.Progress(f)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				f.interrupt()
				return nil
			}
			return fmt.Errorf("%w: read %s: %w", ErrTransfer, f.id, rerr)
		}
	}

	closeQuietly(f.id, body)
	body = nil
	if err := out.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrTransfer, f.id, err)
	}
	if err := out.Close(); err != nil {
		out = nil
		return fmt.Errorf("%w: close %s: %w", ErrTransfer, f.id, err)
	}
	out = nil

	return f.complete(path, p)
}

// complete decides the final state of a transfer whose stream ended.
func (f *File) complete(path string, p plan) error {
	f.mu.Lock()
	st, cur, tot := f.status, f.currentSize, f.totalSize
	f.mu.Unlock()
	if st != StatusDownloading {
		return nil
	}

	if p.sum != "" {
		if tot == 0 || cur != tot {
			return fmt.Errorf("%w: %s has %d of %d bytes", ErrTransfer, f.id, cur, tot)
		}
		if err := checksum.Verify(f.svc.Fs, path, p.kind, p.sum); err != nil {
			if errors.Is(err, checksum.ErrMismatch) {
				return fmt.Errorf("%w: %w", ErrChecksumMismatch, err)
			}
			return fmt.Errorf("%w: verify %s: %w", ErrTransfer, f.id, err)
		}
		f.finish()
		return nil
	}

	switch {
	case tot == 0:
		f.adoptTotal(cur)
	case cur != tot:
		return fmt.Errorf("%w: %s has %d of %d bytes", ErrTransfer, f.id, cur, tot)
	}
	f.finish()
	return nil
}

// connect opens the stream anonymously and escalates to the credential
// provider when the data node refuses.
func (f *File) connect(ctx context.Context, url string, offset int64) (*gfhttp.Response, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoReplica, f.id)
	}

	resp, err := f.svc.HTTP.Open(ctx, nil, url, offset)
	if err == nil {
		return resp, nil
	}
	var se *gfhttp.StatusError
	if !errors.As(err, &se) {
		return nil, fmt.Errorf("%w: %w", ErrTransfer, err)
	}

	log.Debugw("anonymous request refused", "file", f.id, "status", se.Code)
	creds := f.svc.Credentials
	if !creds.HasActiveSession() {
		return nil, fmt.Errorf("%w: %s needs credentials and no session is active", ErrUnauthorized, f.id)
	}
	client, err := creds.Client(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	resp, err = f.svc.HTTP.Open(ctx, client, url, offset)
	if err == nil {
		return resp, nil
	}
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusUnauthorized, se.Code == http.StatusForbidden,
			se.Code >= 300 && se.Code < 400, se.Code == http.StatusInternalServerError:
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrTransfer, err)
}

// validInPlace reports whether a complete, correct copy already exists.
func (f *File) validInPlace(path string, p plan) bool {
	info, err := f.svc.Fs.Stat(path)
	if err != nil || info.Size() != p.total {
		return false
	}
	if err := checksum.Verify(f.svc.Fs, path, p.kind, p.sum); err != nil {
		log.Debugw("existing file does not verify", "file", f.id, "error", err)
		return false
	}
	return true
}

func (f *File) checkSpace(dir string, remaining int64) error {
	if f.svc.Space == nil || remaining <= 0 {
		return nil
	}
	free, err := f.svc.Space.Free(dir)
	if err != nil {
		log.Debugw("free space unknown", "dir", dir, "error", err)
		return nil
	}
	if uint64(remaining)+f.svc.MinFreeSpace > free {
		return fmt.Errorf("%w: %s needs %d bytes, %d free", ErrInsufficientSpace, f.id, remaining, free)
	}
	return nil
}

// throttle waits for the limiter to admit n bytes.
func (f *File) throttle(ctx context.Context, n int) error {
	lim := f.svc.Limiter
	if lim == nil {
		return nil
	}
	burst := lim.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := lim.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// advance counts n written bytes on the file and its dataset unless the
// transfer was interrupted while the chunk was in flight. The dataset is
// credited under the file lock.
func (f *File) advance(n int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != StatusDownloading {
		return false
	}
	f.currentSize += n
	f.dataset.adjust(n, 0)
	return true
}

// rewind zeroes progress after the server restarted the file from the
// beginning.
func (f *File) rewind() bool {
	f.mu.Lock()
	if f.status != StatusDownloading {
		f.mu.Unlock()
		return false
	}
	f.dataset.adjust(-f.currentSize, 0)
	f.currentSize = 0
	f.mu.Unlock()
	return true
}

// adoptTotal records the server-reported size when the catalog had none and
// returns the size the transfer is checked against.
func (f *File) adoptTotal(size int64) int64 {
	f.mu.Lock()
	if size <= 0 || f.totalSize != 0 {
		tot := f.totalSize
		f.mu.Unlock()
		return tot
	}
	f.totalSize = size
	f.dataset.adjust(0, size)
	f.mu.Unlock()
	return size
}

// interrupt pauses a transfer whose context ended.
func (f *File) interrupt() {
	f.mu.Lock()
	if f.status == StatusDownloading {
		f.status = StatusPaused
	}
	f.mu.Unlock()
	log.Debugw("transfer interrupted", "file", f.id)
}

func openOutput(fs afero.Fs, path string, offset int64) (afero.File, error) {
	if offset == 0 {
		out, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", ErrTransfer, path, err)
		}
		return out, nil
	}

	out, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrTransfer, path, err)
	}
	if err := out.Truncate(offset); err != nil {
		out.Close()
		return nil, fmt.Errorf("%w: truncate %s: %w", ErrTransfer, path, err)
	}
	if _, err := out.Seek(offset, io.SeekStart); err != nil {
		out.Close()
		return nil, fmt.Errorf("%w: seek %s: %w", ErrTransfer, path, err)
	}
	return out, nil
}

func rewind(out afero.File) error {
	if err := out.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncate: %w", ErrTransfer, err)
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek: %w", ErrTransfer, err)
	}
	return nil
}

func closeQuietly(file string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Debugw("close failed", "file", file, "error", err)
	}
}
