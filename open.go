package minato

import (
	"context"
	"io"

	"github.com/cybozu-go/minato/filesystem"
	"github.com/cybozu-go/minato/internal/compressutil"
	"github.com/cybozu-go/minato/minatoerr"
	"github.com/pkg/errors"
)

var errReadOnly = errors.Wrap(minatoerr.ErrUnsupported, "minato: handle opened read-only")

// OpenOptions configures one Open call: the filesystem-level open mode
// (mirroring Python's "r"/"w"/"a"/"x"/"+" mode letters, plus decompress
// behavior) and the CachedPath options that apply when the mode is
// purely read.
type OpenOptions struct {
	filesystem.OpenOptions
	CachedPathOptions
}

// Open implements spec.md §4.5.8: a purely-read mode routes through
// CachedPath and then the local, compression-aware reader; any write
// mode bypasses the cache entirely and opens the backend directly.
func (m *Minato) Open(ctx context.Context, rawURL string, opts OpenOptions) (io.ReadWriteCloser, error) {
	if opts.OpenOptions.IsWrite() {
		backend, _, err := filesystem.ByRawURL(rawURL)
		if err != nil {
			return nil, err
		}
		return backend.OpenFile(ctx, opts.OpenOptions)
	}

	path, err := m.CachedPath(ctx, rawURL, opts.CachedPathOptions)
	if err != nil {
		return nil, err
	}
	rc, err := compressutil.OpenRead(path, opts.Decompress)
	if err != nil {
		return nil, err
	}
	return readOnlyHandle{rc}, nil
}

// readOnlyHandle adapts an io.ReadCloser to io.ReadWriteCloser for the
// read path, where Open's return type must match the write path's but
// writing is never valid.
type readOnlyHandle struct {
	io.ReadCloser
}

func (readOnlyHandle) Write(p []byte) (int, error) {
	return 0, errReadOnly
}
