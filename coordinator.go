// Package minato implements the cache coordinator: given a URL (or a
// local path, or a bang-member expression naming a file inside an
// archive URL), it returns a local filesystem path, downloading and
// extracting only as needed, safely against concurrent callers on the
// same machine. It is grounded on cacher/cacher.go's Cacher (lookup,
// maybe-download, return) combined with mirror/control.go's Run
// (acquire lock, do work, release).
package minato

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cybozu-go/minato/archiveutil"
	"github.com/cybozu-go/minato/cache"
	"github.com/cybozu-go/minato/config"
	"github.com/cybozu-go/minato/minatoerr"
	"github.com/cybozu-go/minato/minaturl"
	"github.com/pkg/errors"
)

// Minato is the cache coordinator bound to one cache_root.
type Minato struct {
	store *cache.Store
	cfg   config.Config
}

// New opens (creating if needed) the cache store rooted at cfg.CacheRoot.
func New(cfg config.Config) (*Minato, error) {
	store, err := cache.Open(cfg.CacheRoot)
	if err != nil {
		return nil, errors.Wrap(err, "minato: open cache store")
	}
	return &Minato{store: store, cfg: cfg}, nil
}

// Store returns the underlying cache store, for callers that need
// direct listing/filtering access (the CLI's list/remove/update
// subcommands).
func (m *Minato) Store() *cache.Store {
	return m.store
}

// CachedPathOptions configures one CachedPath resolution. A nil
// pointer field inherits whatever the entry (or, for a fresh entry,
// the store's configured default) already has.
type CachedPathOptions struct {
	Extract       bool
	AutoUpdate    *bool
	ExpireDays    *int
	ForceDownload bool
	ForceExtract  bool
	Retry         bool
}

// CachedPath resolves input to a local filesystem path per spec.md
// §4.5: a bang-member expression extracts its archive and returns the
// named member; a local path is returned (or extracted) directly; a
// remote URL is resolved through the cache.
func (m *Minato) CachedPath(ctx context.Context, input string, opts CachedPathOptions) (string, error) {
	if idx := strings.LastIndex(input, "!"); idx >= 0 {
		return m.resolveBangMember(ctx, input[:idx], input[idx+1:], opts)
	}

	u, err := minaturl.Parse(input)
	if err != nil {
		return "", errors.Wrap(err, "minato: parse input")
	}
	if u.IsLocal() {
		return m.cachedPathLocal(u, input, opts)
	}
	return m.cachedPathRemote(ctx, u, input, opts)
}

// resolveBangMember implements spec.md §4.5.1's bang-member handling:
// split at the LAST "!", recursively resolve the archive side with
// extraction forced on, then join the member path against the
// extracted root.
func (m *Minato) resolveBangMember(ctx context.Context, archiveURL, memberPath string, opts CachedPathOptions) (string, error) {
	archiveOpts := opts
	archiveOpts.Extract = true

	root, err := m.CachedPath(ctx, archiveURL, archiveOpts)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", errors.Wrap(minatoerr.ErrNotFound, archiveURL+"!"+memberPath)
	}

	member := memberPath
	if mu, err := minaturl.Parse(memberPath); err == nil && mu.Scheme() != "" {
		member = mu.Path()
	}
	member = strings.TrimPrefix(member, "/")

	full := filepath.Join(root, filepath.FromSlash(member))
	if _, err := os.Stat(full); err != nil {
		return "", errors.Wrap(minatoerr.ErrNotFound, full)
	}
	return full, nil
}

func localPathFromURL(u *minaturl.URL, raw string) string {
	path := u.Path()
	if path == "" {
		path = raw
	}
	return path
}

// cachedPathLocal implements spec.md §4.5.1's local-path short-circuit:
// the path is returned as-is unless extraction is requested and the
// file is an archive, in which case it is extracted next to itself.
func (m *Minato) cachedPathLocal(u *minaturl.URL, raw string, opts CachedPathOptions) (string, error) {
	path := localPathFromURL(u, raw)

	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrap(minatoerr.ErrNotFound, path)
	}

	if !(opts.Extract && archiveutil.IsArchiveFile(path)) {
		return path, nil
	}

	extractedPath := path + "-extracted"
	if opts.ForceExtract {
		if err := os.RemoveAll(extractedPath); err != nil {
			return "", errors.Wrap(err, "minato: remove stale extraction")
		}
	}
	if _, err := os.Stat(extractedPath); os.IsNotExist(err) {
		if err := archiveutil.ExtractArchiveFile(path, extractedPath); err != nil {
			return "", err
		}
	}
	return extractedPath, nil
}
