package minato

import (
	"context"
	"os"
	"time"

	"github.com/cybozu-go/log"
	"github.com/cybozu-go/minato/archiveutil"
	"github.com/cybozu-go/minato/cache"
	"github.com/cybozu-go/minato/filesystem"
	"github.com/cybozu-go/minato/minatoerr"
	"github.com/cybozu-go/minato/minaturl"
	"github.com/pkg/errors"
)

// cachedPathRemote implements spec.md §4.5.2's entry acquisition: look
// up (or mint) the entry, then run the rest of the resolution under
// its per-entry lock.
func (m *Minato) cachedPathRemote(ctx context.Context, u *minaturl.URL, rawURL string, opts CachedPathOptions) (path string, err error) {
	entry, lookupErr := m.store.ByURL(rawURL)
	if lookupErr != nil {
		if errors.Cause(lookupErr) != minatoerr.ErrCacheNotFound {
			return "", lookupErr
		}
		expireDays := m.cfg.ExpireDays
		if opts.ExpireDays != nil {
			expireDays = *opts.ExpireDays
		}
		autoUpdate := m.cfg.AutoUpdate
		if opts.AutoUpdate != nil {
			autoUpdate = *opts.AutoUpdate
		}
		entry, err = cache.NewEntry(rawURL, expireDays, autoUpdate)
		if err != nil {
			return "", errors.Wrap(err, "minato: mint entry")
		}
	}

	lock := m.store.Lock(entry)
	if err := lock.Acquire(); err != nil {
		return "", errors.Wrap(err, "minato: acquire entry lock")
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()

	return m.resolveLocked(ctx, u, entry, opts)
}

// resolveLocked implements spec.md §4.5.2-§4.5.7 under the per-entry
// lock the caller already holds. Any error here other than a backend
// NotFound (which instead deletes the entry, per spec.md §7) marks the
// entry FAILED before returning, satisfying the "interrupted resolution
// never leaves DOWNLOADING/EXTRACTING on disk" invariant.
func (m *Minato) resolveLocked(ctx context.Context, u *minaturl.URL, entry *cache.Entry, opts CachedPathOptions) (path string, err error) {
	backend, err := filesystem.ByURL(u)
	if err != nil {
		return "", err
	}

	exists, err := m.store.Exists(entry)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := m.store.Add(entry); err != nil {
			return "", err
		}
	}

	entry, err = m.store.ByUID(entry.UID)
	if err != nil {
		return "", err
	}

	if opts.ExpireDays != nil || opts.AutoUpdate != nil {
		entry, err = m.store.Update(entry.UID, func(e *cache.Entry) error {
			if opts.ExpireDays != nil {
				e.ExpireDays = *opts.ExpireDays
			}
			if opts.AutoUpdate != nil {
				e.AutoUpdate = *opts.AutoUpdate
			}
			return nil
		})
		if err != nil {
			return "", err
		}
	}

	defer func() {
		if err == nil || errors.Cause(err) == minatoerr.ErrNotFound {
			return
		}
		if _, failErr := m.store.Update(entry.UID, func(e *cache.Entry) error {
			e.Status = cache.StatusFailed
			return nil
		}); failErr != nil {
			log.Error("minato: failed to persist FAILED status", map[string]interface{}{
				"_uid":   entry.UID,
				"_error": failErr.Error(),
			})
		}
	}()

	forceDownload := opts.ForceDownload
	if entry.AutoUpdate && entry.Version != "" {
		version, ok, vErr := backend.GetVersion(ctx)
		if vErr != nil {
			return "", errors.Wrap(vErr, "minato: get_version")
		}
		if ok && version != entry.Version {
			forceDownload = true
		}
	}
	if opts.Retry && entry.Status != cache.StatusCompleted {
		forceDownload = true
	}

	payloadPath := m.store.PayloadPath(entry)
	didDownload := false

	_, statErr := os.Stat(payloadPath)
	payloadMissing := os.IsNotExist(statErr)
	expired := cache.IsExpired(entry, time.Now())

	if payloadMissing || expired || forceDownload {
		entry, err = m.downloadInto(ctx, backend, entry, payloadPath)
		if err != nil {
			return "", err
		}
		didDownload = true
	}

	isArchive := archiveutil.IsArchiveFile(payloadPath)
	hadExtraction := entry.ExtractionPath != ""
	shouldExtract := isArchive && ((opts.Extract && !hadExtraction) || (didDownload && hadExtraction) || opts.ForceExtract)
	didExtract := false

	if shouldExtract {
		entry, err = m.extractInto(entry, payloadPath)
		if err != nil {
			return "", err
		}
		didExtract = true
	}

	if didDownload || didExtract {
		entry, err = m.store.Update(entry.UID, func(e *cache.Entry) error {
			e.Status = cache.StatusCompleted
			return nil
		})
		if err != nil {
			return "", err
		}
	}

	return finalPath(entry, payloadPath, opts)
}

// downloadInto performs spec.md §4.5.4's download decision sequence:
// remove any stale payload, transition to DOWNLOADING, invoke the
// backend, record the new version. A backend NotFound deletes the
// entry before propagating, per spec.md §7.
func (m *Minato) downloadInto(ctx context.Context, backend filesystem.Backend, entry *cache.Entry, payloadPath string) (*cache.Entry, error) {
	if err := os.RemoveAll(payloadPath); err != nil {
		return nil, errors.Wrap(err, "minato: remove stale payload")
	}

	entry, err := m.store.Update(entry.UID, func(e *cache.Entry) error {
		e.Status = cache.StatusDownloading
		return nil
	})
	if err != nil {
		return nil, err
	}

	if dlErr := backend.Download(ctx, payloadPath); dlErr != nil {
		if errors.Cause(dlErr) == minatoerr.ErrNotFound {
			if delErr := m.store.Delete(entry); delErr != nil {
				log.Error("minato: failed to delete entry after NotFound", map[string]interface{}{
					"_uid":   entry.UID,
					"_error": delErr.Error(),
				})
			}
			return entry, dlErr
		}
		return entry, errors.Wrap(dlErr, "minato: download")
	}

	version, _, vErr := backend.GetVersion(ctx)
	if vErr != nil {
		return entry, errors.Wrap(vErr, "minato: get_version after download")
	}

	return m.store.Update(entry.UID, func(e *cache.Entry) error {
		e.Version = version
		return nil
	})
}

// extractInto performs spec.md §4.5.5's extraction decision sequence:
// remove any stale extraction tree, transition to EXTRACTING, extract
// atomically.
func (m *Minato) extractInto(entry *cache.Entry, payloadPath string) (*cache.Entry, error) {
	extractionPath := m.store.ExtractionPath(entry)
	if err := os.RemoveAll(extractionPath); err != nil {
		return nil, errors.Wrap(err, "minato: remove stale extraction")
	}

	entry, err := m.store.Update(entry.UID, func(e *cache.Entry) error {
		e.Status = cache.StatusExtracting
		e.ExtractionPath = extractionPath
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := archiveutil.ExtractArchiveFile(payloadPath, extractionPath); err != nil {
		return entry, errors.Wrap(err, "minato: extract")
	}
	return entry, nil
}

// finalPath implements spec.md §4.5.7's return-value assertions.
func finalPath(entry *cache.Entry, payloadPath string, opts CachedPathOptions) (string, error) {
	if opts.Extract && entry.ExtractionPath != "" {
		if _, err := os.Stat(entry.ExtractionPath); err != nil {
			return "", errors.Wrap(minatoerr.ErrInvalidStatus, "extraction path missing")
		}
		if entry.Status != cache.StatusCompleted {
			return "", errors.Wrap(minatoerr.ErrInvalidStatus, "entry not COMPLETED")
		}
		return entry.ExtractionPath, nil
	}

	if _, err := os.Stat(payloadPath); err != nil {
		return "", errors.Wrap(minatoerr.ErrInvalidStatus, "payload missing")
	}
	if entry.Status != cache.StatusCompleted {
		return "", errors.Wrap(minatoerr.ErrInvalidStatus, "entry not COMPLETED")
	}
	return payloadPath, nil
}
