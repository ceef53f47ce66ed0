package cache

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cybozu-go/minato/filelock"
	"github.com/cybozu-go/minato/minatoerr"
	"github.com/pkg/errors"
)

// Store is the directory-backed cache entry store. One Store instance
// corresponds to one cache_root directory. Mutation of in-process state
// is guarded by mu; concurrent processes additionally coordinate through
// per-entry lock files (see Lock), mirroring cacher/storage.go's
// combination of an in-memory mutex for bookkeeping plus on-disk atomic
// rename for the data itself.
type Store struct {
	root string
	mu   sync.Mutex
}

// Open returns a Store rooted at root, creating the directory if it
// does not yet exist. Open fails if root exists and is not a directory.
func Open(root string) (*Store, error) {
	info, err := os.Stat(root)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, errors.Errorf("cache: %s exists and is not a directory", root)
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, errors.Wrap(err, "cache: create cache root")
		}
	default:
		return nil, errors.Wrap(err, "cache: stat cache root")
	}
	return &Store{root: root}, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) metaPath(uid string) string {
	return filepath.Join(s.root, uid+".json")
}

func (s *Store) lockPath(uid string) string {
	return filepath.Join(s.root, uid+".lock")
}

// PayloadPath returns the path an entry's downloaded payload lives at.
func (s *Store) PayloadPath(e *Entry) string {
	return filepath.Join(s.root, e.UID)
}

// ExtractionPath returns the path an entry's extracted tree lives at.
func (s *Store) ExtractionPath(e *Entry) string {
	return filepath.Join(s.root, e.UID+"-extracted")
}

// Lock returns the per-entry file lock, the total order spec.md §5
// requires every read/write of one entry's state to go through.
func (s *Store) Lock(e *Entry) *filelock.FileLock {
	return filelock.New(s.lockPath(e.UID))
}

// New creates and persists a fresh PENDING entry for rawURL, failing
// with ErrCacheAlreadyExists if an entry for rawURL is already on disk.
func (s *Store) New(rawURL string, expireDays int, autoUpdate bool) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, _ := filepath.Glob(filepath.Join(s.root, URLHash(rawURL)+"-*.json"))
	for _, path := range matches {
		if data, err := os.ReadFile(path); err == nil {
			if old, err := unmarshalEntry(data); err == nil && old.URL == rawURL {
				return nil, errors.Wrap(minatoerr.ErrCacheAlreadyExists, old.UID)
			}
		}
	}

	e, err := NewEntry(rawURL, expireDays, autoUpdate)
	if err != nil {
		return nil, errors.Wrap(err, "cache: mint uid")
	}
	if _, err := os.Stat(s.metaPath(e.UID)); err == nil {
		return nil, errors.Wrap(minatoerr.ErrCacheAlreadyExists, e.UID)
	}
	if err := s.writeMeta(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Add persists e as a new entry, failing if one with the same uid
// already exists.
func (s *Store) Add(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.metaPath(e.UID)); err == nil {
		return errors.Wrap(minatoerr.ErrCacheAlreadyExists, e.UID)
	}
	return s.writeMeta(e)
}

// Save persists e's current state to disk, overwriting any existing
// metadata file for its uid.
func (s *Store) Save(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMeta(e)
}

// Update applies mutate to a freshly reloaded copy of the entry
// identified by uid and persists the result, so callers holding the
// entry's lock observe and extend the latest on-disk state rather than
// a copy that might have gone stale.
func (s *Store) Update(uid string, mutate func(*Entry) error) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.readMeta(uid)
	if err != nil {
		return nil, err
	}
	if err := mutate(e); err != nil {
		return nil, err
	}
	e.UpdatedAt = time.Now()
	if err := s.writeMeta(e); err != nil {
		return nil, err
	}
	return e, nil
}

// writeMeta atomically replaces the metadata file for e, writing to a
// sibling temp file and renaming into place so a reader never observes
// a half-written JSON file, the same discipline cacher/storage.go uses
// for its own metadata persistence.
func (s *Store) writeMeta(e *Entry) error {
	data, err := e.marshal()
	if err != nil {
		return errors.Wrap(err, "cache: marshal entry")
	}

	tmp, err := os.CreateTemp(s.root, ".minato-meta-*")
	if err != nil {
		return errors.Wrap(err, "cache: create temp metadata file")
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Wrap(err, "cache: write temp metadata file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "cache: close temp metadata file")
	}
	if err := os.Rename(tmpPath, s.metaPath(e.UID)); err != nil {
		return errors.Wrap(err, "cache: rename metadata file into place")
	}
	committed = true
	return nil
}

func (s *Store) readMeta(uid string) (*Entry, error) {
	data, err := os.ReadFile(s.metaPath(uid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(minatoerr.ErrCacheNotFound, uid)
		}
		return nil, errors.Wrap(err, "cache: read metadata file")
	}
	return unmarshalEntry(data)
}

// ByUID returns the entry stored for uid.
func (s *Store) ByUID(uid string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMeta(uid)
}

// ByURL returns the entry for rawURL. It first narrows candidates by
// globbing the URL's hash prefix (<hash>-*.json), then falls back to a
// full scan, matching spec.md §4.4's by_url lookup; per spec.md §9
// the hash is an index, not a cryptographic guarantee, so every
// candidate's URL is re-checked after load.
func (s *Store) ByURL(rawURL string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := URLHash(rawURL)
	matches, err := filepath.Glob(filepath.Join(s.root, hash+"-*.json"))
	if err == nil {
		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			e, err := unmarshalEntry(data)
			if err != nil {
				continue
			}
			if e.URL == rawURL {
				return e, nil
			}
		}
	}

	all, err := s.allLocked()
	if err != nil {
		return nil, err
	}
	for _, e := range all {
		if e.URL == rawURL {
			return e, nil
		}
	}
	return nil, errors.Wrap(minatoerr.ErrCacheNotFound, rawURL)
}

// Exists reports whether an entry is stored for e's uid.
func (s *Store) Exists(e *Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.metaPath(e.UID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "cache: stat metadata file")
}

// Delete removes an entry's metadata, lock, payload, and extraction
// directory. Each component's absence is tolerated, since a prior
// partial failure may have already removed some of them.
func (s *Store) Delete(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := []string{
		s.metaPath(e.UID),
		s.lockPath(e.UID),
		s.PayloadPath(e),
		s.ExtractionPath(e),
	}
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			return errors.Wrapf(err, "cache: remove %s", p)
		}
	}
	return nil
}

// IsExpired reports whether the whole days elapsed since e.UpdatedAt
// is at least e.ExpireDays, per spec.md §4.4 ("now − updated_at ≥
// expire_days, floor"). A negative ExpireDays means the entry never
// expires.
func IsExpired(e *Entry, now time.Time) bool {
	if e.ExpireDays < 0 {
		return false
	}
	elapsedDays := int(now.Sub(e.UpdatedAt).Hours() / 24)
	return elapsedDays >= e.ExpireDays
}

// All returns every stored entry, sorted by created_at ascending.
func (s *Store) All() ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allLocked()
}

func (s *Store) allLocked() ([]*Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*.json"))
	if err != nil {
		return nil, errors.Wrap(err, "cache: glob metadata files")
	}

	entries := make([]*Entry, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		e, err := unmarshalEntry(data)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// FilterOptions narrows Filter's result set.
type FilterOptions struct {
	Queries   []string
	Expired   *bool
	Failed    *bool
	Completed *bool
	Now       time.Time
}

// Filter returns every stored entry matching every query term (by URL
// substring or uid prefix, ANDed across terms) and every set boolean
// filter, deduplicated by uid and re-sorted by created_at ascending,
// per spec.md §4.4.
func (s *Store) Filter(opts FilterOptions) ([]*Entry, error) {
	s.mu.Lock()
	all, err := s.allLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	seen := map[string]bool{}
	out := make([]*Entry, 0, len(all))
	for _, e := range all {
		if seen[e.UID] {
			continue
		}
		if !matchesQueries(e, opts.Queries) {
			continue
		}
		if opts.Expired != nil && IsExpired(e, now) != *opts.Expired {
			continue
		}
		if opts.Failed != nil && (e.Status == StatusFailed) != *opts.Failed {
			continue
		}
		if opts.Completed != nil && (e.Status == StatusCompleted) != *opts.Completed {
			continue
		}
		seen[e.UID] = true
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func matchesQueries(e *Entry, queries []string) bool {
	for _, q := range queries {
		if q == "" {
			continue
		}
		if strings.Contains(e.URL, q) || strings.HasPrefix(e.UID, q) {
			continue
		}
		return false
	}
	return true
}
