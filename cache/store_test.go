package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cybozu-go/minato/minatoerr"
	"github.com/pkg/errors"
)

func TestStoreNewAddExistsDelete(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	e, err := s.New("https://example.com/artifact.tar.gz", -1, true)
	if err != nil {
		t.Fatal(err)
	}

	exists, err := s.Exists(e)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected entry to exist after New")
	}

	if _, err := s.New(e.URL, -1, true); errors.Cause(err) != minatoerr.ErrCacheAlreadyExists {
		t.Errorf("expected ErrCacheAlreadyExists on duplicate New, got %v", err)
	}

	if err := s.Delete(e); err != nil {
		t.Fatal(err)
	}
	exists, err = s.Exists(e)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("expected entry to be gone after Delete")
	}
}

func TestStoreByURLAndByUID(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	e, err := s.New("https://example.com/thing.zip", 7, false)
	if err != nil {
		t.Fatal(err)
	}

	byURL, err := s.ByURL(e.URL)
	if err != nil {
		t.Fatal(err)
	}
	if byURL.UID != e.UID {
		t.Errorf("ByURL uid = %q, want %q", byURL.UID, e.UID)
	}

	byUID, err := s.ByUID(e.UID)
	if err != nil {
		t.Fatal(err)
	}
	if byUID.URL != e.URL {
		t.Errorf("ByUID url = %q, want %q", byUID.URL, e.URL)
	}
}

func TestStoreUpdatePersistsMutation(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	e, err := s.New("https://example.com/x.bin", -1, true)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Update(e.UID, func(e *Entry) error {
		e.Status = StatusCompleted
		e.Version = "abc"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	reloaded, err := s.ByUID(e.UID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != StatusCompleted || reloaded.Version != "abc" {
		t.Errorf("reloaded = %+v", reloaded)
	}
}

func TestIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	never := &Entry{UpdatedAt: now.AddDate(0, 0, -100), ExpireDays: -1}
	if IsExpired(never, now) {
		t.Error("expire_days<0 should never expire")
	}

	stale := &Entry{UpdatedAt: now.AddDate(0, 0, -10), ExpireDays: 5}
	if !IsExpired(stale, now) {
		t.Error("expected entry older than expire_days to be expired")
	}

	fresh := &Entry{UpdatedAt: now.AddDate(0, 0, -1), ExpireDays: 5}
	if IsExpired(fresh, now) {
		t.Error("expected entry younger than expire_days to not be expired")
	}
}

func TestStoreByUIDAppliesBackwardCompatDefaultsForMissingFields(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// Hand-written in the pre-expire_days/auto_update format: these keys
	// are entirely absent, not present with a zero value.
	const uid = "0123456789abcdef0123456789abcdef-old"
	oldFormat := `{
		"uid": "` + uid + `",
		"url": "https://example.com/legacy.bin",
		"local_path": "` + uid + `",
		"created_at": "2020-01-01T00:00:00Z",
		"updated_at": "2020-01-01T00:00:00Z",
		"status": "COMPLETED"
	}`
	if err := os.WriteFile(filepath.Join(s.Root(), uid+".json"), []byte(oldFormat), 0644); err != nil {
		t.Fatal(err)
	}

	e, err := s.ByUID(uid)
	if err != nil {
		t.Fatal(err)
	}
	if e.ExpireDays != -1 {
		t.Errorf("ExpireDays = %d, want -1", e.ExpireDays)
	}
	if !e.AutoUpdate {
		t.Error("AutoUpdate = false, want true")
	}
}

func TestStoreFilterByQueryAndStatus(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	a, err := s.New("https://example.com/alpha.tar.gz", -1, true)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.New("https://example.com/beta.zip", -1, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(b.UID, func(e *Entry) error {
		e.Status = StatusFailed
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	results, err := s.Filter(FilterOptions{Queries: []string{"alpha"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].UID != a.UID {
		t.Errorf("query filter results = %+v", results)
	}

	failed := true
	results, err = s.Filter(FilterOptions{Failed: &failed})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].UID != b.UID {
		t.Errorf("failed filter results = %+v", results)
	}
}
