package minato

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cybozu-go/minato/cache"
	"github.com/cybozu-go/minato/config"
)

func newTestMinato(t *testing.T) *Minato {
	t.Helper()
	cfg := config.Default()
	cfg.CacheRoot = t.TempDir()
	m, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCachedPathFreshHTTPFetch(t *testing.T) {
	t.Parallel()

	const body = "hello minato"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	m := newTestMinato(t)
	path, err := m.CachedPath(context.Background(), srv.URL+"/artifact.bin", CachedPathOptions{})
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != body {
		t.Errorf("content = %q, want %q", data, body)
	}

	entry, err := m.store.ByURL(srv.URL + "/artifact.bin")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != cache.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", entry.Status)
	}
}

func TestCachedPathIdempotentOnUnchangedUpstream(t *testing.T) {
	t.Parallel()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Count downloads only; GetVersion's HEAD requests are not downloads.
		if r.Method == http.MethodGet {
			hits++
		}
		w.Header().Set("ETag", `"stable"`)
		w.Write([]byte("same content"))
	}))
	defer srv.Close()

	m := newTestMinato(t)
	url := srv.URL + "/thing"

	first, err := m.CachedPath(context.Background(), url, CachedPathOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.CachedPath(context.Background(), url, CachedPathOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("paths differ across calls: %q vs %q", first, second)
	}
	if hits != 1 {
		t.Errorf("expected exactly one download, got %d hits", hits)
	}
}

func buildTestZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCachedPathBangMemberExtractsArchive(t *testing.T) {
	t.Parallel()

	archiveDir := t.TempDir()
	archivePath := filepath.Join(archiveDir, "bundle.zip")
	buildTestZip(t, archivePath, map[string]string{
		"nested/readme.txt": "contents of readme",
	})

	m := newTestMinato(t)
	path, err := m.CachedPath(context.Background(), archivePath+"!nested/readme.txt", CachedPathOptions{})
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "contents of readme" {
		t.Errorf("member content = %q", data)
	}
}

func TestCachedPathLocalMissingIsNotFound(t *testing.T) {
	t.Parallel()

	m := newTestMinato(t)
	_, err := m.CachedPath(context.Background(), filepath.Join(t.TempDir(), "missing.bin"), CachedPathOptions{})
	if err == nil {
		t.Fatal("expected error for missing local path")
	}
}

func TestCachedPathDownloadsAgainAfterExpiry(t *testing.T) {
	t.Parallel()

	var hits int
	var body bytes.Buffer
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			hits++
		}
		w.Header().Set("ETag", `"v1"`)
		body.Reset()
		body.WriteString("generation")
		w.Write(body.Bytes())
	}))
	defer srv.Close()

	m := newTestMinato(t)
	url := srv.URL + "/expiring"
	expireDays := 0

	if _, err := m.CachedPath(context.Background(), url, CachedPathOptions{ExpireDays: &expireDays}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CachedPath(context.Background(), url, CachedPathOptions{ExpireDays: &expireDays}); err != nil {
		t.Fatal(err)
	}
	if hits < 2 {
		t.Errorf("expire_days=0 should force a re-download on the second call, got %d hits", hits)
	}
}

func TestCachedPathForceDownload(t *testing.T) {
	t.Parallel()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			hits++
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	m := newTestMinato(t)
	url := srv.URL + "/forced"

	if _, err := m.CachedPath(context.Background(), url, CachedPathOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CachedPath(context.Background(), url, CachedPathOptions{ForceDownload: true}); err != nil {
		t.Fatal(err)
	}
	if hits != 2 {
		t.Errorf("expected ForceDownload to trigger a second fetch, got %d hits", hits)
	}
}
