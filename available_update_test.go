package minato

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestAvailableUpdateFalseForLocal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	m := newTestMinato(t)
	has, err := m.AvailableUpdate(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("AvailableUpdate should always be false for local inputs")
	}
}

func TestAvailableUpdateDetectsVersionChange(t *testing.T) {
	t.Parallel()

	etag := `"v1"`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", etag)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	m := newTestMinato(t)
	url := srv.URL + "/versioned"

	autoUpdate := true
	if _, err := m.CachedPath(context.Background(), url, CachedPathOptions{AutoUpdate: &autoUpdate}); err != nil {
		t.Fatal(err)
	}

	has, err := m.AvailableUpdate(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("expected no update available while ETag is unchanged")
	}

	etag = `"v2"`
	has, err = m.AvailableUpdate(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("expected an update to be available after ETag changed")
	}
}
