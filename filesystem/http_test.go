package filesystem

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cybozu-go/minato/minatoerr"
	"github.com/pkg/errors"
)

func TestHTTPBackendDownload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc123"`)
		w.Write([]byte("remote payload"))
	}))
	defer srv.Close()

	backend, err := ByURL(mustParse(t, srv.URL+"/file.bin"))
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	dst := filepath.Join(dir, "out.bin")
	if err := backend.Download(context.Background(), dst); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "remote payload" {
		t.Errorf("content = %q", content)
	}

	version, ok, err := backend.GetVersion(context.Background())
	if err != nil || !ok {
		t.Fatalf("GetVersion: %v, ok=%v", err, ok)
	}
	if version != `"abc123"` {
		t.Errorf("version = %q, want literal ETag preserved", version)
	}
}

func TestHTTPBackendDownloadNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	backend, err := ByURL(mustParse(t, srv.URL+"/missing"))
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	err = backend.Download(context.Background(), filepath.Join(dir, "out"))
	if errors.Cause(err) != minatoerr.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPBackendRetriesOn503(t *testing.T) {
	t.Parallel()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok after retries"))
	}))
	defer srv.Close()

	backend, err := ByURL(mustParse(t, srv.URL+"/flaky"))
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	dst := filepath.Join(dir, "out")
	if err := backend.Download(context.Background(), dst); err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestHTTPBackendUploadDeleteUnsupported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	backend, err := ByURL(mustParse(t, srv.URL+"/x"))
	if err != nil {
		t.Fatal(err)
	}

	if err := backend.Upload(context.Background(), "/tmp/whatever"); errors.Cause(err) != minatoerr.ErrUnsupported {
		t.Errorf("Upload: expected ErrUnsupported, got %v", err)
	}
	if err := backend.Delete(context.Background()); errors.Cause(err) != minatoerr.ErrUnsupported {
		t.Errorf("Delete: expected ErrUnsupported, got %v", err)
	}
}
