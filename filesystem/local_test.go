package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/cybozu-go/minato/minatoerr"
	"github.com/cybozu-go/minato/minaturl"
	"github.com/pkg/errors"
)

func mustParse(t *testing.T, raw string) *minaturl.URL {
	t.Helper()
	u, err := minaturl.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestLocalBackendDownloadUploadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	backend, err := ByURL(mustParse(t, "file://"+src))
	if err != nil {
		t.Fatal(err)
	}

	exists, err := backend.Exists(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected source to exist")
	}

	dst := filepath.Join(dir, "dst.txt")
	if err := backend.Download(context.Background(), dst); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "payload" {
		t.Errorf("content = %q", content)
	}
}

func TestLocalBackendDownloadMissingIsNotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.txt")

	backend, err := ByURL(mustParse(t, "file://"+missing))
	if err != nil {
		t.Fatal(err)
	}

	err = backend.Download(context.Background(), filepath.Join(dir, "out.txt"))
	if errors.Cause(err) != minatoerr.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalBackendGetVersionTracksModTime(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "versioned.txt")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	backend, err := ByURL(mustParse(t, "file://"+path))
	if err != nil {
		t.Fatal(err)
	}

	v1, ok, err := backend.GetVersion(context.Background())
	if err != nil || !ok {
		t.Fatalf("GetVersion: %v, ok=%v", err, ok)
	}
	if v1 == "" {
		t.Error("expected a non-empty version")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := strconv.FormatInt(info.ModTime().UnixNano(), 10); v1 != want {
		t.Errorf("version = %q, want mtime in ns %q", v1, want)
	}
}

func TestLocalBackendOpenFileReadOnlyRejectsWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "ro.txt")
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	backend, err := ByURL(mustParse(t, "file://"+path))
	if err != nil {
		t.Fatal(err)
	}

	f, err := backend.OpenFile(context.Background(), OpenOptions{Mode: "r"})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.Write([]byte("x")); err == nil {
		t.Error("expected write to a read-only handle to fail")
	}
}
