package minato

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cybozu-go/minato/filesystem"
)

func TestOpenReadModeRoutesThroughCache(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("streamed content"))
	}))
	defer srv.Close()

	m := newTestMinato(t)
	rc, err := m.Open(context.Background(), srv.URL+"/stream.txt", OpenOptions{
		OpenOptions: filesystem.OpenOptions{Mode: "r"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "streamed content" {
		t.Errorf("content = %q", data)
	}

	if _, err := rc.Write([]byte("x")); err == nil {
		t.Error("expected write on a read-only handle to fail")
	}
}

func TestOpenWriteModeBypassesCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	m := newTestMinato(t)
	wc, err := m.Open(context.Background(), path, OpenOptions{
		OpenOptions: filesystem.OpenOptions{Mode: "w"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wc.Write([]byte("written by minato")); err != nil {
		t.Fatal(err)
	}
	if err := wc.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "written by minato" {
		t.Errorf("file content = %q", data)
	}
}
