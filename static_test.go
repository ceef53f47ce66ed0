package minato

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticHelpersBypassCache(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "source.txt")
	if err := os.WriteFile(srcPath, []byte("static payload"), 0644); err != nil {
		t.Fatal(err)
	}

	dstDir := t.TempDir()
	dstPath := filepath.Join(dstDir, "dest.txt")

	exists, err := Exists(context.Background(), srcPath)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected source to exist")
	}

	if err := Download(context.Background(), srcPath, dstPath); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "static payload" {
		t.Errorf("downloaded content = %q", data)
	}

	uploadTarget := filepath.Join(dstDir, "uploaded.txt")
	if err := Upload(context.Background(), uploadTarget, dstPath); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(uploadTarget); err != nil {
		t.Fatal(err)
	}

	if err := Delete(context.Background(), uploadTarget); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(uploadTarget); !os.IsNotExist(err) {
		t.Error("expected uploaded.txt to be removed after Delete")
	}
}
