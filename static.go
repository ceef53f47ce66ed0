package minato

import (
	"context"

	"github.com/cybozu-go/minato/filesystem"
)

// Download, Upload, Delete, and Exists implement spec.md §4.5.10's
// static helpers: they route directly to the URL's backend and never
// touch the cache store.

// Download copies the object(s) at rawURL into localPath.
func Download(ctx context.Context, rawURL, localPath string) error {
	backend, _, err := filesystem.ByRawURL(rawURL)
	if err != nil {
		return err
	}
	return backend.Download(ctx, localPath)
}

// Upload uploads localPath (a file, or recursively a directory) to rawURL.
func Upload(ctx context.Context, rawURL, localPath string) error {
	backend, _, err := filesystem.ByRawURL(rawURL)
	if err != nil {
		return err
	}
	return backend.Upload(ctx, localPath)
}

// Delete removes the object or prefix rawURL addresses.
func Delete(ctx context.Context, rawURL string) error {
	backend, _, err := filesystem.ByRawURL(rawURL)
	if err != nil {
		return err
	}
	return backend.Delete(ctx)
}

// Exists reports whether rawURL addresses at least one object.
func Exists(ctx context.Context, rawURL string) (bool, error) {
	backend, _, err := filesystem.ByRawURL(rawURL)
	if err != nil {
		return false, err
	}
	return backend.Exists(ctx)
}
