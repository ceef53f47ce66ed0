package filesystem

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cybozu-go/minato/internal/compressutil"
	"github.com/cybozu-go/minato/minatoerr"
	"github.com/cybozu-go/minato/minaturl"
	"github.com/pkg/errors"
)

func init() {
	Register([]string{"hf"}, newHFBackend)
}

// hfBackend resolves hf://<repo>/<path> against the Hugging Face Hub's
// resolve endpoint. The Hub is read-only from this backend's point of
// view; there is no upload API in scope, so Upload/Delete report
// Unsupported the same way httpBackend does for its own scheme.
type hfBackend struct {
	url        *minaturl.URL
	resolveURL string
	client     *http.Client
}

func newHFBackend(u *minaturl.URL) (Backend, error) {
	repo := u.Hostname()
	path := strings.TrimPrefix(u.Path(), "/")
	revision := "main"
	if rev, ok := u.GetQuery("revision"); ok {
		revision = rev
	}

	resolveURL := "https://huggingface.co/" + repo + "/resolve/" + revision + "/" + path
	return &hfBackend{url: u, resolveURL: resolveURL, client: &http.Client{}}, nil
}

func (b *hfBackend) Exists(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.resolveURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "hfBackend: exists")
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (b *hfBackend) Download(ctx context.Context, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.resolveURL, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "hfBackend: download")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrap(minatoerr.ErrNotFound, b.url.Raw())
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("hfBackend: unexpected status %d", resp.StatusCode)
	}

	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		localPath = filepath.Join(localPath, filepath.Base(b.url.Path()))
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return errors.Wrap(err, "hfBackend: mkdir")
	}

	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "hfBackend: create local file")
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

func (b *hfBackend) Upload(ctx context.Context, localPath string) error {
	return errors.Wrap(minatoerr.ErrUnsupported, "hfBackend: upload")
}

func (b *hfBackend) Delete(ctx context.Context) error {
	return errors.Wrap(minatoerr.ErrUnsupported, "hfBackend: delete")
}

// GetVersion returns the ETag the Hub attaches to its resolve redirect,
// which for LFS-tracked files is the blob's content hash.
func (b *hfBackend) GetVersion(ctx context.Context) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.resolveURL, nil)
	if err != nil {
		return "", false, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return "", false, errors.Wrap(err, "hfBackend: get_version")
	}
	defer resp.Body.Close()

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", false, nil
	}
	return etag, true, nil
}

func (b *hfBackend) OpenFile(ctx context.Context, opts OpenOptions) (io.ReadWriteCloser, error) {
	if opts.IsWrite() {
		return nil, errors.Wrap(minatoerr.ErrUnsupported, "hfBackend: write mode")
	}

	dir, err := os.MkdirTemp("", "minato-hf-open-*")
	if err != nil {
		return nil, errors.Wrap(err, "hfBackend: mkdir temp")
	}
	tmpPath := filepath.Join(dir, "body")
	if err := b.Download(ctx, tmpPath); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	r, err := compressutil.OpenRead(tmpPath, opts.Decompress)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &tempFileHandle{ReadCloser: r, cleanupDir: dir}, nil
}
