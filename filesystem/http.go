package filesystem

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cybozu-go/log"
	"github.com/cybozu-go/minato/internal/compressutil"
	"github.com/cybozu-go/minato/minatoerr"
	"github.com/cybozu-go/minato/minaturl"
	"github.com/pkg/errors"
)

const (
	httpRetries       = 5
	httpRetryBaseWait = 500 * time.Millisecond
)

func init() {
	Register([]string{"http", "https"}, newHTTPBackend)
}

// httpBackend addresses a single remote object over HTTP(S). It retries
// 502/503/504 with exponential backoff, the policy mirror/mirror.go names
// httpRetries for, and reports ETag as its version, per spec.md §4.3/§9
// (the literal header, including any weak "W/" prefix, is preserved
// rather than normalized).
type httpBackend struct {
	url    *minaturl.URL
	client *http.Client
}

func newHTTPBackend(u *minaturl.URL) (Backend, error) {
	return &httpBackend{url: u, client: &http.Client{}}, nil
}

func (b *httpBackend) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= httpRetries; attempt++ {
		if attempt > 0 {
			wait := httpRetryBaseWait * time.Duration(1<<uint(attempt-1))
			log.Warn("minato: retrying HTTP request", map[string]interface{}{
				"_url":     b.url.Raw(),
				"_attempt": attempt,
			})
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, err := b.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusBadGateway ||
			resp.StatusCode == http.StatusServiceUnavailable ||
			resp.StatusCode == http.StatusGatewayTimeout {
			resp.Body.Close()
			lastErr = errors.Errorf("http status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, errors.Wrap(lastErr, "httpBackend: exhausted retries")
}

func (b *httpBackend) Exists(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.url.Raw(), nil)
	if err != nil {
		return false, err
	}
	resp, err := b.doWithRetry(ctx, req)
	if err != nil {
		return false, errors.Wrap(err, "httpBackend: exists")
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (b *httpBackend) Download(ctx context.Context, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url.Raw(), nil)
	if err != nil {
		return err
	}
	resp, err := b.doWithRetry(ctx, req)
	if err != nil {
		return errors.Wrap(err, "httpBackend: download")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrap(minatoerr.ErrNotFound, b.url.Raw())
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("httpBackend: unexpected status %d", resp.StatusCode)
	}

	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		localPath = filepath.Join(localPath, filepath.Base(b.url.Path()))
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return errors.Wrap(err, "httpBackend: mkdir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".minato-download-*")
	if err != nil {
		return errors.Wrap(err, "httpBackend: create temp")
	}
	tmpPath := tmp.Name()
	removed := false
	defer func() {
		if !removed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return errors.Wrap(err, "httpBackend: copy body")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "httpBackend: close temp")
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return errors.Wrap(err, "httpBackend: rename into place")
	}
	removed = true
	return nil
}

func (b *httpBackend) Upload(ctx context.Context, localPath string) error {
	return errors.Wrap(minatoerr.ErrUnsupported, "httpBackend: upload")
}

func (b *httpBackend) Delete(ctx context.Context) error {
	return errors.Wrap(minatoerr.ErrUnsupported, "httpBackend: delete")
}

func (b *httpBackend) GetVersion(ctx context.Context) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.url.Raw(), nil)
	if err != nil {
		return "", false, err
	}
	resp, err := b.doWithRetry(ctx, req)
	if err != nil {
		return "", false, errors.Wrap(err, "httpBackend: get_version")
	}
	defer resp.Body.Close()

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", false, nil
	}
	return etag, true, nil
}

func (b *httpBackend) OpenFile(ctx context.Context, opts OpenOptions) (io.ReadWriteCloser, error) {
	if opts.IsWrite() {
		return nil, errors.Wrap(minatoerr.ErrUnsupported, "httpBackend: write mode")
	}

	dir, err := os.MkdirTemp("", "minato-http-open-*")
	if err != nil {
		return nil, errors.Wrap(err, "httpBackend: mkdir temp")
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

// tempFileHandle wraps a read handle backed by a temporary download; the
// temp file and its directory are removed when the handle is closed so
// backends never leak temporaries on success or failure, per spec.md §4.3.
type tempFileHandle struct {
	io.ReadCloser
	cleanupDir string
}

func (h *tempFileHandle) Write(p []byte) (int, error) {
	return 0, errors.New("httpBackend: file opened read-only")
}

func (h *tempFileHandle) Close() error {
	err := h.ReadCloser.Close()
	os.RemoveAll(h.cleanupDir)
	return err
}
