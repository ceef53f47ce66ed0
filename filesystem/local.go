package filesystem

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cybozu-go/minato/internal/compressutil"
	"github.com/cybozu-go/minato/minatoerr"
	"github.com/cybozu-go/minato/minaturl"
	"github.com/pkg/errors"
)

func init() {
	Register([]string{"", "file", "osfs"}, newLocalBackend)
}

// localBackend addresses paths on the machine's own filesystem. It is
// bound for the empty scheme, "file", and "osfs", matching spec.md §4.3's
// "empty scheme, file, and osfs all bind to the local-filesystem backend."
type localBackend struct {
	path string
}

func newLocalBackend(u *minaturl.URL) (Backend, error) {
	path := u.Path()
	if path == "" {
		path = u.Raw()
	}
	return &localBackend{path: path}, nil
}

func (b *localBackend) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(b.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "localBackend: stat")
}

func (b *localBackend) Download(ctx context.Context, localPath string) error {
	srcInfo, err := os.Stat(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(minatoerr.ErrNotFound, b.path)
		}
		return errors.Wrap(err, "localBackend: stat")
	}

	if srcInfo.IsDir() {
		return copyTree(b.path, localPath)
	}

	dstInfo, err := os.Stat(localPath)
	if err == nil && dstInfo.IsDir() {
		localPath = filepath.Join(localPath, filepath.Base(b.path))
	}
	return copyFile(b.path, localPath, srcInfo.Mode())
}

func (b *localBackend) Upload(ctx context.Context, localPath string) error {
	target := b.path
	info, err := os.Stat(localPath)
	if err != nil {
		return errors.Wrap(err, "localBackend: stat local")
	}

	if len(target) > 0 && target[len(target)-1] == '/' {
		target = filepath.Join(target, filepath.Base(localPath))
	}

	if info.IsDir() {
		return copyTree(localPath, target)
	}
	return copyFile(localPath, target, info.Mode())
}

func (b *localBackend) Delete(ctx context.Context) error {
	if _, err := os.Stat(b.path); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(minatoerr.ErrNotFound, b.path)
		}
		return errors.Wrap(err, "localBackend: stat")
	}
	return os.RemoveAll(b.path)
}

func (b *localBackend) GetVersion(ctx context.Context) (string, bool, error) {
	fi, err := os.Stat(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "localBackend: stat")
	}
	return strconv.FormatInt(fi.ModTime().UnixNano(), 10), true, nil
}

func (b *localBackend) OpenFile(ctx context.Context, opts OpenOptions) (io.ReadWriteCloser, error) {
	if opts.IsWrite() {
		w, err := compressutil.OpenWrite(b.path, opts.Decompress)
		if err != nil {
			return nil, err
		}
		return &writeOnly{w}, nil
	}

	r, err := compressutil.OpenRead(b.path, opts.Decompress)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrap(minatoerr.ErrNotFound, b.path)
		}
		return nil, err
	}
	return &readOnly{r}, nil
}

type readOnly struct {
	io.ReadCloser
}

func (r *readOnly) Write(p []byte) (int, error) {
	return 0, errors.New("localBackend: file opened read-only")
}

type writeOnly struct {
	io.WriteCloser
}

func (w *writeOnly) Read(p []byte) (int, error) {
	return 0, errors.New("localBackend: file opened write-only")
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "localBackend: open source")
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrap(err, "localBackend: mkdir")
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrap(err, "localBackend: create destination")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrap(err, "localBackend: copy")
	}
	return nil
}

func copyTree(srcDir, dstDir string) error {
	return filepath.Walk(srcDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dstDir, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target, info.Mode())
	})
}
