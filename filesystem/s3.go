package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/cybozu-go/minato/internal/compressutil"
	"github.com/cybozu-go/minato/minatoerr"
	"github.com/cybozu-go/minato/minaturl"
	"github.com/pkg/errors"
)

func init() {
	Register([]string{"s3"}, newS3Backend)
}

// s3Backend addresses an S3 object or prefix. Credentials come from the
// URL's userinfo or the environment (AWS_ACCESS_KEY_ID/
// AWS_SECRET_ACCESS_KEY); endpoint_url and region query parameters
// configure non-AWS-hosted S3-compatible stores, per spec.md §6.2.
type s3Backend struct {
	url    *minaturl.URL
	bucket string
	key    string
	client *s3.S3
}

func newS3Backend(u *minaturl.URL) (Backend, error) {
	bucket := u.Hostname()
	key := strings.TrimPrefix(u.Path(), "/")

	cfg := aws.NewConfig()
	if region, ok := u.GetQuery("region"); ok {
		cfg = cfg.WithRegion(region)
	}
	if endpoint, ok := u.GetQuery("endpoint_url"); ok {
		cfg = cfg.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}
	if u.Username() != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(u.Username(), u.Password(), ""))
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "s3Backend: new session")
	}

	return &s3Backend{url: u, bucket: bucket, key: key, client: s3.New(sess)}, nil
}

func (b *s3Backend) isPrefix() bool {
	return b.key == "" || strings.HasSuffix(b.key, "/")
}

func (b *s3Backend) Exists(ctx context.Context) (bool, error) {
	if b.isPrefix() {
		out, err := b.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(b.bucket),
			Prefix:  aws.String(b.key),
			MaxKeys: aws.Int64(1),
		})
		if err != nil {
			return false, errors.Wrap(err, "s3Backend: list")
		}
		return len(out.Contents) > 0, nil
	}

	_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "s3Backend: head")
	}
	return true, nil
}

func (b *s3Backend) listObjects(ctx context.Context) ([]*s3.Object, error) {
	var all []*s3.Object
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.key),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		all = append(all, page.Contents...)
		return true
	})
	return all, err
}

func (b *s3Backend) Download(ctx context.Context, localPath string) error {
	exists, err := b.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrap(minatoerr.ErrNotFound, b.url.Raw())
	}

	if !b.isPrefix() {
		if info, err := os.Stat(localPath); err == nil && info.IsDir() {
			localPath = filepath.Join(localPath, filepath.Base(b.key))
		}
		return b.downloadObject(ctx, b.key, localPath)
	}

	objects, err := b.listObjects(ctx)
	if err != nil {
		return errors.Wrap(err, "s3Backend: list")
	}
	for _, obj := range objects {
		rel := strings.TrimPrefix(aws.StringValue(obj.Key), b.key)
		if rel == "" {
			continue
		}
		target := filepath.Join(localPath, filepath.FromSlash(rel))
		if err := b.downloadObject(ctx, aws.StringValue(obj.Key), target); err != nil {
			return err
		}
	}
	return nil
}

func (b *s3Backend) downloadObject(ctx context.Context, key, target string) error {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return errors.Wrap(minatoerr.ErrNotFound, key)
		}
		return errors.Wrap(err, "s3Backend: get object")
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrap(err, "s3Backend: mkdir")
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "s3Backend: create local file")
	}
	defer f.Close()

	_, err = io.Copy(f, out.Body)
	return err
}

func (b *s3Backend) Upload(ctx context.Context, localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return errors.Wrap(err, "s3Backend: stat local")
	}

	key := b.key
	if strings.HasSuffix(key, "/") {
		key = key + filepath.Base(localPath)
	}

	if !info.IsDir() {
		return b.uploadFile(ctx, localPath, key)
	}

	return filepath.Walk(localPath, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}
		return b.uploadFile(ctx, path, key+"/"+filepath.ToSlash(rel))
	})
}

func (b *s3Backend) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "s3Backend: open local file")
	}
	defer f.Close()

	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return errors.Wrap(err, "s3Backend: put object")
}

func (b *s3Backend) Delete(ctx context.Context) error {
	exists, err := b.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrap(minatoerr.ErrNotFound, b.url.Raw())
	}

	if !b.isPrefix() {
		_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key),
		})
		return errors.Wrap(err, "s3Backend: delete object")
	}

	objects, err := b.listObjects(ctx)
	if err != nil {
		return errors.Wrap(err, "s3Backend: list")
	}
	var ids []*s3.ObjectIdentifier
	for _, obj := range objects {
		ids = append(ids, &s3.ObjectIdentifier{Key: obj.Key})
	}
	if len(ids) == 0 {
		return nil
	}
	_, err = b.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(b.bucket),
		Delete: &s3.Delete{Objects: ids},
	})
	return errors.Wrap(err, "s3Backend: delete objects")
}

// GetVersion returns the ETag for a single object, or a sorted
// concatenation of per-object ETags for a prefix, per spec.md §4.3.
func (b *s3Backend) GetVersion(ctx context.Context) (string, bool, error) {
	if !b.isPrefix() {
		out, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key),
		})
		if err != nil {
			if isS3NotFound(err) {
				return "", false, nil
			}
			return "", false, errors.Wrap(err, "s3Backend: head")
		}
		return aws.StringValue(out.ETag), true, nil
	}

	objects, err := b.listObjects(ctx)
	if err != nil {
		return "", false, errors.Wrap(err, "s3Backend: list")
	}
	if len(objects) == 0 {
		return "", false, nil
	}
	etags := make([]string, 0, len(objects))
	for _, obj := range objects {
		etags = append(etags, aws.StringValue(obj.Key)+":"+aws.StringValue(obj.ETag))
	}
	sort.Strings(etags)
	return strings.Join(etags, ","), true, nil
}

func (b *s3Backend) OpenFile(ctx context.Context, opts OpenOptions) (io.ReadWriteCloser, error) {
	dir, err := os.MkdirTemp("", "minato-s3-open-*")
	if err != nil {
		return nil, errors.Wrap(err, "s3Backend: mkdir temp")
	}
	tmpPath := filepath.Join(dir, "body")

	if opts.IsWrite() {
		return &s3WriteHandle{backend: b, ctx: ctx, tmpPath: tmpPath, cleanupDir: dir}, nil
	}

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

// s3WriteHandle buffers writes to a local temp file and uploads it to S3
// on Close, mirroring spec.md §4.3's "write modes on remote schemes write
// to a local temp which is uploaded on scope exit."
type s3WriteHandle struct {
	backend    *s3Backend
	ctx        context.Context
	tmpPath    string
	cleanupDir string
	file       *os.File
}

func (h *s3WriteHandle) ensureOpen() error {
	if h.file != nil {
		return nil
	}
	f, err := os.OpenFile(h.tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	h.file = f
	return nil
}

func (h *s3WriteHandle) Write(p []byte) (int, error) {
	if err := h.ensureOpen(); err != nil {
		return 0, err
	}
	return h.file.Write(p)
}

func (h *s3WriteHandle) Read(p []byte) (int, error) {
	return 0, errors.New("s3Backend: file opened write-only")
}

func (h *s3WriteHandle) Close() error {
	defer os.RemoveAll(h.cleanupDir)
	if h.file == nil {
		return nil
	}
	if err := h.file.Close(); err != nil {
		return err
	}
	return h.backend.Upload(h.ctx, h.tmpPath)
}

func isS3NotFound(err error) bool {
	return strings.Contains(err.Error(), "NotFound") ||
		strings.Contains(err.Error(), "NoSuchKey") ||
		strings.Contains(err.Error(), "404")
}
