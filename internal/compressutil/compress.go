// Package compressutil implements minato's compression-aware open: probe
// a file's content for a known compression format rather than trusting its
// extension, the way apt/meta.go probes debian repository index files
// before parsing them.
package compressutil

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// Mode controls how OpenRead/OpenWrite treat compression.
type Mode int

const (
	// Auto probes for compression on read and falls back to raw bytes
	// if no known format is detected; on write it infers compression
	// from the target path's extension.
	Auto Mode = iota
	// Force requires compression to be detected (read) or inferable
	// from the extension (write); an unrecognized format is an error.
	Force
	// None always opens the file as raw bytes.
	None
)

type kind int

const (
	kindNone kind = iota
	kindGzip
	kindXz
	kindBzip2
	kindLzma
)

func extKind(path string) kind {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return kindGzip
	case strings.HasSuffix(path, ".xz"):
		return kindXz
	case strings.HasSuffix(path, ".lzma"):
		return kindLzma
	case strings.HasSuffix(path, ".bz2"):
		return kindBzip2
	default:
		return kindNone
	}
}

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	xzMagic    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	bzip2Magic = []byte("BZh")
)

// sniff peeks at br's upcoming bytes (without consuming them) and
// identifies a known compression format by magic header, mirroring the
// spec's "attempt a decode" probe with a cheaper, equivalent check.
func sniff(br *bufio.Reader) kind {
	peek, _ := br.Peek(len(xzMagic))
	switch {
	case bytes.HasPrefix(peek, gzipMagic):
		return kindGzip
	case bytes.HasPrefix(peek, xzMagic):
		return kindXz
	case bytes.HasPrefix(peek, bzip2Magic):
		return kindBzip2
	default:
		return kindNone
	}
}

// OpenRead opens path for reading, applying decompression per mode.
func OpenRead(path string, mode Mode) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "compressutil: open")
	}
	if mode == None {
		return f, nil
	}

	br := bufio.NewReader(f)
	switch sniff(br) {
	case kindGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "compressutil: gzip")
		}
		return &readCloser{Reader: gz, closer: f}, nil
	case kindXz:
		xzr, err := xz.NewReader(br)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "compressutil: xz")
		}
		return &readCloser{Reader: xzr, closer: f}, nil
	case kindBzip2:
		return &readCloser{Reader: bzip2.NewReader(br), closer: f}, nil
	default:
		if mode == Force {
			f.Close()
			return nil, errors.New("compressutil: could not detect a supported compression format")
		}
		return &readCloser{Reader: br, closer: f}, nil
	}
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error {
	return r.closer.Close()
}

// OpenWrite opens path for writing (creating or truncating it),
// compressing per mode. The compression format is always chosen by file
// extension; any existing content is not inspected.
func OpenWrite(path string, mode Mode) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "compressutil: open")
	}
	if mode == None {
		return f, nil
	}

	switch extKind(path) {
	case kindGzip:
		return &writeCloser{Writer: gzip.NewWriter(f), closer: f}, nil
	case kindXz:
		xzw, err := xz.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "compressutil: xz writer")
		}
		return &writeCloser{Writer: xzw, closer: f}, nil
	case kindBzip2, kindLzma:
		f.Close()
		return nil, errors.New("compressutil: writing bzip2/lzma is not supported")
	default:
		if mode == Force {
			f.Close()
			return nil, errors.New("compressutil: could not infer compression from extension")
		}
		return f, nil
	}
}

type writeCloser struct {
	io.Writer
	closer io.Closer
}

func (w *writeCloser) Close() error {
	if c, ok := w.Writer.(io.Closer); ok {
		if err := c.Close(); err != nil {
			w.closer.Close()
			return err
		}
	}
	return w.closer.Close()
}
