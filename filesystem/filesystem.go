// Package filesystem implements the per-scheme backend contract the
// coordinator dispatches through: exists/download/upload/delete/
// get_version/open_file, registered by URL scheme the way
// cacher/cacher.go's URLMap resolves a request path to an upstream URL,
// generalized here from a single hard-coded upstream to an open registry.
package filesystem

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cybozu-go/minato/internal/compressutil"
	"github.com/cybozu-go/minato/minaturl"
	"github.com/pkg/errors"
)

// OpenOptions configures OpenFile. Buffering is accepted for interface
// parity with the source contract but is not meaningful for the backends
// implemented here (Go's bufio sizing is a caller concern).
type OpenOptions struct {
	Mode       string
	Buffering  int
	Encoding   string
	Errors     string
	Newline    string
	Decompress compressutil.Mode
}

// IsWrite reports whether Mode requests write access (truncate, append,
// create-exclusive, or read/write).
func (o OpenOptions) IsWrite() bool {
	return strings.ContainsAny(o.Mode, "awx+")
}

// Backend is the polymorphic contract every scheme adapter implements.
type Backend interface {
	// Exists reports whether at least one object is addressable at the
	// backend's URL (prefix or exact, per scheme).
	Exists(ctx context.Context) (bool, error)

	// Download copies the remote object(s) into localPath.
	Download(ctx context.Context, localPath string) error

	// Upload uploads a local file, or recursively a local directory,
	// to the backend's URL.
	Upload(ctx context.Context, localPath string) error

	// Delete removes the object or prefix the backend's URL addresses.
	Delete(ctx context.Context) error

	// GetVersion returns a deterministic upstream-content fingerprint,
	// or ("", false) if the backend cannot produce one.
	GetVersion(ctx context.Context) (string, bool, error)

	// OpenFile returns a scoped handle for the backend's URL. Backends
	// that cannot satisfy a given mode return ErrUnsupported.
	OpenFile(ctx context.Context, opts OpenOptions) (io.ReadWriteCloser, error)
}

// Factory constructs a Backend bound to a parsed URL.
type Factory func(u *minaturl.URL) (Backend, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register binds factory to each of schemes. Later registrations for the
// same scheme win, mirroring FileSystem.registry's last-class-wins
// decorator semantics in the source.
func Register(schemes []string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	for _, scheme := range schemes {
		registry[scheme] = factory
	}
}

// Schemes returns the sorted list of currently registered schemes, used to
// report "unknown scheme" errors with the set of known alternatives.
func Schemes() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for scheme := range registry {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

// ByURL resolves u's scheme to a Backend. Unknown schemes fail with the
// set of known schemes listed in the error, matching FileSystem.by_url.
func ByURL(u *minaturl.URL) (Backend, error) {
	mu.RLock()
	factory, ok := registry[u.Scheme()]
	mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("filesystem: unknown scheme %q (known schemes: %s)", u.Scheme(), strings.Join(Schemes(), ", "))
	}
	return factory(u)
}

// ByRawURL parses raw and resolves its backend in one step.
func ByRawURL(raw string) (Backend, *minaturl.URL, error) {
	u, err := minaturl.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	backend, err := ByURL(u)
	if err != nil {
		return nil, nil, err
	}
	return backend, u, nil
}
