// Package minatoerr defines the error taxonomy shared by every minato
// component: cache, filesystem, and the coordinator all wrap one of these
// sentinels so callers can dispatch on kind with errors.Is/errors.As.
package minatoerr

import "errors"

// Sentinel error kinds. Components wrap these with github.com/pkg/errors
// to attach context while keeping errors.Is(err, minatoerr.ErrNotFound) etc.
// working.
var (
	// ErrConfig marks malformed or inconsistent configuration.
	ErrConfig = errors.New("minato: configuration error")

	// ErrCacheNotFound marks a cache lookup that found nothing.
	ErrCacheNotFound = errors.New("minato: cache entry not found")

	// ErrCacheAlreadyExists marks an add() of an already-present uid, or
	// a Store.New for a URL that already has an entry.
	ErrCacheAlreadyExists = errors.New("minato: cache entry already exists")

	// ErrInvalidStatus marks a post-condition violation, e.g. a caller
	// asked for a path but the entry's status is not COMPLETED.
	ErrInvalidStatus = errors.New("minato: invalid cache status")

	// ErrNotFound marks a backend reporting the URL addresses nothing.
	ErrNotFound = errors.New("minato: not found")

	// ErrUnsupported marks a backend operation the scheme does not
	// implement (e.g. HTTP delete).
	ErrUnsupported = errors.New("minato: unsupported operation")

	// ErrIO is a catch-all for I/O failures below the core: disk full,
	// permission denied, network failure exhausting retries.
	ErrIO = errors.New("minato: I/O error")
)
