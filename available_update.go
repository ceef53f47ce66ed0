package minato

import (
	"context"

	"github.com/cybozu-go/minato/filesystem"
	"github.com/cybozu-go/minato/minaturl"
)

// AvailableUpdate implements spec.md §4.5.9: false for local inputs;
// otherwise the entry for rawURL (which must already be cached) is
// compared against the backend's current version.
func (m *Minato) AvailableUpdate(ctx context.Context, rawURL string) (bool, error) {
	u, err := minaturl.Parse(rawURL)
	if err != nil {
		return false, err
	}
	if u.IsLocal() {
		return false, nil
	}

	entry, err := m.store.ByURL(rawURL)
	if err != nil {
		return false, err
	}

	backend, err := filesystem.ByURL(u)
	if err != nil {
		return false, err
	}
	version, ok, err := backend.GetVersion(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return version != entry.Version, nil
}
