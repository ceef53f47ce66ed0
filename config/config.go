// Package config loads minato's layered .ini configuration, the way
// cacher/config.go and mirror/config.go load TOML, swapped to the
// ini format spec.md §6.1 specifies.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const (
	rootConfigFilename  = "config.ini"
	localConfigFilename = "minato.ini"
)

// Config is minato's resolved configuration, after layering defaults,
// $HOME/.minato/config.ini, ./minato.ini, and call-site overrides, in
// that order, per spec.md §6.1.
type Config struct {
	// CacheRoot is the directory cache entries are stored under.
	//
	// Default is $HOME/.minato/cache.
	CacheRoot string `ini:"root"`

	// ExpireDays is the default expire_days for entries created
	// without an explicit override. -1 means entries never expire.
	//
	// Default is -1.
	ExpireDays int `ini:"expire_days"`

	// AutoUpdate is the default auto_update for entries created
	// without an explicit override.
	//
	// Default is true.
	AutoUpdate bool `ini:"auto_update"`

	// SelectorCommand names an external command minato pipes candidate
	// entries to when a CLI invocation needs interactive disambiguation
	// (e.g. "remove"/"update" run with no query terms).
	//
	// Default is "none", which disables the selector.
	SelectorCommand string `ini:"selector_command"`
}

// Default returns the built-in defaults, before any file or override is
// applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		CacheRoot:       filepath.Join(home, ".minato", "cache"),
		ExpireDays:      -1,
		AutoUpdate:      true,
		SelectorCommand: "none",
	}
}

// Override is a sparse set of call-site overrides; a nil field is left
// at whatever the layered file configuration already resolved to.
type Override struct {
	CacheRoot       *string
	ExpireDays      *int
	AutoUpdate      *bool
	SelectorCommand *string
}

// Load resolves Config by layering, in increasing priority: built-in
// defaults, $HOME/.minato/config.ini, ./minato.ini, and override.
func Load(override Override) (Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.Wrap(err, "config: resolve home directory")
	}

	rootPath := filepath.Join(home, ".minato", rootConfigFilename)
	if err := applyFile(&cfg, rootPath); err != nil {
		return Config{}, err
	}

	if err := applyFile(&cfg, localConfigFilename); err != nil {
		return Config{}, err
	}

	applyOverride(&cfg, override)
	return cfg, nil
}

// applyFile layers path's [cache]/[ui] sections onto cfg, in place. A
// missing file is not an error: each layer is optional, per spec.md
// §6.1.
func applyFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "config: stat %s", path)
	}

	f, err := ini.Load(path)
	if err != nil {
		return errors.Wrapf(err, "config: parse %s", path)
	}

	cache := f.Section("cache")
	if cache.HasKey("root") {
		cfg.CacheRoot = cache.Key("root").String()
	}
	if cache.HasKey("expire_days") {
		days, err := cache.Key("expire_days").Int()
		if err != nil {
			return errors.Wrapf(err, "config: %s: cache.expire_days", path)
		}
		cfg.ExpireDays = days
	}
	if cache.HasKey("auto_update") {
		auto, err := cache.Key("auto_update").Bool()
		if err != nil {
			return errors.Wrapf(err, "config: %s: cache.auto_update", path)
		}
		cfg.AutoUpdate = auto
	}

	ui := f.Section("ui")
	if ui.HasKey("selector_command") {
		cfg.SelectorCommand = ui.Key("selector_command").String()
	}

	return nil
}

func applyOverride(cfg *Config, override Override) {
	if override.CacheRoot != nil {
		cfg.CacheRoot = *override.CacheRoot
	}
	if override.ExpireDays != nil {
		cfg.ExpireDays = *override.ExpireDays
	}
	if override.AutoUpdate != nil {
		cfg.AutoUpdate = *override.AutoUpdate
	}
	if override.SelectorCommand != nil {
		cfg.SelectorCommand = *override.SelectorCommand
	}
}
