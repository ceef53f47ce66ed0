package main

import (
	"os"

	"github.com/cybozu-go/log"
	"github.com/cybozu-go/minato/config"
	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var rootFlagRoot string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "minato",
		Short:   "A content-addressed local cache for remote artifacts",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&rootFlagRoot, "root", "", "override the cache root directory")

	cmd.AddCommand(
		newCacheCommand(),
		newListCommand(),
		newRemoveCommand(),
		newUpdateCommand(),
		newDownloadCommand(),
		newUploadCommand(),
	)
	return cmd
}

// setupLogging applies MINATO_DEBUG/MINATO_LOG_LEVEL to the default
// logger, the way cmd/go-apt-cacher's -l flag drives
// log.DefaultLogger().SetThresholdByName.
func setupLogging() error {
	level := os.Getenv("MINATO_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	if os.Getenv("MINATO_DEBUG") != "" {
		level = "debug"
	}
	if err := log.DefaultLogger().SetThresholdByName(level); err != nil {
		return err
	}

	// MINATO_DISABLE_PROGRESSBAR is accepted for compatibility with
	// spec.md §6.4's documented environment variable, but this CLI has
	// no progress bar widget (spec.md §1 scopes progress rendering out
	// of the core, and no such library appears in the retrieved pack),
	// so the variable has no effect. Download and extraction phases are
	// not reported; only "update" logs a start and an end line.
	if os.Getenv("MINATO_DISABLE_PROGRESSBAR") != "" {
		log.Debug("MINATO_DISABLE_PROGRESSBAR set; no-op, this build has no progress bar", nil)
	}
	return nil
}

// loadConfig resolves the layered configuration and applies the
// --root flag and MINATO_SELECTOR_COMMAND as call-site overrides.
func loadConfig() (config.Config, error) {
	var override config.Override
	if rootFlagRoot != "" {
		override.CacheRoot = &rootFlagRoot
	}
	if sel := os.Getenv("MINATO_SELECTOR_COMMAND"); sel != "" {
		override.SelectorCommand = &sel
	}
	return config.Load(override)
}
