package main

import (
	"context"
	"fmt"

	"github.com/cybozu-go/minato"
	"github.com/spf13/cobra"
)

func newCacheCommand() *cobra.Command {
	var (
		extract       bool
		autoUpdate    bool
		forceDownload bool
		forceExtract  bool
		notRetry      bool
		expireDays    int
		expireDaysSet bool
	)

	cmd := &cobra.Command{
		Use:   "cache <url>",
		Short: "Resolve url to a local cache path, downloading/extracting as needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := minato.New(cfg)
			if err != nil {
				return err
			}

			opts := minato.CachedPathOptions{
				Extract:       extract,
				ForceDownload: forceDownload,
				ForceExtract:  forceExtract,
				Retry:         !notRetry,
			}
			if cmd.Flags().Changed("auto-update") {
				opts.AutoUpdate = &autoUpdate
			}
			if expireDaysSet {
				opts.ExpireDays = &expireDays
			}

			path, err := m.CachedPath(context.Background(), args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&extract, "extract", false, "extract the resolved archive and return its extraction path")
	cmd.Flags().BoolVar(&autoUpdate, "auto-update", false, "enable auto_update for this entry")
	cmd.Flags().BoolVar(&forceDownload, "force-download", false, "force a re-download even if the cached payload is fresh")
	cmd.Flags().BoolVar(&forceExtract, "force-extract", false, "force re-extraction even if the payload is unchanged")
	cmd.Flags().BoolVar(&notRetry, "not-retry", false, "do not retry a previously FAILED entry")
	cmd.Flags().IntVar(&expireDays, "expire-days", -1, "override expire_days for this entry")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		expireDaysSet = cmd.Flags().Changed("expire-days")
		return nil
	}

	return cmd
}
