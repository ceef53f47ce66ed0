package main

import (
	"fmt"

	"github.com/cybozu-go/minato"
	"github.com/cybozu-go/minato/cache"
	"github.com/spf13/cobra"
)

func newRemoveCommand() *cobra.Command {
	var (
		expired   bool
		failed    bool
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "remove [query...]",
		Short: "Remove cached entries matching query/filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := minato.New(cfg)
			if err != nil {
				return err
			}

			opts := cache.FilterOptions{Queries: args}
			if cmd.Flags().Changed("expired") {
				v := expired
				opts.Expired = &v
			}
			if cmd.Flags().Changed("failed") {
				v := failed
				opts.Failed = &v
			}

			entries, err := m.Store().Filter(opts)
			if err != nil {
				return err
			}
			entries, err = selectEntries(cfg.SelectorCommand, args, entries)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matching entries")
				return nil
			}

			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", e.UID, e.URL)
			}
			ok, err := confirm(force, fmt.Sprintf("remove %d entries?", len(entries)))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}

			for _, e := range entries {
				if err := m.Store().Delete(e); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&expired, "expired", false, "only expired entries")
	cmd.Flags().BoolVar(&failed, "failed", false, "only FAILED entries")
	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")

	return cmd
}
