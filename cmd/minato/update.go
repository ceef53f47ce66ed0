package main

import (
	"context"
	"fmt"

	"github.com/cybozu-go/log"
	"github.com/cybozu-go/minato"
	"github.com/cybozu-go/minato/cache"
	"github.com/cybozu-go/well"
	"github.com/spf13/cobra"
)

func newUpdateCommand() *cobra.Command {
	var (
		auto          bool
		force         bool
		forceDownload bool
		forceExtract  bool
		expired       bool
		failed        bool
		expireDays    int
		expireDaysSet bool
	)

	cmd := &cobra.Command{
		Use:   "update [query...]",
		Short: "Refresh cached entries matching query/filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			expireDaysSet = cmd.Flags().Changed("expire-days")

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
			ok, err := confirm(force, fmt.Sprintf("update %d entries?", len(entries)))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}

			return updateEntries(cmd.Context(), m, entries, minato.CachedPathOptions{
				AutoUpdate:    boolPtrIf(cmd.Flags().Changed("auto"), auto),
				ForceDownload: forceDownload,
				ForceExtract:  forceExtract,
				ExpireDays:    intPtrIf(expireDaysSet, expireDays),
			})
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "enable auto_update for the refreshed entries")
	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&forceDownload, "force-download", false, "force re-download regardless of freshness")
	cmd.Flags().BoolVar(&forceExtract, "force-extract", false, "force re-extraction regardless of payload change")
	cmd.Flags().BoolVar(&expired, "expired", false, "only expired entries")
	cmd.Flags().BoolVar(&failed, "failed", false, "only FAILED entries")
	cmd.Flags().IntVar(&expireDays, "expire-days", -1, "override expire_days for the refreshed entries")

	return cmd
}

func boolPtrIf(set bool, v bool) *bool {
	if !set {
		return nil
	}
	return &v
}

func intPtrIf(set bool, v int) *int {
	if !set {
		return nil
	}
	return &v
}

// updateEntries refreshes every entry concurrently under a
// well.Environment, grounded directly on mirror/control.go's
// updateMirrors (one env.Go per unit of work, env.Stop/env.Wait to
// join and collect the aggregate error).
func updateEntries(ctx context.Context, m *minato.Minato, entries []*cache.Entry, opts minato.CachedPathOptions) error {
	log.Info("update starts", map[string]interface{}{"_count": len(entries)})

	env := well.NewEnvironment(ctx)
	for _, e := range entries {
		e := e
		env.Go(func(ctx context.Context) error {
			_, err := m.CachedPath(ctx, e.URL, opts)
			if err != nil {
				log.Error("update failed", map[string]interface{}{
					"_uid":   e.UID,
					"_url":   e.URL,
					"_error": err.Error(),
				})
			}
			return err
		})
	}
	env.Stop()
	err := env.Wait()

	if err != nil {
		log.Error("update ends with errors", map[string]interface{}{"_error": err.Error()})
		return err
	}
	log.Info("update ends", nil)
	return nil
}
