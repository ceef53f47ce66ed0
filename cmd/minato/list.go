package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/cybozu-go/minato"
	"github.com/cybozu-go/minato/cache"
	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	var (
		sortKey      string
		desc         bool
		details      bool
		columnWidth  int
		expired      bool
		failed       bool
		completed    bool
	)

	cmd := &cobra.Command{
		Use:   "list [query...]",
		Short: "List cached entries",
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
			if cmd.Flags().Changed("completed") {
				v := completed
				opts.Completed = &v
			}

			entries, err := m.Store().Filter(opts)
			if err != nil {
				return err
			}
			sortEntries(entries, sortKey, desc)

			return printEntries(cmd.Context(), m, entries, details, columnWidth)
		},
	}

	cmd.Flags().StringVar(&sortKey, "sort", "created_at", "sort key: uid, url, created_at, updated_at, status")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	cmd.Flags().BoolVar(&details, "details", false, "show update-availability for non-local entries")
	cmd.Flags().IntVar(&columnWidth, "column-width", 0, "truncate the url column to N characters (0 disables truncation)")
	cmd.Flags().BoolVar(&expired, "expired", false, "only expired entries")
	cmd.Flags().BoolVar(&failed, "failed", false, "only FAILED entries")
	cmd.Flags().BoolVar(&completed, "completed", false, "only COMPLETED entries")

	return cmd
}

func sortEntries(entries []*cache.Entry, key string, desc bool) {
	less := func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch key {
		case "uid":
			return a.UID < b.UID
		case "url":
			return a.URL < b.URL
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "status":
			return a.Status < b.Status
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	if desc {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(entries, less)
}

func truncate(s string, width int) string {
	if width <= 0 || len(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	return s[:width-3] + "..."
}

func printEntries(ctx context.Context, m *minato.Minato, entries []*cache.Entry, details bool, columnWidth int) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if details {
		fmt.Fprintln(w, "UID\tSTATUS\tUPDATED\tUPDATE AVAILABLE\tURL")
	} else {
		fmt.Fprintln(w, "UID\tSTATUS\tUPDATED\tURL")
	}

	for _, e := range entries {
		url := truncate(e.URL, columnWidth)
		updated := e.UpdatedAt.Format("2006-01-02 15:04:05")

		if !details {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.UID, e.Status, updated, url)
			continue
		}

		available := "-"
		if has, err := m.AvailableUpdate(ctx, e.URL); err == nil {
			if has {
				available = "yes"
			} else {
				available = "no"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.UID, e.Status, updated, available, url)
	}
	return nil
}
