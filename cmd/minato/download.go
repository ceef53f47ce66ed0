package main

import (
	"os"

	"github.com/cybozu-go/minato"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newDownloadCommand() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "download <url> <path>",
		Short: "Download url directly into path, bypassing the cache",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, path := args[0], args[1]
			if !overwrite {
				if _, err := os.Stat(path); err == nil {
					return errors.Errorf("%s already exists (use --overwrite)", path)
				}
			}
			return minato.Download(cmd.Context(), url, path)
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite path if it already exists")
	return cmd
}

func newUploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <local> <remote>",
		Short: "Upload a local file or directory directly to remote, bypassing the cache",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, remote := args[0], args[1]
			return minato.Upload(cmd.Context(), remote, local)
		},
	}
}
