package cmd

import (
	"github.com/spf13/cobra"
)

func newDeployCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy [dest]",
		Short: "Copies the newest package into dest (defaults to the working directory)",
		Long: `Runs the recipe's deploy hook on the newest package in the local cache.
If the cache has no package for the current reference, the package of the first build of the matrix is downloaded
from the configured remote first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := commandContext(cmd)
			if err != nil {
				return err
			}

			dest := "."
			if len(args) > 0 {
				dest = args[0]
			}

			p, err := newPackager(ctx, flags.options(cfg))
			if err != nil {
				return err
			}

			// the remote package id depends on the enumerated configurations
			err = p.AddCommonBuilds()
			if err != nil {
				return err
			}

			_, err = p.Deploy(ctx, dest)
			return err
		},
	}
}
