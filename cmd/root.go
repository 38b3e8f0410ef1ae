// Package cmd implements the cmlpack command line.
package cmd

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thinkbox/cmlibrary/pkg"
	"github.com/thinkbox/cmlibrary/pkg/config"
	"github.com/thinkbox/cmlibrary/pkg/matrix"
	"github.com/thinkbox/cmlibrary/pkg/packager"
)

// builder is the part of the packager the root command drives
type builder interface {
	AddCommonBuilds() error
	Builds() []matrix.BuildConf
	Run(ctx context.Context) error
}

var newBuilder = func(ctx context.Context, opts packager.Options) (builder, error) {
	return packager.New(ctx, opts)
}

var newPackager = packager.New

type rootFlags struct {
	username   string
	channel    string
	dryRun     bool
	recipePath string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "cmlpack",
		Short: "Packages the shared Thinkbox CMake scripts",
		Long: `Loads the nearest recipe.star, enumerates the build matrix and creates one package per distinct package id.
The packages are uploaded if a remote is configured (CONAN_UPLOAD or upload in cmlpack.toml).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := commandContext(cmd)
			if err != nil {
				return err
			}

			b, err := newBuilder(ctx, flags.options(cfg))
			if err != nil {
				return err
			}

			err = b.AddCommonBuilds()
			if err != nil {
				return err
			}

			if flags.dryRun {
				return printYAML(cmd, b.Builds())
			}

			return b.Run(ctx)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.username, "username", "u", "", "account the packages belong to")
	rootCmd.PersistentFlags().StringVarP(&flags.channel, "channel", "c", "", "release channel of the packages")
	rootCmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "only print the enumerated builds; don't build or upload anything")
	rootCmd.PersistentFlags().StringVar(&flags.recipePath, "recipe", "", "path to recipe.star (defaults to the nearest one above the working directory)")

	rootCmd.AddCommand(newInfoCommand(flags))
	rootCmd.AddCommand(newDeployCommand(flags))

	return rootCmd
}

// options fills the packager options from the command line. Everything else stays at its default.
func (f *rootFlags) options(cfg *config.Config) packager.Options {
	return packager.Options{
		Username:   f.username,
		Channel:    f.channel,
		Config:     cfg,
		RecipePath: f.recipePath,
	}
}

// commandContext loads the configuration and attaches a console logger at the configured level to the command's
// context
func commandContext(cmd *cobra.Command) (context.Context, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := zerolog.New(NewConsoleWriter(cmd.ErrOrStderr())).Level(cfg.ZerologLevel())
	return pkg.WithLogger(ctx, &logger), cfg, nil
}

func printYAML(cmd *cobra.Command, value interface{}) error {
	encoder := yaml.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent(2)

	err := encoder.Encode(value)
	if err != nil {
		return err
	}
	return encoder.Close()
}

func Execute() {
	cobra.CheckErr(newRootCommand().ExecuteContext(context.Background()))
}
