package cmd

import (
	"github.com/spf13/cobra"

	"github.com/thinkbox/cmlibrary/pkg/matrix"
)

type buildInfo struct {
	PackageID string            `yaml:"package_id"`
	Settings  map[string]string `yaml:"settings"`
	Options   map[string]string `yaml:"options,omitempty"`
}

type recipeInfo struct {
	Reference    string      `yaml:"reference"`
	Name         string      `yaml:"name"`
	Version      string      `yaml:"version"`
	License      string      `yaml:"license,omitempty"`
	Description  string      `yaml:"description,omitempty"`
	URL          string      `yaml:"url,omitempty"`
	Author       string      `yaml:"author,omitempty"`
	Topics       []string    `yaml:"topics,omitempty"`
	HeaderOnly   bool        `yaml:"header_only"`
	NoCopySource bool        `yaml:"no_copy_source"`
	Packages     []string    `yaml:"packages"`
	Builds       []buildInfo `yaml:"builds"`
}

func newInfoCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Prints the recipe's metadata and the package id of every build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := commandContext(cmd)
			if err != nil {
				return err
			}

			p, err := newPackager(ctx, flags.options(cfg))
			if err != nil {
				return err
			}

			err = p.AddCommonBuilds()
			if err != nil {
				return err
			}

			r := p.Recipe()
			info := recipeInfo{
				Reference:    p.Reference().String(),
				Name:         r.Name,
				Version:      r.Version,
				License:      r.License,
				Description:  r.Description,
				URL:          r.URL,
				Author:       r.Author,
				Topics:       r.Topics,
				HeaderOnly:   r.HeaderOnly,
				NoCopySource: r.NoCopySource,
				Packages:     []string{},
				Builds:       []buildInfo{},
			}

			seen := map[string]bool{}
			for _, build := range p.Builds() {
				id, err := r.PackageID(ctx, build.Settings, build.Options)
				if err != nil {
					return err
				}

				if !seen[id] {
					seen[id] = true
					info.Packages = append(info.Packages, id)
				}

				info.Builds = append(info.Builds, describeBuild(id, build))
			}

			return printYAML(cmd, info)
		},
	}
}

func describeBuild(id string, build matrix.BuildConf) buildInfo {
	return buildInfo{
		PackageID: id,
		Settings:  build.Settings,
		Options:   build.Options,
	}
}
