// Package packager drives the build matrix: it enumerates build configurations, creates one package per distinct
// package id in the local cache and publishes the results to a remote.
package packager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/thinkbox/cmlibrary/pkg"
	"github.com/thinkbox/cmlibrary/pkg/archive"
	"github.com/thinkbox/cmlibrary/pkg/cache"
	"github.com/thinkbox/cmlibrary/pkg/config"
	"github.com/thinkbox/cmlibrary/pkg/matrix"
	"github.com/thinkbox/cmlibrary/pkg/recipe"
	"github.com/thinkbox/cmlibrary/pkg/remote"
)

// DefaultChannel is used when a username but no channel was given
const DefaultChannel = "testing"

// Remote is the part of the registry client the packager uses
type Remote interface {
	UploadFile(ctx context.Context, remotePath, localPath string) error
	DownloadFile(ctx context.Context, remotePath, localPath string) error
}

// Options configures a Packager. Zero values fall back to the loaded configuration.
type Options struct {
	Username string
	Channel  string

	// Config replaces loading cmlpack.toml and the CONAN_* environment variables
	Config *config.Config
	// RecipePath defaults to the first recipe.star found from the working directory upwards
	RecipePath string
	// Remote defaults to an HTTP client for the configured upload URL
	Remote Remote
}

// Packager holds the recipe and the enumerated builds
type Packager struct {
	cfg    *config.Config
	recipe *recipe.Recipe
	ref    recipe.Reference
	remote Remote
	builds []matrix.BuildConf
}

// New loads the configuration and the recipe. It does not touch the local cache.
func New(ctx context.Context, opts Options) (*Packager, error) {
	var err error

	cfg := opts.Config
	if cfg == nil {
		cfg, err = config.Load()
		if err != nil {
			return nil, err
		}
	}

	username := opts.Username
	if username == "" {
		username = cfg.Username
	}

	channel := opts.Channel
	if channel == "" {
		channel = cfg.Channel
	}
	if channel == "" && username != "" {
		channel = DefaultChannel
	}

	recipePath := opts.RecipePath
	if recipePath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, eris.Wrap(err, "Failed to retrieve the current working directory")
		}

		recipePath, err = pkg.FindRecipe(wd)
		if err != nil {
			return nil, err
		}
	}

	r, err := recipe.Load(ctx, recipePath)
	if err != nil {
		return nil, err
	}

	rem := opts.Remote
	if rem == nil && cfg.Upload != "" {
		rem = remote.New(cfg.Upload, cfg.LoginUsername, cfg.Password)
	}

	return &Packager{
		cfg:    cfg,
		recipe: r,
		ref:    r.Reference(username, channel),
		remote: rem,
		builds: []matrix.BuildConf{},
	}, nil
}

// Recipe returns the loaded recipe
func (p *Packager) Recipe() *recipe.Recipe {
	return p.recipe
}

// Reference returns the reference packages are created under
func (p *Packager) Reference() recipe.Reference {
	return p.ref
}

// Add appends a single build configuration
func (p *Packager) Add(build matrix.BuildConf) {
	p.builds = append(p.builds, build.Normalize())
}

// Axes merges the configured matrix axes with the defaults for the host platform
func (p *Packager) Axes() matrix.Axes {
	axes := matrix.DefaultAxes(runtime.GOOS)
	cfg := p.cfg

	configured := matrix.Axes{
		GCCVersions:        cfg.GCCVersions,
		ClangVersions:      cfg.ClangVersions,
		AppleClangVersions: cfg.AppleClangVersions,
		VisualVersions:     cfg.VisualVersions,
	}
	if configured.HasCompilers() {
		axes.GCCVersions = configured.GCCVersions
		axes.ClangVersions = configured.ClangVersions
		axes.AppleClangVersions = configured.AppleClangVersions
		axes.VisualVersions = configured.VisualVersions
	}

	if len(cfg.Archs) > 0 {
		axes.Archs = cfg.Archs
	}
	if len(cfg.BuildTypes) > 0 {
		axes.BuildTypes = cfg.BuildTypes
	}

	return axes
}

// AddCommonBuilds expands the build matrix and appends every configuration
func (p *Packager) AddCommonBuilds() error {
	builds, err := matrix.Expand(p.Axes())
	if err != nil {
		return eris.Wrap(err, "failed to expand the build matrix")
	}

	for _, build := range builds {
		p.Add(build)
	}
	return nil
}

// Builds returns the enumerated configurations
func (p *Packager) Builds() []matrix.BuildConf {
	result := make([]matrix.BuildConf, len(p.builds))
	copy(result, p.builds)
	return result
}

func (p *Packager) buildReference(build matrix.BuildConf) (recipe.Reference, error) {
	if build.Reference == "" {
		return p.ref, nil
	}

	ref, err := recipe.ParseReference(build.Reference)
	if err != nil {
		return ref, err
	}

	if ref.Name != p.recipe.Name || ref.Version != p.recipe.Version {
		return ref, eris.Errorf("build reference %s does not match recipe %s/%s", build.Reference, p.recipe.Name, p.recipe.Version)
	}
	return ref, nil
}

// Describe renders the settings of a build as a short sorted key=value list
func Describe(build matrix.BuildConf) string {
	if len(build.Settings) == 0 {
		return "default settings"
	}

	parts := make([]string, 0, len(build.Settings))
	for k, v := range build.Settings {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

type pendingUpload struct {
	remotePath string
	localPath  string
}

// Run exports the recipe and creates a package for every build. Builds that map to an already created package id
// are skipped. Afterwards the results are uploaded if a remote is configured.
func (p *Packager) Run(ctx context.Context) error {
	log := pkg.Log(ctx)
	if len(p.builds) == 0 {
		log.Warn().Msg("No builds configured, nothing to do")
		return nil
	}

	cachePath, err := p.cfg.CachePath()
	if err != nil {
		return err
	}

	c, err := cache.Open(cachePath)
	if err != nil {
		return err
	}
	defer c.Close()

	exported := map[string]bool{}
	produced := map[string]int{}
	uploads := []pendingUpload{}

	for idx, build := range p.builds {
		if err := ctx.Err(); err != nil {
			return err
		}

		ref, err := p.buildReference(build)
		if err != nil {
			return err
		}

		pkg.PrintTask(fmt.Sprintf("Build %d/%d: %s (%s)", idx+1, len(p.builds), ref, Describe(build)))

		if !exported[ref.String()] {
			files, err := p.export(ctx, c, ref)
			if err != nil {
				return eris.Wrapf(err, "failed to export %s", ref)
			}
			exported[ref.String()] = true
			uploads = append(uploads, files...)
		}

		id, err := p.recipe.PackageID(ctx, build.Settings, build.Options)
		if err != nil {
			return eris.Wrapf(err, "failed to compute the package id for build %d", idx+1)
		}

		key := ref.String() + ":" + id
		if first, ok := produced[key]; ok {
			pkg.PrintSubtask(fmt.Sprintf("Package %s was already created by build %d, skipping", id, first+1))
			log.Debug().Int("build", idx+1).Str("package_id", id).Msg("skipped duplicate package id")
			continue
		}

		record, err := p.createPackage(ctx, c, ref, id, build)
		if err != nil {
			return eris.Wrapf(err, "build %d failed", idx+1)
		}
		produced[key] = idx

		uploads = append(uploads, pendingUpload{
			remotePath: remote.PackagePath(ref, id, "package"+p.cfg.ArchiveExtension()),
			localPath:  record.Archive,
		})
	}

	pkg.PrintTask(fmt.Sprintf("Created %d package(s) from %d build(s)", len(produced), len(p.builds)))

	if !p.shouldUpload(ctx) {
		return nil
	}

	pkg.PrintTask(fmt.Sprintf("Uploading %s", p.ref))
	for _, item := range uploads {
		pkg.PrintSubtask(item.remotePath)
		err = p.remote.UploadFile(ctx, item.remotePath, item.localPath)
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Packager) shouldUpload(ctx context.Context) bool {
	if p.remote == nil {
		return false
	}

	if p.cfg.UploadOnlyWhenStable && p.ref.Channel != p.cfg.StableChannel {
		pkg.Log(ctx).Info().
			Str("channel", p.ref.Channel).
			Msgf("Skipping upload because the channel is not %s", p.cfg.StableChannel)
		return false
	}

	return true
}

func (p *Packager) export(ctx context.Context, c *cache.Cache, ref recipe.Reference) ([]pendingUpload, error) {
	pkg.PrintSubtask("Exporting sources")

	staging := c.StagingDir(ref)
	defer os.RemoveAll(staging)

	files, err := p.recipe.ExportSources(ctx, p.recipe.Dir(), staging, c.Root())
	if err != nil {
		return nil, err
	}

	exportSourceDir := c.ExportSourceDir(ref)
	err = replaceDir(staging, exportSourceDir)
	if err != nil {
		return nil, err
	}

	exportDir := c.ExportDir(ref)
	err = os.MkdirAll(exportDir, 0o755)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", exportDir)
	}

	_, err = recipe.CopyFiles(ctx, filepath.Base(p.recipe.Path), p.recipe.Dir(), exportDir, recipe.CopyOptions{
		SkipDirs: []string{c.Root()},
	})
	if err != nil {
		return nil, err
	}

	sourcesArchive := c.ArchivePath(ref, "sources", p.cfg.ArchiveExtension())
	_, err = archive.Pack(exportSourceDir, sourcesArchive)
	if err != nil {
		return nil, err
	}

	err = c.PutRecipe(cache.RecipeRecord{
		Reference:  ref.String(),
		RecipePath: p.recipe.Path,
		Files:      files,
		Exported:   time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	pkg.Log(ctx).Info().Str("reference", ref.String()).Msgf("Exported %d file(s)", len(files))

	recipeFile := filepath.Base(p.recipe.Path)
	return []pendingUpload{
		{remotePath: remote.RecipePath(ref, recipeFile), localPath: filepath.Join(exportDir, recipeFile)},
		{remotePath: remote.RecipePath(ref, filepath.Base(sourcesArchive)), localPath: sourcesArchive},
	}, nil
}

func (p *Packager) createPackage(ctx context.Context, c *cache.Cache, ref recipe.Reference, id string, build matrix.BuildConf) (*cache.PackageRecord, error) {
	pkg.PrintSubtask(fmt.Sprintf("Creating package %s", id))

	srcDir := c.ExportSourceDir(ref)
	if !p.recipe.NoCopySource {
		buildDir := c.BuildDir(ref, id)
		err := os.RemoveAll(buildDir)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to clean %s", buildDir)
		}

		_, err = recipe.CopyFiles(ctx, "*", srcDir, buildDir, recipe.CopyOptions{KeepPath: true})
		if err != nil {
			return nil, err
		}
		srcDir = buildDir
	}

	staging := c.StagingDir(ref)
	defer os.RemoveAll(staging)

	err := os.MkdirAll(staging, 0o755)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", staging)
	}

	files, err := p.recipe.Package(ctx, srcDir, staging)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		pkg.Log(ctx).Warn().Str("package_id", id).Msg("No files in this package!")
	}

	packageDir := c.PackageDir(ref, id)
	err = replaceDir(staging, packageDir)
	if err != nil {
		return nil, err
	}

	archivePath := c.ArchivePath(ref, id, p.cfg.ArchiveExtension())
	entries, err := archive.Pack(packageDir, archivePath)
	if err != nil {
		return nil, err
	}

	record := cache.PackageRecord{
		PackageID: id,
		Settings:  build.Settings,
		Options:   build.Options,
		Files:     entries,
		Archive:   archivePath,
		Created:   time.Now().UTC(),
	}
	err = c.PutPackage(ref, record)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// Deploy copies the newest package of the current reference into dest using the recipe's deploy hook. Packages
// missing from the local cache are downloaded from the remote.
func (p *Packager) Deploy(ctx context.Context, dest string) ([]string, error) {
	cachePath, err := p.cfg.CachePath()
	if err != nil {
		return nil, err
	}

	c, err := cache.Open(cachePath)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	packageDir, err := p.localPackage(ctx, c)
	if eris.Is(err, cache.ErrNotFound) {
		packageDir, err = p.fetchPackage(ctx, c)
	}
	if err != nil {
		return nil, err
	}

	pkg.PrintTask(fmt.Sprintf("Deploying %s to %s", p.ref, dest))
	files, err := p.recipe.Deploy(ctx, packageDir, dest)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to deploy %s", p.ref)
	}

	pkg.Log(ctx).Info().Str("reference", p.ref.String()).Msgf("Deployed %d file(s)", len(files))
	return files, nil
}

func (p *Packager) localPackage(ctx context.Context, c *cache.Cache) (string, error) {
	records, err := c.Packages(p.ref)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", eris.Wrapf(cache.ErrNotFound, "no packages for %s", p.ref)
	}

	record := records[0]
	packageDir := c.PackageDir(p.ref, record.PackageID)
	if _, err := os.Stat(packageDir); err == nil {
		return packageDir, nil
	}

	pkg.Log(ctx).Debug().Str("package_id", record.PackageID).Msg("restoring package folder from its archive")
	_, err = p.unpackInto(c, record.Archive, packageDir)
	if err != nil {
		return "", err
	}
	return packageDir, nil
}

func (p *Packager) fetchPackage(ctx context.Context, c *cache.Cache) (string, error) {
	if p.remote == nil {
		return "", eris.Errorf("%s is not in the local cache and no remote is configured", p.ref)
	}

	build := matrix.BuildConf{}.Normalize()
	if len(p.builds) > 0 {
		build = p.builds[0]
	}

	id, err := p.recipe.PackageID(ctx, build.Settings, build.Options)
	if err != nil {
		return "", err
	}

	ext := p.cfg.ArchiveExtension()
	archivePath := c.ArchivePath(p.ref, id, ext)
	err = os.MkdirAll(filepath.Dir(archivePath), 0o755)
	if err != nil {
		return "", eris.Wrapf(err, "failed to create %s", filepath.Dir(archivePath))
	}

	pkg.PrintTask(fmt.Sprintf("Downloading package %s of %s", id, p.ref))
	err = p.remote.DownloadFile(ctx, remote.PackagePath(p.ref, id, "package"+ext), archivePath)
	if err != nil {
		return "", err
	}

	packageDir := c.PackageDir(p.ref, id)
	entries, err := p.unpackInto(c, archivePath, packageDir)
	if err != nil {
		return "", err
	}

	err = c.PutPackage(p.ref, cache.PackageRecord{
		PackageID: id,
		Settings:  build.Settings,
		Options:   build.Options,
		Files:     entries,
		Archive:   archivePath,
		Created:   time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return packageDir, nil
}

func (p *Packager) unpackInto(c *cache.Cache, archivePath, packageDir string) ([]archive.FileEntry, error) {
	staging := c.StagingDir(p.ref)
	defer os.RemoveAll(staging)

	entries, err := archive.Unpack(archivePath, staging)
	if err != nil {
		return nil, err
	}

	return entries, replaceDir(staging, packageDir)
}

// replaceDir moves src to dest, replacing whatever was at dest before
func replaceDir(src, dest string) error {
	err := os.MkdirAll(src, 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", src)
	}

	err = os.RemoveAll(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to remove %s", dest)
	}

	err = os.MkdirAll(filepath.Dir(dest), 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(dest))
	}

	err = os.Rename(src, dest)
	if err != nil {
		return eris.Wrapf(err, "failed to move %s to %s", src, dest)
	}
	return nil
}
