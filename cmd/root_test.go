package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/thinkbox/cmlibrary/pkg/matrix"
	"github.com/thinkbox/cmlibrary/pkg/packager"
)

const testRecipe = `
recipe(
    name = "thinkboxcmlibrary",
    version = "1.0.0",
    license = "Apache-2.0",
    description = "Shared code for Thinkbox CMake-based builds.",
    no_copy_source = True,
)

def export_sources():
    copy("*.cmake", src = "", dst = "")

def package():
    copy("*.cmake", src = "", dst = "")

def deploy():
    copy("*.cmake", src = "", dst = "")

def package_id():
    header_only()
`

type fakeBuilder struct {
	opts     packager.Options
	builds   []matrix.BuildConf
	addErr   error
	runCalls int
}

func (f *fakeBuilder) AddCommonBuilds() error {
	if f.addErr != nil {
		return f.addErr
	}

	f.builds = append(f.builds,
		matrix.BuildConf{Settings: map[string]string{"os": "Linux", "arch": "x86_64", "build_type": "Release"}}.Normalize(),
		matrix.BuildConf{Settings: map[string]string{"os": "Linux", "arch": "x86_64", "build_type": "Debug"}}.Normalize(),
	)
	return nil
}

func (f *fakeBuilder) Builds() []matrix.BuildConf {
	return f.builds
}

func (f *fakeBuilder) Run(ctx context.Context) error {
	f.runCalls++
	return nil
}

// useFakeBuilder swaps the builder factory for the duration of the test
func useFakeBuilder(t *testing.T, fake *fakeBuilder) {
	t.Helper()

	previous := newBuilder
	newBuilder = func(ctx context.Context, opts packager.Options) (builder, error) {
		fake.opts = opts
		return fake, nil
	}
	t.Cleanup(func() {
		newBuilder = previous
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	rootCmd := newRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeSourceTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"recipe.star": testRecipe,
		"a.cmake":     "set(A 1)\n",
		"b.txt":       "not a cmake file\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return filepath.Join(dir, "recipe.star")
}

func TestRoot_UsernameAndChannel(t *testing.T) {
	fake := &fakeBuilder{}
	useFakeBuilder(t, fake)

	_, err := execute(t, "--username", "alice", "--channel", "stable")
	require.NoError(t, err)
	require.NotNil(t, fake.opts.Config)
	require.Equal(t, packager.Options{Username: "alice", Channel: "stable", Config: fake.opts.Config}, fake.opts)

	_, err = execute(t, "-u", "bob", "-c", "testing")
	require.NoError(t, err)
	require.Equal(t, packager.Options{Username: "bob", Channel: "testing", Config: fake.opts.Config}, fake.opts)
}

func TestRoot_RunsBuilds(t *testing.T) {
	fake := &fakeBuilder{}
	useFakeBuilder(t, fake)

	out, err := execute(t)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, 1, fake.runCalls)
	require.NotNil(t, fake.opts.Config)
	require.Equal(t, "stable", fake.opts.Config.StableChannel)
	require.Equal(t, packager.Options{Config: fake.opts.Config}, fake.opts)
}

func TestRoot_DryRun(t *testing.T) {
	fake := &fakeBuilder{}
	useFakeBuilder(t, fake)

	out, err := execute(t, "--dry-run")
	require.NoError(t, err)
	require.Zero(t, fake.runCalls)

	var printed []matrix.BuildConf
	require.NoError(t, yaml.Unmarshal([]byte(out), &printed))
	require.Len(t, printed, len(fake.builds))
	for idx, build := range printed {
		require.Equal(t, fake.builds[idx].Settings, build.Settings)
	}
}

func TestRoot_Errors(t *testing.T) {
	fake := &fakeBuilder{addErr: eris.New("no architectures configured")}
	useFakeBuilder(t, fake)

	_, err := execute(t)
	require.ErrorContains(t, err, "no architectures configured")
	require.Zero(t, fake.runCalls)

	_, err = execute(t, "unexpected")
	require.Error(t, err)
}

func TestInfo(t *testing.T) {
	t.Setenv("CONAN_GCC_VERSIONS", "9,11")
	t.Setenv("CONAN_ARCHS", "x86_64")

	out, err := execute(t, "info", "--recipe", writeSourceTree(t), "-u", "alice", "-c", "stable")
	require.NoError(t, err)

	var info recipeInfo
	require.NoError(t, yaml.Unmarshal([]byte(out), &info))
	require.Equal(t, "thinkboxcmlibrary/1.0.0@alice/stable", info.Reference)
	require.Equal(t, "Apache-2.0", info.License)
	require.True(t, info.NoCopySource)
	require.NotEmpty(t, info.Builds)
	require.Len(t, info.Packages, 1)
	for _, build := range info.Builds {
		require.Equal(t, info.Packages[0], build.PackageID)
	}
}

func TestBuildAndDeploy(t *testing.T) {
	storage := t.TempDir()
	t.Setenv("CONAN_STORAGE_PATH", storage)
	t.Setenv("CONAN_GCC_VERSIONS", "11")
	t.Setenv("CONAN_ARCHS", "x86_64")
	t.Setenv("CONAN_BUILD_TYPES", "Release")
	recipePath := writeSourceTree(t)

	// a dry run leaves the cache untouched
	out, err := execute(t, "--dry-run", "--recipe", recipePath)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	entries, err := os.ReadDir(storage)
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = execute(t, "--recipe", recipePath)
	require.NoError(t, err)

	dest := t.TempDir()
	_, err = execute(t, "deploy", dest, "--recipe", recipePath)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dest, "a.cmake"))
	require.NoFileExists(t, filepath.Join(dest, "b.txt"))
}

func TestConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(NewConsoleWriter(&buf))

	logger.Warn().Str("reference", "thinkboxcmlibrary/1.0.0").Msg("No files in this package!")
	require.Contains(t, buf.String(), "thinkboxcmlibrary/1.0.0: No files in this package!")

	buf.Reset()
	logger.Error().Err(eris.New("broken")).Msg("Build failed")
	require.Contains(t, buf.String(), "Error: Build failed")
	require.Contains(t, buf.String(), "broken")
}
