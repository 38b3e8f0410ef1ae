package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	require.Equal(t, "gzip", cfg.Compression)
	require.Equal(t, ".tgz", cfg.ArchiveExtension())
	require.Equal(t, "stable", cfg.StableChannel)
	require.Equal(t, zerolog.InfoLevel, cfg.ZerologLevel())
	require.False(t, cfg.UploadOnlyWhenStable)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmlpack.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
username = "thinkbox"
channel = "stable"
gcc_versions = ["9", "11"]
compression = "xz"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "thinkbox", cfg.Username)
	require.Equal(t, "stable", cfg.Channel)
	require.Equal(t, []string{"9", "11"}, cfg.GCCVersions)
	require.Equal(t, ".txz", cfg.ArchiveExtension())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CONAN_USERNAME", "alice")
	t.Setenv("CONAN_ARCHS", "x86_64,armv8")
	t.Setenv("CONAN_UPLOAD", "https://packages.example.com/api")
	t.Setenv("CONAN_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	require.Equal(t, "alice", cfg.Username)
	require.Equal(t, []string{"x86_64", "armv8"}, cfg.Archs)
	require.Equal(t, "https://packages.example.com/api", cfg.Upload)
	require.Equal(t, zerolog.DebugLevel, cfg.ZerologLevel())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := Config{LogLevel: "info", Compression: "gzip"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"log level", Config{LogLevel: "loud", Compression: "gzip"}, "log_level"},
		{"compression", Config{LogLevel: "info", Compression: "zip"}, "compression"},
		{"upload scheme", Config{LogLevel: "info", Compression: "gzip", Upload: "ftp://example.com"}, "upload"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCachePath(t *testing.T) {
	t.Parallel()

	cfg := Config{StoragePath: "/var/cache/cmlpack"}
	path, err := cfg.CachePath()
	require.NoError(t, err)
	require.Equal(t, "/var/cache/cmlpack", path)
}
