package config

import (
	"net/url"
	"os"
	"path/filepath"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all configuration options
type Config struct {
	Username string `toml:"username" env:"USERNAME" usage:"Account the built packages belong to"`
	Channel  string `toml:"channel" env:"CHANNEL" usage:"Release channel of the built packages (defaults to testing when a username is set)"`

	GCCVersions        []string `toml:"gcc_versions" env:"GCC_VERSIONS"`
	ClangVersions      []string `toml:"clang_versions" env:"CLANG_VERSIONS"`
	AppleClangVersions []string `toml:"apple_clang_versions" env:"APPLE_CLANG_VERSIONS"`
	VisualVersions     []string `toml:"visual_versions" env:"VISUAL_VERSIONS"`
	Archs              []string `toml:"archs" env:"ARCHS" usage:"Architectures to build (defaults depend on the host OS)"`
	BuildTypes         []string `toml:"build_types" env:"BUILD_TYPES" usage:"Build types to build (defaults to Release,Debug)"`

	Upload               string `toml:"upload" env:"UPLOAD" usage:"URL of the remote packages are uploaded to; nothing is uploaded if empty"`
	LoginUsername        string `toml:"login_username" env:"LOGIN_USERNAME"`
	Password             string `toml:"password" env:"PASSWORD"`
	StableChannel        string `toml:"stable_channel" env:"STABLE_CHANNEL" default:"stable"`
	UploadOnlyWhenStable bool   `toml:"upload_only_when_stable" env:"UPLOAD_ONLY_WHEN_STABLE" default:"false"`

	StoragePath string `toml:"storage_path" env:"STORAGE_PATH" usage:"Local package cache (defaults to ~/.cmlpack/data)"`
	Compression string `toml:"compression" env:"COMPRESSION" default:"gzip" usage:"Package archive compression (gzip, xz or brotli)"`
	LogLevel    string `toml:"log_level" env:"LOG_LEVEL" default:"info"`
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

var archiveExtensions = map[string]string{
	"gzip":   ".tgz",
	"xz":     ".txz",
	"brotli": ".tbr",
}

// Loader initializes an empty config object and returns a new Loader for this object. Values are read from
// cmlpack.toml (if present) and CONAN_* environment variables.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{"cmlpack.toml"}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:        "CONAN",
		SkipFlags:        true,
		AllowUnknownEnvs: true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load runs the loader and validates the result
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	err := loader.Load()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load configuration")
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.LogLevel]
	if !ok {
		return eris.Errorf(`Invalid value for log_level: %s`, cfg.LogLevel)
	}

	_, ok = archiveExtensions[cfg.Compression]
	if !ok {
		return eris.Errorf(`Invalid value for compression: %s (must be one of gzip, xz or brotli)`, cfg.Compression)
	}

	if cfg.Upload != "" {
		u, err := url.Parse(cfg.Upload)
		if err != nil {
			return eris.Wrapf(err, `Invalid value for upload`)
		}

		if u.Scheme != "http" && u.Scheme != "https" {
			return eris.Errorf(`Invalid value for upload: %s (must be an http or https URL)`, cfg.Upload)
		}
	}

	return nil
}

// ZerologLevel converts the LogLevel field to a zerolog.Level
func (cfg *Config) ZerologLevel() zerolog.Level {
	return logLevels[cfg.LogLevel]
}

// ArchiveExtension returns the file extension matching the configured compression
func (cfg *Config) ArchiveExtension() string {
	return archiveExtensions[cfg.Compression]
}

// CachePath returns StoragePath or the default location in the user's home directory
func (cfg *Config) CachePath() (string, error) {
	if cfg.StoragePath != "" {
		return cfg.StoragePath, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", eris.Wrap(err, "failed to determine the home directory")
	}

	return filepath.Join(home, ".cmlpack", "data"), nil
}
