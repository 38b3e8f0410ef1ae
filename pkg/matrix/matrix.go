// Package matrix expands compiler, architecture and build type axes into concrete build configurations.
package matrix

import (
	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
)

// BuildConf is one entry of the build matrix
type BuildConf struct {
	Settings      map[string]string `yaml:"settings" json:"settings"`
	Options       map[string]string `yaml:"options" json:"options"`
	EnvVars       map[string]string `yaml:"env_vars" json:"env_vars"`
	BuildRequires []string          `yaml:"build_requires" json:"build_requires"`
	Reference     string            `yaml:"reference,omitempty" json:"reference,omitempty"`
}

// Normalize replaces nil maps and slices with empty ones
func (b BuildConf) Normalize() BuildConf {
	if b.Settings == nil {
		b.Settings = map[string]string{}
	}
	if b.Options == nil {
		b.Options = map[string]string{}
	}
	if b.EnvVars == nil {
		b.EnvVars = map[string]string{}
	}
	if b.BuildRequires == nil {
		b.BuildRequires = []string{}
	}
	return b
}

// Axes lists the values each matrix dimension takes
type Axes struct {
	// OS is the target os setting (Linux, Macos, Windows)
	OS                 string
	GCCVersions        []string
	ClangVersions      []string
	AppleClangVersions []string
	VisualVersions     []string
	Archs              []string
	BuildTypes         []string
}

const (
	CompilerGCC        = "gcc"
	CompilerClang      = "clang"
	CompilerAppleClang = "apple-clang"
	CompilerVisual     = "Visual Studio"
)

var osNames = map[string]string{
	"linux":   "Linux",
	"darwin":  "Macos",
	"windows": "Windows",
	"freebsd": "FreeBSD",
}

// OSName maps a GOOS value to the matching os setting
func OSName(goos string) string {
	name, ok := osNames[goos]
	if !ok {
		return goos
	}
	return name
}

// DefaultAxes returns the matrix used when nothing was configured for the given GOOS
func DefaultAxes(goos string) Axes {
	axes := Axes{
		OS:         OSName(goos),
		BuildTypes: []string{"Release", "Debug"},
	}

	switch goos {
	case "windows":
		axes.VisualVersions = []string{"16"}
		axes.Archs = []string{"x86", "x86_64"}
	case "darwin":
		axes.AppleClangVersions = []string{"13.0"}
		axes.Archs = []string{"x86_64", "armv8"}
	default:
		axes.GCCVersions = []string{"9", "10", "11"}
		axes.Archs = []string{"x86", "x86_64"}
	}

	return axes
}

// HasCompilers reports whether at least one compiler version is listed
func (a Axes) HasCompilers() bool {
	return len(a.GCCVersions)+len(a.ClangVersions)+len(a.AppleClangVersions)+len(a.VisualVersions) > 0
}

type compilerAxis struct {
	name     string
	versions []string
}

// Expand generates one build per combination of compiler version, arch, build type and runtime library
func Expand(axes Axes) ([]BuildConf, error) {
	if len(axes.Archs) == 0 {
		return nil, eris.New("no architectures configured")
	}

	if len(axes.BuildTypes) == 0 {
		return nil, eris.New("no build types configured")
	}

	compilers := []compilerAxis{
		{CompilerGCC, axes.GCCVersions},
		{CompilerClang, axes.ClangVersions},
		{CompilerAppleClang, axes.AppleClangVersions},
		{CompilerVisual, axes.VisualVersions},
	}

	builds := []BuildConf{}
	for _, compiler := range compilers {
		for _, version := range compiler.versions {
			parsed, err := semver.NewVersion(version)
			if err != nil {
				return nil, eris.Wrapf(err, "invalid %s version %q", compiler.name, version)
			}

			for _, arch := range axes.Archs {
				for _, buildType := range axes.BuildTypes {
					key, values := runtimeAxis(compiler.name, parsed, buildType)
					for _, value := range values {
						settings := map[string]string{
							"arch":             arch,
							"build_type":       buildType,
							"compiler":         compiler.name,
							"compiler.version": version,
						}
						if axes.OS != "" {
							settings["os"] = axes.OS
						}
						settings[key] = value

						builds = append(builds, BuildConf{Settings: settings}.Normalize())
					}
				}
			}
		}
	}

	return builds, nil
}

var gccDualABI = semver.MustParse("5.0.0")

// runtimeAxis returns the setting that selects the C++ runtime and the values it takes for a compiler
func runtimeAxis(compiler string, version *semver.Version, buildType string) (string, []string) {
	switch compiler {
	case CompilerGCC:
		if version.LessThan(gccDualABI) {
			return "compiler.libcxx", []string{"libstdc++"}
		}
		return "compiler.libcxx", []string{"libstdc++", "libstdc++11"}
	case CompilerClang:
		return "compiler.libcxx", []string{"libstdc++", "libc++"}
	case CompilerAppleClang:
		return "compiler.libcxx", []string{"libc++"}
	default:
		if buildType == "Debug" {
			return "compiler.runtime", []string{"MTd", "MDd"}
		}
		return "compiler.runtime", []string{"MT", "MD"}
	}
}
