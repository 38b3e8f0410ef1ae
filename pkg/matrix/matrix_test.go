package matrix

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestExpand_Counts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		axes Axes
		want int
	}{
		{"linux defaults", DefaultAxes("linux"), 3 * 2 * 2 * 2},
		{"darwin defaults", DefaultAxes("darwin"), 1 * 2 * 2 * 1},
		{"windows defaults", DefaultAxes("windows"), 1 * 2 * 2 * 2},
		{"old gcc", Axes{GCCVersions: []string{"4.9"}, Archs: []string{"x86_64"}, BuildTypes: []string{"Release"}}, 1},
		{"clang", Axes{ClangVersions: []string{"10", "12"}, Archs: []string{"x86_64"}, BuildTypes: []string{"Release"}}, 4},
		{"no compilers", Axes{Archs: []string{"x86_64"}, BuildTypes: []string{"Release"}}, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			builds, err := Expand(tt.axes)
			require.NoError(t, err)
			require.Len(t, builds, tt.want)
		})
	}
}

func TestExpand_Order(t *testing.T) {
	t.Parallel()

	builds, err := Expand(Axes{
		OS:             "Windows",
		VisualVersions: []string{"16"},
		Archs:          []string{"x86_64"},
		BuildTypes:     []string{"Release", "Debug"},
	})
	require.NoError(t, err)

	got := make([]string, len(builds))
	for idx, build := range builds {
		got[idx] = build.Settings["build_type"] + "/" + build.Settings["compiler.runtime"]
		require.Equal(t, "Windows", build.Settings["os"])
		require.Equal(t, CompilerVisual, build.Settings["compiler"])
	}

	want := []string{"Release/MT", "Release/MD", "Debug/MTd", "Debug/MDd"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("build order mismatch (-want +got):\n%s", diff)
	}
}

func TestExpand_Settings(t *testing.T) {
	t.Parallel()

	builds, err := Expand(Axes{
		OS:          "Linux",
		GCCVersions: []string{"4.9"},
		Archs:       []string{"x86"},
		BuildTypes:  []string{"Debug"},
	})
	require.NoError(t, err)
	require.Len(t, builds, 1)

	want := BuildConf{
		Settings: map[string]string{
			"os":               "Linux",
			"arch":             "x86",
			"build_type":       "Debug",
			"compiler":         "gcc",
			"compiler.version": "4.9",
			"compiler.libcxx":  "libstdc++",
		},
		Options:       map[string]string{},
		EnvVars:       map[string]string{},
		BuildRequires: []string{},
	}
	if diff := cmp.Diff(want, builds[0]); diff != "" {
		t.Errorf("build mismatch (-want +got):\n%s", diff)
	}
}

func TestExpand_Errors(t *testing.T) {
	t.Parallel()

	_, err := Expand(Axes{GCCVersions: []string{"9"}, BuildTypes: []string{"Release"}})
	require.Error(t, err)

	_, err = Expand(Axes{GCCVersions: []string{"9"}, Archs: []string{"x86"}})
	require.Error(t, err)

	_, err = Expand(Axes{GCCVersions: []string{"latest"}, Archs: []string{"x86"}, BuildTypes: []string{"Release"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid gcc version")
}

func TestOSName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Linux", OSName("linux"))
	require.Equal(t, "Macos", OSName("darwin"))
	require.Equal(t, "plan9", OSName("plan9"))
}
