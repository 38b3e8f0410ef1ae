package recipe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		glob string
		opts CopyOptions
		want []string
	}{
		{"nested match", "*.cmake", CopyOptions{KeepPath: true}, []string{"a.cmake", "modules/c.cmake"}},
		{"flat", "*.cmake", CopyOptions{}, []string{"a.cmake", "c.cmake"}},
		{"prefix", "modules/*", CopyOptions{KeepPath: true}, []string{"modules/c.cmake", "modules/d.txt"}},
		{"exclude", "*", CopyOptions{KeepPath: true, Excludes: []string{"*.txt"}}, []string{"a.cmake", "modules/c.cmake"}},
		{"no match", "*.h", CopyOptions{KeepPath: true}, []string{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := t.TempDir()
			dst := t.TempDir()
			writeFile(t, filepath.Join(src, "a.cmake"), "a")
			writeFile(t, filepath.Join(src, "b.txt"), "b")
			writeFile(t, filepath.Join(src, "modules", "c.cmake"), "c")
			writeFile(t, filepath.Join(src, "modules", "d.txt"), "d")

			copied, err := CopyFiles(context.Background(), tt.glob, src, dst, tt.opts)
			require.NoError(t, err)
			require.Equal(t, tt.want, copied)

			for _, item := range copied {
				_, err := os.Stat(filepath.Join(dst, filepath.FromSlash(item)))
				require.NoError(t, err)
			}
		})
	}
}

func TestCopyFiles_MissingSourceCopiesNothing(t *testing.T) {
	t.Parallel()

	copied, err := CopyFiles(context.Background(), "*", filepath.Join(t.TempDir(), "missing"), t.TempDir(), CopyOptions{KeepPath: true})
	require.NoError(t, err)
	require.Empty(t, copied)
}

func TestCopyFiles_SkipsDestinationInsideSource(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.cmake"), "a")
	dst := filepath.Join(src, "out")
	writeFile(t, filepath.Join(dst, "stale.cmake"), "old")

	copied, err := CopyFiles(context.Background(), "*.cmake", src, dst, CopyOptions{KeepPath: true})
	require.NoError(t, err)
	require.Equal(t, []string{"a.cmake"}, copied)
}

func TestCopyFiles_SkipDirs(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.cmake"), "a")
	writeFile(t, filepath.Join(src, "cache", "nested", "old.cmake"), "old")
	writeFile(t, filepath.Join(src, "modules", "c.cmake"), "c")

	copied, err := CopyFiles(context.Background(), "*.cmake", src, t.TempDir(), CopyOptions{
		KeepPath: true,
		SkipDirs: []string{filepath.Join(src, "cache")},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a.cmake", "modules/c.cmake"}, copied)
}

func TestCopyFiles_PreservesMode(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()
	script := filepath.Join(src, "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.Chmod(script, 0o755))

	_, err := CopyFiles(context.Background(), "*.sh", src, dst, CopyOptions{KeepPath: true})
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dst, "run.sh"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}
