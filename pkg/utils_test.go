package pkg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestFindRecipe(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	nested := filepath.Join(root, "cmake", "modules")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, RecipeFile), []byte("recipe(name='x', version='1.0.0')\n"), 0o644))

	found, err := FindRecipe(nested)
	require.NoError(t, err)

	want, err := filepath.Abs(filepath.Join(root, RecipeFile))
	require.NoError(t, err)
	require.Equal(t, want, found)
}

func TestFindRecipe_Missing(t *testing.T) {
	t.Parallel()

	_, err := FindRecipe(t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), RecipeFile)
}

func TestLog_FallsBackToGlobalLogger(t *testing.T) {
	t.Parallel()

	require.NotNil(t, Log(context.Background()))

	logger := zerolog.Nop()
	ctx := WithLogger(context.Background(), &logger)
	require.Same(t, &logger, Log(ctx))
}
