package pkg

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// RecipeFile is the name of the package descriptor FindRecipe looks for.
const RecipeFile = "recipe.star"

// FindRecipe walks from start towards the filesystem root and returns the path of the first recipe.star it finds.
func FindRecipe(start string) (string, error) {
	path, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", start)
	}

	for {
		recipePath := filepath.Join(path, RecipeFile)
		info, err := os.Stat(recipePath)
		if err == nil && !info.IsDir() {
			return recipePath, nil
		}

		if err != nil && !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "Failed to check %s", recipePath)
		}

		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}

	return "", eris.Errorf("No %s file found in %s or its parents", RecipeFile, start)
}

func PrintTask(msg string) {
	colorstring.Printf("[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Printf("[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(msg string) {
	colorstring.Printf("[red][bold]  ->[reset] %s\n", msg)
}
