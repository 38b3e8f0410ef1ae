package recipe

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/pattern"

	"github.com/thinkbox/cmlibrary/pkg"
)

// CopyOptions tweaks how CopyFiles places matched files
type CopyOptions struct {
	// KeepPath preserves the path relative to the source directory. Otherwise files land flat in the destination.
	KeepPath bool
	Excludes []string
	// SkipDirs lists folders below the source directory that are never walked
	SkipDirs []string
}

// compilePattern turns a glob into an anchored regexp. "*" matches across directory separators so that "*.cmake"
// selects nested files as well.
func compilePattern(glob string) (*regexp.Regexp, error) {
	expr, err := pattern.Regexp(glob, 0)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid pattern %s", glob)
	}

	rx, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return nil, eris.Wrapf(err, "failed to compile pattern %s", glob)
	}
	return rx, nil
}

// CopyFiles copies every regular file below srcDir whose slash-separated relative path matches glob into dstDir.
// It returns the copied paths relative to dstDir. A missing srcDir copies nothing.
func CopyFiles(ctx context.Context, glob, srcDir, dstDir string, opts CopyOptions) ([]string, error) {
	rx, err := compilePattern(glob)
	if err != nil {
		return nil, err
	}

	excludes := make([]*regexp.Regexp, len(opts.Excludes))
	for idx, item := range opts.Excludes {
		excludes[idx], err = compilePattern(item)
		if err != nil {
			return nil, err
		}
	}

	srcDir, err = filepath.Abs(srcDir)
	if err != nil {
		return nil, err
	}

	dstDir, err = filepath.Abs(dstDir)
	if err != nil {
		return nil, err
	}

	skip := map[string]bool{dstDir: true}
	for _, item := range opts.SkipDirs {
		item, err = filepath.Abs(item)
		if err != nil {
			return nil, err
		}
		skip[item] = true
	}

	if _, err := os.Stat(srcDir); err != nil {
		if eris.Is(err, os.ErrNotExist) {
			pkg.Log(ctx).Debug().Str("src", srcDir).Msg("source folder does not exist, nothing to copy")
			return []string{}, nil
		}
		return nil, eris.Wrapf(err, "failed to check %s", srcDir)
	}

	copied := []string{}
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			// never pick up our own output when the destination lives inside the source tree
			if skip[path] && path != srcDir {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !rx.MatchString(rel) {
			return nil
		}

		for _, exclude := range excludes {
			if exclude.MatchString(rel) {
				return nil
			}
		}

		target := rel
		if !opts.KeepPath {
			target = filepath.Base(path)
		}

		err = copyFile(path, filepath.Join(dstDir, filepath.FromSlash(target)))
		if err != nil {
			return err
		}

		copied = append(copied, target)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to copy %s from %s to %s", glob, srcDir, dstDir)
	}

	pkg.Log(ctx).Debug().
		Str("pattern", glob).
		Int("files", len(copied)).
		Msgf("copied %s", strings.Join(copied, ", "))

	return copied, nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return eris.Wrapf(err, "failed to read %s", src)
	}

	err = os.MkdirAll(filepath.Dir(dst), 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create directory %s", filepath.Dir(dst))
	}

	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dst)
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return eris.Wrapf(err, "failed to write %s", dst)
	}

	err = out.Close()
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", dst)
	}

	// OpenFile only applies the mode to new files and is subject to the umask
	return os.Chmod(dst, info.Mode().Perm())
}
