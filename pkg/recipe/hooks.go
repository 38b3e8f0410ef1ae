package recipe

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// ExportSources runs the export_sources hook. copy() reads from src (the recipe folder) and writes to dst. Folders
// listed in skip (usually the package cache) are never searched.
func (r *Recipe) ExportSources(ctx context.Context, src, dst string, skip ...string) ([]string, error) {
	return r.runCopyHook(ctx, HookExportSources, src, dst, skip)
}

// Package runs the package hook. copy() reads from src (the exported sources) and writes to dst (the package
// folder).
func (r *Recipe) Package(ctx context.Context, src, dst string) ([]string, error) {
	return r.runCopyHook(ctx, HookPackage, src, dst, nil)
}

// Deploy runs the deploy hook. copy() reads from src (the package folder) and writes to dst.
func (r *Recipe) Deploy(ctx context.Context, src, dst string) ([]string, error) {
	return r.runCopyHook(ctx, HookDeploy, src, dst, nil)
}

func (r *Recipe) runCopyHook(ctx context.Context, hook Hook, src, dst string, skip []string) ([]string, error) {
	src, err := filepath.Abs(src)
	if err != nil {
		return nil, err
	}

	dst, err = filepath.Abs(dst)
	if err != nil {
		return nil, err
	}

	sctx := &scriptCtx{
		hook:   hook,
		src:    src,
		dst:    dst,
		skip:   skip,
		copied: []string{},
	}

	err = r.runHook(ctx, sctx)
	if err != nil {
		return nil, err
	}

	return sctx.copied, nil
}

// resolveWithin joins sub onto root and rejects results outside of root
func resolveWithin(root, sub string) (string, error) {
	result := filepath.Join(root, filepath.FromSlash(sub))
	rel, err := filepath.Rel(root, result)
	if err != nil {
		return "", err
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", eris.Errorf("path %s escapes %s", sub, root)
	}
	return result, nil
}

func starCopy(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var glob string
	var excludes starlark.Value
	dst := ""
	src := ""
	keepPath := true

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "pattern", &glob, "dst?", &dst, "src?", &src,
		"keep_path?", &keepPath, "excludes?", &excludes)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	switch ctx.hook {
	case HookExportSources, HookPackage, HookDeploy:
	default:
		return nil, eris.New("copy() can only be called from export_sources(), package() or deploy()")
	}

	srcPath, err := resolveWithin(ctx.src, src)
	if err != nil {
		return nil, err
	}

	dstPath, err := resolveWithin(ctx.dst, dst)
	if err != nil {
		return nil, err
	}

	excludeList, err := valueToStringSlice(excludes, "excludes")
	if err != nil {
		return nil, err
	}

	copied, err := CopyFiles(ctx.ctx, glob, srcPath, dstPath, CopyOptions{
		KeepPath: keepPath,
		Excludes: excludeList,
		SkipDirs: ctx.skip,
	})
	if err != nil {
		return nil, err
	}

	result := make([]starlark.Value, len(copied))
	for idx, item := range copied {
		// report paths relative to the hook's destination root
		rel := filepath.ToSlash(filepath.Join(dst, item))
		ctx.copied = append(ctx.copied, rel)
		result[idx] = starlark.String(rel)
	}

	return starlark.NewList(result), nil
}

func starHeaderOnly(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if ctx.hook != HookPackageID || ctx.info == nil {
		return nil, eris.New("header_only() can only be called from package_id()")
	}

	ctx.info.HeaderOnly()
	return starlark.None, nil
}

func starRemoveSetting(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if ctx.hook != HookPackageID || ctx.info == nil {
		return nil, eris.New("remove_setting() can only be called from package_id()")
	}

	// removing "compiler" also drops its sub-settings like compiler.version
	for key := range ctx.info.Settings {
		if key == name || strings.HasPrefix(key, name+".") {
			delete(ctx.info.Settings, key)
		}
	}

	return starlark.None, nil
}

func valueToStringSlice(value starlark.Value, field string) ([]string, error) {
	switch value := value.(type) {
	case nil:
		return []string{}, nil
	case starlark.NoneType:
		return []string{}, nil
	case starlark.String:
		return []string{value.GoString()}, nil
	case starlark.Iterable:
		result := []string{}
		iter := value.Iterate()
		defer iter.Done()

		var item starlark.Value
		for iter.Next(&item) {
			str, ok := item.(starlark.String)
			if !ok {
				return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
			}
			result = append(result, str.GoString())
		}
		return result, nil
	default:
		return nil, eris.Errorf("expected %s to be a string or a list of strings but got %s", field, value.Type())
	}
}
