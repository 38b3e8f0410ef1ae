package recipe

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/thinkbox/cmlibrary/pkg"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_+.-]{1,50}$`)

type scriptCtx struct {
	ctx       context.Context
	recipe    *Recipe
	filepath  string
	initPhase bool
	declared  bool

	// set while a hook runs
	hook   Hook
	src    string
	dst    string
	skip   []string
	copied []string
	info   *Info
}

func getCtx(thread *starlark.Thread) *scriptCtx {
	return thread.Local("scriptCtx").(*scriptCtx)
}

func newThread(sctx *scriptCtx) *starlark.Thread {
	thread := &starlark.Thread{
		Name: "recipe",
		Print: func(thread *starlark.Thread, msg string) {
			pkg.Log(sctx.ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	thread.SetLocal("scriptCtx", sctx)
	return thread
}

func builtins() starlark.StringDict {
	return starlark.StringDict{
		"OS":             starlark.String(runtime.GOOS),
		"ARCH":           starlark.String(runtime.GOARCH),
		"info":           starlark.NewBuiltin("info", starInfo),
		"warn":           starlark.NewBuiltin("warn", starWarn),
		"recipe":         starlark.NewBuiltin("recipe", declareRecipe),
		"copy":           starlark.NewBuiltin("copy", starCopy),
		"header_only":    starlark.NewBuiltin("header_only", starHeaderOnly),
		"remove_setting": starlark.NewBuiltin("remove_setting", starRemoveSetting),
	}
}

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos
	pkg.Log(ctx.ctx).Info().Msgf("%s:%d:%d: %s", filepath.Base(ctx.filepath), pos.Line, pos.Col, message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos
	pkg.Log(ctx.ctx).Warn().Msgf("%s:%d:%d: %s", filepath.Base(ctx.filepath), pos.Line, pos.Col, message)
	return starlark.None, nil
}

func declareRecipe(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("recipe() can only be called in the global scope")
	}

	if ctx.declared {
		return nil, eris.New("recipe() may only be called once")
	}

	var topics starlark.Value
	r := ctx.recipe
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &r.Name, "version", &r.Version, "license?", &r.License,
		"description?", &r.Description, "url?", &r.URL, "author?", &r.Author, "topics?", &topics,
		"header_only?", &r.HeaderOnly, "no_copy_source?", &r.NoCopySource)
	if err != nil {
		return nil, err
	}

	r.Topics, err = valueToStringSlice(topics, "topics")
	if err != nil {
		return nil, err
	}

	ctx.declared = true
	return starlark.None, nil
}

// Load executes the given recipe script and returns the declared recipe.
func Load(ctx context.Context, filename string) (*Recipe, error) {
	filename, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read recipe %s", filename)
	}

	return Parse(ctx, filename, script)
}

// Parse is like Load but takes the script content directly. filename is used for messages and as the recipe's
// location.
func Parse(ctx context.Context, filename string, script []byte) (*Recipe, error) {
	sctx := &scriptCtx{
		ctx:       ctx,
		filepath:  filename,
		initPhase: true,
		recipe: &Recipe{
			Path:  filename,
			hooks: make(map[Hook]starlark.Callable),
		},
	}

	thread := newThread(sctx)
	globals, err := starlark.ExecFile(thread, filepath.Base(filename), script, builtins())
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", filename, evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to execute %s", filename)
	}
	sctx.initPhase = false

	if !sctx.declared {
		return nil, eris.Errorf("%s did not call recipe()", filename)
	}

	for _, hook := range knownHooks {
		value, ok := globals[string(hook)]
		if !ok {
			continue
		}

		callable, ok := value.(starlark.Callable)
		if !ok {
			return nil, eris.Errorf("%s declares %s but it's a %s, not a function", filename, hook, value.Type())
		}
		sctx.recipe.hooks[hook] = callable
	}

	err = sctx.recipe.Validate()
	if err != nil {
		return nil, eris.Wrapf(err, "invalid recipe %s", filename)
	}

	return sctx.recipe, nil
}

// Validate checks the declared metadata
func (r *Recipe) Validate() error {
	if !namePattern.MatchString(r.Name) {
		return eris.Errorf("invalid package name %q", r.Name)
	}

	_, err := semver.NewVersion(r.Version)
	if err != nil {
		return eris.Wrapf(err, "invalid version %q", r.Version)
	}

	return nil
}

func (r *Recipe) runHook(ctx context.Context, sctx *scriptCtx) error {
	callable, ok := r.hooks[sctx.hook]
	if !ok {
		pkg.Log(ctx).Debug().Str("hook", string(sctx.hook)).Msg("hook not defined, skipping")
		return nil
	}

	sctx.ctx = ctx
	sctx.recipe = r
	sctx.filepath = r.Path

	thread := newThread(sctx)
	_, err := starlark.Call(thread, callable, starlark.Tuple{}, nil)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return eris.Errorf("%s() failed:\n%s", sctx.hook, evalError.Backtrace())
		}
		return eris.Wrapf(err, "%s() failed", sctx.hook)
	}

	return nil
}
