package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dop251/goja"
)

// ModuleFunc builds the value of a builtin module inside rt. It runs on
// every require of the module; nothing is cached.
type ModuleFunc func(ctx context.Context, rt *goja.Runtime) (goja.Value, error)

const (
	moduleHead = "(function (exports, require, module, __filename, __dirname) {"
	moduleTail = "\n})"
)

// requireFrom returns the require capability of the file at filePath.
// chain lists the absolute paths of the files on the current import path,
// outermost first.
func (e *Executor) requireFrom(filePath string, chain []string) RequireFunc {
	return func(ctx context.Context, rt *goja.Runtime, specifier string) (goja.Value, error) {
		return e.importModule(ctx, rt, Resolve(filePath, specifier), chain)
	}
}

// importModule is the host-native import facility. Builtins are matched by
// name; absolute paths are loaded by extension.
func (e *Executor) importModule(ctx context.Context, rt *goja.Runtime, name string, chain []string) (goja.Value, error) {
	if fn, ok := e.cfg.builtins[name]; ok {
		e.cfg.logger.Debug("require builtin", "name", name)
		return fn(ctx, rt)
	}
	if !filepath.IsAbs(name) {
		return nil, fmt.Errorf("%w: %q", ErrModuleNotFound, name)
	}
	name = filepath.Clean(name)

	if slices.Contains(chain, name) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrImportCycle, strings.Join(chain, " -> "), name)
	}
	if len(chain) > e.cfg.maxImportDepth {
		return nil, fmt.Errorf("%w: %d nested imports at %s", ErrImportDepth, len(chain), name)
	}

	data, err := e.cfg.reader.ReadFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", ErrModuleNotFound, name, err)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	e.cfg.logger.Debug("require file", "path", name, "depth", len(chain))

	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return parseJSON(rt, name, data)
	case ".wasm":
		return e.importWasm(ctx, rt, name, data)
	default:
		return e.importScript(ctx, rt, name, string(data), append(slices.Clone(chain), name))
	}
}

// importScript runs a nested module inside rt, CommonJS style: the source
// is wrapped in a function that receives its own exports, module and
// require. The nested module shares the builtins of rt but not the
// caller's scope variables.
func (e *Executor) importScript(ctx context.Context, rt *goja.Runtime, name, source string, chain []string) (goja.Value, error) {
	prog, err := goja.Compile(name, moduleHead+stripHashbang(source)+moduleTail, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	wrapper, err := rt.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, fmt.Errorf("compile %s: module wrapper is not a function", name)
	}

	exports := rt.NewObject()
	module := rt.NewObject()
	_ = module.Set("exports", exports)
	_ = module.Set("id", name)
	_ = module.Set("filename", name)

	req := rt.ToValue(requireFunction(ctx, rt, e.requireFrom(name, chain)))
	if _, err := fn(exports, exports, req, module, rt.ToValue(name), rt.ToValue(filepath.Dir(name))); err != nil {
		return nil, err
	}
	return module.Get("exports"), nil
}

func parseJSON(rt *goja.Runtime, name string, data []byte) (goja.Value, error) {
	jsonObj := rt.Get("JSON").ToObject(rt)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse unavailable")
	}
	v, err := parse(jsonObj, rt.ToValue(strings.TrimPrefix(string(data), "\ufeff")))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}
