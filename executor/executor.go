package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dop251/goja"
)

// FileReader reads source files. Implementations must be safe for
// concurrent use.
type FileReader interface {
	ReadFile(name string) ([]byte, error)
}

// OSReader reads from the host filesystem.
type OSReader struct{}

func (OSReader) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// Callback receives the outcome of a run: the exports on success, or the
// error with zero Exports on failure.
type Callback func(Exports, error)

// Executor compiles and runs scripts, each in a runtime of its own.
// An Executor is immutable after New and safe for concurrent use.
type Executor struct {
	cfg config
}

// New creates an Executor.
func New(opts ...Option) (*Executor, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.console == nil {
		return nil, errors.New("console required")
	}
	if cfg.reader == nil {
		return nil, errors.New("file reader required")
	}
	if cfg.logger == nil {
		cfg.logger = log.New(io.Discard)
	}
	if cfg.maxImportDepth < 1 {
		return nil, fmt.Errorf("max import depth must be positive, got %d", cfg.maxImportDepth)
	}
	for name := range cfg.builtins {
		if name == "" || strings.HasPrefix(name, ".") || filepath.IsAbs(name) {
			return nil, fmt.Errorf("invalid builtin module name %q", name)
		}
	}

	return &Executor{cfg: cfg}, nil
}

// Reader returns the reader nested imports use.
func (e *Executor) Reader() FileReader {
	return e.cfg.reader
}

// Logger returns the executor's logger.
func (e *Executor) Logger() *log.Logger {
	return e.cfg.logger
}

// DefaultScope builds the scope a script at filePath gets when the caller
// provides nothing: require bound to filePath, the shared console, and a
// fresh exports container aliased as module.exports. Each call returns new
// containers and a deep copy of the WithGlobal values.
func (e *Executor) DefaultScope(filePath string) *Scope {
	exports := NewContainer()
	return &Scope{
		Require:  e.requireFrom(filePath, []string{absPath(filePath)}),
		FilePath: filePath,
		Console:  e.cfg.console,
		Exports:  exports,
		Module:   &Module{Exports: exports},
		Globals:  cloneGlobals(e.cfg.globals),
	}
}

// cloneGlobals copies globals so that a run mutating a map or slice value
// never reaches another run. Leaf values are shared.
func cloneGlobals(globals map[string]any) map[string]any {
	out := make(map[string]any, len(globals))
	for name, v := range globals {
		out[name] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[k] = cloneValue(x)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = cloneValue(x)
		}
		return out
	case map[string]string:
		return maps.Clone(v)
	case []string:
		return slices.Clone(v)
	}
	return v
}

// Execute compiles source as filePath and runs it with scope merged over
// the default scope. scope may be nil; when it is not, Merge fills its unset
// capabilities in place.
func (e *Executor) Execute(ctx context.Context, filePath, source string, scope *Scope) (Exports, error) {
	start := time.Now()

	exports, err := e.execute(ctx, filePath, source, scope)
	if err != nil {
		e.cfg.logger.Debug("script failed", "path", filePath, "duration", time.Since(start), "err", err)
		return Exports{}, err
	}

	e.cfg.logger.Debug("script executed", "path", filePath, "duration", time.Since(start))
	return exports, nil
}

// ExecuteCallback is Execute reporting through cb. cb is called exactly
// once before ExecuteCallback returns. The exports are returned as well;
// on failure the zero Exports is returned and the error only reaches cb.
func (e *Executor) ExecuteCallback(ctx context.Context, filePath, source string, scope *Scope, cb Callback) Exports {
	exports, err := e.Execute(ctx, filePath, source, scope)
	if err != nil {
		cb(Exports{}, err)
		return Exports{}
	}
	cb(exports, nil)
	return exports
}

func (e *Executor) execute(ctx context.Context, filePath, source string, user *Scope) (_ Exports, err error) {
	if e.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return Exports{}, newScriptError(filePath, fmt.Errorf("%w: %w", ErrInterrupted, err))
	}

	rt := goja.New()
	if e.cfg.maxCallStackSize > 0 {
		rt.SetMaxCallStackSize(e.cfg.maxCallStackSize)
	}

	caps, end := runContext(ctx)
	defer func() { end(err) }()

	scope := Merge(user, e.DefaultScope(filePath))
	if err := bindScope(caps, rt, scope); err != nil {
		return Exports{}, newScriptError(filePath, err)
	}

	prog, err := goja.Compile(filePath, stripHashbang(source), false)
	if err != nil {
		return Exports{}, newScriptError(filePath, err)
	}

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		rt.Interrupt(context.Cause(ctx))
		close(interrupted)
	})
	defer func() {
		if !stop() {
			// The interrupt may land after the program finished; clear it so
			// exported functions stay callable.
			<-interrupted
			rt.ClearInterrupt()
		}
	}()

	if _, err := rt.RunProgram(prog); err != nil {
		return Exports{}, newScriptError(filePath, err)
	}
	return Extract(rt), nil
}

// runContext derives the context capabilities receive. It follows ctx while
// the run is active. end detaches it on success, so exported functions can
// still reach host modules and builtins, and cancels it with the run's error
// otherwise.
func runContext(ctx context.Context) (context.Context, func(error)) {
	caps, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() { cancel(context.Cause(ctx)) })
	return caps, func(err error) {
		stop()
		if err != nil {
			cancel(err)
		}
	}
}

// bindScope installs every capability of s as a global of rt.
func bindScope(ctx context.Context, rt *goja.Runtime, s *Scope) error {
	for name, v := range s.Globals {
		if reserved[name] {
			continue
		}
		if err := rt.Set(name, v); err != nil {
			return fmt.Errorf("bind global %s: %w", name, err)
		}
	}

	bound := make(map[*Container]goja.Value, 2)
	container := func(c *Container) goja.Value {
		if c == nil {
			return rt.NewObject()
		}
		if v, ok := bound[c]; ok {
			return v
		}
		var v goja.Value
		if c.props != nil {
			v = rt.ToValue(c.props)
		} else {
			v = rt.NewObject()
		}
		bound[c] = v
		return v
	}

	module := rt.NewObject()
	var moduleExports *Container
	if s.Module != nil {
		moduleExports = s.Module.Exports
	}
	_ = module.Set("exports", container(moduleExports))
	_ = module.Set("id", s.FilePath)
	_ = module.Set("filename", s.FilePath)

	globals := []struct {
		name  string
		value any
	}{
		{"require", requireFunction(ctx, rt, s.Require)},
		{"__filePath", s.FilePath},
		{"__filename", s.FilePath},
		{"__dirname", filepath.Dir(s.FilePath)},
		{"console", bindConsole(rt, s.Console)},
		{"exports", container(s.Exports)},
		{"module", module},
	}
	for _, g := range globals {
		if err := rt.Set(g.name, g.value); err != nil {
			return fmt.Errorf("bind global %s: %w", g.name, err)
		}
	}
	return nil
}

// requireFunction adapts req to a script function. Failures are thrown
// into the script; a script exception raised by a nested module is
// rethrown unchanged.
func requireFunction(ctx context.Context, rt *goja.Runtime, req RequireFunc) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			panic(rt.NewTypeError("require: specifier must be a string"))
		}
		if req == nil {
			panic(rt.NewGoError(fmt.Errorf("%w: %s (require unavailable)", ErrModuleNotFound, arg.String())))
		}
		v, err := req(ctx, rt, arg.String())
		if err != nil {
			throw(rt, err)
		}
		if v == nil {
			return goja.Undefined()
		}
		return v
	}
}

func throw(rt *goja.Runtime, err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex.Value())
	}
	panic(rt.NewGoError(err))
}

// stripHashbang blanks a leading #! line, keeping line numbers intact.
func stripHashbang(src string) string {
	src = strings.TrimPrefix(src, "\ufeff")
	if !strings.HasPrefix(src, "#!") {
		return src
	}
	if i := strings.IndexByte(src, '\n'); i >= 0 {
		return src[i:]
	}
	return ""
}
