// Package loader is the entry point for loading scripts: it reads a file
// (or takes source text), runs it through an executor in a fresh scope and
// hands back what the script exported, either as a return value or through
// a completion callback.
//
// Nothing is cached. Loading the same path twice reads, compiles and runs
// it twice, so a long-running host can pick up edited files or swap the
// file reader without restarting.
package loader

import (
	"context"
	"time"

	"github.com/caffeineduck/hotload/executor"
)

// Result is the outcome of one load.
type Result struct {
	Exports  executor.Exports
	Error    error
	Duration time.Duration
}

// Handle tracks a load started by Invoke or InvokeSource.
type Handle struct {
	done chan struct{}
	res  Result
}

// Done is closed once the load finished and any callback returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the load finished and returns its outcome.
func (h *Handle) Wait() Result {
	<-h.done
	return h.res
}

// Loader reads and runs scripts. It is safe for concurrent use.
type Loader struct {
	ex *executor.Executor
}

// New creates a Loader over a new executor configured by opts. The
// executor's reader (executor.WithReader) reads top-level files as well as
// nested imports.
func New(opts ...executor.Option) (*Loader, error) {
	ex, err := executor.New(opts...)
	if err != nil {
		return nil, err
	}
	return NewWithExecutor(ex), nil
}

// NewWithExecutor creates a Loader that runs scripts on ex.
func NewWithExecutor(ex *executor.Executor) *Loader {
	return &Loader{ex: ex}
}

// Executor returns the executor scripts run on.
func (l *Loader) Executor() *executor.Executor {
	return l.ex
}

// Resolve maps specifier relative to the file at currentFile. Specifiers
// that do not start with "." are returned unchanged.
func (l *Loader) Resolve(currentFile, specifier string) string {
	return executor.Resolve(currentFile, specifier)
}

// Resolve is Loader.Resolve without a loader.
func Resolve(currentFile, specifier string) string {
	return executor.Resolve(currentFile, specifier)
}

// Load reads and runs the file at path in a default scope.
func (l *Loader) Load(ctx context.Context, path string) (executor.Exports, error) {
	return l.LoadWith(ctx, path, nil)
}

// LoadWith reads and runs the file at path with scope merged over the
// default scope. Read errors are returned as the reader reported them.
func (l *Loader) LoadWith(ctx context.Context, path string, scope *executor.Scope) (executor.Exports, error) {
	res := l.load(ctx, path, newCall(scope, nil))
	return res.Exports, res.Error
}

// LoadAsync reads the file at path on a new goroutine, runs it there and
// passes the outcome to cb. The returned channel is closed after cb
// returns.
func (l *Loader) LoadAsync(ctx context.Context, path string, cb executor.Callback) <-chan struct{} {
	return l.LoadWithAsync(ctx, path, nil, cb)
}

// LoadWithAsync is LoadAsync with a caller scope.
func (l *Loader) LoadWithAsync(ctx context.Context, path string, scope *executor.Scope, cb executor.Callback) <-chan struct{} {
	h := spawn(newCall(scope, cb), func(c call) Result {
		return l.load(ctx, path, c)
	})
	return h.Done()
}

// Run runs already-read source as path in a default scope.
func (l *Loader) Run(ctx context.Context, path, source string) (executor.Exports, error) {
	return l.RunWith(ctx, path, source, nil)
}

// RunWith runs source as path with scope merged over the default scope.
func (l *Loader) RunWith(ctx context.Context, path, source string, scope *executor.Scope) (executor.Exports, error) {
	res := l.run(ctx, path, source, newCall(scope, nil))
	return res.Exports, res.Error
}

// RunCallback runs source as path and reports through cb before
// returning. The exports are also returned; on failure they are zero and
// the error only reaches cb.
func (l *Loader) RunCallback(ctx context.Context, path, source string, cb executor.Callback) executor.Exports {
	return l.RunWithCallback(ctx, path, source, nil, cb)
}

// RunWithCallback is RunCallback with a caller scope.
func (l *Loader) RunWithCallback(ctx context.Context, path, source string, scope *executor.Scope, cb executor.Callback) executor.Exports {
	res := l.run(ctx, path, source, newCall(scope, cb))
	return res.Exports
}

// Invoke loads the file at path with optional trailing arguments: a
// *executor.Scope (or nil) and/or a callback. See the package example for
// the accepted forms. Without a callback the load completes before Invoke
// returns; with one, it runs on a new goroutine and the callback receives
// the outcome.
func (l *Loader) Invoke(ctx context.Context, path string, args ...any) (*Handle, error) {
	c, err := classify(args)
	if err != nil {
		return nil, err
	}
	exec := func(c call) Result { return l.load(ctx, path, c) }
	if c.shape.async() {
		return spawn(c, exec), nil
	}
	return completed(exec(c)), nil
}

// InvokeSource is Invoke for already-read source. The source needs no
// reading, so every shape completes before InvokeSource returns.
func (l *Loader) InvokeSource(ctx context.Context, path, source string, args ...any) (*Handle, error) {
	c, err := classify(args)
	if err != nil {
		return nil, err
	}
	return completed(l.run(ctx, path, source, c)), nil
}

// spawn runs exec on a new goroutine and returns its handle.
func spawn(c call, exec func(call) Result) *Handle {
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.res = exec(c)
	}()
	return h
}

func completed(res Result) *Handle {
	h := &Handle{done: make(chan struct{}), res: res}
	close(h.done)
	return h
}

// load reads path and runs it. Read errors are delivered unchanged and
// never reach the executor.
func (l *Loader) load(ctx context.Context, path string, c call) Result {
	start := time.Now()
	l.ex.Logger().Debug("load", "path", path, "shape", c.shape)

	data, err := l.ex.Reader().ReadFile(path)
	if err != nil {
		l.ex.Logger().Debug("read failed", "path", path, "err", err)
		return deliver(c, Result{Error: err, Duration: time.Since(start)})
	}
	res := l.execute(ctx, path, string(data), c)
	res.Duration = time.Since(start)
	return deliver(c, res)
}

func (l *Loader) run(ctx context.Context, path, source string, c call) Result {
	start := time.Now()
	l.ex.Logger().Debug("run", "path", path, "shape", c.shape)

	res := l.execute(ctx, path, source, c)
	res.Duration = time.Since(start)
	return deliver(c, res)
}

func (l *Loader) execute(ctx context.Context, path, source string, c call) Result {
	exports, err := l.ex.Execute(ctx, path, source, c.scope)
	return Result{Exports: exports, Error: err}
}

// deliver hands res to the callback of c, if any. A failed result carries
// zero Exports so the callback never sees a value alongside an error.
func deliver(c call, res Result) Result {
	if res.Error != nil {
		res.Exports = executor.Exports{}
	}
	if c.cb != nil {
		c.cb(res.Exports, res.Error)
	}
	return res
}
