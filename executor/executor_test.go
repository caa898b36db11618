package executor_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/hotload/executor"
	"github.com/caffeineduck/hotload/hostfunc"
	"github.com/dop251/goja"
)

// addWasm exports add(i32, i32) i32.
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

// spinWasm exports spin(), which never returns.
var spinWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x08, 0x01, 0x04, 's', 'p', 'i', 'n', 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b,
}

type capture struct {
	mu    sync.Mutex
	lines []string
}

func (c *capture) Print(level executor.Level, msg string) {
	c.mu.Lock()
	c.lines = append(c.lines, level.String()+": "+msg)
	c.mu.Unlock()
}

func (c *capture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.lines)
}

func newExecutor(t *testing.T, opts ...executor.Option) *executor.Executor {
	t.Helper()
	opts = append([]executor.Option{executor.WithConsole(&capture{})}, opts...)
	ex, err := executor.New(opts...)
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	return ex
}

// writeScripts writes name -> source pairs into a temp dir and returns it.
func writeScripts(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func execFile(t *testing.T, ex *executor.Executor, path string) (executor.Exports, error) {
	t.Helper()
	src, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return ex.Execute(context.Background(), path, string(src), nil)
}

// =============================================================================
// EXPORTS
// =============================================================================

func TestExecuteModuleExports(t *testing.T) {
	ex := newExecutor(t)

	exports, err := ex.Execute(context.Background(), "/app/a.js", `module.exports = 42`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := exports.Export(); got != int64(42) {
		t.Errorf("expected 42, got %v (%T)", got, got)
	}
}

func TestExecuteExportsProperty(t *testing.T) {
	ex := newExecutor(t)

	exports, err := ex.Execute(context.Background(), "/app/a.js", `exports.a = 1`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := exports.Get("a").Export(); got != int64(1) {
		t.Errorf("expected a=1, got %v", got)
	}
	if keys := exports.Keys(); !slices.Equal(keys, []string{"a"}) {
		t.Errorf("expected keys [a], got %v", keys)
	}
}

func TestExtractRules(t *testing.T) {
	ex := newExecutor(t)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"exports wins over module.exports", `exports.a = 1; module.exports = {b: 2}`, `{"a":1}`},
		{"module.exports when exports untouched", `module.exports = {b: 2}`, `{"b":2}`},
		{"reassigned exports string", `exports = "s"; module.exports = "m"`, `"s"`},
		{"empty string falls back", `exports = ""; module.exports = "m"`, `"m"`},
		{"undefined falls back", `exports = undefined; module.exports = 7`, `7`},
		{"number counts as empty", `exports = 5; module.exports = 7`, `7`},
		{"boolean counts as empty", `exports = true; module.exports = "m"`, `"m"`},
		{"empty object falls back", `exports = {}; module.exports = [1]`, `[1]`},
		{"nothing exported", ``, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exports, err := ex.Execute(context.Background(), "/app/x.js", tt.src, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := exports.MarshalJSON()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestExportedFunction(t *testing.T) {
	ex := newExecutor(t)

	exports, err := ex.Execute(context.Background(), "/app/f.js", `exports = function (a, b) { return a + b }`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exports.IsFunction() {
		t.Fatal("expected a function export")
	}
	res, err := exports.Call(2, 3)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if res.Export() != int64(5) {
		t.Errorf("expected 5, got %v", res.Export())
	}
	if exports.String() != "[Function]" {
		t.Errorf("unexpected String(): %s", exports.String())
	}

	if _, err := exports.Get("nope").Call(); !errors.Is(err, executor.ErrNotFunction) {
		t.Errorf("expected ErrNotFunction, got %v", err)
	}
}

func TestExportsExportTo(t *testing.T) {
	ex := newExecutor(t)

	exports, err := ex.Execute(context.Background(), "/app/cfg.js", `module.exports = {Name: "svc", Port: 8080}`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var cfg struct {
		Name string
		Port int
	}
	if err := exports.ExportTo(&cfg); err != nil {
		t.Fatalf("ExportTo: %v", err)
	}
	if cfg.Name != "svc" || cfg.Port != 8080 {
		t.Errorf("unexpected export %+v", cfg)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

func TestExecuteThrownError(t *testing.T) {
	ex := newExecutor(t)

	_, err := ex.Execute(context.Background(), "/app/boom.js", `throw new Error("boom")`, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "\"boom\" in `/app/boom.js`"; err.Error() != want {
		t.Errorf("expected %s, got %s", want, err.Error())
	}

	var se *executor.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ScriptError, got %T", err)
	}
	if se.Path != "/app/boom.js" || se.Message != "boom" {
		t.Errorf("unexpected ScriptError %+v", se)
	}
	if !strings.Contains(se.Stack, "boom.js") {
		t.Errorf("expected stack to mention the file, got %q", se.Stack)
	}
}

func TestExecuteThrownValue(t *testing.T) {
	ex := newExecutor(t)

	_, err := ex.Execute(context.Background(), "/app/str.js", `throw "plain"`, nil)
	if err == nil || err.Error() != "\"plain\" in `/app/str.js`" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExecuteSyntaxError(t *testing.T) {
	ex := newExecutor(t)

	_, err := ex.Execute(context.Background(), "/app/bad.js", `module.exports = {`, nil)
	var se *executor.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ScriptError, got %v", err)
	}
	if se.Path != "/app/bad.js" || se.Message == "" {
		t.Errorf("unexpected ScriptError %+v", se)
	}
	if !strings.HasSuffix(err.Error(), "in `/app/bad.js`") {
		t.Errorf("expected message to name the file, got %s", err)
	}
}

func TestExecuteCallback(t *testing.T) {
	ex := newExecutor(t)
	ctx := context.Background()

	var calls int
	var got executor.Exports
	ret := ex.ExecuteCallback(ctx, "/app/ok.js", `module.exports = "ok"`, nil, func(e executor.Exports, err error) {
		calls++
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		got = e
	})
	if calls != 1 {
		t.Fatalf("expected one callback, got %d", calls)
	}
	if got.Export() != "ok" || ret.Export() != "ok" {
		t.Errorf("expected ok from callback and return, got %v / %v", got.Export(), ret.Export())
	}

	calls = 0
	ret = ex.ExecuteCallback(ctx, "/app/fail.js", `throw new Error("nope")`, nil, func(e executor.Exports, err error) {
		calls++
		if err == nil || !strings.Contains(err.Error(), "nope") {
			t.Errorf("expected nope error, got %v", err)
		}
		if !e.IsUndefined() {
			t.Errorf("expected no value alongside the error, got %v", e.Export())
		}
	})
	if calls != 1 {
		t.Fatalf("expected one callback, got %d", calls)
	}
	if !ret.IsUndefined() {
		t.Errorf("expected zero Exports on failure, got %v", ret.Export())
	}
}

// =============================================================================
// SCOPE
// =============================================================================

func TestDefaultScopeGlobals(t *testing.T) {
	ex := newExecutor(t)

	exports, err := ex.Execute(context.Background(), "/srv/app/main.js", `
		module.exports = {
			filePath: __filePath,
			filename: __filename,
			dirname: __dirname,
			aliased: module.exports === exports,
			hasRequire: typeof require === "function",
			hasConsole: typeof console.log === "function",
		}`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := exports.Export().(map[string]any)
	want := map[string]any{
		"filePath":   "/srv/app/main.js",
		"filename":   "/srv/app/main.js",
		"dirname":    "/srv/app",
		"aliased":    true,
		"hasRequire": true,
		"hasConsole": true,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, got[k])
		}
	}
}

func TestFreshScopePerRun(t *testing.T) {
	ex := newExecutor(t)
	src := `globalThis.counter = (globalThis.counter || 0) + 1; exports.n = counter`

	for i := range 3 {
		exports, err := ex.Execute(context.Background(), "/app/count.js", src, nil)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if n := exports.Get("n").Export(); n != int64(1) {
			t.Errorf("run %d: expected a fresh counter, got %v", i, n)
		}
	}
}

func TestSharedHostContainer(t *testing.T) {
	ex := newExecutor(t)
	state := map[string]any{}
	src := `shared.n = (shared.n || 0) + 1; module.exports = shared.n`

	for i := 1; i <= 3; i++ {
		scope := &executor.Scope{Globals: map[string]any{"shared": state}}
		exports, err := ex.Execute(context.Background(), "/app/shared.js", src, scope)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if exports.Export() != int64(i) {
			t.Errorf("run %d: expected %d, got %v", i, i, exports.Export())
		}
	}
	if state["n"] != int64(3) {
		t.Errorf("expected host map to hold 3, got %v", state["n"])
	}
}

func TestUserScope(t *testing.T) {
	ex := newExecutor(t)
	out := map[string]any{}
	scope := &executor.Scope{
		Exports: executor.HostContainer(out),
		Globals: map[string]any{
			"greeting": "hello",
			"console":  "shadowed",
		},
	}

	exports, err := ex.Execute(context.Background(), "/app/user.js", `
		exports.msg = greeting;
		exports.same = module.exports === exports;
		exports.consoleType = typeof console.log;`, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out["msg"] != "hello" || out["same"] != true {
		t.Errorf("expected writes in host container, got %v", out)
	}
	if out["consoleType"] != "function" {
		t.Errorf("typed console must win over a global of the same name, got %v", out["consoleType"])
	}
	if exports.Get("msg").Export() != "hello" {
		t.Errorf("expected exports to be the host container")
	}
	if scope.Module == nil || scope.Module.Exports != scope.Exports {
		t.Errorf("expected merge to alias module.exports to exports")
	}
	if scope.FilePath != "/app/user.js" || scope.Console == nil || scope.Require == nil {
		t.Errorf("expected merge to fill unset capabilities, got %+v", scope)
	}
}

func TestCustomRequire(t *testing.T) {
	ex := newExecutor(t)
	var asked []string
	scope := &executor.Scope{
		Require: func(ctx context.Context, rt *goja.Runtime, specifier string) (goja.Value, error) {
			asked = append(asked, specifier)
			return rt.ToValue("stub:" + specifier), nil
		},
	}

	exports, err := ex.Execute(context.Background(), "/app/a.js", `module.exports = require("./b")`, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exports.Export() != "stub:./b" {
		t.Errorf("expected stub value, got %v", exports.Export())
	}
	if !slices.Equal(asked, []string{"./b"}) {
		t.Errorf("expected the raw specifier, got %v", asked)
	}
}

func TestWithGlobal(t *testing.T) {
	ex := newExecutor(t, executor.WithGlobal("env", "prod"), executor.WithGlobal("module", "ignored"))

	exports, err := ex.Execute(context.Background(), "/app/env.js", `exports.env = env; exports.mod = typeof module`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exports.Get("env").Export() != "prod" || exports.Get("mod").Export() != "object" {
		t.Errorf("unexpected globals: %s", exports)
	}

	scope := &executor.Scope{Globals: map[string]any{"env": "dev"}}
	exports, err = ex.Execute(context.Background(), "/app/env.js", `exports.env = env`, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exports.Get("env").Export() != "dev" {
		t.Errorf("expected caller global to win, got %v", exports.Get("env").Export())
	}
}

func TestWithGlobalIsolatedPerRun(t *testing.T) {
	ex := newExecutor(t, executor.WithGlobal("cfg", map[string]any{
		"nested": map[string]any{},
		"list":   []any{0},
	}))
	src := `cfg.count = (cfg.count || 0) + 1;
		cfg.nested.count = (cfg.nested.count || 0) + 1;
		cfg.list[0] = cfg.list[0] + 1;
		module.exports = [cfg.count, cfg.nested.count, cfg.list[0]]`

	for i := range 2 {
		exports, err := ex.Execute(context.Background(), "/app/cfg.js", src, nil)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if got := fmt.Sprint(exports.Export()); got != "[1 1 1]" {
			t.Errorf("run %d: expected [1 1 1], got %s", i, got)
		}
	}
}

func TestWithGlobalConcurrentRuns(t *testing.T) {
	ex := newExecutor(t, executor.WithGlobal("cfg", map[string]any{}))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			exports, err := ex.Execute(context.Background(), "/app/cfg.js",
				`cfg["k" + n] = 1; module.exports = Object.keys(cfg).length`,
				&executor.Scope{Globals: map[string]any{"n": n}})
			if err != nil {
				errs <- err
				return
			}
			if exports.Export() != int64(1) {
				errs <- fmt.Errorf("run %d saw %v keys", n, exports.Export())
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// =============================================================================
// IMPORTS
// =============================================================================

func TestRequireRelative(t *testing.T) {
	dir := writeScripts(t, map[string]string{
		"main.js":     `module.exports = require("./lib/math.js").twice(21)`,
		"lib/math.js": `const base = require("../base.json"); exports.twice = function (n) { return n * base.factor }`,
		"base.json":   `{"factor": 2}`,
	})
	ex := newExecutor(t)

	exports, err := execFile(t, ex, filepath.Join(dir, "main.js"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exports.Export() != int64(42) {
		t.Errorf("expected 42, got %v", exports.Export())
	}
}

func TestRequireNotCached(t *testing.T) {
	dir := writeScripts(t, map[string]string{
		"main.js": `module.exports = require("./lib.js") !== require("./lib.js")`,
		"lib.js":  `module.exports = {}`,
	})
	ex := newExecutor(t)

	exports, err := execFile(t, ex, filepath.Join(dir, "main.js"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exports.Export() != true {
		t.Error("expected every require to produce a fresh module")
	}
}

func TestRequireNestedScopeIsolation(t *testing.T) {
	dir := writeScripts(t, map[string]string{
		"main.js":    `exports.own = __filename; exports.lib = require("./sub/lib.js")`,
		"sub/lib.js": `module.exports = {file: __filename, dir: __dirname}`,
	})
	ex := newExecutor(t)

	main := filepath.Join(dir, "main.js")
	exports, err := execFile(t, ex, main)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exports.Get("own").Export() != main {
		t.Errorf("expected main identity, got %v", exports.Get("own").Export())
	}
	lib := exports.Get("lib")
	if lib.Get("file").Export() != filepath.Join(dir, "sub", "lib.js") {
		t.Errorf("unexpected nested identity %v", lib.Get("file").Export())
	}
	if lib.Get("dir").Export() != filepath.Join(dir, "sub") {
		t.Errorf("unexpected nested dirname %v", lib.Get("dir").Export())
	}
}

func TestRequireWasm(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "add.wasm"), addWasm, 0o644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "main.js")
	if err := os.WriteFile(main, []byte(`const m = require("./add.wasm"); exports.sum = m.add(2, 3); exports.add = m.add`), 0o644); err != nil {
		t.Fatal(err)
	}
	ex := newExecutor(t, executor.WithWasmMemoryLimit(executor.MemoryLimit1MB))

	exports, err := execFile(t, ex, main)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exports.Get("sum").Export() != int64(5) {
		t.Errorf("expected 5, got %v", exports.Get("sum").Export())
	}

	// The instance outlives the run that imported it.
	res, err := exports.Get("add").Call(40, 2)
	if err != nil {
		t.Fatalf("call after run: %v", err)
	}
	if res.Export() != int64(42) {
		t.Errorf("expected 42, got %v", res.Export())
	}

	if _, err := exports.Get("add").Call(1); err == nil {
		t.Error("expected an arity error")
	}
}

func TestRequireWasmTimeout(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "spin.wasm"), spinWasm, 0o644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "main.js")
	if err := os.WriteFile(main, []byte(`require("./spin.wasm").spin()`), 0o644); err != nil {
		t.Fatal(err)
	}
	ex := newExecutor(t, executor.WithTimeout(100*time.Millisecond))

	start := time.Now()
	if _, err := execFile(t, ex, main); err == nil {
		t.Fatal("expected the timeout to stop the wasm call")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("wasm call took too long to stop: %v", elapsed)
	}
}

func TestRequireErrors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		opts    []executor.Option
		wantErr error
	}{
		{
			name:    "missing file",
			files:   map[string]string{"main.js": `require("./nope.js")`},
			wantErr: executor.ErrModuleNotFound,
		},
		{
			name:    "unknown builtin",
			files:   map[string]string{"main.js": `require("left-pad")`},
			wantErr: executor.ErrModuleNotFound,
		},
		{
			name: "cycle",
			files: map[string]string{
				"main.js": `require("./a.js")`,
				"a.js":    `require("./b.js")`,
				"b.js":    `require("./a.js")`,
			},
			wantErr: executor.ErrImportCycle,
		},
		{
			name: "self import",
			files: map[string]string{
				"main.js": `require("./main.js")`,
			},
			wantErr: executor.ErrImportCycle,
		},
		{
			name: "too deep",
			files: map[string]string{
				"main.js": `require("./a.js")`,
				"a.js":    `require("./b.js")`,
				"b.js":    `require("./c.js")`,
				"c.js":    `module.exports = 1`,
			},
			opts:    []executor.Option{executor.WithMaxImportDepth(2)},
			wantErr: executor.ErrImportDepth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeScripts(t, tt.files)
			ex := newExecutor(t, tt.opts...)

			_, err := execFile(t, ex, filepath.Join(dir, "main.js"))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			var se *executor.ScriptError
			if !errors.As(err, &se) || se.Path != filepath.Join(dir, "main.js") {
				t.Errorf("expected a ScriptError naming main.js, got %v", err)
			}
		})
	}
}

func TestRequireDepthWithinLimit(t *testing.T) {
	dir := writeScripts(t, map[string]string{
		"main.js": `module.exports = require("./a.js")`,
		"a.js":    `module.exports = require("./b.js")`,
		"b.js":    `module.exports = require("./c.js")`,
		"c.js":    `module.exports = "deep"`,
	})
	ex := newExecutor(t, executor.WithMaxImportDepth(3))

	exports, err := execFile(t, ex, filepath.Join(dir, "main.js"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exports.Export() != "deep" {
		t.Errorf("expected deep, got %v", exports.Export())
	}
}

func TestRequireErrorCatchable(t *testing.T) {
	ex := newExecutor(t)

	exports, err := ex.Execute(context.Background(), "/app/main.js",
		`try { require("missing") } catch (e) { module.exports = e.message }`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg, _ := exports.Export().(string); !strings.Contains(msg, "module not found") {
		t.Errorf("expected module not found message, got %q", msg)
	}
}

func TestRequireNestedThrowPropagates(t *testing.T) {
	dir := writeScripts(t, map[string]string{
		"main.js": `require("./bad.js")`,
		"bad.js":  `throw new Error("inner failure")`,
	})
	ex := newExecutor(t)

	_, err := execFile(t, ex, filepath.Join(dir, "main.js"))
	var se *executor.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
	if se.Message != "inner failure" {
		t.Errorf("expected the nested message, got %q", se.Message)
	}
}

func TestVirtualReader(t *testing.T) {
	dir := writeScripts(t, map[string]string{
		"lib.js": `module.exports = "from mount"`,
	})
	fsys := hostfunc.NewFS(hostfunc.Mount{VirtualPath: "/src", HostPath: dir})
	ex := newExecutor(t, executor.WithReader(fsys))

	exports, err := ex.Execute(context.Background(), "/src/main.js", `module.exports = require("./lib.js")`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exports.Export() != "from mount" {
		t.Errorf("expected module read through the mount, got %v", exports.Export())
	}
}

// =============================================================================
// BUILTINS
// =============================================================================

func TestHostModule(t *testing.T) {
	reg := hostfunc.NewRegistry()
	reg.Register("greet", func(ctx context.Context, args map[string]any) (any, error) {
		name, _ := args["name"].(string)
		return "Hello, " + name + "!", nil
	})
	reg.Register("fail", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("host said no")
	})
	ex := newExecutor(t, executor.WithHostModule("host", reg))

	exports, err := ex.Execute(context.Background(), "/app/host.js", `
		const host = require("host");
		exports.greeting = host.greet({name: "go"});
		try { host.fail() } catch (e) { exports.failure = e.message }`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := exports.Get("greeting").Export(); got != "Hello, go!" {
		t.Errorf("expected greeting, got %v", got)
	}
	if got, _ := exports.Get("failure").Export().(string); !strings.Contains(got, "host said no") {
		t.Errorf("expected host error message, got %q", got)
	}
}

func TestHostModuleKV(t *testing.T) {
	reg := hostfunc.NewRegistry()
	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(reg)
	ex := newExecutor(t, executor.WithHostModule("kv", reg))
	src := `const kv = require("kv");
		kv.set({key: "hits", value: kv.get({key: "hits", default: 0}) + 1});
		module.exports = kv.get({key: "hits"})`

	for i := 1; i <= 2; i++ {
		exports, err := ex.Execute(context.Background(), "/app/kv.js", src, nil)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if exports.Export() != int64(i) {
			t.Errorf("run %d: expected %d, got %v", i, i, exports.Export())
		}
	}
}

func TestHostModuleAfterRun(t *testing.T) {
	reg := hostfunc.NewRegistry()
	reg.Register("ping", func(ctx context.Context, args map[string]any) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return "pong", nil
	})
	ex := newExecutor(t, executor.WithTimeout(time.Second), executor.WithHostModule("h", reg))

	ctx, cancel := context.WithCancel(context.Background())
	exports, err := ex.Execute(ctx, "/app/late.js",
		`const h = require("h"); module.exports = function () { return h.ping() }`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()

	res, err := exports.Call()
	if err != nil {
		t.Fatalf("call after run: %v", err)
	}
	if res.Export() != "pong" {
		t.Errorf("expected pong, got %v", res.Export())
	}
}

func TestHostModuleCanceledDuringRun(t *testing.T) {
	reg := hostfunc.NewRegistry()
	reg.Register("wait", func(ctx context.Context, args map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ex := newExecutor(t, executor.WithTimeout(50*time.Millisecond), executor.WithHostModule("h", reg))

	start := time.Now()
	if _, err := ex.Execute(context.Background(), "/app/wait.js", `require("h").wait()`, nil); err == nil {
		t.Fatal("expected the run to fail")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("host call outlived the timeout: %v", elapsed)
	}
}

func TestBuiltinRebuiltPerRequire(t *testing.T) {
	var builds int
	ex := newExecutor(t, executor.WithBuiltin("answer", func(ctx context.Context, rt *goja.Runtime) (goja.Value, error) {
		builds++
		obj := rt.NewObject()
		_ = obj.Set("value", 42)
		return obj, nil
	}))

	exports, err := ex.Execute(context.Background(), "/app/b.js",
		`module.exports = require("answer").value + require("answer").value`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exports.Export() != int64(84) || builds != 2 {
		t.Errorf("expected 84 from two builds, got %v from %d", exports.Export(), builds)
	}
}

func TestNewValidation(t *testing.T) {
	for name, opt := range map[string]executor.Option{
		"zero depth":    executor.WithMaxImportDepth(0),
		"relative name": executor.WithBuiltin("./x", nil),
		"absolute name": executor.WithBuiltin("/x", nil),
		"nil console":   executor.WithConsole(nil),
		"nil reader":    executor.WithReader(nil),
	} {
		if _, err := executor.New(opt); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// =============================================================================
// CONSOLE
// =============================================================================

func TestConsole(t *testing.T) {
	out := &capture{}
	ex := newExecutor(t, executor.WithConsole(out))

	_, err := ex.Execute(context.Background(), "/app/c.js", `
		console.log("a", 1, {b: 2});
		console.info("fn", function () {});
		console.warn("careful");
		console.error(new Error("bad"));`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		`log: a 1 {"b":2}`,
		`info: fn [Function]`,
		`warn: careful`,
		`error: Error: bad`,
	}
	if got := out.Lines(); !slices.Equal(got, want) {
		t.Errorf("unexpected console output:\n got %q\nwant %q", got, want)
	}
}

func TestWriterConsole(t *testing.T) {
	var stdout, stderr strings.Builder
	c := executor.WriterConsole(&stdout, &stderr)

	c.Print(executor.LevelLog, "one")
	c.Print(executor.LevelInfo, "two")
	c.Print(executor.LevelWarn, "three")
	c.Print(executor.LevelError, "four")

	if stdout.String() != "one\ntwo\n" {
		t.Errorf("unexpected stdout %q", stdout.String())
	}
	if stderr.String() != "three\nfour\n" {
		t.Errorf("unexpected stderr %q", stderr.String())
	}
}

// =============================================================================
// LIMITS
// =============================================================================

func TestTimeoutInterrupts(t *testing.T) {
	ex := newExecutor(t, executor.WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := ex.Execute(context.Background(), "/app/loop.js", `for (;;) {}`, nil)
	if !errors.Is(err, executor.ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the deadline as cause, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("interrupt took too long: %v", elapsed)
	}
}

func TestCanceledContext(t *testing.T) {
	ex := newExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Execute(ctx, "/app/a.js", `module.exports = 1`, nil)
	if !errors.Is(err, executor.ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected interrupted by cancellation, got %v", err)
	}
}

func TestMaxCallStackSize(t *testing.T) {
	ex := newExecutor(t, executor.WithMaxCallStackSize(64))

	_, err := ex.Execute(context.Background(), "/app/rec.js", `function f(n) { return f(n + 1) } f(0)`, nil)
	if err == nil {
		t.Error("expected stack overflow")
	}
}

func TestHashbang(t *testing.T) {
	ex := newExecutor(t)

	exports, err := ex.Execute(context.Background(), "/app/cli.js", "#!/usr/bin/env node\nmodule.exports = 1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exports.Export() != int64(1) {
		t.Errorf("expected 1, got %v", exports.Export())
	}
}

func TestConcurrentExecute(t *testing.T) {
	ex := newExecutor(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			exports, err := ex.Execute(context.Background(), "/app/c.js", `module.exports = n * 2`,
				&executor.Scope{Globals: map[string]any{"n": n}})
			if err != nil {
				errs <- err
				return
			}
			if exports.Export() != int64(n*2) {
				errs <- errors.New("wrong result")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
