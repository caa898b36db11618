// Package executor runs JavaScript source in a fresh goja runtime per call
// and returns what the script exported.
//
// # Overview
//
// Every call to [Executor.Execute] builds a new runtime, binds a [Scope]
// into it as globals, compiles the source under its file path and runs it.
// Nothing survives between calls: compiled programs, globals and nested
// modules are rebuilt each time, so edited files take effect on the next
// call without restarting the host.
//
// # Basic Usage
//
//	ex, err := executor.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	exports, err := ex.Execute(ctx, "/app/greet.js", `module.exports = "hi"`, nil)
//	if err != nil {
//	    log.Fatal(err) // "boom" in `/app/greet.js`
//	}
//	fmt.Println(exports.Export())
//
// # Scope
//
// A script sees exactly the capabilities of its scope: require,
// __filePath, console, exports, module and any extra Globals. Fields the
// caller leaves unset are filled by [Merge] from [Executor.DefaultScope].
// A [HostContainer] lets the host share export state between runs on
// purpose; the default containers are fresh every time.
//
// # Imports
//
// require resolves relative specifiers against the requiring file
// ([Resolve]) and loads .js files CommonJS style, .json files as data and
// .wasm files through wazero. Bare names are served by builtins registered
// with [WithBuiltin] or [WithHostModule].
//
//	reg := hostfunc.NewRegistry()
//	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(reg)
//	ex, _ := executor.New(executor.WithHostModule("kv", reg))
package executor
