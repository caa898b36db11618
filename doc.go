// Package hotload loads JavaScript files on demand, without a module cache.
//
// # Overview
//
// Every load reads the file, compiles it and runs it in a fresh scope, so a
// long-running Go program always sees the current contents of a script and
// of everything it requires. Scripts see CommonJS-style require, exports and
// module.exports, console, __filename and __dirname, plus any capabilities
// the host adds.
//
// # Basic Usage
//
//	l, _ := loader.New()
//
//	// Load a file and read what it exported
//	exports, err := l.Load(ctx, "/srv/handlers/greet.js")
//	fmt.Println(exports.Get("greeting"))
//
//	// Run source text as if it were a file
//	exports, err = l.Run(ctx, "/srv/inline.js", `module.exports = 6 * 7`)
//
//	// Completion callback on a new goroutine
//	<-l.LoadAsync(ctx, "/srv/slow.js", func(e executor.Exports, err error) {
//	    ...
//	})
//
// # Enabling Capabilities
//
//	// Host modules, reachable with require("kv")
//	reg := hostfunc.NewRegistry()
//	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(reg)
//	l, _ := loader.New(executor.WithHostModule("kv", reg))
//
//	// Extra globals
//	l, _ := loader.New(executor.WithGlobal("env", "staging"))
//
//	// Read scripts from mounted directories only
//	fs := hostfunc.NewFS(hostfunc.Mount{VirtualPath: "/app", HostPath: "./scripts"})
//	l, _ := loader.New(executor.WithReader(fs))
//
// See the [loader], [executor] and [hostfunc] packages for detailed API
// documentation, and cmd/hotload for the command-line tool.
package hotload
