// Package hostfunc provides Go functions that loaded scripts can call.
//
// Scripts have no implicit access to the host. Each capability is a
// [Registry] of named [Func] values that the executor exposes as a module:
//
//	reg := hostfunc.NewRegistry()
//	reg.Register("now", func(ctx context.Context, args map[string]any) (any, error) {
//	    return time.Now().Unix(), nil
//	})
//	ex, _ := executor.New(executor.WithHostModule("clock", reg))
//
// and in the script:
//
//	const clock = require("clock");
//	module.exports = clock.now();
//
// # Filesystem
//
// [FS] maps virtual paths onto host directories through [Mount] points
// with a [MountMode]. Besides its host functions it implements ReadFile,
// so a loader can read module sources through the same mounts:
//
//	fsys := hostfunc.NewFS(hostfunc.Mount{VirtualPath: "/data", HostPath: "./input"})
//	fsys.Register(reg)
//
// # Key-Value Store
//
// [KVStore] is an in-memory store bounded by [KVConfig]. Every run that is
// given the same store sees the same data; nothing else is shared between
// runs.
//
//	kv := hostfunc.NewKV(hostfunc.DefaultKVConfig())
//	kv.Register(reg)
//
// # HTTP
//
// [HTTP] sends requests only to [HTTPConfig.AllowedHosts] and their
// subdomains. With no allowed hosts every request is refused.
package hostfunc
