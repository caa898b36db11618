package executor

import (
	"context"

	"github.com/dop251/goja"
)

// RequireFunc is the import capability a script sees as require(). It
// receives the runtime the calling script runs in and must return a value
// that belongs to that runtime.
type RequireFunc func(ctx context.Context, rt *goja.Runtime, specifier string) (goja.Value, error)

// Container is an export surface shared between the host and a script.
//
// A Container created with NewContainer becomes a plain script object the
// first time a run binds it. A Container created with HostContainer is
// backed by a Go map: scripts write straight into it, so the host can read
// what a run left behind and hand the same map to later runs.
type Container struct {
	props map[string]any
}

// NewContainer returns a container that is materialized as a fresh script
// object in every run that binds it.
func NewContainer() *Container {
	return &Container{}
}

// HostContainer returns a container backed by m. A nil m is replaced by an
// empty map.
func HostContainer(m map[string]any) *Container {
	if m == nil {
		m = make(map[string]any)
	}
	return &Container{props: m}
}

// Props returns the backing map of a host container, or nil for a native one.
func (c *Container) Props() map[string]any {
	return c.props
}

// Module is the `module` object of a script.
type Module struct {
	// Exports is bound as module.exports. When nil after merging it is
	// aliased to the scope's top-level exports container.
	Exports *Container
}

// Scope is the execution context of a script: everything it holds is
// visible to the script as a global, and nothing else is.
//
// A nil or empty field means the caller did not provide that capability;
// Merge fills such fields from the default scope and leaves every other
// field alone.
type Scope struct {
	// Require is bound as require.
	Require RequireFunc
	// FilePath is the identity of the running file, bound as __filePath and
	// __filename. __dirname is derived from it.
	FilePath string
	// Console is bound as console.
	Console Console
	// Exports is bound as exports.
	Exports *Container
	// Module is bound as module.
	Module *Module
	// Globals holds any further capabilities, bound under their own names.
	// An entry named like one of the fields above is shadowed by that field.
	Globals map[string]any
}

// reserved names are owned by the typed Scope fields.
var reserved = map[string]bool{
	"require":    true,
	"__filePath": true,
	"__filename": true,
	"__dirname":  true,
	"console":    true,
	"exports":    true,
	"module":     true,
}

// Merge fills the capabilities user left unset from defaults and returns
// user. Values the caller provided are never replaced. When user is nil the
// defaults are returned untouched.
func Merge(user, defaults *Scope) *Scope {
	if user == nil {
		return defaults
	}
	if user.Module == nil {
		user.Module = defaults.Module
	}
	if user.Exports == nil {
		user.Exports = defaults.Exports
	}
	if user.Module != nil && user.Module.Exports == nil {
		user.Module.Exports = user.Exports
	}

	if user.Require == nil {
		user.Require = defaults.Require
	}
	if user.FilePath == "" {
		user.FilePath = defaults.FilePath
	}
	if user.Console == nil {
		user.Console = defaults.Console
	}
	for name, v := range defaults.Globals {
		if _, ok := user.Globals[name]; ok {
			continue
		}
		if user.Globals == nil {
			user.Globals = make(map[string]any, len(defaults.Globals))
		}
		user.Globals[name] = v
	}
	return user
}
