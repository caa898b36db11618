package loader

import (
	"errors"
	"fmt"

	"github.com/caffeineduck/hotload/executor"
)

// ErrBadArguments is returned by Invoke when the trailing arguments match
// none of the call shapes.
var ErrBadArguments = errors.New("invalid loader arguments")

type shape int

const (
	shapeSync shape = iota
	shapeAsync
	shapeSyncScope
	shapeAsyncScope
)

func (s shape) String() string {
	switch s {
	case shapeAsync:
		return "async"
	case shapeSyncScope:
		return "sync+scope"
	case shapeAsyncScope:
		return "async+scope"
	default:
		return "sync"
	}
}

func (s shape) async() bool {
	return s == shapeAsync || s == shapeAsyncScope
}

// call is the classified form of a loader invocation.
type call struct {
	shape shape
	scope *executor.Scope
	cb    executor.Callback
}

// classify maps the optional (scope, callback) arguments onto a call
// shape. Accepted forms:
//
//	()
//	(scope)
//	(callback)
//	(scope, callback)
//
// where scope is a *executor.Scope or nil and callback is an
// executor.Callback or a func(executor.Exports, error). A callback in the
// scope position is taken as the callback, so (cb), (nil, cb) and (cb, nil)
// are the same call.
func classify(args []any) (call, error) {
	var (
		scope *executor.Scope
		cb    executor.Callback
	)

	switch len(args) {
	case 0:
	case 1:
		if fn, ok := asCallback(args[0]); ok {
			cb = fn
			break
		}
		s, ok := asScope(args[0])
		if !ok {
			return call{}, fmt.Errorf("%w: want scope or callback, got %T", ErrBadArguments, args[0])
		}
		scope = s
	case 2:
		if fn, ok := asCallback(args[0]); ok && args[1] == nil {
			cb = fn
			break
		}
		s, ok := asScope(args[0])
		if !ok {
			return call{}, fmt.Errorf("%w: want scope, got %T", ErrBadArguments, args[0])
		}
		fn, ok := asCallback(args[1])
		if !ok && args[1] != nil {
			return call{}, fmt.Errorf("%w: want callback, got %T", ErrBadArguments, args[1])
		}
		scope, cb = s, fn
	default:
		return call{}, fmt.Errorf("%w: %d arguments", ErrBadArguments, len(args))
	}
	return newCall(scope, cb), nil
}

func newCall(scope *executor.Scope, cb executor.Callback) call {
	c := call{scope: scope, cb: cb}
	switch {
	case scope == nil && cb == nil:
		c.shape = shapeSync
	case scope == nil:
		c.shape = shapeAsync
	case cb == nil:
		c.shape = shapeSyncScope
	default:
		c.shape = shapeAsyncScope
	}
	return c
}

func asCallback(v any) (executor.Callback, bool) {
	switch cb := v.(type) {
	case executor.Callback:
		return cb, cb != nil
	case func(executor.Exports, error):
		return cb, cb != nil
	}
	return nil, false
}

func asScope(v any) (*executor.Scope, bool) {
	switch s := v.(type) {
	case nil:
		return nil, true
	case *executor.Scope:
		return s, true
	}
	return nil, false
}
