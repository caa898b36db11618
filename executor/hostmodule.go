package executor

import (
	"context"
	"fmt"

	"github.com/caffeineduck/hotload/hostfunc"
	"github.com/dop251/goja"
)

// HostModule exposes the functions of reg as a module object. Each method
// takes one optional object argument that becomes the args map of the host
// function; host errors are thrown into the script.
func HostModule(reg *hostfunc.Registry) ModuleFunc {
	return func(ctx context.Context, rt *goja.Runtime) (goja.Value, error) {
		obj := rt.NewObject()
		for _, name := range reg.List() {
			fn, ok := reg.Get(name)
			if !ok {
				continue
			}
			if err := obj.Set(name, hostMethod(ctx, rt, name, fn)); err != nil {
				return nil, fmt.Errorf("bind host function %s: %w", name, err)
			}
		}
		return obj, nil
	}
}

func hostMethod(ctx context.Context, rt *goja.Runtime, name string, fn hostfunc.Func) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make(map[string]any)
		if a := call.Argument(0); !goja.IsUndefined(a) && !goja.IsNull(a) {
			if err := rt.ExportTo(a, &args); err != nil {
				panic(rt.NewTypeError("%s: arguments must be an object", name))
			}
		}
		res, err := fn(ctx, args)
		if err != nil {
			panic(rt.NewGoError(fmt.Errorf("%s: %w", name, err)))
		}
		return rt.ToValue(res)
	}
}
