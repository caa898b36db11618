package executor

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// importWasm compiles and instantiates a WebAssembly module and returns an
// object holding its exported functions. Numbers cross the boundary by the
// parameter types the module declares.
//
// ctx is the run's capability context. Cancelling it aborts a call in
// progress and closes the wasm runtime, which happens when the run times out
// or fails. After a successful run ctx is never cancelled: exported functions
// keep working, and the interpreter engine holds the instance in Go memory
// only, so it is released with the goja runtime that imported it.
func (e *Executor) importWasm(ctx context.Context, rt *goja.Runtime, name string, code []byte) (goja.Value, error) {
	rtConfig := wazero.NewRuntimeConfigInterpreter().WithCloseOnContextDone(true)
	if e.cfg.wasmMemoryPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(e.cfg.wasmMemoryPages)
	}
	wrt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	context.AfterFunc(ctx, func() {
		wrt.Close(context.WithoutCancel(ctx))
	})

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, wrt); err != nil {
		wrt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	compiled, err := wrt.CompileModule(ctx, code)
	if err != nil {
		wrt.Close(ctx)
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	mod, err := wrt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions())
	if err != nil {
		wrt.Close(ctx)
		return nil, fmt.Errorf("instantiate %s: %w", name, err)
	}

	obj := rt.NewObject()
	for export, def := range compiled.ExportedFunctions() {
		fn := mod.ExportedFunction(export)
		if fn == nil {
			continue
		}
		_ = obj.Set(export, wasmFunction(ctx, rt, export, fn, def))
	}
	return obj, nil
}

func wasmFunction(ctx context.Context, rt *goja.Runtime, name string, fn api.Function, def api.FunctionDefinition) func(goja.FunctionCall) goja.Value {
	params := def.ParamTypes()
	results := def.ResultTypes()

	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) != len(params) {
			panic(rt.NewTypeError("%s expects %d arguments, got %d", name, len(params), len(call.Arguments)))
		}
		stack := make([]uint64, len(params))
		for i, t := range params {
			stack[i] = encodeWasm(t, call.Arguments[i])
		}

		out, err := fn.Call(ctx, stack...)
		if err != nil {
			panic(rt.NewGoError(fmt.Errorf("wasm %s: %w", name, err)))
		}

		switch len(out) {
		case 0:
			return goja.Undefined()
		case 1:
			return rt.ToValue(decodeWasm(results[0], out[0]))
		}
		vals := make([]any, len(out))
		for i, v := range out {
			vals[i] = decodeWasm(results[i], v)
		}
		return rt.ToValue(vals)
	}
}

func encodeWasm(t api.ValueType, v goja.Value) uint64 {
	switch t {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(v.ToInteger()))
	case api.ValueTypeI64:
		return api.EncodeI64(v.ToInteger())
	case api.ValueTypeF32:
		return api.EncodeF32(float32(v.ToFloat()))
	case api.ValueTypeF64:
		return api.EncodeF64(v.ToFloat())
	}
	return 0
}

func decodeWasm(t api.ValueType, v uint64) any {
	switch t {
	case api.ValueTypeI32:
		return api.DecodeI32(v)
	case api.ValueTypeI64:
		return int64(v)
	case api.ValueTypeF32:
		return api.DecodeF32(v)
	case api.ValueTypeF64:
		return api.DecodeF64(v)
	}
	return v
}
