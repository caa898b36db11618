package executor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// ErrNotFunction is returned by Exports.Call when the value is not callable.
var ErrNotFunction = errors.New("exported value is not a function")

// Exports is the value a script exported. It stays attached to the runtime
// that produced it, so exported functions remain callable after the run.
// The zero value is undefined.
type Exports struct {
	rt    *goja.Runtime
	value goja.Value
}

// Value returns the raw script value.
func (e Exports) Value() goja.Value {
	if e.value == nil {
		return goja.Undefined()
	}
	return e.value
}

// Runtime returns the runtime the value belongs to, or nil for the zero value.
func (e Exports) Runtime() *goja.Runtime {
	return e.rt
}

// IsUndefined reports whether nothing was exported.
func (e Exports) IsUndefined() bool {
	return e.value == nil || goja.IsUndefined(e.value)
}

// IsFunction reports whether the value is callable.
func (e Exports) IsFunction() bool {
	if e.value == nil {
		return false
	}
	_, ok := goja.AssertFunction(e.value)
	return ok
}

// Export converts the value to a plain Go value (see goja.Value.Export).
func (e Exports) Export() any {
	if e.value == nil {
		return nil
	}
	return e.value.Export()
}

// ExportTo converts the value into target, which must be a pointer.
func (e Exports) ExportTo(target any) error {
	if e.rt == nil {
		return errors.New("export undefined value")
	}
	return e.rt.ExportTo(e.value, target)
}

// Get returns a property of an exported object. Missing properties and
// non-object values yield undefined.
func (e Exports) Get(name string) Exports {
	obj, ok := e.value.(*goja.Object)
	if !ok {
		return Exports{rt: e.rt}
	}
	return Exports{rt: e.rt, value: obj.Get(name)}
}

// Keys returns the own enumerable property names of an exported object.
func (e Exports) Keys() []string {
	obj, ok := e.value.(*goja.Object)
	if !ok {
		return nil
	}
	return obj.Keys()
}

// Call invokes an exported function with args converted to script values.
// A script exception is returned as an error.
func (e Exports) Call(args ...any) (Exports, error) {
	if e.value == nil {
		return Exports{}, ErrNotFunction
	}
	fn, ok := goja.AssertFunction(e.value)
	if !ok {
		return Exports{}, ErrNotFunction
	}
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = e.rt.ToValue(a)
	}
	res, err := fn(goja.Undefined(), vals...)
	if err != nil {
		return Exports{}, err
	}
	return Exports{rt: e.rt, value: res}, nil
}

// MarshalJSON encodes the value with the runtime's own JSON.stringify, so
// script objects keep their property order. Values that have no JSON form
// (undefined, functions) encode as null.
func (e Exports) MarshalJSON() ([]byte, error) {
	if e.rt == nil || e.IsUndefined() {
		return []byte("null"), nil
	}
	s, ok, err := stringify(e.rt, e.value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []byte("null"), nil
	}
	return []byte(s), nil
}

// String formats the value for display.
func (e Exports) String() string {
	switch {
	case e.IsUndefined():
		return "undefined"
	case e.IsFunction():
		return "[Function]"
	}
	if _, ok := e.value.(*goja.Object); ok {
		if b, err := e.MarshalJSON(); err == nil {
			return string(b)
		}
	}
	return e.value.String()
}

var _ json.Marshaler = Exports{}

// Extract picks the value a finished run exported. A non-empty top-level
// exports wins; otherwise module.exports is returned.
//
// Non-empty means a non-empty string, a function, or an object with at
// least one own enumerable property. An exports reassigned to "" or
// undefined therefore counts as no export at all.
func Extract(rt *goja.Runtime) Exports {
	if v := rt.Get("exports"); exportsNonEmpty(v) {
		return Exports{rt: rt, value: v}
	}
	module, ok := rt.Get("module").(*goja.Object)
	if !ok {
		return Exports{rt: rt}
	}
	return Exports{rt: rt, value: module.Get("exports")}
}

func exportsNonEmpty(v goja.Value) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	if _, ok := goja.AssertFunction(v); ok {
		return true
	}
	if obj, ok := v.(*goja.Object); ok {
		return len(obj.Keys()) > 0
	}
	if s, ok := v.Export().(string); ok {
		return s != ""
	}
	// Numbers and booleans have no own enumerable properties.
	return false
}

// stringify runs JSON.stringify inside rt. ok is false when the value has no
// JSON representation.
func stringify(rt *goja.Runtime, v goja.Value) (string, bool, error) {
	jsonObj := rt.Get("JSON").ToObject(rt)
	fn, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return "", false, errors.New("JSON.stringify unavailable")
	}
	out, err := fn(jsonObj, v)
	if err != nil {
		return "", false, fmt.Errorf("stringify: %w", err)
	}
	if goja.IsUndefined(out) {
		return "", false, nil
	}
	return out.String(), true, nil
}
