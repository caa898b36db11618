package executor

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

var (
	ErrModuleNotFound = errors.New("module not found")
	ErrImportCycle    = errors.New("import cycle")
	ErrImportDepth    = errors.New("import depth exceeded")
	ErrInterrupted    = errors.New("execution interrupted")
)

// ScriptError is a compile or runtime failure of a script. Its message
// always names the file the script was loaded as.
type ScriptError struct {
	// Path is the file identity the script ran under.
	Path string
	// Message is the script-level error message, e.g. the message of a
	// thrown Error.
	Message string
	// Stack is the script stack trace when one is available.
	Stack string
	// Err is the underlying engine error.
	Err error
}

func (e *ScriptError) Error() string {
	return `"` + e.Message + "\" in `" + e.Path + "`"
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

func newScriptError(path string, err error) *ScriptError {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		cause, ok := ie.Value().(error)
		if !ok {
			cause = fmt.Errorf("%v", ie.Value())
		}
		err = fmt.Errorf("%w: %w", ErrInterrupted, cause)
	}

	se := &ScriptError{Path: path, Message: errorMessage(err), Err: err}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		se.Stack = ex.String()
	}
	return se
}

// errorMessage extracts what a script would see as err.message.
func errorMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		v := ex.Value()
		if obj, ok := v.(*goja.Object); ok {
			if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
				return m.String()
			}
		}
		if v != nil {
			return v.String()
		}
	}
	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
