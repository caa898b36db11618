package executor

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dop251/goja"
)

// Level identifies which console method a script called.
type Level int

const (
	LevelLog Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "log"
	}
}

// Console is the output capability scripts see as console. One Console is
// shared by every run of an Executor, so implementations must be safe for
// concurrent use.
type Console interface {
	Print(level Level, msg string)
}

// ConsoleFunc adapts a function to Console.
type ConsoleFunc func(level Level, msg string)

func (f ConsoleFunc) Print(level Level, msg string) { f(level, msg) }

type logConsole struct {
	logger *log.Logger
}

// LogConsole routes console output through a charmbracelet logger:
// console.log prints without a level, the other methods map to the logger
// levels of the same name.
func LogConsole(logger *log.Logger) Console {
	return &logConsole{logger: logger}
}

func (c *logConsole) Print(level Level, msg string) {
	switch level {
	case LevelDebug:
		c.logger.Debug(msg)
	case LevelInfo:
		c.logger.Info(msg)
	case LevelWarn:
		c.logger.Warn(msg)
	case LevelError:
		c.logger.Error(msg)
	default:
		c.logger.Print(msg)
	}
}

type writerConsole struct {
	out io.Writer
	err io.Writer
	mu  sync.Mutex
}

// WriterConsole writes one line per console call: log, debug and info go
// to out, warn and error go to errOut.
func WriterConsole(out, errOut io.Writer) Console {
	return &writerConsole{out: out, err: errOut}
}

func (c *writerConsole) Print(level Level, msg string) {
	w := c.out
	if level == LevelWarn || level == LevelError {
		w = c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(w, msg)
}

// bindConsole builds the script-side console object.
func bindConsole(rt *goja.Runtime, c Console) *goja.Object {
	obj := rt.NewObject()
	method := func(level Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			c.Print(level, formatArgs(rt, call.Arguments))
			return goja.Undefined()
		}
	}
	_ = obj.Set("log", method(LevelLog))
	_ = obj.Set("debug", method(LevelDebug))
	_ = obj.Set("info", method(LevelInfo))
	_ = obj.Set("warn", method(LevelWarn))
	_ = obj.Set("error", method(LevelError))
	return obj
}

func formatArgs(rt *goja.Runtime, args []goja.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = formatValue(rt, a)
	}
	return strings.Join(parts, " ")
}

func formatValue(rt *goja.Runtime, v goja.Value) string {
	if _, ok := goja.AssertFunction(v); ok {
		return "[Function]"
	}
	if obj, ok := v.(*goja.Object); ok {
		if obj.ClassName() == "Error" {
			return obj.String()
		}
		if s, ok, err := stringify(rt, obj); err == nil && ok {
			return s
		}
	}
	return v.String()
}
