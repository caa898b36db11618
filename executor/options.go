package executor

import (
	"os"
	"time"

	"github.com/caffeineduck/hotload/hostfunc"
	"github.com/charmbracelet/log"
)

// Memory limit presets for .wasm imports, in 64KB pages.
const (
	MemoryLimit1MB   uint32 = 16
	MemoryLimit16MB  uint32 = 256
	MemoryLimit64MB  uint32 = 1024
	MemoryLimit256MB uint32 = 4096
	MemoryLimit1GB   uint32 = 16384
)

// DefaultMaxImportDepth bounds nested require chains.
const DefaultMaxImportDepth = 64

// Option configures an Executor.
type Option func(*config)

type config struct {
	console          Console
	logger           *log.Logger
	reader           FileReader
	timeout          time.Duration
	maxCallStackSize int
	maxImportDepth   int
	wasmMemoryPages  uint32
	builtins         map[string]ModuleFunc
	globals          map[string]any
}

func defaultConfig() config {
	return config{
		console:        WriterConsole(os.Stdout, os.Stderr),
		logger:         log.NewWithOptions(os.Stderr, log.Options{Prefix: "hotload"}),
		reader:         OSReader{},
		maxImportDepth: DefaultMaxImportDepth,
		builtins:       make(map[string]ModuleFunc),
		globals:        make(map[string]any),
	}
}

// WithConsole sets the console shared by every script run.
func WithConsole(c Console) Option {
	return func(cfg *config) {
		cfg.console = c
	}
}

// WithLogger sets the logger used for the executor's own diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(cfg *config) {
		cfg.logger = l
	}
}

// WithReader sets how nested imports read files.
func WithReader(r FileReader) Option {
	return func(cfg *config) {
		cfg.reader = r
	}
}

// WithTimeout interrupts a run that takes longer than d. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// WithMaxCallStackSize limits script recursion depth.
func WithMaxCallStackSize(n int) Option {
	return func(cfg *config) {
		cfg.maxCallStackSize = n
	}
}

// WithMaxImportDepth limits how deeply require calls may nest.
func WithMaxImportDepth(n int) Option {
	return func(cfg *config) {
		cfg.maxImportDepth = n
	}
}

// WithWasmMemoryLimit caps the linear memory of .wasm imports, in pages.
func WithWasmMemoryLimit(pages uint32) Option {
	return func(cfg *config) {
		cfg.wasmMemoryPages = pages
	}
}

// WithBuiltin makes require(name) return the value built by fn.
func WithBuiltin(name string, fn ModuleFunc) Option {
	return func(cfg *config) {
		cfg.builtins[name] = fn
	}
}

// WithHostModule exposes the functions of reg as the builtin module name.
func WithHostModule(name string, reg *hostfunc.Registry) Option {
	return WithBuiltin(name, HostModule(reg))
}

// WithGlobal adds a capability to the default scope. Scopes that already
// define name keep their own value.
func WithGlobal(name string, v any) Option {
	return func(cfg *config) {
		cfg.globals[name] = v
	}
}

