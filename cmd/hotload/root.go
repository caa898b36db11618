package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caffeineduck/hotload/executor"
	"github.com/caffeineduck/hotload/hostfunc"
	"github.com/caffeineduck/hotload/internal/config"
	"github.com/caffeineduck/hotload/loader"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hotload [file]",
		Short: "Load and run JavaScript files without caching",
		Long: `hotload - Load JavaScript files on demand and print what they export.

Every load reads, compiles and runs the file again, so edits are picked up
without restarting. Scripts get CommonJS-style require, exports and
module.exports, console, and whatever host modules are enabled with
flags (fs, kv, http).`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRun,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (default: ./hotload.yaml or $XDG_CONFIG_HOME/hotload/hotload.yaml)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.Duration("timeout", 0, "Per-load timeout (0 disables)")
	pf.Int("max-depth", 0, "Maximum nested require depth")
	pf.Int("max-stack", 0, "Maximum JavaScript call stack size (0 is unlimited)")
	pf.String("memory", "", "Memory limit for .wasm imports: 1mb, 16mb, 64mb, 256mb, 1gb")
	pf.Bool("kv", false, "Enable the kv host module")
	pf.StringSlice("allow-host", nil, "Enable the http host module for host (repeatable)")
	pf.StringSlice("mount", nil, "Mount a host directory for the fs host module, virtual:host[:ro|rw|rwc] (repeatable)")
	pf.Bool("virtual", false, "Read scripts through the --mount table instead of the host filesystem")
	pf.StringArray("global", nil, "Add a global, name=json (repeatable)")

	addRunFlags(root)
	root.AddCommand(newRunCmd(), newEvalCmd(), newWatchCmd(), newReplCmd(), newServeCmd())
	return root
}

// settings merges the config file with flags explicitly set on cmd.
func settings(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg, used, err := config.Load(cmd.Context(), path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("max-depth") {
		cfg.MaxImportDepth, _ = flags.GetInt("max-depth")
	}
	if flags.Changed("max-stack") {
		cfg.MaxCallStackSize, _ = flags.GetInt("max-stack")
	}
	if flags.Changed("kv") {
		cfg.KV, _ = flags.GetBool("kv")
	}
	hosts, _ := flags.GetStringSlice("allow-host")
	cfg.AllowHosts = append(cfg.AllowHosts, hosts...)
	mounts, _ := flags.GetStringSlice("mount")
	cfg.Mounts = append(cfg.Mounts, mounts...)

	globals, _ := flags.GetStringArray("global")
	for _, g := range globals {
		parsed, err := parseGlobal(g)
		if err != nil {
			return nil, err
		}
		cfg.Globals = append(cfg.Globals, parsed)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if used != "" {
		newLogger(cmd, cfg).Debug("config loaded", "path", used)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *log.Logger {
	logger := log.NewWithOptions(cmd.ErrOrStderr(), log.Options{Prefix: "hotload"})
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

// newLoader builds a loader from cfg. Script console output goes to the
// command's output streams.
func newLoader(cmd *cobra.Command, cfg *config.Config) (*loader.Loader, error) {
	logger := newLogger(cmd, cfg)
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}

	opts := []executor.Option{
		executor.WithLogger(logger),
		executor.WithConsole(executor.WriterConsole(cmd.OutOrStdout(), cmd.ErrOrStderr())),
		executor.WithTimeout(cfg.Timeout),
		executor.WithMaxImportDepth(cfg.MaxImportDepth),
		executor.WithMaxCallStackSize(cfg.MaxCallStackSize),
	}

	memory, _ := cmd.Flags().GetString("memory")
	if memory != "" {
		pages, err := parseMemoryLimit(memory)
		if err != nil {
			return nil, err
		}
		opts = append(opts, executor.WithWasmMemoryLimit(pages))
	}

	virtual, _ := cmd.Flags().GetBool("virtual")
	if len(cfg.Mounts) > 0 {
		mounts := make([]hostfunc.Mount, 0, len(cfg.Mounts))
		for _, spec := range cfg.Mounts {
			m, err := hostfunc.ParseMount(spec)
			if err != nil {
				return nil, err
			}
			mounts = append(mounts, m)
		}
		fs := hostfunc.NewFS(mounts...)
		reg := hostfunc.NewRegistry()
		fs.Register(reg)
		opts = append(opts, executor.WithHostModule("fs", reg))
		if virtual {
			opts = append(opts, executor.WithReader(fs))
		}
	} else if virtual {
		return nil, fmt.Errorf("--virtual needs at least one --mount")
	}

	if cfg.KV {
		reg := hostfunc.NewRegistry()
		hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(reg)
		opts = append(opts, executor.WithHostModule("kv", reg))
	}

	if len(cfg.AllowHosts) > 0 {
		reg := hostfunc.NewRegistry()
		hostfunc.NewHTTP(hostfunc.HTTPConfig{AllowedHosts: cfg.AllowHosts}).Register(reg)
		opts = append(opts, executor.WithHostModule("http", reg))
	}

	for _, g := range cfg.Globals {
		opts = append(opts, executor.WithGlobal(g.Name, g.Value))
	}

	return loader.New(opts...)
}

// parseGlobal splits name=json. A value that is not valid JSON is taken as
// a plain string.
func parseGlobal(spec string) (config.Global, error) {
	name, raw, ok := strings.Cut(spec, "=")
	if !ok || name == "" {
		return config.Global{}, fmt.Errorf("invalid global %q (expected name=value)", spec)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	return config.Global{Name: name, Value: v}, nil
}

func parseMemoryLimit(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "1mb":
		return executor.MemoryLimit1MB, nil
	case "16mb":
		return executor.MemoryLimit16MB, nil
	case "64mb":
		return executor.MemoryLimit64MB, nil
	case "256mb":
		return executor.MemoryLimit256MB, nil
	case "1gb":
		return executor.MemoryLimit1GB, nil
	default:
		return 0, fmt.Errorf("invalid memory limit %q (expected 1mb, 16mb, 64mb, 256mb or 1gb)", s)
	}
}
