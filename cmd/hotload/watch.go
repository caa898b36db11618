package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/hotload/internal/watch"
	"github.com/caffeineduck/hotload/loader"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Reload a file whenever scripts next to it change",
		Long: `Load a file, print its exports, and load it again each time a .js,
.cjs, .json or .wasm file under its directory changes. Nothing is cached
between loads, so edits to required files are picked up too.

Stop with Ctrl+C.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}
	cmd.Flags().String("dir", "", "Directory to watch (default: the file's directory)")
	cmd.Flags().StringSlice("pattern", nil, "Glob of files that trigger a reload (repeatable)")
	cmd.Flags().StringSlice("ignore", nil, "Glob of files to ignore (repeatable)")
	cmd.Flags().Duration("debounce", 0, "Quiet period before reloading (default from config)")
	addRunFlags(cmd)
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := settings(cmd)
	if err != nil {
		return err
	}
	l, err := newLoader(cmd, cfg)
	if err != nil {
		return err
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = filepath.Dir(path)
	}
	debounce := cfg.Watch.Debounce
	if cmd.Flags().Changed("debounce") {
		debounce, _ = cmd.Flags().GetDuration("debounce")
	}
	patterns, _ := cmd.Flags().GetStringSlice("pattern")
	ignore, _ := cmd.Flags().GetStringSlice("ignore")

	logger := l.Executor().Logger()
	reload := func(ctx context.Context, changed []string) error {
		if len(changed) > 0 {
			logger.Info("reloading", "changed", strings.Join(changed, ", "))
		}
		return loadAndPrint(ctx, cmd, l, path)
	}

	w, err := watch.New(watch.Config{
		BaseDir:  dir,
		Patterns: patterns,
		Ignore:   ignore,
		Debounce: debounce,
		OnChange: reload,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// A failing first load is reported but keeps the watch going so the
	// file can be fixed in place.
	if err := reload(cmd.Context(), nil); err != nil {
		logger.Error("load failed", "err", err)
	}
	logger.Info("watching", "dir", w.BaseDir())
	return w.Run(cmd.Context())
}

func loadAndPrint(ctx context.Context, cmd *cobra.Command, l *loader.Loader, path string) error {
	exports, err := l.Load(ctx, path)
	if err != nil {
		return err
	}
	result, err := callExport(cmd, exports)
	if err != nil {
		return err
	}
	return printExports(cmd.OutOrStdout(), result)
}
