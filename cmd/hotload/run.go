package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/caffeineduck/hotload/executor"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Load a file and print its exports",
		Long: `Load a JavaScript file once and print what it exported as JSON.

With --call, the named exported function is called with the --arg values
(each parsed as JSON) and its return value is printed instead.

  hotload run config.js
  hotload run math.js --call add --arg 1 --arg 2`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("call", "", "Call this exported function after loading")
	cmd.Flags().StringArray("arg", nil, "Argument for --call, as JSON (repeatable)")
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}

	cfg, err := settings(cmd)
	if err != nil {
		return err
	}
	l, err := newLoader(cmd, cfg)
	if err != nil {
		return err
	}

	path, err := scriptPath(cmd, args[0])
	if err != nil {
		return err
	}
	exports, err := l.Load(cmd.Context(), path)
	if err != nil {
		return err
	}

	result, err := callExport(cmd, exports)
	if err != nil {
		return err
	}
	return printExports(cmd.OutOrStdout(), result)
}

// scriptPath makes name absolute on the host, or leaves it alone when
// scripts are read through the mount table.
func scriptPath(cmd *cobra.Command, name string) (string, error) {
	if virtual, _ := cmd.Flags().GetBool("virtual"); virtual {
		return name, nil
	}
	return filepath.Abs(name)
}

func callExport(cmd *cobra.Command, exports executor.Exports) (executor.Exports, error) {
	name, _ := cmd.Flags().GetString("call")
	if name == "" {
		return exports, nil
	}

	raw, _ := cmd.Flags().GetStringArray("arg")
	callArgs := make([]any, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal([]byte(r), &callArgs[i]); err != nil {
			return executor.Exports{}, fmt.Errorf("--arg %q: %w", r, err)
		}
	}

	fn := exports
	if !exports.IsFunction() || name != "default" {
		fn = exports.Get(name)
	}
	res, err := fn.Call(callArgs...)
	if err != nil {
		return executor.Exports{}, fmt.Errorf("call %s: %w", name, err)
	}
	return res, nil
}

// printExports writes e as JSON. Undefined and functions, which have no
// JSON form, are written in their display form.
func printExports(w io.Writer, e executor.Exports) error {
	if e.IsUndefined() || e.IsFunction() {
		_, err := fmt.Fprintln(w, e.String())
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
