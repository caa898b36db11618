package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval [code]",
		Short: "Run source text and print its exports",
		Long: `Run JavaScript source given inline, with -c, or on stdin.

The source runs as if it were the file named by --path, so relative
require calls resolve against that file's directory.

  hotload eval 'module.exports = 1 + 1'
  echo 'exports.now = Date.now()' | hotload eval
  hotload eval -c 'module.exports = require("./lib.js")' --path ./main.js`,
		Args: cobra.MaximumNArgs(1),
		RunE: runEval,
	}
	cmd.Flags().StringP("code", "c", "", "Code to run")
	cmd.Flags().String("path", "", "File path the code runs as (default: <cwd>/eval.js)")
	addRunFlags(cmd)
	return cmd
}

func runEval(cmd *cobra.Command, args []string) error {
	source, err := evalSource(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := settings(cmd)
	if err != nil {
		return err
	}
	l, err := newLoader(cmd, cfg)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		path = filepath.Join(wd, "eval.js")
	} else if path, err = scriptPath(cmd, path); err != nil {
		return err
	}

	exports, err := l.Run(cmd.Context(), path, source)
	if err != nil {
		return err
	}
	result, err := callExport(cmd, exports)
	if err != nil {
		return err
	}
	return printExports(cmd.OutOrStdout(), result)
}

func evalSource(cmd *cobra.Command, args []string) (string, error) {
	code, _ := cmd.Flags().GetString("code")
	switch {
	case code != "":
		return code, nil
	case len(args) > 0:
		return args[0], nil
	}

	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("no code given: pass it as an argument, with -c, or on stdin")
	}
	return string(data), nil
}
