package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/hotload/executor"
	"github.com/caffeineduck/hotload/loader"
	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive prompt, one fresh scope per input",
		Long: `Start an interactive prompt. Each input runs as its own script in a
fresh scope and whatever it exports is printed, so

  module.exports = 6 * 7

prints 42. Nothing carries over between inputs except the "shared"
global, a host-side object every input sees.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D. When input is
not a terminal, lines are read as they come, without prompts or history.`,
		Args: cobra.NoArgs,
		RunE: runRepl,
	}
	cmd.Flags().String("history", "", "History file path (default: ~/.hotload_history)")
	return cmd
}

func runRepl(cmd *cobra.Command, _ []string) error {
	cfg, err := settings(cmd)
	if err != nil {
		return err
	}
	l, err := newLoader(cmd, cfg)
	if err != nil {
		return err
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	s := newSession(l, filepath.Join(wd, "repl.js"), cmd.OutOrStdout())

	if !interactive(cmd.InOrStdin()) {
		return replPiped(cmd, s)
	}

	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			historyFile = filepath.Join(home, ".hotload_history")
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(cmd.ErrOrStderr(), "hotload REPL (type 'exit' to quit, Ctrl+D to exit)")

	var buf lineBuffer
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				buf.Reset()
				rl.SetPrompt("> ")
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		source, complete := buf.Feed(line)
		if !complete {
			rl.SetPrompt("... ")
			continue
		}
		rl.SetPrompt("> ")
		if !s.input(cmd.Context(), source, cmd.ErrOrStderr()) {
			return nil
		}
	}
}

// replPiped reads inputs line by line without prompts or history.
func replPiped(cmd *cobra.Command, s *session) error {
	var buf lineBuffer
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		source, complete := buf.Feed(scanner.Text())
		if !complete {
			continue
		}
		if !s.input(cmd.Context(), source, cmd.ErrOrStderr()) {
			return nil
		}
	}
	return scanner.Err()
}

func interactive(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// session runs REPL inputs. The shared map is the only state that
// survives from one input to the next.
type session struct {
	l      *loader.Loader
	path   string
	shared map[string]any
	out    io.Writer
}

func newSession(l *loader.Loader, path string, out io.Writer) *session {
	return &session{l: l, path: path, shared: make(map[string]any), out: out}
}

// input handles one complete input and reports whether to keep reading.
// Script errors are printed to errOut and do not end the session.
func (s *session) input(ctx context.Context, source string, errOut io.Writer) bool {
	source = strings.TrimSpace(source)
	switch source {
	case "":
		return true
	case "exit", "quit":
		return false
	}
	if err := s.eval(ctx, source); err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
	}
	return true
}

// eval runs source and prints its exports, unless it exported nothing.
func (s *session) eval(ctx context.Context, source string) error {
	scope := &executor.Scope{
		Globals: map[string]any{"shared": s.shared},
	}
	exports, err := s.l.RunWith(ctx, s.path, source, scope)
	if err != nil {
		return err
	}
	if exports.String() == "{}" {
		return nil
	}
	return printExports(s.out, exports)
}

// lineBuffer joins lines ending in a backslash into one input.
type lineBuffer struct {
	sb      strings.Builder
	pending bool
}

// Feed adds line and reports whether the input is complete.
func (b *lineBuffer) Feed(line string) (string, bool) {
	if strings.HasSuffix(line, "\\") {
		b.sb.WriteString(strings.TrimSuffix(line, "\\"))
		b.sb.WriteString("\n")
		b.pending = true
		return "", false
	}
	if !b.pending {
		return line, true
	}
	b.sb.WriteString(line)
	out := b.sb.String()
	b.Reset()
	return out, true
}

// Reset drops a partial input.
func (b *lineBuffer) Reset() {
	b.sb.Reset()
	b.pending = false
}
