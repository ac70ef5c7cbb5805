package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/calvinalkan/tagstore/internal/store"

	flag "github.com/spf13/pflag"
)

func shellCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Interactive tag shell",
		Long: `Start an interactive shell on the tags directory. The store keeps watching
the directory while the shell runs, so external edits show up immediately.
History is kept in ~/.tagd_history.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return a.withStore(ctx, func(st *store.Store) error {
				return runLinerShell(ctx, o, st)
			})
		},
	}
}

// prompter is the part of *liner.State the shell loop uses.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

type shell struct {
	st *store.Store
	o  *IO
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".tagd_history")
}

func runLinerShell(ctx context.Context, o *IO, st *store.Store) error {
	line := liner.NewLiner()
	defer line.Close()

	sh := &shell{st: st, o: o}

	line.SetCtrlCAborts(true)
	line.SetCompleter(sh.complete)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	defer func() {
		if path := historyFile(); path != "" {
			if f, err := os.Create(path); err == nil {
				_, _ = line.WriteHistory(f)
				_ = f.Close()
			}
		}
	}()

	return sh.loop(ctx, line)
}

func (sh *shell) loop(ctx context.Context, p prompter) error {
	sh.o.Printf("tagd shell on %s\n", sh.st.Dir())
	sh.o.Println("Type 'help' for available commands.")

	for ctx.Err() == nil {
		line, err := p.Prompt("tagd> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				sh.o.Println("Bye!")

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		p.AppendHistory(line)

		if !sh.exec(ctx, line) {
			sh.o.Println("Bye!")

			return nil
		}
	}

	return nil
}

// exec runs one shell line. It returns false when the shell should exit.
// Warnings are flushed after every line instead of at exit.
func (sh *shell) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	lineIO := NewIO(sh.o.out, sh.o.errOut)
	defer func() { _ = lineIO.Finish() }()

	var err error

	switch cmd {
	case "exit", "quit", "q":
		return false

	case "help", "?":
		sh.printHelp()

	case "get":
		if len(args) != 1 {
			err = fmt.Errorf("%w: get <group>", ErrMissingArgs)

			break
		}

		err = execGet(lineIO, sh.st, args[0])

	case "add":
		if len(args) < 2 {
			err = fmt.Errorf("%w: add <group> <tag>...", ErrMissingArgs)

			break
		}

		err = execAdd(ctx, lineIO, sh.st, args[0], args[1:], "the next add to this group retries the write")

	case "ls", "list":
		err = execLs(lineIO, sh.st)

	case "compact":
		if len(args) != 1 {
			err = fmt.Errorf("%w: compact <group>", ErrMissingArgs)

			break
		}

		err = execCompact(ctx, lineIO, sh.st, args[0])

	default:
		lineIO.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		lineIO.ErrPrintln("error:", err)
	}

	return true
}

var shellCommands = []string{"get", "add", "ls", "list", "compact", "help", "exit", "quit", "q"}

// complete completes command names, and group ids after commands that take
// a group.
func (sh *shell) complete(line string) []string {
	var completions []string

	cmd, rest, hasArgs := strings.Cut(line, " ")
	if !hasArgs {
		lower := strings.ToLower(line)
		for _, c := range shellCommands {
			if strings.HasPrefix(c, lower) {
				completions = append(completions, c)
			}
		}

		return completions
	}

	switch strings.ToLower(cmd) {
	case "get", "add", "compact":
	default:
		return nil
	}

	if strings.Contains(rest, " ") {
		return nil
	}

	groups, err := sh.st.Groups()
	if err != nil {
		return nil
	}

	for _, id := range groups {
		if strings.HasPrefix(id, rest) {
			completions = append(completions, cmd+" "+id)
		}
	}

	return completions
}

func (sh *shell) printHelp() {
	sh.o.Println("Commands:")
	sh.o.Println("  get <group>               Print the tags of a group")
	sh.o.Println("  add <group> <tag>...      Add tags to a group")
	sh.o.Println("  ls                        List groups with their tag count")
	sh.o.Println("  compact <group>           Rewrite a group file without duplicates")
	sh.o.Println("  help                      Show this help")
	sh.o.Println("  exit / quit / q           Exit")
}
