// Command flint-replicate-shell is an interactive operator REPL for
// inspecting a replica database directory without a live master: it can
// acquire and release the directory's write lock, print the on-disk
// UUID, and compare two revision tokens. Modeled on this codebase's
// sloty REPL (liner-based line editing/history, a simple command
// dispatch loop).
//
// Usage:
//
//	flint-replicate-shell <database-dir>
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/calvinalkan/flint-replicate/internal/dblock"
	"github.com/calvinalkan/flint-replicate/internal/dbfs"
	"github.com/calvinalkan/flint-replicate/internal/version"
	"github.com/calvinalkan/flint-replicate/internal/wire"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: flint-replicate-shell <database-dir>\n")
		return errors.New("missing database directory")
	}

	repl := &REPL{
		dir:  args[0],
		fsys: dbfs.NewReal(),
	}

	return repl.Run()
}

// REPL is the interactive command loop.
type REPL struct {
	dir   string
	fsys  dbfs.FS
	guard *dblock.Guard
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".flint-replicate-shell_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("flint-replicate-shell - inspecting %s\n", r.dir)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("flint> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		cmdArgs := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.releaseLock()
			r.saveHistory()

			return nil
		case "help", "?":
			r.printHelp()
		case "lock":
			r.cmdLock()
		case "unlock":
			r.cmdUnlock()
		case "uuid":
			r.cmdUUID()
		case "revision", "rev":
			r.cmdRevision(cmdArgs)
		case "compare", "cmp":
			r.cmdCompare(cmdArgs)
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.releaseLock()
	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) releaseLock() {
	if r.guard != nil {
		_ = r.guard.Release()
		r.guard = nil
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"lock", "unlock", "uuid", "revision", "rev",
		"compare", "cmp", "help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  lock                  Acquire the directory's write lock")
	fmt.Println("  unlock                Release a held write lock")
	fmt.Println("  uuid                  Print the on-disk UUID")
	fmt.Println("  revision <table>      Print a table's open revision (from its base files)")
	fmt.Println("  compare <rev-a> <rev-b>  Compare two integer revision tokens")
	fmt.Println("  help                  Show this help")
	fmt.Println("  exit / quit / q       Exit")
}

func (r *REPL) cmdLock() {
	if r.guard != nil {
		fmt.Println("already locked by this session")
		return
	}

	guard, err := dblock.Lock(r.fsys, r.dir)
	if err != nil {
		var failure *dblock.Failure
		if errors.As(err, &failure) {
			fmt.Printf("lock failed (%s): %s\n", failure.Reason, failure.Error())
			return
		}

		fmt.Printf("lock failed: %v\n", err)

		return
	}

	r.guard = guard

	fmt.Println("OK: lock acquired")
}

func (r *REPL) cmdUnlock() {
	if r.guard == nil {
		fmt.Println("not locked by this session")
		return
	}

	if err := r.guard.Release(); err != nil {
		fmt.Printf("unlock failed: %v\n", err)
		return
	}

	r.guard = nil

	fmt.Println("OK: lock released")
}

func (r *REPL) cmdUUID() {
	uuid, err := version.UUID(r.fsys, r.dir)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	if uuid == "" {
		fmt.Println("(no version file)")
		return
	}

	fmt.Println(uuid)
}

func (r *REPL) cmdRevision(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: revision <table>")
		return
	}

	rev, err := version.OpenRevision(r.fsys, r.dir, args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	fmt.Println(rev)
}

func (r *REPL) cmdCompare(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: compare <rev-a> <rev-b>")
		return
	}

	a, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("error parsing rev-a: %v\n", err)
		return
	}

	b, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("error parsing rev-b: %v\n", err)
		return
	}

	atLeast, err := wire.AtLeast(wire.EncodeRevision(a), wire.EncodeRevision(b))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	fmt.Printf("%d >= %d: %v\n", a, b, atLeast)
}
