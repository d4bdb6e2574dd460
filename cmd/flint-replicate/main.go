// Command flint-replicate drives a single changeset-application session
// against a database directory: it dials a master, applies whatever
// changeset comes back, and prints the resulting next-revision token.
//
// Usage:
//
//	flint-replicate [flags]
//
// Flags:
//
//	-c, --config string   Path to a JSONC config file (default .flint-replicate.json)
//	-d, --dir string      Database directory (overrides config)
//	-a, --addr string     Master address host:port (overrides config)
//	-t, --timeout duration  Session deadline shared by every EnsureChunk (overrides config)
//	    --print-config    Print the resolved configuration and exit
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/calvinalkan/flint-replicate/internal/config"
	"github.com/calvinalkan/flint-replicate/internal/dbfs"
	"github.com/calvinalkan/flint-replicate/internal/replicate"
	"github.com/calvinalkan/flint-replicate/internal/state"
	"github.com/calvinalkan/flint-replicate/internal/transport"
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
	fs := pflag.NewFlagSet("flint-replicate", pflag.ContinueOnError)

	configPath := fs.StringP("config", "c", "", "path to a JSONC config file")
	dirOverride := fs.StringP("dir", "d", "", "database directory (overrides config)")
	addrOverride := fs.StringP("addr", "a", "", "master address host:port (overrides config)")
	timeoutOverride := fs.DurationP("timeout", "t", 0, "session deadline shared by every EnsureChunk (overrides config)")
	printConfig := fs.Bool("print-config", false, "print the resolved configuration and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: flint-replicate [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	cfg, err := config.Load(workDir, *configPath)
	if err != nil {
		return err
	}

	if *dirOverride != "" {
		cfg.DatabaseDir = *dirOverride
	}

	if *addrOverride != "" {
		cfg.MasterAddr = *addrOverride
	}

	if *timeoutOverride != 0 {
		cfg.ChunkDeadlineMillis = int(timeoutOverride.Milliseconds())
	}

	if *printConfig {
		out, err := config.Format(cfg)
		if err != nil {
			return err
		}

		fmt.Println(out)

		return nil
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	return applyOnce(cfg)
}

func applyOnce(cfg config.Config) error {
	fsys := dbfs.NewReal()

	conn, err := transport.DialNetConn(cfg.MasterAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	st, err := state.Load(cfg.DatabaseDir)
	if err != nil {
		return err
	}

	currentUUID, err := version.UUID(fsys, cfg.DatabaseDir)
	if err != nil {
		return err
	}

	valid := st.UUID != "" && st.UUID == currentUUID

	deadline := time.Now().Add(time.Duration(cfg.ChunkDeadlineMillis) * time.Millisecond)

	applier := replicate.NewApplier(fsys)

	required, err := applier.ApplyChangeset(cfg.DatabaseDir, conn, deadline, valid)
	if err != nil {
		return err
	}

	rev, err := wire.DecodeRevision(required)
	if err != nil {
		return err
	}

	st.UUID = currentUUID
	st.LastAppliedRev = rev

	if err := state.Save(cfg.DatabaseDir, st); err != nil {
		return err
	}

	fmt.Printf("applied changeset, next required revision: %d\n", rev)

	return nil
}
