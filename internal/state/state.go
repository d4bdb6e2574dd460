// Package state persists the CLI driver's small per-directory bookkeeping
// between runs: the last UUID it matched against the master and the
// required revision returned by its last successful ApplyChangeset (which
// is at least that changeset's end revision, not necessarily equal to
// it). This is new surface the core applier
// doesn't need (ApplyChangeset is a pure function of its arguments); it
// exists so cmd/flint-replicate can resume a loop after a restart without
// re-deriving anything from the database tables themselves.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// FileName is the sidecar file's name within a database directory.
const FileName = ".flint-replicate-state.json"

// State is the durable record for one database directory.
type State struct {
	UUID string `json:"uuid,omitempty"`
	// LastAppliedRev holds the required revision returned by the last
	// successful ApplyChangeset, not the changeset's end revision.
	LastAppliedRev uint64 `json:"last_applied_revision"` //nolint:tagliatelle // snake_case for the sidecar file
}

// Load reads the sidecar file from dir. A missing file is not an error: it
// reports a zero State, the correct starting point for a directory
// flint-replicate has never touched.
func Load(dir string) (State, error) {
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}

		return State{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	return s, nil
}

// Save durably writes s to dir's sidecar file via a tmp-file + rename, the
// same natefinch/atomic helper this codebase already uses for small
// durable files where no bespoke crash-recovery contract (like C7's NFS
// quirk handling) is needed.
func Save(dir string, s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	path := filepath.Join(dir, FileName)

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}
