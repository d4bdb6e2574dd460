package replicate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/calvinalkan/flint-replicate/internal/transport"
	"github.com/calvinalkan/flint-replicate/internal/wire"
)

// baseLettersValid are the two base-file slots a table alternates writes
// between, so a crash mid-rewrite never leaves neither base file readable
// (spec.md §4.7).
const baseLettersValid = "AB"

// applyBase implements C7: decode one base-file item and atomically
// rewrite <table>.base<letter> from it.
//
// Wire shape (after the table name already consumed by the caller):
// one letter byte ('A' or 'B'), then a length-prefixed blob of the full
// new base file content.
func (a *Applier) applyBase(r *transport.Reader, dir, table string, _ transport.Conn, deadline time.Time) error {
	if err := r.Ensure(1, deadline); err != nil {
		return classifyTransportErr(err)
	}

	letter := r.Bytes()[0]
	r.Drain(1)

	if strings.IndexByte(baseLettersValid, letter) < 0 {
		return networkErr("invalid base file letter %q for table %s", letter, table)
	}

	content, err := a.decodeBlob(r, deadline)
	if err != nil {
		return err
	}

	return a.rewriteBase(dir, table, letter, content)
}

// rewriteBase writes content to <table>.base<letter> via a tmp-file +
// fsync + rename sequence, recovering from the NFS "rename acknowledgment
// lost" quirk: if Rename reports failure, probe with unlink(tmpPath) -
// ENOENT means the rename already removed the source server-side and in
// fact completed; success or any other error means the rename really did
// fail. Implementations must preserve this literally (spec.md §4.7, §9).
func (a *Applier) rewriteBase(dir, table string, letter byte, content []byte) error {
	tmpPath := filepath.Join(dir, table+"tmp")
	finalPath := filepath.Join(dir, table+".base"+string(letter))

	f, err := a.fsys.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return databaseErr(table, "open", err)
	}

	if err := writeFull(f, content); err != nil {
		_ = f.Close()
		return databaseErr(table, "write", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return databaseErr(table, "fsync", err)
	}

	if err := f.Close(); err != nil {
		return databaseErr(table, "close", err)
	}

	renameErr := a.fsys.Rename(tmpPath, finalPath)
	if renameErr == nil {
		return nil
	}

	// NFS quirk: the server can complete a rename and lose the reply, so
	// the client sees an error for a rename that in fact went through.
	// Probe with unlink(tmpPath): ENOENT means the source is already gone
	// because the rename actually happened. Success, or any other error,
	// means the tmp file was still there - the rename really did fail.
	if unlinkErr := a.fsys.Remove(tmpPath); unlinkErr != nil && os.IsNotExist(unlinkErr) {
		return nil
	}

	return databaseErr(table, "rename", renameErr)
}

// decodeBlob reads a length-prefixed byte string, growing the reader's
// buffer as needed.
func (a *Applier) decodeBlob(r *transport.Reader, deadline time.Time) ([]byte, error) {
	for {
		s, n, err := wire.DecodeString(r.Bytes())
		if err == nil {
			// s aliases the reader's buffer, which Drain overwrites: copy first.
			out := make([]byte, len(s))
			copy(out, s)

			r.Drain(n)

			return out, nil
		}

		if errors.Is(err, wire.ErrMalformed) {
			return nil, networkErrWrap(err, "malformed blob in changeset")
		}

		if ensureErr := r.Ensure(r.Len()+1, deadline); ensureErr != nil {
			return nil, classifyTransportErr(ensureErr)
		}
	}
}
