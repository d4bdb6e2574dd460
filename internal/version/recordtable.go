package version

import (
	"fmt"
	"io"
	"os"

	"github.com/calvinalkan/flint-replicate/internal/dbfs"
	"github.com/calvinalkan/flint-replicate/internal/wire"
)

// recordBaseMagic identifies a record table base file. Parsing beyond the
// revision number is explicitly out of scope (spec.md Non-goals: "Validating
// table contents beyond revision numbers and block alignment" - the rest of
// a base file's structure belongs to the table engine, which spec.md §1
// treats as an external collaborator).
var recordBaseMagic = []byte("FLINTB")

// OpenRevision returns the record table's current on-disk revision, used
// by C6 step 4 to verify a changeset's start_revision matches the replica
// before any items are applied.
//
// Of the two base files (record.baseA, record.baseB) the current one is
// whichever parses successfully with the higher revision number. Either
// one alone, or both (one current, one historical/next), may be present;
// it is an error only when neither parses.
func OpenRevision(fsys dbfs.FS, dir, tableName string) (uint64, error) {
	var (
		found   bool
		highest uint64
	)

	for _, letter := range []byte{'A', 'B'} {
		rev, ok, err := readBaseRevision(fsys, fmt.Sprintf("%s/%s.base%c", dir, tableName, letter))
		if err != nil {
			return 0, err
		}

		if !ok {
			continue
		}

		if !found || rev > highest {
			highest = rev
			found = true
		}
	}

	if !found {
		return 0, fmt.Errorf("record table %q: no readable base file", tableName)
	}

	return highest, nil
}

// readBaseRevision reads just the revision field out of a base file's
// header. ok is false (with a nil error) when the file doesn't exist,
// which is the normal state for whichever of baseA/baseB isn't current.
func readBaseRevision(fsys dbfs.FS, path string) (rev uint64, ok bool, err error) {
	f, err := fsys.Open(path)
	if err != nil {
		return 0, false, nil
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return 0, false, fmt.Errorf("reading %q: %w", path, err)
	}

	if len(buf) < len(recordBaseMagic) || string(buf[:len(recordBaseMagic)]) != string(recordBaseMagic) {
		return 0, false, nil
	}

	rev, _, err = wire.DecodeUint(buf[len(recordBaseMagic):])
	if err != nil {
		return 0, false, nil
	}

	return rev, true, nil
}

// WriteBaseRevision writes a minimal record table base file containing
// only the revision field this package reads. It exists for tests that
// need to fix up a replica directory's apparent on-disk revision.
func WriteBaseRevision(fsys dbfs.FS, dir, tableName string, letter byte, rev uint64) error {
	buf := append([]byte(nil), recordBaseMagic...)
	buf = wire.AppendUint(buf, rev)

	path := fmt.Sprintf("%s/%s.base%c", dir, tableName, letter)

	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return err
	}

	return f.Sync()
}
