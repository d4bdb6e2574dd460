// Package version reads the replica database's version file: a small,
// fixed-layout file identifying the on-disk format and carrying a 16-byte
// UUID used out-of-band (outside the changeset protocol itself) to confirm
// a replica is talking to the right master (component C4).
package version

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/calvinalkan/flint-replicate/internal/dbfs"
	"github.com/calvinalkan/flint-replicate/internal/wire"
)

// FileName is the name of the version file inside a database directory.
const FileName = "version"

// magic identifies the version file; formatVersion is the only format
// identifier this package understands. Both are internal implementation
// details of this replica, not part of the changeset wire protocol.
var magic = []byte("FLNTVERS")

const formatVersion = 1

const uuidLen = 16

// UUID returns the database's UUID as a lowercase hex string.
//
// If the version file is absent, truncated, or doesn't match the expected
// magic/format, UUID returns ("", nil): an uninitialized or foreign-format
// replica is reported as "no UUID yet", not as an error, matching
// spec.md §4.4 ("callers interpret an empty UUID as replica not yet
// initialized").
func UUID(fsys dbfs.FS, dir string) (string, error) {
	f, err := fsys.Open(dir + "/" + FileName)
	if err != nil {
		// Absent or unreadable: both are "not yet initialized" to the caller.
		return "", nil
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return "", nil
	}

	if len(buf) < len(magic) || string(buf[:len(magic)]) != string(magic) {
		return "", nil
	}

	rest := buf[len(magic):]

	formatID, n, err := wire.DecodeUint(rest)
	if err != nil || formatID != formatVersion {
		return "", nil
	}

	rest = rest[n:]
	if len(rest) < uuidLen {
		return "", nil
	}

	return hex.EncodeToString(rest[:uuidLen]), nil
}

// WriteFile writes a version file with the given 16-byte UUID. It exists
// for tests that seed a replica directory; the live replication path only
// ever reads this file.
func WriteFile(fsys dbfs.FS, dir string, uuid [uuidLen]byte) error {
	buf := append([]byte(nil), magic...)
	buf = wire.AppendUint(buf, formatVersion)
	buf = append(buf, uuid[:]...)

	f, err := fsys.OpenFile(dir+"/"+FileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return err
	}

	return f.Sync()
}

