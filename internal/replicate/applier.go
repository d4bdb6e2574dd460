// Package replicate implements the replica-side changeset applier: the
// framed binary parser for the changeset stream (C6), the file-mutation
// protocol for base-file rewrites (C7) and block patches (C8), and the
// locking/revision-verification discipline that ties them together.
package replicate

import (
	"errors"
	"fmt"
	"time"

	"github.com/calvinalkan/flint-replicate/internal/dblock"
	"github.com/calvinalkan/flint-replicate/internal/dbfs"
	"github.com/calvinalkan/flint-replicate/internal/transport"
	"github.com/calvinalkan/flint-replicate/internal/version"
	"github.com/calvinalkan/flint-replicate/internal/wire"
)

// ChangesMagic is the fixed 12-byte prefix every changeset stream begins
// with, after the REPL_REPLY_CHANGESET message header.
var ChangesMagic = []byte("FLINTCHANGES")

// ProtocolVersion is the only changeset version this applier understands.
const ProtocolVersion uint64 = 1

// MsgReplyChangeset is the message kind byte the single inbound message
// of a changeset session must carry (spec.md §6).
const MsgReplyChangeset byte = 0x02

// changesType values. Only typeNormal is supported; typeDangerous is
// explicitly rejected (spec.md §1, §9: "DANGEROUS mode" is out of scope).
const (
	changesTypeNormal    = 0
	changesTypeDangerous = 1
)

// Item chunk types.
const (
	chunkEnd    = 0
	chunkBase   = 1
	chunkBlocks = 2
)

// recordTableName is the table whose base files carry the replica's
// current on-disk revision, used for the step-4 precondition check.
const recordTableName = "record"

// Applier drives one changeset-application session against a database
// directory (spec.md §4.6).
type Applier struct {
	fsys dbfs.FS
}

// NewApplier returns an Applier that mutates files through fsys.
func NewApplier(fsys dbfs.FS) *Applier {
	return &Applier{fsys: fsys}
}

// ApplyChangeset consumes one REPL_REPLY_CHANGESET message from conn and
// applies it to the database directory at dir, returning the master's
// requested next-revision token (re-encoded, per spec.md §4.6 step 8).
//
// valid indicates whether the replica's current on-disk revision is known
// and trustworthy; when true, the changeset's start_revision is checked
// against the record table's current revision before any item is applied.
//
// The directory's write lock is held for the full session and always
// released before ApplyChangeset returns, success or failure (spec.md
// §4.6's state machine: any decode/IO failure after LOCKED transitions to
// FAIL with the lock released).
func (a *Applier) ApplyChangeset(dir string, conn transport.Conn, deadline time.Time, valid bool) (wire.Revision, error) {
	guard, err := dblock.Lock(a.fsys, dir)
	if err != nil {
		var failure *dblock.Failure
		if asLockFailure(err, &failure) {
			return nil, databaseLockErr(failure)
		}

		return nil, databaseLockErr(&dblock.Failure{Reason: dblock.ReasonUnknown, Explanation: err.Error()})
	}
	defer guard.Release()

	return a.applyLocked(dir, conn, deadline, valid)
}

func asLockFailure(err error, target **dblock.Failure) bool {
	if f, ok := err.(*dblock.Failure); ok {
		*target = f
		return true
	}

	return false
}

func (a *Applier) applyLocked(dir string, conn transport.Conn, deadline time.Time, valid bool) (wire.Revision, error) {
	r := transport.NewReader(conn, transport.ReasonableChunkSize)

	kind, err := r.BeginMessage(deadline)
	if err != nil {
		return nil, classifyTransportErr(err)
	}

	if kind != MsgReplyChangeset {
		return nil, networkErr("unexpected message kind %d, want REPL_REPLY_CHANGESET", kind)
	}

	startRev, endRev, err := a.readHeader(r, dir, deadline, valid)
	if err != nil {
		return nil, err
	}

	if err := a.readItems(r, dir, conn, deadline); err != nil {
		return nil, err
	}

	requiredRev, err := a.readTrailer(r, endRev, deadline)
	if err != nil {
		return nil, err
	}

	_ = startRev // consumed only for the step-4 precondition check

	return wire.EncodeRevision(requiredRev), nil
}

// readHeader validates the fixed prefix through changes_type (spec.md §4.6
// steps 3-4) and returns (start_revision, end_revision).
func (a *Applier) readHeader(r *transport.Reader, dir string, deadline time.Time, valid bool) (start, end uint64, err error) {
	// 12-byte magic, plus the smallest plausible encoding of version/
	// start/end/changes_type (each at least 1 byte): ensure generously,
	// actual field boundaries are discovered by decoding as we go.
	if err := r.Ensure(len(ChangesMagic)+4, deadline); err != nil {
		return 0, 0, classifyTransportErr(err)
	}

	buf := r.Bytes()
	if len(buf) < len(ChangesMagic) || string(buf[:len(ChangesMagic)]) != string(ChangesMagic) {
		return 0, 0, networkErr("invalid changeset magic string")
	}

	r.Drain(len(ChangesMagic))

	ver, err := a.decodeUint(r, deadline)
	if err != nil {
		return 0, 0, err
	}

	if ver != ProtocolVersion {
		return 0, 0, networkErr("unsupported changeset version %d", ver)
	}

	start, err = a.decodeUint(r, deadline)
	if err != nil {
		return 0, 0, err
	}

	end, err = a.decodeUint(r, deadline)
	if err != nil {
		return 0, 0, err
	}

	if end <= start {
		return 0, 0, networkErr("end revision %d is not later than start revision %d", end, start)
	}

	if valid {
		current, err := version.OpenRevision(a.fsys, dir, recordTableName)
		if err != nil {
			return 0, 0, databaseErr(recordTableName, "open", err)
		}

		if start != current {
			return 0, 0, networkErr("changeset is for wrong revision: start=%d, current=%d", start, current)
		}
	}

	if err := r.Ensure(1, deadline); err != nil {
		return 0, 0, classifyTransportErr(err)
	}

	changesType := r.Bytes()[0]
	r.Drain(1)

	if changesType == changesTypeDangerous {
		return 0, 0, networkErr("unsupported changeset type (DANGEROUS mode is not implemented)")
	}

	if changesType != changesTypeNormal {
		return 0, 0, networkErr("unrecognised changeset type %d", changesType)
	}

	return start, end, nil
}

// readItems consumes items until the 0 end marker (spec.md §4.6 step 5).
func (a *Applier) readItems(r *transport.Reader, dir string, conn transport.Conn, deadline time.Time) error {
	for {
		if err := r.Ensure(1, deadline); err != nil {
			return classifyTransportErr(err)
		}

		chunkType := r.Bytes()[0]
		r.Drain(1)

		if chunkType == chunkEnd {
			return nil
		}

		tableName, err := a.decodeTableName(r, deadline)
		if err != nil {
			return err
		}

		switch chunkType {
		case chunkBase:
			if err := a.applyBase(r, dir, tableName, conn, deadline); err != nil {
				return err
			}
		case chunkBlocks:
			if err := a.applyBlocks(r, dir, tableName, conn, deadline); err != nil {
				return err
			}
		default:
			return networkErr("unrecognised item type %d in changeset", chunkType)
		}
	}
}

// readTrailer decodes required_revision and enforces the end-of-stream
// invariants of spec.md §4.6 step 6.
func (a *Applier) readTrailer(r *transport.Reader, endRev uint64, deadline time.Time) (uint64, error) {
	required, err := a.decodeUint(r, deadline)
	if err != nil {
		return 0, err
	}

	if required < endRev {
		return 0, networkErr("required revision %d is earlier than end revision %d", required, endRev)
	}

	if r.Len() != 0 {
		return 0, networkErr("junk found at end of changeset")
	}

	return required, nil
}

func (a *Applier) decodeUint(r *transport.Reader, deadline time.Time) (uint64, error) {
	for {
		v, n, err := wire.DecodeUint(r.Bytes())
		switch {
		case err == nil:
			r.Drain(n)
			return v, nil
		case errors.Is(err, wire.ErrMalformed):
			// A non-terminating varint is never fixed by more bytes:
			// report it immediately instead of looping the hostile/
			// corrupt peer all the way to deadline.
			return 0, networkErrWrap(err, "malformed varint in changeset")
		default:
			if ensureErr := r.Ensure(r.Len()+1, deadline); ensureErr != nil {
				return 0, classifyTransportErr(ensureErr)
			}
		}
	}
}

func (a *Applier) decodeTableName(r *transport.Reader, deadline time.Time) (string, error) {
	for {
		s, n, err := wire.DecodeString(r.Bytes())
		if err == nil {
			// s aliases the reader's buffer, which Drain overwrites: copy first.
			name := string(s)
			r.Drain(n)

			if len(name) == 0 {
				return "", networkErr("missing table name in changeset")
			}

			if !isLowerAlpha([]byte(name)) {
				return "", networkErr("invalid character in table name %q", name)
			}

			return name, nil
		}

		if errors.Is(err, wire.ErrMalformed) {
			return "", networkErrWrap(err, "malformed table name in changeset")
		}

		if ensureErr := r.Ensure(r.Len()+1, deadline); ensureErr != nil {
			return "", classifyTransportErr(ensureErr)
		}
	}
}

// decodeFixed reads exactly n raw bytes from r, growing the buffer as
// needed. Used for block content, whose length is already known from the
// item's block size rather than being self-describing on the wire.
func (a *Applier) decodeFixed(r *transport.Reader, n int, deadline time.Time) ([]byte, error) {
	if err := r.Ensure(n, deadline); err != nil {
		return nil, classifyTransportErr(err)
	}

	out := make([]byte, n)
	copy(out, r.Bytes()[:n])
	r.Drain(n)

	return out, nil
}

func isLowerAlpha(s []byte) bool {
	for _, b := range s {
		if b < 'a' || b > 'z' {
			return false
		}
	}

	return true
}

// writeFull writes all of p to f, looping on short writes: [dbfs.File]
// embeds io.Writer, whose contract allows a Write to report n < len(p)
// without an error, and this package's fault-injecting test double
// exercises exactly that.
func writeFull(f dbfs.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if err != nil {
			return err
		}

		if n == 0 {
			return fmt.Errorf("write returned 0 bytes with %d remaining", len(p))
		}

		p = p[n:]
	}

	return nil
}

func classifyTransportErr(err error) error {
	if err == nil {
		return nil
	}

	if IsTimeout(err) {
		return err
	}

	if errors.Is(err, transport.ErrTimeout) {
		return networkTimeout(err)
	}

	return networkErrWrap(err, "transport failure")
}
