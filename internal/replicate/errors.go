package replicate

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/flint-replicate/internal/dblock"
)

// Kind categorizes a replication failure (spec.md §7).
type Kind int

const (
	// KindNetwork covers malformed/truncated wire data, an unexpected
	// message kind, an unsupported version or changes_type, a revision
	// mismatch, junk at the end of the stream, or a transport
	// failure/timeout.
	KindNetwork Kind = iota
	// KindDatabaseLock means the directory's write lock could not be
	// acquired; Err wraps a *dblock.Failure with the specific reason.
	KindDatabaseLock
	// KindDatabase means a filesystem error occurred while writing,
	// seeking, renaming, or fsyncing.
	KindDatabase
	// KindUnexpected marks an invariant violation inside the applier
	// itself. Fatal; never caused by peer input.
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "Network"
	case KindDatabaseLock:
		return "DatabaseLock"
	case KindDatabase:
		return "Database"
	case KindUnexpected:
		return "Unexpected"
	default:
		return "invalid"
	}
}

// Error is the structured error type every fallible step in this package
// returns. Its message names the table and operation where the failure
// occurred, when those are known. An underlying OS error is kept as the
// wrapped cause (reachable through Unwrap); there is no separate errno
// field.
type Error struct {
	Kind    Kind
	Table   string // table name, when the failure is table-scoped
	Op      string // e.g. "rename", "seek", "fsync"
	Timeout bool   // set only for KindNetwork transport timeouts
	msg     string
	cause   error
}

func (e *Error) Error() string {
	var b []byte
	b = append(b, e.Kind.String()...)
	b = append(b, ": "...)

	if e.Table != "" {
		b = append(b, "table "...)
		b = append(b, e.Table...)
		b = append(b, ": "...)
	}

	if e.Op != "" {
		b = append(b, e.Op...)
		b = append(b, ": "...)
	}

	b = append(b, e.msg...)

	if e.cause != nil {
		b = append(b, ": "...)
		b = append(b, e.cause.Error()...)
	}

	return string(b)
}

func (e *Error) Unwrap() error { return e.cause }

func networkErr(format string, args ...any) *Error {
	return &Error{Kind: KindNetwork, msg: fmt.Sprintf(format, args...)}
}

func networkErrWrap(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindNetwork, msg: fmt.Sprintf(format, args...), cause: cause}
}

func networkTimeout(cause error) *Error {
	return &Error{Kind: KindNetwork, Timeout: true, msg: "transport deadline exceeded", cause: cause}
}

func databaseErr(table, op string, cause error) *Error {
	return &Error{Kind: KindDatabase, Table: table, Op: op, msg: "filesystem operation failed", cause: cause}
}

func databaseLockErr(failure *dblock.Failure) *Error {
	var reason string

	switch failure.Reason {
	case dblock.ReasonInUse:
		reason = "already locked"
	case dblock.ReasonUnsupported:
		reason = "locking probably not supported by this filesystem"
	default:
		reason = "unknown"
		if failure.Explanation != "" {
			reason = failure.Explanation
		}
	}

	return &Error{Kind: KindDatabaseLock, msg: reason, cause: failure}
}

func unexpectedErr(format string, args ...any) *Error {
	return &Error{Kind: KindUnexpected, msg: fmt.Sprintf(format, args...)}
}

// IsTimeout reports whether err is a Network-kind error caused by a
// transport deadline, per spec.md §7's Network/Timeout sub-variant.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNetwork && e.Timeout
}
