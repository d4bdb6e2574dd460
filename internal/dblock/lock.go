// Package dblock implements the replica database directory's write lock
// (component C3): a single exclusive advisory lock on the directory's
// "flintlock" file, acquired non-blocking so that a concurrent applier is
// rejected immediately with a cause the operator can act on, rather than
// hanging.
package dblock

import (
	"errors"
	"fmt"
	"os"

	"github.com/calvinalkan/flint-replicate/internal/dbfs"
	"golang.org/x/sys/unix"
)

// LockFileName is the name of the lock file inside a database directory.
const LockFileName = "flintlock"

// Reason categorizes why acquiring the lock failed, so callers (and the
// internal/replicate.Error taxonomy) can distinguish "someone else is
// replicating into this directory right now" from "this filesystem can't
// even do advisory locking".
type Reason int

const (
	// ReasonInUse means another process already holds the lock.
	ReasonInUse Reason = iota
	// ReasonUnsupported means the filesystem doesn't support the locking
	// primitive (reported, never silently treated as "lock acquired").
	ReasonUnsupported
	// ReasonUnknown covers every other failure; Explanation carries
	// whatever detail is available.
	ReasonUnknown
)

func (r Reason) String() string {
	switch r {
	case ReasonInUse:
		return "in use"
	case ReasonUnsupported:
		return "locking unsupported"
	case ReasonUnknown:
		return "unknown"
	default:
		return "invalid reason"
	}
}

// Failure is returned by [Lock] when the lock could not be acquired.
type Failure struct {
	Reason      Reason
	Explanation string
	cause       error
}

func (f *Failure) Error() string {
	if f.Explanation != "" {
		return fmt.Sprintf("%s: %s", f.Reason, f.Explanation)
	}

	return f.Reason.String()
}

func (f *Failure) Unwrap() error { return f.cause }

// Guard represents a held exclusive lock on a database directory. Release
// drops it; Release is idempotent.
type Guard struct {
	file dbfs.File
}

// Release releases the lock and closes the underlying file descriptor.
// Safe to call more than once.
func (g *Guard) Release() error {
	if g.file == nil {
		return nil
	}

	fd := int(g.file.Fd())
	unlockErr := unix.Flock(fd, unix.LOCK_UN)
	closeErr := g.file.Close()
	g.file = nil

	if unlockErr != nil {
		return fmt.Errorf("unlocking: %w", unlockErr)
	}

	if closeErr != nil {
		return fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return nil
}

// Lock acquires the exclusive write lock on dir's flintlock file,
// non-blocking: if another applier already holds it, Lock returns
// immediately with a [*Failure] whose Reason is [ReasonInUse]. The lock
// file is created if absent.
//
// Only exclusive locking is used by the applier (spec.md §4.3); there is
// no shared/read-lock mode here.
func Lock(fsys dbfs.FS, dir string) (*Guard, error) {
	path := dir + "/" + LockFileName

	file, err := fsys.OpenFile(path, lockOpenFlags, lockFilePerm)
	if err != nil {
		return nil, &Failure{Reason: ReasonUnknown, Explanation: err.Error(), cause: err}
	}

	fd := int(file.Fd())

	err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return &Guard{file: file}, nil
	}

	_ = file.Close()

	return nil, classifyFlockError(err)
}

const (
	lockOpenFlags = os.O_RDWR | os.O_CREATE
	lockFilePerm  = 0o600
)

func classifyFlockError(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return &Failure{Reason: ReasonUnknown, Explanation: err.Error(), cause: err}
	}

	switch errno {
	case unix.EWOULDBLOCK: // == unix.EAGAIN on every platform x/sys/unix supports here
		return &Failure{Reason: ReasonInUse, cause: err}
	case unix.ENOLCK, unix.ENOSYS, unix.EOPNOTSUPP, unix.EINVAL:
		return &Failure{Reason: ReasonUnsupported, Explanation: errno.Error(), cause: err}
	default:
		return &Failure{Reason: ReasonUnknown, Explanation: errno.Error(), cause: err}
	}
}
