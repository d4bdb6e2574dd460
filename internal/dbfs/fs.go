// Package dbfs provides the filesystem abstraction the replicated-database
// components (internal/dblock, internal/version, internal/replicate) are
// built against, so that the crash-safety properties of the base-file
// rewrite and block patch can be exercised against a fault-injecting fake
// as well as the real filesystem.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using the [os] package
//   - [Fake]: fault-injecting wrapper around [Real], for tests
package dbfs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// This interface is satisfied by [os.File] and can be used with all
// standard library functions that accept [io.Reader], [io.Writer],
// [io.Seeker], or [io.Closer].
//
// [File.Fd] must return a valid OS file descriptor usable with syscalls
// (for example flock) for as long as the file stays open - this is what
// lets internal/dblock take an exclusive lock on it.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor. Used for flock in internal/dblock.
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file.
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to stable storage.
	Sync() error
}

// FS defines the filesystem operations the replicated-database
// components need: open/create/rename/remove plus directory creation.
// Paths use OS semantics, not the slash-separated io/fs convention.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See
	// [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Remove deletes a file. See [os.Remove]. Returns [os.ErrNotExist]
	// if the file is absent - callers that need the NFS "unlink to
	// distinguish ENOENT from a real failure" quirk check that directly.
	Remove(path string) error

	// Rename moves/renames a file. See [os.Rename]. Atomic within the
	// same directory on every filesystem this package targets.
	Rename(oldpath, newpath string) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
