package dbfs

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// Fake wraps a [Real] filesystem and injects the specific faults the
// base-file rewrite (C7) and block patch (C8) crash-safety properties need
// to be tested against, modeled on this codebase's pkg/fs Chaos/Crash
// fault-injecting doubles but scoped to rename/fsync/write rather than
// every os.* call.
//
// Fake is safe for concurrent use.
type Fake struct {
	real FS

	mu             sync.Mutex
	renameLostAck  int // remaining Rename calls that succeed on disk but report failure
	renameFail     int // remaining Rename calls that both fail and leave the source alone
	fsyncFail      int // remaining File.Sync calls that fail
	shortWriteOnce bool
	shortWriteN    int
}

// NewFake returns a Fake backed by the real filesystem rooted wherever the
// caller's paths point (typically a t.TempDir()).
func NewFake() *Fake {
	return &Fake{real: NewReal()}
}

// InjectRenameLostAck arranges for the next n Rename calls to perform the
// rename on disk (the new name really does take effect) but return an
// error anyway - the NFS quirk described in spec.md §4.7/§9: the server
// committed the rename but the client never saw the acknowledgement.
func (f *Fake) InjectRenameLostAck(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renameLostAck = n
}

// InjectRenameFail arranges for the next n Rename calls to genuinely fail:
// the source file is left in place, untouched, and an error is returned.
func (f *Fake) InjectRenameFail(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renameFail = n
}

// InjectFsyncFail arranges for the next n File.Sync calls across any file
// opened through this Fake to fail.
func (f *Fake) InjectFsyncFail(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fsyncFail = n
}

// InjectShortWrite arranges for the very next File.Write call to write only
// the first n bytes offered and report success (n, nil) - valid io.Writer
// behavior that a correct caller must treat as "keep writing", not assume
// completed.
func (f *Fake) InjectShortWrite(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shortWriteOnce = true
	f.shortWriteN = n
}

var errSimulatedRenameFailure = errors.New("dbfs: simulated rename failure")
var errSimulatedFsyncFailure = errors.New("dbfs: simulated fsync failure")

func (f *Fake) Open(path string) (File, error) { return f.wrap(f.real.Open(path)) }

func (f *Fake) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return f.wrap(f.real.OpenFile(path, flag, perm))
}

func (f *Fake) MkdirAll(path string, perm os.FileMode) error { return f.real.MkdirAll(path, perm) }

func (f *Fake) Stat(path string) (os.FileInfo, error) { return f.real.Stat(path) }

func (f *Fake) Remove(path string) error { return f.real.Remove(path) }

func (f *Fake) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	lostAck := f.renameLostAck > 0
	if lostAck {
		f.renameLostAck--
	}

	fail := !lostAck && f.renameFail > 0
	if fail {
		f.renameFail--
	}
	f.mu.Unlock()

	if fail {
		return fmt.Errorf("rename %q -> %q: %w", oldpath, newpath, errSimulatedRenameFailure)
	}

	if err := f.real.Rename(oldpath, newpath); err != nil {
		return err
	}

	if lostAck {
		return fmt.Errorf("rename %q -> %q: %w", oldpath, newpath, errSimulatedRenameFailure)
	}

	return nil
}

func (f *Fake) wrap(file File, err error) (File, error) {
	if err != nil {
		return nil, err
	}

	return &fakeFile{File: file, owner: f}, nil
}

// fakeFile decorates a real [File] to apply the owning Fake's injected
// fsync/write faults.
type fakeFile struct {
	File
	owner *Fake
}

func (ff *fakeFile) Sync() error {
	ff.owner.mu.Lock()
	fail := ff.owner.fsyncFail > 0
	if fail {
		ff.owner.fsyncFail--
	}
	ff.owner.mu.Unlock()

	if fail {
		return errSimulatedFsyncFailure
	}

	return ff.File.Sync()
}

func (ff *fakeFile) Write(p []byte) (int, error) {
	ff.owner.mu.Lock()
	short := ff.owner.shortWriteOnce
	n := ff.owner.shortWriteN
	if short {
		ff.owner.shortWriteOnce = false
	}
	ff.owner.mu.Unlock()

	if short && n < len(p) {
		written, err := ff.File.Write(p[:n])
		if err != nil {
			return written, err
		}

		return written, nil
	}

	return ff.File.Write(p)
}

// Compile-time interface checks.
var _ FS = (*Fake)(nil)
var _ File = (*fakeFile)(nil)
