package replicate

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/calvinalkan/flint-replicate/internal/transport"
)

// applyBlocks implements C8: decode a block-patch item and overwrite the
// affected blocks of <table>.DB in place.
//
// Wire shape (after the table name already consumed by the caller): one
// uint block size, then a sequence of (block_number uint, block_bytes)
// pairs terminated by a block_number of 0. block_bytes is exactly
// blockSize raw bytes - not length-prefixed, since the length is already
// known from blockSize (spec.md §3, §4.8 step 3). Blocks are numbered
// from 1; block N occupies byte offset (N-1)*blocksize.
func (a *Applier) applyBlocks(r *transport.Reader, dir, table string, _ transport.Conn, deadline time.Time) error {
	blockSize, err := a.decodeUint(r, deadline)
	if err != nil {
		return err
	}

	if blockSize == 0 {
		return networkErr("zero block size for table %s", table)
	}

	path := filepath.Join(dir, table+".DB")

	f, err := a.fsys.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return databaseErr(table, "open", err)
	}

	wrote := false

	for {
		blockNum, err := a.decodeUint(r, deadline)
		if err != nil {
			_ = f.Close()
			return err
		}

		if blockNum == 0 {
			break
		}

		content, err := a.decodeFixed(r, int(blockSize), deadline)
		if err != nil {
			_ = f.Close()
			return err
		}

		offset := int64(blockNum-1) * int64(blockSize)

		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return databaseErr(table, "seek", err)
		}

		if err := writeFull(f, content); err != nil {
			_ = f.Close()
			return databaseErr(table, "write", err)
		}

		wrote = true
	}

	if wrote {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return databaseErr(table, "fsync", err)
		}
	}

	if err := f.Close(); err != nil {
		return databaseErr(table, "close", err)
	}

	return nil
}
