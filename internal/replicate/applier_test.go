package replicate_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calvinalkan/flint-replicate/internal/dblock"
	"github.com/calvinalkan/flint-replicate/internal/dbfs"
	"github.com/calvinalkan/flint-replicate/internal/replicate"
	"github.com/calvinalkan/flint-replicate/internal/transport"
	"github.com/calvinalkan/flint-replicate/internal/version"
	"github.com/calvinalkan/flint-replicate/internal/wire"
)

// fakeConn is an in-memory [transport.Conn] that hands out a fixed message
// kind and feeds a pre-built changeset buffer in bounded installments.
type fakeConn struct {
	kind         byte
	data         []byte
	offset       int
	chunkPerRead int
}

func (c *fakeConn) BeginMessage(time.Time) (byte, error) {
	return c.kind, nil
}

func (c *fakeConn) EnsureChunk(buf []byte, minLen int, _ time.Time) ([]byte, error) {
	chunk := c.chunkPerRead
	if chunk <= 0 {
		chunk = len(c.data)
	}

	for len(buf) < minLen {
		if c.offset >= len(c.data) {
			return buf, transport.ErrTimeout
		}

		end := c.offset + chunk
		if end > len(c.data) {
			end = len(c.data)
		}

		buf = append(buf, c.data[c.offset:end]...)
		c.offset = end
	}

	return buf, nil
}

// changesetBuilder assembles a valid changeset byte stream field by field.
type changesetBuilder struct {
	buf []byte
}

func newChangeset(start, end uint64, changesType byte) *changesetBuilder {
	b := &changesetBuilder{buf: append([]byte(nil), replicate.ChangesMagic...)}
	b.buf = wire.AppendUint(b.buf, replicate.ProtocolVersion)
	b.buf = wire.AppendUint(b.buf, start)
	b.buf = wire.AppendUint(b.buf, end)
	b.buf = append(b.buf, changesType)

	return b
}

func (b *changesetBuilder) base(table string, letter byte, content []byte) *changesetBuilder {
	b.buf = append(b.buf, 1)
	b.buf = wire.AppendString(b.buf, []byte(table))
	b.buf = append(b.buf, letter)
	b.buf = wire.AppendString(b.buf, content)

	return b
}

func (b *changesetBuilder) blocks(table string, blockSize uint64, pairs ...[]byte) *changesetBuilder {
	b.buf = append(b.buf, 2)
	b.buf = wire.AppendString(b.buf, []byte(table))
	b.buf = wire.AppendUint(b.buf, blockSize)

	for i, content := range pairs {
		b.buf = wire.AppendUint(b.buf, uint64(i+1))
		b.buf = append(b.buf, content...)
	}

	b.buf = wire.AppendUint(b.buf, 0)

	return b
}

func (b *changesetBuilder) finish(required uint64) []byte {
	buf := append(b.buf, 0) // chunkEnd
	buf = wire.AppendUint(buf, required)

	return buf
}

func deadline() time.Time { return time.Now().Add(5 * time.Second) }

// Scenario 1: empty item list still produces a valid re-encoded revision.
func TestApplyChangeset_EmptyItemList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := dbfs.NewFake()

	data := newChangeset(5, 6, 0).finish(6)
	conn := &fakeConn{kind: replicate.MsgReplyChangeset, data: data}

	got, err := replicate.NewApplier(fsys).ApplyChangeset(dir, conn, deadline(), false)
	if err != nil {
		t.Fatalf("ApplyChangeset: %v", err)
	}

	v, err := wire.DecodeRevision(got)
	if err != nil {
		t.Fatalf("DecodeRevision: %v", err)
	}

	if v != 6 {
		t.Fatalf("required revision = %d, want 6", v)
	}
}

// Scenario 2: a base-file item rewrites <table>.base<letter> on disk.
func TestApplyChangeset_BaseRewrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := dbfs.NewFake()

	content := []byte("new base file content")
	data := newChangeset(1, 2, 0).base("termlist", 'A', content).finish(2)
	conn := &fakeConn{kind: replicate.MsgReplyChangeset, data: data, chunkPerRead: 7}

	_, err := replicate.NewApplier(fsys).ApplyChangeset(dir, conn, deadline(), false)
	if err != nil {
		t.Fatalf("ApplyChangeset: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "termlist.baseA"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != string(content) {
		t.Fatalf("base file content = %q, want %q", got, content)
	}

	if _, err := os.Stat(filepath.Join(dir, "termlisttmp")); !os.IsNotExist(err) {
		t.Fatalf("tmp file should not survive a successful rewrite, stat err = %v", err)
	}
}

// Scenario 3: a two-block patch overwrites both blocks in place.
func TestApplyChangeset_TwoBlockPatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := dbfs.NewFake()

	const blockSize = 8

	original := make([]byte, blockSize*2)
	for i := range original {
		original[i] = 0xFF
	}

	if err := os.WriteFile(filepath.Join(dir, "postlist.DB"), original, 0o644); err != nil {
		t.Fatalf("seed DB file: %v", err)
	}

	block1 := []byte("AAAAAAAA")
	block2 := []byte("BBBBBBBB")

	data := newChangeset(1, 2, 0).blocks("postlist", blockSize, block1, block2).finish(2)
	conn := &fakeConn{kind: replicate.MsgReplyChangeset, data: data}

	_, err := replicate.NewApplier(fsys).ApplyChangeset(dir, conn, deadline(), false)
	if err != nil {
		t.Fatalf("ApplyChangeset: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "postlist.DB"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	want := append(append([]byte(nil), block1...), block2...)
	if string(got) != string(want) {
		t.Fatalf("DB file content = %q, want %q", got, want)
	}
}

// Scenario 4: a start_revision that doesn't match the replica's current
// revision is a Network-kind error, not applied.
func TestApplyChangeset_RevisionMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := dbfs.NewFake()

	if err := version.WriteBaseRevision(fsys, dir, "record", 'A', 10); err != nil {
		t.Fatalf("seed record base: %v", err)
	}

	data := newChangeset(5, 6, 0).finish(6)
	conn := &fakeConn{kind: replicate.MsgReplyChangeset, data: data}

	_, err := replicate.NewApplier(fsys).ApplyChangeset(dir, conn, deadline(), true)

	var repErr *replicate.Error
	if !errors.As(err, &repErr) {
		t.Fatalf("err = %v, want *replicate.Error", err)
	}

	if repErr.Kind != replicate.KindNetwork {
		t.Fatalf("Kind = %v, want KindNetwork", repErr.Kind)
	}
}

// Scenario 5: a DANGEROUS changes_type is rejected outright.
func TestApplyChangeset_UnsupportedChangesType(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := dbfs.NewFake()

	data := newChangeset(1, 2, 1).finish(2)
	conn := &fakeConn{kind: replicate.MsgReplyChangeset, data: data}

	_, err := replicate.NewApplier(fsys).ApplyChangeset(dir, conn, deadline(), false)

	var repErr *replicate.Error
	if !errors.As(err, &repErr) || repErr.Kind != replicate.KindNetwork {
		t.Fatalf("err = %v, want a KindNetwork *replicate.Error", err)
	}
}

// Scenario 6: a stream truncated mid-block surfaces a timeout, not a panic
// or a partially-applied block.
func TestApplyChangeset_TruncatedMidBlock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := dbfs.NewFake()

	const blockSize = 8

	original := make([]byte, blockSize)
	if err := os.WriteFile(filepath.Join(dir, "postlist.DB"), original, 0o644); err != nil {
		t.Fatalf("seed DB file: %v", err)
	}

	full := newChangeset(1, 2, 0).blocks("postlist", blockSize, []byte("AAAAAAAA")).finish(2)
	// Drop the 3 trailing bytes (block terminator, item end marker,
	// required_revision) and the last 4 bytes of the block itself.
	truncated := full[:len(full)-7]

	conn := &fakeConn{kind: replicate.MsgReplyChangeset, data: truncated}

	_, err := replicate.NewApplier(fsys).ApplyChangeset(dir, conn, deadline(), false)
	if err == nil {
		t.Fatal("ApplyChangeset succeeded on a truncated stream, want an error")
	}

	if !replicate.IsTimeout(err) {
		t.Fatalf("err = %v, want a timeout error", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "postlist.DB"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != string(original) {
		t.Fatalf("DB file content = %q, want it unchanged by the partial block", got)
	}
}

// Scenario 7: a second applier cannot proceed while another session holds
// the directory lock.
func TestApplyChangeset_ConcurrentApplierIsLocked(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := dbfs.NewFake()

	guard, err := dblock.Lock(fsys, dir)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer guard.Release()

	data := newChangeset(1, 2, 0).finish(2)
	conn := &fakeConn{kind: replicate.MsgReplyChangeset, data: data}

	_, err = replicate.NewApplier(fsys).ApplyChangeset(dir, conn, deadline(), false)

	var repErr *replicate.Error
	if !errors.As(err, &repErr) {
		t.Fatalf("err = %v, want *replicate.Error", err)
	}

	if repErr.Kind != replicate.KindDatabaseLock {
		t.Fatalf("Kind = %v, want KindDatabaseLock", repErr.Kind)
	}
}
