package version_test

import (
	"testing"

	"github.com/calvinalkan/flint-replicate/internal/dbfs"
	"github.com/calvinalkan/flint-replicate/internal/version"
)

func TestOpenRevision_PicksHigherOfTwoBaseFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := dbfs.NewFake()

	if err := version.WriteBaseRevision(fsys, dir, "record", 'A', 7); err != nil {
		t.Fatalf("WriteBaseRevision A: %v", err)
	}

	if err := version.WriteBaseRevision(fsys, dir, "record", 'B', 8); err != nil {
		t.Fatalf("WriteBaseRevision B: %v", err)
	}

	rev, err := version.OpenRevision(fsys, dir, "record")
	if err != nil {
		t.Fatalf("OpenRevision: %v", err)
	}

	if rev != 8 {
		t.Fatalf("OpenRevision = %d, want 8", rev)
	}
}

func TestOpenRevision_SingleBaseFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := dbfs.NewFake()

	if err := version.WriteBaseRevision(fsys, dir, "record", 'A', 3); err != nil {
		t.Fatalf("WriteBaseRevision: %v", err)
	}

	rev, err := version.OpenRevision(fsys, dir, "record")
	if err != nil {
		t.Fatalf("OpenRevision: %v", err)
	}

	if rev != 3 {
		t.Fatalf("OpenRevision = %d, want 3", rev)
	}
}

func TestOpenRevision_NoBaseFilesIsError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := dbfs.NewFake()

	if _, err := version.OpenRevision(fsys, dir, "record"); err == nil {
		t.Fatal("expected error when no base file is readable")
	}
}
