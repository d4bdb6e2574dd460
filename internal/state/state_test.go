package state_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/flint-replicate/internal/state"
)

func TestLoad_MissingFileReturnsZeroState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := state.Load(dir)
	require.NoError(t, err)

	if diff := cmp.Diff(state.State{}, s); diff != "" {
		t.Fatalf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	want := state.State{UUID: "abc123", LastAppliedRev: 42}

	require.NoError(t, state.Save(dir, want))

	got, err := state.Load(dir)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestSave_OverwritesPreviousState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	require.NoError(t, state.Save(dir, state.State{UUID: "first", LastAppliedRev: 1}))

	want := state.State{UUID: "second", LastAppliedRev: 2}
	require.NoError(t, state.Save(dir, want))

	got, err := state.Load(dir)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Load() mismatch (-want +got):\n%s", diff)
	}
}
