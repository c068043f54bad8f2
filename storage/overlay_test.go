package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverlayCommitFlushesToParent(t *testing.T) {
	parent := NewMemDB()
	require.NoError(t, parent.Put([]byte("stale"), []byte("old")))

	ov := NewOverlay(parent)
	require.NoError(t, ov.Put([]byte("fresh"), []byte("new")))
	require.NoError(t, ov.Delete([]byte("stale")))

	// Pending writes are visible through the overlay only.
	got, err := ov.Get([]byte("fresh"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got)
	_, err = ov.Get([]byte("stale"))
	require.ErrorIs(t, err, ErrNotFound)
	_, err = parent.Get([]byte("fresh"))
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 2, ov.Dirty())

	require.NoError(t, ov.Commit())
	got, err = parent.Get([]byte("fresh"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got)
	ok, err := parent.Has([]byte("stale"))
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, ov.Put([]byte("late"), nil))
	require.Error(t, ov.Commit())
}

func TestOverlayDiscardLeavesParentUntouched(t *testing.T) {
	parent := NewMemDB()
	require.NoError(t, parent.Put([]byte("k"), []byte("v")))

	ov := NewOverlay(parent)
	require.NoError(t, ov.Put([]byte("k"), []byte("changed")))
	require.NoError(t, ov.Put([]byte("other"), []byte("x")))
	ov.Discard()

	got, err := parent.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
	require.Equal(t, 1, parent.Len())
}

func TestOverlayStacksIntoParentJournal(t *testing.T) {
	base := NewMemDB()
	outer := NewOverlay(base)
	inner := NewOverlay(outer)

	require.NoError(t, inner.Put([]byte("k"), []byte("v")))
	require.NoError(t, inner.Commit())

	got, err := outer.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
	require.Zero(t, base.Len())

	require.NoError(t, outer.Commit())
	got, err = base.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}
