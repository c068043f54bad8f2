package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"dataspace/storage"
)

type sampleRecord struct {
	Name   string
	Amount *big.Int
	Items  []uint64
}

func TestManagerKVRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	manager := NewManager(db)

	var missing sampleRecord
	ok, err := manager.KVGet([]byte("absent"), &missing)
	require.NoError(t, err)
	require.False(t, ok)

	rec := sampleRecord{Name: "orders", Amount: big.NewInt(100), Items: []uint64{1, 2}}
	require.NoError(t, manager.KVPut([]byte("record"), &rec))

	var got sampleRecord
	ok, err = manager.KVGet([]byte("record"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "orders", got.Name)
	require.Equal(t, 0, got.Amount.Cmp(big.NewInt(100)))
	require.Equal(t, []uint64{1, 2}, got.Items)

	require.NoError(t, manager.KVDelete([]byte("record")))
	ok, err = manager.KVGet([]byte("record"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, manager.KVPut(nil, &rec))
}

func TestManagerAtomicCommitsOnSuccess(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db)

	err := manager.Atomic(func(tx *Manager) error {
		return tx.KVPut([]byte("nonce"), uint64(7))
	})
	require.NoError(t, err)

	var nonce uint64
	ok, err := manager.KVGet([]byte("nonce"), &nonce)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), nonce)
}

func TestManagerAtomicDiscardsOnError(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db)
	require.NoError(t, manager.KVPut([]byte("nonce"), uint64(1)))

	boom := errors.New("boom")
	err := manager.Atomic(func(tx *Manager) error {
		if err := tx.KVPut([]byte("nonce"), uint64(2)); err != nil {
			return err
		}
		if err := tx.KVPut([]byte("other"), uint64(3)); err != nil {
			return err
		}
		var seen uint64
		if _, err := tx.KVGet([]byte("nonce"), &seen); err != nil {
			return err
		}
		require.Equal(t, uint64(2), seen)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var nonce uint64
	_, err = manager.KVGet([]byte("nonce"), &nonce)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
	ok, err := manager.KVGet([]byte("other"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManagerAtomicDiscardsOnPanic(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db)

	require.Panics(t, func() {
		_ = manager.Atomic(func(tx *Manager) error {
			_ = tx.KVPut([]byte("k"), uint64(1))
			panic("halt")
		})
	})
	require.Zero(t, db.Len())
}
