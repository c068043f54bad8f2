package bank

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"dataspace/core/events"
	"dataspace/core/state"
	"dataspace/core/types"
	"dataspace/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *events.Buffer) {
	t.Helper()
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	buf := &events.Buffer{}
	ledger.SetEmitter(buf)
	return ledger, buf
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func lockID(b byte) types.LockID {
	var out types.LockID
	out[0] = b
	return out
}

func TestCreditAndTransfer(t *testing.T) {
	ledger, buf := newTestLedger(t)
	alice, bob := addr(1), addr(2)

	require.NoError(t, ledger.Credit(alice, big.NewInt(100)))
	require.NoError(t, ledger.Transfer(alice, bob, big.NewInt(40)))

	bal, err := ledger.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, int64(60), bal.Int64())
	bal, err = ledger.Balance(bob)
	require.NoError(t, err)
	require.Equal(t, int64(40), bal.Int64())

	emitted := buf.Events()
	require.Len(t, emitted, 2)
	require.Equal(t, events.TypeLedgerCredit, emitted[0].EventType())
	require.Equal(t, events.TypeLedgerTransfer, emitted[1].EventType())
}

func TestTransferInsufficientFunds(t *testing.T) {
	ledger, buf := newTestLedger(t)
	alice, bob := addr(1), addr(2)
	require.NoError(t, ledger.Credit(alice, big.NewInt(10)))
	buf.Reset()

	err := ledger.Transfer(alice, bob, big.NewInt(11))
	require.True(t, errors.Is(err, ErrInsufficientFunds))

	bal, err := ledger.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, int64(10), bal.Int64())
	require.Empty(t, buf.Events())
}

func TestTransferRespectsLargestTransferLock(t *testing.T) {
	ledger, _ := newTestLedger(t)
	alice, bob := addr(1), addr(2)
	require.NoError(t, ledger.Credit(alice, big.NewInt(100)))
	require.NoError(t, ledger.SetLock(lockID(1), alice, big.NewInt(30), 10, types.ReasonsAll))
	require.NoError(t, ledger.SetLock(lockID(2), alice, big.NewInt(50), 10, types.ReasonsAll))
	// Reserve-only locks never freeze transfers.
	require.NoError(t, ledger.SetLock(lockID(3), alice, big.NewInt(90), 10, types.ReasonReserve))

	usable, err := ledger.Usable(alice)
	require.NoError(t, err)
	require.Equal(t, int64(50), usable.Int64())

	require.ErrorIs(t, ledger.Transfer(alice, bob, big.NewInt(51)), ErrInsufficientFunds)
	require.NoError(t, ledger.Transfer(alice, bob, big.NewInt(50)))
}

func TestLockExpiresWithHeight(t *testing.T) {
	ledger, _ := newTestLedger(t)
	alice, bob := addr(1), addr(2)
	require.NoError(t, ledger.Credit(alice, big.NewInt(10)))
	require.NoError(t, ledger.SetLock(lockID(1), alice, big.NewInt(10), 5, types.ReasonsAll))

	require.ErrorIs(t, ledger.Transfer(alice, bob, big.NewInt(1)), ErrInsufficientFunds)

	require.NoError(t, ledger.SetHeight(5))
	locks, err := ledger.Locks(alice)
	require.NoError(t, err)
	require.Empty(t, locks)
	require.NoError(t, ledger.Transfer(alice, bob, big.NewInt(10)))
}

func TestSetLockOverwritesByID(t *testing.T) {
	ledger, _ := newTestLedger(t)
	alice := addr(1)
	require.NoError(t, ledger.SetLock(lockID(1), alice, big.NewInt(10), 5, types.ReasonsAll))
	require.NoError(t, ledger.SetLock(lockID(1), alice, big.NewInt(20), 8, types.ReasonsAll))

	locks, err := ledger.Locks(alice)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	require.Equal(t, int64(20), locks[0].Amount.Int64())
	require.Equal(t, uint64(8), locks[0].Until)

	lock, ok, err := ledger.Lock(lockID(1), alice)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, lockID(1), lock.ID)
}

func TestRemoveLock(t *testing.T) {
	ledger, buf := newTestLedger(t)
	alice := addr(1)
	require.NoError(t, ledger.SetLock(lockID(1), alice, big.NewInt(10), 5, types.ReasonsAll))
	buf.Reset()

	require.NoError(t, ledger.RemoveLock(lockID(2), alice))
	require.Empty(t, buf.Events())

	require.NoError(t, ledger.RemoveLock(lockID(1), alice))
	locks, err := ledger.Locks(alice)
	require.NoError(t, err)
	require.Empty(t, locks)
	require.Len(t, buf.Events(), 1)
	require.Equal(t, events.TypeLedgerLockRemoved, buf.Events()[0].EventType())
}

func TestHeightCannotRegress(t *testing.T) {
	ledger, _ := newTestLedger(t)
	require.NoError(t, ledger.SetHeight(7))
	require.ErrorIs(t, ledger.SetHeight(6), ErrHeightRegression)
	height, err := ledger.Height()
	require.NoError(t, err)
	require.Equal(t, uint64(7), height)
}

func TestRejectsNegativeAndOverflowingAmounts(t *testing.T) {
	ledger, _ := newTestLedger(t)
	alice := addr(1)
	require.ErrorIs(t, ledger.Credit(alice, big.NewInt(-1)), ErrNegativeAmount)

	ceiling := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.NoError(t, ledger.Credit(alice, ceiling))
	require.ErrorIs(t, ledger.Credit(alice, big.NewInt(1)), ErrBalanceOverflow)
}
