// Package bank is the in-state ledger the escrow engine runs against in this
// repository: balances, block height and account-scoped locks. Every method is
// a single read-modify-write against the state manager, so a call either fully
// applies or leaves state untouched.
package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"dataspace/core/events"
	"dataspace/core/state"
	"dataspace/core/types"
)

var (
	// ErrInsufficientFunds is returned when the usable balance cannot cover a transfer.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrBalanceOverflow is returned when a credit would exceed 256 bits.
	ErrBalanceOverflow  = errors.New("bank: balance overflow")
	ErrNegativeAmount   = errors.New("bank: amount must not be negative")
	ErrHeightRegression = errors.New("bank: height must not decrease")
	errUnavailable      = errors.New("bank: state unavailable")
)

var (
	heightKey     = []byte("bank/height")
	accountPrefix = []byte("bank/account/")
)

type storedAccount struct {
	Balance *big.Int
	Locks   []storedLock
}

type storedLock struct {
	ID      [32]byte
	Amount  *big.Int
	Until   uint64
	Reasons uint8
}

// Ledger owns balances and locks.
type Ledger struct {
	manager *state.Manager
	emitter events.Emitter
}

func NewLedger(manager *state.Manager) *Ledger {
	return &Ledger{manager: manager, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Height returns the current block height.
func (l *Ledger) Height() (uint64, error) {
	if l == nil || l.manager == nil {
		return 0, errUnavailable
	}
	var height uint64
	if _, err := l.manager.KVGet(heightKey, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// SetHeight moves the ledger to height. Block production is external; this is
// the hook the surrounding chain (or a test) uses to advance time.
func (l *Ledger) SetHeight(height uint64) error {
	current, err := l.Height()
	if err != nil {
		return err
	}
	if height < current {
		return fmt.Errorf("%w: %d < %d", ErrHeightRegression, height, current)
	}
	return l.manager.KVPut(heightKey, height)
}

// Account returns the balance and currently stored locks of addr.
func (l *Ledger) Account(addr [20]byte) (*types.Account, error) {
	stored, err := l.load(addr)
	if err != nil {
		return nil, err
	}
	return accountFromStored(stored), nil
}

// Balance returns the total balance of addr, locked or not.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	stored, err := l.load(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(stored.Balance), nil
}

// Locks returns the locks active at the current height.
func (l *Ledger) Locks(addr [20]byte) ([]*types.Lock, error) {
	height, err := l.Height()
	if err != nil {
		return nil, err
	}
	stored, err := l.load(addr)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Lock, 0, len(stored.Locks))
	for _, lock := range stored.Locks {
		converted := lockFromStored(lock)
		if converted.Active(height) {
			out = append(out, converted)
		}
	}
	return out, nil
}

// Lock returns the lock stored under id on addr when it is still active.
func (l *Ledger) Lock(id types.LockID, addr [20]byte) (*types.Lock, bool, error) {
	locks, err := l.Locks(addr)
	if err != nil {
		return nil, false, err
	}
	for _, lock := range locks {
		if lock.ID == id {
			return lock, true, nil
		}
	}
	return nil, false, nil
}

// Usable returns the part of the balance that a transfer may spend: the
// balance minus the largest active transfer lock. Locks overlap rather than
// stack.
func (l *Ledger) Usable(addr [20]byte) (*big.Int, error) {
	height, err := l.Height()
	if err != nil {
		return nil, err
	}
	stored, err := l.load(addr)
	if err != nil {
		return nil, err
	}
	usable, err := usableBalance(stored, height)
	if err != nil {
		return nil, err
	}
	return usable.ToBig(), nil
}

// Credit mints amount into addr. It is used for genesis allocations.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	stored, err := l.load(addr)
	if err != nil {
		return err
	}
	balance, err := toUint256(stored.Balance)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(balance, amt)
	if overflow {
		return ErrBalanceOverflow
	}
	stored.Balance = next.ToBig()
	if err := l.store(addr, stored); err != nil {
		return err
	}
	l.emitter.Emit(events.LedgerCredit{Account: addr, Amount: amt.ToBig()})
	return nil
}

// Transfer moves amount from one account to another. It fails without side
// effects when the sender's usable balance is short.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	if amt.IsZero() {
		return nil
	}
	height, err := l.Height()
	if err != nil {
		return err
	}
	sender, err := l.load(from)
	if err != nil {
		return err
	}
	usable, err := usableBalance(sender, height)
	if err != nil {
		return err
	}
	if usable.Lt(amt) {
		return fmt.Errorf("%w: usable %s, need %s", ErrInsufficientFunds, usable.Dec(), amt.Dec())
	}
	if from == to {
		return nil
	}
	recipient, err := l.load(to)
	if err != nil {
		return err
	}
	senderBal, err := toUint256(sender.Balance)
	if err != nil {
		return err
	}
	recipientBal, err := toUint256(recipient.Balance)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(recipientBal, amt)
	if overflow {
		return ErrBalanceOverflow
	}
	sender.Balance = new(uint256.Int).Sub(senderBal, amt).ToBig()
	recipient.Balance = credited.ToBig()
	if err := l.store(from, sender); err != nil {
		return err
	}
	if err := l.store(to, recipient); err != nil {
		return err
	}
	l.emitter.Emit(events.LedgerTransfer{From: from, To: to, Amount: amt.ToBig()})
	return nil
}

// SetLock places a hold on addr, replacing any lock already stored under id.
// The hold does not require the account to own amount.
func (l *Ledger) SetLock(id types.LockID, addr [20]byte, amount *big.Int, until uint64, reasons types.LockReasons) error {
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	height, err := l.Height()
	if err != nil {
		return err
	}
	stored, err := l.load(addr)
	if err != nil {
		return err
	}
	next := storedLock{ID: id, Amount: amt.ToBig(), Until: until, Reasons: uint8(reasons)}
	locks := make([]storedLock, 0, len(stored.Locks)+1)
	replaced := false
	for _, lock := range pruneExpired(stored.Locks, height) {
		if types.LockID(lock.ID) == id {
			locks = append(locks, next)
			replaced = true
			continue
		}
		locks = append(locks, lock)
	}
	if !replaced {
		locks = append(locks, next)
	}
	stored.Locks = locks
	if err := l.store(addr, stored); err != nil {
		return err
	}
	l.emitter.Emit(events.LedgerLockSet{Account: addr, Lock: *lockFromStored(next)})
	return nil
}

// RemoveLock drops the lock stored under id. Removing an absent lock is a
// no-op and emits nothing.
func (l *Ledger) RemoveLock(id types.LockID, addr [20]byte) error {
	height, err := l.Height()
	if err != nil {
		return err
	}
	stored, err := l.load(addr)
	if err != nil {
		return err
	}
	locks := make([]storedLock, 0, len(stored.Locks))
	removed := false
	for _, lock := range pruneExpired(stored.Locks, height) {
		if types.LockID(lock.ID) == id {
			removed = true
			continue
		}
		locks = append(locks, lock)
	}
	if !removed {
		return nil
	}
	stored.Locks = locks
	if err := l.store(addr, stored); err != nil {
		return err
	}
	l.emitter.Emit(events.LedgerLockRemoved{Account: addr, LockID: id})
	return nil
}

func (l *Ledger) load(addr [20]byte) (*storedAccount, error) {
	if l == nil || l.manager == nil {
		return nil, errUnavailable
	}
	var stored storedAccount
	if _, err := l.manager.KVGet(accountKey(addr), &stored); err != nil {
		return nil, fmt.Errorf("bank: load account: %w", err)
	}
	if stored.Balance == nil {
		stored.Balance = big.NewInt(0)
	}
	if stored.Locks == nil {
		stored.Locks = make([]storedLock, 0)
	}
	return &stored, nil
}

func (l *Ledger) store(addr [20]byte, stored *storedAccount) error {
	return l.manager.KVPut(accountKey(addr), stored)
}

func accountKey(addr [20]byte) []byte {
	key := make([]byte, len(accountPrefix)+len(addr))
	copy(key, accountPrefix)
	copy(key[len(accountPrefix):], addr[:])
	return key
}

func usableBalance(stored *storedAccount, height uint64) (*uint256.Int, error) {
	balance, err := toUint256(stored.Balance)
	if err != nil {
		return nil, err
	}
	frozen := new(uint256.Int)
	for _, lock := range stored.Locks {
		if height >= lock.Until || !types.LockReasons(lock.Reasons).Has(types.ReasonTransfer) {
			continue
		}
		amt, err := toUint256(lock.Amount)
		if err != nil {
			return nil, err
		}
		if frozen.Lt(amt) {
			frozen = amt
		}
	}
	if balance.Lt(frozen) {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Sub(balance, frozen), nil
}

func pruneExpired(locks []storedLock, height uint64) []storedLock {
	out := make([]storedLock, 0, len(locks))
	for _, lock := range locks {
		if height < lock.Until {
			out = append(out, lock)
		}
	}
	return out
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	return out, nil
}

func lockFromStored(lock storedLock) *types.Lock {
	amount := big.NewInt(0)
	if lock.Amount != nil {
		amount = new(big.Int).Set(lock.Amount)
	}
	return &types.Lock{
		ID:      types.LockID(lock.ID),
		Amount:  amount,
		Until:   lock.Until,
		Reasons: types.LockReasons(lock.Reasons),
	}
}

func accountFromStored(stored *storedAccount) *types.Account {
	account := &types.Account{
		Balance: new(big.Int).Set(stored.Balance),
		Locks:   make([]*types.Lock, 0, len(stored.Locks)),
	}
	for _, lock := range stored.Locks {
		account.Locks = append(account.Locks, lockFromStored(lock))
	}
	return account
}
