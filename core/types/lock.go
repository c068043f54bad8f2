package types

import (
	"encoding/hex"
	"math/big"
)

// LockID names a ledger hold. Setting a lock under an existing id on the same
// account replaces it.
type LockID [32]byte

func (id LockID) String() string { return hex.EncodeToString(id[:]) }

// LockReasons is the bit set of operations a lock blocks.
type LockReasons uint8

const (
	ReasonTransfer LockReasons = 1 << iota
	ReasonReserve
	ReasonFee

	ReasonsAll = ReasonTransfer | ReasonReserve | ReasonFee
)

// Has reports whether every bit in other is present.
func (r LockReasons) Has(other LockReasons) bool { return r&other == other }

// Lock is an account-scoped hold of funds that stays active while the ledger
// height is below Until.
type Lock struct {
	ID      LockID      `json:"id"`
	Amount  *big.Int    `json:"amount"`
	Until   uint64      `json:"until"`
	Reasons LockReasons `json:"reasons"`
}

// Active reports whether the lock still binds at the given height.
func (l *Lock) Active(height uint64) bool {
	return l != nil && height < l.Until
}

// Clone returns a deep copy of the lock.
func (l *Lock) Clone() *Lock {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}
