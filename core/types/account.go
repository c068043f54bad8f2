package types

import "math/big"

// Account is the ledger view of a marketplace participant: its free balance
// and the holds placed on it.
type Account struct {
	Balance *big.Int `json:"balance"`
	Locks   []*Lock  `json:"locks"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0), Locks: []*Lock{}}
	}
	clone := &Account{Balance: big.NewInt(0), Locks: make([]*Lock, 0, len(a.Locks))}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	for _, lock := range a.Locks {
		clone.Locks = append(clone.Locks, lock.Clone())
	}
	return clone
}
