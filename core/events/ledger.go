package events

import (
	"math/big"
	"strconv"

	"dataspace/core/types"
	"dataspace/crypto"
)

const (
	TypeLedgerCredit      = "dataspace.ledger.credit"
	TypeLedgerTransfer    = "dataspace.ledger.transfer"
	TypeLedgerLockSet     = "dataspace.ledger.lock_set"
	TypeLedgerLockRemoved = "dataspace.ledger.lock_removed"
)

type LedgerCredit struct {
	Account [20]byte
	Amount  *big.Int
}

func (LedgerCredit) EventType() string { return TypeLedgerCredit }

func (e LedgerCredit) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerCredit,
		Attributes: map[string]string{
			"account": crypto.AccountAddress(e.Account).String(),
			"amount":  formatAmount(e.Amount),
		},
	}
}

type LedgerTransfer struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (LedgerTransfer) EventType() string { return TypeLedgerTransfer }

func (e LedgerTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerTransfer,
		Attributes: map[string]string{
			"from":   crypto.AccountAddress(e.From).String(),
			"to":     crypto.AccountAddress(e.To).String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

type LedgerLockSet struct {
	Account [20]byte
	Lock    types.Lock
}

func (LedgerLockSet) EventType() string { return TypeLedgerLockSet }

func (e LedgerLockSet) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerLockSet,
		Attributes: map[string]string{
			"account": crypto.AccountAddress(e.Account).String(),
			"lockId":  e.Lock.ID.String(),
			"amount":  formatAmount(e.Lock.Amount),
			"until":   strconv.FormatUint(e.Lock.Until, 10),
			"reasons": strconv.FormatUint(uint64(e.Lock.Reasons), 10),
		},
	}
}

type LedgerLockRemoved struct {
	Account [20]byte
	LockID  types.LockID
}

func (LedgerLockRemoved) EventType() string { return TypeLedgerLockRemoved }

func (e LedgerLockRemoved) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerLockRemoved,
		Attributes: map[string]string{
			"account": crypto.AccountAddress(e.Account).String(),
			"lockId":  e.LockID.String(),
		},
	}
}
