package escrow

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"dataspace/core/types"
)

// DealStatus enumerates the persisted lifecycle states of a purchase.
type DealStatus uint8

const (
	DealStatusLocked DealStatus = iota + 1
	DealStatusConfirmed
	DealStatusReleased
)

func (s DealStatus) String() string {
	switch s {
	case DealStatusLocked:
		return "locked"
	case DealStatusConfirmed:
		return "confirmed"
	case DealStatusReleased:
		return "released"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Settled reports whether the deal reached a terminal state.
func (s DealStatus) Settled() bool {
	return s == DealStatusConfirmed || s == DealStatusReleased
}

// Deal records a purchase of a person's submission by a company. There is at
// most one deal per (company, person, order) triple; a new purchase after
// settlement overwrites the previous record.
type Deal struct {
	ID          [32]byte
	Company     [20]byte
	Person      [20]byte
	OrderID     uint64
	Amount      *big.Int
	LockID      types.LockID
	LockedUntil uint64
	ContentKey  uint64
	Status      DealStatus
	CreatedAt   uint64
	SettledAt   uint64
}

// Clone returns a deep copy of the deal.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Amount != nil {
		clone.Amount = new(big.Int).Set(d.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// IDHex returns the 0x-prefixed deal identifier.
func (d *Deal) IDHex() string {
	if d == nil {
		return ""
	}
	return "0x" + hex.EncodeToString(d.ID[:])
}

var (
	dealDomain   = []byte("dataspace/escrow/deal")
	lockDomain   = []byte("dataspace/escrow/lock")
	punishDomain = []byte("dataspace/escrow/punish")
)

// DealID derives the deterministic identifier of the (company, person, order)
// triple.
func DealID(company, person [20]byte, orderID uint64) [32]byte {
	return tripleHash(dealDomain, company, person, orderID)
}

// LockIDFor returns the id of the escrow lock placed on the person by buy.
func LockIDFor(company, person [20]byte, orderID uint64) types.LockID {
	return types.LockID(tripleHash(lockDomain, company, person, orderID))
}

// PunitiveLockIDFor returns the id of the lock placed on the company when a
// tip-off turns out to be unjustified.
func PunitiveLockIDFor(company, person [20]byte, orderID uint64) types.LockID {
	return types.LockID(tripleHash(punishDomain, company, person, orderID))
}

func tripleHash(domain []byte, company, person [20]byte, orderID uint64) [32]byte {
	var order [8]byte
	binary.BigEndian.PutUint64(order[:], orderID)
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(domain, company[:], person[:], order[:]))
	return out
}
