package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when a company acts on itself or when the
	// caller is neither side of the triple.
	ErrUnauthorized = errors.New("escrow engine: caller not authorized")
	// ErrNotPurchased is returned when a company reads data it has not bought.
	ErrNotPurchased = errors.New("escrow engine: order not purchased")

	ErrOrderListNotFound = errors.New("escrow engine: company has no orders")
	ErrOrderNotFound     = errors.New("escrow engine: order not found")
	ErrDataNotFound      = errors.New("escrow engine: no data uploaded for order")
	// ErrNoActiveLock is returned by Confirm when no locked deal exists.
	ErrNoActiveLock = errors.New("escrow engine: no active lock for order")

	// ErrDealActive is returned by Buy while the previous purchase is still locked.
	ErrDealActive = errors.New("escrow engine: deal already locked")
	// ErrDealSettled is returned by TipOff once the deal was confirmed or released.
	ErrDealSettled = errors.New("escrow engine: deal already settled")

	errSelfDeal = fmt.Errorf("%w: company and person must differ", ErrUnauthorized)

	errNilState  = errors.New("escrow engine: state not configured")
	errNilLedger = errors.New("escrow engine: ledger not configured")
)

// IsNotFound reports whether err is one of the engine's lookup failures.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderListNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrDataNotFound) ||
		errors.Is(err, ErrNoActiveLock)
}
