package escrow

import (
	"strconv"

	"dataspace/core/types"
	"dataspace/crypto"
)

const (
	EventTypeTransfered = "dataspace.escrow.transfered"
	EventTypeConfirmed  = "dataspace.escrow.confirmed"
	EventTypeTippedOff  = "dataspace.escrow.tipped_off"
	EventTypeDownloaded = "dataspace.escrow.downloaded"
)

// NewTransferedEvent returns the canonical payload emitted once a purchase has
// paid the person and locked the payout.
func NewTransferedEvent(d *Deal) *types.Event {
	attrs := dealAttributes(d)
	if d != nil {
		attrs["amount"] = d.Amount.String()
		attrs["lockId"] = d.LockID.String()
		attrs["lockedUntil"] = strconv.FormatUint(d.LockedUntil, 10)
		attrs["contentKey"] = strconv.FormatUint(d.ContentKey, 10)
	}
	return &types.Event{Type: EventTypeTransfered, Attributes: attrs}
}

// NewConfirmedEvent returns the canonical payload for a confirmed purchase.
func NewConfirmedEvent(company, person [20]byte, orderID uint64) *types.Event {
	return &types.Event{
		Type: EventTypeConfirmed,
		Attributes: map[string]string{
			"company": crypto.AccountAddress(company).String(),
			"person":  crypto.AccountAddress(person).String(),
			"orderId": strconv.FormatUint(orderID, 10),
		},
	}
}

// NewTippedOffEvent carries the verdict of a tip-off. A true verdict means the
// uploaded data looked genuine and the company was punished.
func NewTippedOffEvent(company, person [20]byte, orderID uint64, verdict bool) *types.Event {
	return &types.Event{
		Type: EventTypeTippedOff,
		Attributes: map[string]string{
			"company": crypto.AccountAddress(company).String(),
			"person":  crypto.AccountAddress(person).String(),
			"orderId": strconv.FormatUint(orderID, 10),
			"verdict": strconv.FormatBool(verdict),
		},
	}
}

// NewDownloadedEvent records who read a submission. The payload itself is
// never part of the event.
func NewDownloadedEvent(caller, company, person [20]byte, orderID uint64, size int) *types.Event {
	return &types.Event{
		Type: EventTypeDownloaded,
		Attributes: map[string]string{
			"caller":  crypto.AccountAddress(caller).String(),
			"company": crypto.AccountAddress(company).String(),
			"person":  crypto.AccountAddress(person).String(),
			"orderId": strconv.FormatUint(orderID, 10),
			"size":    strconv.Itoa(size),
		},
	}
}

func dealAttributes(d *Deal) map[string]string {
	attrs := make(map[string]string)
	if d == nil {
		return attrs
	}
	attrs["dealId"] = d.IDHex()
	attrs["company"] = crypto.AccountAddress(d.Company).String()
	attrs["person"] = crypto.AccountAddress(d.Person).String()
	attrs["orderId"] = strconv.FormatUint(d.OrderID, 10)
	attrs["status"] = d.Status.String()
	return attrs
}
