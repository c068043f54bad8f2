package orderbook

import (
	"encoding/hex"
	"strconv"

	"dataspace/core/types"
	"dataspace/crypto"
)

const EventTypeOrderPublished = "dataspace.order.published"

// NewPublishedEvent returns the canonical payload for a newly published order.
func NewPublishedEvent(company [20]byte, order *Order) *types.Event {
	attrs := map[string]string{
		"company": crypto.AccountAddress(company).String(),
	}
	if order != nil {
		attrs["orderId"] = strconv.FormatUint(order.ID, 10)
		attrs["name"] = order.Name
		attrs["unitPrice"] = order.UnitPrice.String()
		attrs["referenceSize"] = strconv.Itoa(len(order.ReferenceContent))
		if len(order.ReferenceContent) > 0 {
			attrs["referencePrefix"] = hex.EncodeToString(order.ReferenceContent[:min(8, len(order.ReferenceContent))])
		}
	}
	return &types.Event{Type: EventTypeOrderPublished, Attributes: attrs}
}
