package registry

import (
	"strconv"

	"dataspace/core/types"
	"dataspace/crypto"
)

const (
	EventTypeDataUploaded = "dataspace.data.uploaded"
	EventTypeDataUpdated  = "dataspace.data.updated"
)

// NewUploadedEvent returns the canonical payload for a new metadata row.
func NewUploadedEvent(person [20]byte, meta *Metadata) *types.Event {
	return newRowEvent(EventTypeDataUploaded, person, meta)
}

// NewUpdatedEvent returns the canonical payload for a replaced payload.
func NewUpdatedEvent(person [20]byte, meta *Metadata) *types.Event {
	return newRowEvent(EventTypeDataUpdated, person, meta)
}

func newRowEvent(eventType string, person [20]byte, meta *Metadata) *types.Event {
	attrs := map[string]string{
		"person": crypto.AccountAddress(person).String(),
	}
	if meta != nil {
		attrs["name"] = meta.Name
		attrs["company"] = crypto.AccountAddress(meta.TargetCompany).String()
		attrs["orderId"] = strconv.FormatUint(meta.OrderID, 10)
		attrs["contentKey"] = meta.ContentKey.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
