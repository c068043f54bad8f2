package accounts

import (
	"strconv"

	"dataspace/core/types"
	"dataspace/crypto"
)

const EventTypeAccountRegistered = "dataspace.account.registered"

func NewRegisteredEvent(p *Profile) *types.Event {
	attrs := map[string]string{}
	if p != nil {
		attrs["account"] = crypto.AccountAddress(p.Address).String()
		attrs["name"] = p.Name
		attrs["type"] = p.Kind.String()
		attrs["height"] = strconv.FormatUint(p.RegisteredAt, 10)
	}
	return &types.Event{Type: EventTypeAccountRegistered, Attributes: attrs}
}
