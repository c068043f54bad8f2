package rpc

import (
	"encoding/base64"
	"math/big"

	"dataspace/core/runtime"
	"dataspace/core/types"
	"dataspace/crypto"
	"dataspace/native/accounts"
	"dataspace/native/escrow"
	"dataspace/native/orderbook"
	"dataspace/native/registry"
)

// Binary fields travel as standard base64. Amounts travel as decimal strings.

type registerAccountRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type profileJSON struct {
	Address      string `json:"address"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	RegisteredAt uint64 `json:"registeredAt"`
}

type publishOrderRequest struct {
	Name      string `json:"name"`
	Reference string `json:"reference"`
	UnitPrice string `json:"unitPrice"`
}

type publishOrderResponse struct {
	OrderID uint64 `json:"orderId"`
}

type orderJSON struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Reference string `json:"reference"`
	UnitPrice string `json:"unitPrice"`
}

type dataRequest struct {
	Name    string `json:"name"`
	Payload string `json:"payload"`
	Company string `json:"company"`
	OrderID uint64 `json:"orderId"`
}

type metadataJSON struct {
	Name    string `json:"name"`
	Company string `json:"company"`
	OrderID uint64 `json:"orderId"`
}

type escrowRequest struct {
	Person  string `json:"person"`
	OrderID uint64 `json:"orderId"`
}

type dealJSON struct {
	ID          string `json:"id"`
	Company     string `json:"company"`
	Person      string `json:"person"`
	OrderID     uint64 `json:"orderId"`
	Amount      string `json:"amount"`
	LockID      string `json:"lockId"`
	LockedUntil uint64 `json:"lockedUntil"`
	Status      string `json:"status"`
	CreatedAt   uint64 `json:"createdAt"`
	SettledAt   uint64 `json:"settledAt,omitempty"`
}

type tipOffResponse struct {
	Verdict bool `json:"verdict"`
}

type payloadJSON struct {
	Payload string `json:"payload"`
}

type lockJSON struct {
	ID      string `json:"id"`
	Amount  string `json:"amount"`
	Until   uint64 `json:"until"`
	Reasons uint8  `json:"reasons"`
}

type accountJSON struct {
	Address string       `json:"address"`
	Balance string       `json:"balance"`
	Usable  string       `json:"usable"`
	Height  uint64       `json:"height"`
	Locks   []lockJSON   `json:"locks"`
	Profile *profileJSON `json:"profile,omitempty"`
}

func encodeBytes(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func decodeBytes(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

func parseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	return new(big.Int).SetString(s, 10)
}

func addressString(addr [20]byte) string { return crypto.AccountAddress(addr).String() }

func orderFrom(o *orderbook.Order) orderJSON {
	return orderJSON{
		ID:        o.ID,
		Name:      o.Name,
		Reference: encodeBytes(o.ReferenceContent),
		UnitPrice: o.UnitPrice.String(),
	}
}

func metadataFrom(m *registry.Metadata) metadataJSON {
	return metadataJSON{
		Name:    m.Name,
		Company: addressString(m.TargetCompany),
		OrderID: m.OrderID,
	}
}

func dealFrom(d *escrow.Deal) dealJSON {
	return dealJSON{
		ID:          d.IDHex(),
		Company:     addressString(d.Company),
		Person:      addressString(d.Person),
		OrderID:     d.OrderID,
		Amount:      d.Amount.String(),
		LockID:      d.LockID.String(),
		LockedUntil: d.LockedUntil,
		Status:      d.Status.String(),
		CreatedAt:   d.CreatedAt,
		SettledAt:   d.SettledAt,
	}
}

func accountFrom(addr [20]byte, view *runtime.AccountView) accountJSON {
	out := accountJSON{
		Address: addressString(addr),
		Balance: view.Balance.String(),
		Usable:  view.Usable.String(),
		Height:  view.Height,
		Locks:   make([]lockJSON, 0, len(view.Locks)),
	}
	for _, lock := range view.Locks {
		out.Locks = append(out.Locks, lockFrom(lock))
	}
	if view.Profile != nil {
		profile := profileFrom(view.Profile)
		out.Profile = &profile
	}
	return out
}

func profileFrom(p *accounts.Profile) profileJSON {
	return profileJSON{
		Address:      addressString(p.Address),
		Name:         p.Name,
		Type:         p.Kind.String(),
		RegisteredAt: p.RegisteredAt,
	}
}

func lockFrom(l *types.Lock) lockJSON {
	return lockJSON{ID: l.ID.String(), Amount: l.Amount.String(), Until: l.Until, Reasons: uint8(l.Reasons)}
}
