package orderbook

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"dataspace/core/events"
	"dataspace/core/state"
)

var (
	// ErrInvalidPrice is returned when an order carries a negative unit price.
	ErrInvalidPrice = errors.New("orderbook: unit price must not be negative")
	errUnavailable  = errors.New("orderbook: state unavailable")
)

var ordersPrefix = []byte("orderbook/orders/")

// Order is a company's standing request for a category of data. Orders are
// immutable once published and identified by their position in the
// company's list.
type Order struct {
	ID               uint64
	Name             string
	ReferenceContent []byte
	UnitPrice        *big.Int
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.ReferenceContent = append([]byte(nil), o.ReferenceContent...)
	if o.UnitPrice != nil {
		clone.UnitPrice = new(big.Int).Set(o.UnitPrice)
	} else {
		clone.UnitPrice = big.NewInt(0)
	}
	return &clone
}

type storedOrders struct {
	Orders []storedOrder
}

type storedOrder struct {
	ID        uint64
	Name      string
	Reference []byte
	UnitPrice *big.Int
}

// Book stores the per-company append-only order lists.
type Book struct {
	manager *state.Manager
	emitter events.Emitter
}

func NewBook(manager *state.Manager) *Book {
	return &Book{manager: manager, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (b *Book) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

// Publish appends a new order to the company's list and returns its id, which
// is always the number of orders the company had before the call.
func (b *Book) Publish(company [20]byte, name string, reference []byte, unitPrice *big.Int) (uint64, error) {
	price := big.NewInt(0)
	if unitPrice != nil {
		price = new(big.Int).Set(unitPrice)
	}
	if price.Sign() < 0 {
		return 0, ErrInvalidPrice
	}
	list, _, err := b.load(company)
	if err != nil {
		return 0, err
	}
	id := uint64(len(list.Orders))
	list.Orders = append(list.Orders, storedOrder{
		ID:        id,
		Name:      strings.TrimSpace(name),
		Reference: append([]byte(nil), reference...),
		UnitPrice: price,
	})
	if err := b.manager.KVPut(ordersKey(company), list); err != nil {
		return 0, err
	}
	b.emitter.Emit(events.Wrap(NewPublishedEvent(company, orderFromStored(list.Orders[id]))))
	return id, nil
}

// List returns every order the company has published. Unknown companies yield
// an empty slice.
func (b *Book) List(company [20]byte) ([]*Order, error) {
	list, _, err := b.load(company)
	if err != nil {
		return nil, err
	}
	out := make([]*Order, 0, len(list.Orders))
	for _, stored := range list.Orders {
		out = append(out, orderFromStored(stored))
	}
	return out, nil
}

// Get returns the first order in the company's list whose id matches.
func (b *Book) Get(company [20]byte, id uint64) (*Order, bool, error) {
	list, _, err := b.load(company)
	if err != nil {
		return nil, false, err
	}
	for _, stored := range list.Orders {
		if stored.ID == id {
			return orderFromStored(stored), true, nil
		}
	}
	return nil, false, nil
}

// Count returns the number of orders the company has published.
func (b *Book) Count(company [20]byte) (uint64, error) {
	list, _, err := b.load(company)
	if err != nil {
		return 0, err
	}
	return uint64(len(list.Orders)), nil
}

// load returns the company's list, or an empty one ready to be written back
// when the company has never published.
func (b *Book) load(company [20]byte) (*storedOrders, bool, error) {
	if b == nil || b.manager == nil {
		return nil, false, errUnavailable
	}
	var list storedOrders
	ok, err := b.manager.KVGet(ordersKey(company), &list)
	if err != nil {
		return nil, false, fmt.Errorf("orderbook: load orders: %w", err)
	}
	if list.Orders == nil {
		list.Orders = make([]storedOrder, 0)
	}
	return &list, ok, nil
}

func ordersKey(company [20]byte) []byte {
	key := make([]byte, len(ordersPrefix)+len(company))
	copy(key, ordersPrefix)
	copy(key[len(ordersPrefix):], company[:])
	return key
}

func orderFromStored(stored storedOrder) *Order {
	order := &Order{
		ID:               stored.ID,
		Name:             stored.Name,
		ReferenceContent: append([]byte(nil), stored.Reference...),
		UnitPrice:        big.NewInt(0),
	}
	if stored.UnitPrice != nil {
		order.UnitPrice = new(big.Int).Set(stored.UnitPrice)
	}
	return order
}
