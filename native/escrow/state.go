package escrow

import (
	"dataspace/core/state"
	"dataspace/native/content"
	"dataspace/native/orderbook"
	"dataspace/native/registry"
)

var dealPrefix = []byte("escrow/deal/")

// State binds the engine to the order book, the data registry, the content
// store and a state manager holding deal records.
type State struct {
	manager  *state.Manager
	book     *orderbook.Book
	registry *registry.Registry
	content  *content.Store
}

func NewState(manager *state.Manager, book *orderbook.Book, reg *registry.Registry, store *content.Store) *State {
	return &State{manager: manager, book: book, registry: reg, content: store}
}

func (s *State) OrderCount(company [20]byte) (uint64, error) { return s.book.Count(company) }

func (s *State) OrderGet(company [20]byte, id uint64) (*orderbook.Order, bool, error) {
	return s.book.Get(company, id)
}

func (s *State) DataFind(person, company [20]byte, orderID uint64) (*registry.Metadata, bool, error) {
	return s.registry.Find(person, company, orderID)
}

func (s *State) ContentGet(key content.Key) ([]byte, error) { return s.content.Get(key) }

func (s *State) DealGet(id [32]byte) (*Deal, bool, error) {
	if s == nil || s.manager == nil {
		return nil, false, errNilState
	}
	var deal Deal
	ok, err := s.manager.KVGet(dealKey(id), &deal)
	if err != nil || !ok {
		return nil, false, err
	}
	return &deal, true, nil
}

func (s *State) DealPut(deal *Deal) error {
	if s == nil || s.manager == nil {
		return errNilState
	}
	return s.manager.KVPut(dealKey(deal.ID), deal)
}

func dealKey(id [32]byte) []byte {
	key := make([]byte, len(dealPrefix)+len(id))
	copy(key, dealPrefix)
	copy(key[len(dealPrefix):], id[:])
	return key
}
