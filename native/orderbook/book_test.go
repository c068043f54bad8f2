package orderbook

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"dataspace/core/events"
	"dataspace/core/state"
	"dataspace/storage"
)

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestPublishIsAppendOnly(t *testing.T) {
	book := NewBook(state.NewManager(storage.NewMemDB()))
	company := newTestAddress(0xC1)

	first, err := book.Publish(company, "schema", []byte("schema-X"), big.NewInt(100))
	require.NoError(t, err)
	second, err := book.Publish(company, "logs", []byte("schema-Y"), big.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, uint64(0), first)
	require.Equal(t, uint64(1), second)

	orders, err := book.List(company)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "schema", orders[0].Name)
	require.Equal(t, []byte("schema-X"), orders[0].ReferenceContent)
	require.Equal(t, 0, orders[0].UnitPrice.Cmp(big.NewInt(100)))
	require.Equal(t, "logs", orders[1].Name)

	count, err := book.Count(company)
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)
}

func TestListUnknownCompanyIsEmpty(t *testing.T) {
	book := NewBook(state.NewManager(storage.NewMemDB()))
	orders, err := book.List(newTestAddress(0x01))
	require.NoError(t, err)
	require.NotNil(t, orders)
	require.Empty(t, orders)

	_, ok, err := book.Get(newTestAddress(0x01), 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOrdersAreScopedPerCompany(t *testing.T) {
	book := NewBook(state.NewManager(storage.NewMemDB()))
	a, b := newTestAddress(0xA0), newTestAddress(0xB0)

	_, err := book.Publish(a, "a0", nil, big.NewInt(1))
	require.NoError(t, err)
	id, err := book.Publish(b, "b0", nil, big.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)

	order, ok, err := book.Get(b, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b0", order.Name)
}

func TestGetReturnsCopy(t *testing.T) {
	book := NewBook(state.NewManager(storage.NewMemDB()))
	company := newTestAddress(0xC1)
	_, err := book.Publish(company, "schema", []byte("ref"), big.NewInt(10))
	require.NoError(t, err)

	order, _, err := book.Get(company, 0)
	require.NoError(t, err)
	order.UnitPrice.SetInt64(999)
	order.ReferenceContent[0] = 'X'

	again, _, err := book.Get(company, 0)
	require.NoError(t, err)
	require.Equal(t, 0, again.UnitPrice.Cmp(big.NewInt(10)))
	require.Equal(t, []byte("ref"), again.ReferenceContent)
}

func TestPublishRejectsNegativePrice(t *testing.T) {
	book := NewBook(state.NewManager(storage.NewMemDB()))
	_, err := book.Publish(newTestAddress(0x01), "bad", nil, big.NewInt(-1))
	require.ErrorIs(t, err, ErrInvalidPrice)

	zero, err := book.Publish(newTestAddress(0x01), "free", nil, nil)
	require.NoError(t, err)
	order, _, err := book.Get(newTestAddress(0x01), zero)
	require.NoError(t, err)
	require.Zero(t, order.UnitPrice.Sign())
}

func TestPublishEmitsEvent(t *testing.T) {
	book := NewBook(state.NewManager(storage.NewMemDB()))
	var buf events.Buffer
	book.SetEmitter(&buf)

	_, err := book.Publish(newTestAddress(0xC1), "schema", []byte("schema-X"), big.NewInt(100))
	require.NoError(t, err)

	emitted := buf.Events()
	require.Len(t, emitted, 1)
	evt := events.Canonical(emitted[0])
	require.Equal(t, EventTypeOrderPublished, evt.Type)
	require.Equal(t, "0", evt.Attr("orderId"))
	require.Equal(t, "100", evt.Attr("unitPrice"))
}
