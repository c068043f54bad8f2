// Package registry records which payload each person submitted against which
// order. A person has at most one row per (company, order) pair.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"dataspace/core/events"
	"dataspace/core/state"
	"dataspace/native/content"
)

var (
	// ErrNotFound is returned when no row exists for the (company, order) pair.
	ErrNotFound = errors.New("registry: metadata not found")
	// ErrAlreadyUploaded is returned when a row already exists for the pair.
	// Callers replace existing rows with Update.
	ErrAlreadyUploaded = errors.New("registry: data already uploaded for order")
	errUnavailable     = errors.New("registry: state unavailable")
)

var rowsPrefix = []byte("registry/rows/")

// Metadata links a stored payload to the order it was submitted against.
type Metadata struct {
	Name          string
	TargetCompany [20]byte
	OrderID       uint64
	ContentKey    content.Key
}

type storedRows struct {
	Rows []storedRow
}

type storedRow struct {
	Name          string
	TargetCompany [20]byte
	OrderID       uint64
	ContentKey    uint64
}

// Registry stores metadata rows per person and payloads in the content store.
type Registry struct {
	manager *state.Manager
	content *content.Store
	emitter events.Emitter
}

func NewRegistry(manager *state.Manager, store *content.Store) *Registry {
	return &Registry{manager: manager, content: store, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Upload stores payload and appends a row for (company, orderID). The order
// itself is not checked here; the escrow engine validates it at buy and
// tip-off time.
func (r *Registry) Upload(person [20]byte, name string, payload []byte, company [20]byte, orderID uint64) (*Metadata, error) {
	rows, err := r.load(person)
	if err != nil {
		return nil, err
	}
	if indexOf(rows, company, orderID) >= 0 {
		return nil, fmt.Errorf("%w: order %d", ErrAlreadyUploaded, orderID)
	}
	key, err := r.content.Put(payload)
	if err != nil {
		return nil, err
	}
	row := storedRow{
		Name:          strings.TrimSpace(name),
		TargetCompany: company,
		OrderID:       orderID,
		ContentKey:    uint64(key),
	}
	rows.Rows = append(rows.Rows, row)
	if err := r.manager.KVPut(rowsKey(person), rows); err != nil {
		return nil, err
	}
	meta := metadataFromStored(row)
	r.emitter.Emit(events.Wrap(NewUploadedEvent(person, meta)))
	return meta, nil
}

// Update stores a new payload for an existing row and points the row at it.
// The row keeps its company and order id.
func (r *Registry) Update(person [20]byte, name string, payload []byte, company [20]byte, orderID uint64) (*Metadata, error) {
	rows, err := r.load(person)
	if err != nil {
		return nil, err
	}
	idx := indexOf(rows, company, orderID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	key, err := r.content.Put(payload)
	if err != nil {
		return nil, err
	}
	rows.Rows[idx].Name = strings.TrimSpace(name)
	rows.Rows[idx].ContentKey = uint64(key)
	if err := r.manager.KVPut(rowsKey(person), rows); err != nil {
		return nil, err
	}
	meta := metadataFromStored(rows.Rows[idx])
	r.emitter.Emit(events.Wrap(NewUpdatedEvent(person, meta)))
	return meta, nil
}

// Find returns the person's row for (company, orderID).
func (r *Registry) Find(person, company [20]byte, orderID uint64) (*Metadata, bool, error) {
	rows, err := r.load(person)
	if err != nil {
		return nil, false, err
	}
	idx := indexOf(rows, company, orderID)
	if idx < 0 {
		return nil, false, nil
	}
	return metadataFromStored(rows.Rows[idx]), true, nil
}

// List returns every row the person owns in submission order.
func (r *Registry) List(person [20]byte) ([]*Metadata, error) {
	rows, err := r.load(person)
	if err != nil {
		return nil, err
	}
	out := make([]*Metadata, 0, len(rows.Rows))
	for _, row := range rows.Rows {
		out = append(out, metadataFromStored(row))
	}
	return out, nil
}

func (r *Registry) load(person [20]byte) (*storedRows, error) {
	if r == nil || r.manager == nil || r.content == nil {
		return nil, errUnavailable
	}
	var rows storedRows
	if _, err := r.manager.KVGet(rowsKey(person), &rows); err != nil {
		return nil, fmt.Errorf("registry: load rows: %w", err)
	}
	if rows.Rows == nil {
		rows.Rows = make([]storedRow, 0)
	}
	return &rows, nil
}

// indexOf scans linearly; the first match wins.
func indexOf(rows *storedRows, company [20]byte, orderID uint64) int {
	for i, row := range rows.Rows {
		if row.TargetCompany == company && row.OrderID == orderID {
			return i
		}
	}
	return -1
}

func rowsKey(person [20]byte) []byte {
	key := make([]byte, len(rowsPrefix)+len(person))
	copy(key, rowsPrefix)
	copy(key[len(rowsPrefix):], person[:])
	return key
}

func metadataFromStored(row storedRow) *Metadata {
	return &Metadata{
		Name:          row.Name,
		TargetCompany: row.TargetCompany,
		OrderID:       row.OrderID,
		ContentKey:    content.Key(row.ContentKey),
	}
}
