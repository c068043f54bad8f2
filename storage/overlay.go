package storage

import (
	"errors"
	"sort"
	"sync"
)

var errOverlayClosed = errors.New("storage: overlay already committed or discarded")

// Overlay journals writes on top of a parent database. Reads observe pending
// writes first and fall through to the parent. Nothing reaches the parent
// until Commit, which applies every pending write in one parent batch.
//
// Overlays may be stacked: an overlay over an overlay commits into the
// parent's journal.
type Overlay struct {
	mu      sync.RWMutex
	parent  Database
	pending map[string]*memOp
	done    bool
}

// NewOverlay starts a journal over parent.
func NewOverlay(parent Database) *Overlay {
	return &Overlay{parent: parent, pending: make(map[string]*memOp)}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	op, ok := o.pending[string(key)]
	o.mu.RUnlock()
	if ok {
		if op.delete {
			return nil, ErrNotFound
		}
		return append([]byte(nil), op.value...), nil
	}
	return o.parent.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	o.mu.RLock()
	op, ok := o.pending[string(key)]
	o.mu.RUnlock()
	if ok {
		return !op.delete, nil
	}
	return o.parent.Has(key)
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return errOverlayClosed
	}
	o.pending[string(key)] = &memOp{key: string(key), value: append([]byte(nil), value...)}
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return errOverlayClosed
	}
	o.pending[string(key)] = &memOp{key: string(key), delete: true}
	return nil
}

// Dirty reports the number of keys touched since the overlay was opened.
func (o *Overlay) Dirty() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.pending)
}

func (o *Overlay) NewBatch() Batch {
	return &overlayBatch{overlay: o}
}

// Commit flushes the journal into the parent as a single batch. Keys are
// written in sorted order so every backend sees the same sequence.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return errOverlayClosed
	}
	keys := make([]string, 0, len(o.pending))
	for key := range o.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := o.parent.NewBatch()
	for _, key := range keys {
		op := o.pending[key]
		if op.delete {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), op.value)
	}
	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			return err
		}
	}
	o.pending = nil
	o.done = true
	return nil
}

// Discard drops every pending write.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = nil
	o.done = true
}

// Close discards the journal. The parent is left open.
func (o *Overlay) Close() error {
	o.Discard()
	return nil
}

type overlayBatch struct {
	overlay *Overlay
	ops     []memOp
}

func (b *overlayBatch) Put(key []byte, value []byte) {
	b.ops = append(b.ops, memOp{key: string(key), value: append([]byte(nil), value...)})
}

func (b *overlayBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{key: string(key), delete: true})
}

func (b *overlayBatch) Len() int { return len(b.ops) }

func (b *overlayBatch) Write() error {
	b.overlay.mu.Lock()
	defer b.overlay.mu.Unlock()
	if b.overlay.done {
		return errOverlayClosed
	}
	for i := range b.ops {
		op := b.ops[i]
		b.overlay.pending[op.key] = &op
	}
	return nil
}

func (b *overlayBatch) Reset() { b.ops = b.ops[:0] }
