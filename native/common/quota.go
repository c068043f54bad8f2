package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota: request limit reached for this epoch")
	ErrQuotaBytesExceeded    = errors.New("quota: byte limit reached for this epoch")
	ErrQuotaCounterOverflow  = errors.New("quota: counter overflow")
)

// Quota caps what one account may do per epoch of EpochBlocks blocks. A zero
// limit is unlimited; a zero EpochBlocks makes the whole chain one epoch.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxBytesPerEpoch    uint64
	EpochBlocks         uint64
}

// Usage is the per-account counter persisted between calls.
type Usage struct {
	Epoch    uint64
	Requests uint32
	Bytes    uint64
}

func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxBytesPerEpoch > 0
}

// EpochAt maps a block height onto its quota epoch.
func (q Quota) EpochAt(height uint64) uint64 {
	if q.EpochBlocks == 0 {
		return 0
	}
	return height / q.EpochBlocks
}

// Charge adds requests and bytes to prev at height. Counters reset when the
// epoch changes. On error prev is returned untouched.
func (q Quota) Charge(height uint64, prev Usage, requests uint32, bytes uint64) (Usage, error) {
	next := prev
	if epoch := q.EpochAt(height); epoch != prev.Epoch {
		next = Usage{Epoch: epoch}
	}
	if next.Requests > math.MaxUint32-requests || next.Bytes > math.MaxUint64-bytes {
		return prev, ErrQuotaCounterOverflow
	}
	next.Requests += requests
	next.Bytes += bytes
	switch {
	case q.MaxRequestsPerEpoch > 0 && next.Requests > q.MaxRequestsPerEpoch:
		return prev, ErrQuotaRequestsExceeded
	case q.MaxBytesPerEpoch > 0 && next.Bytes > q.MaxBytesPerEpoch:
		return prev, ErrQuotaBytesExceeded
	}
	return next, nil
}
