package runtime

import (
	"fmt"

	"dataspace/native/common"
)

var uploadQuotaPrefix = []byte("runtime/quota/upload/")

// chargeUpload applies the per-person upload quota inside the transaction so a
// failed upload does not consume it.
func (m *modules) chargeUpload(q common.Quota, person [20]byte, size int) error {
	if !q.Enabled() {
		return nil
	}
	height, err := m.bank.Height()
	if err != nil {
		return err
	}
	key := append(append([]byte(nil), uploadQuotaPrefix...), person[:]...)
	var usage common.Usage
	if _, err := m.manager.KVGet(key, &usage); err != nil {
		return fmt.Errorf("runtime: load quota: %w", err)
	}
	next, err := q.Charge(height, usage, 1, uint64(size))
	if err != nil {
		return err
	}
	return m.manager.KVPut(key, next)
}
