// Package content implements the key-addressed byte store that holds uploaded
// payloads. Keys come from a global nonce that only ever increases; entries
// are never updated or deleted.
package content

import (
	"errors"
	"fmt"
	"strconv"

	"lukechampine.com/blake3"

	"dataspace/core/state"
)

var (
	// ErrNotFound is returned for keys that were never allocated.
	ErrNotFound = errors.New("content: key not found")
	// ErrCorrupted is returned when a stored payload no longer matches its digest.
	ErrCorrupted = errors.New("content: digest mismatch")
)

var (
	nonceKey     = []byte("content/nonce")
	entryKeyBase = "content/entry/"
)

// Key identifies a stored payload.
type Key uint64

func (k Key) String() string { return strconv.FormatUint(uint64(k), 10) }

// ParseKey parses the decimal form produced by Key.String.
func ParseKey(s string) (Key, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("content: invalid key %q", s)
	}
	return Key(v), nil
}

type storedEntry struct {
	Digest [32]byte
	Data   []byte
}

// Store persists payloads through the state manager.
type Store struct {
	manager *state.Manager
}

func NewStore(manager *state.Manager) *Store {
	return &Store{manager: manager}
}

// Put allocates the next key, stores data under it and advances the nonce.
func (s *Store) Put(data []byte) (Key, error) {
	if s == nil || s.manager == nil {
		return 0, fmt.Errorf("content: store unavailable")
	}
	nonce, err := s.Nonce()
	if err != nil {
		return 0, err
	}
	key := Key(nonce)
	entry := storedEntry{
		Digest: blake3.Sum256(data),
		Data:   append([]byte(nil), data...),
	}
	if err := s.manager.KVPut(entryKey(key), &entry); err != nil {
		return 0, err
	}
	if err := s.manager.KVPut(nonceKey, nonce+1); err != nil {
		return 0, err
	}
	return key, nil
}

// Get returns the payload stored under key.
func (s *Store) Get(key Key) ([]byte, error) {
	if s == nil || s.manager == nil {
		return nil, fmt.Errorf("content: store unavailable")
	}
	var entry storedEntry
	ok, err := s.manager.KVGet(entryKey(key), &entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if blake3.Sum256(entry.Data) != entry.Digest {
		return nil, fmt.Errorf("%w: %s", ErrCorrupted, key)
	}
	return entry.Data, nil
}

// Digest returns the blake3 digest recorded for key.
func (s *Store) Digest(key Key) ([32]byte, error) {
	var entry storedEntry
	ok, err := s.manager.KVGet(entryKey(key), &entry)
	if err != nil {
		return [32]byte{}, err
	}
	if !ok {
		return [32]byte{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return entry.Digest, nil
}

// Nonce returns the next key that Put will allocate.
func (s *Store) Nonce() (uint64, error) {
	var nonce uint64
	if _, err := s.manager.KVGet(nonceKey, &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

func entryKey(key Key) []byte {
	return []byte(entryKeyBase + key.String())
}
