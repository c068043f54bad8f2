// Package accounts keeps the marketplace profile of an address: a display
// name and whether it acts as a company or an individual. Registration is
// optional. Once registered, an address may only act in its own role.
package accounts

import (
	"errors"
	"fmt"
	"strings"

	"dataspace/core/events"
	"dataspace/core/state"
)

// Kind is the marketplace role of a registered account.
type Kind uint16

const (
	KindIndividual Kind = 1
	KindCompany    Kind = 2
)

const MaxNameLength = 64

var (
	ErrInvalidName       = errors.New("accounts: name must be 1-64 bytes")
	ErrInvalidKind       = errors.New("accounts: unknown account type")
	ErrAlreadyRegistered = errors.New("accounts: address already registered")
	// ErrWrongRole is returned when a registered account acts outside its kind.
	ErrWrongRole   = errors.New("accounts: account type not allowed for this call")
	errUnavailable = errors.New("accounts: state unavailable")
)

var profilePrefix = []byte("accounts/profile/")

func (k Kind) Valid() bool { return k == KindIndividual || k == KindCompany }

func (k Kind) String() string {
	switch k {
	case KindIndividual:
		return "individual"
	case KindCompany:
		return "company"
	default:
		return fmt.Sprintf("kind(%d)", uint16(k))
	}
}

// ParseKind accepts the names returned by String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "individual", "person":
		return KindIndividual, nil
	case "company":
		return KindCompany, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

type Profile struct {
	Address      [20]byte
	Name         string
	Kind         Kind
	RegisteredAt uint64
}

type storedProfile struct {
	Name         string
	Kind         uint16
	RegisteredAt uint64
}

type Directory struct {
	manager *state.Manager
	emitter events.Emitter
}

func NewDirectory(manager *state.Manager) *Directory {
	return &Directory{manager: manager, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (d *Directory) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		d.emitter = events.NoopEmitter{}
		return
	}
	d.emitter = emitter
}

// Register stores the profile of addr at the given height. An address is
// registered at most once.
func (d *Directory) Register(addr [20]byte, name string, kind Kind, height uint64) (*Profile, error) {
	if d == nil || d.manager == nil {
		return nil, errUnavailable
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxNameLength {
		return nil, ErrInvalidName
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, uint16(kind))
	}
	if _, ok, err := d.Get(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyRegistered
	}
	stored := storedProfile{Name: name, Kind: uint16(kind), RegisteredAt: height}
	if err := d.manager.KVPut(profileKey(addr), stored); err != nil {
		return nil, err
	}
	profile := profileFromStored(addr, stored)
	d.emitter.Emit(events.Wrap(NewRegisteredEvent(profile)))
	return profile, nil
}

// Get returns the profile of addr, if registered.
func (d *Directory) Get(addr [20]byte) (*Profile, bool, error) {
	if d == nil || d.manager == nil {
		return nil, false, errUnavailable
	}
	var stored storedProfile
	ok, err := d.manager.KVGet(profileKey(addr), &stored)
	if err != nil {
		return nil, false, fmt.Errorf("accounts: load profile: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return profileFromStored(addr, stored), true, nil
}

// Require fails with ErrWrongRole when addr is registered with a kind other
// than want. Unregistered addresses pass.
func (d *Directory) Require(addr [20]byte, want Kind) error {
	profile, ok, err := d.Get(addr)
	if err != nil || !ok {
		return err
	}
	if profile.Kind != want {
		return fmt.Errorf("%w: %s account cannot act as %s", ErrWrongRole, profile.Kind, want)
	}
	return nil
}

func profileKey(addr [20]byte) []byte {
	key := make([]byte, len(profilePrefix)+len(addr))
	copy(key, profilePrefix)
	copy(key[len(profilePrefix):], addr[:])
	return key
}

func profileFromStored(addr [20]byte, stored storedProfile) *Profile {
	return &Profile{
		Address:      addr,
		Name:         stored.Name,
		Kind:         Kind(stored.Kind),
		RegisteredAt: stored.RegisteredAt,
	}
}
