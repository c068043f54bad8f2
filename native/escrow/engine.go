package escrow

import (
	"bytes"
	"fmt"
	"math/big"

	"dataspace/core/events"
	"dataspace/core/types"
	"dataspace/native/content"
	"dataspace/native/orderbook"
	"dataspace/native/registry"
)

const (
	DefaultEscrowLockBlocks   uint64 = 100
	DefaultPunitiveLockBlocks uint64 = 100
)

type engineState interface {
	OrderCount(company [20]byte) (uint64, error)
	OrderGet(company [20]byte, id uint64) (*orderbook.Order, bool, error)
	DataFind(person, company [20]byte, orderID uint64) (*registry.Metadata, bool, error)
	ContentGet(key content.Key) ([]byte, error)
	DealGet(id [32]byte) (*Deal, bool, error)
	DealPut(*Deal) error
}

type engineLedger interface {
	Height() (uint64, error)
	Transfer(from, to [20]byte, amount *big.Int) error
	SetLock(id types.LockID, addr [20]byte, amount *big.Int, until uint64, reasons types.LockReasons) error
	RemoveLock(id types.LockID, addr [20]byte) error
}

// LegitimacyFunc decides whether uploaded data looks genuine with respect to
// an order's reference content.
type LegitimacyFunc func(uploaded, reference []byte) bool

// DefaultLegitimacy treats non-empty data that differs from the reference as
// genuine. It is a placeholder heuristic, not an attestation.
func DefaultLegitimacy(uploaded, reference []byte) bool {
	return len(uploaded) > 0 && !bytes.Equal(uploaded, reference)
}

// Engine runs the buy / confirm / tip-off protocol. It must be driven by a
// single writer; every call is expected to execute inside one state
// transaction so a failing ledger call leaves nothing behind.
type Engine struct {
	state          engineState
	ledger         engineLedger
	emitter        events.Emitter
	legitimate     LegitimacyFunc
	escrowBlocks   uint64
	punitiveBlocks uint64
}

// NewEngine creates an engine with default lock periods, the default
// legitimacy check and a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:        events.NoopEmitter{},
		legitimate:     DefaultLegitimacy,
		escrowBlocks:   DefaultEscrowLockBlocks,
		punitiveBlocks: DefaultPunitiveLockBlocks,
	}
}

// SetState configures the repositories used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the ledger collaborator.
func (e *Engine) SetLedger(ledger engineLedger) { e.ledger = ledger }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLegitimacy swaps the fraud check. Passing nil restores DefaultLegitimacy.
func (e *Engine) SetLegitimacy(fn LegitimacyFunc) {
	if fn == nil {
		e.legitimate = DefaultLegitimacy
		return
	}
	e.legitimate = fn
}

// SetLockPeriods configures how many blocks the escrow and punitive locks
// last. Zero keeps the current value.
func (e *Engine) SetLockPeriods(escrow, punitive uint64) {
	if escrow > 0 {
		e.escrowBlocks = escrow
	}
	if punitive > 0 {
		e.punitiveBlocks = punitive
	}
}

// LockPeriods returns the configured escrow and punitive lock lengths.
func (e *Engine) LockPeriods() (uint64, uint64) { return e.escrowBlocks, e.punitiveBlocks }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(events.Wrap(event))
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

// resolve performs the lookups shared by buy and tip-off.
func (e *Engine) resolve(company, person [20]byte, orderID uint64) (*orderbook.Order, *registry.Metadata, error) {
	count, err := e.state.OrderCount(company)
	if err != nil {
		return nil, nil, err
	}
	if count == 0 {
		return nil, nil, ErrOrderListNotFound
	}
	meta, ok, err := e.state.DataFind(person, company, orderID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: order %d", ErrDataNotFound, orderID)
	}
	order, ok, err := e.state.OrderGet(company, orderID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: order %d", ErrOrderNotFound, orderID)
	}
	return order, meta, nil
}

// Buy pays the order's unit price from company to person and locks the same
// amount on the person's account until the escrow period ends.
func (e *Engine) Buy(company, person [20]byte, orderID uint64) (*Deal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if company == person {
		return nil, errSelfDeal
	}
	order, meta, err := e.resolve(company, person, orderID)
	if err != nil {
		return nil, err
	}
	id := DealID(company, person, orderID)
	existing, ok, err := e.state.DealGet(id)
	if err != nil {
		return nil, err
	}
	if ok && existing.Status == DealStatusLocked {
		return nil, fmt.Errorf("%w: order %d", ErrDealActive, orderID)
	}
	height, err := e.ledger.Height()
	if err != nil {
		return nil, err
	}
	price := new(big.Int).Set(order.UnitPrice)
	if err := e.ledger.Transfer(company, person, price); err != nil {
		return nil, err
	}
	deal := &Deal{
		ID:          id,
		Company:     company,
		Person:      person,
		OrderID:     orderID,
		Amount:      price,
		LockID:      LockIDFor(company, person, orderID),
		LockedUntil: height + e.escrowBlocks,
		ContentKey:  uint64(meta.ContentKey),
		Status:      DealStatusLocked,
		CreatedAt:   height,
	}
	if err := e.ledger.SetLock(deal.LockID, person, price, deal.LockedUntil, types.ReasonsAll); err != nil {
		return nil, err
	}
	if err := e.state.DealPut(deal); err != nil {
		return nil, err
	}
	e.emit(NewTransferedEvent(deal))
	return deal.Clone(), nil
}

// Confirm accepts the purchase and releases the person's lock.
func (e *Engine) Confirm(company, person [20]byte, orderID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if company == person {
		return errSelfDeal
	}
	deal, ok, err := e.state.DealGet(DealID(company, person, orderID))
	if err != nil {
		return err
	}
	if !ok || deal.Status != DealStatusLocked {
		return fmt.Errorf("%w: order %d", ErrNoActiveLock, orderID)
	}
	height, err := e.ledger.Height()
	if err != nil {
		return err
	}
	if err := e.ledger.RemoveLock(deal.LockID, person); err != nil {
		return err
	}
	deal.Status = DealStatusConfirmed
	deal.SettledAt = height
	if err := e.state.DealPut(deal); err != nil {
		return err
	}
	e.emit(NewConfirmedEvent(company, person, orderID))
	return nil
}

// TipOff evaluates the company's claim that the person's data is fraudulent.
// When the data looks genuine the claim was unjustified: the company's funds
// are locked punitively and the person's escrow lock is released. Otherwise
// nothing changes. The returned verdict is true when the data looked genuine.
func (e *Engine) TipOff(company, person [20]byte, orderID uint64) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if company == person {
		return false, errSelfDeal
	}
	order, meta, err := e.resolve(company, person, orderID)
	if err != nil {
		return false, err
	}
	deal, hasDeal, err := e.state.DealGet(DealID(company, person, orderID))
	if err != nil {
		return false, err
	}
	if hasDeal && deal.Status.Settled() {
		return false, fmt.Errorf("%w: order %d is %s", ErrDealSettled, orderID, deal.Status)
	}
	uploaded, err := e.state.ContentGet(meta.ContentKey)
	if err != nil {
		return false, err
	}
	verdict := e.legitimate(uploaded, order.ReferenceContent)
	if verdict {
		height, err := e.ledger.Height()
		if err != nil {
			return false, err
		}
		punishID := PunitiveLockIDFor(company, person, orderID)
		if err := e.ledger.SetLock(punishID, company, order.UnitPrice, height+e.punitiveBlocks, types.ReasonsAll); err != nil {
			return false, err
		}
		if err := e.ledger.RemoveLock(LockIDFor(company, person, orderID), person); err != nil {
			return false, err
		}
		if hasDeal {
			deal.Status = DealStatusReleased
			deal.SettledAt = height
			if err := e.state.DealPut(deal); err != nil {
				return false, err
			}
		}
	}
	e.emit(NewTippedOffEvent(company, person, orderID, verdict))
	return verdict, nil
}

// Download returns the person's uploaded payload for the order. The person may
// always read it; the company may read it once it has bought it. Every
// successful read emits a downloaded event.
func (e *Engine) Download(caller, person, company [20]byte, orderID uint64) ([]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if caller != person {
		if caller != company {
			return nil, fmt.Errorf("%w: not a party to order %d", ErrUnauthorized, orderID)
		}
		_, ok, err := e.state.DealGet(DealID(company, person, orderID))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: order %d", ErrNotPurchased, orderID)
		}
	}
	meta, ok, err := e.state.DataFind(person, company, orderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: order %d", ErrDataNotFound, orderID)
	}
	data, err := e.state.ContentGet(meta.ContentKey)
	if err != nil {
		return nil, err
	}
	e.emit(NewDownloadedEvent(caller, company, person, orderID, len(data)))
	return data, nil
}

// Deal returns the recorded purchase for the triple, if any.
func (e *Engine) Deal(company, person [20]byte, orderID uint64) (*Deal, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	deal, ok, err := e.state.DealGet(DealID(company, person, orderID))
	if err != nil || !ok {
		return nil, false, err
	}
	return deal.Clone(), true, nil
}
