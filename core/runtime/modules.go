package runtime

import (
	"math/big"

	"dataspace/core/events"
	"dataspace/core/state"
	"dataspace/core/types"
	"dataspace/native/accounts"
	"dataspace/native/bank"
	"dataspace/native/content"
	"dataspace/native/escrow"
	"dataspace/native/orderbook"
	"dataspace/native/registry"
)

// ledger is the subset of the bank the escrow engine drives.
type ledger interface {
	Height() (uint64, error)
	Transfer(from, to [20]byte, amount *big.Int) error
	SetLock(id types.LockID, addr [20]byte, amount *big.Int, until uint64, reasons types.LockReasons) error
	RemoveLock(id types.LockID, addr [20]byte) error
}

// modules is one transaction's view of every native module. All of them share
// the same journaled manager and event buffer.
type modules struct {
	manager  *state.Manager
	accounts *accounts.Directory
	content  *content.Store
	book     *orderbook.Book
	registry *registry.Registry
	bank     *bank.Ledger
	engine   *escrow.Engine
}

func (r *Runtime) bind(manager *state.Manager, emitter events.Emitter) *modules {
	directory := accounts.NewDirectory(manager)
	directory.SetEmitter(emitter)
	store := content.NewStore(manager)
	book := orderbook.NewBook(manager)
	book.SetEmitter(emitter)
	reg := registry.NewRegistry(manager, store)
	reg.SetEmitter(emitter)
	ledgerState := bank.NewLedger(manager)
	ledgerState.SetEmitter(emitter)

	var engineLedger ledger = ledgerState
	if r.ledgerHook != nil {
		engineLedger = r.ledgerHook(engineLedger)
	}
	engine := escrow.NewEngine()
	engine.SetState(escrow.NewState(manager, book, reg, store))
	engine.SetLedger(engineLedger)
	engine.SetEmitter(emitter)
	engine.SetLockPeriods(r.cfg.EscrowLockBlocks, r.cfg.PunitiveLockBlocks)
	engine.SetLegitimacy(r.legitimacy)

	return &modules{
		manager:  manager,
		accounts: directory,
		content:  store,
		book:     book,
		registry: reg,
		bank:     ledgerState,
		engine:   engine,
	}
}
