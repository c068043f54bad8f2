// Package runtime dispatches marketplace transactions. Calls are serialised
// behind one mutex and each runs inside a journaled state transaction: either
// every write and event of the call lands, or none does.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dataspace/core/events"
	"dataspace/core/state"
	"dataspace/core/types"
	"dataspace/native/accounts"
	"dataspace/native/common"
	"dataspace/native/content"
	"dataspace/native/escrow"
	"dataspace/native/orderbook"
	"dataspace/native/registry"
	"dataspace/observability"
)

var (
	// ErrPayloadTooLarge is returned when an upload exceeds MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("runtime: payload too large")

	genesisKey = []byte("runtime/genesis")
)

// Config carries the runtime knobs sourced from the node configuration.
type Config struct {
	EscrowLockBlocks   uint64
	PunitiveLockBlocks uint64
	PausedModules      []string
	UploadQuota        common.Quota
	MaxPayloadBytes    int
}

// Option customises a Runtime.
type Option func(*Runtime)

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEmitter sets where committed events are delivered.
func WithEmitter(emitter events.Emitter) Option {
	return func(r *Runtime) {
		if emitter != nil {
			r.emitter = emitter
		}
	}
}

// WithLegitimacy replaces the tip-off fraud check.
func WithLegitimacy(fn escrow.LegitimacyFunc) Option {
	return func(r *Runtime) { r.legitimacy = fn }
}

// WithPauses overrides the pause view built from Config.PausedModules.
func WithPauses(pauses common.PauseView) Option {
	return func(r *Runtime) { r.pauses = pauses }
}

type Runtime struct {
	mu         sync.Mutex
	manager    *state.Manager
	cfg        Config
	pauses     common.PauseView
	legitimacy escrow.LegitimacyFunc
	emitter    events.Emitter
	logger     *slog.Logger
	tracer     trace.Tracer

	// ledgerHook wraps the ledger handed to the escrow engine. Tests use it
	// to inject ledger failures.
	ledgerHook func(ledger) ledger
}

func New(manager *state.Manager, cfg Config, opts ...Option) *Runtime {
	r := &Runtime{
		manager:    manager,
		cfg:        cfg,
		pauses:     common.NewPauseSet(cfg.PausedModules),
		legitimacy: escrow.DefaultLegitimacy,
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("dataspace/core/runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// execute runs fn as one transaction. Events raised by fn are delivered only
// after the transaction committed.
func (r *Runtime) execute(ctx context.Context, call, module string, attrs []attribute.KeyValue, fn func(*modules) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "runtime."+call, trace.WithAttributes(attrs...))
	defer span.End()

	err := common.Guard(r.pauses, module)
	if err != nil {
		observability.Runtime().RecordRejection(module, "paused")
	} else {
		buf := &events.Buffer{}
		err = r.manager.Atomic(func(tx *state.Manager) error {
			return fn(r.bind(tx, buf))
		})
		if err == nil {
			buf.Flush(r.emitter)
		}
	}

	elapsed := time.Since(start)
	observability.Runtime().Observe(call, err, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.WarnContext(ctx, "runtime call failed",
			slog.String("call", call),
			slog.Duration("duration", elapsed),
			slog.Any("error", err))
		return err
	}
	r.logger.InfoContext(ctx, "runtime call committed",
		slog.String("call", call),
		slog.Duration("duration", elapsed))
	return nil
}

// query runs fn against committed state.
func (r *Runtime) query(fn func(*modules) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.bind(r.manager, events.NoopEmitter{}))
}

func tripleAttrs(company, person [20]byte, orderID uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("company", fmt.Sprintf("%x", company)),
		attribute.String("person", fmt.Sprintf("%x", person)),
		attribute.Int64("order_id", int64(orderID)),
	}
}

// RegisterAccount records the name and role of addr.
func (r *Runtime) RegisterAccount(ctx context.Context, addr [20]byte, name string, kind accounts.Kind) (*accounts.Profile, error) {
	var profile *accounts.Profile
	attrs := []attribute.KeyValue{attribute.String("type", kind.String())}
	err := r.execute(ctx, "register_account", common.ModuleAccounts, attrs, func(m *modules) error {
		height, err := m.bank.Height()
		if err != nil {
			return err
		}
		profile, err = m.accounts.Register(addr, name, kind, height)
		return err
	})
	return profile, err
}

// PublishOrder appends an order to the company's list and returns its id.
func (r *Runtime) PublishOrder(ctx context.Context, company [20]byte, name string, reference []byte, unitPrice *big.Int) (uint64, error) {
	var id uint64
	err := r.execute(ctx, "publish_order", common.ModuleOrderbook, nil, func(m *modules) error {
		if err := m.accounts.Require(company, accounts.KindCompany); err != nil {
			return err
		}
		var err error
		id, err = m.book.Publish(company, name, reference, unitPrice)
		return err
	})
	return id, err
}

// UploadData records the person's payload against (company, orderID).
func (r *Runtime) UploadData(ctx context.Context, person [20]byte, name string, payload []byte, company [20]byte, orderID uint64) (*registry.Metadata, error) {
	if err := r.checkPayload(payload); err != nil {
		return nil, err
	}
	var meta *registry.Metadata
	err := r.execute(ctx, "upload_data", common.ModuleRegistry, tripleAttrs(company, person, orderID), func(m *modules) error {
		if err := m.accounts.Require(person, accounts.KindIndividual); err != nil {
			return err
		}
		if err := m.chargeUpload(r.cfg.UploadQuota, person, len(payload)); err != nil {
			return err
		}
		var err error
		meta, err = m.registry.Upload(person, name, payload, company, orderID)
		return err
	})
	r.noteQuota(err)
	return meta, err
}

// UpdateData replaces the payload of an existing row.
func (r *Runtime) UpdateData(ctx context.Context, person [20]byte, name string, payload []byte, company [20]byte, orderID uint64) (*registry.Metadata, error) {
	if err := r.checkPayload(payload); err != nil {
		return nil, err
	}
	var meta *registry.Metadata
	err := r.execute(ctx, "update_data", common.ModuleRegistry, tripleAttrs(company, person, orderID), func(m *modules) error {
		if err := m.accounts.Require(person, accounts.KindIndividual); err != nil {
			return err
		}
		if err := m.chargeUpload(r.cfg.UploadQuota, person, len(payload)); err != nil {
			return err
		}
		var err error
		meta, err = m.registry.Update(person, name, payload, company, orderID)
		return err
	})
	r.noteQuota(err)
	return meta, err
}

// Buy purchases the person's submission for the company.
func (r *Runtime) Buy(ctx context.Context, company, person [20]byte, orderID uint64) (*escrow.Deal, error) {
	var deal *escrow.Deal
	err := r.execute(ctx, "buy", common.ModuleEscrow, tripleAttrs(company, person, orderID), func(m *modules) error {
		if err := m.accounts.Require(company, accounts.KindCompany); err != nil {
			return err
		}
		var err error
		deal, err = m.engine.Buy(company, person, orderID)
		return err
	})
	return deal, err
}

// Confirm settles a locked purchase.
func (r *Runtime) Confirm(ctx context.Context, company, person [20]byte, orderID uint64) error {
	return r.execute(ctx, "confirm", common.ModuleEscrow, tripleAttrs(company, person, orderID), func(m *modules) error {
		if err := m.accounts.Require(company, accounts.KindCompany); err != nil {
			return err
		}
		return m.engine.Confirm(company, person, orderID)
	})
}

// TipOff disputes the person's submission and returns the verdict.
func (r *Runtime) TipOff(ctx context.Context, company, person [20]byte, orderID uint64) (bool, error) {
	var verdict bool
	err := r.execute(ctx, "tip_off", common.ModuleEscrow, tripleAttrs(company, person, orderID), func(m *modules) error {
		if err := m.accounts.Require(company, accounts.KindCompany); err != nil {
			return err
		}
		var err error
		verdict, err = m.engine.TipOff(company, person, orderID)
		return err
	})
	if err == nil {
		observability.Runtime().RecordVerdict(verdict)
	}
	return verdict, err
}

// Credit mints funds into addr.
func (r *Runtime) Credit(ctx context.Context, addr [20]byte, amount *big.Int) error {
	return r.execute(ctx, "credit", "", nil, func(m *modules) error {
		return m.bank.Credit(addr, amount)
	})
}

// SetHeight moves the ledger to height.
func (r *Runtime) SetHeight(ctx context.Context, height uint64) error {
	return r.execute(ctx, "set_height", "", nil, func(m *modules) error {
		return m.bank.SetHeight(height)
	})
}

// AdvanceHeight moves the ledger forward by blocks and returns the new height.
func (r *Runtime) AdvanceHeight(ctx context.Context, blocks uint64) (uint64, error) {
	var height uint64
	err := r.execute(ctx, "advance_height", "", nil, func(m *modules) error {
		current, err := m.bank.Height()
		if err != nil {
			return err
		}
		height = current + blocks
		return m.bank.SetHeight(height)
	})
	return height, err
}

// InitGenesis credits the allocations and sets the start height the first
// time it runs. Later calls report false and change nothing.
func (r *Runtime) InitGenesis(ctx context.Context, allocs map[[20]byte]*big.Int, height uint64) (bool, error) {
	applied := false
	err := r.execute(ctx, "genesis", "", nil, func(m *modules) error {
		var done bool
		if _, err := m.manager.KVGet(genesisKey, &done); err != nil {
			return err
		}
		if done {
			return nil
		}
		addrs := make([][20]byte, 0, len(allocs))
		for addr := range allocs {
			addrs = append(addrs, addr)
		}
		slices.SortFunc(addrs, func(a, b [20]byte) int { return bytes.Compare(a[:], b[:]) })
		for _, addr := range addrs {
			if err := m.bank.Credit(addr, allocs[addr]); err != nil {
				return fmt.Errorf("genesis: credit %x: %w", addr, err)
			}
		}
		if err := m.bank.SetHeight(height); err != nil {
			return err
		}
		applied = true
		return m.manager.KVPut(genesisKey, true)
	})
	return applied, err
}

func (r *Runtime) checkPayload(payload []byte) error {
	if r.cfg.MaxPayloadBytes > 0 && len(payload) > r.cfg.MaxPayloadBytes {
		observability.Runtime().RecordRejection(common.ModuleRegistry, "payload_too_large")
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), r.cfg.MaxPayloadBytes)
	}
	return nil
}

func (r *Runtime) noteQuota(err error) {
	if errors.Is(err, common.ErrQuotaRequestsExceeded) || errors.Is(err, common.ErrQuotaBytesExceeded) {
		observability.Runtime().RecordRejection(common.ModuleRegistry, "quota_exceeded")
	}
}

// Orders lists the company's published orders.
func (r *Runtime) Orders(company [20]byte) ([]*orderbook.Order, error) {
	var out []*orderbook.Order
	err := r.query(func(m *modules) error {
		var err error
		out, err = m.book.List(company)
		return err
	})
	return out, err
}

// FindData returns the person's row for (company, orderID).
func (r *Runtime) FindData(person, company [20]byte, orderID uint64) (*registry.Metadata, bool, error) {
	var (
		meta *registry.Metadata
		ok   bool
	)
	err := r.query(func(m *modules) error {
		var err error
		meta, ok, err = m.registry.Find(person, company, orderID)
		return err
	})
	return meta, ok, err
}

// ListData lists every row the person uploaded.
func (r *Runtime) ListData(person [20]byte) ([]*registry.Metadata, error) {
	var out []*registry.Metadata
	err := r.query(func(m *modules) error {
		var err error
		out, err = m.registry.List(person)
		return err
	})
	return out, err
}

// Content returns the raw payload stored under key.
func (r *Runtime) Content(key content.Key) ([]byte, error) {
	var out []byte
	err := r.query(func(m *modules) error {
		var err error
		out, err = m.content.Get(key)
		return err
	})
	return out, err
}

// Download returns the person's payload for the order if caller may read it.
// Reads are recorded as transactions so the downloaded event is emitted.
func (r *Runtime) Download(ctx context.Context, caller, person, company [20]byte, orderID uint64) ([]byte, error) {
	var out []byte
	err := r.execute(ctx, "download", common.ModuleEscrow, tripleAttrs(company, person, orderID), func(m *modules) error {
		var err error
		out, err = m.engine.Download(caller, person, company, orderID)
		return err
	})
	return out, err
}

// Profile returns the registered profile of addr, if any.
func (r *Runtime) Profile(addr [20]byte) (*accounts.Profile, bool, error) {
	var (
		profile *accounts.Profile
		ok      bool
	)
	err := r.query(func(m *modules) error {
		var err error
		profile, ok, err = m.accounts.Get(addr)
		return err
	})
	return profile, ok, err
}

// AccountView is the ledger state of one address at the current height.
type AccountView struct {
	Balance *big.Int
	Usable  *big.Int
	Locks   []*types.Lock
	Height  uint64
	// Profile is nil for unregistered addresses.
	Profile *accounts.Profile
}

// Account returns the balance, usable balance and active locks of addr.
func (r *Runtime) Account(addr [20]byte) (*AccountView, error) {
	view := &AccountView{}
	err := r.query(func(m *modules) error {
		var err error
		if view.Height, err = m.bank.Height(); err != nil {
			return err
		}
		if view.Balance, err = m.bank.Balance(addr); err != nil {
			return err
		}
		if view.Usable, err = m.bank.Usable(addr); err != nil {
			return err
		}
		if view.Profile, _, err = m.accounts.Get(addr); err != nil {
			return err
		}
		view.Locks, err = m.bank.Locks(addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (r *Runtime) Balance(addr [20]byte) (*big.Int, error) {
	view, err := r.Account(addr)
	if err != nil {
		return nil, err
	}
	return view.Balance, nil
}

func (r *Runtime) Locks(addr [20]byte) ([]*types.Lock, error) {
	view, err := r.Account(addr)
	if err != nil {
		return nil, err
	}
	return view.Locks, nil
}

// Deal returns the escrow record of the triple.
func (r *Runtime) Deal(company, person [20]byte, orderID uint64) (*escrow.Deal, bool, error) {
	var (
		deal *escrow.Deal
		ok   bool
	)
	err := r.query(func(m *modules) error {
		var err error
		deal, ok, err = m.engine.Deal(company, person, orderID)
		return err
	})
	return deal, ok, err
}

func (r *Runtime) Height() (uint64, error) {
	var height uint64
	err := r.query(func(m *modules) error {
		var err error
		height, err = m.bank.Height()
		return err
	})
	return height, err
}
