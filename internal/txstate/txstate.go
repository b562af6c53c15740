// Package txstate stores one Record per transaction id and advances it only
// through load-test-and-set. The object store has no native compare-and-swap,
// so the load-compare-store sequence is guarded by a lease lock on the
// transaction id; backends with real CAS could implement the same primitive
// without the lease.
package txstate

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/errors"
	"ledger-core/internal/lock"
	"ledger-core/internal/metrics"
	"ledger-core/internal/store"
)

type State string

const (
	StatePending    State = "PENDING"
	StateReceipting State = "RECEIPTING"
	StateReceipted  State = "RECEIPTED"
	StateRefunding  State = "REFUNDING"
	StateRefunded   State = "REFUNDED"
)

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateReceipted || s == StateRefunded
}

// Record is the durable per-transaction state, keyed by transaction id.
// Records are never deleted; rescinded entries are written as inverses.
type Record struct {
	ID              uuid.UUID       `json:"id"`
	State           State           `json:"state"`
	DebitAccountID  string          `json:"debit_account_id"`
	CreditAccountID string          `json:"credit_account_id"`
	Value           decimal.Decimal `json:"value"`
	ReceiptBy       *time.Time      `json:"receipt_by,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

const keyPrefix = "transactions/"

// Machine mediates all access to transaction records.
type Machine struct {
	objects     store.ObjectStore
	logger      *slog.Logger
	lockTimeout time.Duration
	leaseFor    time.Duration
}

func NewMachine(objects store.ObjectStore, logger *slog.Logger) *Machine {
	return &Machine{
		objects:     objects,
		logger:      logger,
		lockTimeout: 10 * time.Second,
		leaseFor:    30 * time.Second,
	}
}

func recordKey(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// Guard acquires the lease guarding the record for id. Callers that need to
// pair a state transition with ledger writes hold this lease across both and
// pass it to the *With variants, which re-enter it instead of deadlocking on
// a second acquire.
func (m *Machine) Guard(ctx context.Context, id uuid.UUID) (*lock.Lease, error) {
	return lock.Acquire(ctx, m.objects, recordKey(id), m.lockTimeout, m.leaseFor, m.logger)
}

// Create writes a new record under its own lease. It fails when a record
// already exists for the id, so replayed transfer initiations surface instead
// of clobbering state.
func (m *Machine) Create(ctx context.Context, record *Record) error {
	lease, err := m.Guard(ctx, record.ID)
	if err != nil {
		return err
	}

	err = m.CreateWith(ctx, lease, record)
	if releaseErr := lease.Release(ctx); err == nil {
		err = releaseErr
	}
	return err
}

// CreateWith is Create under a lease the caller already holds.
func (m *Machine) CreateWith(ctx context.Context, lease *lock.Lease, record *Record) error {
	if record.ID == uuid.Nil {
		return errors.NewAppError(errors.InvalidValue, "transaction record requires an id")
	}

	if err := lease.Lock(ctx); err != nil {
		return err
	}
	err := m.createLocked(ctx, record)
	if releaseErr := lease.Release(ctx); err == nil {
		err = releaseErr
	}
	return err
}

func (m *Machine) createLocked(ctx context.Context, record *Record) error {
	_, err := m.objects.Get(ctx, recordKey(record.ID))
	if err == nil {
		return errors.NewAppErrorf(errors.PermissionDenied, "transaction %s already exists", record.ID)
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return err
	}

	record.UpdatedAt = time.Now().UTC()
	value, err := json.Marshal(record)
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to encode transaction record").WithDetails(err.Error())
	}
	if err := m.objects.Set(ctx, recordKey(record.ID), value); err != nil {
		return err
	}

	m.logger.Info("Transaction record created", "transaction_id", record.ID, "state", record.State)
	return nil
}

// Load returns the record for id, or NotFound.
func (m *Machine) Load(ctx context.Context, id uuid.UUID) (*Record, error) {
	value, err := m.objects.Get(ctx, recordKey(id))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewAppErrorf(errors.NotFound, "transaction %s not found", id)
		}
		return nil, err
	}

	var record Record
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to decode transaction record").WithDetails(err.Error())
	}
	return &record, nil
}

// LoadTestAndSet is the sole mutator: it asserts the stored state equals
// expected, then stores next. The compare and the store run under a lease on
// the transaction id. Asserting expected == next is a pure state check.
func (m *Machine) LoadTestAndSet(ctx context.Context, id uuid.UUID, expected, next State) (*Record, error) {
	lease, err := m.Guard(ctx, id)
	if err != nil {
		return nil, err
	}

	record, err := m.testAndSetLocked(ctx, id, expected, next)
	if releaseErr := lease.Release(ctx); err == nil {
		err = releaseErr
	}

	m.countTransition(expected, next, err)
	return record, err
}

// LoadTestAndSetWith is LoadTestAndSet under a lease the caller already
// holds.
func (m *Machine) LoadTestAndSetWith(ctx context.Context, lease *lock.Lease, id uuid.UUID, expected, next State) (*Record, error) {
	if err := lease.Lock(ctx); err != nil {
		return nil, err
	}

	record, err := m.testAndSetLocked(ctx, id, expected, next)
	if releaseErr := lease.Release(ctx); err == nil {
		err = releaseErr
	}

	m.countTransition(expected, next, err)
	return record, err
}

func (m *Machine) countTransition(expected, next State, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	metrics.StateTransitionsTotal.WithLabelValues(string(expected), string(next), result).Inc()
}

func (m *Machine) testAndSetLocked(ctx context.Context, id uuid.UUID, expected, next State) (*Record, error) {
	record, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.State != expected {
		m.logger.Warn("State transition rejected",
			"transaction_id", id, "expected", expected, "actual", record.State, "next", next)
		return nil, errors.NewAppErrorf(errors.PermissionDenied,
			"transaction %s is %s, expected %s", id, record.State, expected)
	}
	if record.State.Terminal() && next != record.State {
		return nil, errors.NewAppErrorf(errors.PermissionDenied,
			"transaction %s is terminal in %s", id, record.State)
	}

	if next == record.State {
		return record, nil
	}

	record.State = next
	record.UpdatedAt = time.Now().UTC()
	value, err := json.Marshal(record)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to encode transaction record").WithDetails(err.Error())
	}
	if err := m.objects.Set(ctx, recordKey(id), value); err != nil {
		return nil, err
	}

	m.logger.Info("Transaction state advanced", "transaction_id", id, "from", expected, "to", next)
	return record, nil
}
