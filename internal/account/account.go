// Package account implements the Account collaborator on top of the object
// store, writing one fixed-format ledger key per entry. Remote (federated)
// accounts satisfy the same domain.Account interface over transport instead.
package account

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/internal/errors"
	"ledger-core/internal/ledgerkey"
	"ledger-core/internal/metrics"
	"ledger-core/internal/store"
)

// StoreAccount owns the ledger entries under accounts/<id>/ledger/.
type StoreAccount struct {
	id      string
	objects store.ObjectStore
	logger  *slog.Logger
}

func New(id string, objects store.ObjectStore, logger *slog.Logger) *StoreAccount {
	return &StoreAccount{
		id:      id,
		objects: objects,
		logger:  logger,
	}
}

var _ domain.Account = (*StoreAccount)(nil)

func (a *StoreAccount) AccountID() string {
	return a.id
}

func (a *StoreAccount) prefix() string {
	return "accounts/" + a.id + "/ledger/"
}

// writeEntry encodes info as a ledger key under this account and stores
// payload at it.
func (a *StoreAccount) writeEntry(ctx context.Context, info *domain.TransactionInfo, payload interface{}) (time.Time, error) {
	key, err := ledgerkey.Encode(info)
	if err != nil {
		return time.Time{}, err
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return time.Time{}, errors.NewAppError(errors.InternalError, "failed to encode ledger payload").WithDetails(err.Error())
	}
	if err := a.objects.Set(ctx, a.prefix()+key, value); err != nil {
		return time.Time{}, err
	}

	metrics.LedgerWritesTotal.WithLabelValues(string(info.Code)).Inc()
	a.logger.Info("Ledger entry written",
		"account_id", a.id, "transaction_id", info.ID, "code", info.Code, "value", info.Value)
	return info.DateTime, nil
}

// Debit removes value from this account, producing the debit note that
// originates a transfer. A provisional debit also writes a CURRENT_LIABILITY
// entry for the value held pending receipt.
func (a *StoreAccount) Debit(ctx context.Context, value decimal.Decimal, provisional bool, receiptBy *time.Time) (*domain.DebitNote, error) {
	now := time.Now().UTC()
	debit, err := domain.NewDebitNote(uuid.New(), a.id, value, now, provisional, receiptBy)
	if err != nil {
		return nil, err
	}

	if _, err := a.writeEntry(ctx, &domain.TransactionInfo{
		Code:     domain.CodeDebit,
		Value:    value,
		DateTime: now,
		ID:       debit.ID,
	}, debit); err != nil {
		return nil, err
	}

	if provisional {
		if _, err := a.writeEntry(ctx, &domain.TransactionInfo{
			Code:     domain.CodeCurrentLiability,
			Value:    value,
			DateTime: now,
			ID:       debit.ID,
		}, debit); err != nil {
			return nil, err
		}
	}
	return debit, nil
}

// Credit applies a debit note here as the destination. Direct transfers write
// a CREDIT entry; provisional ones an ACCOUNT_RECEIVABLE entry, to be
// resolved by a later receipt or refund. The returned entry id is the
// transaction id: direct pairing never splits a transfer.
func (a *StoreAccount) Credit(ctx context.Context, debit *domain.DebitNote) (uuid.UUID, time.Time, error) {
	if debit == nil {
		return uuid.Nil, time.Time{}, errors.NewAppError(errors.InvalidType, "credit requires a debit note")
	}

	code := domain.CodeCredit
	if debit.Provisional {
		code = domain.CodeAccountReceivable
	}

	at, err := a.writeEntry(ctx, &domain.TransactionInfo{
		Code:     code,
		Value:    debit.Value,
		DateTime: time.Now().UTC(),
		ID:       debit.ID,
	}, debit)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return debit.ID, at, nil
}

// CreditReceipt finalizes a provisional credit here, recording the receipted
// value when it differs from the held value.
func (a *StoreAccount) CreditReceipt(ctx context.Context, debit *domain.DebitNote, receipt *domain.Receipt) (uuid.UUID, time.Time, error) {
	if debit == nil || receipt == nil {
		return uuid.Nil, time.Time{}, errors.NewAppError(errors.InvalidType, "credit receipt requires a debit note and a receipt")
	}

	receipted := receipt.ReceiptedValue
	at, err := a.writeEntry(ctx, &domain.TransactionInfo{
		Code:           domain.CodeReceivedReceipt,
		Value:          debit.Value,
		ReceiptedValue: &receipted,
		DateTime:       time.Now().UTC(),
		ID:             debit.ID,
	}, receiptPayload{ReceiptedValue: receipted, Identity: receipt.Authorization.Identity()})
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return debit.ID, at, nil
}

// CreditRefund unwinds a provisional credit here; this side sends the value
// back, so the entry is SENT_REFUND.
func (a *StoreAccount) CreditRefund(ctx context.Context, debit *domain.DebitNote, refund *domain.Refund) (uuid.UUID, time.Time, error) {
	if debit == nil || refund == nil {
		return uuid.Nil, time.Time{}, errors.NewAppError(errors.InvalidType, "credit refund requires a debit note and a refund")
	}

	at, err := a.writeEntry(ctx, &domain.TransactionInfo{
		Code:     domain.CodeSentRefund,
		Value:    debit.Value,
		DateTime: time.Now().UTC(),
		ID:       debit.ID,
	}, refundPayload{TransactionID: refund.TransactionID, Identity: refund.Authorization.Identity()})
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return debit.ID, at, nil
}

// DebitReceipt records on the source side that its receipt was applied.
func (a *StoreAccount) DebitReceipt(ctx context.Context, debit *domain.DebitNote, receipt *domain.Receipt) (uuid.UUID, time.Time, error) {
	receipted := receipt.ReceiptedValue
	at, err := a.writeEntry(ctx, &domain.TransactionInfo{
		Code:           domain.CodeSentReceipt,
		Value:          debit.Value,
		ReceiptedValue: &receipted,
		DateTime:       time.Now().UTC(),
		ID:             debit.ID,
	}, receiptPayload{ReceiptedValue: receipted, Identity: receipt.Authorization.Identity()})
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return debit.ID, at, nil
}

// DebitRefund records on the source side that the held value came back.
func (a *StoreAccount) DebitRefund(ctx context.Context, debit *domain.DebitNote, refund *domain.Refund) (uuid.UUID, time.Time, error) {
	at, err := a.writeEntry(ctx, &domain.TransactionInfo{
		Code:     domain.CodeReceivedRefund,
		Value:    debit.Value,
		DateTime: time.Now().UTC(),
		ID:       debit.ID,
	}, refundPayload{TransactionID: refund.TransactionID, Identity: refund.Authorization.Identity()})
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return debit.ID, at, nil
}

// Entries lists this account's ledger in key order, which the codec
// guarantees is chronological.
func (a *StoreAccount) Entries(ctx context.Context) ([]*domain.TransactionInfo, error) {
	keys, err := a.objects.List(ctx, a.prefix())
	if err != nil {
		return nil, err
	}

	entries := make([]*domain.TransactionInfo, 0, len(keys))
	for _, key := range keys {
		info, err := ledgerkey.Decode(key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, info)
	}
	return entries, nil
}

type receiptPayload struct {
	ReceiptedValue decimal.Decimal `json:"receipted_value"`
	Identity       string          `json:"identity"`
}

type refundPayload struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Identity      string    `json:"identity"`
}

// StaticResolver resolves account ids against a fixed local set.
type StaticResolver struct {
	accounts map[string]domain.Account
}

func NewStaticResolver(accounts ...domain.Account) *StaticResolver {
	r := &StaticResolver{accounts: make(map[string]domain.Account)}
	for _, acc := range accounts {
		r.accounts[acc.AccountID()] = acc
	}
	return r
}

var _ domain.AccountResolver = (*StaticResolver)(nil)

func (r *StaticResolver) Resolve(ctx context.Context, accountID string) (domain.Account, error) {
	acc, ok := r.accounts[accountID]
	if !ok {
		return nil, errors.NewAppErrorf(errors.NotFound, "account %s not found", accountID)
	}
	return acc, nil
}
