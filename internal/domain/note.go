package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/errors"
)

// DebitNote records value removed from a source account. Its ID doubles as
// the transaction id shared with the paired CreditNote. Immutable once
// created.
type DebitNote struct {
	ID          uuid.UUID       `json:"id"`
	AccountID   string          `json:"account_id"`
	Value       decimal.Decimal `json:"value"`
	DateTime    time.Time       `json:"datetime"`
	Provisional bool            `json:"is_provisional"`
	ReceiptBy   *time.Time      `json:"receipt_by,omitempty"`
}

// CreditNote records value added to a destination account, paired one-to-one
// with a DebitNote through the shared transaction id.
type CreditNote struct {
	ID             uuid.UUID       `json:"id"`
	DebitNoteID    uuid.UUID       `json:"debit_note_id"`
	AccountID      string          `json:"account_id"`
	DebitAccountID string          `json:"debit_account_id"`
	Value          decimal.Decimal `json:"value"`
	DateTime       time.Time       `json:"datetime"`
	Provisional    bool            `json:"is_provisional"`
	ReceiptBy      *time.Time      `json:"receipt_by,omitempty"`
}

// IsNull reports whether this is the zero sentinel returned in place of a
// missing note.
func (n *CreditNote) IsNull() bool {
	return n == nil || n.ID == uuid.Nil
}

// NewDebitNote validates and builds a debit note. Value must be >= 0.
func NewDebitNote(id uuid.UUID, accountID string, value decimal.Decimal, at time.Time, provisional bool, receiptBy *time.Time) (*DebitNote, error) {
	if id == uuid.Nil {
		return nil, errors.NewAppError(errors.InvalidValue, "debit note requires an id")
	}
	if accountID == "" {
		return nil, errors.NewAppError(errors.InvalidValue, "debit note requires an account id")
	}
	if value.IsNegative() {
		return nil, errors.NewAppErrorf(errors.InvalidValue, "debit note value %s is negative", value)
	}
	if provisional && receiptBy == nil {
		return nil, errors.NewAppError(errors.InvalidValue, "provisional debit note requires a receipt_by deadline")
	}
	return &DebitNote{
		ID:          id,
		AccountID:   accountID,
		Value:       value,
		DateTime:    at,
		Provisional: provisional,
		ReceiptBy:   receiptBy,
	}, nil
}

// NewCreditNote pairs a debit note with a destination account. The account's
// Credit write is the single side effect; no store mutation happens before
// the collaborators are validated.
func NewCreditNote(ctx context.Context, debit *DebitNote, account Account) (*CreditNote, error) {
	if debit == nil {
		return nil, errors.NewAppError(errors.InvalidType, "credit note requires a debit note")
	}
	if account == nil {
		return nil, errors.NewAppError(errors.InvalidType, "credit note requires an account")
	}

	entryID, at, err := account.Credit(ctx, debit)
	if err != nil {
		return nil, err
	}

	return &CreditNote{
		ID:             entryID,
		DebitNoteID:    debit.ID,
		AccountID:      account.AccountID(),
		DebitAccountID: debit.AccountID,
		Value:          debit.Value,
		DateTime:       at,
		Provisional:    debit.Provisional,
		ReceiptBy:      debit.ReceiptBy,
	}, nil
}
