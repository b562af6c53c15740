package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/errors"
)

// Receipt finalizes a provisional credit note, optionally for less than the
// held value. Constructed only from provisional notes.
type Receipt struct {
	CreditNote     *CreditNote
	Authorization  Authorization
	ReceiptedValue decimal.Decimal
}

// Refund is the reversal counterpart: it binds an authorization to the
// transaction being unwound.
type Refund struct {
	TransactionID uuid.UUID
	Authorization Authorization
}

// NewReceipt builds a receipt over a single provisional credit note. A nil
// receiptedValue receipts the full note value.
func NewReceipt(note *CreditNote, auth Authorization, receiptedValue *decimal.Decimal) (*Receipt, error) {
	if note.IsNull() {
		return nil, errors.NewAppError(errors.InvalidType, "receipt requires a credit note")
	}
	if auth == nil {
		return nil, errors.NewAppError(errors.InvalidType, "receipt requires an authorization")
	}
	if !note.Provisional {
		return nil, errors.NewAppErrorf(errors.InvalidValue, "credit note %s is not provisional", note.ID)
	}

	value := note.Value
	if receiptedValue != nil {
		value = *receiptedValue
	}
	if value.IsNegative() || value.GreaterThan(note.Value) {
		return nil, errors.NewAppErrorf(errors.InvalidValue,
			"receipted value %s outside [0, %s]", value, note.Value)
	}

	return &Receipt{
		CreditNote:     note,
		Authorization:  auth,
		ReceiptedValue: value,
	}, nil
}

// CreateReceipts distributes a single aggregate receipted value across many
// credit notes. The default (nil receiptedValue) receipts each note in full;
// otherwise the deficit against the notes' total is absorbed greedily from
// the front of the list, each note taking min(remaining deficit, note value).
func CreateReceipts(notes []*CreditNote, auth Authorization, receiptedValue *decimal.Decimal) ([]*Receipt, error) {
	if len(notes) == 0 {
		return nil, errors.NewAppError(errors.InvalidValue, "no credit notes to receipt")
	}

	if receiptedValue == nil {
		receipts := make([]*Receipt, 0, len(notes))
		for _, note := range notes {
			receipt, err := NewReceipt(note, auth, nil)
			if err != nil {
				return nil, err
			}
			receipts = append(receipts, receipt)
		}
		return receipts, nil
	}

	total := decimal.Zero
	for _, note := range notes {
		total = total.Add(note.Value)
	}
	if receiptedValue.IsNegative() || receiptedValue.GreaterThan(total) {
		return nil, errors.NewAppErrorf(errors.InvalidValue,
			"aggregate receipted value %s outside [0, %s]", receiptedValue, total)
	}

	deficit := total.Sub(*receiptedValue)
	receipts := make([]*Receipt, 0, len(notes))
	for _, note := range notes {
		absorbed := decimal.Min(deficit, note.Value)
		deficit = deficit.Sub(absorbed)
		value := note.Value.Sub(absorbed)
		receipt, err := NewReceipt(note, auth, &value)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// TransactionID returns the transaction this receipt is bound to.
func (r *Receipt) TransactionID() uuid.UUID {
	return r.CreditNote.DebitNoteID
}

// NewRefund binds an authorization to the reversal of transactionID.
func NewRefund(transactionID uuid.UUID, auth Authorization) (*Refund, error) {
	if transactionID == uuid.Nil {
		return nil, errors.NewAppError(errors.InvalidValue, "refund requires a transaction id")
	}
	if auth == nil {
		return nil, errors.NewAppError(errors.InvalidType, "refund requires an authorization")
	}
	return &Refund{
		TransactionID: transactionID,
		Authorization: auth,
	}, nil
}
