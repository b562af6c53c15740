package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/errors"
)

// TransactionCode is the two-letter kind tag carried in every ledger key.
type TransactionCode string

const (
	CodeCredit            TransactionCode = "CR"
	CodeDebit             TransactionCode = "DB"
	CodeCurrentLiability  TransactionCode = "CL"
	CodeAccountReceivable TransactionCode = "AR"
	CodeReceivedReceipt   TransactionCode = "RR"
	CodeSentReceipt       TransactionCode = "SR"
	CodeReceivedRefund    TransactionCode = "RF"
	CodeSentRefund        TransactionCode = "SF"
)

// Valid reports whether c is one of the known codes.
func (c TransactionCode) Valid() bool {
	switch c {
	case CodeCredit, CodeDebit, CodeCurrentLiability, CodeAccountReceivable,
		CodeReceivedReceipt, CodeSentReceipt, CodeReceivedRefund, CodeSentRefund:
		return true
	}
	return false
}

// TransactionInfo is one side of a value transfer, round-tripping losslessly
// to and from a ledger key string.
type TransactionInfo struct {
	Code           TransactionCode
	Value          decimal.Decimal
	ReceiptedValue *decimal.Decimal
	DateTime       time.Time
	ID             uuid.UUID
}

// Rescind produces the inverse entry: CREDIT and DEBIT swap with the value
// unchanged; CURRENT_LIABILITY and ACCOUNT_RECEIVABLE keep their code and
// negate the value. Other codes have no inverse.
func (t *TransactionInfo) Rescind() (*TransactionInfo, error) {
	inverse := &TransactionInfo{
		Value:          t.Value,
		ReceiptedValue: t.ReceiptedValue,
		DateTime:       t.DateTime,
		ID:             t.ID,
	}

	switch t.Code {
	case CodeCredit:
		inverse.Code = CodeDebit
	case CodeDebit:
		inverse.Code = CodeCredit
	case CodeCurrentLiability, CodeAccountReceivable:
		inverse.Code = t.Code
		inverse.Value = t.Value.Neg()
	default:
		return nil, errors.NewAppErrorf(errors.InvalidValue, "transaction code %s cannot be rescinded", t.Code)
	}
	return inverse, nil
}
