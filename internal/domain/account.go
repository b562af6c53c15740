package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Account is the ledger-owning collaborator. Implementations apply credits
// atomically on their own side and return the entry id and timestamp of the
// write; balance and limit enforcement lives behind this interface.
type Account interface {
	AccountID() string
	Credit(ctx context.Context, debit *DebitNote) (uuid.UUID, time.Time, error)
	CreditReceipt(ctx context.Context, debit *DebitNote, receipt *Receipt) (uuid.UUID, time.Time, error)
	CreditRefund(ctx context.Context, debit *DebitNote, refund *Refund) (uuid.UUID, time.Time, error)
}

// AccountResolver looks up an Account by its federated account id.
type AccountResolver interface {
	Resolve(ctx context.Context, accountID string) (Account, error)
}

// Authorization is an opaque, already-signed grant from the identity service.
// Verify checks the grant covers resource; this core never performs
// cryptography itself.
type Authorization interface {
	Verify(resource string) error
	// Identity is a stable name for the grantor, usable for equality and audit.
	Identity() string
}
