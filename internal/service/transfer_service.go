package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"ledger-core/internal/domain"
	"ledger-core/internal/errors"
	"ledger-core/internal/lock"
	"ledger-core/internal/txstate"
)

// TransferService drives the debit/credit pairing and receipt/refund
// protocols. Every mutation holds the transaction's lease across the state
// transitions and the ledger writes they bracket.
type TransferService struct {
	records  *txstate.Machine
	resolver domain.AccountResolver
	logger   *slog.Logger
}

func NewTransferService(
	records *txstate.Machine,
	resolver domain.AccountResolver,
	logger *slog.Logger,
) *TransferService {
	return &TransferService{
		records:  records,
		resolver: resolver,
		logger:   logger,
	}
}

// Transfer pairs a non-provisional debit note with a destination account
// directly: no receipt/refund cycle, the record stays PENDING.
func (s *TransferService) Transfer(ctx context.Context, debit *domain.DebitNote, destination domain.Account) (*domain.CreditNote, error) {
	if debit == nil || destination == nil {
		return nil, errors.NewAppError(errors.InvalidType, "transfer requires a debit note and a destination account")
	}
	if debit.Provisional {
		return nil, errors.NewAppError(errors.InvalidValue, "provisional debit notes must be transferred via Hold")
	}

	s.logger.Info("Processing transfer",
		"transaction_id", debit.ID,
		"source_account_id", debit.AccountID,
		"destination_account_id", destination.AccountID(),
		"value", debit.Value)

	lease, err := s.records.Guard(ctx, debit.ID)
	if err != nil {
		return nil, err
	}

	note, err := s.pairLocked(ctx, lease, debit, destination)
	if releaseErr := lease.Release(ctx); err == nil {
		err = releaseErr
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transfer completed", "transaction_id", debit.ID, "credit_note_id", note.ID)
	return note, nil
}

// Hold pairs a provisional debit note with a destination account: the value
// is held against the destination and the record moves PENDING -> RECEIPTING,
// awaiting a Receipt or Refund before the note's receipt_by deadline.
func (s *TransferService) Hold(ctx context.Context, debit *domain.DebitNote, destination domain.Account) (*domain.CreditNote, error) {
	if debit == nil || destination == nil {
		return nil, errors.NewAppError(errors.InvalidType, "hold requires a debit note and a destination account")
	}
	if !debit.Provisional {
		return nil, errors.NewAppError(errors.InvalidValue, "direct debit notes must be transferred via Transfer")
	}

	s.logger.Info("Processing provisional hold",
		"transaction_id", debit.ID,
		"source_account_id", debit.AccountID,
		"destination_account_id", destination.AccountID(),
		"value", debit.Value,
		"receipt_by", debit.ReceiptBy)

	lease, err := s.records.Guard(ctx, debit.ID)
	if err != nil {
		return nil, err
	}

	note, err := s.holdLocked(ctx, lease, debit, destination)
	if releaseErr := lease.Release(ctx); err == nil {
		err = releaseErr
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Hold placed", "transaction_id", debit.ID, "credit_note_id", note.ID)
	return note, nil
}

func (s *TransferService) pairLocked(ctx context.Context, lease *lock.Lease, debit *domain.DebitNote, destination domain.Account) (*domain.CreditNote, error) {
	err := s.records.CreateWith(ctx, lease, &txstate.Record{
		ID:              debit.ID,
		State:           txstate.StatePending,
		DebitAccountID:  debit.AccountID,
		CreditAccountID: destination.AccountID(),
		Value:           debit.Value,
		ReceiptBy:       debit.ReceiptBy,
	})
	if err != nil {
		return nil, err
	}
	return domain.NewCreditNote(ctx, debit, destination)
}

func (s *TransferService) holdLocked(ctx context.Context, lease *lock.Lease, debit *domain.DebitNote, destination domain.Account) (*domain.CreditNote, error) {
	note, err := s.pairLocked(ctx, lease, debit, destination)
	if err != nil {
		return nil, err
	}
	if _, err := s.records.LoadTestAndSetWith(ctx, lease, debit.ID, txstate.StatePending, txstate.StateReceipting); err != nil {
		return nil, err
	}
	return note, nil
}

// Receipt finalizes a provisional transfer. destination may be nil, in which
// case it is resolved from the transaction record; a supplied account must
// match the record's credit account.
func (s *TransferService) Receipt(ctx context.Context, debit *domain.DebitNote, receipt *domain.Receipt, destination domain.Account) (*domain.CreditNote, error) {
	if debit == nil || receipt == nil {
		return nil, errors.NewAppError(errors.InvalidType, "receipt requires a debit note and a receipt")
	}
	id := receipt.TransactionID()
	if id != debit.ID {
		return nil, errors.NewAppErrorf(errors.PermissionDenied,
			"receipt is bound to transaction %s, not %s", id, debit.ID)
	}

	lease, err := s.records.Guard(ctx, id)
	if err != nil {
		return nil, err
	}

	note, err := s.receiptLocked(ctx, lease, debit, receipt, destination)
	if releaseErr := lease.Release(ctx); err == nil {
		err = releaseErr
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transaction receipted",
		"transaction_id", id, "receipted_value", receipt.ReceiptedValue)
	return note, nil
}

func (s *TransferService) receiptLocked(ctx context.Context, lease *lock.Lease, debit *domain.DebitNote, receipt *domain.Receipt, destination domain.Account) (*domain.CreditNote, error) {
	id := receipt.TransactionID()

	// Assert the record is mid-receipt; a transaction never put into
	// RECEIPTING, or already finalized, is rejected here.
	record, err := s.records.LoadTestAndSetWith(ctx, lease, id, txstate.StateReceipting, txstate.StateReceipting)
	if err != nil {
		return nil, err
	}

	if err := s.verifyBinding(receipt.Authorization, record); err != nil {
		return nil, err
	}

	account, err := s.resolveDestination(ctx, record, destination)
	if err != nil {
		return nil, err
	}

	entryID, at, err := account.CreditReceipt(ctx, debit, receipt)
	if err != nil {
		return nil, err
	}

	note := &domain.CreditNote{
		ID:             entryID,
		DebitNoteID:    debit.ID,
		AccountID:      account.AccountID(),
		DebitAccountID: record.DebitAccountID,
		Value:          receipt.ReceiptedValue,
		DateTime:       at,
	}

	if _, err := s.records.LoadTestAndSetWith(ctx, lease, id, txstate.StateReceipting, txstate.StateReceipted); err != nil {
		return nil, err
	}
	return note, nil
}

// Refund reverses a provisional transfer: the destination returns the held
// value. Works from RECEIPTING (caller-initiated) and from REFUNDING (a
// recovery sweep already forced the transition).
func (s *TransferService) Refund(ctx context.Context, debit *domain.DebitNote, refund *domain.Refund, destination domain.Account) (*domain.CreditNote, error) {
	if debit == nil || refund == nil {
		return nil, errors.NewAppError(errors.InvalidType, "refund requires a debit note and a refund")
	}
	if refund.TransactionID != debit.ID {
		return nil, errors.NewAppErrorf(errors.PermissionDenied,
			"refund is bound to transaction %s, not %s", refund.TransactionID, debit.ID)
	}

	lease, err := s.records.Guard(ctx, refund.TransactionID)
	if err != nil {
		return nil, err
	}

	note, err := s.refundLocked(ctx, lease, debit, refund, destination)
	if releaseErr := lease.Release(ctx); err == nil {
		err = releaseErr
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transaction refunded", "transaction_id", refund.TransactionID, "value", debit.Value)
	return note, nil
}

func (s *TransferService) refundLocked(ctx context.Context, lease *lock.Lease, debit *domain.DebitNote, refund *domain.Refund, destination domain.Account) (*domain.CreditNote, error) {
	id := refund.TransactionID

	record, err := s.records.LoadTestAndSetWith(ctx, lease, id, txstate.StateReceipting, txstate.StateRefunding)
	if err != nil {
		if !errors.Is(err, errors.ErrPermissionDenied) {
			return nil, err
		}
		// Already REFUNDING (e.g. forced by the recovery sweep): assert and continue.
		record, err = s.records.LoadTestAndSetWith(ctx, lease, id, txstate.StateRefunding, txstate.StateRefunding)
		if err != nil {
			return nil, err
		}
	}

	if err := s.verifyBinding(refund.Authorization, record); err != nil {
		return nil, err
	}

	account, err := s.resolveDestination(ctx, record, destination)
	if err != nil {
		return nil, err
	}

	entryID, at, err := account.CreditRefund(ctx, debit, refund)
	if err != nil {
		return nil, err
	}

	// The reversal credits the original source.
	note := &domain.CreditNote{
		ID:             entryID,
		DebitNoteID:    debit.ID,
		AccountID:      record.DebitAccountID,
		DebitAccountID: record.CreditAccountID,
		Value:          debit.Value,
		DateTime:       at,
	}

	if _, err := s.records.LoadTestAndSetWith(ctx, lease, id, txstate.StateRefunding, txstate.StateRefunded); err != nil {
		return nil, err
	}
	return note, nil
}

// verifyBinding checks the authorization covers this transaction, preventing
// cross-transaction receipt or refund replay.
func (s *TransferService) verifyBinding(auth domain.Authorization, record *txstate.Record) error {
	if auth == nil {
		return errors.NewAppError(errors.InvalidType, "missing authorization")
	}
	if err := auth.Verify(ResourceName(record.ID)); err != nil {
		s.logger.Warn("Authorization rejected",
			"transaction_id", record.ID, "identity", auth.Identity(), "error", err)
		return errors.NewAppErrorf(errors.PermissionDenied,
			"authorization does not cover transaction %s", record.ID).WithDetails(err.Error())
	}
	return nil
}

func (s *TransferService) resolveDestination(ctx context.Context, record *txstate.Record, supplied domain.Account) (domain.Account, error) {
	if supplied != nil {
		if supplied.AccountID() != record.CreditAccountID {
			return nil, errors.NewAppErrorf(errors.PermissionDenied,
				"account %s is not the credit account of transaction %s", supplied.AccountID(), record.ID)
		}
		return supplied, nil
	}
	return s.resolver.Resolve(ctx, record.CreditAccountID)
}

// ResourceName is the identity-service resource an authorization must cover
// to act on a transaction.
func ResourceName(id uuid.UUID) string {
	return "transactions/" + id.String()
}
