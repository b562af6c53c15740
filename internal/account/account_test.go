package account

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-core/internal/domain"
	"ledger-core/internal/errors"
	"ledger-core/internal/store"
)

type allowAuth struct{}

func (allowAuth) Verify(resource string) error { return nil }
func (allowAuth) Identity() string             { return "identity.example/alice" }

func newTestAccount(id string) (*StoreAccount, *store.MemoryStore) {
	objects := store.NewMemoryStore()
	return New(id, objects, slog.New(slog.DiscardHandler)), objects
}

func TestDebitWritesDebitEntry(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccount("alice@ledger.example")

	debit, err := acc.Debit(ctx, decimal.NewFromInt(100), false, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice@ledger.example", debit.AccountID)
	assert.False(t, debit.Provisional)

	entries, err := acc.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.CodeDebit, entries[0].Code)
	assert.True(t, entries[0].Value.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, debit.ID, entries[0].ID)
}

func TestProvisionalDebitAddsLiability(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccount("alice@ledger.example")

	by := time.Now().UTC().Add(time.Hour)
	debit, err := acc.Debit(ctx, decimal.NewFromInt(100), true, &by)
	require.NoError(t, err)
	require.NotNil(t, debit.ReceiptBy)

	entries, err := acc.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	codes := []domain.TransactionCode{entries[0].Code, entries[1].Code}
	assert.Contains(t, codes, domain.CodeDebit)
	assert.Contains(t, codes, domain.CodeCurrentLiability)
}

func TestCreditDirectAndProvisional(t *testing.T) {
	ctx := context.Background()
	source, _ := newTestAccount("alice@ledger.example")
	dest, _ := newTestAccount("bob@ledger.example")

	direct, err := source.Debit(ctx, decimal.NewFromInt(10), false, nil)
	require.NoError(t, err)

	entryID, _, err := dest.Credit(ctx, direct)
	require.NoError(t, err)
	assert.Equal(t, direct.ID, entryID, "direct pairing keeps the transaction id")

	time.Sleep(2 * time.Millisecond)
	by := time.Now().UTC().Add(time.Hour)
	held, err := source.Debit(ctx, decimal.NewFromInt(20), true, &by)
	require.NoError(t, err)

	_, _, err = dest.Credit(ctx, held)
	require.NoError(t, err)

	entries, err := dest.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.CodeCredit, entries[0].Code)
	assert.Equal(t, domain.CodeAccountReceivable, entries[1].Code)
}

func TestCreditReceiptRecordsReceiptedValue(t *testing.T) {
	ctx := context.Background()
	source, _ := newTestAccount("alice@ledger.example")
	dest, _ := newTestAccount("bob@ledger.example")

	by := time.Now().UTC().Add(time.Hour)
	debit, err := source.Debit(ctx, decimal.NewFromInt(100), true, &by)
	require.NoError(t, err)

	_, _, err = dest.Credit(ctx, debit)
	require.NoError(t, err)

	note := &domain.CreditNote{
		ID:          debit.ID,
		DebitNoteID: debit.ID,
		AccountID:   dest.AccountID(),
		Value:       debit.Value,
		Provisional: true,
		ReceiptBy:   debit.ReceiptBy,
	}
	receipted := decimal.NewFromInt(87)
	receipt, err := domain.NewReceipt(note, allowAuth{}, &receipted)
	require.NoError(t, err)

	_, _, err = dest.CreditReceipt(ctx, debit, receipt)
	require.NoError(t, err)

	entries, err := dest.Entries(ctx)
	require.NoError(t, err)

	var found bool
	for _, entry := range entries {
		if entry.Code == domain.CodeReceivedReceipt {
			found = true
			assert.True(t, entry.Value.Equal(decimal.NewFromInt(100)))
			require.NotNil(t, entry.ReceiptedValue)
			assert.True(t, entry.ReceiptedValue.Equal(receipted))
		}
	}
	assert.True(t, found, "expected a RECEIVED_RECEIPT entry, got %v", entries)
}

func TestEntriesAreChronological(t *testing.T) {
	ctx := context.Background()
	acc, _ := newTestAccount("alice@ledger.example")

	for i := 0; i < 3; i++ {
		_, err := acc.Debit(ctx, decimal.NewFromInt(int64(i+1)), false, nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct microsecond timestamps
	}

	entries, err := acc.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].DateTime.Before(entries[i-1].DateTime))
	}
}

func TestStaticResolver(t *testing.T) {
	ctx := context.Background()
	alice, _ := newTestAccount("alice@ledger.example")
	bob, _ := newTestAccount("bob@ledger.example")

	resolver := NewStaticResolver(alice, bob)

	resolved, err := resolver.Resolve(ctx, "bob@ledger.example")
	require.NoError(t, err)
	assert.Equal(t, "bob@ledger.example", resolved.AccountID())

	_, err = resolver.Resolve(ctx, "carol@ledger.example")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestCreditRejectsNilDebitNote(t *testing.T) {
	acc, _ := newTestAccount("bob@ledger.example")
	_, _, err := acc.Credit(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrInvalidType)
}
