package ledgercore_test

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"

	"ledger-core/internal/account"
	"ledger-core/internal/domain"
	"ledger-core/internal/errors"
	"ledger-core/internal/ledgerkey"
	"ledger-core/internal/lock"
	"ledger-core/internal/service"
	"ledger-core/internal/store"
	"ledger-core/internal/txstate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type allowAuth struct{ identity string }

func (a allowAuth) Verify(resource string) error { return nil }
func (a allowAuth) Identity() string             { return a.identity }

type IntegrationTestSuite struct {
	suite.Suite
	postgresContainer *pgcontainer.PostgresContainer
	db                *sql.DB
	objects           *store.PostgresStore
	logger            *slog.Logger
}

func (suite *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	container, err := pgcontainer.Run(ctx, "postgres:15-alpine",
		pgcontainer.WithDatabase("ledger"),
		pgcontainer.WithUsername("postgres"),
		pgcontainer.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		suite.T().Fatalf("Failed to start postgres container: %s", err)
	}
	suite.postgresContainer = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		suite.T().Fatalf("Failed to build connection string: %s", err)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		suite.T().Fatalf("Failed to open database: %s", err)
	}
	suite.db = db

	if err := suite.runMigrations(); err != nil {
		suite.T().Fatalf("Failed to run migrations: %s", err)
	}

	suite.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	suite.objects = store.NewPostgresStore(db, suite.logger)
}

func (suite *IntegrationTestSuite) runMigrations() error {
	migrationFiles, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	sort.Slice(migrationFiles, func(i, j int) bool {
		return migrationFiles[i].Name() < migrationFiles[j].Name()
	})

	for _, file := range migrationFiles {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}
		migrationSQL, err := migrationsFS.ReadFile("migrations/" + file.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file.Name(), err)
		}
		if _, err := suite.db.Exec(string(migrationSQL)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", file.Name(), err)
		}
	}
	return nil
}

func (suite *IntegrationTestSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if suite.db != nil {
		suite.db.Close()
	}
	if suite.postgresContainer != nil {
		suite.postgresContainer.Terminate(ctx)
	}
}

func (suite *IntegrationTestSuite) SetupTest() {
	_, err := suite.db.Exec("TRUNCATE ledger_objects")
	suite.Require().NoError(err)
}

func (suite *IntegrationTestSuite) TestObjectStorePrimitives() {
	ctx := context.Background()

	_, err := suite.objects.Get(ctx, "missing")
	suite.ErrorIs(err, errors.ErrNotFound)

	suite.Require().NoError(suite.objects.Set(ctx, "a/1", []byte("one")))
	suite.Require().NoError(suite.objects.Set(ctx, "a/2", []byte("two")))
	suite.Require().NoError(suite.objects.Set(ctx, "b/1", []byte("three")))

	value, err := suite.objects.Get(ctx, "a/1")
	suite.Require().NoError(err)
	suite.Equal([]byte("one"), value)

	// Overwrite.
	suite.Require().NoError(suite.objects.Set(ctx, "a/1", []byte("uno")))
	value, err = suite.objects.Get(ctx, "a/1")
	suite.Require().NoError(err)
	suite.Equal([]byte("uno"), value)

	keys, err := suite.objects.List(ctx, "a/")
	suite.Require().NoError(err)
	suite.Equal([]string{"a/1", "a/2"}, keys)

	suite.Require().NoError(suite.objects.Delete(ctx, "a/1"))
	_, err = suite.objects.Get(ctx, "a/1")
	suite.ErrorIs(err, errors.ErrNotFound)
	suite.NoError(suite.objects.Delete(ctx, "a/1"))
}

func (suite *IntegrationTestSuite) TestLeaseLockOverPostgres() {
	ctx := context.Background()

	lease, err := lock.Acquire(ctx, suite.objects, "transactions/itest", 5*time.Second, 30*time.Second, suite.logger)
	suite.Require().NoError(err)

	_, err = lock.Acquire(ctx, suite.objects, "transactions/itest", 300*time.Millisecond, 30*time.Second, suite.logger)
	suite.ErrorIs(err, errors.ErrLockTimeout)

	suite.Require().NoError(lease.Release(ctx))

	lease, err = lock.Acquire(ctx, suite.objects, "transactions/itest", 5*time.Second, 30*time.Second, suite.logger)
	suite.Require().NoError(err)
	suite.NoError(lease.Release(ctx))
}

func (suite *IntegrationTestSuite) TestHoldReceiptFlow() {
	ctx := context.Background()

	source := account.New("alice@ledger.example", suite.objects, suite.logger)
	dest := account.New("bob@ledger.example", suite.objects, suite.logger)
	records := txstate.NewMachine(suite.objects, suite.logger)
	svc := service.NewTransferService(records, account.NewStaticResolver(source, dest), suite.logger)

	by := time.Now().UTC().Add(time.Hour)
	debit, err := source.Debit(ctx, decimal.RequireFromString("19.99"), true, &by)
	suite.Require().NoError(err)

	note, err := svc.Hold(ctx, debit, dest)
	suite.Require().NoError(err)
	suite.True(note.Provisional)

	receipted := decimal.RequireFromString("15.25")
	receipt, err := domain.NewReceipt(note, allowAuth{identity: "identity.example/alice"}, &receipted)
	suite.Require().NoError(err)

	final, err := svc.Receipt(ctx, debit, receipt, nil)
	suite.Require().NoError(err)
	suite.True(final.Value.Equal(receipted))

	record, err := records.Load(ctx, debit.ID)
	suite.Require().NoError(err)
	suite.Equal(txstate.StateReceipted, record.State)

	// Source acknowledges the sent receipt on its own ledger.
	_, _, err = source.DebitReceipt(ctx, debit, receipt)
	suite.Require().NoError(err)

	// Every stored ledger key decodes, and range order is chronological.
	keys, err := suite.objects.List(ctx, "accounts/bob@ledger.example/ledger/")
	suite.Require().NoError(err)
	suite.Require().NotEmpty(keys)
	var last time.Time
	for _, key := range keys {
		info, err := ledgerkey.Decode(key)
		suite.Require().NoError(err, "key %q", key)
		suite.False(info.DateTime.Before(last))
		last = info.DateTime
	}

	// Receipting again must fail: the record is terminal.
	_, err = svc.Receipt(ctx, debit, receipt, nil)
	suite.ErrorIs(err, errors.ErrPermissionDenied)
}

func (suite *IntegrationTestSuite) TestAbandonedHoldSweptToRefunded() {
	ctx := context.Background()

	source := account.New("alice@ledger.example", suite.objects, suite.logger)
	dest := account.New("bob@ledger.example", suite.objects, suite.logger)
	records := txstate.NewMachine(suite.objects, suite.logger)
	svc := service.NewTransferService(records, account.NewStaticResolver(source, dest), suite.logger)

	by := time.Now().UTC().Add(50 * time.Millisecond)
	debit, err := source.Debit(ctx, decimal.NewFromInt(100), true, &by)
	suite.Require().NoError(err)

	_, err = svc.Hold(ctx, debit, dest)
	suite.Require().NoError(err)

	// Let the deadline lapse with no receipt or refund arriving.
	time.Sleep(100 * time.Millisecond)

	record, err := records.Load(ctx, debit.ID)
	suite.Require().NoError(err)
	suite.Equal(txstate.StateReceipting, record.State, "abandoned hold stays RECEIPTING")
	suite.Require().NotNil(record.ReceiptBy)
	suite.True(time.Now().After(*record.ReceiptBy))

	// Simulated recovery sweep: force the refund path.
	_, err = records.LoadTestAndSet(ctx, debit.ID, txstate.StateReceipting, txstate.StateRefunding)
	suite.Require().NoError(err)

	refund, err := domain.NewRefund(debit.ID, allowAuth{identity: "identity.example/sweep"})
	suite.Require().NoError(err)
	_, err = svc.Refund(ctx, debit, refund, nil)
	suite.Require().NoError(err)

	record, err = records.Load(ctx, debit.ID)
	suite.Require().NoError(err)
	suite.Equal(txstate.StateRefunded, record.State)

	// A late receipt is rejected outright.
	note := &domain.CreditNote{
		ID:          debit.ID,
		DebitNoteID: debit.ID,
		AccountID:   dest.AccountID(),
		Value:       debit.Value,
		Provisional: true,
		ReceiptBy:   debit.ReceiptBy,
	}
	receipt, err := domain.NewReceipt(note, allowAuth{identity: "identity.example/alice"}, nil)
	suite.Require().NoError(err)

	_, err = svc.Receipt(ctx, debit, receipt, nil)
	suite.ErrorIs(err, errors.ErrPermissionDenied)
}

func (suite *IntegrationTestSuite) TestConcurrentStateTransitions() {
	ctx := context.Background()

	records := txstate.NewMachine(suite.objects, suite.logger)
	id := uuid.New()
	suite.Require().NoError(records.Create(ctx, &txstate.Record{
		ID:              id,
		State:           txstate.StatePending,
		DebitAccountID:  "alice@ledger.example",
		CreditAccountID: "bob@ledger.example",
		Value:           decimal.NewFromInt(1),
	}))

	const workers = 4
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := records.LoadTestAndSet(ctx, id, txstate.StatePending, txstate.StateReceipting)
			results <- err
		}()
	}

	var succeeded, rejected int
	for i := 0; i < workers; i++ {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, errors.ErrPermissionDenied):
			rejected++
		default:
			suite.T().Fatalf("unexpected error: %s", err)
		}
	}

	suite.Equal(1, succeeded, "exactly one CAS may win")
	suite.Equal(workers-1, rejected)
}

func TestIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
