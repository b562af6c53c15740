package store

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"

	"ledger-core/internal/errors"
)

// PostgresStore maps the flat keyspace onto a single ledger_objects table.
// It deliberately exposes only the four ObjectStore primitives — no SQL
// transaction spans more than one key, so it behaves like the eventually
// available object stores this core is designed for.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

var _ ObjectStore = (*PostgresStore)(nil)

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `
		SELECT value FROM ledger_objects WHERE key = $1
	`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrNotFound
		}
		s.logger.Error("Failed to get object", "key", key, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get object").WithDetails(err.Error())
	}

	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO ledger_objects (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query, key, value)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			s.logger.Error("Failed to set object", "key", key, "pq_code", pqErr.Code, "error", err)
		} else {
			s.logger.Error("Failed to set object", "key", key, "error", err)
		}
		return errors.NewAppError(errors.InternalError, "failed to set object").WithDetails(err.Error())
	}

	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	query := `
		DELETE FROM ledger_objects WHERE key = $1
	`

	_, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		s.logger.Error("Failed to delete object", "key", key, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to delete object").WithDetails(err.Error())
	}

	return nil
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	query := `
		SELECT key FROM ledger_objects WHERE starts_with(key, $1) ORDER BY key
	`

	rows, err := s.db.QueryContext(ctx, query, prefix)
	if err != nil {
		s.logger.Error("Failed to list objects", "prefix", prefix, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to list objects").WithDetails(err.Error())
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan key").WithDetails(err.Error())
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list objects").WithDetails(err.Error())
	}

	return keys, nil
}
