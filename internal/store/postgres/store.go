// Package postgres implements receivables.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velo-automation/velo/internal/platform/db"
	"github.com/velo-automation/velo/internal/receivables"
	"github.com/velo-automation/velo/internal/shared"
	"github.com/velo-automation/velo/internal/tenant"
)

//go:embed schema.sql
var schema string

// Schema returns the DDL applied by Migrate.
func Schema() string { return schema }

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a pgx backed receivables.Store.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

// New constructs a store on pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store/postgres: migrate: %w", err)
	}
	return nil
}

// Atomic runs fn inside one transaction. Nested calls join the outer transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx receivables.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Store{pool: s.pool, q: tx, inTx: true})
	})
}

// mapError translates unique violations into the domain sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "invoices_number_key":
			return fmt.Errorf("store/postgres: %w", shared.ErrDuplicateNumber)
		case "reminders_invoice_level_key":
			return fmt.Errorf("store/postgres: %w", shared.ErrDuplicateReminder)
		case "collection_cases_active_key":
			return fmt.Errorf("store/postgres: %w", shared.ErrDuplicateCase)
		}
	}
	return fmt.Errorf("store/postgres: %w", err)
}

func tenantID(ctx context.Context) string {
	return tenant.IDOrDefault(ctx)
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: encode: %w", err)
	}
	return b, nil
}
