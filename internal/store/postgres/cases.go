package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/velo-automation/velo/internal/collection"
)

func scanCase(row pgx.Row) (*collection.Case, error) {
	var (
		c      collection.Case
		amount string
		status string
	)
	if err := row.Scan(&c.ID, &c.ExternalCaseID, &c.InvoiceID, &c.InvoiceNumber, &c.CustomerName,
		&c.SubmissionDate, &amount, &status, &c.LastUpdate); err != nil {
		return nil, err
	}
	total, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("decode amount of %s: %w", c.ID, err)
	}
	c.TotalAmount = total
	c.Status = collection.Status(status)
	return &c, nil
}

// ListCollectionCases returns the tenant's cases by submission date.
func (s *Store) ListCollectionCases(ctx context.Context) ([]*collection.Case, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, external_case_id, invoice_id, invoice_number, customer_name,
			submission_date, total_amount::text, status, last_update
		FROM collection_cases
		WHERE tenant_id = $1
		ORDER BY submission_date, id`, tenantID(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*collection.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, c)
	}
	return out, mapError(rows.Err())
}

// SaveCollectionCase upserts the case. The total amount is never updated.
func (s *Store) SaveCollectionCase(ctx context.Context, c *collection.Case) (*collection.Case, error) {
	_, err := s.q.Exec(ctx, `
		INSERT INTO collection_cases (
			tenant_id, id, external_case_id, invoice_id, invoice_number, customer_name,
			submission_date, total_amount, status, last_update
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			status = EXCLUDED.status,
			last_update = EXCLUDED.last_update`,
		tenantID(ctx),
		c.ID,
		c.ExternalCaseID,
		c.InvoiceID,
		c.InvoiceNumber,
		c.CustomerName,
		c.SubmissionDate,
		c.TotalAmount.String(),
		string(c.Status),
		c.LastUpdate,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return c.Clone(), nil
}
