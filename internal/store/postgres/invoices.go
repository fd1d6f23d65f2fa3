package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/velo-automation/velo/internal/invoice"
)

const invoiceColumns = `id, number, customer_name, issue_date, due_date, items, total::text,
	status, reminder_count, is_locked, locked_at, paid_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (*invoice.Invoice, error) {
	var (
		inv    invoice.Invoice
		items  []byte
		total  string
		status string
	)
	if err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerName, &inv.IssueDate, &inv.DueDate,
		&items, &total, &status, &inv.ReminderCount, &inv.IsLocked, &inv.LockedAt, &inv.PaidAt,
		&inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &inv.Items); err != nil {
		return nil, fmt.Errorf("decode items of %s: %w", inv.ID, err)
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("decode total of %s: %w", inv.ID, err)
	}
	inv.Total = amount
	inv.Status = invoice.Status(status)
	return &inv, nil
}

// ListInvoices returns the tenant's invoices in creation order.
func (s *Store) ListInvoices(ctx context.Context) ([]*invoice.Invoice, error) {
	rows, err := s.q.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, inv)
	}
	return out, mapError(rows.Err())
}

// GetInvoice loads one invoice. Inside Atomic the row stays locked until the
// transaction ends.
func (s *Store) GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE tenant_id = $1 AND id = $2`
	if s.inTx {
		query += ` FOR UPDATE`
	}
	row := s.q.QueryRow(ctx, query, tenantID(ctx), id)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, mapError(err)
	}
	return inv, nil
}

// SaveInvoice upserts the invoice.
func (s *Store) SaveInvoice(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	items, err := marshalJSON(inv.Items)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO invoices (
			tenant_id, id, number, customer_name, issue_date, due_date, items, total,
			status, reminder_count, is_locked, locked_at, paid_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			number = EXCLUDED.number,
			customer_name = EXCLUDED.customer_name,
			issue_date = EXCLUDED.issue_date,
			due_date = EXCLUDED.due_date,
			items = EXCLUDED.items,
			total = EXCLUDED.total,
			status = EXCLUDED.status,
			reminder_count = EXCLUDED.reminder_count,
			is_locked = EXCLUDED.is_locked,
			locked_at = EXCLUDED.locked_at,
			paid_at = EXCLUDED.paid_at,
			updated_at = EXCLUDED.updated_at`
	_, err = s.q.Exec(ctx, query,
		tenantID(ctx),
		inv.ID,
		inv.Number,
		inv.CustomerName,
		inv.IssueDate,
		inv.DueDate,
		items,
		inv.Total.String(),
		string(inv.Status),
		inv.ReminderCount,
		inv.IsLocked,
		inv.LockedAt,
		inv.PaidAt,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return inv.Clone(), nil
}
