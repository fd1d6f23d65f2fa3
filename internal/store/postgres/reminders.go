package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/velo-automation/velo/internal/dunning"
)

func scanReminder(row pgx.Row) (*dunning.Reminder, error) {
	var (
		r                      dunning.Reminder
		original, fees, amount string
		status                 string
	)
	if err := row.Scan(&r.ID, &r.ReminderNumber, &r.InvoiceID, &r.InvoiceNumber, &r.CustomerName,
		&r.Level, &r.Date, &original, &fees, &amount, &r.NewDueDate, &status, &r.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if r.OriginalAmount, err = decimal.NewFromString(original); err != nil {
		return nil, fmt.Errorf("decode original amount of %s: %w", r.ID, err)
	}
	if r.Fees, err = decimal.NewFromString(fees); err != nil {
		return nil, fmt.Errorf("decode fees of %s: %w", r.ID, err)
	}
	if r.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("decode total of %s: %w", r.ID, err)
	}
	r.Status = dunning.Status(status)
	return &r, nil
}

// ListReminders returns the tenant's reminders by date and level.
func (s *Store) ListReminders(ctx context.Context) ([]*dunning.Reminder, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, reminder_number, invoice_id, invoice_number, customer_name, level,
			reminder_date, original_amount::text, fees::text, total_amount::text,
			new_due_date, status, updated_at
		FROM reminders
		WHERE tenant_id = $1
		ORDER BY reminder_date, level, id`, tenantID(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*dunning.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, r)
	}
	return out, mapError(rows.Err())
}

// SaveReminder upserts the reminder. A second reminder for the same invoice
// and level violates reminders_invoice_level_key.
func (s *Store) SaveReminder(ctx context.Context, r *dunning.Reminder) (*dunning.Reminder, error) {
	_, err := s.q.Exec(ctx, `
		INSERT INTO reminders (
			tenant_id, id, reminder_number, invoice_id, invoice_number, customer_name, level,
			reminder_date, original_amount, fees, total_amount, new_due_date, status, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12, $13, $14)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			status = EXCLUDED.status,
			new_due_date = EXCLUDED.new_due_date,
			updated_at = EXCLUDED.updated_at`,
		tenantID(ctx),
		r.ID,
		r.ReminderNumber,
		r.InvoiceID,
		r.InvoiceNumber,
		r.CustomerName,
		r.Level,
		r.Date,
		r.OriginalAmount.String(),
		r.Fees.String(),
		r.TotalAmount.String(),
		r.NewDueDate,
		string(r.Status),
		r.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return r.Clone(), nil
}
