// Package dunning models payment reminders and the policy-driven engine that
// decides when an overdue invoice escalates to the next reminder level.
package dunning

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velo-automation/velo/internal/clock"
	"github.com/velo-automation/velo/internal/invoice"
	"github.com/velo-automation/velo/internal/money"
	"github.com/velo-automation/velo/internal/shared"
)

// MaxLevel is the last reminder level before collection.
const MaxLevel = 3

// Status enumerates reminder statuses.
type Status string

const (
	StatusOpen      Status = "open"
	StatusPaid      Status = "paid"
	StatusEscalated Status = "escalated"
)

// Reminder is a dunning notice for one invoice at one level.
type Reminder struct {
	ID             string          `json:"id"`
	ReminderNumber string          `json:"reminderNumber"`
	InvoiceID      string          `json:"invoiceId"`
	InvoiceNumber  string          `json:"invoiceNumber"`
	CustomerName   string          `json:"customerName"`
	Level          int             `json:"level"`
	Date           time.Time       `json:"date"`
	OriginalAmount decimal.Decimal `json:"originalAmount"`
	Fees           decimal.Decimal `json:"fees"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	NewDueDate     time.Time       `json:"newDueDate"`
	Status         Status          `json:"status"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ReminderNumber derives M{level}-YYYY-NNN from the invoice number.
func ReminderNumber(level int, invoiceNumber string) (string, error) {
	suffix, err := invoice.NumberSuffix(invoiceNumber)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("M%d-%s", level, suffix), nil
}

// NewReminder builds an open reminder for inv at level, dated on the calendar
// day of now.
func NewReminder(inv *invoice.Invoice, level int, fee decimal.Decimal, window int, now time.Time) (*Reminder, error) {
	if level < 1 || level > MaxLevel {
		return nil, fmt.Errorf("reminder level %d: %w", level, shared.ErrValidation)
	}
	if fee.IsNegative() {
		return nil, fmt.Errorf("reminder fee %s: %w", fee, shared.ErrInvalidAmount)
	}
	number, err := ReminderNumber(level, inv.Number)
	if err != nil {
		return nil, err
	}
	date := clock.Day(now)
	fee = money.RoundCurrency(fee)
	return &Reminder{
		ID:             uuid.NewString(),
		ReminderNumber: number,
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.Number,
		CustomerName:   inv.CustomerName,
		Level:          level,
		Date:           date,
		OriginalAmount: inv.Total,
		Fees:           fee,
		TotalAmount:    money.RoundCurrency(inv.Total.Add(fee)),
		NewDueDate:     date.AddDate(0, 0, window),
		Status:         StatusOpen,
		UpdatedAt:      now,
	}, nil
}

func (r *Reminder) transitionError(to Status) error {
	return shared.NewTransitionError("reminder", r.ID, string(r.Status), string(to), nil)
}

// MarkPaid settles an open reminder. Paying a paid reminder is a no-op.
func (r *Reminder) MarkPaid(now time.Time) (bool, error) {
	switch r.Status {
	case StatusPaid:
		return false, nil
	case StatusOpen:
		r.Status = StatusPaid
		r.UpdatedAt = now
		return true, nil
	}
	return false, r.transitionError(StatusPaid)
}

// Escalate closes an open reminder because the next level or a collection case
// took over.
func (r *Reminder) Escalate(now time.Time) error {
	if r.Status != StatusOpen {
		return r.transitionError(StatusEscalated)
	}
	r.Status = StatusEscalated
	r.UpdatedAt = now
	return nil
}

// Clone returns a copy of r.
func (r *Reminder) Clone() *Reminder {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

// Latest returns the reminder with the highest level for invoiceID.
func Latest(reminders []*Reminder, invoiceID string) *Reminder {
	var latest *Reminder
	for _, r := range reminders {
		if r.InvoiceID != invoiceID {
			continue
		}
		if latest == nil || r.Level > latest.Level {
			latest = r
		}
	}
	return latest
}

// LatestOpen returns the highest-level open reminder for invoiceID.
func LatestOpen(reminders []*Reminder, invoiceID string) *Reminder {
	var latest *Reminder
	for _, r := range reminders {
		if r.InvoiceID != invoiceID || r.Status != StatusOpen {
			continue
		}
		if latest == nil || r.Level > latest.Level {
			latest = r
		}
	}
	return latest
}

// AtLevel returns the reminder for invoiceID at level, if any.
func AtLevel(reminders []*Reminder, invoiceID string, level int) *Reminder {
	for _, r := range reminders {
		if r.InvoiceID == invoiceID && r.Level == level {
			return r
		}
	}
	return nil
}
