// Package invoice holds the invoice entity and its lifecycle status machine.
package invoice

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velo-automation/velo/internal/clock"
	"github.com/velo-automation/velo/internal/money"
	"github.com/velo-automation/velo/internal/shared"
)

// Status enumerates stored invoice statuses.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusSent         Status = "sent"
	StatusReminded1    Status = "reminded_1"
	StatusReminded2    Status = "reminded_2"
	StatusReminded3    Status = "reminded_3"
	StatusInCollection Status = "in_collection"
	StatusPaid         Status = "paid"
)

// LabelOverdue is the computed label shown for unpaid invoices past their due date.
// It is never stored.
const LabelOverdue = "overdue"

// DefaultPaymentTerm is applied when a draft has no explicit due date.
const DefaultPaymentTerm = 14 * 24 * time.Hour

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusReminded1, StatusReminded2, StatusReminded3, StatusInCollection, StatusPaid:
		return true
	}
	return false
}

// ReminderLevel returns the dunning level reached by an invoice in status s.
func (s Status) ReminderLevel() int {
	switch s {
	case StatusReminded1:
		return 1
	case StatusReminded2:
		return 2
	case StatusReminded3, StatusInCollection:
		return 3
	}
	return 0
}

// StatusForLevel maps a dunning level to the invoice status it produces.
func StatusForLevel(level int) (Status, bool) {
	switch level {
	case 1:
		return StatusReminded1, true
	case 2:
		return StatusReminded2, true
	case 3:
		return StatusReminded3, true
	}
	return "", false
}

// LineItem is a single billed position.
type LineItem struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TaxRate     decimal.Decimal `json:"taxRate"`
}

// Total returns the rounded gross amount of the line for display.
func (l LineItem) Total() (decimal.Decimal, error) {
	gross, err := money.LineTotal(l.Quantity, l.UnitPrice, l.TaxRate)
	if err != nil {
		return decimal.Zero, err
	}
	return money.RoundCurrency(gross), nil
}

// Invoice is the root entity of the receivables lifecycle.
type Invoice struct {
	ID            string          `json:"id"`
	Number        string          `json:"number"`
	CustomerName  string          `json:"customerName"`
	IssueDate     time.Time       `json:"issueDate"`
	DueDate       time.Time       `json:"dueDate"`
	Items         []LineItem      `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Status        Status          `json:"status"`
	ReminderCount int             `json:"reminderCount"`
	IsLocked      bool            `json:"isLocked"`
	LockedAt      *time.Time      `json:"lockedAt,omitempty"`
	PaidAt        *time.Time      `json:"paidAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// DraftInput carries the editable fields of a draft invoice.
type DraftInput struct {
	Number       string
	CustomerName string
	IssueDate    time.Time
	DueDate      time.Time
	Items        []LineItem
}

// New creates a draft invoice with a computed total.
func New(in DraftInput, now time.Time) (*Invoice, error) {
	inv := &Invoice{
		ID:        uuid.NewString(),
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := inv.applyDraft(in); err != nil {
		return nil, err
	}
	if in.Number != "" {
		if _, _, err := ParseNumber(in.Number); err != nil {
			return nil, err
		}
		inv.Number = in.Number
	}
	return inv, nil
}

// UpdateDraft replaces every editable field of a draft.
func (inv *Invoice) UpdateDraft(in DraftInput, now time.Time) error {
	if err := inv.guardMutation(); err != nil {
		return err
	}
	if in.Number != "" {
		if _, _, err := ParseNumber(in.Number); err != nil {
			return err
		}
	}
	if err := inv.applyDraft(in); err != nil {
		return err
	}
	if in.Number != "" {
		inv.Number = in.Number
	}
	inv.UpdatedAt = now
	return nil
}

// ReplaceItems swaps the line items and recomputes the total.
func (inv *Invoice) ReplaceItems(items []LineItem, now time.Time) error {
	if err := inv.guardMutation(); err != nil {
		return err
	}
	normalized, total, err := normalizeItems(items)
	if err != nil {
		return err
	}
	inv.Items = normalized
	inv.Total = total
	inv.UpdatedAt = now
	return nil
}

// Reschedule changes issue and due dates.
func (inv *Invoice) Reschedule(issue, due time.Time, now time.Time) error {
	if err := inv.guardMutation(); err != nil {
		return err
	}
	if err := validateDates(issue, due); err != nil {
		return err
	}
	inv.IssueDate = clock.Day(issue)
	inv.DueDate = clock.Day(due)
	inv.UpdatedAt = now
	return nil
}

// Rename changes the customer of a draft.
func (inv *Invoice) Rename(customer string, now time.Time) error {
	if err := inv.guardMutation(); err != nil {
		return err
	}
	inv.CustomerName = strings.TrimSpace(customer)
	inv.UpdatedAt = now
	return nil
}

// AssignNumber sets the human-facing number of an unlocked invoice.
func (inv *Invoice) AssignNumber(number string) error {
	if err := inv.guardMutation(); err != nil {
		return err
	}
	if _, _, err := ParseNumber(number); err != nil {
		return err
	}
	inv.Number = number
	return nil
}

// Recalculate derives the total from the line items.
func (inv *Invoice) Recalculate() (decimal.Decimal, error) {
	lines := make([]money.Line, 0, len(inv.Items))
	for _, it := range inv.Items {
		lines = append(lines, money.Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice, TaxRate: it.TaxRate})
	}
	return money.InvoiceTotal(lines)
}

// VerifyTotal checks the stored total against the line items.
func (inv *Invoice) VerifyTotal() error {
	total, err := inv.Recalculate()
	if err != nil {
		return err
	}
	if !total.Equal(inv.Total) {
		return fmt.Errorf("invoice %s: stored total %s differs from %s: %w", inv.ID, inv.Total.StringFixed(2), total.StringFixed(2), shared.ErrInvalidAmount)
	}
	return nil
}

// Clone returns a deep copy safe to hand across store boundaries.
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}
	out := *inv
	out.Items = append([]LineItem(nil), inv.Items...)
	if inv.LockedAt != nil {
		t := *inv.LockedAt
		out.LockedAt = &t
	}
	if inv.PaidAt != nil {
		t := *inv.PaidAt
		out.PaidAt = &t
	}
	return &out
}

func (inv *Invoice) guardMutation() error {
	if inv.IsLocked {
		return fmt.Errorf("invoice %s (%s): %w", inv.ID, inv.Number, shared.ErrLockedInvoiceMutation)
	}
	return nil
}

func (inv *Invoice) applyDraft(in DraftInput) error {
	issue := in.IssueDate
	if issue.IsZero() {
		issue = inv.CreatedAt
	}
	due := in.DueDate
	if due.IsZero() {
		due = issue.Add(DefaultPaymentTerm)
	}
	if err := validateDates(issue, due); err != nil {
		return err
	}
	items, total, err := normalizeItems(in.Items)
	if err != nil {
		return err
	}
	inv.CustomerName = strings.TrimSpace(in.CustomerName)
	inv.IssueDate = clock.Day(issue)
	inv.DueDate = clock.Day(due)
	inv.Items = items
	inv.Total = total
	return nil
}

func normalizeItems(items []LineItem) ([]LineItem, decimal.Decimal, error) {
	out := make([]LineItem, 0, len(items))
	lines := make([]money.Line, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		out = append(out, it)
		lines = append(lines, money.Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice, TaxRate: it.TaxRate})
	}
	total, err := money.InvoiceTotal(lines)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return out, total, nil
}

func validateDates(issue, due time.Time) error {
	if clock.Day(due).Before(clock.Day(issue)) {
		return fmt.Errorf("due date %s before issue date %s: %w", due.Format(time.DateOnly), issue.Format(time.DateOnly), shared.ErrValidation)
	}
	return nil
}
