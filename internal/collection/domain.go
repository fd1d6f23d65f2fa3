// Package collection tracks invoices handed off to an external debt-collection
// partner.
package collection

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velo-automation/velo/internal/invoice"
	"github.com/velo-automation/velo/internal/shared"
)

// Status enumerates collection case statuses.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusInProgress Status = "in_progress"
	StatusPaid       Status = "paid"
	StatusClosed     Status = "closed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusInProgress, StatusPaid, StatusClosed, StatusFailed:
		return true
	}
	return false
}

// Active reports whether the partner is still working the case.
func (s Status) Active() bool {
	return s == StatusSubmitted || s == StatusInProgress
}

// Terminal reports whether no further updates are accepted.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusClosed || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusSubmitted:  {StatusInProgress, StatusPaid, StatusClosed, StatusFailed},
	StatusInProgress: {StatusPaid, StatusClosed, StatusFailed},
}

// Case is one hand-off of an invoice to the collection partner.
type Case struct {
	ID             string          `json:"id"`
	ExternalCaseID string          `json:"externalCaseId"`
	InvoiceID      string          `json:"invoiceId"`
	InvoiceNumber  string          `json:"invoiceNumber"`
	CustomerName   string          `json:"customerName"`
	SubmissionDate time.Time       `json:"submissionDate"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	Status         Status          `json:"status"`
	LastUpdate     time.Time       `json:"lastUpdate"`
}

// Open creates a submitted case for a reminded_3 invoice. The amount is the
// invoice total at hand-off and never changes afterwards.
func Open(inv *invoice.Invoice, externalID string, now time.Time) (*Case, error) {
	if inv.Status != invoice.StatusReminded3 {
		return nil, shared.NewTransitionError("invoice", inv.ID, string(inv.Status), string(invoice.StatusInCollection), nil)
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("collection case for %s: external case id required: %w", inv.Number, shared.ErrValidation)
	}
	return &Case{
		ID:             uuid.NewString(),
		ExternalCaseID: externalID,
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.Number,
		CustomerName:   inv.CustomerName,
		SubmissionDate: now,
		TotalAmount:    inv.Total,
		Status:         StatusSubmitted,
		LastUpdate:     now,
	}, nil
}

// Apply records a partner status update. Repeating the current status is a
// no-op reported as changed=false. Any other update on a terminal case fails
// with ErrCaseAlreadyClosed.
func (c *Case) Apply(status Status, at time.Time) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("collection case %s: unknown status %q: %w", c.ID, status, shared.ErrValidation)
	}
	if status == c.Status {
		return false, nil
	}
	if c.Status.Terminal() {
		return false, shared.NewTransitionError("collection case", c.ID, string(c.Status), string(status), shared.ErrCaseAlreadyClosed)
	}
	allowed := false
	for _, next := range transitions[c.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, shared.NewTransitionError("collection case", c.ID, string(c.Status), string(status), nil)
	}
	c.Status = status
	c.LastUpdate = at
	return true, nil
}

// Clone returns a copy of c.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// ActiveFor returns the active case of invoiceID, if any.
func ActiveFor(cases []*Case, invoiceID string) *Case {
	for _, c := range cases {
		if c.InvoiceID == invoiceID && c.Status.Active() {
			return c
		}
	}
	return nil
}

// EnsureNoActive fails with ErrDuplicateCase when invoiceID already has an
// active case.
func EnsureNoActive(cases []*Case, invoiceID string) error {
	if c := ActiveFor(cases, invoiceID); c != nil {
		return fmt.Errorf("invoice %s already has active case %s (%s): %w", invoiceID, c.ID, c.ExternalCaseID, shared.ErrDuplicateCase)
	}
	return nil
}

// HasHistory reports whether invoiceID was ever handed off.
func HasHistory(cases []*Case, invoiceID string) bool {
	for _, c := range cases {
		if c.InvoiceID == invoiceID {
			return true
		}
	}
	return false
}

// FindByExternalID looks a case up by the partner's reference.
func FindByExternalID(cases []*Case, externalID string) *Case {
	for _, c := range cases {
		if c.ExternalCaseID == externalID {
			return c
		}
	}
	return nil
}
