package httpapi

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/velo-automation/velo/internal/dunning"
	"github.com/velo-automation/velo/internal/invoice"
	"github.com/velo-automation/velo/internal/money"
	"github.com/velo-automation/velo/internal/shared"
)

type lineItemRequest struct {
	Description string  `json:"description" validate:"required,max=500"`
	Quantity    string  `json:"quantity" validate:"required"`
	UnitPrice   string  `json:"unitPrice" validate:"required"`
	TaxRate     *string `json:"taxRate,omitempty"`
}

type draftRequest struct {
	Number       string            `json:"number" validate:"omitempty,max=32"`
	CustomerName string            `json:"customerName" validate:"required,max=200"`
	IssueDate    string            `json:"issueDate" validate:"required,datetime=2006-01-02"`
	DueDate      string            `json:"dueDate" validate:"required,datetime=2006-01-02"`
	Items        []lineItemRequest `json:"items" validate:"required,min=1,dive"`
}

// input converts the request into domain input. Line items without a tax
// rate get the flat VAT rate.
func (r draftRequest) input() (invoice.DraftInput, error) {
	issue, err := time.Parse(time.DateOnly, r.IssueDate)
	if err != nil {
		return invoice.DraftInput{}, fmt.Errorf("issueDate: %w", shared.ErrValidation)
	}
	due, err := time.Parse(time.DateOnly, r.DueDate)
	if err != nil {
		return invoice.DraftInput{}, fmt.Errorf("dueDate: %w", shared.ErrValidation)
	}
	items := make([]invoice.LineItem, 0, len(r.Items))
	for _, it := range r.Items {
		qty, err := money.Parse(it.Quantity)
		if err != nil {
			return invoice.DraftInput{}, err
		}
		price, err := money.Parse(it.UnitPrice)
		if err != nil {
			return invoice.DraftInput{}, err
		}
		rate := money.DefaultVATRate
		if it.TaxRate != nil {
			if rate, err = money.Parse(*it.TaxRate); err != nil {
				return invoice.DraftInput{}, err
			}
		}
		items = append(items, invoice.LineItem{
			Description: it.Description,
			Quantity:    qty,
			UnitPrice:   price,
			TaxRate:     rate,
		})
	}
	return invoice.DraftInput{
		Number:       r.Number,
		CustomerName: r.CustomerName,
		IssueDate:    issue,
		DueDate:      due,
		Items:        items,
	}, nil
}

type caseEventRequest struct {
	CaseID         string `json:"caseId" validate:"required_without=ExternalCaseID"`
	ExternalCaseID string `json:"externalCaseId" validate:"required_without=CaseID"`
	Status         string `json:"status" validate:"required,oneof=submitted in_progress paid closed failed"`
	At             string `json:"at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// invoiceResponse adds the computed label to the stored invoice.
type invoiceResponse struct {
	*invoice.Invoice
	Label           string          `json:"label"`
	DaysOverdue     int             `json:"daysOverdue"`
	AmountDue       decimal.Decimal `json:"amountDue"`
	AmountFormatted string          `json:"amountFormatted"`
}

func newInvoiceResponse(inv *invoice.Invoice, reminders []*dunning.Reminder, now time.Time) invoiceResponse {
	due := inv.Total
	if r := dunning.LatestOpen(reminders, inv.ID); r != nil {
		due = r.TotalAmount
	}
	days := 0
	if inv.Status != invoice.StatusDraft && inv.Status != invoice.StatusPaid {
		days = inv.DaysOverdue(now)
	}
	return invoiceResponse{
		Invoice:         inv,
		Label:           inv.Label(now),
		DaysOverdue:     days,
		AmountDue:       due,
		AmountFormatted: money.Format(due),
	}
}

// validationError flattens validator errors into one ErrValidation.
func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return fmt.Errorf("%v: %w", err, shared.ErrValidation)
	}
	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += ", "
		}
		msg += fe.Namespace() + " " + fe.Tag()
	}
	return fmt.Errorf("%s: %w", msg, shared.ErrValidation)
}
