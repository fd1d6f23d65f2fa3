package collection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/velo-automation/velo/internal/invoice"
	"github.com/velo-automation/velo/internal/shared"
)

var handOffDay = time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)

func remindedInvoice(t *testing.T) *invoice.Invoice {
	t.Helper()
	issue := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	inv, err := invoice.New(invoice.DraftInput{
		CustomerName: "Tech Solutions",
		IssueDate:    issue,
		DueDate:      issue.AddDate(0, 0, 14),
		Items: []invoice.LineItem{{
			Description: "Implementierung",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.RequireFromString("2100"),
			TaxRate:     decimal.Zero,
		}},
	}, issue)
	require.NoError(t, err)
	require.NoError(t, inv.Send(issue, "RE-2024-005"))
	for level := 1; level <= 3; level++ {
		require.NoError(t, inv.Remind(level, issue))
	}
	return inv
}

func TestOpenFreezesAmount(t *testing.T) {
	inv := remindedInvoice(t)
	c, err := Open(inv, "PAIR-99283", handOffDay)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, c.Status)
	require.Equal(t, "2100.00", c.TotalAmount.StringFixed(2))
	require.Equal(t, "RE-2024-005", c.InvoiceNumber)
	require.Equal(t, handOffDay, c.SubmissionDate)
}

func TestOpenRequiresReminded3(t *testing.T) {
	inv := remindedInvoice(t)
	require.NoError(t, inv.HandOff(handOffDay))
	_, err := Open(inv, "PAIR-1", handOffDay)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	inv = remindedInvoice(t)
	_, err = Open(inv, "  ", handOffDay)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApplyLifecycle(t *testing.T) {
	c, err := Open(remindedInvoice(t), "PAIR-99283", handOffDay)
	require.NoError(t, err)

	changed, err := c.Apply(StatusInProgress, handOffDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = c.Apply(StatusInProgress, handOffDay.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, handOffDay.AddDate(0, 0, 1), c.LastUpdate)

	_, err = c.Apply(StatusSubmitted, handOffDay)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	changed, err = c.Apply(StatusPaid, handOffDay.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = c.Apply(StatusPaid, handOffDay.AddDate(0, 0, 4))
	require.NoError(t, err)
	require.False(t, changed)

	_, err = c.Apply(StatusClosed, handOffDay.AddDate(0, 0, 4))
	require.ErrorIs(t, err, shared.ErrCaseAlreadyClosed)
	require.Equal(t, StatusPaid, c.Status)

	_, err = c.Apply(Status("lost"), handOffDay)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSubmittedMayCloseDirectly(t *testing.T) {
	c, err := Open(remindedInvoice(t), "PAIR-1", handOffDay)
	require.NoError(t, err)
	changed, err := c.Apply(StatusFailed, handOffDay)
	require.NoError(t, err)
	require.True(t, changed)
	require.True(t, c.Status.Terminal())
}

func TestActiveCaseGuards(t *testing.T) {
	active := &Case{ID: "c2", InvoiceID: "inv-5", ExternalCaseID: "PAIR-2", Status: StatusInProgress}
	cases := []*Case{
		{ID: "c1", InvoiceID: "inv-5", ExternalCaseID: "PAIR-1", Status: StatusFailed},
		active,
	}
	require.Same(t, active, ActiveFor(cases, "inv-5"))
	require.Nil(t, ActiveFor(cases, "inv-4"))
	require.ErrorIs(t, EnsureNoActive(cases, "inv-5"), shared.ErrDuplicateCase)
	require.NoError(t, EnsureNoActive(cases, "inv-4"))
	require.True(t, HasHistory(cases, "inv-5"))
	require.Same(t, cases[0], FindByExternalID(cases, "PAIR-1"))
}

func TestHTTPPartnerSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cases", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var sub Submission
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
		require.Equal(t, "RE-2024-005", sub.InvoiceNumber)
		require.True(t, sub.Amount.Equal(decimal.RequireFromString("2100")))
		_ = json.NewEncoder(w).Encode(map[string]string{"caseId": "PAIR-99283"})
	}))
	defer srv.Close()

	partner := NewHTTPPartner(srv.URL+"/", "secret")
	id, err := partner.Submit(context.Background(), Submission{
		InvoiceNumber: "RE-2024-005",
		Amount:        decimal.RequireFromString("2100.00"),
	})
	require.NoError(t, err)
	require.Equal(t, "PAIR-99283", id)
}

func TestHTTPPartnerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "customer unknown", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	partner := NewHTTPPartner(srv.URL, "")
	_, err := partner.Submit(context.Background(), Submission{InvoiceNumber: "RE-2024-005"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "422")
	require.Contains(t, err.Error(), "customer unknown")
	require.Error(t, partner.Ping(context.Background()))
}

func TestLocalPartner(t *testing.T) {
	id, err := LocalPartner{}.Submit(context.Background(), Submission{})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "PAIR-"))
	require.Len(t, id, len("PAIR-99283"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = LocalPartner{}.Submit(ctx, Submission{})
	require.ErrorIs(t, err, context.Canceled)
}
