package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/dunning"
	"github.com/velo-automation/velo/internal/invoice"
	"github.com/velo-automation/velo/internal/shared"
	"github.com/velo-automation/velo/internal/store/memory"
	"github.com/velo-automation/velo/internal/tenant"
)

// fakeAPI serves the webhook routes from an in-memory store.
func fakeAPI(t *testing.T, token string) *httptest.Server {
	t.Helper()
	backing := memory.New()

	writeErr := func(w http.ResponseWriter, err error) {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, shared.ErrDuplicateReminder):
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"duplicate_reminder"}`))
		case errors.Is(err, shared.ErrDuplicateCase):
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"duplicate_case"}`))
		case errors.Is(err, shared.ErrDuplicateNumber):
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"duplicate_number"}`))
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
	writeList := func(w http.ResponseWriter, v any, n int) {
		if n == 0 {
			w.Header().Set("Content-Type", "text/plain")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ctx := tenant.WithID(r.Context(), r.Header.Get("X-Tenant-ID"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/invoices":
			out, err := backing.ListInvoices(ctx)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeList(w, out, len(out))
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/invoices/"):
			inv, err := backing.GetInvoice(ctx, strings.TrimPrefix(r.URL.Path, "/invoices/"))
			if err != nil {
				writeErr(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_ = json.NewEncoder(w).Encode(inv)
		case r.Method == http.MethodPost && r.URL.Path == "/invoices":
			var inv invoice.Invoice
			require.NoError(t, json.NewDecoder(r.Body).Decode(&inv))
			if _, err := backing.SaveInvoice(ctx, &inv); err != nil {
				writeErr(w, err)
			}
		case r.Method == http.MethodGet && r.URL.Path == "/reminders":
			out, err := backing.ListReminders(ctx)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeList(w, out, len(out))
		case r.Method == http.MethodPost && r.URL.Path == "/reminders":
			var rem dunning.Reminder
			require.NoError(t, json.NewDecoder(r.Body).Decode(&rem))
			if _, err := backing.SaveReminder(ctx, &rem); err != nil {
				writeErr(w, err)
			}
		case r.Method == http.MethodGet && r.URL.Path == "/collection-cases":
			out, err := backing.ListCollectionCases(ctx)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeList(w, out, len(out))
		case r.Method == http.MethodPost && r.URL.Path == "/collection-cases":
			var c collection.Case
			require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
			if _, err := backing.SaveCollectionCase(ctx, &c); err != nil {
				writeErr(w, err)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sentInvoice(t *testing.T, number string, issued time.Time) *invoice.Invoice {
	t.Helper()
	inv, err := invoice.New(invoice.DraftInput{
		CustomerName: "Hans Meier",
		IssueDate:    issued,
		DueDate:      issued.AddDate(0, 0, 14),
		Items: []invoice.LineItem{{
			Description: "Wartung",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.RequireFromString("126.05"),
			TaxRate:     decimal.RequireFromString("0.19"),
		}},
	}, issued)
	require.NoError(t, err)
	require.NoError(t, inv.Send(issued, number))
	return inv
}

func TestRoundTripOverHTTP(t *testing.T) {
	srv := fakeAPI(t, "secret")
	s := New(srv.URL+"/", "secret")
	ctx := tenant.WithID(context.Background(), "acme")

	empty, err := s.ListInvoices(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)

	issued := time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC)
	inv := sentInvoice(t, "RE-2024-003", issued)
	_, err = s.SaveInvoice(ctx, inv)
	require.NoError(t, err)

	got, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, "150.00", got.Total.StringFixed(2))
	require.Equal(t, invoice.StatusSent, got.Status)
	require.True(t, got.DueDate.Equal(inv.DueDate))

	_, err = s.GetInvoice(ctx, "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = s.SaveInvoice(ctx, sentInvoice(t, "RE-2024-003", issued))
	require.ErrorIs(t, err, shared.ErrDuplicateNumber)

	now := time.Date(2024, 5, 28, 0, 0, 0, 0, time.UTC)
	r, err := dunning.NewReminder(inv, 1, decimal.NewFromInt(5), 7, now)
	require.NoError(t, err)
	_, err = s.SaveReminder(ctx, r)
	require.NoError(t, err)
	dup, err := dunning.NewReminder(inv, 1, decimal.NewFromInt(5), 7, now)
	require.NoError(t, err)
	_, err = s.SaveReminder(ctx, dup)
	require.ErrorIs(t, err, shared.ErrDuplicateReminder)

	reminders, err := s.ListReminders(ctx)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	require.Equal(t, "155.00", reminders[0].TotalAmount.StringFixed(2))

	c := &collection.Case{ID: "c1", ExternalCaseID: "PAIR-1", InvoiceID: inv.ID, Status: collection.StatusSubmitted}
	_, err = s.SaveCollectionCase(ctx, c)
	require.NoError(t, err)
	_, err = s.SaveCollectionCase(ctx, &collection.Case{ID: "c2", InvoiceID: inv.ID, Status: collection.StatusSubmitted})
	require.ErrorIs(t, err, shared.ErrDuplicateCase)

	other, err := s.ListCollectionCases(tenant.WithID(context.Background(), "globex"))
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestUnauthorizedIsReported(t *testing.T) {
	srv := fakeAPI(t, "secret")
	s := New(srv.URL, "wrong")
	_, err := s.ListInvoices(context.Background())
	require.ErrorContains(t, err, "status 401")
}
