// Package webhook implements receivables.Store on top of the remote webhook
// data API (/invoices, /reminders, /collection-cases).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/dunning"
	"github.com/velo-automation/velo/internal/invoice"
	"github.com/velo-automation/velo/internal/receivables"
	"github.com/velo-automation/velo/internal/shared"
	"github.com/velo-automation/velo/internal/tenant"
)

// Conflict codes returned by the remote API with status 409.
const (
	CodeDuplicateReminder = "duplicate_reminder"
	CodeDuplicateCase     = "duplicate_case"
	CodeDuplicateNumber   = "duplicate_number"
)

// Store calls the webhook API with a bearer token. The tenant travels in the
// X-Tenant-ID header.
type Store struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New constructs a webhook store.
func New(baseURL, token string) *Store {
	return &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListInvoices fetches all invoices of the tenant.
func (s *Store) ListInvoices(ctx context.Context) ([]*invoice.Invoice, error) {
	var out []*invoice.Invoice
	if err := s.do(ctx, http.MethodGet, "/invoices", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetInvoice fetches one invoice.
func (s *Store) GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	var out invoice.Invoice
	if err := s.do(ctx, http.MethodGet, "/invoices/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, shared.ErrNotFound
	}
	return &out, nil
}

// SaveInvoice posts the invoice. The remote side upserts by id.
func (s *Store) SaveInvoice(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	if err := s.do(ctx, http.MethodPost, "/invoices", inv, nil); err != nil {
		return nil, err
	}
	return inv.Clone(), nil
}

// ListReminders fetches all reminders of the tenant.
func (s *Store) ListReminders(ctx context.Context) ([]*dunning.Reminder, error) {
	var out []*dunning.Reminder
	if err := s.do(ctx, http.MethodGet, "/reminders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveReminder posts the reminder.
func (s *Store) SaveReminder(ctx context.Context, r *dunning.Reminder) (*dunning.Reminder, error) {
	if err := s.do(ctx, http.MethodPost, "/reminders", r, nil); err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// ListCollectionCases fetches all collection cases of the tenant.
func (s *Store) ListCollectionCases(ctx context.Context) ([]*collection.Case, error) {
	var out []*collection.Case
	if err := s.do(ctx, http.MethodGet, "/collection-cases", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveCollectionCase posts the case.
func (s *Store) SaveCollectionCase(ctx context.Context, c *collection.Case) (*collection.Case, error) {
	if err := s.do(ctx, http.MethodPost, "/collection-cases", c, nil); err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// Atomic runs fn directly. The remote API has no transactions; the per-tenant
// dunning lock and the remote uniqueness checks are what keep passes consistent.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx receivables.Store) error) error {
	return fn(ctx, s)
}

func (s *Store) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("store/webhook: encode %s: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("store/webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", tenant.IDOrDefault(ctx))
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("store/webhook: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return statusError(method, path, resp)
	}
	if out == nil {
		return nil
	}
	// The API answers empty lists with an empty text body.
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("store/webhook: decode %s: %w", path, err)
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("store/webhook: %s %s: %w", method, path, shared.ErrNotFound)
	case http.StatusConflict:
		var problem struct {
			Code string `json:"code"`
		}
		_ = json.Unmarshal(raw, &problem)
		switch problem.Code {
		case CodeDuplicateReminder:
			return fmt.Errorf("store/webhook: %w", shared.ErrDuplicateReminder)
		case CodeDuplicateCase:
			return fmt.Errorf("store/webhook: %w", shared.ErrDuplicateCase)
		case CodeDuplicateNumber:
			return fmt.Errorf("store/webhook: %w", shared.ErrDuplicateNumber)
		}
	}
	return fmt.Errorf("store/webhook: %s %s failed with status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
}
