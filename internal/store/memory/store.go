// Package memory implements receivables.Store in process memory. It backs
// tests and demo mode.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/dunning"
	"github.com/velo-automation/velo/internal/invoice"
	"github.com/velo-automation/velo/internal/receivables"
	"github.com/velo-automation/velo/internal/shared"
	"github.com/velo-automation/velo/internal/tenant"
)

type tenantData struct {
	invoices     map[string]*invoice.Invoice
	invoiceOrder []string
	reminders    map[string]*dunning.Reminder
	reminderIDs  []string
	cases        map[string]*collection.Case
	caseIDs      []string
}

func newTenantData() *tenantData {
	return &tenantData{
		invoices:  make(map[string]*invoice.Invoice),
		reminders: make(map[string]*dunning.Reminder),
		cases:     make(map[string]*collection.Case),
	}
}

func (d *tenantData) clone() *tenantData {
	out := newTenantData()
	for id, inv := range d.invoices {
		out.invoices[id] = inv.Clone()
	}
	for id, r := range d.reminders {
		out.reminders[id] = r.Clone()
	}
	for id, c := range d.cases {
		out.cases[id] = c.Clone()
	}
	out.invoiceOrder = append([]string(nil), d.invoiceOrder...)
	out.reminderIDs = append([]string(nil), d.reminderIDs...)
	out.caseIDs = append([]string(nil), d.caseIDs...)
	return out
}

// Store keeps one set of collections per tenant. Writes are serialized; an
// Atomic block holds the write lock for its whole duration and restores the
// tenant's state when fn fails.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	tenants map[string]*tenantData
}

var _ receivables.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{tenants: make(map[string]*tenantData)}
}

func (s *Store) data(ctx context.Context) *tenantData {
	id := tenant.IDOrDefault(ctx)
	d, ok := s.tenants[id]
	if !ok {
		d = newTenantData()
		s.tenants[id] = d
	}
	return d
}

// ListInvoices returns copies in insertion order.
func (s *Store) ListInvoices(ctx context.Context) ([]*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.data(ctx)
	out := make([]*invoice.Invoice, 0, len(d.invoiceOrder))
	for _, id := range d.invoiceOrder {
		out = append(out, d.invoices[id].Clone())
	}
	return out, nil
}

// GetInvoice returns a copy of one invoice.
func (s *Store) GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.data(ctx).invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, shared.ErrNotFound)
	}
	return inv.Clone(), nil
}

// SaveInvoice inserts or replaces an invoice.
func (s *Store) SaveInvoice(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.saveInvoice(ctx, inv)
}

func (s *Store) saveInvoice(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.data(ctx)
	if inv.Number != "" {
		for id, other := range d.invoices {
			if id != inv.ID && other.Number == inv.Number {
				return nil, fmt.Errorf("invoice number %s: %w", inv.Number, shared.ErrDuplicateNumber)
			}
		}
	}
	if _, ok := d.invoices[inv.ID]; !ok {
		d.invoiceOrder = append(d.invoiceOrder, inv.ID)
	}
	d.invoices[inv.ID] = inv.Clone()
	return inv.Clone(), nil
}

// ListReminders returns copies in insertion order.
func (s *Store) ListReminders(ctx context.Context) ([]*dunning.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.data(ctx)
	out := make([]*dunning.Reminder, 0, len(d.reminderIDs))
	for _, id := range d.reminderIDs {
		out = append(out, d.reminders[id].Clone())
	}
	return out, nil
}

// SaveReminder inserts or replaces a reminder, rejecting a second reminder for
// the same invoice and level.
func (s *Store) SaveReminder(ctx context.Context, r *dunning.Reminder) (*dunning.Reminder, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.saveReminder(ctx, r)
}

func (s *Store) saveReminder(ctx context.Context, r *dunning.Reminder) (*dunning.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.data(ctx)
	for id, other := range d.reminders {
		if id != r.ID && other.InvoiceID == r.InvoiceID && other.Level == r.Level {
			return nil, fmt.Errorf("reminder level %d for invoice %s: %w", r.Level, r.InvoiceNumber, shared.ErrDuplicateReminder)
		}
	}
	if _, ok := d.reminders[r.ID]; !ok {
		d.reminderIDs = append(d.reminderIDs, r.ID)
	}
	d.reminders[r.ID] = r.Clone()
	return r.Clone(), nil
}

// ListCollectionCases returns copies in insertion order.
func (s *Store) ListCollectionCases(ctx context.Context) ([]*collection.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.data(ctx)
	out := make([]*collection.Case, 0, len(d.caseIDs))
	for _, id := range d.caseIDs {
		out = append(out, d.cases[id].Clone())
	}
	return out, nil
}

// SaveCollectionCase inserts or replaces a case, rejecting a second active case
// for the same invoice.
func (s *Store) SaveCollectionCase(ctx context.Context, c *collection.Case) (*collection.Case, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.saveCase(ctx, c)
}

func (s *Store) saveCase(ctx context.Context, c *collection.Case) (*collection.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.data(ctx)
	if c.Status.Active() {
		for id, other := range d.cases {
			if id != c.ID && other.InvoiceID == c.InvoiceID && other.Status.Active() {
				return nil, fmt.Errorf("invoice %s: %w", c.InvoiceNumber, shared.ErrDuplicateCase)
			}
		}
	}
	if _, ok := d.cases[c.ID]; !ok {
		d.caseIDs = append(d.caseIDs, c.ID)
	}
	d.cases[c.ID] = c.Clone()
	return c.Clone(), nil
}

// Atomic runs fn with the write lock held and rolls the tenant back when fn
// returns an error.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx receivables.Store) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	id := tenant.IDOrDefault(ctx)
	s.mu.Lock()
	backup := s.data(ctx).clone()
	s.mu.Unlock()

	if err := fn(ctx, txStore{s}); err != nil {
		s.mu.Lock()
		s.tenants[id] = backup
		s.mu.Unlock()
		return err
	}
	return nil
}

// txStore writes without taking the write lock, which Atomic already holds.
type txStore struct {
	s *Store
}

func (t txStore) ListInvoices(ctx context.Context) ([]*invoice.Invoice, error) {
	return t.s.ListInvoices(ctx)
}

func (t txStore) GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	return t.s.GetInvoice(ctx, id)
}

func (t txStore) SaveInvoice(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	return t.s.saveInvoice(ctx, inv)
}

func (t txStore) ListReminders(ctx context.Context) ([]*dunning.Reminder, error) {
	return t.s.ListReminders(ctx)
}

func (t txStore) SaveReminder(ctx context.Context, r *dunning.Reminder) (*dunning.Reminder, error) {
	return t.s.saveReminder(ctx, r)
}

func (t txStore) ListCollectionCases(ctx context.Context) ([]*collection.Case, error) {
	return t.s.ListCollectionCases(ctx)
}

func (t txStore) SaveCollectionCase(ctx context.Context, c *collection.Case) (*collection.Case, error) {
	return t.s.saveCase(ctx, c)
}

func (t txStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx receivables.Store) error) error {
	return fn(ctx, t)
}
