// Package receivables orchestrates the invoice lifecycle across invoices,
// reminders and collection cases and derives the dashboard aggregates.
package receivables

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/dunning"
	"github.com/velo-automation/velo/internal/invoice"
)

// Store persists the three entity collections of the tenant carried in ctx.
//
// SaveReminder must reject a second reminder for the same invoice and level
// with shared.ErrDuplicateReminder, and SaveCollectionCase a second active case
// for the same invoice with shared.ErrDuplicateCase, atomically with the write.
// Get and save return copies.
type Store interface {
	ListInvoices(ctx context.Context) ([]*invoice.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error)
	SaveInvoice(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error)

	ListReminders(ctx context.Context) ([]*dunning.Reminder, error)
	SaveReminder(ctx context.Context, r *dunning.Reminder) (*dunning.Reminder, error)

	ListCollectionCases(ctx context.Context) ([]*collection.Case, error)
	SaveCollectionCase(ctx context.Context, c *collection.Case) (*collection.Case, error)

	// Atomic runs fn against a Store whose writes commit together.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// LoadSnapshot reads all three collections concurrently.
func LoadSnapshot(ctx context.Context, store Store) (dunning.Snapshot, error) {
	var snap dunning.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		invoices, err := store.ListInvoices(gctx)
		snap.Invoices = invoices
		return err
	})
	g.Go(func() error {
		reminders, err := store.ListReminders(gctx)
		snap.Reminders = reminders
		return err
	})
	g.Go(func() error {
		cases, err := store.ListCollectionCases(gctx)
		snap.Cases = cases
		return err
	})
	if err := g.Wait(); err != nil {
		return dunning.Snapshot{}, err
	}
	return snap, nil
}
