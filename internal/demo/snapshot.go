// Package demo builds the sample receivables of the admin console demo.
package demo

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/dunning"
	"github.com/velo-automation/velo/internal/invoice"
	"github.com/velo-automation/velo/internal/money"
	"github.com/velo-automation/velo/internal/receivables"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type invoiceSeed struct {
	number   string
	customer string
	issue    time.Time
	due      time.Time
	net      string
	level    int
	paid     bool
}

var invoiceSeeds = []invoiceSeed{
	{number: "RE-2024-001", customer: "Müller GmbH", issue: day(2024, 5, 1), due: day(2024, 5, 15), net: "1050.42", paid: true},
	{number: "RE-2024-002", customer: "StartUp Inc.", issue: day(2024, 5, 10), due: day(2024, 5, 24), net: "2857.56"},
	{number: "RE-2024-003", customer: "Hans Meier", issue: day(2024, 5, 12), due: day(2024, 5, 26), net: "126.05", level: 1},
	{number: "RE-2024-004", customer: "Design Studio", issue: day(2024, 5, 20), due: day(2024, 6, 3), net: "747.90", level: 2},
	{number: "RE-2024-005", customer: "Tech Solutions", issue: day(2024, 4, 1), due: day(2024, 4, 15), net: "1764.71", level: 3},
}

// Snapshot returns five invoices across the lifecycle, the open reminders
// M1-2024-003 and M2-2024-004 and the collection case PAIR-99283.
func Snapshot() (dunning.Snapshot, error) {
	var snap dunning.Snapshot
	policy := dunning.DefaultPolicy()
	byNumber := make(map[string]*invoice.Invoice, len(invoiceSeeds))

	for _, seed := range invoiceSeeds {
		inv, err := invoice.New(invoice.DraftInput{
			Number:       seed.number,
			CustomerName: seed.customer,
			IssueDate:    seed.issue,
			DueDate:      seed.due,
			Items: []invoice.LineItem{{
				Description: "Leistungen laut Vereinbarung",
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   decimal.RequireFromString(seed.net),
				TaxRate:     money.DefaultVATRate,
			}},
		}, seed.issue)
		if err != nil {
			return dunning.Snapshot{}, fmt.Errorf("demo %s: %w", seed.number, err)
		}
		if err := inv.Send(seed.issue.Add(34*time.Hour), seed.number); err != nil {
			return dunning.Snapshot{}, fmt.Errorf("demo %s: %w", seed.number, err)
		}
		for level := 1; level <= seed.level; level++ {
			if err := inv.Remind(level, seed.due.AddDate(0, 0, 2+7*(level-1))); err != nil {
				return dunning.Snapshot{}, fmt.Errorf("demo %s: %w", seed.number, err)
			}
		}
		if seed.paid {
			if _, err := inv.MarkPaid(seed.due.AddDate(0, 0, -1)); err != nil {
				return dunning.Snapshot{}, fmt.Errorf("demo %s: %w", seed.number, err)
			}
		}
		byNumber[seed.number] = inv
		snap.Invoices = append(snap.Invoices, inv)
	}

	first, err := dunning.NewReminder(byNumber["RE-2024-003"], 1, policy.Fee(1), policy.PaymentWindowDays, day(2024, 5, 28))
	if err != nil {
		return dunning.Snapshot{}, err
	}
	second, err := dunning.NewReminder(byNumber["RE-2024-004"], 2, policy.Fee(2), policy.PaymentWindowDays, day(2024, 6, 5))
	if err != nil {
		return dunning.Snapshot{}, err
	}
	snap.Reminders = []*dunning.Reminder{first, second}

	handedOff := byNumber["RE-2024-005"]
	c, err := collection.Open(handedOff, "PAIR-99283", day(2024, 5, 15))
	if err != nil {
		return dunning.Snapshot{}, err
	}
	if _, err := c.Apply(collection.StatusInProgress, day(2024, 6, 1)); err != nil {
		return dunning.Snapshot{}, err
	}
	if err := handedOff.HandOff(day(2024, 5, 15)); err != nil {
		return dunning.Snapshot{}, err
	}
	snap.Cases = []*collection.Case{c}
	return snap, nil
}

// Seed writes the demo snapshot into store for the tenant carried in ctx.
func Seed(ctx context.Context, store receivables.Store) error {
	snap, err := Snapshot()
	if err != nil {
		return err
	}
	return store.Atomic(ctx, func(ctx context.Context, tx receivables.Store) error {
		for _, inv := range snap.Invoices {
			if _, err := tx.SaveInvoice(ctx, inv); err != nil {
				return fmt.Errorf("seed invoice %s: %w", inv.Number, err)
			}
		}
		for _, r := range snap.Reminders {
			if _, err := tx.SaveReminder(ctx, r); err != nil {
				return fmt.Errorf("seed reminder %s: %w", r.ReminderNumber, err)
			}
		}
		for _, c := range snap.Cases {
			if _, err := tx.SaveCollectionCase(ctx, c); err != nil {
				return fmt.Errorf("seed case %s: %w", c.ExternalCaseID, err)
			}
		}
		return nil
	})
}
