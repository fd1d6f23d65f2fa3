package receivables

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/dunning"
	"github.com/velo-automation/velo/internal/invoice"
)

// Bucket is the dashboard bucket an invoice falls into.
type Bucket int

const (
	BucketNone Bucket = iota
	BucketOpen
	BucketOverdue
	BucketCollection
)

// Classify assigns inv to exactly one bucket. For BucketOverdue the second
// result is the reminder level reached (0 for overdue without a reminder).
func Classify(inv *invoice.Invoice, now time.Time) (Bucket, int) {
	switch inv.Status {
	case invoice.StatusSent:
		if inv.IsOverdue(now) {
			return BucketOverdue, 0
		}
		return BucketOpen, 0
	case invoice.StatusReminded1, invoice.StatusReminded2, invoice.StatusReminded3:
		return BucketOverdue, inv.Status.ReminderLevel()
	case invoice.StatusInCollection:
		return BucketCollection, 0
	}
	return BucketNone, 0
}

// LevelTotals sums one overdue level. Principal is the invoice amount, Fees
// the open reminder fees on top.
type LevelTotals struct {
	Count     int             `json:"count"`
	Principal decimal.Decimal `json:"principal"`
	Fees      decimal.Decimal `json:"fees"`
	Total     decimal.Decimal `json:"total"`
}

func (l LevelTotals) add(principal, fees decimal.Decimal) LevelTotals {
	l.Count++
	l.Principal = l.Principal.Add(principal)
	l.Fees = l.Fees.Add(fees)
	l.Total = l.Principal.Add(l.Fees)
	return l
}

// OpenReceivables sums sent invoices that are not yet overdue.
func OpenReceivables(invoices []*invoice.Invoice, now time.Time) decimal.Decimal {
	sum := decimal.Zero
	for _, inv := range invoices {
		if b, _ := Classify(inv, now); b == BucketOpen {
			sum = sum.Add(inv.Total)
		}
	}
	return sum
}

// OverdueByLevel groups overdue invoices by reminder level 0..3. A level's
// fees come from the open reminder at that level; superseded reminders no
// longer count.
func OverdueByLevel(invoices []*invoice.Invoice, reminders []*dunning.Reminder, now time.Time) map[int]LevelTotals {
	out := make(map[int]LevelTotals, dunning.MaxLevel+1)
	for level := 0; level <= dunning.MaxLevel; level++ {
		out[level] = LevelTotals{Principal: decimal.Zero, Fees: decimal.Zero, Total: decimal.Zero}
	}
	for _, inv := range invoices {
		b, level := Classify(inv, now)
		if b != BucketOverdue {
			continue
		}
		fees := decimal.Zero
		if r := dunning.AtLevel(reminders, inv.ID, level); r != nil && r.Status == dunning.StatusOpen {
			fees = r.Fees
		}
		out[level] = out[level].add(inv.Total, fees)
	}
	return out
}

// InCollectionTotal sums the frozen amounts of active cases of in_collection
// invoices.
func InCollectionTotal(invoices []*invoice.Invoice, cases []*collection.Case) decimal.Decimal {
	sum := decimal.Zero
	for _, inv := range invoices {
		if inv.Status != invoice.StatusInCollection {
			continue
		}
		if c := collection.ActiveFor(cases, inv.ID); c != nil {
			sum = sum.Add(c.TotalAmount)
			continue
		}
		sum = sum.Add(inv.Total)
	}
	return sum
}

// Outstanding sums every issued, unpaid invoice.
func Outstanding(invoices []*invoice.Invoice) decimal.Decimal {
	sum := decimal.Zero
	for _, inv := range invoices {
		if inv.Status != invoice.StatusDraft && inv.Status != invoice.StatusPaid {
			sum = sum.Add(inv.Total)
		}
	}
	return sum
}

// Summary is the dashboard rollup of one tenant.
type Summary struct {
	AsOf              time.Time           `json:"asOf"`
	Open              decimal.Decimal     `json:"open"`
	OpenCount         int                 `json:"openCount"`
	OverdueByLevel    map[int]LevelTotals `json:"overdueByLevel"`
	InCollection      decimal.Decimal     `json:"inCollection"`
	InCollectionCount int                 `json:"inCollectionCount"`
	Outstanding       decimal.Decimal     `json:"outstanding"`
	OpenReminderFees  decimal.Decimal     `json:"openReminderFees"`
	DraftCount        int                 `json:"draftCount"`
	PaidCount         int                 `json:"paidCount"`
}

// Summarize computes every aggregate over one snapshot.
func Summarize(s dunning.Snapshot, now time.Time) Summary {
	sum := Summary{
		AsOf:           now,
		Open:           OpenReceivables(s.Invoices, now),
		OverdueByLevel: OverdueByLevel(s.Invoices, s.Reminders, now),
		InCollection:   InCollectionTotal(s.Invoices, s.Cases),
		Outstanding:    Outstanding(s.Invoices),
	}
	for _, inv := range s.Invoices {
		switch b, _ := Classify(inv, now); {
		case b == BucketOpen:
			sum.OpenCount++
		case b == BucketCollection:
			sum.InCollectionCount++
		case inv.Status == invoice.StatusDraft:
			sum.DraftCount++
		case inv.Status == invoice.StatusPaid:
			sum.PaidCount++
		}
	}
	fees := decimal.Zero
	for _, lt := range sum.OverdueByLevel {
		fees = fees.Add(lt.Fees)
	}
	sum.OpenReminderFees = fees
	return sum
}

// OverduePrincipal sums the principal over all overdue levels.
func (s Summary) OverduePrincipal() decimal.Decimal {
	total := decimal.Zero
	for _, lt := range s.OverdueByLevel {
		total = total.Add(lt.Principal)
	}
	return total
}
