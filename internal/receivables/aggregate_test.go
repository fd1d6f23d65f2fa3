package receivables_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/demo"
	"github.com/velo-automation/velo/internal/dunning"
	"github.com/velo-automation/velo/internal/invoice"
	"github.com/velo-automation/velo/internal/receivables"
)

func TestDemoDashboard(t *testing.T) {
	snap, err := demo.Snapshot()
	require.NoError(t, err)
	sum := receivables.Summarize(snap, day(2024, 6, 10))

	require.Equal(t, "0.00", sum.Open.StringFixed(2))
	require.Equal(t, "3400.50", sum.OverdueByLevel[0].Principal.StringFixed(2))
	require.Equal(t, "155.00", sum.OverdueByLevel[1].Total.StringFixed(2))
	require.Equal(t, "900.00", sum.OverdueByLevel[2].Total.StringFixed(2))
	require.Equal(t, 0, sum.OverdueByLevel[3].Count)
	require.Equal(t, "2100.00", sum.InCollection.StringFixed(2))
	require.Equal(t, "15.00", sum.OpenReminderFees.StringFixed(2))
	require.Equal(t, "6540.50", sum.Outstanding.StringFixed(2))
	require.Equal(t, 1, sum.PaidCount)

	early := receivables.Summarize(snap, day(2024, 5, 20))
	require.Equal(t, "3400.50", early.Open.StringFixed(2))
	require.Equal(t, 1, early.OpenCount)
}

func TestClassify(t *testing.T) {
	inv := &invoice.Invoice{Status: invoice.StatusSent, DueDate: day(2024, 5, 26)}
	b, _ := receivables.Classify(inv, day(2024, 5, 26))
	require.Equal(t, receivables.BucketOpen, b)
	b, level := receivables.Classify(inv, day(2024, 5, 27))
	require.Equal(t, receivables.BucketOverdue, b)
	require.Equal(t, 0, level)

	inv.Status = invoice.StatusReminded3
	b, level = receivables.Classify(inv, day(2024, 5, 27))
	require.Equal(t, receivables.BucketOverdue, b)
	require.Equal(t, 3, level)

	inv.Status = invoice.StatusDraft
	b, _ = receivables.Classify(inv, day(2024, 5, 27))
	require.Equal(t, receivables.BucketNone, b)
}

// randomSnapshot drives invoices through random legal lifecycles with the
// engine and the collection tracker, the way the service does.
func randomSnapshot(t *testing.T, rng *rand.Rand) (dunning.Snapshot, time.Time) {
	t.Helper()
	engine := dunning.NewEngine(dunning.DefaultPolicy())
	var snap dunning.Snapshot
	start := day(2024, 1, 1)

	n := 1 + rng.Intn(12)
	for i := 0; i < n; i++ {
		issue := start.AddDate(0, 0, rng.Intn(60))
		net := decimal.New(int64(1+rng.Intn(500000)), -2)
		inv, err := invoice.New(invoice.DraftInput{
			CustomerName: "Kunde",
			IssueDate:    issue,
			DueDate:      issue.AddDate(0, 0, rng.Intn(30)),
			Items: []invoice.LineItem{
				{Description: "a", Quantity: decimal.NewFromInt(int64(1 + rng.Intn(5))), UnitPrice: net, TaxRate: decimal.RequireFromString("0.19")},
				{Description: "b", Quantity: decimal.New(int64(rng.Intn(1000)), -3), UnitPrice: net, TaxRate: decimal.RequireFromString("0.07")},
			},
		}, issue)
		require.NoError(t, err)
		snap.Invoices = append(snap.Invoices, inv)
		if rng.Intn(6) == 0 {
			continue
		}
		require.NoError(t, inv.Send(issue, invoice.FormatNumber(2024, i+1)))
	}

	now := start
	for step := 0; step < 40; step++ {
		now = now.AddDate(0, 0, 1+rng.Intn(6))
		plan, err := engine.Plan(snap, now)
		require.NoError(t, err)
		for _, is := range plan.Issues {
			if is.Superseded != nil {
				require.NoError(t, is.Superseded.Escalate(now))
			}
			require.NoError(t, is.Invoice.Remind(is.Reminder.Level, now))
			snap.Reminders = append(snap.Reminders, is.Reminder)
		}
		for _, esc := range plan.Escalations {
			c, err := collection.Open(esc.Invoice, "PAIR-1", now)
			require.NoError(t, err)
			if esc.Reminder != nil {
				require.NoError(t, esc.Reminder.Escalate(now))
			}
			require.NoError(t, esc.Invoice.HandOff(now))
			snap.Cases = append(snap.Cases, c)
		}
		for _, inv := range snap.Invoices {
			if inv.Status == invoice.StatusDraft || inv.Status == invoice.StatusPaid || rng.Intn(15) != 0 {
				continue
			}
			_, err := inv.MarkPaid(now)
			require.NoError(t, err)
			if r := dunning.LatestOpen(snap.Reminders, inv.ID); r != nil {
				_, err := r.MarkPaid(now)
				require.NoError(t, err)
			}
			if c := collection.ActiveFor(snap.Cases, inv.ID); c != nil {
				_, err := c.Apply(collection.StatusPaid, now)
				require.NoError(t, err)
			}
		}
		if rng.Intn(8) == 0 {
			break
		}
	}
	return snap, now
}

func TestAggregationPartition(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 300; run++ {
		snap, now := randomSnapshot(t, rng)
		sum := receivables.Summarize(snap, now)

		covered := sum.Open.Add(sum.OverduePrincipal()).Add(sum.InCollection)
		require.True(t, covered.Equal(sum.Outstanding), "run %d: %s != %s", run, covered, sum.Outstanding)

		counted := map[string]int{}
		for _, inv := range snap.Invoices {
			b, _ := receivables.Classify(inv, now)
			if b != receivables.BucketNone {
				counted[inv.ID]++
			}
			issued := inv.Status != invoice.StatusDraft && inv.Status != invoice.StatusPaid
			require.Equal(t, issued, b != receivables.BucketNone, inv.Status)
		}
		for id, n := range counted {
			require.Equal(t, 1, n, id)
		}

		count := sum.OpenCount + sum.InCollectionCount
		for _, lt := range sum.OverdueByLevel {
			count += lt.Count
			require.True(t, lt.Total.Equal(lt.Principal.Add(lt.Fees)))
		}
		require.Equal(t, len(counted), count)

		for _, r := range snap.Reminders {
			require.Equal(t, 1, countOpenAt(snap.Reminders, r.InvoiceID, r.Level), "one reminder per invoice and level")
		}
	}
}

func countOpenAt(reminders []*dunning.Reminder, invoiceID string, level int) int {
	n := 0
	for _, r := range reminders {
		if r.InvoiceID == invoiceID && r.Level == level {
			n++
		}
	}
	return n
}
