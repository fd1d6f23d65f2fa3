package receivables_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/velo-automation/velo/internal/clock"
	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/dunning"
	"github.com/velo-automation/velo/internal/invoice"
	"github.com/velo-automation/velo/internal/receivables"
	"github.com/velo-automation/velo/internal/shared"
	"github.com/velo-automation/velo/internal/store/memory"
	"github.com/velo-automation/velo/internal/tenant"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type stubPartner struct {
	mu       sync.Mutex
	subs     []collection.Submission
	next     string
	err      error
	onSubmit func()
}

func (p *stubPartner) Submit(ctx context.Context, sub collection.Submission) (string, error) {
	if p.onSubmit != nil {
		p.onSubmit()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.subs = append(p.subs, sub)
	if p.next != "" {
		return p.next, nil
	}
	return "PAIR-" + sub.InvoiceNumber, nil
}

type countingRecorder struct {
	mu     sync.Mutex
	levels map[int]int
	opened int
	paid   int
}

func (r *countingRecorder) ReminderIssued(level int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.levels == nil {
		r.levels = map[int]int{}
	}
	r.levels[level]++
}

func (r *countingRecorder) CaseOpened() {
	r.mu.Lock()
	r.opened++
	r.mu.Unlock()
}

func (r *countingRecorder) InvoicePaid() {
	r.mu.Lock()
	r.paid++
	r.mu.Unlock()
}

type recordingNotifier struct {
	mu      sync.Mutex
	numbers []string
}

func (n *recordingNotifier) ReminderIssued(ctx context.Context, tenantID string, r *dunning.Reminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.numbers = append(n.numbers, tenantID+"/"+r.ReminderNumber)
	return nil
}

type fixture struct {
	store    *memory.Store
	clock    *clock.Fake
	partner  *stubPartner
	metrics  *countingRecorder
	notifier *recordingNotifier
	svc      *receivables.Service
	ctx      context.Context
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		clock:    clock.NewFake(now),
		partner:  &stubPartner{},
		metrics:  &countingRecorder{},
		notifier: &recordingNotifier{},
		ctx:      tenant.WithID(context.Background(), "acme"),
	}
	f.svc = receivables.NewService(f.store, receivables.Options{
		Clock:    f.clock,
		Partner:  f.partner,
		Metrics:  f.metrics,
		Notifier: f.notifier,
	})
	return f
}

// sent creates and issues an invoice of the given gross total (no VAT).
func (f *fixture) sent(t *testing.T, number, customer, total string, issue, due time.Time) *invoice.Invoice {
	t.Helper()
	f.clock.Set(issue)
	inv, err := f.svc.CreateDraft(f.ctx, invoice.DraftInput{
		Number:       number,
		CustomerName: customer,
		IssueDate:    issue,
		DueDate:      due,
		Items: []invoice.LineItem{{
			Description: "Leistung",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.RequireFromString(total),
			TaxRate:     decimal.Zero,
		}},
	})
	require.NoError(t, err)
	inv, err = f.svc.SendInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	return inv
}

func (f *fixture) run(t *testing.T, at time.Time) receivables.RunResult {
	t.Helper()
	f.clock.Set(at)
	res, err := f.svc.RunDunning(f.ctx)
	require.NoError(t, err)
	return res
}

func TestSendAssignsNextNumber(t *testing.T) {
	f := newFixture(t, day(2024, 5, 1))
	f.sent(t, "RE-2024-004", "Design Studio", "890.00", day(2024, 5, 1), day(2024, 5, 15))

	draft, err := f.svc.CreateDraft(f.ctx, invoice.DraftInput{
		CustomerName: "StartUp Inc.",
		Items:        []invoice.LineItem{{Description: "Setup", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(100), TaxRate: decimal.RequireFromString("0.19")}},
	})
	require.NoError(t, err)
	require.Empty(t, draft.Number)

	sent, err := f.svc.SendInvoice(f.ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, "RE-2024-005", sent.Number)
	require.Equal(t, "238.00", sent.Total.StringFixed(2))
	require.True(t, sent.IsLocked)

	_, err = f.svc.UpdateDraft(f.ctx, sent.ID, invoice.DraftInput{CustomerName: "x"})
	require.ErrorIs(t, err, shared.ErrLockedInvoiceMutation)

	_, err = f.svc.CreateDraft(f.ctx, invoice.DraftInput{Number: "RE-2024-005", CustomerName: "Dup"})
	require.ErrorIs(t, err, shared.ErrDuplicateNumber)
}

func TestRunDunningIssuesAndSupersedes(t *testing.T) {
	f := newFixture(t, day(2024, 5, 12))
	inv := f.sent(t, "RE-2024-003", "Hans Meier", "150.00", day(2024, 5, 12), day(2024, 5, 26))

	res := f.run(t, day(2024, 5, 28))
	require.Len(t, res.Issued, 1)
	first := res.Issued[0]
	require.Equal(t, "M1-2024-003", first.ReminderNumber)
	require.Equal(t, "155.00", first.TotalAmount.StringFixed(2))
	require.Equal(t, day(2024, 6, 4), first.NewDueDate)
	require.Equal(t, []string{"acme/M1-2024-003"}, f.notifier.numbers)

	got, err := f.svc.GetInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusReminded1, got.Status)
	require.Equal(t, 1, got.ReminderCount)

	// Same day, same snapshot: nothing new.
	res = f.run(t, day(2024, 5, 28))
	require.Empty(t, res.Issued)
	reminders, err := f.svc.ListReminders(f.ctx)
	require.NoError(t, err)
	require.Len(t, reminders, 1)

	res = f.run(t, day(2024, 6, 5))
	require.Len(t, res.Issued, 1)
	require.Equal(t, 2, res.Issued[0].Level)
	require.Equal(t, "160.00", res.Issued[0].TotalAmount.StringFixed(2))

	reminders, err = f.svc.ListReminders(f.ctx)
	require.NoError(t, err)
	require.Len(t, reminders, 2)
	require.Equal(t, dunning.StatusOpen, dunning.AtLevel(reminders, inv.ID, 2).Status)
	require.Equal(t, dunning.StatusEscalated, dunning.AtLevel(reminders, inv.ID, 1).Status)
	require.Equal(t, 1, f.metrics.levels[1])
	require.Equal(t, 1, f.metrics.levels[2])

	sum, err := f.svc.Dashboard(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 0, sum.OverdueByLevel[1].Count)
	require.Equal(t, "160.00", sum.OverdueByLevel[2].Total.StringFixed(2))
}

func TestHandOffScenario(t *testing.T) {
	f := newFixture(t, day(2024, 4, 1))
	inv := f.sent(t, "RE-2024-005", "Tech Solutions", "2100.00", day(2024, 4, 1), day(2024, 4, 15))

	now := day(2024, 4, 16)
	for level := 1; level <= dunning.MaxLevel; level++ {
		res := f.run(t, now)
		require.Len(t, res.Issued, 1, "level %d", level)
		now = res.Issued[0].NewDueDate.AddDate(0, 0, 1)
	}

	res := f.run(t, now)
	require.Empty(t, res.Issued)
	require.Len(t, res.Cases, 1)
	c := res.Cases[0]
	require.Equal(t, "2100.00", c.TotalAmount.StringFixed(2))
	require.Equal(t, "PAIR-RE-2024-005", c.ExternalCaseID)
	require.Equal(t, collection.StatusSubmitted, c.Status)

	got, err := f.svc.GetInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusInCollection, got.Status)

	reminders, err := f.svc.ListReminders(f.ctx)
	require.NoError(t, err)
	require.Equal(t, dunning.StatusEscalated, dunning.AtLevel(reminders, inv.ID, 3).Status)

	res = f.run(t, now.AddDate(0, 0, 30))
	require.Empty(t, res.Cases)
	cases, err := f.svc.ListCases(f.ctx)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	require.Len(t, f.partner.subs, 1)
	require.Equal(t, 1, f.metrics.opened)
}

func handedOff(t *testing.T, f *fixture) (*invoice.Invoice, *collection.Case) {
	t.Helper()
	inv := f.sent(t, "RE-2024-005", "Tech Solutions", "2100.00", day(2024, 4, 1), day(2024, 4, 15))
	now := day(2024, 4, 16)
	for level := 1; level <= dunning.MaxLevel; level++ {
		res := f.run(t, now)
		now = res.Issued[0].NewDueDate.AddDate(0, 0, 1)
	}
	res := f.run(t, now)
	require.Len(t, res.Cases, 1)
	return inv, res.Cases[0]
}

func TestPaidEventScenario(t *testing.T) {
	f := newFixture(t, day(2024, 4, 1))
	inv, c := handedOff(t, f)

	updated, err := f.svc.ApplyCaseUpdate(f.ctx, receivables.CaseEvent{ExternalCaseID: c.ExternalCaseID, Status: collection.StatusInProgress, At: day(2024, 5, 20)})
	require.NoError(t, err)
	require.Equal(t, collection.StatusInProgress, updated.Status)

	paidAt := day(2024, 6, 1)
	updated, err = f.svc.ApplyCaseUpdate(f.ctx, receivables.CaseEvent{CaseID: c.ID, Status: collection.StatusPaid, At: paidAt})
	require.NoError(t, err)
	require.Equal(t, collection.StatusPaid, updated.Status)

	got, err := f.svc.GetInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusPaid, got.Status)
	require.Equal(t, paidAt, *got.PaidAt)
	require.Equal(t, 1, f.metrics.paid)

	again, err := f.svc.ApplyCaseUpdate(f.ctx, receivables.CaseEvent{CaseID: c.ID, Status: collection.StatusPaid, At: paidAt.AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.Equal(t, paidAt, again.LastUpdate)
	require.Equal(t, 1, f.metrics.paid)

	_, err = f.svc.ApplyCaseUpdate(f.ctx, receivables.CaseEvent{CaseID: c.ID, Status: collection.StatusFailed})
	require.ErrorIs(t, err, shared.ErrCaseAlreadyClosed)

	_, err = f.svc.ApplyCaseUpdate(f.ctx, receivables.CaseEvent{ExternalCaseID: "PAIR-0", Status: collection.StatusPaid})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestClosedCaseNeedsManualResubmission(t *testing.T) {
	f := newFixture(t, day(2024, 4, 1))
	inv, c := handedOff(t, f)

	_, err := f.svc.ApplyCaseUpdate(f.ctx, receivables.CaseEvent{CaseID: c.ID, Status: collection.StatusClosed, At: day(2024, 6, 1)})
	require.NoError(t, err)
	got, err := f.svc.GetInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusReminded3, got.Status)

	res := f.run(t, day(2024, 7, 1))
	require.Empty(t, res.Cases)

	f.partner.next = "PAIR-55555"
	again, err := f.svc.SubmitToCollection(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, "PAIR-55555", again.ExternalCaseID)

	_, err = f.svc.SubmitToCollection(f.ctx, inv.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestMarkPaidSettlesReminder(t *testing.T) {
	f := newFixture(t, day(2024, 5, 12))
	inv := f.sent(t, "RE-2024-003", "Hans Meier", "150.00", day(2024, 5, 12), day(2024, 5, 26))
	f.run(t, day(2024, 5, 28))

	f.clock.Set(day(2024, 6, 1))
	paid, err := f.svc.MarkPaid(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusPaid, paid.Status)

	reminders, err := f.svc.ListReminders(f.ctx)
	require.NoError(t, err)
	require.Equal(t, dunning.StatusPaid, reminders[0].Status)

	again, err := f.svc.MarkPaid(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, day(2024, 6, 1), *again.PaidAt)
	require.Equal(t, 1, f.metrics.paid)

	// Paid invoices are never reminded again.
	res := f.run(t, day(2024, 8, 1))
	require.Empty(t, res.Issued)

	draft, err := f.svc.CreateDraft(f.ctx, invoice.DraftInput{CustomerName: "x"})
	require.NoError(t, err)
	_, err = f.svc.MarkPaid(f.ctx, draft.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestMarkPaidInCollectionSettlesCase(t *testing.T) {
	f := newFixture(t, day(2024, 4, 1))
	inv, c := handedOff(t, f)

	_, err := f.svc.MarkPaid(f.ctx, inv.ID)
	require.NoError(t, err)
	cases, err := f.svc.ListCases(f.ctx)
	require.NoError(t, err)
	require.Equal(t, c.ID, cases[0].ID)
	require.Equal(t, collection.StatusPaid, cases[0].Status)
}

func TestPartnerFailureIsReported(t *testing.T) {
	f := newFixture(t, day(2024, 4, 1))
	inv := f.sent(t, "RE-2024-005", "Tech Solutions", "2100.00", day(2024, 4, 1), day(2024, 4, 15))
	now := day(2024, 4, 16)
	for level := 1; level <= dunning.MaxLevel; level++ {
		res := f.run(t, now)
		now = res.Issued[0].NewDueDate.AddDate(0, 0, 1)
	}

	f.partner.err = errors.New("partner down")
	f.clock.Set(now)
	res, err := f.svc.RunDunning(f.ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "partner down")
	require.Empty(t, res.Cases)

	got, err := f.svc.GetInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusReminded3, got.Status)
}

// payingStore settles an invoice through a second service right before the
// first atomic write, after the pass has loaded its snapshot.
type payingStore struct {
	receivables.Store
	once sync.Once
	pay  func()
}

func (p *payingStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx receivables.Store) error) error {
	p.once.Do(p.pay)
	return p.Store.Atomic(ctx, fn)
}

func TestPaymentDuringPassIsKept(t *testing.T) {
	f := newFixture(t, day(2024, 5, 12))
	inv := f.sent(t, "RE-2024-003", "Hans Meier", "150.00", day(2024, 5, 12), day(2024, 5, 26))
	f.run(t, day(2024, 5, 28))

	f.clock.Set(day(2024, 6, 5))
	store := &payingStore{Store: f.store, pay: func() {
		_, err := f.svc.MarkPaid(f.ctx, inv.ID)
		require.NoError(t, err)
	}}
	notifier := &recordingNotifier{}
	svc := receivables.NewService(store, receivables.Options{Clock: f.clock, Partner: f.partner, Notifier: notifier})

	res, err := svc.RunDunning(f.ctx)
	require.NoError(t, err)
	require.Empty(t, res.Issued)
	require.Equal(t, 1, res.Skipped)
	require.Empty(t, notifier.numbers)

	got, err := f.svc.GetInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	require.Equal(t, day(2024, 6, 5), *got.PaidAt)
	require.Equal(t, 1, got.ReminderCount)

	reminders, err := f.svc.ListReminders(f.ctx)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	require.Equal(t, dunning.StatusPaid, reminders[0].Status)
}

func TestPaymentDuringHandOffIsKept(t *testing.T) {
	f := newFixture(t, day(2024, 4, 1))
	inv := f.sent(t, "RE-2024-005", "Tech Solutions", "2100.00", day(2024, 4, 1), day(2024, 4, 15))
	now := day(2024, 4, 16)
	for level := 1; level <= dunning.MaxLevel; level++ {
		res := f.run(t, now)
		now = res.Issued[0].NewDueDate.AddDate(0, 0, 1)
	}

	f.partner.onSubmit = func() {
		_, err := f.svc.MarkPaid(f.ctx, inv.ID)
		require.NoError(t, err)
	}
	res := f.run(t, now)
	require.Empty(t, res.Cases)
	require.Equal(t, 1, res.Skipped)
	require.Len(t, f.partner.subs, 1)

	got, err := f.svc.GetInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusPaid, got.Status)

	cases, err := f.svc.ListCases(f.ctx)
	require.NoError(t, err)
	require.Empty(t, cases)
	reminders, err := f.svc.ListReminders(f.ctx)
	require.NoError(t, err)
	require.Equal(t, dunning.StatusPaid, dunning.AtLevel(reminders, inv.ID, 3).Status)
	require.Zero(t, f.metrics.opened)

	f.partner.onSubmit = nil
	_, err = f.svc.SubmitToCollection(f.ctx, inv.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestConcurrentPassesDoNotDuplicate(t *testing.T) {
	f := newFixture(t, day(2024, 5, 1))
	for i, due := range []time.Time{day(2024, 5, 10), day(2024, 5, 12), day(2024, 5, 14)} {
		f.sent(t, invoice.FormatNumber(2024, i+1), "Kunde", "100.00", day(2024, 5, 1), due)
	}
	f.clock.Set(day(2024, 5, 20))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RunDunning(f.ctx)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	reminders, err := f.svc.ListReminders(f.ctx)
	require.NoError(t, err)
	require.Len(t, reminders, 3)
	invoices, err := f.svc.ListInvoices(f.ctx)
	require.NoError(t, err)
	for _, inv := range invoices {
		require.Equal(t, invoice.StatusReminded1, inv.Status)
		require.Equal(t, 1, inv.ReminderCount)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	f := newFixture(t, day(2024, 5, 1))
	f.sent(t, "RE-2024-001", "Müller GmbH", "1250.00", day(2024, 5, 1), day(2024, 5, 15))

	other := tenant.WithID(context.Background(), "globex")
	invoices, err := f.svc.ListInvoices(other)
	require.NoError(t, err)
	require.Empty(t, invoices)

	f.clock.Set(day(2024, 6, 1))
	res, err := f.svc.RunDunning(other)
	require.NoError(t, err)
	require.Equal(t, "globex", res.Tenant)
	require.Empty(t, res.Issued)
}
