package receivables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/velo-automation/velo/internal/clock"
	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/dunning"
	"github.com/velo-automation/velo/internal/invoice"
	"github.com/velo-automation/velo/internal/shared"
	"github.com/velo-automation/velo/internal/tenant"
)

// Options wires optional collaborators into the Service. Nil fields get
// defaults: the default dunning policy, a LocalPartner, the system clock, no
// cache, a log audit sink and no notifications or metrics.
type Options struct {
	Engine   *dunning.Engine
	Partner  collection.Partner
	Clock    clock.Clock
	Cache    *Cache
	Audit    AuditSink
	Notifier Notifier
	Metrics  Recorder
	Logger   *slog.Logger
}

// Service runs lifecycle commands against a Store.
type Service struct {
	store    Store
	engine   *dunning.Engine
	partner  collection.Partner
	clock    clock.Clock
	cache    *Cache
	audit    AuditSink
	notifier Notifier
	metrics  Recorder
	logger   *slog.Logger
	group    singleflight.Group
}

// NewService builds a Service over store.
func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:    store,
		engine:   opts.Engine,
		partner:  opts.Partner,
		clock:    opts.Clock,
		cache:    opts.Cache,
		audit:    opts.Audit,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.audit == nil {
		s.audit = NewLogAuditSink(s.logger)
	}
	s.logger = s.logger.With(slog.String("component", "receivables"))
	if s.engine == nil {
		s.engine = dunning.NewEngine(dunning.DefaultPolicy())
	}
	if s.partner == nil {
		s.partner = collection.LocalPartner{}
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	return s
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// CreateDraft stores a new draft invoice.
func (s *Service) CreateDraft(ctx context.Context, in invoice.DraftInput) (*invoice.Invoice, error) {
	inv, err := invoice.New(in, s.Now())
	if err != nil {
		return nil, err
	}
	saved, err := s.store.SaveInvoice(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}
	s.record(ctx, ActionCreate, "invoice", saved.ID, map[string]any{"total": saved.Total.StringFixed(2)})
	s.invalidate(ctx)
	return saved, nil
}

// UpdateDraft replaces the editable fields of a draft.
func (s *Service) UpdateDraft(ctx context.Context, id string, in invoice.DraftInput) (*invoice.Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := inv.UpdateDraft(in, s.Now()); err != nil {
		return nil, err
	}
	saved, err := s.store.SaveInvoice(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("update draft %s: %w", id, err)
	}
	s.record(ctx, ActionUpdate, "invoice", saved.ID, map[string]any{"total": saved.Total.StringFixed(2)})
	s.invalidate(ctx)
	return saved, nil
}

// SendInvoice issues a draft, numbering it when it has no number yet.
func (s *Service) SendInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	now := s.Now()
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	number := inv.Number
	if number == "" {
		all, err := s.store.ListInvoices(ctx)
		if err != nil {
			return nil, err
		}
		numbers := make([]string, 0, len(all))
		for _, other := range all {
			numbers = append(numbers, other.Number)
		}
		number = invoice.NextNumber(numbers, now.Year())
	}
	if err := inv.Send(now, number); err != nil {
		return nil, err
	}
	saved, err := s.store.SaveInvoice(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("send invoice %s: %w", id, err)
	}
	s.record(ctx, ActionLock, "invoice", saved.ID, map[string]any{"number": saved.Number})
	s.invalidate(ctx)
	return saved, nil
}

// MarkPaid settles an invoice together with its latest open reminder and active
// collection case. Paying a paid invoice again changes nothing.
func (s *Service) MarkPaid(ctx context.Context, id string) (*invoice.Invoice, error) {
	now := s.Now()
	var (
		out     *invoice.Invoice
		changed bool
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, tx Store) error {
		inv, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		out = inv
		paid, err := inv.MarkPaid(now)
		if err != nil || !paid {
			return err
		}
		changed = true
		if err := s.settleReminder(ctx, tx, inv.ID, now); err != nil {
			return err
		}
		cases, err := tx.ListCollectionCases(ctx)
		if err != nil {
			return err
		}
		if c := collection.ActiveFor(cases, inv.ID); c != nil {
			if _, err := c.Apply(collection.StatusPaid, now); err != nil {
				return err
			}
			if _, err := tx.SaveCollectionCase(ctx, c); err != nil {
				return err
			}
		}
		out, err = tx.SaveInvoice(ctx, inv)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.InvoicePaid()
		s.record(ctx, ActionPay, "invoice", out.ID, map[string]any{"number": out.Number})
		s.invalidate(ctx)
	}
	return out, nil
}

func (s *Service) settleReminder(ctx context.Context, tx Store, invoiceID string, now time.Time) error {
	reminders, err := tx.ListReminders(ctx)
	if err != nil {
		return err
	}
	r := dunning.LatestOpen(reminders, invoiceID)
	if r == nil {
		return nil
	}
	if _, err := r.MarkPaid(now); err != nil {
		return err
	}
	_, err = tx.SaveReminder(ctx, r)
	return err
}

// GetInvoice loads one invoice.
func (s *Service) GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

// ListInvoices returns the tenant's invoices ordered by issue date, then number.
func (s *Service) ListInvoices(ctx context.Context) ([]*invoice.Invoice, error) {
	invoices, err := s.store.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		if !invoices[i].IssueDate.Equal(invoices[j].IssueDate) {
			return invoices[i].IssueDate.Before(invoices[j].IssueDate)
		}
		return invoices[i].Number < invoices[j].Number
	})
	return invoices, nil
}

// ListReminders returns the tenant's reminders, newest first.
func (s *Service) ListReminders(ctx context.Context) ([]*dunning.Reminder, error) {
	reminders, err := s.store.ListReminders(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(reminders, func(i, j int) bool {
		if !reminders[i].Date.Equal(reminders[j].Date) {
			return reminders[i].Date.After(reminders[j].Date)
		}
		return reminders[i].ReminderNumber > reminders[j].ReminderNumber
	})
	return reminders, nil
}

// ListCases returns the tenant's collection cases, newest first.
func (s *Service) ListCases(ctx context.Context) ([]*collection.Case, error) {
	cases, err := s.store.ListCollectionCases(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cases, func(i, j int) bool {
		return cases[i].SubmissionDate.After(cases[j].SubmissionDate)
	})
	return cases, nil
}

// Dashboard returns the tenant's rollup, served from the cache when possible.
func (s *Service) Dashboard(ctx context.Context) (Summary, error) {
	tenantID := tenant.IDOrDefault(ctx)
	now := s.Now()
	key, err := s.cache.BuildKey(ctx, tenantID, now.Format(time.DateOnly))
	if err != nil {
		return Summary{}, fmt.Errorf("dashboard cache key: %w", err)
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		var sum Summary
		err := s.cache.FetchJSON(ctx, key, &sum, func(ctx context.Context) (any, error) {
			snap, err := LoadSnapshot(ctx, s.store)
			if err != nil {
				return nil, err
			}
			return Summarize(snap, now), nil
		})
		return sum, err
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

func (s *Service) record(ctx context.Context, action, entity, id string, meta map[string]any) {
	entry := AuditEntry{
		Tenant:   tenant.IDOrDefault(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: id,
		Meta:     meta,
		At:       s.Now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit record failed",
			slog.String("action", action),
			slog.String("entity_id", id),
			slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context) {
	tenantID := tenant.IDOrDefault(ctx)
	if err := s.cache.Bump(ctx, tenantID); err != nil {
		s.logger.WarnContext(ctx, "dashboard cache bump failed", slog.String("tenant", tenantID), slog.Any("error", err))
	}
}

func isDuplicate(err error) bool {
	return errors.Is(err, shared.ErrDuplicateReminder) || errors.Is(err, shared.ErrDuplicateCase)
}
