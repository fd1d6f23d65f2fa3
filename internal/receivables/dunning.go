package receivables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/dunning"
	"github.com/velo-automation/velo/internal/invoice"
	"github.com/velo-automation/velo/internal/shared"
	"github.com/velo-automation/velo/internal/tenant"
)

// RunResult reports what a dunning pass did.
type RunResult struct {
	Tenant  string
	Issued  []*dunning.Reminder
	Cases   []*collection.Case
	Skipped int
}

// RunDunning evaluates the tenant's invoices and applies the resulting plan.
// Actions rejected as duplicates, or dropped because the invoice changed after
// evaluation, are counted as skipped. Every other failure is returned joined, after the
// remaining actions have been applied.
func (s *Service) RunDunning(ctx context.Context) (RunResult, error) {
	now := s.Now()
	res := RunResult{Tenant: tenant.IDOrDefault(ctx)}
	logger := s.logger.With(slog.String("tenant", res.Tenant))

	snap, err := LoadSnapshot(ctx, s.store)
	if err != nil {
		return res, fmt.Errorf("dunning: load snapshot: %w", err)
	}
	plan, planErr := s.engine.Plan(snap, now)
	errs := []error{planErr}

	for _, is := range plan.Issues {
		r, err := s.issue(ctx, is, now)
		switch {
		case isDuplicate(err):
			res.Skipped++
			logger.InfoContext(ctx, "reminder already issued", slog.String("invoice_number", is.Invoice.Number), slog.Int("level", is.Reminder.Level))
		case errors.Is(err, errChanged):
			res.Skipped++
			logger.InfoContext(ctx, "reminder dropped", slog.String("invoice_number", is.Invoice.Number), slog.Any("reason", err))
		case err != nil:
			errs = append(errs, fmt.Errorf("remind %s: %w", is.Invoice.Number, err))
		default:
			res.Issued = append(res.Issued, r)
			if err := s.notifier.ReminderIssued(ctx, res.Tenant, r); err != nil {
				errs = append(errs, fmt.Errorf("notify %s: %w", r.ReminderNumber, err))
			}
		}
	}

	for _, esc := range plan.Escalations {
		c, err := s.handOff(ctx, esc.Invoice.ID, now)
		switch {
		case isDuplicate(err):
			res.Skipped++
			logger.InfoContext(ctx, "collection case already open", slog.String("invoice_number", esc.Invoice.Number))
		case errors.Is(err, errChanged), errors.Is(err, shared.ErrInvalidTransition):
			res.Skipped++
			logger.InfoContext(ctx, "collection hand-off dropped", slog.String("invoice_number", esc.Invoice.Number), slog.Any("reason", err))
		case err != nil:
			errs = append(errs, fmt.Errorf("hand off %s: %w", esc.Invoice.Number, err))
		default:
			res.Cases = append(res.Cases, c)
		}
	}

	if len(res.Issued) > 0 || len(res.Cases) > 0 {
		s.invalidate(ctx)
	}
	logger.InfoContext(ctx, "dunning pass finished",
		slog.Int("issued", len(res.Issued)),
		slog.Int("cases", len(res.Cases)),
		slog.Int("skipped", res.Skipped))
	return res, errors.Join(errs...)
}

// errChanged marks a planned action dropped because the invoice moved on after
// the snapshot the plan was built from.
var errChanged = errors.New("invoice changed since evaluation")

func (s *Service) issue(ctx context.Context, is dunning.Issue, now time.Time) (*dunning.Reminder, error) {
	var (
		saved     *dunning.Reminder
		escalated *dunning.Reminder
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, tx Store) error {
		inv, err := tx.GetInvoice(ctx, is.Invoice.ID)
		if err != nil {
			return err
		}
		if inv.Status != is.Invoice.Status || inv.ReminderCount != is.Invoice.ReminderCount {
			return fmt.Errorf("%s is %s: %w", inv.Number, inv.Status, errChanged)
		}
		reminders, err := tx.ListReminders(ctx)
		if err != nil {
			return err
		}
		if saved, err = tx.SaveReminder(ctx, is.Reminder); err != nil {
			return err
		}
		if prev := dunning.AtLevel(reminders, inv.ID, is.Reminder.Level-1); prev != nil && prev.Status == dunning.StatusOpen {
			if err := prev.Escalate(now); err != nil {
				return err
			}
			if escalated, err = tx.SaveReminder(ctx, prev); err != nil {
				return err
			}
		}
		if err := inv.Remind(is.Reminder.Level, now); err != nil {
			return err
		}
		_, err = tx.SaveInvoice(ctx, inv)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ReminderIssued(saved.Level)
	s.record(ctx, ActionRemind, "reminder", saved.ID, map[string]any{
		"invoice_number":  saved.InvoiceNumber,
		"reminder_number": saved.ReminderNumber,
		"level":           saved.Level,
		"total":           saved.TotalAmount.StringFixed(2),
	})
	if escalated != nil {
		s.recordEscalation(ctx, escalated, saved.ReminderNumber)
	}
	s.logger.InfoContext(ctx, "reminder issued",
		slog.String("invoice_number", saved.InvoiceNumber),
		slog.String("reminder_number", saved.ReminderNumber),
		slog.Int("level", saved.Level))
	return saved, nil
}

func (s *Service) recordEscalation(ctx context.Context, r *dunning.Reminder, to string) {
	s.record(ctx, ActionEscalate, "reminder", r.ID, map[string]any{
		"invoice_number":  r.InvoiceNumber,
		"reminder_number": r.ReminderNumber,
		"level":           r.Level,
		"to":              to,
	})
}

// SubmitToCollection hands a reminded_3 invoice to the collection partner
// without waiting for the collection grace period. It is also the way to
// resubmit after a closed or failed case.
func (s *Service) SubmitToCollection(ctx context.Context, invoiceID string) (*collection.Case, error) {
	c, err := s.handOff(ctx, invoiceID, s.Now())
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return c, nil
}

func (s *Service) handOff(ctx context.Context, invoiceID string, now time.Time) (*collection.Case, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != invoice.StatusReminded3 {
		return nil, shared.NewTransitionError("invoice", inv.ID, string(inv.Status), string(invoice.StatusInCollection), nil)
	}
	cases, err := s.store.ListCollectionCases(ctx)
	if err != nil {
		return nil, err
	}
	if err := collection.EnsureNoActive(cases, inv.ID); err != nil {
		return nil, err
	}

	externalID, err := s.partner.Submit(ctx, collection.Submission{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		CustomerName:  inv.CustomerName,
		Amount:        inv.Total,
		DueDate:       inv.DueDate,
		ReminderCount: inv.ReminderCount,
	})
	if err != nil {
		return nil, fmt.Errorf("submit %s to collection partner: %w", inv.Number, err)
	}
	c, err := collection.Open(inv, externalID, now)
	if err != nil {
		return nil, err
	}

	var (
		saved     *collection.Case
		escalated *dunning.Reminder
	)
	err = s.store.Atomic(ctx, func(ctx context.Context, tx Store) error {
		current, err := tx.GetInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		if current.Status != invoice.StatusReminded3 {
			return fmt.Errorf("%w: %w", errChanged,
				shared.NewTransitionError("invoice", current.ID, string(current.Status), string(invoice.StatusInCollection), nil))
		}
		if saved, err = tx.SaveCollectionCase(ctx, c); err != nil {
			return err
		}
		reminders, err := tx.ListReminders(ctx)
		if err != nil {
			return err
		}
		if r := dunning.AtLevel(reminders, current.ID, dunning.MaxLevel); r != nil && r.Status == dunning.StatusOpen {
			if err := r.Escalate(now); err != nil {
				return err
			}
			if escalated, err = tx.SaveReminder(ctx, r); err != nil {
				return err
			}
		}
		if err := current.HandOff(now); err != nil {
			return err
		}
		_, err = tx.SaveInvoice(ctx, current)
		return err
	})
	if errors.Is(err, errChanged) {
		s.logger.WarnContext(ctx, "invoice changed while submitting to collection partner",
			slog.String("invoice_number", inv.Number),
			slog.String("case_id", externalID))
	}
	if err != nil {
		return nil, err
	}
	s.metrics.CaseOpened()
	s.record(ctx, ActionCollection, "collection_case", saved.ID, map[string]any{
		"invoice_number":   saved.InvoiceNumber,
		"external_case_id": saved.ExternalCaseID,
		"total":            saved.TotalAmount.StringFixed(2),
	})
	if escalated != nil {
		s.recordEscalation(ctx, escalated, saved.ExternalCaseID)
	}
	s.logger.InfoContext(ctx, "invoice handed to collection",
		slog.String("invoice_number", saved.InvoiceNumber),
		slog.String("case_id", saved.ExternalCaseID))
	return saved, nil
}

// CaseEvent is a status report from the collection partner. Either CaseID or
// ExternalCaseID identifies the case.
type CaseEvent struct {
	CaseID         string
	ExternalCaseID string
	Status         collection.Status
	At             time.Time
}

// ApplyCaseUpdate applies a partner status event. A paid case settles the
// invoice; a closed or failed case hands it back to reminded_3. Re-applying
// the current status is a no-op.
func (s *Service) ApplyCaseUpdate(ctx context.Context, ev CaseEvent) (*collection.Case, error) {
	at := ev.At
	if at.IsZero() {
		at = s.Now()
	}
	var (
		out     *collection.Case
		changed bool
		paidNow bool
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, tx Store) error {
		cases, err := tx.ListCollectionCases(ctx)
		if err != nil {
			return err
		}
		c := findCase(cases, ev)
		if c == nil {
			return fmt.Errorf("collection case %s%s: %w", ev.CaseID, ev.ExternalCaseID, shared.ErrNotFound)
		}
		out = c
		changed, err = c.Apply(ev.Status, at)
		if err != nil || !changed {
			return err
		}
		if out, err = tx.SaveCollectionCase(ctx, c); err != nil {
			return err
		}

		inv, err := tx.GetInvoice(ctx, c.InvoiceID)
		if err != nil {
			return err
		}
		switch c.Status {
		case collection.StatusPaid:
			if paidNow, err = inv.MarkPaid(at); err != nil || !paidNow {
				return err
			}
			if err := s.settleReminder(ctx, tx, inv.ID, at); err != nil {
				return err
			}
		case collection.StatusClosed, collection.StatusFailed:
			if inv.Status != invoice.StatusInCollection {
				return nil
			}
			if err := inv.ReturnFromCollection(at); err != nil {
				return err
			}
		default:
			return nil
		}
		_, err = tx.SaveInvoice(ctx, inv)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		if paidNow {
			s.metrics.InvoicePaid()
		}
		s.record(ctx, ActionCollection, "collection_case", out.ID, map[string]any{
			"external_case_id": out.ExternalCaseID,
			"status":           string(out.Status),
		})
		s.invalidate(ctx)
	}
	return out, nil
}

func findCase(cases []*collection.Case, ev CaseEvent) *collection.Case {
	for _, c := range cases {
		if ev.CaseID != "" && c.ID == ev.CaseID {
			return c
		}
	}
	if ev.ExternalCaseID != "" {
		return collection.FindByExternalID(cases, ev.ExternalCaseID)
	}
	return nil
}
