package dunning

import (
	"errors"
	"fmt"
	"time"

	"github.com/velo-automation/velo/internal/clock"
	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/invoice"
)

// Snapshot is the state a dunning pass evaluates.
type Snapshot struct {
	Invoices  []*invoice.Invoice
	Reminders []*Reminder
	Cases     []*collection.Case
}

// Issue asks for a new reminder. Superseded is the open predecessor, if any,
// which becomes escalated.
type Issue struct {
	Invoice    *invoice.Invoice
	Reminder   *Reminder
	Superseded *Reminder
}

// Escalation asks for a collection hand-off of a reminded_3 invoice whose last
// due date plus the collection grace has passed. Reminder is the level-3
// reminder, nil for invoices imported without one.
type Escalation struct {
	Invoice     *invoice.Invoice
	Reminder    *Reminder
	DaysOverdue int
}

// Plan is the outcome of a pass. The engine never mutates the snapshot; the
// caller applies the plan.
type Plan struct {
	Issues      []Issue
	Escalations []Escalation
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool {
	return len(p.Issues) == 0 && len(p.Escalations) == 0
}

// Engine evaluates overdue invoices against a Policy.
type Engine struct {
	policy Policy
}

// NewEngine builds an engine for policy.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the engine's schedule.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Plan evaluates the snapshot at now. Invoices that cannot be planned (for
// example because their number is malformed) are reported in the joined error
// while the remaining actions are still returned.
func (e *Engine) Plan(s Snapshot, now time.Time) (Plan, error) {
	var (
		plan Plan
		errs []error
	)
	for _, inv := range s.Invoices {
		switch inv.Status {
		case invoice.StatusSent, invoice.StatusReminded1, invoice.StatusReminded2:
			issue, ok, err := e.next(inv, s.Reminders, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("invoice %s (%s): %w", inv.ID, inv.Number, err))
				continue
			}
			if ok {
				plan.Issues = append(plan.Issues, issue)
			}
		case invoice.StatusReminded3:
			if esc, ok := e.escalation(inv, s, now); ok {
				plan.Escalations = append(plan.Escalations, esc)
			}
		}
	}
	return plan, errors.Join(errs...)
}

// CurrentDueDate is the invoice due date or the newDueDate of its latest reminder.
func CurrentDueDate(inv *invoice.Invoice, reminders []*Reminder) time.Time {
	if latest := Latest(reminders, inv.ID); latest != nil && !latest.NewDueDate.IsZero() {
		return latest.NewDueDate
	}
	return inv.DueDate
}

func (e *Engine) due(since time.Time, grace int, now time.Time) (int, bool) {
	days := clock.DaysBetween(since, now)
	if grace < 1 {
		grace = 1
	}
	return days, days >= grace
}

func (e *Engine) next(inv *invoice.Invoice, reminders []*Reminder, now time.Time) (Issue, bool, error) {
	level := inv.Status.ReminderLevel() + 1
	if AtLevel(reminders, inv.ID, level) != nil {
		return Issue{}, false, nil
	}
	if _, ok := e.due(CurrentDueDate(inv, reminders), e.policy.Grace(level), now); !ok {
		return Issue{}, false, nil
	}
	r, err := NewReminder(inv, level, e.policy.Fee(level), e.policy.PaymentWindowDays, now)
	if err != nil {
		return Issue{}, false, err
	}
	return Issue{
		Invoice:    inv,
		Reminder:   r,
		Superseded: LatestOpen(reminders, inv.ID),
	}, true, nil
}

func (e *Engine) escalation(inv *invoice.Invoice, s Snapshot, now time.Time) (Escalation, bool) {
	// A closed or failed case hands the invoice back; resubmission is manual.
	if collection.HasHistory(s.Cases, inv.ID) {
		return Escalation{}, false
	}
	days, ok := e.due(CurrentDueDate(inv, s.Reminders), e.policy.CollectionGraceDays, now)
	if !ok {
		return Escalation{}, false
	}
	return Escalation{
		Invoice:     inv,
		Reminder:    AtLevel(s.Reminders, inv.ID, MaxLevel),
		DaysOverdue: days,
	}, true
}
