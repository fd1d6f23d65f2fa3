package invoice

import (
	"fmt"
	"time"

	"github.com/velo-automation/velo/internal/clock"
	"github.com/velo-automation/velo/internal/shared"
)

const entityName = "invoice"

// transitions is the adjacency graph of stored statuses. paid -> paid is handled
// as an idempotent no-op by MarkPaid and is deliberately absent here.
var transitions = map[Status][]Status{
	StatusDraft:        {StatusSent},
	StatusSent:         {StatusReminded1, StatusPaid},
	StatusReminded1:    {StatusReminded2, StatusPaid},
	StatusReminded2:    {StatusReminded3, StatusPaid},
	StatusReminded3:    {StatusInCollection, StatusPaid},
	StatusInCollection: {StatusPaid, StatusReminded3},
	StatusPaid:         nil,
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (inv *Invoice) transitionError(to Status, cause error) error {
	return shared.NewTransitionError(entityName, inv.ID, string(inv.Status), string(to), cause)
}

func (inv *Invoice) move(to Status, now time.Time) error {
	if !CanTransition(inv.Status, to) {
		return inv.transitionError(to, nil)
	}
	inv.Status = to
	inv.UpdatedAt = now
	return nil
}

// Send issues a draft: it must have line items and a customer, gets its final
// number when it has none yet and becomes immutable.
func (inv *Invoice) Send(now time.Time, number string) error {
	if !CanTransition(inv.Status, StatusSent) {
		return inv.transitionError(StatusSent, nil)
	}
	if len(inv.Items) == 0 {
		return inv.transitionError(StatusSent, fmt.Errorf("no line items: %w", shared.ErrValidation))
	}
	if inv.CustomerName == "" {
		return inv.transitionError(StatusSent, fmt.Errorf("no customer: %w", shared.ErrValidation))
	}
	if err := inv.VerifyTotal(); err != nil {
		return err
	}
	if inv.Number == "" {
		if _, _, err := ParseNumber(number); err != nil {
			return err
		}
		inv.Number = number
	}
	if err := inv.move(StatusSent, now); err != nil {
		return err
	}
	locked := now
	inv.IsLocked = true
	inv.LockedAt = &locked
	return nil
}

// Remind advances the invoice to reminded_<level>. It is called only together
// with the creation of the matching reminder.
func (inv *Invoice) Remind(level int, now time.Time) error {
	to, ok := StatusForLevel(level)
	if !ok {
		return inv.transitionError(Status(fmt.Sprintf("reminded_%d", level)), nil)
	}
	if inv.Status.ReminderLevel() != level-1 {
		return inv.transitionError(to, nil)
	}
	if err := inv.move(to, now); err != nil {
		return err
	}
	inv.ReminderCount++
	return nil
}

// HandOff moves a reminded_3 invoice into collection.
func (inv *Invoice) HandOff(now time.Time) error {
	return inv.move(StatusInCollection, now)
}

// ReturnFromCollection hands a closed or failed collection back to reminded_3.
func (inv *Invoice) ReturnFromCollection(now time.Time) error {
	if inv.Status != StatusInCollection {
		return inv.transitionError(StatusReminded3, nil)
	}
	return inv.move(StatusReminded3, now)
}

// MarkPaid settles the invoice. Paying a paid invoice again reports changed=false.
func (inv *Invoice) MarkPaid(now time.Time) (bool, error) {
	if inv.Status == StatusPaid {
		return false, nil
	}
	if err := inv.move(StatusPaid, now); err != nil {
		return false, err
	}
	paid := now
	inv.PaidAt = &paid
	return true, nil
}

// IsOverdue reports whether the invoice carries the computed overdue label.
func (inv *Invoice) IsOverdue(now time.Time) bool {
	switch inv.Status {
	case StatusSent, StatusReminded1, StatusReminded2:
		return clock.Day(inv.DueDate).Before(clock.Day(now))
	}
	return false
}

// Label returns the status as shown to users, substituting overdue where it applies.
func (inv *Invoice) Label(now time.Time) string {
	if inv.IsOverdue(now) {
		return LabelOverdue
	}
	return string(inv.Status)
}

// DaysOverdue returns calendar days past the due date, or 0.
func (inv *Invoice) DaysOverdue(now time.Time) int {
	days := clock.DaysBetween(inv.DueDate, now)
	if days < 0 {
		return 0
	}
	return days
}
