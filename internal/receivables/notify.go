package receivables

import (
	"context"

	"github.com/velo-automation/velo/internal/dunning"
)

// Notifier is told about every newly issued reminder so a notice can be sent.
type Notifier interface {
	ReminderIssued(ctx context.Context, tenantID string, r *dunning.Reminder) error
}

// Recorder receives lifecycle counters.
type Recorder interface {
	ReminderIssued(level int)
	CaseOpened()
	InvoicePaid()
}

type nopNotifier struct{}

func (nopNotifier) ReminderIssued(context.Context, string, *dunning.Reminder) error { return nil }

type nopRecorder struct{}

func (nopRecorder) ReminderIssued(int) {}
func (nopRecorder) CaseOpened()        {}
func (nopRecorder) InvoicePaid()       {}
