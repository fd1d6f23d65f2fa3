package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/velo-automation/velo/internal/dunning"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDunningEvaluate runs the dunning pass of one tenant.
	TaskDunningEvaluate = "dunning:evaluate"
	// TaskReminderNotify renders and delivers the notice of an issued reminder.
	TaskReminderNotify = "reminder:notify"
)

// DunningEvaluatePayload names the tenant to evaluate.
type DunningEvaluatePayload struct {
	Tenant string `json:"tenant"`
}

// NewDunningEvaluateTask constructs the dunning task for tenant. Enqueueing the
// same tenant again within an hour is rejected by asynq with ErrDuplicateTask.
func NewDunningEvaluateTask(tenant string) (*asynq.Task, error) {
	if tenant == "" {
		return nil, errors.New("jobs: dunning task requires a tenant")
	}
	body, err := json.Marshal(DunningEvaluatePayload{Tenant: tenant})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDunningEvaluate, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Unique(time.Hour),
	), nil
}

// ReminderNotifyPayload carries everything the notice needs, so delivery does
// not read the store again.
type ReminderNotifyPayload struct {
	Tenant         string          `json:"tenant"`
	ReminderID     string          `json:"reminder_id"`
	ReminderNumber string          `json:"reminder_number"`
	InvoiceNumber  string          `json:"invoice_number"`
	CustomerName   string          `json:"customer_name"`
	Level          int             `json:"level"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	Fees           decimal.Decimal `json:"fees"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	NewDueDate     time.Time       `json:"new_due_date"`
}

// NewReminderNotifyPayload copies the notice fields of r.
func NewReminderNotifyPayload(tenant string, r *dunning.Reminder) ReminderNotifyPayload {
	return ReminderNotifyPayload{
		Tenant:         tenant,
		ReminderID:     r.ID,
		ReminderNumber: r.ReminderNumber,
		InvoiceNumber:  r.InvoiceNumber,
		CustomerName:   r.CustomerName,
		Level:          r.Level,
		OriginalAmount: r.OriginalAmount,
		Fees:           r.Fees,
		TotalAmount:    r.TotalAmount,
		NewDueDate:     r.NewDueDate,
	}
}

// NewReminderNotifyTask constructs the notice task. The task id is the
// reminder id, so a reminder is announced at most once.
func NewReminderNotifyTask(payload ReminderNotifyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(5)}
	if payload.ReminderID != "" {
		opts = append(opts, asynq.TaskID(payload.Tenant+":"+payload.ReminderID))
	}
	return asynq.NewTask(TaskReminderNotify, body, opts...), nil
}
