package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/velo-automation/velo/internal/dunning"
	jobmetrics "github.com/velo-automation/velo/internal/jobs"
	"github.com/velo-automation/velo/internal/money"
)

// Notice is a rendered reminder letter.
type Notice struct {
	Tenant         string
	ReminderNumber string
	CustomerName   string
	Subject        string
	Body           string
}

// NoticeSender delivers rendered notices.
type NoticeSender interface {
	Send(ctx context.Context, n Notice) error
}

// LogSender writes notices to the log. It is the sender until a mail or
// document channel is configured.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the notice.
func (s LogSender) Send(ctx context.Context, n Notice) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "reminder notice",
		slog.String("tenant", n.Tenant),
		slog.String("reminder_number", n.ReminderNumber),
		slog.String("subject", n.Subject),
	)
	return nil
}

var levelTitles = map[int]string{
	1: "Zahlungserinnerung",
	2: "2. Mahnung",
	3: "3. Mahnung",
}

// RenderNotice renders the German notice text for a reminder.
func RenderNotice(p ReminderNotifyPayload) (Notice, error) {
	title, ok := levelTitles[p.Level]
	if !ok {
		return Notice{}, fmt.Errorf("render notice %s: unknown level %d", p.ReminderNumber, p.Level)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sehr geehrte Damen und Herren (%s),\n\n", p.CustomerName)
	fmt.Fprintf(&b, "zu unserer Rechnung %s ist ein Betrag von %s noch offen.\n", p.InvoiceNumber, money.Format(p.OriginalAmount))
	if p.Fees.IsPositive() {
		fmt.Fprintf(&b, "Zuzüglich Mahngebühr von %s ergibt sich ein Gesamtbetrag von %s.\n", money.Format(p.Fees), money.Format(p.TotalAmount))
	}
	fmt.Fprintf(&b, "Bitte überweisen Sie %s bis zum %s.\n", money.Format(p.TotalAmount), p.NewDueDate.Format("02.01.2006"))
	if p.Level == dunning.MaxLevel {
		b.WriteString("Nach Ablauf dieser Frist übergeben wir die Forderung ohne weitere Ankündigung an unser Inkassobüro.\n")
	}
	b.WriteString("\nMit freundlichen Grüßen\n")
	return Notice{
		Tenant:         p.Tenant,
		ReminderNumber: p.ReminderNumber,
		CustomerName:   p.CustomerName,
		Subject:        fmt.Sprintf("%s %s zu Rechnung %s", title, p.ReminderNumber, p.InvoiceNumber),
		Body:           b.String(),
	}, nil
}

// ReminderNotifyJob handles TaskReminderNotify.
type ReminderNotifyJob struct {
	Sender  NoticeSender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReminderNotifyJob initialises the notice handler.
func NewReminderNotifyJob(sender NoticeSender, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReminderNotifyJob {
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &ReminderNotifyJob{Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle renders and sends one notice.
func (j *ReminderNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sender == nil {
		return errors.New("reminder notify: handler not configured")
	}
	var payload ReminderNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("reminder notify: invalid payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskReminderNotify)
	notice, err := RenderNotice(payload)
	if err != nil {
		return tracker.End(fmt.Errorf("%v: %w", err, asynq.SkipRetry))
	}
	if err := j.Sender.Send(ctx, notice); err != nil {
		return tracker.End(fmt.Errorf("reminder notify %s: %w", payload.ReminderNumber, err))
	}
	return tracker.End(nil)
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier enqueues a notice task for every issued reminder. It satisfies
// receivables.Notifier.
type Notifier struct {
	client enqueuer
}

// NewNotifier wraps an asynq client.
func NewNotifier(client *asynq.Client) *Notifier {
	return &Notifier{client: client}
}

// ReminderIssued enqueues TaskReminderNotify. A task already queued for the
// reminder is not an error.
func (n *Notifier) ReminderIssued(ctx context.Context, tenantID string, r *dunning.Reminder) error {
	task, err := NewReminderNotifyTask(NewReminderNotifyPayload(tenantID, r))
	if err != nil {
		return err
	}
	if _, err := n.client.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue notice %s: %w", r.ReminderNumber, err)
	}
	return nil
}
