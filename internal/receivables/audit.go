package receivables

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionLock       = "lock"
	ActionRemind     = "remind"
	ActionEscalate   = "escalate"
	ActionPay        = "pay"
	ActionCollection = "collection"
)

// AuditEntry is one line of the financial audit trail.
type AuditEntry struct {
	Tenant   string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditSink records audit entries.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

func validateEntry(entry AuditEntry) error {
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

// PGAuditSink writes records into audit_logs.
type PGAuditSink struct {
	pool *pgxpool.Pool
}

// NewPGAuditSink returns a new PGAuditSink.
func NewPGAuditSink(pool *pgxpool.Pool) *PGAuditSink {
	return &PGAuditSink{pool: pool}
}

// Record persists the log entry.
func (s *PGAuditSink) Record(ctx context.Context, entry AuditEntry) error {
	if s == nil || s.pool == nil {
		return errors.New("audit sink not initialised")
	}
	if err := validateEntry(entry); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO audit_logs (tenant_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		entry.Tenant, entry.Action, entry.Entity, entry.EntityID, metaJSON, at)
	return err
}

// LogAuditSink writes audit entries to a structured logger.
type LogAuditSink struct {
	logger *slog.Logger
}

// NewLogAuditSink returns a sink logging at info level.
func NewLogAuditSink(logger *slog.Logger) *LogAuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAuditSink{logger: logger.With(slog.String("component", "audit"))}
}

// Record logs the entry.
func (s *LogAuditSink) Record(ctx context.Context, entry AuditEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "audit",
		slog.String("tenant", entry.Tenant),
		slog.String("action", entry.Action),
		slog.String("entity", entry.Entity),
		slog.String("entity_id", entry.EntityID),
		slog.Any("meta", entry.Meta),
		slog.Time("at", entry.At),
	)
	return nil
}
