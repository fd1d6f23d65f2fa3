package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/velo-automation/velo/internal/jobs"
	"github.com/velo-automation/velo/internal/platform/lock"
	"github.com/velo-automation/velo/internal/receivables"
	"github.com/velo-automation/velo/internal/shared"
	"github.com/velo-automation/velo/internal/tenant"
)

// DunningRunner runs the dunning pass for the tenant carried in ctx.
type DunningRunner interface {
	RunDunning(ctx context.Context) (receivables.RunResult, error)
}

// DunningJob handles TaskDunningEvaluate. At most one pass runs per tenant:
// when another worker holds the tenant lock the task is dropped.
type DunningJob struct {
	Runner  DunningRunner
	Locker  *lock.Locker
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDunningJob initialises the dunning handler.
func NewDunningJob(runner DunningRunner, locker *lock.Locker, lockTTL time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *DunningJob {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &DunningJob{Runner: runner, Locker: locker, LockTTL: lockTTL, Logger: logger, Metrics: metrics}
}

// Handle executes one dunning pass.
func (j *DunningJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("dunning job: handler not configured")
	}
	var payload DunningEvaluatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Tenant == "" {
		return fmt.Errorf("dunning job: invalid payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskDunningEvaluate)
	logger := j.logger().With(slog.String("tenant", payload.Tenant))
	ctx = tenant.WithID(ctx, payload.Tenant)
	start := time.Now()

	var res receivables.RunResult
	err := j.Locker.WithLock(ctx, shared.DunningLockKey(payload.Tenant), j.LockTTL, func(ctx context.Context) error {
		var runErr error
		res, runErr = j.Runner.RunDunning(ctx)
		return runErr
	})
	if errors.Is(err, lock.ErrHeld) {
		tracker.Skip()
		logger.Info("dunning pass already running, skipping")
		return nil
	}

	attrs := []any{
		slog.Int("issued", len(res.Issued)),
		slog.Int("escalated", len(res.Cases)),
		slog.Int("skipped", res.Skipped),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		logger.Error("dunning pass finished with errors", append(attrs, slog.Any("error", err))...)
		return tracker.End(err)
	}
	logger.Info("dunning pass completed", attrs...)
	return tracker.End(nil)
}

func (j *DunningJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDunningEvaluate))
	}
	return slog.Default().With(slog.String("job", TaskDunningEvaluate))
}
