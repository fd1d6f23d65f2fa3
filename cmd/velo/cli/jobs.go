package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/velo-automation/velo/jobs"
)

type queueClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    queueClient
	inspector queueInspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
	return &JobsCLI{client: client, inspector: inspector}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name for one tenant.
func (c *JobsCLI) Trigger(ctx context.Context, name, tenant string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch name {
	case "dunning", jobs.TaskDunningEvaluate:
		task, err = jobs.NewDunningEvaluateTask(tenant)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return stats, nil
	}
	if err != nil {
		return QueueStats{}, err
	}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// JobsOptions configures a jobs command run.
type JobsOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

const jobsUsage = `usage:
  velo jobs trigger dunning <tenant> [<tenant>...]
  velo jobs stats
  velo jobs scheduled [size]`

// Command runs a jobs subcommand and returns the process exit code.
func (c *JobsCLI) Command(ctx context.Context, args []string, opts JobsOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if len(args) == 0 {
		fmt.Fprintln(opts.Stderr, jobsUsage)
		return 2
	}
	switch args[0] {
	case "trigger":
		if len(args) < 3 {
			fmt.Fprintln(opts.Stderr, jobsUsage)
			return 2
		}
		code := 0
		for _, tenant := range args[2:] {
			info, err := c.Trigger(ctx, args[1], tenant)
			switch {
			case errors.Is(err, asynq.ErrDuplicateTask):
				fmt.Fprintf(opts.Stdout, "%s: dunning pass already queued\n", tenant)
			case err != nil:
				fmt.Fprintf(opts.Stderr, "jobs trigger %s: %v\n", tenant, err)
				code = 1
			default:
				fmt.Fprintf(opts.Stdout, "%s: enqueued %s (%s)\n", tenant, info.ID, info.Type)
			}
		}
		return code
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		if opts.JSONOutput {
			if err := json.NewEncoder(opts.Stdout).Encode(stats); err != nil {
				fmt.Fprintf(opts.Stderr, "jobs stats: %v\n", err)
				return 1
			}
			return 0
		}
		fmt.Fprintf(opts.Stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return 0
	case "scheduled":
		size := 10
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				fmt.Fprintf(opts.Stderr, "jobs scheduled: invalid size %q\n", args[1])
				return 2
			}
			size = n
		}
		tasks, err := c.ListScheduled(ctx, size)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "jobs scheduled: %v\n", err)
			return 1
		}
		for _, t := range tasks {
			fmt.Fprintf(opts.Stdout, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z"))
		}
		return 0
	default:
		fmt.Fprintln(opts.Stderr, jobsUsage)
		return 2
	}
}
