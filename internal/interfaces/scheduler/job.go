package scheduler

import "context"

// Job represents a unit of work executed by the worker pool.
type Job interface {
	// Execute runs the job. Implementations must honor ctx cancellation.
	Execute(ctx context.Context) error

	// UserID returns the user the job works for, or 0 for system jobs.
	UserID() int64

	// Description is used in logs and span attributes.
	Description() string
}

// JobProvider builds the batch of jobs for one scheduled run.
type JobProvider func(ctx context.Context) ([]Job, error)
