package store

import (
	"context"

	"github.com/joshnel2/DecentralizedTechSolutions/pkg/models"
)

// Store is the persisted task queue.
// Implementations: the SQLite store returned by Open and *postgres.Store.
type Store interface {
	// Enqueue validates t and stores it as a new pending task.
	Enqueue(ctx context.Context, t models.SubmitTask) (models.Task, error)
	// Dequeue atomically claims the highest-priority, oldest pending task and
	// marks it running. It returns nil when the queue is empty.
	Dequeue(ctx context.Context) (*models.Task, error)
	Update(ctx context.Context, id string, u Update) (models.Task, error)
	Get(ctx context.Context, id string) (models.Task, error)
	// List returns tasks newest first, optionally filtered by status.
	List(ctx context.Context, status string, limit int) ([]models.Task, error)
	// Cancel cancels a pending task.
	Cancel(ctx context.Context, id string) (models.Task, error)
	// Requeue returns a failed or cancelled task to pending.
	Requeue(ctx context.Context, id string) (models.Task, error)
	// RequeueRunning returns every running task to pending with reason as its
	// error and reports how many were moved.
	RequeueRunning(ctx context.Context, reason string) (int, error)
	Counts(ctx context.Context) (models.TaskCounts, error)

	Close() error
}
