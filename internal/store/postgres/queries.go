package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/store"
	"github.com/joshnel2/DecentralizedTechSolutions/pkg/models"
)

const taskColumns = `id, goal, priority, status, user_id, firm_id, matter_id, created_at, updated_at, started_at, completed_at, result, error`

func (s *Store) Enqueue(ctx context.Context, in models.SubmitTask) (models.Task, error) {
	if err := store.ValidateSubmit(&in); err != nil {
		return models.Task{}, err
	}
	id, at := store.NewTaskID(s.now())
	us := at.UnixMicro()
	row := s.Pool.QueryRow(ctx, `INSERT INTO tasks(id, goal, priority, status, user_id, firm_id, matter_id, created_at, updated_at)
VALUES($1, $2, $3, 'pending', $4, $5, $6, $7, $7) RETURNING `+taskColumns,
		id, in.Goal, in.Priority, in.UserID, in.FirmID, in.MatterID, us)
	return scanTask(row)
}

// Dequeue claims with FOR UPDATE SKIP LOCKED so concurrent workers never
// receive the same task.
func (s *Store) Dequeue(ctx context.Context) (*models.Task, error) {
	us := s.now().UTC().UnixMicro()
	row := s.Pool.QueryRow(ctx, `
UPDATE tasks SET status = 'running', started_at = $1, updated_at = $1, error = ''
WHERE id = (
  SELECT id FROM tasks WHERE status = 'pending'
  ORDER BY priority DESC, created_at ASC, id ASC
  LIMIT 1 FOR UPDATE SKIP LOCKED
)
RETURNING `+taskColumns, us)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) Get(ctx context.Context, id string) (models.Task, error) {
	t, err := scanTask(s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, store.ErrNotFound
	}
	return t, err
}

func (s *Store) Update(ctx context.Context, id string, u store.Update) (models.Task, error) {
	if err := u.Validate(); err != nil {
		return models.Task{}, err
	}
	args := []any{s.now().UTC().UnixMicro()}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	sets := []string{"updated_at = $1"}
	switch u.Status {
	case "":
	case models.StatusRunning:
		sets = append(sets, "status = "+arg(u.Status), "started_at = COALESCE(started_at, $1)", "completed_at = NULL")
	case models.StatusPending:
		sets = append(sets, "status = "+arg(u.Status), "started_at = NULL", "completed_at = NULL")
	default:
		sets = append(sets, "status = "+arg(u.Status), "completed_at = $1")
	}
	if u.Result != nil {
		sets = append(sets, "result = "+arg(string(u.Result)))
	}
	if u.Error != nil {
		sets = append(sets, "error = "+arg(*u.Error))
	}
	q := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE id = ` + arg(id) + ` RETURNING ` + taskColumns
	t, err := scanTask(s.Pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, store.ErrNotFound
	}
	return t, err
}

func (s *Store) List(ctx context.Context, status string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	q := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{limit}
	if status != "" {
		q += ` WHERE status = $2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Cancel(ctx context.Context, id string) (models.Task, error) {
	return s.transition(ctx, id, "cancel",
		`UPDATE tasks SET status = 'cancelled', completed_at = $1, updated_at = $1 WHERE id = $2 AND status = 'pending' RETURNING `+taskColumns)
}

func (s *Store) Requeue(ctx context.Context, id string) (models.Task, error) {
	return s.transition(ctx, id, "requeue",
		`UPDATE tasks SET status = 'pending', started_at = NULL, completed_at = NULL, error = '', updated_at = $1 WHERE id = $2 AND status IN ('failed', 'cancelled') RETURNING `+taskColumns)
}

func (s *Store) transition(ctx context.Context, id, op, q string) (models.Task, error) {
	t, err := scanTask(s.Pool.QueryRow(ctx, q, s.now().UTC().UnixMicro(), id))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, err
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return models.Task{}, err
	}
	return models.Task{}, store.TransitionError(id, op, cur.Status)
}

func (s *Store) RequeueRunning(ctx context.Context, reason string) (int, error) {
	tag, err := s.Pool.Exec(ctx, `UPDATE tasks SET status = 'pending', started_at = NULL, error = $1, updated_at = $2 WHERE status = 'running'`,
		reason, s.now().UTC().UnixMicro())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Counts(ctx context.Context) (models.TaskCounts, error) {
	rows, err := s.Pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return models.TaskCounts{}, err
	}
	defer rows.Close()
	var c models.TaskCounts
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return models.TaskCounts{}, err
		}
		store.AddCount(&c, status, int(n))
	}
	return c, rows.Err()
}

func scanTask(row pgx.Row) (models.Task, error) {
	var (
		t                  models.Task
		created, updated   int64
		started, completed *int64
		result             *string
	)
	err := row.Scan(&t.ID, &t.Goal, &t.Priority, &t.Status, &t.UserID, &t.FirmID, &t.MatterID,
		&created, &updated, &started, &completed, &result, &t.Error)
	if err != nil {
		return models.Task{}, err
	}
	t.CreatedAt = store.FromMicros(created)
	t.UpdatedAt = store.FromMicros(updated)
	t.StartedAt = store.OptMicros(started)
	t.CompletedAt = store.OptMicros(completed)
	if result != nil && *result != "" {
		t.Result = []byte(*result)
	}
	return t, nil
}
