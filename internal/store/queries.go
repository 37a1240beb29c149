package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/joshnel2/DecentralizedTechSolutions/pkg/models"
)

func (s *sqliteStore) Enqueue(ctx context.Context, in models.SubmitTask) (models.Task, error) {
	if err := ValidateSubmit(&in); err != nil {
		return models.Task{}, err
	}
	id, at := NewTaskID(s.now())
	us := at.UnixMicro()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO tasks(id, goal, priority, status, user_id, firm_id, matter_id, created_at, updated_at) VALUES(?, ?, ?, 'pending', ?, ?, ?, ?, ?)`,
		id, in.Goal, in.Priority, in.UserID, in.FirmID, in.MatterID, us, us)
	if err != nil {
		return models.Task{}, err
	}
	return s.Get(ctx, id)
}

func (s *sqliteStore) Dequeue(ctx context.Context) (*models.Task, error) {
	us := s.now().UTC().UnixMicro()
	t, err := scanTask(s.stmtDequeue.QueryRowContext(ctx, us, us))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (models.Task, error) {
	t, err := scanTask(s.stmtGet.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) Update(ctx context.Context, id string, u Update) (models.Task, error) {
	if err := u.Validate(); err != nil {
		return models.Task{}, err
	}
	us := s.now().UTC().UnixMicro()
	sets := []string{"updated_at = ?"}
	args := []any{us}
	switch u.Status {
	case "":
	case models.StatusRunning:
		sets = append(sets, "status = ?", "started_at = COALESCE(started_at, ?)", "completed_at = NULL")
		args = append(args, u.Status, us)
	case models.StatusPending:
		sets = append(sets, "status = ?", "started_at = NULL", "completed_at = NULL")
		args = append(args, u.Status)
	default:
		sets = append(sets, "status = ?", "completed_at = ?")
		args = append(args, u.Status, us)
	}
	if u.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, string(u.Result))
	}
	if u.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *u.Error)
	}
	args = append(args, id)
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return models.Task{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Task{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *sqliteStore) List(ctx context.Context, status string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = models.DefaultTaskListLimit
	}
	q := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (s *sqliteStore) Cancel(ctx context.Context, id string) (models.Task, error) {
	us := s.now().UTC().UnixMicro()
	return s.transition(ctx, id, "cancel",
		`UPDATE tasks SET status = 'cancelled', completed_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		us, us, id)
}

func (s *sqliteStore) Requeue(ctx context.Context, id string) (models.Task, error) {
	us := s.now().UTC().UnixMicro()
	return s.transition(ctx, id, "requeue",
		`UPDATE tasks SET status = 'pending', started_at = NULL, completed_at = NULL, error = '', updated_at = ? WHERE id = ? AND status IN ('failed', 'cancelled')`,
		us, id)
}

func (s *sqliteStore) transition(ctx context.Context, id, op, q string, args ...any) (models.Task, error) {
	res, err := s.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return models.Task{}, err
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return models.Task{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Task{}, TransitionError(id, op, cur.Status)
	}
	return cur, nil
}

func (s *sqliteStore) RequeueRunning(ctx context.Context, reason string) (int, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status = 'pending', started_at = NULL, error = ?, updated_at = ? WHERE status = 'running'`,
		reason, s.now().UTC().UnixMicro())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) Counts(ctx context.Context) (models.TaskCounts, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return models.TaskCounts{}, err
	}
	defer func() { _ = rows.Close() }()
	var c models.TaskCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return models.TaskCounts{}, err
		}
		AddCount(&c, status, n)
	}
	return c, rows.Err()
}

// AddCount adds n to the counter for status.
func AddCount(c *models.TaskCounts, status string, n int) {
	switch status {
	case models.StatusPending:
		c.Pending += n
	case models.StatusRunning:
		c.Running += n
	case models.StatusCompleted:
		c.Completed += n
	case models.StatusFailed:
		c.Failed += n
	case models.StatusCancelled:
		c.Cancelled += n
	}
}

// scanTask scans one row selected with taskColumns.
func scanTask(row interface{ Scan(dest ...any) error }) (models.Task, error) {
	var (
		t                  models.Task
		created, updated   int64
		started, completed sql.NullInt64
		result             sql.NullString
	)
	err := row.Scan(&t.ID, &t.Goal, &t.Priority, &t.Status, &t.UserID, &t.FirmID, &t.MatterID,
		&created, &updated, &started, &completed, &result, &t.Error)
	if err != nil {
		return models.Task{}, err
	}
	t.CreatedAt = FromMicros(created)
	t.UpdatedAt = FromMicros(updated)
	if started.Valid {
		t.StartedAt = OptMicros(&started.Int64)
	}
	if completed.Valid {
		t.CompletedAt = OptMicros(&completed.Int64)
	}
	if result.Valid && result.String != "" {
		t.Result = []byte(result.String)
	}
	return t, nil
}
