package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/shopsync/internal/task"
)

// Get returns the task with the given cloud id.
// Returns task.ErrNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM reconciliation_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("get task %s: %w", id, task.ErrNotFound)
	}
	if err != nil {
		return task.Task{}, wrap(fmt.Sprintf("get task %s", id), err)
	}
	return t, nil
}

// GetByOrderNumber returns the task for a terminal-facing order number.
// Used to correlate filesystem artifacts back to a task.
// Returns task.ErrNotFound if it does not exist.
func (s *Store) GetByOrderNumber(ctx context.Context, orderNumber string) (task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM reconciliation_tasks WHERE order_number = ?`, orderNumber)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("get order %s: %w", orderNumber, task.ErrNotFound)
	}
	if err != nil {
		return task.Task{}, wrap(fmt.Sprintf("get order %s", orderNumber), err)
	}
	return t, nil
}

// ListByStatus returns all tasks currently in the given status, oldest
// first. Tasks created at the same instant are ordered by id.
//
// Returns an empty slice (not nil) if no task is in that status.
func (s *Store) ListByStatus(ctx context.Context, status task.Status) ([]task.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("list tasks: unknown status %q", status)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM reconciliation_tasks
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
	`, string(status))
	if err != nil {
		return nil, wrap(fmt.Sprintf("list %s tasks", status), err)
	}
	defer rows.Close()

	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrap(fmt.Sprintf("scan %s task", status), err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(fmt.Sprintf("iterate %s tasks", status), err)
	}

	return tasks, nil
}

// CountByStatus returns the number of tasks in each status.
// Every known status is present in the result, with zero if empty.
func (s *Store) CountByStatus(ctx context.Context) (map[task.Status]int, error) {
	counts := make(map[task.Status]int, len(task.Statuses))
	for _, st := range task.Statuses {
		counts[st] = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM reconciliation_tasks GROUP BY status`)
	if err != nil {
		return nil, wrap("count tasks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrap("count tasks: scan", err)
		}
		counts[task.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("count tasks: iterate", err)
	}

	return counts, nil
}
