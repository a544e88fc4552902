package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/shopsync/internal/task"
)

// UpsertIfAbsent inserts a new PENDING task keyed by its cloud id.
// Uses ON CONFLICT DO NOTHING for idempotency - a task with the same id or
// order number is left exactly as it is, whatever status it has reached.
//
// Returns inserted=false when the task already existed.
func (s *Store) UpsertIfAbsent(ctx context.Context, t task.Task) (inserted bool, err error) {
	if t.ID == "" || t.OrderNumber == "" {
		return false, fmt.Errorf("upsert task: id and order number are required")
	}

	items, err := marshalItems(t.Items)
	if err != nil {
		return false, fmt.Errorf("upsert task %s: %w", t.ID, err)
	}

	now := s.timestamp()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_tasks
		(id, order_number, items, total_amount, status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		t.ID,
		t.OrderNumber,
		items,
		t.TotalAmount,
		string(task.StatusPending),
		now,
		now,
	)
	if err != nil {
		return false, wrap(fmt.Sprintf("upsert task %s", t.ID), err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, wrap(fmt.Sprintf("upsert task %s: rows affected", t.ID), err)
	}

	return rowsAffected > 0, nil
}

// Advance moves a task one step forward and stamps updated_at.
//
// The UPDATE is conditional on the task currently being in newStatus.Prev(),
// which makes it atomic per task and rules out skipped or repeated stages.
// The invoice number is required when advancing to BILLED and rejected for
// every other transition; once recorded it is never overwritten.
// The retry counter resets because the task is now at a new stage.
//
// Returns task.ErrNotFound if the id is unknown and a *task.TransitionError
// if the task is not in the predecessor status.
func (s *Store) Advance(ctx context.Context, id string, newStatus task.Status, invoiceNumber string) error {
	from := newStatus.Prev()
	if from == "" {
		return &task.TransitionError{ID: id, To: newStatus}
	}

	switch {
	case newStatus == task.StatusBilled && invoiceNumber == "":
		return fmt.Errorf("advance task %s: invoice number required for %s", id, newStatus)
	case newStatus != task.StatusBilled && invoiceNumber != "":
		return fmt.Errorf("advance task %s: invoice number only allowed for %s", id, task.StatusBilled)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE reconciliation_tasks
		SET status = ?,
		    invoice_number = COALESCE(invoice_number, NULLIF(?, '')),
		    retry_count = 0,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(newStatus),
		invoiceNumber,
		s.timestamp(),
		id,
		string(from),
	)
	if err != nil {
		return wrap(fmt.Sprintf("advance task %s", id), err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return wrap(fmt.Sprintf("advance task %s: rows affected", id), err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Nothing matched: report why.
	current, err := s.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("advance task %s: %w", id, err)
	}
	return &task.TransitionError{ID: id, From: current.Status, To: newStatus}
}

// RecordFailure increments the retry counter of a task after a failed stage
// attempt and returns the new count. The status is not touched.
func (s *Store) RecordFailure(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE reconciliation_tasks
		SET retry_count = retry_count + 1,
		    updated_at = ?
		WHERE id = ?
		RETURNING retry_count
	`, s.timestamp(), id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("record failure %s: %w", id, task.ErrNotFound)
		}
		return 0, wrap(fmt.Sprintf("record failure %s", id), err)
	}
	return count, nil
}
