package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/shopsync/internal/task"
)

// timeLayout is RFC 3339 in UTC with a fixed nine-digit fraction, so the
// stored text sorts in time order and stays readable in the sqlite3 shell.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// marshalItems normalizes the opaque items payload for storage.
// A missing payload is stored as an empty JSON array.
func marshalItems(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "[]", nil
	}
	if !json.Valid(raw) {
		return "", fmt.Errorf("items are not valid JSON")
	}
	return string(raw), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const taskColumns = `id, order_number, items, total_amount, status, invoice_number, retry_count, created_at, updated_at`

func scanTask(row rowScanner) (task.Task, error) {
	var (
		t         task.Task
		items     string
		status    string
		invoice   sql.NullString
		createdAt string
		updatedAt string
	)
	if err := row.Scan(
		&t.ID,
		&t.OrderNumber,
		&items,
		&t.TotalAmount,
		&status,
		&invoice,
		&t.RetryCount,
		&createdAt,
		&updatedAt,
	); err != nil {
		return task.Task{}, err
	}

	t.Items = json.RawMessage(items)
	t.Status = task.Status(status)
	t.InvoiceNumber = invoice.String

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return task.Task{}, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return task.Task{}, err
	}
	return t, nil
}
