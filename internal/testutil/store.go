package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/shopsync/internal/task"
)

// MemStore is an in-memory task store with the same semantics as the SQLite
// store: insert-or-ignore on id and order number, conditional forward-only
// advance, retry counter reset on advance.
//
// Err, when set, is returned by every method. Use it to simulate a failed
// disk.
//
// Thread-safety: safe for concurrent use via internal mutex.
type MemStore struct {
	mu    sync.Mutex
	now   func() time.Time
	tasks map[string]*task.Task
	order []string
	Err   error
}

// NewMemStore creates an empty store stamping times with now.
// A nil now uses time.Now.
func NewMemStore(now func() time.Time) *MemStore {
	if now == nil {
		now = time.Now
	}
	return &MemStore{now: now, tasks: make(map[string]*task.Task)}
}

// SetErr sets or clears the injected error.
func (s *MemStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// UpsertIfAbsent inserts t as PENDING unless its id or order number exists.
func (s *MemStore) UpsertIfAbsent(_ context.Context, t task.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if t.ID == "" || t.OrderNumber == "" {
		return false, fmt.Errorf("upsert task: id and order number are required")
	}
	if _, ok := s.tasks[t.ID]; ok {
		return false, nil
	}
	for _, existing := range s.tasks {
		if existing.OrderNumber == t.OrderNumber {
			return false, nil
		}
	}

	now := s.now().UTC()
	stored := t
	stored.Status = task.StatusPending
	stored.InvoiceNumber = ""
	stored.RetryCount = 0
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if len(stored.Items) == 0 {
		stored.Items = json.RawMessage(`[]`)
	} else {
		stored.Items = append(json.RawMessage(nil), t.Items...)
	}
	s.tasks[t.ID] = &stored
	s.order = append(s.order, t.ID)
	return true, nil
}

// ListByStatus returns copies of the tasks in status, in insertion order.
func (s *MemStore) ListByStatus(_ context.Context, status task.Status) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("list tasks: invalid status %q", status)
	}
	out := []task.Task{}
	for _, id := range s.order {
		if t := s.tasks[id]; t.Status == status {
			out = append(out, *t)
		}
	}
	return out, nil
}

// Advance moves a task from newStatus.Prev() to newStatus.
func (s *MemStore) Advance(_ context.Context, id string, newStatus task.Status, invoiceNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("advance task %s: %w", id, task.ErrNotFound)
	}
	if err := task.CheckTransition(t.Status, newStatus); err != nil {
		return &task.TransitionError{ID: id, From: t.Status, To: newStatus}
	}
	if newStatus == task.StatusBilled && invoiceNumber == "" {
		return fmt.Errorf("advance task %s: invoice number required for %s", id, newStatus)
	}
	if newStatus != task.StatusBilled && invoiceNumber != "" {
		return fmt.Errorf("advance task %s: invoice number only allowed for %s", id, task.StatusBilled)
	}

	t.Status = newStatus
	if t.InvoiceNumber == "" {
		t.InvoiceNumber = invoiceNumber
	}
	t.RetryCount = 0
	t.UpdatedAt = s.now().UTC()
	return nil
}

// RecordFailure increments the task's retry counter.
func (s *MemStore) RecordFailure(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	t, ok := s.tasks[id]
	if !ok {
		return 0, fmt.Errorf("record failure %s: %w", id, task.ErrNotFound)
	}
	t.RetryCount++
	t.UpdatedAt = s.now().UTC()
	return t.RetryCount, nil
}

// Get returns a copy of the task with the given id.
func (s *MemStore) Get(_ context.Context, id string) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return task.Task{}, s.Err
	}
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("get task %s: %w", id, task.ErrNotFound)
	}
	return *t, nil
}

// GetByOrderNumber returns a copy of the task with the given order number.
func (s *MemStore) GetByOrderNumber(_ context.Context, orderNumber string) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return task.Task{}, s.Err
	}
	for _, t := range s.tasks {
		if t.OrderNumber == orderNumber {
			return *t, nil
		}
	}
	return task.Task{}, fmt.Errorf("get task by order number %s: %w", orderNumber, task.ErrNotFound)
}

// CountByStatus returns the number of tasks per status, every status present.
func (s *MemStore) CountByStatus(_ context.Context) (map[task.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	counts := make(map[task.Status]int, len(task.Statuses))
	for _, st := range task.Statuses {
		counts[st] = 0
	}
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// All returns copies of every task sorted by id.
func (s *MemStore) All() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
