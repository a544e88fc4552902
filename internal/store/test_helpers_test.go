package store

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roach88/shopsync/internal/task"
)

// stepClock returns a time one second later on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(newStepClock().Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTask creates a task with a single line item.
func createTestTask(id, orderNumber string) task.Task {
	return task.Task{
		ID:          id,
		OrderNumber: orderNumber,
		Items:       json.RawMessage(`[{"name":"Red Dress","size":"M","price":100,"qty":1}]`),
		TotalAmount: 100,
	}
}
