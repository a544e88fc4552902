package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/shopsync/internal/task"
)

// TaskLookup is the store surface assertions read.
type TaskLookup interface {
	GetByOrderNumber(ctx context.Context, orderNumber string) (task.Task, error)
	CountByStatus(ctx context.Context) (map[task.Status]int, error)
}

// AssertionError describes a failed assertion.
type AssertionError struct {
	Index   int
	Type    string
	Message string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion %d (%s): %s", e.Index, e.Type, e.Message)
}

// EvaluateAssertions checks every assertion and returns the failure messages.
// An empty slice means all assertions held.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, tasks TaskLookup) []string {
	failures := []string{}
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTaskStatus:
			err = assertTaskStatus(ctx, tasks, a)
		case AssertTaskAbsent:
			err = assertTaskAbsent(ctx, tasks, a)
		case AssertTaskCount:
			err = assertTaskCount(ctx, tasks, a)
		case AssertFileExists:
			if !slices.Contains(result.Files, a.File) {
				err = fmt.Errorf("file %s not found in %v", a.File, result.Files)
			}
		case AssertFileAbsent:
			if slices.Contains(result.Files, a.File) {
				err = fmt.Errorf("file %s should not exist", a.File)
			}
		case AssertPushed:
			err = assertPushed(result, a)
		default:
			err = fmt.Errorf("unknown assertion type")
		}
		if err != nil {
			failures = append(failures, (&AssertionError{Index: i, Type: a.Type, Message: err.Error()}).Error())
		}
	}
	return failures
}

func assertTaskStatus(ctx context.Context, tasks TaskLookup, a Assertion) error {
	t, err := tasks.GetByOrderNumber(ctx, a.OrderNumber)
	if err != nil {
		return err
	}
	if string(t.Status) != a.Status {
		return fmt.Errorf("order %s: status %s, want %s", a.OrderNumber, t.Status, a.Status)
	}
	if a.Invoice != "" && t.InvoiceNumber != a.Invoice {
		return fmt.Errorf("order %s: invoice %q, want %q", a.OrderNumber, t.InvoiceNumber, a.Invoice)
	}
	if a.RetryCount != nil && t.RetryCount != *a.RetryCount {
		return fmt.Errorf("order %s: retry count %d, want %d", a.OrderNumber, t.RetryCount, *a.RetryCount)
	}
	return nil
}

func assertTaskAbsent(ctx context.Context, tasks TaskLookup, a Assertion) error {
	t, err := tasks.GetByOrderNumber(ctx, a.OrderNumber)
	if errors.Is(err, task.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("order %s: found task %s in status %s", a.OrderNumber, t.ID, t.Status)
}

func assertTaskCount(ctx context.Context, tasks TaskLookup, a Assertion) error {
	counts, err := tasks.CountByStatus(ctx)
	if err != nil {
		return err
	}
	got := counts[task.Status(a.Status)]
	if got != *a.Count {
		return fmt.Errorf("%d tasks in %s, want %d", got, a.Status, *a.Count)
	}
	return nil
}

func assertPushed(result *Result, a Assertion) error {
	got := 0
	for _, c := range result.Pushed {
		if c.OrderID == a.OrderID && c.Success {
			got++
		}
	}
	if got != *a.Count {
		return fmt.Errorf("order %s pushed %d times, want %d", a.OrderID, got, *a.Count)
	}
	return nil
}
