package harness

import (
	"github.com/roach88/shopsync/internal/cloud"
	"github.com/roach88/shopsync/internal/engine"
	"github.com/roach88/shopsync/internal/task"
)

// TickTrace is the deterministic part of one engine.TickReport.
// Timestamps and error texts are left out so traces stay stable.
type TickTrace struct {
	// Step is the 1-based index of the scenario step that ran the tick.
	Step       int            `json:"step"`
	TickID     string         `json:"tick_id"`
	Stage      string         `json:"stage,omitempty"`
	Ingested   int            `json:"ingested"`
	Duplicates int            `json:"duplicates"`
	Exported   int            `json:"exported"`
	Billed     int            `json:"billed"`
	Synced     int            `json:"synced"`
	Failures   []FailureTrace `json:"failures,omitempty"`

	IngestFailed bool `json:"ingest_failed,omitempty"`
	Aborted      bool `json:"aborted,omitempty"`
}

// FailureTrace is the deterministic part of one engine.Failure.
type FailureTrace struct {
	Stage       string `json:"stage"`
	OrderNumber string `json:"order_number"`
	RetryCount  int    `json:"retry_count,omitempty"`
}

// TaskState is a task as it stands when the scenario ends.
type TaskState struct {
	ID            string      `json:"id"`
	OrderNumber   string      `json:"order_number"`
	Status        task.Status `json:"status"`
	InvoiceNumber string      `json:"invoice_number,omitempty"`
	RetryCount    int         `json:"retry_count"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per tick or stage run.
	Trace []TickTrace `json:"trace"`

	// Tasks holds the final store contents, ordered by id.
	Tasks []TaskState `json:"tasks"`

	// Files lists the handoff directory, sorted.
	Files []string `json:"files"`

	// Pushed lists the confirmations the cloud accepted, in order.
	Pushed []cloud.Confirmation `json:"pushed"`

	// Errors contains assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TickTrace{},
		Tasks:  []TaskState{},
		Files:  []string{},
		Pushed: []cloud.Confirmation{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTick appends the trace of one tick.
func (r *Result) AddTick(step int, stage string, report engine.TickReport, aborted bool) {
	failures := make([]FailureTrace, 0, len(report.Failures))
	for _, f := range report.Failures {
		failures = append(failures, FailureTrace{
			Stage:       string(f.Stage),
			OrderNumber: f.OrderNumber,
			RetryCount:  f.RetryCount,
		})
	}
	r.Trace = append(r.Trace, TickTrace{
		Step:         step,
		TickID:       report.TickID,
		Stage:        stage,
		Ingested:     report.Ingested,
		Duplicates:   report.Duplicates,
		Exported:     report.Exported,
		Billed:       report.Billed,
		Synced:       report.Synced,
		Failures:     failures,
		IngestFailed: report.IngestErr != "",
		Aborted:      aborted,
	})
}
