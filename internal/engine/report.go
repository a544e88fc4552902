package engine

import "time"

// Stage names one step of the tick.
type Stage string

const (
	StageIngest  Stage = "ingest"
	StageExport  Stage = "export"
	StageConfirm Stage = "confirm"
	StageSync    Stage = "sync"
)

// Stages lists the stages in the order a tick runs them.
var Stages = []Stage{StageIngest, StageExport, StageConfirm, StageSync}

// Failure describes one task that did not advance because of an error.
type Failure struct {
	Stage       Stage  `json:"stage"`
	TaskID      string `json:"task_id,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
	Error       string `json:"error"`
	// RetryCount is the task's counter after this failure; zero when the
	// failure was not charged to a stored task.
	RetryCount int `json:"retry_count,omitempty"`
}

// TickReport summarizes one tick.
type TickReport struct {
	TickID     string        `json:"tick_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Ingested   int           `json:"ingested"`
	Duplicates int           `json:"duplicates"`
	Exported   int           `json:"exported"`
	Billed     int           `json:"billed"`
	Synced     int           `json:"synced"`
	Failures   []Failure     `json:"failures"`
	// IngestErr is set when pending orders could not be fetched; the other
	// stages still ran.
	IngestErr string `json:"ingest_error,omitempty"`
	// Err is set when the tick was aborted.
	Err string `json:"error,omitempty"`
}

// Advanced returns the number of status transitions made during the tick.
func (r TickReport) Advanced() int {
	return r.Exported + r.Billed + r.Synced
}
