package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/shopsync/internal/bridge"
	"github.com/roach88/shopsync/internal/cloud"
	"github.com/roach88/shopsync/internal/metrics"
	"github.com/roach88/shopsync/internal/task"
)

// DefaultRetryAlertThreshold is the retry count at which a stuck task is
// reported at error level.
const DefaultRetryAlertThreshold = 10

// TaskStore is the durable task log. Implemented by *store.Store.
type TaskStore interface {
	UpsertIfAbsent(ctx context.Context, t task.Task) (bool, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (task.Task, error)
	ListByStatus(ctx context.Context, status task.Status) ([]task.Task, error)
	Advance(ctx context.Context, id string, newStatus task.Status, invoiceNumber string) error
	RecordFailure(ctx context.Context, id string) (int, error)
}

// Gateway is the cloud order/billing API. Implemented by *cloud.Client.
type Gateway interface {
	FetchPendingOrders(ctx context.Context) ([]cloud.Order, error)
	PushBillingConfirmation(ctx context.Context, conf cloud.Confirmation) error
}

// Bridge is the file handoff with the billing terminal. Implemented by
// *bridge.Bridge.
type Bridge interface {
	Export(ctx context.Context, t task.Task) (string, error)
	ScanForConfirmation(ctx context.Context, orderNumber string, commit bridge.CommitFunc) (bridge.BillingConfirmation, bool, error)
	ListConfirmations(ctx context.Context) ([]bridge.BillingConfirmation, error)
	Consume(ctx context.Context, orderNumber string) error
}

// Engine runs reconciliation ticks.
//
// Thread-safety model:
//   - Tick(), RunStage(), Run(): one caller at a time
//   - LastReport(): safe from any goroutine
type Engine struct {
	store   TaskStore
	gateway Gateway
	bridge  Bridge

	logger         *slog.Logger
	now            func() time.Time
	ids            IDGenerator
	metrics        *metrics.Metrics
	alertThreshold int
	onTick         func(TickReport)

	mu   sync.RWMutex
	last *TickReport
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock overrides the wall clock used for tick timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator overrides the tick id generator.
// Default: UUIDv7Generator.
func WithIDGenerator(gen IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = gen
	}
}

// WithMetrics records tick and stage outcomes on m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRetryAlertThreshold sets the retry count from which task failures are
// logged as stuck. Values below 1 keep the default.
func WithRetryAlertThreshold(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.alertThreshold = n
		}
	}
}

// WithTickHook registers fn to be called with every finished tick's report,
// aborted ticks included. Called synchronously from the ticking goroutine.
func WithTickHook(fn func(TickReport)) EngineOption {
	return func(e *Engine) {
		e.onTick = fn
	}
}

// New creates an Engine over the given store, cloud gateway and bridge.
func New(s TaskStore, gw Gateway, br Bridge, opts ...EngineOption) *Engine {
	e := &Engine{
		store:          s,
		gateway:        gw,
		bridge:         br,
		logger:         slog.Default(),
		now:            time.Now,
		ids:            UUIDv7Generator{},
		alertThreshold: DefaultRetryAlertThreshold,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// LastReport returns the report of the most recent tick, if any.
func (e *Engine) LastReport() (TickReport, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return TickReport{}, false
	}
	return *e.last, true
}

// Tick runs all four stages once, in order.
//
// Per-task failures are recorded in the report and never abort the tick.
// A store error aborts the remaining work and is returned together with the
// partial report.
func (e *Engine) Tick(ctx context.Context) (TickReport, error) {
	return e.run(ctx, Stages)
}

// RunStage runs a single stage as its own tick. Used by tests and tooling
// that step through the pipeline.
func (e *Engine) RunStage(ctx context.Context, stage Stage) (TickReport, error) {
	return e.run(ctx, []Stage{stage})
}

// Run performs one tick immediately and then one per scheduler signal until
// ctx is cancelled.
//
// A failed tick is logged and the loop waits for the next signal. Errors
// wrapping task.ErrStoreFatal stop the loop and are returned.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (e *Engine) Run(ctx context.Context, sched Scheduler) error {
	defer sched.Stop()
	e.logger.Info("reconciliation loop starting")

	for {
		if _, err := e.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				e.logger.Info("reconciliation loop stopping: context cancelled")
				return ctx.Err()
			}
			if errors.Is(err, task.ErrStoreFatal) {
				e.logger.Error("task store unusable, stopping", "error", err)
				return err
			}
			e.logger.Error("tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			e.logger.Info("reconciliation loop stopping: context cancelled")
			return ctx.Err()
		case <-sched.Ticks():
		}
	}
}

func (e *Engine) run(ctx context.Context, stages []Stage) (TickReport, error) {
	tc := &tick{
		report: TickReport{
			TickID:    e.ids.Generate(),
			StartedAt: e.now().UTC(),
			Failures:  []Failure{},
		},
		advanced: make(map[string]struct{}),
	}
	tc.logger = e.logger.With("tick_id", tc.report.TickID)

	var err error
	for _, stage := range stages {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = e.runStage(ctx, tc, stage); err != nil {
			err = fmt.Errorf("%s stage: %w", stage, err)
			break
		}
	}

	return e.finish(ctx, tc, err)
}

func (e *Engine) runStage(ctx context.Context, tc *tick, stage Stage) error {
	switch stage {
	case StageIngest:
		return e.ingest(ctx, tc)
	case StageExport:
		return e.export(ctx, tc)
	case StageConfirm:
		return e.confirm(ctx, tc)
	case StageSync:
		return e.sync(ctx, tc)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

func (e *Engine) finish(ctx context.Context, tc *tick, err error) (TickReport, error) {
	report := tc.report
	report.Duration = e.now().Sub(report.StartedAt)
	if err != nil {
		report.Err = err.Error()
	}

	e.mu.Lock()
	e.last = &report
	e.mu.Unlock()

	e.metrics.RecordTick(context.WithoutCancel(ctx), report.Duration, err != nil)

	if err == nil {
		tc.logger.Info("tick complete",
			"ingested", report.Ingested,
			"duplicates", report.Duplicates,
			"exported", report.Exported,
			"billed", report.Billed,
			"synced", report.Synced,
			"failures", len(report.Failures),
			"duration", report.Duration,
		)
	}

	if e.onTick != nil {
		e.onTick(report)
	}
	return report, err
}

// tick carries the state of one tick across its stages.
type tick struct {
	report   TickReport
	logger   *slog.Logger
	advanced map[string]struct{}
}

// markAdvanced records that id moved forward during this tick so later
// stages leave it alone until the next tick.
func (tc *tick) markAdvanced(id string) {
	tc.advanced[id] = struct{}{}
}

func (tc *tick) wasAdvanced(id string) bool {
	_, ok := tc.advanced[id]
	return ok
}

func (tc *tick) taskLogger(stage Stage, t task.Task) *slog.Logger {
	return tc.logger.With(
		"stage", string(stage),
		"task_id", t.ID,
		"order_number", t.OrderNumber,
	)
}
