package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/shopsync/internal/bridge"
	"github.com/roach88/shopsync/internal/cloud"
	"github.com/roach88/shopsync/internal/engine"
	"github.com/roach88/shopsync/internal/store"
	"github.com/roach88/shopsync/internal/task"
	"github.com/roach88/shopsync/internal/terminal"
	"github.com/roach88/shopsync/internal/testutil"
)

// Harness holds the parties of one scenario run.
type Harness struct {
	store    *store.Store
	dir      *bridge.MemDir
	cloud    *testutil.FakeGateway
	engine   *engine.Engine
	terminal *terminal.Simulator
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Create fresh in-memory database and handoff directory
// 2. Seed the fake cloud with the scenario orders
// 3. Execute steps in order, tracing every tick
// 4. Snapshot the final state and evaluate assertions
//
// Returns an error only when the scenario could not be executed; failed
// assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:",
		store.WithClock(testutil.NewStepClock(testutil.Epoch, time.Millisecond).Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	orders, err := toOrders(scenario.Orders)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := bridge.NewMemDir()
	gw := testutil.NewFakeGateway(orders...)

	opts := []engine.EngineOption{
		engine.WithClock(testutil.NewStepClock(testutil.Epoch, time.Millisecond).Now),
		engine.WithIDGenerator(testutil.NewCountingIDGenerator("tick")),
		engine.WithLogger(logger),
	}
	if scenario.RetryAlertThreshold > 0 {
		opts = append(opts, engine.WithRetryAlertThreshold(scenario.RetryAlertThreshold))
	}

	invoices := testutil.NewCountingIDGenerator("INV")
	h := &Harness{
		store:  st,
		dir:    dir,
		cloud:  gw,
		engine: engine.New(st, gw, bridge.New(dir), opts...),
		terminal: terminal.New(dir,
			terminal.WithBillProbability(1),
			terminal.WithInvoiceGenerator(invoices.Generate),
			terminal.WithLogger(logger),
		),
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Do, err)
		}
	}

	if err := h.snapshot(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}

	for _, errMsg := range EvaluateAssertions(ctx, result, scenario.Assertions, st) {
		result.AddError(errMsg)
	}

	return result, nil
}

// execute runs one step. n is the 1-based step index used in the trace.
func (h *Harness) execute(ctx context.Context, n int, step Step, result *Result) error {
	switch step.Do {
	case StepTick:
		times := max(step.Times, 1)
		for range times {
			report, err := h.engine.Tick(ctx)
			result.AddTick(n, "", report, err != nil)
		}

	case StepStage:
		report, err := h.engine.RunStage(ctx, engine.Stage(step.Stage))
		result.AddTick(n, step.Stage, report, err != nil)

	case StepBill:
		name := bridge.ConfirmationFileName(step.OrderNumber)
		if err := h.dir.WriteFileAtomic(name, []byte(step.Invoice+"\n")); err != nil {
			return err
		}
		if err := h.dir.Remove(bridge.ExportFileName(step.OrderNumber)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}

	case StepWriteFile:
		return h.dir.WriteFileAtomic(step.File, []byte(step.Content))

	case StepTerminal:
		_, err := h.terminal.Step(ctx)
		return err

	case StepSetOrders:
		orders, err := toOrders(step.Orders)
		if err != nil {
			return err
		}
		h.cloud.SetOrders(orders...)

	case StepFailFetch:
		h.cloud.FailFetch(stepError(step))

	case StepFailPush:
		h.cloud.FailPush(step.OrderID, stepError(step))

	case StepFailWrites:
		h.dir.FailWrites = stepError(step)

	default:
		return fmt.Errorf("unknown step %q", step.Do)
	}
	return nil
}

// snapshot copies the final store, directory and cloud state into result.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	tasks := []TaskState{}
	for _, status := range task.Statuses {
		list, err := h.store.ListByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, t := range list {
			tasks = append(tasks, TaskState{
				ID:            t.ID,
				OrderNumber:   t.OrderNumber,
				Status:        t.Status,
				InvoiceNumber: t.InvoiceNumber,
				RetryCount:    t.RetryCount,
			})
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	result.Tasks = tasks
	result.Files = h.dir.Names()
	result.Pushed = h.cloud.Pushed()
	return nil
}

func toOrders(specs []OrderSpec) ([]cloud.Order, error) {
	orders := make([]cloud.Order, 0, len(specs))
	for _, s := range specs {
		o := cloud.Order{ID: s.ID, OrderNumber: s.OrderNumber, TotalAmount: s.TotalAmount}
		if len(s.Items) > 0 {
			items, err := json.Marshal(s.Items)
			if err != nil {
				return nil, fmt.Errorf("order %s: %w", s.ID, err)
			}
			o.Items = items
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func stepError(step Step) error {
	if step.Error == "" {
		return nil
	}
	return errors.New(step.Error)
}
