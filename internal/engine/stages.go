package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/shopsync/internal/bridge"
	"github.com/roach88/shopsync/internal/cloud"
	"github.com/roach88/shopsync/internal/metrics"
	"github.com/roach88/shopsync/internal/task"
)

// ingest pulls pending orders from the cloud and inserts the unseen ones as
// PENDING. A fetch failure skips ingestion for this tick only.
func (e *Engine) ingest(ctx context.Context, tc *tick) error {
	orders, err := e.gateway.FetchPendingOrders(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tc.logger.Warn("fetch pending orders failed", "stage", string(StageIngest), "error", err)
		tc.report.IngestErr = err.Error()
		e.record(ctx, StageIngest, metrics.OutcomeSkipped)
		return nil
	}

	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := task.Task{
			ID:          o.ID,
			OrderNumber: o.OrderNumber,
			Items:       o.Items,
			TotalAmount: o.TotalAmount,
		}
		log := tc.taskLogger(StageIngest, t)

		if err := validateOrder(o); err != nil {
			log.Warn("skipping malformed order", "error", err)
			tc.report.Failures = append(tc.report.Failures, Failure{
				Stage:       StageIngest,
				TaskID:      o.ID,
				OrderNumber: o.OrderNumber,
				Error:       err.Error(),
			})
			e.record(ctx, StageIngest, metrics.OutcomeFailed)
			continue
		}

		inserted, err := e.store.UpsertIfAbsent(ctx, t)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", o.ID, err)
		}
		if !inserted {
			log.Debug("order already known")
			tc.report.Duplicates++
			e.record(ctx, StageIngest, metrics.OutcomeDuplicate)
			continue
		}

		log.Info("order ingested", "total_amount", o.TotalAmount)
		tc.report.Ingested++
		e.record(ctx, StageIngest, metrics.OutcomeAdvanced)
	}
	return nil
}

func validateOrder(o cloud.Order) error {
	if o.ID == "" {
		return errors.New("order has no id")
	}
	return bridge.ValidateOrderNumber(o.OrderNumber)
}

// export writes the import artifact of every PENDING task and advances it to
// PROCESSED. Writing first means a crash before the update re-exports on the
// next tick, which the terminal tolerates.
func (e *Engine) export(ctx context.Context, tc *tick) error {
	tasks, err := e.store.ListByStatus(ctx, task.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tc.wasAdvanced(t.ID) {
			continue
		}
		log := tc.taskLogger(StageExport, t)

		name, err := e.bridge.Export(ctx, t)
		if err != nil {
			if err := e.fail(ctx, tc, StageExport, t, log, err); err != nil {
				return err
			}
			continue
		}

		ok, err := e.advance(ctx, tc, StageExport, t, log, task.StatusProcessed, "")
		if err != nil {
			return err
		}
		if ok {
			log.Info("order exported", "file", name)
			tc.report.Exported++
		}
	}
	return nil
}

// confirm looks for the terminal's confirmation of every PROCESSED task.
// The artifact is consumed only after the BILLED update has been committed,
// so a crash in between leaves it for the next tick.
func (e *Engine) confirm(ctx context.Context, tc *tick) error {
	tasks, err := e.store.ListByStatus(ctx, task.StatusProcessed)
	if err != nil {
		return fmt.Errorf("list processed: %w", err)
	}

	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tc.wasAdvanced(t.ID) {
			continue
		}
		log := tc.taskLogger(StageConfirm, t)

		var commitErr error
		conf, found, err := e.bridge.ScanForConfirmation(ctx, t.OrderNumber, func(c bridge.BillingConfirmation) error {
			commitErr = e.store.Advance(ctx, t.ID, task.StatusBilled, c.InvoiceNumber)
			return commitErr
		})

		switch {
		case commitErr != nil:
			if abortsTick(commitErr) {
				return fmt.Errorf("bill %s: %w", t.ID, commitErr)
			}
			e.conflict(ctx, tc, StageConfirm, t, log, commitErr)
			continue
		case errors.Is(err, bridge.ErrNotConsumed):
			log.Warn("confirmation recorded but artifact not consumed", "error", err)
		case err != nil:
			if err := e.fail(ctx, tc, StageConfirm, t, log, err); err != nil {
				return err
			}
			continue
		case !found:
			log.Debug("awaiting confirmation")
			e.record(ctx, StageConfirm, metrics.OutcomeWaiting)
			continue
		}

		log.Info("order billed", "invoice_number", conf.InvoiceNumber)
		tc.markAdvanced(t.ID)
		tc.report.Billed++
		e.record(ctx, StageConfirm, metrics.OutcomeAdvanced)
	}
	return nil
}

// sync reports every BILLED task to the cloud and advances it to SYNCED.
// A crash after the push but before the update pushes again next tick.
// Confirmation artifacts left behind by already billed orders are consumed
// first.
func (e *Engine) sync(ctx context.Context, tc *tick) error {
	if err := e.sweep(ctx, tc); err != nil {
		return err
	}

	tasks, err := e.store.ListByStatus(ctx, task.StatusBilled)
	if err != nil {
		return fmt.Errorf("list billed: %w", err)
	}

	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tc.wasAdvanced(t.ID) {
			continue
		}
		log := tc.taskLogger(StageSync, t)

		err := e.gateway.PushBillingConfirmation(ctx, cloud.Confirmation{OrderID: t.ID, Success: true})
		if err != nil {
			if err := e.fail(ctx, tc, StageSync, t, log, err); err != nil {
				return err
			}
			continue
		}

		ok, err := e.advance(ctx, tc, StageSync, t, log, task.StatusSynced, "")
		if err != nil {
			return err
		}
		if ok {
			log.Info("order synced")
			tc.report.Synced++
		}
	}
	return nil
}

// sweep renames confirmation artifacts whose invoice is already recorded on a
// BILLED or SYNCED task. They are left behind when the agent stops between
// the BILLED update and the rename, or when the rename fails. Any other
// artifact is left alone.
func (e *Engine) sweep(ctx context.Context, tc *tick) error {
	confs, err := e.bridge.ListConfirmations(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tc.logger.Warn("list confirmation artifacts failed", "stage", string(StageSync), "error", err)
		return nil
	}

	for _, c := range confs {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, err := e.store.GetByOrderNumber(ctx, c.OrderNumber)
		if errors.Is(err, task.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("sweep %s: %w", c.OrderNumber, err)
		}
		if t.Status != task.StatusBilled && t.Status != task.StatusSynced {
			continue
		}
		log := tc.taskLogger(StageSync, t)

		if c.InvoiceNumber != t.InvoiceNumber {
			log.Warn("leftover confirmation does not match recorded invoice",
				"invoice_number", t.InvoiceNumber,
				"artifact_invoice_number", c.InvoiceNumber,
			)
			continue
		}
		if err := e.bridge.Consume(ctx, c.OrderNumber); err != nil {
			log.Warn("leftover confirmation not consumed", "error", err)
			continue
		}
		log.Info("leftover confirmation consumed", "invoice_number", t.InvoiceNumber)
		e.record(ctx, StageSync, metrics.OutcomeConsumed)
	}
	return nil
}

// advance moves t to status. Returns false when the task was not in the
// expected status, which is logged and skipped. Other store errors abort.
func (e *Engine) advance(ctx context.Context, tc *tick, stage Stage, t task.Task, log *slog.Logger, status task.Status, invoice string) (bool, error) {
	err := e.store.Advance(ctx, t.ID, status, invoice)
	if err == nil {
		tc.markAdvanced(t.ID)
		e.record(ctx, stage, metrics.OutcomeAdvanced)
		return true, nil
	}
	if abortsTick(err) {
		return false, fmt.Errorf("advance %s to %s: %w", t.ID, status, err)
	}
	e.conflict(ctx, tc, stage, t, log, err)
	return false, nil
}

// conflict records a task whose stored status no longer matches the stage.
// The task is not charged a retry; it is already somewhere else.
func (e *Engine) conflict(ctx context.Context, tc *tick, stage Stage, t task.Task, log *slog.Logger, err error) {
	log.Warn("task changed under stage", "error", err)
	tc.report.Failures = append(tc.report.Failures, Failure{
		Stage:       stage,
		TaskID:      t.ID,
		OrderNumber: t.OrderNumber,
		Error:       err.Error(),
	})
	e.record(ctx, stage, metrics.OutcomeFailed)
}

// fail charges a per-task failure: the task stays in its status and its
// retry counter goes up. Only store errors are returned.
func (e *Engine) fail(ctx context.Context, tc *tick, stage Stage, t task.Task, log *slog.Logger, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	retries, err := e.store.RecordFailure(ctx, t.ID)
	if err != nil {
		if abortsTick(err) {
			return fmt.Errorf("record failure %s: %w", t.ID, err)
		}
		log.Warn("could not record failure", "error", err)
	}

	if retries >= e.alertThreshold {
		log.Error("task stuck", "event", "task_stuck", "retry_count", retries, "error", cause)
	} else {
		log.Warn("stage failed, will retry next tick", "retry_count", retries, "error", cause)
	}

	tc.report.Failures = append(tc.report.Failures, Failure{
		Stage:       stage,
		TaskID:      t.ID,
		OrderNumber: t.OrderNumber,
		Error:       cause.Error(),
		RetryCount:  retries,
	})
	e.record(ctx, stage, metrics.OutcomeFailed)
	return nil
}

func (e *Engine) record(ctx context.Context, stage Stage, outcome string) {
	e.metrics.RecordStage(ctx, string(stage), outcome)
}

// abortsTick reports whether a task store error must stop the tick. A task
// that is missing or in another status is a per-task problem; anything else
// means the store itself failed.
func abortsTick(err error) bool {
	return !task.IsTransitionError(err) && !errors.Is(err, task.ErrNotFound)
}
