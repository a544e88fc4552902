package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shopsync/internal/task"
)

func TestUpsertIfAbsent_InsertsPending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	inserted, err := s.UpsertIfAbsent(ctx, createTestTask("o1", "ORD-100"))
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-100", got.OrderNumber)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, 100.0, got.TotalAmount)
	assert.Equal(t, 0, got.RetryCount)
	assert.Empty(t, got.InvoiceNumber)
	assert.JSONEq(t, `[{"name":"Red Dress","size":"M","price":100,"qty":1}]`, string(got.Items))
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
}

func TestUpsertIfAbsent_IgnoresStatusFromCaller(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tk := createTestTask("o1", "ORD-100")
	tk.Status = task.StatusSynced
	tk.InvoiceNumber = "INV-1"

	_, err := s.UpsertIfAbsent(ctx, tk)
	require.NoError(t, err)

	got, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Empty(t, got.InvoiceNumber)
}

func TestUpsertIfAbsent_DuplicateKeepsProgress(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertIfAbsent(ctx, createTestTask("o1", "ORD-100"))
	require.NoError(t, err)
	require.NoError(t, s.Advance(ctx, "o1", task.StatusProcessed, ""))
	require.NoError(t, s.Advance(ctx, "o1", task.StatusBilled, "INV-555"))

	// Same cloud order delivered again on a later poll
	inserted, err := s.UpsertIfAbsent(ctx, createTestTask("o1", "ORD-100"))
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusBilled, got.Status)
	assert.Equal(t, "INV-555", got.InvoiceNumber)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[task.StatusBilled])
	assert.Equal(t, 0, counts[task.StatusPending])
}

func TestUpsertIfAbsent_DuplicateOrderNumber(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertIfAbsent(ctx, createTestTask("o1", "ORD-100"))
	require.NoError(t, err)

	inserted, err := s.UpsertIfAbsent(ctx, createTestTask("o2", "ORD-100"))
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = s.Get(ctx, "o2")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestUpsertIfAbsent_Validation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertIfAbsent(ctx, createTestTask("", "ORD-1"))
	assert.Error(t, err)

	_, err = s.UpsertIfAbsent(ctx, createTestTask("o1", ""))
	assert.Error(t, err)

	bad := createTestTask("o1", "ORD-1")
	bad.Items = json.RawMessage(`[{"name":`)
	_, err = s.UpsertIfAbsent(ctx, bad)
	assert.Error(t, err)
}

func TestUpsertIfAbsent_NilItemsStoredAsEmptyArray(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tk := createTestTask("o1", "ORD-1")
	tk.Items = nil
	_, err := s.UpsertIfAbsent(ctx, tk)
	require.NoError(t, err)

	got, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got.Items))
}

func TestAdvance_FullLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertIfAbsent(ctx, createTestTask("o1", "ORD-100"))
	require.NoError(t, err)

	steps := []struct {
		to      task.Status
		invoice string
	}{
		{task.StatusProcessed, ""},
		{task.StatusBilled, "INV-555"},
		{task.StatusSynced, ""},
	}

	prev, err := s.Get(ctx, "o1")
	require.NoError(t, err)

	for _, step := range steps {
		require.NoError(t, s.Advance(ctx, "o1", step.to, step.invoice), "advance to %s", step.to)

		got, err := s.Get(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, step.to, got.Status)
		assert.True(t, got.UpdatedAt.After(prev.UpdatedAt), "updated_at must move forward")
		assert.Equal(t, prev.CreatedAt, got.CreatedAt)
		prev = got
	}

	assert.Equal(t, "INV-555", prev.InvoiceNumber, "invoice survives the SYNCED transition")
}

func TestAdvance_RejectsSkipAndRegress(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertIfAbsent(ctx, createTestTask("o1", "ORD-100"))
	require.NoError(t, err)

	// Skip PROCESSED
	err = s.Advance(ctx, "o1", task.StatusBilled, "INV-1")
	require.Error(t, err)
	assert.True(t, task.IsTransitionError(err))

	require.NoError(t, s.Advance(ctx, "o1", task.StatusProcessed, ""))

	// Same transition twice
	err = s.Advance(ctx, "o1", task.StatusProcessed, "")
	assert.True(t, task.IsTransitionError(err))

	// Back to the start
	err = s.Advance(ctx, "o1", task.StatusPending, "")
	assert.True(t, task.IsTransitionError(err))

	got, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusProcessed, got.Status)
}

func TestAdvance_TransitionErrorCarriesCurrentStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertIfAbsent(ctx, createTestTask("o1", "ORD-100"))
	require.NoError(t, err)

	err = s.Advance(ctx, "o1", task.StatusSynced, "")
	var te *task.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "o1", te.ID)
	assert.Equal(t, task.StatusPending, te.From)
	assert.Equal(t, task.StatusSynced, te.To)
}

func TestAdvance_UnknownTask(t *testing.T) {
	s := createTestStore(t)

	err := s.Advance(context.Background(), "missing", task.StatusProcessed, "")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestAdvance_InvoiceRules(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertIfAbsent(ctx, createTestTask("o1", "ORD-100"))
	require.NoError(t, err)

	// Invoice outside BILLED
	assert.Error(t, s.Advance(ctx, "o1", task.StatusProcessed, "INV-1"))
	require.NoError(t, s.Advance(ctx, "o1", task.StatusProcessed, ""))

	// BILLED without an invoice
	assert.Error(t, s.Advance(ctx, "o1", task.StatusBilled, ""))

	got, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusProcessed, got.Status)
	assert.Empty(t, got.InvoiceNumber)
}

func TestAdvance_ResetsRetryCount(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertIfAbsent(ctx, createTestTask("o1", "ORD-100"))
	require.NoError(t, err)

	_, err = s.RecordFailure(ctx, "o1")
	require.NoError(t, err)
	_, err = s.RecordFailure(ctx, "o1")
	require.NoError(t, err)

	require.NoError(t, s.Advance(ctx, "o1", task.StatusProcessed, ""))

	got, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.RetryCount)
}

func TestRecordFailure(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertIfAbsent(ctx, createTestTask("o1", "ORD-100"))
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		got, err := s.RecordFailure(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	tk, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 3, tk.RetryCount)
	assert.Equal(t, task.StatusPending, tk.Status, "failures never move status")
}

func TestRecordFailure_UnknownTask(t *testing.T) {
	s := createTestStore(t)

	_, err := s.RecordFailure(context.Background(), "missing")
	assert.ErrorIs(t, err, task.ErrNotFound)
}
