package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shopsync/internal/task"
)

func newGolden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func testTask(orderNumber, items string) task.Task {
	return task.Task{
		ID:          "id-" + orderNumber,
		OrderNumber: orderNumber,
		Items:       json.RawMessage(items),
		Status:      task.StatusPending,
	}
}

func TestExport_SingleItem(t *testing.T) {
	dir := NewMemDir()
	b := New(dir)

	name, err := b.Export(context.Background(),
		testTask("ORD-100", `[{"name":"Red Dress","size":"M","price":100,"qty":1}]`))
	require.NoError(t, err)
	assert.Equal(t, "IMPORT_ORDER_ORD-100.csv", name)

	data, err := dir.ReadFile(name)
	require.NoError(t, err)
	newGolden(t).Assert(t, "export_single_item", data)
}

func TestExport_QuotingAndNormalization(t *testing.T) {
	dir := NewMemDir()
	b := New(dir)

	items := `[
		{"name":"Red Dress","size":"M","price":100,"qty":1},
		{"name":"Dress, \"Summer\"","size":"L","price":49.9,"qty":2},
		{"name":"Café","size":"S","price":12.5,"qty":3}
	]`
	name, err := b.Export(context.Background(), testTask("ORD-200", items))
	require.NoError(t, err)

	data, err := dir.ReadFile(name)
	require.NoError(t, err)
	newGolden(t).Assert(t, "export_multi_item", data)
}

func TestExport_RewritesExistingArtifact(t *testing.T) {
	dir := NewMemDir()
	b := New(dir)
	ctx := context.Background()
	tk := testTask("ORD-100", `[{"name":"Red Dress","size":"M","price":100,"qty":1}]`)

	_, err := b.Export(ctx, tk)
	require.NoError(t, err)

	// Status update lost after a crash: the next tick exports again.
	_, err = b.Export(ctx, tk)
	require.NoError(t, err)

	assert.Equal(t, []string{"IMPORT_ORDER_ORD-100.csv"}, dir.Names())
}

func TestExport_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unsafe order number", func(t *testing.T) {
		_, err := New(NewMemDir()).Export(ctx, testTask("../etc", `[]`))
		assert.ErrorIs(t, err, ErrInvalidOrderNumber)
	})

	t.Run("undecodable items", func(t *testing.T) {
		_, err := New(NewMemDir()).Export(ctx, testTask("ORD-1", `{"oops":true}`))
		assert.Error(t, err)
	})

	t.Run("write failure", func(t *testing.T) {
		dir := NewMemDir()
		dir.FailWrites = errors.New("share offline")
		_, err := New(dir).Export(ctx, testTask("ORD-1", `[]`))
		assert.ErrorContains(t, err, "share offline")
		assert.Empty(t, dir.Names())
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := New(NewMemDir()).Export(cctx, testTask("ORD-1", `[]`))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestScanForConfirmation_Absent(t *testing.T) {
	b := New(NewMemDir())

	called := false
	_, found, err := b.ScanForConfirmation(context.Background(), "ORD-100", func(BillingConfirmation) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, called)
}

func TestScanForConfirmation_ConsumesOnce(t *testing.T) {
	dir := NewMemDir()
	b := New(dir)
	ctx := context.Background()
	require.NoError(t, dir.WriteFileAtomic("BILLED_ORD-100.txt", []byte("INV-555\n")))

	var committed []BillingConfirmation
	commit := func(c BillingConfirmation) error {
		committed = append(committed, c)
		return nil
	}

	conf, found, err := b.ScanForConfirmation(ctx, "ORD-100", commit)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, BillingConfirmation{OrderNumber: "ORD-100", InvoiceNumber: "INV-555"}, conf)
	assert.False(t, dir.Has("BILLED_ORD-100.txt"))
	assert.True(t, dir.Has("BILLED_ORD-100.txt.processed"))

	_, found, err = b.ScanForConfirmation(ctx, "ORD-100", commit)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Len(t, committed, 1)
}

func TestScanForConfirmation_TrimsContent(t *testing.T) {
	dir := NewMemDir()
	require.NoError(t, dir.WriteFileAtomic("BILLED_ORD-1.txt", []byte("\ufeff  INV-77 \r\n")))

	conf, found, err := New(dir).ScanForConfirmation(context.Background(), "ORD-1",
		func(BillingConfirmation) error { return nil })
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "INV-77", conf.InvoiceNumber)
}

func TestScanForConfirmation_EmptyInvoice(t *testing.T) {
	dir := NewMemDir()
	require.NoError(t, dir.WriteFileAtomic("BILLED_ORD-1.txt", []byte(" \n")))

	called := false
	_, found, err := New(dir).ScanForConfirmation(context.Background(), "ORD-1",
		func(BillingConfirmation) error {
			called = true
			return nil
		})
	assert.ErrorIs(t, err, ErrEmptyInvoice)
	assert.False(t, found)
	assert.False(t, called)
	assert.True(t, dir.Has("BILLED_ORD-1.txt"), "artifact stays for the terminal to fix")
}

func TestScanForConfirmation_CommitFailureKeepsArtifact(t *testing.T) {
	dir := NewMemDir()
	require.NoError(t, dir.WriteFileAtomic("BILLED_ORD-1.txt", []byte("INV-1")))

	commitErr := errors.New("database locked")
	_, found, err := New(dir).ScanForConfirmation(context.Background(), "ORD-1",
		func(BillingConfirmation) error { return commitErr })
	assert.ErrorIs(t, err, commitErr)
	assert.False(t, found)
	assert.True(t, dir.Has("BILLED_ORD-1.txt"))
	assert.False(t, dir.Has("BILLED_ORD-1.txt.processed"))
}

func TestScanForConfirmation_RenameFailure(t *testing.T) {
	dir := NewMemDir()
	require.NoError(t, dir.WriteFileAtomic("BILLED_ORD-1.txt", []byte("INV-1")))
	dir.FailRenames = errors.New("permission denied")

	conf, found, err := New(dir).ScanForConfirmation(context.Background(), "ORD-1",
		func(BillingConfirmation) error { return nil })
	assert.ErrorIs(t, err, ErrNotConsumed)
	assert.True(t, found)
	assert.Equal(t, "INV-1", conf.InvoiceNumber)
}

func TestScanForConfirmation_InvalidOrderNumber(t *testing.T) {
	_, _, err := New(NewMemDir()).ScanForConfirmation(context.Background(), "a/b",
		func(BillingConfirmation) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidOrderNumber)
}

func TestListConfirmations(t *testing.T) {
	dir := NewMemDir()
	require.NoError(t, dir.WriteFileAtomic("BILLED_ORD-2.txt", []byte("INV-2\n")))
	require.NoError(t, dir.WriteFileAtomic("BILLED_ORD-1.txt", []byte("  ")))
	require.NoError(t, dir.WriteFileAtomic("BILLED_ORD-3.txt.processed", []byte("INV-3")))
	require.NoError(t, dir.WriteFileAtomic("IMPORT_ORDER_ORD-4.csv", []byte("x")))

	confs, err := New(dir).ListConfirmations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []BillingConfirmation{
		{OrderNumber: "ORD-1", InvoiceNumber: ""},
		{OrderNumber: "ORD-2", InvoiceNumber: "INV-2"},
	}, confs)
}

func TestListConfirmations_Empty(t *testing.T) {
	confs, err := New(NewMemDir()).ListConfirmations(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, confs)
	assert.Empty(t, confs)
}

func TestConsume(t *testing.T) {
	dir := NewMemDir()
	require.NoError(t, dir.WriteFileAtomic("BILLED_ORD-1.txt", []byte("INV-1")))
	b := New(dir)

	require.NoError(t, b.Consume(context.Background(), "ORD-1"))
	assert.False(t, dir.Has("BILLED_ORD-1.txt"))
	assert.True(t, dir.Has("BILLED_ORD-1.txt.processed"))

	err := b.Consume(context.Background(), "ORD-1")
	assert.ErrorIs(t, err, ErrNotConsumed)
	assert.ErrorIs(t, b.Consume(context.Background(), "../x"), ErrInvalidOrderNumber)
}
