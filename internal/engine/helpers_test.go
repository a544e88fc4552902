package engine

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/shopsync/internal/bridge"
	"github.com/roach88/shopsync/internal/cloud"
	"github.com/roach88/shopsync/internal/store"
	"github.com/roach88/shopsync/internal/testutil"
)

const redDress = `[{"name":"Red Dress","size":"M","price":100,"qty":1}]`

func order(id, orderNumber string) cloud.Order {
	return cloud.Order{
		ID:          id,
		OrderNumber: orderNumber,
		Items:       json.RawMessage(redDress),
		TotalAmount: 100,
	}
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	clock := testutil.NewStepClock(testutil.Epoch, time.Second)
	s, err := store.Open(filepath.Join(t.TempDir(), "agent.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fixture wires an engine to a SQLite store, an in-memory directory and a
// fake gateway.
type fixture struct {
	store   *store.Store
	dir     *bridge.MemDir
	gateway *testutil.FakeGateway
	engine  *Engine
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	f := &fixture{
		store:   setupTestStore(t),
		dir:     bridge.NewMemDir(),
		gateway: testutil.NewFakeGateway(),
		logs:    &bytes.Buffer{},
	}
	logger := slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	base := []EngineOption{
		WithLogger(logger),
		WithIDGenerator(testutil.NewCountingIDGenerator("tick")),
		WithClock(testutil.NewStepClock(testutil.Epoch, time.Millisecond).Now),
	}
	f.engine = New(f.store, f.gateway, bridge.New(f.dir), append(base, opts...)...)
	return f
}
