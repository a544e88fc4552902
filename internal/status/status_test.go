package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shopsync/internal/bridge"
	"github.com/roach88/shopsync/internal/cloud"
	"github.com/roach88/shopsync/internal/engine"
	"github.com/roach88/shopsync/internal/metrics"
	"github.com/roach88/shopsync/internal/task"
	"github.com/roach88/shopsync/internal/testutil"
)

type fixedReports struct {
	report *engine.TickReport
}

func (f fixedReports) LastReport() (engine.TickReport, bool) {
	if f.report == nil {
		return engine.TickReport{}, false
	}
	return *f.report, true
}

func newTestServer(t *testing.T, tasks TaskReader, reports ReportSource) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(&Handlers{ShopID: "shop-1", Tasks: tasks, Reports: reports}, "test"))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func seededStore(t *testing.T) *testutil.MemStore {
	t.Helper()
	ctx := context.Background()
	s := testutil.NewMemStore(testutil.NewStepClock(testutil.Epoch, time.Second).Now)
	for _, id := range []string{"o1", "o2", "o3"} {
		_, err := s.UpsertIfAbsent(ctx, task.Task{ID: id, OrderNumber: "ORD-" + id})
		require.NoError(t, err)
	}
	require.NoError(t, s.Advance(ctx, "o1", task.StatusProcessed, ""))
	return s
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, testutil.NewMemStore(nil), fixedReports{})

	var body map[string]string
	code := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestStatus(t *testing.T) {
	report := &engine.TickReport{TickID: "tick-7", Exported: 1, Failures: []engine.Failure{}}
	srv := newTestServer(t, seededStore(t), fixedReports{report: report})

	var snap Snapshot
	code := getJSON(t, srv.URL+"/status", &snap)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "shop-1", snap.ShopID)
	assert.Equal(t, map[task.Status]int{
		task.StatusPending:   2,
		task.StatusProcessed: 1,
		task.StatusBilled:    0,
		task.StatusSynced:    0,
	}, snap.Tasks)
	require.NotNil(t, snap.LastTick)
	assert.Equal(t, "tick-7", snap.LastTick.TickID)
	assert.Equal(t, 1, snap.LastTick.Exported)
}

func TestStatus_NoTickYet(t *testing.T) {
	srv := newTestServer(t, seededStore(t), fixedReports{})

	var raw map[string]json.RawMessage
	getJSON(t, srv.URL+"/status", &raw)
	assert.Equal(t, "null", string(raw["last_tick"]))
	assert.NotContains(t, raw, "metrics")
}

func TestStatus_Metrics(t *testing.T) {
	ctx := context.Background()
	collector := metrics.NewCollector()
	t.Cleanup(func() { _ = collector.Shutdown(ctx) })
	m, err := metrics.New(collector.MeterProvider())
	require.NoError(t, err)

	st := testutil.NewMemStore(nil)
	gw := testutil.NewFakeGateway(cloud.Order{
		ID:          "o1",
		OrderNumber: "ORD-1",
		Items:       json.RawMessage(`[{"name":"Red Dress","size":"M","price":100,"qty":1}]`),
		TotalAmount: 100,
	})
	eng := engine.New(st, gw, bridge.New(bridge.NewMemDir()),
		engine.WithMetrics(m),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	_, err = eng.Tick(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(&Handlers{ShopID: "shop-1", Tasks: st, Reports: eng, Metrics: collector}, "test"))
	t.Cleanup(srv.Close)

	var snap Snapshot
	code := getJSON(t, srv.URL+"/status", &snap)
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, snap.Metrics)
	assert.Equal(t, int64(1), snap.Metrics.Ticks["ok"])
	assert.Equal(t, int64(1), snap.Metrics.StageOutcomes["ingest"][metrics.OutcomeAdvanced])
	assert.Equal(t, int64(1), snap.Metrics.StageOutcomes["export"][metrics.OutcomeAdvanced])
}

func TestStatus_StoreError(t *testing.T) {
	s := testutil.NewMemStore(nil)
	s.SetErr(errors.New("database is locked"))
	srv := newTestServer(t, s, fixedReports{})

	var body errorResponse
	code := getJSON(t, srv.URL+"/status", &body)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "database is locked", body.Error)
}

func TestListTasks(t *testing.T) {
	srv := newTestServer(t, seededStore(t), fixedReports{})

	var tasks []task.Task
	code := getJSON(t, srv.URL+"/tasks?status=PENDING", &tasks)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, tasks, 2)
	assert.Equal(t, "o2", tasks[0].ID)
	assert.Equal(t, "o3", tasks[1].ID)

	code = getJSON(t, srv.URL+"/tasks?status=SYNCED", &tasks)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, tasks)
}

func TestListTasks_BadStatus(t *testing.T) {
	srv := newTestServer(t, seededStore(t), fixedReports{})

	for _, q := range []string{"", "?status=DONE"} {
		var body errorResponse
		code := getJSON(t, srv.URL+"/tasks"+q, &body)
		assert.Equal(t, http.StatusBadRequest, code, q)
		assert.NotEmpty(t, body.Error)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	handler := NewRouter(&Handlers{Tasks: testutil.NewMemStore(nil), Reports: fixedReports{}}, "test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() { done <- serveListener(ctx, ln, handler, logger) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServe_BadAddr(t *testing.T) {
	err := Serve(context.Background(), "256.0.0.1:bad", http.NotFoundHandler(), slog.Default())
	assert.Error(t, err)
}
