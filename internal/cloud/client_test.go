package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shopsync/internal/metrics"
)

// stubCloud is a minimal billing API recording what the agent sends.
type stubCloud struct {
	mu            sync.Mutex
	pending       string
	confirmations []Confirmation
	headers       []http.Header
	confirmStatus int
}

func (s *stubCloud) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/billing/pending-orders", func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		s.headers = append(s.headers, req.Header.Clone())
		body := s.pending
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})
	r.Post("/api/billing/confirm", func(w http.ResponseWriter, req *http.Request) {
		var c Confirmation
		if err := json.NewDecoder(req.Body).Decode(&c); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.headers = append(s.headers, req.Header.Clone())
		s.confirmations = append(s.confirmations, c)
		status := s.confirmStatus
		s.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		_, _ = io.WriteString(w, `{"message":"Billing status updated"}`)
	})
	return r
}

func newTestClient(t *testing.T, stub *stubCloud) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.router())
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:     srv.URL + "/api/",
		ShopID:      "scarlet_shop_01",
		APIKey:      "secret",
		BackoffBase: time.Millisecond,
	})
}

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// flakyTransport fails the first n requests with a network error, then
// answers 200 with body.
func flakyTransport(n int, body string, calls *atomic.Int32) http.RoundTripper {
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if int(calls.Add(1)) <= n {
			return nil, errors.New("connection refused")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
			Request:    r,
		}, nil
	})
}

func TestFetchPendingOrders(t *testing.T) {
	stub := &stubCloud{pending: `[
		{"id":"o1","orderNumber":"ORD-100","items":[{"name":"Red Dress","size":"M","price":100,"qty":1}],"totalAmount":100},
		{"_id":"665f1c","orderNumber":"ORD-101","items":[],"totalAmount":0,"billingStatus":"UNBILLED"}
	]`}
	c := newTestClient(t, stub)

	orders, err := c.FetchPendingOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "o1", orders[0].ID)
	assert.Equal(t, "ORD-100", orders[0].OrderNumber)
	assert.Equal(t, 100.0, orders[0].TotalAmount)
	assert.JSONEq(t, `[{"name":"Red Dress","size":"M","price":100,"qty":1}]`, string(orders[0].Items))

	assert.Equal(t, "665f1c", orders[1].ID, "falls back to _id")

	require.Len(t, stub.headers, 1)
	assert.Equal(t, "secret", stub.headers[0].Get("x-api-key"))
	assert.Equal(t, "scarlet_shop_01", stub.headers[0].Get("x-shop-id"))
}

func TestClient_RecordsRequestMetrics(t *testing.T) {
	ctx := context.Background()
	collector := metrics.NewCollector()
	t.Cleanup(func() { _ = collector.Shutdown(ctx) })

	srv := httptest.NewServer((&stubCloud{pending: `[]`}).router())
	t.Cleanup(srv.Close)
	c := NewClient(Options{BaseURL: srv.URL + "/api", MeterProvider: collector.MeterProvider()})

	_, err := c.FetchPendingOrders(ctx)
	require.NoError(t, err)

	snap, err := collector.Snapshot(ctx)
	require.NoError(t, err)
	assert.Positive(t, snap.HTTPRequests["client"])
}

func TestFetchPendingOrders_Empty(t *testing.T) {
	for _, body := range []string{`[]`, `null`} {
		c := newTestClient(t, &stubCloud{pending: body})

		orders, err := c.FetchPendingOrders(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, orders)
		assert.Empty(t, orders)
	}
}

func TestFetchPendingOrders_BadJSON(t *testing.T) {
	c := newTestClient(t, &stubCloud{pending: `{"orders":`})

	_, err := c.FetchPendingOrders(context.Background())
	assert.Error(t, err)
}

func TestPushBillingConfirmation(t *testing.T) {
	stub := &stubCloud{}
	c := newTestClient(t, stub)

	err := c.PushBillingConfirmation(context.Background(), Confirmation{OrderID: "o1", Success: true})
	require.NoError(t, err)

	require.Len(t, stub.confirmations, 1)
	assert.Equal(t, Confirmation{OrderID: "o1", Success: true}, stub.confirmations[0])
	assert.Equal(t, "application/json", stub.headers[0].Get("Content-Type"))
	assert.Equal(t, "secret", stub.headers[0].Get("x-api-key"))
}

func TestConfirmation_OmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(Confirmation{OrderID: "o1", Success: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":"o1","success":true}`, string(data))

	data, err = json.Marshal(Confirmation{OrderID: "o1", Error: "paper jam"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":"o1","success":false,"error":"paper jam"}`, string(data))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	var calls atomic.Int32
	var retried []int
	c := NewClient(Options{
		BaseURL:     "http://cloud.invalid/api",
		BackoffBase: time.Millisecond,
		Transport:   flakyTransport(2, `[]`, &calls),
		OnRetry:     func(attempt int, _ error) { retried = append(retried, attempt) },
	})

	orders, err := c.FetchPendingOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c := NewClient(Options{
		BaseURL:     "http://cloud.invalid/api",
		BackoffBase: time.Millisecond,
		Transport:   flakyTransport(100, `[]`, &calls),
	})

	_, err := c.FetchPendingOrders(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())
}

func TestRetry_ServerErrorsAreRetried(t *testing.T) {
	stub := &stubCloud{confirmStatus: http.StatusBadGateway}
	c := newTestClient(t, stub)

	err := c.PushBillingConfirmation(context.Background(), Confirmation{OrderID: "o1", Success: true})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Len(t, stub.confirmations, DefaultMaxAttempts)
}

func TestRetry_ClientErrorsAreNotRetried(t *testing.T) {
	stub := &stubCloud{confirmStatus: http.StatusNotFound}
	c := newTestClient(t, stub)

	err := c.PushBillingConfirmation(context.Background(), Confirmation{OrderID: "gone", Success: true})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.False(t, se.Temporary())
	assert.Len(t, stub.confirmations, 1)
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	var calls atomic.Int32
	c := NewClient(Options{
		BaseURL:     "http://cloud.invalid/api",
		BackoffBase: time.Hour,
		Transport:   flakyTransport(100, `[]`, &calls),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.FetchPendingOrders(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewBackoff_Schedule(t *testing.T) {
	b := NewBackoff(DefaultBackoffBase, DefaultMaxAttempts)

	d, stop := b.Next()
	assert.False(t, stop)
	assert.Equal(t, 2*time.Second, d)

	d, stop = b.Next()
	assert.False(t, stop)
	assert.Equal(t, 4*time.Second, d)

	_, stop = b.Next()
	assert.True(t, stop, "three attempts means two retries")
}

func TestNewBackoff_SingleAttempt(t *testing.T) {
	_, stop := NewBackoff(time.Second, 1).Next()
	assert.True(t, stop)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://cloud/api/"})
	assert.Equal(t, "http://cloud/api", c.baseURL)
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
	assert.Equal(t, DefaultMaxAttempts, c.maxAttempts)
	assert.Equal(t, DefaultBackoffBase, c.backoffBase)
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{Method: "POST", Path: "/billing/confirm", StatusCode: 500, Body: "boom"}
	assert.Equal(t, "POST /billing/confirm: status 500: boom", err.Error())
	assert.True(t, err.Temporary())

	err = &StatusError{Method: "GET", Path: "/billing/pending-orders", StatusCode: 429}
	assert.Equal(t, "GET /billing/pending-orders: status 429", err.Error())
	assert.True(t, err.Temporary())
}
