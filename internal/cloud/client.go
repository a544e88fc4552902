// Package cloud provides the HTTP client for the cloud order/billing API.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxAttempts is the number of attempts per call, first included.
	DefaultMaxAttempts = 3
	// DefaultBackoffBase is the delay before the first retry; it doubles
	// for every retry after that.
	DefaultBackoffBase = 2 * time.Second

	headerAPIKey = "x-api-key"
	headerShopID = "x-shop-id"

	pendingOrdersPath = "/billing/pending-orders"
	confirmPath       = "/billing/confirm"

	maxErrorBody = 512
)

// errBuildRequest marks failures that happen before anything is sent.
var errBuildRequest = errors.New("build request")

// Order is a paid order waiting to be billed at the shop.
type Order struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"orderNumber"`
	Items       json.RawMessage `json:"items"`
	TotalAmount float64         `json:"totalAmount"`
}

// UnmarshalJSON accepts the document-store "_id" when "id" is absent.
func (o *Order) UnmarshalJSON(data []byte) error {
	type plain Order
	var wire struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*o = Order(wire.plain)
	if o.ID == "" {
		o.ID = wire.MongoID
	}
	return nil
}

// Confirmation is the billing outcome reported back for an order.
type Confirmation struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Options configures a Client.
type Options struct {
	BaseURL string
	ShopID  string
	APIKey  string

	// Timeout bounds each attempt. Defaults to DefaultTimeout.
	Timeout time.Duration
	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts int
	// BackoffBase defaults to DefaultBackoffBase.
	BackoffBase time.Duration
	// Transport overrides the HTTP transport (tests). The transport is
	// always wrapped for tracing and request metrics.
	Transport http.RoundTripper
	// MeterProvider receives the request metrics. Defaults to the global
	// provider.
	MeterProvider metric.MeterProvider
	// OnRetry, if set, is called before each retry with the attempt that
	// failed (1-based) and its error.
	OnRetry func(attempt int, err error)
}

// Client talks to the cloud billing API on behalf of one shop.
type Client struct {
	baseURL     string
	shopID      string
	apiKey      string
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
	onRetry     func(int, error)
}

// NewClient creates a cloud API client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	var otelOpts []otelhttp.Option
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		shopID:  opts.ShopID,
		apiKey:  opts.APIKey,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(transport, otelOpts...),
		},
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		onRetry:     opts.OnRetry,
	}
}

// NewBackoff returns the retry schedule for maxAttempts attempts: base, then
// doubling, no jitter. With the defaults that is 2s then 4s.
func NewBackoff(base time.Duration, maxAttempts int) retry.Backoff {
	retries := uint64(0)
	if maxAttempts > 1 {
		retries = uint64(maxAttempts - 1)
	}
	return retry.WithMaxRetries(retries, retry.NewExponential(base))
}

// FetchPendingOrders returns the orders waiting to be billed at this shop.
// An empty list is a normal answer.
func (c *Client) FetchPendingOrders(ctx context.Context) ([]Order, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, pendingOrdersPath, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch pending orders: %w", err)
	}

	var orders []Order
	if err := json.Unmarshal(resp, &orders); err != nil {
		return nil, fmt.Errorf("unmarshal pending orders: %w", err)
	}
	if orders == nil {
		orders = []Order{}
	}
	return orders, nil
}

// PushBillingConfirmation reports the billing outcome of an order.
func (c *Client) PushBillingConfirmation(ctx context.Context, conf Confirmation) error {
	body, err := json.Marshal(conf)
	if err != nil {
		return fmt.Errorf("marshal confirmation: %w", err)
	}

	if _, err := c.doRequest(ctx, http.MethodPost, confirmPath, body); err != nil {
		return fmt.Errorf("push confirmation %s: %w", conf.OrderID, err)
	}
	return nil
}

// doRequest performs one call inside the retry envelope. Transport errors
// and temporary status codes are retried; anything else returns at once.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var (
		result  []byte
		attempt int
	)

	err := retry.Do(ctx, NewBackoff(c.backoffBase, c.maxAttempts), func(ctx context.Context) error {
		attempt++
		data, err := c.attempt(ctx, method, path, body)
		if err == nil {
			result = data
			return nil
		}
		if !isRetryable(ctx, err) {
			return err
		}
		if c.onRetry != nil && attempt < c.maxAttempts {
			c.onRetry(attempt, err)
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBuildRequest, err)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerShopID, c.shopID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: msg}
	}
	return data, nil
}

// isRetryable reports whether err is a transient fault worth another attempt.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, errBuildRequest)
}
