package testutil

import (
	"context"
	"sync"

	"github.com/roach88/shopsync/internal/cloud"
)

// FakeGateway is a scriptable cloud gateway that records every confirmation
// pushed to it.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FakeGateway struct {
	mu       sync.Mutex
	orders   []cloud.Order
	fetchErr error
	pushErr  map[string]error
	pushed   []cloud.Confirmation
	fetches  int
}

// NewFakeGateway creates a gateway that serves orders on every fetch.
func NewFakeGateway(orders ...cloud.Order) *FakeGateway {
	return &FakeGateway{orders: orders, pushErr: make(map[string]error)}
}

// SetOrders replaces the pending order list.
func (g *FakeGateway) SetOrders(orders ...cloud.Order) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = orders
}

// FailFetch makes fetches fail with err until cleared with nil.
func (g *FakeGateway) FailFetch(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchErr = err
}

// FailPush makes pushes for orderID fail with err until cleared with nil.
func (g *FakeGateway) FailPush(orderID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.pushErr, orderID)
		return
	}
	g.pushErr[orderID] = err
}

// FetchPendingOrders implements engine.Gateway.
func (g *FakeGateway) FetchPendingOrders(ctx context.Context) ([]cloud.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	out := make([]cloud.Order, len(g.orders))
	copy(out, g.orders)
	return out, nil
}

// PushBillingConfirmation implements engine.Gateway. Failed pushes are not
// recorded.
func (g *FakeGateway) PushBillingConfirmation(ctx context.Context, conf cloud.Confirmation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.pushErr[conf.OrderID]; err != nil {
		return err
	}
	g.pushed = append(g.pushed, conf)
	return nil
}

// Pushed returns the confirmations accepted so far.
func (g *FakeGateway) Pushed() []cloud.Confirmation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]cloud.Confirmation, len(g.pushed))
	copy(out, g.pushed)
	return out
}

// Fetches returns the number of fetch calls made.
func (g *FakeGateway) Fetches() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches
}
