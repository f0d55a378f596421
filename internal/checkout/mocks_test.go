package checkout

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/domain"
)

// mockSession answers order creation and payment push requests.
type mockSession struct {
	m          sync.Mutex
	orderErr   error
	pushErr    error
	pushResult domain.PaymentPushResult
	// block, when set, holds order creation until closed. started is
	// signalled once the order request is in flight.
	block   chan struct{}
	started chan struct{}

	orders []backend.Request
	pushes []domain.PaymentPushRequest
}

func (s *mockSession) Do(_ context.Context, req backend.Request, out any) error {
	if req.Path == backend.PathOrders && s.block != nil {
		s.started <- struct{}{}
		<-s.block
	}

	s.m.Lock()
	defer s.m.Unlock()
	switch req.Path {
	case backend.PathOrders:
		s.orders = append(s.orders, req)
		if s.orderErr != nil {
			return s.orderErr
		}
		*out.(*domain.Order) = domain.Order{ID: 501, OrderNumber: "ORD-0501", Total: 1499.6, Status: "pending"}
	case backend.PathMobilePush:
		s.pushes = append(s.pushes, req.Body.(domain.PaymentPushRequest))
		if s.pushErr != nil {
			return s.pushErr
		}
		*out.(*domain.PaymentPushResult) = s.pushResult
	}
	return nil
}

func (s *mockSession) orderCount() int {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.orders)
}

type mockCart struct {
	m        sync.Mutex
	cart     domain.Cart
	clearErr error
	clears   int
	resets   int
}

func (c *mockCart) Snapshot() domain.Cart {
	c.m.Lock()
	defer c.m.Unlock()
	return c.cart.Clone()
}

func (c *mockCart) Clear(context.Context) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.clears++
	if c.clearErr != nil {
		return c.clearErr
	}
	c.cart = domain.Cart{}
	return nil
}

func (c *mockCart) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.resets++
	c.cart = domain.Cart{}
}

type mockLedger struct {
	pending []domain.PendingPayment
	err     error
}

func (l *mockLedger) MarkPaymentPending(_ context.Context, p domain.PendingPayment) error {
	l.pending = append(l.pending, p)
	return l.err
}
