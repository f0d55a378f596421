package cart

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/session"
)

// mockSession plays the cart endpoints against an in-memory cart.
type mockSession struct {
	m        sync.Mutex
	anon     bool
	items    []domain.CartItem
	nextID   int64
	discount float64
	coupon   string
	prices   map[int64]float64
	coupons  map[string]float64
	noCart   bool
	failWith map[string]error // keyed by "METHOD path"

	// getGates block successive GETs after the cart was read. nil entries
	// do not block.
	getGates []chan struct{}
	entered  chan struct{}

	calls atomic.Int32
}

func newMockSession() *mockSession {
	return &mockSession{
		nextID:   100,
		prices:   map[int64]float64{1: 250, 2: 99.5, 3: 1200},
		coupons:  map[string]float64{"SAVE10": 0.10},
		failWith: map[string]error{},
	}
}

func (m *mockSession) IsAuthenticated() bool {
	m.m.Lock()
	defer m.m.Unlock()
	return !m.anon
}

func (m *mockSession) Do(ctx context.Context, req backend.Request, out any) error {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}

	m.m.Lock()
	if err, ok := m.failWith[req.Method+" "+req.Path]; ok {
		m.m.Unlock()
		return err
	}

	if req.Method == http.MethodGet && req.Path == backend.PathCart {
		if m.noCart {
			m.m.Unlock()
			return &domain.APIError{StatusCode: http.StatusNotFound, Path: req.Path}
		}
		cart := m.cartLocked()
		var gate chan struct{}
		if len(m.getGates) > 0 {
			gate, m.getGates = m.getGates[0], m.getGates[1:]
		}
		m.m.Unlock()
		if gate != nil {
			if m.entered != nil {
				m.entered <- struct{}{}
			}
			<-gate
		}
		*out.(*domain.Cart) = cart
		return nil
	}
	defer m.m.Unlock()

	switch {
	case req.Method == http.MethodPost && req.Path == backend.PathCartItems:
		body := req.Body.(map[string]any)
		productID := body["product_id"].(int64)
		qty := body["quantity"].(int)
		for i := range m.items {
			if m.items[i].ProductID == productID {
				m.items[i].Quantity += qty
				return nil
			}
		}
		m.nextID++
		m.items = append(m.items, domain.CartItem{
			ID:        m.nextID,
			ProductID: productID,
			UnitPrice: m.prices[productID],
			Quantity:  qty,
		})
		m.noCart = false
	case req.Method == http.MethodPatch && strings.HasPrefix(req.Path, backend.PathCartItems):
		qty := req.Body.(map[string]int)["quantity"]
		for i := range m.items {
			if backend.PathCartItems+strconv.FormatInt(m.items[i].ID, 10)+"/" == req.Path {
				m.items[i].Quantity = qty
				return nil
			}
		}
		return &domain.APIError{StatusCode: http.StatusNotFound, Message: "Item not found", Path: req.Path}
	case req.Method == http.MethodDelete && strings.HasPrefix(req.Path, backend.PathCartItems):
		for i := range m.items {
			if backend.PathCartItems+strconv.FormatInt(m.items[i].ID, 10)+"/" == req.Path {
				m.items = append(m.items[:i], m.items[i+1:]...)
				return nil
			}
		}
		return &domain.APIError{StatusCode: http.StatusNotFound, Message: "Item not found", Path: req.Path}
	case req.Method == http.MethodDelete && req.Path == backend.PathCart:
		m.items = nil
		m.coupon = ""
		m.discount = 0
	case req.Method == http.MethodPost && req.Path == backend.PathApplyCoupon:
		code := req.Body.(map[string]string)["code"]
		rate, ok := m.coupons[code]
		if !ok {
			return &domain.APIError{StatusCode: http.StatusBadRequest, Message: "Coupon has expired", Path: req.Path}
		}
		m.coupon = code
		m.discount = rate
	}
	return nil
}

func (m *mockSession) cartLocked() domain.Cart {
	cart := domain.Cart{CouponCode: m.coupon}
	for _, item := range m.items {
		cart.Items = append(cart.Items, item)
		cart.Subtotal += item.UnitPrice * float64(item.Quantity)
	}
	cart.Discount = cart.Subtotal * m.discount
	cart.Total = cart.Subtotal - cart.Discount
	return cart
}

func (m *mockSession) serverItemCount() int {
	m.m.Lock()
	defer m.m.Unlock()
	return m.cartLocked().ItemCount()
}

func (m *mockSession) set(fn func(m *mockSession)) {
	m.m.Lock()
	defer m.m.Unlock()
	fn(m)
}

type mockSubscriber struct {
	fns []func(session.Event)
}

func (s *mockSubscriber) Subscribe(fn func(session.Event)) func() {
	s.fns = append(s.fns, fn)
	return func() { s.fns = nil }
}

func (s *mockSubscriber) emit(ev session.Event) {
	for _, fn := range s.fns {
		fn(ev)
	}
}
