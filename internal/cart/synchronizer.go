// Package cart keeps a local copy of the server-side cart. Every mutation is
// sent to the backend and followed by a refetch, so totals are always the
// server's.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/sirupsen/logrus"
)

// Session sends authenticated requests. *session.Manager implements it.
type Session interface {
	Do(ctx context.Context, req backend.Request, out any) error
	IsAuthenticated() bool
}

// Subscriber delivers session state changes.
type Subscriber interface {
	Subscribe(fn func(session.Event)) func()
}

type Synchronizer struct {
	session Session
	log     logrus.FieldLogger

	loading atomic.Int32

	mu   sync.RWMutex
	cart domain.Cart
	// started counts refreshes issued, applied is the number of the newest
	// one whose result is in cart. Older results are dropped.
	started uint64
	applied uint64
}

func NewSynchronizer(s Session, log logrus.FieldLogger) *Synchronizer {
	return &Synchronizer{
		session: s,
		log:     log.WithField("component", "cart"),
	}
}

// ResetOn empties the cart on every session state change until stop is
// called.
func (s *Synchronizer) ResetOn(sub Subscriber) (stop func()) {
	return sub.Subscribe(func(ev session.Event) {
		s.log.WithField("state", ev.State).Debug("session changed, resetting cart")
		s.Reset()
	})
}

// Refresh fetches the cart. A missing cart is an empty one.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	if !s.session.IsAuthenticated() {
		return domain.ErrSignInRequired
	}

	s.mu.Lock()
	s.started++
	seq := s.started
	s.mu.Unlock()

	s.loading.Add(1)
	defer s.loading.Add(-1)

	var cart domain.Cart
	err := s.session.Do(ctx, backend.GetCart(), &cart)
	var apiErr *domain.APIError
	switch {
	case err == nil:
	case errors.As(err, &apiErr) && apiErr.IsNotFound():
		cart = domain.Cart{}
	default:
		return fmt.Errorf("refresh cart: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.applied {
		s.log.WithField("seq", seq).Debug("dropping stale cart response")
		return nil
	}
	s.applied = seq
	s.cart = cart
	return nil
}

func (s *Synchronizer) AddItem(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 {
		return domain.ErrInvalidQuantity
	}
	return s.mutate(ctx, "add item", backend.AddCartItem(productID, quantity))
}

// SetQuantity changes a line's quantity. Quantities below one are rejected
// without contacting the backend; use RemoveItem to drop a line.
func (s *Synchronizer) SetQuantity(ctx context.Context, itemID int64, quantity int) error {
	if quantity < 1 {
		return domain.ErrInvalidQuantity
	}
	return s.mutate(ctx, "set quantity", backend.UpdateCartItem(itemID, quantity))
}

func (s *Synchronizer) RemoveItem(ctx context.Context, itemID int64) error {
	return s.mutate(ctx, "remove item", backend.RemoveCartItem(itemID))
}

// Clear deletes the cart on the server and empties the local copy without a
// refetch.
func (s *Synchronizer) Clear(ctx context.Context) error {
	if !s.session.IsAuthenticated() {
		return domain.ErrSignInRequired
	}
	if err := s.session.Do(ctx, backend.ClearCart(), nil); err != nil {
		s.log.WithError(err).Warn("clear cart failed")
		return fmt.Errorf("clear cart: %w", err)
	}
	s.Reset()
	return nil
}

// ApplyCoupon submits code. A rejected code leaves the cart as it was and
// the returned error carries the server's reason.
func (s *Synchronizer) ApplyCoupon(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.ErrEmptyCoupon
	}
	return s.mutate(ctx, "apply coupon", backend.ApplyCoupon(code))
}

func (s *Synchronizer) mutate(ctx context.Context, op string, req backend.Request) error {
	if !s.session.IsAuthenticated() {
		return domain.ErrSignInRequired
	}

	s.loading.Add(1)
	err := s.session.Do(ctx, req, nil)
	s.loading.Add(-1)
	if err != nil {
		s.log.WithError(err).WithField("op", op).Info("cart mutation rejected")
		return fmt.Errorf("%s: %w", op, err)
	}

	return s.Refresh(ctx)
}

// Reset empties the local cart and drops any refresh still in flight.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = domain.Cart{}
	s.applied = s.started
}

// Snapshot returns a copy of the last applied cart.
func (s *Synchronizer) Snapshot() domain.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Clone()
}

func (s *Synchronizer) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.ItemCount()
}

func (s *Synchronizer) IsLoading() bool {
	return s.loading.Load() > 0
}
