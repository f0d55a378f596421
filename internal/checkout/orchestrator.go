// Package checkout drives the checkout wizard: shipping, billing and payment
// steps gated by validation, then order creation and payment initiation.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrSubmitInProgress = errors.New("order submission already in progress")
	ErrCheckoutComplete = errors.New("checkout already completed, restart to place another order")
)

// Session sends authenticated requests.
type Session interface {
	Do(ctx context.Context, req backend.Request, out any) error
}

// Cart is the cart the order is built from. *cart.Synchronizer implements it.
type Cart interface {
	Snapshot() domain.Cart
	Clear(ctx context.Context) error
	Reset()
}

// PaymentLedger records orders whose push payment could not be started.
type PaymentLedger interface {
	MarkPaymentPending(ctx context.Context, p domain.PendingPayment) error
}

// Summary is what the review and confirmation screens show.
type Summary struct {
	Items      []domain.CartItem
	ItemCount  int
	Subtotal   float64
	Discount   float64
	Total      float64
	CouponCode string
	Shipping   domain.Address
	Billing    domain.Address
	Payment    domain.PaymentSelection
}

type Orchestrator struct {
	session Session
	cart    Cart
	ledger  PaymentLedger
	log     logrus.FieldLogger

	mu             sync.Mutex
	step           Step
	shipping       domain.Address
	billing        domain.Address
	sameAsShipping bool
	payment        domain.PaymentSelection
	validation     *domain.ValidationError
	submitting     bool
	idempotencyKey string
	order          *domain.Order
	submitted      *domain.Cart
	warnings       []string
}

// NewOrchestrator starts a wizard on the shipping step. ledger may be nil, in
// which case failed payments are only logged.
func NewOrchestrator(s Session, cart Cart, ledger PaymentLedger, log logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{
		session:        s,
		cart:           cart,
		ledger:         ledger,
		log:            log.WithField("component", "checkout"),
		step:           StepShipping,
		sameAsShipping: true,
	}
}

func (o *Orchestrator) Step() Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.step
}

// The form setters fail once the order is being submitted or has been
// placed; the confirmation always shows the form the order was built from.

func (o *Orchestrator) SetShipping(addr domain.Address) error {
	return o.edit(func() { o.shipping = addr })
}

func (o *Orchestrator) SetBilling(addr domain.Address) error {
	return o.edit(func() { o.billing = addr })
}

func (o *Orchestrator) SetSameAsShipping(same bool) error {
	return o.edit(func() { o.sameAsShipping = same })
}

func (o *Orchestrator) SetPayment(sel domain.PaymentSelection) error {
	return o.edit(func() { o.payment = sel })
}

func (o *Orchestrator) edit(apply func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.submitting {
		return ErrSubmitInProgress
	}
	if o.step.IsTerminal() {
		return ErrCheckoutComplete
	}
	apply()
	o.idempotencyKey = ""
	return nil
}

// ValidationError returns the field errors of the last failed guard, or nil.
func (o *Orchestrator) ValidationError() *domain.ValidationError {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.validation
}

// Next advances one step if the current step validates. The payment step is
// left only through Submit.
func (o *Orchestrator) Next() (Step, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.guardLocked(o.step); err != nil {
		return o.step, err
	}
	next, err := Transition(o.step, EventNext)
	if err != nil {
		return o.step, err
	}
	o.step = next
	return next, nil
}

func (o *Orchestrator) Back() (Step, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.submitting {
		return o.step, ErrSubmitInProgress
	}
	prev, err := Transition(o.step, EventBack)
	if err != nil {
		return o.step, err
	}
	o.validation = nil
	o.step = prev
	return prev, nil
}

// guardLocked runs the validation for step and records the outcome.
func (o *Orchestrator) guardLocked(step Step) error {
	var err error
	switch step {
	case StepShipping:
		err = ValidateShipping(o.shipping)
	case StepBilling:
		err = ValidateBilling(o.sameAsShipping, o.billing)
	case StepPayment:
		err = ValidatePayment(o.payment)
	}

	o.validation = nil
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		o.validation = verr
	}
	return err
}

// Submit places the order. It only fails when the order could not be
// created; the wizard then stays on the payment step and the cart is kept.
// A payment push that cannot be started is reported through Warnings and
// the order is recorded as awaiting payment.
func (o *Orchestrator) Submit(ctx context.Context) (*domain.Order, error) {
	o.mu.Lock()
	if o.step != StepPayment {
		step := o.step
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: submit on %s", ErrIllegalTransition, step)
	}
	if o.submitting {
		o.mu.Unlock()
		return nil, ErrSubmitInProgress
	}
	for _, step := range []Step{StepShipping, StepBilling, StepPayment} {
		if err := o.guardLocked(step); err != nil {
			o.mu.Unlock()
			return nil, err
		}
	}

	snapshot := o.cart.Snapshot()
	if snapshot.IsEmpty() {
		o.mu.Unlock()
		return nil, domain.ErrEmptyCart
	}

	if o.idempotencyKey == "" {
		o.idempotencyKey = uuid.NewString()
	}
	payload := o.payloadLocked(snapshot)
	key := o.idempotencyKey
	sel := o.payment
	o.submitting = true
	o.mu.Unlock()

	order, warnings, err := o.place(ctx, payload, key, sel, snapshot)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.submitting = false
	if err != nil {
		return nil, err
	}

	next, err := Transition(o.step, EventSubmitted)
	if err != nil {
		return nil, err
	}
	o.step = next
	o.order = order
	o.submitted = &snapshot
	o.warnings = warnings
	o.idempotencyKey = ""
	return order, nil
}

func (o *Orchestrator) place(ctx context.Context, payload domain.OrderPayload, key string, sel domain.PaymentSelection, snapshot domain.Cart) (*domain.Order, []string, error) {
	var order domain.Order
	if err := o.session.Do(ctx, backend.CreateOrder(payload, key), &order); err != nil {
		o.log.WithError(err).Warn("order creation failed")
		return nil, nil, fmt.Errorf("create order: %w", err)
	}
	log := o.log.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
	})
	log.Info("order created")

	var warnings []string
	switch sel.Method {
	case domain.PaymentMobileMoney:
		order.PaymentStatus = domain.PaymentStatusPushSent
		if err := o.initiatePayment(ctx, &order, payload.PaymentPhone, snapshot.Total); err != nil {
			log.WithError(err).Warn("mobile money push failed, order awaits payment")
			order.PaymentStatus = domain.PaymentStatusPending
			warnings = append(warnings, domain.UserMessage(err))
		}
	case domain.PaymentCashOnDelivery:
		order.PaymentStatus = domain.PaymentStatusOnDelivery
	case domain.PaymentBankTransfer:
		order.PaymentStatus = domain.PaymentStatusAwaitingTransfer
	}

	if err := o.cart.Clear(ctx); err != nil {
		log.WithError(err).Warn("cart clear failed after order, resetting locally")
		o.cart.Reset()
		warnings = append(warnings, "Your order was placed, but the cart could not be emptied on the server.")
	}

	return &order, warnings, nil
}

// initiatePayment sends the push request. A failure is recorded in the
// ledger and returned as a *domain.PaymentInitiationError.
func (o *Orchestrator) initiatePayment(ctx context.Context, order *domain.Order, phone string, total float64) error {
	push := domain.PaymentPushRequest{
		PhoneNumber: phone,
		Amount:      int64(math.Round(total)),
		OrderID:     order.ID,
	}

	var result domain.PaymentPushResult
	err := o.session.Do(ctx, backend.MobileMoneyPush(push), &result)
	if err == nil && result.Success {
		return nil
	}

	payErr := &domain.PaymentInitiationError{OrderID: order.ID, Reason: result.Message, Err: err}
	if err == nil && payErr.Reason == "" {
		payErr.Reason = "payment provider declined the request"
	}

	if o.ledger != nil {
		pending := domain.PendingPayment{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Amount:      push.Amount,
			Phone:       phone,
			Reason:      payErr.Error(),
		}
		if lerr := o.ledger.MarkPaymentPending(context.WithoutCancel(ctx), pending); lerr != nil {
			o.log.WithError(lerr).WithField("order_id", order.ID).Error("failed to record pending payment")
		}
	}
	return payErr
}

func (o *Orchestrator) payloadLocked(c domain.Cart) domain.OrderPayload {
	shipping := trimAddress(o.shipping)
	billing := trimAddress(o.billing)
	if o.sameAsShipping {
		billing = shipping
	}

	payload := domain.OrderPayload{
		ShippingAddress: shipping,
		BillingAddress:  billing,
		PaymentMethod:   o.payment.Method,
		Notes:           o.payment.Notes,
		CouponCode:      c.CouponCode,
		Items:           make([]domain.OrderLine, 0, len(c.Items)),
	}
	if o.payment.Method == domain.PaymentMobileMoney {
		payload.PaymentPhone, _ = NormalizePhone(o.payment.MobileMoneyPhone)
	}
	for _, item := range c.Items {
		payload.Items = append(payload.Items, domain.OrderLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return payload
}

// Order returns the placed order once the wizard is confirmed.
func (o *Orchestrator) Order() *domain.Order {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.order == nil {
		return nil
	}
	order := *o.order
	return &order
}

// Warnings lists the non-fatal problems of the last successful submission.
func (o *Orchestrator) Warnings() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.warnings...)
}

// Summary describes the order under review, or the submitted one after
// confirmation.
func (o *Orchestrator) Summary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	c := o.cart.Snapshot()
	if o.submitted != nil {
		c = o.submitted.Clone()
	}
	billing := o.billing
	if o.sameAsShipping {
		billing = o.shipping
	}
	return Summary{
		Items:      c.Items,
		ItemCount:  c.ItemCount(),
		Subtotal:   c.Subtotal,
		Discount:   c.Discount,
		Total:      c.Total,
		CouponCode: c.CouponCode,
		Shipping:   o.shipping,
		Billing:    billing,
		Payment:    o.payment,
	}
}

// Restart clears the wizard for a new checkout.
func (o *Orchestrator) Restart() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.submitting {
		return ErrSubmitInProgress
	}
	o.step = StepShipping
	o.shipping = domain.Address{}
	o.billing = domain.Address{}
	o.sameAsShipping = true
	o.payment = domain.PaymentSelection{}
	o.validation = nil
	o.idempotencyKey = ""
	o.order = nil
	o.submitted = nil
	o.warnings = nil
	return nil
}
