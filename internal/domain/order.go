package domain

import "time"

type Address struct {
	FullName   string `json:"full_name" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Line1      string `json:"address_line1" validate:"required"`
	Line2      string `json:"address_line2,omitempty"`
	City       string `json:"city" validate:"required"`
	County     string `json:"county" validate:"required"`
	PostalCode string `json:"postal_code,omitempty"`
}

type PaymentMethod string

const (
	PaymentMobileMoney    PaymentMethod = "MOBILE_MONEY"
	PaymentCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
	PaymentBankTransfer   PaymentMethod = "BANK_TRANSFER"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMobileMoney, PaymentCashOnDelivery, PaymentBankTransfer:
		return true
	}
	return false
}

func (m PaymentMethod) String() string {
	return string(m)
}

type PaymentSelection struct {
	Method           PaymentMethod `json:"method"`
	MobileMoneyPhone string        `json:"mobile_money_phone,omitempty"`
	Notes            string        `json:"notes,omitempty"`
}

// PaymentStatus is tracked client-side for the confirmation screen; the
// backend order status is kept separately in Order.Status.
type PaymentStatus string

const (
	PaymentStatusOnDelivery       PaymentStatus = "PAID_ON_DELIVERY"
	PaymentStatusAwaitingTransfer PaymentStatus = "AWAITING_TRANSFER"
	PaymentStatusPushSent         PaymentStatus = "PUSH_SENT"
	PaymentStatusPending          PaymentStatus = "PAYMENT_PENDING"
)

// NeedsFollowUp reports whether the customer still has to complete payment
// through another channel.
func (s PaymentStatus) NeedsFollowUp() bool {
	return s == PaymentStatusPending
}

func (s PaymentStatus) String() string {
	return string(s)
}

type OrderLine struct {
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// OrderPayload is the body sent to the order-creation endpoint.
type OrderPayload struct {
	ShippingAddress Address       `json:"shipping_address"`
	BillingAddress  Address       `json:"billing_address"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	PaymentPhone    string        `json:"payment_phone,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	CouponCode      string        `json:"coupon_code,omitempty"`
	Items           []OrderLine   `json:"items"`
}

type Order struct {
	ID            int64         `json:"id"`
	OrderNumber   string        `json:"order_number"`
	Total         float64       `json:"total"`
	Status        string        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	PaymentStatus PaymentStatus `json:"-"`
}

type PaymentPushRequest struct {
	PhoneNumber string `json:"phone_number"`
	Amount      int64  `json:"amount"`
	OrderID     int64  `json:"order_id"`
}

type PaymentPushResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// PendingPayment is a persisted marker for an order whose push payment could
// not be initiated.
type PendingPayment struct {
	OrderID     int64
	OrderNumber string
	Amount      int64
	Phone       string
	Reason      string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}
