package domain

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrSignInRequired  = errors.New("sign in required")
	ErrAuthExpired     = errors.New("authentication expired")
	ErrForcedLogout    = errors.New("session ended, please sign in again")
	ErrNoRefreshToken  = errors.New("no refresh token stored")
	ErrMalformedToken  = errors.New("malformed access token")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrEmptyCoupon     = errors.New("coupon code is empty")
	ErrEmptyCart       = errors.New("cart is empty, nothing to checkout")
)

// APIError is a non-2xx answer from the backend. Message carries the server's
// reason verbatim when the body had one.
type APIError struct {
	StatusCode int
	Message    string
	Path       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Path, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrAuthExpired) match a 401 response.
func (e *APIError) Is(target error) bool {
	return target == ErrAuthExpired && e.StatusCode == http.StatusUnauthorized
}

func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// NetworkError covers transport failures: refused connections, timeouts and an
// open circuit breaker.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ValidationError maps field names to user-facing messages.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

func (e *ValidationError) Add(field, msg string) {
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// OrNil returns nil when no field failed, so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// PaymentInitiationError is reported when an order exists but its push payment
// could not be started.
type PaymentInitiationError struct {
	OrderID int64
	Reason  string
	Err     error
}

func (e *PaymentInitiationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment initiation for order %d failed: %v", e.OrderID, e.Err)
	}
	return fmt.Sprintf("payment initiation for order %d failed: %s", e.OrderID, e.Reason)
}

func (e *PaymentInitiationError) Unwrap() error {
	return e.Err
}

// MessageUnknown is what UserMessage says about errors it does not classify.
const MessageUnknown = "Something went wrong. Please try again."

// UserMessage converts any error from the core into text fit for a
// notification.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var validation *ValidationError
	var apiErr *APIError
	var netErr *NetworkError
	var payErr *PaymentInitiationError

	switch {
	case errors.Is(err, ErrForcedLogout):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrSignInRequired):
		return "Please sign in to continue."
	case errors.As(err, &validation):
		return "Please correct the highlighted fields."
	case errors.As(err, &payErr):
		return "Your order was placed, but we could not start the mobile money payment. You can complete payment later."
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if apiErr.StatusCode >= http.StatusInternalServerError {
			return "The store is having trouble right now. Please try again."
		}
		return "The request was rejected."
	case errors.As(err, &netErr):
		return "Could not reach the store. Check your connection and try again."
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrEmptyCoupon), errors.Is(err, ErrEmptyCart):
		return capitalize(err.Error()) + "."
	}
	return MessageUnknown
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
