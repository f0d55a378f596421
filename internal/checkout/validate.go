package checkout

import (
	"errors"
	"reflect"
	"strings"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-playground/validator/v10"
)

const phonePrefix = "254"

// Created once; the validator caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their json names so messages line up with form fields.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateShipping checks the shipping address.
func ValidateShipping(addr domain.Address) error {
	return validateAddress("shipping", addr)
}

// ValidateBilling checks the billing address unless it is copied from
// shipping, in which case there is nothing to check.
func ValidateBilling(sameAsShipping bool, billing domain.Address) error {
	if sameAsShipping {
		return nil
	}
	return validateAddress("billing", billing)
}

// ValidatePayment checks the payment selection. Only mobile money needs more
// than a known method: its phone must normalize.
func ValidatePayment(sel domain.PaymentSelection) error {
	verr := domain.NewValidationError()
	switch {
	case !sel.Method.IsValid():
		verr.Add("payment.method", "choose a payment method")
	case sel.Method == domain.PaymentMobileMoney:
		if _, ok := NormalizePhone(sel.MobileMoneyPhone); !ok {
			verr.Add("payment.mobile_money_phone", "enter a valid phone number, e.g. 0712345678")
		}
	}
	return verr.OrNil()
}

func validateAddress(prefix string, addr domain.Address) error {
	err := validate.Struct(trimAddress(addr))
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	verr := domain.NewValidationError()
	for _, fe := range fieldErrs {
		verr.Add(prefix+"."+fe.Field(), fieldMessage(fe))
	}
	return verr.OrNil()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	}
	return "is invalid"
}

func trimAddress(a domain.Address) domain.Address {
	a.FullName = strings.TrimSpace(a.FullName)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Email = strings.TrimSpace(a.Email)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.County = strings.TrimSpace(a.County)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	return a
}

// NormalizePhone turns a local mobile number into the 254XXXXXXXXX form the
// push payment endpoint expects. Non-digits are dropped first, then a leading
// 0 becomes 254 and a bare 9-digit subscriber number gets 254 prepended.
func NormalizePhone(raw string) (string, bool) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	switch {
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		digits = phonePrefix + digits[1:]
	case len(digits) == 9:
		digits = phonePrefix + digits
	}

	if len(digits) != 12 || !strings.HasPrefix(digits, phonePrefix) {
		return "", false
	}
	return digits, true
}
