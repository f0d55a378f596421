package session

import (
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields the client reads from an access token. The signature
// is not checked here; the backend is the authority on validity.
type Claims struct {
	Subject   string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// ClaimsError reports an access token whose payload could not be decoded.
// errors.Is(err, domain.ErrMalformedToken) holds for every ClaimsError.
type ClaimsError struct {
	Err error
}

func (e *ClaimsError) Error() string {
	return fmt.Sprintf("%v: %v", domain.ErrMalformedToken, e.Err)
}

func (e *ClaimsError) Unwrap() []error {
	return []error{domain.ErrMalformedToken, e.Err}
}

type accessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

var parser = jwt.NewParser()

// DecodeClaims reads the payload segment of an access token.
func DecodeClaims(token string) (Claims, error) {
	if token == "" {
		return Claims{}, &ClaimsError{Err: fmt.Errorf("empty token")}
	}

	var raw accessClaims
	if _, _, err := parser.ParseUnverified(token, &raw); err != nil {
		return Claims{}, &ClaimsError{Err: err}
	}

	claims := Claims{
		Subject: raw.Subject,
		Email:   raw.Email,
		Role:    raw.Role,
	}
	if raw.ExpiresAt != nil {
		claims.ExpiresAt = raw.ExpiresAt.Time
	}
	return claims, nil
}
