package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

const (
	PathLogin        = "/auth/login/"
	PathRegister     = "/auth/register/"
	PathTokenRefresh = "/auth/token/refresh/"
	PathCurrentUser  = "/auth/me/"
	PathLogout       = "/auth/logout/"
	PathCart         = "/cart/"
	PathCartItems    = "/cart/items/"
	PathApplyCoupon  = "/cart/apply-coupon/"
	PathOrders       = "/orders/"
	PathMobilePush   = "/payments/mpesa/stk-push/"
)

var ErrMalformedTokenResponse = errors.New("token response is missing the access token")

// TokenPair is the body of login and refresh responses. Refresh is empty when
// the backend does not rotate refresh tokens.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Authenticate exchanges credentials for a token pair.
func (c *Client) Authenticate(ctx context.Context, creds domain.Credentials) (TokenPair, error) {
	var pair TokenPair
	req := Request{Method: http.MethodPost, Path: PathLogin, Body: creds}
	if err := c.Do(ctx, req, "", &pair); err != nil {
		return TokenPair{}, err
	}
	if pair.Access == "" || pair.Refresh == "" {
		return TokenPair{}, fmt.Errorf("login: %w", ErrMalformedTokenResponse)
	}
	return pair, nil
}

func (c *Client) Register(ctx context.Context, reg domain.Registration) (*domain.User, error) {
	var user domain.User
	req := Request{Method: http.MethodPost, Path: PathRegister, Body: reg}
	if err := c.Do(ctx, req, "", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RefreshToken mints a new access token from a refresh token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	var pair TokenPair
	req := Request{
		Method: http.MethodPost,
		Path:   PathTokenRefresh,
		Body:   map[string]string{"refresh": refreshToken},
	}
	if err := c.Do(ctx, req, "", &pair); err != nil {
		return TokenPair{}, err
	}
	if pair.Access == "" {
		return TokenPair{}, fmt.Errorf("refresh: %w", ErrMalformedTokenResponse)
	}
	return pair, nil
}

// Logout asks the backend to invalidate the refresh token.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	req := Request{
		Method: http.MethodPost,
		Path:   PathLogout,
		Body:   map[string]string{"refresh": refreshToken},
	}
	return c.Do(ctx, req, accessToken, nil)
}

// Requests for the authenticated endpoints. They are sent through the session
// manager, which owns the access token.

func CurrentUser() Request {
	return Request{Method: http.MethodGet, Path: PathCurrentUser}
}

func GetCart() Request {
	return Request{Method: http.MethodGet, Path: PathCart}
}

func AddCartItem(productID int64, quantity int) Request {
	return Request{
		Method: http.MethodPost,
		Path:   PathCartItems,
		Body: map[string]any{
			"product_id": productID,
			"quantity":   quantity,
		},
	}
}

func UpdateCartItem(itemID int64, quantity int) Request {
	return Request{
		Method: http.MethodPatch,
		Path:   cartItemPath(itemID),
		Body:   map[string]int{"quantity": quantity},
	}
}

func RemoveCartItem(itemID int64) Request {
	return Request{Method: http.MethodDelete, Path: cartItemPath(itemID)}
}

func ClearCart() Request {
	return Request{Method: http.MethodDelete, Path: PathCart}
}

func ApplyCoupon(code string) Request {
	return Request{
		Method: http.MethodPost,
		Path:   PathApplyCoupon,
		Body:   map[string]string{"code": code},
	}
}

// CreateOrder carries an idempotency key so a replay after a token refresh
// cannot create a second order.
func CreateOrder(payload domain.OrderPayload, idempotencyKey string) Request {
	return Request{
		Method:         http.MethodPost,
		Path:           PathOrders,
		Body:           payload,
		IdempotencyKey: idempotencyKey,
	}
}

func MobileMoneyPush(push domain.PaymentPushRequest) Request {
	return Request{Method: http.MethodPost, Path: PathMobilePush, Body: push}
}

func cartItemPath(itemID int64) string {
	return fmt.Sprintf("%s%d/", PathCartItems, itemID)
}
