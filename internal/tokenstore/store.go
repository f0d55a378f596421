// Package tokenstore persists the session's access token, refresh token and
// cached role claim.
package tokenstore

import (
	"context"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// Entry keys, shared by every backend.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyRole         = "user_role"
)

// Store is written only by the session manager. Clear must drop all three
// entries atomically. Load on an empty store returns zero Tokens and no error.
type Store interface {
	Load(ctx context.Context) (domain.Tokens, error)
	Save(ctx context.Context, tokens domain.Tokens) error
	Clear(ctx context.Context) error
}

func toEntries(t domain.Tokens) map[string]string {
	return map[string]string{
		KeyAccessToken:  t.AccessToken,
		KeyRefreshToken: t.RefreshToken,
		KeyRole:         t.Role,
	}
}

func fromEntries(m map[string]string) domain.Tokens {
	return domain.Tokens{
		AccessToken:  m[KeyAccessToken],
		RefreshToken: m[KeyRefreshToken],
		Role:         m[KeyRole],
	}
}
