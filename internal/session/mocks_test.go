package session

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// mockBackend accepts exactly one access token at a time. A successful
// refresh swaps it for refreshPair.Access.
type mockBackend struct {
	m          sync.Mutex
	validToken string
	rejectAll  bool

	loginPair   backend.TokenPair
	refreshPair backend.TokenPair
	user        domain.User

	loginErr   error
	refreshErr error
	logoutErr  error
	userErr    error

	refreshDelay time.Duration

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	doCalls      atomic.Int32
	seenTokens   []string
}

func (m *mockBackend) Authenticate(context.Context, domain.Credentials) (backend.TokenPair, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.loginErr != nil {
		return backend.TokenPair{}, m.loginErr
	}
	m.validToken = m.loginPair.Access
	return m.loginPair, nil
}

func (m *mockBackend) Register(_ context.Context, reg domain.Registration) (*domain.User, error) {
	return &domain.User{ID: 7, Email: reg.Email, FirstName: reg.FirstName}, nil
}

func (m *mockBackend) RefreshToken(ctx context.Context, _ string) (backend.TokenPair, error) {
	m.refreshCalls.Add(1)
	time.Sleep(m.refreshDelay)
	if err := ctx.Err(); err != nil {
		return backend.TokenPair{}, err
	}

	m.m.Lock()
	defer m.m.Unlock()
	if m.refreshErr != nil {
		return backend.TokenPair{}, m.refreshErr
	}
	m.validToken = m.refreshPair.Access
	return m.refreshPair, nil
}

func (m *mockBackend) Logout(context.Context, string, string) error {
	m.logoutCalls.Add(1)
	return m.logoutErr
}

func (m *mockBackend) Do(_ context.Context, req backend.Request, accessToken string, out any) error {
	m.doCalls.Add(1)

	m.m.Lock()
	defer m.m.Unlock()
	m.seenTokens = append(m.seenTokens, accessToken)
	if m.rejectAll || accessToken != m.validToken {
		return &domain.APIError{StatusCode: http.StatusUnauthorized, Path: req.Path}
	}
	if req.Path == backend.PathCurrentUser {
		if m.userErr != nil {
			return m.userErr
		}
		*out.(*domain.User) = m.user
	}
	return nil
}

func (m *mockBackend) setValidToken(token string) {
	m.m.Lock()
	defer m.m.Unlock()
	m.validToken = token
}

// mockStore counts writes so tests can assert the store was left alone.
type mockStore struct {
	m       sync.Mutex
	tokens  domain.Tokens
	saveErr error
	saves   int
	clears  int
}

func (s *mockStore) Load(context.Context) (domain.Tokens, error) {
	s.m.Lock()
	defer s.m.Unlock()
	return s.tokens, nil
}

func (s *mockStore) Save(_ context.Context, t domain.Tokens) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.tokens = t
	return nil
}

func (s *mockStore) Clear(context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.clears++
	s.tokens = domain.Tokens{}
	return nil
}

func (s *mockStore) get() domain.Tokens {
	s.m.Lock()
	defer s.m.Unlock()
	return s.tokens
}

// newToken signs a throwaway access token carrying role. Each call returns a
// distinct token.
func newToken(t *testing.T, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   "42",
		"email": "jane@example.com",
		"role":  role,
		"jti":   uuid.NewString(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}
