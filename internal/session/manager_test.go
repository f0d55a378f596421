package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var creds = domain.Credentials{Email: "jane@example.com", Password: "secret"}

func setupManager(t *testing.T) (*Manager, *mockBackend, *mockStore) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	b := &mockBackend{
		loginPair:   backend.TokenPair{Access: newToken(t, domain.RoleCustomer), Refresh: "refresh-1"},
		refreshPair: backend.TokenPair{Access: newToken(t, domain.RoleCustomer)},
		user:        domain.User{ID: 42, Email: "jane@example.com", Role: domain.RoleCustomer},
	}
	store := &mockStore{}
	return NewManager(b, store, logger), b, store
}

func signedIn(t *testing.T) (*Manager, *mockBackend, *mockStore) {
	t.Helper()
	mgr, b, store := setupManager(t)
	_, err := mgr.Login(context.Background(), creds)
	require.NoError(t, err)
	return mgr, b, store
}

func TestLogin_Success(t *testing.T) {
	mgr, b, store := setupManager(t)
	var events []Event
	mgr.Subscribe(func(ev Event) { events = append(events, ev) })

	user, err := mgr.Login(context.Background(), creds)
	require.NoError(t, err)

	assert.Equal(t, int64(42), user.ID)
	assert.True(t, mgr.IsAuthenticated())
	assert.Equal(t, domain.RoleCustomer, mgr.Role())
	assert.False(t, mgr.IsAdmin())
	assert.Equal(t, domain.StateAuthenticated, mgr.State())
	assert.Equal(t, domain.Tokens{
		AccessToken:  b.loginPair.Access,
		RefreshToken: "refresh-1",
		Role:         domain.RoleCustomer,
	}, store.get())
	require.Len(t, events, 1)
	assert.Equal(t, Event{State: domain.StateAuthenticated}, events[0])
}

func TestLogin_AdminRole(t *testing.T) {
	mgr, b, _ := setupManager(t)
	b.loginPair.Access = newToken(t, domain.RoleAdmin)

	_, err := mgr.Login(context.Background(), creds)
	require.NoError(t, err)

	assert.True(t, mgr.IsAdmin())
	assert.True(t, mgr.HasRole(domain.RoleCustomer, domain.RoleAdmin))
}

func TestLogin_MalformedTokenStoresNothing(t *testing.T) {
	mgr, b, store := setupManager(t)
	b.loginPair.Access = "garbage"

	_, err := mgr.Login(context.Background(), creds)
	require.Error(t, err)

	var claimsErr *ClaimsError
	assert.True(t, errors.As(err, &claimsErr))
	assert.False(t, mgr.IsAuthenticated())
	assert.Zero(t, store.saves)
	assert.Empty(t, mgr.Role())
}

func TestLogin_RejectedCredentials(t *testing.T) {
	mgr, b, store := setupManager(t)
	b.loginErr = &domain.APIError{StatusCode: http.StatusBadRequest, Message: "Invalid credentials", Path: backend.PathLogin}

	_, err := mgr.Login(context.Background(), creds)
	require.Error(t, err)
	assert.Equal(t, "Invalid credentials", domain.UserMessage(err))
	assert.False(t, mgr.IsAuthenticated())
	assert.Zero(t, store.saves)
}

func TestLogin_ProfileFailureClearsSession(t *testing.T) {
	mgr, b, store := setupManager(t)
	b.userErr = &domain.NetworkError{Op: "GET /auth/me/", Err: errors.New("connection refused")}

	_, err := mgr.Login(context.Background(), creds)
	require.Error(t, err)

	assert.False(t, mgr.IsAuthenticated())
	assert.True(t, store.get().IsZero())
}

func TestSignup_DoesNotSignIn(t *testing.T) {
	mgr, _, store := setupManager(t)

	user, err := mgr.Signup(context.Background(), domain.Registration{
		FirstName: "Jane",
		Email:     "jane@example.com",
		Password:  "secret",
	})
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", user.Email)
	assert.False(t, mgr.IsAuthenticated())
	assert.Zero(t, store.saves)
}

func TestDo_WithoutSessionMakesNoCall(t *testing.T) {
	mgr, b, _ := setupManager(t)

	err := mgr.Do(context.Background(), backend.GetCart(), nil)

	assert.ErrorIs(t, err, domain.ErrSignInRequired)
	assert.Zero(t, b.doCalls.Load())
}

func TestDo_RefreshesOnceAndReplays(t *testing.T) {
	mgr, b, store := signedIn(t)
	b.refreshPair.Refresh = "refresh-2"
	b.setValidToken("rotated-elsewhere")

	err := mgr.Do(context.Background(), backend.GetCart(), nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, b.refreshPair.Access, store.get().AccessToken)
	assert.Equal(t, "refresh-2", store.get().RefreshToken)
	assert.True(t, mgr.IsAuthenticated())
}

func TestDo_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	mgr, b, store := signedIn(t)
	b.setValidToken("rotated-elsewhere")

	require.NoError(t, mgr.Do(context.Background(), backend.GetCart(), nil))

	assert.Equal(t, "refresh-1", store.get().RefreshToken)
}

func TestDo_SecondUnauthorizedForcesLogout(t *testing.T) {
	mgr, b, store := signedIn(t)
	b.rejectAll = true

	var events []Event
	mgr.Subscribe(func(ev Event) { events = append(events, ev) })
	callsBefore := b.doCalls.Load()

	err := mgr.Do(context.Background(), backend.GetCart(), nil)

	assert.ErrorIs(t, err, domain.ErrForcedLogout)
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, callsBefore+2, b.doCalls.Load())
	assert.False(t, mgr.IsAuthenticated())
	assert.True(t, store.get().IsZero())
	require.Len(t, events, 1)
	assert.True(t, events[0].Forced)
}

func TestDo_RefreshFailureForcesLogout(t *testing.T) {
	mgr, b, store := signedIn(t)
	b.setValidToken("rotated-elsewhere")
	b.refreshErr = &domain.APIError{StatusCode: http.StatusUnauthorized, Path: backend.PathTokenRefresh}

	logger, hook := logtest.NewNullLogger()
	mgr.log = logger.WithField("component", "session")

	err := mgr.Do(context.Background(), backend.GetCart(), nil)

	assert.ErrorIs(t, err, domain.ErrForcedLogout)
	assert.False(t, mgr.IsAuthenticated())
	assert.True(t, store.get().IsZero())
	assert.Nil(t, mgr.User())

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestDo_NonAuthErrorsPassThrough(t *testing.T) {
	mgr, b, _ := signedIn(t)
	b.userErr = &domain.APIError{StatusCode: http.StatusInternalServerError, Path: backend.PathCurrentUser}

	var user domain.User
	err := mgr.Do(context.Background(), backend.CurrentUser(), &user)

	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Zero(t, b.refreshCalls.Load())
	assert.True(t, mgr.IsAuthenticated())
}

func TestDo_ConcurrentUnauthorizedCoalesce(t *testing.T) {
	mgr, b, _ := signedIn(t)
	b.refreshDelay = 50 * time.Millisecond
	b.setValidToken("rotated-elsewhere")

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = mgr.Do(context.Background(), backend.GetCart(), nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.True(t, mgr.IsAuthenticated())
}

func TestDo_CancelledCallerDoesNotAbortSharedRefresh(t *testing.T) {
	mgr, b, store := signedIn(t)
	b.setValidToken("rotated-elsewhere")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mgr.refresh(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, b.refreshPair.Access, store.get().AccessToken)
}

func TestRefresh_NoRefreshTokenMakesNoCall(t *testing.T) {
	mgr, b, store := setupManager(t)
	store.tokens = domain.Tokens{AccessToken: newToken(t, domain.RoleCustomer)}
	mgr.tokens = store.tokens

	err := mgr.Refresh(context.Background())

	assert.ErrorIs(t, err, domain.ErrNoRefreshToken)
	assert.Zero(t, b.refreshCalls.Load())
	assert.False(t, mgr.IsAuthenticated())
	assert.True(t, store.get().IsZero())
}

func TestRefresh_ReDerivesRole(t *testing.T) {
	mgr, b, _ := signedIn(t)
	b.refreshPair.Access = newToken(t, domain.RoleAdmin)

	require.NoError(t, mgr.Refresh(context.Background()))
	assert.True(t, mgr.IsAdmin())
}

func TestRefresh_MalformedTokenClearsSession(t *testing.T) {
	mgr, b, store := signedIn(t)
	b.refreshPair.Access = "garbage"

	err := mgr.Refresh(context.Background())

	assert.ErrorIs(t, err, domain.ErrMalformedToken)
	assert.False(t, mgr.IsAuthenticated())
	assert.True(t, store.get().IsZero())
}

func TestRefresh_ResultDiscardedAfterLogout(t *testing.T) {
	mgr, b, store := signedIn(t)
	b.refreshDelay = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- mgr.Refresh(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	mgr.Logout(context.Background())

	assert.ErrorIs(t, <-done, domain.ErrSignInRequired)
	assert.False(t, mgr.IsAuthenticated())
	assert.True(t, store.get().IsZero())
}

// signInAsAdmin logs in again with a fresh admin pair while another request
// may be in flight.
func signInAsAdmin(t *testing.T, mgr *Manager, b *mockBackend) backend.TokenPair {
	t.Helper()
	pair := backend.TokenPair{Access: newToken(t, domain.RoleAdmin), Refresh: "refresh-admin"}
	b.m.Lock()
	b.loginPair = pair
	b.m.Unlock()

	_, err := mgr.Login(context.Background(), creds)
	require.NoError(t, err)
	return pair
}

func TestRefresh_ResultDiscardedAfterNewLogin(t *testing.T) {
	mgr, b, store := signedIn(t)
	b.refreshDelay = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- mgr.Refresh(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	admin := signInAsAdmin(t, mgr, b)

	assert.ErrorIs(t, <-done, domain.ErrSignInRequired)
	assert.Equal(t, admin.Access, mgr.Session().AccessToken)
	assert.Equal(t, "refresh-admin", mgr.Session().RefreshToken)
	assert.True(t, mgr.IsAdmin())
	assert.Equal(t, domain.Tokens{
		AccessToken:  admin.Access,
		RefreshToken: "refresh-admin",
		Role:         domain.RoleAdmin,
	}, store.get())
}

func TestRefresh_FailureAfterNewLoginKeepsNewSession(t *testing.T) {
	mgr, b, store := signedIn(t)
	b.refreshDelay = 50 * time.Millisecond
	b.refreshErr = &domain.APIError{StatusCode: http.StatusUnauthorized, Path: backend.PathTokenRefresh}

	var forced atomic.Bool
	mgr.Subscribe(func(ev Event) {
		if ev.Forced {
			forced.Store(true)
		}
	})

	done := make(chan error, 1)
	go func() { done <- mgr.Refresh(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	admin := signInAsAdmin(t, mgr, b)

	assert.Error(t, <-done)
	assert.True(t, mgr.IsAuthenticated())
	assert.Equal(t, admin.Access, store.get().AccessToken)
	assert.False(t, forced.Load())
}

func TestRefresh_StaleCallerReusesFinishedRefresh(t *testing.T) {
	mgr, b, _ := signedIn(t)
	stale := mgr.Session().AccessToken

	require.NoError(t, mgr.Refresh(context.Background()))
	require.Equal(t, int32(1), b.refreshCalls.Load())

	token, err := mgr.refresh(context.Background(), stale)

	require.NoError(t, err)
	assert.Equal(t, b.refreshPair.Access, token)
	assert.Equal(t, int32(1), b.refreshCalls.Load())
}

func TestLogout_ServerFailureStillClears(t *testing.T) {
	mgr, b, store := signedIn(t)
	b.logoutErr = &domain.NetworkError{Op: "POST /auth/logout/", Err: errors.New("timeout")}

	var events []Event
	unsubscribe := mgr.Subscribe(func(ev Event) { events = append(events, ev) })

	mgr.Logout(context.Background())

	assert.Equal(t, int32(1), b.logoutCalls.Load())
	assert.False(t, mgr.IsAuthenticated())
	assert.True(t, store.get().IsZero())
	require.Len(t, events, 1)
	assert.Equal(t, Event{State: domain.StateAnonymous}, events[0])

	unsubscribe()
	_, err := mgr.Login(context.Background(), creds)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestLogout_AnonymousSkipsServer(t *testing.T) {
	mgr, b, _ := setupManager(t)

	mgr.Logout(context.Background())

	assert.Zero(t, b.logoutCalls.Load())
}

func TestRestore(t *testing.T) {
	t.Run("empty store stays anonymous", func(t *testing.T) {
		mgr, b, _ := setupManager(t)

		require.NoError(t, mgr.Restore(context.Background()))
		assert.False(t, mgr.IsAuthenticated())
		assert.Zero(t, b.doCalls.Load())
	})

	t.Run("persisted tokens restore the session", func(t *testing.T) {
		mgr, b, store := setupManager(t)
		access := newToken(t, domain.RoleAdmin)
		store.tokens = domain.Tokens{AccessToken: access, RefreshToken: "refresh-1"}
		b.setValidToken(access)

		require.NoError(t, mgr.Restore(context.Background()))
		assert.True(t, mgr.IsAdmin())
		require.NotNil(t, mgr.User())
		assert.Equal(t, int64(42), mgr.User().ID)
	})

	t.Run("rejected tokens end in forced logout", func(t *testing.T) {
		mgr, b, store := setupManager(t)
		store.tokens = domain.Tokens{AccessToken: newToken(t, domain.RoleCustomer), RefreshToken: "refresh-1"}
		b.rejectAll = true

		err := mgr.Restore(context.Background())
		assert.ErrorIs(t, err, domain.ErrForcedLogout)
		assert.False(t, mgr.IsAuthenticated())
		assert.True(t, store.get().IsZero())
	})
}
