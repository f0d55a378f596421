// Package session owns the client's authentication state: login, logout,
// token refresh, and the authenticated request wrapper every other component
// sends its backend calls through.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/tokenstore"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// Backend is the part of the transport the manager needs.
type Backend interface {
	Authenticate(ctx context.Context, creds domain.Credentials) (backend.TokenPair, error)
	Register(ctx context.Context, reg domain.Registration) (*domain.User, error)
	RefreshToken(ctx context.Context, refreshToken string) (backend.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	Do(ctx context.Context, req backend.Request, accessToken string, out any) error
}

// Event is delivered to subscribers on every state change. Forced is set when
// the session ended because it could not be refreshed.
type Event struct {
	State  domain.AuthState
	Forced bool
}

type Manager struct {
	backend Backend
	store   tokenstore.Store
	log     logrus.FieldLogger
	sfg     singleflight.Group // coalesces concurrent refreshes

	// writeMu orders every change of tokens with its store write.
	writeMu sync.Mutex

	mu     sync.RWMutex
	tokens domain.Tokens
	user   *domain.User
	// epoch changes whenever tokens are installed or cleared. Work begun
	// under one session must not touch the next.
	epoch uint64

	subsMu sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

func NewManager(b Backend, store tokenstore.Store, log logrus.FieldLogger) *Manager {
	return &Manager{
		backend: b,
		store:   store,
		log:     log.WithField("component", "session"),
		subs:    make(map[int]func(Event)),
	}
}

// Restore loads persisted tokens and fetches the current user. A restored
// session whose tokens are rejected ends in a forced logout.
func (m *Manager) Restore(ctx context.Context) error {
	tokens, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	if tokens.AccessToken == "" {
		if !tokens.IsZero() {
			m.clearSession(ctx, anyEpoch)
		}
		return nil
	}

	if tokens.Role == "" {
		if claims, err := DecodeClaims(tokens.AccessToken); err == nil {
			tokens.Role = claims.Role
		}
	}

	epoch, err := m.install(ctx, tokens, false)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}

	if _, err := m.fetchUser(ctx, epoch); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	m.notify(Event{State: domain.StateAuthenticated})
	return nil
}

// Login exchanges credentials for tokens, derives the role from the access
// token and loads the user profile.
func (m *Manager) Login(ctx context.Context, creds domain.Credentials) (*domain.User, error) {
	pair, err := m.backend.Authenticate(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	claims, err := DecodeClaims(pair.Access)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	tokens := domain.Tokens{
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
		Role:         claims.Role,
	}
	epoch, err := m.install(ctx, tokens, true)
	if err != nil {
		return nil, fmt.Errorf("login: save tokens: %w", err)
	}

	user, err := m.fetchUser(ctx, epoch)
	if err != nil {
		m.clearSession(ctx, epoch)
		return nil, fmt.Errorf("login: fetch current user: %w", err)
	}

	m.log.WithField("role", claims.Role).Info("signed in")
	m.notify(Event{State: domain.StateAuthenticated})
	return user, nil
}

// Signup registers a new account. It does not sign the user in.
func (m *Manager) Signup(ctx context.Context, reg domain.Registration) (*domain.User, error) {
	user, err := m.backend.Register(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}
	return user, nil
}

// Logout invalidates the session on the server if it can and always clears
// local state.
func (m *Manager) Logout(ctx context.Context) {
	tokens := m.currentTokens()
	if tokens.AccessToken != "" {
		if err := m.backend.Logout(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
			m.log.WithError(err).Debug("server logout failed, clearing locally")
		}
	}

	if m.clearSession(ctx, anyEpoch) {
		m.log.Info("signed out")
		m.notify(Event{State: domain.StateAnonymous})
	}
}

// Do sends req with the current access token. On a 401 it refreshes once,
// shared with any concurrent caller, and replays req once with the new token.
// A failed refresh or a second 401 ends the session; the returned error then
// matches domain.ErrForcedLogout.
func (m *Manager) Do(ctx context.Context, req backend.Request, out any) error {
	m.mu.RLock()
	token, epoch := m.tokens.AccessToken, m.epoch
	m.mu.RUnlock()
	if token == "" {
		return domain.ErrSignInRequired
	}

	err := m.backend.Do(ctx, req, token, out)
	if !errors.Is(err, domain.ErrAuthExpired) {
		return err
	}

	fresh, err := m.refresh(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrSignInRequired) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrForcedLogout, err)
	}

	err = m.backend.Do(ctx, req, fresh, out)
	if errors.Is(err, domain.ErrAuthExpired) {
		m.log.WithField("path", req.Path).Warn("request rejected after token refresh, ending session")
		m.forceLogout(ctx, epoch)
		return fmt.Errorf("%w: %w", domain.ErrForcedLogout, err)
	}
	return err
}

// Refresh mints a new access token from the stored refresh token. Any failure
// clears the session. Concurrent calls share one backend request.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err := m.refresh(ctx, "")
	return err
}

// refresh runs one shared refresh. When stale is set and the current access
// token is no longer stale, a refresh has already finished and its token is
// returned without another backend call.
func (m *Manager) refresh(ctx context.Context, stale string) (string, error) {
	// The shared refresh must not die with whichever caller started it; the
	// transport bounds it with its own timeout.
	shared := context.WithoutCancel(ctx)
	v, err, _ := m.sfg.Do(refreshKey, func() (interface{}, error) {
		return m.doRefresh(shared, stale)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context, stale string) (string, error) {
	m.mu.RLock()
	tokens := m.tokens
	epoch := m.epoch
	m.mu.RUnlock()

	if stale != "" && tokens.AccessToken != "" && tokens.AccessToken != stale {
		return tokens.AccessToken, nil
	}

	if tokens.RefreshToken == "" {
		m.forceLogout(ctx, epoch)
		return "", domain.ErrNoRefreshToken
	}

	pair, err := m.backend.RefreshToken(ctx, tokens.RefreshToken)
	if err != nil {
		m.log.WithError(err).Warn("token refresh failed")
		m.forceLogout(ctx, epoch)
		return "", fmt.Errorf("refresh token: %w", err)
	}

	claims, err := DecodeClaims(pair.Access)
	if err != nil {
		m.log.WithError(err).Warn("refreshed token is malformed")
		m.forceLogout(ctx, epoch)
		return "", fmt.Errorf("refresh token: %w", err)
	}

	tokens.AccessToken = pair.Access
	if pair.Refresh != "" {
		tokens.RefreshToken = pair.Refresh
	}
	tokens.Role = claims.Role

	m.writeMu.Lock()
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.writeMu.Unlock()
		m.log.Debug("session changed during refresh, result discarded")
		return "", domain.ErrSignInRequired
	}
	m.tokens = tokens
	m.mu.Unlock()
	err = m.store.Save(ctx, tokens)
	m.writeMu.Unlock()

	if err != nil {
		m.log.WithError(err).Error("failed to persist refreshed tokens")
		m.forceLogout(ctx, epoch)
		return "", fmt.Errorf("refresh token: save tokens: %w", err)
	}

	m.log.Debug("access token refreshed")
	return tokens.AccessToken, nil
}

// install makes tokens the current session and starts a new epoch. With
// persist set the store is written first; a failed write installs nothing.
func (m *Manager) install(ctx context.Context, tokens domain.Tokens, persist bool) (uint64, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if persist {
		if err := m.store.Save(ctx, tokens); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = tokens
	m.user = nil
	m.epoch++
	return m.epoch, nil
}

// fetchUser loads the profile of the session started at epoch. A profile
// that arrives after that session ended is dropped.
func (m *Manager) fetchUser(ctx context.Context, epoch uint64) (*domain.User, error) {
	var user domain.User
	if err := m.Do(ctx, backend.CurrentUser(), &user); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return nil, domain.ErrSignInRequired
	}
	m.user = &user
	return &user, nil
}

func (m *Manager) forceLogout(ctx context.Context, epoch uint64) {
	if m.clearSession(ctx, epoch) {
		m.log.Warn("session ended, sign-in required")
		m.notify(Event{State: domain.StateAnonymous, Forced: true})
	}
}

// anyEpoch makes clearSession end whatever session is current.
const anyEpoch = ^uint64(0)

// clearSession drops every token in memory and in the store, unless epoch
// names a session that has already been replaced. It reports whether an
// active session was ended.
func (m *Manager) clearSession(ctx context.Context, epoch uint64) bool {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if epoch != anyEpoch && epoch != m.epoch {
		m.mu.Unlock()
		return false
	}
	wasActive := m.tokens.AccessToken != ""
	m.tokens = domain.Tokens{}
	m.user = nil
	m.epoch++
	m.mu.Unlock()

	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.log.WithError(err).Error("failed to clear token store")
	}
	return wasActive
}

// Subscribe registers fn for state changes and returns a function that
// removes it. fn runs on the goroutine that caused the change.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Manager) notify(ev Event) {
	m.subsMu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Manager) currentTokens() domain.Tokens {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens
}

func (m *Manager) accessToken() string {
	return m.currentTokens().AccessToken
}

func (m *Manager) IsAuthenticated() bool {
	return m.accessToken() != ""
}

func (m *Manager) State() domain.AuthState {
	if m.IsAuthenticated() {
		return domain.StateAuthenticated
	}
	return domain.StateAnonymous
}

// Session returns a snapshot of the current session.
func (m *Manager) Session() domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := domain.Session{
		AccessToken:  m.tokens.AccessToken,
		RefreshToken: m.tokens.RefreshToken,
		Role:         m.tokens.Role,
	}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	return s
}

func (m *Manager) User() *domain.User {
	return m.Session().User
}

func (m *Manager) Role() string {
	return m.currentTokens().Role
}

// HasRole reports whether the signed-in user holds any of roles.
func (m *Manager) HasRole(roles ...string) bool {
	if !m.IsAuthenticated() {
		return false
	}
	return slices.Contains(roles, m.Role())
}

func (m *Manager) IsAdmin() bool {
	return m.HasRole(domain.RoleAdmin)
}
