package opsboard

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opsboard/opsboard-go/internal/authapi"
	"github.com/opsboard/opsboard-go/internal/store"
	internalTypes "github.com/opsboard/opsboard-go/internal/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAuthAPI is a mock implementation of the authAPI interface
type MockAuthAPI struct {
	mock.Mock
}

func (m *MockAuthAPI) Login(ctx context.Context, email, password string) (*authapi.Result, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authapi.Result), args.Error(1)
}

func (m *MockAuthAPI) LoginWithGoogle(ctx context.Context, credential string) (*authapi.Result, error) {
	args := m.Called(ctx, credential)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authapi.Result), args.Error(1)
}

func (m *MockAuthAPI) SendCode(ctx context.Context, email string) (*authapi.Result, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authapi.Result), args.Error(1)
}

func (m *MockAuthAPI) VerifyCode(ctx context.Context, email, code string) (*authapi.Result, error) {
	args := m.Called(ctx, email, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authapi.Result), args.Error(1)
}

// fakeTransport records SetToken calls.
type fakeTransport struct {
	mu    sync.Mutex
	token string
}

func (f *fakeTransport) SetToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeTransport) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

// recordingTracker captures lifecycle signals.
type recordingTracker struct {
	mu         sync.Mutex
	identified []*Identity
	events     []string
	cleared    int
}

func (r *recordingTracker) Identify(identity *Identity) {
	r.mu.Lock()
	r.identified = append(r.identified, identity)
	r.mu.Unlock()
}

func (r *recordingTracker) Track(event string, _ map[string]interface{}) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingTracker) Clear() {
	r.mu.Lock()
	r.cleared++
	r.mu.Unlock()
}

func (r *recordingTracker) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingTracker) hasEvent(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

// fakeActivitySource lets tests inject user-activity events.
type fakeActivitySource struct {
	mu  sync.Mutex
	fns []func(ActivityKind)
}

func (f *fakeActivitySource) Subscribe(fn func(ActivityKind)) func() {
	f.mu.Lock()
	f.fns = append(f.fns, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeActivitySource) emit(kind ActivityKind) {
	f.mu.Lock()
	fns := append([]func(ActivityKind){}, f.fns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(kind)
	}
}

type sessionFixture struct {
	manager   *SessionManager
	api       *MockAuthAPI
	transport *fakeTransport
	tracker   *recordingTracker
	store     *store.Store
	statePath string
}

func newSessionFixture(t *testing.T, mutate func(*sessionConfig)) *sessionFixture {
	t.Helper()

	statePath := filepath.Join(t.TempDir(), "session.json")
	api := &MockAuthAPI{}
	trans := &fakeTransport{}
	tracker := &recordingTracker{}
	st := store.New(statePath, nil)

	cfg := sessionConfig{
		api:         api,
		transport:   trans,
		store:       st,
		tracker:     tracker,
		idleTimeout: time.Hour,
		expirySkew:  60 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return &sessionFixture{
		manager:   newSessionManager(cfg),
		api:       api,
		transport: trans,
		tracker:   tracker,
		store:     st,
		statePath: statePath,
	}
}

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func grantResult(token string) *authapi.Result {
	return &authapi.Result{
		OK:    true,
		Token: token,
		Identity: &internalTypes.Identity{
			ID:    "u1",
			Email: "a@x.com",
			Role:  "admin",
		},
	}
}

// durableState reads the persisted durable scope from disk.
func durableState(t *testing.T, path string) map[string]string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var m map[string]string
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestRestore_ValidDurableSession(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(time.Hour))
	require.NoError(t, f.store.Set(store.Durable, store.KeyToken, tok))
	require.NoError(t, f.store.Set(store.Durable, store.KeyUser, `{"id":"u1","email":"a@x.com","role":"admin"}`))

	assert.True(t, f.manager.Loading())
	f.manager.Restore()

	assert.False(t, f.manager.Loading())
	require.True(t, f.manager.IsAuthenticated())
	assert.Equal(t, "a@x.com", f.manager.Identity().Email)
	assert.Equal(t, tok, f.transport.Token())
	assert.Len(t, f.tracker.identified, 1)
}

func TestRestore_ExpiredTokenErasesBothScopes(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(-10*time.Minute))
	require.NoError(t, f.store.Set(store.Durable, store.KeyToken, tok))
	require.NoError(t, f.store.Set(store.Durable, store.KeyUser, `{"email":"a@x.com"}`))

	f.manager.Restore()

	assert.False(t, f.manager.Loading())
	assert.False(t, f.manager.IsAuthenticated())
	_, ok := f.store.Get(store.KeyToken)
	assert.False(t, ok)
	assert.Nil(t, durableState(t, f.statePath))
}

func TestRestore_TokenInsideSkewWindowTreatedAsExpired(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(30*time.Second))
	require.NoError(t, f.store.Set(store.Durable, store.KeyToken, tok))
	require.NoError(t, f.store.Set(store.Durable, store.KeyUser, `{"email":"a@x.com"}`))

	f.manager.Restore()

	assert.False(t, f.manager.IsAuthenticated())
	_, ok := f.store.Get(store.KeyToken)
	assert.False(t, ok)
}

func TestRestore_UndecodableTokenErased(t *testing.T) {
	f := newSessionFixture(t, nil)
	require.NoError(t, f.store.Set(store.Durable, store.KeyToken, "garbage"))
	require.NoError(t, f.store.Set(store.Durable, store.KeyUser, `{"email":"a@x.com"}`))

	f.manager.Restore()

	assert.False(t, f.manager.IsAuthenticated())
	_, ok := f.store.Get(store.KeyToken)
	assert.False(t, ok)
}

func TestRestore_CorruptIdentityErased(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(time.Hour))
	require.NoError(t, f.store.Set(store.Durable, store.KeyToken, tok))
	require.NoError(t, f.store.Set(store.Durable, store.KeyUser, "{not json"))

	f.manager.Restore()

	assert.False(t, f.manager.IsAuthenticated())
	_, ok := f.store.Get(store.KeyToken)
	assert.False(t, ok)
}

func TestRestore_EphemeralFallback(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(time.Hour))
	require.NoError(t, f.store.Set(store.Ephemeral, store.KeyToken, tok))
	require.NoError(t, f.store.Set(store.Ephemeral, store.KeyUser, `{"email":"a@x.com"}`))

	f.manager.Restore()

	assert.True(t, f.manager.IsAuthenticated())
}

func TestRestore_NoTokenClearsLoading(t *testing.T) {
	f := newSessionFixture(t, nil)

	f.manager.Restore()

	assert.False(t, f.manager.Loading())
	assert.False(t, f.manager.IsAuthenticated())
}

func TestLogin_RememberMePlacesTokenDurably(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(time.Hour))
	f.api.On("Login", mock.Anything, "a@x.com", "secret").Return(grantResult(tok), nil)

	result := f.manager.Login(context.Background(), "a@x.com", "secret", true)

	require.True(t, result.Success)
	assert.True(t, f.manager.IsAuthenticated())
	assert.False(t, f.manager.Loading())
	assert.Equal(t, tok, f.transport.Token())

	state := durableState(t, f.statePath)
	require.NotNil(t, state)
	assert.Equal(t, tok, state[store.KeyToken])
	assert.Equal(t, "true", state[store.KeyRemember])
	assert.Contains(t, state[store.KeyUser], "a@x.com")

	assert.True(t, f.tracker.hasEvent("login succeeded"))
	f.api.AssertExpectations(t)
}

func TestLogin_NoRememberKeepsTokenOutOfDurableScope(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(time.Hour))
	f.api.On("Login", mock.Anything, "a@x.com", "secret").Return(grantResult(tok), nil)

	result := f.manager.Login(context.Background(), "a@x.com", "secret", false)

	require.True(t, result.Success)
	assert.True(t, f.manager.IsAuthenticated())

	// The token is resolvable, but only through the ephemeral scope
	v, ok := f.store.Get(store.KeyToken)
	require.True(t, ok)
	assert.Equal(t, tok, v)

	// The remember preference itself is always durable
	state := durableState(t, f.statePath)
	require.NotNil(t, state)
	assert.Equal(t, "false", state[store.KeyRemember])
	_, holdsToken := state[store.KeyToken]
	assert.False(t, holdsToken, "durable scope must not hold the token")
	_, holdsUser := state[store.KeyUser]
	assert.False(t, holdsUser, "durable scope must not hold the identity")
}

func TestLogin_CredentialRejection(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.api.On("Login", mock.Anything, "a@x.com", "wrong").
		Return(&authapi.Result{OK: false, Message: "Invalid credentials"}, nil)

	result := f.manager.Login(context.Background(), "a@x.com", "wrong", true)

	assert.False(t, result.Success)
	assert.Equal(t, "Invalid credentials", result.Message)
	assert.Equal(t, "Invalid credentials", f.manager.Err())
	assert.False(t, f.manager.IsAuthenticated())
	assert.False(t, f.manager.Loading())
	assert.True(t, f.tracker.hasEvent("login failed"))

	// Nothing was persisted
	_, ok := f.store.Get(store.KeyToken)
	assert.False(t, ok)
}

func TestLogin_TransportFailure(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.api.On("Login", mock.Anything, "a@x.com", "secret").
		Return(nil, errors.New("connection refused"))

	result := f.manager.Login(context.Background(), "a@x.com", "secret", true)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "connection refused")
	assert.False(t, f.manager.IsAuthenticated())
	assert.False(t, f.manager.Loading())
}

func TestLogin_ClearsPriorError(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(time.Hour))
	f.api.On("Login", mock.Anything, "a@x.com", "wrong").
		Return(&authapi.Result{OK: false, Message: "Invalid credentials"}, nil).Once()
	f.api.On("Login", mock.Anything, "a@x.com", "secret").Return(grantResult(tok), nil).Once()

	f.manager.Login(context.Background(), "a@x.com", "wrong", true)
	require.Equal(t, "Invalid credentials", f.manager.Err())

	result := f.manager.Login(context.Background(), "a@x.com", "secret", true)
	require.True(t, result.Success)
	assert.Empty(t, f.manager.Err())
}

func TestLoginWithGoogle_AlwaysPersistsDurably(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(time.Hour))
	f.api.On("LoginWithGoogle", mock.Anything, "google-cred").Return(grantResult(tok), nil)

	result := f.manager.LoginWithGoogle(context.Background(), "google-cred")

	require.True(t, result.Success)
	state := durableState(t, f.statePath)
	require.NotNil(t, state)
	assert.Equal(t, tok, state[store.KeyToken])
	assert.Equal(t, "true", state[store.KeyRemember])
}

func TestSendLoginCode_NoLoadingNoPersistence(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.manager.Restore() // clears initial loading
	f.api.On("SendCode", mock.Anything, "a@x.com").
		Return(&authapi.Result{OK: true, Message: "Code sent"}, nil)

	result := f.manager.SendLoginCode(context.Background(), "a@x.com")

	assert.True(t, result.Success)
	assert.Equal(t, "Code sent", result.Message)
	assert.False(t, f.manager.Loading())
	_, ok := f.store.Get(store.KeyToken)
	assert.False(t, ok)
}

func TestLoginWithCode_PersistsDurably(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(time.Hour))
	f.api.On("VerifyCode", mock.Anything, "a@x.com", "123456").Return(grantResult(tok), nil)

	result := f.manager.LoginWithCode(context.Background(), "a@x.com", "123456")

	require.True(t, result.Success)
	state := durableState(t, f.statePath)
	require.NotNil(t, state)
	assert.Equal(t, tok, state[store.KeyToken])
}

func TestLogout_ClearsEverything(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(time.Hour))
	f.api.On("Login", mock.Anything, "a@x.com", "secret").Return(grantResult(tok), nil)
	require.True(t, f.manager.Login(context.Background(), "a@x.com", "secret", true).Success)

	f.manager.Logout()

	assert.False(t, f.manager.IsAuthenticated())
	assert.Nil(t, f.manager.Identity())
	assert.Empty(t, f.transport.Token())
	_, ok := f.store.Get(store.KeyToken)
	assert.False(t, ok)
	_, ok = f.store.Get(store.KeyRemember)
	assert.False(t, ok)
	assert.Nil(t, durableState(t, f.statePath))
	assert.True(t, f.tracker.hasEvent("logout"))
	assert.GreaterOrEqual(t, f.tracker.cleared, 1)
}

func TestLogout_WhenUnauthenticatedStillClears(t *testing.T) {
	f := newSessionFixture(t, nil)
	require.NoError(t, f.store.Set(store.Ephemeral, store.KeyToken, "stale"))

	f.manager.Logout()

	assert.False(t, f.tracker.hasEvent("logout"))
	assert.GreaterOrEqual(t, f.tracker.cleared, 1)
	_, ok := f.store.Get(store.KeyToken)
	assert.False(t, ok)
}

func TestUnauthorizedSignalMirrorsLogout(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(time.Hour))
	f.api.On("Login", mock.Anything, "a@x.com", "secret").Return(grantResult(tok), nil)
	require.True(t, f.manager.Login(context.Background(), "a@x.com", "secret", true).Success)

	f.manager.handleUnauthorized()

	assert.False(t, f.manager.IsAuthenticated())
	assert.Empty(t, f.transport.Token())
	_, ok := f.store.Get(store.KeyToken)
	assert.False(t, ok)
}

func TestSubscribe_NotifiedOnStateChange(t *testing.T) {
	f := newSessionFixture(t, nil)
	tok := mintToken(t, time.Now().Add(time.Hour))
	f.api.On("Login", mock.Anything, "a@x.com", "secret").Return(grantResult(tok), nil)

	var mu sync.Mutex
	notifications := 0
	unsubscribe := f.manager.Subscribe(func() {
		mu.Lock()
		notifications++
		mu.Unlock()
	})

	f.manager.Login(context.Background(), "a@x.com", "secret", true)

	mu.Lock()
	seen := notifications
	mu.Unlock()
	assert.Greater(t, seen, 0)

	unsubscribe()
	mu.Lock()
	before := notifications
	mu.Unlock()

	f.manager.Logout()

	mu.Lock()
	after := notifications
	mu.Unlock()
	assert.Equal(t, before, after)
}

func TestFromContext_PanicsOutsideProvider(t *testing.T) {
	assert.Panics(t, func() {
		FromContext(context.Background())
	})
}

func TestFromContext_ReturnsProvidedSession(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := NewContext(context.Background(), f.manager)
	assert.Same(t, f.manager, FromContext(ctx))
}
