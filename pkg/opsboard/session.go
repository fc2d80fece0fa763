package opsboard

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/opsboard/opsboard-go/internal/authapi"
	"github.com/opsboard/opsboard-go/internal/store"
	"github.com/opsboard/opsboard-go/internal/token"
)

// genericLoginFailure is shown when neither the server nor the transport
// supplied a usable message.
const genericLoginFailure = "Unable to sign in. Please try again."

// authAPI is the slice of the auth service the session manager consumes.
type authAPI interface {
	Login(ctx context.Context, email, password string) (*authapi.Result, error)
	LoginWithGoogle(ctx context.Context, credential string) (*authapi.Result, error)
	SendCode(ctx context.Context, email string) (*authapi.Result, error)
	VerifyCode(ctx context.Context, email, code string) (*authapi.Result, error)
}

// sessionTransport is the slice of the transport the session manager drives.
type sessionTransport interface {
	SetToken(token string)
}

// SessionManager is the single source of truth for "is the caller
// authenticated, as whom, and how was that established". All login variants
// convert failures into LoginResult values; nothing network-related escapes
// to the caller as an error.
type SessionManager struct {
	api            authAPI
	transport      sessionTransport
	store          *store.Store
	tracker        Tracker
	logger         Logger
	idleTimeout    time.Duration
	expirySkew     time.Duration
	activitySource ActivitySource
	now            func() time.Time

	mu            sync.Mutex
	identity      *Identity
	loading       bool
	errMsg        string
	idle          *IdleTimer
	unsubActivity func()
	subs          map[int]func()
	nextSub       int
}

type sessionConfig struct {
	api            authAPI
	transport      sessionTransport
	store          *store.Store
	tracker        Tracker
	logger         Logger
	idleTimeout    time.Duration
	expirySkew     time.Duration
	activitySource ActivitySource
}

func newSessionManager(cfg sessionConfig) *SessionManager {
	tracker := cfg.tracker
	if tracker == nil {
		tracker = NoopTracker{}
	}
	return &SessionManager{
		api:            cfg.api,
		transport:      cfg.transport,
		store:          cfg.store,
		tracker:        tracker,
		logger:         cfg.logger,
		idleTimeout:    cfg.idleTimeout,
		expirySkew:     cfg.expirySkew,
		activitySource: cfg.activitySource,
		now:            time.Now,
		loading:        true,
		subs:           make(map[int]func()),
	}
}

// Restore loads a persisted session, durable scope first. An undecodable or
// expired token, or a corrupt identity record, erases both scopes and leaves
// the session unauthenticated; none of that is surfaced as an error. The
// loading flag clears exactly once at the end, token or no token.
func (s *SessionManager) Restore() {
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		s.notify()
	}()

	raw, ok := s.store.Get(store.KeyToken)
	if !ok {
		return
	}

	if !token.Valid(raw, s.expirySkew, s.now()) {
		if s.logger != nil {
			s.logger.Debug("Discarding expired persisted session")
		}
		s.eraseSession()
		return
	}

	userJSON, ok := s.store.Get(store.KeyUser)
	if !ok {
		s.eraseSession()
		return
	}

	var identity Identity
	if err := json.Unmarshal([]byte(userJSON), &identity); err != nil {
		if s.logger != nil {
			s.logger.Warn("Discarding corrupt persisted identity", "error", err)
		}
		s.eraseSession()
		return
	}

	s.transport.SetToken(raw)

	s.mu.Lock()
	s.identity = &identity
	s.mu.Unlock()

	s.tracker.Identify(&identity)
	s.startIdleSupervision()

	if s.logger != nil {
		s.logger.Info("Session restored", "email", identity.Email)
	}
}

// Login exchanges email and password for a session. rememberMe picks the
// durable scope for persistence; false keeps the session for this process
// only.
func (s *SessionManager) Login(ctx context.Context, email, password string, rememberMe bool) LoginResult {
	s.beginAttempt()
	defer s.endAttempt()

	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return s.failAttempt(err.Error())
	}
	if !res.OK {
		return s.failAttempt(res.Message)
	}
	return s.completeAuth(res, rememberMe)
}

// LoginWithGoogle exchanges an OAuth credential for a session. This flow has
// no remember-me choice; it always persists durably.
func (s *SessionManager) LoginWithGoogle(ctx context.Context, credential string) LoginResult {
	s.beginAttempt()
	defer s.endAttempt()

	res, err := s.api.LoginWithGoogle(ctx, credential)
	if err != nil {
		return s.failAttempt(err.Error())
	}
	if !res.OK {
		return s.failAttempt(res.Message)
	}
	return s.completeAuth(res, true)
}

// SendLoginCode requests delivery of a one-time login code. It has no
// loading-flag side effect and persists nothing.
func (s *SessionManager) SendLoginCode(ctx context.Context, email string) LoginResult {
	res, err := s.api.SendCode(ctx, email)
	if err != nil {
		return LoginResult{Success: false, Message: messageOr(err.Error(), genericLoginFailure)}
	}
	return LoginResult{Success: res.OK, Message: res.Message}
}

// LoginWithCode verifies a delivered one-time code. Like the Google flow it
// always persists durably on success.
func (s *SessionManager) LoginWithCode(ctx context.Context, email, code string) LoginResult {
	s.beginAttempt()
	defer s.endAttempt()

	res, err := s.api.VerifyCode(ctx, email, code)
	if err != nil {
		return s.failAttempt(err.Error())
	}
	if !res.OK {
		return s.failAttempt(res.Message)
	}
	return s.completeAuth(res, true)
}

// Logout clears every trace of the session: tracker identity, both storage
// scopes, the transport token, the in-memory identity, and the idle timer.
func (s *SessionManager) Logout() {
	s.mu.Lock()
	identity := s.identity
	s.mu.Unlock()

	if identity != nil {
		s.tracker.Track("logout", map[string]interface{}{"email": identity.Email})
	}

	s.tracker.Clear()
	s.eraseSession()
	s.transport.SetToken("")

	s.mu.Lock()
	s.identity = nil
	s.mu.Unlock()

	s.stopIdleSupervision()
	s.notify()
}

// Identity returns the authenticated identity, or nil.
func (s *SessionManager) Identity() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	identity := *s.identity
	return &identity
}

// IsAuthenticated reports whether an identity is set.
func (s *SessionManager) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity != nil
}

// Loading reports whether a login or restore operation is in flight. Views
// must treat true as "identity unknown" and hold off rendering gated content.
func (s *SessionManager) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the last user-facing auth failure message, empty when none.
func (s *SessionManager) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Subscribe registers fn to run after every session state change and returns
// an unsubscribe function.
func (s *SessionManager) Subscribe(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// handleUnauthorized reacts to the transport's global 401 signal.
func (s *SessionManager) handleUnauthorized() {
	if s.logger != nil {
		s.logger.Info("Server rejected credentials, clearing session")
	}
	s.Logout()
}

// completeAuth is the shared authentication-succeeded handler. The remember
// preference always lands in the durable scope; the token and identity land
// in whichever scope the preference picks, and only that one.
func (s *SessionManager) completeAuth(res *authapi.Result, remember bool) LoginResult {
	identity := &Identity{}
	if res.Identity != nil {
		identity = &Identity{
			ID:    res.Identity.ID,
			Email: res.Identity.Email,
			Name:  res.Identity.Name,
			Role:  res.Identity.Role,
		}
	}

	scope := store.Ephemeral
	if remember {
		scope = store.Durable
	}

	if err := s.store.Set(store.Durable, store.KeyRemember, strconv.FormatBool(remember)); err != nil && s.logger != nil {
		s.logger.Warn("Failed to persist remember preference", "error", err)
	}
	if err := s.store.Set(scope, store.KeyToken, res.Token); err != nil && s.logger != nil {
		s.logger.Warn("Failed to persist token", "error", err)
	}
	if userJSON, err := json.Marshal(identity); err == nil {
		if err := s.store.Set(scope, store.KeyUser, string(userJSON)); err != nil && s.logger != nil {
			s.logger.Warn("Failed to persist identity", "error", err)
		}
	}

	s.transport.SetToken(res.Token)

	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()

	s.tracker.Identify(identity)
	s.tracker.Track("login succeeded", nil)
	s.startIdleSupervision()

	if s.logger != nil {
		s.logger.Info("Login successful", "email", identity.Email)
	}

	return LoginResult{Success: true}
}

// beginAttempt clears the prior error and raises the loading flag.
func (s *SessionManager) beginAttempt() {
	s.mu.Lock()
	s.errMsg = ""
	s.loading = true
	s.mu.Unlock()
	s.notify()
}

// endAttempt clears the loading flag whatever the outcome.
func (s *SessionManager) endAttempt() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
	s.notify()
}

// failAttempt records the failure signal, stores the user-facing message,
// and builds the structured result.
func (s *SessionManager) failAttempt(message string) LoginResult {
	message = messageOr(message, genericLoginFailure)

	s.tracker.Track("login failed", nil)

	s.mu.Lock()
	s.errMsg = message
	s.mu.Unlock()
	s.notify()

	return LoginResult{Success: false, Message: message}
}

// eraseSession wipes both storage scopes.
func (s *SessionManager) eraseSession() {
	if err := s.store.Clear(); err != nil && s.logger != nil {
		s.logger.Warn("Failed to clear session state", "error", err)
	}
}

// startIdleSupervision (re)arms the idle timer and attaches the activity
// listener. Runs whenever an identity is established.
func (s *SessionManager) startIdleSupervision() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idle != nil {
		s.idle.Stop()
	}
	s.idle = NewIdleTimer(s.idleTimeout, s.onIdleExpired)

	if s.activitySource != nil && s.unsubActivity == nil {
		s.unsubActivity = s.activitySource.Subscribe(s.onActivity)
	}
}

// stopIdleSupervision cancels the timer and detaches the activity listener.
func (s *SessionManager) stopIdleSupervision() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	if s.unsubActivity != nil {
		s.unsubActivity()
		s.unsubActivity = nil
	}
}

// onActivity resets the idle timer. Last write wins: the reset cancels the
// previously scheduled logout.
func (s *SessionManager) onActivity(ActivityKind) {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	if idle != nil {
		idle.Reset()
	}
}

// onIdleExpired fires at most once per armed timer.
func (s *SessionManager) onIdleExpired() {
	if s.logger != nil {
		s.logger.Info("Idle timeout reached, logging out")
	}
	s.Logout()
}

// notify invokes subscribers outside the lock.
func (s *SessionManager) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func messageOr(message, fallback string) string {
	if message != "" {
		return message
	}
	return fallback
}
