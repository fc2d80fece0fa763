package opsboard

import "context"

type sessionCtxKey struct{}

// NewContext returns a context carrying the session manager. Views receive
// their session through this provider context.
func NewContext(ctx context.Context, session *SessionManager) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, session)
}

// FromContext returns the session manager from ctx. Calling it outside a
// provider context is a programming error, not a runtime condition, and
// panics so it is caught in development.
func FromContext(ctx context.Context) *SessionManager {
	session, ok := ctx.Value(sessionCtxKey{}).(*SessionManager)
	if !ok {
		panic("opsboard: FromContext called outside a session provider context")
	}
	return session
}
