package opsboard

import "github.com/getsentry/sentry-go"

// Tracker is the observability collaborator: it learns who the user is and
// which auth lifecycle events occurred. It is always injected, never reached
// for as ambient state.
type Tracker interface {
	// Identify associates subsequent events with identity
	Identify(identity *Identity)

	// Track records a named lifecycle event
	Track(event string, props map[string]interface{})

	// Clear drops the associated identity
	Clear()
}

// NoopTracker discards everything.
type NoopTracker struct{}

func (NoopTracker) Identify(*Identity)                   {}
func (NoopTracker) Track(string, map[string]interface{}) {}
func (NoopTracker) Clear()                               {}

// SentryTracker reports identity and lifecycle events to Sentry: the user on
// the current scope, lifecycle events as auth breadcrumbs.
type SentryTracker struct{}

// NewSentryTracker creates a Sentry-backed tracker. sentry.Init must have
// run before events are recorded; the client handles that when a DSN is
// configured.
func NewSentryTracker() *SentryTracker {
	return &SentryTracker{}
}

func (t *SentryTracker) Identify(identity *Identity) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{
			ID:       identity.ID,
			Email:    identity.Email,
			Username: identity.Name,
		})
	})
}

func (t *SentryTracker) Track(event string, props map[string]interface{}) {
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category: "auth",
		Message:  event,
		Data:     props,
		Level:    sentry.LevelInfo,
	})
}

func (t *SentryTracker) Clear() {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{})
	})
}
