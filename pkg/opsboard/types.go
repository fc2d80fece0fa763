package opsboard

import "time"

// Identity is the authenticated user record supplied to protected views.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// LoginResult is the structured outcome of a login attempt. Network and
// credential failures both land here; nothing auth-related is surfaced to
// callers as an error.
type LoginResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ActivityKind identifies a user-activity event that resets the idle timer.
type ActivityKind string

const (
	ActivityPointerDown ActivityKind = "pointerdown"
	ActivityKeyDown     ActivityKind = "keydown"
	ActivityScroll      ActivityKind = "scroll"
	ActivityTouchStart  ActivityKind = "touchstart"
)

// ActivitySource delivers user-activity events to the session manager.
// Subscribe returns an unsubscribe function.
type ActivitySource interface {
	Subscribe(fn func(ActivityKind)) (unsubscribe func())
}

// VisibilitySource delivers page visibility transitions to pollers.
// Subscribe returns an unsubscribe function.
type VisibilitySource interface {
	Subscribe(fn func(visible bool)) (unsubscribe func())
}

// DashboardSummary holds the aggregate counts shown on the dashboard.
type DashboardSummary struct {
	TotalUsers     int `json:"totalUsers"`
	ActiveSessions int `json:"activeSessions"`
	OpenAlerts     int `json:"openAlerts"`
	PendingTasks   int `json:"pendingTasks"`
}

// ActivityEntry is one row of the recent-activity feed.
type ActivityEntry struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SystemHealth describes backend service health.
type SystemHealth struct {
	Status     string  `json:"status"`
	APILatency float64 `json:"apiLatencyMs"`
	QueueDepth int     `json:"queueDepth"`
	Degraded   bool    `json:"degraded"`
}

// DashboardData is the aggregated result of one poll cycle. A failed
// sub-source leaves its segment at the neutral zero value rather than
// failing the cycle.
type DashboardData struct {
	Summary  *DashboardSummary `json:"summary"`
	Activity []*ActivityEntry  `json:"activity"`
	Health   *SystemHealth     `json:"health"`
}
