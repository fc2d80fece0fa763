package opsboard

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
)

// MetricsService serves the dashboard read models
type MetricsService interface {
	// Summary retrieves the aggregate dashboard counts
	Summary(ctx context.Context) (*DashboardSummary, error)

	// RecentActivity retrieves the recent-activity feed
	RecentActivity(ctx context.Context) ([]*ActivityEntry, error)

	// Health retrieves backend service health
	Health(ctx context.Context) (*SystemHealth, error)
}

// metricsService implements the MetricsService interface
type metricsService struct {
	client *Client
}

func (m *metricsService) Summary(ctx context.Context) (*DashboardSummary, error) {
	var result DashboardSummary
	if err := m.client.transport.Do(ctx, http.MethodGet, "/dashboard/summary", nil, &result); err != nil {
		return nil, errors.Wrap(err, "failed to fetch dashboard summary")
	}
	return &result, nil
}

func (m *metricsService) RecentActivity(ctx context.Context) ([]*ActivityEntry, error) {
	var result struct {
		Activity []*ActivityEntry `json:"activity"`
	}
	if err := m.client.transport.Do(ctx, http.MethodGet, "/dashboard/activity", nil, &result); err != nil {
		return nil, errors.Wrap(err, "failed to fetch recent activity")
	}
	return result.Activity, nil
}

func (m *metricsService) Health(ctx context.Context) (*SystemHealth, error) {
	var result SystemHealth
	if err := m.client.transport.Do(ctx, http.MethodGet, "/dashboard/health", nil, &result); err != nil {
		return nil, errors.Wrap(err, "failed to fetch system health")
	}
	return &result, nil
}

// Poll source names for the standard dashboard cycle.
const (
	sourceSummary  = "summary"
	sourceActivity = "activity"
	sourceHealth   = "health"
)

// DashboardSources builds the standard poll sources over a metrics service.
func DashboardSources(m MetricsService) []Source {
	return []Source{
		{Name: sourceSummary, Fetch: func(ctx context.Context) (interface{}, error) {
			return m.Summary(ctx)
		}},
		{Name: sourceActivity, Fetch: func(ctx context.Context) (interface{}, error) {
			return m.RecentActivity(ctx)
		}},
		{Name: sourceHealth, Fetch: func(ctx context.Context) (interface{}, error) {
			return m.Health(ctx)
		}},
	}
}

// AggregateDashboard combines the standard sources into DashboardData.
// A missing segment stays at its neutral zero value; every segment missing
// means the backend is unreachable and the cycle fails as a whole.
func AggregateDashboard(results map[string]interface{}) (interface{}, error) {
	data := &DashboardData{}

	summary, okSummary := results[sourceSummary].(*DashboardSummary)
	if okSummary {
		data.Summary = summary
	}
	activity, okActivity := results[sourceActivity].([]*ActivityEntry)
	if okActivity {
		data.Activity = activity
	}
	health, okHealth := results[sourceHealth].(*SystemHealth)
	if okHealth {
		data.Health = health
	}

	if !okSummary && !okActivity && !okHealth {
		return nil, errors.New("all dashboard sources failed")
	}
	return data, nil
}
