package opsboard

import (
	"context"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/opsboard/opsboard-go/internal/authapi"
	"github.com/opsboard/opsboard-go/internal/store"
	"github.com/opsboard/opsboard-go/internal/transport"
	internalTypes "github.com/opsboard/opsboard-go/internal/types"
)

const (
	// DefaultBaseURL is the default OpsBoard API base URL
	DefaultBaseURL = "https://api.opsboard.io"

	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 30 * time.Second

	// DefaultIdleTimeout is the inactivity window before auto-logout
	DefaultIdleTimeout = 15 * time.Minute

	// DefaultExpirySkew is the safety buffer applied to token expiry checks
	DefaultExpirySkew = 60 * time.Second

	// UserAgent is the user agent string
	UserAgent = "opsboard-go/1.0.0"
)

// Client is the main OpsBoard API client
type Client struct {
	// Session is the single source of truth for authenticated-identity state
	Session *SessionManager

	// Metrics serves the dashboard read models polled by views
	Metrics MetricsService

	// Internal fields
	baseURL    string
	httpClient *http.Client
	transport  Transport
	options    *ClientOptions
}

// ClientOptions configures the client
type ClientOptions struct {
	// BaseURL overrides the default API base URL
	BaseURL string

	// HTTPClient allows using a custom HTTP client
	HTTPClient *http.Client

	// Timeout sets the HTTP client timeout
	Timeout time.Duration

	// SessionStatePath is where the durable session scope is persisted.
	// Empty disables durable persistence.
	SessionStatePath string

	// IdleTimeout is the inactivity window before auto-logout
	IdleTimeout time.Duration

	// ExpirySkew is the safety buffer applied to token expiry checks
	ExpirySkew time.Duration

	// ActivitySource feeds user-activity events to the idle supervisor
	ActivitySource ActivitySource

	// Tracker receives identity and auth lifecycle signals
	Tracker Tracker

	// Logger for debug logging
	Logger Logger

	// RetryConfig configures retry behavior
	RetryConfig *internalTypes.RetryConfig

	// Hooks for observability
	Hooks *internalTypes.Hooks

	// SentryDSN enables Sentry error tracking when set
	SentryDSN string

	// SentryOptions allows custom Sentry configuration
	SentryOptions *sentry.ClientOptions
}

// Logger interface for logging
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Transport issues authenticated requests against the API
type Transport interface {
	Do(ctx context.Context, method, path string, body, result interface{}) error
	SetToken(token string)
	SetOnUnauthorized(fn func())
}

// NewClient creates a new OpsBoard client. The session restore step runs
// before NewClient returns, so callers can gate rendering on
// Session.Loading() immediately.
func NewClient(opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = &ClientOptions{}
	}

	// Initialize Sentry if DSN is provided
	if opts.SentryDSN != "" || opts.SentryOptions != nil {
		sentryOpts := sentry.ClientOptions{}

		if opts.SentryOptions != nil {
			sentryOpts = *opts.SentryOptions
		}

		if opts.SentryDSN != "" {
			sentryOpts.Dsn = opts.SentryDSN
		}

		if sentryOpts.Environment == "" {
			sentryOpts.Environment = "production"
		}

		if err := sentry.Init(sentryOpts); err != nil {
			// Log error but don't fail client creation
			if opts.Logger != nil {
				opts.Logger.Error("Failed to initialize Sentry", "error", err)
			}
		}
	}

	// Set defaults
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: DefaultTimeout,
		}
	}

	if opts.Timeout > 0 {
		opts.HTTPClient.Timeout = opts.Timeout
	}

	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}

	if opts.ExpirySkew <= 0 {
		opts.ExpirySkew = DefaultExpirySkew
	}

	if opts.Tracker == nil {
		if opts.SentryDSN != "" || opts.SentryOptions != nil {
			opts.Tracker = NewSentryTracker()
		} else {
			opts.Tracker = NoopTracker{}
		}
	}

	// Create transport using the internal package
	trans := transport.New(&transport.Options{
		BaseURL:     opts.BaseURL,
		HTTPClient:  opts.HTTPClient,
		RetryConfig: opts.RetryConfig,
		Logger:      opts.Logger,
		Hooks:       opts.Hooks,
	})

	c := &Client{
		baseURL:    opts.BaseURL,
		httpClient: opts.HTTPClient,
		transport:  trans,
		options:    opts,
	}

	c.Metrics = &metricsService{client: c}

	sessionStore := store.New(opts.SessionStatePath, opts.Logger)
	authService := authapi.NewService(opts.BaseURL, opts.HTTPClient, opts.Logger)

	c.Session = newSessionManager(sessionConfig{
		api:            authService,
		transport:      trans,
		store:          sessionStore,
		tracker:        opts.Tracker,
		logger:         opts.Logger,
		idleTimeout:    opts.IdleTimeout,
		expirySkew:     opts.ExpirySkew,
		activitySource: opts.ActivitySource,
	})

	// A 401 anywhere means the token is no longer honored. React exactly
	// like a logout.
	trans.SetOnUnauthorized(c.Session.handleUnauthorized)

	// Restore-on-start completes, including its loading-flag clear, before
	// any protected view can consult the session.
	c.Session.Restore()

	return c, nil
}

// NewPoller creates a poller bound to this client's defaults. Callers supply
// sources and callbacks through opts.
func (c *Client) NewPoller(opts *PollerOptions) (*Poller, error) {
	if opts == nil {
		opts = &PollerOptions{}
	}
	if opts.Logger == nil {
		opts.Logger = c.options.Logger
	}
	return NewPoller(opts)
}

// NewDashboardPoller creates a poller over the standard dashboard sources.
func (c *Client) NewDashboardPoller(onData func(*DashboardData), onError func(error)) (*Poller, error) {
	return c.NewPoller(&PollerOptions{
		Sources:   DashboardSources(c.Metrics),
		Aggregate: AggregateDashboard,
		OnData: func(v interface{}) {
			if onData != nil {
				onData(v.(*DashboardData))
			}
		},
		OnError: onError,
	})
}

// Close flushes any pending Sentry events and performs cleanup
func (c *Client) Close() {
	c.Session.stopIdleSupervision()
	// Flush Sentry events with a 2 second timeout
	sentry.Flush(2 * time.Second)
}
