package opsboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a minimal OpsBoard API for end-to-end client tests.
type fakeBackend struct {
	mu      sync.Mutex
	token   string
	revoked bool
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if body["password"] != "secret" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"message": "Invalid credentials",
			})
			return
		}

		b.mu.Lock()
		token := b.token
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"token":   token,
			"user":    map[string]string{"id": "u1", "email": body["email"], "role": "admin"},
		})
	})

	mux.HandleFunc("/dashboard/summary", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		token, revoked := b.token, b.revoked
		b.mu.Unlock()

		if revoked || r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"totalUsers":42,"activeSessions":3,"openAlerts":1,"pendingTasks":9}`))
	})

	return mux
}

func (b *fakeBackend) revoke() {
	b.mu.Lock()
	b.revoked = true
	b.mu.Unlock()
}

func newTestClient(t *testing.T, backend *fakeBackend, statePath string) *Client {
	t.Helper()
	server := httptest.NewServer(backend.handler(t))
	t.Cleanup(server.Close)

	client, err := NewClient(&ClientOptions{
		BaseURL:          server.URL,
		HTTPClient:       server.Client(),
		SessionStatePath: statePath,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestClient_LoginAndAuthenticatedFetch(t *testing.T) {
	backend := &fakeBackend{token: mintToken(t, time.Now().Add(time.Hour))}
	statePath := filepath.Join(t.TempDir(), "session.json")
	client := newTestClient(t, backend, statePath)

	// Restore ran during NewClient; with no persisted state the session is
	// settled and unauthenticated.
	assert.False(t, client.Session.Loading())
	assert.False(t, client.Session.IsAuthenticated())

	result := client.Session.Login(context.Background(), "a@x.com", "secret", true)
	require.True(t, result.Success)
	require.True(t, client.Session.IsAuthenticated())

	summary, err := client.Metrics.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, summary.TotalUsers)
}

func TestClient_RestoresAcrossInstances(t *testing.T) {
	backend := &fakeBackend{token: mintToken(t, time.Now().Add(time.Hour))}
	statePath := filepath.Join(t.TempDir(), "session.json")

	first := newTestClient(t, backend, statePath)
	require.True(t, first.Session.Login(context.Background(), "a@x.com", "secret", true).Success)

	// A fresh client over the same state path picks the session back up and
	// can make authenticated calls without another login.
	second := newTestClient(t, backend, statePath)
	require.True(t, second.Session.IsAuthenticated())
	assert.Equal(t, "a@x.com", second.Session.Identity().Email)

	_, err := second.Metrics.Summary(context.Background())
	assert.NoError(t, err)
}

func TestClient_NoRememberDoesNotSurviveRestart(t *testing.T) {
	backend := &fakeBackend{token: mintToken(t, time.Now().Add(time.Hour))}
	statePath := filepath.Join(t.TempDir(), "session.json")

	first := newTestClient(t, backend, statePath)
	require.True(t, first.Session.Login(context.Background(), "a@x.com", "secret", false).Success)
	require.True(t, first.Session.IsAuthenticated())

	second := newTestClient(t, backend, statePath)
	assert.False(t, second.Session.IsAuthenticated())
}

func TestClient_UnauthorizedResponseClearsSession(t *testing.T) {
	backend := &fakeBackend{token: mintToken(t, time.Now().Add(time.Hour))}
	statePath := filepath.Join(t.TempDir(), "session.json")
	client := newTestClient(t, backend, statePath)

	require.True(t, client.Session.Login(context.Background(), "a@x.com", "secret", true).Success)
	backend.revoke()

	_, err := client.Metrics.Summary(context.Background())
	assert.True(t, IsAuthError(err))

	// The global 401 signal mirrored a logout
	assert.False(t, client.Session.IsAuthenticated())

	// And the persisted session is gone too
	second := newTestClient(t, backend, statePath)
	assert.False(t, second.Session.IsAuthenticated())
}

func TestClient_InvalidCredentialsSurfaceServerMessage(t *testing.T) {
	backend := &fakeBackend{token: mintToken(t, time.Now().Add(time.Hour))}
	client := newTestClient(t, backend, filepath.Join(t.TempDir(), "session.json"))

	result := client.Session.Login(context.Background(), "a@x.com", "wrong", true)
	assert.False(t, result.Success)
	assert.Equal(t, "Invalid credentials", result.Message)
	assert.False(t, client.Session.IsAuthenticated())
}

func TestClient_ExpiredPersistedSessionDiscardedOnStart(t *testing.T) {
	backend := &fakeBackend{token: mintToken(t, time.Now().Add(30*time.Second))}
	statePath := filepath.Join(t.TempDir(), "session.json")

	first := newTestClient(t, backend, statePath)
	require.True(t, first.Session.Login(context.Background(), "a@x.com", "secret", true).Success)

	// The token expires inside the skew window, so the next start treats the
	// persisted session as expired.
	second := newTestClient(t, backend, statePath)
	assert.False(t, second.Session.IsAuthenticated())
	assert.False(t, second.Session.Loading())
}

func TestClient_DashboardPoller(t *testing.T) {
	backend := &fakeBackend{token: mintToken(t, time.Now().Add(time.Hour))}
	client := newTestClient(t, backend, filepath.Join(t.TempDir(), "session.json"))
	require.True(t, client.Session.Login(context.Background(), "a@x.com", "secret", true).Success)

	data := make(chan *DashboardData, 1)
	poller, err := client.NewDashboardPoller(func(d *DashboardData) {
		select {
		case data <- d:
		default:
		}
	}, nil)
	require.NoError(t, err)
	require.NoError(t, poller.Start())
	defer poller.Stop()

	select {
	case d := <-data:
		// Only the summary endpoint exists on the fake backend; the other
		// segments degrade to their neutral defaults.
		require.NotNil(t, d.Summary)
		assert.Equal(t, 42, d.Summary.TotalUsers)
		assert.Nil(t, d.Health)
	case <-time.After(2 * time.Second):
		t.Fatal("dashboard poller never delivered data")
	}
}
