// Package authapi is the client for the remote authentication service.
// Server responses are duck-typed {success, token, user, message} documents;
// they are decoded here, at the boundary, into a tagged Result so nothing
// downstream has to trust loose fields.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-go/internal/types"
	"github.com/pkg/errors"
)

const (
	loginEndpoint      = "/login"
	googleEndpoint     = "/google-auth"
	sendCodeEndpoint   = "/send-code"
	verifyCodeEndpoint = "/verify-code"
)

// Result is the decoded outcome of an auth operation. OK distinguishes a
// granted session from a rejection; Message carries the server's user-facing
// reason on rejection.
type Result struct {
	OK       bool
	Token    string
	Identity *types.Identity
	Message  string
}

// Service handles authentication operations
type Service struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	logger     types.Logger
}

// NewService creates a new auth service
func NewService(baseURL string, httpClient *http.Client, logger types.Logger) *Service {
	headers := map[string]string{
		"Accept":          "application/json",
		"Content-Type":    "application/json",
		"Client-Platform": "web",
		"User-Agent":      types.UserAgent,
		"device-uuid":     uuid.New().String(),
	}

	return &Service{
		baseURL:    baseURL,
		httpClient: httpClient,
		headers:    headers,
		logger:     logger,
	}
}

// Login exchanges email and password for a session.
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	return s.post(ctx, loginEndpoint, map[string]interface{}{
		"email":    email,
		"password": password,
	}, true)
}

// LoginWithGoogle exchanges an OAuth credential for a session.
func (s *Service) LoginWithGoogle(ctx context.Context, credential string) (*Result, error) {
	return s.post(ctx, googleEndpoint, map[string]interface{}{
		"credential": credential,
	}, true)
}

// SendCode requests delivery of a one-time login code to email.
// This endpoint grants no session, so no token is expected back.
func (s *Service) SendCode(ctx context.Context, email string) (*Result, error) {
	return s.post(ctx, sendCodeEndpoint, map[string]interface{}{
		"email": email,
	}, false)
}

// VerifyCode exchanges a delivered one-time code for a session.
func (s *Service) VerifyCode(ctx context.Context, email, code string) (*Result, error) {
	return s.post(ctx, verifyCodeEndpoint, map[string]interface{}{
		"email": email,
		"code":  code,
	}, true)
}

// authResponse is the wire shape shared by all auth endpoints.
type authResponse struct {
	Success bool            `json:"success"`
	Token   string          `json:"token"`
	User    *types.Identity `json:"user"`
	Message string          `json:"message"`
}

// post issues the request and decodes the duck-typed response. grantsSession
// endpoints must return a token on success.
func (s *Service) post(ctx context.Context, endpoint string, reqBody map[string]interface{}, grantsSession bool) (*Result, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal auth request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create auth request")
	}

	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	if s.logger != nil {
		s.logger.Debug("Auth request", "endpoint", endpoint)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "auth request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read auth response")
	}

	if s.logger != nil {
		s.logger.Debug("Auth response", "endpoint", endpoint, "status", resp.StatusCode)
	}

	var decoded authResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, errors.Wrap(err, "failed to parse auth response")
	}

	// Rejections arrive both as success:false bodies and as non-2xx statuses;
	// either way the message is user-facing, not an error.
	if !decoded.Success || resp.StatusCode != http.StatusOK {
		return &Result{OK: false, Message: decoded.Message}, nil
	}

	if grantsSession && decoded.Token == "" {
		return nil, errors.New("no token in auth response")
	}

	return &Result{
		OK:       true,
		Token:    decoded.Token,
		Identity: decoded.User,
		Message:  decoded.Message,
	}, nil
}
