package clients

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Identity is the client for the Identity service: token introspection
// and agent token minting.
type Identity struct {
	base  *baseClient
	retry RetryPolicy
}

// NewIdentity creates an Identity client. Identity calls authenticate
// with the service API key rather than a bearer token.
func NewIdentity(baseURL, serviceID, apiKey string, timeout time.Duration) *Identity {
	base := newBaseClient("identity", baseURL, serviceID, nil, timeout)
	base.apiKey = apiKey
	return &Identity{base: base, retry: DefaultRetryPolicy()}
}

// Introspect validates a token and returns its envelope. An inactive
// token comes back with Active=false, not an error.
func (c *Identity) Introspect(ctx context.Context, token string) (*Introspection, error) {
	var out Introspection
	err := withRetry(ctx, c.retry, func() error {
		return c.base.doJSON(ctx, http.MethodPost, "/api/auth/introspect", map[string]string{"token": token}, &out, CallOptions{})
	})
	if err != nil {
		return nil, fmt.Errorf("introspect token: %w", err)
	}
	return &out, nil
}

type agentTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MintAgentToken exchanges the agent credential for a short-lived
// bearer token.
func (c *Identity) MintAgentToken(ctx context.Context, agentID, credential string) (string, time.Time, error) {
	var out agentTokenResponse
	body := map[string]string{"agentId": agentID, "credential": credential}
	err := withRetry(ctx, c.retry, func() error {
		return c.base.doJSON(ctx, http.MethodPost, "/api/auth/agent-token", body, &out, CallOptions{})
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("mint agent token: %w", err)
	}
	return out.Token, out.ExpiresAt, nil
}

// AgentTokenSource is a TokenProvider that mints and caches an agent
// token, refreshing it shortly before expiry or on demand.
type AgentTokenSource struct {
	identity   *Identity
	agentID    string
	credential string

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewAgentTokenSource creates a token source for the given agent
// identity. The credential comes from the environment, never from
// source or config files.
func NewAgentTokenSource(identity *Identity, agentID, credential string) *AgentTokenSource {
	return &AgentTokenSource{identity: identity, agentID: agentID, credential: credential}
}

// Token returns a valid cached token, minting a fresh one when the
// cache is empty or within a minute of expiry.
func (s *AgentTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && (s.expires.IsZero() || time.Until(s.expires) > time.Minute) {
		return s.token, nil
	}
	return s.refreshLocked(ctx)
}

// Refresh discards the cached token and mints a new one. The
// coordinator calls this once when an action reports an auth failure.
func (s *AgentTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return s.refreshLocked(ctx)
}

func (s *AgentTokenSource) refreshLocked(ctx context.Context) (string, error) {
	token, expires, err := s.identity.MintAgentToken(ctx, s.agentID, s.credential)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = expires
	return token, nil
}
