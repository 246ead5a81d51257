package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TokenProvider supplies the bearer token for outbound calls. The agent
// token source in this package implements it; tests use a literal.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed value.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// baseClient is the shared HTTP plumbing for all collaborator clients:
// JSON round-trips, header propagation, and error mapping.
type baseClient struct {
	service    string
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	apiKey     string
	serviceID  string
	logger     *slog.Logger
}

func newBaseClient(service, baseURL, serviceID string, tokens TokenProvider, timeout time.Duration) *baseClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &baseClient{
		service:    service,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		serviceID:  serviceID,
		logger:     slog.Default().With("client", service),
	}
}

// doJSON posts body as JSON to path and decodes a 2xx response into
// out. Non-2xx responses become *APIError; transport failures are
// tagged retryable.
func (c *baseClient) doJSON(ctx context.Context, method, path string, body, out any, opts CallOptions) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.setHeaders(ctx, req, opts); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Join(errConnection, fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Service: c.service, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *baseClient) setHeaders(ctx context.Context, req *http.Request, opts CallOptions) error {
	if c.serviceID != "" {
		req.Header.Set(HeaderService, c.serviceID)
	}
	if opts.OrgID != "" {
		req.Header.Set(HeaderOrgID, opts.OrgID)
	}
	if opts.TraceID != "" {
		req.Header.Set(HeaderTraceID, opts.TraceID)
	}
	if opts.AsUserID != "" {
		req.Header.Set(HeaderAsUserID, opts.AsUserID)
	}

	token := opts.Token
	if token == "" && c.tokens != nil {
		t, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("obtain token: %w", err)
		}
		token = t
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if c.apiKey != "" {
		req.Header.Set(HeaderAPIKey, c.apiKey)
	}
	return nil
}
