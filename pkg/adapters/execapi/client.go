// Package execapi is the HTTP client for the remote execution service: its
// application registry (apps) and its job submission endpoint (jobs).
package execapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aescanero/jobrelay/pkg/domain"
	"go.uber.org/zap"
)

// Config holds remote API client configuration
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *zap.Logger
	// HTTPClient overrides the default client, mainly for tests
	HTTPClient *http.Client
}

// Client talks to the remote apps and jobs APIs
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// envelope is the response wrapper used by the remote API
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Version string          `json:"version"`
	Result  json.RawMessage `json:"result"`
}

// NewClient creates a new remote API client
func NewClient(cfg *Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote API base URL: %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// GetApp looks up an application on the registry. Unknown or hidden apps
// yield a *domain.RemoteError matching domain.ErrAppNotFound.
func (c *Client) GetApp(ctx context.Context, appID string) (*domain.AppDetails, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.endpoint("apps/v2", url.PathEscape(appID)), nil)
	if err != nil {
		return nil, err
	}

	if status < 200 || status > 299 {
		rerr := remoteError("apps", status, body)
		switch status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			rerr.NotFound = true
		}
		return nil, rerr
	}

	var app domain.AppDetails
	if err := decodeResult(body, &app); err != nil {
		return nil, err
	}
	if app.ID == "" {
		app.ID = appID
	}
	return &app, nil
}

// SubmitJob posts a job definition and returns the accepted job's handle
func (c *Client) SubmitJob(ctx context.Context, payload map[string]interface{}) (*domain.ExecutionHandle, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job definition: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, c.endpoint("jobs/v2"), data)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, remoteError("jobs", status, body)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := decodeResult(body, &result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, fmt.Errorf("%w: jobs response has no id", domain.ErrMalformedResponse)
	}

	c.logger.Info("remote job submitted", zap.String("execution_id", result.ID))

	return &domain.ExecutionHandle{
		ID:  result.ID,
		URI: c.JobURI(result.ID),
	}, nil
}

// JobURI returns the canonical URI of a remote job
func (c *Client) JobURI(id string) string {
	return c.endpoint("jobs/v2", url.PathEscape(id))
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL.String() + "/" + strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request to %s failed: %w", target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("remote API call",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	return resp.StatusCode, data, nil
}

// decodeResult unwraps the envelope when present and decodes into out
func decodeResult(body []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	raw := json.RawMessage(body)
	if len(env.Result) > 0 && string(env.Result) != "null" {
		raw = env.Result
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	return nil
}

// remoteError builds a RemoteError, keeping the structured body as detail
func remoteError(service string, status int, body []byte) *domain.RemoteError {
	rerr := &domain.RemoteError{Service: service, StatusCode: status}

	var detail map[string]interface{}
	if err := json.Unmarshal(body, &detail); err == nil {
		rerr.Detail = detail
		if msg, ok := detail["message"].(string); ok {
			rerr.Message = msg
		}
	} else if len(body) > 0 {
		rerr.Message = strings.TrimSpace(string(body))
	}
	return rerr
}
