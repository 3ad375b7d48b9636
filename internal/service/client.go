package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okitz/groupledger/internal/models"
	"github.com/okitz/groupledger/internal/storage"
)

// envelope is the remote authority's uniform response shape. Code is a
// json.Number because some deployments send it as a string.
type envelope struct {
	Code    json.Number     `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) success() bool {
	switch e.Code.String() {
	case "0", "200":
		return true
	}
	return false
}

// Client speaks the authority's JSON envelope protocol. Every call
// attaches the cached bearer token; a 401 at either the HTTP or the
// envelope level clears local auth state and fails with ErrAuthExpired.
type Client struct {
	baseURL string
	http    *http.Client
	cache   storage.Cache
}

// NewClient creates a Client against baseURL, reading credentials from
// cache.
func NewClient(baseURL string, timeout time.Duration, cache storage.Cache) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cache:   cache,
	}
}

// do performs one envelope exchange. On success the envelope's data field
// is decoded into out (when out is non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, _, err := c.cache.Auth()
	if err != nil {
		return fmt.Errorf("failed to read auth state: %w", err)
	}
	if token == "" {
		return models.ErrAuthExpired
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return c.expireAuth()
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	if env.Code.String() == "401" {
		return c.expireAuth()
	}
	if !env.success() {
		code, _ := env.Code.Int64()
		return &models.RemoteError{Code: int(code), Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("malformed response data: %w", err)
		}
	}
	return nil
}

// expireAuth clears stored credentials so the next action goes through
// the re-login flow.
func (c *Client) expireAuth() error {
	if err := c.cache.ClearAuth(); err != nil {
		return fmt.Errorf("failed to clear auth state: %w", err)
	}
	return models.ErrAuthExpired
}
