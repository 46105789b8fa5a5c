package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrAuthInvalid rejects a token the identity service does not
// recognize.
var ErrAuthInvalid = errors.New("auth invalid")

// TokenResolver maps an auth token to a userID. Identity is an external
// collaborator; the engine only ever sees the opaque userID.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// IdentityClient resolves tokens against the external identity service.
type IdentityClient struct {
	baseURL string
	client  *http.Client
}

// NewIdentityClient creates a client for the identity service at
// baseURL.
func NewIdentityClient(baseURL string) *IdentityClient {
	return &IdentityClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Resolve verifies the token and returns the owning userID.
func (c *IdentityClient) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrAuthInvalid
	}

	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return "", fmt.Errorf("marshal verify request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session/verify", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound:
		return "", ErrAuthInvalid
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	var out struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode verify response: %w", err)
	}
	if out.UserID == "" {
		return "", ErrAuthInvalid
	}
	return out.UserID, nil
}
