package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// TokenStore hands out the OAuth token of a mailbox owner
type TokenStore interface {
	Token(ctx context.Context, userID string) (*oauth2.Token, error)
}

// FileTokens serves the single token cached by the exchange command,
// whatever the owner
type FileTokens struct {
	Path string
}

func (f FileTokens) Token(_ context.Context, _ string) (*oauth2.Token, error) {
	return LoadToken(f.Path)
}

// TokenServiceClient fetches per-owner Google tokens from an external auth
// service that owns storage and refresh
type TokenServiceClient struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

// NewTokenServiceClient creates client to fetch tokens from the auth service
func NewTokenServiceClient(baseURL, serviceKey string) *TokenServiceClient {
	return &TokenServiceClient{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Token fetches the owner's Google token
func (c *TokenServiceClient) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	u := fmt.Sprintf("%s/api/auth/accounts/google/token?userId=%s", c.baseURL, url.QueryEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.serviceKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no google account connected for %s", userID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"` // unix timestamp
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &oauth2.Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Unix(result.ExpiresAt, 0),
	}, nil
}
