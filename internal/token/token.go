// Package token issues the access tokens channels present on connect.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/livekit/protocol/auth"
)

// Provider returns an access token scoped to one channel id.
type Provider interface {
	AccessToken(ctx context.Context, channelID string) (string, error)
}

// expirySlack is how long before the recorded expiry a cached token is
// considered stale.
const expirySlack = 30 * time.Second

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// HTTPProvider fetches tokens from the external issuer endpoint and caches
// them per channel until shortly before expiry.
type HTTPProvider struct {
	issuerURL string
	apiKey    string
	client    *http.Client

	mu    sync.Mutex
	cache map[string]cachedToken
}

// NewHTTPProvider builds a provider against the issuer endpoint.
func NewHTTPProvider(issuerURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		issuerURL: issuerURL,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 10 * time.Second},
		cache:     make(map[string]cachedToken),
	}
}

// AccessToken returns a token for the channel, reusing a cached one while it
// is still comfortably inside its validity window.
func (p *HTTPProvider) AccessToken(ctx context.Context, channelID string) (string, error) {
	p.mu.Lock()
	if c, ok := p.cache[channelID]; ok && time.Until(c.expiresAt) > expirySlack {
		p.mu.Unlock()
		return c.token, nil
	}
	p.mu.Unlock()

	tok, err := p.fetch(ctx, channelID)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cache[channelID] = cachedToken{token: tok, expiresAt: tokenExpiry(tok)}
	p.mu.Unlock()
	return tok, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, channelID string) (string, error) {
	q := url.Values{}
	q.Set("api_key", p.apiKey)
	q.Set("channel_id", channelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.issuerURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token issuer returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token issuer returned empty token")
	}
	return payload.AccessToken, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the token
// is opaque to us and only the relay verifies it. Tokens without a readable
// expiry are treated as already stale so every use re-fetches.
func tokenExpiry(tok string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// LocalProvider mints room-join tokens locally when the API secret is
// configured, removing the issuer round trip.
type LocalProvider struct {
	apiKey    string
	apiSecret string
	identity  string
	validity  time.Duration
}

// NewLocalProvider builds a minting provider for the given identity.
func NewLocalProvider(apiKey, apiSecret, identity string) *LocalProvider {
	return &LocalProvider{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		identity:  identity,
		validity:  time.Hour,
	}
}

// AccessToken mints a join token scoped to the channel.
func (p *LocalProvider) AccessToken(_ context.Context, channelID string) (string, error) {
	at := auth.NewAccessToken(p.apiKey, p.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     channelID,
	}
	at.AddGrant(grant).
		SetIdentity(p.identity).
		SetValidFor(p.validity)

	tok, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("mint access token: %w", err)
	}
	return tok, nil
}
