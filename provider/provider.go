// Package provider implements the client side of the three-leg
// authorization-code flow for the identity providers the portal accepts.
// Each vendor is one implementation of the Provider interface; the engine
// never branches on a provider name.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrExchangeFailed reports that the token endpoint rejected the
	// authorization code.
	ErrExchangeFailed = errors.New("code exchange failed")
	// ErrNoEmail reports that no email address could be recovered for the
	// authenticated subject.
	ErrNoEmail = errors.New("no email returned")
	// ErrMisconfigured reports missing client credentials or endpoints.
	ErrMisconfigured = errors.New("provider misconfigured")
)

// Config carries the per-provider credentials and endpoints. Every field
// is explicit; nothing is read from the environment. Endpoint overrides
// exist for the vendors' sovereign-cloud variants and for tests.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string

	AuthEndpoint     string
	TokenEndpoint    string
	UserInfoEndpoint string
	EmailEndpoint    string

	// HTTPClient must have a bounded timeout; the engine injects one.
	HTTPClient *http.Client
}

// Identity is the normalized subject returned by every provider.
type Identity struct {
	SubjectID   string
	Email       string
	DisplayName string
}

// Provider drives one vendor's authorization-code flow.
type Provider interface {
	Name() string
	// AuthorizeURL returns the fully formed authorization redirect for the
	// given state and redirect URI. No side effects.
	AuthorizeURL(state, redirectURI string) string
	// Exchange swaps the authorization code for an access token. The code
	// is single-use at the provider, so this call is never retried.
	Exchange(ctx context.Context, code, redirectURI string) (string, error)
	// Identity fetches and normalizes the subject behind the access
	// token, including any secondary email lookup the vendor requires.
	Identity(ctx context.Context, accessToken string) (Identity, error)
}

func (c Config) validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return ErrMisconfigured
	}
	return nil
}

func (c Config) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func authorizeURL(endpoint, clientID, redirectURI, state string, scopes []string) string {
	v := url.Values{}
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	v.Set("response_type", "code")
	v.Set("state", state)
	if len(scopes) > 0 {
		v.Set("scope", strings.Join(scopes, " "))
	}
	return endpoint + "?" + v.Encode()
}

// exchangeCode performs the code-for-token POST shared by all vendors.
func exchangeCode(ctx context.Context, cfg Config, code, redirectURI string) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := cfg.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrExchangeFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrExchangeFailed)
	}
	return payload.AccessToken, nil
}

// getJSON performs an authorized GET and decodes the JSON response into
// out. Safe to call repeatedly; user-info fetches are idempotent.
func getJSON(ctx context.Context, cfg Config, endpoint, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := cfg.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("userinfo status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
