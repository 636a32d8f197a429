package envoy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultLoginURL = "https://enlighten.enphaseenergy.com/login/login.json"
	defaultTokenURL = "https://entrez.enphaseenergy.com/tokens"

	// tokens without a readable expiry are renewed after this long
	defaultTokenLifetime = 12 * time.Hour
	tokenExpiryBuffer    = 30 * time.Second
)

// enlightenSource logs in to Enlighten and requests an Envoy owner token.
type enlightenSource struct {
	ctx      context.Context
	client   *http.Client
	loginURL string
	tokenURL string
	email    string
	password string
	serial   string
	now      func() time.Time
}

type loginResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *enlightenSource) Token() (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("user[email]", s.email)
	form.Set("user[password]", s.password)
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enlighten login: %w", err)
	}
	var login loginResponse
	err = decodeJSON(resp, &login)
	if err != nil {
		return nil, fmt.Errorf("enlighten login: %w", err)
	}
	if login.SessionID == "" {
		return nil, fmt.Errorf("enlighten login: no session (%s)", login.Message)
	}

	body, err := json.Marshal(map[string]string{
		"session_id": login.SessionID,
		"serial_num": s.serial,
		"username":   s.email,
	})
	if err != nil {
		return nil, err
	}
	req, err = http.NewRequestWithContext(s.ctx, http.MethodPost, s.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err = s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("envoy token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("envoy token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("envoy token: status %d", resp.StatusCode)
	}
	access := strings.TrimSpace(string(raw))
	if access == "" {
		return nil, errors.New("envoy token: empty token")
	}
	expiry, ok := jwtExpiry(access)
	if !ok {
		expiry = s.now().Add(defaultTokenLifetime)
	}
	return &oauth2.Token{AccessToken: access, TokenType: "Bearer", Expiry: expiry}, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// jwtExpiry reads the exp claim without verifying the signature.
func jwtExpiry(tok string) (time.Time, bool) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, false
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.Exp, 0), true
}

// tokenCache reuses a token until shortly before it expires. Invalidate
// forces a new one, for when the Envoy rejects the current token.
type tokenCache struct {
	src    oauth2.TokenSource
	buffer time.Duration
	now    func() time.Time

	mu  sync.Mutex
	tok *oauth2.Token
}

func newTokenCache(src oauth2.TokenSource, buffer time.Duration) *tokenCache {
	return &tokenCache{src: src, buffer: buffer, now: time.Now}
}

func (c *tokenCache) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tok != nil && (c.tok.Expiry.IsZero() || c.now().Add(c.buffer).Before(c.tok.Expiry)) {
		return c.tok, nil
	}
	tok, err := c.src.Token()
	if err != nil {
		return nil, err
	}
	c.tok = tok
	return tok, nil
}

func (c *tokenCache) Invalidate() {
	c.mu.Lock()
	c.tok = nil
	c.mu.Unlock()
}
