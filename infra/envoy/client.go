// Package envoy reads production and consumption from an Enphase Envoy
// gateway and smooths them into the power budget used by the scheduler.
package envoy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/kilianp07/pipump/core/logger"
	"github.com/kilianp07/pipump/core/monitoring"
	"github.com/kilianp07/pipump/core/power"
)

// Config for the Envoy client. Without credentials requests are sent
// unauthenticated, as older firmware expects.
type Config struct {
	Host        string `json:"host" yaml:"host"`
	Scheme      string `json:"scheme" yaml:"scheme,omitempty"`
	InsecureTLS bool   `json:"insecure_tls" yaml:"insecure_tls,omitempty"`
	Token       string `json:"token" yaml:"token,omitempty"`
	Email       string `json:"email" yaml:"email,omitempty"`
	Password    string `json:"password" yaml:"password,omitempty"`
	Serial      string `json:"serial" yaml:"serial,omitempty"`
	LoginURL    string `json:"login_url" yaml:"login_url,omitempty"`
	TokenURL    string `json:"token_url" yaml:"token_url,omitempty"`
	TimeoutMs   int    `json:"timeout_ms" yaml:"timeout_ms,omitempty"`
	MaxRetries  int    `json:"max_retries" yaml:"max_retries,omitempty"`
	BackoffMs   int    `json:"backoff_ms" yaml:"backoff_ms,omitempty"`
	Window      int    `json:"window" yaml:"window,omitempty"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 10000
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.BackoffMs == 0 {
		c.BackoffMs = 500
	}
	if c.Window == 0 {
		c.Window = power.DefaultWindow
	}
	if c.LoginURL == "" {
		c.LoginURL = defaultLoginURL
	}
	if c.TokenURL == "" {
		c.TokenURL = defaultTokenURL
	}
}

// ErrUnauthorized is returned when the Envoy rejects the token.
var ErrUnauthorized = errors.New("envoy: unauthorized")

// Client polls production.json and implements power.Source.
type Client struct {
	*power.Smoother

	cfg    Config
	url    string
	http   *http.Client
	tokens *tokenCache
	log    logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New returns a client for cfg.
func New(cfg Config, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if cfg.Host == "" {
		return nil, errors.New("envoy: host is required")
	}
	u := url.URL{Scheme: cfg.Scheme, Host: cfg.Host, Path: "/production.json"}
	hc := &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}
	if cfg.InsecureTLS {
		// gateways serve a self-signed certificate
		hc.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec
	}
	c := &Client{
		Smoother: power.NewSmoother(cfg.Window),
		cfg:      cfg,
		url:      u.String(),
		http:     hc,
		log:      logger.OrNop(log),
		sleep:    sleepCtx,
	}
	switch {
	case cfg.Token != "":
		c.tokens = newTokenCache(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}), tokenExpiryBuffer)
	case cfg.Email != "":
		if cfg.Password == "" || cfg.Serial == "" {
			return nil, errors.New("envoy: enlighten login needs email, password and serial")
		}
		c.tokens = newTokenCache(&enlightenSource{
			ctx:      context.Background(),
			client:   &http.Client{Timeout: hc.Timeout},
			loginURL: cfg.LoginURL,
			tokenURL: cfg.TokenURL,
			email:    cfg.Email,
			password: cfg.Password,
			serial:   cfg.Serial,
			now:      time.Now,
		}, tokenExpiryBuffer)
	}
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type reading struct {
	Type string   `json:"type"`
	WNow *float64 `json:"wNow"`
}

type productionResponse struct {
	Production  []reading `json:"production"`
	Consumption []reading `json:"consumption"`
}

// Sample is one raw reading. A nil field means the metric was missing.
type Sample struct {
	Production  *int
	Consumption *int
}

func eimWatts(rs []reading) *int {
	for _, r := range rs {
		if r.Type == "eim" && r.WNow != nil {
			w := int(math.Round(*r.WNow))
			return &w
		}
	}
	return nil
}

// Fetch reads production.json once, retrying transient failures with
// exponential backoff.
func (c *Client) Fetch(ctx context.Context) (Sample, error) {
	backoff := time.Duration(c.cfg.BackoffMs) * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoff); err != nil {
				return Sample{}, err
			}
			backoff *= 2
		}
		s, err := c.fetchOnce(ctx)
		if err == nil {
			return s, nil
		}
		lastErr = err
		if errors.Is(err, ErrUnauthorized) && c.tokens != nil {
			c.tokens.Invalidate()
		}
		if ctx.Err() != nil {
			return Sample{}, ctx.Err()
		}
		c.log.Debugf("envoy read attempt %d failed: %v", attempt+1, err)
	}
	return Sample{}, lastErr
}

func (c *Client) fetchOnce(ctx context.Context) (Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Sample{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return Sample{}, fmt.Errorf("envoy token: %w", err)
		}
		tok.SetAuthHeader(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("envoy request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Sample{}, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return Sample{}, fmt.Errorf("envoy: unexpected status %d", resp.StatusCode)
	}
	var body productionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Sample{}, fmt.Errorf("envoy decode: %w", err)
	}
	return Sample{Production: eimWatts(body.Production), Consumption: eimWatts(body.Consumption)}, nil
}

// Update records a fresh reading and returns the smoothed availability. A
// failed reading leaves the averages untouched.
func (c *Client) Update(ctx context.Context) int {
	s, err := c.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warnf("no fresh power reading: %v", err)
			monitoring.Capture(err, "envoy", "")
		}
		return c.Availability()
	}
	if s.Production != nil {
		c.RecordProduction(*s.Production)
	} else {
		c.log.Warnf("envoy reading has no eim production")
	}
	if s.Consumption != nil {
		c.RecordConsumption(*s.Consumption)
	} else {
		c.log.Warnf("envoy reading has no eim consumption")
	}
	availability := c.Availability()
	c.log.Debugw("power reading", map[string]any{
		"production":   c.Production(),
		"consumption":  c.Consumption(),
		"availability": availability,
	})
	return availability
}
