package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"gridprice/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTokenURL is the ERCOT B2C resource-owner password flow endpoint
	DefaultTokenURL = "https://ercotb2c.b2clogin.com/ercotb2c.onmicrosoft.com/B2C_1_PUBAPI-ROPC-FLOW/oauth2/v2.0/token"
	// DefaultClientID is the fixed public client identifier for the ERCOT API
	DefaultClientID = "fec253ea-0d06-4272-a5e6-b478baeecd70"
	// DefaultTokenLifetime applies when the response carries no expiry
	DefaultTokenLifetime = time.Hour
	// DefaultSafetyMargin is how long before expiry a cached token is replaced
	DefaultSafetyMargin = 5 * time.Minute

	maxTokenBody = 1 << 20
)

// TokenSource hands out bearer tokens to the report client
type TokenSource interface {
	// Token returns a cached token or exchanges credentials for a new one
	Token(ctx context.Context) (*models.AuthToken, error)
	// Refresh discards the cached token and exchanges credentials again
	Refresh(ctx context.Context) (*models.AuthToken, error)
}

// Credentials are the already-resolved API username and password
type Credentials struct {
	Username string
	Password string
}

// TokenManager caches at most one bearer token and serializes refreshes
type TokenManager struct {
	tokenURL   string
	clientID   string
	creds      Credentials
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
	margin     time.Duration
	lifetime   time.Duration

	mu    sync.Mutex
	token *models.AuthToken
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenURL overrides the token endpoint.
func WithTokenURL(u string) TokenOption {
	return func(m *TokenManager) {
		m.tokenURL = u
	}
}

// WithClientID overrides the client identifier.
func WithClientID(id string) TokenOption {
	return func(m *TokenManager) {
		m.clientID = id
	}
}

// WithSafetyMargin sets how long before expiry the token is refreshed.
func WithSafetyMargin(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		m.margin = d
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// WithTokenHTTPClient sets the HTTP client used for the exchange.
func WithTokenHTTPClient(hc *http.Client) TokenOption {
	return func(m *TokenManager) {
		m.httpClient = hc
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger zerolog.Logger) TokenOption {
	return func(m *TokenManager) {
		m.logger = logger
	}
}

// NewTokenManager creates a token manager for the given credentials
func NewTokenManager(creds Credentials, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		tokenURL:   DefaultTokenURL,
		clientID:   DefaultClientID,
		creds:      creds,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     log.Logger,
		now:        time.Now,
		margin:     DefaultSafetyMargin,
		lifetime:   DefaultTokenLifetime,
	}

	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "token_manager").Logger()

	return m
}

// Token returns the cached token while it is valid, otherwise exchanges
// credentials and caches the result.
func (m *TokenManager) Token(ctx context.Context) (*models.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token.ValidAt(m.now(), m.margin) {
		tok := *m.token
		return &tok, nil
	}
	return m.exchangeLocked(ctx)
}

// Refresh forces a credential exchange regardless of the cached token
func (m *TokenManager) Refresh(ctx context.Context) (*models.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.exchangeLocked(ctx)
}

// Invalidate drops the cached token
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

type tokenResponse struct {
	IDToken     string      `json:"id_token"`
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// exchangeLocked performs the password credential exchange. The cache is only
// replaced on success. Callers must hold m.mu.
func (m *TokenManager) exchangeLocked(ctx context.Context) (*models.AuthToken, error) {
	m.logger.Debug().Msg("requesting new api token")

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", m.creds.Username)
	form.Set("password", m.creds.Password)
	form.Set("response_type", "id_token")
	form.Set("scope", fmt.Sprintf("openid %s offline_access", m.clientID))
	form.Set("client_id", m.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	issuedAt := m.now()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody))
	if err != nil {
		return nil, &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: string(body), Err: fmt.Errorf("%w: %v", errMalformedToken, err)}
	}

	value := tr.IDToken
	if value == "" {
		value = tr.AccessToken
	}
	if value == "" {
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: string(body), Err: fmt.Errorf("%w: no id_token", errMalformedToken)}
	}

	m.token = &models.AuthToken{
		Value:     value,
		IssuedAt:  issuedAt,
		ExpiresAt: m.expiresAt(value, tr.ExpiresIn, issuedAt),
	}
	m.logger.Info().Time("expires_at", m.token.ExpiresAt).Msg("obtained api token")

	tok := *m.token
	return &tok, nil
}

// expiresAt prefers the JWT exp claim, then expires_in, then the default lifetime
func (m *TokenManager) expiresAt(raw string, expiresIn json.Number, issuedAt time.Time) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	if secs, err := expiresIn.Int64(); err == nil && secs > 0 {
		return issuedAt.Add(time.Duration(secs) * time.Second)
	}
	return issuedAt.Add(m.lifetime)
}
