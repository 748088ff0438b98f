// Package auth owns the OAuth2 credential lifecycle for the Miele cloud API:
// password-grant login, expiry tracking and refresh-grant renewal.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/dokzlo13/mieled/internal/metrics"
)

// ErrBadCredentials is returned when the token endpoint rejects the
// configured credentials. This is terminal: retrying cannot succeed until
// the operator fixes the configuration.
var ErrBadCredentials = errors.New("bad credentials")

// ErrNotAuthenticated is returned when an operation requires a credential
// but no login has succeeded yet.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrMaxAttemptsExceeded is returned when the configured attempt cap is hit
// on transient login/refresh failures.
var ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")

// State of the credential lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
	StateFailed
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Credential is one issued token set. Replaced wholesale on refresh, never
// mutated in place. Not persisted across restarts.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Expiry       time.Time
}

// Valid reports whether the credential can still authenticate requests.
func (c Credential) Valid(now time.Time) bool {
	return c.AccessToken != "" && now.Before(c.Expiry)
}

// ExpiringSoon reports whether the credential expires within horizon.
func (c Credential) ExpiringSoon(now time.Time, horizon time.Duration) bool {
	return c.Expiry.Sub(now) <= horizon
}

// RetryConfig controls backoff for transient login/refresh failures.
type RetryConfig struct {
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	Multiplier  float64
	MaxAttempts int // 0 = infinite
}

// Config for the Manager.
type Config struct {
	TokenURL     string
	LogoutURL    string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Horizon      time.Duration // Refresh when expiry is this close
	Retry        RetryConfig
}

// Manager acquires, tracks and refreshes the OAuth2 credential. Safe for
// concurrent use; concurrent callers that find the token near expiry share
// one in-flight refresh.
type Manager struct {
	conf       *oauth2.Config
	logoutURL  string
	username   string
	password   string
	horizon    time.Duration
	retry      RetryConfig
	httpClient *http.Client

	// onConnectivity, when set, is invoked with the cloud connectivity
	// indicator on login success/failure transitions.
	onConnectivity func(bool)

	mu    sync.RWMutex
	cred  Credential
	state State

	// refreshMu serializes refresh attempts so a token is renewed once,
	// not once per caller.
	refreshMu sync.Mutex
}

// NewManager creates a Manager. httpClient may be nil for the default client.
func NewManager(cfg Config, httpClient *http.Client) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Horizon == 0 {
		cfg.Horizon = 24 * time.Hour
	}
	if cfg.Retry.MinBackoff == 0 {
		cfg.Retry.MinBackoff = 30 * time.Second
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 10 * time.Minute
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2.0
	}

	return &Manager{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		logoutURL:  cfg.LogoutURL,
		username:   cfg.Username,
		password:   cfg.Password,
		horizon:    cfg.Horizon,
		retry:      cfg.Retry,
		httpClient: httpClient,
	}
}

// SetConnectivityFunc registers the external connectivity indicator.
func (m *Manager) SetConnectivityFunc(fn func(bool)) {
	m.onConnectivity = fn
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Credential returns the current credential and whether one is held.
func (m *Manager) Credential() (Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred, m.cred.AccessToken != ""
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) storeCredential(tok *oauth2.Token) Credential {
	cred := credentialFromToken(tok)
	m.mu.Lock()
	m.cred = cred
	m.state = StateAuthenticated
	m.mu.Unlock()
	return cred
}

func credentialFromToken(tok *oauth2.Token) Credential {
	cred := Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
		Expiry:       tok.Expiry,
	}
	if cred.Expiry.IsZero() && cred.ExpiresIn > 0 {
		cred.Expiry = time.Now().Add(time.Duration(cred.ExpiresIn) * time.Second)
	}
	return cred
}

func (m *Manager) connectivity(up bool) {
	if m.onConnectivity != nil {
		m.onConnectivity(up)
	}
}

// Login performs the password grant, retrying transient failures with
// exponential backoff. A 401 from the token endpoint is fatal and returns
// ErrBadCredentials without retrying.
func (m *Manager) Login(ctx context.Context) error {
	m.setState(StateAuthenticating)
	m.connectivity(false)

	tok, err := m.retryGrant(ctx, "login", func(ctx context.Context) (*oauth2.Token, error) {
		return m.conf.PasswordCredentialsToken(ctx, m.username, m.password)
	})
	if err != nil {
		return err
	}

	cred := m.storeCredential(tok)
	m.connectivity(true)
	log.Info().Time("expiry", cred.Expiry).Msg("Logged in to Miele cloud")
	return nil
}

// Refresh renews the credential via the refresh grant, replacing the stored
// one. Fatal/transient semantics match Login. Concurrent callers share one
// in-flight refresh: late arrivals find the credential already replaced and
// return without issuing a second grant.
func (m *Manager) Refresh(ctx context.Context) error {
	before, ok := m.Credential()
	if !ok {
		return ErrNotAuthenticated
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	cred, ok := m.Credential()
	if !ok {
		return ErrNotAuthenticated
	}
	if cred.AccessToken != before.AccessToken || !cred.Expiry.Equal(before.Expiry) {
		// Someone else refreshed while we waited for the lock.
		return nil
	}

	m.setState(StateRefreshing)

	tok, err := m.retryGrant(ctx, "refresh", func(ctx context.Context) (*oauth2.Token, error) {
		// A token source seeded with only the refresh token forces the
		// refresh grant on the first Token() call.
		seed := &oauth2.Token{RefreshToken: cred.RefreshToken}
		return m.conf.TokenSource(ctx, seed).Token()
	})
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return err
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()

	next := credentialFromToken(tok)
	if next.RefreshToken == "" {
		// Some deployments omit the refresh token on renewal; keep the old one.
		next.RefreshToken = cred.RefreshToken
	}

	m.mu.Lock()
	m.cred = next
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.connectivity(true)
	log.Info().Time("expiry", next.Expiry).Msg("Token refreshed")
	return nil
}

// EnsureFresh refreshes the credential when it is within the expiry horizon.
// The single-flight guarantee lives in Refresh.
func (m *Manager) EnsureFresh(ctx context.Context) error {
	cred, ok := m.Credential()
	if !ok {
		return ErrNotAuthenticated
	}
	if !cred.ExpiringSoon(time.Now(), m.horizon) {
		return nil
	}
	return m.Refresh(ctx)
}

// AccessToken returns a fresh bearer token for API calls.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if err := m.EnsureFresh(ctx); err != nil {
		return "", err
	}
	cred, ok := m.Credential()
	if !ok {
		return "", ErrNotAuthenticated
	}
	return cred.AccessToken, nil
}

// Logout invalidates the token server side. Best effort: failures are
// logged, never propagated.
func (m *Manager) Logout(ctx context.Context) {
	cred, ok := m.Credential()
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{"token": cred.AccessToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.logoutURL, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("Logout request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("Logout request failed")
		return
	}
	resp.Body.Close()

	m.mu.Lock()
	m.cred = Credential{}
	m.state = StateUnauthenticated
	m.mu.Unlock()

	log.Info().Int("status", resp.StatusCode).Msg("Logged out")
}

// retryGrant runs a token grant with the configured backoff policy.
func (m *Manager) retryGrant(ctx context.Context, op string, grant func(context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	backoff := m.retry.MinBackoff
	for attempt := 1; ; attempt++ {
		tok, err := grant(ctx)
		if err == nil {
			return tok, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if isFatal(err) {
			m.setState(StateFailed)
			m.connectivity(false)
			log.Error().Err(err).Str("op", op).Msg("Token endpoint rejected credentials")
			return nil, fmt.Errorf("%s: %w", op, ErrBadCredentials)
		}

		if m.retry.MaxAttempts > 0 && attempt >= m.retry.MaxAttempts {
			m.setState(StateFailed)
			log.Error().Err(err).Str("op", op).Int("attempts", attempt).Msg("Giving up on token endpoint")
			return nil, fmt.Errorf("%s: %w", op, ErrMaxAttemptsExceeded)
		}

		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Token request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		next := time.Duration(float64(backoff) * m.retry.Multiplier)
		if next > m.retry.MaxBackoff {
			next = m.retry.MaxBackoff
		}
		backoff = next
	}
}

// isFatal reports whether a token endpoint error means bad credentials.
// HTTP 401 is fatal; 429, 5xx and transport errors are transient.
func isFatal(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusUnauthorized {
			return true
		}
		// Some token endpoints answer invalid_grant with 400.
		if strings.Contains(retrieveErr.ErrorCode, "invalid_grant") ||
			strings.Contains(retrieveErr.ErrorCode, "invalid_client") {
			return true
		}
	}
	return false
}
