package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func tokenServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeToken(w http.ResponseWriter, access, refresh string, expiresIn int) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    expiresIn,
	})
}

func newTestManager(tokenURL string, retry RetryConfig) *Manager {
	return NewManager(Config{
		TokenURL:     tokenURL,
		ClientID:     "client",
		ClientSecret: "secret",
		Username:     "user@example.com",
		Password:     "hunter2",
		Horizon:      24 * time.Hour,
		Retry:        retry,
	}, nil)
}

func TestLoginStoresCredential(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.Form.Get("grant_type"); got != "password" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.Form.Get("username"); got != "user@example.com" {
			t.Errorf("username = %q", got)
		}
		writeToken(w, "access-1", "refresh-1", 3600*24*30)
	})

	m := newTestManager(srv.URL, RetryConfig{})
	if err := m.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if m.State() != StateAuthenticated {
		t.Errorf("State = %v", m.State())
	}
	cred, ok := m.Credential()
	if !ok {
		t.Fatal("Credential missing after login")
	}
	if cred.AccessToken != "access-1" || cred.RefreshToken != "refresh-1" {
		t.Errorf("Credential = %+v", cred)
	}
	if cred.Expiry.Before(time.Now().Add(24 * time.Hour)) {
		t.Errorf("Expiry too soon: %v", cred.Expiry)
	}
}

func TestLoginBadCredentialsIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	})

	m := newTestManager(srv.URL, RetryConfig{MinBackoff: time.Millisecond})
	err := m.Login(context.Background())
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("Login err = %v, want ErrBadCredentials", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("Token endpoint called %d times, fatal errors must not retry", n)
	}
	if m.State() != StateFailed {
		t.Errorf("State = %v", m.State())
	}
}

func TestLoginRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeToken(w, "access-1", "refresh-1", 3600)
	})

	m := newTestManager(srv.URL, RetryConfig{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	if err := m.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("Token endpoint called %d times, want 3", n)
	}
}

func TestLoginMaxAttempts(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	m := newTestManager(srv.URL, RetryConfig{
		MinBackoff:  time.Millisecond,
		MaxBackoff:  time.Millisecond,
		MaxAttempts: 2,
	})
	err := m.Login(context.Background())
	if !errors.Is(err, ErrMaxAttemptsExceeded) {
		t.Fatalf("Login err = %v, want ErrMaxAttemptsExceeded", err)
	}
}

func TestRefreshReplacesCredential(t *testing.T) {
	var grants []string
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		grants = append(grants, r.Form.Get("grant_type"))
		switch r.Form.Get("grant_type") {
		case "password":
			writeToken(w, "access-1", "refresh-1", 3600)
		case "refresh_token":
			if got := r.Form.Get("refresh_token"); got != "refresh-1" {
				t.Errorf("refresh_token = %q", got)
			}
			// Renewal without a new refresh token keeps the old one.
			writeToken(w, "access-2", "", 3600)
		}
	})

	m := newTestManager(srv.URL, RetryConfig{})
	if err := m.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	cred, _ := m.Credential()
	if cred.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q", cred.AccessToken)
	}
	if cred.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %q, want the retained one", cred.RefreshToken)
	}
	if len(grants) != 2 || grants[1] != "refresh_token" {
		t.Errorf("Grants = %v", grants)
	}
}

func TestRefreshWithoutLogin(t *testing.T) {
	m := newTestManager("http://127.0.0.1:0", RetryConfig{})
	if err := m.Refresh(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Refresh err = %v, want ErrNotAuthenticated", err)
	}
}

func TestExpiringSoon(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	horizon := 24 * time.Hour

	cases := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"well in the future", now.Add(25 * time.Hour), false},
		{"inside horizon", now.Add(23 * time.Hour), true},
		{"already expired", now.Add(-time.Hour), true},
		{"exactly at horizon", now.Add(horizon), true},
	}
	for _, c := range cases {
		cred := Credential{AccessToken: "x", Expiry: c.expiry}
		if got := cred.ExpiringSoon(now, horizon); got != c.want {
			t.Errorf("%s: ExpiringSoon = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestEnsureFreshSkipsValidToken(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeToken(w, "access-1", "refresh-1", 3600*24*30)
	})

	m := newTestManager(srv.URL, RetryConfig{})
	if err := m.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := m.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("Token endpoint called %d times, EnsureFresh must not refresh a fresh token", n)
	}
}

func TestConcurrentRefreshesShareOneGrant(t *testing.T) {
	var refreshCalls atomic.Int32
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.Form.Get("grant_type") == "refresh_token" {
			n := refreshCalls.Add(1)
			// Hold the first grant open so the other callers pile up
			// on the in-flight refresh.
			time.Sleep(50 * time.Millisecond)
			writeToken(w, fmt.Sprintf("access-%d", n+1), "refresh-2", 3600)
			return
		}
		writeToken(w, "access-1", "refresh-1", 3600)
	})

	m := newTestManager(srv.URL, RetryConfig{})
	if err := m.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}

	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Refresh %d: %v", i, err)
		}
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Errorf("Refresh grants issued = %d, want 1", got)
	}
	cred, _ := m.Credential()
	if cred.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q, want the single refreshed token", cred.AccessToken)
	}
	if cred.RefreshToken != "refresh-2" {
		t.Errorf("RefreshToken = %q", cred.RefreshToken)
	}
}
