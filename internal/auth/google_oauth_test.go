package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bookpanda/openexam/internal/model"
)

func TestGoogleOAuthProvider_BuildLoginURL_ContainsRequiredParams(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "test-client-id",
		RedirectURL: "http://localhost:3000/auth/redirect",
	})

	loginURL, state, err := provider.BuildLoginURL()
	if err != nil {
		t.Fatalf("BuildLoginURL() error = %v", err)
	}
	if state == "" {
		t.Fatal("expected non-empty state")
	}

	u, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("failed to parse login URL: %v", err)
	}
	q := u.Query()

	tests := []struct {
		name  string
		param string
		want  string
	}{
		{"client_id", "client_id", "test-client-id"},
		{"redirect_uri", "redirect_uri", "http://localhost:3000/auth/redirect"},
		{"response_type", "response_type", "code"},
		{"scope", "scope", "openid email profile"},
		{"state", "state", state},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := q.Get(tt.param); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.param, got, tt.want)
			}
		})
	}

	if !strings.HasPrefix(loginURL, defaultGoogleAuthURL) {
		t.Errorf("login URL should start with %q, got %q", defaultGoogleAuthURL, loginURL)
	}
}

func TestGoogleOAuthProvider_BuildLoginURL_FreshStatePerCall(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{ClientID: "test-client-id"})

	_, first, err := provider.BuildLoginURL()
	if err != nil {
		t.Fatalf("BuildLoginURL() error = %v", err)
	}
	_, second, err := provider.BuildLoginURL()
	if err != nil {
		t.Fatalf("BuildLoginURL() error = %v", err)
	}

	if first == second {
		t.Errorf("state should differ between calls, got %q twice", first)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_Success(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if got := r.PostForm.Get("code"); got != "valid-code" {
			t.Errorf("code = %q, want %q", got, "valid-code")
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q, want %q", got, "authorization_code")
		}
		if got := r.PostForm.Get("client_secret"); got != "test-client-secret" {
			t.Errorf("client_secret = %q, want %q", got, "test-client-secret")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:3000/auth/redirect",
		TokenURL:     tokenServer.URL,
	})

	token, err := provider.ExchangeCode(context.Background(), "valid-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if token != "tok-1" {
		t.Errorf("token = %q, want %q", token, "tok-1")
	}
}

func TestGoogleOAuthProvider_ExchangeCode_ReusedCode_NotRetried(t *testing.T) {
	var calls int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":             "invalid_grant",
			"error_description": "Code was already redeemed.",
		})
	}))
	defer tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		TokenURL:     tokenServer.URL,
	})

	_, err := provider.ExchangeCode(context.Background(), "used-code")
	if err == nil {
		t.Fatal("expected error from ExchangeCode with reused code")
	}
	if !model.IsKind(err, model.KindUpstreamAuth) {
		t.Errorf("error kind = %v, want %s", err, model.KindUpstreamAuth)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("token endpoint calls = %d, want 1", got)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_ServerError_ReturnsUnavailable(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID: "test-client-id",
		TokenURL: tokenServer.URL,
	})

	_, err := provider.ExchangeCode(context.Background(), "code")
	if !model.IsKind(err, model.KindUnavailable) {
		t.Errorf("error = %v, want kind %s", err, model.KindUnavailable)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_TransportFailure_ReturnsNetworkError(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	tokenURL := tokenServer.URL
	tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID: "test-client-id",
		TokenURL: tokenURL,
	})

	_, err := provider.ExchangeCode(context.Background(), "code")
	if !model.IsKind(err, model.KindNetwork) {
		t.Errorf("error = %v, want kind %s", err, model.KindNetwork)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_EmptyCode_ReturnsValidationError(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{ClientID: "test-client-id"})

	_, err := provider.ExchangeCode(context.Background(), "")
	if !model.IsKind(err, model.KindValidation) {
		t.Errorf("error = %v, want kind %s", err, model.KindValidation)
	}
}

func TestGoogleOAuthProvider_FetchProfile_Success(t *testing.T) {
	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("unexpected Authorization header: %q", got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sub":   "google-sub-12345",
			"email": "a@b.com",
			"name":  "A",
		})
	}))
	defer userInfoServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "test-client-id",
		UserInfoURL: userInfoServer.URL,
	})

	profile, err := provider.FetchProfile(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}
	if profile.Email != "a@b.com" {
		t.Errorf("email = %q, want %q", profile.Email, "a@b.com")
	}
	if profile.Name != "A" {
		t.Errorf("name = %q, want %q", profile.Name, "A")
	}
}

func TestGoogleOAuthProvider_FetchProfile_RejectedToken_ReturnsUpstreamAuthError(t *testing.T) {
	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer userInfoServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "test-client-id",
		UserInfoURL: userInfoServer.URL,
	})

	_, err := provider.FetchProfile(context.Background(), "expired-token")
	if !model.IsKind(err, model.KindUpstreamAuth) {
		t.Errorf("error = %v, want kind %s", err, model.KindUpstreamAuth)
	}
}

func TestGoogleOAuthProvider_FetchProfile_InvalidJSON_ReturnsInternalError(t *testing.T) {
	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not-json"))
	}))
	defer userInfoServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "test-client-id",
		UserInfoURL: userInfoServer.URL,
	})

	_, err := provider.FetchProfile(context.Background(), "tok-1")
	if !model.IsKind(err, model.KindInternal) {
		t.Errorf("error = %v, want kind %s", err, model.KindInternal)
	}
}
