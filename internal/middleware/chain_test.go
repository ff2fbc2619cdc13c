package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestMiddlewareChain_FullStack は本番と同じ順序のチェーンで認証済みリクエストが通ることを検証する。
// RequestID -> Logging -> Recovery -> SecurityHeaders -> CORS -> Auth -> RateLimit -> Handler
func TestMiddlewareChain_FullStack(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	rl := NewRateLimiter(RateLimiterConfig{GeneralRate: 1, GeneralBurst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()

	validator := &mockTokenValidator{validateTokenFn: validIdentity}

	var capturedUserID, capturedRequestID string
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFromContext(r.Context())
		capturedUserID = caller.ID
		capturedRequestID = caller.RequestID
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"user_id": caller.ID})
	})

	handler := NewRequestIDMiddleware()(
		NewLoggingMiddleware(logger)(
			NewRecoveryMiddleware(logger)(
				NewSecurityHeadersMiddleware(false)(
					NewCORSMiddleware("http://localhost:3000")(
						NewAuthMiddleware(validator, nil)(
							rl.GeneralMiddleware()(final)))))))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/cheatsheet/files", nil)
		req.Header.Set("Authorization", "Bearer sess-9")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
		if w.Header().Get(HeaderRequestID) == "" {
			t.Errorf("request %d: missing %s response header", i, HeaderRequestID)
		}
	}

	if capturedUserID != "42" {
		t.Errorf("user id = %q, want %q", capturedUserID, "42")
	}
	if capturedRequestID == "" {
		t.Error("request id should reach the handler")
	}

	// 3回目はレート制限で429
	req := httptest.NewRequest(http.MethodGet, "/cheatsheet/files", nil)
	req.Header.Set("Authorization", "Bearer sess-9")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("request 3: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

// TestMiddlewareChain_NoToken_Returns401 はトークンなしのリクエストが後段に届かないことを検証する。
func TestMiddlewareChain_NoToken_Returns401(t *testing.T) {
	validator := &mockTokenValidator{validateTokenFn: validIdentity}
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	handlerCalled := false
	handler := NewRequestIDMiddleware()(
		NewAuthMiddleware(validator, nil)(
			rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			}))))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cheatsheet/generate", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if handlerCalled {
		t.Error("handler should not be called")
	}
	if validator.calls != 0 {
		t.Errorf("ValidateToken calls = %d, want 0", validator.calls)
	}
}
