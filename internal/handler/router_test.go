package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/grpc/connectivity"

	"github.com/bookpanda/openexam/internal/auth"
	"github.com/bookpanda/openexam/internal/fileservice"
	"github.com/bookpanda/openexam/internal/middleware"
	"github.com/bookpanda/openexam/internal/model"
)

// --- ルーターテスト用のフェイク ---

type fakeOAuthProvider struct{}

func (fakeOAuthProvider) BuildLoginURL() (string, string, error) {
	return "https://accounts.google.com/o/oauth2/auth?state=st-1", "st-1", nil
}

func (fakeOAuthProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	if code != "valid-code" {
		return "", model.NewUpstreamAuthError("invalid_grant", nil)
	}
	return "tok-1", nil
}

func (fakeOAuthProvider) FetchProfile(ctx context.Context, accessToken string) (*model.Profile, error) {
	if accessToken != "tok-1" {
		return nil, model.NewUpstreamAuthError("invalid access token", nil)
	}
	return &model.Profile{Email: "a@b.com", Name: "A"}, nil
}

type fakeIdentity struct {
	mockTokenValidator
	mockUserService
}

func (f *fakeIdentity) Login(ctx context.Context, email, name string) (*model.LoginResult, error) {
	return &model.LoginResult{ID: "42", Email: email, Name: name, Token: "sess-9"}, nil
}

// upstreamRecorder はファイルサービスに届いたリクエストを記録する。
type upstreamRecorder struct {
	mu       sync.Mutex
	requests []*http.Request
}

func (u *upstreamRecorder) add(r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, r.Clone(context.Background()))
}

func (u *upstreamRecorder) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests)
}

func (u *upstreamRecorder) last() *http.Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests[len(u.requests)-1]
}

// fakeFileService はファイルサービスの振る舞いを模したHTTPハンドラー。
func fakeFileService(rec *upstreamRecorder) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /files", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{"files": []map[string]any{
				{"ID": "f-1", "UserID": r.Header.Get("X-User-Id"), "CreatedAt": "2025-01-01T00:00:00Z", "Name": "x.pdf", "Key": "slides/42/x.pdf"},
			}},
		})
	})
	mux.HandleFunc("DELETE /files", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "file not found"})
	})
	mux.HandleFunc("POST /generate", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"file_id": "f-9", "key": "cheatsheets/42/f-9.pdf"}})
	})
	return mux
}

type testGateway struct {
	handler   http.Handler
	validator *mockTokenValidator
	identity  *fakeIdentity
	upstream  *upstreamRecorder
}

func newTestGateway(t *testing.T, authConfig AuthHandlerConfig) *testGateway {
	t.Helper()

	rec := &upstreamRecorder{}
	server := httptest.NewServer(fakeFileService(rec))
	t.Cleanup(server.Close)

	identity := &fakeIdentity{}
	identity.validateTokenFn = validSession

	files, err := fileservice.NewClient(fileservice.Config{BaseURL: server.URL}, identity)
	if err != nil {
		t.Fatalf("fileservice.NewClient() error = %v", err)
	}

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	h := NewRouter(&RouterDeps{
		TokenValidator:     &identity.mockTokenValidator,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		RateLimiter:        limiter,
		AuthService:        auth.NewService(fakeOAuthProvider{}, identity),
		AuthConfig:         authConfig,
		UserService:        &identity.mockUserService,
		FileService:        files,
		Identity:           stubConnectivity(connectivity.Ready),
	})

	return &testGateway{
		handler:   h,
		validator: &identity.mockTokenValidator,
		identity:  identity,
		upstream:  rec,
	}
}

func (g *testGateway) do(method, target, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = jsonRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	g.handler.ServeHTTP(w, req)
	return w
}

// --- テスト ---

// TestRouter_LoginScenario はOAuthコードからセッショントークンまでのログインの流れを検証する。
func TestRouter_LoginScenario(t *testing.T) {
	g := newTestGateway(t, AuthHandlerConfig{})

	w := g.do(http.MethodPost, "/user/google/callback", "", `{"code":"valid-code"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	env := decodeEnvelope[model.LoginResult](t, w)
	want := model.LoginResult{ID: "42", Email: "a@b.com", Name: "A", Token: "sess-9"}
	if env.Status != http.StatusOK || env.Data != want {
		t.Errorf("envelope = %+v, want data %+v", env, want)
	}
}

func TestRouter_LoginScenario_InvalidCode_Returns401(t *testing.T) {
	g := newTestGateway(t, AuthHandlerConfig{})

	w := g.do(http.MethodPost, "/user/google/callback", "", `{"code":"used-code"}`)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRouter_LoginWithStateCheck(t *testing.T) {
	g := newTestGateway(t, AuthHandlerConfig{StateCheck: true})

	w := g.do(http.MethodGet, "/user/google", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /user/google status = %d", w.Code)
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected oauth_state cookie")
	}

	req := jsonRequest(http.MethodPost, "/user/google/callback", `{"code":"valid-code","state":"st-1"}`)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	g.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("callback status = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestRouter_ProtectedRoutes_MissingToken は全ての保護ルートがトークンなしで401になり、
// アイデンティティサービスもファイルサービスも呼ばれないことを検証する。
func TestRouter_ProtectedRoutes_MissingToken(t *testing.T) {
	g := newTestGateway(t, AuthHandlerConfig{})

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/user/me"},
		{http.MethodGet, "/user/users"},
		{http.MethodGet, "/user/42"},
		{http.MethodGet, "/cheatsheet/presigned/upload?filename=a.pdf"},
		{http.MethodGet, "/cheatsheet/presigned?key=k"},
		{http.MethodGet, "/cheatsheet/files"},
		{http.MethodGet, "/cheatsheet/files/f-1"},
		{http.MethodDelete, "/cheatsheet/files?file_type=slides&file=x.pdf"},
		{http.MethodPost, "/cheatsheet/share"},
		{http.MethodPost, "/cheatsheet/unshare"},
		{http.MethodPost, "/cheatsheet/generate"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			w := g.do(route.method, route.path, "", "")

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if env := decodeEnvelope[any](t, w); env.Message != "Missing authorization token" {
				t.Errorf("message = %q", env.Message)
			}
		})
	}

	if g.validator.calls != 0 {
		t.Errorf("ValidateToken calls = %d, want 0", g.validator.calls)
	}
	if g.upstream.count() != 0 {
		t.Errorf("file service calls = %d, want 0", g.upstream.count())
	}
}

// TestRouter_InvalidToken_NotForwarded は無効なトークンがファイルサービスに転送されないことを検証する。
func TestRouter_InvalidToken_NotForwarded(t *testing.T) {
	g := newTestGateway(t, AuthHandlerConfig{})

	w := g.do(http.MethodGet, "/cheatsheet/files", "Bearer forged", "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if env := decodeEnvelope[any](t, w); env.Message != "invalid token" {
		t.Errorf("message = %q, want %q", env.Message, "invalid token")
	}
	if g.upstream.count() != 0 {
		t.Errorf("file service calls = %d, want 0", g.upstream.count())
	}
}

// TestRouter_ValidToken_ForwardsUserID はファイルサービスへのリクエストに検証済みのX-User-Idが付くことを検証する。
func TestRouter_ValidToken_ForwardsUserID(t *testing.T) {
	g := newTestGateway(t, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/cheatsheet/files", nil)
	req.Header.Set("Authorization", "Bearer sess-9")
	req.Header.Set("X-User-Id", "spoofed")
	req.Header.Set("X-Request-Id", "req-abc")
	w := httptest.NewRecorder()
	g.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if g.upstream.count() != 1 {
		t.Fatalf("file service calls = %d, want 1", g.upstream.count())
	}
	forwarded := g.upstream.last()
	if got := forwarded.Header.Get("X-User-Id"); got != "42" {
		t.Errorf("forwarded X-User-Id = %q, want %q", got, "42")
	}
	if got := forwarded.Header.Get("X-User-Email"); got != "a@b.com" {
		t.Errorf("forwarded X-User-Email = %q, want %q", got, "a@b.com")
	}
	if got := forwarded.Header.Get("X-Request-Id"); got != "req-abc" {
		t.Errorf("forwarded X-Request-Id = %q, want %q", got, "req-abc")
	}
	if got := w.Header().Get("X-Request-Id"); got != "req-abc" {
		t.Errorf("response X-Request-Id = %q, want %q", got, "req-abc")
	}

	env := decodeEnvelope[[]model.File](t, w)
	if len(env.Data) != 1 || env.Data[0].OwnerID != "42" || env.Data[0].Key != "slides/42/x.pdf" {
		t.Errorf("files = %+v", env.Data)
	}
}

// TestRouter_RemoveFile_UpstreamNotFound はファイルサービスの404がメッセージごと返ることを検証する。
func TestRouter_RemoveFile_UpstreamNotFound(t *testing.T) {
	g := newTestGateway(t, AuthHandlerConfig{})

	w := g.do(http.MethodDelete, "/cheatsheet/files?file_type=slides&file=x.pdf", "Bearer sess-9", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	env := decodeEnvelope[any](t, w)
	if env.Status != http.StatusNotFound || env.Message != "file not found" {
		t.Errorf("envelope = %+v", env)
	}

	q := g.upstream.last().URL.Query()
	if q.Get("file_type") != "slides" || q.Get("file") != "x.pdf" || q.Get("user_id") != "42" {
		t.Errorf("upstream query = %v", q)
	}
}

// TestRouter_Generate_EmptyIDs_NoUpstreamCall はfile_idsが空ならファイルサービスを呼ばないことを検証する。
func TestRouter_Generate_EmptyIDs_NoUpstreamCall(t *testing.T) {
	g := newTestGateway(t, AuthHandlerConfig{})

	w := g.do(http.MethodPost, "/cheatsheet/generate", "Bearer sess-9", `{"file_ids":[]}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if g.upstream.count() != 0 {
		t.Errorf("file service calls = %d, want 0", g.upstream.count())
	}

	w = g.do(http.MethodPost, "/cheatsheet/generate", "Bearer sess-9", `{"file_ids":["a","b"]}`)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if g.upstream.count() != 1 {
		t.Errorf("file service calls = %d, want 1", g.upstream.count())
	}
}

func TestRouter_UserRoutes(t *testing.T) {
	g := newTestGateway(t, AuthHandlerConfig{})
	g.identity.getAllUsersFn = func(ctx context.Context) ([]model.UserSummary, error) {
		return []model.UserSummary{{ID: "42", Name: "A"}}, nil
	}
	g.identity.getUserFn = func(ctx context.Context, id string) (*model.Identity, error) {
		return nil, model.NewNotFoundError("user not found")
	}

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/user/me", http.StatusOK},
		{"/user/users", http.StatusOK},
		{"/user/7", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := g.do(http.MethodGet, tt.path, "sess-9", "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_PublicRoutes_NoAuthRequired(t *testing.T) {
	g := newTestGateway(t, AuthHandlerConfig{})

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/user/google", "", http.StatusOK},
		{http.MethodPost, "/user/validate-token", `{"token":"sess-9"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := g.do(tt.method, tt.path, "", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRouter_UnknownRoute_ReturnsEnvelope(t *testing.T) {
	g := newTestGateway(t, AuthHandlerConfig{})

	w := g.do(http.MethodGet, "/nope", "", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if !strings.Contains(w.Body.String(), `"status":404`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRouter_SecurityHeadersAndCORS(t *testing.T) {
	g := newTestGateway(t, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodOptions, "/cheatsheet/files", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	g.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if g.validator.calls != 0 {
		t.Errorf("preflight should not validate tokens, calls = %d", g.validator.calls)
	}
}
