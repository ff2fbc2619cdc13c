// Package handler はゲートウェイのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bookpanda/openexam/internal/model"
	"github.com/bookpanda/openexam/internal/response"
)

const oauthStateCookie = "oauth_state"

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL() (string, string, error)
	Login(ctx context.Context, code string) (*model.LoginResult, error)
}

// TokenValidator はトークン検証エンドポイントが使うインターフェース。
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*model.Identity, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
	// StateCheck が有効ならコールバック時にstateとCookieの一致を要求する。
	StateCheck bool
}

// AuthHandler はGoogleログインとトークン検証のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	validator TokenValidator
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, validator TokenValidator, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:   service,
		validator: validator,
		config:    config,
	}
}

type loginURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type callbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type validateTokenRequest struct {
	Token string `json:"token"`
}

// GoogleLogin はGoogleの認可URLを返し、stateをCookieに保存する。
// GET /user/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	url, state, err := h.service.GetLoginURL()
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to build login url", slog.String("error", err.Error()))
		response.InternalError[loginURLResponse]("internal server error").Write(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	response.OK(loginURLResponse{URL: url, State: state}).Write(w)
}

// GoogleCallback は認可コードをセッショントークンに交換する。
// POST /user/google/callback {"code":"...","state":"..."}
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		response.BadRequest[*model.LoginResult]("invalid request body").Write(w)
		return
	}

	if h.config.StateCheck {
		cookie, err := r.Cookie(oauthStateCookie)
		if err != nil || cookie.Value == "" || cookie.Value != req.State {
			slog.WarnContext(r.Context(), "oauth state mismatch", slog.String("body_state", req.State))
			response.BadRequest[*model.LoginResult]("invalid state parameter").Write(w)
			return
		}
	}

	// stateは一度きり
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	response.Handle(func(r *http.Request) response.Result[*model.LoginResult] {
		if req.Code == "" {
			return response.BadRequest[*model.LoginResult]("missing authorization code")
		}
		result, err := h.service.Login(r.Context(), req.Code)
		if err != nil {
			return response.FromError[*model.LoginResult](err)
		}
		return response.OK(result)
	})(w, r)
}

// ValidateToken はトークンを検証してアイデンティティを返す。
// POST /user/validate-token {"token":"..."}
func (h *AuthHandler) ValidateToken(r *http.Request) response.Result[*model.Identity] {
	var req validateTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		return response.BadRequest[*model.Identity]("invalid request body")
	}
	if req.Token == "" {
		return response.BadRequest[*model.Identity]("token is required")
	}

	identity, err := h.validator.ValidateToken(r.Context(), req.Token)
	if err != nil {
		return response.FromError[*model.Identity](err)
	}
	return response.OK(identity)
}

// decodeJSON はリクエストボディをvにデコードする。
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBodyBytes)).Decode(v)
}
