package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bookpanda/openexam/internal/middleware"
	"github.com/bookpanda/openexam/internal/model"
	"github.com/bookpanda/openexam/internal/response"
)

// UserServiceInterface はユーザーハンドラーが必要とするアイデンティティサービスの操作。
type UserServiceInterface interface {
	GetUser(ctx context.Context, id string) (*model.Identity, error)
	GetAllUsers(ctx context.Context) ([]model.UserSummary, error)
}

// UserHandler はユーザー情報のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// Me は認証済みユーザー自身の情報を返す。アイデンティティサービスは呼ばない。
// GET /user/me
func (h *UserHandler) Me(r *http.Request) response.Result[model.Identity] {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		return response.Error[model.Identity](http.StatusUnauthorized, "unauthorized")
	}
	return response.OK(identity)
}

// ListUsers は共有ダイアログ向けにユーザー一覧を返す。
// GET /user/users
func (h *UserHandler) ListUsers(r *http.Request) response.Result[[]model.UserSummary] {
	users, err := h.service.GetAllUsers(r.Context())
	if err != nil {
		return response.FromError[[]model.UserSummary](err)
	}
	if users == nil {
		users = []model.UserSummary{}
	}
	return response.OK(users)
}

// GetUser はIDでユーザーを返す。
// GET /user/{id}
func (h *UserHandler) GetUser(r *http.Request) response.Result[*model.Identity] {
	id := chi.URLParam(r, "id")
	if id == "" {
		return response.BadRequest[*model.Identity]("user id is required")
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		return response.FromError[*model.Identity](err)
	}
	return response.OK(user)
}
