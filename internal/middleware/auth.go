// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bookpanda/openexam/internal/metrics"
	"github.com/bookpanda/openexam/internal/model"
	"github.com/bookpanda/openexam/internal/response"
)

// 認証済みリクエストに付与するヘッダー
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

const missingTokenMessage = "Missing authorization token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	identityContextKey  = contextKey("identity")
	requestIDContextKey = contextKey("request_id")
)

// TokenValidator はセッショントークンの検証に必要なインターフェース。
// identity.Clientの部分集合として定義する。
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*model.Identity, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのトークンをアイデンティティサービスで検証するミドルウェアを返す。
// 検証はリクエストごとに1回だけ行い、結果はキャッシュしない。
// 検証に成功した場合はアイデンティティをコンテキストとX-User-*ヘッダーに注入する。
func NewAuthMiddleware(validator TokenValidator, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	collector = metrics.OrNop(collector)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// クライアントが送ったX-User-*は信用しない
			r.Header.Del(HeaderUserID)
			r.Header.Del(HeaderUserEmail)
			r.Header.Del(HeaderUserName)

			// 1. トークンを取り出す（トークンがなければバックエンドを呼ばない）
			token := extractToken(r.Header.Get("Authorization"))
			if token == "" {
				collector.RecordAuthRejection("missing_token")
				response.WriteMessage(w, http.StatusUnauthorized, missingTokenMessage)
				return
			}

			// 2. アイデンティティサービスで検証
			identity, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				e := model.AsError(err)
				collector.RecordAuthRejection(strings.ToLower(string(e.Kind)))
				slog.WarnContext(r.Context(), "token validation failed",
					slog.String("kind", string(e.Kind)),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				response.WriteMessage(w, http.StatusUnauthorized, e.PublicMessage())
				return
			}

			// 3. 下流向けにアイデンティティを注入
			r.Header.Set(HeaderUserID, identity.ID)
			r.Header.Set(HeaderUserEmail, identity.Email)
			r.Header.Set(HeaderUserName, identity.Name)
			setLogUserID(r.Context(), identity.ID)
			ctx := ContextWithIdentity(r.Context(), *identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken は "Bearer <token>" と素のトークンの両方を受け付ける。
func extractToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return header
}

// ContextWithIdentity はコンテキストにアイデンティティを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext はリクエストコンテキストからアイデンティティを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok || identity.ID == "" {
		return model.Identity{}, fmt.Errorf("identity not found in context")
	}
	return identity, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, err := IdentityFromContext(ctx)
	if err != nil {
		return "", err
	}
	return identity.ID, nil
}

// CallerFromContext は下流呼び出し用の呼び出し元情報を組み立てる。
func CallerFromContext(ctx context.Context) (model.Caller, error) {
	identity, err := IdentityFromContext(ctx)
	if err != nil {
		return model.Caller{}, err
	}
	return model.Caller{Identity: identity, RequestID: RequestIDFromContext(ctx)}, nil
}
