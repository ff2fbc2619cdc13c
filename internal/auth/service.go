// Package auth はOAuth認可コードフローとログイン処理を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bookpanda/openexam/internal/model"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// BuildLoginURL はOAuth認証URLと、そのURLに埋め込んだstateを返す。
	BuildLoginURL() (loginURL string, state string, err error)
	// ExchangeCode は認可コードをアクセストークンに交換する。
	ExchangeCode(ctx context.Context, code string) (string, error)
	// FetchProfile はアクセストークンでプロフィールを取得する。
	FetchProfile(ctx context.Context, accessToken string) (*model.Profile, error)
}

// IdentityLoginer はアイデンティティサービスのログイン操作。
// identity.Clientの部分集合として定義する。
type IdentityLoginer interface {
	Login(ctx context.Context, email, name string) (*model.LoginResult, error)
}

// Service はログインに関するオーケストレーションを提供する。
type Service struct {
	oauth    OAuthProvider
	identity IdentityLoginer
}

// NewService はServiceを生成する。
func NewService(oauth OAuthProvider, identity IdentityLoginer) *Service {
	return &Service{
		oauth:    oauth,
		identity: identity,
	}
}

// GetLoginURL はOAuth認証URLとstateを生成する。
func (s *Service) GetLoginURL() (string, string, error) {
	return s.oauth.BuildLoginURL()
}

// Login は認可コードをセッショントークンに変換する。
// 1. 認可コードをアクセストークンに交換
// 2. アクセストークンでプロフィールを取得
// 3. アイデンティティサービスでユーザーを検索または作成し、トークンを発行
func (s *Service) Login(ctx context.Context, code string) (*model.LoginResult, error) {
	if code == "" {
		return nil, model.NewValidationError("authorization code is required")
	}

	accessToken, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	profile, err := s.oauth.FetchProfile(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	result, err := s.identity.Login(ctx, profile.Email, profile.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to login with identity service: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user_id", result.ID),
		slog.String("email", result.Email),
	)

	return result, nil
}
