package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bookpanda/openexam/internal/metrics"
	"github.com/bookpanda/openexam/internal/model"
	"golang.org/x/oauth2"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// HTTPClient はIdPへの通信に使うクライアント。nilの場合は10秒タイムアウトのクライアントを使う。
	HTTPClient *http.Client
	Metrics    metrics.MetricsCollector
}

// GoogleOAuthProvider はGoogle OAuth 2.0の認可コードグラントを提供する。
// 呼び出し間で状態を保持しない。
type GoogleOAuthProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	metrics     metrics.MetricsCollector
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.AuthURL,
				TokenURL: config.TokenURL,
				// 自動判定は失敗時に同じ認可コードで再送するため、パラメータ方式に固定する
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: config.UserInfoURL,
		httpClient:  config.HTTPClient,
		metrics:     metrics.OrNop(config.Metrics),
	}
}

// BuildLoginURL はGoogle OAuthの認証URLを生成する。
// 呼び出しごとに新しいstateを生成し、URLと合わせて返す。
func (p *GoogleOAuthProvider) BuildLoginURL() (string, string, error) {
	state, err := generateState()
	if err != nil {
		return "", "", model.NewInternalError("failed to generate oauth state", err)
	}
	return p.oauth.AuthCodeURL(state), state, nil
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// 認可コードは使い捨てのため、失敗時も再試行しない。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	start := time.Now()
	token, err := p.exchange(ctx, code)
	p.record("ExchangeCode", start, err)
	return token, err
}

func (p *GoogleOAuthProvider) exchange(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", model.NewValidationError("authorization code is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return "", classifyTokenError(err)
	}
	if token.AccessToken == "" {
		return "", model.NewUpstreamAuthError("empty access token in response", nil)
	}
	return token.AccessToken, nil
}

// classifyTokenError はトークンエンドポイントのエラーを分類する。
func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		if status >= 500 {
			return model.NewUnavailableError(fmt.Sprintf("token endpoint returned status %d", status), err)
		}
		message := "authorization code was rejected"
		if retrieveErr.ErrorCode != "" {
			message = fmt.Sprintf("authorization code was rejected: %s", retrieveErr.ErrorCode)
		}
		return model.NewUpstreamAuthError(message, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.NewNetworkError("token request failed", err)
	}
	return model.NewUpstreamAuthError("failed to exchange authorization code", err)
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// FetchProfile はアクセストークンでプロフィール（email, name）を取得する。
func (p *GoogleOAuthProvider) FetchProfile(ctx context.Context, accessToken string) (*model.Profile, error) {
	start := time.Now()
	profile, err := p.fetchProfile(ctx, accessToken)
	p.record("FetchProfile", start, err)
	return profile, err
}

func (p *GoogleOAuthProvider) fetchProfile(ctx context.Context, accessToken string) (*model.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, model.NewInternalError("failed to create user info request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, model.NewNetworkError("user info request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewNetworkError("failed to read user info response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &model.Error{
			Kind:    model.KindUpstreamAuth,
			Message: "access token was rejected by the profile endpoint",
			Body:    string(body),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &model.Error{
			Kind:    model.KindUnavailable,
			Message: fmt.Sprintf("user info fetch failed with status %d", resp.StatusCode),
			Body:    string(body),
		}
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, model.NewInternalError("failed to parse user info response", err)
	}
	if info.Email == "" {
		return nil, model.NewInternalError("empty email in user info response", nil)
	}

	return &model.Profile{Email: info.Email, Name: info.Name}, nil
}

func (p *GoogleOAuthProvider) record(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(model.AsError(err).Kind)
	}
	p.metrics.RecordUpstreamCall(metrics.UpstreamOAuth, operation, outcome, time.Since(start))
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
