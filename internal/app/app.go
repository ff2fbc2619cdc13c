// Package app はゲートウェイの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bookpanda/openexam/internal/auth"
	"github.com/bookpanda/openexam/internal/config"
	"github.com/bookpanda/openexam/internal/fileservice"
	"github.com/bookpanda/openexam/internal/handler"
	"github.com/bookpanda/openexam/internal/identity"
	"github.com/bookpanda/openexam/internal/logger"
	"github.com/bookpanda/openexam/internal/metrics"
	"github.com/bookpanda/openexam/internal/middleware"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("identity_addr", cfg.IdentityGRPCAddr),
		slog.String("file_service_url", cfg.FileServiceURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", cfg.ServerPort, err)
	}
	return serve(ctx, cfg, listener)
}

// Gateway はワイヤリング済みのHTTPハンドラーと、終了時に解放するリソースを保持する。
type Gateway struct {
	Handler http.Handler

	identity *identity.Client
	limiter  *middleware.RateLimiter
}

// Close は共有リソースを解放する。
func (g *Gateway) Close() error {
	g.limiter.Stop()
	return g.identity.Close()
}

// Build はConfigから全依存関係をワイヤリングしてGatewayを返す。
// アップストリームへの接続は遅延確立されるため、起動時にバックエンドが未起動でもよい。
func Build(cfg *config.Config, log *slog.Logger) (*Gateway, error) {
	if log == nil {
		log = slog.Default()
	}

	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. アップストリームクライアント
	identityClient, err := identity.NewClient(identity.ClientConfig{
		Address:     cfg.IdentityGRPCAddr,
		CallTimeout: cfg.GRPCTimeout,
		Metrics:     collector,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}

	fileClient, err := fileservice.NewClient(fileservice.Config{
		BaseURL: cfg.FileServiceURL,
		Timeout: cfg.UpstreamTimeout,
		Metrics: collector,
		Logger:  log,
	}, identityClient)
	if err != nil {
		identityClient.Close()
		return nil, fmt.Errorf("failed to create file service client: %w", err)
	}

	// 3. 認証
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		AuthURL:      cfg.GoogleAuthURL,
		TokenURL:     cfg.GoogleTokenURL,
		UserInfoURL:  cfg.GoogleUserInfoURL,
		HTTPClient:   &http.Client{Timeout: cfg.UpstreamTimeout},
		Metrics:      collector,
	})
	authService := auth.NewService(oauthProvider, identityClient)

	// 4. ルーターの構築
	// configのレート制限はreq/min単位
	limiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitGenerate))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             log,
		TokenValidator:     identityClient,
		Metrics:            collector,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		HSTS:               cfg.CookieSecure,
		RateLimiter:        limiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure: cfg.CookieSecure,
			StateCheck:   cfg.OAuthStateCheck,
		},

		UserService: identityClient,
		FileService: fileClient,

		Identity:       identityClient,
		MetricsHandler: metrics.Handler(registry),
	})

	return &Gateway{
		Handler:  router,
		identity: identityClient,
		limiter:  limiter,
	}, nil
}

// serve はlistenerでゲートウェイを起動し、ctxがキャンセルされるとグレースフルシャットダウンを行う。
func serve(ctx context.Context, cfg *config.Config, listener net.Listener) error {
	gateway, err := Build(cfg, slog.Default())
	if err != nil {
		listener.Close()
		return err
	}
	defer gateway.Close()

	server := &http.Server{
		Handler:           gateway.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// アップストリームのタイムアウトより長くする
		WriteTimeout: cfg.UpstreamTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
