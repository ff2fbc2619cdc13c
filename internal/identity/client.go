// Package identity はアイデンティティサービスへのgRPCクライアントを提供する。
//
// すべてのRPCエラーはこのパッケージの境界でmodel.Errorに変換され、
// gRPC固有のエラー型は呼び出し元に渡らない。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookpanda/openexam/internal/metrics"
	"github.com/bookpanda/openexam/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

const defaultCallTimeout = 5 * time.Second

// ClientConfig はアイデンティティクライアントの設定。
type ClientConfig struct {
	// Address は接続先（例: "127.0.0.1:50051"）。
	Address string
	// CallTimeout は1回のRPCに許す最大時間。
	CallTimeout time.Duration
	Metrics     metrics.MetricsCollector
	Logger      *slog.Logger
	// DialOptions はテスト用に追加する接続オプション。
	DialOptions []grpc.DialOption
}

// Client はアイデンティティサービスの型付きクライアント。
// 単一のgrpc.ClientConnを全リクエストで共有し、メソッドは並行に呼び出してよい。
type Client struct {
	conn        *grpc.ClientConn
	callTimeout time.Duration
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

// NewClient はClientを生成する。
// 接続は遅延確立されるため、アイデンティティサービスが未起動でもエラーにならない。
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("identity service address is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}

	return &Client{
		conn:        conn,
		callTimeout: cfg.CallTimeout,
		metrics:     metrics.OrNop(cfg.Metrics),
		logger:      cfg.Logger,
	}, nil
}

// Close は接続を閉じる。
func (c *Client) Close() error {
	return c.conn.Close()
}

// State は現在の接続状態を返す。
func (c *Client) State() connectivity.State {
	return c.conn.GetState()
}

// Login はプロフィールでユーザーを検索または作成し、セッショントークンを発行する。
func (c *Client) Login(ctx context.Context, email, name string) (*model.LoginResult, error) {
	var reply LoginReply
	if err := c.invoke(ctx, "Login", methodLogin, &LoginRequest{Email: email, Name: name}, &reply); err != nil {
		return nil, err
	}
	return &model.LoginResult{
		ID:    reply.ID,
		Email: reply.Email,
		Name:  reply.Name,
		Token: reply.Token,
	}, nil
}

// ValidateToken はセッショントークンを検証し、対応するアイデンティティを返す。
// 結果はキャッシュしない。状態を変更しないため、同じトークンなら何度呼んでも同じ結果になる。
func (c *Client) ValidateToken(ctx context.Context, token string) (*model.Identity, error) {
	var reply UserReply
	if err := c.invoke(ctx, "ValidateToken", methodValidateToken, &ValidateTokenRequest{Token: token}, &reply); err != nil {
		return nil, err
	}
	return toIdentity(&reply), nil
}

// GetUser はIDでユーザーを取得する。
func (c *Client) GetUser(ctx context.Context, id string) (*model.Identity, error) {
	var reply UserReply
	if err := c.invoke(ctx, "GetUser", methodGetUser, &GetUserRequest{ID: id}, &reply); err != nil {
		return nil, err
	}
	return toIdentity(&reply), nil
}

// CreateUser はユーザーを作成する。
func (c *Client) CreateUser(ctx context.Context, email, name string) (*model.Identity, error) {
	var reply UserReply
	if err := c.invoke(ctx, "CreateUser", methodCreateUser, &CreateUserRequest{Email: email, Name: name}, &reply); err != nil {
		return nil, err
	}
	return toIdentity(&reply), nil
}

// GetAllUsers は全ユーザーのIDと表示名を返す。
func (c *Client) GetAllUsers(ctx context.Context) ([]model.UserSummary, error) {
	var reply GetAllUsersReply
	if err := c.invoke(ctx, "GetAllUsers", methodGetAllUsers, &GetAllUsersRequest{}, &reply); err != nil {
		return nil, err
	}
	users := make([]model.UserSummary, 0, len(reply.Users))
	for _, u := range reply.Users {
		users = append(users, model.UserSummary{ID: u.ID, Name: u.Name})
	}
	return users, nil
}

// Ping はgRPCヘルスチェックでアイデンティティサービスの到達性を確認する。
// ヘルスサービス未実装（Unimplemented）の場合も到達できたとみなす。
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(c.conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{
		Service: ServiceName,
	})
	if err != nil {
		if status.Code(err) == codes.Unimplemented {
			return nil
		}
		return classify(err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return model.NewUnavailableError(fmt.Sprintf("identity service is %s", resp.GetStatus()), nil)
	}
	return nil
}

// invoke はタイムアウト付きでRPCを実行し、エラーを分類する。
func (c *Client) invoke(ctx context.Context, operation, method string, req, reply any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	err := c.conn.Invoke(ctx, method, req, reply, grpc.CallContentSubtype(codecName))
	duration := time.Since(start)

	if err != nil {
		classified := classify(err)
		c.metrics.RecordUpstreamCall(metrics.UpstreamIdentity, operation, string(classified.Kind), duration)
		c.logger.Warn("identity rpc failed",
			slog.String("operation", operation),
			slog.String("kind", string(classified.Kind)),
			slog.String("error", err.Error()),
		)
		return classified
	}

	c.metrics.RecordUpstreamCall(metrics.UpstreamIdentity, operation, "ok", duration)
	return nil
}

// classify はgRPCのステータスをゲートウェイのエラー分類に変換する。
func classify(err error) *model.Error {
	var classified *model.Error
	if errors.As(err, &classified) {
		return classified
	}

	st, ok := status.FromError(err)
	if !ok {
		return model.NewInternalError("identity rpc failed", err)
	}

	switch st.Code() {
	case codes.Unauthenticated:
		return &model.Error{Kind: model.KindUnauthenticated, Message: st.Message(), Err: err}
	case codes.NotFound:
		return &model.Error{Kind: model.KindNotFound, Message: st.Message(), Err: err}
	case codes.InvalidArgument:
		return &model.Error{Kind: model.KindValidation, Message: st.Message(), Err: err}
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return model.NewUnavailableError("identity service is unavailable", err)
	default:
		return model.NewInternalError(st.Message(), err)
	}
}

func toIdentity(reply *UserReply) *model.Identity {
	return &model.Identity{
		ID:    reply.ID,
		Email: reply.Email,
		Name:  reply.Name,
	}
}
