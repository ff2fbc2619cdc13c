// Package fileservice はファイル共有サービスへのHTTPクライアントを提供する。
//
// すべてのメソッドは呼び出し元のアイデンティティをX-User-*ヘッダーで伝播し、
// 失敗はmodel.Errorに分類して返す。
package fileservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bookpanda/openexam/internal/metrics"
	"github.com/bookpanda/openexam/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout = 10 * time.Second
	// maxResponseBodySize はアップストリームのレスポンスとして読み込む最大バイト数。
	maxResponseBodySize = 4 << 20
	// maxPlainMessageLen はプレーンテキストのエラー本文をメッセージとして採用する上限。
	maxPlainMessageLen = 256
)

// 伝播するヘッダー
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
	HeaderRequestID = "X-Request-Id"
)

// Config はファイルサービスクライアントの設定。
type Config struct {
	// BaseURL はファイルサービスのベースURL（例: "http://127.0.0.1:3002"）。
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    metrics.MetricsCollector
	Logger     *slog.Logger
}

// UserLister は共有先IDを表示名に解決するためのユーザー一覧取得インターフェース。
type UserLister interface {
	GetAllUsers(ctx context.Context) ([]model.UserSummary, error)
}

// Client はファイルサービスの型付きHTTPクライアント。
// 状態を持たないため、全リクエストで共有してよい。
type Client struct {
	baseURL    string
	httpClient *http.Client
	users      UserLister
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewClient はClientを生成する。
// usersはGetFileでの表示名解決に使用する。
func NewClient(cfg Config, users UserLister) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid file service url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid file service url: %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		users:      users,
		metrics:    metrics.OrNop(cfg.Metrics),
		logger:     logger,
	}, nil
}

// GetPresignedUploadURL はアップロード用の署名付きURLを発行する。
func (c *Client) GetPresignedUploadURL(ctx context.Context, caller model.Caller, filename string) (*model.PresignedUpload, error) {
	if filename == "" {
		return nil, model.NewValidationError("filename is required")
	}

	var data presignUploadData
	err := c.fetch(ctx, caller, request{
		operation: "presign_upload",
		method:    http.MethodGet,
		path:      "/files/presign/upload",
		query:     url.Values{"filename": {filename}},
	}, &data)
	if err != nil {
		return nil, err
	}

	return &model.PresignedUpload{URL: data.URL, Key: data.Key, ExpiresIn: data.ExpiresIn}, nil
}

// GetPresignedGetURL はダウンロード用の署名付きURLを発行する。
// keyにはGetPresignedUploadURLが返したキーをそのまま渡す。
func (c *Client) GetPresignedGetURL(ctx context.Context, caller model.Caller, key string) (*model.PresignedGet, error) {
	if key == "" {
		return nil, model.NewValidationError("key is required")
	}

	var data presignGetData
	err := c.fetch(ctx, caller, request{
		operation: "presign_get",
		method:    http.MethodGet,
		path:      "/files/presign",
		query:     url.Values{"key": {key}},
	}, &data)
	if err != nil {
		return nil, err
	}

	return &model.PresignedGet{URL: data.URL, ExpiresIn: data.ExpiresIn}, nil
}

// RemoveFile はファイルと関連する共有を削除する。
// アップストリームの404はNotFound、それ以外の失敗はInternalとして扱う。
func (c *Client) RemoveFile(ctx context.Context, caller model.Caller, fileType model.FileType, file string) error {
	if !fileType.Valid() {
		return model.NewValidationError("file_type must be slides or cheatsheets")
	}
	if file == "" {
		return model.NewValidationError("file is required")
	}

	return c.fetch(ctx, caller, request{
		operation: "remove_file",
		method:    http.MethodDelete,
		path:      "/files",
		query: url.Values{
			"file_type": {string(fileType)},
			"user_id":   {caller.ID},
			"file":      {file},
		},
		onError: removeFileError,
	}, nil)
}

// ListFiles は呼び出し元が所有または共有されているファイルを返す。
func (c *Client) ListFiles(ctx context.Context, caller model.Caller) ([]model.File, error) {
	var data filesData
	err := c.fetch(ctx, caller, request{
		operation: "list_files",
		method:    http.MethodGet,
		path:      "/files",
	}, &data)
	if err != nil {
		return nil, err
	}

	files := make([]model.File, 0, len(data.Files))
	for _, f := range data.Files {
		files = append(files, f.toModel())
	}
	return files, nil
}

// GetFile はファイルと共有先一覧を返す。
// ファイル取得とユーザー一覧取得を並行に行い、共有先IDを表示名に解決する。
// 失敗はどちらのアップストリームのものでもそのまま返す。
func (c *Client) GetFile(ctx context.Context, caller model.Caller, fileID string) (*model.FileDetail, error) {
	if fileID == "" {
		return nil, model.NewValidationError("file id is required")
	}

	var (
		detail fileDetailData
		users  []model.UserSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.fetch(gctx, caller, request{
			operation: "get_file",
			method:    http.MethodGet,
			path:      "/files/" + url.PathEscape(fileID),
		}, &detail)
	})
	if c.users != nil {
		g.Go(func() error {
			var err error
			users, err = c.users.GetAllUsers(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}

	shares := make([]model.Share, 0, len(detail.Shares))
	for _, s := range detail.Shares {
		shares = append(shares, model.Share{
			FileID:        s.FileID,
			GranteeUserID: s.UserID,
			Name:          names[s.UserID],
		})
	}

	return &model.FileDetail{File: detail.File.toModel(), Shares: shares}, nil
}

// Share は呼び出し元のファイルを別ユーザーに共有する。
func (c *Client) Share(ctx context.Context, caller model.Caller, granteeID, fileID string) (bool, error) {
	if granteeID == "" || fileID == "" {
		return false, model.NewValidationError("user_id and file_id are required")
	}

	var data shareData
	err := c.fetch(ctx, caller, formRequest("share", "/share", url.Values{
		"user_id": {granteeID},
		"file_id": {fileID},
	}), &data)
	if err != nil {
		return false, err
	}
	return data.Shared, nil
}

// Unshare は別ユーザーへの共有を取り消す。
func (c *Client) Unshare(ctx context.Context, caller model.Caller, granteeID, fileID string) (bool, error) {
	if granteeID == "" || fileID == "" {
		return false, model.NewValidationError("user_id and file_id are required")
	}

	var data unshareData
	err := c.fetch(ctx, caller, formRequest("unshare", "/unshare", url.Values{
		"user_id": {granteeID},
		"file_id": {fileID},
	}), &data)
	if err != nil {
		return false, err
	}
	return data.Unshared, nil
}

// Generate は複数ファイルを1つのPDFに結合するジョブを投入し、生成物の参照を返す。
// fileIDsが空の場合はファイルサービスを呼び出さない。
func (c *Client) Generate(ctx context.Context, caller model.Caller, fileIDs []string) (*model.GenerateResult, error) {
	if len(fileIDs) == 0 {
		return nil, model.NewValidationError("file_ids must not be empty")
	}

	payload, err := json.Marshal(generateRequest{FileIDs: fileIDs})
	if err != nil {
		return nil, model.NewInternalError("failed to encode generate request", err)
	}

	var data generateData
	err = c.fetch(ctx, caller, request{
		operation:   "generate",
		method:      http.MethodPost,
		path:        "/generate",
		body:        payload,
		contentType: "application/json",
	}, &data)
	if err != nil {
		return nil, err
	}

	return &model.GenerateResult{FileID: data.FileID, Key: data.Key}, nil
}

// request は1回のアップストリーム呼び出しの内容。
type request struct {
	operation   string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	// onError は非2xxレスポンスの分類を差し替える。nilの場合はUpstreamError。
	onError func(status int, message, body string) *model.Error
}

func formRequest(operation, path string, form url.Values) request {
	return request{
		operation:   operation,
		method:      http.MethodPost,
		path:        path,
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}
}

// fetch はリクエストを実行し、結果をメトリクスとログに記録する。
// outがnilの場合はレスポンスボディをデコードしない。
func (c *Client) fetch(ctx context.Context, caller model.Caller, r request, out any) error {
	start := time.Now()
	err := c.roundTrip(ctx, caller, r, out)
	duration := time.Since(start)

	if err != nil {
		e := model.AsError(err)
		c.metrics.RecordUpstreamCall(metrics.UpstreamFile, r.operation, string(e.Kind), duration)

		attrs := []any{
			slog.String("operation", r.operation),
			slog.String("kind", string(e.Kind)),
			slog.String("user_id", caller.ID),
			slog.String("error", err.Error()),
		}
		if e.Status != 0 {
			attrs = append(attrs, slog.Int("upstream_status", e.Status))
		}
		if e.Body != "" {
			attrs = append(attrs, slog.String("upstream_body", e.Body))
		}
		if caller.RequestID != "" {
			attrs = append(attrs, slog.String("request_id", caller.RequestID))
		}
		c.logger.Warn("file service call failed", attrs...)
		return e
	}

	c.metrics.RecordUpstreamCall(metrics.UpstreamFile, r.operation, "ok", duration)
	return nil
}

// roundTrip はHTTP呼び出しとレスポンスの分類を行う。
//  1. 通信失敗はNetworkError
//  2. 非2xxはステータスとボディをそのまま保持したUpstreamError
func (c *Client) roundTrip(ctx context.Context, caller model.Caller, r request, out any) error {
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return model.NewInternalError("failed to build file service request", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	setCallerHeaders(req.Header, caller)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewNetworkError("file service request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return model.NewNetworkError("failed to read file service response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := upstreamMessage(resp.StatusCode, raw)
		if r.onError != nil {
			return r.onError(resp.StatusCode, message, string(raw))
		}
		return model.NewUpstreamError(resp.StatusCode, message, string(raw))
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &model.Error{Kind: model.KindInternal, Message: "failed to decode file service response", Body: string(raw), Err: err}
	}
	if !env.Success {
		message := env.Error
		if message == "" {
			message = "file service reported failure"
		}
		return model.NewUpstreamError(http.StatusBadGateway, message, string(raw))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &model.Error{Kind: model.KindInternal, Message: "failed to decode file service response", Body: string(raw), Err: err}
	}
	return nil
}

// setCallerHeaders は呼び出し元のアイデンティティをヘッダーに設定する。
func setCallerHeaders(h http.Header, caller model.Caller) {
	h.Set(HeaderUserID, caller.ID)
	if caller.Email != "" {
		h.Set(HeaderUserEmail, caller.Email)
	}
	if caller.Name != "" {
		h.Set(HeaderUserName, caller.Name)
	}
	if caller.RequestID != "" {
		h.Set(HeaderRequestID, caller.RequestID)
	}
}

// upstreamMessage は非2xxレスポンスからクライアントに返すメッセージを取り出す。
// エンベロープのerror、短いプレーンテキスト本文、ステータス文言の順に採用する。
func upstreamMessage(status int, raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != "" {
		return env.Error
	}

	text := strings.TrimSpace(string(raw))
	if text != "" && len(text) <= maxPlainMessageLen && !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "<") {
		return text
	}

	if statusText := http.StatusText(status); statusText != "" {
		return fmt.Sprintf("file service returned %d %s", status, statusText)
	}
	return fmt.Sprintf("file service returned %d", status)
}

func removeFileError(status int, message, body string) *model.Error {
	if status == http.StatusNotFound {
		return &model.Error{Kind: model.KindNotFound, Message: message, Body: body}
	}
	return &model.Error{Kind: model.KindInternal, Message: fmt.Sprintf("failed to delete file: %s", message), Body: body}
}
