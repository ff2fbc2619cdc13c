package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bookpanda/openexam/internal/middleware"
	"github.com/bookpanda/openexam/internal/model"
	"github.com/bookpanda/openexam/internal/response"
	"github.com/bookpanda/openexam/internal/security"
)

// FileServiceInterface はチートシートハンドラーが必要とするファイルサービスの操作。
// fileservice.Clientが実装する。
type FileServiceInterface interface {
	GetPresignedUploadURL(ctx context.Context, caller model.Caller, filename string) (*model.PresignedUpload, error)
	GetPresignedGetURL(ctx context.Context, caller model.Caller, key string) (*model.PresignedGet, error)
	RemoveFile(ctx context.Context, caller model.Caller, fileType model.FileType, file string) error
	ListFiles(ctx context.Context, caller model.Caller) ([]model.File, error)
	GetFile(ctx context.Context, caller model.Caller, fileID string) (*model.FileDetail, error)
	Share(ctx context.Context, caller model.Caller, granteeID, fileID string) (bool, error)
	Unshare(ctx context.Context, caller model.Caller, granteeID, fileID string) (bool, error)
	Generate(ctx context.Context, caller model.Caller, fileIDs []string) (*model.GenerateResult, error)
}

// CheatsheetHandler はファイル操作のHTTPハンドラー。
type CheatsheetHandler struct {
	files     FileServiceInterface
	sanitizer *security.FilenameSanitizer
}

// NewCheatsheetHandler はCheatsheetHandlerを生成する。
func NewCheatsheetHandler(files FileServiceInterface) *CheatsheetHandler {
	return &CheatsheetHandler{
		files:     files,
		sanitizer: security.NewFilenameSanitizer(),
	}
}

type shareRequest struct {
	UserID string `json:"user_id"`
	FileID string `json:"file_id"`
}

type shareResponse struct {
	Shared bool `json:"shared"`
}

type unshareResponse struct {
	Unshared bool `json:"unshared"`
}

type generateRequest struct {
	FileIDs []string `json:"file_ids"`
}

type emptyResponse struct{}

// callerOr401 はコンテキストから呼び出し元を取り出す。
// 認証ミドルウェアの外で呼ばれた場合は401の結果を返す。
func callerOr401[T any](r *http.Request) (model.Caller, *response.Result[T]) {
	caller, err := middleware.CallerFromContext(r.Context())
	if err != nil {
		res := response.Error[T](http.StatusUnauthorized, "unauthorized")
		return model.Caller{}, &res
	}
	return caller, nil
}

// PresignedUpload はアップロード用の署名付きURLを発行する。
// GET /cheatsheet/presigned/upload?filename=
func (h *CheatsheetHandler) PresignedUpload(r *http.Request) response.Result[*model.PresignedUpload] {
	caller, denied := callerOr401[*model.PresignedUpload](r)
	if denied != nil {
		return *denied
	}

	raw := r.URL.Query().Get("filename")
	if raw == "" {
		return response.BadRequest[*model.PresignedUpload]("filename is required")
	}
	filename, err := h.sanitizer.Sanitize(raw)
	if err != nil {
		if errors.Is(err, security.ErrEmptyFilename) {
			return response.BadRequest[*model.PresignedUpload]("filename is invalid")
		}
		return response.FromError[*model.PresignedUpload](err)
	}
	if filename != raw {
		slog.DebugContext(r.Context(), "filename sanitized",
			slog.String("original", raw),
			slog.String("sanitized", filename),
		)
	}

	upload, err := h.files.GetPresignedUploadURL(r.Context(), caller, filename)
	if err != nil {
		return response.FromError[*model.PresignedUpload](err)
	}
	return response.OK(upload)
}

// PresignedGet はダウンロード用の署名付きURLを発行する。
// GET /cheatsheet/presigned?key=
func (h *CheatsheetHandler) PresignedGet(r *http.Request) response.Result[*model.PresignedGet] {
	caller, denied := callerOr401[*model.PresignedGet](r)
	if denied != nil {
		return *denied
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		return response.BadRequest[*model.PresignedGet]("key is required")
	}

	get, err := h.files.GetPresignedGetURL(r.Context(), caller, key)
	if err != nil {
		return response.FromError[*model.PresignedGet](err)
	}
	return response.OK(get)
}

// ListFiles は呼び出し元が所有または共有されているファイルを返す。
// GET /cheatsheet/files
func (h *CheatsheetHandler) ListFiles(r *http.Request) response.Result[[]model.File] {
	caller, denied := callerOr401[[]model.File](r)
	if denied != nil {
		return *denied
	}

	files, err := h.files.ListFiles(r.Context(), caller)
	if err != nil {
		return response.FromError[[]model.File](err)
	}
	if files == nil {
		files = []model.File{}
	}
	return response.OK(files)
}

// GetFile はファイルと共有先（表示名つき）を返す。
// GET /cheatsheet/files/{fileId}
func (h *CheatsheetHandler) GetFile(r *http.Request) response.Result[*model.FileDetail] {
	caller, denied := callerOr401[*model.FileDetail](r)
	if denied != nil {
		return *denied
	}

	detail, err := h.files.GetFile(r.Context(), caller, chi.URLParam(r, "fileId"))
	if err != nil {
		return response.FromError[*model.FileDetail](err)
	}
	return response.OK(detail)
}

// RemoveFile はファイルを削除する。
// DELETE /cheatsheet/files?file_type=&file=
func (h *CheatsheetHandler) RemoveFile(r *http.Request) response.Result[emptyResponse] {
	caller, denied := callerOr401[emptyResponse](r)
	if denied != nil {
		return *denied
	}

	q := r.URL.Query()
	fileType := model.FileType(q.Get("file_type"))
	file := q.Get("file")
	if file == "" {
		return response.BadRequest[emptyResponse]("file is required")
	}

	if err := h.files.RemoveFile(r.Context(), caller, fileType, file); err != nil {
		return response.FromError[emptyResponse](err)
	}
	return response.OK(emptyResponse{})
}

// Share はファイルを他のユーザーに共有する。所有者は認証済みユーザー。
// POST /cheatsheet/share {"user_id":"...","file_id":"..."}
func (h *CheatsheetHandler) Share(r *http.Request) response.Result[shareResponse] {
	caller, denied := callerOr401[shareResponse](r)
	if denied != nil {
		return *denied
	}

	req, bad := decodeShareRequest[shareResponse](r)
	if bad != nil {
		return *bad
	}

	shared, err := h.files.Share(r.Context(), caller, req.UserID, req.FileID)
	if err != nil {
		return response.FromError[shareResponse](err)
	}
	return response.OK(shareResponse{Shared: shared})
}

// Unshare は共有を取り消す。
// POST /cheatsheet/unshare {"user_id":"...","file_id":"..."}
func (h *CheatsheetHandler) Unshare(r *http.Request) response.Result[unshareResponse] {
	caller, denied := callerOr401[unshareResponse](r)
	if denied != nil {
		return *denied
	}

	req, bad := decodeShareRequest[unshareResponse](r)
	if bad != nil {
		return *bad
	}

	unshared, err := h.files.Unshare(r.Context(), caller, req.UserID, req.FileID)
	if err != nil {
		return response.FromError[unshareResponse](err)
	}
	return response.OK(unshareResponse{Unshared: unshared})
}

// Generate は複数ファイルの結合ジョブを投入する。
// POST /cheatsheet/generate {"file_ids":["..."]}
func (h *CheatsheetHandler) Generate(r *http.Request) response.Result[*model.GenerateResult] {
	caller, denied := callerOr401[*model.GenerateResult](r)
	if denied != nil {
		return *denied
	}

	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		return response.BadRequest[*model.GenerateResult]("invalid request body")
	}

	if len(req.FileIDs) == 0 {
		return response.BadRequest[*model.GenerateResult]("file_ids must not be empty")
	}

	result, err := h.files.Generate(r.Context(), caller, req.FileIDs)
	if err != nil {
		return response.FromError[*model.GenerateResult](err)
	}
	return response.OK(result)
}

func decodeShareRequest[T any](r *http.Request) (shareRequest, *response.Result[T]) {
	var req shareRequest
	if err := decodeJSON(r, &req); err != nil {
		res := response.BadRequest[T]("invalid request body")
		return req, &res
	}
	if req.UserID == "" || req.FileID == "" {
		res := response.BadRequest[T]("user_id and file_id are required")
		return req, &res
	}
	return req, nil
}
