package fileservice

import (
	"encoding/json"

	"github.com/bookpanda/openexam/internal/model"
)

// envelope はファイルサービスのレスポンス共通形式。
// 成功時は {"success":true,"data":...}、失敗時は {"success":false,"error":"..."}。
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type presignUploadData struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	ExpiresIn int64  `json:"expiresIn"`
}

type presignGetData struct {
	URL       string `json:"url"`
	ExpiresIn int64  `json:"expiresIn"`
}

// fileRecord はファイルサービスが返すファイル。フィールド名は大文字始まり。
type fileRecord struct {
	ID        string `json:"ID"`
	UserID    string `json:"UserID"`
	CreatedAt string `json:"CreatedAt"`
	Name      string `json:"Name"`
	Key       string `json:"Key"`
}

func (f fileRecord) toModel() model.File {
	return model.File{
		ID:        f.ID,
		OwnerID:   f.UserID,
		CreatedAt: f.CreatedAt,
		Name:      f.Name,
		Key:       f.Key,
	}
}

type filesData struct {
	Files []fileRecord `json:"files"`
}

type shareRecord struct {
	UserID string `json:"userId"`
	Key    string `json:"key"`
	FileID string `json:"fileId"`
}

type fileDetailData struct {
	File   fileRecord    `json:"file"`
	Shares []shareRecord `json:"shares"`
}

type shareData struct {
	Shared bool `json:"shared"`
}

type unshareData struct {
	Unshared bool `json:"unshared"`
}

type generateRequest struct {
	FileIDs []string `json:"file_ids"`
}

type generateData struct {
	FileID string `json:"file_id"`
	Key    string `json:"key"`
}
