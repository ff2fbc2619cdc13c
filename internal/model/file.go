package model

// File はファイルサービスが所有するファイルのメタデータ。
// CreatedAtはファイルサービスの表現をそのまま運ぶ。
type File struct {
	ID        string `json:"id"`
	OwnerID   string `json:"userId"`
	CreatedAt string `json:"createdAt"`
	Name      string `json:"name"`
	Key       string `json:"key"`
}

// Share はファイルと共有先ユーザーの紐付け。
// Nameは共有先ユーザーの表示名で、ゲートウェイが解決する。
type Share struct {
	FileID        string `json:"fileId"`
	GranteeUserID string `json:"userId"`
	Name          string `json:"name"`
}

// FileDetail はファイル本体と共有先一覧。
type FileDetail struct {
	File   File    `json:"file"`
	Shares []Share `json:"shares"`
}

// PresignedUpload はアップロード用署名付きURL。
type PresignedUpload struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	ExpiresIn int64  `json:"expiresIn"`
}

// PresignedGet はダウンロード用署名付きURL。
type PresignedGet struct {
	URL       string `json:"url"`
	ExpiresIn int64  `json:"expiresIn"`
}

// GenerateResult は複数ファイル結合ジョブの結果参照。
type GenerateResult struct {
	FileID string `json:"file_id"`
	Key    string `json:"key"`
}

// FileType は削除対象ファイルの種別。
type FileType string

// ファイル種別
const (
	FileTypeSlides      FileType = "slides"
	FileTypeCheatsheets FileType = "cheatsheets"
)

// Valid はファイル種別が既知の値かどうかを返す。
func (t FileType) Valid() bool {
	return t == FileTypeSlides || t == FileTypeCheatsheets
}
