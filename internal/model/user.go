package model

// Identity はアイデンティティサービスが管理するユーザーの読み取り専用射影。
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// LoginResult はログイン成功時にクライアントへ返す内容。
type LoginResult struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// UserSummary はユーザー一覧で使う最小限のユーザー情報。
type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Profile はIdPから取得したプロフィール情報。
type Profile struct {
	Email string
	Name  string
}

// Caller は下流サービスへ伝播する呼び出し元の情報。
// 認証ミドルウェアが解決したアイデンティティとリクエストIDを保持する。
type Caller struct {
	Identity
	RequestID string
}
