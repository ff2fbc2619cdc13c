package identity

// LoginRequest はLogin RPCのリクエスト。
// IdPから取得したプロフィールでユーザーを検索し、なければ作成する。
type LoginRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// LoginReply はLogin RPCのレスポンス。
type LoginReply struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// ValidateTokenRequest はValidateToken RPCのリクエスト。
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// GetUserRequest はGetUser RPCのリクエスト。
type GetUserRequest struct {
	ID string `json:"id"`
}

// CreateUserRequest はCreateUser RPCのリクエスト。
type CreateUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// UserReply はユーザー1件を返すRPCのレスポンス。
type UserReply struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// GetAllUsersRequest はGetAllUsers RPCのリクエスト。
type GetAllUsersRequest struct{}

// UserSummary はGetAllUsersで返すユーザー。
type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GetAllUsersReply はGetAllUsers RPCのレスポンス。
type GetAllUsersReply struct {
	Users []UserSummary `json:"users"`
}
