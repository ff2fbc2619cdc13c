package handler

import (
	"net/http"

	"google.golang.org/grpc/connectivity"

	"github.com/bookpanda/openexam/internal/response"
)

// ConnectivityReporter はアイデンティティサービスへの接続状態を返す。
type ConnectivityReporter interface {
	State() connectivity.State
}

type healthResponse struct {
	Status   string `json:"status"`
	Identity string `json:"identity"`
}

// Health はプロセスの稼働状況とアイデンティティサービスへの接続状態を返す。
// 接続が失敗状態またはシャットダウン済みの場合は503を返す。
// GET /health
func Health(identity ConnectivityReporter) http.HandlerFunc {
	return response.Handle(func(r *http.Request) response.Result[healthResponse] {
		if identity == nil {
			return response.OK(healthResponse{Status: "ok", Identity: "unknown"})
		}

		state := identity.State()
		switch state {
		case connectivity.TransientFailure, connectivity.Shutdown:
			return response.Error[healthResponse](http.StatusServiceUnavailable, "identity service is "+state.String())
		}
		return response.OK(healthResponse{Status: "ok", Identity: state.String()})
	})
}
