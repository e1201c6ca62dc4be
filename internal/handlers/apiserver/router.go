package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"skillswap/internal/metrics"
	"skillswap/internal/middleware"
	"skillswap/internal/services"
)

// RouterDeps 是构建 API 路由所需的依赖。
type RouterDeps struct {
	Requests    services.RequestService
	Chat        services.ChatService
	JWTSecret   string
	MetricsPath string
	Logger      *zap.Logger
}

// NewRouter 设置 HTTP 路由。
func NewRouter(deps RouterDeps) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	requestHandler := NewRequestHandler(deps.Requests, logger)
	channelHandler := NewChannelHandler(deps.Chat, logger)
	adminHandler := NewAdminHandler(deps.Requests, logger)

	r := mux.NewRouter()
	r.Use(metrics.Middleware)

	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, promhttp.Handler()).Methods(http.MethodGet)

	// API 子路由 (需要认证)
	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.AuthMiddleware(deps.JWTSecret))

	// 交换请求路由
	requestRouter := apiRouter.PathPrefix("/requests").Subrouter()
	requestRouter.HandleFunc("", requestHandler.SubmitRequestHandler).Methods(http.MethodPost)
	requestRouter.HandleFunc("", requestHandler.ListRequestsHandler).Methods(http.MethodGet)
	requestRouter.HandleFunc("/history", requestHandler.ListHistoryHandler).Methods(http.MethodGet)
	requestRouter.HandleFunc("/{requestID}/accept", requestHandler.AcceptRequestHandler).Methods(http.MethodPost)
	requestRouter.HandleFunc("/{requestID}/reject", requestHandler.RejectRequestHandler).Methods(http.MethodPost)

	// 好友与统计
	apiRouter.HandleFunc("/friends", requestHandler.ListFriendsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/{userID}/swaps", requestHandler.SwapCountHandler).Methods(http.MethodGet)

	// 频道路由
	apiRouter.HandleFunc("/channels/{peerID}/open", channelHandler.OpenChannelHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/channels/{peerID}/messages", channelHandler.GetMessagesHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/channels/{peerID}/messages", channelHandler.SendMessageHandler).Methods(http.MethodPost)

	// 管理路由
	apiRouter.HandleFunc("/admin/users/{userID}", adminHandler.UpdateProfileHandler).Methods(http.MethodPut)

	return r
}
