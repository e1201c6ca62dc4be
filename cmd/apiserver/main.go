package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"skillswap/internal/bootstrap"
	"skillswap/internal/config"
	"skillswap/internal/handlers/apiserver"
	"skillswap/internal/logging"
	"skillswap/internal/services"
	"skillswap/internal/storage"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.AppName+"-api")
	if err != nil {
		log.Fatalf("无法初始化日志: %v", err)
	}
	defer logger.Sync()
	logger.Info("API 服务器配置加载成功。")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 2. 初始化文档存储与频道快照分发
	feed := storage.NewChannelFeed(logger)
	store, closeStore, err := bootstrap.OpenStore(rootCtx, cfg, feed, logger)
	if err != nil {
		logger.Fatal("无法初始化存储", zap.Error(err))
	}
	defer closeStore()
	logger.Info("存储初始化成功", zap.String("backend", cfg.Store.Backend))

	// 3. Redis 中继 (可选)：将本实例提交的快照转发给 chat server
	stopRelay, err := bootstrap.StartRelay(rootCtx, cfg.Redis, feed, logger)
	if err != nil {
		logger.Fatal("无法连接到 Redis", zap.Error(err))
	}
	defer stopRelay()

	// 4. 初始化事件发布者
	publisher, err := bootstrap.NewPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("无法创建事件发布者", zap.Error(err))
	}
	defer publisher.Close()

	// 5. 初始化 Services
	requestService := services.NewRequestService(store, publisher, logger, cfg.Store.MaxWriteRetries)
	chatService := services.NewChatService(store, publisher, logger, cfg.Store.MaxWriteRetries)

	// 6. 设置 HTTP 路由
	r := apiserver.NewRouter(apiserver.RouterDeps{
		Requests:    requestService,
		Chat:        chatService,
		JWTSecret:   cfg.Auth.JWTSecretKey,
		MetricsPath: cfg.Metrics.Path,
		Logger:      logger,
	})

	// 7. CORS
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	corsHandler := handlers.CORS(corsOptions...)(r)

	// 8. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      corsHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Second * 60,
	}

	go func() {
		logger.Info("API 服务器启动", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("API 服务器启动失败", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("收到关闭信号，正在关闭 API 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("API 服务器强制关闭", zap.Error(err))
	}
	cancelRoot()
	logger.Info("API 服务器已成功关闭")
}
