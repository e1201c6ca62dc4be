package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"skillswap/internal/bootstrap"
	"skillswap/internal/config"
	"skillswap/internal/handlers/chatserver"
	"skillswap/internal/logging"
	"skillswap/internal/metrics"
	"skillswap/internal/services"
	"skillswap/internal/storage"
	"skillswap/internal/websocket"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.AppName+"-chat")
	if err != nil {
		log.Fatalf("无法初始化日志: %v", err)
	}
	defer logger.Sync()
	logger.Info("Chat 服务器配置加载成功。")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 2. 初始化文档存储与频道快照分发
	feed := storage.NewChannelFeed(logger)
	store, closeStore, err := bootstrap.OpenStore(rootCtx, cfg, feed, logger)
	if err != nil {
		logger.Fatal("无法初始化存储", zap.Error(err))
	}
	defer closeStore()

	// 3. Redis 中继：接收其他实例 (包括 API 服务器) 提交的快照
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

	chatService := services.NewChatService(store, publisher, logger, cfg.Store.MaxWriteRetries)

	// 5. 初始化 WebSocket Hub
	hub := websocket.NewHub(logger)
	go hub.Run(rootCtx)

	wsHandler := chatserver.NewWebSocketHandler(hub, chatService, cfg, logger)

	// 6. 请求事件消费者：推送给目标用户的所有连接
	instanceID, _ := os.Hostname()
	subscriber, err := bootstrap.NewRequestEventSubscriber(cfg, instanceID, logger)
	if err != nil {
		logger.Fatal("无法创建请求事件消费者", zap.Error(err))
	}
	var consumers sync.WaitGroup
	if subscriber != nil {
		defer subscriber.Close()
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			logger.Info("请求事件消费者启动", zap.String("broker", cfg.Events.Broker))
			if err := subscriber.Run(rootCtx, wsHandler.HandleRequestEvent); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("请求事件消费者错误", zap.Error(err))
			}
			logger.Info("请求事件消费者已停止。")
		}()
	}

	// 7. 配置 HTTP 服务器路由
	r := mux.NewRouter()
	r.Use(metrics.Middleware)
	wsPath := strings.TrimSuffix(cfg.Server.WebSocketPath, "/")
	r.HandleFunc(wsPath+"/{peerID}", wsHandler.ServeWS)
	r.Handle(cfg.Metrics.Path, promhttp.Handler())

	// 8. 启动 HTTP 服务器
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:           serverAddr,
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Info("Chat HTTP 服务器启动", zap.String("addr", serverAddr), zap.String("websocketPath", wsPath+"/{peerID}"))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Chat 服务器启动失败", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Chat 服务器准备关闭...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error("Chat 服务器关闭失败", zap.Error(err))
	}

	cancelRoot()
	consumers.Wait()
	logger.Info("Chat 服务器已优雅关闭。")
}
