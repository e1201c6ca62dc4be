package chatserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"skillswap/internal/auth"
	"skillswap/internal/config"
	"skillswap/internal/events"
	"skillswap/internal/imtypes"
	"skillswap/internal/models"
	"skillswap/internal/services"
	ws "skillswap/internal/websocket"
)

var ErrUnknownFrameType = errors.New("未知的帧类型")

// WebSocketHandler 负责处理 WebSocket 连接请求。每个连接绑定到调用者与 {peerID} 之间的频道。
type WebSocketHandler struct {
	hub    *ws.Hub
	chat   services.ChatService
	cfg    config.Config
	logger *zap.Logger
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
func NewWebSocketHandler(hub *ws.Hub, chat services.ChatService, cfg config.Config, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{hub: hub, chat: chat, cfg: cfg, logger: logger}
}

// ServeWS 处理传入的 WebSocket 请求。
// 它验证 token，打开并订阅频道，随后将每个提交的快照推送给客户端。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "缺少认证令牌", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ValidateToken(token, h.cfg.Auth.JWTSecretKey)
	if err != nil {
		h.logger.Info("WebSocket 连接尝试失败：令牌无效", zap.Error(err))
		http.Error(w, "令牌无效", http.StatusUnauthorized)
		return
	}
	userID := claims.UserID
	peerID := mux.Vars(r)["peerID"]

	ch, err := h.chat.OpenChannel(r.Context(), userID, peerID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrInvalidUserID) || errors.Is(err, services.ErrChannelSelf) {
			status = http.StatusBadRequest
		}
		h.logger.Warn("打开频道失败", zap.String("user", userID), zap.String("peer", peerID), zap.Error(err))
		http.Error(w, fmt.Sprintf("打开频道失败: %v", err), status)
		return
	}
	channelID := ch.ID

	handleFrame := func(ctx context.Context, frame imtypes.ClientFrame) error {
		switch frame.Type {
		case imtypes.SendFrameType:
			_, err := h.chat.Send(ctx, channelID, userID, frame.Text)
			return err
		default:
			return fmt.Errorf("%w: %q", ErrUnknownFrameType, frame.Type)
		}
	}

	client, err := ws.Upgrade(h.hub, w, r, userID, channelID, handleFrame, h.cfg.WebSocket)
	if err != nil {
		// Upgrade 已经写入了错误响应
		h.logger.Warn("WebSocket Upgrade 失败", zap.String("user", userID), zap.Error(err))
		return
	}

	// The subscription outlives the HTTP request, so it must not use r.Context().
	cancel, err := h.chat.Subscribe(context.Background(), channelID, func(snapshot *models.Channel) {
		client.SendJSON(imtypes.NewSnapshotFrame(snapshot))
	})
	if err != nil {
		h.logger.Error("订阅频道失败", zap.String("channelId", channelID), zap.Error(err))
		client.SendJSON(imtypes.NewErrorFrame(err))
		cancel = func() {}
	}
	client.Start(cancel)
}

// HandleRequestEvent pushes request lifecycle events to every connection of the concerned user.
func (h *WebSocketHandler) HandleRequestEvent(_ context.Context, evt events.Event) error {
	if !evt.IsRequestEvent() || evt.UserID == "" {
		return nil
	}
	frame := imtypes.RequestEventFrame{
		Type:      imtypes.RequestEventFrameType,
		Event:     evt.Type,
		RequestID: evt.RequestID,
		ActorID:   evt.ActorID,
		Request:   evt.Request,
		Timestamp: evt.Timestamp,
	}
	if err := h.hub.DeliverToUser(evt.UserID, frame); err != nil {
		// 序列化失败重试也无意义，记录后跳过
		h.logger.Error("无法投递请求事件", zap.String("type", evt.Type), zap.String("user", evt.UserID), zap.Error(err))
	}
	return nil
}
