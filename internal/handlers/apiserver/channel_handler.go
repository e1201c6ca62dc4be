package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"skillswap/internal/imtypes"
	"skillswap/internal/services"
)

// ChannelHandler handles HTTP requests on the channel between the caller and a peer.
type ChannelHandler struct {
	chat   services.ChatService
	logger *zap.Logger
}

// NewChannelHandler creates a new ChannelHandler.
func NewChannelHandler(cs services.ChatService, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{chat: cs, logger: logger}
}

// SendMessagePayload defines the expected JSON body for sending a message.
type SendMessagePayload struct {
	Text string `json:"text"`
}

// peerChannel 解析调用者与 {peerID} 之间的频道ID。
func peerChannel(w http.ResponseWriter, r *http.Request) (userID, peerID, channelID string, ok bool) {
	userID, ok = requireUserID(w, r)
	if !ok {
		return "", "", "", false
	}
	peerID = mux.Vars(r)["peerID"]
	if err := services.ValidateParticipantID(peerID); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return "", "", "", false
	}
	if peerID == userID {
		writeJSONError(w, services.ErrChannelSelf.Error(), http.StatusBadRequest)
		return "", "", "", false
	}
	return userID, peerID, services.ResolveChannelID(userID, peerID), true
}

// OpenChannelHandler handles POST /api/v1/channels/{peerID}/open
func (h *ChannelHandler) OpenChannelHandler(w http.ResponseWriter, r *http.Request) {
	userID, peerID, _, ok := peerChannel(w, r)
	if !ok {
		return
	}
	ch, err := h.chat.OpenChannel(r.Context(), userID, peerID)
	if err != nil {
		writeServiceError(w, h.logger, err, "打开频道失败", zap.String("user", userID), zap.String("peer", peerID))
		return
	}
	writeJSONResponse(w, http.StatusOK, imtypes.NewSnapshotFrame(ch))
}

// GetMessagesHandler handles GET /api/v1/channels/{peerID}/messages
func (h *ChannelHandler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	_, _, channelID, ok := peerChannel(w, r)
	if !ok {
		return
	}
	ch, err := h.chat.GetChannel(r.Context(), channelID)
	if err != nil {
		writeServiceError(w, h.logger, err, "获取频道消息失败", zap.String("channelId", channelID))
		return
	}
	writeJSONResponse(w, http.StatusOK, imtypes.NewSnapshotFrame(ch))
}

// SendMessageHandler handles POST /api/v1/channels/{peerID}/messages
func (h *ChannelHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, _, channelID, ok := peerChannel(w, r)
	if !ok {
		return
	}

	var payload SendMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	msg, err := h.chat.Send(r.Context(), channelID, userID, payload.Text)
	if err != nil {
		writeServiceError(w, h.logger, err, "发送消息失败", zap.String("channelId", channelID), zap.String("sender", userID))
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg)
}
