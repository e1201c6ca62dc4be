package apiserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"skillswap/internal/models"
	"skillswap/internal/services"
)

// RequestHandler handles HTTP requests related to swap requests and friends.
type RequestHandler struct {
	requests services.RequestService
	logger   *zap.Logger
}

// NewRequestHandler creates a new RequestHandler.
func NewRequestHandler(rs services.RequestService, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{requests: rs, logger: logger}
}

// SubmitRequestPayload defines the expected JSON body for submitting a swap request.
type SubmitRequestPayload struct {
	ToUserID     string `json:"toUserId"`
	OfferedSkill string `json:"offeredSkill"`
	WantedSkill  string `json:"wantedSkill"`
	Message      string `json:"message"`
}

// SwapCountResponse 是交换次数接口的响应体。
type SwapCountResponse struct {
	UserID string `json:"userId"`
	Swaps  int    `json:"swaps"`
}

// SubmitRequestHandler handles POST /api/v1/requests
func (h *RequestHandler) SubmitRequestHandler(w http.ResponseWriter, r *http.Request) {
	fromUserID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var payload SubmitRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if payload.ToUserID == "" {
		writeJSONError(w, "缺少接收者ID (toUserId)", http.StatusBadRequest)
		return
	}

	req, err := h.requests.SubmitRequest(r.Context(), fromUserID, payload.ToUserID, services.SubmitRequestInput{
		OfferedSkill: payload.OfferedSkill,
		WantedSkill:  payload.WantedSkill,
		Message:      payload.Message,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "发送交换请求失败",
			zap.String("from", fromUserID), zap.String("to", payload.ToUserID))
		return
	}
	writeJSONResponse(w, http.StatusCreated, req)
}

// ListRequestsHandler handles GET /api/v1/requests
func (h *RequestHandler) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	requests, err := h.requests.ListRequests(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "获取交换请求失败", zap.String("user", userID))
		return
	}
	writeJSONResponse(w, http.StatusOK, requests)
}

// ListHistoryHandler handles GET /api/v1/requests/history
func (h *RequestHandler) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	history, err := h.requests.ListHistory(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "获取请求历史失败", zap.String("user", userID))
		return
	}
	writeJSONResponse(w, http.StatusOK, history)
}

// AcceptRequestHandler handles POST /api/v1/requests/{requestID}/accept
func (h *RequestHandler) AcceptRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.requests.AcceptRequest, "接受交换请求失败")
}

// RejectRequestHandler handles POST /api/v1/requests/{requestID}/reject
func (h *RequestHandler) RejectRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.requests.RejectRequest, "拒绝交换请求失败")
}

func (h *RequestHandler) resolve(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, userID, requestID string) (*models.SwapRequest, error), fallback string) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	requestID := mux.Vars(r)["requestID"]
	if requestID == "" {
		writeJSONError(w, "缺少交换请求ID", http.StatusBadRequest)
		return
	}

	req, err := fn(r.Context(), userID, requestID)
	if err != nil {
		writeServiceError(w, h.logger, err, fallback, zap.String("user", userID), zap.String("requestId", requestID))
		return
	}
	writeJSONResponse(w, http.StatusOK, req)
}

// ListFriendsHandler handles GET /api/v1/friends
func (h *RequestHandler) ListFriendsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	friends, err := h.requests.GetFriendsList(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "获取好友列表失败", zap.String("user", userID))
		return
	}
	writeJSONResponse(w, http.StatusOK, friends)
}

// SwapCountHandler handles GET /api/v1/users/{userID}/swaps
func (h *RequestHandler) SwapCountHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}
	userID := mux.Vars(r)["userID"]
	if err := services.ValidateParticipantID(userID); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := h.requests.CountSwaps(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "统计交换次数失败", zap.String("user", userID))
		return
	}
	writeJSONResponse(w, http.StatusOK, SwapCountResponse{UserID: userID, Swaps: n})
}
