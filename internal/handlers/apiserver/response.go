package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"skillswap/internal/middleware"
	"skillswap/internal/services"
	"skillswap/internal/storage"
)

// ErrorResponse 是 API 错误响应的通用结构体。
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONResponse 是一个辅助函数，用于写入 JSON 响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		// 头部已经发送，编码失败时无法再改写状态码
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeJSONError 是一个辅助函数，用于写入 JSON 错误响应。
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, ErrorResponse{Error: message})
}

// statusForError maps service and store errors to HTTP status codes. ok is false for unexpected errors.
func statusForError(err error) (int, bool) {
	switch {
	case errors.Is(err, services.ErrInvalidUserID),
		errors.Is(err, services.ErrInvalidChannelID),
		errors.Is(err, services.ErrRequestSelf),
		errors.Is(err, services.ErrSkillRequired),
		errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrMessageTooLong),
		errors.Is(err, services.ErrChannelSelf),
		errors.Is(err, services.ErrChannelMismatch),
		errors.Is(err, storage.ErrEmptyPatch):
		return http.StatusBadRequest, true
	case errors.Is(err, services.ErrNotChannelParticipant):
		return http.StatusForbidden, true
	case errors.Is(err, services.ErrRecipientNotFound),
		errors.Is(err, services.ErrRequestNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, services.ErrRequestAlreadyResolved):
		return http.StatusConflict, true
	case errors.Is(err, services.ErrTooMuchContention):
		return http.StatusServiceUnavailable, true
	default:
		return http.StatusInternalServerError, false
	}
}

// writeServiceError 将业务错误映射为对应的状态码；未知错误记录日志并返回 fallback 信息。
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string, fields ...zap.Field) {
	status, known := statusForError(err)
	if known {
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		writeJSONError(w, err.Error(), status)
		return
	}
	logger.Error(fallback, append(fields, zap.Error(err))...)
	writeJSONError(w, fallback, status)
}

// requireUserID 从上下文中获取用户ID，失败时写入 401。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
	}
	return userID, ok
}
