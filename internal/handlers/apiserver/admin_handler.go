package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"skillswap/internal/middleware"
	"skillswap/internal/services"
)

// AdminHandler seeds and patches user profiles. Used for development and operations.
type AdminHandler struct {
	requests services.RequestService
	logger   *zap.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(rs services.RequestService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{requests: rs, logger: logger}
}

// UpdateProfileHandler handles PUT /api/v1/admin/users/{userID}
// Admin tokens may write any profile; other callers only their own.
func (h *AdminHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	userID := mux.Vars(r)["userID"]
	if !claims.IsAdmin() && claims.UserID != userID {
		writeJSONError(w, "无权修改其他用户的资料", http.StatusForbidden)
		return
	}

	var update services.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	rec, err := h.requests.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		writeServiceError(w, h.logger, err, "更新用户资料失败", zap.String("user", userID))
		return
	}
	h.logger.Info("用户资料已更新", zap.String("user", userID), zap.String("by", claims.UserID))
	writeJSONResponse(w, http.StatusOK, rec)
}
