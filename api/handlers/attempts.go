package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/store"
	"github.com/BaSui01/otpflow/types"
)

// =============================================================================
// 📋 审计记录 Handler
// =============================================================================

// AttemptsHandler 请求审计记录查询处理器
type AttemptsHandler struct {
	audit  *store.AuditStore
	logger *zap.Logger
}

// AttemptInfo 审计记录的 API 视图
type AttemptInfo struct {
	ID             uint      `json:"id"`
	IdentifierHash string    `json:"identifier_hash"`
	Channel        string    `json:"channel"`
	Outcome        string    `json:"outcome"`
	ErrorCode      string    `json:"error_code,omitempty"`
	FailedStep     string    `json:"failed_step,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewAttemptsHandler 创建审计记录处理器
func NewAttemptsHandler(audit *store.AuditStore, logger *zap.Logger) *AttemptsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttemptsHandler{
		audit:  audit,
		logger: logger.With(zap.String("component", "attempts_handler")),
	}
}

// HandleListAttempts 处理 GET /api/v1/attempts
func (h *AttemptsHandler) HandleListAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest,
			"method not allowed", h.logger)
		return
	}

	if h.audit == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable,
			"audit log is not enabled", h.logger)
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"limit must be a positive integer", h.logger)
			return
		}
		limit = l
	}

	attempts, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	infos := make([]AttemptInfo, 0, len(attempts))
	for _, a := range attempts {
		infos = append(infos, AttemptInfo{
			ID:             a.ID,
			IdentifierHash: a.IdentifierHash,
			Channel:        a.Channel,
			Outcome:        string(a.Outcome),
			ErrorCode:      a.ErrorCode,
			FailedStep:     a.FailedStep,
			DurationMS:     a.DurationMS,
			CreatedAt:      a.CreatedAt,
		})
	}

	WriteSuccess(w, map[string]interface{}{
		"attempts": infos,
		"count":    len(infos),
	})
}
