package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/session"
	"github.com/BaSui01/otpflow/types"
)

// =============================================================================
// 🗂️ 会话 Handler
// =============================================================================

// SessionHandler 会话查询、续期与注销处理器
type SessionHandler struct {
	sessions *session.Store
	issuer   *session.TokenIssuer
	logger   *zap.Logger
}

// NewSessionHandler 创建会话处理器
// issuer 为 nil 时不校验令牌（仅限内网部署）。
func NewSessionHandler(sessions *session.Store, issuer *session.TokenIssuer, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		sessions: sessions,
		issuer:   issuer,
		logger:   logger.With(zap.String("component", "session_handler")),
	}
}

// HandleSession 处理 /api/v1/sessions/{id} 的 GET 和 DELETE 请求
func (h *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	id, ok := extractSessionID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"session id is required", h.logger)
		return
	}

	if !h.authorize(w, r, id) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getSession(w, id)
	case http.MethodDelete:
		h.deleteSession(w, id)
	default:
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest,
			"method not allowed", h.logger)
	}
}

// HandleTouch 处理 POST /api/v1/sessions/{id}/touch（续期）
func (h *SessionHandler) HandleTouch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest,
			"method not allowed", h.logger)
		return
	}

	id, ok := extractSessionID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"session id is required", h.logger)
		return
	}

	if !h.authorize(w, r, id) {
		return
	}

	meta, err := h.sessions.Touch(id)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	h.logger.Debug("session extended", zap.String("session_id", id))
	WriteSuccess(w, meta)
}

func (h *SessionHandler) getSession(w http.ResponseWriter, id string) {
	meta, err := h.sessions.Get(id)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, meta)
}

func (h *SessionHandler) deleteSession(w http.ResponseWriter, id string) {
	if err := h.sessions.Delete(id); err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	h.logger.Info("session released", zap.String("session_id", id))
	WriteSuccess(w, map[string]string{"session_id": id, "status": "deleted"})
}

// authorize 校验 Bearer 令牌与会话的对应关系
func (h *SessionHandler) authorize(w http.ResponseWriter, r *http.Request, id string) bool {
	if h.issuer == nil {
		return true
	}

	token := bearerToken(r)
	if token == "" {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized,
			"missing bearer token", h.logger)
		return false
	}

	subject, err := h.issuer.Verify(token)
	if err != nil {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized,
			"invalid session token", h.logger)
		return false
	}
	if subject != id {
		// 令牌有效但属于另一个会话
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized,
			"token does not match session", h.logger)
		return false
	}
	return true
}

// extractSessionID 从请求中提取会话 ID（Go 1.22+ PathValue 优先，回退到路径解析）
func extractSessionID(r *http.Request) (string, bool) {
	if id := r.PathValue("id"); id != "" {
		return id, true
	}

	// 回退：从路径手动解析 /api/v1/sessions/{id}[/touch]
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	path = strings.TrimSuffix(path, "/touch")
	path = strings.Trim(path, "/")
	if path == "" || strings.Contains(path, "/") {
		return "", false
	}
	return path, true
}

// bearerToken 提取 Authorization 头中的 Bearer 令牌
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
