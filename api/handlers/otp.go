package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/flow"
	"github.com/BaSui01/otpflow/internal/cache"
	"github.com/BaSui01/otpflow/internal/metrics"
	"github.com/BaSui01/otpflow/session"
	"github.com/BaSui01/otpflow/store"
	"github.com/BaSui01/otpflow/types"
)

// =============================================================================
// 📨 OTP 请求 Handler
// =============================================================================

// PageFactory 创建一个新的浏览器页面
type PageFactory func(ctx context.Context) (flow.Pager, error)

// FlowRunner 在页面上执行完整 OTP 请求流程，由 *flow.Runner 实现
type FlowRunner interface {
	Run(ctx context.Context, page flow.Pager, req types.OTPRequest) (*types.OTPResult, error)
}

// OTPHandler OTP 请求处理器
// 串起完整链路：冷却台账占位 → 开页 → 执行流程 → 缓存会话 → 签发令牌。
type OTPHandler struct {
	pages    PageFactory
	runner   FlowRunner
	sessions *session.Store
	issuer   *session.TokenIssuer
	ledger   *cache.Ledger
	audit    *store.AuditStore
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// OTPResponse OTP 请求成功响应
type OTPResponse struct {
	SessionID string             `json:"session_id"`
	Channel   types.Channel      `json:"channel"`
	Token     string             `json:"token,omitempty"`
	ExpiresAt time.Time          `json:"expires_at"`
	Duration  string             `json:"duration"`
	Timings   []types.StepTiming `json:"timings,omitempty"`
}

// NewOTPHandler 创建 OTP 请求处理器
func NewOTPHandler(pages PageFactory, runner FlowRunner, sessions *session.Store, logger *zap.Logger) *OTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OTPHandler{
		pages:    pages,
		runner:   runner,
		sessions: sessions,
		logger:   logger.With(zap.String("component", "otp_handler")),
	}
}

// WithLedger 启用重复请求冷却台账
func (h *OTPHandler) WithLedger(ledger *cache.Ledger) *OTPHandler {
	h.ledger = ledger
	return h
}

// WithAudit 启用请求审计记录
func (h *OTPHandler) WithAudit(audit *store.AuditStore) *OTPHandler {
	h.audit = audit
	return h
}

// WithMetrics 启用指标采集
func (h *OTPHandler) WithMetrics(collector *metrics.Collector) *OTPHandler {
	h.metrics = collector
	return h
}

// WithTokenIssuer 启用会话令牌签发
func (h *OTPHandler) WithTokenIssuer(issuer *session.TokenIssuer) *OTPHandler {
	h.issuer = issuer
	return h
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleRequestOTP 处理 POST /api/v1/otp/request
func (h *OTPHandler) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest,
			"method not allowed", h.logger)
		return
	}

	// 验证 Content-Type
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	// 解码请求
	var req types.OTPRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	// 验证请求
	if err := req.Validate(); err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	ctx := r.Context()
	start := time.Now()

	// 占用冷却窗口，窗口内的重复请求直接拒绝
	if err := h.ledger.Reserve(ctx, req.Identifier, req.Channel); err != nil {
		if types.GetErrorCode(err) == types.ErrDuplicateRequest {
			h.recordLedger(false)
		}
		WriteErr(w, err, h.logger)
		return
	}
	h.recordLedger(true)

	result, page, err := h.runFlow(ctx, req)
	if err != nil {
		// 流程失败：释放冷却窗口让调用方可以立即重试
		if relErr := h.ledger.Release(ctx, req.Identifier, req.Channel); relErr != nil {
			h.logger.Warn("ledger release failed", zap.Error(relErr))
		}
		h.recordRun(req.Channel, "failed", time.Since(start))
		if auditErr := h.audit.RecordFailure(ctx, req, time.Since(start), err); auditErr != nil {
			h.logger.Warn("audit record failed", zap.Error(auditErr))
		}
		WriteErr(w, err, h.logger)
		return
	}

	// 缓存会话，页面的生命周期移交给会话存储
	meta, err := h.sessions.Put(page, req.Channel)
	if err != nil {
		_ = page.Close() //nolint:errcheck // 失败路径上的关闭错误不再上报
		if relErr := h.ledger.Release(ctx, req.Identifier, req.Channel); relErr != nil {
			h.logger.Warn("ledger release failed", zap.Error(relErr))
		}
		h.recordRun(req.Channel, "failed", time.Since(start))
		WriteErr(w, err, h.logger)
		return
	}
	result.SessionID = meta.ID

	resp := OTPResponse{
		SessionID: meta.ID,
		Channel:   meta.Channel,
		ExpiresAt: meta.ExpiresAt,
		Duration:  result.Duration.String(),
		Timings:   result.Timings,
	}

	if h.issuer != nil {
		token, err := h.issuer.Issue(meta.ID, meta.ExpiresAt)
		if err != nil {
			h.logger.Error("token issue failed", zap.String("session_id", meta.ID), zap.Error(err))
		} else {
			resp.Token = token
		}
	}

	h.recordRun(req.Channel, "succeeded", time.Since(start))
	if auditErr := h.audit.RecordSuccess(ctx, req, result); auditErr != nil {
		h.logger.Warn("audit record failed", zap.Error(auditErr))
	}

	h.logger.Info("otp request served",
		zap.String("session_id", meta.ID),
		zap.String("channel", string(req.Channel)),
		zap.Duration("duration", time.Since(start)),
	)
	WriteSuccess(w, resp)
}

// runFlow 开一个新页面并执行流程；失败时页面已关闭
func (h *OTPHandler) runFlow(ctx context.Context, req types.OTPRequest) (*types.OTPResult, flow.Pager, error) {
	page, err := h.pages(ctx)
	if err != nil {
		return nil, nil, err
	}

	result, err := h.runner.Run(ctx, page, req)
	if err != nil {
		if closeErr := page.Close(); closeErr != nil {
			h.logger.Warn("page close failed", zap.Error(closeErr))
		}
		return nil, nil, err
	}
	return result, page, nil
}

func (h *OTPHandler) recordRun(channel types.Channel, outcome string, d time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordFlowRun(string(channel), outcome, d)
	}
}

func (h *OTPHandler) recordLedger(accepted bool) {
	if h.metrics != nil {
		h.metrics.RecordLedgerReservation(accepted)
	}
}
