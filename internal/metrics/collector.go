// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 流程指标
	flowRunsTotal        *prometheus.CounterVec
	flowRunDuration      *prometheus.HistogramVec
	flowStepDuration     *prometheus.HistogramVec
	selectorWaitAttempts *prometheus.HistogramVec

	// 浏览器指标
	browserPagesActive prometheus.Gauge

	// 会话指标
	sessionsActive  prometheus.Gauge
	sessionsExpired prometheus.Counter

	// 去重台账指标
	ledgerReservations *prometheus.CounterVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 流程指标
	c.flowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Total number of OTP flow runs",
		},
		[]string{"channel", "outcome"},
	)

	c.flowRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_run_duration_seconds",
			Help:      "OTP flow run duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"channel"},
	)

	c.flowStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_step_duration_seconds",
			Help:      "OTP flow step duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"step"},
	)

	c.selectorWaitAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selector_wait_attempts",
			Help:      "Number of attempts until a selector became visible",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
		[]string{"step"},
	)

	// 浏览器指标
	c.browserPagesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_pages_active",
			Help:      "Number of currently open browser pages",
		},
	)

	// 会话指标
	c.sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live cached sessions",
		},
	)

	c.sessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Total number of sessions reclaimed by TTL expiry",
		},
	)

	// 去重台账指标
	c.ledgerReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_reservations_total",
			Help:      "Total number of duplicate-request ledger reservations",
		},
		[]string{"result"}, // result: accepted, duplicate
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔄 流程指标记录
// =============================================================================

// RecordFlowRun 记录一次流程运行
func (c *Collector) RecordFlowRun(channel, outcome string, duration time.Duration) {
	c.flowRunsTotal.WithLabelValues(channel, outcome).Inc()
	c.flowRunDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordFlowStep 记录单个流程步骤
func (c *Collector) RecordFlowStep(step string, duration time.Duration, attempts int) {
	c.flowStepDuration.WithLabelValues(step).Observe(duration.Seconds())
	if attempts > 0 {
		c.selectorWaitAttempts.WithLabelValues(step).Observe(float64(attempts))
	}
}

// =============================================================================
// 🌐 浏览器指标记录
// =============================================================================

// SetActivePages 更新打开的页面数
func (c *Collector) SetActivePages(n int64) {
	c.browserPagesActive.Set(float64(n))
}

// =============================================================================
// 🔐 会话指标记录
// =============================================================================

// SetActiveSessions 更新缓存中的会话数
func (c *Collector) SetActiveSessions(n int) {
	c.sessionsActive.Set(float64(n))
}

// RecordSessionExpired 记录一次 TTL 回收
func (c *Collector) RecordSessionExpired() {
	c.sessionsExpired.Inc()
}

// =============================================================================
// 📒 台账指标记录
// =============================================================================

// RecordLedgerReservation 记录台账预约结果
func (c *Collector) RecordLedgerReservation(accepted bool) {
	result := "accepted"
	if !accepted {
		result = "duplicate"
	}
	c.ledgerReservations.WithLabelValues(result).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
