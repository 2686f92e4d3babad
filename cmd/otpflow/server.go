package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/api/handlers"
	"github.com/BaSui01/otpflow/browser"
	"github.com/BaSui01/otpflow/config"
	"github.com/BaSui01/otpflow/flow"
	"github.com/BaSui01/otpflow/internal/cache"
	"github.com/BaSui01/otpflow/internal/metrics"
	"github.com/BaSui01/otpflow/internal/server"
	"github.com/BaSui01/otpflow/internal/telemetry"
	"github.com/BaSui01/otpflow/session"
	"github.com/BaSui01/otpflow/store"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 OTPFlow 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心组件
	engine   *browser.Engine
	runner   *flow.Runner
	sessions *session.Store
	issuer   *session.TokenIssuer
	ledger   *cache.Ledger
	audit    *store.AuditStore

	// Handlers
	healthHandler   *handlers.HealthHandler
	otpHandler      *handlers.OTPHandler
	sessionHandler  *handlers.SessionHandler
	attemptsHandler *handlers.AttemptsHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 遥测
	telemetryProviders *telemetry.Providers

	// 热更新管理器
	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	// 审计清理任务
	pruneCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{
		cfg:                cfg,
		configPath:         configPath,
		logger:             logger,
		telemetryProviders: providers,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("otpflow", s.logger)

	// 2. 初始化核心组件（浏览器引擎、流程、会话存储、台账、审计）
	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 初始化热更新管理器
	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 5. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initComponents 初始化浏览器引擎、流程执行器、会话存储、台账与审计存储
func (s *Server) initComponents() error {
	// 浏览器引擎：存活页面数进指标（分配与关闭都会更新）
	s.engine = browser.NewEngine(browserConfig(s.cfg.Browser), s.logger)
	s.engine.OnCount = s.metricsCollector.SetActivePages

	// 流程执行器：每步耗时进指标
	s.runner = flow.NewRunner(flowTarget(s.cfg.Target), s.logger)
	s.runner.OnStep = func(step string, d time.Duration, attempts int, err error) {
		s.metricsCollector.RecordFlowStep(step, d, attempts)
	}

	// 会话存储：活跃数进指标
	s.sessions = session.NewStore(s.cfg.Session.TTL, s.logger)
	s.sessions.OnCount = func(n int) {
		s.metricsCollector.SetActiveSessions(n)
	}
	s.sessions.OnExpired = func(string) {
		s.metricsCollector.RecordSessionExpired()
	}

	// 会话令牌签发（未配置密钥时跳过）
	if s.cfg.Session.TokenSecret != "" {
		issuer, err := session.NewTokenIssuer([]byte(s.cfg.Session.TokenSecret), s.cfg.Session.TokenIssuer)
		if err != nil {
			return fmt.Errorf("failed to create token issuer: %w", err)
		}
		s.issuer = issuer
	} else {
		s.logger.Warn("session token secret not configured, session endpoints are unauthenticated")
	}

	// 冷却台账（Redis 不可用时启动失败，而不是静默放行重复请求）
	if s.cfg.Ledger.Enabled {
		ledger, err := cache.NewLedger(ledgerConfig(s.cfg.Ledger), s.logger)
		if err != nil {
			return fmt.Errorf("failed to init request ledger: %w", err)
		}
		s.ledger = ledger
	} else {
		s.logger.Info("request ledger disabled, duplicate requests are not throttled")
	}

	// 审计存储
	if s.cfg.Audit.Enabled {
		audit, err := store.Open(auditConfig(s.cfg.Audit), s.logger)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		s.audit = audit
		s.startAuditPruner()
	}

	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	// 健康检查 handler
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.ledger != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("ledger", s.ledger.Ping))
	}
	if s.audit != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("audit", s.audit.Ping))
	}

	// OTP 请求 handler
	pages := func(ctx context.Context) (flow.Pager, error) {
		return s.engine.NewPage(ctx)
	}
	s.otpHandler = handlers.NewOTPHandler(pages, s.runner, s.sessions, s.logger).
		WithLedger(s.ledger).
		WithAudit(s.audit).
		WithMetrics(s.metricsCollector).
		WithTokenIssuer(s.issuer)

	// 会话 handler
	s.sessionHandler = handlers.NewSessionHandler(s.sessions, s.issuer, s.logger)

	// 审计记录 handler
	s.attemptsHandler = handlers.NewAttemptsHandler(s.audit, s.logger)

	s.logger.Info("Handlers initialized")
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	// 注册配置变更回调
	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	// 注册配置重载回调：选择器热更新直接作用到流程执行器
	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
		s.runner.SetTarget(flowTarget(newConfig.Target))
	})

	// 启动热更新管理器
	ctx := context.Background()
	if err := s.hotReloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	// 创建配置 API 处理器
	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)

	return nil
}

// startAuditPruner 定期清理超过保留期的审计记录
func (s *Server) startAuditPruner() {
	ctx, cancel := context.WithCancel(context.Background())
	s.pruneCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.audit.Prune(ctx); err != nil {
					s.logger.Warn("audit prune failed", zap.Error(err))
				}
			}
		}
	}()
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("/api/v1/otp/request", s.otpHandler.HandleRequestOTP)
	mux.HandleFunc("/api/v1/sessions/{id}", s.sessionHandler.HandleSession)
	mux.HandleFunc("/api/v1/sessions/{id}/touch", s.sessionHandler.HandleTouch)
	mux.HandleFunc("/api/v1/attempts", s.attemptsHandler.HandleListAttempts)

	// ========================================
	// 配置管理 API（需要独立认证保护）
	// 配置 API 是敏感的管理端点，显式包装认证检查，
	// 不依赖全局中间件链的顺序。
	// ========================================
	if s.configAPIHandler != nil {
		configAuth := config.NewConfigAPIMiddleware(s.configAPIHandler, s.getFirstAPIKey())
		mux.HandleFunc("/api/v1/config", configAuth.RequireAuth(s.configAPIHandler.HandleConfig))
		mux.HandleFunc("/api/v1/config/reload", configAuth.RequireAuth(s.configAPIHandler.HandleReload))
		mux.HandleFunc("/api/v1/config/fields", configAuth.RequireAuth(s.configAPIHandler.HandleFields))
		mux.HandleFunc("/api/v1/config/changes", configAuth.RequireAuth(s.configAPIHandler.HandleChanges))
		s.logger.Info("Configuration API registered with authentication")
	}

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/healthz", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Auth.APIKeys, skipAuthPaths, s.cfg.Auth.AllowQueryAPIKey, s.logger),
	)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                      // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// getFirstAPIKey 返回配置中的第一个 API Key，用于配置 API 的独立认证。
// 如果未配置任何 API Key，返回空字符串（ConfigAPIMiddleware 会跳过认证检查）。
func (s *Server) getFirstAPIKey() string {
	if len(s.cfg.Auth.APIKeys) > 0 {
		return s.cfg.Auth.APIKeys[0]
	}
	return ""
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止后台 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.pruneCancel != nil {
		s.pruneCancel()
	}

	// 1. 停止热更新管理器
	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 HTTP 服务器（在途请求有 ShutdownTimeout 宽限）
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 释放会话（会关闭挂在会话上的浏览器页面）
	if s.sessions != nil {
		if err := s.sessions.Close(); err != nil {
			s.logger.Error("Session store shutdown error", zap.Error(err))
		}
	}

	// 5. 关闭浏览器引擎
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.logger.Error("Browser engine shutdown error", zap.Error(err))
		}
	}

	// 6. 关闭台账与审计存储
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			s.logger.Error("Request ledger shutdown error", zap.Error(err))
		}
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			s.logger.Error("Audit store shutdown error", zap.Error(err))
		}
	}

	// 7. 关闭遥测
	if s.telemetryProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.telemetryProviders.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	// 8. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}

// =============================================================================
// 🔄 配置转换
// =============================================================================

// browserConfig 将加载的配置转换为浏览器引擎配置
func browserConfig(cfg config.BrowserConfig) browser.Config {
	return browser.Config{
		Headless:           cfg.Headless,
		ViewportWidth:      cfg.ViewportWidth,
		ViewportHeight:     cfg.ViewportHeight,
		UserAgent:          cfg.UserAgent,
		ProxyURL:           cfg.ProxyURL,
		ExecPath:           cfg.ExecPath,
		MaxPages:           int64(cfg.MaxPages),
		NavigateTimeout:    cfg.NavigateTimeout,
		StepTimeout:        cfg.StepTimeout,
		WaitAttemptTimeout: cfg.WaitAttemptTimeout,
		WaitMaxRetries:     cfg.WaitMaxRetries,
		WaitInitialDelay:   cfg.WaitInitialDelay,
		WaitMaxDelay:       cfg.WaitMaxDelay,
	}
}

// flowTarget 将加载的配置转换为站点画像
func flowTarget(cfg config.TargetConfig) flow.Target {
	return flow.Target{
		LoginURL:     cfg.LoginURL,
		BlockMarkers: cfg.BlockMarkers,
		Selectors: flow.Selectors{
			LoginButton:  cfg.LoginButton,
			LoginFrame:   cfg.LoginFrame,
			EmailTab:     cfg.EmailTab,
			PhoneTab:     cfg.PhoneTab,
			EmailInput:   cfg.EmailInput,
			PhoneInput:   cfg.PhoneInput,
			SubmitButton: cfg.SubmitButton,
			SentMarker:   cfg.SentMarker,
		},
	}
}

// ledgerConfig 将加载的配置转换为台账配置
func ledgerConfig(cfg config.LedgerConfig) cache.Config {
	return cache.Config{
		Enabled:    cfg.Enabled,
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		Cooldown:   cfg.Cooldown,
		MaxRetries: cfg.MaxRetries,
		PoolSize:   cfg.PoolSize,
	}
}

// auditConfig 将加载的配置转换为审计存储配置
func auditConfig(cfg config.AuditConfig) store.Config {
	return store.Config{
		Enabled:   cfg.Enabled,
		Path:      cfg.Path,
		Retention: cfg.Retention,
	}
}
