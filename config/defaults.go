// =============================================================================
// 📦 OTPFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Browser:   DefaultBrowserConfig(),
		Target:    DefaultTargetConfig(),
		Session:   DefaultSessionConfig(),
		Ledger:    DefaultLedgerConfig(),
		Audit:     DefaultAuditConfig(),
		Auth:      DefaultAuthConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    90 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RateLimitRPS:    5,
		RateLimitBurst:  10,
	}
}

// DefaultBrowserConfig 返回默认浏览器配置
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:           true,
		ViewportWidth:      1366,
		ViewportHeight:     768,
		UserAgent:          "",
		ProxyURL:           "",
		ExecPath:           "",
		MaxPages:           4,
		NavigateTimeout:    30 * time.Second,
		StepTimeout:        10 * time.Second,
		WaitAttemptTimeout: 2 * time.Second,
		WaitMaxRetries:     5,
		WaitInitialDelay:   200 * time.Millisecond,
		WaitMaxDelay:       3 * time.Second,
	}
}

// DefaultTargetConfig 返回默认目标站点配置
func DefaultTargetConfig() TargetConfig {
	return TargetConfig{
		LoginURL: "https://example.com/login",
		BlockMarkers: []string{
			"access denied",
			"アクセスが拒否されました",
			"403 forbidden",
		},
		LoginButton:  "button.login-entry",
		LoginFrame:   "iframe#login-frame",
		EmailTab:     "button[data-channel=email]",
		PhoneTab:     "button[data-channel=phone]",
		EmailInput:   "input[name=email]",
		PhoneInput:   "input[name=phone]",
		SubmitButton: "button[type=submit]",
		SentMarker:   ".otp-sent-notice",
	}
}

// DefaultSessionConfig 返回默认会话配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:         5 * time.Minute,
		TokenSecret: "",
		TokenIssuer: "otpflow",
	}
}

// DefaultLedgerConfig 返回默认台账配置
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Enabled:    false,
		Addr:       "localhost:6379",
		Password:   "",
		DB:         0,
		Cooldown:   time.Minute,
		MaxRetries: 3,
		PoolSize:   10,
	}
}

// DefaultAuditConfig 返回默认审计配置
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:   false,
		Path:      "./data/otpflow.db",
		Retention: 30 * 24 * time.Hour,
	}
}

// DefaultAuthConfig 返回默认认证配置
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		APIKeys:          nil,
		AllowQueryAPIKey: false,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "otpflow",
		SampleRate:   0.1,
	}
}
