// =============================================================================
// 📦 OTPFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("OTPFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 OTPFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Browser 浏览器配置
	Browser BrowserConfig `yaml:"browser" env:"BROWSER"`

	// Target 目标站点配置
	Target TargetConfig `yaml:"target" env:"TARGET"`

	// Session 会话缓存配置
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Ledger 去重台账配置（Redis）
	Ledger LedgerConfig `yaml:"ledger" env:"LEDGER"`

	// Audit 审计存储配置
	Audit AuditConfig `yaml:"audit" env:"AUDIT"`

	// Auth API 认证配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（需容纳一次完整流程运行）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每客户端限流 RPS
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	// 是否无头运行
	Headless bool `yaml:"headless" env:"HEADLESS"`
	// 视口宽度
	ViewportWidth int `yaml:"viewport_width" env:"VIEWPORT_WIDTH"`
	// 视口高度
	ViewportHeight int `yaml:"viewport_height" env:"VIEWPORT_HEIGHT"`
	// 自定义 User-Agent（为空使用内置）
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
	// 代理地址（可选）
	ProxyURL string `yaml:"proxy_url" env:"PROXY_URL"`
	// Chrome 可执行文件路径（为空自动探测）
	ExecPath string `yaml:"exec_path" env:"EXEC_PATH"`
	// 并发页面上限
	MaxPages int `yaml:"max_pages" env:"MAX_PAGES"`
	// 导航超时
	NavigateTimeout time.Duration `yaml:"navigate_timeout" env:"NAVIGATE_TIMEOUT"`
	// 单步操作超时
	StepTimeout time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
	// 选择器等待单次尝试超时
	WaitAttemptTimeout time.Duration `yaml:"wait_attempt_timeout" env:"WAIT_ATTEMPT_TIMEOUT"`
	// 选择器等待最大重试次数
	WaitMaxRetries int `yaml:"wait_max_retries" env:"WAIT_MAX_RETRIES"`
	// 选择器等待初始退避
	WaitInitialDelay time.Duration `yaml:"wait_initial_delay" env:"WAIT_INITIAL_DELAY"`
	// 选择器等待最大退避
	WaitMaxDelay time.Duration `yaml:"wait_max_delay" env:"WAIT_MAX_DELAY"`
}

// TargetConfig 目标站点配置
// 选择器支持热重载，站点改版后无需重启即可修正。
type TargetConfig struct {
	// 登录页 URL
	LoginURL string `yaml:"login_url" env:"LOGIN_URL"`
	// 拦截页特征文本（命中即判定为访问被拒）
	BlockMarkers []string `yaml:"block_markers" env:"BLOCK_MARKERS"`
	// 登录入口按钮选择器
	LoginButton string `yaml:"login_button" env:"LOGIN_BUTTON"`
	// 登录 iframe 选择器
	LoginFrame string `yaml:"login_frame" env:"LOGIN_FRAME"`
	// 邮箱渠道 Tab 选择器（为空跳过切换）
	EmailTab string `yaml:"email_tab" env:"EMAIL_TAB"`
	// 手机渠道 Tab 选择器（为空跳过切换）
	PhoneTab string `yaml:"phone_tab" env:"PHONE_TAB"`
	// 邮箱输入框选择器
	EmailInput string `yaml:"email_input" env:"EMAIL_INPUT"`
	// 手机输入框选择器
	PhoneInput string `yaml:"phone_input" env:"PHONE_INPUT"`
	// 提交按钮选择器
	SubmitButton string `yaml:"submit_button" env:"SUBMIT_BUTTON"`
	// OTP 已发送提示选择器（为空跳过确认）
	SentMarker string `yaml:"sent_marker" env:"SENT_MARKER"`
}

// SessionConfig 会话缓存配置
type SessionConfig struct {
	// 会话存活时长
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 会话令牌签名密钥（至少 16 字节；为空禁用令牌校验）
	TokenSecret string `yaml:"token_secret" env:"TOKEN_SECRET"`
	// 令牌签发者
	TokenIssuer string `yaml:"token_issuer" env:"TOKEN_ISSUER"`
}

// LedgerConfig 去重台账配置
type LedgerConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// Redis 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 同一标识符的冷却时长
	Cooldown time.Duration `yaml:"cooldown" env:"COOLDOWN"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// AuditConfig 审计存储配置
type AuditConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// SQLite 数据库路径
	Path string `yaml:"path" env:"PATH"`
	// 记录保留时长
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// AuthConfig API 认证配置
type AuthConfig struct {
	// 合法 API Key 列表（为空禁用认证）
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 是否允许 query string 传递 API Key
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "OTPFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	// 验证目标站点配置
	if c.Target.LoginURL == "" {
		errs = append(errs, "target login_url is required")
	} else if u, err := url.Parse(c.Target.LoginURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, "target login_url must be an http(s) URL")
	}

	// 验证浏览器配置
	if c.Browser.MaxPages <= 0 {
		errs = append(errs, "browser max_pages must be positive")
	}
	if c.Browser.WaitMaxRetries < 0 {
		errs = append(errs, "browser wait_max_retries must not be negative")
	}

	// 验证会话配置
	if c.Session.TTL <= 0 {
		errs = append(errs, "session ttl must be positive")
	}
	if c.Session.TokenSecret != "" && len(c.Session.TokenSecret) < 16 {
		errs = append(errs, "session token_secret must be at least 16 bytes")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
