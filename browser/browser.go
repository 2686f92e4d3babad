package browser

import (
	"time"
)

// Config configures the browser engine.
type Config struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent,omitempty"`
	ProxyURL       string        `yaml:"proxy_url" json:"proxy_url,omitempty"`
	ExecPath       string        `yaml:"exec_path" json:"exec_path,omitempty"`

	// MaxPages 同时存活的页面上限（每个页面对应一个浏览器实例）
	MaxPages int64 `yaml:"max_pages" json:"max_pages"`

	// NavigateTimeout 单次导航超时
	NavigateTimeout time.Duration `yaml:"navigate_timeout" json:"navigate_timeout"`
	// StepTimeout 单个原子操作（点击、输入、取文本）超时
	StepTimeout time.Duration `yaml:"step_timeout" json:"step_timeout"`

	// WaitAttemptTimeout 单次选择器等待的超时，超过后进入退避重试
	WaitAttemptTimeout time.Duration `yaml:"wait_attempt_timeout" json:"wait_attempt_timeout"`
	// WaitMaxRetries 选择器等待的最大重试次数
	WaitMaxRetries int `yaml:"wait_max_retries" json:"wait_max_retries"`
	// WaitInitialDelay 选择器等待重试的初始退避
	WaitInitialDelay time.Duration `yaml:"wait_initial_delay" json:"wait_initial_delay"`
	// WaitMaxDelay 选择器等待重试的最大退避
	WaitMaxDelay time.Duration `yaml:"wait_max_delay" json:"wait_max_delay"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:           true,
		ViewportWidth:      1366,
		ViewportHeight:     768,
		MaxPages:           4,
		NavigateTimeout:    30 * time.Second,
		StepTimeout:        10 * time.Second,
		WaitAttemptTimeout: 2 * time.Second,
		WaitMaxRetries:     5,
		WaitInitialDelay:   200 * time.Millisecond,
		WaitMaxDelay:       3 * time.Second,
	}
}
