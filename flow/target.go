package flow

import (
	"fmt"
	"strings"
)

// Selectors 目标站点的 DOM 选择器集合
// 站点改版时只需要调整配置，不需要改代码。
type Selectors struct {
	// LoginButton 首页上的登录入口按钮
	LoginButton string `yaml:"login_button" json:"login_button"`
	// LoginFrame 登录对话框所在的 iframe
	LoginFrame string `yaml:"login_frame" json:"login_frame"`
	// EmailTab 邮箱渠道切换按钮（可为空：无切换 UI 的站点）
	EmailTab string `yaml:"email_tab" json:"email_tab,omitempty"`
	// PhoneTab 手机渠道切换按钮
	PhoneTab string `yaml:"phone_tab" json:"phone_tab,omitempty"`
	// EmailInput 邮箱输入框
	EmailInput string `yaml:"email_input" json:"email_input"`
	// PhoneInput 手机号输入框
	PhoneInput string `yaml:"phone_input" json:"phone_input"`
	// SubmitButton 发送验证码按钮
	SubmitButton string `yaml:"submit_button" json:"submit_button"`
	// SentMarker 验证码已发送的确认元素（可为空）
	SentMarker string `yaml:"sent_marker" json:"sent_marker,omitempty"`
}

// Target 目标站点画像
type Target struct {
	// LoginURL 登录入口页
	LoginURL string `yaml:"login_url" json:"login_url"`
	// BlockMarkers 拒绝访问页的特征文本（标题或正文子串，大小写不敏感）
	BlockMarkers []string `yaml:"block_markers" json:"block_markers"`
	// Selectors 站点选择器集合
	Selectors Selectors `yaml:"selectors" json:"selectors"`
}

// DefaultTarget 返回默认站点画像
func DefaultTarget() Target {
	return Target{
		BlockMarkers: []string{"access denied", "アクセスが拒否されました", "403 forbidden"},
		Selectors: Selectors{
			LoginButton:  "button.login-entry",
			LoginFrame:   "iframe#login-frame",
			EmailTab:     "button[data-channel=email]",
			PhoneTab:     "button[data-channel=phone]",
			EmailInput:   "input[name=email]",
			PhoneInput:   "input[name=phone]",
			SubmitButton: "button[type=submit]",
			SentMarker:   ".otp-sent-notice",
		},
	}
}

// Validate 校验画像完整性
func (t *Target) Validate() error {
	var missing []string
	if t.LoginURL == "" {
		missing = append(missing, "login_url")
	}
	if t.Selectors.LoginButton == "" {
		missing = append(missing, "selectors.login_button")
	}
	if t.Selectors.LoginFrame == "" {
		missing = append(missing, "selectors.login_frame")
	}
	if t.Selectors.EmailInput == "" {
		missing = append(missing, "selectors.email_input")
	}
	if t.Selectors.PhoneInput == "" {
		missing = append(missing, "selectors.phone_input")
	}
	if t.Selectors.SubmitButton == "" {
		missing = append(missing, "selectors.submit_button")
	}
	if len(missing) > 0 {
		return fmt.Errorf("target profile incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}
