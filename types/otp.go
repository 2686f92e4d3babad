package types

import "time"

// Channel OTP 发送渠道
type Channel string

const (
	// ChannelEmail 通过邮箱接收验证码
	ChannelEmail Channel = "email"
	// ChannelPhone 通过手机号接收验证码
	ChannelPhone Channel = "phone"
)

// Valid reports whether the channel is a supported value.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelPhone
}

// OTPRequest 一次 OTP 请求的输入
type OTPRequest struct {
	// Identifier 邮箱地址或手机号
	Identifier string `json:"identifier"`
	// Channel 发送渠道（email / phone）
	Channel Channel `json:"channel"`
}

// Validate 校验请求参数
func (r *OTPRequest) Validate() error {
	if r.Identifier == "" {
		return NewError(ErrInvalidRequest, "identifier is required")
	}
	if !r.Channel.Valid() {
		return NewError(ErrChannelUnsupported, "channel must be email or phone").
			WithRetryable(false)
	}
	return nil
}

// StepTiming 流程单步耗时
type StepTiming struct {
	Step     string        `json:"step"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts,omitempty"`
}

// OTPResult 一次成功 OTP 请求的输出
type OTPResult struct {
	SessionID string       `json:"session_id"`
	Channel   Channel      `json:"channel"`
	StartedAt time.Time    `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Timings   []StepTiming `json:"timings,omitempty"`
}
