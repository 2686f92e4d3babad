// Package cache provides the Redis-backed duplicate-request ledger.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/types"
)

// =============================================================================
// 💾 重复请求台账
// =============================================================================

// Ledger 重复请求台账
// 同一标识符在冷却窗口内的第二次 OTP 请求直接拒绝，
// 避免为重复请求白白启动浏览器。
type Ledger struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// Config 台账配置
type Config struct {
	// 是否启用（未启用时 Ledger 为 nil，所有检查直接放行）
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// Cooldown 同一标识符的请求冷却窗口
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// DefaultConfig 返回默认台账配置
func DefaultConfig() Config {
	return Config{
		Enabled:    false,
		Addr:       "localhost:6379",
		DB:         0,
		Cooldown:   time.Minute,
		MaxRetries: 3,
		PoolSize:   10,
	}
}

// NewLedger 创建台账并验证 Redis 连接
func NewLedger(config Config, logger *zap.Logger) (*Ledger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
		PoolSize:   config.PoolSize,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	l := &Ledger{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "request_ledger")),
	}

	logger.Info("request ledger initialized",
		zap.String("addr", config.Addr),
		zap.Duration("cooldown", config.Cooldown),
	)

	return l, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Reserve 占用一个标识符的冷却窗口
// 窗口内已有请求时返回 DUPLICATE_REQUEST。nil Ledger 直接放行。
func (l *Ledger) Reserve(ctx context.Context, identifier string, channel types.Channel) error {
	if l == nil {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return fmt.Errorf("request ledger is closed")
	}

	key := ledgerKey(identifier, channel)
	ok, err := l.redis.SetNX(ctx, key, time.Now().Format(time.RFC3339), l.config.Cooldown).Result()
	if err != nil {
		l.logger.Error("ledger reserve failed", zap.Error(err))
		return fmt.Errorf("ledger reserve failed: %w", err)
	}
	if !ok {
		ttl, _ := l.redis.TTL(ctx, key).Result()
		return types.NewError(types.ErrDuplicateRequest,
			fmt.Sprintf("an OTP request for this identifier is already in cooldown (%s remaining)", ttl.Round(time.Second))).
			WithHTTPStatus(429).
			WithRetryable(true)
	}

	return nil
}

// Release 提前释放冷却窗口（流程失败时调用，让调用方可以立即重试）
func (l *Ledger) Release(ctx context.Context, identifier string, channel types.Channel) error {
	if l == nil {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return fmt.Errorf("request ledger is closed")
	}

	if err := l.redis.Del(ctx, ledgerKey(identifier, channel)).Err(); err != nil {
		l.logger.Error("ledger release failed", zap.Error(err))
		return fmt.Errorf("ledger release failed: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连接
func (l *Ledger) Ping(ctx context.Context) error {
	if l == nil {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return fmt.Errorf("request ledger is closed")
	}
	return l.redis.Ping(ctx).Err()
}

// Close 关闭台账
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	l.logger.Info("closing request ledger")
	return l.redis.Close()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// ledgerKey 构造台账键
// 标识符不以明文入库，取 SHA-256 摘要。
func ledgerKey(identifier string, channel types.Channel) string {
	sum := sha256.Sum256([]byte(identifier))
	return fmt.Sprintf("otpflow:ledger:%s:%s", channel, hex.EncodeToString(sum[:16]))
}
