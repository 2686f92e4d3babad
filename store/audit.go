// Package store persists an audit trail of OTP request attempts.
// Live sessions never touch this store; it records outcomes only.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/otpflow/types"
)

// Outcome 一次流程运行的结果分类
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Attempt 一次 OTP 请求的审计记录
// 标识符不落明文，只存 SHA-256 摘要前缀。
type Attempt struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IdentifierHash string    `gorm:"size:32;index" json:"identifier_hash"`
	Channel        string    `gorm:"size:16" json:"channel"`
	Outcome        Outcome   `gorm:"size:16;index" json:"outcome"`
	ErrorCode      string    `gorm:"size:64" json:"error_code,omitempty"`
	FailedStep     string    `gorm:"size:32" json:"failed_step,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	Timings        string    `gorm:"type:text" json:"timings,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// Config 审计存储配置
type Config struct {
	// 是否启用
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Path SQLite 数据库路径（":memory:" 用于测试）
	Path string `yaml:"path" json:"path"`
	// Retention 记录保留时长，0 表示不清理
	Retention time.Duration `yaml:"retention" json:"retention"`
}

// DefaultConfig 返回默认审计配置
func DefaultConfig() Config {
	return Config{
		Enabled:   false,
		Path:      "./data/otpflow.db",
		Retention: 30 * 24 * time.Hour,
	}
}

// AuditStore 基于 SQLite 的审计存储
type AuditStore struct {
	db     *gorm.DB
	config Config
	logger *zap.Logger
}

// Open 打开审计存储并迁移表结构
func Open(config Config, log *zap.Logger) (*AuditStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if err := db.AutoMigrate(&Attempt{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	log.Info("audit store opened", zap.String("path", config.Path))

	return &AuditStore{
		db:     db,
		config: config,
		logger: log.With(zap.String("component", "audit_store")),
	}, nil
}

// RecordSuccess 记录成功的流程运行
func (s *AuditStore) RecordSuccess(ctx context.Context, req types.OTPRequest, result *types.OTPResult) error {
	if s == nil {
		return nil
	}

	attempt := &Attempt{
		IdentifierHash: HashIdentifier(req.Identifier),
		Channel:        string(req.Channel),
		Outcome:        OutcomeSucceeded,
		DurationMS:     result.Duration.Milliseconds(),
		Timings:        encodeTimings(result.Timings),
		CreatedAt:      time.Now(),
	}
	return s.create(ctx, attempt)
}

// RecordFailure 记录失败的流程运行
func (s *AuditStore) RecordFailure(ctx context.Context, req types.OTPRequest, elapsed time.Duration, cause error) error {
	if s == nil {
		return nil
	}

	attempt := &Attempt{
		IdentifierHash: HashIdentifier(req.Identifier),
		Channel:        string(req.Channel),
		Outcome:        OutcomeFailed,
		ErrorCode:      string(types.GetErrorCode(cause)),
		DurationMS:     elapsed.Milliseconds(),
		CreatedAt:      time.Now(),
	}
	if e, ok := cause.(*types.Error); ok {
		attempt.FailedStep = e.Step
	}
	return s.create(ctx, attempt)
}

// Recent 返回最近的审计记录（按时间倒序）
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var attempts []Attempt
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	return attempts, nil
}

// Prune 清理超过保留期的记录，返回删除条数
func (s *AuditStore) Prune(ctx context.Context) (int64, error) {
	if s == nil || s.config.Retention <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-s.config.Retention)
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&Attempt{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune attempts: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("pruned audit records", zap.Int64("deleted", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Ping 检查数据库连接
func (s *AuditStore) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭存储
func (s *AuditStore) Close() error {
	if s == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *AuditStore) create(ctx context.Context, attempt *Attempt) error {
	if err := s.db.WithContext(ctx).Create(attempt).Error; err != nil {
		s.logger.Error("failed to record attempt", zap.Error(err))
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// HashIdentifier 返回标识符的 SHA-256 摘要前缀（16 字节，十六进制）
func HashIdentifier(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:16])
}

func encodeTimings(timings []types.StepTiming) string {
	if len(timings) == 0 {
		return ""
	}
	data, err := json.Marshal(timings)
	if err != nil {
		return ""
	}
	return string(data)
}
