// Package session holds live browser sessions between the OTP-request
// call and the later OTP-submission call. Sessions are process-local and
// time-limited; expiry closes the underlying browser page.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/types"
)

// DefaultTTL 会话默认存活时间
const DefaultTTL = 5 * time.Minute

// Handle 会话持有的活体资源（浏览器页面），过期或删除时关闭
type Handle interface {
	Close() error
}

// Session 会话元数据（只读快照，不含活体句柄）
type Session struct {
	ID        string        `json:"id"`
	Channel   types.Channel `json:"channel"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// entry 存储内部结构
type entry struct {
	meta   Session
	handle Handle
	timer  *time.Timer
	closed bool
}

// Store 进程内会话存储
// Put 时启动延迟清理定时器；Delete / 过期 / Close 都会关闭句柄，
// 且保证每个句柄只关闭一次。
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	expired  map[string]time.Time // 最近过期的会话，区分 NOT_FOUND / EXPIRED
	ttl      time.Duration
	logger   *zap.Logger
	closed   bool

	// OnCount 活跃会话数变化回调（指标用）
	OnCount func(n int)
	// OnExpired 会话到期被清理时的回调（主动 Delete 不触发）
	OnExpired func(id string)
}

// NewStore 创建会话存储
func NewStore(ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*entry),
		expired:  make(map[string]time.Time),
		ttl:      ttl,
		logger:   logger.With(zap.String("component", "session_store")),
	}
}

// Put 登记一个会话，返回生成的会话元数据
func (s *Store) Put(handle Handle, channel types.Channel) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Session{}, types.NewError(types.ErrServiceUnavailable, "session store is closed")
	}

	now := time.Now()
	meta := Session{
		ID:        uuid.NewString(),
		Channel:   channel,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	e := &entry{meta: meta, handle: handle}
	e.timer = time.AfterFunc(s.ttl, func() { s.expire(meta.ID) })
	s.sessions[meta.ID] = e
	s.pruneExpiredLocked(now)
	s.notifyLocked()

	s.logger.Info("session cached",
		zap.String("session_id", meta.ID),
		zap.String("channel", string(channel)),
		zap.Time("expires_at", meta.ExpiresAt),
	)
	return meta, nil
}

// Get 返回会话元数据
// 不存在返回 SESSION_NOT_FOUND；已过期（含刚被清理的）返回 SESSION_EXPIRED。
func (s *Store) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		if _, wasExpired := s.expired[id]; wasExpired {
			return Session{}, types.NewError(types.ErrSessionExpired, "session expired").
				WithHTTPStatus(410)
		}
		return Session{}, types.NewError(types.ErrSessionNotFound, "session not found")
	}
	if time.Now().After(e.meta.ExpiresAt) {
		return Session{}, types.NewError(types.ErrSessionExpired, "session expired").
			WithHTTPStatus(410)
	}
	return e.meta, nil
}

// Touch 延长会话存活时间（重置为一个完整 TTL）
func (s *Store) Touch(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		if _, wasExpired := s.expired[id]; wasExpired {
			return Session{}, types.NewError(types.ErrSessionExpired, "session expired").
				WithHTTPStatus(410)
		}
		return Session{}, types.NewError(types.ErrSessionNotFound, "session not found")
	}

	e.meta.ExpiresAt = time.Now().Add(s.ttl)
	e.timer.Reset(s.ttl)

	s.logger.Debug("session touched",
		zap.String("session_id", id),
		zap.Time("expires_at", e.meta.ExpiresAt),
	)
	return e.meta, nil
}

// Delete 主动关闭并移除会话
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return types.NewError(types.ErrSessionNotFound, "session not found")
	}
	delete(s.sessions, id)
	e.timer.Stop()
	alreadyClosed := e.closed
	e.closed = true
	s.notifyLocked()
	s.mu.Unlock()

	if !alreadyClosed {
		s.closeHandle(id, e.handle)
	}
	return nil
}

// Len 当前活跃会话数
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close 关闭存储并释放所有会话
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	drained := make([]*entry, 0, len(s.sessions))
	for id, e := range s.sessions {
		delete(s.sessions, id)
		e.timer.Stop()
		if !e.closed {
			e.closed = true
			drained = append(drained, e)
		}
	}
	s.notifyLocked()
	s.mu.Unlock()

	for _, e := range drained {
		s.closeHandle(e.meta.ID, e.handle)
	}

	s.logger.Info("session store closed", zap.Int("drained", len(drained)))
	return nil
}

// expire 定时器回调：移除并关闭过期会话
func (s *Store) expire(id string) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok || e.closed {
		s.mu.Unlock()
		return
	}
	// 定时器触发后、拿到锁之前 Touch 可能已延长 TTL，此时按剩余时长重新挂表
	if remaining := time.Until(e.meta.ExpiresAt); remaining > 0 {
		e.timer.Reset(remaining)
		s.mu.Unlock()
		return
	}
	delete(s.sessions, id)
	e.closed = true
	s.expired[id] = time.Now()
	s.notifyLocked()
	s.mu.Unlock()

	s.logger.Info("session expired", zap.String("session_id", id))
	if s.OnExpired != nil {
		s.OnExpired(id)
	}
	s.closeHandle(id, e.handle)
}

// closeHandle 关闭句柄并记录错误
func (s *Store) closeHandle(id string, h Handle) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		s.logger.Error("failed to close session handle",
			zap.String("session_id", id),
			zap.Error(err),
		)
	}
}

// pruneExpiredLocked 清理过期记录（持锁调用）
func (s *Store) pruneExpiredLocked(now time.Time) {
	for id, at := range s.expired {
		if now.Sub(at) > s.ttl {
			delete(s.expired, id)
		}
	}
}

// notifyLocked 触发会话数回调（持锁调用）
func (s *Store) notifyLocked() {
	if s.OnCount != nil {
		s.OnCount(len(s.sessions))
	}
}
