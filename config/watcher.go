// 配置文件变更监听器实现。
//
// 服务只有一个配置文件，监听器按单文件轮询 + 防抖触发重载回调。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher 监听单个配置文件的变更
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	path          string
	debounceDelay time.Duration

	// 状态
	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent

	// 回调
	callbacks []func(event FileEvent)

	// 记录器
	logger *zap.Logger

	// 轮询状态：文件上次修改时间，tracked 标记文件当前是否存在
	lastMod time.Time
	tracked bool
}

// FileEvent represents a file change event
type FileEvent struct {
	// Path 是配置文件路径
	Path string `json:"path"`

	// Op 是操作类型
	Op FileOp `json:"op"`

	// 时间戳是事件发生的时间
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 表示文件已创建（含删除后重建）
	FileOpCreate FileOp = iota
	// FileOpWrite 指示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a watcher for a single configuration file
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		path:          path,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		eventChan:     make(chan FileEvent, 16),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	// 文件可以尚不存在：此时监听创建事件
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			w.logger.Warn("Config file does not exist, will watch for creation",
				zap.String("path", path))
		} else {
			return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
		}
	}

	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for file changes
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true

	// 初始化上次修改时间
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
		w.tracked = true
	}
	w.mu.Unlock()

	// 轮询 goroutine（跨平台，无 fsnotify 依赖）
	go w.pollLoop(ctx)

	// 启动事件调度程序
	go w.dispatchLoop(ctx)

	w.logger.Info("File watcher started",
		zap.String("path", w.path),
		zap.Duration("debounce_delay", w.debounceDelay))

	return nil
}

// Stop stops the file watcher
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	close(w.stopChan)
	w.running = false

	w.logger.Info("File watcher stopped")
	return nil
}

// pollLoop polls the file for changes
func (w *FileWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkFile()
		}
	}
}

// checkFile 对比修改时间，产出 CREATE / WRITE / REMOVE 事件
func (w *FileWatcher) checkFile() {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) && w.tracked {
			w.tracked = false
			w.eventChan <- FileEvent{
				Path:      w.path,
				Op:        FileOpRemove,
				Timestamp: time.Now(),
			}
		}
		return
	}

	switch {
	case !w.tracked:
		w.tracked = true
		w.lastMod = info.ModTime()
		w.eventChan <- FileEvent{
			Path:      w.path,
			Op:        FileOpCreate,
			Timestamp: time.Now(),
		}
	case info.ModTime().After(w.lastMod):
		w.lastMod = info.ModTime()
		w.eventChan <- FileEvent{
			Path:      w.path,
			Op:        FileOpWrite,
			Timestamp: time.Now(),
		}
	}
}

// dispatchLoop dispatches events to callbacks with debouncing
// 防抖窗口内的多次变更合并为最后一次事件。
func (w *FileWatcher) dispatchLoop(ctx context.Context) {
	var (
		pendingMu     sync.Mutex
		pending       *FileEvent
		debounceTimer *time.Timer
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event := <-w.eventChan:
			pendingMu.Lock()
			pending = &event
			pendingMu.Unlock()

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounceDelay, func() {
				pendingMu.Lock()
				evt := pending
				pending = nil
				pendingMu.Unlock()
				if evt == nil {
					return
				}

				w.mu.RLock()
				callbacks := make([]func(FileEvent), len(w.callbacks))
				copy(callbacks, w.callbacks)
				w.mu.RUnlock()

				w.logger.Debug("Dispatching file event",
					zap.String("path", evt.Path),
					zap.String("op", evt.Op.String()))

				for _, cb := range callbacks {
					cb(*evt)
				}
			})
		}
	}
}

// Path returns the watched file path
func (w *FileWatcher) Path() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.path
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
