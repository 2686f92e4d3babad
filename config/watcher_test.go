package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeWatchedFile(t *testing.T, name, content string) string {
	t.Helper()
	f := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(f, []byte(content), 0644))
	return f
}

// --- Constructor ---

func TestNewFileWatcher_Defaults(t *testing.T) {
	f := writeWatchedFile(t, "test.yaml", "key: val")

	w, err := NewFileWatcher(f)
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, f, w.Path())
	assert.False(t, w.IsRunning())
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
}

func TestNewFileWatcher_WithOptions(t *testing.T) {
	f := writeWatchedFile(t, "test.yaml", "key: val")

	w, err := NewFileWatcher(f,
		WithDebounceDelay(500*time.Millisecond),
		WithWatcherLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, w.debounceDelay)
}

func TestNewFileWatcher_NonExistentPathWarns(t *testing.T) {
	// 文件不存在只告警不报错：之后监听创建事件
	w, err := NewFileWatcher("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	require.NotNil(t, w)
}

// --- Start / Stop / IsRunning lifecycle ---

func TestFileWatcher_Lifecycle(t *testing.T) {
	f := writeWatchedFile(t, "config.yaml", "key: val")

	w, err := NewFileWatcher(f, WithDebounceDelay(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	assert.False(t, w.IsRunning())

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())

	// Double start should error
	err = w.Start(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())

	// Stop when already stopped is a no-op
	require.NoError(t, w.Stop())
}

// --- OnChange callback ---

func TestFileWatcher_OnChange_Write(t *testing.T) {
	f := writeWatchedFile(t, "config.yaml", "v1")

	w, err := NewFileWatcher(f, WithDebounceDelay(50*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	var events []FileEvent
	w.OnChange(func(evt FileEvent) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { w.Stop() })

	// Let the watcher initialize
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(f, []byte("v2"), 0644))

	// Wait for poll (1s) + debounce (50ms) + margin
	time.Sleep(2 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(events), 1, "should detect at least one change")
	assert.Equal(t, f, events[0].Path)
	assert.Equal(t, FileOpWrite, events[0].Op)
}

func TestFileWatcher_OnChange_RemoveAndRecreate(t *testing.T) {
	f := writeWatchedFile(t, "config.yaml", "v1")

	w, err := NewFileWatcher(f, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	var ops []FileOp
	w.OnChange(func(evt FileEvent) {
		mu.Lock()
		ops = append(ops, evt.Op)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { w.Stop() })

	require.NoError(t, os.Remove(f))
	time.Sleep(1500 * time.Millisecond)

	require.NoError(t, os.WriteFile(f, []byte("v2"), 0644))
	time.Sleep(1500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(ops), 2, "should see REMOVE then CREATE")
	assert.Equal(t, FileOpRemove, ops[0])
	assert.Equal(t, FileOpCreate, ops[1])
}

// dispatchLoop 的防抖必须把窗口内的多次事件合并为一次回调，
// 且定时器回调与 select 循环并发访问 pending 不得出现数据竞争。
func TestFileWatcher_DispatchCoalesces(t *testing.T) {
	f := writeWatchedFile(t, "coalesce.yaml", "v0")

	w, err := NewFileWatcher(f, WithDebounceDelay(50*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	callCount := 0
	w.OnChange(func(evt FileEvent) {
		mu.Lock()
		callCount++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { w.Stop() })

	// Send events in quick succession
	for i := 0; i < 3; i++ {
		w.eventChan <- FileEvent{
			Path:      f,
			Op:        FileOpWrite,
			Timestamp: time.Now(),
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Wait for debounce to flush
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, callCount,
		"events within the debounce window should coalesce into a single dispatch")
}

// --- Context cancellation stops watcher ---

func TestFileWatcher_ContextCancel(t *testing.T) {
	f := writeWatchedFile(t, "config.yaml", "v1")

	w, err := NewFileWatcher(f)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())

	// Cancel context — goroutines exit, running flag stays true
	// until Stop() is called explicitly
	cancel()
	time.Sleep(200 * time.Millisecond)

	w.Stop()
	assert.False(t, w.IsRunning())
}

func TestFileOpString(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(99).String())
}
