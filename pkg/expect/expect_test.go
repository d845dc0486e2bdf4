package expect

import (
	"io"
	"strings"
	"sync"
	"time"
)

// scriptTransport 脚本化的控制台替身：按队列吐出输出片段，记录全部写入，
// 可挂 onSend 回调按发送内容模拟设备行为。
type scriptTransport struct {
	mu     sync.Mutex
	chunks []string
	sends  []string // 去掉 CRLF 后的每行发送
	raw    []string // 原始写入字节
	onSend func(line string)
	eof    bool
	closes int
}

func (t *scriptTransport) queue(chunks ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = append(t.chunks, chunks...)
}

func (t *scriptTransport) markEOF() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eof = true
}

func (t *scriptTransport) sentLines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sends...)
}

func (t *scriptTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	line := strings.TrimSuffix(string(p), "\r\n")
	t.sends = append(t.sends, line)
	t.raw = append(t.raw, string(p))
	cb := t.onSend
	t.mu.Unlock()
	if cb != nil {
		cb(line)
	}
	return len(p), nil
}

func (t *scriptTransport) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	t.mu.Lock()
	if len(t.chunks) > 0 {
		n := copy(p, t.chunks[0])
		t.chunks = t.chunks[1:]
		t.mu.Unlock()
		return n, nil
	}
	eof := t.eof
	t.mu.Unlock()
	if eof {
		return 0, io.EOF
	}
	time.Sleep(timeout)
	return 0, nil
}

func (t *scriptTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *scriptTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// newTestSession 测试用会话：读取窗口与重试间隔都压到毫秒级
func newTestSession(tr Transport) *Session {
	return NewSession("r1", "console", tr, Options{
		ReadSlice:     5 * time.Millisecond,
		NudgeInterval: time.Hour,
		RetrySpacing:  time.Millisecond,
	})
}
