package expect

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForMatchesAcrossChunks(t *testing.T) {
	tr := &scriptTransport{}
	s := newTestSession(tr)

	// 提示符被拆在两个读取增量里，匹配必须落在累计缓冲上
	tr.queue("RP/0/RP0/", "CPU0:ios# ")

	data, err := s.WaitFor(regexp.MustCompile(`RP/0/RP0/CPU0:ios#`), NewDeadline(2*time.Second))
	require.NoError(t, err)
	assert.Contains(t, data, "RP/0/RP0/CPU0:ios#")

	// 命中后缓冲应被清空
	assert.Empty(t, s.FlushBuffer())
}

func TestWaitForReturnsSurroundingOutput(t *testing.T) {
	tr := &scriptTransport{}
	s := newTestSession(tr)

	tr.queue("MgmtEth0/RP0/CPU0/0 is Up\r\n  Internet address is 10.0.2.15/24\r\nRP/0/RP0/CPU0:ios# ")

	data, err := s.WaitFor(regexp.MustCompile(`ios#`), NewDeadline(2*time.Second))
	require.NoError(t, err)
	// 返回整段缓冲，调用方可以从周边文本抠信息
	assert.Contains(t, data, "Internet address is 10.0.2.15/24")
}

func TestWaitForDeadlineExceeded(t *testing.T) {
	tr := &scriptTransport{}
	s := newTestSession(tr)

	dl := NewDeadline(60 * time.Millisecond)
	start := time.Now()
	_, err := s.WaitFor(regexp.MustCompile(`never`), dl)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsDeadlineExceeded(err))
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	var de *DeadlineExceededError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "never", de.Pattern)
	assert.Contains(t, de.Session, "r1")
}

func TestWaitForTransportClosed(t *testing.T) {
	tr := &scriptTransport{}
	tr.markEOF()
	s := newTestSession(tr)

	_, err := s.WaitFor(regexp.MustCompile(`ios#`), NewDeadline(time.Second))
	require.Error(t, err)
	assert.True(t, IsTransportClosed(err))
	assert.False(t, IsDeadlineExceeded(err))
}

func TestWaitForNudgesQuietConsole(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession("r1", "console", tr, Options{
		ReadSlice:     5 * time.Millisecond,
		NudgeInterval: 30 * time.Millisecond,
	})

	// 控制台不见兔子不撒鹰：收到回车才把提示符吐出来
	tr.onSend = func(line string) {
		if line == "" {
			tr.queue("RP/0/RP0/CPU0:ios# ")
		}
	}

	_, err := s.WaitFor(regexp.MustCompile(`ios#`), NewDeadline(2*time.Second))
	require.NoError(t, err)
	assert.Contains(t, tr.sentLines(), "")
}

func TestSendAppendsCRLF(t *testing.T) {
	tr := &scriptTransport{}
	s := newTestSession(tr)

	require.NoError(t, s.Send("show version"))
	require.NoError(t, s.Send(""))

	require.Len(t, tr.raw, 2)
	assert.Equal(t, "show version\r\n", tr.raw[0])
	assert.Equal(t, "\r\n", tr.raw[1])
}

func TestSendWritesTranscript(t *testing.T) {
	tr := &scriptTransport{}
	var transcript bytes.Buffer
	s := NewSession("r1", "console", tr, Options{
		ReadSlice:  5 * time.Millisecond,
		Transcript: &transcript,
	})

	tr.queue("RP/0/RP0/CPU0:ios# ")
	require.NoError(t, s.Send("terminal length 0"))
	_, err := s.WaitFor(regexp.MustCompile(`ios#`), NewDeadline(time.Second))
	require.NoError(t, err)

	out := transcript.String()
	assert.Contains(t, out, ">>> terminal length 0")
	assert.Contains(t, out, "RP/0/RP0/CPU0:ios#")
}

func TestFlushBufferDrainsStaleOutput(t *testing.T) {
	tr := &scriptTransport{}
	s := newTestSession(tr)

	tr.queue("stale banner\r\n", "more noise\r\n")

	out := s.FlushBuffer()
	assert.True(t, strings.Contains(out, "stale banner") && strings.Contains(out, "more noise"))
	assert.Empty(t, s.FlushBuffer())
}

func TestSessionCloseIdempotent(t *testing.T) {
	tr := &scriptTransport{}
	s := newTestSession(tr)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, tr.closeCount())

	err := s.Send("show version")
	assert.True(t, IsTransportClosed(err))
	_, err = s.ReadIncrement(time.Millisecond)
	assert.True(t, IsTransportClosed(err))
}

func TestWaitForMatchesResidueFromEarlierWait(t *testing.T) {
	tr := &scriptTransport{}
	tr.queue("RP/0/RP0/CPU0:ios# ")
	s := newTestSession(tr)

	// 第一次等待目标不对，超时后提示符留在累计缓冲里
	_, err := s.WaitFor(regexp.MustCompile(`never-appears`), NewDeadline(40*time.Millisecond))
	assert.True(t, IsDeadlineExceeded(err))

	// 传输层不再有新字节，命中必须来自入口处对缓冲的检查
	data, err := s.WaitFor(regexp.MustCompile(`ios#`), NewDeadline(500*time.Millisecond))
	require.NoError(t, err)
	assert.Contains(t, data, "RP/0/RP0/CPU0:ios#")
}
