package expect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
)

const (
	// DefaultReadSlice 单次读取窗口：等够一小段时间再取数据，避免只抓到零碎输出
	DefaultReadSlice = 1 * time.Second
	// DefaultNudgeInterval 安静期催促间隔：串口控制台常常攒着输出等一个行结束符，
	// 等待太久没动静时发一个空行把挂起的输出刷出来
	DefaultNudgeInterval = 10 * time.Second
	// DefaultRetrySpacing 两次轮询探测之间的间隔
	DefaultRetrySpacing = 1 * time.Second

	readBufSize = 8192
)

// Options 会话级可调参数；零值字段使用默认值
type Options struct {
	ReadSlice     time.Duration
	NudgeInterval time.Duration
	RetrySpacing  time.Duration
	// Transcript 可选的原始转录：所有读到的字节与发出的文本都会写入，用于事后排障
	Transcript io.Writer
	Log        *logrus.Entry
}

// Session 一条逻辑控制台通道：独占一个 Transport，维护只追加的读缓冲。
// 同一会话同一时刻至多一个在途等待/读取（缓冲没有并发读者）。
type Session struct {
	node    string
	channel string
	tr      Transport

	buf           bytes.Buffer
	readSlice     time.Duration
	nudgeInterval time.Duration
	retrySpacing  time.Duration
	transcript    io.Writer
	log           *logrus.Entry

	waiting bool
	closed  bool
}

// NewSession 包装一个 Transport 为会话。Transport 的所有权转移给会话。
func NewSession(node, channel string, tr Transport, opts Options) *Session {
	s := &Session{
		node:          node,
		channel:       channel,
		tr:            tr,
		readSlice:     opts.ReadSlice,
		nudgeInterval: opts.NudgeInterval,
		retrySpacing:  opts.RetrySpacing,
		transcript:    opts.Transcript,
		log:           opts.Log,
	}
	if s.readSlice <= 0 {
		s.readSlice = DefaultReadSlice
	}
	if s.nudgeInterval <= 0 {
		s.nudgeInterval = DefaultNudgeInterval
	}
	if s.retrySpacing <= 0 {
		s.retrySpacing = DefaultRetrySpacing
	}
	if s.log == nil {
		s.log = logger.WithFields(logrus.Fields{"node": node, "channel": channel})
	}
	return s
}

// Name 会话标识（节点:通道），出现在所有日志与错误里
func (s *Session) Name() string {
	return fmt.Sprintf("(%s:%s)", s.node, s.channel)
}

// Send 发送一行文本并追加 CRLF（网络设备期望 CRLF）。
// 不做任何隐式等待，也不消费读缓冲。
func (s *Session) Send(text string) error {
	if s.closed {
		return &TransportClosedError{Session: s.Name(), Op: "send"}
	}
	if text == "" {
		s.log.Debug("send <enter>")
	} else {
		s.log.WithField("text", text).Debug("send")
	}
	if s.transcript != nil {
		fmt.Fprintf(s.transcript, ">>> %s\n", text)
	}
	if _, err := s.tr.Write([]byte(text + "\r\n")); err != nil {
		if errors.Is(err, io.EOF) {
			return &TransportClosedError{Session: s.Name(), Op: "send"}
		}
		return fmt.Errorf("%s: send failed: %w", s.Name(), err)
	}
	return nil
}

// ReadIncrement 在 timeout 窗口内读取新到达的字节；窗口内无数据返回空串。
// 流结束返回 TransportClosedError（此前已读到的字节一并返回）。
// 这是唯一直接接触 Transport 的读原语，其余能力都构建在它之上。
func (s *Session) ReadIncrement(timeout time.Duration) (string, error) {
	if s.closed {
		return "", &TransportClosedError{Session: s.Name(), Op: "read"}
	}
	p := make([]byte, readBufSize)
	n, err := s.tr.ReadTimeout(p, timeout)
	data := string(p[:n])
	if n > 0 && s.transcript != nil {
		s.transcript.Write(p[:n])
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return data, &TransportClosedError{Session: s.Name(), Op: "read"}
		}
		return data, fmt.Errorf("%s: read failed: %w", s.Name(), err)
	}
	return data, nil
}

// FlushBuffer 清空读缓冲并返回其内容，同时把 Transport 里已到达的字节快速排干。
// 在已知有陈旧输出风险的场景下，调用方应在 Send 前显式清理（引擎不在 Send 时自动清）。
func (s *Session) FlushBuffer() string {
	for {
		data, err := s.ReadIncrement(50 * time.Millisecond)
		if data != "" {
			s.buf.WriteString(data)
		}
		if err != nil || data == "" {
			break
		}
	}
	out := s.buf.String()
	s.buf.Reset()
	return out
}

// waitOutcome 等待循环的标记结果：命中 / 超时 / 链路关闭。
// 重试逻辑据此显式分支，而不是拿超时错误当控制流。
type waitOutcome int

const (
	outcomeMatch waitOutcome = iota
	outcomeTimeout
	outcomeClosed
)

// waitFor 读取-匹配主循环：按小片读取、并入累计缓冲、整体匹配
// （匹配可能跨越多个读取增量），命中后截断缓冲。
func (s *Session) waitFor(pattern *regexp.Regexp, dl *Deadline) (waitOutcome, string, error) {
	if s.waiting {
		return outcomeClosed, "", fmt.Errorf("%s: concurrent wait on one session", s.Name())
	}
	s.waiting = true
	defer func() { s.waiting = false }()

	// 先查已有缓冲：上一次等待超时留下的残余里可能已经有目标
	if s.buf.Len() > 0 && pattern.MatchString(s.buf.String()) {
		out := s.buf.String()
		s.buf.Reset()
		return outcomeMatch, out, nil
	}

	lastActivity := time.Now()
	for !dl.Expired() {
		slice := s.readSlice
		if rem := dl.Remaining(); rem < slice {
			slice = rem
		}
		data, err := s.ReadIncrement(slice)
		if data != "" {
			s.buf.WriteString(data)
			lastActivity = time.Now()
			if pattern.MatchString(s.buf.String()) {
				out := s.buf.String()
				s.buf.Reset()
				return outcomeMatch, out, nil
			}
		}
		if err != nil {
			var ce *TransportClosedError
			if errors.As(err, &ce) {
				return outcomeClosed, "", err
			}
			return outcomeClosed, "", err
		}
		if data == "" && time.Since(lastActivity) >= s.nudgeInterval {
			s.log.WithField("pattern", pattern.String()).Debug("still waiting, nudging console")
			if err := s.Send(""); err != nil {
				return outcomeClosed, "", err
			}
			lastActivity = time.Now()
		}
	}
	return outcomeTimeout, "", nil
}

// WaitFor 阻塞等待模式在累计缓冲中出现（多行匹配）。命中时返回完整缓冲内容
// 供调用方检查周边文本（比如从输出里抠 IP 地址），并清空缓冲；
// 预算耗尽返回 DeadlineExceededError，流结束返回 TransportClosedError。
func (s *Session) WaitFor(pattern *regexp.Regexp, dl *Deadline) (string, error) {
	s.log.WithField("pattern", pattern.String()).Debug("wait")
	outcome, data, err := s.waitFor(pattern, dl)
	switch outcome {
	case outcomeMatch:
		return data, nil
	case outcomeClosed:
		return "", err
	default:
		return "", &DeadlineExceededError{Session: s.Name(), Pattern: pattern.String(), Elapsed: dl.Elapsed()}
	}
}

// Close 关闭会话与其 Transport；重复关闭无害
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Debug("session closed")
	return s.tr.Close()
}
