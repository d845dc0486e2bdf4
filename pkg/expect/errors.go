package expect

import (
	"errors"
	"fmt"
	"time"
)

// 四类引擎错误：等待超时、重试耗尽、链路被关闭、状态无法识别。
// 都携带会话标识、等待目标与已耗时，用于区分"设备没进入预期状态"和"链路死了"。

// DeadlineExceededError 等待在预算内未命中模式
type DeadlineExceededError struct {
	Session string
	Pattern string
	Elapsed time.Duration
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("%s: timed out after %s waiting for %q", e.Session, e.Elapsed.Round(time.Millisecond), e.Pattern)
}

// RetryExhaustedError 轮询探测在整体预算内始终未命中模式
type RetryExhaustedError struct {
	Session  string
	Probe    string
	Pattern  string
	Attempts int
	Elapsed  time.Duration
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts (%s) repeating %q until %q",
		e.Session, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Probe, e.Pattern)
}

// TransportClosedError 控制台字节流被对端关闭（与读超时是两种不同的情况）
type TransportClosedError struct {
	Session string
	Op      string
}

func (e *TransportClosedError) Error() string {
	return fmt.Sprintf("%s: console stream closed during %s", e.Session, e.Op)
}

// UnrecognizedStateError 登录状态机用完了安静期催促仍没识别出任何已知提示。
// 与 DeadlineExceeded 分开报告以便定位，但上层处理方式相同（该节点本轮失败）。
type UnrecognizedStateError struct {
	Session  string
	LastLine string
	Elapsed  time.Duration
}

func (e *UnrecognizedStateError) Error() string {
	return fmt.Sprintf("%s: no recognizable prompt after %s (last line %q)",
		e.Session, e.Elapsed.Round(time.Millisecond), e.LastLine)
}

// IsDeadlineExceeded 判断是否为等待超时
func IsDeadlineExceeded(err error) bool {
	var e *DeadlineExceededError
	return errors.As(err, &e)
}

// IsRetryExhausted 判断是否为重试耗尽
func IsRetryExhausted(err error) bool {
	var e *RetryExhaustedError
	return errors.As(err, &e)
}

// IsTransportClosed 判断是否为链路关闭
func IsTransportClosed(err error) bool {
	var e *TransportClosedError
	return errors.As(err, &e)
}

// IsUnrecognizedState 判断是否为状态无法识别
func IsUnrecognizedState(err error) bool {
	var e *UnrecognizedStateError
	return errors.As(err, &e)
}
