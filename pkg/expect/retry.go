package expect

import (
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
)

// RepeatUntil 周期性下发探测命令，直到输出命中期望模式或共享预算耗尽。
// 适用于没有单一提示符转换可等、只能轮询的条件（例如等 DHCP 把地址租出来、
// 等某个服务起来）。单次尝试受 attemptTimeout 限制，整体受 dl 共享预算限制；
// 预算耗尽返回 RetryExhaustedError，带上最后一次探测与模式供排障。
func (s *Session) RepeatUntil(probe string, pattern *regexp.Regexp, attemptTimeout time.Duration, dl *Deadline) (string, error) {
	s.log.WithFields(logrus.Fields{"probe": probe, "pattern": pattern.String()}).Debug("repeat-until")

	attempts := 0
	for !dl.Expired() {
		if err := s.Send(probe); err != nil {
			return "", err
		}
		attempts++

		outcome, data, err := s.waitFor(pattern, dl.Sub(attemptTimeout))
		switch outcome {
		case outcomeMatch:
			s.log.WithFields(logrus.Fields{"probe": probe, "attempts": attempts}).Debug("repeat-until matched")
			return data, nil
		case outcomeClosed:
			return "", err
		}

		// 本次窗口没等到，是预期中的重试条件而不是致命错误；隔一拍再探
		s.log.WithFields(logrus.Fields{"probe": probe, "attempt": attempts}).Debug("repeat-until retrying")
		if dl.Expired() {
			break
		}
		time.Sleep(s.retrySpacing)
	}

	return "", &RetryExhaustedError{
		Session:  s.Name(),
		Probe:    probe,
		Pattern:  pattern.String(),
		Attempts: attempts,
		Elapsed:  dl.Elapsed(),
	}
}
