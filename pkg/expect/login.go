package expect

import (
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultRepromptWindow 重复提示抑制窗口：同一登录提示在窗口内再次出现时
	// 视为引导期的重放回显而不是新请求。该阈值是经验值，对不同控制台时延
	// 未必都合适，所以做成可配置而不是写死。
	DefaultRepromptWindow = 5 * time.Second
	// DefaultLoginNudgeInterval 登录阶段的催促间隔，比普通等待更勤一些
	DefaultLoginNudgeInterval = 5 * time.Second
)

// PromptRule 一条登录提示规则：识别到模式后发送既定应答，或标记为终态。
// 规则构造后不可变，按序匹配（先命中的生效）。
type PromptRule struct {
	Name     string
	Pattern  *regexp.Regexp
	Response string
	// Terminal 终态规则：命中即认证完成，不发送任何应答
	Terminal bool
	// RepromptGuard 开启重复提示抑制：窗口内再次命中时只用空行确认，
	// 不重发应答（重发凭据会触发某些引导序列的登录死循环）
	RepromptGuard bool
}

// LoginOptions 登录状态机可调参数；零值使用默认值
type LoginOptions struct {
	RepromptWindow time.Duration
	NudgeInterval  time.Duration
	ReadSlice      time.Duration
}

// LoginMachine 登录状态机：逐段读取控制台输出，只对最新输出的最后一个
// 非空行做规则匹配（启动期会重放大量积压的横幅文本，整段匹配会踩到陈旧提示），
// 命中后发送对应应答，直到终态提示出现或节点预算耗尽。
type LoginMachine struct {
	rules []PromptRule
	opts  LoginOptions
}

// NewLoginMachine 构造状态机
func NewLoginMachine(rules []PromptRule, opts LoginOptions) *LoginMachine {
	if opts.RepromptWindow <= 0 {
		opts.RepromptWindow = DefaultRepromptWindow
	}
	if opts.NudgeInterval <= 0 {
		opts.NudgeInterval = DefaultLoginNudgeInterval
	}
	if opts.ReadSlice <= 0 {
		opts.ReadSlice = DefaultReadSlice
	}
	return &LoginMachine{rules: rules, opts: opts}
}

// Run 驱动状态机直到终态。从未识别出任何提示时返回 UnrecognizedStateError，
// 识别过但没走到终态返回 DeadlineExceededError，链路断开返回 TransportClosedError。
// 三者对调用方都是本轮不可恢复的失败。
func (m *LoginMachine) Run(s *Session, dl *Deadline) error {
	s.log.Info("waiting for login prompt")

	lastSeen := make(map[string]time.Time)
	progressed := false
	lastLine := ""
	lastActivity := time.Now()

	for !dl.Expired() {
		slice := m.opts.ReadSlice
		if rem := dl.Remaining(); rem < slice {
			slice = rem
		}
		data, err := s.ReadIncrement(slice)
		if err != nil {
			return err
		}

		if data == "" {
			// 安静太久就敲一下回车，防止控制台停止回显后会话假死
			if time.Since(lastActivity) >= m.opts.NudgeInterval {
				if err := s.Send(""); err != nil {
					return err
				}
				lastActivity = time.Now()
			}
			continue
		}
		lastActivity = time.Now()

		line := lastNonEmptyLine(data)
		if line == "" {
			continue
		}
		lastLine = line

		for i := range m.rules {
			r := &m.rules[i]
			if !r.Pattern.MatchString(line) {
				continue
			}
			progressed = true

			if r.Terminal {
				s.log.WithField("state", r.Name).Info("login: authenticated")
				return nil
			}

			if r.RepromptGuard {
				if prev, ok := lastSeen[r.Name]; ok && time.Since(prev) < m.opts.RepromptWindow {
					// 窗口内重复出现，当作杂音用空行确认
					s.log.WithField("state", r.Name).Info("login: repeated prompt too soon, acknowledging")
					if err := s.Send(""); err != nil {
						return err
					}
					break
				}
				lastSeen[r.Name] = time.Now()
			}

			s.log.WithFields(logrus.Fields{"state": r.Name, "line": line}).Info("login: prompt matched")
			if err := s.Send(r.Response); err != nil {
				return err
			}
			break
		}
	}

	if !progressed {
		return &UnrecognizedStateError{Session: s.Name(), LastLine: lastLine, Elapsed: dl.Elapsed()}
	}
	return &DeadlineExceededError{Session: s.Name(), Pattern: "login", Elapsed: dl.Elapsed()}
}

// lastNonEmptyLine 取一段输出的最后一个非空行
func lastNonEmptyLine(data string) string {
	lines := strings.Split(data, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimRight(lines[i], "\r"); strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

// XRLoginRules IOS XR 控制台从首次启动到 exec 提示符的识别规则。
// 顺序有讲究：配置态与未提交变更的恢复规则必须排在终态之前，
// 否则 RP/0/RP0/CPU0:ios(config)# 会被终态规则误收。
func XRLoginRules(username, password string) []PromptRule {
	return []PromptRule{
		{Name: "banner", Pattern: regexp.MustCompile(`Press RETURN to get started`), Response: ""},
		{Name: "root-username", Pattern: regexp.MustCompile(`Enter root-system username:`), Response: username},
		{Name: "secret", Pattern: regexp.MustCompile(`Enter secret:`), Response: password},
		{Name: "secret-again", Pattern: regexp.MustCompile(`Enter secret again`), Response: password},
		{Name: "username", Pattern: regexp.MustCompile(`Username:`), Response: username, RepromptGuard: true},
		{Name: "password", Pattern: regexp.MustCompile(`Password:`), Response: password},
		// 落在残留的配置态里就退出来；上次提交到一半的配置直接放弃
		{Name: "conf-mode", Pattern: regexp.MustCompile(`ios.config.*#`), Response: "exit"},
		{Name: "uncommitted", Pattern: regexp.MustCompile(`Uncommitted changes found`), Response: "no"},
		{Name: "exec", Pattern: regexp.MustCompile(`ios#`), Terminal: true},
		{Name: "exec-rp", Pattern: regexp.MustCompile(`RP.*/CPU.*#`), Terminal: true},
	}
}
