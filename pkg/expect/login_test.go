package expect

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loginOpts() LoginOptions {
	return LoginOptions{
		RepromptWindow: 3 * time.Second,
		NudgeInterval:  time.Hour,
		ReadSlice:      5 * time.Millisecond,
	}
}

func TestLoginFirstBootSequence(t *testing.T) {
	tr := &scriptTransport{}
	s := newTestSession(tr)

	// 首次启动：横幅 -> 建根用户 -> 两次密码 -> 正式登录 -> exec 提示符
	var mu sync.Mutex
	step := 0
	tr.onSend = func(string) {
		mu.Lock()
		defer mu.Unlock()
		switch step {
		case 0:
			tr.queue("\r\nEnter root-system username: ")
		case 1:
			tr.queue("Enter secret: ")
		case 2:
			tr.queue("Enter secret again: ")
		case 3:
			tr.queue("\r\nUser Access Verification\r\nUsername: ")
		case 4:
			tr.queue("Password: ")
		case 5:
			tr.queue("\r\nRP/0/RP0/CPU0:ios# ")
		}
		step++
	}
	tr.queue("SYSTEM CONFIGURATION COMPLETED\r\nPress RETURN to get started\r\n")

	machine := NewLoginMachine(XRLoginRules("admin", "secret99"), loginOpts())
	require.NoError(t, machine.Run(s, NewDeadline(5*time.Second)))

	assert.Equal(t, []string{"", "admin", "secret99", "secret99", "admin", "secret99"}, tr.sentLines())
}

func TestLoginAlreadyAtExecPrompt(t *testing.T) {
	tr := &scriptTransport{}
	s := newTestSession(tr)
	tr.queue("RP/0/RP0/CPU0:ios# ")

	machine := NewLoginMachine(XRLoginRules("admin", "secret99"), loginOpts())
	require.NoError(t, machine.Run(s, NewDeadline(time.Second)))
	assert.Empty(t, tr.sentLines())
}

func TestLoginSuppressesRepeatedUsernamePrompt(t *testing.T) {
	tr := &scriptTransport{}
	s := newTestSession(tr)

	// 引导尾声把 Username 提示重放了一遍：窗口内第二次出现只用空行确认,
	// 不能把用户名再发一次
	var mu sync.Mutex
	step := 0
	tr.onSend = func(string) {
		mu.Lock()
		defer mu.Unlock()
		switch step {
		case 0:
			tr.queue("\r\nUsername: ")
		case 1:
			tr.queue("Password: ")
		case 2:
			tr.queue("\r\nRP/0/RP0/CPU0:ios# ")
		}
		step++
	}
	tr.queue("User Access Verification\r\nUsername: ")

	machine := NewLoginMachine(XRLoginRules("admin", "secret99"), loginOpts())
	require.NoError(t, machine.Run(s, NewDeadline(5*time.Second)))

	sends := tr.sentLines()
	assert.Equal(t, []string{"admin", "", "secret99"}, sends)

	count := 0
	for _, l := range sends {
		if l == "admin" {
			count++
		}
	}
	assert.Equal(t, 1, count, "username must be sent exactly once inside the reprompt window")
}

func TestLoginRecoversFromLeftoverConfigMode(t *testing.T) {
	tr := &scriptTransport{}
	s := newTestSession(tr)

	var mu sync.Mutex
	step := 0
	tr.onSend = func(line string) {
		mu.Lock()
		defer mu.Unlock()
		switch step {
		case 0:
			tr.queue("Uncommitted changes found, commit them before exiting(yes/no/cancel)? ")
		case 1:
			tr.queue("\r\nRP/0/RP0/CPU0:ios# ")
		}
		step++
	}
	// 配置态提示同时命中 RP 终态模式，规则顺序必须先走恢复分支
	tr.queue("RP/0/RP0/CPU0:ios(config-if)# ")

	machine := NewLoginMachine(XRLoginRules("admin", "secret99"), loginOpts())
	require.NoError(t, machine.Run(s, NewDeadline(5*time.Second)))
	assert.Equal(t, []string{"exit", "no"}, tr.sentLines())
}

func TestLoginUnrecognizedState(t *testing.T) {
	tr := &scriptTransport{}
	s := newTestSession(tr)
	tr.queue("%%%% garbled bootloader output\r\n")

	machine := NewLoginMachine(XRLoginRules("admin", "secret99"), loginOpts())
	err := machine.Run(s, NewDeadline(80*time.Millisecond))

	require.Error(t, err)
	assert.True(t, IsUnrecognizedState(err))

	var ue *UnrecognizedStateError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.LastLine, "garbled")
}

func TestLoginDeadlineAfterPartialProgress(t *testing.T) {
	tr := &scriptTransport{}
	s := newTestSession(tr)
	// 识别出了 Username 但后续再无响应：报超时而不是状态无法识别
	tr.queue("Username: ")

	machine := NewLoginMachine(XRLoginRules("admin", "secret99"), loginOpts())
	err := machine.Run(s, NewDeadline(80*time.Millisecond))

	require.Error(t, err)
	assert.True(t, IsDeadlineExceeded(err))
	assert.False(t, IsUnrecognizedState(err))
	assert.Equal(t, []string{"admin"}, tr.sentLines())
}

func TestLoginStreamClosed(t *testing.T) {
	tr := &scriptTransport{}
	tr.markEOF()
	s := newTestSession(tr)

	machine := NewLoginMachine(XRLoginRules("admin", "secret99"), loginOpts())
	err := machine.Run(s, NewDeadline(time.Second))
	require.Error(t, err)
	assert.True(t, IsTransportClosed(err))
}

func TestLastNonEmptyLine(t *testing.T) {
	assert.Equal(t, "Username: ", lastNonEmptyLine("banner text\r\n\r\nUsername: "))
	assert.Equal(t, "Password:", lastNonEmptyLine("Password:\r\n\r\n"))
	assert.Equal(t, "", lastNonEmptyLine("\r\n  \r\n"))
	assert.Equal(t, "only", lastNonEmptyLine("only"))
}
