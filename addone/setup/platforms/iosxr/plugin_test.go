package iosxr

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ios-xr/iosxrv-x64-vbox/addone/setup"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/expect"
)

// xrConsole 带状态的 XR 控制台替身：按当前模式回适当的提示符
type xrConsole struct {
	mu      sync.Mutex
	pending []byte
	sent    []string
	mode    string // exec / config
	crypto  bool
	mgbl    bool
}

func (c *xrConsole) reply(out string) {
	c.pending = append(c.pending, []byte(out)...)
}

func (c *xrConsole) Write(p []byte) (int, error) {
	cmd := strings.TrimSpace(strings.TrimSuffix(string(p), "\r\n"))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, cmd)

	switch {
	case cmd == "conf t":
		c.mode = "config"
		c.reply("\r\nRP/0/RP0/CPU0:ios(config)# ")
	case cmd == "end":
		c.mode = "exec"
		c.reply("\r\nRP/0/RP0/CPU0:ios# ")
	case cmd == "no shutdown":
		c.reply("\r\nRP/0/RP0/CPU0:ios(config-if)# ")
	case cmd == "port 57777":
		c.reply("\r\nRP/0/RP0/CPU0:ios(config-grpc)# ")
	case cmd == "bash -c rpm -qa | grep k9sec":
		if c.crypto {
			c.reply("\r\nxrv9k-k9sec-3.1.0.0-r611\r\nRP/0/RP0/CPU0:ios# ")
		} else {
			c.reply("\r\nbash -c rpm -qa | grep k9sec\r\nRP/0/RP0/CPU0:ios# ")
		}
	case cmd == "bash -c rpm -qa | grep mgbl":
		if c.mgbl {
			c.reply("\r\nxrv9k-mgbl-3.0.0.0-r611\r\nRP/0/RP0/CPU0:ios# ")
		} else {
			c.reply("\r\nbash -c rpm -qa | grep mgbl\r\nRP/0/RP0/CPU0:ios# ")
		}
	case cmd == "sh run interface":
		c.reply("\r\ninterface MgmtEth0/RP0/CPU0/0\r\nRP/0/RP0/CPU0:ios# ")
	case cmd == "sh ipv4 int brief":
		c.reply("\r\nMgmtEth0/RP0/CPU0/0   10.0.2.15   Up   Up\r\nRP/0/RP0/CPU0:ios# ")
	case c.mode == "config":
		c.reply("\r\nRP/0/RP0/CPU0:ios(config)# ")
	default:
		c.reply("\r\nRP/0/RP0/CPU0:ios# ")
	}
	return len(p), nil
}

func (c *xrConsole) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()
	time.Sleep(timeout)
	return 0, nil
}

func (c *xrConsole) Close() error { return nil }

func (c *xrConsole) sentCommands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func newTestContext(t *testing.T, console *xrConsole) *setup.Context {
	t.Helper()
	dial := func(string, time.Duration) (expect.Transport, error) { return console, nil }
	n, err := expect.Open("xrv-1",
		[]expect.ChannelSpec{{Label: "console", Addr: "sim"}},
		expect.Credentials{Username: "vagrant", Password: "vagrant"},
		expect.NodeOptions{
			Budget: 30 * time.Second,
			Dialer: dial,
			Session: expect.Options{
				ReadSlice:     5 * time.Millisecond,
				NudgeInterval: time.Hour,
				RetrySpacing:  time.Millisecond,
			},
		})
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })

	s, err := n.Channel("console")
	require.NoError(t, err)
	reg := expect.NewRegistry()
	reg.Add(n)
	return &setup.Context{Registry: reg, Node: n, Session: s, Gateway: "10.0.2.2", HostIP: "10.0.2.15"}
}

func TestPreProbesCapabilities(t *testing.T) {
	console := &xrConsole{crypto: true, mgbl: false}
	ctx := newTestContext(t, console)

	p := &Plugin{}
	require.NoError(t, p.Pre(ctx))

	assert.True(t, ctx.Caps.Crypto)
	assert.False(t, ctx.Caps.MGBL)

	sent := console.sentCommands()
	assert.Contains(t, sent, "ztp terminate noprompt")
	assert.Contains(t, sent, "sh run interface")
}

func TestRunSkipsOptionalBranchesWithoutPackages(t *testing.T) {
	console := &xrConsole{}
	ctx := newTestContext(t, console)
	ctx.Caps = setup.Capabilities{Crypto: false, MGBL: false}

	p := &Plugin{}
	require.NoError(t, p.Run(ctx))

	sent := console.sentCommands()
	assert.NotContains(t, sent, "ssh server v2")
	assert.NotContains(t, sent, "grpc")
	assert.Contains(t, sent, "router static address-family ipv4 unicast 0.0.0.0/0 MgmtEth0/RP0/CPU0/0 10.0.2.2")
	assert.Contains(t, sent, "commit")
	assert.Equal(t, "10.0.2.15", ctx.Caps.MgmtIP)
}

func TestRunConfiguresCryptoAndGRPC(t *testing.T) {
	console := &xrConsole{}
	ctx := newTestContext(t, console)
	ctx.Caps = setup.Capabilities{Crypto: true, MGBL: true}

	p := &Plugin{}
	require.NoError(t, p.Run(ctx))

	sent := console.sentCommands()
	assert.Contains(t, sent, "ssh server v2")
	assert.Contains(t, sent, "ssh server vrf default")
	assert.Contains(t, sent, "grpc")
	assert.Contains(t, sent, "port 57777")
}

func TestLoginRulesAreXRShaped(t *testing.T) {
	rules := (&Plugin{}).LoginRules(expect.Credentials{Username: "vagrant", Password: "vagrant"})
	require.NotEmpty(t, rules)
	assert.True(t, rules[0].Pattern.MatchString("Press RETURN to get started"))
}

func TestContextRegistryResolvesNode(t *testing.T) {
	console := &xrConsole{crypto: true, mgbl: true}
	ctx := newTestContext(t, console)

	n, err := ctx.Registry.Node("xrv-1")
	require.NoError(t, err)
	assert.Same(t, ctx.Node, n)

	_, err = ctx.Registry.Node("xrv-2")
	assert.Error(t, err)
}
