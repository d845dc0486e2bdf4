package expect

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNodeOptions(dial Dialer) NodeOptions {
	return NodeOptions{
		Budget: 2 * time.Second,
		Dialer: dial,
		Session: Options{
			ReadSlice:     5 * time.Millisecond,
			NudgeInterval: time.Hour,
			RetrySpacing:  time.Millisecond,
		},
	}
}

func TestNodeOpenChannels(t *testing.T) {
	transports := map[string]*scriptTransport{
		"127.0.0.1:65000": {},
		"127.0.0.1:65001": {},
	}
	dial := func(addr string, _ time.Duration) (Transport, error) {
		return transports[addr], nil
	}

	n, err := Open("xrv-1",
		[]ChannelSpec{
			{Label: "console", Addr: "127.0.0.1:65000"},
			{Label: "aux", Addr: "127.0.0.1:65001"},
		},
		Credentials{Username: "vagrant", Password: "vagrant"},
		testNodeOptions(dial))
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, []string{"console", "aux"}, n.Channels())
	assert.Equal(t, "vagrant", n.Credentials().Username)

	console, err := n.Channel("console")
	require.NoError(t, err)
	aux, err := n.Channel("aux")
	require.NoError(t, err)
	assert.NotSame(t, console, aux)

	_, err = n.Channel("mgmt")
	assert.Error(t, err)

	// 两条通道共享同一份预算
	assert.LessOrEqual(t, n.Deadline().Remaining(), 2*time.Second)
}

func TestNodeCloseIdempotent(t *testing.T) {
	console := &scriptTransport{}
	aux := &scriptTransport{}
	addrs := map[string]*scriptTransport{"a:1": console, "a:2": aux}
	dial := func(addr string, _ time.Duration) (Transport, error) {
		return addrs[addr], nil
	}

	n, err := Open("xrv-1",
		[]ChannelSpec{{Label: "console", Addr: "a:1"}, {Label: "aux", Addr: "a:2"}},
		Credentials{}, testNodeOptions(dial))
	require.NoError(t, err)

	// 其中一条会话已被单独关过，节点关闭仍然只碰底层连接一次
	s, err := n.Channel("aux")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	assert.Equal(t, 1, console.closeCount())
	assert.Equal(t, 1, aux.closeCount())
}

func TestNodeOpenRollsBackOnDialFailure(t *testing.T) {
	first := &scriptTransport{}
	dial := func(addr string, _ time.Duration) (Transport, error) {
		if addr == "a:1" {
			return first, nil
		}
		return nil, errors.New("connection refused")
	}

	_, err := Open("xrv-1",
		[]ChannelSpec{{Label: "console", Addr: "a:1"}, {Label: "aux", Addr: "a:2"}},
		Credentials{}, testNodeOptions(dial))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aux")
	assert.Equal(t, 1, first.closeCount())
}

func TestNodeLogin(t *testing.T) {
	tr := &scriptTransport{}
	tr.queue("RP/0/RP0/CPU0:ios# ")
	dial := func(string, time.Duration) (Transport, error) { return tr, nil }

	n, err := Open("xrv-1",
		[]ChannelSpec{{Label: "console", Addr: "a:1"}},
		Credentials{Username: "admin", Password: "pw"},
		testNodeOptions(dial))
	require.NoError(t, err)
	defer n.Close()

	s, err := n.Login("console", XRLoginRules("admin", "pw"), loginOpts())
	require.NoError(t, err)
	assert.Equal(t, "(xrv-1:console)", s.Name())
}

func TestRegistry(t *testing.T) {
	mk := func(name string) (*Node, *scriptTransport) {
		tr := &scriptTransport{}
		dial := func(string, time.Duration) (Transport, error) { return tr, nil }
		n, err := Open(name, []ChannelSpec{{Label: "console", Addr: "a:1"}}, Credentials{}, testNodeOptions(dial))
		require.NoError(t, err)
		return n, tr
	}

	n1, tr1 := mk("xrv-1")
	n2, tr2 := mk("xrv-2")

	reg := NewRegistry()
	reg.Add(n1)
	reg.Add(n2)

	got, err := reg.Node("xrv-2")
	require.NoError(t, err)
	assert.Same(t, n2, got)

	_, err = reg.Node("xrv-9")
	assert.Error(t, err)

	require.NoError(t, reg.CloseAll())
	require.NoError(t, reg.CloseAll())
	assert.Equal(t, 1, tr1.closeCount())
	assert.Equal(t, 1, tr2.closeCount())
}
