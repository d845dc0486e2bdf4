package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ios-xr/iosxrv-x64-vbox/addone/setup"
)

func TestParseForwardedPortBareNumber(t *testing.T) {
	port, err := parseForwardedPort("2222\n")
	require.NoError(t, err)
	assert.Equal(t, 2222, port)
}

func TestParseForwardedPortTable(t *testing.T) {
	out := "The forwarded ports for the machine are listed below.\n\n    57722 (guest) => 2200 (host)\n"
	port, err := parseForwardedPort(out)
	require.NoError(t, err)
	assert.Equal(t, 2200, port)
}

func TestParseForwardedPortMissing(t *testing.T) {
	_, err := parseForwardedPort("no ports here\n")
	assert.Error(t, err)
}

func TestXRChecksFollowCapabilities(t *testing.T) {
	base := xrChecks("vagrant", setup.Capabilities{Crypto: true})
	require.Len(t, base, 2)
	assert.Equal(t, "show version | i cisco IOS XRv x64", base[0].cmd)
	assert.Equal(t, "username vagrant", base[1].want)

	full := xrChecks("vagrant", setup.Capabilities{Crypto: true, MGBL: true})
	require.Len(t, full, 3)
	assert.Equal(t, "show run grpc", full[2].cmd)
	assert.Equal(t, "port 57777", full[2].want)
}
