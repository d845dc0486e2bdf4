package iosxr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPackageIgnoresCommandEcho(t *testing.T) {
	// grep 的回显行里也带着标记字符串，不能算命中
	echoOnly := "bash -c rpm -qa | grep k9sec\r\nRP/0/RP0/CPU0:ios# "
	assert.False(t, hasPackage(echoOnly, "-k9sec"))

	withPkg := "bash -c rpm -qa | grep k9sec\r\nxrv9k-k9sec-3.1.0.0-r611\r\nRP/0/RP0/CPU0:ios# "
	assert.True(t, hasPackage(withPkg, "-k9sec"))
}

func TestHasPackageEmptyOutput(t *testing.T) {
	assert.False(t, hasPackage("", "-mgbl"))
	assert.False(t, hasPackage("\r\n\r\n", "-mgbl"))
}

func TestParseMgmtIP(t *testing.T) {
	out := "Interface             IP-Address      Status    Protocol\r\n" +
		"MgmtEth0/RP0/CPU0/0   10.0.2.15       Up        Up\r\n" +
		"RP/0/RP0/CPU0:ios# "
	assert.Equal(t, "10.0.2.15", parseMgmtIP(out))
}

func TestParseMgmtIPUnassigned(t *testing.T) {
	out := "MgmtEth0/RP0/CPU0/0   unassigned   Down   Down\r\n"
	assert.Equal(t, "", parseMgmtIP(out))
}
