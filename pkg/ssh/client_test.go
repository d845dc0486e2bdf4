package ssh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(nil)
	assert.Equal(t, 30*time.Second, c.config.Timeout)

	c = NewClient(&Config{})
	assert.Equal(t, 30*time.Second, c.config.Timeout)

	c = NewClient(&Config{Timeout: 5 * time.Second})
	assert.Equal(t, 5*time.Second, c.config.Timeout)
}

func TestRunRequiresConnection(t *testing.T) {
	c := NewClient(nil)
	_, err := c.Run("whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestCloseWithoutConnection(t *testing.T) {
	c := NewClient(nil)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestConnectWithRetryGivesUp(t *testing.T) {
	c := NewClient(&Config{Timeout: 50 * time.Millisecond})
	info := &ConnectionInfo{Host: "127.0.0.1", Port: 1, Username: "vagrant", Password: "vagrant"}

	start := time.Now()
	err := c.ConnectWithRetry(context.Background(), info, 100*time.Millisecond, 20*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConnectWithRetryHonorsContext(t *testing.T) {
	c := NewClient(&Config{Timeout: 50 * time.Millisecond})
	info := &ConnectionInfo{Host: "127.0.0.1", Port: 1, Username: "vagrant", Password: "vagrant"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.ConnectWithRetry(ctx, info, time.Minute, 10*time.Millisecond)
	require.Error(t, err)
}
