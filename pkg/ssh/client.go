package ssh

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Config SSH配置
type Config struct {
	Timeout   time.Duration `yaml:"timeout"`
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// ConnectionInfo SSH连接信息
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Client SSH客户端，面向刚起机的虚拟机，支持带重试的拨号
type Client struct {
	config     *Config
	connection *ssh.Client
	mutex      sync.Mutex
	info       *ConnectionInfo
}

// NewClient 创建SSH客户端
func NewClient(config *Config) *Client {
	if config == nil {
		config = &Config{Timeout: 30 * time.Second}
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{config: config}
}

// Connect 连接SSH服务器
func (c *Client) Connect(ctx context.Context, info *ConnectionInfo) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.info = info

	sshConfig := &ssh.ClientConfig{
		User:            info.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.config.Timeout,
		Config: ssh.Config{
			// 兼容旧版本IOS的密钥交换算法
			KeyExchanges: []string{
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
			},
			// 兼容旧版本的加密算法
			Ciphers: []string{
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-cbc",
				"3des-cbc",
			},
		},
		// 兼容旧版本主机密钥算法
		HostKeyAlgorithms: []string{
			"ssh-rsa",
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
		},
	}

	if info.Password != "" {
		// 同时尝试 password 与 keyboard-interactive，提高与网络设备的兼容性
		sshConfig.Auth = []ssh.AuthMethod{
			ssh.Password(info.Password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = info.Password
				}
				return answers, nil
			}),
		}
	}

	addr := net.JoinHostPort(info.Host, strconv.Itoa(info.Port))
	conn, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	c.connection = conn
	return nil
}

// ConnectWithRetry 重复拨号直到成功或超出期限。刚开机的虚拟机
// sshd 往往要等若干秒才可用，调用方给出总等待时间与重试间隔
func (c *Client) ConnectWithRetry(ctx context.Context, info *ConnectionInfo, wait, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(wait)
	for {
		err := c.Connect(ctx, info)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Run 在一个新会话里执行命令，返回合并的标准输出与标准错误
func (c *Client) Run(cmd string) (string, error) {
	c.mutex.Lock()
	conn := c.connection
	c.mutex.Unlock()
	if conn == nil {
		return "", fmt.Errorf("ssh client not connected")
	}

	session, err := conn.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(cmd)
	return string(out), err
}

// Close 关闭连接
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.connection == nil {
		return nil
	}
	err := c.connection.Close()
	c.connection = nil
	return err
}
