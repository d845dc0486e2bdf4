package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ios-xr/iosxrv-x64-vbox/addone/setup"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/config"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/ssh"
)

const sanityBoxName = "XRv64-test"

// SanityService 打包后的冒烟测试：vagrant 起 box，SSH 进 app-hosting 空间
// 验证账号与 DNS 预置是否生效
type SanityService struct {
	cfg *config.Config
	run Runner
}

// NewSanityService 构造
func NewSanityService(cfg *config.Config, r Runner) *SanityService {
	if r == nil {
		r = ExecRunner{}
	}
	return &SanityService{cfg: cfg, run: r}
}

// Test 对打包好的 box 做一轮端到端验证
func (s *SanityService) Test(ctx context.Context, boxPath string, caps setup.Capabilities) error {
	if !s.cfg.Sanity.Enabled {
		logger.Info("sanity test disabled by config")
		return nil
	}
	log := logger.WithField("box", boxPath)

	// 残留 Vagrantfile 会让 vagrant init 失败
	_ = os.Remove("Vagrantfile")
	defer func() {
		_, _ = s.run.Run(ctx, RunOptions{ContinueOnError: true}, "vagrant", "destroy", "--force")
		_ = os.Remove("Vagrantfile")
	}()

	log.Info("bringing up vagrant box for smoke test")
	if _, err := s.run.Run(ctx, RunOptions{}, "vagrant", "init", sanityBoxName); err != nil {
		return err
	}
	if _, err := s.run.Run(ctx, RunOptions{}, "vagrant", "box", "add", "--name", sanityBoxName, boxPath, "--force"); err != nil {
		return err
	}
	if _, err := s.run.Run(ctx, RunOptions{}, "vagrant", "up"); err != nil {
		return err
	}

	out, err := s.run.Run(ctx, RunOptions{}, "vagrant", "port", "--guest", strconv.Itoa(s.cfg.Sanity.SSHPort))
	if err != nil {
		return err
	}
	port, err := parseForwardedPort(out)
	if err != nil {
		return err
	}

	log.WithField("port", port).Info("checking app-hosting shell over ssh")
	if err := s.checkLinux(ctx, port); err != nil {
		return err
	}

	// 非 crypto 镜像没有 SSH 进 XR CLI 的通道，跳过控制台侧验证
	if caps.Crypto {
		out, err = s.run.Run(ctx, RunOptions{}, "vagrant", "port", "--guest", "22")
		if err != nil {
			return err
		}
		xrPort, err := parseForwardedPort(out)
		if err != nil {
			return err
		}
		log.WithField("port", xrPort).Info("checking XR CLI over ssh")
		if err := s.checkXR(ctx, xrPort, caps); err != nil {
			return err
		}
	}

	log.Info("sanity test passed")
	return nil
}

// parseForwardedPort 从 vagrant port 输出里取宿主机侧端口。
// 输出可能是裸数字，也可能是 "57722 (guest) => 2222 (host)" 这类表格行。
func parseForwardedPort(output string) (int, error) {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		for i := len(fields) - 1; i >= 0; i-- {
			tok := strings.Trim(fields[i], "()")
			if tok == "host" || tok == "guest" {
				continue
			}
			if p, err := strconv.Atoi(tok); err == nil && p > 0 && p < 65536 {
				return p, nil
			}
		}
	}
	return 0, fmt.Errorf("no forwarded port in vagrant output: %q", strings.TrimSpace(output))
}

type sanityCheck struct {
	cmd  string
	want string
	desc string
}

// xrChecks XR CLI 侧的验证命令，按镜像能力裁剪
func xrChecks(user string, caps setup.Capabilities) []sanityCheck {
	checks := []sanityCheck{
		{"show version | i cisco IOS XRv x64", "XRv x64", "platform identified"},
		{"show run | i username", "username " + user, "cli user configured"},
	}
	if caps.MGBL {
		checks = append(checks, sanityCheck{"show run grpc", "port 57777", "grpc configured"})
	}
	return checks
}

// checkLinux 登录 XR Linux 侧，验证用户身份与 resolv.conf 预置
func (s *SanityService) checkLinux(ctx context.Context, port int) error {
	user := s.cfg.Console.Username
	password := s.cfg.Console.Password

	client := ssh.NewClient(&ssh.Config{Timeout: 30 * time.Second})
	info := &ssh.ConnectionInfo{
		Host:     "localhost",
		Port:     port,
		Username: user,
		Password: password,
	}
	if err := client.ConnectWithRetry(ctx, info, s.cfg.Sanity.Timeout, 5*time.Second); err != nil {
		return err
	}
	defer client.Close()

	checks := []sanityCheck{
		{"whoami", user, "logged-in user"},
		{"cat /etc/resolv.conf", "nameserver 208.67.222.222", "primary nameserver provisioned"},
		{"cat /etc/resolv.conf", "nameserver 208.67.220.220", "secondary nameserver provisioned"},
		{"ping -c 4 google.com | grep '64 bytes' | wc -l", "4", "outbound connectivity"},
	}
	if err := runChecks(client, checks); err != nil {
		return err
	}

	// 打包时注入的是 insecure 公钥，首次 vagrant up 应已换成私有的
	out, err := client.Run(`grep "public" ~/.ssh/authorized_keys -c`)
	if err == nil && strings.TrimSpace(out) != "0" {
		return fmt.Errorf("insecure public key still present in authorized_keys")
	}
	return nil
}

// checkXR SSH 进 XR CLI，验证版本、账号与 grpc 配置
func (s *SanityService) checkXR(ctx context.Context, port int, caps setup.Capabilities) error {
	user := s.cfg.Console.Username
	password := s.cfg.Console.Password

	client := ssh.NewClient(&ssh.Config{Timeout: 30 * time.Second})
	info := &ssh.ConnectionInfo{
		Host:     "localhost",
		Port:     port,
		Username: user,
		Password: password,
	}
	if err := client.ConnectWithRetry(ctx, info, s.cfg.Sanity.Timeout, 5*time.Second); err != nil {
		return err
	}
	defer client.Close()

	return runChecks(client, xrChecks(user, caps))
}

func runChecks(client *ssh.Client, checks []sanityCheck) error {
	for _, c := range checks {
		out, err := client.Run(c.cmd)
		if err != nil {
			return fmt.Errorf("%s: %w", c.cmd, err)
		}
		if !strings.Contains(out, c.want) {
			return fmt.Errorf("%s: expected %q, got %s", c.desc, c.want, logger.SummarizeOutput(out, 5))
		}
		logger.WithField("check", c.desc).Debug("sanity check passed")
	}
	return nil
}
