package iosxe

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ios-xr/iosxrv-x64-vbox/addone/setup"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/expect"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
)

// XE 的用户态/特权态/配置态提示符形如 csr1kv>、csr1kv#、csr1kv(config-line)#
var promptXE = regexp.MustCompile(`[\w-]+(\([\w-]+\))?[#>]`)

// bootMarker XE 启动完成的标志日志，出现后控制台才可用
var bootMarker = regexp.MustCompile(`CRYPTO-6-GDOI_ON_OFF: GDOI is OFF`)

// Plugin 为 IOS XE (CSR1kv) 平台配置插件
type Plugin struct{}

func (p *Plugin) Name() string { return "iosxe" }

func (p *Plugin) Defaults() setup.SetupDefaults {
	return setup.SetupDefaults{
		StepTimeout:  10 * time.Second,
		ProbeTimeout: 5 * time.Second,
		SettleDelay:  10 * time.Second,
	}
}

// LoginRules XE 镜像没有首启建账流程，敲回车拿到提示符即算登录
func (p *Plugin) LoginRules(creds expect.Credentials) []expect.PromptRule {
	return []expect.PromptRule{
		{Name: "banner", Pattern: regexp.MustCompile(`Press RETURN to get started`), Response: ""},
		{Name: "prompt", Pattern: promptXE, Terminal: true},
	}
}

func (p *Plugin) send(ctx *setup.Context, cmd string) error {
	if err := ctx.Session.Send(cmd); err != nil {
		return err
	}
	if _, err := ctx.Session.WaitFor(promptXE, ctx.Deadline().Sub(p.Defaults().StepTimeout)); err != nil {
		return fmt.Errorf("command %q: %w", cmd, err)
	}
	return nil
}

// Pre 等启动标志出现，再敲出提示符并放宽终端
func (p *Plugin) Pre(ctx *setup.Context) error {
	logger.WithField("plugin", p.Name()).Info("waiting for IOS XE boot marker")
	if _, err := ctx.Session.WaitFor(bootMarker, ctx.Deadline()); err != nil {
		return fmt.Errorf("boot marker never seen: %w", err)
	}

	if err := p.send(ctx, ""); err != nil {
		return err
	}
	time.Sleep(5 * time.Second)
	if err := p.send(ctx, ""); err != nil {
		return err
	}
	return p.send(ctx, "term width 300")
}

// Run 主配置序列：netconf-yang ODM、主机名、vagrant 账号、vty、
// 公钥链与 restconf，最后存盘
func (p *Plugin) Run(ctx *setup.Context) error {
	if err := p.send(ctx, "enable"); err != nil {
		return err
	}
	if err := p.send(ctx, "conf t"); err != nil {
		return err
	}

	if err := p.send(ctx, "no logging console"); err != nil {
		return err
	}
	time.Sleep(5 * time.Second)
	if err := p.send(ctx, "no service config"); err != nil {
		return err
	}

	for _, action := range odmActions {
		if err := p.send(ctx, "netconf-yang cisco-odm actions "+action); err != nil {
			return err
		}
	}
	if err := p.send(ctx, "netconf-yang cisco-odm polling-enable"); err != nil {
		return err
	}
	if err := p.send(ctx, "netconf-yang"); err != nil {
		return err
	}

	creds := ctx.Node.Credentials()
	steps := []string{
		"hostname csr1kv",
		"ip domain-name dna.lab",
		"",
		fmt.Sprintf("username %s priv 15 password %s", creds.Username, creds.Password),
		"enable password cisco",
		"enable secret cisco",
		"line vty 0 4",
		"login local",
		"ip ssh pubkey-chain",
		"username " + creds.Username,
		"key-string",
	}
	for _, cmd := range steps {
		if err := p.send(ctx, cmd); err != nil {
			return err
		}
	}
	// key-string 子模式按 72 列分段喂入公钥体
	for _, chunk := range splitKeyString(setup.VagrantInsecurePublicKey, 72) {
		if err := p.send(ctx, chunk); err != nil {
			return err
		}
	}
	if err := p.send(ctx, "exit"); err != nil {
		return err
	}

	// 管理口走 NAT DHCP，和 XR 侧的 MgmtEth 对齐
	for _, cmd := range []string{"interface GigabitEthernet1", "ip address dhcp", "no shutdown", "exit"} {
		if err := p.send(ctx, cmd); err != nil {
			return err
		}
	}

	for _, cmd := range []string{"ip http server", "ip http secure-server", "restconf", "end", "copy run start", ""} {
		if err := p.send(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// Post 存盘后静置，让 nvram 写完
func (p *Plugin) Post(ctx *setup.Context) error {
	logger.WithField("plugin", p.Name()).Info("configuration saved, settling")
	time.Sleep(p.Defaults().SettleDelay)
	return nil
}

func (p *Plugin) Clean(ctx *setup.Context) error {
	ctx.Session.FlushBuffer()
	return nil
}

func init() { setup.Register("iosxe", &Plugin{}) }
