package iosxr

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ios-xr/iosxrv-x64-vbox/addone/setup"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/expect"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
)

// IOS XR 各态提示符。shell 态用宽匹配，配置态按模式区分，
// 这样误落到别的态时等待会尽快失败而不是吞掉错误输出。
var (
	promptShell  = regexp.MustCompile(`[$#]`)
	promptConf   = regexp.MustCompile(`config`)
	promptConfIf = regexp.MustCompile(`config-if`)
	promptGRPC   = regexp.MustCompile(`config-grpc`)
	promptExec   = regexp.MustCompile(`RP/0/RP0/CPU0:ios`)
)

// Plugin 为 IOS XRv (64-bit) 平台配置插件
type Plugin struct{}

func (p *Plugin) Name() string { return "iosxr" }

func (p *Plugin) Defaults() setup.SetupDefaults {
	return setup.SetupDefaults{
		StepTimeout:  10 * time.Second,
		ProbeTimeout: 5 * time.Second,
		SettleDelay:  30 * time.Second,
	}
}

func (p *Plugin) LoginRules(creds expect.Credentials) []expect.PromptRule {
	return expect.XRLoginRules(creds.Username, creds.Password)
}

// cli 下发一条命令并等待指定提示符，返回期间的全部输出
func (p *Plugin) cli(ctx *setup.Context, cmd string, prompt *regexp.Regexp) (string, error) {
	if err := ctx.Session.Send(cmd); err != nil {
		return "", err
	}
	out, err := ctx.Session.WaitFor(prompt, ctx.Deadline().Sub(p.Defaults().StepTimeout))
	if err != nil {
		return "", fmt.Errorf("command %q: %w", cmd, err)
	}
	logger.DebugCommandOutput(cmd, out, 5)
	return out, nil
}

// Pre 终端参数、ZTP 禁用与镜像能力探测
func (p *Plugin) Pre(ctx *setup.Context) error {
	log := logger.WithField("plugin", p.Name())

	for _, cmd := range []string{"term width 300", "term length 0"} {
		if _, err := p.cli(ctx, cmd, promptShell); err != nil {
			return err
		}
	}

	// ZTP 会在首次启动时抢管理口，做 box 期间直接掐掉
	for _, cmd := range []string{
		"run mkdir -p /disk0:/ztp/state",
		"run touch /disk0:/ztp/state/state_is_complete",
		"ztp terminate noprompt",
	} {
		if _, err := p.cli(ctx, cmd, promptShell); err != nil {
			return err
		}
	}

	// 探测镜像里装了哪些包，决定 ssh 与 gRPC 的配置分支
	out, err := p.cli(ctx, "bash -c rpm -qa | grep k9sec", promptShell)
	if err != nil {
		return err
	}
	ctx.Caps.Crypto = hasPackage(out, "-k9sec")

	out, err = p.cli(ctx, "bash -c rpm -qa | grep mgbl", promptShell)
	if err != nil {
		return err
	}
	ctx.Caps.MGBL = hasPackage(out, "-mgbl")
	log.WithField("crypto", ctx.Caps.Crypto).WithField("mgbl", ctx.Caps.MGBL).Info("image capabilities probed")

	// 等管理口在运行配置里出现，才能开始配 DHCP
	_, err = ctx.Session.RepeatUntil("sh run interface",
		regexp.MustCompile(`interface MgmtEth`), p.Defaults().ProbeTimeout, ctx.Deadline())
	if err != nil {
		return fmt.Errorf("management interface never appeared: %w", err)
	}
	return nil
}

// Run 主配置序列：管理口 DHCP、TPA、默认路由，按能力配 ssh/gRPC，提交
func (p *Plugin) Run(ctx *setup.Context) error {
	if _, err := p.cli(ctx, "conf t", regexp.MustCompile(`ios.config.*#`)); err != nil {
		return err
	}

	if _, err := p.cli(ctx, "telnet vrf default ipv4 server max-servers 10", promptConf); err != nil {
		return err
	}

	// 接口子模式的三条连发，只在最后一条等 config-if
	if err := ctx.Session.Send("interface " + mgmtInterface); err != nil {
		return err
	}
	if err := ctx.Session.Send(" ipv4 address dhcp"); err != nil {
		return err
	}
	if _, err := p.cli(ctx, " no shutdown", promptConfIf); err != nil {
		return err
	}

	if _, err := p.cli(ctx, "tpa address-family ipv4 update-source "+mgmtInterface, promptConf); err != nil {
		return err
	}
	route := fmt.Sprintf("router static address-family ipv4 unicast 0.0.0.0/0 %s %s", mgmtInterface, ctx.Gateway)
	if _, err := p.cli(ctx, route, promptConf); err != nil {
		return err
	}

	if ctx.Caps.Crypto {
		for _, cmd := range []string{"ssh server v2", "ssh server vrf default"} {
			if _, err := p.cli(ctx, cmd, promptConf); err != nil {
				return err
			}
		}
	}
	if ctx.Caps.MGBL {
		if err := ctx.Session.Send("grpc"); err != nil {
			return err
		}
		if _, err := p.cli(ctx, " port 57777", promptGRPC); err != nil {
			return err
		}
	}

	if _, err := p.cli(ctx, "commit", promptConf); err != nil {
		return err
	}
	if _, err := p.cli(ctx, "end", promptShell); err != nil {
		return err
	}

	// 等 DHCP 把地址租给管理口
	out, err := ctx.Session.RepeatUntil("sh ipv4 int brief",
		regexp.MustCompile(regexp.QuoteMeta(ctx.HostIP)), p.Defaults().ProbeTimeout, ctx.Deadline())
	if err != nil {
		return fmt.Errorf("management address never leased: %w", err)
	}
	ctx.Caps.MgmtIP = parseMgmtIP(out)
	return nil
}

// Post 装 vagrant 凭据、DNS 与 app-hosting 侧 sshd，等服务就绪
func (p *Plugin) Post(ctx *setup.Context) error {
	steps := []string{
		// jenkins 场景可能用 root 密码直连
		"bash -c sed -i 's/PermitRootLogin no/PermitRootLogin yes/' /etc/ssh/sshd_config_operns",
		// vagrant 免密 sudo
		"bash -c echo '####Added by box build to give vagrant passwordless access' | (EDITOR='tee -a' visudo)",
		"bash -c echo 'vagrant ALL=(ALL) NOPASSWD: ALL' | (EDITOR='tee -a' visudo)",
		// vagrant 不安全公钥，vagrant ssh 免密
		"bash -c [ -d ~vagrant/.ssh ] || mkdir ~vagrant/.ssh",
		"bash -c chmod 0700 ~vagrant/.ssh",
		"bash -c echo '" + setup.VagrantInsecurePublicKey + "' > ~vagrant/.ssh/authorized_keys",
		"bash -c chmod 0600 ~vagrant/.ssh/authorized_keys",
		"bash -c chown -R vagrant:vagrant ~vagrant/.ssh/",
		// OpenDNS 兜底解析；resolv.conf 的 netns 同步要在 xrnns 里做
		"run echo '# Cisco OpenDNS IPv4 nameservers' >> /etc/resolv.conf",
		"run echo 'nameserver 208.67.222.222' >> /etc/resolv.conf",
		"run echo 'nameserver 208.67.220.220' >> /etc/resolv.conf",
		"bash -c service sshd_operns start",
	}
	for _, cmd := range steps {
		if _, err := p.cli(ctx, cmd, promptShell); err != nil {
			return err
		}
	}

	_, err := ctx.Session.RepeatUntil("bash -c service sshd_operns status",
		regexp.MustCompile(`is running`), p.Defaults().ProbeTimeout, ctx.Deadline())
	if err != nil {
		return fmt.Errorf("sshd_operns never came up: %w", err)
	}

	if _, err := p.cli(ctx, "bash -c chkconfig --add sshd_operns", promptExec); err != nil {
		return err
	}

	if ctx.Caps.Crypto {
		if err := ctx.Session.Send("crypto key generate rsa"); err != nil {
			return err
		}
		if _, err := ctx.Session.WaitFor(regexp.MustCompile(`How many bits in the modulus`),
			ctx.Deadline().Sub(p.Defaults().StepTimeout)); err != nil {
			return fmt.Errorf("crypto key generation: %w", err)
		}
		if _, err := p.cli(ctx, "2048", promptShell); err != nil {
			return err
		}
	}

	// 最后确认管理口地址还在
	_, err = ctx.Session.RepeatUntil("show ipv4 interface "+mgmtInterface,
		regexp.MustCompile(regexp.QuoteMeta(ctx.HostIP)), p.Defaults().ProbeTimeout, ctx.Deadline())
	if err != nil {
		return fmt.Errorf("management address lost after configuration: %w", err)
	}

	logger.WithField("plugin", p.Name()).Info("configuration settled, waiting before shutdown")
	time.Sleep(p.Defaults().SettleDelay)
	return nil
}

// Clean 退出控制台登录；失败也无所谓，VM 马上就要关
func (p *Plugin) Clean(ctx *setup.Context) error {
	ctx.Session.FlushBuffer()
	if err := ctx.Session.Send("exit"); err != nil && !expect.IsTransportClosed(err) {
		return err
	}
	return nil
}

func init() { setup.Register("iosxr", &Plugin{}) }
