package setup

import (
	"regexp"
	"time"

	"github.com/ios-xr/iosxrv-x64-vbox/pkg/expect"
)

// VagrantInsecurePublicKey vagrant 官方公开的不安全公钥，装进 box 里
// 供 vagrant ssh 免密登录；vagrant up 第一次连接后会自动换掉它
const VagrantInsecurePublicKey = "ssh-rsa AAAAB3NzaC1yc2EAAAABIwAAAQEA6NF8iallvQVp22WDkTkyrtvp9eWW6A8YVr+kz4TjGYe7gHzIw+niNltGEFHzD8+v1I2YJ6oXevct1YeS0o9HZyN1Q9qgCgzUFtdOKLv6IedplqoPkcmF0aYet2PkEDo3MlTBckFXPITAMzF8dJSIFo9D8HfdOV0IAdx4O7PtixWKn5y2hMNG0zQPyUecp4pzC6kivAIhyfHilFR61RGL+GPXQ2MWZWFYbAGjyiYJnAmCP3NOTd0jMZEnDkbUvxhMmBYSdETk1rRgm+R4LOzFUGaHqHDLKLX+FIPKcF96hrucXzcWyLbIbEgE98OHlnVYCzRdK8jlqm8tehUc9c9WhQ== vagrant insecure public key"

// SetupDefaults 定义配置单元的默认运行参数
type SetupDefaults struct {
	StepTimeout  time.Duration // 单条命令等提示符的窗口
	ProbeTimeout time.Duration // 轮询探测的单次窗口
	SettleDelay  time.Duration // 全部配置落盘后的静置时间
}

// Capabilities 镜像能力探测结果，决定后续配置走哪些分支
type Capabilities struct {
	Crypto bool   // k9sec 安全包，有才配 ssh server
	MGBL   bool   // 管理面包，有才配 gRPC
	MgmtIP string // 管理口租到的地址
}

// Context 一次配置运行的载体：已认证的控制台会话、节点预算与网络参数。
// Caps 由 Pre 阶段填充，Run/Post 按它分支。
type Context struct {
	// Registry 本次构建涉及的全部节点，多机拓扑时插件按名查找
	Registry *expect.Registry
	Node     *expect.Node
	Session  *expect.Session
	Gateway  string // NAT 网关地址
	HostIP   string // NAT 内将租到的管理口地址
	Caps     Capabilities
}

// Deadline 节点共享预算
func (c *Context) Deadline() *expect.Deadline {
	return c.Node.Deadline()
}

// SetupPlugin 配置插件接口：四个钩子对应一次 box 配置的生命周期
type SetupPlugin interface {
	// Name 插件名称（如：default、iosxr、iosxe）
	Name() string
	// Defaults 返回插件的默认运行参数
	Defaults() SetupDefaults
	// LoginRules 返回该平台登录状态机的提示规则
	LoginRules(creds expect.Credentials) []expect.PromptRule
	// Pre 登录后的准备：终端参数、能力探测
	Pre(ctx *Context) error
	// Run 主配置序列
	Run(ctx *Context) error
	// Post 配置后的收尾：等服务就绪、装凭据
	Post(ctx *Context) error
	// Clean 无论成败都执行的清理
	Clean(ctx *Context) error
}

// DefaultPlugin 系统默认配置插件：只认出一个通用提示符，不做任何配置
type DefaultPlugin struct{}

func (p *DefaultPlugin) Name() string { return "default" }

func (p *DefaultPlugin) Defaults() SetupDefaults {
	return SetupDefaults{
		StepTimeout:  10 * time.Second,
		ProbeTimeout: 5 * time.Second,
		SettleDelay:  30 * time.Second,
	}
}

func (p *DefaultPlugin) LoginRules(creds expect.Credentials) []expect.PromptRule {
	return []expect.PromptRule{
		{Name: "banner", Pattern: regexp.MustCompile(`Press RETURN to get started`), Response: ""},
		{Name: "username", Pattern: regexp.MustCompile(`[Uu]sername:`), Response: creds.Username, RepromptGuard: true},
		{Name: "password", Pattern: regexp.MustCompile(`[Pp]assword:`), Response: creds.Password},
		{Name: "prompt", Pattern: regexp.MustCompile(`[$#>]\s*$`), Terminal: true},
	}
}

func (p *DefaultPlugin) Pre(ctx *Context) error   { return nil }
func (p *DefaultPlugin) Run(ctx *Context) error   { return nil }
func (p *DefaultPlugin) Post(ctx *Context) error  { return nil }
func (p *DefaultPlugin) Clean(ctx *Context) error { return nil }
