package expect

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
)

// Credentials 节点登录凭据
type Credentials struct {
	Username string
	Password string
}

// ChannelSpec 一条控制台通道：标签与串口桥接地址
type ChannelSpec struct {
	Label string
	Addr  string
}

// Dialer 通道拨号函数，可替换用于测试
type Dialer func(addr string, timeout time.Duration) (Transport, error)

// NodeOptions 节点级可调参数
type NodeOptions struct {
	// Budget 该节点全部操作共享的墙钟预算，默认 1800 秒
	Budget      time.Duration
	DialTimeout time.Duration
	// TranscriptDir 非空时为每条通道写一份原始转录文件
	TranscriptDir string
	Session       Options
	Dialer        Dialer
}

// Node 一台受控设备：按标签持有一组控制台会话（如主控制台与 aux 口），
// 统一凭据与共享预算。节点拥有会话，关闭节点即关闭全部会话。
type Node struct {
	Name string

	creds    Credentials
	dl       *Deadline
	labels   []string
	sessions map[string]*Session
	files    []io.Closer
	log      *logrus.Entry
	closed   bool
}

// Open 为每个通道建立一条 Transport+Session 并返回节点；
// 任一通道失败时回收已建立的连接。
func Open(name string, channels []ChannelSpec, creds Credentials, opts NodeOptions) (*Node, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("node %s: no channels requested", name)
	}
	dial := opts.Dialer
	if dial == nil {
		dial = func(addr string, timeout time.Duration) (Transport, error) {
			return DialConsole(addr, timeout)
		}
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}

	n := &Node{
		Name:     name,
		creds:    creds,
		dl:       NewDeadline(opts.Budget),
		sessions: make(map[string]*Session, len(channels)),
		log:      logger.WithField("node", name),
	}

	for _, ch := range channels {
		n.log.WithFields(logrus.Fields{"channel": ch.Label, "addr": ch.Addr}).Info("opening console channel")
		tr, err := dial(ch.Addr, dialTimeout)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("node %s: dial channel %s (%s): %w", name, ch.Label, ch.Addr, err)
		}

		sessOpts := opts.Session
		if opts.TranscriptDir != "" && sessOpts.Transcript == nil {
			if f, ferr := openTranscript(opts.TranscriptDir, name, ch.Label); ferr != nil {
				n.log.WithField("channel", ch.Label).Warn("transcript disabled: ", ferr)
			} else {
				sessOpts.Transcript = f
				n.files = append(n.files, f)
			}
		}
		sessOpts.Log = logger.WithFields(logrus.Fields{"node": name, "channel": ch.Label})

		n.labels = append(n.labels, ch.Label)
		n.sessions[ch.Label] = NewSession(name, ch.Label, tr, sessOpts)
	}
	return n, nil
}

func openTranscript(dir, node, channel string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.log", node, channel))
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// Channel 按标签查找会话。只是查询关系，所有权仍在节点。
func (n *Node) Channel(label string) (*Session, error) {
	s, ok := n.sessions[label]
	if !ok {
		return nil, fmt.Errorf("node %s: unknown channel %q", n.Name, label)
	}
	return s, nil
}

// Channels 通道标签（按打开顺序）
func (n *Node) Channels() []string {
	return append([]string(nil), n.labels...)
}

// Credentials 节点凭据
func (n *Node) Credentials() Credentials {
	return n.creds
}

// Deadline 节点共享预算
func (n *Node) Deadline() *Deadline {
	return n.dl
}

// Login 在指定通道上驱动登录状态机，成功后返回已认证会话
func (n *Node) Login(label string, rules []PromptRule, opts LoginOptions) (*Session, error) {
	s, err := n.Channel(label)
	if err != nil {
		return nil, err
	}
	if err := NewLoginMachine(rules, opts).Run(s, n.dl); err != nil {
		return nil, err
	}
	return s, nil
}

// Close 关闭节点的全部会话与转录文件。重复关闭、以及个别会话先被
// 单独关闭过的情况都容忍（幂等）。
func (n *Node) Close() error {
	if n.closed {
		return nil
	}
	n.closed = true
	var first error
	for _, label := range n.labels {
		n.log.WithField("channel", label).Info("closing console channel")
		if err := n.sessions[label].Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, f := range n.files {
		f.Close()
	}
	return first
}

// Registry 多节点拓扑的命名注册表。脚本化配置单元只通过它访问节点，
// 任何配置序列都不直接触碰 Transport。
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
}

// NewRegistry 构造空注册表
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Add 登记一个节点（同名覆盖）
func (r *Registry) Add(n *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[n.Name]; !ok {
		r.order = append(r.order, n.Name)
	}
	r.nodes[n.Name] = n
}

// Node 按名称取节点
func (r *Registry) Node(name string) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[name]
	if !ok {
		return nil, fmt.Errorf("registry: unknown node %q", name)
	}
	return n, nil
}

// CloseAll 关闭全部节点（幂等），返回第一个遇到的错误
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, name := range r.order {
		if err := r.nodes[name].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
