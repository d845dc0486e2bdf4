package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/ios-xr/iosxrv-x64-vbox/addone/setup"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/config"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/database"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/model"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/expect"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
)

const ideController = "IDE_Controller"

// BuildRequest 一次 ISO 到 box 的构建请求
type BuildRequest struct {
	ISOPath   string `json:"iso_path" binding:"required"`
	Platform  string `json:"platform"`
	CreateOVA bool   `json:"create_ova"`
	SkipTest  bool   `json:"skip_test"`
	// DebugPause 配置完成后暂停，VM 保持运行供控制台排查
	DebugPause bool `json:"debug_pause"`
	// ConsolePort / AuxPort 为 0 用配置值；并行构建时由调度方错开
	ConsolePort int `json:"console_port"`
	AuxPort     int `json:"aux_port"`
}

// BuildResult 构建产物
type BuildResult struct {
	TaskID  string             `json:"task_id"`
	VMName  string             `json:"vm_name"`
	BoxPath string             `json:"box_path"`
	OVAPath string             `json:"ova_path,omitempty"`
	Caps    setup.Capabilities `json:"capabilities"`
}

// BuilderService ISO 到 Vagrant box 的构建服务
type BuilderService struct {
	cfg    *config.Config
	vbox   *VBox
	run    Runner
	sanity *SanityService
	// dial 注入点，测试替换控制台拨号
	dial expect.Dialer
	// pause 注入点，测试替换交互式暂停
	pause func(consolePort int)
}

// NewBuilderService 构造
func NewBuilderService(cfg *config.Config, r Runner) *BuilderService {
	if r == nil {
		r = ExecRunner{}
	}
	return &BuilderService{
		cfg:    cfg,
		vbox:   NewVBox(r),
		run:    r,
		sanity: NewSanityService(cfg, r),
		pause:  debugPause,
	}
}

// debugPause 配置完成后停住，打印串口接入提示，等操作者确认再关机打包
func debugPause(consolePort int) {
	fmt.Println("Pause before packaging, the VM is still running")
	fmt.Printf("Use: 'socat TCP:localhost:%d -,raw,echo=0,escape=0x1d' to access the VM\n", consolePort)
	fmt.Print("Press Enter to continue.")
	_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
}

// maybePause DebugPause 置位时在关机前暂停
func (b *BuilderService) maybePause(req *BuildRequest, task *model.BuildTask) {
	if !req.DebugPause {
		return
	}
	b.step(task, "debug-pause", "VM left running for console inspection")
	b.pause(req.ConsolePort)
}

// classifyISO 按文件名判定镜像规格；两者都不是则拒绝构建
func classifyISO(isoPath string) (string, error) {
	name := filepath.Base(isoPath)
	switch {
	case strings.Contains(name, "mini"):
		return "mini", nil
	case strings.Contains(name, "full"):
		return "full", nil
	default:
		return "", fmt.Errorf("%s is neither a mini nor a full image", name)
	}
}

func (b *BuilderService) ramFor(kind string) int {
	if kind == "mini" {
		return b.cfg.Build.RAMMiniMB
	}
	return b.cfg.Build.RAMFullMB
}

// vmNameFromISO 虚拟机名取 ISO 去扩展名的基名
func vmNameFromISO(isoPath string) string {
	base := filepath.Base(isoPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Build 执行完整构建流水线
func (b *BuilderService) Build(ctx context.Context, req *BuildRequest) (*BuildResult, error) {
	task, kind, err := b.prepare(req)
	if err != nil {
		return nil, err
	}
	return b.execute(ctx, req, task, kind)
}

// Submit 异步提交构建任务，立即返回任务ID，进度通过任务状态接口查询
func (b *BuilderService) Submit(req *BuildRequest) (string, error) {
	task, kind, err := b.prepare(req)
	if err != nil {
		return "", err
	}
	go func() {
		if _, err := b.execute(context.Background(), req, task, kind); err != nil {
			logger.Error("build failed", "task_id", task.ID, "error", err)
		}
	}()
	return task.ID, nil
}

// prepare 校验请求、补默认值并登记任务
func (b *BuilderService) prepare(req *BuildRequest) (*model.BuildTask, string, error) {
	if req.Platform == "" {
		req.Platform = "iosxr"
	}
	if req.ConsolePort == 0 {
		req.ConsolePort = b.cfg.Console.Port
	}
	if req.AuxPort == 0 {
		req.AuxPort = b.cfg.Console.AuxPort
	}

	kind, err := classifyISO(req.ISOPath)
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(req.ISOPath); err != nil {
		return nil, "", fmt.Errorf("ISO not accessible: %w", err)
	}

	return b.createTask(req, kind), kind, nil
}

func (b *BuilderService) execute(ctx context.Context, req *BuildRequest, task *model.BuildTask, kind string) (*BuildResult, error) {
	result, err := b.build(ctx, req, task, kind)
	if err != nil {
		b.finishTask(task, model.BuildStatusFailed, err.Error())
		return nil, err
	}
	task.BoxPath = result.BoxPath
	task.OVAPath = result.OVAPath
	if caps, jerr := json.Marshal(result.Caps); jerr == nil {
		task.Capabilities = string(caps)
	}
	b.finishTask(task, model.BuildStatusSuccess, "")
	result.TaskID = task.ID
	return result, nil
}

func (b *BuilderService) build(ctx context.Context, req *BuildRequest, task *model.BuildTask, kind string) (*BuildResult, error) {
	vmName := vmNameFromISO(req.ISOPath)
	ram := b.ramFor(kind)
	log := logger.WithField("vm", vmName)

	baseDir, err := filepath.Abs(b.cfg.Build.BaseDir)
	if err != nil {
		return nil, err
	}
	boxDir := filepath.Join(baseDir, vmName)
	vboxPath := filepath.Join(boxDir, vmName+".vbox")
	vdiPath := filepath.Join(boxDir, vmName+".vdi")
	boxOut := filepath.Join(boxDir, vmName+".box")
	ovaOut := filepath.Join(boxDir, vmName+".ova")

	if err := os.MkdirAll(boxDir, 0o755); err != nil {
		return nil, err
	}

	b.step(task, "prepare", "cleaning previous artifacts")
	if err := os.Remove(boxOut); err == nil {
		log.Debug("deleted previous box")
	}
	if req.CreateOVA {
		if err := os.Remove(ovaOut); err == nil {
			log.Debug("deleted previous ova")
		}
	}
	if version, err := b.vbox.Version(ctx); err != nil {
		return nil, fmt.Errorf("VirtualBox not available: %w", err)
	} else {
		log.WithField("vboxmanage", version).Debug("virtualbox detected")
	}
	if err := b.vbox.Cleanup(ctx, vmName, vboxPath); err != nil {
		return nil, err
	}
	// vagrant 老端口的宿主机 known_hosts 残留
	_, _ = b.run.Run(ctx, RunOptions{HideError: true}, "ssh-keygen", "-R", "[localhost]:2222")
	_, _ = b.run.Run(ctx, RunOptions{HideError: true}, "ssh-keygen", "-R", "[localhost]:2223")

	b.step(task, "create-vm", fmt.Sprintf("ram=%dMB kind=%s", ram, kind))
	if err := b.createVM(ctx, vmName, baseDir, vboxPath, vdiPath, req, ram); err != nil {
		return nil, err
	}

	b.step(task, "boot", "starting headless VM")
	if err := b.vbox.StartHeadless(ctx, vmName); err != nil {
		return nil, err
	}
	if err := b.waitRunning(ctx, vmName, true); err != nil {
		return nil, err
	}

	b.step(task, "configure", "driving console configuration")
	caps, err := b.configure(ctx, vmName, req)
	if err != nil {
		return nil, err
	}

	b.maybePause(req, task)

	b.step(task, "power-off", "waiting for machine to shut down")
	if err := b.vbox.PowerOff(ctx, vmName); err != nil {
		return nil, err
	}
	if err := b.waitRunning(ctx, vmName, false); err != nil {
		return nil, err
	}

	b.step(task, "package", "compacting disk and packaging box")
	// 导出前摘掉串口，否则 vagrant up 会因端口占用失败
	if err := b.vbox.ModifyVM(ctx, vmName, "--uart1", "off"); err != nil {
		return nil, err
	}
	if err := b.vbox.ModifyVM(ctx, vmName, "--uart2", "off"); err != nil {
		return nil, err
	}
	if err := b.vbox.CompactMedium(ctx, vdiPath); err != nil {
		return nil, err
	}

	vagrantfile, err := filepath.Abs(b.cfg.Build.VagrantfilePath)
	if err != nil {
		return nil, err
	}
	if _, err := b.run.Run(ctx, RunOptions{}, "vagrant", "package",
		"--base", vmName, "--vagrantfile", vagrantfile, "--output", boxOut); err != nil {
		return nil, err
	}
	log.WithField("box", boxOut).Info("created vagrant box")

	result := &BuildResult{VMName: vmName, BoxPath: boxOut, Caps: caps}
	if req.CreateOVA {
		b.step(task, "export-ova", ovaOut)
		if err := b.vbox.Export(ctx, vmName, ovaOut); err != nil {
			return nil, err
		}
		result.OVAPath = ovaOut
	}

	// 构建用的中间 VM 不再需要
	if err := b.vbox.Cleanup(ctx, vmName, vboxPath); err != nil {
		return nil, err
	}

	if !req.SkipTest {
		b.step(task, "sanity", "running smoke test on packaged box")
		if err := b.sanity.Test(ctx, boxOut, result.Caps); err != nil {
			return nil, fmt.Errorf("sanity test failed: %w", err)
		}
	}
	return result, nil
}

// createVM 建 VM 并按规格配齐：内存、CPU、virtio NAT 网卡、
// tcpserver 串口、IDE 上的系统盘与安装 DVD、引导顺序
func (b *BuilderService) createVM(ctx context.Context, vmName, baseDir, vboxPath, vdiPath string, req *BuildRequest, ram int) error {
	if err := b.vbox.CreateVM(ctx, vmName, b.cfg.Build.OSType, baseDir); err != nil {
		return err
	}
	if err := b.vbox.RegisterVM(ctx, vboxPath); err != nil {
		return err
	}

	if err := b.vbox.ModifyVM(ctx, vmName, "--vram", strconv.Itoa(b.cfg.Build.VRAMMB)); err != nil {
		return err
	}
	if err := b.vbox.ModifyVM(ctx, vmName, "--memory", strconv.Itoa(ram), "--acpi", "on"); err != nil {
		return err
	}
	if err := b.vbox.ModifyVM(ctx, vmName, "--cpus", strconv.Itoa(b.cfg.Build.CPUs)); err != nil {
		return err
	}

	for i := 1; i <= b.cfg.Build.NICs; i++ {
		n := strconv.Itoa(i)
		if err := b.vbox.ModifyVM(ctx, vmName, "--nic"+n, "nat", "--nictype"+n, "virtio"); err != nil {
			return err
		}
	}

	// COM1/COM2 的传统 IO 地址与中断号
	if err := b.vbox.ModifyVM(ctx, vmName, "--uart1", "0x3f8", "4",
		"--uartmode1", "tcpserver", strconv.Itoa(req.ConsolePort)); err != nil {
		return err
	}
	if err := b.vbox.ModifyVM(ctx, vmName, "--uart2", "0x2f8", "3",
		"--uartmode2", "tcpserver", strconv.Itoa(req.AuxPort)); err != nil {
		return err
	}

	if err := b.vbox.CreateHD(ctx, vdiPath, b.cfg.Build.DiskSizeMB); err != nil {
		return err
	}
	if err := b.vbox.AddIDEController(ctx, vmName, ideController); err != nil {
		return err
	}
	if err := b.vbox.AttachStorage(ctx, vmName, ideController, 0, "hdd", vdiPath); err != nil {
		return err
	}
	if err := b.vbox.AttachStorage(ctx, vmName, ideController, 1, "dvddrive", req.ISOPath); err != nil {
		return err
	}

	if err := b.vbox.ModifyVM(ctx, vmName, "--boot1", "disk"); err != nil {
		return err
	}
	return b.vbox.ModifyVM(ctx, vmName, "--boot2", "dvd")
}

// waitRunning 轮询虚拟机运行状态直到达到期望值
func (b *BuilderService) waitRunning(ctx context.Context, vmName string, want bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		running, err := b.vbox.IsRunning(ctx, vmName)
		if err != nil {
			return err
		}
		if running == want {
			return nil
		}
		time.Sleep(5 * time.Second)
	}
}

// configure 通过控制台引擎驱动平台插件完成系统配置
func (b *BuilderService) configure(ctx context.Context, vmName string, req *BuildRequest) (setup.Capabilities, error) {
	plugin := setup.Get(req.Platform)
	creds := expect.Credentials{
		Username: b.cfg.Console.Username,
		Password: b.cfg.Console.Password,
	}

	node, err := expect.Open(vmName,
		[]expect.ChannelSpec{
			{Label: "console", Addr: fmt.Sprintf("%s:%d", b.cfg.Console.Host, req.ConsolePort)},
			{Label: "aux", Addr: fmt.Sprintf("%s:%d", b.cfg.Console.Host, req.AuxPort)},
		},
		creds,
		expect.NodeOptions{
			Budget:        b.cfg.Console.Budget,
			TranscriptDir: b.cfg.Console.TranscriptDir,
			Dialer:        b.dial,
			Session: expect.Options{
				ReadSlice:     b.cfg.Console.ReadSlice,
				NudgeInterval: b.cfg.Console.NudgeInterval,
				RetrySpacing:  b.cfg.Console.RetrySpacing,
			},
		})
	if err != nil {
		return setup.Capabilities{}, err
	}
	reg := expect.NewRegistry()
	reg.Add(node)
	defer reg.CloseAll()

	session, err := node.Login("console", plugin.LoginRules(creds), expect.LoginOptions{
		RepromptWindow: b.cfg.Console.RepromptWindow,
		NudgeInterval:  b.cfg.Console.LoginNudgeInterval,
		ReadSlice:      b.cfg.Console.ReadSlice,
	})
	if err != nil {
		return setup.Capabilities{}, fmt.Errorf("console login: %w", err)
	}

	sctx := &setup.Context{
		Registry: reg,
		Node:     node,
		Session:  session,
		Gateway:  b.cfg.Console.Gateway,
		HostIP:   b.cfg.Console.HostIP,
	}
	defer func() {
		if err := plugin.Clean(sctx); err != nil {
			logger.WithField("plugin", plugin.Name()).Warn("cleanup hook failed: ", err)
		}
	}()

	if err := plugin.Pre(sctx); err != nil {
		return sctx.Caps, fmt.Errorf("setup pre: %w", err)
	}
	if err := plugin.Run(sctx); err != nil {
		return sctx.Caps, fmt.Errorf("setup run: %w", err)
	}
	if err := plugin.Post(sctx); err != nil {
		return sctx.Caps, fmt.Errorf("setup post: %w", err)
	}
	return sctx.Caps, nil
}

// BuildAll 并行构建多个 ISO，按序错开控制台端口
func (b *BuilderService) BuildAll(ctx context.Context, reqs []*BuildRequest, concurrency int) ([]*BuildResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]*BuildResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		i, req := i, req
		if req.ConsolePort == 0 {
			req.ConsolePort = b.cfg.Console.Port + 2*i
			req.AuxPort = req.ConsolePort + 1
		}
		g.Go(func() error {
			res, err := b.Build(gctx, req)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(req.ISOPath), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// createTask 建任务行；数据库未初始化时（纯 CLI 场景）退化为内存对象
func (b *BuilderService) createTask(req *BuildRequest, kind string) *model.BuildTask {
	task := &model.BuildTask{
		ID:        fmt.Sprintf("build-%d", time.Now().UnixNano()),
		Platform:  req.Platform,
		ISOPath:   req.ISOPath,
		ISOKind:   kind,
		Status:    model.BuildStatusQueued,
		CreateOVA: req.CreateOVA,
		SkipTest:  req.SkipTest,
	}
	now := time.Now()
	task.Status = model.BuildStatusRunning
	task.StartedAt = &now
	if database.GetDB() != nil {
		if err := database.WithRetry(func(db *gorm.DB) error {
			return db.Create(task).Error
		}, 3, 0); err != nil {
			logger.Warn("failed to persist build task: ", err)
		}
	}
	return task
}

func (b *BuilderService) finishTask(task *model.BuildTask, status, errMsg string) {
	now := time.Now()
	task.Status = status
	task.Error = errMsg
	task.FinishedAt = &now
	if database.GetDB() != nil {
		if err := database.WithRetry(func(db *gorm.DB) error {
			return db.Save(task).Error
		}, 3, 0); err != nil {
			logger.Warn("failed to update build task: ", err)
		}
	}
}

// step 记一条构建步骤日志（落库并打日志）
func (b *BuilderService) step(task *model.BuildTask, step, msg string) {
	logger.WithField("task", task.ID).WithField("step", step).Info(msg)
	if database.GetDB() == nil {
		return
	}
	row := &model.BuildLog{TaskID: task.ID, Step: step, Level: "info", Message: msg}
	if err := database.WithRetry(func(db *gorm.DB) error {
		return db.Create(row).Error
	}, 3, 0); err != nil {
		logger.Warn("failed to persist build log: ", err)
	}
}
