package service

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
)

// RunOptions 外部命令执行选项
type RunOptions struct {
	// HideError 预期可能失败的命令（如清理类），失败不记 error 日志
	HideError bool
	// ContinueOnError 失败只告警不中断流程
	ContinueOnError bool
}

// Runner 外部命令执行器，可替换用于测试
type Runner interface {
	Run(ctx context.Context, opts RunOptions, name string, args ...string) (string, error)
	// Start 启动常驻进程（VBoxHeadless），不等待退出
	Start(ctx context.Context, name string, args ...string) error
}

// ExecRunner 基于 os/exec 的默认执行器
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, opts RunOptions, name string, args ...string) (string, error) {
	display := name + " " + strings.Join(args, " ")
	logger.WithField("cmd", display).Debug("exec")

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if !opts.HideError {
			logger.WithField("cmd", display).Error("command failed: ", strings.TrimSpace(stderr.String()))
		}
		if opts.ContinueOnError || opts.HideError {
			return stdout.String(), nil
		}
		return stdout.String(), fmt.Errorf("%s: %w: %s", display, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (ExecRunner) Start(ctx context.Context, name string, args ...string) error {
	logger.WithField("cmd", name+" "+strings.Join(args, " ")).Debug("exec (detached)")
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	// 交给内核收尸，进程由 VBoxManage 控制生命周期
	go cmd.Wait()
	time.Sleep(2 * time.Second)
	return nil
}

// VBox VBoxManage 命令封装
type VBox struct {
	run Runner
}

// NewVBox 构造
func NewVBox(r Runner) *VBox {
	if r == nil {
		r = ExecRunner{}
	}
	return &VBox{run: r}
}

// Version VBoxManage 版本（同时验证 VirtualBox 可用）
func (v *VBox) Version(ctx context.Context) (string, error) {
	out, err := v.run.Run(ctx, RunOptions{}, "VBoxManage", "-v")
	return strings.TrimSpace(out), err
}

// CreateVM 创建并注册虚拟机
func (v *VBox) CreateVM(ctx context.Context, name, osType, baseDir string) error {
	if _, err := v.run.Run(ctx, RunOptions{}, "VBoxManage", "createvm",
		"--name", name, "--ostype", osType, "--basefolder", baseDir); err != nil {
		return err
	}
	return nil
}

// RegisterVM 注册 .vbox 定义文件
func (v *VBox) RegisterVM(ctx context.Context, vboxPath string) error {
	_, err := v.run.Run(ctx, RunOptions{}, "VBoxManage", "registervm", vboxPath)
	return err
}

// ModifyVM 透传 modifyvm 参数
func (v *VBox) ModifyVM(ctx context.Context, name string, args ...string) error {
	full := append([]string{"modifyvm", name}, args...)
	_, err := v.run.Run(ctx, RunOptions{}, "VBoxManage", full...)
	return err
}

// CreateHD 创建 VDI 磁盘
func (v *VBox) CreateHD(ctx context.Context, path string, sizeMB int) error {
	_, err := v.run.Run(ctx, RunOptions{}, "VBoxManage", "createhd",
		"--filename", path, "--size", strconv.Itoa(sizeMB))
	return err
}

// AddIDEController 加 IDE 控制器
func (v *VBox) AddIDEController(ctx context.Context, name, ctlName string) error {
	_, err := v.run.Run(ctx, RunOptions{}, "VBoxManage", "storagectl", name,
		"--name", ctlName, "--add", "ide")
	return err
}

// AttachStorage 挂接 hdd / dvddrive
func (v *VBox) AttachStorage(ctx context.Context, name, ctlName string, port int, kind, medium string) error {
	_, err := v.run.Run(ctx, RunOptions{}, "VBoxManage", "storageattach", name,
		"--storagectl", ctlName,
		"--port", strconv.Itoa(port), "--device", "0",
		"--type", kind, "--medium", medium)
	return err
}

// StartHeadless 无头启动虚拟机
func (v *VBox) StartHeadless(ctx context.Context, name string) error {
	return v.run.Start(ctx, "VBoxHeadless", "--startvm", name)
}

// IsRunning 虚拟机是否处于 running 状态
func (v *VBox) IsRunning(ctx context.Context, name string) (bool, error) {
	out, err := v.run.Run(ctx, RunOptions{HideError: true}, "VBoxManage", "showvminfo", name)
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "running (since"), nil
}

// IsListed name 是否出现在指定 list 子命令输出里（vms / runningvms）
func (v *VBox) IsListed(ctx context.Context, list, name string) (bool, error) {
	out, err := v.run.Run(ctx, RunOptions{HideError: true}, "VBoxManage", "list", list)
	if err != nil {
		return false, err
	}
	return strings.Contains(out, name), nil
}

// PowerOff 关机
func (v *VBox) PowerOff(ctx context.Context, name string) error {
	_, err := v.run.Run(ctx, RunOptions{ContinueOnError: true}, "VBoxManage", "controlvm", name, "poweroff")
	return err
}

// CompactMedium 压缩 VDI
func (v *VBox) CompactMedium(ctx context.Context, path string) error {
	_, err := v.run.Run(ctx, RunOptions{}, "VBoxManage", "modifymedium", "--compact", path)
	return err
}

// Export 导出 OVA
func (v *VBox) Export(ctx context.Context, name, outPath string) error {
	_, err := v.run.Run(ctx, RunOptions{}, "VBoxManage", "export", name, "--output", outPath)
	return err
}

// Cleanup 清理同名虚拟机：运行中先关机，已注册则注销并删除
func (v *VBox) Cleanup(ctx context.Context, name, vboxPath string) error {
	running, err := v.IsListed(ctx, "runningvms", name)
	if err == nil && running {
		logger.WithField("vm", name).Info("previous VM still running, powering off")
		_ = v.PowerOff(ctx, name)
	}
	registered, err := v.IsListed(ctx, "vms", name)
	if err == nil && registered {
		logger.WithField("vm", name).Info("unregistering previous VM")
		_, err = v.run.Run(ctx, RunOptions{ContinueOnError: true},
			"VBoxManage", "unregistervm", vboxPath, "--delete")
		return err
	}
	return nil
}
