package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Build    BuildConfig    `mapstructure:"build"`
	Console  ConsoleConfig  `mapstructure:"console"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Sanity   SanityConfig   `mapstructure:"sanity"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// BuildConfig 虚拟机构建配置
type BuildConfig struct {
	// BaseDir box 工作目录根，按镜像名分目录
	BaseDir string `mapstructure:"base_dir"`
	// VagrantfilePath 打包时嵌入 box 的 Vagrantfile
	VagrantfilePath string `mapstructure:"vagrantfile_path"`
	// RAMMiniMB / RAMFullMB mini 与 full 镜像的内存规格
	RAMMiniMB int `mapstructure:"ram_mini_mb"`
	RAMFullMB int `mapstructure:"ram_full_mb"`
	// DiskSizeMB 系统盘 VDI 大小
	DiskSizeMB int `mapstructure:"disk_size_mb"`
	CPUs       int `mapstructure:"cpus"`
	VRAMMB     int `mapstructure:"vram_mb"`
	// NICs 虚拟网卡数量，全部 virtio + NAT
	NICs int `mapstructure:"nics"`
	// OSType VBoxManage createvm 的 ostype
	OSType string `mapstructure:"os_type"`
}

// ConsoleConfig 控制台自动化配置
type ConsoleConfig struct {
	Host string `mapstructure:"host"`
	// Port / AuxPort uart1 与 uart2 的 tcpserver 端口
	Port    int `mapstructure:"port"`
	AuxPort int `mapstructure:"aux_port"`
	// Budget 单节点全部控制台操作的墙钟预算
	Budget time.Duration `mapstructure:"budget"`
	// ReadSlice 单次读取窗口
	ReadSlice time.Duration `mapstructure:"read_slice"`
	// NudgeInterval 等待安静期的催促间隔
	NudgeInterval time.Duration `mapstructure:"nudge_interval"`
	// LoginNudgeInterval 登录阶段的催促间隔
	LoginNudgeInterval time.Duration `mapstructure:"login_nudge_interval"`
	// RepromptWindow 登录重复提示的抑制窗口
	RepromptWindow time.Duration `mapstructure:"reprompt_window"`
	// RetrySpacing 轮询探测之间的间隔
	RetrySpacing time.Duration `mapstructure:"retry_spacing"`
	// TranscriptDir 非空时保存控制台原始转录
	TranscriptDir string `mapstructure:"transcript_dir"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	// Gateway / HostIP VirtualBox NAT 的固定网关与首个租约地址
	Gateway string `mapstructure:"gateway"`
	HostIP  string `mapstructure:"host_ip"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig box 制品存储配置
type StorageConfig struct {
	Minio MinioConfig `mapstructure:"minio"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
	// SnapshotPrefix / ReleasePrefix 制品对象的路径前缀
	SnapshotPrefix string `mapstructure:"snapshot_prefix"`
	ReleasePrefix  string `mapstructure:"release_prefix"`
}

// SMTPConfig 构建结果通知配置
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SanityConfig 打包后冒烟测试配置
type SanityConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// SSHPort 访问 app-hosting 空间的 guest 侧端口
	SSHPort int           `mapstructure:"ssh_port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

var globalConfig *Config

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	// 设置默认值
	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// 默认配置文件路径
		viper.SetConfigName("config")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("../configs")
		viper.AddConfigPath("../../configs")
	}

	// 设置环境变量前缀
	viper.SetEnvPrefix("IOSXRV")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 读取配置文件；没有配置文件时用默认值跑
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = replaceEnvVars(config)

	globalConfig = &config
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// 虚拟机规格：mini 镜像 3G 内存，full 镜像 4G；45G 系统盘
	viper.SetDefault("build.base_dir", "./data/machines")
	viper.SetDefault("build.vagrantfile_path", "./include/embedded_vagrantfile")
	viper.SetDefault("build.ram_mini_mb", 3072)
	viper.SetDefault("build.ram_full_mb", 4096)
	viper.SetDefault("build.disk_size_mb", 46080)
	viper.SetDefault("build.cpus", 1)
	viper.SetDefault("build.vram_mb", 4)
	viper.SetDefault("build.nics", 8)
	viper.SetDefault("build.os_type", "Linux26_64")

	// 控制台串口桥接端口与引擎时序
	viper.SetDefault("console.host", "localhost")
	viper.SetDefault("console.port", 65000)
	viper.SetDefault("console.aux_port", 65001)
	viper.SetDefault("console.budget", 1800*time.Second)
	viper.SetDefault("console.read_slice", time.Second)
	viper.SetDefault("console.nudge_interval", 10*time.Second)
	viper.SetDefault("console.login_nudge_interval", 5*time.Second)
	viper.SetDefault("console.reprompt_window", 5*time.Second)
	viper.SetDefault("console.retry_spacing", time.Second)
	viper.SetDefault("console.username", "vagrant")
	viper.SetDefault("console.password", "vagrant")
	// VirtualBox NAT 的固定拓扑
	viper.SetDefault("console.gateway", "10.0.2.2")
	viper.SetDefault("console.host_ip", "10.0.2.15")

	viper.SetDefault("database.sqlite.path", "./data/iosxrv.db")
	viper.SetDefault("database.sqlite.max_idle_conns", 1)
	viper.SetDefault("database.sqlite.max_open_conns", 1)
	viper.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	viper.SetDefault("storage.minio.bucket", "boxes")
	viper.SetDefault("storage.minio.snapshot_prefix", "snapshot")
	viper.SetDefault("storage.minio.release_prefix", "release")

	viper.SetDefault("smtp.port", 25)

	// app-hosting 空间 sshd_operns 监听 57722
	viper.SetDefault("sanity.enabled", true)
	viper.SetDefault("sanity.ssh_port", 57722)
	viper.SetDefault("sanity.timeout", 5*time.Minute)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "console")
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// replaceEnvVars 替换配置中的 ${VAR} 形式环境变量（凭据类字段）
func replaceEnvVars(config Config) Config {
	config.Storage.Minio.AccessKey = expandEnv(config.Storage.Minio.AccessKey)
	config.Storage.Minio.SecretKey = expandEnv(config.Storage.Minio.SecretKey)
	config.SMTP.Password = expandEnv(config.SMTP.Password)
	return config
}

func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		envVar := strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
	}
	return v
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ConsoleAddr 主控制台桥接地址
func (c *Config) ConsoleAddr() string {
	return fmt.Sprintf("%s:%d", c.Console.Host, c.Console.Port)
}

// AuxAddr aux 口桥接地址
func (c *Config) AuxAddr() string {
	return fmt.Sprintf("%s:%d", c.Console.Host, c.Console.AuxPort)
}
