package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/ios-xr/iosxrv-x64-vbox/internal/config"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/model"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
)

var db *gorm.DB

// InitSQLite 初始化SQLite数据库
func InitSQLite(cfg config.SQLiteConfig) error {
	// 确保数据库目录存在
	dbDir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: gormLogger.New(
			logger.GetLogger(),
			gormLogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormLogger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
		// SQLite 对每次写操作默认开事务，构建日志是高频小写入，跳过可减少锁争用
		SkipDefaultTransaction: true,
	}

	// 连接数据库，使用modernc.org/sqlite驱动
	var err error
	dsn := cfg.Path + "?_pragma=busy_timeout(15000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err = gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 单连接池，保证 PRAGMA 在唯一连接上生效
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// 某些环境 DSN 里的 PRAGMA 选项不生效，运行期再设一遍
	_ = db.Exec("PRAGMA journal_mode=WAL;").Error
	_ = db.Exec("PRAGMA synchronous=NORMAL;").Error
	_ = db.Exec("PRAGMA busy_timeout=15000;").Error
	_ = db.Exec("PRAGMA foreign_keys=ON;").Error

	if err := autoMigrate(); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	logger.Info("SQLite database initialized successfully")
	return nil
}

// autoMigrate 自动迁移数据库表
func autoMigrate() error {
	return db.AutoMigrate(
		&model.BuildTask{},
		&model.BuildLog{},
	)
}

// GetDB 获取数据库实例
func GetDB() *gorm.DB {
	return db
}

// IsBusyError 判断是否为 SQLite 并发锁相关错误
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "cannot start a transaction within a transaction")
}

// WithRetry 在检测到并发锁错误时进行短暂重试
func WithRetry(fn func(*gorm.DB) error, attempts int, sleep time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	if sleep <= 0 {
		sleep = 50 * time.Millisecond
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn(db)
		if err == nil {
			return nil
		}
		if !IsBusyError(err) {
			return err
		}
		time.Sleep(sleep)
		// 轻微指数退避
		if sleep < 500*time.Millisecond {
			sleep *= 2
		}
	}
	return err
}

// Transaction 执行事务
func Transaction(fn func(*gorm.DB) error) error {
	return db.Transaction(fn)
}

// Close 关闭数据库连接
func Close() error {
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func Health() error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
