package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ios-xr/iosxrv-x64-vbox/api/router"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/config"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/database"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/service"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting IOS XRv x64 box builder server", "version", "1.0.0")

	// 初始化数据库
	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		logger.Fatal("Failed to initialize database", "error", err)
	}
	defer database.Close()

	// 创建构建服务
	builderService := service.NewBuilderService(cfg, nil)

	// 设置路由
	r := router.SetupRouter(builderService)

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	// 启动服务器
	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port, "mode", cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// 配置文件监听与热更新
	go func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			logger.Warn("Config watch init failed", "error", err)
			return
		}
		defer watcher.Close()
		path := "configs/config.yaml"
		if err := watcher.Add(path); err != nil {
			logger.Warn("Config watch add failed", "error", err)
			return
		}
		var debounce *time.Timer
		debounceInterval := 300 * time.Millisecond
		trigger := func() {
			newCfg, err := config.Load(path)
			if err != nil {
				logger.Warn("Config reload failed", "error", err)
				return
			}
			// 原地覆盖，保持指针不变
			*cfg = *newCfg
			// 刷新日志配置
			_ = logger.Init(logger.Config{
				Level:      cfg.Log.Level,
				Format:     cfg.Log.Format,
				Output:     cfg.Log.Output,
				FilePath:   cfg.Log.FilePath,
				MaxSize:    cfg.Log.MaxSize,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAge:     cfg.Log.MaxAge,
				Compress:   cfg.Log.Compress,
			})
			logger.Info("Config reloaded")
		}
		for {
			select {
			case ev := <-watcher.Events:
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(debounceInterval, trigger)
				}
			case err := <-watcher.Errors:
				logger.Warn("Config watch error", "error", err)
			}
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	// 优雅关闭服务器
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	} else {
		logger.Info("Server shutdown complete")
	}
}
