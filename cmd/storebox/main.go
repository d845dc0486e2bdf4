package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ios-xr/iosxrv-x64-vbox/internal/config"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/service"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
)

// storebox 把本地 box 上传到对象存储，可选邮件通知
func main() {
	var (
		boxPath    = flag.String("b", "", "path to the .box file to upload")
		release    = flag.Bool("r", false, "store under the release prefix instead of snapshot")
		message    = flag.String("m", "", "release note included in the notification mail")
		notify     = flag.Bool("t", false, "send a notification mail after upload")
		configPath = flag.String("config", "", "path to config file")
	)
	flag.Parse()

	if *boxPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

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

	store, err := service.NewStoreService(cfg)
	if err != nil {
		logger.Fatal("Storage not configured", "error", err)
	}

	stored, err := store.Store(context.Background(), &service.StoreRequest{
		BoxPath: *boxPath,
		Release: *release,
		Message: *message,
		Notify:  *notify,
	})
	if err != nil {
		logger.Fatal("Upload failed", "box", *boxPath, "error", err)
	}

	fmt.Printf("Box uploaded: %s\n", stored.URL)
}
