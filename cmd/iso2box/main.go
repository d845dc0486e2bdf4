package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ios-xr/iosxrv-x64-vbox/internal/config"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/database"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/service"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
)

// iso2box 把 IOS XR/XE 的 ISO 镜像转换为 Vagrant VirtualBox box
func main() {
	var (
		platform   = flag.String("platform", "iosxr", "target platform: xr (iosxr) or xe (iosxe)")
		createOVA  = flag.Bool("o", false, "also export an OVA alongside the box")
		skipTest   = flag.Bool("s", false, "skip the post-build sanity test")
		debugPause = flag.Bool("debug-pause", false, "pause after configuration with the VM running for console inspection")
		debug      = flag.Bool("d", false, "debug logging")
		verbose    = flag.Bool("v", false, "verbose logging")
		configPath = flag.String("config", "", "path to config file")
		upload     = flag.String("upload", "", "upload the finished box: snapshot or release")
		message    = flag.String("m", "", "release note attached to an uploaded box")
		withDB     = flag.Bool("db", false, "record build tasks in the local database")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <iso>\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	isoPath := flag.Arg(0)

	plat := *platform
	switch plat {
	case "xr":
		plat = "iosxr"
	case "xe":
		plat = "iosxe"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Log.Level
	if *verbose {
		level = "info"
	}
	if *debug {
		level = "debug"
	}
	if err := logger.Init(logger.Config{
		Level:      level,
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

	// 可选落库，默认纯命令行模式不依赖数据库
	if *withDB {
		if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
			logger.Fatal("Failed to initialize database", "error", err)
		}
		defer database.Close()
	}

	builder := service.NewBuilderService(cfg, nil)
	result, err := builder.Build(context.Background(), &service.BuildRequest{
		ISOPath:    isoPath,
		Platform:   plat,
		CreateOVA:  *createOVA,
		SkipTest:   *skipTest,
		DebugPause: *debugPause,
	})
	if err != nil {
		logger.Fatal("Build failed", "iso", isoPath, "error", err)
	}

	logger.Info("Build complete", "vm", result.VMName, "box", result.BoxPath)
	fmt.Printf("Box created: %s\n", result.BoxPath)
	if result.OVAPath != "" {
		fmt.Printf("OVA created: %s\n", result.OVAPath)
	}
	fmt.Println("To use the box:")
	fmt.Printf("  vagrant box add --force %s %s\n", result.VMName, result.BoxPath)
	fmt.Println("  vagrant init " + result.VMName)
	fmt.Println("  vagrant up")

	if *upload != "" {
		store, err := service.NewStoreService(cfg)
		if err != nil {
			logger.Fatal("Storage not configured", "error", err)
		}
		stored, err := store.Store(context.Background(), &service.StoreRequest{
			BoxPath: result.BoxPath,
			Release: *upload == "release",
			Message: *message,
			Notify:  true,
		})
		if err != nil {
			logger.Fatal("Upload failed", "box", result.BoxPath, "error", err)
		}
		fmt.Printf("Box uploaded: %s\n", stored.URL)
	}
}
