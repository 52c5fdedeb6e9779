package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/adminapi"
	"github.com/talkincode/wagate/internal/app"
	"github.com/talkincode/wagate/internal/webserver"
	"go.uber.org/zap"
)

var (
	confFile = flag.String("c", "/etc/wagate.yml", "config file")
	initDB   = flag.Bool("initdb", false, "drop and recreate all tables, then exit")
	showVer  = flag.Bool("v", false, "print version and exit")
)

var gitCommit = "dev"

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("wagate %s\n", gitCommit)
		return
	}

	cfg := config.LoadConfig(*confFile)
	cfg.InitDirs()

	application := app.NewApplication(cfg)
	if err := application.Init(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	defer application.Release()

	if *initDB {
		application.DropAll()
		if err := application.MigrateDB(); err != nil {
			zap.S().Errorf("initdb failed: %v", err)
			os.Exit(1)
		}
		zap.L().Info("database initialized")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	application.StartBackgroundJobs(ctx)

	web := webserver.Init(cfg, application.DB())
	adminapi.Init(web, application.Supervisor(), application.Fanout(), application.Dispatcher())

	errCh := make(chan error, 1)
	go func() {
		errCh <- webserver.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			zap.L().Error("web server stopped", zap.Error(err))
		}
	case sig := <-sigCh:
		zap.L().Info("shutting down", zap.String("signal", sig.String()))
		webserver.Shutdown()
	}
}
