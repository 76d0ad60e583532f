package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Travis-z/undermoon/internal/config"
	"github.com/Travis-z/undermoon/internal/logging"
	"github.com/Travis-z/undermoon/internal/meta"
	"github.com/Travis-z/undermoon/internal/persist"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	store := meta.NewStore()

	var snapshots *persist.SnapshotStore
	if cfg.DataFile != "" {
		snapshots, err = persist.Open(cfg.DataFile, logger)
		if err != nil {
			logger.Fatal("failed to open snapshot store", zap.Error(err))
		}
		top, err := snapshots.Load()
		if err != nil {
			logger.Fatal("failed to load topology snapshot", zap.Error(err))
		}
		if top != nil {
			store.Restore(top)
			logger.Info("restored topology snapshot", zap.Uint64("epoch", top.Epoch))
		}
		store.SetOnCommit(snapshots.CommitHook())
	}

	srv := newServer(store, logger)
	srv.migrations.SetCheckpointInterval(cfg.Migration.TransferTick)
	srv.migrations.Resume()

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("broker listening", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	srv.migrations.Stop()
	if snapshots != nil {
		if err := snapshots.Close(); err != nil {
			logger.Error("failed to close snapshot store", zap.Error(err))
		}
	}
	logger.Info("broker stopped")
}
