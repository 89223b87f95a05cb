package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ah-its-andy/bookconv/internal/api"
	"github.com/ah-its-andy/bookconv/internal/config"
	"github.com/ah-its-andy/bookconv/internal/converter"
	"github.com/ah-its-andy/bookconv/internal/db"
	"github.com/ah-its-andy/bookconv/internal/livelog"
	"github.com/ah-its-andy/bookconv/internal/logger"
	"github.com/ah-its-andy/bookconv/internal/maintenance"
	"github.com/ah-its-andy/bookconv/internal/storage"
	"github.com/ah-its-andy/bookconv/internal/task"
	"github.com/ah-its-andy/bookconv/internal/utils"
	"github.com/ah-its-andy/bookconv/internal/watcher"
	"github.com/ah-its-andy/bookconv/internal/worker"
)

func main() {
	configFile := flag.String("config", "", "path to a bookconv.yaml config file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		slog.Error("bookconv failed", "error", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info("starting bookconv",
		"http_addr", cfg.HTTPAddr(),
		"db", cfg.DBPath,
		"library", cfg.CalibreDir,
		"workers", cfg.MaxWorkers,
		"remote_storage", cfg.RemoteStorage)
	checkExternalTools(log, cfg)

	dbConn, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		sqlDB, _ := dbConn.DB()
		_ = sqlDB.Close()
	}()
	store := db.NewStore(dbConn)

	logs := livelog.NewManager(0)
	queue := worker.NewQueue(cfg.QueueSize)
	pool := worker.NewPool(cfg.MaxWorkers, queue, store, logs, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Run(ctx)

	deps := task.Deps{
		Catalog:   store,
		Converter: converter.New(log, cfg.ConvertTimeout),
		Mailer:    task.LogMailer{Logger: log.With("component", "mailer")},
		Output:    logs,
		Logger:    log.With("component", "task"),
	}
	if cfg.RemoteStorage {
		deps.Remote = storage.NewDirRemote(cfg.RemoteDir, log)
	}
	submit := func(req task.ConversionRequest) (task.Task, error) {
		t := task.NewConvertTask(*cfg, req, deps)
		return t, pool.Add(req.User, t)
	}

	var spool *watcher.Watcher
	if cfg.SpoolDir != "" {
		spool, err = watcher.New(cfg.SpoolDir, time.Second, func(req task.ConversionRequest) error {
			_, err := submit(req)
			return err
		}, log)
		if err != nil {
			return fmt.Errorf("create spool watcher: %w", err)
		}
		defer spool.Close()
		go func() {
			if err := spool.Start(ctx); err != nil {
				log.Error("spool watcher stopped", "error", err)
			}
		}()
	}

	housekeeping := maintenance.NewScheduler(logs, store, maintenance.Options{
		Schedule:         cfg.MaintenanceSchedule,
		LiveLogRetention: cfg.LiveLogRetention,
		HistoryRetention: cfg.HistoryRetention,
	}, log)
	if err := housekeeping.Start(); err != nil {
		return err
	}
	defer housekeeping.Stop()

	server := api.NewServer(pool, store, logs, submit, log)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr(), Handler: server.Router, ReadHeaderTimeout: 10 * time.Second}
	srvErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		log.Info("shutting down", "signal", s.String())
	case err := <-srvErr:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	if spool != nil {
		spool.Pause()
	}
	_ = httpSrv.Shutdown(shutdownCtx)
	if err := pool.Drain(shutdownCtx); err != nil {
		log.Warn("tasks left unfinished", "error", err)
	}
	pool.Stop()
	cancel()
	pool.Wait()
	log.Info("shutdown complete")
	return nil
}

// checkExternalTools warns about converters that are configured but missing.
func checkExternalTools(log *slog.Logger, cfg *config.Config) {
	tools := map[string]string{"ebook-convert": cfg.ConverterPath, "kepubify": cfg.KepubifyPath}
	if cfg.EmbedMetadata {
		tools["calibredb"] = cfg.CalibredbPath()
	}
	for name, path := range tools {
		if path == "" {
			continue
		}
		if utils.IsFile(path) {
			log.Info("external tool found", "tool", name, "path", path)
		} else {
			log.Warn("external tool not found", "tool", name, "path", path)
		}
	}
}
