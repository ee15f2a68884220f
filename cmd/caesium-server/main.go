// Command caesium-server runs the insert and query sockets backed by
// the window store and the downsample engine.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wedaly/caesium/internal/config"
	"github.com/wedaly/caesium/internal/downsample"
	"github.com/wedaly/caesium/internal/export"
	"github.com/wedaly/caesium/internal/logging"
	"github.com/wedaly/caesium/internal/server"
	"github.com/wedaly/caesium/internal/storage/store"
	"github.com/wedaly/caesium/internal/storage/windowlog"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		jsonLogs   = flag.Bool("json-logs", false, "emit JSON-formatted logs")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLogs)
	log := logging.Component("main")

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	walDir := cfg.WALDir()

	s, err := store.Open(walDir, windowLogOptions(cfg))
	if err != nil {
		log.Error("failed to open window store", "dir", walDir, "error", err)
		os.Exit(1)
	}

	engine := downsample.New(s, cfg)

	if cfg.Export.Enabled {
		exportDir := cfg.ExportDir()
		exp, err := export.New(export.Options{
			Dir:         exportDir,
			Compression: export.ParseCompression(cfg.Export.Compression),
		})
		if err != nil {
			log.Error("failed to open export writer", "dir", exportDir, "error", err)
			os.Exit(1)
		}
		defer exp.Close()
		engine.SetExporter(exp)
		log.Info("analytics export enabled", "dir", exportDir)
	}

	srv := server.New(server.Config{
		InsertAddr:      cfg.Server.InsertAddr,
		QueryAddr:       cfg.Server.QueryAddr,
		NumReadWorkers:  cfg.Server.NumReadWorkers,
		NumWriteWorkers: cfg.Server.NumWriteWorkers,
		QueryDeadline:   cfg.Server.QueryDeadline,
		Backpressure:    cfg.Backpressure,
	}, s, engine)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		srv.Shutdown()
	}()

	log.Info("caesium-server starting",
		"insert_addr", cfg.Server.InsertAddr,
		"query_addr", cfg.Server.QueryAddr,
		"data_dir", cfg.DataDir)

	if err := srv.Run(); err != nil {
		log.Error("server exited with error", "error", err)
		s.Close()
		os.Exit(1)
	}
	s.Close()
}

func windowLogOptions(cfg *config.Config) windowlog.Options {
	opts := windowlog.DefaultOptions()
	switch cfg.WAL.SyncMode {
	case "sync":
		opts.SyncMode = windowlog.SyncOnWrite
	case "fsync":
		opts.SyncMode = windowlog.SyncFsync
	default:
		opts.SyncMode = windowlog.SyncAsync
	}
	if cfg.WAL.SyncInterval > 0 {
		opts.SyncInterval = cfg.WAL.SyncInterval
	}
	return opts
}
