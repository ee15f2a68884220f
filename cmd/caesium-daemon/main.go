// Command caesium-daemon listens for StatsD UDP packets, aggregates
// them into per-metric quantile sketches, and publishes sealed windows
// to a caesium-server instance.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wedaly/caesium/internal/config"
	"github.com/wedaly/caesium/internal/daemon"
	"github.com/wedaly/caesium/internal/daemon/pipeline"
	"github.com/wedaly/caesium/internal/daemon/publisher"
	"github.com/wedaly/caesium/internal/logging"
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

	pub := publisher.New(publisher.Config{
		ServerAddr:   cfg.Daemon.ServerAddr,
		QueueSize:    cfg.Daemon.PublishQueueSize,
		RetryBackoff: cfg.Daemon.PublishRetryBackoff,
		MaxBackoff:   cfg.Daemon.PublishMaxBackoff,
	})
	if err := pub.Start(); err != nil {
		log.Error("failed to start publisher", "error", err)
		os.Exit(1)
	}

	windowSize := time.Duration(cfg.Scale.FlushIntervalSec) * time.Second
	pipe := pipeline.New(windowSize, pub)
	if err := pipe.Start(); err != nil {
		log.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}

	listener, err := daemon.Listen(cfg.Daemon.ListenAddr, pipe)
	if err != nil {
		log.Error("failed to bind statsd listener", "addr", cfg.Daemon.ListenAddr, "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		listener.Close()
	}()

	log.Info("caesium-daemon starting",
		"listen_addr", cfg.Daemon.ListenAddr,
		"server_addr", cfg.Daemon.ServerAddr,
		"window", windowSize)

	serveErr := listener.Serve()

	pipe.Stop()
	pub.Stop()

	if serveErr != nil {
		log.Error("listener exited with error", "error", serveErr)
		os.Exit(1)
	}
}
