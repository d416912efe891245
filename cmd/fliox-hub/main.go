// Command fliox-hub serves the databases of a yaml config over HTTP and
// WebSocket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	fliox "github.com/friflo/fliox.go"
	"github.com/friflo/fliox.go/pkg/hub"
	"github.com/friflo/fliox.go/pkg/logger"
	"github.com/friflo/fliox.go/pkg/metrics"
	"github.com/friflo/fliox.go/pkg/server"
)

const Version = "0.1.0"

const usage = `Fliox hub.

Serves sync requests on /sync and /ws, health on /health and prometheus
metrics on /metrics. Settings of the config file can be overridden by the
environment variables FLIOX_ADDR, FLIOX_LOG_FORMAT, FLIOX_LOG_LEVEL,
FLIOX_EVENT_QUEUE_SIZE and FLIOX_EVENT_OVERFLOW.

Usage:
    fliox-hub [--config=<path>] [--addr=<addr>]
    fliox-hub check [--config=<path>]
    fliox-hub -h | --help
    fliox-hub --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<path>    Yaml config file. Without it a single in-memory
                       database main_db is served.
    --addr=<addr>      Listen address, overrides the config.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	configPath, _ := opts.String("--config")
	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if addr, _ := opts.String("--addr"); addr != "" {
		cfg.Addr = addr
	}

	if check, _ := opts.Bool("check"); check {
		fmt.Printf("config ok: %d database(s), listening on %s\n", len(cfg.Databases), cfg.Addr)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run serves until ctx is done or the listener fails.
func run(ctx context.Context, cfg *Config) error {
	log, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	m := metrics.New()
	h, err := NewHub(cfg, hub.WithLogger(logger.Named(log, "hub")), hub.WithMetrics(m))
	if err != nil {
		return err
	}
	srv := server.New(h, server.WithLogger(logger.Named(log, "server")))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("hub started", "name", cfg.Hub.Name, "addr", cfg.Addr, "databases", h.DatabaseNames())
		return srv.ListenAndServe(ctx, cfg.Addr)
	})
	g.Go(func() error {
		logStats(ctx, h, log, fliox.GetEnvDurationOrDefault("FLIOX_STATS_INTERVAL", time.Minute))
		return nil
	})
	err = g.Wait()
	if closeErr := h.Close(); closeErr != nil {
		log.Error("failed to close databases", "error", closeErr)
	}
	return err
}

// logStats logs the subscriber count of every database until ctx is done.
func logStats(ctx context.Context, h *hub.Hub, log logger.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, name := range h.DatabaseNames() {
			if broker, err := h.Broker(name); err == nil {
				log.Debug("event subscribers", "db", name, "subscribers", broker.Count())
			}
		}
	}
}

func newLogger(cfg LogConfig) (logger.Logger, func(), error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	switch cfg.Format {
	case "json":
		level, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		if cfg.File != "" {
			z, err := logger.NewZerologFile(cfg.File)
			if err != nil {
				return nil, nil, err
			}
			return z.Level(level), func() { _ = z.Close() }, nil
		}
		return logger.NewZerolog(os.Stderr).Level(level), func() {}, nil
	case "text", "":
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, err
		}
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
}
