package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/streamkit/mexc-stream/codec"
	"github.com/streamkit/mexc-stream/config"
	"github.com/streamkit/mexc-stream/internal/version"
	"github.com/streamkit/mexc-stream/recorder"
	"github.com/streamkit/mexc-stream/stream"
)

func main() {
	configPath := flag.String("config", "configs/example.yaml", "path to config file")
	flag.Parse()

	godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateDatabase(); err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(1)
	}
	if len(cfg.Stream.Symbols) == 0 {
		logger.Error("no symbols configured")
		os.Exit(1)
	}

	logger.Info("starting deal recorder",
		"version", version.String(),
		"ws_url", cfg.API.WSURL,
		"symbols", cfg.Stream.Symbols,
		"database", cfg.Database.Name,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := recorder.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("database connected", "host", cfg.Database.Host)

	rec := recorder.New(cfg.Recorder, db, logger)
	if err := rec.Start(ctx); err != nil {
		logger.Error("failed to start recorder", "error", err)
		os.Exit(1)
	}

	sess, err := stream.NewSession(stream.SessionConfigFrom(cfg), nil, logger)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	if err := sess.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	for _, symbol := range cfg.Stream.Symbols {
		sym := strings.ToUpper(strings.TrimSpace(symbol))
		topic := codec.Topic{Stream: "public.deals", Params: []string{sym}}
		if err := sess.Subscribe(topic, rec.HandleEvent); err != nil {
			logger.Error("subscribe failed", "topic", topic.Key(), "error", err)
			os.Exit(1)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Session health watcher.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-sess.Events():
				if !ok {
					return nil
				}
				switch ev.Kind {
				case stream.StatusReconnected:
					logger.Info("session reconnected")
				case stream.StatusProtocolError:
					logger.Warn("protocol error", "error", ev.Err)
				}
			}
		}
	})

	// Periodic stats.
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				stats := rec.Stats()
				logger.Info("recorder stats",
					"inserts", stats.Inserts,
					"conflicts", stats.Conflicts,
					"flushes", stats.Flushes,
					"errors", stats.Errors,
				)
			}
		}
	})

	g.Wait()

	logger.Info("shutting down")

	sess.Close()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := rec.Stop(stopCtx); err != nil {
		logger.Error("recorder stop failed", "error", err)
	}
}
