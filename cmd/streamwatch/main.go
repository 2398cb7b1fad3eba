package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/streamkit/mexc-stream/codec"
	"github.com/streamkit/mexc-stream/config"
	"github.com/streamkit/mexc-stream/events"
	"github.com/streamkit/mexc-stream/internal/version"
	"github.com/streamkit/mexc-stream/stream"
)

func main() {
	configPath := flag.String("config", "configs/example.yaml", "path to config file")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols, overrides config")
	flag.Parse()

	// .env is optional, real deployments set the environment directly
	godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	symbols := cfg.Stream.Symbols
	if *symbolsFlag != "" {
		symbols = strings.Split(*symbolsFlag, ",")
	}
	if len(symbols) == 0 {
		logger.Error("no symbols configured")
		os.Exit(1)
	}

	logger.Info("starting stream watch",
		"version", version.String(),
		"ws_url", cfg.API.WSURL,
		"symbols", symbols,
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

	sess, err := stream.NewSession(stream.SessionConfigFrom(cfg), nil, logger)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}
	defer sess.Close()

	if err := sess.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	for _, symbol := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(symbol))

		dealsTopic := codec.Topic{Stream: "public.deals", Params: []string{sym}}
		err := sess.Subscribe(dealsTopic, func(ev stream.Event) {
			deals, err := events.ParseDeals(ev.Payload)
			if err != nil {
				logger.Warn("bad deals payload", "error", err)
				return
			}
			for _, d := range deals.Deals {
				logger.Info("deal",
					"symbol", ev.Symbol,
					"price", d.Price,
					"qty", d.Quantity,
					"buy", d.IsBuy(),
					"latency", ev.ReceivedAt.Sub(d.Timestamp()),
				)
			}
		})
		if err != nil {
			logger.Error("subscribe failed", "topic", dealsTopic.Key(), "error", err)
			os.Exit(1)
		}

		tickerTopic := codec.Topic{Stream: "public.bookTicker", Params: []string{sym}}
		err = sess.Subscribe(tickerTopic, func(ev stream.Event) {
			bt, err := events.ParseBookTicker(ev.Payload)
			if err != nil {
				logger.Warn("bad book ticker payload", "error", err)
				return
			}
			logger.Info("book",
				"symbol", ev.Symbol,
				"bid", bt.BidPrice,
				"ask", bt.AskPrice,
			)
		})
		if err != nil {
			logger.Error("subscribe failed", "topic", tickerTopic.Key(), "error", err)
			os.Exit(1)
		}
	}

	// Watch session health until shutdown.
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case stream.StatusReconnected:
				logger.Info("session reconnected")
			case stream.StatusKeepAliveFailure:
				logger.Warn("keep-alive failure", "error", ev.Err)
			case stream.StatusProtocolError:
				logger.Warn("protocol error", "error", ev.Err)
			case stream.StatusStateChange:
				logger.Debug("state change", "state", ev.State)
			}
		}
	}
}
