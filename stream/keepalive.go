package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// tokenRefresher extends a listen key's validity.
type tokenRefresher interface {
	KeepAliveListenKey(ctx context.Context, listenKey string) error
}

// keepAlive periodically refreshes the listen key so the private stream
// stays authorized. Each cycle retries transient failures with
// exponential backoff; when a cycle exhausts its retries the failure is
// reported exactly once and the loop keeps running, so a later cycle
// can still recover.
type keepAlive struct {
	refresher tokenRefresher
	listenKey string
	interval  time.Duration
	retries   int
	baseDelay time.Duration
	onFailure func(error)
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func newKeepAlive(refresher tokenRefresher, listenKey string, cfg SessionConfig, onFailure func(error), logger *slog.Logger) *keepAlive {
	return &keepAlive{
		refresher: refresher,
		listenKey: listenKey,
		interval:  cfg.KeepAliveInterval,
		retries:   cfg.KeepAliveRetries,
		baseDelay: cfg.KeepAliveBackoff,
		onFailure: onFailure,
		logger:    logger,
	}
}

// start launches the refresh loop.
func (k *keepAlive) start(ctx context.Context) {
	ctx, k.cancel = context.WithCancel(ctx)
	k.done = make(chan struct{})

	go k.run(ctx)
}

// stop cancels the loop and waits for it to exit.
func (k *keepAlive) stop() {
	if k.cancel == nil {
		return
	}
	k.cancel()
	<-k.done
}

func (k *keepAlive) run(ctx context.Context) {
	defer close(k.done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := k.refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				k.logger.Error("listen key refresh failed",
					"error", err,
					"retries", k.retries,
				)
				if k.onFailure != nil {
					k.onFailure(fmt.Errorf("%w: %w", ErrKeepAlive, err))
				}
			}
		}
	}
}

// refresh attempts one keep-alive cycle, retrying transient errors.
func (k *keepAlive) refresh(ctx context.Context) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = k.baseDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, k.refresher.KeepAliveListenKey(ctx, k.listenKey)
	},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(k.retries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			k.logger.Warn("listen key refresh attempt failed, retrying",
				"error", err,
				"wait", wait,
			)
		}),
	)
	if err == nil {
		k.logger.Debug("listen key refreshed")
	}
	return err
}
