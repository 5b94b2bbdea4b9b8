// Package link brings up the listening socket the session driver serves on.
package link

import (
	"context"
	"fmt"
	"net"
	"time"

	"edge-infer/internal/shared"

	"go.uber.org/zap"
)

type Config struct {
	Addr        string
	MaxAttempts int
	Interval    time.Duration
}

func DefaultConfig(addr string) Config {
	return Config{
		Addr:        addr,
		MaxAttempts: shared.LinkMaxAttempts,
		Interval:    shared.LinkRetryInterval,
	}
}

// Listen retries binding cfg.Addr until it succeeds, ctx is done or
// MaxAttempts is used up. The address may not be bindable yet while the
// network interface comes up.
func Listen(ctx context.Context, cfg Config, log *zap.SugaredLogger) (net.Listener, error) {
	var lc net.ListenConfig
	attempts := max(cfg.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ln, err := lc.Listen(ctx, "tcp", cfg.Addr)
		if err == nil {
			log.Infow("Link established", "addr", ln.Addr().String(), "attempts", attempt)
			return ln, nil
		}
		lastErr = err
		log.Warnw("Link not ready", "addr", cfg.Addr, "attempt", attempt, "error", err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}
	return nil, fmt.Errorf("failed to listen on %s after %d attempts: %w", cfg.Addr, attempts, lastErr)
}
