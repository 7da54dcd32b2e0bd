package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/hylla/courtroom/internal/adapters/storage/sqlite"
	"github.com/hylla/courtroom/internal/config"
	"github.com/hylla/courtroom/internal/idempotency"
)

// minPurgeInterval bounds how often expired sqlite records are swept.
const minPurgeInterval = time.Minute

// expiredPurger removes expired idempotency records.
type expiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// purgeLogger is the logging surface the purge loop needs.
type purgeLogger interface {
	Debug(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
}

// idempotencyBackend is one opened idempotency store plus its lifecycle hooks.
type idempotencyBackend struct {
	Name   string
	Store  idempotency.Store
	Purger expiredPurger
	close  func() error
}

// Close releases backend connections.
func (b idempotencyBackend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// openIdempotencyStore opens the backend named by the idempotency URL scheme.
func openIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, repo *sqlite.Repository) (idempotencyBackend, error) {
	backend, err := cfg.Backend()
	if err != nil {
		return idempotencyBackend{}, err
	}
	ttl := cfg.TTL.Std()
	switch backend {
	case "memory":
		store := idempotency.NewMemoryStore(ttl, nil)
		return idempotencyBackend{Name: backend, Store: store, Purger: store}, nil
	case "sqlite":
		if repo == nil {
			return idempotencyBackend{}, fmt.Errorf("sqlite idempotency store requires the case database")
		}
		store := repo.IdempotencyStore(ttl, nil)
		return idempotencyBackend{Name: backend, Store: store, Purger: store}, nil
	case "redis", "rediss":
		client, err := idempotency.OpenRedis(ctx, cfg.URL)
		if err != nil {
			return idempotencyBackend{}, err
		}
		return idempotencyBackend{
			Name:  "redis",
			Store: idempotency.NewRedisStore(client, ttl, idempotency.DefaultRedisPrefix),
			close: client.Close,
		}, nil
	default:
		return idempotencyBackend{}, fmt.Errorf("unsupported idempotency backend %q", backend)
	}
}

// purgeInterval sweeps a few times per TTL window.
func purgeInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < minPurgeInterval {
		return minPurgeInterval
	}
	return interval
}

// runPurgeLoop deletes expired records until ctx ends.
func runPurgeLoop(ctx context.Context, purger expiredPurger, interval time.Duration, logger purgeLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := purger.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("idempotency purge failed", "err", err)
				continue
			}
			if purged > 0 {
				logger.Debug("idempotency records purged", "count", purged)
			}
		}
	}
}

// redactURL hides credentials before a backend URL is logged.
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return parsed.Redacted()
}
