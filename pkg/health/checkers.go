package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// GoroutineCountCheck reports unhealthy when the number of goroutines
// exceeds threshold.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		count := runtime.NumGoroutine()
		if count > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", count, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck reports unhealthy when any recent GC pause exceeds
// threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(_ context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)

		for _, pause := range stats.Pause {
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck checks a store that exposes Ping, such as the Postgres pool.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// MongoCheck pings the primary of the Mongo deployment.
func MongoCheck(client *mongo.Client) CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}
}

// RedisCheck pings the session store.
func RedisCheck(client redis.UniversalClient) CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// NATSCheck reports unhealthy while the event bus connection is not
// established.
func NATSCheck(nc *nats.Conn) CheckFunc {
	return func(_ context.Context) error {
		if !nc.IsConnected() {
			return errors.Errorf("nats connection is %s", nc.Status())
		}
		return nil
	}
}
