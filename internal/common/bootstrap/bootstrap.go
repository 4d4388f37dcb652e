package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/AlibekovAA/authcore/internal/common/config"
	"github.com/AlibekovAA/authcore/internal/common/constants"
	"github.com/AlibekovAA/authcore/internal/common/db"
	"github.com/AlibekovAA/authcore/internal/common/logger"
)

// AuthApp holds the process-wide infrastructure of the auth service. Redis is
// nil unless a redis-backed store is configured.
type AuthApp struct {
	Log    *logger.Logger
	Config config.AuthConfig
	Pool   *pgxpool.Pool
	Redis  redis.UniversalClient
}

func NewAuthApp(ctx context.Context) (*AuthApp, error) {
	log, err := logger.New(os.Getenv("LOG_DIR"), "auth", os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.LoadAuthConfig()
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return nil, err
	}

	pool := db.NewPool(ctx, log, cfg.DatabaseURL)
	if pool == nil {
		return nil, fmt.Errorf("failed to initialize database pool")
	}
	db.StartPoolMetrics(ctx, pool, constants.DBPoolMetricsInterval)

	app := &AuthApp{Log: log, Config: cfg, Pool: pool}

	if cfg.NeedsRedis() {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		app.Redis = client
		log.Infof("connected to redis")
	}

	return app, nil
}

func newRedisClient(ctx context.Context, url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.DialTimeout = constants.RedisDialTimeout
	opts.ReadTimeout = constants.RedisOpTimeout
	opts.WriteTimeout = constants.RedisOpTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, constants.RedisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (a *AuthApp) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Errorf("failed to close redis client: %v", err)
		}
	}
	a.Pool.Close()
	_ = a.Log.Close()
}
