package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/bnema/altq/config"
	"github.com/bnema/altq/internal/adapter/generator/command"
	"github.com/bnema/altq/internal/adapter/generator/httpapi"
	"github.com/bnema/altq/internal/adapter/schedule/redisgate"
	"github.com/bnema/altq/internal/adapter/storage/jsonfile"
	"github.com/bnema/altq/internal/adapter/storage/postgres"
	"github.com/bnema/altq/internal/adapter/storage/sqlite"
	"github.com/bnema/altq/internal/infrastructure/logger"
	"github.com/bnema/altq/internal/port"
	"github.com/bnema/altq/internal/service"
)

var errNoGenerator = errors.New("no generator configured: set ALTQ_GENERATOR_URL or ALTQ_GENERATOR_COMMAND")

// app holds the loaded configuration and builds the runtime pieces each
// command needs.
type app struct {
	cfg *config.Config
}

func (a *app) openStore(ctx context.Context) (port.JobStore, error) {
	if a.cfg.Store == config.StorePostgres {
		store, err := postgres.NewStore(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	}

	if err := os.MkdirAll(a.cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	if a.cfg.Store == config.StoreJSONFile {
		store, err := jsonfile.NewStore(a.cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open json store: %w", err)
		}
		return store, nil
	}

	store, err := sqlite.NewStore(a.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

// newInspector returns the HTTP backend as entity inspector, or nil when
// generation runs through a local command.
func (a *app) newInspector() (port.EntityInspector, error) {
	if a.cfg.GeneratorURL == "" {
		return nil, nil
	}
	client, err := httpapi.New(a.cfg.GeneratorURL, a.cfg.GeneratorToken, nil)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (a *app) newGenerator() (port.Generator, port.EntityInspector, error) {
	switch {
	case a.cfg.GeneratorURL != "":
		client, err := httpapi.New(a.cfg.GeneratorURL, a.cfg.GeneratorToken, nil)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	case a.cfg.GeneratorCommand != "":
		gen, err := command.New(a.cfg.GeneratorCommand)
		if err != nil {
			return nil, nil, err
		}
		return gen, nil, nil
	default:
		return nil, nil, errNoGenerator
	}
}

func (a *app) newQueue(store port.JobStore, inspector port.EntityInspector, events service.EventPublisher) *service.Queue {
	return service.NewQueue(store, inspector, events, a.cfg.EnqueueDelay)
}

func (a *app) newWorker(queue *service.Queue, gen port.Generator, inspector port.EntityInspector) *service.Worker {
	var limiter *rate.Limiter
	if a.cfg.GenerateRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(a.cfg.GenerateRate), 1)
	}
	return service.NewWorker(queue, gen, inspector, limiter, service.WorkerConfig{
		BatchSize:       a.cfg.BatchSize,
		MaxAttempts:     a.cfg.MaxAttempts,
		StaleTimeout:    a.cfg.StaleTimeout,
		Retention:       a.cfg.Retention,
		NextDelay:       a.cfg.NextDelay,
		RateLimitDelay:  a.cfg.RateLimitDelay,
		GenerateTimeout: a.cfg.GenerateTimeout,
	})
}

// newScheduler builds the scheduler, sharing wake-ups through Redis when
// ALTQ_REDIS_ADDR is set. The returned func releases the Redis client.
func (a *app) newScheduler(ctx context.Context, runner service.TickRunner) (*service.Scheduler, func(), error) {
	opts := []service.SchedulerOption{service.WithSafetySchedule(a.cfg.SafetySchedule)}
	closeFn := func() {}

	if a.cfg.RedisAddr != "" {
		rdb, err := redisgate.NewClient(ctx, a.cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() { closeRedis(rdb) }
		opts = append(opts, service.WithTickGate(redisgate.New(rdb, redisgate.DefaultKey)))
		logger.Info.Printf("sharing tick schedule through redis at %s", a.cfg.RedisAddr)
	}

	scheduler, err := service.NewScheduler(runner, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return scheduler, closeFn, nil
}

func closeRedis(rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		logger.Warn.Printf("close redis: %v", err)
	}
}

func closeStore(store port.JobStore) {
	if err := store.Close(); err != nil {
		logger.Warn.Printf("close store: %v", err)
	}
}
