package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/tcr/internal/api"
	"github.com/punchamoorthee/tcr/internal/auth"
	"github.com/punchamoorthee/tcr/internal/config"
	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/events"
	"github.com/punchamoorthee/tcr/internal/idempotency"
	"github.com/punchamoorthee/tcr/internal/logger"
	"github.com/punchamoorthee/tcr/internal/runtime"
	"github.com/punchamoorthee/tcr/internal/state"
	"github.com/punchamoorthee/tcr/internal/state/postgres"
	"github.com/punchamoorthee/tcr/internal/state/sqlite"
	"github.com/punchamoorthee/tcr/internal/tracing"
)

const devJWTSecret = "dev-secret-change-me"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logr := logger.New(cfg.LogLevel, cfg.Env)
	slog.SetDefault(logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		log.Fatalf("Node stopped: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logr *slog.Logger) error {
	tp, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())

	// Initialize Layers
	store, idem, err := openState(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	broker := events.NewBroker(0, logr)
	defer broker.Close()

	opts := []runtime.Option{
		runtime.WithLogger(logr),
		runtime.WithTracer(tp.Tracer()),
		runtime.WithPublisher(broker),
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		opts = append(opts, runtime.WithPublisher(events.NewRedisSink(rdb, cfg.EventStream, cfg.EventStreamMax, logr)))
		if idem == nil {
			idem = idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL)
		}
	}

	rt := runtime.New(store, opts...)
	if err := bootstrap(ctx, rt, cfg); err != nil {
		return err
	}

	secret := cfg.JWTSecret
	if secret == "" {
		logr.Warn("JWT_SECRET not set, using development secret")
		secret = devJWTSecret
	}
	handler := api.NewHandler(rt, auth.NewTokenService(secret), idem, broker, logr)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Info("server starting", "port", cfg.Port, "backend", cfg.Backend, "height", rt.Height())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return produceBlocks(gctx, rt, cfg.BlockInterval, logr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logr.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openState opens the configured backend. The postgres backend also keeps
// idempotency keys next to the state.
func openState(ctx context.Context, cfg *config.Config) (state.Store, idempotency.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		if err := postgres.Migrate(cfg.DBSource); err != nil {
			return nil, nil, err
		}
		s, err := postgres.NewStore(ctx, cfg.DBSource)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		return s, idempotency.NewPostgresStore(s.Pool()), nil
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		return state.NewMemoryStore(), nil, nil
	}
}

// bootstrap loads existing state, or writes genesis into an empty store.
func bootstrap(ctx context.Context, rt *runtime.Runtime, cfg *config.Config) error {
	err := rt.Load(ctx)
	if !errors.Is(err, domain.ErrNotInitialized) {
		return err
	}

	var g runtime.Genesis
	switch {
	case cfg.GenesisFile != "":
		if g, err = runtime.ReadGenesis(cfg.GenesisFile); err != nil {
			return err
		}
	case cfg.IsDevelopment():
		g = runtime.DevGenesis()
	default:
		return fmt.Errorf("state is empty and no genesis file is configured")
	}
	return rt.Genesis(ctx, g)
}

// produceBlocks is the node's clock: one block per interval.
func produceBlocks(ctx context.Context, rt *runtime.Runtime, interval time.Duration, logr *slog.Logger) error {
	if interval == 0 {
		logr.Info("block production disabled")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := rt.AdvanceBlocks(ctx, 1); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("produce block: %w", err)
			}
		}
	}
}
