package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"gearbase/internal/config"
	"gearbase/internal/database"
	httpapi "gearbase/internal/http"
	"gearbase/internal/lifecycle"
	"gearbase/internal/logger"
	"gearbase/internal/registry"
	"gearbase/internal/service"
	"gearbase/internal/storage"
	"gearbase/internal/store"
	"gearbase/internal/tenantdb"
	"gearbase/internal/usage"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "gearbase")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	registryDB, err := database.NewPostgresDB(&cfg.Registry, cfg.Pool.MaxOpen, cfg.Pool.MaxIdle)
	if err != nil {
		log.Fatal("failed to connect to master registry", zap.Error(err))
	}

	reg := registry.NewPostgresRegistry(registryDB)
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := reg.EnsureSchema(bootCtx); err != nil {
		bootCancel()
		log.Fatal("failed to bootstrap registry schema", zap.Error(err))
	}
	bootCancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	kv := store.NewRedisKV(redisClient)

	cache := tenantdb.NewCache(tenantdb.Options{
		PoolMaxOpen:     cfg.Pool.MaxOpen,
		PoolMaxIdle:     cfg.Pool.MaxIdle,
		ConnectTimeout:  cfg.Cache.ConnectTimeout,
		InvalidateGrace: cfg.Cache.InvalidateGrace,
	}, log)
	resolver := tenantdb.NewResolver(reg, cache, cfg.Cache.ResolveTimeout, log)

	provider := storage.NewRestyProvider(cfg.Storage.BaseURL, cfg.Storage.Token, log)
	monitor := usage.NewMonitor(reg, cache, provider, kv, log)

	allocator := lifecycle.NewPostgresAllocator(registryDB, cfg.Registry.DSNTemplate())
	manager := lifecycle.NewManager(
		reg,
		cache,
		provider,
		allocator,
		lifecycle.NewPostgresTenantSchema(),
		monitor,
		cfg.LimitsFor,
		log,
	)

	router := httpapi.NewRouter(log)
	router.RegisterHealthRoutes()
	router.RegisterAdminTenantRoutes(httpapi.NewTenantAdminHandler(manager, reg, monitor, log))

	// Business CRUD services mount behind the tenant middleware and pull
	// the resolved connection from the request context.
	mw := httpapi.NewTenantMiddleware(resolver, kv, log)
	router.RegisterTenantDataRoutes(mw, "/data/api/v1/tenant/info", httpapi.NewTenantInfoHandler(log))

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// periodic idle-pool eviction bounds the number of open tenant pools
	go func() {
		ticker := time.NewTicker(cfg.Cache.EvictInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := cache.EvictIdle(cfg.Cache.MaxIdle); n > 0 {
					log.Debug("evicted idle tenant connections", zap.Int("count", n))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	_ = cache.Close()
	_ = redisClient.Close()
	_ = registryDB.Close()
}
