package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CesarNXT/topzap-engine/internal/config"
	"github.com/CesarNXT/topzap-engine/internal/dispatch"
	"github.com/CesarNXT/topzap-engine/internal/message"
	"github.com/CesarNXT/topzap-engine/internal/pkg/logger"
	"github.com/CesarNXT/topzap-engine/internal/provider"
	"github.com/CesarNXT/topzap-engine/internal/store"
)

// The worker drives the dispatch cycle on a fixed ticker for deployments
// without an external scheduler. The cycle itself is stateless, so killing
// and restarting the worker never loses work.
func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	log.Println("Starting TopZAP dispatch worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(!cfg.Logging.DisableRedaction)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := store.NewRepo(ctx, store.Config{
		TableName:         cfg.Store.TableName,
		Region:            cfg.Store.Region,
		Profile:           cfg.Store.GetAWSProfile(),
		Endpoint:          cfg.Store.Endpoint,
		AllowScanFallback: cfg.Store.AllowScanFallback,
	})
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}

	var guard *dispatch.TickGuard
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", cfg.Redis.Addr, err)
		}
		guard = dispatch.NewTickGuard(redisClient, "topzap:dispatch:tick", cfg.Dispatch.LockTTL())
	}

	sender := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.Timeout())
	cycle := dispatch.NewCycle(repo, sender, message.NewRenderer(), guard, cfg.Dispatch.TickPeriod())
	cycle.SetChunkSize(cfg.Dispatch.TenantChunkSize)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Dispatch.TickPeriod())
	defer ticker.Stop()

	log.Printf("Worker running, tick every %s", cfg.Dispatch.TickPeriod())
	for {
		select {
		case sig := <-sigCh:
			log.Printf("Received %v, stopping worker", sig)
			return
		case <-ticker.C:
			tickCtx, tickCancel := context.WithTimeout(ctx, cfg.Dispatch.TickPeriod())
			if _, err := cycle.RunTick(tickCtx); err != nil {
				log.Printf("Tick failed: %v", err)
			}
			tickCancel()
		}
	}
}
