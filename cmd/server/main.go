package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CesarNXT/topzap-engine/internal/api"
	"github.com/CesarNXT/topzap-engine/internal/config"
	"github.com/CesarNXT/topzap-engine/internal/dispatch"
	"github.com/CesarNXT/topzap-engine/internal/message"
	"github.com/CesarNXT/topzap-engine/internal/pkg/logger"
	"github.com/CesarNXT/topzap-engine/internal/provider"
	"github.com/CesarNXT/topzap-engine/internal/service/campaign"
	"github.com/CesarNXT/topzap-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

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
	log.Printf("Store initialized (table %s, region %s)", cfg.Store.TableName, cfg.Store.Region)

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
		log.Printf("Tick guard enabled (redis %s)", cfg.Redis.Addr)
	} else {
		log.Printf("Tick guard disabled: no redis address configured")
	}

	sender := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.Timeout())
	renderer := message.NewRenderer()
	svc := campaign.NewService(repo)

	cycle := dispatch.NewCycle(repo, sender, renderer, guard, cfg.Dispatch.TickPeriod())
	cycle.SetChunkSize(cfg.Dispatch.TenantChunkSize)

	handlers := api.NewHandlers(svc, cycle, cfg.Server.TickSecret)
	server := api.NewServer(cfg.Server, handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		log.Printf("API server listening on %s", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down...", sig)
	case err := <-errCh:
		log.Printf("Server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
	log.Println("Server stopped")
}
