package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kasirdapur/backend/internal/cache"
	"kasirdapur/backend/internal/config"
	"kasirdapur/backend/internal/httpapi"
	"kasirdapur/backend/internal/notify"
	"kasirdapur/backend/internal/service"
	"kasirdapur/backend/internal/stats"
	"kasirdapur/backend/internal/store"
	"kasirdapur/backend/internal/store/memory"
	pgstore "kasirdapur/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		} else {
			repo = pg
			closers = append(closers, pg.Close)
			log.Println("repository: postgres")
		}
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	cacheStore := cache.StatsCache(cache.NoopStatsCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStatsCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			cacheStore = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	collector := stats.NewCollector(repo, cacheStore, time.Duration(cfg.StatsTTLSeconds)*time.Second)

	var sender notify.Sender = notify.LogSender{}
	if cfg.ReceiptWebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.ReceiptWebhookURL)
		log.Println("receipts: webhook")
	} else {
		log.Println("receipts: log only")
	}

	svc := service.New(repo, collector, sender, nil, service.Options{
		StockCheckTimeout:        time.Duration(cfg.StockCheckTimeoutMS) * time.Millisecond,
		PriceDriftToleranceCents: cfg.PriceDriftToleranceCents,
		TotalDriftToleranceCents: cfg.TotalDriftToleranceCents,
		DefaultStrategy:          cfg.DefaultBatchStrategy,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	scanCtx, scanCancel := context.WithCancel(context.Background())
	defer scanCancel()
	go collector.RunValuationScan(scanCtx, time.Duration(cfg.ValuationScanMinutes)*time.Minute)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	scanCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
