package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/ignite/sequence-engine/internal/api"
	"github.com/ignite/sequence-engine/internal/campaign"
	"github.com/ignite/sequence-engine/internal/config"
	"github.com/ignite/sequence-engine/internal/contacts"
	"github.com/ignite/sequence-engine/internal/dispatch"
	"github.com/ignite/sequence-engine/internal/pkg/distlock"
	"github.com/ignite/sequence-engine/internal/quota"
	"github.com/ignite/sequence-engine/internal/repository/postgres"
	"github.com/ignite/sequence-engine/internal/storage"
	"github.com/ignite/sequence-engine/internal/suppression"
)

func main() {
	log.Println("Starting sequence-engine API server...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()
	log.Println("Connected to database")

	if cfg.Redis.Addr == "" {
		log.Fatal("redis.addr is required: the quota ledger lives in Redis")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to ping Redis: %v", err)
	}
	log.Println("Connected to Redis")

	ledger := quota.NewRedisLedger(rdb, cfg.Quota.DefaultDailyLimit)
	repo := postgres.NewCampaignRepo(db)
	source := contacts.NewPostgresSource(db)
	scheduler := dispatch.NewPostgresScheduler(db)
	suppressions := postgres.NewSuppressionRepo(db)

	svc := campaign.NewService(repo, source, ledger, scheduler)
	svc.SetRestrictMode(cfg.Quota.RestrictMode, cfg.Quota.RestrictWindowDays)
	svc.SetLockFactory(func(key string) distlock.DistLock {
		return distlock.NewLock(rdb, db, key, 10*time.Minute)
	})

	handlers := api.NewHandlers(svc, ledger, suppressions)

	if cfg.Storage.Bucket != "" {
		store, err := storage.NewS3Store(context.Background(), cfg.Storage.Bucket, cfg.Storage.Region, cfg.Storage.Profile)
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
		handlers.SetImporter(suppression.NewImporter(db, store))
		log.Printf("Bulk suppression import enabled (bucket %s)", cfg.Storage.Bucket)
	}

	router := api.SetupRoutes(handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
