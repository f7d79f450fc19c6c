package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/ignite/sequence-engine/internal/campaign"
	"github.com/ignite/sequence-engine/internal/config"
	"github.com/ignite/sequence-engine/internal/contacts"
	"github.com/ignite/sequence-engine/internal/delivery"
	"github.com/ignite/sequence-engine/internal/dispatch"
	"github.com/ignite/sequence-engine/internal/pkg/distlock"
	"github.com/ignite/sequence-engine/internal/quota"
	"github.com/ignite/sequence-engine/internal/repository/postgres"
	"github.com/ignite/sequence-engine/internal/worker"
)

func main() {
	log.Println("Starting sequence-engine dispatch worker...")

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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()
	log.Println("Connected to database")

	if cfg.Redis.Addr == "" {
		log.Fatal("redis.addr is required: coverage scheduling reads the quota ledger")
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

	queue := dispatch.NewPostgresScheduler(db)

	var sender delivery.Sender
	if cfg.Delivery.Provider == "ses" {
		sender, err = delivery.NewSESSender(cfg.Delivery)
		if err != nil {
			log.Fatalf("Failed to initialize SES sender: %v", err)
		}
		log.Println("Delivery provider: AWS SES")
	} else {
		sender = delivery.NewClient(cfg.Delivery)
		log.Printf("Delivery provider: HTTP (%s)", cfg.Delivery.BaseURL)
	}

	repo := postgres.NewCampaignRepo(db)
	supp := postgres.NewSuppressionRepo(db)

	ledger := quota.NewRedisLedger(rdb, cfg.Quota.DefaultDailyLimit)
	svc := campaign.NewService(repo, contacts.NewPostgresSource(db), ledger, queue)
	svc.SetRestrictMode(cfg.Quota.RestrictMode, cfg.Quota.RestrictWindowDays)
	svc.SetLockFactory(func(key string) distlock.DistLock {
		return distlock.NewLock(rdb, db, key, 10*time.Minute)
	})

	w := worker.NewDispatchWorker(db, queue, sender, repo, supp)
	w.SetCoverage(svc)
	w.SetPollInterval(time.Duration(cfg.Scheduler.PollIntervalSeconds) * time.Second)
	w.SetClaimBatch(cfg.Scheduler.ClaimBatchSize)
	if err := w.Start(); err != nil {
		log.Fatalf("Failed to start dispatch worker: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	w.Stop()
}
