package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"campus-event-pipeline/internal/api"
	"campus-event-pipeline/internal/checkin"
	"campus-event-pipeline/internal/config"
	"campus-event-pipeline/internal/eligibility"
	"campus-event-pipeline/internal/queue"
	"campus-event-pipeline/internal/ratelimit"
	"campus-event-pipeline/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	clock := clockwork.NewRealClock()
	q := queue.New(st.Pool(), queue.Options{
		Lease:          cfg.ClaimLease,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
		Clock:          clock,
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	jobLimiter := ratelimit.NewTokenBucket(redisClient, "jobs", cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	scanLimiter := ratelimit.NewTokenBucket(redisClient, "scan", cfg.ScanLimitCapacity, cfg.ScanLimitRefill, time.Hour)

	server := api.New(cfg, st, q,
		checkin.NewService(st, cfg, clock),
		eligibility.New(st),
		jobLimiter, scanLimiter)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
