package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"campus-event-pipeline/internal/config"
	"campus-event-pipeline/internal/models"
	"campus-event-pipeline/internal/queue"
	"campus-event-pipeline/internal/store"
	"campus-event-pipeline/internal/telemetry"
	workerproc "campus-event-pipeline/internal/worker"
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

	q := queue.New(st.Pool(), queue.Options{
		Lease:          cfg.ClaimLease,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
	})

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	processor := workerproc.NewProcessor(cfg, q, workerID)

	uploader, err := workerproc.NewUploader(ctx, cfg)
	if err != nil {
		log.Fatalf("init uploader: %v", err)
	}
	certHandler := workerproc.NewCertificateHandler(cfg, st, uploader)
	notifHandler := workerproc.NewNotificationHandler(st)
	processor.RegisterHandler(models.JobCertificateGeneration, certHandler.Handle)
	processor.RegisterHandler(models.JobBulkNotification, notifHandler.HandleBulk)
	processor.RegisterHandler(models.JobSingleNotification, notifHandler.HandleSingle)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker %s started with lease=%s poll=%s batch=%d", workerID, cfg.ClaimLease, cfg.WorkerPollInterval, cfg.WorkerBatchSize)
	if err := processor.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
