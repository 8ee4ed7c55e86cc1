package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outboundhq/engine/internal/bootstrap"
	"github.com/outboundhq/engine/internal/config"
	"github.com/outboundhq/engine/internal/leader"
	"github.com/outboundhq/engine/internal/reconciler"
	"github.com/outboundhq/engine/internal/repository/postgres"
	svcbatch "github.com/outboundhq/engine/internal/service/batch"
)

func main() {
	log.Println("Starting leader election / scheduler...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shared, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer shared.Close()

	election := leader.New(shared.Hot, cfg.Leader.LockKey, cfg.Leader.TTL(), cfg.Leader.Heartbeat())
	go election.Run(ctx)

	svc := svcbatch.NewService(postgres.NewBatchRepo(shared.DB))
	scheduler := leader.NewScheduler(svc, election)
	go scheduler.Run(ctx)

	queuedBus := leader.NewQueuedBus(svc, shared.Bus, election)
	go queuedBus.Run(ctx)

	recipients := postgres.NewRecipientRepo(shared.DB)
	syncer := postgres.NewHotStateSyncer(shared.Hot, recipients)
	rec := reconciler.New(shared.Hot, svc, syncer, 500, cfg.Reconciler.StuckAfter(), election.IsLeader)
	go rec.Run(ctx, cfg.Reconciler.DrainInterval())
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rec.ScanStuckBatches(ctx); err != nil {
					log.Printf("stuck-batch scan: %v", err)
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	log.Println("Leader/scheduler process running...")
	<-quit
	log.Println("Shutting down leader/scheduler...")
	cancel()
	if err := election.Release(context.Background()); err != nil {
		log.Printf("release leader lock: %v", err)
	}
	time.Sleep(2 * time.Second)
	log.Println("Leader/scheduler stopped")
}
