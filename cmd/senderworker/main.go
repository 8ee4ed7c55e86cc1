package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outboundhq/engine/internal/bootstrap"
	"github.com/outboundhq/engine/internal/bus"
	"github.com/outboundhq/engine/internal/config"
	"github.com/outboundhq/engine/internal/eventstore"
	"github.com/outboundhq/engine/internal/pkg/logger"
	"github.com/outboundhq/engine/internal/reconciler"
	"github.com/outboundhq/engine/internal/repository/postgres"
	"github.com/outboundhq/engine/internal/senderworker"
	svcbatch "github.com/outboundhq/engine/internal/service/batch"
)

func main() {
	log.Println("Starting sender worker...")

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

	registry, err := bootstrap.ModuleRegistry(ctx, cfg)
	if err != nil {
		log.Fatalf("build module registry: %v", err)
	}

	recipients := postgres.NewRecipientRepo(shared.DB)
	events := eventstore.NewWriter(shared.DB)
	worker := senderworker.New(shared.Hot, recipients, registry, events)

	svc := svcbatch.NewService(postgres.NewBatchRepo(shared.DB))
	syncer := postgres.NewHotStateSyncer(shared.Hot, recipients)
	// Every sender worker process runs its own reconciler drain loop;
	// only the leader additionally runs the stuck-batch scan (spec
	// §4.6), so a single-process deployment without leader election
	// still drains pending-sync without ever claiming stuck batches.
	rec := reconciler.New(shared.Hot, svc, syncer, 500, cfg.Reconciler.StuckAfter(), func() bool { return false })
	go rec.Run(ctx, cfg.Reconciler.DrainInterval())

	sub, err := shared.Bus.PullSubscribe(ctx, "user.*.chunk", "senderworker",
		cfg.Bus.AckWait(), cfg.Bus.MaxDeliver)
	if err != nil {
		log.Fatalf("subscribe to user.*.chunk: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go pumpChunks(ctx, sub, worker)

	log.Println("Sender worker running...")
	<-quit
	log.Println("Shutting down sender worker...")
	cancel()
	time.Sleep(2 * time.Second)
	log.Println("Sender worker stopped")
}

func pumpChunks(ctx context.Context, sub bus.Subscription, worker *senderworker.Worker) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgs, err := sub.Fetch(ctx, 10)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("senderworker pump: fetch failed", "error", err.Error())
			continue
		}
		for _, m := range msgs {
			handleChunk(ctx, worker, m)
		}
	}
}

func handleChunk(ctx context.Context, worker *senderworker.Worker, m bus.Msg) {
	err := worker.HandleChunk(ctx, m.Data())
	if err == nil {
		if ackErr := m.Ack(); ackErr != nil {
			logger.Error("senderworker: ack failed", "error", ackErr.Error())
		}
		return
	}
	if nack, ok := err.(*senderworker.ErrNack); ok {
		logger.Warn("senderworker: nacking chunk", "reason", nack.Reason, "delivered", m.Delivered())
		if nackErr := m.Nack(nack.RetryAfter); nackErr != nil {
			logger.Error("senderworker: nack failed", "error", nackErr.Error())
		}
		return
	}
	logger.Error("senderworker: non-recoverable chunk failure", "error", err.Error(), "delivered", m.Delivered())
	if nackErr := m.Nack(time.Second); nackErr != nil {
		logger.Error("senderworker: nack failed", "error", nackErr.Error())
	}
}
