package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outboundhq/engine/internal/batchprocessor"
	"github.com/outboundhq/engine/internal/bootstrap"
	"github.com/outboundhq/engine/internal/bus"
	"github.com/outboundhq/engine/internal/config"
	"github.com/outboundhq/engine/internal/pkg/logger"
	"github.com/outboundhq/engine/internal/repository/postgres"
	svcbatch "github.com/outboundhq/engine/internal/service/batch"
)

func main() {
	log.Println("Starting batch processor...")

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

	svc := svcbatch.NewService(postgres.NewBatchRepo(shared.DB))
	proc := batchprocessor.New(svc, shared.Hot, shared.Bus)

	sub, err := shared.Bus.PullSubscribe(ctx, bus.SubjectBatchProcess, "batchprocessor",
		cfg.Bus.AckWait(), cfg.Bus.MaxDeliver)
	if err != nil {
		log.Fatalf("subscribe to %s: %v", bus.SubjectBatchProcess, err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go runPump(ctx, sub, func(ctx context.Context, m bus.Msg) {
		if err := proc.HandleNotification(ctx, m.Data()); err != nil {
			logger.Error("batchprocessor: handle notification failed", "error", err.Error(), "delivered", m.Delivered())
			if nackErr := m.Nack(time.Second); nackErr != nil {
				logger.Error("batchprocessor: nack failed", "error", nackErr.Error())
			}
			return
		}
		if err := m.Ack(); err != nil {
			logger.Error("batchprocessor: ack failed", "error", err.Error())
		}
	})

	log.Println("Batch processor running...")
	<-quit
	log.Println("Shutting down batch processor...")
	cancel()
	time.Sleep(2 * time.Second)
	log.Println("Batch processor stopped")
}

// runPump fetches and dispatches messages from sub until ctx is
// cancelled; handle is responsible for Ack/Nack on every message it
// receives.
func runPump(ctx context.Context, sub bus.Subscription, handle func(context.Context, bus.Msg)) {
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
			logger.Error("pump: fetch failed", "error", err.Error())
			continue
		}
		for _, m := range msgs {
			handle(ctx, m)
		}
	}
}
