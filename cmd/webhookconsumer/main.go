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
	"github.com/outboundhq/engine/internal/eventstore"
	"github.com/outboundhq/engine/internal/repository/postgres"
	"github.com/outboundhq/engine/internal/webhookconsumer"
)

func main() {
	log.Println("Starting webhook consumer...")

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

	events := eventstore.NewWriter(shared.DB)
	recipients := postgres.NewRecipientRepo(shared.DB)
	batches := postgres.NewBatchRepo(shared.DB)

	sub, err := shared.Bus.PullSubscribe(ctx, "webhook.>", "webhookconsumer",
		cfg.Bus.AckWait(), cfg.Bus.MaxDeliver)
	if err != nil {
		log.Fatalf("subscribe to webhook.>: %v", err)
	}

	consumer := webhookconsumer.New(sub, events, events, recipients, batches)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go consumer.Run(ctx)

	log.Println("Webhook consumer running...")
	<-quit
	log.Println("Shutting down webhook consumer...")
	cancel()
	time.Sleep(2 * time.Second)
	log.Println("Webhook consumer stopped")
}
