package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"casedesk/internal/util"
	"casedesk/pkg/notify"
	"casedesk/services/notifier/internal/app"
	"casedesk/services/notifier/internal/config"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.InitLogger(cfg.LogLevel)

	publisher, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		log.Fatalf("failed to init amqp publisher: %v", err)
	}
	defer publisher.Close()

	consumer, err := notify.NewStreamConsumer(notify.StreamConsumerConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.NotifyStream,
		Group:      cfg.ConsumerGroup,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		log.Fatalf("failed to init stream consumer: %v", err)
	}

	worker := app.New(publisher)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     util.WithRequestID(util.WithRequestLog("notifier", mux)),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		slog.Info("notifier consuming", "stream", cfg.NotifyStream, "group", cfg.ConsumerGroup)
		return consumer.Run(ctx, cfg.Concurrency, worker.Handle)
	})
	g.Go(func() error {
		slog.Info("notifier server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Error("notifier stopped", "err", err)
	}
}
