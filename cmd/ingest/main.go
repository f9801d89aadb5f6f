package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/omnia-oms/go-order-ingest/internal/config"
	"github.com/omnia-oms/go-order-ingest/internal/httpx"
	"github.com/omnia-oms/go-order-ingest/internal/ingest"
	kafkax "github.com/omnia-oms/go-order-ingest/internal/kafka"
	"github.com/omnia-oms/go-order-ingest/internal/orders"
	"github.com/omnia-oms/go-order-ingest/internal/postgres"
	"github.com/omnia-oms/go-order-ingest/internal/redisx"
	"github.com/omnia-oms/go-order-ingest/internal/schema"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", cfg.ServiceName)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	if err := kafkax.EnsureTopics(ctx, cfg.KafkaBrokers, kafkax.DefaultTopicSpecs()); err != nil {
		log.Error("topic setup failed", "error", err)
		os.Exit(1)
	}

	prod := kafkax.NewProducer(kafkax.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Source:       cfg.ServiceName,
		MaxRetries:   cfg.SendMaxRetries,
		RetryBackoff: cfg.SendRetryBackoff,
		SendTimeout:  cfg.SendTimeout,
	}, log)
	if err := prod.Connect(ctx); err != nil {
		log.Error("producer connect failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = prod.Disconnect() }()

	repo := orders.NewRepo(db)
	pipeline := ingest.NewPipeline(schema.NewRegistry(), repo, rdb, prod, log,
		cfg.ServiceName, cfg.ValidLocationIDs)

	cons := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.ConsumerGroup,
	}, prod, log)
	if err := cons.Connect(ctx); err != nil {
		log.Error("consumer connect failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = cons.Disconnect() }()

	cons.AddMessageHandler(schema.TopicOrderCreate, pipeline.HandleOrderCreate)
	cons.AddMessageHandler(schema.TopicOrderStatus, pipeline.HandleOrderStatus)
	if err := cons.Subscribe([]string{schema.TopicOrderCreate, schema.TopicOrderStatus}); err != nil {
		log.Error("subscribe failed", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := cons.Run(ctx); err != nil {
			log.Error("consumer exited", "error", err)
			cancel()
		}
	}()

	router := httpx.NewRouter(map[string]httpx.HealthChecker{
		"producer": prod,
		"consumer": cons,
	}, nil)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}
