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
	kafkax "github.com/omnia-oms/go-order-ingest/internal/kafka"
	"github.com/omnia-oms/go-order-ingest/internal/lagmon"
	"github.com/omnia-oms/go-order-ingest/internal/schema"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", cfg.ServiceName+"-lagmon")
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := kafkax.NewOffsetReader(cfg.KafkaBrokers, cfg.SendTimeout)

	var targets []lagmon.Target
	for _, group := range cfg.LagMonitorGroups {
		for _, topic := range []string{schema.TopicOrderCreate, schema.TopicOrderStatus, schema.TopicOrderValidation} {
			targets = append(targets, lagmon.Target{GroupID: group, Topic: topic})
		}
	}

	monitor := lagmon.NewMonitor(lagmon.Config{
		Interval: cfg.LagPollInterval,
		Thresholds: lagmon.Thresholds{
			WarningLag:        cfg.WarningLag,
			CriticalLag:       cfg.CriticalLag,
			WarningLatencyMs:  cfg.WarningLatencyMs,
			CriticalLatencyMs: cfg.CriticalLatencyMs,
		},
		Targets: targets,
	}, reader, log)
	monitor.Start(ctx)

	router := httpx.NewRouter(nil, monitor)
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
	monitor.Stop()
}
