// Package metrics holds the prometheus instruments shared by the transport
// adapter and the ingestion pipeline. Exposed on the ops router via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_ingest_messages_sent_total",
		Help: "Messages successfully published, by topic.",
	}, []string{"topic"})

	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_ingest_messages_consumed_total",
		Help: "Messages successfully processed, by topic.",
	}, []string{"topic"})

	MessagesDLQ = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_ingest_messages_dlq_total",
		Help: "Messages routed to a dead-letter topic, by original topic.",
	}, []string{"topic"})

	OrdersIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_ingest_orders_created_total",
		Help: "Orders persisted by the ingestion pipeline.",
	})

	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_ingest_validation_failures_total",
		Help: "Ingestion validation failures, by stage (schema or business).",
	}, []string{"stage"})

	LagAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_ingest_lag_alerts_total",
		Help: "Consumer lag alerts raised, by severity.",
	}, []string{"severity"})
)
