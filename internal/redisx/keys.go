package redisx

import "time"

const (
	// Message dedup for the ingestion pipeline: dedup:ingest:{message_id} -> order_id
	KeyDedupMessage = "dedup:ingest:%s"

	// Idempotency shortcut for created orders: idem:order:{order_number} -> order_id
	KeyIdemOrder = "idem:order:%s"
)

var (
	TTLDedup       = 48 * time.Hour
	TTLIdempotency = 24 * time.Hour
)
