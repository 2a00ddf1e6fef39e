package domain

import (
	"context"
	"time"
)

// QuoteSnapshotCache keeps the latest live quote set per pair so other
// instances and the API can read it without hitting the quote source.
type QuoteSnapshotCache interface {
	SetSnapshot(ctx context.Context, set QuoteSet, ttl time.Duration) error
	GetSnapshot(ctx context.Context, pair PairKey) (QuoteSet, error)
	Delete(ctx context.Context, pair PairKey) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channels.
const (
	ChannelOpportunities = "opportunities"
	ChannelQuotes        = "quotes"
	ChannelScanStatus    = "scan_status"
)

// StreamOpportunities is the durable feed of recorded opportunity events.
// Dashboards replay it on connect.
const StreamOpportunities = "stream:opportunities"
