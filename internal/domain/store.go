package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// HistoricalQuoteStore persists venue quotes so a later scan can fall back
// to them when the live source is down.
type HistoricalQuoteStore interface {
	// GetRecentQuotes returns quotes for the pair label, most recent first.
	GetRecentQuotes(ctx context.Context, label string, chainID int64, limit int) ([]PriceQuote, error)
	SaveQuotes(ctx context.Context, set QuoteSet) error
}

// OpportunityStore persists opportunity history.
type OpportunityStore interface {
	InsertBatch(ctx context.Context, opps []ArbitrageOpportunity) error
	GetByID(ctx context.Context, id string) (ArbitrageOpportunity, error)
	ListRecent(ctx context.Context, limit int) ([]ArbitrageOpportunity, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]ArbitrageOpportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEvent names something operators may want to trace after the fact.
type AuditEvent string

const (
	AuditOpportunitiesRecorded AuditEvent = "opportunities_recorded"
	AuditScanTargetChanged     AuditEvent = "scan_target_changed"
	AuditOpportunitiesArchived AuditEvent = "archive.opportunities"
)

// Valid reports whether e is a known event.
func (e AuditEvent) Valid() bool {
	switch e {
	case AuditOpportunitiesRecorded, AuditScanTargetChanged, AuditOpportunitiesArchived:
		return true
	}
	return false
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     AuditEvent     `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditFilter narrows an audit listing. A zero Event matches every event.
type AuditFilter struct {
	Event AuditEvent
	ListOpts
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event AuditEvent, detail map[string]any) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}
