package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// QuoteStore implements domain.HistoricalQuoteStore using PostgreSQL. Every
// live refresh appends one row per venue; the fallback tier reads the most
// recent rows back.
type QuoteStore struct {
	pool *pgxpool.Pool
}

// NewQuoteStore creates a new QuoteStore backed by the given connection pool.
func NewQuoteStore(pool *pgxpool.Pool) *QuoteStore {
	return &QuoteStore{pool: pool}
}

// SaveQuotes appends every quote in the set.
func (s *QuoteStore) SaveQuotes(ctx context.Context, set domain.QuoteSet) error {
	if len(set.Quotes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO venue_quotes (
			pair_label, chain_id, base_token, quote_token,
			venue, price, fee_rate, liquidity_usd, gas_estimate_usd,
			provenance, quoted_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11
		)`

	for _, q := range set.Quotes {
		quotedAt := q.Timestamp
		if quotedAt.IsZero() {
			quotedAt = set.FetchedAt
		}
		batch.Queue(query,
			set.Pair.Label(), set.Pair.ChainID, set.Pair.Base, set.Pair.Quote,
			q.Venue, q.Price, q.FeeRate, q.LiquidityUSD, q.GasEstimateUSD,
			string(q.Provenance), quotedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: save quote batch item %d for %s: %w", i, set.Pair, err)
		}
	}
	return nil
}

// GetRecentQuotes returns up to limit quotes for the pair label on chainID,
// newest first.
func (s *QuoteStore) GetRecentQuotes(ctx context.Context, label string, chainID int64, limit int) ([]domain.PriceQuote, error) {
	query := `
		SELECT venue, price, fee_rate, liquidity_usd, gas_estimate_usd, provenance, quoted_at
		FROM venue_quotes
		WHERE pair_label = $1 AND chain_id = $2
		ORDER BY quoted_at DESC, id DESC`
	args := []any{label, chainID}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent quotes %s: %w", label, err)
	}
	defer rows.Close()

	var quotes []domain.PriceQuote
	for rows.Next() {
		var q domain.PriceQuote
		var prov string
		if err := rows.Scan(&q.Venue, &q.Price, &q.FeeRate, &q.LiquidityUSD, &q.GasEstimateUSD, &prov, &q.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan quote: %w", err)
		}
		q.Provenance = domain.Provenance(prov)
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: recent quotes rows: %w", err)
	}
	return quotes, nil
}

var _ domain.HistoricalQuoteStore = (*QuoteStore)(nil)
