package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, token_pair, buy_venue, sell_venue,
	buy_price, sell_price, adjusted_buy_price, adjusted_sell_price,
	buy_price_impact_pct, sell_price_impact_pct,
	trading_fees, platform_fee, gas_fee,
	gross_profit, net_profit, net_profit_pct,
	investment_amount, liquidity_usd,
	buy_fee_rate, sell_fee_rate, buy_liquidity_usd, sell_liquidity_usd,
	network, chain_id, provenance, confidence, created_at`

// InsertBatch stores opportunities. Ids are deterministic, so re-inserting
// the same opportunity is a no-op.
func (s *OpportunityStore) InsertBatch(ctx context.Context, opps []domain.ArbitrageOpportunity) error {
	if len(opps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO opportunities (` + opportunitySelectCols + `) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10,
			$11, $12, $13,
			$14, $15, $16,
			$17, $18,
			$19, $20, $21, $22,
			$23, $24, $25, $26, $27
		) ON CONFLICT (id) DO NOTHING`

	for _, o := range opps {
		batch.Queue(query,
			o.ID, o.TokenPair, o.BuyVenue, o.SellVenue,
			o.BuyPrice, o.SellPrice, o.AdjustedBuyPrice, o.AdjustedSellPrice,
			o.BuyPriceImpactPct, o.SellPriceImpactPct,
			o.TradingFees, o.PlatformFee, o.GasFee,
			o.GrossProfit, o.NetProfit, o.NetProfitPct,
			o.InvestmentAmount, o.LiquidityUSD,
			o.BuyFeeRate, o.SellFeeRate, o.BuyLiquidityUSD, o.SellLiquidityUSD,
			o.Network, o.ChainID, string(o.Provenance), string(o.Confidence), o.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range opps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert opportunity batch item %d: %w", i, err)
		}
	}
	return nil
}

// GetByID returns one opportunity or domain.ErrNotFound.
func (s *OpportunityStore) GetByID(ctx context.Context, id string) (domain.ArbitrageOpportunity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+opportunitySelectCols+` FROM opportunities WHERE id = $1`, id)
	o, err := scanOpportunity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ArbitrageOpportunity{}, domain.ErrNotFound
		}
		return domain.ArbitrageOpportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	return o, nil
}

// ListRecent returns the newest opportunities first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbitrageOpportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities ORDER BY created_at DESC, net_profit_pct DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.list(ctx, "list recent", query, args...)
}

// ListBefore returns opportunities created before the cutoff, oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ArbitrageOpportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities WHERE created_at < $1 ORDER BY created_at ASC, id ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.list(ctx, "list before", query, args...)
}

// DeleteBefore removes opportunities created before the cutoff and reports
// how many rows went.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *OpportunityStore) list(ctx context.Context, op, query string, args ...any) ([]domain.ArbitrageOpportunity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s opportunities: %w", op, err)
	}
	defer rows.Close()

	var opps []domain.ArbitrageOpportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s opportunities rows: %w", op, err)
	}
	return opps, nil
}

func scanOpportunity(row pgx.Row) (domain.ArbitrageOpportunity, error) {
	var o domain.ArbitrageOpportunity
	var prov, conf string
	err := row.Scan(
		&o.ID, &o.TokenPair, &o.BuyVenue, &o.SellVenue,
		&o.BuyPrice, &o.SellPrice, &o.AdjustedBuyPrice, &o.AdjustedSellPrice,
		&o.BuyPriceImpactPct, &o.SellPriceImpactPct,
		&o.TradingFees, &o.PlatformFee, &o.GasFee,
		&o.GrossProfit, &o.NetProfit, &o.NetProfitPct,
		&o.InvestmentAmount, &o.LiquidityUSD,
		&o.BuyFeeRate, &o.SellFeeRate, &o.BuyLiquidityUSD, &o.SellLiquidityUSD,
		&o.Network, &o.ChainID, &prov, &conf, &o.CreatedAt,
	)
	o.Provenance = domain.Provenance(prov)
	o.Confidence = domain.Confidence(conf)
	return o, err
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
