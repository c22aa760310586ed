package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openarb/arbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityRepository.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a store backed by the given connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunityCols = `id, pair, buy_venue, sell_venue, buy_price, sell_price,
	buy_qty, sell_qty, effective_qty, spread, spread_pct,
	estimated_profit, profit_after_fees, profit_pct, status, reason, detected_at`

// SaveOpportunity upserts a detected opportunity. Re-saving after a status
// transition updates status and reason in place.
func (s *OpportunityStore) SaveOpportunity(ctx context.Context, opp domain.ArbitrageOpportunity) error {
	const query = `
		INSERT INTO opportunities (` + opportunityCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.Pair.String(), opp.BuyVenue, opp.SellVenue, opp.BuyPrice, opp.SellPrice,
		opp.BuyQty, opp.SellQty, opp.EffectiveQty, opp.Spread, opp.SpreadPct,
		opp.EstimatedProfit, opp.ProfitAfterFees, opp.ProfitPct,
		string(opp.Status), opp.Reason, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// SaveTradeResult stores the outcome of an execution attempt together with
// both leg results, and brings the opportunity row to its terminal status.
// The writes run in one transaction.
func (s *OpportunityStore) SaveTradeResult(ctx context.Context, res domain.ArbitrageTradeResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin trade result tx: %w", err)
	}
	defer tx.Rollback(ctx)

	opp := res.Opportunity
	if err := s.saveOpportunityTx(ctx, tx, opp); err != nil {
		return err
	}

	const resultQuery = `
		INSERT INTO trade_results (opportunity_id, realized_profit, is_success, status, reason, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (opportunity_id) DO UPDATE SET
			realized_profit = EXCLUDED.realized_profit,
			is_success      = EXCLUDED.is_success,
			status          = EXCLUDED.status,
			reason          = EXCLUDED.reason,
			completed_at    = EXCLUDED.completed_at`
	_, err = tx.Exec(ctx, resultQuery,
		opp.ID, res.RealizedProfit, res.IsSuccess, string(opp.Status), opp.Reason, res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save trade result %s: %w", opp.ID, err)
	}

	for _, leg := range []*domain.TradeResult{res.BuyResult, res.SellResult} {
		if leg == nil {
			continue
		}
		if err := s.saveLegTx(ctx, tx, opp.ID, *leg); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit trade result %s: %w", opp.ID, err)
	}
	return nil
}

func (s *OpportunityStore) saveOpportunityTx(ctx context.Context, tx pgx.Tx, opp domain.ArbitrageOpportunity) error {
	const query = `
		INSERT INTO opportunities (` + opportunityCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason`
	_, err := tx.Exec(ctx, query,
		opp.ID, opp.Pair.String(), opp.BuyVenue, opp.SellVenue, opp.BuyPrice, opp.SellPrice,
		opp.BuyQty, opp.SellQty, opp.EffectiveQty, opp.Spread, opp.SpreadPct,
		opp.EstimatedProfit, opp.ProfitAfterFees, opp.ProfitPct,
		string(opp.Status), opp.Reason, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save opportunity %s: %w", opp.ID, err)
	}
	return nil
}

func (s *OpportunityStore) saveLegTx(ctx context.Context, tx pgx.Tx, oppID string, leg domain.TradeResult) error {
	const query = `
		INSERT INTO trade_legs (
			id, opportunity_id, venue_id, pair, side,
			requested_qty, executed_qty, executed_price, fee,
			execution_time_ms, is_success, error_message, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`
	_, err := tx.Exec(ctx, query,
		leg.ID, oppID, leg.VenueID, leg.Pair.String(), string(leg.Side),
		leg.RequestedQty, leg.ExecutedQty, leg.ExecutedPrice, leg.Fee,
		leg.ExecutionTimeMs, leg.IsSuccess, leg.ErrorMessage, leg.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save trade leg %s: %w", leg.ID, err)
	}
	return nil
}

// QueryByTimeRange returns opportunities detected within [from, to), newest
// first.
func (s *OpportunityStore) QueryByTimeRange(ctx context.Context, from, to time.Time) ([]domain.ArbitrageOpportunity, error) {
	const query = `
		SELECT ` + opportunityCols + `
		FROM opportunities
		WHERE detected_at >= $1 AND detected_at < $2
		ORDER BY detected_at DESC`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: query opportunities by time range: %w", err)
	}
	defer rows.Close()
	return scanOpportunities(rows)
}

// ListRecent returns the most recently detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbitrageOpportunity, error) {
	query := `SELECT ` + opportunityCols + ` FROM opportunities ORDER BY detected_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()
	return scanOpportunities(rows)
}

func scanOpportunities(rows pgx.Rows) ([]domain.ArbitrageOpportunity, error) {
	var opps []domain.ArbitrageOpportunity
	for rows.Next() {
		var (
			opp    domain.ArbitrageOpportunity
			pair   string
			status string
		)
		if err := rows.Scan(
			&opp.ID, &pair, &opp.BuyVenue, &opp.SellVenue, &opp.BuyPrice, &opp.SellPrice,
			&opp.BuyQty, &opp.SellQty, &opp.EffectiveQty, &opp.Spread, &opp.SpreadPct,
			&opp.EstimatedProfit, &opp.ProfitAfterFees, &opp.ProfitPct,
			&status, &opp.Reason, &opp.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opp.Pair = domain.ParsePair(pair)
		opp.Status = domain.OpportunityStatus(status)
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: opportunity rows: %w", err)
	}
	return opps, nil
}

// Compile-time interface check.
var _ domain.OpportunityRepository = (*OpportunityStore)(nil)
