package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/annabazaar/pricingengine/internal/domain"
)

// mandiFindLimit caps the rows returned per lookup. The resolver only needs
// the newest few records of a tier.
const mandiFindLimit = 50

// MandiPriceStore implements domain.MandiPriceStore using PostgreSQL.
type MandiPriceStore struct {
	pool *pgxpool.Pool
}

// NewMandiPriceStore creates a new MandiPriceStore backed by the given pool.
func NewMandiPriceStore(pool *pgxpool.Pool) *MandiPriceStore {
	return &MandiPriceStore{pool: pool}
}

const upsertMandiPrice = `
	INSERT INTO mandi_prices (
		commodity_name, variety, market_name, state, district,
		min_price_per_quintal, max_price_per_quintal, modal_price_per_quintal,
		price_date, ingested_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8,
		$9, NOW()
	)
	ON CONFLICT (commodity_name, state, district, market_name, variety, price_date) DO UPDATE SET
		min_price_per_quintal   = EXCLUDED.min_price_per_quintal,
		max_price_per_quintal   = EXCLUDED.max_price_per_quintal,
		modal_price_per_quintal = EXCLUDED.modal_price_per_quintal,
		ingested_at             = NOW()`

// UpsertBatch inserts or refreshes mandi observations in a single batch.
func (s *MandiPriceStore) UpsertBatch(ctx context.Context, prices []domain.MandiPrice) error {
	if len(prices) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(upsertMandiPrice,
			p.CommodityName, p.Variety, p.MarketName, p.State, p.District,
			p.MinPricePerQuintal, p.MaxPricePerQuintal, p.ModalPricePerQuintal,
			p.PriceDate,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range prices {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert mandi price batch item %d: %w", i, err)
		}
	}
	return nil
}

// Find returns the newest records for commodity, restricted to the state and
// district set on loc. Matching is case-insensitive.
func (s *MandiPriceStore) Find(ctx context.Context, commodity string, loc *domain.Location) ([]domain.MandiPrice, error) {
	query, args := buildMandiFind(commodity, loc)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find mandi prices %s: %w", commodity, err)
	}
	defer rows.Close()

	var out []domain.MandiPrice
	for rows.Next() {
		var p domain.MandiPrice
		if err := rows.Scan(
			&p.CommodityName, &p.Variety, &p.MarketName, &p.State, &p.District,
			&p.MinPricePerQuintal, &p.MaxPricePerQuintal, &p.ModalPricePerQuintal,
			&p.PriceDate,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan mandi price: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: find mandi prices rows: %w", err)
	}
	return out, nil
}

func buildMandiFind(commodity string, loc *domain.Location) (string, []any) {
	query := `SELECT commodity_name, variety, market_name, state, district,
		min_price_per_quintal::float8, max_price_per_quintal::float8, modal_price_per_quintal::float8,
		price_date
		FROM mandi_prices
		WHERE lower(commodity_name) = lower($1) AND modal_price_per_quintal > 0`
	args := []any{strings.TrimSpace(commodity)}
	argIdx := 2

	if loc != nil {
		if loc.State != "" {
			query += fmt.Sprintf(" AND lower(state) = lower($%d)", argIdx)
			args = append(args, strings.TrimSpace(loc.State))
			argIdx++
		}
		if loc.District != "" {
			query += fmt.Sprintf(" AND lower(district) = lower($%d)", argIdx)
			args = append(args, strings.TrimSpace(loc.District))
			argIdx++
		}
	}

	query += fmt.Sprintf(" ORDER BY price_date DESC, ingested_at DESC LIMIT $%d", argIdx)
	args = append(args, mandiFindLimit)
	return query, args
}

// LatestDate returns the newest price date stored for commodity, or
// domain.ErrNotFound when there is none.
func (s *MandiPriceStore) LatestDate(ctx context.Context, commodity string) (time.Time, error) {
	var latest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT max(price_date) FROM mandi_prices WHERE lower(commodity_name) = lower($1)`,
		strings.TrimSpace(commodity),
	).Scan(&latest)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("postgres: latest mandi date %s: %w", commodity, err)
	}
	if latest == nil {
		return time.Time{}, domain.ErrNotFound
	}
	return *latest, nil
}
