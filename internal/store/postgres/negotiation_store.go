package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/annabazaar/pricingengine/internal/domain"
)

// NegotiationStore implements domain.NegotiationStore using PostgreSQL.
type NegotiationStore struct {
	pool *pgxpool.Pool
}

// NewNegotiationStore creates a new NegotiationStore backed by the given pool.
func NewNegotiationStore(pool *pgxpool.Pool) *NegotiationStore {
	return &NegotiationStore{pool: pool}
}

// Create inserts a negotiation together with any opening offers in one
// transaction.
func (s *NegotiationStore) Create(ctx context.Context, n domain.Negotiation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create negotiation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var state, district string
	if n.Location != nil {
		state, district = n.Location.State, n.Location.District
	}

	const query = `
		INSERT INTO negotiations (
			id, product_id, commodity_name, grade, state, district,
			buyer_id, farmer_id, quantity_kg,
			floor_price, target_price, stretch_price, price_verified, price_source,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17
		)`
	_, err = tx.Exec(ctx, query,
		n.ID, n.ProductID, n.CommodityName, string(n.Grade), state, district,
		n.BuyerID, n.FarmerID, n.QuantityKg,
		n.FloorPrice, n.TargetPrice, n.StretchPrice, n.PriceVerified, n.PriceSource,
		string(n.Status), n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create negotiation %s: %w", n.ID, err)
	}

	for _, o := range n.Offers {
		if err := insertOffer(ctx, tx, o); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit negotiation %s: %w", n.ID, err)
	}
	return nil
}

const negotiationCols = `id, product_id, commodity_name, grade, state, district,
	buyer_id, farmer_id, quantity_kg::float8,
	floor_price::float8, target_price::float8, stretch_price::float8, price_verified, price_source,
	status, created_at, updated_at`

// GetByID returns the negotiation with its offer history, oldest first.
func (s *NegotiationStore) GetByID(ctx context.Context, id string) (domain.Negotiation, error) {
	var (
		n               domain.Negotiation
		grade, status   string
		state, district string
	)
	err := s.pool.QueryRow(ctx, `SELECT `+negotiationCols+` FROM negotiations WHERE id = $1`, id).Scan(
		&n.ID, &n.ProductID, &n.CommodityName, &grade, &state, &district,
		&n.BuyerID, &n.FarmerID, &n.QuantityKg,
		&n.FloorPrice, &n.TargetPrice, &n.StretchPrice, &n.PriceVerified, &n.PriceSource,
		&status, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Negotiation{}, domain.ErrNotFound
		}
		return domain.Negotiation{}, fmt.Errorf("postgres: get negotiation %s: %w", id, err)
	}
	n.Grade = domain.QualityGrade(grade)
	n.Status = domain.NegotiationStatus(status)
	if state != "" || district != "" {
		n.Location = &domain.Location{State: state, District: district}
	}

	offers, err := s.ListOffers(ctx, id)
	if err != nil {
		return domain.Negotiation{}, err
	}
	n.Offers = offers
	return n, nil
}

// UpdateStatus moves an open negotiation to status. Closed negotiations are
// left untouched and reported as domain.ErrNegotiationDone.
func (s *NegotiationStore) UpdateStatus(ctx context.Context, id string, status domain.NegotiationStatus) error {
	return transitionOpen(ctx, s.pool, id, status)
}

// Counter inserts offer and moves its negotiation to countered in one
// transaction. Nothing is written when the negotiation is already closed.
func (s *NegotiationStore) Counter(ctx context.Context, offer domain.Offer) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin counter %s: %w", offer.NegotiationID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := transitionOpen(ctx, tx, offer.NegotiationID, domain.NegotiationCountered); err != nil {
		return err
	}
	if err := insertOffer(ctx, tx, offer); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit counter %s: %w", offer.NegotiationID, err)
	}
	return nil
}

// transitionOpen updates the status of a pending or countered negotiation.
// The row lock taken by the UPDATE holds until db's transaction ends.
func transitionOpen(ctx context.Context, db querier, id string, status domain.NegotiationStatus) error {
	const query = `
		UPDATE negotiations SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'countered')`

	tag, err := db.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update negotiation %s status: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM negotiations WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check negotiation %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrNegotiationDone
}

// ListOffers returns the offer history of a negotiation, oldest first.
func (s *NegotiationStore) ListOffers(ctx context.Context, negotiationID string) ([]domain.Offer, error) {
	const query = `
		SELECT id, negotiation_id, role, price_per_kg::float8, status, message, created_at
		FROM negotiation_offers
		WHERE negotiation_id = $1
		ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, negotiationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers %s: %w", negotiationID, err)
	}
	defer rows.Close()

	var offers []domain.Offer
	for rows.Next() {
		var (
			o            domain.Offer
			role, status string
		)
		if err := rows.Scan(&o.ID, &o.NegotiationID, &role, &o.PricePerKg, &status, &o.Message, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan offer: %w", err)
		}
		o.Role = domain.Role(role)
		if err := o.Status.UnmarshalText([]byte(status)); err != nil {
			return nil, fmt.Errorf("postgres: offer %s: %w", o.ID, err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list offers rows: %w", err)
	}
	return offers, nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type querier interface {
	execer
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertOffer(ctx context.Context, db execer, o domain.Offer) error {
	const query = `
		INSERT INTO negotiation_offers (id, negotiation_id, role, price_per_kg, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := db.Exec(ctx, query,
		o.ID, o.NegotiationID, string(o.Role), o.PricePerKg, o.Status.String(), o.Message, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert offer %s: %w", o.ID, err)
	}
	return nil
}
