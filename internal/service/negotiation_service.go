package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/annabazaar/pricingengine/internal/domain"
	"github.com/annabazaar/pricingengine/internal/pricing"
)

// CreateNegotiationInput opens a bulk negotiation with the buyer's first
// offer.
type CreateNegotiationInput struct {
	ProductID  string              `json:"product_id"`
	Commodity  string              `json:"commodity"`
	Grade      domain.QualityGrade `json:"grade"`
	Location   *domain.Location    `json:"location,omitempty"`
	BuyerID    string              `json:"buyer_id"`
	FarmerID   string              `json:"farmer_id"`
	QuantityKg float64             `json:"quantity_kg"`
	OfferPrice float64             `json:"offer_price"`
	Message    string              `json:"message,omitempty"`
}

// NegotiationEvent is published on domain.ChannelNegotiations.
type NegotiationEvent struct {
	Type          string                   `json:"type"`
	NegotiationID string                   `json:"negotiation_id"`
	Status        domain.NegotiationStatus `json:"status"`
	Offer         *domain.Offer            `json:"offer,omitempty"`
	At            time.Time                `json:"at"`
}

// Negotiation event types.
const (
	EventNegotiationCreated  = "negotiation.created"
	EventNegotiationOffer    = "negotiation.offer"
	EventNegotiationAccepted = "negotiation.accepted"
	EventNegotiationRejected = "negotiation.rejected"
)

// NegotiationService runs the negotiation workflow. Bands are snapshotted at
// creation and every later offer is classified against that snapshot.
type NegotiationService struct {
	negotiations domain.NegotiationStore
	pricing      *PricingService
	bus          domain.SignalBus
	newID        func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewNegotiationService creates a NegotiationService. bus may be nil.
func NewNegotiationService(
	negotiations domain.NegotiationStore,
	pricingSvc *PricingService,
	bus domain.SignalBus,
	logger *slog.Logger,
) *NegotiationService {
	return &NegotiationService{
		negotiations: negotiations,
		pricing:      pricingSvc,
		bus:          bus,
		newID:        uuid.NewString,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.With(slog.String("component", "negotiation_service")),
	}
}

// Create computes the band, validates the buyer's opening offer against its
// floor and persists the negotiation.
func (s *NegotiationService) Create(ctx context.Context, in CreateNegotiationInput) (domain.Negotiation, error) {
	if err := validateCreate(in); err != nil {
		return domain.Negotiation{}, err
	}

	quote, err := s.pricing.PriceBand(ctx, PriceBandRequest{
		Commodity: in.Commodity,
		Location:  in.Location,
		Grade:     in.Grade,
	})
	if err != nil {
		return domain.Negotiation{}, fmt.Errorf("negotiation_service: create: %w", err)
	}
	band := quote.Band

	c, _ := pricing.ClassifyOffer(in.OfferPrice, &band)
	if err := pricing.CheckSubmission(c, domain.RoleBuyer.EnforcesFloor()); err != nil {
		return domain.Negotiation{}, fmt.Errorf("negotiation_service: opening offer: %w", err)
	}

	now := s.now()
	n := domain.Negotiation{
		ID:            s.newID(),
		ProductID:     strings.TrimSpace(in.ProductID),
		CommodityName: strings.TrimSpace(in.Commodity),
		Grade:         quote.Grade,
		Location:      in.Location,
		BuyerID:       in.BuyerID,
		FarmerID:      in.FarmerID,
		QuantityKg:    in.QuantityKg,
		FloorPrice:    band.FloorPrice,
		TargetPrice:   band.TargetPrice,
		StretchPrice:  band.StretchPrice,
		PriceVerified: band.IsVerified,
		PriceSource:   band.PriceSource,
		Status:        domain.NegotiationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	n.Offers = []domain.Offer{{
		ID:            s.newID(),
		NegotiationID: n.ID,
		Role:          domain.RoleBuyer,
		PricePerKg:    in.OfferPrice,
		Status:        c.Status,
		Message:       in.Message,
		CreatedAt:     now,
	}}

	if err := s.negotiations.Create(ctx, n); err != nil {
		return domain.Negotiation{}, fmt.Errorf("negotiation_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "negotiation created",
		slog.String("negotiation_id", n.ID),
		slog.String("commodity", n.CommodityName),
		slog.Float64("offer", in.OfferPrice),
		slog.String("classification", c.Status.String()),
	)
	s.publish(ctx, EventNegotiationCreated, n.ID, n.Status, &n.Offers[0])
	return n, nil
}

func validateCreate(in CreateNegotiationInput) error {
	var problems []string
	if strings.TrimSpace(in.Commodity) == "" {
		problems = append(problems, "commodity is required")
	}
	if in.BuyerID == "" {
		problems = append(problems, "buyer_id is required")
	}
	if in.FarmerID == "" {
		problems = append(problems, "farmer_id is required")
	}
	if !(in.QuantityKg > 0) || math.IsInf(in.QuantityKg, 0) {
		problems = append(problems, "quantity_kg must be positive")
	}
	if !(in.OfferPrice > 0) || math.IsInf(in.OfferPrice, 0) {
		problems = append(problems, "offer_price must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("negotiation_service: %s: %w", strings.Join(problems, "; "), domain.ErrInvalidInput)
	}
	return nil
}

// Get returns the negotiation with its offer history.
func (s *NegotiationService) Get(ctx context.Context, id string) (domain.Negotiation, error) {
	n, err := s.negotiations.GetByID(ctx, id)
	if err != nil {
		return domain.Negotiation{}, fmt.Errorf("negotiation_service: get %q: %w", id, err)
	}
	return n, nil
}

// ClassifyDraft classifies a price the caller is still typing against the
// negotiation's snapshot band. Nothing is persisted.
func (s *NegotiationService) ClassifyDraft(ctx context.Context, id string, role domain.Role, price float64) (ClassifyResult, error) {
	if !role.Valid() {
		return ClassifyResult{}, fmt.Errorf("negotiation_service: role %q: %w", role, domain.ErrInvalidInput)
	}
	n, err := s.Get(ctx, id)
	if err != nil {
		return ClassifyResult{}, err
	}
	band := n.Band()
	return s.pricing.Classify(ctx, price, &band, role)
}

// SubmitOffer records a counter-offer. Buyers may not go below the snapshot
// floor; farmers may.
func (s *NegotiationService) SubmitOffer(ctx context.Context, id string, role domain.Role, price float64, message string) (domain.Offer, error) {
	if !role.Valid() {
		return domain.Offer{}, fmt.Errorf("negotiation_service: role %q: %w", role, domain.ErrInvalidInput)
	}
	if !(price > 0) || math.IsInf(price, 0) {
		return domain.Offer{}, fmt.Errorf("negotiation_service: price must be positive: %w", domain.ErrInvalidInput)
	}

	n, err := s.Get(ctx, id)
	if err != nil {
		return domain.Offer{}, err
	}
	if !n.Status.Open() {
		return domain.Offer{}, fmt.Errorf("negotiation_service: %s is %s: %w", id, n.Status, domain.ErrNegotiationDone)
	}

	band := n.Band()
	c, _ := pricing.ClassifyOffer(price, &band)
	if err := pricing.CheckSubmission(c, role.EnforcesFloor()); err != nil {
		return domain.Offer{}, fmt.Errorf("negotiation_service: offer: %w", err)
	}

	offer := domain.Offer{
		ID:            s.newID(),
		NegotiationID: n.ID,
		Role:          role,
		PricePerKg:    price,
		Status:        c.Status,
		Message:       message,
		CreatedAt:     s.now(),
	}
	if err := s.negotiations.Counter(ctx, offer); err != nil {
		return domain.Offer{}, fmt.Errorf("negotiation_service: counter %s: %w", n.ID, err)
	}

	s.logger.InfoContext(ctx, "offer submitted",
		slog.String("negotiation_id", n.ID),
		slog.String("role", string(role)),
		slog.Float64("price", price),
		slog.String("classification", c.Status.String()),
	)
	s.publish(ctx, EventNegotiationOffer, n.ID, domain.NegotiationCountered, &offer)
	return offer, nil
}

// Accept closes the negotiation as accepted.
func (s *NegotiationService) Accept(ctx context.Context, id string) (domain.Negotiation, error) {
	return s.close(ctx, id, domain.NegotiationAccepted, EventNegotiationAccepted)
}

// Reject closes the negotiation as rejected.
func (s *NegotiationService) Reject(ctx context.Context, id string) (domain.Negotiation, error) {
	return s.close(ctx, id, domain.NegotiationRejected, EventNegotiationRejected)
}

func (s *NegotiationService) close(ctx context.Context, id string, status domain.NegotiationStatus, event string) (domain.Negotiation, error) {
	if err := s.negotiations.UpdateStatus(ctx, id, status); err != nil {
		return domain.Negotiation{}, fmt.Errorf("negotiation_service: %s %q: %w", status, id, err)
	}
	n, err := s.Get(ctx, id)
	if err != nil {
		return domain.Negotiation{}, err
	}
	s.logger.InfoContext(ctx, "negotiation closed",
		slog.String("negotiation_id", id),
		slog.String("status", string(status)),
	)
	s.publish(ctx, event, id, status, nil)
	return n, nil
}

func (s *NegotiationService) publish(ctx context.Context, typ, id string, status domain.NegotiationStatus, offer *domain.Offer) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(NegotiationEvent{
		Type:          typ,
		NegotiationID: id,
		Status:        status,
		Offer:         offer,
		At:            s.now(),
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelNegotiations, payload); err != nil {
		s.logger.WarnContext(ctx, "negotiation_service: publish failed",
			slog.String("negotiation_id", id),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.ChannelNegotiations, payload); err != nil {
		s.logger.WarnContext(ctx, "negotiation_service: stream append failed",
			slog.String("negotiation_id", id),
			slog.String("error", err.Error()),
		)
	}
}
