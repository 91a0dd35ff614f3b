package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/annabazaar/pricingengine/internal/domain"
	"github.com/annabazaar/pricingengine/internal/notify"
	"github.com/annabazaar/pricingengine/internal/pricing"
)

// Alerter sends data-quality notifications.
type Alerter interface {
	Notify(ctx context.Context, a notify.Alert) error
}

// PriceBandRequest identifies the listing a band is computed for.
type PriceBandRequest struct {
	Commodity string
	Location  *domain.Location
	Grade     domain.QualityGrade
}

// ClassifyResult is a classification plus whether a submission with it
// would be blocked for the given role.
type ClassifyResult struct {
	domain.OfferClassification
	Blocked bool `json:"blocked"`
}

// PricingService computes price bands and records data-quality problems
// seen along the way.
type PricingService struct {
	engine  *pricing.Engine
	audit   domain.AuditStore
	alerter Alerter
	logger  *slog.Logger
}

// NewPricingService creates a PricingService. audit and alerter may be nil.
func NewPricingService(engine *pricing.Engine, audit domain.AuditStore, alerter Alerter, logger *slog.Logger) *PricingService {
	return &PricingService{
		engine:  engine,
		audit:   audit,
		alerter: alerter,
		logger:  logger.With(slog.String("component", "pricing_service")),
	}
}

// PriceBand computes the band for req.
func (s *PricingService) PriceBand(ctx context.Context, req PriceBandRequest) (pricing.Quote, error) {
	commodity := strings.TrimSpace(req.Commodity)
	if commodity == "" {
		return pricing.Quote{}, fmt.Errorf("pricing_service: commodity is required: %w", domain.ErrInvalidInput)
	}

	q, err := s.engine.PriceBand(ctx, commodity, req.Location, req.Grade)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("pricing_service: price band %q: %w", commodity, err)
	}

	s.recordQuality(ctx, commodity, req.Location, q)
	return q, nil
}

// recordQuality audits and alerts on fallback use, unknown grades and stale
// market data. Failures are logged only.
func (s *PricingService) recordQuality(ctx context.Context, commodity string, loc *domain.Location, q pricing.Quote) {
	base := map[string]any{"commodity": commodity}
	if loc != nil {
		base["state"] = loc.State
		base["district"] = loc.District
	}

	if q.Resolution.IsFallback {
		detail := with(base, map[string]any{
			"base_per_kg": q.Resolution.BasePerKg,
			"category":    q.Resolution.FallbackCategory,
			"reason":      "no_record",
		})
		if errors.Is(q.Resolution.SourceErr, domain.ErrDataUnavailable) {
			detail["reason"] = "data_unavailable"
			detail["error"] = q.Resolution.SourceErr.Error()
		}
		s.record(ctx, notify.EventFallbackUsed, detail, notify.Alert{
			Title:   "Fallback price used: " + commodity,
			Message: q.Band.PriceSource,
		})
	}
	if !q.GradeKnown {
		s.record(ctx, notify.EventUnknownGrade, with(base, map[string]any{
			"grade": string(q.Grade),
		}), notify.Alert{
			Title:   "Unknown quality grade: " + string(q.Grade),
			Message: fmt.Sprintf("Neutral factor applied for %s", commodity),
		})
	}
	if q.Resolution.Stale {
		s.record(ctx, notify.EventStaleMandiData, with(base, map[string]any{
			"age_hours": int(q.Resolution.Age.Hours()),
		}), notify.Alert{
			Title:   "Stale mandi data: " + commodity,
			Message: q.Band.PriceSource,
		})
	}
}

func (s *PricingService) record(ctx context.Context, event string, detail map[string]any, alert notify.Alert) {
	s.logger.InfoContext(ctx, "pricing data-quality event",
		slog.String("event", event),
		slog.Any("detail", detail),
	)
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "pricing_service: audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.alerter != nil {
		alert.Event = event
		if err := s.alerter.Notify(ctx, alert); err != nil {
			s.logger.WarnContext(ctx, "pricing_service: notify failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Classify places offer against band. Buyers are held to the floor; farmers
// are not. A nil, zero or out-of-order band yields domain.ErrInvalidInput.
func (s *PricingService) Classify(_ context.Context, offer float64, band *domain.PriceBand, role domain.Role) (ClassifyResult, error) {
	if band != nil {
		if err := band.Validate(); err != nil {
			return ClassifyResult{}, fmt.Errorf("pricing_service: %w", err)
		}
	}
	c, ok := pricing.ClassifyOffer(offer, band)
	if !ok {
		return ClassifyResult{}, fmt.Errorf("pricing_service: no price band: %w", domain.ErrInvalidInput)
	}
	return ClassifyResult{
		OfferClassification: c,
		Blocked:             pricing.CheckSubmission(c, role.EnforcesFloor()) != nil,
	}, nil
}

func with(base, extra map[string]any) map[string]any {
	out := maps.Clone(base)
	maps.Copy(out, extra)
	return out
}
