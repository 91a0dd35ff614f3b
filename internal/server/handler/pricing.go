package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
	"github.com/annabazaar/pricingengine/internal/pricing"
	"github.com/annabazaar/pricingengine/internal/service"
)

// PricingService defines what the pricing handler needs from the service
// layer.
type PricingService interface {
	PriceBand(ctx context.Context, req service.PriceBandRequest) (pricing.Quote, error)
	Classify(ctx context.Context, offer float64, band *domain.PriceBand, role domain.Role) (service.ClassifyResult, error)
}

// PricingHandler serves band and classification endpoints.
type PricingHandler struct {
	pricing PricingService
	logger  *slog.Logger
}

// NewPricingHandler creates a PricingHandler.
func NewPricingHandler(svc PricingService, logger *slog.Logger) *PricingHandler {
	return &PricingHandler{pricing: svc, logger: logger}
}

type priceBandResponse struct {
	domain.PriceBand
	Commodity      string              `json:"commodity"`
	Grade          domain.QualityGrade `json:"grade"`
	GradeKnown     bool                `json:"grade_known"`
	SuggestedOffer float64             `json:"suggested_offer"`
	MatchScope     domain.MatchScope   `json:"match_scope"`
	Stale          bool                `json:"stale"`
	MarketName     string              `json:"market_name,omitempty"`
	PriceDate      *time.Time          `json:"price_date,omitempty"`
}

// GetPriceBand computes the band for a listing.
// GET /api/price-band?commodity=Onion&state=&district=&grade=B
func (h *PricingHandler) GetPriceBand(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	commodity := strings.TrimSpace(q.Get("commodity"))
	if commodity == "" {
		writeError(w, http.StatusBadRequest, "commodity query parameter required")
		return
	}
	grade := domain.QualityGrade(q.Get("grade"))
	if grade == "" {
		grade = domain.GradeB
	}

	quote, err := h.pricing.PriceBand(r.Context(), service.PriceBandRequest{
		Commodity: commodity,
		Location:  locationFrom(q.Get("state"), q.Get("district")),
		Grade:     grade,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "price band", err)
		return
	}

	resp := priceBandResponse{
		PriceBand:      quote.Band,
		Commodity:      commodity,
		Grade:          quote.Grade,
		GradeKnown:     quote.GradeKnown,
		SuggestedOffer: quote.Band.SuggestedOffer(),
		MatchScope:     quote.Resolution.Scope,
		Stale:          quote.Resolution.Stale,
	}
	if p := quote.Resolution.Price; p != nil {
		resp.MarketName = p.MarketName
		resp.PriceDate = &p.PriceDate
	}
	writeJSON(w, http.StatusOK, resp)
}

type classifyRequest struct {
	Band       *domain.PriceBand `json:"band"`
	OfferPrice float64           `json:"offer_price"`
	Role       domain.Role       `json:"role"`
}

// ClassifyOffer classifies an offer against a caller-supplied band. Role
// defaults to buyer.
// POST /api/offers/classify
func (h *PricingHandler) ClassifyOffer(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = domain.RoleBuyer
	}
	if !req.Role.Valid() {
		writeError(w, http.StatusBadRequest, "role must be buyer or farmer")
		return
	}

	res, err := h.pricing.Classify(r.Context(), req.OfferPrice, req.Band, req.Role)
	if err != nil {
		writeServiceError(w, r, h.logger, "classify offer", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
