package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/annabazaar/pricingengine/internal/domain"
	"github.com/annabazaar/pricingengine/internal/service"
)

// NegotiationService defines what the negotiation handler needs from the
// service layer.
type NegotiationService interface {
	Create(ctx context.Context, in service.CreateNegotiationInput) (domain.Negotiation, error)
	Get(ctx context.Context, id string) (domain.Negotiation, error)
	SubmitOffer(ctx context.Context, id string, role domain.Role, price float64, message string) (domain.Offer, error)
	Accept(ctx context.Context, id string) (domain.Negotiation, error)
	Reject(ctx context.Context, id string) (domain.Negotiation, error)
}

// NegotiationHandler serves the negotiation workflow endpoints.
type NegotiationHandler struct {
	negotiations NegotiationService
	logger       *slog.Logger
}

// NewNegotiationHandler creates a NegotiationHandler.
func NewNegotiationHandler(svc NegotiationService, logger *slog.Logger) *NegotiationHandler {
	return &NegotiationHandler{negotiations: svc, logger: logger}
}

// CreateNegotiation opens a negotiation with the buyer's first offer.
// POST /api/negotiations
func (h *NegotiationHandler) CreateNegotiation(w http.ResponseWriter, r *http.Request) {
	var in service.CreateNegotiationInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := h.negotiations.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, h.logger, "create negotiation", err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// GetNegotiation returns a negotiation with its offers.
// GET /api/negotiations/{id}
func (h *NegotiationHandler) GetNegotiation(w http.ResponseWriter, r *http.Request) {
	n, err := h.negotiations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get negotiation", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type submitOfferRequest struct {
	Role       domain.Role `json:"role"`
	OfferPrice float64     `json:"offer_price"`
	Message    string      `json:"message"`
}

// SubmitOffer records a counter-offer.
// POST /api/negotiations/{id}/offers
func (h *NegotiationHandler) SubmitOffer(w http.ResponseWriter, r *http.Request) {
	var req submitOfferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offer, err := h.negotiations.SubmitOffer(r.Context(), r.PathValue("id"), req.Role, req.OfferPrice, req.Message)
	if err != nil {
		writeServiceError(w, r, h.logger, "submit offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// Accept closes a negotiation as accepted.
// POST /api/negotiations/{id}/accept
func (h *NegotiationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	n, err := h.negotiations.Accept(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "accept negotiation", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// Reject closes a negotiation as rejected.
// POST /api/negotiations/{id}/reject
func (h *NegotiationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	n, err := h.negotiations.Reject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "reject negotiation", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
