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

// MandiPriceStore persists mandi observations.
type MandiPriceStore interface {
	UpsertBatch(ctx context.Context, prices []MandiPrice) error
	// Find returns records for the commodity, newest first. A non-nil loc
	// restricts to rows matching every field it sets; nil is nationwide.
	Find(ctx context.Context, commodity string, loc *Location) ([]MandiPrice, error)
	LatestDate(ctx context.Context, commodity string) (time.Time, error)
}

// NegotiationStore persists negotiations and their offer history.
type NegotiationStore interface {
	Create(ctx context.Context, n Negotiation) error
	GetByID(ctx context.Context, id string) (Negotiation, error)
	UpdateStatus(ctx context.Context, id string, status NegotiationStatus) error
	// Counter records offer and moves the negotiation to countered as one
	// unit. A closed negotiation gets ErrNegotiationDone and no offer row.
	Counter(ctx context.Context, offer Offer) error
	ListOffers(ctx context.Context, negotiationID string) ([]Offer, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
