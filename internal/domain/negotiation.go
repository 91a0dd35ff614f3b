package domain

import "time"

// NegotiationStatus tracks the bulk negotiation lifecycle.
type NegotiationStatus string

const (
	NegotiationPending   NegotiationStatus = "pending"
	NegotiationCountered NegotiationStatus = "countered"
	NegotiationAccepted  NegotiationStatus = "accepted"
	NegotiationRejected  NegotiationStatus = "rejected"
)

// Open reports whether further offers may be made.
func (s NegotiationStatus) Open() bool {
	return s == NegotiationPending || s == NegotiationCountered
}

// Negotiation is a bulk offer thread between a buyer and a farmer. The price
// band is snapshotted at creation so later rounds classify against the same
// numbers.
type Negotiation struct {
	ID            string            `json:"id"`
	ProductID     string            `json:"product_id"`
	CommodityName string            `json:"commodity_name"`
	Grade         QualityGrade      `json:"grade"`
	Location      *Location         `json:"location,omitempty"`
	BuyerID       string            `json:"buyer_id"`
	FarmerID      string            `json:"farmer_id"`
	QuantityKg    float64           `json:"quantity_kg"`
	FloorPrice    float64           `json:"floor_price"`
	TargetPrice   float64           `json:"target_price"`
	StretchPrice  float64           `json:"stretch_price"`
	PriceVerified bool              `json:"price_verified"`
	PriceSource   string            `json:"price_source"`
	Status        NegotiationStatus `json:"status"`
	Offers        []Offer           `json:"offers,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Band rebuilds the snapshotted price band.
func (n Negotiation) Band() PriceBand {
	return PriceBand{
		FloorPrice:   n.FloorPrice,
		TargetPrice:  n.TargetPrice,
		StretchPrice: n.StretchPrice,
		IsVerified:   n.PriceVerified,
		PriceSource:  n.PriceSource,
	}
}

// Offer is one price proposal within a negotiation.
type Offer struct {
	ID            string      `json:"id"`
	NegotiationID string      `json:"negotiation_id"`
	Role          Role        `json:"role"`
	PricePerKg    float64     `json:"price_per_kg"`
	Status        OfferStatus `json:"status"`
	Message       string      `json:"message"`
	CreatedAt     time.Time   `json:"created_at"`
}

// TotalValue returns price x quantity for display.
func (o Offer) TotalValue(quantityKg float64) float64 {
	return o.PricePerKg * quantityKg
}
