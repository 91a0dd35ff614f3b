package domain

import "time"

// MandiPrice is a single wholesale market observation for one commodity.
// Records are written by the ingestion pipeline and treated as read-only by
// the pricing engine.
type MandiPrice struct {
	CommodityName        string    `json:"commodity_name"`
	Variety              string    `json:"variety,omitempty"`
	MarketName           string    `json:"market_name"`
	State                string    `json:"state"`
	District             string    `json:"district"`
	MinPricePerQuintal   float64   `json:"min_price_per_quintal,omitempty"`
	MaxPricePerQuintal   float64   `json:"max_price_per_quintal,omitempty"`
	ModalPricePerQuintal float64   `json:"modal_price_per_quintal"`
	PriceDate            time.Time `json:"price_date"`
}

// KgPerQuintal is the number of kilograms in one quintal.
const KgPerQuintal = 100

// ModalPricePerKg converts the modal quintal price to a per-kg price.
func (m MandiPrice) ModalPricePerKg() float64 {
	return m.ModalPricePerQuintal / KgPerQuintal
}

// Location narrows a mandi lookup. A nil *Location means nationwide.
type Location struct {
	State    string `json:"state,omitempty"`
	District string `json:"district,omitempty"`
}

// IsZero reports whether neither state nor district is set.
func (l *Location) IsZero() bool {
	return l == nil || (l.State == "" && l.District == "")
}

// MatchScope records how specific the mandi record used for pricing was.
type MatchScope string

const (
	MatchScopeDistrict MatchScope = "district"
	MatchScopeState    MatchScope = "state"
	MatchScopeNational MatchScope = "national"
	MatchScopeNone     MatchScope = "none"
)
