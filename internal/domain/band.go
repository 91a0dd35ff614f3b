package domain

import (
	"fmt"
	"math"
	"time"
)

// PriceBand is the computed floor/target/stretch band for one commodity,
// location and grade. All prices are rupees per kg.
type PriceBand struct {
	FloorPrice     float64    `json:"floor_price"`
	TargetPrice    float64    `json:"target_price"`
	StretchPrice   float64    `json:"stretch_price"`
	BaseMandiPrice float64    `json:"base_mandi_price"`
	QualityFactor  float64    `json:"quality_factor"`
	IsVerified     bool       `json:"is_verified"`
	PriceSource    string     `json:"price_source"`
	UpdatedAt      *time.Time `json:"updated_at"`
}

// SuggestedOffer is the price pre-filled for a new negotiation.
func (b PriceBand) SuggestedOffer() float64 {
	return b.TargetPrice
}

// Validate reports whether the band satisfies 0 < floor <= target <= stretch.
// A zero band carries no market information and fails.
func (b PriceBand) Validate() error {
	for _, p := range []float64{b.FloorPrice, b.TargetPrice, b.StretchPrice} {
		if !(p > 0) || math.IsInf(p, 0) {
			return fmt.Errorf("price band: prices must be positive: %w", ErrInvalidInput)
		}
	}
	if b.FloorPrice > b.TargetPrice || b.TargetPrice > b.StretchPrice {
		return fmt.Errorf("price band: floor %.2f, target %.2f, stretch %.2f out of order: %w",
			b.FloorPrice, b.TargetPrice, b.StretchPrice, ErrInvalidInput)
	}
	return nil
}
