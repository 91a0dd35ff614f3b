package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/annabazaar/pricingengine/internal/domain"
)

// ClassifyOffer places offer (rupees per kg) against band. The second return
// value is false when band is nil or fails domain.PriceBand.Validate: with no
// usable band there is no opinion, and the caller must not treat the zero
// classification as a decision.
//
// Rules, first match wins:
//
//	offer <  floor            INVALID
//	offer <  target           LOW
//	offer <= stretch          FAIR
//	otherwise                 GENEROUS
func ClassifyOffer(offer float64, band *domain.PriceBand) (domain.OfferClassification, bool) {
	if band == nil || band.Validate() != nil {
		return domain.OfferClassification{}, false
	}

	switch {
	case math.IsNaN(offer) || offer < band.FloorPrice:
		return domain.OfferClassification{
			Status: domain.OfferInvalid,
			Message: fmt.Sprintf(
				"Offer of %s/kg is below the protected minimum of %s/kg. Raise it to at least %s/kg before submitting.",
				rupees(offer), rupees(band.FloorPrice), rupees(band.FloorPrice)),
		}, true
	case offer < band.TargetPrice:
		return domain.OfferClassification{
			Status: domain.OfferLow,
			Message: fmt.Sprintf(
				"Offer of %s/kg is below the fair market price of %s/kg. It can be submitted, but the farmer is likely to counter.",
				rupees(offer), rupees(band.TargetPrice)),
		}, true
	case offer <= band.StretchPrice:
		return domain.OfferClassification{
			Status: domain.OfferFair,
			Message: fmt.Sprintf(
				"Offer of %s/kg is in line with fair mandi-adjusted pricing (%s to %s/kg).",
				rupees(offer), rupees(band.TargetPrice), rupees(band.StretchPrice)),
		}, true
	default:
		return domain.OfferClassification{
			Status: domain.OfferGenerous,
			Message: fmt.Sprintf(
				"Offer of %s/kg is above typical market rates (up to %s/kg).",
				rupees(offer), rupees(band.StretchPrice)),
		}, true
	}
}

// CheckSubmission turns a classification into a submission decision. Only
// INVALID offers are blocked, and only when enforceFloor is set; farmers
// countering their own listing pass enforceFloor=false.
func CheckSubmission(c domain.OfferClassification, enforceFloor bool) error {
	if enforceFloor && c.Status == domain.OfferInvalid {
		return fmt.Errorf("pricing: %s: %w", c.Message, domain.ErrOfferBelowFloor)
	}
	return nil
}

func rupees(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "₹?"
	}
	return "₹" + decimal.NewFromFloat(v).Round(2).String()
}
