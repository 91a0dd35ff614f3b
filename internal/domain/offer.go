package domain

import "fmt"

// OfferStatus is the ordinal classification of an offer against a band.
type OfferStatus int

const (
	OfferInvalid OfferStatus = iota
	OfferLow
	OfferFair
	OfferGenerous
)

var offerStatusNames = [...]string{"INVALID", "LOW", "FAIR", "GENEROUS"}

func (s OfferStatus) String() string {
	if s < OfferInvalid || s > OfferGenerous {
		return fmt.Sprintf("OfferStatus(%d)", int(s))
	}
	return offerStatusNames[s]
}

// MarshalText encodes the status by name.
func (s OfferStatus) MarshalText() ([]byte, error) {
	if s < OfferInvalid || s > OfferGenerous {
		return nil, fmt.Errorf("domain: unknown offer status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *OfferStatus) UnmarshalText(text []byte) error {
	for i, name := range offerStatusNames {
		if name == string(text) {
			*s = OfferStatus(i)
			return nil
		}
	}
	return fmt.Errorf("domain: unknown offer status %q", string(text))
}

// OfferClassification is the result of classifying one offer.
type OfferClassification struct {
	Status  OfferStatus `json:"status"`
	Message string      `json:"message"`
}

// Role identifies which side of a negotiation is acting.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleFarmer Role = "farmer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleFarmer
}

// EnforcesFloor reports whether offers from this role are blocked below the
// band floor. Farmers may counter at any price.
func (r Role) EnforcesFloor() bool {
	return r == RoleBuyer
}
