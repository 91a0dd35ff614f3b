package agmarknet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
)

// arrivalLayout is the date format used by the feed ("10/03/2026").
const arrivalLayout = "02/01/2006"

// Response is one page of the daily-price resource.
type Response struct {
	Total   int      `json:"total"`
	Count   int      `json:"count"`
	Offset  flexInt  `json:"offset"`
	Records []Record `json:"records"`
}

// Record is a single market row as published. Prices arrive as strings on
// some mirrors and numbers on others.
type Record struct {
	State       string    `json:"state"`
	District    string    `json:"district"`
	Market      string    `json:"market"`
	Commodity   string    `json:"commodity"`
	Variety     string    `json:"variety"`
	Grade       string    `json:"grade,omitempty"`
	ArrivalDate string    `json:"arrival_date"`
	MinPrice    flexFloat `json:"min_price"`
	MaxPrice    flexFloat `json:"max_price"`
	ModalPrice  flexFloat `json:"modal_price"`
}

// ToDomain converts r. Rows with an unparseable date or no modal price are
// rejected.
func (r Record) ToDomain() (domain.MandiPrice, error) {
	date, err := time.Parse(arrivalLayout, strings.TrimSpace(r.ArrivalDate))
	if err != nil {
		return domain.MandiPrice{}, fmt.Errorf("arrival_date %q: %w", r.ArrivalDate, err)
	}
	if r.ModalPrice <= 0 {
		return domain.MandiPrice{}, fmt.Errorf("market %s: modal price %v", r.Market, float64(r.ModalPrice))
	}
	return domain.MandiPrice{
		CommodityName:        strings.TrimSpace(r.Commodity),
		Variety:              strings.TrimSpace(r.Variety),
		MarketName:           strings.TrimSpace(r.Market),
		State:                strings.TrimSpace(r.State),
		District:             strings.TrimSpace(r.District),
		MinPricePerQuintal:   float64(r.MinPrice),
		MaxPricePerQuintal:   float64(r.MaxPrice),
		ModalPricePerQuintal: float64(r.ModalPrice),
		PriceDate:            date,
	}, nil
}

// Decode parses a payload previously produced by Client.Fetch (or a raw
// feed page) into domain records. Bad rows are counted and skipped.
func Decode(payload []byte) ([]domain.MandiPrice, int, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, 0, fmt.Errorf("agmarknet: decode payload: %w", err)
	}
	prices, skipped := convert(resp.Records)
	return prices, skipped, nil
}

func convert(records []Record) ([]domain.MandiPrice, int) {
	out := make([]domain.MandiPrice, 0, len(records))
	skipped := 0
	for _, r := range records {
		p, err := r.ToDomain()
		if err != nil {
			skipped++
			continue
		}
		out = append(out, p)
	}
	return out, skipped
}

// flexFloat accepts 1500, 1500.5, "1500" and "" (zero).
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" || strings.EqualFold(s, "NR") {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("agmarknet: price %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexInt accepts 10 and "10".
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("agmarknet: integer %q: %w", s, err)
	}
	*n = flexInt(v)
	return nil
}
