package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/annabazaar/pricingengine/internal/domain"
)

// Quote is a computed band together with the lookup that produced it.
type Quote struct {
	Band       domain.PriceBand    `json:"band"`
	Resolution Resolution          `json:"-"`
	Grade      domain.QualityGrade `json:"grade"`
	GradeKnown bool                `json:"grade_known"`
}

// Engine chains the Resolver and Calculator into a single price-band call.
type Engine struct {
	resolver   *Resolver
	calculator *Calculator
	logger     *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(resolver *Resolver, calculator *Calculator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		resolver:   resolver,
		calculator: calculator,
		logger:     logger.With(slog.String("component", "pricing_engine")),
	}
}

// Calculator exposes the engine's calculator.
func (e *Engine) Calculator() *Calculator { return e.calculator }

// PriceBand resolves a base price for commodity near loc and derives the band
// for grade. It only fails on an empty commodity or a non-positive base
// price; missing market data yields an unverified band from the fallback
// table.
func (e *Engine) PriceBand(ctx context.Context, commodity string, loc *domain.Location, grade domain.QualityGrade) (Quote, error) {
	res, err := e.resolver.Resolve(ctx, commodity, loc)
	if err != nil {
		return Quote{}, err
	}

	band, err := e.calculator.Compute(res.BasePerKg, grade, !res.IsFallback)
	if err != nil {
		return Quote{}, fmt.Errorf("pricing: compute band for %s: %w", commodity, err)
	}
	band.PriceSource = DescribeSource(strings.TrimSpace(commodity), res)
	if res.Price != nil {
		updated := res.Price.PriceDate
		band.UpdatedAt = &updated
	}

	_, known := e.calculator.Factor(grade)
	return Quote{
		Band:       band,
		Resolution: res,
		Grade:      grade.Normalize(),
		GradeKnown: known,
	}, nil
}

// DescribeSource renders the human-readable provenance of a band.
func DescribeSource(commodity string, res Resolution) string {
	if res.IsFallback || res.Price == nil {
		category := res.FallbackCategory
		if category == "" {
			category = "produce"
		}
		return fmt.Sprintf("Platform baseline for %s (no mandi data for %s)", category, commodity)
	}

	p := res.Price
	var where []string
	for _, s := range []string{p.MarketName, p.District, p.State} {
		if s = strings.TrimSpace(s); s != "" {
			where = append(where, s)
		}
	}
	src := fmt.Sprintf("Market data: %s (%s)", strings.Join(where, ", "), p.PriceDate.Format("02 Jan 2006"))
	if res.Stale {
		src += fmt.Sprintf("; stale: %d days old", int(res.Age.Hours()/24))
	}
	return src
}
