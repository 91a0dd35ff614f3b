package pricing

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/annabazaar/pricingengine/internal/domain"
)

const (
	// DefaultFloorRatio is the share of the target price below which a buyer
	// offer is blocked.
	DefaultFloorRatio = 0.85
	// DefaultStretchRatio marks the top of the fair range.
	DefaultStretchRatio = 1.10
	// NeutralFactor applies to grades missing from the table.
	NeutralFactor = 1.0
)

// DefaultGradeFactors returns the standard grade multiplier table.
func DefaultGradeFactors() map[domain.QualityGrade]float64 {
	return map[domain.QualityGrade]float64{
		domain.GradeA: 1.15,
		domain.GradeB: 1.00,
		domain.GradeC: 0.85,
	}
}

// CalculatorConfig fixes the band ratios and grade table for a Calculator.
type CalculatorConfig struct {
	FloorRatio   float64
	StretchRatio float64
	GradeFactors map[domain.QualityGrade]float64
}

// DefaultCalculatorConfig returns the platform defaults.
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		FloorRatio:   DefaultFloorRatio,
		StretchRatio: DefaultStretchRatio,
		GradeFactors: DefaultGradeFactors(),
	}
}

// Calculator turns a base price per kg into a PriceBand. Prices are rounded
// half away from zero to whole rupees using exact decimal arithmetic.
// A Calculator is immutable and safe for concurrent use.
type Calculator struct {
	floorRatio   decimal.Decimal
	stretchRatio decimal.Decimal
	factors      map[domain.QualityGrade]float64
	logger       *slog.Logger
}

// NewCalculator validates cfg and returns a Calculator. The ratios must
// satisfy 0 < floor <= 1 <= stretch and every grade factor must be positive,
// which keeps 0 < floor <= target <= stretch for any positive base price.
func NewCalculator(cfg CalculatorConfig, logger *slog.Logger) (*Calculator, error) {
	if !finite(cfg.FloorRatio) || cfg.FloorRatio <= 0 || cfg.FloorRatio > 1 {
		return nil, fmt.Errorf("pricing: floor ratio must be in (0, 1], got %v", cfg.FloorRatio)
	}
	if !finite(cfg.StretchRatio) || cfg.StretchRatio < 1 {
		return nil, fmt.Errorf("pricing: stretch ratio must be >= 1, got %v", cfg.StretchRatio)
	}

	factors := make(map[domain.QualityGrade]float64, len(cfg.GradeFactors))
	for g, f := range cfg.GradeFactors {
		grade := g.Normalize()
		if grade == "" {
			return nil, fmt.Errorf("pricing: empty grade in factor table")
		}
		if !finite(f) || f <= 0 {
			return nil, fmt.Errorf("pricing: factor for grade %q must be > 0, got %v", grade, f)
		}
		factors[grade] = f
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Calculator{
		floorRatio:   decimal.NewFromFloat(cfg.FloorRatio),
		stretchRatio: decimal.NewFromFloat(cfg.StretchRatio),
		factors:      factors,
		logger:       logger.With(slog.String("component", "price_calculator")),
	}, nil
}

// Factor returns the quality multiplier for grade and whether the grade is
// in the table. Unknown grades get NeutralFactor.
func (c *Calculator) Factor(grade domain.QualityGrade) (float64, bool) {
	f, ok := c.factors[grade.Normalize()]
	if !ok {
		return NeutralFactor, false
	}
	return f, true
}

// Compute derives the band for basePricePerKg at the given grade. It returns
// domain.ErrInvalidInput when the base price is not a positive finite number.
// PriceSource and UpdatedAt are left for the caller to fill from resolver
// metadata.
func (c *Calculator) Compute(basePricePerKg float64, grade domain.QualityGrade, isVerified bool) (domain.PriceBand, error) {
	if !finite(basePricePerKg) || basePricePerKg <= 0 {
		return domain.PriceBand{}, fmt.Errorf("pricing: base price %v: %w", basePricePerKg, domain.ErrInvalidInput)
	}

	factor, known := c.Factor(grade)
	if !known {
		c.logger.Warn("unknown quality grade, using neutral factor",
			slog.String("grade", string(grade)),
			slog.Float64("factor", factor),
		)
	}

	adjusted := decimal.NewFromFloat(basePricePerKg).Mul(decimal.NewFromFloat(factor))
	target := atLeastOneRupee(adjusted.Round(0))
	floor := atLeastOneRupee(target.Mul(c.floorRatio).Round(0))
	stretch := decimal.Max(target, target.Mul(c.stretchRatio).Round(0))

	band := domain.PriceBand{
		FloorPrice:    floor.InexactFloat64(),
		TargetPrice:   target.InexactFloat64(),
		StretchPrice:  stretch.InexactFloat64(),
		QualityFactor: factor,
		IsVerified:    isVerified,
	}
	if isVerified {
		band.BaseMandiPrice = basePricePerKg
	}
	return band, nil
}

var oneRupee = decimal.NewFromInt(1)

func atLeastOneRupee(d decimal.Decimal) decimal.Decimal {
	return decimal.Max(d, oneRupee)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
