package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
)

// DefaultStaleAfter is the age past which a mandi record is flagged stale.
const DefaultStaleAfter = 72 * time.Hour

// MarketDataSource returns mandi records for a commodity. A non-nil loc
// restricts results to rows matching every field it sets; a nil loc means
// nationwide. Records are expected newest first but the resolver does not
// rely on it.
type MarketDataSource interface {
	Find(ctx context.Context, commodity string, loc *domain.Location) ([]domain.MandiPrice, error)
}

// Resolution is the outcome of a mandi lookup. BasePerKg is always usable:
// it is the modal price per kg when Price is set, otherwise the platform
// baseline from the fallback table.
type Resolution struct {
	Price            *domain.MandiPrice
	IsFallback       bool
	BasePerKg        float64
	FallbackCategory string
	Scope            domain.MatchScope
	Stale            bool
	Age              time.Duration
	// SourceErr is set, wrapping domain.ErrDataUnavailable, when the fallback
	// was used because the market data source failed rather than because it
	// had no record.
	SourceErr error
}

// Resolver finds the most specific recent mandi price for a commodity and
// substitutes a platform baseline when none exists.
type Resolver struct {
	source     MarketDataSource
	fallback   FallbackTable
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithClock replaces time.Now for staleness checks.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates a Resolver reading from source and falling back to
// the baselines in fallback.
func NewResolver(source MarketDataSource, fallback FallbackTable, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		source:     source,
		fallback:   fallback,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "mandi_resolver")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type tier struct {
	scope domain.MatchScope
	loc   *domain.Location
}

// tiers lists the lookups to try, most specific first.
func tiers(loc *domain.Location) []tier {
	var out []tier
	if !loc.IsZero() {
		if loc.District != "" {
			out = append(out, tier{domain.MatchScopeDistrict, &domain.Location{State: loc.State, District: loc.District}})
		}
		if loc.State != "" {
			out = append(out, tier{domain.MatchScopeState, &domain.Location{State: loc.State}})
		}
	}
	return append(out, tier{domain.MatchScopeNational, nil})
}

// Resolve returns the best mandi reference for commodity near loc. Tiers are
// tried district, state, then nationwide; within a tier the newest record
// wins. An empty commodity is domain.ErrInvalidInput. Missing data and source
// failures are not errors: they produce a Resolution with IsFallback set.
func (r *Resolver) Resolve(ctx context.Context, commodity string, loc *domain.Location) (Resolution, error) {
	commodity = strings.TrimSpace(commodity)
	if commodity == "" {
		return Resolution{}, fmt.Errorf("pricing: commodity name is required: %w", domain.ErrInvalidInput)
	}

	for _, t := range tiers(loc) {
		records, err := r.source.Find(ctx, commodity, t.loc)
		if err != nil {
			r.logger.WarnContext(ctx, "market data lookup failed, using fallback",
				slog.String("commodity", commodity),
				slog.String("scope", string(t.scope)),
				slog.String("error", err.Error()),
			)
			res := r.fallbackResolution(commodity)
			res.SourceErr = fmt.Errorf("pricing: %s lookup for %s: %w: %w", t.scope, commodity, domain.ErrDataUnavailable, err)
			return res, nil
		}

		best, ok := newest(commodity, t.loc, records)
		if !ok {
			continue
		}

		age := r.now().Sub(best.PriceDate)
		if age < 0 {
			age = 0
		}
		res := Resolution{
			Price:     &best,
			BasePerKg: best.ModalPricePerKg(),
			Scope:     t.scope,
			Stale:     age > r.staleAfter,
			Age:       age,
		}
		if res.Stale {
			r.logger.InfoContext(ctx, "mandi price is stale",
				slog.String("commodity", commodity),
				slog.String("market", best.MarketName),
				slog.Duration("age", age),
			)
		}
		return res, nil
	}

	r.logger.DebugContext(ctx, "no mandi record found",
		slog.String("commodity", commodity),
	)
	return r.fallbackResolution(commodity), nil
}

func (r *Resolver) fallbackResolution(commodity string) Resolution {
	price, category := r.fallback.Lookup(commodity)
	return Resolution{
		IsFallback:       true,
		BasePerKg:        price,
		FallbackCategory: category,
		Scope:            domain.MatchScopeNone,
	}
}

// newest picks the most recent usable record matching commodity and loc.
// Records with a non-positive modal price are skipped.
func newest(commodity string, loc *domain.Location, records []domain.MandiPrice) (domain.MandiPrice, bool) {
	var best domain.MandiPrice
	found := false
	for _, rec := range records {
		if !strings.EqualFold(strings.TrimSpace(rec.CommodityName), commodity) {
			continue
		}
		if loc != nil {
			if loc.State != "" && !strings.EqualFold(rec.State, loc.State) {
				continue
			}
			if loc.District != "" && !strings.EqualFold(rec.District, loc.District) {
				continue
			}
		}
		if rec.ModalPricePerQuintal <= 0 {
			continue
		}
		if !found || rec.PriceDate.After(best.PriceDate) {
			best = rec
			found = true
		}
	}
	return best, found
}
