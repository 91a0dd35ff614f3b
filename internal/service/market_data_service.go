package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/annabazaar/pricingengine/internal/domain"
)

// MarketDataService serves mandi lookups for the pricing resolver, checking
// the cache before the persistent store.
type MarketDataService struct {
	store  domain.MandiPriceStore
	cache  domain.MandiCache
	logger *slog.Logger
}

// NewMarketDataService creates a MarketDataService. cache may be nil.
func NewMarketDataService(store domain.MandiPriceStore, cache domain.MandiCache, logger *slog.Logger) *MarketDataService {
	return &MarketDataService{
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "market_data_service")),
	}
}

// Find returns mandi records for commodity at loc, newest first.
func (s *MarketDataService) Find(ctx context.Context, commodity string, loc *domain.Location) ([]domain.MandiPrice, error) {
	if s.cache != nil {
		prices, err := s.cache.Get(ctx, commodity, loc)
		if err == nil {
			return prices, nil
		}
		// Cache miss or error -- fall through to store.
	}

	prices, err := s.store.Find(ctx, commodity, loc)
	if err != nil {
		return nil, fmt.Errorf("market_data_service: find %q: %w", commodity, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, commodity, loc, prices); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_data_service: cache set failed",
				slog.String("commodity", commodity),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return prices, nil
}
