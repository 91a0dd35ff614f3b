package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/annabazaar/pricingengine/internal/config"
	"github.com/annabazaar/pricingengine/internal/domain"
	"github.com/annabazaar/pricingengine/internal/pipeline"
	"github.com/annabazaar/pricingengine/internal/platform/agmarknet"
	"github.com/annabazaar/pricingengine/internal/pricing"
	"github.com/annabazaar/pricingengine/internal/server"
	"github.com/annabazaar/pricingengine/internal/server/handler"
	"github.com/annabazaar/pricingengine/internal/server/ws"
	"github.com/annabazaar/pricingengine/internal/service"
)

// ServerMode serves the HTTP API and WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps, nil); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	return g.Wait()
}

// IngestMode runs only the mandi ingestion pipeline.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startIngestion(ctx, g, deps, nil); err != nil {
		return fmt.Errorf("ingest mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the HTTP server and, when ingest.enabled is set, the
// ingestion pipeline with a manual trigger endpoint.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("ingest", a.cfg.IngestRuns()),
	)

	g, ctx := errgroup.WithContext(ctx)

	var trigger chan struct{}
	if a.cfg.IngestRuns() {
		trigger = make(chan struct{}, 1)
		if err := a.startIngestion(ctx, g, deps, trigger); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	if err := a.startHTTPServer(ctx, g, deps, trigger); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	return g.Wait()
}

// newEngine builds the pricing engine from the pricing config section.
func (a *App) newEngine(source pricing.MarketDataSource) (*pricing.Engine, error) {
	calc, err := pricing.NewCalculator(calculatorConfig(a.cfg.Pricing), a.logger)
	if err != nil {
		return nil, err
	}
	table, err := fallbackTable(a.cfg.Pricing.Fallback)
	if err != nil {
		return nil, err
	}
	resolver := pricing.NewResolver(source, table, a.logger,
		pricing.WithStaleAfter(a.cfg.Pricing.StaleAfter.Duration))
	return pricing.NewEngine(resolver, calc, a.logger), nil
}

func calculatorConfig(p config.PricingConfig) pricing.CalculatorConfig {
	cc := pricing.DefaultCalculatorConfig()
	if p.FloorRatio > 0 {
		cc.FloorRatio = p.FloorRatio
	}
	if p.StretchRatio > 0 {
		cc.StretchRatio = p.StretchRatio
	}
	if len(p.Grades) > 0 {
		cc.GradeFactors = make(map[domain.QualityGrade]float64, len(p.Grades))
		for g, f := range p.Grades {
			cc.GradeFactors[domain.QualityGrade(g)] = f
		}
	}
	return cc
}

// fallbackTable overlays the configured baselines on the built-in table. A
// zero default keeps the built-in default.
func fallbackTable(f config.FallbackConfig) (pricing.FallbackTable, error) {
	if f.DefaultPerKg == 0 && len(f.Categories) == 0 && len(f.Commodities) == 0 {
		return pricing.DefaultFallbackTable(), nil
	}
	def := f.DefaultPerKg
	if def == 0 {
		def = pricing.DefaultFallbackPerKg
	}
	categories := pricing.DefaultFallbackCategories()
	maps.Copy(categories, f.Categories)
	commodities := pricing.DefaultFallbackCommodities()
	maps.Copy(commodities, f.Commodities)
	return pricing.NewFallbackTable(def, categories, commodities)
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, trigger chan<- struct{}) error {
	marketData := service.NewMarketDataService(deps.MandiStore, deps.MandiCache, a.logger)
	engine, err := a.newEngine(marketData)
	if err != nil {
		return fmt.Errorf("pricing engine: %w", err)
	}
	pricingSvc := service.NewPricingService(engine, deps.AuditStore, deps.Notifier, a.logger)
	negotiationSvc := service.NewNegotiationService(deps.NegotiationStore, pricingSvc, deps.SignalBus, a.logger)

	hub := ws.NewHub(deps.SignalBus, negotiationSvc, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Pricing:      handler.NewPricingHandler(pricingSvc, a.logger),
		Negotiations: handler.NewNegotiationHandler(negotiationSvc, a.logger),
		Audit:        handler.NewAuditHandler(deps.AuditStore, a.logger),
		Ingest:       handler.NewIngestHandler(trigger, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}

func (a *App) newIngester(deps *Dependencies) (*pipeline.MandiIngester, error) {
	ic := a.cfg.Ingest
	if ic.APIKey == "" && deps.BlobReader == nil {
		return nil, fmt.Errorf("ingest: api_key is required")
	}

	client := agmarknet.NewClient(agmarknet.Config{
		BaseURL:    ic.BaseURL,
		ResourceID: ic.ResourceID,
		APIKey:     ic.APIKey,
		PageLimit:  ic.PageLimit,
		Timeout:    ic.RequestTimeout.Duration,
	}, a.logger, agmarknet.WithRateLimiter(deps.RateLimiter))

	return pipeline.NewMandiIngester(pipeline.IngesterConfig{
		Commodities: ic.Commodities,
		LockTTL:     ic.LockTTL.Duration,
	}, pipeline.IngesterDeps{
		Fetcher:  client,
		Store:    deps.MandiStore,
		Cache:    deps.MandiCache,
		Bus:      deps.SignalBus,
		Archiver: deps.Archiver,
		Blobs:    deps.BlobReader,
		Locks:    deps.LockManager,
		Alerter:  deps.Notifier,
	}, a.logger), nil
}

func (a *App) startIngestion(ctx context.Context, g *errgroup.Group, deps *Dependencies, trigger <-chan struct{}) error {
	ingester, err := a.newIngester(deps)
	if err != nil {
		return err
	}
	ingester.SetTrigger(trigger)

	orch := pipeline.NewOrchestrator(
		ingester,
		deps.MandiStore,
		deps.Notifier,
		a.cfg.Ingest.Commodities,
		a.cfg.Ingest.Interval.Duration,
		a.cfg.Pricing.StaleAfter.Duration,
		a.logger,
	)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	return nil
}
