package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/annabazaar/pricingengine/internal/domain"
	"github.com/annabazaar/pricingengine/internal/notify"
)

// Orchestrator manages the pipeline goroutines: the periodic mandi
// ingestion and a freshness watchdog that alerts when a commodity's newest
// stored record has gone stale.
type Orchestrator struct {
	ingester    *MandiIngester
	store       domain.MandiPriceStore
	alerter     Alerter
	commodities []string
	interval    time.Duration
	staleAfter  time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	ingester *MandiIngester,
	store domain.MandiPriceStore,
	alerter Alerter,
	commodities []string,
	interval time.Duration,
	staleAfter time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		ingester:    ingester,
		store:       store,
		alerter:     alerter,
		commodities: commodities,
		interval:    interval,
		staleAfter:  staleAfter,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts the sub-pipelines as concurrent goroutines using an errgroup.
// If any goroutine returns a non-context error, the errgroup cancels the
// shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("interval", o.interval),
		slog.Duration("stale_after", o.staleAfter),
		slog.Int("commodities", len(o.commodities)),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.ingester.RunLoop(ctx, o.interval)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("mandi ingester: %w", err)
	})

	if o.staleAfter > 0 {
		g.Go(func() error {
			err := o.watchFreshness(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("freshness watchdog: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

func (o *Orchestrator) watchFreshness(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.CheckFreshness(ctx)
		}
	}
}

// CheckFreshness alerts for every commodity whose newest stored record is
// older than the stale threshold or missing entirely. It returns the
// commodities it alerted on.
func (o *Orchestrator) CheckFreshness(ctx context.Context) []string {
	var stale []string
	now := o.now()
	for _, commodity := range o.commodities {
		latest, err := o.store.LatestDate(ctx, commodity)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			stale = append(stale, commodity)
			o.alertStale(ctx, commodity, "no mandi records stored")
		case err != nil:
			o.logger.WarnContext(ctx, "freshness check failed",
				slog.String("commodity", commodity),
				slog.String("error", err.Error()),
			)
		case now.Sub(latest) > o.staleAfter:
			days := int(now.Sub(latest).Hours() / 24)
			stale = append(stale, commodity)
			o.alertStale(ctx, commodity, fmt.Sprintf("newest record is %d days old (%s)", days, latest.Format("02 Jan 2006")))
		}
	}
	return stale
}

func (o *Orchestrator) alertStale(ctx context.Context, commodity, msg string) {
	o.logger.WarnContext(ctx, "stale mandi data",
		slog.String("commodity", commodity),
		slog.String("detail", msg),
	)
	if o.alerter == nil {
		return
	}
	_ = o.alerter.Notify(ctx, notify.Alert{
		Event:   notify.EventStaleMandiData,
		Title:   "Stale mandi data: " + commodity,
		Message: msg,
	})
}
