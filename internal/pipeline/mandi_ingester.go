// Package pipeline runs the background mandi price ingestion: fetch from the
// Agmarknet feed, archive the raw payload, upsert into Postgres, invalidate
// the lookup cache and announce the update on the bus.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
	"github.com/annabazaar/pricingengine/internal/notify"
	"github.com/annabazaar/pricingengine/internal/platform/agmarknet"
)

// IngestLockKey serialises ingestion across replicas.
const IngestLockKey = "ingest:mandi"

// Fetcher pulls one commodity from the upstream feed.
type Fetcher interface {
	Fetch(ctx context.Context, commodity string) (agmarknet.Result, error)
}

// Alerter receives ingestion failure alerts.
type Alerter interface {
	Notify(ctx context.Context, a notify.Alert) error
}

// MandiPriceEvent is published on domain.ChannelMandiPrices after a
// commodity is refreshed.
type MandiPriceEvent struct {
	Commodity  string    `json:"commodity"`
	Records    int       `json:"records"`
	LatestDate time.Time `json:"latest_date"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	Source     string    `json:"source"`
}

// CommodityReport is the outcome for one commodity in a run.
type CommodityReport struct {
	Commodity  string
	Records    int
	Skipped    int
	ArchiveKey string
	Err        error
}

// RunReport summarises one ingestion or replay run.
type RunReport struct {
	Started     time.Time
	Finished    time.Time
	LockSkipped bool
	Commodities []CommodityReport
}

// Failed returns the number of commodities that errored.
func (r RunReport) Failed() int {
	n := 0
	for _, c := range r.Commodities {
		if c.Err != nil {
			n++
		}
	}
	return n
}

// IngesterConfig holds the static inputs for a MandiIngester.
type IngesterConfig struct {
	Commodities []string
	LockTTL     time.Duration
}

// MandiIngester coordinates a single ingestion run. Store and fetcher are
// required; the rest are optional and skipped when nil.
type MandiIngester struct {
	cfg      IngesterConfig
	fetcher  Fetcher
	store    domain.MandiPriceStore
	cache    domain.MandiCache
	bus      domain.SignalBus
	archiver domain.PayloadArchiver
	blobs    domain.BlobReader
	locks    domain.LockManager
	alerter  Alerter
	trigger  <-chan struct{}
	now      func() time.Time
	logger   *slog.Logger
}

// IngesterDeps bundles the collaborators of a MandiIngester.
type IngesterDeps struct {
	Fetcher  Fetcher
	Store    domain.MandiPriceStore
	Cache    domain.MandiCache
	Bus      domain.SignalBus
	Archiver domain.PayloadArchiver
	Blobs    domain.BlobReader
	Locks    domain.LockManager
	Alerter  Alerter
}

// NewMandiIngester creates a MandiIngester.
func NewMandiIngester(cfg IngesterConfig, deps IngesterDeps, logger *slog.Logger) *MandiIngester {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MandiIngester{
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		store:    deps.Store,
		cache:    deps.Cache,
		bus:      deps.Bus,
		archiver: deps.Archiver,
		blobs:    deps.Blobs,
		locks:    deps.Locks,
		alerter:  deps.Alerter,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "mandi_ingester")),
	}
}

// SetTrigger makes RunLoop also run whenever ch receives.
func (m *MandiIngester) SetTrigger(ch <-chan struct{}) {
	m.trigger = ch
}

// Run ingests every configured commodity once. One commodity failing does
// not stop the rest, except when the feed rejects the API key or throttles
// the caller: every later request would fail the same way, so the run ends
// there. The joined failures are returned alongside the report. If another
// replica holds the ingest lock the run is skipped without error.
func (m *MandiIngester) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{Started: m.now()}

	unlock, err := m.acquire(ctx)
	if errors.Is(err, domain.ErrLockHeld) {
		m.logger.InfoContext(ctx, "ingest lock held elsewhere, skipping run")
		report.LockSkipped = true
		report.Finished = m.now()
		return report, nil
	}
	if err != nil {
		return report, err
	}
	defer unlock()

	var errs []error
	for _, commodity := range m.cfg.Commodities {
		cr := m.ingestCommodity(ctx, commodity)
		report.Commodities = append(report.Commodities, cr)
		if cr.Err != nil {
			errs = append(errs, cr.Err)
			m.alert(ctx, commodity, cr.Err)
			if errors.Is(cr.Err, domain.ErrUnauthorized) || errors.Is(cr.Err, domain.ErrRateLimited) {
				m.logger.WarnContext(ctx, "feed refused the run, stopping early",
					slog.String("commodity", commodity),
					slog.String("error", cr.Err.Error()),
				)
				break
			}
		}
	}
	report.Finished = m.now()

	m.logger.InfoContext(ctx, "mandi ingestion run complete",
		slog.Int("commodities", len(report.Commodities)),
		slog.Int("failed", report.Failed()),
		slog.Duration("took", report.Finished.Sub(report.Started)),
	)
	return report, errors.Join(errs...)
}

// RunLoop runs immediately, then on every interval and on every trigger
// until ctx is done.
func (m *MandiIngester) RunLoop(ctx context.Context, interval time.Duration) error {
	if _, err := m.Run(ctx); err != nil {
		m.logger.ErrorContext(ctx, "mandi ingestion failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("mandi ingester loop stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-m.trigger:
			m.logger.InfoContext(ctx, "manual ingestion triggered")
		}
		if _, err := m.Run(ctx); err != nil {
			m.logger.ErrorContext(ctx, "mandi ingestion failed", slog.String("error", err.Error()))
		}
	}
}

func (m *MandiIngester) acquire(ctx context.Context) (func(), error) {
	if m.locks == nil {
		return func() {}, nil
	}
	unlock, err := m.locks.Acquire(ctx, IngestLockKey, m.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		return nil, fmt.Errorf("pipeline: acquire ingest lock: %w", err)
	}
	return unlock, nil
}

func (m *MandiIngester) ingestCommodity(ctx context.Context, commodity string) CommodityReport {
	cr := CommodityReport{Commodity: commodity}

	res, err := m.fetcher.Fetch(ctx, commodity)
	if err != nil {
		cr.Err = fmt.Errorf("pipeline: fetch %s: %w", commodity, err)
		return cr
	}
	cr.Skipped = res.Skipped

	if m.archiver != nil && len(res.Payload) > 0 {
		fetchedAt := res.FetchedAt
		if fetchedAt.IsZero() {
			fetchedAt = m.now()
		}
		key, err := m.archiver.Archive(ctx, commodity, fetchedAt, res.Payload)
		if err != nil {
			m.logger.WarnContext(ctx, "archive raw payload failed",
				slog.String("commodity", commodity),
				slog.String("error", err.Error()),
			)
		}
		cr.ArchiveKey = key
	}

	if err := m.store.UpsertBatch(ctx, res.Prices); err != nil {
		cr.Err = fmt.Errorf("pipeline: store %s: %w", commodity, err)
		return cr
	}
	cr.Records = len(res.Prices)

	m.afterUpsert(ctx, commodity, res.Prices, cr.ArchiveKey, "feed")
	return cr
}

// afterUpsert invalidates cached lookups and announces the refresh. Both are
// best effort.
func (m *MandiIngester) afterUpsert(ctx context.Context, commodity string, prices []domain.MandiPrice, archiveKey, source string) {
	if m.cache != nil {
		if err := m.cache.InvalidateCommodity(ctx, commodity); err != nil {
			m.logger.WarnContext(ctx, "invalidate mandi cache failed",
				slog.String("commodity", commodity),
				slog.String("error", err.Error()),
			)
		}
	}

	if m.bus == nil || len(prices) == 0 {
		return
	}
	evt := MandiPriceEvent{
		Commodity:  commodity,
		Records:    len(prices),
		LatestDate: latestDate(prices),
		ArchiveKey: archiveKey,
		Source:     source,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, domain.ChannelMandiPrices, payload); err != nil {
		m.logger.WarnContext(ctx, "publish mandi event failed",
			slog.String("commodity", commodity),
			slog.String("error", err.Error()),
		)
	}
	if err := m.bus.StreamAppend(ctx, domain.ChannelMandiPrices, payload); err != nil {
		m.logger.WarnContext(ctx, "append mandi event to stream failed",
			slog.String("commodity", commodity),
			slog.String("error", err.Error()),
		)
	}
}

func (m *MandiIngester) alert(ctx context.Context, commodity string, err error) {
	if m.alerter == nil {
		return
	}
	nerr := m.alerter.Notify(ctx, notify.Alert{
		Event:   notify.EventIngestFailed,
		Title:   "Mandi ingestion failed: " + commodity,
		Message: err.Error(),
	})
	if nerr != nil {
		m.logger.WarnContext(ctx, "ingest failure alert not sent",
			slog.String("commodity", commodity),
			slog.String("error", nerr.Error()),
		)
	}
}

// Replay re-ingests every archived payload under prefix (for example
// "mandi/raw/2026/03/"). Records are grouped by the commodity they carry, so
// the object name is not trusted.
func (m *MandiIngester) Replay(ctx context.Context, prefix string) (RunReport, error) {
	report := RunReport{Started: m.now()}
	if m.blobs == nil {
		return report, fmt.Errorf("pipeline: replay needs a blob reader")
	}

	unlock, err := m.acquire(ctx)
	if err != nil {
		return report, err
	}
	defer unlock()

	objects, err := m.blobs.List(ctx, prefix)
	if err != nil {
		return report, fmt.Errorf("pipeline: list archive %s: %w", prefix, err)
	}

	var errs []error
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Path, ".json") {
			continue
		}
		cr := m.replayObject(ctx, obj.Path)
		report.Commodities = append(report.Commodities, cr)
		if cr.Err != nil {
			errs = append(errs, cr.Err)
		}
	}
	report.Finished = m.now()

	m.logger.InfoContext(ctx, "mandi replay complete",
		slog.String("prefix", prefix),
		slog.Int("objects", len(report.Commodities)),
		slog.Int("failed", report.Failed()),
	)
	return report, errors.Join(errs...)
}

func (m *MandiIngester) replayObject(ctx context.Context, path string) CommodityReport {
	cr := CommodityReport{ArchiveKey: path}

	body, err := m.blobs.Get(ctx, path)
	if err != nil {
		cr.Err = fmt.Errorf("pipeline: read %s: %w", path, err)
		return cr
	}
	payload, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		cr.Err = fmt.Errorf("pipeline: read %s: %w", path, err)
		return cr
	}

	prices, skipped, err := agmarknet.Decode(payload)
	if err != nil {
		cr.Err = fmt.Errorf("pipeline: %s: %w", path, err)
		return cr
	}
	cr.Skipped = skipped

	if err := m.store.UpsertBatch(ctx, prices); err != nil {
		cr.Err = fmt.Errorf("pipeline: store %s: %w", path, err)
		return cr
	}
	cr.Records = len(prices)

	for commodity, group := range groupByCommodity(prices) {
		if cr.Commodity == "" {
			cr.Commodity = commodity
		}
		m.afterUpsert(ctx, commodity, group, path, "replay")
	}
	return cr
}

func groupByCommodity(prices []domain.MandiPrice) map[string][]domain.MandiPrice {
	out := make(map[string][]domain.MandiPrice)
	for _, p := range prices {
		out[p.CommodityName] = append(out[p.CommodityName], p)
	}
	return out
}

func latestDate(prices []domain.MandiPrice) time.Time {
	var latest time.Time
	for _, p := range prices {
		if p.PriceDate.After(latest) {
			latest = p.PriceDate
		}
	}
	return latest
}
