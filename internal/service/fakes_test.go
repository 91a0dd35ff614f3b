package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
	"github.com/annabazaar/pricingengine/internal/notify"
	"github.com/annabazaar/pricingengine/internal/pricing"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var now = time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

func mandi(commodity, state, district string, modal float64, daysAgo int) domain.MandiPrice {
	return domain.MandiPrice{
		CommodityName:        commodity,
		MarketName:           district + " APMC",
		State:                state,
		District:             district,
		ModalPricePerQuintal: modal,
		PriceDate:            now.Truncate(24*time.Hour).AddDate(0, 0, -daysAgo),
	}
}

type fakeMandiStore struct {
	rows  []domain.MandiPrice
	err   error
	finds int
}

func (s *fakeMandiStore) UpsertBatch(_ context.Context, prices []domain.MandiPrice) error {
	s.rows = append(s.rows, prices...)
	return nil
}

func (s *fakeMandiStore) Find(_ context.Context, commodity string, loc *domain.Location) ([]domain.MandiPrice, error) {
	s.finds++
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.MandiPrice
	for _, r := range s.rows {
		if !strings.EqualFold(r.CommodityName, commodity) {
			continue
		}
		if loc != nil && loc.State != "" && !strings.EqualFold(r.State, loc.State) {
			continue
		}
		if loc != nil && loc.District != "" && !strings.EqualFold(r.District, loc.District) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeMandiStore) LatestDate(context.Context, string) (time.Time, error) {
	return time.Time{}, domain.ErrNotFound
}

type fakeMandiCache struct {
	entries map[string][]domain.MandiPrice
	getErr  error
	sets    int
}

func cacheKey(commodity string, loc *domain.Location) string {
	if loc == nil {
		return strings.ToLower(commodity)
	}
	return strings.ToLower(commodity + "|" + loc.State + "|" + loc.District)
}

func (c *fakeMandiCache) Get(_ context.Context, commodity string, loc *domain.Location) ([]domain.MandiPrice, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	p, ok := c.entries[cacheKey(commodity, loc)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (c *fakeMandiCache) Set(_ context.Context, commodity string, loc *domain.Location, prices []domain.MandiPrice) error {
	if c.entries == nil {
		c.entries = map[string][]domain.MandiPrice{}
	}
	c.entries[cacheKey(commodity, loc)] = prices
	c.sets++
	return nil
}

func (c *fakeMandiCache) InvalidateCommodity(context.Context, string) error { return nil }

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.entries, nil
}

func (a *fakeAudit) events() []string {
	var out []string
	for _, e := range a.entries {
		out = append(out, e.Event)
	}
	return out
}

type fakeAlerter struct{ alerts []notify.Alert }

func (f *fakeAlerter) Notify(_ context.Context, a notify.Alert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

type fakeBus struct{ msgs, streamed [][]byte }

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	if channel == domain.ChannelNegotiations {
		b.msgs = append(b.msgs, payload)
	}
	return nil
}
func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	if stream == domain.ChannelNegotiations {
		b.streamed = append(b.streamed, payload)
	}
	return nil
}
func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// fakeNegotiationStore mirrors the Postgres store's status rules.
type fakeNegotiationStore struct {
	items map[string]domain.Negotiation
}

func newFakeNegotiationStore() *fakeNegotiationStore {
	return &fakeNegotiationStore{items: map[string]domain.Negotiation{}}
}

func (s *fakeNegotiationStore) Create(_ context.Context, n domain.Negotiation) error {
	if _, ok := s.items[n.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.items[n.ID] = n
	return nil
}

func (s *fakeNegotiationStore) GetByID(_ context.Context, id string) (domain.Negotiation, error) {
	n, ok := s.items[id]
	if !ok {
		return domain.Negotiation{}, domain.ErrNotFound
	}
	return n, nil
}

func (s *fakeNegotiationStore) UpdateStatus(_ context.Context, id string, status domain.NegotiationStatus) error {
	n, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !n.Status.Open() {
		return domain.ErrNegotiationDone
	}
	n.Status = status
	s.items[id] = n
	return nil
}

func (s *fakeNegotiationStore) Counter(_ context.Context, o domain.Offer) error {
	n, ok := s.items[o.NegotiationID]
	if !ok {
		return domain.ErrNotFound
	}
	if !n.Status.Open() {
		return domain.ErrNegotiationDone
	}
	n.Status = domain.NegotiationCountered
	n.Offers = append(n.Offers, o)
	s.items[o.NegotiationID] = n
	return nil
}

func (s *fakeNegotiationStore) ListOffers(_ context.Context, id string) ([]domain.Offer, error) {
	return s.items[id].Offers, nil
}

func newTestEngine(t *testing.T, src pricing.MarketDataSource) *pricing.Engine {
	t.Helper()
	calc, err := pricing.NewCalculator(pricing.DefaultCalculatorConfig(), quietLogger())
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	resolver := pricing.NewResolver(src, pricing.DefaultFallbackTable(), quietLogger(),
		pricing.WithClock(func() time.Time { return now }))
	return pricing.NewEngine(resolver, calc, quietLogger())
}
