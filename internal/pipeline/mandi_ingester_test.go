package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
	"github.com/annabazaar/pricingengine/internal/notify"
	"github.com/annabazaar/pricingengine/internal/platform/agmarknet"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var fetchedAt = time.Date(2026, 3, 12, 6, 0, 0, 0, time.UTC)

func price(commodity string, modal float64, daysAgo int) domain.MandiPrice {
	return domain.MandiPrice{
		CommodityName:        commodity,
		MarketName:           "Azadpur",
		State:                "NCT of Delhi",
		District:             "Delhi",
		ModalPricePerQuintal: modal,
		PriceDate:            fetchedAt.Truncate(24*time.Hour).AddDate(0, 0, -daysAgo),
	}
}

type fakeFetcher struct {
	results map[string]agmarknet.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, commodity string) (agmarknet.Result, error) {
	f.calls = append(f.calls, commodity)
	if err := f.errs[commodity]; err != nil {
		return agmarknet.Result{}, err
	}
	return f.results[commodity], nil
}

type fakeStore struct {
	mu      sync.Mutex
	rows    []domain.MandiPrice
	err     error
	latest  map[string]time.Time
	latestE error
}

func (s *fakeStore) UpsertBatch(_ context.Context, prices []domain.MandiPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, prices...)
	return nil
}

func (s *fakeStore) Find(context.Context, string, *domain.Location) ([]domain.MandiPrice, error) {
	return nil, nil
}

func (s *fakeStore) LatestDate(_ context.Context, commodity string) (time.Time, error) {
	if s.latestE != nil {
		return time.Time{}, s.latestE
	}
	t, ok := s.latest[commodity]
	if !ok {
		return time.Time{}, domain.ErrNotFound
	}
	return t, nil
}

type fakeCache struct{ invalidated []string }

func (c *fakeCache) Get(context.Context, string, *domain.Location) ([]domain.MandiPrice, error) {
	return nil, domain.ErrNotFound
}
func (c *fakeCache) Set(context.Context, string, *domain.Location, []domain.MandiPrice) error {
	return nil
}
func (c *fakeCache) InvalidateCommodity(_ context.Context, commodity string) error {
	c.invalidated = append(c.invalidated, commodity)
	return nil
}

type published struct {
	channel string
	payload []byte
}

type fakeBus struct {
	msgs     []published
	streamed []published
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.msgs = append(b.msgs, published{channel, payload})
	return nil
}
func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streamed = append(b.streamed, published{stream, payload})
	return nil
}
func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeArchiver struct {
	keys []string
	err  error
}

func (a *fakeArchiver) Archive(_ context.Context, commodity string, _ time.Time, _ []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	key := "mandi/raw/2026/03/12/" + strings.ToLower(commodity) + ".json"
	a.keys = append(a.keys, key)
	return key, nil
}

type fakeLocks struct {
	held     bool
	acquired []string
	released int
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired = append(l.acquired, key)
	return func() { l.released++ }, nil
}

type fakeAlerter struct {
	alerts []notify.Alert
	err    error
}

func (a *fakeAlerter) Notify(_ context.Context, al notify.Alert) error {
	a.alerts = append(a.alerts, al)
	return a.err
}

type fakeBlobs struct{ objects map[string][]byte }

func (b *fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for path := range b.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path})
		}
	}
	return out, nil
}

func (b *fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

type harness struct {
	fetcher  *fakeFetcher
	store    *fakeStore
	cache    *fakeCache
	bus      *fakeBus
	archiver *fakeArchiver
	locks    *fakeLocks
	alerter  *fakeAlerter
	blobs    *fakeBlobs
}

func newHarness() *harness {
	return &harness{
		fetcher: &fakeFetcher{
			results: map[string]agmarknet.Result{},
			errs:    map[string]error{},
		},
		store:    &fakeStore{latest: map[string]time.Time{}},
		cache:    &fakeCache{},
		bus:      &fakeBus{},
		archiver: &fakeArchiver{},
		locks:    &fakeLocks{},
		alerter:  &fakeAlerter{},
		blobs:    &fakeBlobs{objects: map[string][]byte{}},
	}
}

func (h *harness) ingester(commodities ...string) *MandiIngester {
	m := NewMandiIngester(IngesterConfig{Commodities: commodities}, IngesterDeps{
		Fetcher:  h.fetcher,
		Store:    h.store,
		Cache:    h.cache,
		Bus:      h.bus,
		Archiver: h.archiver,
		Blobs:    h.blobs,
		Locks:    h.locks,
		Alerter:  h.alerter,
	}, quietLogger())
	m.now = func() time.Time { return fetchedAt }
	return m
}

func TestRunIngestsEveryCommodity(t *testing.T) {
	h := newHarness()
	h.fetcher.results["Tomato"] = agmarknet.Result{
		Commodity: "Tomato",
		Prices:    []domain.MandiPrice{price("Tomato", 1800, 1), price("Tomato", 2000, 0)},
		Payload:   []byte(`{"records":[]}`),
		FetchedAt: fetchedAt,
	}
	h.fetcher.results["Onion"] = agmarknet.Result{
		Commodity: "Onion",
		Prices:    []domain.MandiPrice{price("Onion", 2400, 0)},
		Skipped:   2,
		Payload:   []byte(`{"records":[]}`),
	}

	report, err := h.ingester("Tomato", "Onion").Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Commodities) != 2 || report.Failed() != 0 {
		t.Fatalf("report = %+v", report)
	}
	if got := len(h.store.rows); got != 3 {
		t.Errorf("stored %d rows, want 3", got)
	}
	if report.Commodities[1].Skipped != 2 {
		t.Errorf("onion skipped = %d, want 2", report.Commodities[1].Skipped)
	}
	if len(h.archiver.keys) != 2 {
		t.Errorf("archived %d payloads, want 2", len(h.archiver.keys))
	}
	if strings.Join(h.cache.invalidated, ",") != "Tomato,Onion" {
		t.Errorf("invalidated = %v", h.cache.invalidated)
	}
	if len(h.locks.acquired) != 1 || h.locks.acquired[0] != IngestLockKey || h.locks.released != 1 {
		t.Errorf("lock acquired=%v released=%d", h.locks.acquired, h.locks.released)
	}

	if len(h.bus.msgs) != 2 {
		t.Fatalf("published %d events, want 2", len(h.bus.msgs))
	}
	if len(h.bus.streamed) != 2 || h.bus.streamed[1].channel != domain.ChannelMandiPrices {
		t.Errorf("streamed = %+v", h.bus.streamed)
	}
	var evt MandiPriceEvent
	if err := json.Unmarshal(h.bus.msgs[0].payload, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if h.bus.msgs[0].channel != domain.ChannelMandiPrices {
		t.Errorf("channel = %q", h.bus.msgs[0].channel)
	}
	if evt.Commodity != "Tomato" || evt.Records != 2 || evt.Source != "feed" {
		t.Errorf("event = %+v", evt)
	}
	if !evt.LatestDate.Equal(price("Tomato", 0, 0).PriceDate) {
		t.Errorf("latest date = %v", evt.LatestDate)
	}
	if evt.ArchiveKey == "" {
		t.Error("event missing archive key")
	}
}

func TestRunContinuesPastFailures(t *testing.T) {
	h := newHarness()
	h.fetcher.errs["Tomato"] = errors.New("upstream 503")
	h.fetcher.results["Onion"] = agmarknet.Result{Prices: []domain.MandiPrice{price("Onion", 2400, 0)}}

	report, err := h.ingester("Tomato", "Onion").Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "upstream 503") {
		t.Fatalf("err = %v, want joined fetch failure", err)
	}
	if report.Failed() != 1 {
		t.Errorf("failed = %d, want 1", report.Failed())
	}
	if len(h.store.rows) != 1 {
		t.Errorf("stored %d rows, want 1", len(h.store.rows))
	}
	if len(h.alerter.alerts) != 1 || h.alerter.alerts[0].Event != notify.EventIngestFailed {
		t.Errorf("alerts = %+v", h.alerter.alerts)
	}
}

func TestRunStopsWhenFeedRejectsKey(t *testing.T) {
	h := newHarness()
	h.fetcher.errs["Tomato"] = fmt.Errorf("agmarknet: fetch Tomato: status 403: %w", domain.ErrUnauthorized)
	h.fetcher.results["Onion"] = agmarknet.Result{Prices: []domain.MandiPrice{price("Onion", 2400, 0)}}

	report, err := h.ingester("Tomato", "Onion").Run(context.Background())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if len(report.Commodities) != 1 || len(h.store.rows) != 0 {
		t.Errorf("report = %+v rows = %d, want run stopped after Tomato", report.Commodities, len(h.store.rows))
	}
}

func TestRunLogsUndeliveredAlert(t *testing.T) {
	h := newHarness()
	h.fetcher.errs["Tomato"] = errors.New("upstream 503")
	h.alerter.err = errors.New("telegram down")

	var logs bytes.Buffer
	m := h.ingester("Tomato")
	m.logger = slog.New(slog.NewTextHandler(&logs, nil))

	if _, err := m.Run(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	out := logs.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "telegram down") {
		t.Errorf("alert failure not logged:\n%s", out)
	}
}

func TestRunArchiveFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	h.archiver.err = errors.New("bucket missing")
	h.fetcher.results["Wheat"] = agmarknet.Result{
		Prices:  []domain.MandiPrice{price("Wheat", 2300, 0)},
		Payload: []byte(`{}`),
	}

	report, err := h.ingester("Wheat").Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Commodities[0].Records != 1 || report.Commodities[0].ArchiveKey != "" {
		t.Errorf("report = %+v", report.Commodities[0])
	}
}

func TestRunStoreFailureSkipsInvalidation(t *testing.T) {
	h := newHarness()
	h.store.err = errors.New("pool closed")
	h.fetcher.results["Wheat"] = agmarknet.Result{Prices: []domain.MandiPrice{price("Wheat", 2300, 0)}}

	if _, err := h.ingester("Wheat").Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(h.cache.invalidated) != 0 || len(h.bus.msgs) != 0 {
		t.Errorf("invalidated=%v published=%d", h.cache.invalidated, len(h.bus.msgs))
	}
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	h := newHarness()
	h.locks.held = true

	report, err := h.ingester("Tomato").Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.LockSkipped {
		t.Error("expected LockSkipped")
	}
	if len(h.fetcher.calls) != 0 {
		t.Errorf("fetched %v while lock held", h.fetcher.calls)
	}
}

func TestReplayDecodesArchivedPayloads(t *testing.T) {
	h := newHarness()
	payload := `{"total":2,"count":2,"offset":0,"records":[
		{"state":"Karnataka","district":"Kolar","market":"Kolar","commodity":"Tomato","variety":"Local","arrival_date":"10/03/2026","min_price":"1200","max_price":"1800","modal_price":"1500"},
		{"state":"Karnataka","district":"Kolar","market":"Kolar","commodity":"Tomato","variety":"Local","arrival_date":"bad","min_price":"1","max_price":"1","modal_price":"1"}
	]}`
	h.blobs.objects["mandi/raw/2026/03/10/tomato.json"] = []byte(payload)
	h.blobs.objects["mandi/raw/2026/03/10/readme.txt"] = []byte("ignored")
	h.blobs.objects["mandi/raw/2026/02/28/onion.json"] = []byte(`{"records":[]}`)

	report, err := h.ingester().Replay(context.Background(), "mandi/raw/2026/03/")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(report.Commodities) != 1 {
		t.Fatalf("replayed %d objects, want 1", len(report.Commodities))
	}
	cr := report.Commodities[0]
	if cr.Records != 1 || cr.Skipped != 1 || cr.Commodity != "Tomato" {
		t.Errorf("report = %+v", cr)
	}
	if len(h.store.rows) != 1 || h.store.rows[0].ModalPricePerQuintal != 1500 {
		t.Errorf("rows = %+v", h.store.rows)
	}
	if len(h.cache.invalidated) != 1 || h.cache.invalidated[0] != "Tomato" {
		t.Errorf("invalidated = %v", h.cache.invalidated)
	}
	var evt MandiPriceEvent
	if err := json.Unmarshal(h.bus.msgs[0].payload, &evt); err != nil || evt.Source != "replay" {
		t.Errorf("event = %+v err=%v", evt, err)
	}
}

func TestReplayWithoutBlobReader(t *testing.T) {
	h := newHarness()
	m := h.ingester()
	m.blobs = nil
	if _, err := m.Replay(context.Background(), "mandi/raw/"); err == nil {
		t.Fatal("expected error without blob reader")
	}
}

func TestCheckFreshness(t *testing.T) {
	h := newHarness()
	h.store.latest["Tomato"] = fetchedAt.Add(-24 * time.Hour)
	h.store.latest["Onion"] = fetchedAt.Add(-5 * 24 * time.Hour)

	o := NewOrchestrator(h.ingester(), h.store, h.alerter, []string{"Tomato", "Onion", "Saffron"}, time.Hour, 72*time.Hour, quietLogger())
	o.now = func() time.Time { return fetchedAt }

	stale := o.CheckFreshness(context.Background())
	if strings.Join(stale, ",") != "Onion,Saffron" {
		t.Fatalf("stale = %v", stale)
	}
	if len(h.alerter.alerts) != 2 {
		t.Fatalf("alerts = %+v", h.alerter.alerts)
	}
	if h.alerter.alerts[0].Event != notify.EventStaleMandiData {
		t.Errorf("event = %q", h.alerter.alerts[0].Event)
	}
	if !strings.Contains(h.alerter.alerts[0].Message, "5 days old") {
		t.Errorf("message = %q", h.alerter.alerts[0].Message)
	}
}

func TestOrchestratorStopsCleanly(t *testing.T) {
	h := newHarness()
	o := NewOrchestrator(h.ingester(), h.store, nil, nil, time.Hour, time.Hour, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
