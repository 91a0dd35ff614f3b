package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
	"github.com/annabazaar/pricingengine/internal/pricing"
	"github.com/annabazaar/pricingengine/internal/server/handler"
	"github.com/annabazaar/pricingengine/internal/service"
)

type memNegotiations struct{ items map[string]domain.Negotiation }

func (m *memNegotiations) Create(_ context.Context, n domain.Negotiation) error {
	m.items[n.ID] = n
	return nil
}
func (m *memNegotiations) GetByID(_ context.Context, id string) (domain.Negotiation, error) {
	n, ok := m.items[id]
	if !ok {
		return domain.Negotiation{}, domain.ErrNotFound
	}
	return n, nil
}
func (m *memNegotiations) UpdateStatus(_ context.Context, id string, s domain.NegotiationStatus) error {
	n, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !n.Status.Open() {
		return domain.ErrNegotiationDone
	}
	n.Status = s
	m.items[id] = n
	return nil
}
func (m *memNegotiations) Counter(_ context.Context, o domain.Offer) error {
	n, ok := m.items[o.NegotiationID]
	if !ok {
		return domain.ErrNotFound
	}
	if !n.Status.Open() {
		return domain.ErrNegotiationDone
	}
	n.Status = domain.NegotiationCountered
	n.Offers = append(n.Offers, o)
	m.items[o.NegotiationID] = n
	return nil
}
func (m *memNegotiations) ListOffers(_ context.Context, id string) ([]domain.Offer, error) {
	return m.items[id].Offers, nil
}

type emptySource struct{}

func (emptySource) Find(context.Context, string, *domain.Location) ([]domain.MandiPrice, error) {
	return nil, nil
}

func newTestServer(t *testing.T, apiKey string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	calc, err := pricing.NewCalculator(pricing.DefaultCalculatorConfig(), logger)
	if err != nil {
		t.Fatal(err)
	}
	engine := pricing.NewEngine(pricing.NewResolver(emptySource{}, pricing.DefaultFallbackTable(), logger), calc, logger)
	pricingSvc := service.NewPricingService(engine, nil, nil, logger)
	negSvc := service.NewNegotiationService(&memNegotiations{items: map[string]domain.Negotiation{}}, pricingSvc, nil, logger)

	srv := NewServer(Config{Port: 0, APIKey: apiKey, RateLimitWindow: time.Minute}, Handlers{
		Health:       handler.NewHealthHandler(nil, logger),
		Pricing:      handler.NewPricingHandler(pricingSvc, logger),
		Negotiations: handler.NewNegotiationHandler(negSvc, logger),
	}, nil, nil, logger)
	return srv.Handler()
}

func TestServerRoutes(t *testing.T) {
	h := newTestServer(t, "")

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/api/health", "", http.StatusOK},
		{http.MethodGet, "/api/price-band?commodity=Tomato&grade=A", "", http.StatusOK},
		{http.MethodPost, "/api/offers/classify", `{"band":{"floor_price":17,"target_price":20,"stretch_price":22},"offer_price":16}`, http.StatusOK},
		{http.MethodPost, "/api/negotiations", `{"commodity":"Tomato","buyer_id":"b","farmer_id":"f","quantity_kg":100,"offer_price":10}`, http.StatusUnprocessableEntity},
		{http.MethodGet, "/api/negotiations/unknown", "", http.StatusNotFound},
		{http.MethodDelete, "/api/negotiations/unknown", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/ingest/trigger", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestServerNegotiationFlow(t *testing.T) {
	h := newTestServer(t, "key")
	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("X-API-Key", "key")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	// Tomato falls back to ₹20/kg: band 17/20/22.
	rec := do(http.MethodPost, "/api/negotiations", `{"commodity":"Tomato","grade":"B","buyer_id":"b","farmer_id":"f","quantity_kg":100,"offer_price":18}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created domain.Negotiation
	if err := jsonDecode(rec.Body, &created); err != nil {
		t.Fatal(err)
	}
	if created.PriceVerified || created.FloorPrice != 17 {
		t.Errorf("created = %+v", created)
	}

	path := "/api/negotiations/" + created.ID
	if rec := do(http.MethodPost, path+"/offers", `{"role":"farmer","offer_price":15}`); rec.Code != http.StatusCreated {
		t.Errorf("farmer counter: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(http.MethodPost, path+"/offers", `{"role":"buyer","offer_price":15}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("buyer below floor: %d", rec.Code)
	}
	if rec := do(http.MethodPost, path+"/accept", ""); rec.Code != http.StatusOK {
		t.Errorf("accept: %d", rec.Code)
	}
	if rec := do(http.MethodPost, path+"/reject", ""); rec.Code != http.StatusConflict {
		t.Errorf("reject after accept: %d", rec.Code)
	}
}

func TestServerRequiresKey(t *testing.T) {
	h := newTestServer(t, "key")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/price-band?commodity=Onion", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func jsonDecode(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
