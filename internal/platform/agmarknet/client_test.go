package agmarknet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func page(records ...string) string {
	out := `{"total": 3, "count": ` + strconv.Itoa(len(records)) + `, "offset": "0", "records": [`
	for i, r := range records {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out + "]}"
}

const (
	rowPune   = `{"state":"Maharashtra","district":"Pune","market":"Pune","commodity":"Tomato","variety":"Hybrid","arrival_date":"10/03/2026","min_price":"1000","max_price":"2000","modal_price":"1500"}`
	rowNashik = `{"state":"Maharashtra","district":"Nashik","market":"Lasalgaon","commodity":"Tomato","variety":"Local","arrival_date":"09/03/2026","min_price":900,"max_price":1600,"modal_price":1250.5}`
	rowBad    = `{"state":"Goa","district":"North Goa","market":"Mapusa","commodity":"Tomato","variety":"Other","arrival_date":"09/03/2026","min_price":"","max_price":"","modal_price":""}`
)

func TestFetchPaginates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		if r.URL.Path != "/resource/res-1" || q.Get("api-key") != "KEY" || q.Get("filters[commodity]") != "Tomato" {
			t.Errorf("unexpected request %s", r.URL)
		}
		switch q.Get("offset") {
		case "0":
			fmt.Fprint(w, page(rowPune, rowNashik))
		case "2":
			fmt.Fprint(w, page(rowBad))
		default:
			t.Errorf("unexpected offset %s", q.Get("offset"))
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ResourceID: "res-1", APIKey: "KEY", PageLimit: 2}, quietLogger())
	res, err := c.Fetch(context.Background(), "Tomato")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if len(res.Prices) != 2 || res.Skipped != 1 {
		t.Fatalf("prices = %d skipped = %d", len(res.Prices), res.Skipped)
	}

	p := res.Prices[1]
	if p.MarketName != "Lasalgaon" || p.ModalPricePerQuintal != 1250.5 || p.District != "Nashik" {
		t.Errorf("record = %+v", p)
	}
	if !p.PriceDate.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("PriceDate = %v", p.PriceDate)
	}

	replayed, skipped, err := Decode(res.Payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(replayed) != 2 || skipped != 1 {
		t.Errorf("Decode = %d records, %d skipped", len(replayed), skipped)
	}
}

func TestFetchStatusError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad key", http.StatusForbidden, domain.ErrUnauthorized},
		{"missing key", http.StatusUnauthorized, domain.ErrUnauthorized},
		{"throttled", http.StatusTooManyRequests, domain.ErrRateLimited},
		{"server error", http.StatusBadGateway, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL, ResourceID: "r", APIKey: "bad"}, quietLogger())
			_, err := c.Fetch(context.Background(), "Wheat")
			if err == nil {
				t.Fatalf("Fetch: want error on %d", tt.status)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if tt.want == nil && (errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrRateLimited)) {
				t.Errorf("err = %v, want a plain status error", err)
			}
		})
	}
}

type countingLimiter struct{ waits int }

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.waits++
	return nil
}

func TestFetchUsesLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page(rowPune))
	}))
	defer srv.Close()

	lim := &countingLimiter{}
	c := NewClient(Config{BaseURL: srv.URL, ResourceID: "r", PageLimit: 10}, quietLogger(), WithRateLimiter(lim))
	if _, err := c.Fetch(context.Background(), "Tomato"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if lim.waits != 1 {
		t.Errorf("waits = %d, want 1", lim.waits)
	}
}

func TestRecordToDomainRejects(t *testing.T) {
	tests := []Record{
		{Market: "X", ArrivalDate: "2026-03-10", ModalPrice: 100},
		{Market: "X", ArrivalDate: "10/03/2026", ModalPrice: 0},
	}
	for _, r := range tests {
		if _, err := r.ToDomain(); err == nil {
			t.Errorf("ToDomain(%+v) accepted", r)
		}
	}
}
