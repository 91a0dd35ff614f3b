package service

import (
	"context"
	"errors"
	"testing"

	"github.com/annabazaar/pricingengine/internal/domain"
)

func TestMarketDataServiceBackfillsCache(t *testing.T) {
	store := &fakeMandiStore{rows: []domain.MandiPrice{mandi("Onion", "Maharashtra", "Nashik", 2200, 0)}}
	cache := &fakeMandiCache{}
	svc := NewMarketDataService(store, cache, quietLogger())
	loc := &domain.Location{State: "Maharashtra"}

	for i := 0; i < 2; i++ {
		got, err := svc.Find(context.Background(), "Onion", loc)
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d records", len(got))
		}
	}
	if store.finds != 1 {
		t.Errorf("store queried %d times, want 1", store.finds)
	}
	if cache.sets != 1 {
		t.Errorf("cache set %d times, want 1", cache.sets)
	}
}

func TestMarketDataServiceIgnoresCacheErrors(t *testing.T) {
	store := &fakeMandiStore{rows: []domain.MandiPrice{mandi("Onion", "Maharashtra", "Nashik", 2200, 0)}}
	cache := &fakeMandiCache{getErr: errors.New("redis down")}
	svc := NewMarketDataService(store, cache, quietLogger())

	got, err := svc.Find(context.Background(), "Onion", nil)
	if err != nil || len(got) != 1 {
		t.Fatalf("Find = %v, %v", got, err)
	}
}

func TestMarketDataServiceWithoutCache(t *testing.T) {
	store := &fakeMandiStore{err: errors.New("pool closed")}
	svc := NewMarketDataService(store, nil, quietLogger())

	if _, err := svc.Find(context.Background(), "Onion", nil); err == nil {
		t.Fatal("expected store error")
	}
}
