package pricing

import (
	"fmt"
	"strings"
)

// FallbackTable holds the conservative platform baselines used when no mandi
// record exists for a commodity. It is built once and injected into the
// Engine; nothing reads it from package state.
type FallbackTable struct {
	defaultPerKg float64
	categories   map[string]float64
	commodities  map[string]string
}

// NewFallbackTable builds a table. categories maps a category name to its
// baseline price per kg; commodities maps a commodity to its category.
// Lookups are case-insensitive.
func NewFallbackTable(defaultPerKg float64, categories map[string]float64, commodities map[string]string) (FallbackTable, error) {
	if !finite(defaultPerKg) || defaultPerKg <= 0 {
		return FallbackTable{}, fmt.Errorf("pricing: fallback default must be > 0, got %v", defaultPerKg)
	}

	t := FallbackTable{
		defaultPerKg: defaultPerKg,
		categories:   make(map[string]float64, len(categories)),
		commodities:  make(map[string]string, len(commodities)),
	}
	for name, price := range categories {
		if !finite(price) || price <= 0 {
			return FallbackTable{}, fmt.Errorf("pricing: fallback price for category %q must be > 0, got %v", name, price)
		}
		t.categories[normKey(name)] = price
	}
	for commodity, category := range commodities {
		key := normKey(category)
		if _, ok := t.categories[key]; !ok {
			return FallbackTable{}, fmt.Errorf("pricing: commodity %q maps to unknown category %q", commodity, category)
		}
		t.commodities[normKey(commodity)] = key
	}
	return t, nil
}

// DefaultFallbackTable returns the built-in baselines.
func DefaultFallbackTable() FallbackTable {
	t, err := NewFallbackTable(DefaultFallbackPerKg, DefaultFallbackCategories(), DefaultFallbackCommodities())
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultFallbackPerKg applies to commodities with no category.
const DefaultFallbackPerKg = 20.0

// DefaultFallbackCategories returns the baseline price per kg for each
// commodity category.
func DefaultFallbackCategories() map[string]float64 {
	return map[string]float64{
		"vegetables": 20,
		"fruits":     40,
		"grains":     25,
		"pulses":     60,
		"oilseeds":   50,
		"spices":     120,
	}
}

// DefaultFallbackCommodities assigns common commodities to categories.
func DefaultFallbackCommodities() map[string]string {
	return map[string]string{
		"Tomato":      "vegetables",
		"Onion":       "vegetables",
		"Potato":      "vegetables",
		"Cabbage":     "vegetables",
		"Cauliflower": "vegetables",
		"Brinjal":     "vegetables",
		"Banana":      "fruits",
		"Mango":       "fruits",
		"Apple":       "fruits",
		"Wheat":       "grains",
		"Rice":        "grains",
		"Paddy":       "grains",
		"Maize":       "grains",
		"Bajra":       "grains",
		"Tur":         "pulses",
		"Moong":       "pulses",
		"Chana":       "pulses",
		"Groundnut":   "oilseeds",
		"Mustard":     "oilseeds",
		"Soyabean":    "oilseeds",
		"Turmeric":    "spices",
		"Chilli":      "spices",
		"Cumin":       "spices",
	}
}

// Lookup returns the baseline price per kg for commodity and the category it
// came from. Commodities with no category get the platform default and an
// empty category.
func (t FallbackTable) Lookup(commodity string) (float64, string) {
	if category, ok := t.commodities[normKey(commodity)]; ok {
		return t.categories[category], category
	}
	return t.defaultPerKg, ""
}

func normKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
