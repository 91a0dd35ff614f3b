package pricing

import "testing"

func TestFallbackLookup(t *testing.T) {
	table := DefaultFallbackTable()

	tests := []struct {
		commodity    string
		wantPrice    float64
		wantCategory string
	}{
		{"Tomato", 20, "vegetables"},
		{" wheat ", 25, "grains"},
		{"MANGO", 40, "fruits"},
		{"Dragon Fruit", DefaultFallbackPerKg, ""},
	}
	for _, tt := range tests {
		price, category := table.Lookup(tt.commodity)
		if price != tt.wantPrice || category != tt.wantCategory {
			t.Errorf("Lookup(%q) = %v, %q; want %v, %q", tt.commodity, price, category, tt.wantPrice, tt.wantCategory)
		}
	}
}

func TestNewFallbackTableValidation(t *testing.T) {
	if _, err := NewFallbackTable(0, nil, nil); err == nil {
		t.Error("zero default accepted")
	}
	if _, err := NewFallbackTable(10, map[string]float64{"fruits": -1}, nil); err == nil {
		t.Error("negative category price accepted")
	}
	if _, err := NewFallbackTable(10, map[string]float64{"fruits": 30}, map[string]string{"Guava": "berries"}); err == nil {
		t.Error("unknown category accepted")
	}

	table, err := NewFallbackTable(10, map[string]float64{"Fruits": 30}, map[string]string{"Guava": "fruits"})
	if err != nil {
		t.Fatalf("NewFallbackTable: %v", err)
	}
	if p, c := table.Lookup("guava"); p != 30 || c != "fruits" {
		t.Errorf("Lookup(guava) = %v, %q", p, c)
	}
}
