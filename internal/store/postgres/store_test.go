package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
)

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "bazaar"})
	if got != "postgres://u:p@db:5432/bazaar?sslmode=disable" {
		t.Errorf("DSN = %q", got)
	}
	if got := DSN(ClientConfig{DSN: " postgres://x ", Host: "ignored"}); got != " postgres://x " {
		t.Errorf("explicit DSN not preferred: %q", got)
	}
}

func TestBuildMandiFind(t *testing.T) {
	tests := []struct {
		name     string
		loc      *domain.Location
		wantArgs int
		contains []string
		excludes []string
	}{
		{"national", nil, 2, nil, []string{"lower(state)", "lower(district)"}},
		{"state", &domain.Location{State: "Punjab"}, 3, []string{"lower(state) = lower($2)"}, []string{"lower(district)"}},
		{"district", &domain.Location{State: "Punjab", District: "Ludhiana"}, 4,
			[]string{"lower(state) = lower($2)", "lower(district) = lower($3)", "LIMIT $4"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildMandiFind(" Wheat ", tt.loc)
			if len(args) != tt.wantArgs {
				t.Fatalf("args = %v, want %d", args, tt.wantArgs)
			}
			if args[0] != "Wheat" {
				t.Errorf("commodity arg = %q", args[0])
			}
			for _, s := range tt.contains {
				if !strings.Contains(query, s) {
					t.Errorf("query missing %q:\n%s", s, query)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(query, s) {
					t.Errorf("query has unexpected %q:\n%s", s, query)
				}
			}
		})
	}
}

func TestBuildAuditList(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := buildAuditList("fallback_used", domain.ListOpts{Since: &since, Limit: 20, Offset: 40})

	for _, s := range []string{"event = $1", "created_at >= $2", "LIMIT $3", "OFFSET $4"} {
		if !strings.Contains(query, s) {
			t.Errorf("query missing %q:\n%s", s, query)
		}
	}
	if len(args) != 4 || args[0] != "fallback_used" || args[3] != 40 {
		t.Errorf("args = %v", args)
	}

	query, args = buildAuditList("", domain.ListOpts{})
	if len(args) != 0 || strings.Contains(query, "$") {
		t.Errorf("unfiltered list: %q %v", query, args)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	for _, table := range []string{"mandi_prices", "negotiations", "negotiation_offers", "audit_log"} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("migration does not create %s", table)
		}
	}
}

func TestMigrationFilesOrdered(t *testing.T) {
	files, err := migrationFiles()
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(files) == 0 || files[0] != "migrations/001_init.sql" {
		t.Errorf("files = %v", files)
	}
}
