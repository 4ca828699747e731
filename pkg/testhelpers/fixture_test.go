package testhelpers

import (
	"database/sql"
	"testing"
)

func TestNewSQLiteFixture(t *testing.T) {
	path := NewSQLiteFixture(t)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()

	for sector, expected := range FixtureCompanyCount {
		var count int
		if err := db.QueryRow("SELECT COUNT(DISTINCT cik) FROM companies WHERE gics_sector = ?", sector).Scan(&count); err != nil {
			t.Fatalf("count companies: %v", err)
		}
		if count != expected {
			t.Errorf("expected %d companies in %s, got %d", expected, sector, count)
		}
	}

	var filings int
	if err := db.QueryRow("SELECT COUNT(*) FROM sub WHERE form = '10-K'").Scan(&filings); err != nil {
		t.Fatalf("count filings: %v", err)
	}
	if filings != 7 {
		t.Errorf("expected 7 annual filings, got %d", filings)
	}
}
