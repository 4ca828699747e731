package testhelpers

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// FixtureStatements create and populate a small slice of the SEC filing dataset.
// They run unchanged on SQLite and PostgreSQL.
var FixtureStatements = []string{
	`CREATE TABLE companies (
		cik TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		sic TEXT,
		countryinc TEXT,
		gics_sector TEXT
	)`,
	`CREATE TABLE sub (
		adsh TEXT PRIMARY KEY,
		cik TEXT NOT NULL,
		form TEXT NOT NULL,
		period INTEGER,
		fy INTEGER,
		fp TEXT,
		stprba TEXT,
		countryba TEXT,
		stprinc TEXT,
		filed INTEGER
	)`,
	`CREATE TABLE num (
		adsh TEXT NOT NULL,
		tag TEXT NOT NULL,
		version TEXT,
		ddate INTEGER NOT NULL,
		qtrs INTEGER NOT NULL,
		uom TEXT,
		value DOUBLE PRECISION,
		footnote TEXT
	)`,
	`CREATE TABLE tag (
		tag TEXT NOT NULL,
		version TEXT NOT NULL,
		datatype TEXT,
		abstract INTEGER,
		description TEXT
	)`,
	`CREATE TABLE pre (
		adsh TEXT NOT NULL,
		stmt TEXT NOT NULL,
		line INTEGER NOT NULL,
		tag TEXT,
		plabel TEXT
	)`,
	`INSERT INTO companies (cik, name, sic, countryinc, gics_sector) VALUES
		('0000320193', 'APPLE INC', '3571', 'US', 'Information Technology'),
		('0000789019', 'MICROSOFT CORP', '7372', 'US', 'Information Technology'),
		('0001045810', 'NVIDIA CORP', '3674', 'US', 'Information Technology'),
		('0000034088', 'EXXON MOBIL CORP', '2911', 'US', 'Energy'),
		('0000093410', 'CHEVRON CORP', '2911', 'US', 'Energy'),
		('0000019617', 'JPMORGAN CHASE & CO', '6021', 'US', 'Financials')`,
	`INSERT INTO sub (adsh, cik, form, period, fy, fp, stprba, countryba, stprinc, filed) VALUES
		('0000320193-21-000105', '0000320193', '10-K', 20210930, 2021, 'FY', 'CA', 'US', 'CA', 20211029),
		('0000320193-22-000108', '0000320193', '10-K', 20220930, 2022, 'FY', 'CA', 'US', 'CA', 20221028),
		('0000320193-23-000106', '0000320193', '10-K', 20230930, 2023, 'FY', 'CA', 'US', 'CA', 20231103),
		('0000950170-23-035122', '0000789019', '10-K', 20230630, 2023, 'FY', 'WA', 'US', 'WA', 20230727),
		('0001045810-23-000017', '0001045810', '10-K', 20230129, 2023, 'FY', 'CA', 'US', 'DE', 20230224),
		('0000034088-24-000018', '0000034088', '10-K', 20231231, 2023, 'FY', 'TX', 'US', 'NJ', 20240228),
		('0000093410-24-000013', '0000093410', '10-K', 20231231, 2023, 'FY', 'TX', 'US', 'DE', 20240226)`,
	`INSERT INTO num (adsh, tag, version, ddate, qtrs, uom, value, footnote) VALUES
		('0000320193-21-000105', 'Revenues', 'us-gaap/2021', 20210930, 4, 'USD', 365817000000, NULL),
		('0000320193-21-000105', 'NetIncomeLoss', 'us-gaap/2021', 20210930, 4, 'USD', 94680000000, NULL),
		('0000320193-22-000108', 'Revenues', 'us-gaap/2022', 20220930, 4, 'USD', 394328000000, NULL),
		('0000320193-22-000108', 'Revenues', 'us-gaap/2022', 20210930, 4, 'USD', 365817000000, NULL),
		('0000320193-22-000108', 'NetIncomeLoss', 'us-gaap/2022', 20220930, 4, 'USD', 99803000000, NULL),
		('0000320193-23-000106', 'Revenues', 'us-gaap/2023', 20230930, 4, 'USD', 383285000000, NULL),
		('0000320193-23-000106', 'Revenues', 'us-gaap/2023', 20220930, 4, 'USD', 394328000000, NULL),
		('0000320193-23-000106', 'NetIncomeLoss', 'us-gaap/2023', 20230930, 4, 'USD', 96995000000, NULL),
		('0000320193-23-000106', 'Assets', 'us-gaap/2023', 20230930, 0, 'USD', 352583000000, NULL),
		('0000950170-23-035122', 'Revenues', 'us-gaap/2023', 20230630, 4, 'USD', 211915000000, NULL),
		('0000950170-23-035122', 'NetIncomeLoss', 'us-gaap/2023', 20230630, 4, 'USD', 72361000000, NULL),
		('0001045810-23-000017', 'Revenues', 'us-gaap/2022', 20230129, 4, 'USD', 26974000000, NULL),
		('0001045810-23-000017', 'NetIncomeLoss', 'us-gaap/2022', 20230129, 4, 'USD', 4368000000, NULL),
		('0000034088-24-000018', 'Revenues', 'us-gaap/2023', 20231231, 4, 'USD', 344582000000, NULL),
		('0000034088-24-000018', 'NetIncomeLoss', 'us-gaap/2023', 20231231, 4, 'USD', 36010000000, NULL),
		('0000093410-24-000013', 'Revenues', 'us-gaap/2023', 20231231, 4, 'USD', 200949000000, NULL),
		('0000093410-24-000013', 'NetIncomeLoss', 'us-gaap/2023', 20231231, 4, 'USD', 21369000000, NULL)`,
	`INSERT INTO tag (tag, version, datatype, abstract, description) VALUES
		('Revenues', 'us-gaap/2023', 'monetary', 0, 'Amount of revenue recognized.'),
		('NetIncomeLoss', 'us-gaap/2023', 'monetary', 0, 'Net income or loss attributable to the parent.'),
		('Assets', 'us-gaap/2023', 'monetary', 0, 'Sum of the carrying amounts of all assets.')`,
	`INSERT INTO pre (adsh, stmt, line, tag, plabel) VALUES
		('0000320193-23-000106', 'IS', 1, 'Revenues', 'Total net sales'),
		('0000320193-23-000106', 'IS', 20, 'NetIncomeLoss', 'Net income'),
		('0000320193-23-000106', 'BS', 12, 'Assets', 'Total assets')`,
}

// FixtureCompanyCount is the number of companies per sector in the fixture.
var FixtureCompanyCount = map[string]int{
	"Information Technology": 3,
	"Energy":                 2,
	"Financials":             1,
}

// SeedFixture runs FixtureStatements against db.
func SeedFixture(ctx context.Context, db *sql.DB) error {
	for _, stmt := range FixtureStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// NewSQLiteFixture writes the fixture to a database file under t.TempDir and returns its path.
func NewSQLiteFixture(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "finsql.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture database: %v", err)
	}
	defer db.Close()

	if err := SeedFixture(context.Background(), db); err != nil {
		t.Fatalf("seed fixture database: %v", err)
	}
	return path
}
