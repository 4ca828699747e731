package schema

import (
	sqlpkg "github.com/ekaya-inc/finsql-engine/pkg/sql"
)

var defaultTables = []Table{
	{
		Name:        "companies",
		Description: "S&P 500 reference data with sector and incorporation details.",
		Columns: []Column{
			{"cik", "Unique SEC issuer identifier."},
			{"name", "Canonical company name (uppercase)."},
			{"sic", "SIC industry code (nullable)."},
			{"countryinc", "Country of incorporation."},
			{"gics_sector", "GICS sector classification."},
		},
		PrimaryKeys:   []string{"cik"},
		SampleFilters: []string{"gics_sector = 'Information Technology'", "UPPER(name) LIKE '%APPLE%'"},
	},
	{
		Name:        "sub",
		Description: "SEC submission metadata for 10-K/10-Q filings.",
		Columns: []Column{
			{"adsh", "Accession number for the filing."},
			{"cik", "Issuer CIK for the filing."},
			{"form", "SEC form type (10-K, 10-Q, etc.)."},
			{"period", "Reporting period end date."},
			{"fy", "Fiscal year (integer)."},
			{"fp", "Fiscal period (FY, Q1, Q2, Q3, Q4)."},
			{"stprba", "Headquarters state / province."},
			{"countryba", "Headquarters country."},
			{"stprinc", "Incorporation state / province."},
			{"filed", "Date filing was submitted."},
		},
		PrimaryKeys:   []string{"adsh"},
		SampleFilters: []string{"form = '10-K'", "fy >= 2020"},
	},
	{
		Name:        "num",
		Description: "Numeric XBRL facts (financial metrics).",
		Columns: []Column{
			{"adsh", "Accession number linking to sub."},
			{"tag", "XBRL concept name (e.g. Revenues)."},
			{"version", "Taxonomy version for the tag."},
			{"ddate", "Date the fact applies to."},
			{"qtrs", "Number of quarters represented (0 = point in time, 4 = full year)."},
			{"uom", "Unit of measure."},
			{"value", "Numeric value."},
			{"footnote", "Associated footnote if present."},
		},
		PrimaryKeys:   []string{"adsh", "tag", "ddate", "qtrs"},
		SampleFilters: []string{"tag IN ('Revenues', 'NetIncomeLoss')", "qtrs IN (0, 4)"},
	},
	{
		Name:        "tag",
		Description: "XBRL taxonomy metadata describing available tags.",
		Columns: []Column{
			{"tag", "Canonical tag name."},
			{"version", "Taxonomy version."},
			{"datatype", "Underlying data type."},
			{"abstract", "Whether this tag is abstract."},
			{"description", "Long-form tag description (if present)."},
		},
		PrimaryKeys: []string{"tag", "version"},
	},
	{
		Name:        "pre",
		Description: "Presentation linkbase for statements (line ordering).",
		Columns: []Column{
			{"adsh", "Accession number."},
			{"stmt", "Statement identifier (BS, IS, CF)."},
			{"line", "Line number within the statement."},
			{"tag", "Tag used on the statement line."},
			{"plabel", "Presentation label."},
		},
		PrimaryKeys: []string{"adsh", "stmt", "line"},
	},
}

var defaultJoinGuidance = []string{
	"`companies` ↔ `sub`: join on `companies.cik = sub.cik`",
	"`sub` ↔ `num`: join on `sub.adsh = num.adsh`",
	"`sub` ↔ `pre`: join on `sub.adsh = pre.adsh`",
	"`num` rows do not include `cik`; always join through `sub`",
	"When a CIK is needed select `sub.cik` or join `companies`; never reference `num.cik`",
	"Full-year income and cash flow values use `num.qtrs = 4`; balance sheet values use `num.qtrs = 0`",
	"Annual filings are `sub.form = '10-K'` with `sub.fp = 'FY'`",
}

var defaultMetrics = []Metric{
	{Name: "revenue", Label: "revenue", Tags: []string{"Revenues", "SalesRevenueNet", "RevenueFromContractWithCustomerExcludingAssessedTax"},
		Synonyms: []string{"revenues", "sales", "total revenue", "turnover", "top line"}},
	{Name: "net_income", Label: "net income", Tags: []string{"NetIncomeLoss"},
		Synonyms: []string{"profit", "net profit", "earnings", "net earnings", "income", "bottom line"}},
	{Name: "assets", Label: "total assets", Tags: []string{"Assets"},
		Synonyms: []string{"assets"}},
	{Name: "liabilities", Label: "total liabilities", Tags: []string{"Liabilities"},
		Synonyms: []string{"liabilities"}},
	{Name: "equity", Label: "stockholders equity", Tags: []string{"StockholdersEquity"},
		Synonyms: []string{"equity", "shareholders equity", "stockholders' equity", "total equity", "book value"}},
	{Name: "current_assets", Label: "current assets", Tags: []string{"AssetsCurrent"}},
	{Name: "current_liabilities", Label: "current liabilities", Tags: []string{"LiabilitiesCurrent"}},
	{Name: "debt", Label: "debt", Tags: []string{"LongTermDebt", "DebtCurrent"},
		Synonyms: []string{"long term debt", "long-term debt", "borrowings"}},
	{Name: "operating_income", Label: "operating income", Tags: []string{"OperatingIncomeLoss"},
		Synonyms: []string{"operating profit", "ebit"}},
	{Name: "cash_flow_operating", Label: "operating cash flow", Tags: []string{"NetCashProvidedByUsedInOperatingActivities"},
		Synonyms: []string{"cash from operations", "cash flow from operations"}},
	{Name: "cash", Label: "cash", Tags: []string{"CashAndCashEquivalentsAtCarryingValue"},
		Synonyms: []string{"cash and equivalents", "cash and cash equivalents"}},
	{Name: "gross_profit", Label: "gross profit", Tags: []string{"GrossProfit"}},
	{Name: "eps", Label: "earnings per share", Tags: []string{"EarningsPerShareBasic", "EarningsPerShareDiluted"},
		Synonyms: []string{"eps", "diluted eps", "basic eps"}},
}

var defaultSectorSynonyms = map[string]string{
	"information technology": "Information Technology",
	"technology":             "Information Technology",
	"tech":                   "Information Technology",
	"healthcare":             "Health Care",
	"health care":            "Health Care",
	"health":                 "Health Care",
	"financials":             "Financials",
	"financial services":     "Financials",
	"finance":                "Financials",
	"banking":                "Financials",
	"consumer discretionary": "Consumer Discretionary",
	"discretionary":          "Consumer Discretionary",
	"communication services": "Communication Services",
	"communications":         "Communication Services",
	"telecom":                "Communication Services",
	"industrials":            "Industrials",
	"industrial":             "Industrials",
	"consumer staples":       "Consumer Staples",
	"staples":                "Consumer Staples",
	"energy":                 "Energy",
	"utilities":              "Utilities",
	"real estate":            "Real Estate",
	"materials":              "Materials",
}

var defaultCompanies = []Company{
	{Name: "APPLE INC", Ticker: "AAPL", Aliases: []string{"apple"}},
	{Name: "MICROSOFT CORP", Ticker: "MSFT", Aliases: []string{"microsoft"}},
	{Name: "ALPHABET INC", Ticker: "GOOGL", Aliases: []string{"alphabet", "google"}},
	{Name: "AMAZON COM INC", Ticker: "AMZN", Aliases: []string{"amazon", "amazon.com"}},
	{Name: "META PLATFORMS INC", Ticker: "META", Aliases: []string{"meta", "meta platforms", "facebook"}},
	{Name: "TESLA INC", Ticker: "TSLA", Aliases: []string{"tesla"}},
	{Name: "NVIDIA CORP", Ticker: "NVDA", Aliases: []string{"nvidia"}},
	{Name: "NETFLIX INC", Ticker: "NFLX", Aliases: []string{"netflix"}},
	{Name: "JPMORGAN CHASE & CO", Ticker: "JPM", Aliases: []string{"jpmorgan", "jp morgan", "jpmorgan chase"}},
	{Name: "GOLDMAN SACHS GROUP INC", Ticker: "GS", Aliases: []string{"goldman sachs", "goldman"}},
	{Name: "BANK OF AMERICA CORP", Ticker: "BAC", Aliases: []string{"bank of america"}},
	{Name: "WELLS FARGO & COMPANY", Ticker: "WFC", Aliases: []string{"wells fargo"}},
	{Name: "WALMART INC", Ticker: "WMT", Aliases: []string{"walmart"}},
	{Name: "TARGET CORP", Ticker: "TGT", Aliases: []string{"target corp", "target corporation"}},
	{Name: "COSTCO WHOLESALE CORP", Ticker: "COST", Aliases: []string{"costco"}},
	{Name: "EXXON MOBIL CORP", Ticker: "XOM", Aliases: []string{"exxon", "exxonmobil", "exxon mobil"}},
	{Name: "CHEVRON CORP", Ticker: "CVX", Aliases: []string{"chevron"}},
	{Name: "PFIZER INC", Ticker: "PFE", Aliases: []string{"pfizer"}},
	{Name: "JOHNSON & JOHNSON", Ticker: "JNJ", Aliases: []string{"johnson & johnson", "johnson and johnson", "j&j"}},
	{Name: "MERCK & CO INC", Ticker: "MRK", Aliases: []string{"merck"}},
}

// Default returns the catalog for the SEC financial statement dataset.
func Default() *Catalog {
	c := New(defaultTables, defaultMetrics, defaultSectorSynonyms, defaultCompanies)
	c.joinGuidance = append([]string(nil), defaultJoinGuidance...)
	c.forbidden = []string{"num.cik"}
	c.joins = []sqlpkg.JoinRequirement{{Table: "num", Via: "sub"}}
	return c
}
