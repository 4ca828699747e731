// Package schema describes the filing store: its tables, join paths, metric taxonomy
// and the curated dictionaries used to resolve sectors and companies.
package schema

import (
	"sort"
	"strings"

	sqlpkg "github.com/ekaya-inc/finsql-engine/pkg/sql"
)

// Column is a documented column of a store table.
type Column struct {
	Name        string
	Description string
}

// Table is a documented store table.
type Table struct {
	Name          string
	Description   string
	Columns       []Column
	PrimaryKeys   []string
	SampleFilters []string
}

// Metric is a friendly financial metric and the XBRL tags that carry it.
type Metric struct {
	Name     string   // canonical key, e.g. "net_income"
	Label    string   // display label, e.g. "net income"
	Tags     []string // XBRL tags in preference order
	Synonyms []string // lower-case phrases that name the metric
}

// Company is an entry in the company dictionary.
type Company struct {
	Name    string   // filer name as it appears in companies.name
	Ticker  string   // exchange ticker
	Aliases []string // lower-case spellings used in questions
}

// Catalog is the read-only description of the store shared by every request.
type Catalog struct {
	tables       []Table
	joinGuidance []string
	metrics      []Metric
	sectors      map[string]string // lower-case synonym -> GICS sector
	sectorNames  []string
	companies    []Company
	forbidden    []string
	joins        []sqlpkg.JoinRequirement
}

// New builds a catalog from its parts. Slices are copied.
func New(tables []Table, metrics []Metric, sectorSynonyms map[string]string, companies []Company) *Catalog {
	c := &Catalog{
		tables:    append([]Table(nil), tables...),
		metrics:   append([]Metric(nil), metrics...),
		companies: append([]Company(nil), companies...),
		sectors:   make(map[string]string, len(sectorSynonyms)),
	}

	names := make(map[string]bool)
	for syn, sector := range sectorSynonyms {
		c.sectors[strings.ToLower(syn)] = sector
		names[sector] = true
	}
	for name := range names {
		c.sectorNames = append(c.sectorNames, name)
		c.sectors[strings.ToLower(name)] = name
	}
	sort.Strings(c.sectorNames)
	return c
}

// TableNames returns the allow-listed table names.
func (c *Catalog) TableNames() []string {
	names := make([]string, len(c.tables))
	for i, t := range c.tables {
		names[i] = t.Name
	}
	return names
}

// Table looks up a table by name, case-insensitively.
func (c *Catalog) Table(name string) (Table, bool) {
	for _, t := range c.tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// StaticRules returns the static validation rules implied by the catalog.
func (c *Catalog) StaticRules() sqlpkg.StaticRules {
	return sqlpkg.StaticRules{
		AllowedTables:    c.TableNames(),
		ForbiddenColumns: append([]string(nil), c.forbidden...),
		JoinRequirements: append([]sqlpkg.JoinRequirement(nil), c.joins...),
	}
}

// Metrics returns the metric taxonomy in declaration order.
func (c *Catalog) Metrics() []Metric {
	return c.metrics
}

// Metric looks up a metric by canonical name.
func (c *Catalog) Metric(name string) (Metric, bool) {
	for _, m := range c.metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// ResolveMetric maps a phrase ("profit", "total revenue", "net_income") to its metric.
func (c *Catalog) ResolveMetric(term string) (Metric, bool) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return Metric{}, false
	}
	for _, m := range c.metrics {
		if m.Name == term || m.Label == term {
			return m, true
		}
		for _, s := range m.Synonyms {
			if s == term {
				return m, true
			}
		}
	}
	return Metric{}, false
}

// MetricTags returns the XBRL tags for a canonical metric name.
func (c *Catalog) MetricTags(name string) []string {
	m, ok := c.Metric(name)
	if !ok {
		return nil
	}
	return append([]string(nil), m.Tags...)
}

// MetricPhrase pairs a phrase with the metric it names.
type MetricPhrase struct {
	Phrase string
	Metric string
}

// MetricPhrases returns every metric phrase, longest first, so that "net income"
// is tried before "income".
func (c *Catalog) MetricPhrases() []MetricPhrase {
	var out []MetricPhrase
	for _, m := range c.metrics {
		out = append(out, MetricPhrase{Phrase: m.Label, Metric: m.Name})
		for _, s := range m.Synonyms {
			out = append(out, MetricPhrase{Phrase: s, Metric: m.Name})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Phrase) > len(out[j].Phrase)
	})
	return out
}

// NormalizeSector maps a sector name or synonym to its GICS sector.
func (c *Catalog) NormalizeSector(s string) (string, bool) {
	sector, ok := c.sectors[strings.ToLower(strings.TrimSpace(s))]
	return sector, ok
}

// Sectors returns the GICS sector names, sorted.
func (c *Catalog) Sectors() []string {
	return c.sectorNames
}

// SectorPhrases returns sector synonyms longest first.
func (c *Catalog) SectorPhrases() []string {
	phrases := make([]string, 0, len(c.sectors))
	for p := range c.sectors {
		phrases = append(phrases, p)
	}
	sort.Slice(phrases, func(i, j int) bool {
		if len(phrases[i]) != len(phrases[j]) {
			return len(phrases[i]) > len(phrases[j])
		}
		return phrases[i] < phrases[j]
	})
	return phrases
}

// Companies returns the company dictionary.
func (c *Catalog) Companies() []Company {
	return c.companies
}

// ResolveCompany matches an alias, filer name or ticker. Tickers match case-sensitively
// in upper case so everyday words like "cost" are never read as tickers.
func (c *Catalog) ResolveCompany(term string) (Company, bool) {
	trimmed := strings.TrimSpace(term)
	lower := strings.ToLower(trimmed)
	for _, co := range c.companies {
		if strings.EqualFold(co.Name, trimmed) {
			return co, true
		}
		for _, a := range co.Aliases {
			if a == lower {
				return co, true
			}
		}
	}
	for _, co := range c.companies {
		if co.Ticker != "" && co.Ticker == trimmed {
			return co, true
		}
	}
	return Company{}, false
}
