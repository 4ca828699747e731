package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/llm"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/prompts"
	"github.com/ekaya-inc/finsql-engine/pkg/schema"
	"github.com/ekaya-inc/finsql-engine/pkg/templates"
)

// Answer formats declared by templates.
const (
	formatCount       = "count"
	formatLookup      = "lookup"
	formatSingleValue = "single_value"
	formatTrend       = "trend"
	formatRanking     = "ranking"
	formatList        = "list"
	formatTable       = "table"
)

const (
	maxListedNames = 10
	maxRankedRows  = 5
)

// ResponseFormatter turns a query result into the user-facing answer.
type ResponseFormatter interface {
	Format(ctx context.Context, q models.Question, e models.ExtractedEntities, d models.RoutingDecision, r *models.QueryResult) models.Answer
}

// FormatterConfig configures the formatter.
type FormatterConfig struct {
	// Enriched asks the LM for a narrative on top of the deterministic answer.
	Enriched   bool
	SampleRows int
	Prompt     PromptSettings
}

type responseFormatter struct {
	catalog  *schema.Catalog
	registry *templates.Registry
	gateway  LLMGateway
	cfg      FormatterConfig
	logger   *zap.Logger
}

var _ ResponseFormatter = (*responseFormatter)(nil)

// NewResponseFormatter creates a formatter. The enriched path is used only when
// cfg.Enriched is set and gateway is non-nil.
func NewResponseFormatter(catalog *schema.Catalog, registry *templates.Registry, gateway LLMGateway, cfg FormatterConfig, logger *zap.Logger) ResponseFormatter {
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = 20
	}
	return &responseFormatter{
		catalog:  catalog,
		registry: registry,
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger.Named("response-formatter"),
	}
}

func (f *responseFormatter) Format(ctx context.Context, q models.Question, e models.ExtractedEntities, d models.RoutingDecision, r *models.QueryResult) models.Answer {
	answer := models.Answer{Text: f.deterministic(e, d, r)}
	if !f.cfg.Enriched || f.gateway == nil || r == nil || r.RowCount == 0 {
		return answer
	}
	if !gatewayAvailable(f.gateway) {
		answer.Warnings = append(answer.Warnings, "language model unavailable for narrative")
		return answer
	}

	resp, err := callStructured[prompts.NarrativeResponse](ctx, f.gateway, llm.Prompt{
		System: prompts.NarrativeSystemMessage,
		User: prompts.BuildNarrativePrompt(prompts.NarrativeInput{
			Question:   q.Text,
			History:    q.RecentTurns(4),
			Baseline:   answer.Text,
			Provenance: provenance(d),
			Columns:    r.Columns,
			Rows:       r.Rows,
			MaxRows:    f.cfg.SampleRows,
		}),
		Temperature: f.cfg.Prompt.Temperature,
		MaxTokens:   f.cfg.Prompt.MaxTokens,
	}, llm.KindNarrative, prompts.NarrativeSchema)
	if err != nil {
		f.logger.Warn("Narrative generation failed, using deterministic answer",
			zap.String("error_type", string(llm.GetErrorType(err))),
			zap.Error(err))
		answer.Warnings = append(answer.Warnings, fmt.Sprintf("narrative unavailable (%s)", llm.GetErrorType(err)))
		return answer
	}

	answer.Presentation = &models.Presentation{
		Narrative:  strings.TrimSpace(resp.Narrative),
		Highlights: resp.Highlights,
		Table:      displayTable(r, f.cfg.SampleRows),
	}
	return answer
}

func provenance(d models.RoutingDecision) string {
	if d.TemplateID != "" {
		return fmt.Sprintf("%s (template %s)", d.GenerationMethod(), d.TemplateID)
	}
	return d.GenerationMethod()
}

func displayTable(r *models.QueryResult, maxRows int) *models.DisplayTable {
	rows := r.Rows
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	t := &models.DisplayTable{Columns: r.Columns, Rows: make([][]any, len(rows))}
	for i, row := range rows {
		t.Rows[i] = make([]any, len(r.Columns))
		for j, c := range r.Columns {
			t.Rows[i][j] = row[c]
		}
	}
	return t
}

// deterministic renders the answer without a language model.
func (f *responseFormatter) deterministic(e models.ExtractedEntities, d models.RoutingDecision, r *models.QueryResult) string {
	if r == nil || r.RowCount == 0 {
		if c, ok := e.PrimaryCompany(); ok {
			return fmt.Sprintf("Could not find information for %s.", companyLabel(c))
		}
		return "No results found."
	}

	format := ""
	if d.IsTemplate() {
		if t, err := f.registry.Get(d.TemplateID); err == nil {
			format = t.AnswerFormat
		}
	}
	if format == "" {
		format = inferFormat(r)
	}

	var text string
	switch format {
	case formatCount:
		text = f.count(e, r)
	case formatLookup:
		text = f.lookup(e, r)
	case formatSingleValue:
		text = f.singleValue(e, r)
	case formatTrend:
		text = f.trend(e, r)
	case formatRanking:
		text = f.ranking(e, r)
	case formatList:
		text = f.list(e, r)
	case formatTable:
		text = tableText(r)
	}
	if text == "" {
		text = genericText(r)
	}
	return text
}

// inferFormat picks a shape for custom SQL results.
func inferFormat(r *models.QueryResult) string {
	if r.RowCount == 1 && len(r.Columns) == 1 {
		if strings.Contains(strings.ToLower(r.Columns[0]), "count") {
			return formatCount
		}
		return formatSingleValue
	}
	if r.RowCount == 1 {
		return formatLookup
	}
	return formatTable
}

func (f *responseFormatter) count(e models.ExtractedEntities, r *models.QueryResult) string {
	v, ok := firstNumeric(r)
	if !ok {
		return ""
	}
	n := int64(math.Round(v))
	if e.Sector == "" {
		return fmt.Sprintf("The count is %d.", n)
	}
	verb, noun := "are", inflection.Plural("company")
	if n == 1 {
		verb, noun = "is", "company"
	}
	return fmt.Sprintf("There %s %d %s in the %s sector.", verb, n, noun, e.Sector)
}

func (f *responseFormatter) lookup(e models.ExtractedEntities, r *models.QueryResult) string {
	row := r.Rows[0]
	name := rowString(row, "name")
	if name == "" {
		if c, ok := e.PrimaryCompany(); ok {
			name = companyLabel(c)
		}
	}
	if name == "" {
		return ""
	}

	switch {
	case hasColumn(r, "cik"):
		return fmt.Sprintf("%s's CIK is %s.", name, rowString(row, "cik"))
	case hasColumn(r, "gics_sector"):
		return fmt.Sprintf("%s is in the %s sector.", name, rowString(row, "gics_sector"))
	case hasColumn(r, "stprba") || hasColumn(r, "countryba"):
		var parts []string
		for _, c := range []string{"stprba", "countryba"} {
			if s := rowString(row, c); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return fmt.Sprintf("No headquarters location is on file for %s.", name)
		}
		return fmt.Sprintf("%s is headquartered in %s.", name, strings.Join(parts, ", "))
	}
	return ""
}

func (f *responseFormatter) singleValue(e models.ExtractedEntities, r *models.QueryResult) string {
	row := r.Rows[0]
	v, ok := numericColumn(row, r.Columns, "value")
	if !ok {
		return ""
	}
	subject := f.metricLabel(e)
	if name := rowString(row, "name"); name != "" {
		subject = fmt.Sprintf("%s's %s", name, subject)
	} else if c, ok := e.PrimaryCompany(); ok {
		subject = fmt.Sprintf("%s's %s", companyLabel(c), subject)
	} else {
		subject = upperFirst(subject)
	}

	if fy := rowString(row, "fy"); fy != "" {
		return fmt.Sprintf("%s for FY%s was %s.", subject, fy, f.formatAmount(e, v))
	}
	return fmt.Sprintf("%s is %s.", subject, f.formatAmount(e, v))
}

func (f *responseFormatter) trend(e models.ExtractedEntities, r *models.QueryResult) string {
	if r.RowCount == 1 {
		return f.singleValue(e, r)
	}
	type point struct {
		year  string
		value float64
	}
	points := make([]point, 0, len(r.Rows))
	for _, row := range r.Rows {
		v, ok := numericColumn(row, r.Columns, "value")
		if !ok {
			return ""
		}
		points = append(points, point{year: rowString(row, "fiscal_year"), value: v})
	}

	subject := f.metricLabel(e)
	if c, ok := e.PrimaryCompany(); ok {
		subject = fmt.Sprintf("%s's %s", companyLabel(c), subject)
	} else {
		subject = upperFirst(subject)
	}

	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = fmt.Sprintf("FY%s %s", p.year, f.formatAmount(e, p.value))
	}
	first, last := points[0], points[len(points)-1]
	text := fmt.Sprintf("%s from FY%s to FY%s: %s", subject, first.year, last.year, strings.Join(parts, ", "))

	if first.value != 0 {
		change := (last.value - first.value) / math.Abs(first.value) * 100
		switch {
		case change > 0.05:
			text += fmt.Sprintf(" (up %.1f%%)", change)
		case change < -0.05:
			text += fmt.Sprintf(" (down %.1f%%)", -change)
		default:
			text += " (flat)"
		}
	}
	return text + "."
}

func (f *responseFormatter) ranking(e models.ExtractedEntities, r *models.QueryResult) string {
	var lines []string
	for i, row := range r.Rows {
		if i == maxRankedRows {
			break
		}
		v, ok := numericColumn(row, r.Columns, "value")
		if !ok {
			return ""
		}
		lines = append(lines, fmt.Sprintf("%d) %s %s", i+1, rowString(row, "name"), f.formatAmount(e, v)))
	}

	header := "Top companies by " + f.metricLabel(e)
	if e.Sector != "" {
		header = fmt.Sprintf("Top %s companies by %s", e.Sector, f.metricLabel(e))
	}
	if _, end := e.TimeWindow.Years(); end > 0 {
		header += fmt.Sprintf(" for FY%d", end)
	}
	return header + ": " + strings.Join(lines, "; ") + "."
}

func (f *responseFormatter) list(e models.ExtractedEntities, r *models.QueryResult) string {
	col := "name"
	if !hasColumn(r, col) {
		col = r.Columns[0]
	}
	var names []string
	for i, row := range r.Rows {
		if i == maxListedNames {
			break
		}
		names = append(names, rowString(row, col))
	}
	listed := strings.Join(names, ", ")
	if more := r.RowCount - len(names); more > 0 {
		listed += fmt.Sprintf(" and %d more", more)
	}

	if e.Sector == "" {
		return fmt.Sprintf("Found %d %s: %s.", r.RowCount, countNoun("result", r.RowCount), listed)
	}
	verb := "are"
	if r.RowCount == 1 {
		verb = "is"
	}
	return fmt.Sprintf("There %s %d %s in the %s sector: %s.", verb, r.RowCount, countNoun("company", r.RowCount), e.Sector, listed)
}

func tableText(r *models.QueryResult) string {
	var lines []string
	for i, row := range r.Rows {
		if i == maxListedNames {
			break
		}
		vals := make([]string, len(r.Columns))
		for j, c := range r.Columns {
			vals[j] = formatValue(row[c])
		}
		if len(vals) == 2 {
			lines = append(lines, vals[0]+": "+vals[1])
		} else {
			lines = append(lines, strings.Join(vals, ", "))
		}
	}
	text := fmt.Sprintf("Found %d %s. %s", r.RowCount, countNoun("row", r.RowCount), strings.Join(lines, "; "))
	if more := r.RowCount - len(lines); more > 0 {
		text += fmt.Sprintf("; and %d more", more)
	}
	return text + "."
}

func genericText(r *models.QueryResult) string {
	if r.RowCount == 1 {
		row := r.Rows[0]
		parts := make([]string, len(r.Columns))
		for i, c := range r.Columns {
			parts[i] = fmt.Sprintf("%s: %s", c, formatValue(row[c]))
		}
		return strings.Join(parts, " | ")
	}
	return tableText(r)
}

func (f *responseFormatter) metricLabel(e models.ExtractedEntities) string {
	if len(e.Metrics) == 0 {
		return "value"
	}
	if m, ok := f.catalog.Metric(e.Metrics[0]); ok && m.Label != "" {
		return m.Label
	}
	return strings.ReplaceAll(e.Metrics[0], "_", " ")
}

// formatAmount renders a reported value. Per-share metrics keep cents; everything
// else is a dollar amount scaled to billions or millions.
func (f *responseFormatter) formatAmount(e models.ExtractedEntities, v float64) string {
	if len(e.Metrics) > 0 && e.Metrics[0] == "eps" {
		return fmt.Sprintf("$%.2f", v)
	}
	return formatMoney(v)
}

func formatMoney(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%s$%.2fB", sign, v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%s$%.2fM", sign, v/1e6)
	}
	return sign + "$" + groupThousands(strconv.FormatFloat(math.Round(v), 'f', 0, 64))
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "n/a"
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', 2, 64)
	}
	return fmt.Sprint(v)
}

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func firstNumeric(r *models.QueryResult) (float64, bool) {
	row := r.Rows[0]
	for _, c := range r.Columns {
		if v, ok := toNumber(row[c]); ok {
			return v, true
		}
	}
	return 0, false
}

// numericColumn reads the named column, falling back to the last numeric column.
func numericColumn(row map[string]any, columns []string, name string) (float64, bool) {
	if v, ok := toNumber(row[name]); ok {
		return v, true
	}
	for i := len(columns) - 1; i >= 0; i-- {
		if v, ok := toNumber(row[columns[i]]); ok {
			return v, true
		}
	}
	return 0, false
}

func hasColumn(r *models.QueryResult, name string) bool {
	for _, c := range r.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

func rowString(row map[string]any, col string) string {
	v, ok := row[col]
	if !ok || v == nil {
		return ""
	}
	return formatValue(v)
}

func companyLabel(c models.CompanyRef) string {
	if c.Name != "" {
		return c.Name
	}
	return c.Raw
}

func countNoun(noun string, n int) string {
	if n == 1 {
		return noun
	}
	return inflection.Plural(noun)
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
