package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/llm"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/prompts"
	"github.com/ekaya-inc/finsql-engine/pkg/schema"
)

// EntityExtractor turns a question and its conversation into slots.
type EntityExtractor interface {
	// Extract never fails. Unresolved slots are reported through Warnings and a
	// zero slot confidence.
	Extract(ctx context.Context, question string, history []models.Turn) models.ExtractedEntities

	// ScoreForTemplate recomputes the extraction confidence against the slots a
	// proposed template requires.
	ScoreForTemplate(e models.ExtractedEntities, t models.Template) float64
}

// ExtractorConfig configures the entity extractor.
type ExtractorConfig struct {
	// FastPathThreshold is the router's high threshold. A missing required slot
	// keeps the score below it.
	FastPathThreshold float64
	// ReferenceYear anchors relative periods such as "last 3 years". Zero means
	// the last complete calendar year.
	ReferenceYear int
	Prompt        PromptSettings
}

const (
	sourceDeterministic    = "deterministic"
	sourceDeterministicLLM = "deterministic+llm"
)

// Slot confidences by how the value was found.
const (
	confExact            = 1.0
	confTicker           = 0.95
	confSynonym          = 0.9
	confRelative         = 0.9
	confHistory          = 0.8
	confRawName          = 0.5
	maxLLMSlotConfidence = 0.85
	missingSlotMargin    = 0.05
)

var (
	tickerPattern     = regexp.MustCompile(`\b[A-Z]{1,5}\b`)
	possessivePattern = regexp.MustCompile(`\b([A-Z][\w&.\-]*(?:\s+[A-Z][\w&.\-]*){0,3})['’]s\b`)
	corporatePattern  = regexp.MustCompile(`\b([A-Z][\w&\-]*(?:\s+[A-Z][\w&\-]*){0,3}\s+(?:Inc|Corp|Corporation|Co|Company|Ltd|Group|Holdings))\b`)
	pronounPattern    = regexp.MustCompile(`\b(its|their|they|them|that company|this company|the company|same company|that firm|the firm)\b`)

	quarterPattern    = regexp.MustCompile(`\bq([1-4])(?:\s+(?:of\s+)?(?:fy\s*)?((?:19|20)\d{2}))?\b`)
	rangePattern      = regexp.MustCompile(`\b(?:from\s+|between\s+)?(?:fy\s*)?((?:19|20)\d{2})\s*(?:-|–|to|through|until|and)\s*(?:fy\s*)?((?:19|20)\d{2})\b`)
	lastNYearsPattern = regexp.MustCompile(`\b(?:last|past|previous|prior|recent)\s+(\d{1,2}|two|three|four|five|six|seven|eight|nine|ten)\s+(?:fiscal\s+)?years\b`)
	lastYearPattern   = regexp.MustCompile(`\b(?:last|previous|prior)\s+(?:fiscal\s+)?year\b`)
	sincePattern      = regexp.MustCompile(`\bsince\s+(?:fy\s*)?((?:19|20)\d{2})\b`)
	fiscalYearPattern = regexp.MustCompile(`\b(?:fy\s*|fiscal\s+(?:year\s+)?)((?:19|20)\d{2})\b`)
	yearPattern       = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	latestPattern     = regexp.MustCompile(`\b(latest|most recent|recent|current|last reported|newest)\b`)
)

var numberWords = map[string]int{
	"two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// capitalized words that open questions and are never part of a company name
var leadingWords = map[string]bool{
	"what": true, "which": true, "how": true, "show": true, "list": true, "give": true,
	"compare": true, "tell": true, "is": true, "was": true, "does": true, "did": true,
	"the": true, "in": true, "for": true, "who": true, "where": true, "when": true,
	"why": true, "me": true, "get": true, "find": true, "and": true, "vs": true,
}

// Question type rules, checked in order; the first phrase found wins.
var questionTypeRules = []struct {
	qt      models.QuestionType
	phrases []string
}{
	{models.QuestionTypeComparison, []string{"compare", "compared", "comparison", "versus", "vs", "difference between", "relative to"}},
	{models.QuestionTypeCount, []string{"how many", "count", "number of"}},
	{models.QuestionTypeCalculation, []string{"ratio", "margin", "average", "mean", "sum of", "total of", "percentage", "percent", "calculate", "growth rate", "cagr"}},
	{models.QuestionTypeTrend, []string{"trend", "over time", "growth", "grow", "grew", "change", "changed", "history", "historical", "over the last", "over the past", "since"}},
	{models.QuestionTypeList, []string{"list", "which companies", "what companies", "show all", "name the", "show me the companies"}},
}

type entityExtractor struct {
	catalog *schema.Catalog
	gateway LLMGateway
	cfg     ExtractorConfig
	now     func() time.Time
	logger  *zap.Logger
}

var _ EntityExtractor = (*entityExtractor)(nil)

// NewEntityExtractor creates an extractor. gateway may be nil, in which case
// extraction is purely deterministic.
func NewEntityExtractor(catalog *schema.Catalog, gateway LLMGateway, cfg ExtractorConfig, logger *zap.Logger) EntityExtractor {
	if cfg.FastPathThreshold <= 0 {
		cfg.FastPathThreshold = 0.8
	}
	return &entityExtractor{
		catalog: catalog,
		gateway: gateway,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.Named("entity-extractor"),
	}
}

func (x *entityExtractor) Extract(ctx context.Context, question string, history []models.Turn) models.ExtractedEntities {
	e := x.deterministic(question, history)
	expected := expectedSlots(e)
	missing := e.MissingSlots(expected)

	if len(missing) > 0 || hasUnresolvedCompany(e) {
		if gatewayAvailable(x.gateway) {
			resp, err := callStructured[prompts.ExtractionResponse](ctx, x.gateway, llm.Prompt{
				System:      prompts.ExtractionSystemMessage,
				User:        prompts.BuildEntityExtractionPrompt(question, history, e, x.metricNames(), x.catalog.Sectors()),
				Temperature: x.cfg.Prompt.Temperature,
				MaxTokens:   x.cfg.Prompt.MaxTokens,
			}, llm.KindExtraction, prompts.ExtractionSchema)
			if err != nil {
				x.logger.Warn("LLM extraction failed, keeping deterministic entities",
					zap.String("error_type", string(llm.GetErrorType(err))),
					zap.Error(err))
				e.Warnings = append(e.Warnings, fmt.Sprintf("language model extraction failed (%s)", llm.GetErrorType(err)))
			} else {
				e = x.merge(e, resp)
			}
		} else if len(missing) > 0 {
			e.Warnings = append(e.Warnings, "language model unavailable for extraction")
		}
	}

	for _, s := range e.MissingSlots(expectedSlots(e)) {
		e.SlotConfidence[s] = 0
		e.Warnings = append(e.Warnings, fmt.Sprintf("could not resolve %s from the question", strings.ReplaceAll(string(s), "_", " ")))
	}
	e.Confidence = x.scoreSlots(e, expectedSlots(e))

	x.logger.Debug("Extracted entities",
		zap.String("entities", e.Summary()),
		zap.Float64("confidence", e.Confidence),
		zap.String("source", e.Source))
	return e
}

func (x *entityExtractor) ScoreForTemplate(e models.ExtractedEntities, t models.Template) float64 {
	return x.scoreSlots(e, t.RequiredSlots)
}

// scoreSlots averages the confidence of the required slots. A missing slot
// contributes zero and caps the score below the fast-path threshold.
func (x *entityExtractor) scoreSlots(e models.ExtractedEntities, required []models.Slot) float64 {
	if len(required) == 0 {
		return confExact
	}
	total := 0.0
	missing := 0
	for _, s := range required {
		if !e.HasSlot(s) {
			missing++
			continue
		}
		c, ok := e.SlotConfidence[s]
		if !ok {
			c = confExact
		}
		total += c
	}
	score := total / float64(len(required))
	if ceiling := x.cfg.FastPathThreshold - missingSlotMargin; missing > 0 && score > ceiling {
		score = ceiling
	}
	return roundConfidence(score)
}

// expectedSlots guesses the slots a question needs before any template is chosen.
func expectedSlots(e models.ExtractedEntities) []models.Slot {
	switch e.QuestionType {
	case models.QuestionTypeCount, models.QuestionTypeList:
		if e.HasSlot(models.SlotCompany) && !e.HasSlot(models.SlotSector) {
			return []models.Slot{models.SlotCompany}
		}
		return []models.Slot{models.SlotSector}
	case models.QuestionTypeTrend:
		return []models.Slot{models.SlotCompany, models.SlotMetric, models.SlotTimeWindow}
	case models.QuestionTypeComparison:
		return []models.Slot{models.SlotCompany, models.SlotMetric}
	case models.QuestionTypeCalculation:
		return []models.Slot{models.SlotMetric}
	}
	if e.HasSlot(models.SlotMetric) {
		return []models.Slot{models.SlotCompany, models.SlotMetric}
	}
	if e.HasSlot(models.SlotSector) && !e.HasSlot(models.SlotCompany) {
		return []models.Slot{models.SlotSector}
	}
	return []models.Slot{models.SlotCompany}
}

func hasUnresolvedCompany(e models.ExtractedEntities) bool {
	for _, c := range e.Companies {
		if !c.Resolved {
			return true
		}
	}
	return false
}

func (x *entityExtractor) deterministic(question string, history []models.Turn) models.ExtractedEntities {
	e := models.ExtractedEntities{
		SlotConfidence: make(map[models.Slot]float64),
		Source:         sourceDeterministic,
	}
	lower := strings.ToLower(question)

	companies, companyConf, masked := x.findCompanies(question, lower)
	if len(companies) == 0 && pronounPattern.MatchString(lower) {
		companies, companyConf = x.companiesFromHistory(history)
	}
	if len(companies) > 0 {
		e.Companies = companies
		e.SlotConfidence[models.SlotCompany] = companyConf
	}

	var sectorConf float64
	e.Sector, sectorConf, masked = x.findSector(masked)
	if e.Sector != "" {
		e.SlotConfidence[models.SlotSector] = sectorConf
	}

	var metricConf float64
	e.Metrics, metricConf, masked = x.findMetrics(masked)
	if len(e.Metrics) > 0 {
		e.SlotConfidence[models.SlotMetric] = metricConf
	}

	if w, conf, ok := x.parseTimeWindow(masked); ok {
		e.TimeWindow = w
		e.SlotConfidence[models.SlotTimeWindow] = conf
	}

	e.QuestionType = detectQuestionType(masked)
	if e.QuestionType == models.QuestionTypeLookup && e.TimeWindow.Kind == models.TimeWindowYearRange &&
		e.HasSlot(models.SlotCompany) && e.HasSlot(models.SlotMetric) {
		e.QuestionType = models.QuestionTypeTrend
	}
	return e
}

type companyHit struct {
	pos  int
	end  int
	ref  models.CompanyRef
	conf float64
}

// findCompanies resolves dictionary aliases, filer names and tickers, falling back
// to capitalized names that look like companies. It returns the question with the
// matched spans blanked so later passes do not read them as sectors or metrics.
func (x *entityExtractor) findCompanies(question, lower string) ([]models.CompanyRef, float64, string) {
	var hits []companyHit
	raw := func(start, end int) string {
		if len(question) == len(lower) {
			return question[start:end]
		}
		return lower[start:end]
	}

	for _, co := range x.catalog.Companies() {
		best := companyHit{pos: -1}
		for _, phrase := range append([]string{strings.ToLower(co.Name)}, co.Aliases...) {
			if i := findPhrase(lower, phrase, 0); i >= 0 && (best.pos < 0 || i < best.pos) {
				best = companyHit{pos: i, end: i + len(phrase), conf: confExact}
			}
		}
		if best.pos >= 0 {
			best.ref = models.CompanyRef{Raw: raw(best.pos, best.end), Name: co.Name, Ticker: co.Ticker, Resolved: true}
			hits = append(hits, best)
		}
	}

	if len(question) == len(lower) {
		for _, loc := range tickerPattern.FindAllStringIndex(question, -1) {
			co, ok := x.catalog.ResolveCompany(question[loc[0]:loc[1]])
			if !ok || co.Ticker != question[loc[0]:loc[1]] {
				continue
			}
			hits = append(hits, companyHit{
				pos:  loc[0],
				end:  loc[1],
				ref:  models.CompanyRef{Raw: co.Ticker, Name: co.Name, Ticker: co.Ticker, Resolved: true},
				conf: confTicker,
			})
		}
	}

	if len(hits) == 0 {
		hits = x.unresolvedCompanies(question, lower)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	masked := lower
	seen := make(map[string]bool)
	var refs []models.CompanyRef
	conf := confExact
	for _, h := range hits {
		masked = maskSpan(masked, h.pos, h.end)
		key := h.ref.Name
		if key == "" {
			key = strings.ToUpper(h.ref.Raw)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, h.ref)
		if h.conf < conf {
			conf = h.conf
		}
	}
	return refs, conf, masked
}

// unresolvedCompanies finds possessive or corporate-suffixed capitalized names
// that are not in the dictionary.
func (x *entityExtractor) unresolvedCompanies(question, lower string) []companyHit {
	if len(question) != len(lower) {
		return nil
	}
	var hits []companyHit
	for _, re := range []*regexp.Regexp{possessivePattern, corporatePattern} {
		for _, m := range re.FindAllStringSubmatchIndex(question, -1) {
			start, end := m[2], m[3]
			words := strings.Fields(question[start:end])
			for len(words) > 0 && leadingWords[strings.ToLower(words[0])] {
				start += strings.Index(question[start:end], words[0]) + len(words[0])
				words = words[1:]
			}
			if len(words) == 0 {
				continue
			}
			start += strings.Index(question[start:end], words[0])
			name := question[start:end]
			if x.isVocabulary(strings.ToLower(name)) {
				continue
			}
			hits = append(hits, companyHit{
				pos:  start,
				end:  end,
				ref:  models.CompanyRef{Raw: name},
				conf: confRawName,
			})
		}
	}
	return hits
}

// isVocabulary reports whether phrase names a sector or metric rather than a company.
func (x *entityExtractor) isVocabulary(phrase string) bool {
	if _, ok := x.catalog.NormalizeSector(phrase); ok {
		return true
	}
	_, ok := x.catalog.ResolveMetric(phrase)
	return ok
}

// companiesFromHistory resolves a pronoun from the most recent turn that names a company.
func (x *entityExtractor) companiesFromHistory(history []models.Turn) ([]models.CompanyRef, float64) {
	for i := len(history) - 1; i >= 0; i-- {
		text := history[i].Text
		refs, _, _ := x.findCompanies(text, strings.ToLower(text))
		if len(refs) > 0 {
			return refs, confHistory
		}
	}
	return nil, 0
}

func (x *entityExtractor) findSector(masked string) (string, float64, string) {
	for _, phrase := range x.catalog.SectorPhrases() {
		i := findPhrase(masked, phrase, 0)
		if i < 0 {
			continue
		}
		sector, _ := x.catalog.NormalizeSector(phrase)
		conf := confSynonym
		if strings.EqualFold(sector, phrase) {
			conf = confExact
		}
		return sector, conf, maskSpan(masked, i, i+len(phrase))
	}
	return "", 0, masked
}

func (x *entityExtractor) findMetrics(masked string) ([]string, float64, string) {
	type hit struct {
		pos    int
		metric string
	}
	var hits []hit
	conf := confExact
	for _, mp := range x.catalog.MetricPhrases() {
		for from := 0; ; {
			i := findPhrase(masked, mp.Phrase, from)
			if i < 0 {
				break
			}
			hits = append(hits, hit{pos: i, metric: mp.Metric})
			if m, ok := x.catalog.Metric(mp.Metric); ok && mp.Phrase != m.Label && mp.Phrase != m.Name {
				conf = confSynonym
			}
			masked = maskSpan(masked, i, i+len(mp.Phrase))
			from = i + len(mp.Phrase)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	var metrics []string
	seen := make(map[string]bool)
	for _, h := range hits {
		if !seen[h.metric] {
			seen[h.metric] = true
			metrics = append(metrics, h.metric)
		}
	}
	if len(metrics) == 0 {
		conf = 0
	}
	return metrics, conf, masked
}

func (x *entityExtractor) referenceYear() int {
	if x.cfg.ReferenceYear > 0 {
		return x.cfg.ReferenceYear
	}
	return x.now().Year() - 1
}

// parseTimeWindow applies the time grammar to lower-case text. Quarters win over
// ranges, ranges over relative periods, and explicit years over "latest".
func (x *entityExtractor) parseTimeWindow(s string) (models.TimeWindow, float64, bool) {
	ref := x.referenceYear()

	if matches := quarterPattern.FindAllStringSubmatch(s, -1); len(matches) > 0 {
		var quarters []models.Quarter
		years := make(map[int]bool)
		for _, m := range matches {
			q, _ := strconv.Atoi(m[1])
			year, _ := strconv.Atoi(m[2])
			if year > 0 {
				years[year] = true
			}
			quarters = append(quarters, models.Quarter{Year: year, Quarter: q})
		}
		for _, raw := range yearPattern.FindAllString(quarterPattern.ReplaceAllString(s, " "), -1) {
			y, _ := strconv.Atoi(raw)
			years[y] = true
		}
		// a bare quarter borrows the year only when the question names exactly one
		if len(years) == 1 {
			for y := range years {
				for i := range quarters {
					if quarters[i].Year == 0 {
						quarters[i].Year = y
					}
				}
			}
		}
		return models.TimeWindow{Kind: models.TimeWindowQuarters, Quarters: quarters}, confExact, true
	}

	if m := rangePattern.FindStringSubmatch(s); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		return yearSpan(a, b), confExact, true
	}

	if m := lastNYearsPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			n = numberWords[m[1]]
		}
		if n > 0 {
			return yearSpan(ref-n+1, ref), confRelative, true
		}
	}
	if lastYearPattern.MatchString(s) {
		return models.TimeWindow{Kind: models.TimeWindowYear, StartYear: ref}, confRelative, true
	}

	if m := sincePattern.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		if y >= ref {
			return models.TimeWindow{Kind: models.TimeWindowYear, StartYear: y}, confExact, true
		}
		return yearSpan(y, ref), confRelative, true
	}

	seen := make(map[int]bool)
	var years []int
	addYear := func(raw string) {
		y, _ := strconv.Atoi(raw)
		if !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}
	for _, m := range fiscalYearPattern.FindAllStringSubmatch(s, -1) {
		addYear(m[1])
	}
	for _, m := range yearPattern.FindAllStringSubmatch(fiscalYearPattern.ReplaceAllString(s, " "), -1) {
		addYear(m[1])
	}
	if len(years) == 1 {
		return models.TimeWindow{Kind: models.TimeWindowYear, StartYear: years[0]}, confExact, true
	}
	if len(years) > 1 {
		sort.Ints(years)
		return yearSpan(years[0], years[len(years)-1]), confExact, true
	}

	if latestPattern.MatchString(s) {
		return models.TimeWindow{Kind: models.TimeWindowLatest}, confRelative, true
	}
	return models.TimeWindow{}, 0, false
}

func yearSpan(a, b int) models.TimeWindow {
	if a > b {
		a, b = b, a
	}
	if a == b {
		return models.TimeWindow{Kind: models.TimeWindowYear, StartYear: a}
	}
	return models.TimeWindow{Kind: models.TimeWindowYearRange, StartYear: a, EndYear: b}
}

func detectQuestionType(lower string) models.QuestionType {
	for _, rule := range questionTypeRules {
		for _, phrase := range rule.phrases {
			if findPhrase(lower, phrase, 0) >= 0 {
				return rule.qt
			}
		}
	}
	return models.QuestionTypeLookup
}

// merge fills slots the deterministic pass left empty from the model's answer.
// Deterministic values always win; an unresolved company name may be replaced by
// a dictionary match the model found.
func (x *entityExtractor) merge(e models.ExtractedEntities, r prompts.ExtractionResponse) models.ExtractedEntities {
	out := e.Clone()
	if out.SlotConfidence == nil {
		out.SlotConfidence = make(map[models.Slot]float64)
	}
	conf := r.Confidence
	if conf > maxLLMSlotConfidence {
		conf = maxLLMSlotConfidence
	}
	filled := func(s models.Slot) {
		out.SlotConfidence[s] = roundConfidence(conf)
		out.Source = sourceDeterministicLLM
	}

	if !out.HasSlot(models.SlotCompany) || hasUnresolvedCompany(out) {
		var resolved, unresolved []models.CompanyRef
		for _, name := range r.Companies {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if co, ok := x.catalog.ResolveCompany(name); ok {
				resolved = append(resolved, models.CompanyRef{Raw: name, Name: co.Name, Ticker: co.Ticker, Resolved: true})
			} else {
				unresolved = append(unresolved, models.CompanyRef{Raw: name})
			}
		}
		switch {
		case len(resolved) > 0:
			out.Companies = resolved
			filled(models.SlotCompany)
		case !out.HasSlot(models.SlotCompany) && len(unresolved) > 0:
			out.Companies = unresolved
			out.SlotConfidence[models.SlotCompany] = roundConfidence(min(conf, confRawName))
			out.Source = sourceDeterministicLLM
		}
	}

	if !out.HasSlot(models.SlotSector) {
		for _, s := range r.Sectors {
			if sector, ok := x.catalog.NormalizeSector(s); ok {
				out.Sector = sector
				filled(models.SlotSector)
				break
			}
		}
	}

	if !out.HasSlot(models.SlotMetric) {
		for _, term := range r.Metrics {
			if m, ok := x.catalog.ResolveMetric(term); ok && !containsString(out.Metrics, m.Name) {
				out.Metrics = append(out.Metrics, m.Name)
			}
		}
		if len(out.Metrics) > 0 {
			filled(models.SlotMetric)
		}
	}

	if !out.HasSlot(models.SlotTimeWindow) {
		periods := strings.ToLower(strings.Join(r.TimePeriodStrings(), " "))
		if w, _, ok := x.parseTimeWindow(periods); ok {
			out.TimeWindow = w
			filled(models.SlotTimeWindow)
		}
	}

	if out.QuestionType == models.QuestionTypeLookup && models.ValidQuestionType(r.QuestionType) {
		out.QuestionType = models.QuestionType(r.QuestionType)
	}
	return out
}

func (x *entityExtractor) metricNames() []string {
	metrics := x.catalog.Metrics()
	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = m.Name
	}
	return names
}

// findPhrase returns the index of phrase in s at or after from, on word boundaries,
// or -1.
func findPhrase(s, phrase string, from int) int {
	if phrase == "" {
		return -1
	}
	for from <= len(s)-len(phrase) {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return -1
		}
		start := from + i
		end := start + len(phrase)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return start
		}
		from = start + 1
	}
	return -1
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// maskSpan blanks s[start:end] so the span cannot match again.
func maskSpan(s string, start, end int) string {
	return s[:start] + strings.Repeat(" ", end-start) + s[end:]
}

func containsString(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}

func roundConfidence(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
