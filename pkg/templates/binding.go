package templates

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/schema"
)

// Parameter transforms.
const (
	TransformNone          = ""
	TransformUpper         = "upper"
	TransformUpperContains = "upper_contains"
	TransformStartYear     = "start_year"
	TransformEndYear       = "end_year"
	TransformMetricTag     = "metric_tag"
)

func validTransform(t string) bool {
	switch t {
	case TransformNone, TransformUpper, TransformUpperContains, TransformStartYear, TransformEndYear, TransformMetricTag:
		return true
	}
	return false
}

// Bind derives parameter values for t from the entities. Parameters whose slot is
// empty are left out so SubstituteParameters can fall back to their defaults.
func Bind(t models.Template, e models.ExtractedEntities, catalog *schema.Catalog) (map[string]any, error) {
	values := make(map[string]any, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Slot == "" {
			continue
		}
		raw, ok := slotValue(p.Slot, e)
		if !ok {
			if p.Required && p.Default == nil {
				return nil, fmt.Errorf("parameter %s: slot %s is empty", p.Name, p.Slot)
			}
			continue
		}
		v, err := applyTransform(p, raw, e, catalog)
		if err != nil {
			return nil, err
		}
		if v != nil {
			values[p.Name] = v
		}
	}
	return values, nil
}

func slotValue(s models.Slot, e models.ExtractedEntities) (string, bool) {
	switch s {
	case models.SlotCompany:
		c, ok := e.PrimaryCompany()
		if !ok {
			return "", false
		}
		if c.Name != "" {
			return c.Name, true
		}
		return c.Raw, c.Raw != ""
	case models.SlotSector:
		return e.Sector, e.Sector != ""
	case models.SlotMetric:
		if len(e.Metrics) == 0 {
			return "", false
		}
		return e.Metrics[0], true
	case models.SlotTimeWindow:
		return e.TimeWindow.String(), !e.TimeWindow.IsZero()
	}
	return "", false
}

// likeEscaper makes a value match literally inside a LIKE pattern declared with
// ESCAPE '\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func applyTransform(p models.TemplateParameter, raw string, e models.ExtractedEntities, catalog *schema.Catalog) (any, error) {
	switch p.Transform {
	case TransformNone:
		return raw, nil
	case TransformUpper:
		return strings.ToUpper(raw), nil
	case TransformUpperContains:
		return "%" + likeEscaper.Replace(strings.ToUpper(strings.TrimSpace(raw))) + "%", nil
	case TransformStartYear, TransformEndYear:
		start, end := e.TimeWindow.Years()
		year := end
		if p.Transform == TransformStartYear {
			year = start
		}
		if year == 0 {
			if p.Default != nil {
				return nil, nil
			}
			return nil, fmt.Errorf("parameter %s: time window %q has no fiscal year", p.Name, raw)
		}
		return year, nil
	case TransformMetricTag:
		tags := catalog.MetricTags(raw)
		if len(tags) == 0 {
			return nil, fmt.Errorf("parameter %s: unknown metric %q", p.Name, raw)
		}
		return tags[0], nil
	}
	return nil, fmt.Errorf("parameter %s: unknown transform %q", p.Name, p.Transform)
}
