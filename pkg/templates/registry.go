// Package templates holds the vetted SQL template catalog and the matchers that
// propose templates for a question.
package templates

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/schema"
	sqlpkg "github.com/ekaya-inc/finsql-engine/pkg/sql"
)

// ErrTemplateNotFound is returned by Get for unknown ids.
var ErrTemplateNotFound = errors.New("template not found")

// Registry is the immutable, validated template catalog. It is safe for concurrent
// use because nothing mutates it after NewRegistry returns.
type Registry struct {
	templates []models.Template
	byID      map[string]int
	patterns  map[string]*regexp.Regexp
}

// NewRegistry validates every template against the catalog's static rules and
// builds the registry. All problems are reported together.
func NewRegistry(tmpls []models.Template, catalog *schema.Catalog) (*Registry, error) {
	r := &Registry{
		templates: make([]models.Template, 0, len(tmpls)),
		byID:      make(map[string]int, len(tmpls)),
		patterns:  make(map[string]*regexp.Regexp, len(tmpls)),
	}

	rules := catalog.StaticRules()
	var errs []error
	for _, t := range tmpls {
		if _, dup := r.byID[t.ID]; dup {
			errs = append(errs, fmt.Errorf("template %s: duplicate id", t.ID))
			continue
		}
		re, err := validateTemplate(t, rules)
		if err != nil {
			errs = append(errs, fmt.Errorf("template %s: %w", t.ID, err))
			continue
		}
		r.byID[t.ID] = len(r.templates)
		r.templates = append(r.templates, t)
		if re != nil {
			r.patterns[t.ID] = re
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

func validateTemplate(t models.Template, rules sqlpkg.StaticRules) (*regexp.Regexp, error) {
	if strings.TrimSpace(t.ID) == "" {
		return nil, fmt.Errorf("missing id")
	}
	if strings.TrimSpace(t.SQL) == "" {
		return nil, fmt.Errorf("missing sql")
	}

	if err := sqlpkg.ValidateParameterDefinitions(t.SQL, t.Parameters); err != nil {
		return nil, err
	}
	if quoted := sqlpkg.FindParametersInStringLiterals(t.SQL); len(quoted) > 0 {
		return nil, fmt.Errorf("placeholders inside string literals: %s", strings.Join(quoted, ", "))
	}
	if res := sqlpkg.CheckStatic(t.SQL, rules); !res.Pass {
		return nil, fmt.Errorf("static check failed: %s: %s", res.Reason, res.Detail)
	}

	for _, s := range t.RequiredSlots {
		if !validSlot(s) {
			return nil, fmt.Errorf("unknown required slot %q", s)
		}
	}
	for _, p := range t.Parameters {
		if p.Slot != "" && !validSlot(p.Slot) {
			return nil, fmt.Errorf("parameter %s: unknown slot %q", p.Name, p.Slot)
		}
		if p.Slot == "" && p.Default == nil {
			return nil, fmt.Errorf("parameter %s: needs a slot or a default", p.Name)
		}
		if !validTransform(p.Transform) {
			return nil, fmt.Errorf("parameter %s: unknown transform %q", p.Name, p.Transform)
		}
	}

	if len(t.OutputColumns) > 0 {
		parsed, err := sqlpkg.ParseSelectColumns(t.SQL)
		if err != nil {
			return nil, fmt.Errorf("parse select columns: %w", err)
		}
		if parsed != nil {
			if len(parsed) != len(t.OutputColumns) {
				return nil, fmt.Errorf("declares %d output columns, sql selects %d", len(t.OutputColumns), len(parsed))
			}
			for i, c := range t.OutputColumns {
				if !strings.EqualFold(c.Name, parsed[i].Name) {
					return nil, fmt.Errorf("output column %d is %q, sql selects %q", i, c.Name, parsed[i].Name)
				}
			}
		}
	}

	if t.Pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile("(?i)" + t.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	return re, nil
}

func validSlot(s models.Slot) bool {
	switch s {
	case models.SlotCompany, models.SlotSector, models.SlotMetric, models.SlotTimeWindow:
		return true
	}
	return false
}

// Get returns the template with id.
func (r *Registry) Get(id string) (models.Template, error) {
	i, ok := r.byID[id]
	if !ok {
		return models.Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return r.templates[i], nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// All returns the templates in declaration order.
func (r *Registry) All() []models.Template {
	return append([]models.Template(nil), r.templates...)
}

// Len returns the number of templates.
func (r *Registry) Len() int {
	return len(r.templates)
}

// order returns the declaration index of id, used to break confidence ties.
func (r *Registry) order(id string) int {
	if i, ok := r.byID[id]; ok {
		return i
	}
	return len(r.templates)
}

func (r *Registry) pattern(id string) *regexp.Regexp {
	return r.patterns[id]
}
