package sql

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionFinding describes a bound value libinjection flags as SQL.
// Values are always bound, never spliced, so a finding means the extracted
// entity is garbage rather than that the query is exploitable; the executor
// still refuses to run it.
type InjectionFinding struct {
	Param       string
	Fingerprint string
	Value       any
}

func (f InjectionFinding) Error() string {
	return fmt.Sprintf("parameter %s rejected (fingerprint %s)", f.Param, f.Fingerprint)
}

// ScreenParameter runs libinjection over a string value. Surrounding LIKE
// wildcards are stripped first, so "%APPLE INC%" screens as "APPLE INC".
// Non-string values always pass.
func ScreenParameter(name string, value any) (InjectionFinding, bool) {
	s, ok := value.(string)
	if !ok {
		return InjectionFinding{}, false
	}
	sqli, fingerprint := libinjection.IsSQLi(strings.Trim(s, "%"))
	if !sqli {
		return InjectionFinding{}, false
	}
	return InjectionFinding{Param: name, Fingerprint: string(fingerprint), Value: value}, true
}

// ScreenParameters screens every value and returns the findings ordered by
// parameter name.
func ScreenParameters(params map[string]any) []InjectionFinding {
	var findings []InjectionFinding
	for _, name := range slices.Sorted(maps.Keys(params)) {
		if f, bad := ScreenParameter(name, params[name]); bad {
			findings = append(findings, f)
		}
	}
	return findings
}

// ScreenValues screens positional values bound to a prepared statement and
// returns the first finding, named by its placeholder position.
func ScreenValues(values []any) error {
	for i, v := range values {
		if f, bad := ScreenParameter(fmt.Sprintf("$%d", i+1), v); bad {
			return f
		}
	}
	return nil
}
