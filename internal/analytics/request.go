package analytics

import (
	"fmt"
	"regexp"
	"time"
)

// Metric kinds.
const (
	MetricClicks  = "clicks"
	MetricUniques = "uniques"
)

// Filter operators.
const (
	FilterEq        = "eq"
	FilterIn        = "in"
	FilterSinceDays = "sinceDays"
	FilterBetween   = "betweenTime"
)

// Time bucket granularities and their widths in seconds.
var bucketSeconds = map[string]int64{
	"minute": 60,
	"hour":   3600,
	"day":    86400,
	"week":   604800,
}

// Request size bounds.
const (
	maxDimensions  = 8
	maxMetrics     = 8
	maxFilters     = 16
	maxOrderBy     = 8
	maxInValues    = 1000
	maxSinceDays   = 3650
	maxLimit       = 5000
	maxAliasLength = 64
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Dimension selects a non-aggregated column, optionally under an alias.
// Without an alias the result column is named after the logical column.
type Dimension struct {
	Col   string `json:"col"`
	Alias string `json:"alias,omitempty"`
}

// Metric is one aggregate in the select list. Kind "clicks" sums the store's
// sampling-correction interval; kind "uniques" counts distinct values of the
// column named by On.
type Metric struct {
	Kind  string `json:"kind"`
	On    string `json:"on,omitempty"`
	Alias string `json:"alias,omitempty"`
}

// Filter is one predicate. Which fields are meaningful depends on Op:
// eq uses Col+Value, in uses Col+Values, sinceDays uses Days, and
// betweenTime uses StartISO/EndISO (RFC 3339, start inclusive, end exclusive).
type Filter struct {
	Op       string `json:"op"`
	Col      string `json:"col,omitempty"`
	Value    any    `json:"value,omitempty"`
	Values   []any  `json:"values,omitempty"`
	Days     int    `json:"days,omitempty"`
	StartISO string `json:"startIso,omitempty"`
	EndISO   string `json:"endIso,omitempty"`
}

// OrderBy sorts the result by a selected alias (or "bucket").
type OrderBy struct {
	Expr string `json:"expr"`
	Dir  string `json:"dir,omitempty"` // ASC or DESC, default DESC
}

// MetricsRequest is the closed-vocabulary description of one analytics
// query. It is decoded from untrusted JSON and must pass Validate before it
// reaches the SQL builder.
type MetricsRequest struct {
	Dimensions []Dimension `json:"dimensions,omitempty"`
	Metrics    []Metric    `json:"metrics"`
	Bucket     string      `json:"bucket,omitempty"`
	Filters    []Filter    `json:"filters,omitempty"`
	OrderBy    []OrderBy   `json:"orderBy,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// ValidationError reports a request-shape violation with the offending
// field's path.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the request against the declared constraints. It is pure:
// it consults the registry only for logical-name existence and never touches
// physical names or the network. The first violation found is returned.
func (r *MetricsRequest) Validate(reg *Registry) error {
	if len(r.Dimensions) > maxDimensions {
		return invalid("dimensions", "at most %d dimensions allowed", maxDimensions)
	}
	for i, d := range r.Dimensions {
		field := fmt.Sprintf("dimensions[%d]", i)
		if !reg.Has(d.Col) {
			return invalid(field+".col", "unknown column %q", d.Col)
		}
		if err := checkAlias(field+".alias", d.Alias); err != nil {
			return err
		}
	}

	if len(r.Metrics) == 0 {
		return invalid("metrics", "at least one metric is required")
	}
	if len(r.Metrics) > maxMetrics {
		return invalid("metrics", "at most %d metrics allowed", maxMetrics)
	}
	for i, m := range r.Metrics {
		field := fmt.Sprintf("metrics[%d]", i)
		switch m.Kind {
		case MetricClicks:
		case MetricUniques:
			if !reg.Has(m.On) {
				return invalid(field+".on", "unknown column %q", m.On)
			}
		default:
			return invalid(field+".kind", "unknown metric kind %q", m.Kind)
		}
		if err := checkAlias(field+".alias", m.Alias); err != nil {
			return err
		}
	}

	if r.Bucket != "" {
		if _, ok := bucketSeconds[r.Bucket]; !ok {
			return invalid("bucket", "unknown bucket unit %q", r.Bucket)
		}
	}

	if len(r.Filters) > maxFilters {
		return invalid("filters", "at most %d filters allowed", maxFilters)
	}
	for i, f := range r.Filters {
		field := fmt.Sprintf("filters[%d]", i)
		switch f.Op {
		case FilterEq:
			if !reg.Has(f.Col) {
				return invalid(field+".col", "unknown column %q", f.Col)
			}
			if !scalarValue(f.Value) {
				return invalid(field+".value", "value must be a string or a number")
			}
		case FilterIn:
			if !reg.Has(f.Col) {
				return invalid(field+".col", "unknown column %q", f.Col)
			}
			if len(f.Values) > maxInValues {
				return invalid(field+".values", "at most %d values allowed", maxInValues)
			}
			for j, v := range f.Values {
				if !scalarValue(v) {
					return invalid(fmt.Sprintf("%s.values[%d]", field, j), "value must be a string or a number")
				}
			}
		case FilterSinceDays:
			if f.Days < 1 || f.Days > maxSinceDays {
				return invalid(field+".days", "days must be between 1 and %d", maxSinceDays)
			}
		case FilterBetween:
			start, end, err := f.window()
			if err != nil {
				return invalid(field, "%v", err)
			}
			if !start.Before(end) {
				return invalid(field, "startIso must be earlier than endIso")
			}
		default:
			return invalid(field+".op", "unknown filter op %q", f.Op)
		}
	}

	if len(r.OrderBy) > maxOrderBy {
		return invalid("orderBy", "at most %d order clauses allowed", maxOrderBy)
	}
	aliases := r.selectedAliases()
	for i, o := range r.OrderBy {
		field := fmt.Sprintf("orderBy[%d]", i)
		if !identRe.MatchString(o.Expr) || len(o.Expr) > maxAliasLength {
			return invalid(field+".expr", "invalid identifier %q", o.Expr)
		}
		if _, ok := aliases[o.Expr]; !ok {
			return invalid(field+".expr", "%q does not reference a selected alias or bucket", o.Expr)
		}
		if o.Dir != "" && o.Dir != "ASC" && o.Dir != "DESC" {
			return invalid(field+".dir", "direction must be ASC or DESC")
		}
	}

	if r.Limit != 0 && (r.Limit < 1 || r.Limit > maxLimit) {
		return invalid("limit", "limit must be between 1 and %d", maxLimit)
	}

	return nil
}

// selectedAliases collects every result-column name the request produces:
// dimension aliases (or column names), metric aliases (or the kind
// defaults), and "bucket" when bucketing is on.
func (r *MetricsRequest) selectedAliases() map[string]struct{} {
	set := make(map[string]struct{})
	for _, d := range r.Dimensions {
		if d.Alias != "" {
			set[d.Alias] = struct{}{}
		} else {
			set[d.Col] = struct{}{}
		}
	}
	for _, m := range r.Metrics {
		switch {
		case m.Alias != "":
			set[m.Alias] = struct{}{}
		default:
			set[m.Kind] = struct{}{}
		}
	}
	if r.Bucket != "" {
		set["bucket"] = struct{}{}
	}
	return set
}

// window parses the absolute time bounds of a betweenTime filter.
func (f *Filter) window() (start, end time.Time, err error) {
	start, err = time.Parse(time.RFC3339, f.StartISO)
	if err != nil {
		return start, end, fmt.Errorf("startIso is not a valid RFC 3339 timestamp")
	}
	end, err = time.Parse(time.RFC3339, f.EndISO)
	if err != nil {
		return start, end, fmt.Errorf("endIso is not a valid RFC 3339 timestamp")
	}
	return start, end, nil
}

func checkAlias(field, alias string) error {
	if alias == "" {
		return nil
	}
	if len(alias) > maxAliasLength || !identRe.MatchString(alias) {
		return invalid(field, "alias must match [a-zA-Z_][a-zA-Z0-9_]* and be at most %d characters", maxAliasLength)
	}
	return nil
}

func scalarValue(v any) bool {
	switch v.(type) {
	case string, float64, int, int64:
		return true
	}
	return false
}
