package analytics

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultDataset is the event-store table redirect events are appended to.
const DefaultDataset = "link-clicks-production"

// Builder accumulates the pieces of one analytical SQL statement and
// renders them in a fixed clause order: select, from, where, group by,
// order by, limit. Builders are cheap per-call-stack accumulators and are
// not safe for concurrent use.
//
// Logical columns are resolved through the registry as they are added; the
// first unresolvable column poisons the builder and Build returns the
// error. Aliases are whitelisted to [A-Za-z0-9_] and string literals are
// quote-escaped, so the rendered statement contains no caller-controlled
// syntax.
type Builder struct {
	reg     *Registry
	dataset string
	selects []string
	wheres  []string
	groups  []string
	orders  []string
	limit   int
	err     error
}

// NewBuilder creates a builder targeting one dataset.
func NewBuilder(reg *Registry, dataset string) *Builder {
	return &Builder{reg: reg, dataset: dataset}
}

// sanitizeIdent strips every character outside [A-Za-z0-9_]. This runs on
// every alias regardless of upstream validation.
func sanitizeIdent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// quoteString renders a single-quoted SQL string literal, doubling any
// embedded quotes.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// literal renders a scalar as a SQL literal. Numbers stay bare; everything
// else is stringified and quoted.
func literal(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case string:
		return quoteString(n)
	default:
		return quoteString(fmt.Sprint(v))
	}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *Builder) resolve(col string) (string, bool) {
	slot, err := b.reg.Resolve(col)
	if err != nil {
		b.fail(err)
		return "", false
	}
	return slot, true
}

// SumSample selects the sampling-corrected event count, the store's
// equivalent of COUNT(*) under adaptive sampling.
func (b *Builder) SumSample(alias string) *Builder {
	if alias == "" {
		alias = MetricClicks
	}
	b.selects = append(b.selects, "SUM(_sample_interval) AS "+sanitizeIdent(alias))
	return b
}

// CountDistinct selects the number of distinct values of a logical column.
func (b *Builder) CountDistinct(col, alias string) *Builder {
	slot, ok := b.resolve(col)
	if !ok {
		return b
	}
	if alias == "" {
		alias = MetricUniques
	}
	b.selects = append(b.selects, fmt.Sprintf("COUNT(DISTINCT %s) AS %s", slot, sanitizeIdent(alias)))
	return b
}

// SelectDim selects a logical column and groups by it. An empty alias
// defaults to the logical column name.
func (b *Builder) SelectDim(col, alias string) *Builder {
	slot, ok := b.resolve(col)
	if !ok {
		return b
	}
	if alias == "" {
		alias = col
	}
	b.selects = append(b.selects, fmt.Sprintf("%s AS %s", slot, sanitizeIdent(alias)))
	b.groups = append(b.groups, slot)
	return b
}

// TimeBucket selects and groups by a fixed-width time window, aliased
// "bucket". Bucket values are unix-epoch seconds aligned to the window
// start: intDiv(toUnixTimestamp(timestamp), N) * N.
func (b *Builder) TimeBucket(unit string) *Builder {
	step, ok := bucketSeconds[unit]
	if !ok {
		return b.fail(fmt.Errorf("unknown bucket unit %q", unit))
	}
	expr := fmt.Sprintf("intDiv(toUnixTimestamp(timestamp), %d) * %d", step, step)
	b.selects = append(b.selects, expr+" AS bucket")
	b.groups = append(b.groups, "bucket")
	return b
}

// WhereEq adds an equality predicate on a logical column.
func (b *Builder) WhereEq(col string, v any) *Builder {
	slot, ok := b.resolve(col)
	if !ok {
		return b
	}
	b.wheres = append(b.wheres, fmt.Sprintf("%s = %s", slot, literal(v)))
	return b
}

// WhereIn adds a set-membership predicate. An empty value set adds no
// clause at all rather than an always-false predicate.
func (b *Builder) WhereIn(col string, vs []any) *Builder {
	if len(vs) == 0 {
		return b
	}
	slot, ok := b.resolve(col)
	if !ok {
		return b
	}
	lits := make([]string, len(vs))
	for i, v := range vs {
		lits[i] = literal(v)
	}
	b.wheres = append(b.wheres, fmt.Sprintf("%s IN (%s)", slot, strings.Join(lits, ", ")))
	return b
}

// WhereSinceDays restricts to events from the trailing day window. The day
// count is clamped to [1, 3650] even when validation already bounded it.
func (b *Builder) WhereSinceDays(days int) *Builder {
	days = min(max(days, 1), maxSinceDays)
	b.wheres = append(b.wheres, fmt.Sprintf("timestamp >= now() - INTERVAL '%d' DAY", days))
	return b
}

// WhereBetween restricts to an absolute window, start inclusive and end
// exclusive. Callers must only pass bounds already validated as start < end.
func (b *Builder) WhereBetween(start, end time.Time) *Builder {
	b.wheres = append(b.wheres, fmt.Sprintf(
		"timestamp >= %s AND timestamp < %s",
		quoteString(start.UTC().Format(time.RFC3339)),
		quoteString(end.UTC().Format(time.RFC3339)),
	))
	return b
}

// OrderBy appends a sort clause on a sanitized expression. An empty
// direction defaults to DESC.
func (b *Builder) OrderBy(expr, dir string) *Builder {
	if dir != "ASC" {
		dir = "DESC"
	}
	b.orders = append(b.orders, sanitizeIdent(expr)+" "+dir)
	return b
}

// Limit caps the row count, clamped to [1, 5000].
func (b *Builder) Limit(n int) *Builder {
	b.limit = min(max(n, 1), maxLimit)
	return b
}

// Build renders the statement. Given the same sequence of calls the output
// is byte-identical; no clause ordering depends on map iteration.
func (b *Builder) Build() (string, error) {
	if b.err != nil {
		return "", b.err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(b.selects) == 0 {
		sb.WriteString("SUM(_sample_interval) AS " + MetricClicks)
	} else {
		sb.WriteString(strings.Join(b.selects, ", "))
	}
	sb.WriteString(" FROM " + quoteString(b.dataset))
	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE " + strings.Join(b.wheres, " AND "))
	}
	if len(b.groups) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(b.groups, ", "))
	}
	if len(b.orders) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(b.orders, ", "))
	}
	if b.limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(b.limit))
	}
	return sb.String(), nil
}

// BuildMetricsQuery translates a validated MetricsRequest into one SQL
// statement. When bucketing is on, the bucket is ordered ascending first
// unless the request orders on "bucket" explicitly. Requests must have
// passed Validate; unknown metric kinds or filter ops still fail here so a
// schema variant without a render rule can never produce SQL.
func BuildMetricsQuery(reg *Registry, dataset string, req *MetricsRequest) (string, error) {
	b := NewBuilder(reg, dataset)

	if req.Bucket != "" {
		b.TimeBucket(req.Bucket)
		explicit := false
		for _, o := range req.OrderBy {
			if o.Expr == "bucket" {
				explicit = true
				break
			}
		}
		if !explicit {
			b.OrderBy("bucket", "ASC")
		}
	}

	for _, d := range req.Dimensions {
		b.SelectDim(d.Col, d.Alias)
	}

	for _, m := range req.Metrics {
		switch m.Kind {
		case MetricClicks:
			b.SumSample(m.Alias)
		case MetricUniques:
			b.CountDistinct(m.On, m.Alias)
		default:
			return "", fmt.Errorf("no render rule for metric kind %q", m.Kind)
		}
	}

	for _, f := range req.Filters {
		switch f.Op {
		case FilterEq:
			b.WhereEq(f.Col, f.Value)
		case FilterIn:
			b.WhereIn(f.Col, f.Values)
		case FilterSinceDays:
			b.WhereSinceDays(f.Days)
		case FilterBetween:
			start, end, err := f.window()
			if err != nil {
				return "", err
			}
			b.WhereBetween(start, end)
		default:
			return "", fmt.Errorf("no render rule for filter op %q", f.Op)
		}
	}

	for _, o := range req.OrderBy {
		b.OrderBy(o.Expr, o.Dir)
	}

	if req.Limit > 0 {
		b.Limit(req.Limit)
	}

	return b.Build()
}
