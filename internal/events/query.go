package events

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrInvalidFilter    = errors.New("invalid filter")
	ErrMissingProject   = errors.New("query has no project")
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// sortColumns is the only source of column names that reach ORDER BY.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"model":      "model",
	"provider":   "provider",
	"status":     "status",
	"latency_ms": "latency_ms",
	"cost_usd":   "cost_usd",
	"score":      "score",
}

const eventColumns = `id, project_id, organization_id, provider, model, prompt_tokens, completion_tokens,
	latency_ms, status, score, cost_usd, metadata, created_at`

type Filters struct {
	Providers []string
	Models    []string
	Statuses  []int
	APIKey    string

	LatencyMin, LatencyMax                   *int64
	CostMin, CostMax                         *float64
	ScoreMin, ScoreMax                       *float64
	PromptTokensMin, PromptTokensMax         *int64
	CompletionTokensMin, CompletionTokensMax *int64

	CreatedFrom, CreatedTo *time.Time
}

type Sort struct {
	Field string
	Order string // "asc" or "desc"
}

type Page struct {
	Limit  int
	Offset int
}

// Query selects events of exactly one project. ProjectID must come from a
// tenant resolution, never from the filters.
type Query struct {
	ProjectID string
	Filters   Filters
	Sort      Sort
	Page      Page
}

type Statement struct {
	SQL  string
	Args []any
}

// Build renders the page and count statements. Both share the same WHERE
// clause and arguments; the page statement appends LIMIT and OFFSET.
func (q *Query) Build() (list, count Statement, err error) {
	if q.ProjectID == "" {
		return list, count, ErrMissingProject
	}
	column, dir, err := q.Sort.resolve()
	if err != nil {
		return list, count, err
	}

	w := &where{}
	w.add("project_id = %s", q.ProjectID)

	f := q.Filters
	w.in("provider", stringArgs(f.Providers))
	w.in("model", stringArgs(f.Models))
	w.in("status", intArgs(f.Statuses))
	if f.APIKey != "" {
		w.add("metadata->>'apiKey' = %s", f.APIKey)
	}
	between(w, "latency_ms", f.LatencyMin, f.LatencyMax)
	between(w, "cost_usd", f.CostMin, f.CostMax)
	between(w, "score", f.ScoreMin, f.ScoreMax)
	between(w, "prompt_tokens", f.PromptTokensMin, f.PromptTokensMax)
	between(w, "completion_tokens", f.CompletionTokensMin, f.CompletionTokensMax)
	if f.CreatedFrom != nil {
		w.add("created_at >= %s", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		w.add("created_at <= %s", *f.CreatedTo)
	}

	clause := strings.Join(w.preds, " AND ")
	limit, offset := q.Page.normalize()

	count = Statement{
		SQL:  "SELECT COUNT(*) FROM llm_events WHERE " + clause,
		Args: w.args,
	}

	listArgs := make([]any, len(w.args), len(w.args)+2)
	copy(listArgs, w.args)
	listArgs = append(listArgs, limit, offset)
	list = Statement{
		SQL: fmt.Sprintf("SELECT %s FROM llm_events WHERE %s ORDER BY %s %s, seq %s LIMIT $%d OFFSET $%d",
			eventColumns, clause, column, dir, dir, len(w.args)+1, len(w.args)+2),
		Args: listArgs,
	}
	return list, count, nil
}

func (s Sort) resolve() (string, string, error) {
	field := s.Field
	if field == "" {
		field = "created_at"
	}
	column, ok := sortColumns[field]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSortField, field)
	}

	switch strings.ToLower(s.Order) {
	case "", "desc":
		return column, "DESC", nil
	case "asc":
		return column, "ASC", nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSortOrder, s.Order)
	}
}

func (p Page) normalize() (int, int) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Limit and Offset return the values the page statement will use.
func (q *Query) Limit() int {
	limit, _ := q.Page.normalize()
	return limit
}

func (q *Query) Offset() int {
	_, offset := q.Page.normalize()
	return offset
}

type where struct {
	preds []string
	args  []any
}

func (w *where) placeholder(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *where) add(format string, v any) {
	w.preds = append(w.preds, fmt.Sprintf(format, w.placeholder(v)))
}

func (w *where) in(column string, values []any) {
	if len(values) == 0 {
		return
	}
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = w.placeholder(v)
	}
	w.preds = append(w.preds, fmt.Sprintf("%s IN (%s)", column, strings.Join(ph, ", ")))
}

func between[T int64 | float64](w *where, column string, lo, hi *T) {
	if lo != nil {
		w.add(column+" >= %s", *lo)
	}
	if hi != nil {
		w.add(column+" <= %s", *hi)
	}
}

func stringArgs(vs []string) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func intArgs(vs []int) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

// ParseQuery reads filters, sort and pagination from a query string. The
// project is left empty for the caller to set from the resolved tenant.
func ParseQuery(v url.Values) (*Query, error) {
	q := &Query{
		Sort: Sort{Field: v.Get("sort"), Order: v.Get("order")},
	}
	if _, _, err := q.Sort.resolve(); err != nil {
		return nil, err
	}

	p := &parser{values: v}
	f := &q.Filters
	f.Providers = p.list("provider")
	f.Models = p.list("model")
	for _, s := range p.list("status") {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: status=%q", ErrInvalidFilter, s)
		}
		f.Statuses = append(f.Statuses, n)
	}
	f.APIKey = v.Get("apiKey")

	f.LatencyMin, f.LatencyMax = p.intParam("latencyMin"), p.intParam("latencyMax")
	f.CostMin, f.CostMax = p.floatParam("costMin"), p.floatParam("costMax")
	f.ScoreMin, f.ScoreMax = p.floatParam("scoreMin"), p.floatParam("scoreMax")
	f.PromptTokensMin, f.PromptTokensMax = p.intParam("promptTokensMin"), p.intParam("promptTokensMax")
	f.CompletionTokensMin, f.CompletionTokensMax = p.intParam("completionTokensMin"), p.intParam("completionTokensMax")
	f.CreatedFrom = p.timeParam("createdAtFrom", "from")
	f.CreatedTo = p.timeParam("createdAtTo", "to")

	limit := p.intParam("limit")
	offset := p.intParam("offset")
	page := p.intParam("page")
	pageSize := p.intParam("pageSize")
	if p.err != nil {
		return nil, p.err
	}

	if pageSize != nil {
		limit = pageSize
	}
	if limit != nil {
		if *limit < 1 {
			return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidFilter)
		}
		q.Page.Limit = int(*limit)
	}
	if offset != nil {
		if *offset < 0 {
			return nil, fmt.Errorf("%w: offset must not be negative", ErrInvalidFilter)
		}
		q.Page.Offset = int(*offset)
	}
	if page != nil {
		if *page < 1 {
			return nil, fmt.Errorf("%w: page starts at 1", ErrInvalidFilter)
		}
		q.Page.Offset = int(*page-1) * q.Limit()
	}

	return q, nil
}

// parser keeps the first conversion error so callers can read every
// parameter before checking.
type parser struct {
	values url.Values
	err    error
}

func (p *parser) fail(key, value string) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s=%q", ErrInvalidFilter, key, value)
	}
}

// list accepts repeated keys and comma separated values.
func (p *parser) list(key string) []string {
	var out []string
	for _, raw := range p.values[key] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (p *parser) intParam(key string) *int64 {
	s := p.values.Get(key)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.fail(key, s)
		return nil
	}
	return &n
}

func (p *parser) floatParam(key string) *float64 {
	s := p.values.Get(key)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(key, s)
		return nil
	}
	return &n
}

func (p *parser) timeParam(keys ...string) *time.Time {
	for _, key := range keys {
		s := p.values.Get(key)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			p.fail(key, s)
			return nil
		}
		return &t
	}
	return nil
}
