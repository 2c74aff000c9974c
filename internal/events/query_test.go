package events

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestBuild_TenantPredicateFirst(t *testing.T) {
	q := &Query{ProjectID: "proj-1"}

	list, count, err := q.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !strings.Contains(list.SQL, "WHERE project_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2 OFFSET $3") {
		t.Errorf("Unexpected list SQL: %s", list.SQL)
	}
	if count.SQL != "SELECT COUNT(*) FROM llm_events WHERE project_id = $1" {
		t.Errorf("Unexpected count SQL: %s", count.SQL)
	}
	if len(list.Args) != 3 || list.Args[0] != "proj-1" || list.Args[1] != DefaultLimit || list.Args[2] != 0 {
		t.Errorf("Unexpected list args: %v", list.Args)
	}
	if len(count.Args) != 1 {
		t.Errorf("Expected count to share only the where args, got %v", count.Args)
	}
}

func TestBuild_RequiresProject(t *testing.T) {
	if _, _, err := (&Query{}).Build(); !errors.Is(err, ErrMissingProject) {
		t.Errorf("Expected ErrMissingProject, got %v", err)
	}
}

func TestBuild_AllowListedSorts(t *testing.T) {
	for field, column := range sortColumns {
		q := &Query{ProjectID: "p", Sort: Sort{Field: field, Order: "asc"}}
		list, _, err := q.Build()
		if err != nil {
			t.Fatalf("%s: %v", field, err)
		}
		if !strings.Contains(list.SQL, "ORDER BY "+column+" ASC, seq ASC") {
			t.Errorf("%s: unexpected order clause in %s", field, list.SQL)
		}
	}
}

func TestBuild_RejectsUnknownSort(t *testing.T) {
	tests := []struct {
		sort    Sort
		wantErr error
	}{
		{Sort{Field: "id; DROP TABLE llm_events"}, ErrInvalidSortField},
		{Sort{Field: "metadata"}, ErrInvalidSortField},
		{Sort{Field: "project_id"}, ErrInvalidSortField},
		{Sort{Field: "model", Order: "sideways"}, ErrInvalidSortOrder},
	}

	for _, tt := range tests {
		q := &Query{ProjectID: "p", Sort: tt.sort}
		list, _, err := q.Build()
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%+v: expected %v, got %v", tt.sort, tt.wantErr, err)
		}
		if list.SQL != "" {
			t.Errorf("%+v: no SQL must be produced, got %s", tt.sort, list.SQL)
		}
	}
}

func TestBuild_FiltersAreParameterized(t *testing.T) {
	lat := int64(100)
	cost := 0.5
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := &Query{
		ProjectID: "p",
		Filters: Filters{
			Providers:   []string{"openai", "anthropic"},
			Statuses:    []int{200},
			APIKey:      "key' OR '1'='1",
			LatencyMin:  &lat,
			CostMax:     &cost,
			CreatedFrom: &from,
		},
	}

	list, count, err := q.Build()
	if err != nil {
		t.Fatal(err)
	}

	wantWhere := "project_id = $1 AND provider IN ($2, $3) AND status IN ($4) AND metadata->>'apiKey' = $5 AND latency_ms >= $6 AND cost_usd <= $7 AND created_at >= $8"
	if !strings.Contains(count.SQL, wantWhere) {
		t.Errorf("Expected where clause %q, got %s", wantWhere, count.SQL)
	}
	if strings.Contains(list.SQL, "OR '1'") {
		t.Error("Filter values must never be inlined into SQL")
	}
	if len(count.Args) != 8 || count.Args[4] != "key' OR '1'='1" {
		t.Errorf("Unexpected args %v", count.Args)
	}
	if !strings.Contains(list.SQL, "LIMIT $9 OFFSET $10") {
		t.Errorf("Expected limit and offset after filter args: %s", list.SQL)
	}
}

func TestBuild_ClampsPage(t *testing.T) {
	q := &Query{ProjectID: "p", Page: Page{Limit: 1000, Offset: -5}}
	list, _, _ := q.Build()

	if list.Args[1] != MaxLimit || list.Args[2] != 0 {
		t.Errorf("Expected clamped page, got limit=%v offset=%v", list.Args[1], list.Args[2])
	}
}

func TestParseQuery(t *testing.T) {
	v := url.Values{}
	v.Set("sort", "cost_usd")
	v.Set("order", "asc")
	v.Add("provider", "openai,anthropic")
	v.Add("provider", "google")
	v.Set("model", "gpt-4o-mini")
	v.Set("status", "200,500")
	v.Set("apiKey", "k1")
	v.Set("latencyMin", "10")
	v.Set("costMax", "0.25")
	v.Set("scoreMin", "0.5")
	v.Set("promptTokensMax", "4000")
	v.Set("completionTokensMin", "1")
	v.Set("from", "2026-01-01T00:00:00Z")
	v.Set("createdAtTo", "2026-02-01T00:00:00Z")
	v.Set("limit", "25")
	v.Set("offset", "50")

	q, err := ParseQuery(v)
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}

	if q.ProjectID != "" {
		t.Error("Project must never be read from the query string")
	}
	if q.Sort.Field != "cost_usd" || q.Sort.Order != "asc" {
		t.Errorf("Unexpected sort %+v", q.Sort)
	}
	if strings.Join(q.Filters.Providers, ",") != "openai,anthropic,google" {
		t.Errorf("Unexpected providers %v", q.Filters.Providers)
	}
	if len(q.Filters.Statuses) != 2 || q.Filters.Statuses[1] != 500 {
		t.Errorf("Unexpected statuses %v", q.Filters.Statuses)
	}
	if *q.Filters.LatencyMin != 10 || *q.Filters.CostMax != 0.25 || *q.Filters.ScoreMin != 0.5 {
		t.Error("Range filters not parsed")
	}
	if *q.Filters.PromptTokensMax != 4000 || *q.Filters.CompletionTokensMin != 1 {
		t.Error("Token filters not parsed")
	}
	if q.Filters.CreatedFrom == nil || q.Filters.CreatedFrom.Month() != time.January {
		t.Errorf("Expected from alias to set CreatedFrom, got %v", q.Filters.CreatedFrom)
	}
	if q.Filters.CreatedTo == nil || q.Filters.CreatedTo.Month() != time.February {
		t.Errorf("Unexpected CreatedTo %v", q.Filters.CreatedTo)
	}
	if q.Limit() != 25 || q.Offset() != 50 {
		t.Errorf("Expected limit 25 offset 50, got %d %d", q.Limit(), q.Offset())
	}
}

func TestParseQuery_Errors(t *testing.T) {
	tests := []struct {
		query   string
		wantErr error
	}{
		{"sort=password", ErrInvalidSortField},
		{"order=random", ErrInvalidSortOrder},
		{"latencyMin=fast", ErrInvalidFilter},
		{"costMax=cheap", ErrInvalidFilter},
		{"status=ok", ErrInvalidFilter},
		{"from=yesterday", ErrInvalidFilter},
		{"limit=0", ErrInvalidFilter},
		{"offset=-1", ErrInvalidFilter},
		{"page=0", ErrInvalidFilter},
	}

	for _, tt := range tests {
		v, _ := url.ParseQuery(tt.query)
		if _, err := ParseQuery(v); !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: expected %v, got %v", tt.query, tt.wantErr, err)
		}
	}
}

func TestParseQuery_PageSize(t *testing.T) {
	v, _ := url.ParseQuery("page=2&pageSize=10")
	q, err := ParseQuery(v)
	if err != nil {
		t.Fatal(err)
	}
	if q.Limit() != 10 || q.Offset() != 10 {
		t.Errorf("Expected page 2 to start at offset 10, got limit=%d offset=%d", q.Limit(), q.Offset())
	}
}

// Consecutive pages of the same query differ only in OFFSET and keep the
// same total order, so page 2 starts exactly where page 1 ended.
func TestBuild_ConsecutivePagesShareOrder(t *testing.T) {
	build := func(page string) Statement {
		v, _ := url.ParseQuery("sort=model&order=asc&pageSize=10&page=" + page)
		q, err := ParseQuery(v)
		if err != nil {
			t.Fatal(err)
		}
		q.ProjectID = "p"
		list, _, err := q.Build()
		if err != nil {
			t.Fatal(err)
		}
		return list
	}

	p1, p2 := build("1"), build("2")
	if p1.SQL != p2.SQL {
		t.Errorf("Expected identical SQL across pages:\n%s\n%s", p1.SQL, p2.SQL)
	}
	if !strings.Contains(p1.SQL, "ORDER BY model ASC, seq ASC") {
		t.Errorf("Expected seq tie-break, got %s", p1.SQL)
	}
	if p1.Args[2] != 0 || p2.Args[2] != 10 {
		t.Errorf("Expected offsets 0 and 10, got %v and %v", p1.Args[2], p2.Args[2])
	}
}
