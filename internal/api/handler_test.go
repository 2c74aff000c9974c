package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/agusgarcia3007/LLM-moonitor/internal/auth"
	"github.com/agusgarcia3007/LLM-moonitor/internal/billing"
	"github.com/agusgarcia3007/LLM-moonitor/internal/events"
	"github.com/agusgarcia3007/LLM-moonitor/internal/pricecache"
	"github.com/agusgarcia3007/LLM-moonitor/internal/pricing"
	"github.com/agusgarcia3007/LLM-moonitor/internal/tenant"
	"github.com/agusgarcia3007/LLM-moonitor/pkg/ratelimit"
)

// Mock Event Store
type mockEventStore struct {
	insertFunc func(ctx context.Context, e *events.Event) error
	listFunc   func(ctx context.Context, q *events.Query) ([]*events.Event, int, error)
	inserted   []*events.Event
}

func (m *mockEventStore) Insert(ctx context.Context, e *events.Event) error {
	if m.insertFunc != nil {
		if err := m.insertFunc(ctx, e); err != nil {
			return err
		}
	}
	m.inserted = append(m.inserted, e)
	return nil
}

func (m *mockEventStore) List(ctx context.Context, q *events.Query) ([]*events.Event, int, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, q)
	}
	return []*events.Event{}, 0, nil
}

// Mock Resolver
type mockResolver struct {
	resolveFunc func(ctx context.Context, tc tenant.Context) (*tenant.Resolution, error)
	last        tenant.Context
}

func (m *mockResolver) Resolve(ctx context.Context, tc tenant.Context) (*tenant.Resolution, error) {
	m.last = tc
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, tc)
	}
	return &tenant.Resolution{ProjectID: "proj-1", OrganizationID: "org-1", Source: "explicit_project"}, nil
}

// Mock Limiter Store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

type mockJob struct {
	runFunc func(ctx context.Context) (*pricing.RunReport, error)
}

func (m *mockJob) Run(ctx context.Context) (*pricing.RunReport, error) {
	return m.runFunc(ctx)
}

type staticPrices []pricing.PriceRecord

func (s staticPrices) ListPrices(ctx context.Context) ([]pricing.PriceRecord, error) {
	return s, nil
}

type testEnv struct {
	handler  *Handler
	store    *mockEventStore
	resolver *mockResolver
	cache    *pricecache.Cache
	job      *mockJob
}

// Test Suite
func setupTest(t *testing.T, limiterAllowed bool) *testEnv {
	t.Helper()
	cache := pricecache.New(staticPrices{
		{ModelID: "gpt-4o-mini", Provider: "openai", InputPrice: 0.00000015, OutputPrice: 0.0000006},
	})
	if _, err := cache.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		store:    &mockEventStore{},
		resolver: &mockResolver{},
		cache:    cache,
		job:      &mockJob{},
	}
	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: limiterAllowed})
	tracer := noop.NewTracerProvider().Tracer("test")
	env.handler = NewHandler(env.resolver, billing.NewCalculator(cache), env.store, limiter, env.job, cache, tracer)
	return env
}

func postEvent(h *Handler, body interface{}, decorate func(r *http.Request) *http.Request) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", "/llm-events", bytes.NewReader(raw))
	if decorate != nil {
		req = decorate(req)
	}
	w := httptest.NewRecorder()
	h.HandleLogEvent(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestHandleLogEvent_ComputesCost(t *testing.T) {
	env := setupTest(t, true)

	w := postEvent(env.handler, map[string]interface{}{
		"provider":          "openai",
		"model":             "gpt-4o-mini",
		"prompt_tokens":     1000,
		"completion_tokens": 500,
		"latency_ms":        420,
		"status":            200,
		"projectId":         "proj-1",
	}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.store.inserted) != 1 {
		t.Fatalf("Expected one inserted event, got %d", len(env.store.inserted))
	}

	e := env.store.inserted[0]
	if e.CostUSD != 0.00045 {
		t.Errorf("Expected cost_usd 0.00045, got %v", e.CostUSD)
	}
	if e.ProjectID != "proj-1" || e.OrganizationID != "org-1" {
		t.Errorf("Expected resolved tenant on event, got %s/%s", e.ProjectID, e.OrganizationID)
	}
	if e.ID == "" {
		t.Error("Expected generated event id")
	}
	if env.resolver.last.ExplicitProjectID != "proj-1" {
		t.Errorf("Expected explicit project to reach resolver, got %+v", env.resolver.last)
	}

	resp := decodeEnvelope(t, w)
	if resp["success"] != true || resp["message"] != "LLM event logged successfully" {
		t.Errorf("Unexpected envelope %v", resp)
	}
}

func TestHandleLogEvent_UnknownModelCostsZero(t *testing.T) {
	env := setupTest(t, true)

	w := postEvent(env.handler, map[string]interface{}{
		"provider": "openai", "model": "gpt-unknown", "prompt_tokens": 1000, "completion_tokens": 500,
	}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected unpriced model to be accepted, got %d", w.Code)
	}
	if env.store.inserted[0].CostUSD != 0 {
		t.Errorf("Expected zero cost, got %v", env.store.inserted[0].CostUSD)
	}
}

func TestHandleLogEvent_MetadataGainsAPIKey(t *testing.T) {
	env := setupTest(t, true)

	postEvent(env.handler, map[string]interface{}{
		"provider": "openai", "model": "gpt-4o-mini", "metadata": map[string]string{"feature": "chat"},
	}, func(r *http.Request) *http.Request {
		return r.WithContext(auth.WithAPIKey(r.Context(), "key-123"))
	})

	var meta map[string]string
	if err := json.Unmarshal(env.store.inserted[0].Metadata, &meta); err != nil {
		t.Fatal(err)
	}
	if meta["apiKey"] != "key-123" || meta["feature"] != "chat" {
		t.Errorf("Unexpected metadata %v", meta)
	}
}

func TestHandleLogEvent_SessionReachesResolver(t *testing.T) {
	env := setupTest(t, true)

	postEvent(env.handler, map[string]interface{}{"provider": "openai", "model": "gpt-4o-mini"},
		func(r *http.Request) *http.Request {
			s := &auth.Session{UserID: "u1", ActiveOrganizationID: "org-1", ActiveProjectID: "Y"}
			return r.WithContext(auth.WithSession(r.Context(), s))
		})

	got := env.resolver.last
	if got.UserID != "u1" || got.SessionProjectID != "Y" || got.SessionOrganizationID != "org-1" {
		t.Errorf("Unexpected tenant context %+v", got)
	}
}

func TestHandleLogEvent_InvalidBody(t *testing.T) {
	env := setupTest(t, true)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{invalid json}`, "invalid request body"},
		{"missing provider", `{"model":"m"}`, "provider is required"},
		{"missing model", `{"provider":"p"}`, "model is required"},
		{"negative tokens", `{"provider":"p","model":"m","prompt_tokens":-1}`, "token counts must not be negative"},
		{"metadata not object", `{"provider":"p","model":"m","metadata":[1,2]}`, "metadata must be a JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/llm-events", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			env.handler.HandleLogEvent(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", w.Code)
			}
			if msg := decodeEnvelope(t, w)["message"]; msg != tt.want {
				t.Errorf("Expected %q, got %v", tt.want, msg)
			}
		})
	}
	if len(env.store.inserted) != 0 {
		t.Error("Invalid requests must not be stored")
	}
}

func TestHandleLogEvent_TenantErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{tenant.ErrMissingTenant, http.StatusBadRequest},
		{tenant.ErrProjectNotFound, http.StatusNotFound},
		{tenant.ErrForbidden, http.StatusForbidden},
	}

	for _, tt := range tests {
		env := setupTest(t, true)
		env.resolver.resolveFunc = func(ctx context.Context, tc tenant.Context) (*tenant.Resolution, error) {
			return nil, tt.err
		}

		w := postEvent(env.handler, map[string]interface{}{"provider": "openai", "model": "gpt-4o-mini"}, nil)

		if w.Code != tt.code {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.code, w.Code)
		}
		if len(env.store.inserted) != 0 {
			t.Errorf("%v: event must not be stored without a tenant", tt.err)
		}
	}
}

func TestHandleLogEvent_StorageErrorIsGeneric(t *testing.T) {
	env := setupTest(t, true)
	env.store.insertFunc = func(ctx context.Context, e *events.Event) error {
		return errors.New(`pq: relation "llm_events" does not exist`)
	}

	w := postEvent(env.handler, map[string]interface{}{"provider": "openai", "model": "gpt-4o-mini"}, nil)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "llm_events") {
		t.Errorf("Storage error text leaked to client: %s", w.Body.String())
	}
}

func TestHandleLogEvent_RateLimited(t *testing.T) {
	env := setupTest(t, false)

	w := postEvent(env.handler, map[string]interface{}{"provider": "openai", "model": "gpt-4o-mini"}, nil)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Expected Retry-After: 60 header, got %s", w.Header().Get("Retry-After"))
	}
}

func TestHandleListEvents(t *testing.T) {
	env := setupTest(t, true)
	var got *events.Query
	env.store.listFunc = func(ctx context.Context, q *events.Query) ([]*events.Event, int, error) {
		got = q
		return []*events.Event{{ID: "e1"}, {ID: "e2"}}, 42, nil
	}

	req := httptest.NewRequest("GET", "/llm-events?sort=cost_usd&order=asc&limit=2&offset=4&provider=openai", nil)
	req = req.WithContext(auth.WithSession(req.Context(), &auth.Session{UserID: "u1", ActiveProjectID: "proj-1"}))
	w := httptest.NewRecorder()

	env.handler.HandleListEvents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got.ProjectID != "proj-1" {
		t.Errorf("Expected query scoped to resolved project, got %q", got.ProjectID)
	}
	if got.Sort.Field != "cost_usd" || len(got.Filters.Providers) != 1 {
		t.Errorf("Unexpected query %+v", got)
	}

	resp := decodeEnvelope(t, w)
	page := resp["pagination"].(map[string]interface{})
	if page["total"].(float64) != 42 || page["limit"].(float64) != 2 || page["offset"].(float64) != 4 {
		t.Errorf("Unexpected pagination %v", page)
	}
	if data := resp["data"].([]interface{}); len(data) != 2 {
		t.Errorf("Expected 2 events, got %d", len(data))
	}
}

func TestHandleListEvents_InvalidSort(t *testing.T) {
	env := setupTest(t, true)
	called := false
	env.store.listFunc = func(ctx context.Context, q *events.Query) ([]*events.Event, int, error) {
		called = true
		return nil, 0, nil
	}

	req := httptest.NewRequest("GET", "/llm-events?sort=password", nil)
	req = req.WithContext(auth.WithSession(req.Context(), &auth.Session{UserID: "u1"}))
	w := httptest.NewRecorder()

	env.handler.HandleListEvents(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if called {
		t.Error("Store must not be queried with an invalid sort")
	}
}

func TestHandleListEvents_EmptyPage(t *testing.T) {
	env := setupTest(t, true)

	req := httptest.NewRequest("GET", "/llm-events", nil)
	req = req.WithContext(auth.WithSession(req.Context(), &auth.Session{UserID: "u1"}))
	w := httptest.NewRecorder()

	env.handler.HandleListEvents(w, req)

	resp := decodeEnvelope(t, w)
	if data, ok := resp["data"].([]interface{}); !ok || len(data) != 0 {
		t.Errorf("Expected empty data array, got %v", resp["data"])
	}
}

func TestHandleUpdatePrices(t *testing.T) {
	env := setupTest(t, true)
	env.job.runFunc = func(ctx context.Context) (*pricing.RunReport, error) {
		return &pricing.RunReport{
			StartedAt: time.Now(),
			Providers: []pricing.ProviderResult{
				{Provider: "openai", Models: 12},
				{Provider: "cohere", Err: errors.New("scrape failed")},
			},
			Fetched:    12,
			Persisted:  11,
			Collisions: []pricing.Collision{{ModelID: "gpt-4o-mini", Count: 2}},
		}, nil
	}

	w := httptest.NewRecorder()
	env.handler.HandleUpdatePrices(w, httptest.NewRequest("POST", "/admin/prices/update", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	if data["persisted"].(float64) != 11 {
		t.Errorf("Unexpected summary %v", data)
	}
	providers := data["providers"].([]interface{})
	if providers[1].(map[string]interface{})["error"] != "scrape failed" {
		t.Errorf("Expected provider error in summary, got %v", providers[1])
	}
}

func TestHandleUpdatePrices_StorageError(t *testing.T) {
	env := setupTest(t, true)
	env.job.runFunc = func(ctx context.Context) (*pricing.RunReport, error) {
		return &pricing.RunReport{}, &pricing.StorageError{Op: "upsert prices", Err: errors.New("deadlock detected")}
	}

	w := httptest.NewRecorder()
	env.handler.HandleUpdatePrices(w, httptest.NewRequest("POST", "/admin/prices/update", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "deadlock") {
		t.Error("Storage error text leaked to client")
	}
}

func TestHandleRefreshPrices(t *testing.T) {
	env := setupTest(t, true)

	w := httptest.NewRecorder()
	env.handler.HandleRefreshPrices(w, httptest.NewRequest("POST", "/admin/prices/refresh", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	if data["entries"].(float64) != 1 {
		t.Errorf("Expected 1 entry, got %v", data["entries"])
	}
}

func TestCallerKey(t *testing.T) {
	req := httptest.NewRequest("POST", "/llm-events", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	if got := callerKey(req); got != "ip:10.1.2.3" {
		t.Errorf("Expected ip key, got %s", got)
	}

	req = req.WithContext(auth.WithSession(req.Context(), &auth.Session{UserID: "u1"}))
	if got := callerKey(req); got != "user:u1" {
		t.Errorf("Expected user key, got %s", got)
	}

	req = req.WithContext(auth.WithAPIKey(req.Context(), "k"))
	if got := callerKey(req); got != "key:k" {
		t.Errorf("Expected api key to take precedence, got %s", got)
	}
}
