package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agusgarcia3007/LLM-moonitor/internal/auth"
	"github.com/agusgarcia3007/LLM-moonitor/internal/events"
	"github.com/agusgarcia3007/LLM-moonitor/internal/metrics"
	"github.com/agusgarcia3007/LLM-moonitor/internal/pricing"
	"github.com/agusgarcia3007/LLM-moonitor/internal/tenant"
	"github.com/agusgarcia3007/LLM-moonitor/pkg/ratelimit"
)

type TenantResolver interface {
	Resolve(ctx context.Context, tc tenant.Context) (*tenant.Resolution, error)
}

type CostCalculator interface {
	Cost(provider, model string, promptTokens, completionTokens int) float64
	Priced(provider, model string) bool
}

type PriceJob interface {
	Run(ctx context.Context) (*pricing.RunReport, error)
}

type PriceRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

type Handler struct {
	resolver TenantResolver
	costs    CostCalculator
	events   events.Store
	limiter  *ratelimit.Limiter
	job      PriceJob
	cache    PriceRefresher
	tracer   trace.Tracer
}

func NewHandler(
	resolver TenantResolver,
	costs CostCalculator,
	store events.Store,
	limiter *ratelimit.Limiter,
	job PriceJob,
	cache PriceRefresher,
	tracer trace.Tracer,
) *Handler {
	return &Handler{
		resolver: resolver,
		costs:    costs,
		events:   store,
		limiter:  limiter,
		job:      job,
		cache:    cache,
		tracer:   tracer,
	}
}

type logEventRequest struct {
	Provider         string          `json:"provider"`
	Model            string          `json:"model"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	LatencyMs        int64           `json:"latency_ms"`
	Status           int             `json:"status"`
	Score            *float64        `json:"score"`
	Metadata         json.RawMessage `json:"metadata"`
	ProjectID        string          `json:"projectId"`
	OrganizationID   string          `json:"organizationId"`
}

func (req *logEventRequest) validate() string {
	switch {
	case req.Provider == "":
		return "provider is required"
	case req.Model == "":
		return "model is required"
	case req.PromptTokens < 0 || req.CompletionTokens < 0:
		return "token counts must not be negative"
	case req.LatencyMs < 0:
		return "latency_ms must not be negative"
	}
	return ""
}

func (h *Handler) HandleLogEvent(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "events.log")
	defer span.End()

	caller := callerKey(r)
	allowed, err := h.limiter.Allow(ctx, caller)
	if err != nil {
		log.Warn().Err(err).Str("caller", caller).Msg("rate limiter unavailable")
	}
	if err != nil || !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(ratelimit.Window.Seconds())))
		writeJSON(w, http.StatusTooManyRequests, envelope{Success: false, Message: "rate limit exceeded"})
		return
	}

	var req logEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid request body"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: msg})
		return
	}

	metadata, err := withAPIKey(req.Metadata, auth.GetAPIKey(ctx))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "metadata must be a JSON object"})
		return
	}

	tc := tenantContext(auth.GetSession(ctx))
	tc.ExplicitProjectID = req.ProjectID
	tc.ExplicitOrganizationID = req.OrganizationID

	res, err := h.resolver.Resolve(ctx, tc)
	if err != nil {
		h.writeError(w, span, err)
		return
	}

	event := &events.Event{
		ID:               uuid.New().String(),
		ProjectID:        res.ProjectID,
		OrganizationID:   res.OrganizationID,
		Provider:         req.Provider,
		Model:            req.Model,
		PromptTokens:     req.PromptTokens,
		CompletionTokens: req.CompletionTokens,
		LatencyMs:        req.LatencyMs,
		Status:           req.Status,
		Score:            req.Score,
		CostUSD:          h.costs.Cost(req.Provider, req.Model, req.PromptTokens, req.CompletionTokens),
		Metadata:         metadata,
	}

	span.SetAttributes(
		attribute.String("project_id", res.ProjectID),
		attribute.String("tenant.source", res.Source),
		attribute.String("provider", req.Provider),
		attribute.String("model", req.Model),
		attribute.Float64("cost_usd", event.CostUSD),
	)

	if err := h.events.Insert(ctx, event); err != nil {
		h.writeError(w, span, err)
		return
	}

	metrics.EventsIngested.WithLabelValues(strconv.FormatBool(h.costs.Priced(req.Provider, req.Model))).Inc()
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "LLM event logged successfully", Data: event})
}

func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "events.list")
	defer span.End()

	q, err := events.ParseQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, span, err)
		return
	}

	tc := tenantContext(auth.GetSession(ctx))
	tc.ExplicitProjectID = r.URL.Query().Get("projectId")

	res, err := h.resolver.Resolve(ctx, tc)
	if err != nil {
		h.writeError(w, span, err)
		return
	}
	q.ProjectID = res.ProjectID
	span.SetAttributes(attribute.String("project_id", res.ProjectID))

	list, total, err := h.events.List(ctx, q)
	if err != nil {
		h.writeError(w, span, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    list,
		Pagination: &pagination{
			Total:  total,
			Limit:  q.Limit(),
			Offset: q.Offset(),
		},
	})
}

type runSummary struct {
	StartedAt  time.Time           `json:"started_at"`
	DurationMs int64               `json:"duration_ms"`
	Skipped    bool                `json:"skipped"`
	Fetched    int                 `json:"fetched"`
	Persisted  int                 `json:"persisted"`
	Duplicates []pricing.Collision `json:"duplicates"`
	Providers  []providerSummary   `json:"providers"`
}

type providerSummary struct {
	Provider string `json:"provider"`
	Models   int    `json:"models"`
	Error    string `json:"error,omitempty"`
}

func (h *Handler) HandleUpdatePrices(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "prices.update")
	defer span.End()

	report, err := h.job.Run(ctx)
	if err != nil {
		h.writeError(w, span, err)
		return
	}

	summary := runSummary{
		StartedAt:  report.StartedAt,
		DurationMs: report.Duration.Milliseconds(),
		Skipped:    report.Skipped,
		Fetched:    report.Fetched,
		Persisted:  report.Persisted,
		Duplicates: report.Collisions,
	}
	for _, p := range report.Providers {
		ps := providerSummary{Provider: p.Provider, Models: p.Models}
		if p.Err != nil {
			ps.Error = p.Err.Error()
		}
		summary.Providers = append(summary.Providers, ps)
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: summary})
}

func (h *Handler) HandleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "prices.refresh")
	defer span.End()

	n, err := h.cache.Refresh(ctx)
	if err != nil {
		h.writeError(w, span, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]int{"entries": n}})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "llm-moonitor"})
}

func tenantContext(s *auth.Session) tenant.Context {
	if s == nil {
		return tenant.Context{}
	}
	return tenant.Context{
		UserID:                s.UserID,
		SessionOrganizationID: s.ActiveOrganizationID,
		SessionProjectID:      s.ActiveProjectID,
	}
}

// callerKey identifies the rate-limit bucket: the API key, else the session
// user, else the remote address.
func callerKey(r *http.Request) string {
	if key := auth.GetAPIKey(r.Context()); key != "" {
		return "key:" + key
	}
	if s := auth.GetSession(r.Context()); s != nil {
		return "user:" + s.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// withAPIKey merges the caller's API key into the event metadata object.
func withAPIKey(raw json.RawMessage, apiKey string) (json.RawMessage, error) {
	meta := map[string]interface{}{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, err
		}
	}
	if apiKey != "" {
		meta["apiKey"] = apiKey
	}
	return json.Marshal(meta)
}

// writeError maps domain errors to status codes. Anything unrecognised is a
// storage failure and its text is not sent to the client.
func (h *Handler) writeError(w http.ResponseWriter, span trace.Span, err error) {
	status, msg := http.StatusInternalServerError, "internal server error"
	switch {
	case errors.Is(err, tenant.ErrMissingTenant):
		status, msg = http.StatusBadRequest, tenant.ErrMissingTenant.Error()
	case errors.Is(err, tenant.ErrProjectNotFound):
		status, msg = http.StatusNotFound, "Project not found"
	case errors.Is(err, tenant.ErrForbidden):
		status, msg = http.StatusForbidden, tenant.ErrForbidden.Error()
	case errors.Is(err, events.ErrInvalidSortField),
		errors.Is(err, events.ErrInvalidSortOrder),
		errors.Is(err, events.ErrInvalidFilter):
		status, msg = http.StatusBadRequest, err.Error()
	}

	if status == http.StatusInternalServerError {
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal error")
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, envelope{Success: false, Message: msg})
}
