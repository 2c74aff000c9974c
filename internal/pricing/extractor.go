package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/agusgarcia3007/LLM-moonitor/internal/llm"
	"github.com/agusgarcia3007/LLM-moonitor/internal/scrape"
)

var (
	ErrEmptyCompletion = errors.New("extraction response did not contain content")
	ErrPricesNotArray  = errors.New(`the "prices" key in the extraction response was not an array`)
)

// Extractor turns a provider's pricing page into price records using a
// scraping service and an LLM extraction backend.
type Extractor struct {
	scraper scrape.Scraper
	llm     llm.Completer
	model   string
	breaker *gobreaker.CircuitBreaker
}

func NewExtractor(scraper scrape.Scraper, completer llm.Completer, model string) *Extractor {
	settings := gobreaker.Settings{
		Name:        "extraction:" + completer.Name(),
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("extraction breaker state changed")
		},
	}
	return &Extractor{
		scraper: scraper,
		llm:     completer,
		model:   model,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Extract fetches and parses one provider. Every failure is an *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, p Provider) ([]PriceRecord, error) {
	logger := log.With().Str("component", "extractor").Str("provider", p.Name).Logger()
	logger.Info().Str("url", p.PricingURL).Msg("starting price extraction")

	markdown, err := e.scraper.Scrape(ctx, p.PricingURL)
	if err != nil {
		return nil, &ExtractionError{Provider: p.Name, Stage: "scrape", Err: err}
	}

	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.llm.Complete(ctx, &llm.Request{
			Model: e.model,
			Messages: []llm.Message{
				{Role: "user", Content: buildPrompt(p.Name, markdown)},
			},
			JSON: true,
		})
	})
	if err != nil {
		return nil, &ExtractionError{Provider: p.Name, Stage: "extract", Err: err}
	}

	resp := result.(*llm.Response)
	if strings.TrimSpace(resp.Content) == "" {
		return nil, &ExtractionError{Provider: p.Name, Stage: "extract", Err: ErrEmptyCompletion}
	}

	records, dropped, err := parsePrices(p.Name, resp.Content)
	if err != nil {
		return nil, &ExtractionError{Provider: p.Name, Stage: "parse", Err: err}
	}

	logger.Info().
		Int("models", len(records)).
		Int("dropped", dropped).
		Int("input_tokens", resp.InputTokens).
		Int("output_tokens", resp.OutputTokens).
		Msg("extracted prices")
	return records, nil
}

func buildPrompt(providerName, markdown string) string {
	return fmt.Sprintf(`Based on the following markdown from a pricing page, extract the pricing information for each AI model.
Return a single JSON object with one key: "prices". The value of "prices" must be an array of objects.

Each object in the "prices" array must follow this exact structure:
{
  "modelId": "the_api_ready_model_identifier",
  "modelName": "The human-readable model name",
  "provider": "%s",
  "inputPrice": 0.00000,
  "outputPrice": 0.00000,
  "trainingPrice": 0.00000 (or null if not applicable),
  "unit": "per_token",
  "trainingUnit": "per_token" (or "per_hour" if applicable, or null)
}

IMPORTANT:
- Cover every pricing section on the page: base models, fine-tuning, audio, images, embeddings, moderation and any other section.
- Every "modelId" must be unique within the array.
- The "unit" field must always be exactly "per_token". Never return null or any other value.
- All prices must be calculated PER SINGLE TOKEN. For example, $5.00 / 1M tokens becomes 0.000005.
- If a model does not have a per-token price, omit it from the array.

Markdown content to parse:
---
%s
---`, providerName, markdown)
}

type rawPrice struct {
	ModelID       string   `json:"modelId"`
	ModelName     string   `json:"modelName"`
	InputPrice    *float64 `json:"inputPrice"`
	OutputPrice   *float64 `json:"outputPrice"`
	TrainingPrice *float64 `json:"trainingPrice"`
	TrainingUnit  *string  `json:"trainingUnit"`
}

// parsePrices decodes {"prices": [...]} and normalizes each entry. Entries
// that cannot be used are dropped and counted rather than failing the batch.
func parsePrices(providerName, content string) ([]PriceRecord, int, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return nil, 0, fmt.Errorf("failed to decode extraction JSON: %w", err)
	}

	raw, ok := envelope["prices"]
	if !ok || string(raw) == "null" {
		return []PriceRecord{}, 0, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, ErrPricesNotArray
	}

	records := make([]PriceRecord, 0, len(items))
	dropped := 0
	for _, item := range items {
		var rp rawPrice
		if err := json.Unmarshal(item, &rp); err != nil {
			dropped++
			continue
		}
		rec, ok := normalize(providerName, rp)
		if !ok {
			dropped++
			continue
		}
		records = append(records, rec)
	}

	return records, dropped, nil
}

func normalize(providerName string, rp rawPrice) (PriceRecord, bool) {
	id := strings.TrimSpace(rp.ModelID)
	if id == "" || (rp.InputPrice == nil && rp.OutputPrice == nil) {
		return PriceRecord{}, false
	}

	in, out := valueOr(rp.InputPrice), valueOr(rp.OutputPrice)
	if !validPrice(in) || !validPrice(out) {
		return PriceRecord{}, false
	}

	name := strings.TrimSpace(rp.ModelName)
	if name == "" {
		name = id
	}

	rec := PriceRecord{
		ModelID:     id,
		ModelName:   name,
		Provider:    providerName,
		InputPrice:  in,
		OutputPrice: out,
		Unit:        UnitPerToken,
	}

	if rp.TrainingPrice != nil && validPrice(*rp.TrainingPrice) {
		tp := *rp.TrainingPrice
		rec.TrainingPrice = &tp
	}
	if rp.TrainingUnit != nil {
		switch u := Unit(*rp.TrainingUnit); u {
		case UnitPerToken, UnitPerHour:
			rec.TrainingUnit = &u
		}
	}

	return rec, true
}

func valueOr(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func validPrice(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
