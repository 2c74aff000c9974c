// Package billing attributes a dollar cost to a logged LLM call.
package billing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/agusgarcia3007/LLM-moonitor/internal/pricecache"
)

type Lookuper interface {
	Lookup(provider, modelID string) (pricecache.Price, bool)
}

type Calculator struct {
	prices Lookuper
}

func NewCalculator(prices Lookuper) *Calculator {
	return &Calculator{prices: prices}
}

// Cost returns promptTokens*input + completionTokens*output for the cached
// price of provider/model, or 0 when the model is not priced. The sum is
// computed in decimal and converted to float64 once.
func (c *Calculator) Cost(provider, model string, promptTokens, completionTokens int) float64 {
	price, ok := c.prices.Lookup(provider, model)
	if !ok {
		return 0
	}

	input := tokenCost(promptTokens, price.Input)
	output := tokenCost(completionTokens, price.Output)
	return input.Add(output).InexactFloat64()
}

// Priced reports whether provider/model has a cached price.
func (c *Calculator) Priced(provider, model string) bool {
	_, ok := c.prices.Lookup(provider, model)
	return ok
}

func tokenCost(tokens int, perToken float64) decimal.Decimal {
	if tokens <= 0 || perToken <= 0 || math.IsNaN(perToken) || math.IsInf(perToken, 0) {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(tokens)).Mul(decimal.NewFromFloat(perToken))
}
