package pricing

import (
	"time"
)

type Unit string

const (
	UnitPerToken Unit = "per_token"
	UnitPerHour  Unit = "per_hour"
)

// PriceRecord is a normalized price entry. Prices are always per single token;
// TrainingPrice may instead be per hour when TrainingUnit says so.
type PriceRecord struct {
	ModelID       string    `json:"modelId"`
	ModelName     string    `json:"modelName"`
	Provider      string    `json:"provider"`
	InputPrice    float64   `json:"inputPrice"`
	OutputPrice   float64   `json:"outputPrice"`
	TrainingPrice *float64  `json:"trainingPrice"`
	Unit          Unit      `json:"unit"`
	TrainingUnit  *Unit     `json:"trainingUnit"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Provider is a pricing page to harvest.
type Provider struct {
	Name        string
	DisplayName string
	PricingURL  string
}
