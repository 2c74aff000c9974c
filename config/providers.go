package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderConfig is one entry of the pricing-page registry.
type ProviderConfig struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	PricingURL  string `yaml:"pricing_url"`
}

type providersFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// DefaultProviders is the built-in registry used when no PROVIDERS_FILE is set.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{Name: "openai", DisplayName: "OpenAI", PricingURL: "https://platform.openai.com/docs/pricing"},
		{Name: "anthropic", DisplayName: "Anthropic", PricingURL: "https://docs.anthropic.com/en/docs/about-claude/models/overview#model-pricing"},
		{Name: "google", DisplayName: "Google", PricingURL: "https://ai.google.dev/gemini-api/docs/pricing"},
		{Name: "cohere", DisplayName: "Cohere", PricingURL: "https://cohere.com/pricing"},
		{Name: "deepseek", DisplayName: "DeepSeek", PricingURL: "https://api-docs.deepseek.com/quick_start/pricing"},
	}
}

// LoadProviders reads the registry from a YAML file, expanding environment
// variables. An empty path returns DefaultProviders.
func LoadProviders(path string) ([]ProviderConfig, error) {
	if path == "" {
		return DefaultProviders(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var f providersFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	seen := make(map[string]bool, len(f.Providers))
	for i, p := range f.Providers {
		if p.Name == "" || p.PricingURL == "" {
			return nil, fmt.Errorf("provider #%d: name and pricing_url are required", i+1)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("provider %q listed twice", p.Name)
		}
		seen[p.Name] = true
		if p.DisplayName == "" {
			f.Providers[i].DisplayName = p.Name
		}
	}
	if len(f.Providers) == 0 {
		return nil, fmt.Errorf("providers file %s lists no providers", path)
	}

	return f.Providers, nil
}
