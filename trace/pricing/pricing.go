// Package pricing provides per-model token pricing used to backfill span
// costs when the upstream recorder did not annotate them.
package pricing

import (
	"math"
	"sync"
)

// ModelPrice holds the USD price per 1K tokens for one model.
type ModelPrice struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	PriceInput  float64 `json:"price_input"`
	PriceOutput float64 `json:"price_output"`
}

// Calculator resolves model prices and computes request costs.
type Calculator struct {
	mu     sync.RWMutex
	prices map[string]*ModelPrice // key: provider:model
}

// NewCalculator creates a Calculator preloaded with the default price table.
func NewCalculator() *Calculator {
	c := &Calculator{prices: make(map[string]*ModelPrice)}
	c.loadDefaultPrices()
	return c
}

// Default price table; override via SetPrice or UpdatePrices from config.
func (c *Calculator) loadDefaultPrices() {
	defaults := []ModelPrice{
		// OpenAI
		{Provider: "openai", Model: "gpt-4o", PriceInput: 0.005, PriceOutput: 0.015},
		{Provider: "openai", Model: "gpt-4o-mini", PriceInput: 0.00015, PriceOutput: 0.0006},
		{Provider: "openai", Model: "gpt-4-turbo", PriceInput: 0.01, PriceOutput: 0.03},
		{Provider: "openai", Model: "gpt-3.5-turbo", PriceInput: 0.0005, PriceOutput: 0.0015},
		// Claude
		{Provider: "claude", Model: "claude-3-5-sonnet-20241022", PriceInput: 0.003, PriceOutput: 0.015},
		{Provider: "claude", Model: "claude-3-opus-20240229", PriceInput: 0.015, PriceOutput: 0.075},
		{Provider: "claude", Model: "claude-3-haiku-20240307", PriceInput: 0.00025, PriceOutput: 0.00125},
		// Gemini
		{Provider: "gemini", Model: "gemini-1.5-pro", PriceInput: 0.00125, PriceOutput: 0.005},
		{Provider: "gemini", Model: "gemini-1.5-flash", PriceInput: 0.000075, PriceOutput: 0.0003},
		// Qwen
		{Provider: "qwen", Model: "qwen-turbo", PriceInput: 0.0008, PriceOutput: 0.002},
		{Provider: "qwen", Model: "qwen-plus", PriceInput: 0.004, PriceOutput: 0.012},
		{Provider: "qwen", Model: "qwen-max", PriceInput: 0.02, PriceOutput: 0.06},
		// GLM
		{Provider: "glm", Model: "glm-4", PriceInput: 0.014, PriceOutput: 0.014},
		{Provider: "glm", Model: "glm-4-flash", PriceInput: 0.0001, PriceOutput: 0.0001},
	}
	for _, p := range defaults {
		c.SetPrice(p.Provider, p.Model, p.PriceInput, p.PriceOutput)
	}
}

// SetPrice sets the price for one model.
func (c *Calculator) SetPrice(provider, model string, priceInput, priceOutput float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[provider+":"+model] = &ModelPrice{
		Provider:    provider,
		Model:       model,
		PriceInput:  priceInput,
		PriceOutput: priceOutput,
	}
}

// UpdatePrices applies a batch of price overrides.
func (c *Calculator) UpdatePrices(prices []ModelPrice) {
	for _, p := range prices {
		c.SetPrice(p.Provider, p.Model, p.PriceInput, p.PriceOutput)
	}
}

// GetPrice returns the price for a model, or nil when unknown.
func (c *Calculator) GetPrice(provider, model string) *ModelPrice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prices[provider+":"+model]
}

// Cost computes the USD cost of a request, rounded to 6 decimals.
// Unknown models cost 0.
func (c *Calculator) Cost(provider, model string, promptTokens, completionTokens int) float64 {
	price := c.GetPrice(provider, model)
	if price == nil && provider == "" {
		price = c.findByModel(model)
	}
	if price == nil {
		return 0
	}
	cost := float64(promptTokens)/1000*price.PriceInput +
		float64(completionTokens)/1000*price.PriceOutput
	return math.Round(cost*1e6) / 1e6
}

// findByModel scans for a price entry matching the model name alone. Span
// tags often carry a model but no provider.
func (c *Calculator) findByModel(model string) *ModelPrice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.prices {
		if p.Model == model {
			return p
		}
	}
	return nil
}

var defaultCalculator = NewCalculator()

// Default returns the process-wide Calculator with the built-in price table.
func Default() *Calculator { return defaultCalculator }
