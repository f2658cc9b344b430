package compaction

import "strings"

// modelPricing holds USD per million tokens, keyed by model name prefix.
type modelPricing struct {
	inputPerMTok  float64
	outputPerMTok float64
}

var pricingTable = []struct {
	prefix  string
	pricing modelPricing
}{
	{"claude-3-5-haiku", modelPricing{0.80, 4.00}},
	{"claude-3-haiku", modelPricing{0.25, 1.25}},
	{"claude-opus", modelPricing{15.00, 75.00}},
	{"claude-3-opus", modelPricing{15.00, 75.00}},
	{"claude-sonnet", modelPricing{3.00, 15.00}},
	{"claude-3-5-sonnet", modelPricing{3.00, 15.00}},
}

// defaultPricing applies to unknown models. Haiku rates; summarization is
// expected to run on the cheap tier.
var defaultPricing = modelPricing{0.80, 4.00}

// EstimateCost returns the approximate USD cost of one summarization call.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	pricing := defaultPricing
	for _, entry := range pricingTable {
		if strings.HasPrefix(model, entry.prefix) {
			pricing = entry.pricing
			break
		}
	}
	return float64(inputTokens)/1e6*pricing.inputPerMTok +
		float64(outputTokens)/1e6*pricing.outputPerMTok
}
