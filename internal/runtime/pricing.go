package runtime

import "strings"

// modelPricing is USD per million tokens.
type modelPricing struct {
	input      float64
	output     float64
	cacheRead  float64
	cacheWrite float64
}

// Longest matching prefix wins, so dated releases inherit their family's
// rates without new entries.
var pricingTable = map[string]modelPricing{
	"claude-opus-4":     {input: 15.00, output: 75.00, cacheRead: 1.50, cacheWrite: 18.75},
	"claude-sonnet-4-5": {input: 3.00, output: 15.00, cacheRead: 0.30, cacheWrite: 3.75},
	"claude-sonnet-4":   {input: 3.00, output: 15.00, cacheRead: 0.30, cacheWrite: 3.75},
	"claude-haiku-4-5":  {input: 1.00, output: 5.00, cacheRead: 0.10, cacheWrite: 1.25},
	"claude-3-5-haiku":  {input: 0.80, output: 4.00, cacheRead: 0.08, cacheWrite: 1.00},
}

func lookupPricing(model string) (modelPricing, bool) {
	var (
		best    modelPricing
		bestLen = -1
	)
	for prefix, p := range pricingTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = p
			bestLen = len(prefix)
		}
	}
	return best, bestLen >= 0
}

// costUSD prices a turn's token usage. Unknown models cost zero rather
// than guessing.
func costUSD(model string, u Usage) float64 {
	p, ok := lookupPricing(model)
	if !ok {
		return 0
	}
	const million = 1_000_000
	return float64(u.InputTokens)/million*p.input +
		float64(u.OutputTokens)/million*p.output +
		float64(u.CacheReadInputTokens)/million*p.cacheRead +
		float64(u.CacheCreationInputTokens)/million*p.cacheWrite
}
