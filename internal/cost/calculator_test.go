package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaudeCost(t *testing.T) {
	c := NewCalculator(DefaultRates())

	// 1M input + 1M output on sonnet = 3.00 + 15.00
	got := c.Claude("claude-sonnet-4-5-20250929", 1_000_000, 1_000_000, 0, 0)
	assert.InDelta(t, 18.00, got, 0.001)
}

func TestClaudeCostWithCacheTokens(t *testing.T) {
	c := NewCalculator(DefaultRates())

	// haiku: 1M cache write at 1.25x input, 1M cache read at 0.1x input.
	got := c.Claude("claude-haiku-4-5-20251001", 0, 0, 1_000_000, 1_000_000)
	assert.InDelta(t, 0.80*1.25+0.80*0.1, got, 0.001)
}

func TestClaudeCostUnknownModel(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.Zero(t, c.Claude("unknown-model", 1_000_000, 1_000_000, 0, 0))
}

func TestCacheSavings(t *testing.T) {
	c := NewCalculator(DefaultRates())

	perCall := c.Claude("claude-sonnet-4-5-20250929", 2000, 500, 0, 0)
	got := c.CacheSavings("claude-sonnet-4-5-20250929", 10, 2000, 500)
	assert.InDelta(t, 10*perCall, got, 0.0001)

	assert.Zero(t, c.CacheSavings("claude-sonnet-4-5-20250929", 0, 2000, 500))
}
