package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackProducesNDistinctVariants(t *testing.T) {
	variants := Fallback("a red bicycle", []string{"chrome fender"}, []string{"people"}, 3)

	require.Len(t, variants, 3)
	seen := map[string]bool{}
	for _, v := range variants {
		assert.NotEmpty(t, v.VariantPrompt)
		assert.Contains(t, v.VariantPrompt, "a red bicycle")
		assert.Contains(t, v.VariantPrompt, "include chrome fender")
		assert.Contains(t, v.VariantPrompt, "avoid people")
		assert.NotEmpty(t, v.MutationTags)
		seen[v.VariantPrompt] = true
	}
	assert.Len(t, seen, 3, "fallback variants must be distinct")
}

func TestFallbackRotatesMutationAxes(t *testing.T) {
	variants := Fallback("a cat", nil, nil, len(mutationAxes)+1)
	require.Len(t, variants, len(mutationAxes)+1)
	assert.Equal(t, variants[0].MutationTags, variants[len(mutationAxes)].MutationTags)
}

func TestParsePlanRejectsFewerThanN(t *testing.T) {
	text := `{"variants":[{"variant_prompt":"x","mutation_tags":["composition"]}]}`
	_, ok := parsePlan(text, 2)
	assert.False(t, ok)
}

func TestParsePlanAcceptsExactlyN(t *testing.T) {
	text := `{"variants":[{"variant_prompt":"x","mutation_tags":["composition"]},{"variant_prompt":"y","mutation_tags":["lighting"]}]}`
	variants, ok := parsePlan(text, 2)
	require.True(t, ok)
	require.Len(t, variants, 2)
	assert.Equal(t, "x", variants[0].VariantPrompt)
}

func TestParsePlanRejectsEmptyVariantPrompt(t *testing.T) {
	text := `{"variants":[{"variant_prompt":"","mutation_tags":["composition"]}]}`
	_, ok := parsePlan(text, 1)
	assert.False(t, ok)
}

func TestExtractJSONToleratesSurroundingProse(t *testing.T) {
	text := "Sure, here you go:\n```json\n{\"variants\":[]}\n```\nHope that helps."
	assert.JSONEq(t, `{"variants":[]}`, extractJSON(text))
}
