package refiner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackReusesTopVariantPrompt(t *testing.T) {
	top := []TopVariant{{Prompt: "a red bicycle, dramatic lighting", StrengthTags: []string{"lighting"}, Composite: 0.8}}

	suggestions := Fallback("a red bicycle", top)
	require.Len(t, suggestions, 3)
	assert.Equal(t, "conservative", suggestions[0].Label)
	assert.Equal(t, "a red bicycle, dramatic lighting", suggestions[0].PromptText)
	assert.Equal(t, "balanced", suggestions[1].Label)
	assert.Contains(t, suggestions[1].PromptText, "clarify primary subject and lighting")
	assert.Equal(t, "aggressive", suggestions[2].Label)
	assert.Contains(t, suggestions[2].PromptText, "radically reimagined")
}

func TestFallbackWithoutLeaderboardUsesBasePrompt(t *testing.T) {
	suggestions := Fallback("a mountain vista", nil)
	require.Len(t, suggestions, 3)
	assert.Equal(t, "a mountain vista", suggestions[0].PromptText)
}

func TestParseRefineRejectsMissingField(t *testing.T) {
	text := `{"conservative":{"prompt_text":"x","rationale":"r"},"balanced":{"prompt_text":"","rationale":"r"},"aggressive":{"prompt_text":"z","rationale":"r"}}`
	_, ok := parseRefine(text)
	assert.False(t, ok)
}

func TestParseRefineAcceptsCompleteObject(t *testing.T) {
	text := `{"conservative":{"prompt_text":"a","rationale":"ra"},"balanced":{"prompt_text":"b","rationale":"rb"},"aggressive":{"prompt_text":"c","rationale":"rc"}}`
	suggestions, ok := parseRefine(text)
	require.True(t, ok)
	require.Len(t, suggestions, 3)
	assert.Equal(t, "a", suggestions[0].PromptText)
}

func TestAggressiveRephraseKeepsPrincipalNoun(t *testing.T) {
	out := aggressiveRephrase("bicycle, parked near a fence")
	assert.Contains(t, out, "bicycle")
}
