package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeutralFallbackShape(t *testing.T) {
	r := NeutralFallback()
	assert.Equal(t, 0.5, r.PromptAdherence)
	assert.Equal(t, 0.5, r.SubjectFidelity)
	assert.Equal(t, 0.5, r.CompositionQuality)
	assert.Equal(t, 0.5, r.StyleCoherence)
	assert.Equal(t, 0.5, r.TechnicalArtifactPenalty)
	assert.Equal(t, 0.3, r.Confidence)
	assert.Empty(t, r.FailureTags)
	assert.Empty(t, r.StrengthTags)
	assert.Empty(t, r.Rationale)
}

func TestParseRubricClampsOutOfRangeScores(t *testing.T) {
	text := `{"prompt_adherence":1.4,"subject_fidelity":-0.2,"composition_quality":0.6,"style_coherence":0.6,"technical_artifact_penalty":2.0,"confidence":0.9,"failure_tags":["blur"],"strength_tags":["color"],"rationale":"fine"}`

	rubric, err := parseRubric(text)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rubric.PromptAdherence)
	assert.Equal(t, 0.0, rubric.SubjectFidelity)
	assert.Equal(t, 1.0, rubric.TechnicalArtifactPenalty)
	assert.Equal(t, []string{"blur"}, rubric.FailureTags)
}

func TestParseRubricRejectsMalformedJSON(t *testing.T) {
	_, err := parseRubric("not json at all")
	assert.Error(t, err)
}

func TestExtractJSONKeepsOuterObjectOnly(t *testing.T) {
	text := "```json\n{\"a\":1}\n```"
	assert.JSONEq(t, `{"a":1}`, extractJSON(text))
}
