// Package judge implements the Judge Adapter (spec §2 item 5, §4.1.3):
// vision-score an image against its prompt and objective preset, returning
// a strict JSON rubric. Grounded on the shared internal/adapters/anthropic
// Messages API client (vision input as a base64 image content block,
// exactly as the teacher's client.go builds text content blocks).
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/choiwab/promptsmith/internal/adapters/anthropic"
	"github.com/choiwab/promptsmith/internal/domain"
)

// Judge scores a single generated image against its prompt.
type Judge interface {
	// Score returns a filled Rubric, or an error if the call failed or
	// the model's output could not be parsed as strict JSON after one
	// retry. Callers apply the neutral fallback rubric (spec §4.1.3) on
	// error, not this adapter.
	Score(ctx context.Context, basePrompt, variantPrompt, objectivePreset string, imageBytes []byte, mediaType string) (*domain.Rubric, error)
}

type rubricJSON struct {
	PromptAdherence          float64  `json:"prompt_adherence"`
	SubjectFidelity          float64  `json:"subject_fidelity"`
	CompositionQuality       float64  `json:"composition_quality"`
	StyleCoherence           float64  `json:"style_coherence"`
	TechnicalArtifactPenalty float64  `json:"technical_artifact_penalty"`
	Confidence               float64  `json:"confidence"`
	FailureTags              []string `json:"failure_tags"`
	StrengthTags             []string `json:"strength_tags"`
	Rationale                string   `json:"rationale"`
}

const systemPrompt = `You are an image evaluation judge. Given a base prompt, the exact prompt used to generate the attached image, and an objective preset, score the image strictly. Respond with ONLY a JSON object, no prose, no markdown fences, matching exactly this shape:
{"prompt_adherence":0.0,"subject_fidelity":0.0,"composition_quality":0.0,"style_coherence":0.0,"technical_artifact_penalty":0.0,"confidence":0.0,"failure_tags":[],"strength_tags":[],"rationale":""}
All numeric fields are floats in [0,1]. technical_artifact_penalty is higher for worse artifacts. confidence reflects your certainty in this score.`

// AnthropicJudge is the Claude-vision-backed Judge.
type AnthropicJudge struct {
	client *anthropic.Client
}

// NewAnthropicJudge builds a Judge over the given Anthropic client.
func NewAnthropicJudge(client *anthropic.Client) *AnthropicJudge {
	return &AnthropicJudge{client: client}
}

func (j *AnthropicJudge) Score(ctx context.Context, basePrompt, variantPrompt, objectivePreset string, imageBytes []byte, mediaType string) (*domain.Rubric, error) {
	userText := fmt.Sprintf("Base prompt: %s\nGeneration prompt: %s\nObjective preset: %s", basePrompt, variantPrompt, objectivePreset)

	text, err := j.client.Complete(ctx, "judge.score", systemPrompt, 1024, 0,
		anthropic.TextBlock(userText),
		anthropic.ImageBlock(mediaType, imageBytes),
	)
	if err != nil {
		return nil, err
	}

	rubric, err := parseRubric(text)
	if err != nil {
		// One retry on malformed JSON (spec §4.1.3 / §2 item 5).
		text, err = j.client.Complete(ctx, "judge.score.retry", systemPrompt, 1024, 0,
			anthropic.TextBlock(userText),
			anthropic.ImageBlock(mediaType, imageBytes),
		)
		if err != nil {
			return nil, err
		}
		rubric, err = parseRubric(text)
		if err != nil {
			return nil, err
		}
	}
	return rubric, nil
}

func parseRubric(text string) (*domain.Rubric, error) {
	var parsed rubricJSON
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return nil, fmt.Errorf("judge: malformed rubric JSON: %w", err)
	}
	return &domain.Rubric{
		PromptAdherence:          clamp01(parsed.PromptAdherence),
		SubjectFidelity:          clamp01(parsed.SubjectFidelity),
		CompositionQuality:       clamp01(parsed.CompositionQuality),
		StyleCoherence:           clamp01(parsed.StyleCoherence),
		TechnicalArtifactPenalty: clamp01(parsed.TechnicalArtifactPenalty),
		Confidence:               clamp01(parsed.Confidence),
		FailureTags:              parsed.FailureTags,
		StrengthTags:             parsed.StrengthTags,
		Rationale:                parsed.Rationale,
	}, nil
}

// DeterministicJudge always returns NeutralFallback without ever making a
// network call. Used in place of AnthropicJudge when no API key is
// configured (spec §6).
type DeterministicJudge struct{}

// NewDeterministicJudge builds a Judge that never calls out.
func NewDeterministicJudge() *DeterministicJudge { return &DeterministicJudge{} }

func (DeterministicJudge) Score(context.Context, string, string, string, []byte, string) (*domain.Rubric, error) {
	return NeutralFallback(), nil
}

// extractJSON strips any leading/trailing prose or markdown fence the
// model added despite instructions, keeping only the outermost object.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NeutralFallback is the rubric applied when the judge exhausts retries or
// errors (spec §4.1.3): all scores 0.5, penalty 0.5, confidence 0.3, empty
// tags, empty rationale.
func NeutralFallback() *domain.Rubric {
	return &domain.Rubric{
		PromptAdherence:          0.5,
		SubjectFidelity:          0.5,
		CompositionQuality:       0.5,
		StyleCoherence:           0.5,
		TechnicalArtifactPenalty: 0.5,
		Confidence:               0.3,
		FailureTags:              []string{},
		StrengthTags:             []string{},
		Rationale:                "",
	}
}
