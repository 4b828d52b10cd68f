package compare

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/choiwab/promptsmith/internal/adapters/anthropic"
)

// SemanticSignal asks a vision model for a single identity-similarity
// float (spec §4.2's semantic_similarity row).
type SemanticSignal interface {
	Similarity(ctx context.Context, baseline, candidate []byte, mediaType string) (float64, error)
}

// StructuralSignal asks a vision model for the structured
// facial/lighting/style drift JSON (spec §4.2's vision_structural_score row).
type StructuralSignal interface {
	Structural(ctx context.Context, baseline, candidate []byte, mediaType string) (score float64, explanation map[string]interface{}, err error)
}

const semanticSystemPrompt = `You compare two images of what should be the same subject. Respond with ONLY a JSON object, no prose, no markdown fences, matching exactly this shape:
{"semantic_similarity":0.0}
The value is a float in [0,1]; 1.0 means identical subject identity, 0.0 means completely different subjects.`

const structuralSystemPrompt = `You compare two images for structural drift. Respond with ONLY a JSON object, no prose, no markdown fences, matching exactly this shape:
{"facial_structure_changed":false,"lighting_shift":"none","style_drift":"low","vision_structural_score":0.0}
lighting_shift is one of none|low|moderate|high. style_drift is one of low|moderate|high. vision_structural_score is a float in [0,1]; higher means more structural drift.`

// AnthropicSignals implements both SemanticSignal and StructuralSignal over
// a single shared Anthropic client, mirroring the Judge Adapter's use of
// vision content blocks (internal/adapters/judge).
type AnthropicSignals struct {
	client *anthropic.Client
}

// NewAnthropicSignals builds the compare-time vision signals over client.
func NewAnthropicSignals(client *anthropic.Client) *AnthropicSignals {
	return &AnthropicSignals{client: client}
}

type semanticJSON struct {
	SemanticSimilarity float64 `json:"semantic_similarity"`
}

func (s *AnthropicSignals) Similarity(ctx context.Context, baseline, candidate []byte, mediaType string) (float64, error) {
	text, err := s.client.Complete(ctx, "compare.semantic", semanticSystemPrompt, 256, 0,
		anthropic.TextBlock("Baseline image, then candidate image:"),
		anthropic.ImageBlock(mediaType, baseline),
		anthropic.ImageBlock(mediaType, candidate),
	)
	if err != nil {
		return 0, err
	}
	var parsed semanticJSON
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		// One retry on malformed output (spec §4.2).
		text, err = s.client.Complete(ctx, "compare.semantic.retry", semanticSystemPrompt, 256, 0,
			anthropic.TextBlock("Baseline image, then candidate image:"),
			anthropic.ImageBlock(mediaType, baseline),
			anthropic.ImageBlock(mediaType, candidate),
		)
		if err != nil {
			return 0, err
		}
		if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
			return 0, fmt.Errorf("compare.semantic: malformed response: %w", err)
		}
	}
	return clamp01(parsed.SemanticSimilarity), nil
}

type structuralJSON struct {
	FacialStructureChanged bool    `json:"facial_structure_changed"`
	LightingShift          string  `json:"lighting_shift"`
	StyleDrift             string  `json:"style_drift"`
	VisionStructuralScore  float64 `json:"vision_structural_score"`
}

func (s *AnthropicSignals) Structural(ctx context.Context, baseline, candidate []byte, mediaType string) (float64, map[string]interface{}, error) {
	text, err := s.client.Complete(ctx, "compare.structural", structuralSystemPrompt, 256, 0,
		anthropic.TextBlock("Baseline image, then candidate image:"),
		anthropic.ImageBlock(mediaType, baseline),
		anthropic.ImageBlock(mediaType, candidate),
	)
	if err != nil {
		return 0, nil, err
	}
	parsed, err := parseStructural(text)
	if err != nil {
		text, err = s.client.Complete(ctx, "compare.structural.retry", structuralSystemPrompt, 256, 0,
			anthropic.TextBlock("Baseline image, then candidate image:"),
			anthropic.ImageBlock(mediaType, baseline),
			anthropic.ImageBlock(mediaType, candidate),
		)
		if err != nil {
			return 0, nil, err
		}
		parsed, err = parseStructural(text)
		if err != nil {
			return 0, nil, err
		}
	}
	explanation := map[string]interface{}{
		"facial_structure_changed": parsed.FacialStructureChanged,
		"lighting_shift":           parsed.LightingShift,
		"style_drift":              parsed.StyleDrift,
	}
	return clamp01(parsed.VisionStructuralScore), explanation, nil
}

func parseStructural(text string) (*structuralJSON, error) {
	var parsed structuralJSON
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return nil, fmt.Errorf("compare.structural: malformed response: %w", err)
	}
	return &parsed, nil
}

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
