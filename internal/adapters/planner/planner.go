// Package planner implements the Planner Adapter (spec §2 item 6, §4.1.1):
// turn a base prompt plus constraints into N prompt variants with mutation
// tags, falling back to a deterministic template mutator when the model
// call fails or returns fewer than N variants.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/choiwab/promptsmith/internal/adapters/anthropic"
	"github.com/choiwab/promptsmith/internal/domain"
)

// VariantPlan is one proposed prompt mutation.
type VariantPlan struct {
	VariantPrompt string
	MutationTags  []string
}

// Planner expands a base prompt into n variant plans.
type Planner interface {
	Plan(ctx context.Context, basePrompt string, mustInclude, mustAvoid []string, n int, objectivePreset domain.ObjectivePreset) ([]VariantPlan, bool, error)
}

type planJSON struct {
	Variants []struct {
		VariantPrompt string   `json:"variant_prompt"`
		MutationTags  []string `json:"mutation_tags"`
	} `json:"variants"`
}

const systemPrompt = `You are an image-prompt planner. Given a base prompt, optional must-include/must-avoid phrases, an objective preset, and a target count N, propose N distinct prompt variants, each a mutation of the base prompt along a different axis (composition, lighting, lens, style, subject framing). Respond with ONLY a JSON object, no prose, no markdown fences, matching exactly this shape:
{"variants":[{"variant_prompt":"...","mutation_tags":["..."]}]}
The variants array MUST contain exactly N items.`

// mutationAxes is the fixed fallback mutation vocabulary (spec §4.1.1).
var mutationAxes = []string{"composition", "lighting", "lens", "style-detail", "negative-constraint"}

// AnthropicPlanner is the Claude-backed Planner.
type AnthropicPlanner struct {
	client *anthropic.Client
}

// NewAnthropicPlanner builds a Planner over the given Anthropic client.
func NewAnthropicPlanner(client *anthropic.Client) *AnthropicPlanner {
	return &AnthropicPlanner{client: client}
}

// Plan returns the variant plans and a degraded flag (true if the
// deterministic fallback was used).
func (p *AnthropicPlanner) Plan(ctx context.Context, basePrompt string, mustInclude, mustAvoid []string, n int, objectivePreset domain.ObjectivePreset) ([]VariantPlan, bool, error) {
	userText := fmt.Sprintf("Base prompt: %s\nObjective preset: %s\nN: %d\nMust include: %s\nMust avoid: %s",
		basePrompt, objectivePreset, n, strings.Join(mustInclude, ", "), strings.Join(mustAvoid, ", "))

	text, err := p.client.Complete(ctx, "planner.plan", systemPrompt, 2048, 0.4, anthropic.TextBlock(userText))
	if err == nil {
		if variants, ok := parsePlan(text, n); ok {
			return variants, false, nil
		}
	}
	return Fallback(basePrompt, mustInclude, mustAvoid, n), true, nil
}

func parsePlan(text string, n int) ([]VariantPlan, bool) {
	var parsed planJSON
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return nil, false
	}
	if len(parsed.Variants) < n {
		return nil, false
	}
	out := make([]VariantPlan, 0, n)
	for i := 0; i < n; i++ {
		v := parsed.Variants[i]
		if strings.TrimSpace(v.VariantPrompt) == "" {
			return nil, false
		}
		out = append(out, VariantPlan{VariantPrompt: v.VariantPrompt, MutationTags: v.MutationTags})
	}
	return out, true
}

// DeterministicPlanner always returns the template-mutator fallback,
// degraded=true, without ever making a network call. Used in place of
// AnthropicPlanner when no API key is configured (spec §6: "absence
// forces all planner calls to their deterministic fallbacks").
type DeterministicPlanner struct{}

// NewDeterministicPlanner builds a Planner that never calls out.
func NewDeterministicPlanner() *DeterministicPlanner { return &DeterministicPlanner{} }

func (DeterministicPlanner) Plan(_ context.Context, basePrompt string, mustInclude, mustAvoid []string, n int, _ domain.ObjectivePreset) ([]VariantPlan, bool, error) {
	return Fallback(basePrompt, mustInclude, mustAvoid, n), true, nil
}

func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

// Fallback builds N deterministic variants by appending a fixed rotation
// of mutation hints to the base prompt, optionally injecting must_include
// and must_avoid phrases (spec §4.1.1).
func Fallback(basePrompt string, mustInclude, mustAvoid []string, n int) []VariantPlan {
	out := make([]VariantPlan, 0, n)
	for i := 0; i < n; i++ {
		axis := mutationAxes[i%len(mutationAxes)]
		prompt := fmt.Sprintf("%s, emphasizing %s", basePrompt, strings.ReplaceAll(axis, "-", " "))
		if len(mustInclude) > 0 {
			prompt += ", include " + strings.Join(mustInclude, ", ")
		}
		if len(mustAvoid) > 0 {
			prompt += ", avoid " + strings.Join(mustAvoid, ", ")
		}
		out = append(out, VariantPlan{VariantPrompt: prompt, MutationTags: []string{axis}})
	}
	return out
}
