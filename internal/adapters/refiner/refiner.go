// Package refiner implements the Refiner Adapter (spec §2 item 7, §4.1.5):
// synthesize three follow-up suggestions (conservative/balanced/aggressive)
// from a run's leaderboard, with a deterministic fallback on malformed or
// timed-out model output.
package refiner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/choiwab/promptsmith/internal/adapters/anthropic"
	"github.com/choiwab/promptsmith/internal/domain"
)

// TopVariant summarizes a leaderboard entry for the Refiner prompt.
type TopVariant struct {
	Prompt       string
	StrengthTags []string
	Composite    float64
}

// BottomVariant summarizes a weak leaderboard entry.
type BottomVariant struct {
	Prompt      string
	FailureTags []string
}

// Refiner synthesizes the three closing suggestions for a completed run.
type Refiner interface {
	Refine(ctx context.Context, basePrompt string, top []TopVariant, bottom []BottomVariant) ([]domain.Suggestion, bool)
}

type refineJSON struct {
	Conservative suggestionJSON `json:"conservative"`
	Balanced     suggestionJSON `json:"balanced"`
	Aggressive   suggestionJSON `json:"aggressive"`
}

type suggestionJSON struct {
	PromptText string `json:"prompt_text"`
	Rationale  string `json:"rationale"`
}

const systemPrompt = `You are an image-prompt refiner. Given a base prompt, the strongest variants (prompt, strength tags, composite score) and the weakest variants (prompt, failure tags) from a completed evaluation run, propose three follow-up prompts: a conservative tweak, a balanced revision, and an aggressive rephrase. Respond with ONLY a JSON object, no prose, no markdown fences, matching exactly this shape:
{"conservative":{"prompt_text":"...","rationale":"..."},"balanced":{"prompt_text":"...","rationale":"..."},"aggressive":{"prompt_text":"...","rationale":"..."}}`

// AnthropicRefiner is the Claude-backed Refiner.
type AnthropicRefiner struct {
	client *anthropic.Client
}

// NewAnthropicRefiner builds a Refiner over the given Anthropic client.
func NewAnthropicRefiner(client *anthropic.Client) *AnthropicRefiner {
	return &AnthropicRefiner{client: client}
}

// Refine returns the three suggestions in (conservative, balanced,
// aggressive) order and a degraded flag.
func (r *AnthropicRefiner) Refine(ctx context.Context, basePrompt string, top []TopVariant, bottom []BottomVariant) ([]domain.Suggestion, bool) {
	userText := buildSummary(basePrompt, top, bottom)

	text, err := r.client.Complete(ctx, "refiner.refine", systemPrompt, 1024, 0.5, anthropic.TextBlock(userText))
	if err == nil {
		if suggestions, ok := parseRefine(text); ok {
			return suggestions, false
		}
	}
	return Fallback(basePrompt, top), true
}

func buildSummary(basePrompt string, top []TopVariant, bottom []BottomVariant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Base prompt: %s\n", basePrompt)
	b.WriteString("Top variants:\n")
	for _, t := range top {
		fmt.Fprintf(&b, "- %q strengths=%v composite=%.4f\n", t.Prompt, t.StrengthTags, t.Composite)
	}
	b.WriteString("Bottom variants:\n")
	for _, v := range bottom {
		fmt.Fprintf(&b, "- %q failures=%v\n", v.Prompt, v.FailureTags)
	}
	return b.String()
}

func parseRefine(text string) ([]domain.Suggestion, bool) {
	var parsed refineJSON
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return nil, false
	}
	if parsed.Conservative.PromptText == "" || parsed.Balanced.PromptText == "" || parsed.Aggressive.PromptText == "" {
		return nil, false
	}
	return []domain.Suggestion{
		{Label: "conservative", PromptText: parsed.Conservative.PromptText, Rationale: parsed.Conservative.Rationale},
		{Label: "balanced", PromptText: parsed.Balanced.PromptText, Rationale: parsed.Balanced.Rationale},
		{Label: "aggressive", PromptText: parsed.Aggressive.PromptText, Rationale: parsed.Aggressive.Rationale},
	}, true
}

// DeterministicRefiner always returns the deterministic three-suggestion
// fallback, degraded=true, without ever making a network call. Used in
// place of AnthropicRefiner when no API key is configured (spec §6).
type DeterministicRefiner struct{}

// NewDeterministicRefiner builds a Refiner that never calls out.
func NewDeterministicRefiner() *DeterministicRefiner { return &DeterministicRefiner{} }

func (DeterministicRefiner) Refine(_ context.Context, basePrompt string, top []TopVariant, _ []BottomVariant) ([]domain.Suggestion, bool) {
	return Fallback(basePrompt, top), true
}

func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

// Fallback builds the three deterministic suggestions (spec §4.1.5):
// conservative reuses the top variant prompt verbatim (or basePrompt if
// there is no leaderboard); balanced appends a clarifying hint; aggressive
// keeps only the principal noun (the prompt's first word) and rephrases
// around it.
func Fallback(basePrompt string, top []TopVariant) []domain.Suggestion {
	conservative := basePrompt
	conservativeRationale := "reused base prompt verbatim (no ranked variants)"
	if len(top) > 0 {
		conservative = top[0].Prompt
		conservativeRationale = "reused top-ranked variant prompt verbatim"
	}
	balanced := conservative + ", clarify primary subject and lighting"
	aggressive := aggressiveRephrase(conservative)

	return []domain.Suggestion{
		{Label: "conservative", PromptText: conservative, Rationale: conservativeRationale},
		{Label: "balanced", PromptText: balanced, Rationale: "appended a subject-and-lighting clarification hint"},
		{Label: "aggressive", PromptText: aggressive, Rationale: "high-variance rephrase around the principal noun"},
	}
}

func aggressiveRephrase(prompt string) string {
	fields := strings.Fields(prompt)
	if len(fields) == 0 {
		return prompt
	}
	noun := strings.Trim(fields[0], ",.;:")
	return fmt.Sprintf("a radically reimagined %s, bold new composition and style", noun)
}
