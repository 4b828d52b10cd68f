package eval

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiwab/promptsmith/internal/adapters/generator"
	"github.com/choiwab/promptsmith/internal/adapters/judge"
	"github.com/choiwab/promptsmith/internal/adapters/planner"
	"github.com/choiwab/promptsmith/internal/adapters/refiner"
	"github.com/choiwab/promptsmith/internal/blobstore"
	"github.com/choiwab/promptsmith/internal/domain"
	"github.com/choiwab/promptsmith/internal/ids"
	"github.com/choiwab/promptsmith/internal/repository"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	factory := ids.NewFactory(ids.SystemClock{})
	blobs := blobstore.New(t.TempDir(), "/blobs")
	repo := repository.NewInMemory(factory, blobs)
	return New(repo, blobs, factory, generator.NewStub(), judge.NewDeterministicJudge(), planner.NewDeterministicPlanner(), refiner.NewDeterministicRefiner(), nil, nil)
}

func newTestOrchestratorWithGenerator(t *testing.T, gen generator.Generator) *Orchestrator {
	t.Helper()
	factory := ids.NewFactory(ids.SystemClock{})
	blobs := blobstore.New(t.TempDir(), "/blobs")
	repo := repository.NewInMemory(factory, blobs)
	return New(repo, blobs, factory, gen, judge.NewDeterministicJudge(), planner.NewDeterministicPlanner(), refiner.NewDeterministicRefiner(), nil, nil)
}

// failingEditGenerator wraps a real Generator but fails ImageEdit on a
// chosen 1-indexed call (across the run's variant fan-out), simulating a
// single variant's generation/safety-rejection failure while the others
// still succeed.
type failingEditGenerator struct {
	generator.Generator
	failOnCall int32
	calls      int32
}

func (f *failingEditGenerator) ImageEdit(ctx context.Context, base []byte, prompt string) (*generator.Result, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n == f.failOnCall {
		return nil, errors.New("simulated safety rejection")
	}
	return f.Generator.ImageEdit(ctx, base, prompt)
}

func awaitTerminal(t *testing.T, o *Orchestrator, runID string) *domain.EvalRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, ok := o.GetRun(runID)
		require.True(t, ok)
		if run.Status == domain.RunCompleted || run.Status == domain.RunCompletedDegraded || run.Status == domain.RunFailed {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal state in time")
	return nil
}

func TestCreateRunRootAnchorCompletesDegraded(t *testing.T) {
	o := newTestOrchestrator(t)

	run, err := o.CreateRun(context.Background(), CreateRunRequest{
		ProjectID:       "proj-1",
		BasePrompt:      "a red bicycle in a park",
		ObjectivePreset: domain.ObjectiveAdherence,
		ImageModel:      "stub-v1",
		NVariants:       3,
		Quality:         domain.QualityMedium,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RunQueued, run.Status)

	final := awaitTerminal(t, o, run.RunID)

	// Deterministic planner/refiner fallbacks mark the run degraded; the
	// deterministic judge's neutral rubric still counts as an evaluation.
	assert.Equal(t, domain.RunCompletedDegraded, final.Status)
	assert.True(t, final.Degraded)
	assert.NotEmpty(t, final.AnchorCommitID)
	require.Len(t, final.Variants, 3)
	for _, v := range final.Variants {
		assert.Equal(t, domain.VariantEvaluated, v.Status)
		require.NotNil(t, v.CompositeScore)
	}
	require.Len(t, final.Leaderboard, 3)
	assert.NotNil(t, final.Leaderboard[0].Rank)
	assert.Equal(t, 1, *final.Leaderboard[0].Rank)
	require.Len(t, final.Suggestions, 3)
	assert.Equal(t, 3, final.Progress.GeneratedVariants)
	assert.Equal(t, 3, final.Progress.EvaluatedVariants)
}

func TestCreateRunRejectsInvalidNVariants(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.CreateRun(context.Background(), CreateRunRequest{
		ProjectID:  "proj-1",
		BasePrompt: "a cat",
		NVariants:  5,
	})
	assert.Error(t, err)
}

func TestCreateRunRejectsEmptyBasePrompt(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.CreateRun(context.Background(), CreateRunRequest{
		ProjectID:  "proj-1",
		BasePrompt: "   ",
		NVariants:  2,
	})
	assert.Error(t, err)
}

func TestGetRunUnknownIDReturnsFalse(t *testing.T) {
	o := newTestOrchestrator(t)
	_, ok := o.GetRun("does-not-exist")
	assert.False(t, ok)
}

func TestCompositeScoreFormula(t *testing.T) {
	rubric := &domain.Rubric{
		PromptAdherence:          1.0,
		SubjectFidelity:          1.0,
		CompositionQuality:       1.0,
		StyleCoherence:           1.0,
		TechnicalArtifactPenalty: 0.0,
	}
	assert.InDelta(t, 0.9, compositeScore(rubric), 1e-9)
}

func TestHardRuleViolationsCountsMatchingSubstrings(t *testing.T) {
	assert.Equal(t, 2, hardRuleViolations([]string{"visible watermark", "extra limb", "soft focus"}))
	assert.Equal(t, 0, hardRuleViolations([]string{"soft focus"}))
}

// TestCreateRunWithParentCommitIDUsesExplicitAnchor covers end-to-end
// scenario #2: a run created with an explicit parent_commit_id edits from
// that commit's image instead of generating a fresh root anchor, and every
// variant's lineage chains back through it.
func TestCreateRunWithParentCommitIDUsesExplicitAnchor(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	first, err := o.CreateRun(ctx, CreateRunRequest{
		ProjectID:       "proj-1",
		BasePrompt:      "a red bicycle in a park",
		ObjectivePreset: domain.ObjectiveAdherence,
		ImageModel:      "stub-v1",
		NVariants:       2,
		Quality:         domain.QualityMedium,
	})
	require.NoError(t, err)
	firstFinal := awaitTerminal(t, o, first.RunID)
	require.NotEmpty(t, firstFinal.AnchorCommitID)

	edit, err := o.CreateRun(ctx, CreateRunRequest{
		ProjectID:       "proj-1",
		BasePrompt:      "a red bicycle in a park, now with a basket",
		ObjectivePreset: domain.ObjectiveAdherence,
		ImageModel:      "stub-v1",
		NVariants:       2,
		Quality:         domain.QualityMedium,
		ParentCommitID:  firstFinal.AnchorCommitID,
	})
	require.NoError(t, err)

	editFinal := awaitTerminal(t, o, edit.RunID)
	assert.Equal(t, firstFinal.AnchorCommitID, editFinal.AnchorCommitID, "an explicit parent_commit_id is used as the anchor directly, not regenerated")
	for _, v := range editFinal.Variants {
		assert.Equal(t, firstFinal.AnchorCommitID, v.ParentCommitID)
	}
}

func TestCreateRunRejectsUnknownParentCommitID(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.CreateRun(context.Background(), CreateRunRequest{
		ProjectID:      "proj-1",
		BasePrompt:     "a cat",
		NVariants:      2,
		ParentCommitID: "does-not-exist",
	})
	assert.Error(t, err)
}

// TestCreateRunSingleVariantGenerationFailure covers end-to-end scenario #3:
// one variant's image generation fails (simulating an upstream safety
// rejection) while the others still succeed, the run still reaches a
// terminal state, the failed variant is marked accordingly, and the run is
// degraded.
func TestCreateRunSingleVariantGenerationFailure(t *testing.T) {
	gen := &failingEditGenerator{Generator: generator.NewStub(), failOnCall: 1}
	o := newTestOrchestratorWithGenerator(t, gen)

	run, err := o.CreateRun(context.Background(), CreateRunRequest{
		ProjectID:       "proj-1",
		BasePrompt:      "a red bicycle in a park",
		ObjectivePreset: domain.ObjectiveAdherence,
		ImageModel:      "stub-v1",
		NVariants:       3,
		Quality:         domain.QualityMedium,
	})
	require.NoError(t, err)

	final := awaitTerminal(t, o, run.RunID)

	assert.True(t, final.Degraded)
	assert.Equal(t, domain.RunCompletedDegraded, final.Status)
	require.Len(t, final.Variants, 3)

	var failed, succeeded int
	for _, v := range final.Variants {
		switch {
		case v.Error != "":
			failed++
			assert.Equal(t, domain.VariantEvaluationSkipped, v.Status, "a generation failure skips evaluation rather than being scored")
		case v.Status == domain.VariantEvaluated || v.Status == domain.VariantEvaluatedDegraded:
			succeeded++
		}
	}
	assert.Equal(t, 1, failed, "exactly one variant should have failed generation")
	assert.Equal(t, 2, succeeded, "the remaining variants should still complete")
	assert.Equal(t, 1, final.Progress.FailedVariants)
	assert.Equal(t, 2, final.Progress.GeneratedVariants)
}
