package compare

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiwab/promptsmith/internal/blobstore"
	"github.com/choiwab/promptsmith/internal/domain"
	"github.com/choiwab/promptsmith/internal/ids"
	"github.com/choiwab/promptsmith/internal/repository"
)

func solidPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	orch      *Orchestrator
	repo      repository.Repository
	baseline  string
	candidate string
}

func setupFixture(t *testing.T, sameImage bool) fixture {
	t.Helper()
	factory := ids.NewFactory(ids.SystemClock{})
	blobs := blobstore.New(t.TempDir(), "/blobs")
	repo := repository.NewInMemory(factory, blobs)

	ctx := context.Background()
	_, _, err := repo.EnsureProject(ctx, "proj-1", "proj-1")
	require.NoError(t, err)

	baselineBytes := solidPNG(t, color.RGBA{R: 10, G: 10, B: 10, A: 255})
	var candidateBytes []byte
	if sameImage {
		candidateBytes = baselineBytes
	} else {
		candidateBytes = solidPNG(t, color.RGBA{R: 250, G: 250, B: 250, A: 255})
	}

	baselinePath, _, err := blobs.Write(ctx, "c0001", "img_01.png", baselineBytes)
	require.NoError(t, err)
	require.NoError(t, repo.CreateCommit(ctx, &domain.Commit{
		CommitID: "c0001", ProjectID: "proj-1", Prompt: "base", ImagePaths: []string{baselinePath}, Status: domain.CommitSuccess,
	}))

	candidatePath, _, err := blobs.Write(ctx, "c0002", "img_01.png", candidateBytes)
	require.NoError(t, err)
	require.NoError(t, repo.CreateCommit(ctx, &domain.Commit{
		CommitID: "c0002", ProjectID: "proj-1", Prompt: "candidate", ParentCommitID: "c0001", ImagePaths: []string{candidatePath}, Status: domain.CommitSuccess,
	}))

	_, err = repo.SetBaseline(ctx, "proj-1", "c0001")
	require.NoError(t, err)

	orch := New(repo, blobs, factory, nil, nil, nil, nil)
	return fixture{orch: orch, repo: repo, baseline: "c0001", candidate: "c0002"}
}

func TestCompareIdenticalCommitsIsInconclusiveWithoutVisionSignals(t *testing.T) {
	f := setupFixture(t, true)

	report, err := f.orch.Compare(context.Background(), "proj-1", f.candidate, "")
	require.NoError(t, err)

	assert.True(t, report.Degraded)
	assert.Nil(t, report.SemanticSimilarity)
	assert.Nil(t, report.VisionStructuralScore)
	require.NotNil(t, report.PixelDiffScore)
	assert.InDelta(t, 0, *report.PixelDiffScore, 1e-6)
	assert.Equal(t, domain.VerdictInconclusive, report.Verdict)
}

func TestCompareDistinctCommitsNeverPassesWithoutVisionSignals(t *testing.T) {
	f := setupFixture(t, false)

	report, err := f.orch.Compare(context.Background(), "proj-1", f.candidate, "")
	require.NoError(t, err)

	assert.True(t, report.Degraded)
	assert.Greater(t, *report.PixelDiffScore, 0.0)
	assert.NotEqual(t, domain.VerdictPass, report.Verdict)
}

func TestCompareUsesActiveBaselineWhenNoneSpecified(t *testing.T) {
	f := setupFixture(t, true)
	report, err := f.orch.Compare(context.Background(), "proj-1", f.candidate, "")
	require.NoError(t, err)
	assert.Equal(t, f.baseline, report.BaselineCommitID)
}

func TestCompareFailsWhenNoBaselineSet(t *testing.T) {
	factory := ids.NewFactory(ids.SystemClock{})
	blobs := blobstore.New(t.TempDir(), "/blobs")
	repo := repository.NewInMemory(factory, blobs)
	_, _, err := repo.EnsureProject(context.Background(), "proj-empty", "proj-empty")
	require.NoError(t, err)

	orch := New(repo, blobs, factory, nil, nil, nil, nil)
	_, err = orch.Compare(context.Background(), "proj-empty", "whatever", "")
	assert.Error(t, err)
}

func TestDeriveVerdictPassRequiresBothVisionSignals(t *testing.T) {
	assert.Equal(t, domain.VerdictInconclusive, deriveVerdict(0.5, 0.3, 0.5, false, false))
	assert.Equal(t, domain.VerdictFail, deriveVerdict(0.5, 0.3, 0.9, false, false))
	assert.Equal(t, domain.VerdictPass, deriveVerdict(0.1, 0.3, 0.1, true, true))
	assert.Equal(t, domain.VerdictFail, deriveVerdict(0.5, 0.3, 0.1, true, true))
}

func TestAggregateOmitsMissingSignalWeightWithoutRenormalizing(t *testing.T) {
	drift, explanation := aggregate(0.5, signalOutcome{}, signalOutcome{})
	assert.InDelta(t, 0.15, drift, 1e-9)
	assert.Equal(t, 0.5, explanation["pixel_diff_score"])
	_, hasSemantic := explanation["semantic_similarity"]
	assert.False(t, hasSemantic)
}
