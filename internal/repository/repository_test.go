package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiwab/promptsmith/internal/domain"
	"github.com/choiwab/promptsmith/internal/ids"
)

func newTestRepo(t *testing.T) *InMemory {
	t.Helper()
	return NewInMemory(ids.NewFactory(ids.SystemClock{}), nil)
}

func mustCommit(t *testing.T, repo *InMemory, commitID, projectID, parentID string) *domain.Commit {
	t.Helper()
	c := &domain.Commit{
		CommitID:       commitID,
		ProjectID:      projectID,
		Prompt:         "a commit",
		ParentCommitID: parentID,
		ImagePaths:     []string{commitID + "/img_01.png"},
		Status:         domain.CommitSuccess,
	}
	require.NoError(t, repo.CreateCommit(context.Background(), c))
	return c
}

// TestDeleteCommitSubtreeCascadesAndIsIdempotent covers spec §8's explicitly
// named testable invariant: deleting a commit subtree cascades to every
// descendant commit and dependent report, clears the baseline if it falls
// inside the deleted set, and a second delete of the same (now-gone)
// subtree yields an empty result set rather than an error.
func TestDeleteCommitSubtreeCascadesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	_, created, err := repo.EnsureProject(ctx, "proj-1", "Project One")
	require.NoError(t, err)
	require.True(t, created)

	root := mustCommit(t, repo, "c0001", "proj-1", "")
	child := mustCommit(t, repo, "c0002", "proj-1", root.CommitID)
	grandchild := mustCommit(t, repo, "c0003", "proj-1", child.CommitID)
	sibling := mustCommit(t, repo, "c0004", "proj-1", root.CommitID)
	unrelated := mustCommit(t, repo, "c0005", "proj-1", "")

	_, err = repo.SetBaseline(ctx, "proj-1", grandchild.CommitID)
	require.NoError(t, err)

	require.NoError(t, repo.PersistReport(ctx, &domain.ComparisonReport{
		ReportID:          "r0001",
		ProjectID:         "proj-1",
		BaselineCommitID:  grandchild.CommitID,
		CandidateCommitID: unrelated.CommitID,
	}))
	require.NoError(t, repo.PersistReport(ctx, &domain.ComparisonReport{
		ReportID:          "r0002",
		ProjectID:         "proj-1",
		BaselineCommitID:  unrelated.CommitID,
		CandidateCommitID: sibling.CommitID,
	}))

	deletedCommits, deletedReports, err := repo.DeleteCommitSubtree(ctx, "proj-1", root.CommitID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{root.CommitID, child.CommitID, grandchild.CommitID, sibling.CommitID}, deletedCommits)
	assert.ElementsMatch(t, []string{"r0001", "r0002"}, deletedReports)

	for _, id := range deletedCommits {
		_, err := repo.GetCommit(ctx, "proj-1", id)
		assert.Error(t, err, "deleted commit %s should no longer be retrievable", id)
	}
	_, err = repo.GetCommit(ctx, "proj-1", unrelated.CommitID)
	assert.NoError(t, err, "commit outside the deleted subtree must survive")

	for _, id := range deletedReports {
		_, err := repo.GetReport(ctx, "proj-1", id)
		assert.Error(t, err, "deleted report %s should no longer be retrievable", id)
	}

	project, err := repo.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Empty(t, project.ActiveBaselineCommitID, "baseline inside the deleted subtree must be cleared")

	// Second delete of the same (already-gone) subtree must be a no-op
	// that returns empty result sets, not an error.
	secondCommits, secondReports, err := repo.DeleteCommitSubtree(ctx, "proj-1", root.CommitID)
	require.NoError(t, err)
	assert.Empty(t, secondCommits)
	assert.Empty(t, secondReports)
}

func TestDeleteCommitSubtreeUnknownCommitIsNoOp(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	_, _, err := repo.EnsureProject(ctx, "proj-1", "Project One")
	require.NoError(t, err)

	deletedCommits, deletedReports, err := repo.DeleteCommitSubtree(ctx, "proj-1", "does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, deletedCommits)
	assert.Empty(t, deletedReports)
}

func TestDeleteCommitSubtreeLeavesSiblingLineageIntact(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	_, _, err := repo.EnsureProject(ctx, "proj-1", "Project One")
	require.NoError(t, err)

	root := mustCommit(t, repo, "c0001", "proj-1", "")
	toDelete := mustCommit(t, repo, "c0002", "proj-1", root.CommitID)
	keep := mustCommit(t, repo, "c0003", "proj-1", root.CommitID)
	keepChild := mustCommit(t, repo, "c0004", "proj-1", keep.CommitID)

	deletedCommits, _, err := repo.DeleteCommitSubtree(ctx, "proj-1", toDelete.CommitID)
	require.NoError(t, err)
	assert.Equal(t, []string{toDelete.CommitID}, deletedCommits)

	_, err = repo.GetCommit(ctx, "proj-1", keep.CommitID)
	assert.NoError(t, err)
	_, err = repo.GetCommit(ctx, "proj-1", keepChild.CommitID)
	assert.NoError(t, err)
}
