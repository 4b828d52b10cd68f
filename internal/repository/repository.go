// Package repository implements the persistence interface described in
// spec §4.3: projects, commits, comparison reports, and the transactional
// subtree-delete contract. The default implementation is in-memory
// (matching spec's "durable run persistence" Non-goal for EvalRun, while
// still giving Commits/Reports/Projects a real backing store); an optional
// Redis-mirrored cache sits in front of it for history reads, grounded on
// the teacher's dual InMemoryStateStore/RedisStateStore design in
// orchestration/workflow_state.go.
package repository

import (
	"context"
	"time"

	"github.com/choiwab/promptsmith/internal/domain"
)

// Repository is the persistence contract every orchestrator depends on.
// Every call here is atomic with respect to readers: on failure, no partial
// state becomes visible (spec §4.3).
type Repository interface {
	// EnsureProject creates the project if it doesn't exist. Returns the
	// project and whether it was newly created.
	EnsureProject(ctx context.Context, projectID, name string) (*domain.Project, bool, error)
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]*domain.Project, error)
	SetBaseline(ctx context.Context, projectID, commitID string) (*domain.Project, error)
	DeleteProject(ctx context.Context, projectID string) error

	CreateCommit(ctx context.Context, c *domain.Commit) error
	GetCommit(ctx context.Context, projectID, commitID string) (*domain.Commit, error)

	// ListHistory returns commits newest-first by created_at then
	// commit_id, paginated by cursor (the last returned commit ID).
	ListHistory(ctx context.Context, projectID string, limit int, cursor string) (items []*domain.Commit, nextCursor string, err error)

	PersistReport(ctx context.Context, r *domain.ComparisonReport) error
	GetReport(ctx context.Context, projectID, reportID string) (*domain.ComparisonReport, error)

	// DeleteCommitSubtree removes commitID and every commit transitively
	// parented by it, plus dependent reports and blobs. Idempotent: a
	// second call for an already-deleted commit returns empty slices.
	DeleteCommitSubtree(ctx context.Context, projectID, commitID string) (deletedCommitIDs, deletedReportIDs []string, err error)
}

// BlobStore is the narrow interface Repository implementations use to
// cascade-delete image blobs; internal/blobstore implements it.
type BlobStore interface {
	Delete(ctx context.Context, commitID string) error
}

func nowUTC() time.Time { return time.Now().UTC() }
