package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/choiwab/promptsmith/internal/apperr"
	"github.com/choiwab/promptsmith/internal/domain"
	"github.com/choiwab/promptsmith/internal/ids"
)

// InMemory is the default Repository implementation. The commit forest is
// represented as an arena keyed by commit ID plus a parent-ID edge field
// rather than a graph of object pointers, so a deletion cascade is a linear
// walk of the children index; it is guarded by a single mutex so every
// exported method is atomic with respect to readers.
type InMemory struct {
	mu sync.Mutex

	factory *ids.Factory

	projects map[string]*domain.Project
	commits  map[string]*domain.Commit // keyed by commitID
	children map[string][]string       // parentCommitID -> child commitIDs; the "" key holds the root commits of every project
	reports  map[string]*domain.ComparisonReport

	blobs BlobStore
}

// NewInMemory constructs an empty in-memory Repository.
func NewInMemory(factory *ids.Factory, blobs BlobStore) *InMemory {
	return &InMemory{
		factory:  factory,
		projects: make(map[string]*domain.Project),
		commits:  make(map[string]*domain.Commit),
		children: make(map[string][]string),
		reports:  make(map[string]*domain.ComparisonReport),
		blobs:    blobs,
	}
}

func (m *InMemory) EnsureProject(ctx context.Context, projectID, name string) (*domain.Project, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.projects[projectID]; ok {
		clone := *p
		return &clone, false, nil
	}
	now := m.factory.Now()
	p := &domain.Project{
		ProjectID:      projectID,
		Name:           name,
		DriftThreshold: 0.30,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.projects[projectID] = p
	clone := *p
	return &clone, true, nil
}

func (m *InMemory) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, apperr.New(apperr.CodeProjectNotFound, "repository.GetProject", apperr.ErrProjectNotFound)
	}
	clone := *p
	return &clone, nil
}

func (m *InMemory) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Project, 0, len(m.projects))
	for _, p := range m.projects {
		clone := *p
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out, nil
}

func (m *InMemory) SetBaseline(ctx context.Context, projectID, commitID string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[projectID]
	if !ok {
		return nil, apperr.New(apperr.CodeProjectNotFound, "repository.SetBaseline", apperr.ErrProjectNotFound)
	}
	c, ok := m.commits[commitID]
	if !ok || c.ProjectID != projectID || c.Status != domain.CommitSuccess || len(c.ImagePaths) == 0 {
		return nil, apperr.New(apperr.CodeCommitNotFound, "repository.SetBaseline", apperr.ErrCommitNotFound)
	}
	p.ActiveBaselineCommitID = commitID
	p.UpdatedAt = m.factory.Now()
	clone := *p
	return &clone, nil
}

func (m *InMemory) DeleteProject(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[projectID]; !ok {
		return nil
	}

	for commitID, c := range m.commits {
		if c.ProjectID != projectID {
			continue
		}
		if m.blobs != nil {
			_ = m.blobs.Delete(ctx, commitID)
		}
		delete(m.commits, commitID)
		delete(m.children, commitID)
	}
	for reportID, r := range m.reports {
		if r.ProjectID == projectID {
			delete(m.reports, reportID)
		}
	}
	delete(m.projects, projectID)
	return nil
}

func (m *InMemory) CreateCommit(ctx context.Context, c *domain.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[c.ProjectID]; !ok {
		return apperr.New(apperr.CodeProjectNotFound, "repository.CreateCommit", apperr.ErrProjectNotFound)
	}
	if c.ParentCommitID != "" {
		parent, ok := m.commits[c.ParentCommitID]
		if !ok || parent.ProjectID != c.ProjectID {
			return apperr.New(apperr.CodeCommitNotFound, "repository.CreateCommit", apperr.ErrCommitNotFound)
		}
	}
	m.commits[c.CommitID] = c
	m.children[c.ParentCommitID] = append(m.children[c.ParentCommitID], c.CommitID)
	return nil
}

func (m *InMemory) GetCommit(ctx context.Context, projectID, commitID string) (*domain.Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[commitID]
	if !ok || c.ProjectID != projectID {
		return nil, apperr.New(apperr.CodeCommitNotFound, "repository.GetCommit", apperr.ErrCommitNotFound)
	}
	clone := *c
	clone.ImagePaths = append([]string(nil), c.ImagePaths...)
	return &clone, nil
}

func (m *InMemory) ListHistory(ctx context.Context, projectID string, limit int, cursor string) ([]*domain.Commit, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*domain.Commit, 0)
	for _, c := range m.commits {
		if c.ProjectID == projectID {
			clone := *c
			clone.ImagePaths = append([]string(nil), c.ImagePaths...)
			all = append(all, &clone)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].CommitID > all[j].CommitID
	})

	start := 0
	if cursor != "" {
		for i, c := range all {
			if c.CommitID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return nil, "", nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := all[start:end]
	next := ""
	if end < len(all) {
		next = page[len(page)-1].CommitID
	}
	return page, next, nil
}

func (m *InMemory) PersistReport(ctx context.Context, r *domain.ComparisonReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ReportID] = r
	return nil
}

func (m *InMemory) GetReport(ctx context.Context, projectID, reportID string) (*domain.ComparisonReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[reportID]
	if !ok || r.ProjectID != projectID {
		return nil, apperr.Newf(apperr.CodeCommitNotFound, "repository.GetReport", "report %s not found", reportID)
	}
	clone := *r
	return &clone, nil
}

// DeleteCommitSubtree computes the reachable descendant set via the
// children index, deletes every commit in it plus dependent reports and
// blobs, and clears the project's active baseline if it falls inside the
// deleted set. Idempotent: re-invoking with an already-deleted commit ID
// returns empty slices and no error (spec §4.3, §8).
func (m *InMemory) DeleteCommitSubtree(ctx context.Context, projectID, commitID string) ([]string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	root, ok := m.commits[commitID]
	if !ok || root.ProjectID != projectID {
		return nil, nil, nil
	}

	toDelete := m.reachable(commitID)

	deletedCommitIDs := make([]string, 0, len(toDelete))
	for id := range toDelete {
		deletedCommitIDs = append(deletedCommitIDs, id)
	}
	sort.Strings(deletedCommitIDs)

	deletedReportIDs := make([]string, 0)
	for reportID, r := range m.reports {
		if toDelete[r.BaselineCommitID] || toDelete[r.CandidateCommitID] {
			deletedReportIDs = append(deletedReportIDs, reportID)
		}
	}
	sort.Strings(deletedReportIDs)

	for _, id := range deletedCommitIDs {
		if m.blobs != nil {
			_ = m.blobs.Delete(ctx, id)
		}
		parent := m.commits[id].ParentCommitID
		delete(m.commits, id)
		delete(m.children, id)
		m.children[parent] = removeString(m.children[parent], id)
	}
	for _, id := range deletedReportIDs {
		delete(m.reports, id)
	}

	if p, ok := m.projects[projectID]; ok && toDelete[p.ActiveBaselineCommitID] {
		p.ActiveBaselineCommitID = ""
		p.UpdatedAt = m.factory.Now()
	}

	return deletedCommitIDs, deletedReportIDs, nil
}

// reachable returns rootID plus every commit transitively parented by it.
func (m *InMemory) reachable(rootID string) map[string]bool {
	seen := map[string]bool{rootID: true}
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range m.children[id] {
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}
	return seen
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
