// Package domain holds the persisted and in-memory entities described in
// spec §3: Project, Commit, ComparisonReport, EvalRun, EvalVariant.
package domain

import "time"

// Project owns commits and reports exclusively. At most one commit in a
// project may be the active baseline, and that commit must be a success
// with at least one image.
type Project struct {
	ProjectID             string    `json:"project_id"`
	Name                  string    `json:"name"`
	ActiveBaselineCommitID string   `json:"active_baseline_commit_id,omitempty"`
	DriftThreshold        float64   `json:"drift_threshold"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// CommitStatus is the terminal outcome of a single generation.
type CommitStatus string

const (
	CommitSuccess CommitStatus = "success"
	CommitFailed  CommitStatus = "failed"
)

// Commit is an immutable record of a single generation, with lineage to an
// optional parent commit in the same project. A commit is never mutated
// after creation except by cascade-delete (spec §3).
type Commit struct {
	CommitID       string       `json:"commit_id"`
	ProjectID      string       `json:"project_id"`
	Prompt         string       `json:"prompt"`
	Model          string       `json:"model"`
	Seed           *int64       `json:"seed,omitempty"`
	ParentCommitID string       `json:"parent_commit_id,omitempty"`
	ImagePaths     []string     `json:"image_paths"`
	Status         CommitStatus `json:"status"`
	Error          string       `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Verdict is the outcome of a comparison between a baseline and candidate
// commit.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictInconclusive Verdict = "inconclusive"
)

// ComparisonReport is the persisted result of a /compare call (spec §4.2).
type ComparisonReport struct {
	ReportID             string             `json:"report_id"`
	ProjectID            string             `json:"project_id"`
	BaselineCommitID     string             `json:"baseline_commit_id"`
	CandidateCommitID    string             `json:"candidate_commit_id"`
	PixelDiffScore       *float64           `json:"pixel_diff_score,omitempty"`
	SemanticSimilarity   *float64           `json:"semantic_similarity,omitempty"`
	VisionStructuralScore *float64          `json:"vision_structural_score,omitempty"`
	DriftScore           float64            `json:"drift_score"`
	Threshold            float64            `json:"threshold"`
	Verdict              Verdict            `json:"verdict"`
	Degraded             bool               `json:"degraded"`
	Explanation          map[string]float64 `json:"explanation,omitempty"`
	HeatmapPath          string             `json:"heatmap_path,omitempty"`
	OverlayPath          string             `json:"overlay_path,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
}
