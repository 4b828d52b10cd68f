package httpapi

import "time"

type createProjectRequest struct {
	ProjectID string `json:"project_id" validate:"required"`
	Name      string `json:"name"`
}

type projectResponse struct {
	ProjectID              string    `json:"project_id"`
	Name                   string    `json:"name"`
	ActiveBaselineCommitID string    `json:"active_baseline_commit_id,omitempty"`
	DriftThreshold         float64   `json:"drift_threshold"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
	Created                bool      `json:"created,omitempty"`
}

type generateRequest struct {
	ProjectID      string `json:"project_id" validate:"required"`
	Prompt         string `json:"prompt" validate:"required,min=5"`
	Model          string `json:"model" validate:"required"`
	Seed           *int64 `json:"seed,omitempty"`
	ParentCommitID string `json:"parent_commit_id,omitempty"`
}

type generateResponse struct {
	CommitID       string    `json:"commit_id"`
	Status         string    `json:"status"`
	Prompt         string    `json:"prompt"`
	ParentCommitID string    `json:"parent_commit_id,omitempty"`
	ImagePaths     []string  `json:"image_paths"`
	CreatedAt      time.Time `json:"created_at"`
}

type baselineRequest struct {
	ProjectID string `json:"project_id" validate:"required"`
	CommitID  string `json:"commit_id" validate:"required"`
}

type baselineResponse struct {
	ProjectID              string    `json:"project_id"`
	ActiveBaselineCommitID string    `json:"active_baseline_commit_id"`
	UpdatedAt              time.Time `json:"updated_at"`
}

type compareRequest struct {
	ProjectID         string `json:"project_id" validate:"required"`
	CandidateCommitID string `json:"candidate_commit_id" validate:"required"`
	BaselineCommitID  string `json:"baseline_commit_id,omitempty"`
}

type deleteCommitResponse struct {
	ProjectID              string   `json:"project_id"`
	DeletedCommitIDs       []string `json:"deleted_commit_ids"`
	DeletedReportIDs       []string `json:"deleted_report_ids"`
	DeletedImageObjects    int      `json:"deleted_image_objects"`
	ActiveBaselineCommitID string   `json:"active_baseline_commit_id,omitempty"`
}

type createEvalRunRequest struct {
	ProjectID       string   `json:"project_id" validate:"required"`
	BasePrompt      string   `json:"base_prompt" validate:"required,min=5"`
	ObjectivePreset string   `json:"objective_preset" validate:"required,oneof=adherence aesthetic product"`
	ImageModel      string   `json:"image_model"`
	NVariants       int      `json:"n_variants" validate:"required,oneof=2 3"`
	Quality         string   `json:"quality" validate:"required,oneof=low medium high"`
	MustInclude     []string `json:"must_include,omitempty"`
	MustAvoid       []string `json:"must_avoid,omitempty"`
	ParentCommitID  string   `json:"parent_commit_id,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}
