package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/choiwab/promptsmith/internal/adapters/generator"
	"github.com/choiwab/promptsmith/internal/apperr"
	"github.com/choiwab/promptsmith/internal/domain"
	"github.com/choiwab/promptsmith/internal/eval"
)

func (s *server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeInvalidRequest(w, r, "malformed JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeInvalidRequest(w, r, err.Error())
		return false
	}
	return true
}

func (s *server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	project, created, err := s.deps.Repo.EnsureProject(r.Context(), req.ProjectID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(project, created))
}

func (s *server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.deps.Repo.ListProjects(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectResponse(p, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Repo.DeleteProject(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !s.decode(w, r, &req) {
		return
	}

	project, _, err := s.deps.Repo.EnsureProject(r.Context(), req.ProjectID, req.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var result *generateOutcome
	if req.ParentCommitID != "" {
		parent, err := s.deps.Repo.GetCommit(r.Context(), project.ProjectID, req.ParentCommitID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if parent.Status != domain.CommitSuccess || len(parent.ImagePaths) == 0 {
			writeError(w, r, apperr.New(apperr.CodeCommitNotFound, "httpapi.generate", apperr.ErrCommitNotFound))
			return
		}
		base, err := s.deps.Blobs.Read(r.Context(), parent.ImagePaths[0])
		if err != nil {
			writeError(w, r, err)
			return
		}
		genResult, err := s.deps.Generator.ImageEdit(r.Context(), base, req.Prompt)
		result = s.persistGenerateOutcome(r, req, genResult, err)
	} else {
		genResult, genErr := s.deps.Generator.TextToImage(r.Context(), req.Prompt)
		result = s.persistGenerateOutcome(r, req, genResult, genErr)
	}

	if result.err != nil {
		writeError(w, r, result.err)
		return
	}
	writeJSON(w, http.StatusOK, result.response)
}

type generateOutcome struct {
	response generateResponse
	err      error
}

func (s *server) persistGenerateOutcome(r *http.Request, req generateRequest, genResult *generator.Result, genErr error) *generateOutcome {
	commitID := s.deps.IDs.NextCommitID()
	now := time.Now().UTC()

	if genErr != nil {
		commit := &domain.Commit{
			CommitID:       commitID,
			ProjectID:      req.ProjectID,
			Prompt:         req.Prompt,
			Model:          req.Model,
			Seed:           req.Seed,
			ParentCommitID: req.ParentCommitID,
			ImagePaths:     []string{},
			Status:         domain.CommitFailed,
			Error:          genErr.Error(),
			CreatedAt:      now,
		}
		_ = s.deps.Repo.CreateCommit(r.Context(), commit)
		return &generateOutcome{err: genErr}
	}

	relPath, _, err := s.deps.Blobs.Write(r.Context(), commitID, "img_01."+genResult.Ext, genResult.ImageBytes)
	if err != nil {
		return &generateOutcome{err: err}
	}

	commit := &domain.Commit{
		CommitID:       commitID,
		ProjectID:      req.ProjectID,
		Prompt:         req.Prompt,
		Model:          req.Model,
		Seed:           req.Seed,
		ParentCommitID: req.ParentCommitID,
		ImagePaths:     []string{relPath},
		Status:         domain.CommitSuccess,
		CreatedAt:      now,
	}
	if err := s.deps.Repo.CreateCommit(r.Context(), commit); err != nil {
		return &generateOutcome{err: err}
	}

	return &generateOutcome{response: generateResponse{
		CommitID:       commit.CommitID,
		Status:         string(commit.Status),
		Prompt:         commit.Prompt,
		ParentCommitID: commit.ParentCommitID,
		ImagePaths:     commit.ImagePaths,
		CreatedAt:      commit.CreatedAt,
	}}
}

func (s *server) setBaseline(w http.ResponseWriter, r *http.Request) {
	var req baselineRequest
	if !s.decode(w, r, &req) {
		return
	}
	project, err := s.deps.Repo.SetBaseline(r.Context(), req.ProjectID, req.CommitID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, baselineResponse{
		ProjectID:              project.ProjectID,
		ActiveBaselineCommitID: project.ActiveBaselineCommitID,
		UpdatedAt:              project.UpdatedAt,
	})
}

func (s *server) history(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeInvalidRequest(w, r, "project_id is required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 50 {
			writeInvalidRequest(w, r, "limit must be between 1 and 50")
			return
		}
		limit = v
	}
	cursor := r.URL.Query().Get("cursor")

	items, nextCursor, err := s.deps.Repo.ListHistory(r.Context(), projectID, limit, cursor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	project, err := s.deps.Repo.GetProject(r.Context(), projectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":                     items,
		"next_cursor":               nextCursor,
		"active_baseline_commit_id": project.ActiveBaselineCommitID,
	})
}

func (s *server) compareCommits(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !s.decode(w, r, &req) {
		return
	}
	report, err := s.deps.Compare.Compare(r.Context(), req.ProjectID, req.CandidateCommitID, req.BaselineCommitID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) deleteCommit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeInvalidRequest(w, r, "project_id is required")
		return
	}
	deletedCommits, deletedReports, err := s.deps.Repo.DeleteCommitSubtree(r.Context(), projectID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	project, err := s.deps.Repo.GetProject(r.Context(), projectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteCommitResponse{
		ProjectID:              projectID,
		DeletedCommitIDs:       deletedCommits,
		DeletedReportIDs:       deletedReports,
		DeletedImageObjects:    len(deletedCommits),
		ActiveBaselineCommitID: project.ActiveBaselineCommitID,
	})
}

func (s *server) createEvalRun(w http.ResponseWriter, r *http.Request) {
	var req createEvalRunRequest
	if !s.decode(w, r, &req) {
		return
	}
	run, err := s.deps.Eval.CreateRun(r.Context(), eval.CreateRunRequest{
		ProjectID:       req.ProjectID,
		BasePrompt:      req.BasePrompt,
		ObjectivePreset: domain.ObjectivePreset(req.ObjectivePreset),
		ImageModel:      req.ImageModel,
		NVariants:       req.NVariants,
		Quality:         domain.Quality(req.Quality),
		MustInclude:     req.MustInclude,
		MustAvoid:       req.MustAvoid,
		ParentCommitID:  req.ParentCommitID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *server) getEvalRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, ok := s.deps.Eval.GetRun(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: errorBody{
			Code:      "EVAL_RUN_NOT_FOUND",
			Message:   "eval run not found",
			RequestID: requestIDFromContext(r.Context()),
		}})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func toProjectResponse(p *domain.Project, created bool) projectResponse {
	return projectResponse{
		ProjectID:              p.ProjectID,
		Name:                   p.Name,
		ActiveBaselineCommitID: p.ActiveBaselineCommitID,
		DriftThreshold:         p.DriftThreshold,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
		Created:                created,
	}
}
