// Package eval implements the Eval Orchestrator (spec §2 item 10, §4.1):
// the largest component, a five-stage asynchronous run executor holding
// per-run state in a mutex-guarded map, matching the teacher's in-memory
// results-map + snapshot-on-read convention (orchestration/workflow_state.go's
// InMemoryStateStore) rather than a durable store, since EvalRun is
// explicitly process-volatile (spec §3).
package eval

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/choiwab/promptsmith/internal/adapters/generator"
	"github.com/choiwab/promptsmith/internal/adapters/judge"
	"github.com/choiwab/promptsmith/internal/adapters/planner"
	"github.com/choiwab/promptsmith/internal/adapters/refiner"
	"github.com/choiwab/promptsmith/internal/apperr"
	"github.com/choiwab/promptsmith/internal/blobstore"
	"github.com/choiwab/promptsmith/internal/domain"
	"github.com/choiwab/promptsmith/internal/ids"
	"github.com/choiwab/promptsmith/internal/logging"
	"github.com/choiwab/promptsmith/internal/repository"
	"github.com/choiwab/promptsmith/internal/telemetry"
)

// variantConcurrency bounds both the generating and evaluating stages
// (spec §4.1.2/§4.1.3 and §7: "semaphore of width 4").
const variantConcurrency = 4

// CreateRunRequest is the validated input to CreateRun.
type CreateRunRequest struct {
	ProjectID       string
	BasePrompt      string
	ObjectivePreset domain.ObjectivePreset
	ImageModel      string
	NVariants       int
	Quality         domain.Quality
	MustInclude     []string
	MustAvoid       []string
	ParentCommitID  string
}

// Orchestrator runs and tracks EvalRuns.
type Orchestrator struct {
	repo      repository.Repository
	blobs     *blobstore.Store
	ids       *ids.Factory
	generator generator.Generator
	judge     judge.Judge
	planner   planner.Planner
	refiner   refiner.Refiner
	logger    logging.Logger
	telemetry telemetry.Telemetry

	mu   sync.RWMutex
	runs map[string]*domain.EvalRun
}

// New builds an Eval Orchestrator.
func New(repo repository.Repository, blobs *blobstore.Store, idFactory *ids.Factory, gen generator.Generator, j judge.Judge, p planner.Planner, r refiner.Refiner, logger logging.Logger, tel telemetry.Telemetry) *Orchestrator {
	if logger == nil {
		logger = logging.NoOp{}
	}
	if tel == nil {
		tel = telemetry.NoOp{}
	}
	return &Orchestrator{
		repo:      repo,
		blobs:     blobs,
		ids:       idFactory,
		generator: gen,
		judge:     j,
		planner:   p,
		refiner:   r,
		logger:    logger.With("eval"),
		telemetry: tel,
		runs:      make(map[string]*domain.EvalRun),
	}
}

// CreateRun validates the request, allocates a run_id, registers the run
// as queued, and schedules its execution on an independent background
// task (spec §4.1: "Schedules asynchronous execution. Returns immediately
// with the queued run.").
func (o *Orchestrator) CreateRun(ctx context.Context, req CreateRunRequest) (*domain.EvalRun, error) {
	if req.NVariants != 2 && req.NVariants != 3 {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "eval.CreateRun", "n_variants must be 2 or 3")
	}
	if strings.TrimSpace(req.BasePrompt) == "" {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "eval.CreateRun", "base_prompt is required")
	}

	project, _, err := o.repo.EnsureProject(ctx, req.ProjectID, req.ProjectID)
	if err != nil {
		return nil, err
	}

	if req.ParentCommitID != "" {
		parent, err := o.repo.GetCommit(ctx, project.ProjectID, req.ParentCommitID)
		if err != nil {
			return nil, err
		}
		if parent.Status != domain.CommitSuccess || len(parent.ImagePaths) == 0 {
			return nil, apperr.New(apperr.CodeCommitNotFound, "eval.CreateRun", apperr.ErrCommitNotFound)
		}
	}

	now := time.Now().UTC()
	run := &domain.EvalRun{
		RunID:           o.ids.NewRunID(),
		ProjectID:       project.ProjectID,
		BasePrompt:      req.BasePrompt,
		ObjectivePreset: req.ObjectivePreset,
		ImageModel:      req.ImageModel,
		NVariants:       req.NVariants,
		Quality:         req.Quality,
		MustInclude:     req.MustInclude,
		MustAvoid:       req.MustAvoid,
		ParentCommitID:  req.ParentCommitID,
		Status:          domain.RunQueued,
		Stage:           domain.StageQueued,
		Progress:        domain.Progress{TotalVariants: req.NVariants},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	o.mu.Lock()
	o.runs[run.RunID] = run
	o.mu.Unlock()

	// The run executes on its own task, independent of the HTTP request's
	// context (spec §7: "the HTTP handler returns before that task begins
	// the generating stage").
	go o.execute(context.Background(), run.RunID)

	return run.Snapshot(), nil
}

// GetRun returns a snapshot of the run's current state, or false if no
// such run exists.
func (o *Orchestrator) GetRun(runID string) (*domain.EvalRun, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runs[runID]
	if !ok {
		return nil, false
	}
	return r.Snapshot(), true
}

func (o *Orchestrator) update(runID string, fn func(r *domain.EvalRun)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.runs[runID]
	if r == nil {
		return
	}
	fn(r)
	r.UpdatedAt = time.Now().UTC()
}

func (o *Orchestrator) snapshotLocked(runID string) *domain.EvalRun {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runs[runID]
}

// execute drives a run through every stage. Any fatal error terminalizes
// the run as failed; non-fatal fallbacks latch degraded=true but continue.
func (o *Orchestrator) execute(ctx context.Context, runID string) {
	ctx, span := o.telemetry.StartSpan(ctx, "eval.execute")
	span.SetAttribute("run_id", runID)
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("run panicked", map[string]interface{}{"run_id": runID, "panic": fmt.Sprintf("%v", p), "stack": string(debug.Stack())})
			o.update(runID, func(r *domain.EvalRun) {
				r.Status = domain.RunFailed
				r.Error = fmt.Sprintf("internal error: %v", p)
				now := time.Now().UTC()
				r.CompletedAt = &now
			})
		}
	}()

	o.update(runID, func(r *domain.EvalRun) {
		r.Status = domain.RunRunning
		r.Stage = domain.StagePlanning
	})

	if !o.plan(ctx, runID) {
		return
	}
	if !o.generate(ctx, runID) {
		return
	}
	o.evaluate(ctx, runID)
	o.rank(runID)
	o.refine(ctx, runID)
	o.terminalize(runID)

	if final := o.snapshotLocked(runID); final != nil {
		o.telemetry.RecordMetric("eval.runs.completed", 1, map[string]string{"status": string(final.Status)})
	}
}

func (o *Orchestrator) fail(runID string, err error) {
	o.update(runID, func(r *domain.EvalRun) {
		r.Status = domain.RunFailed
		r.Error = err.Error()
		now := time.Now().UTC()
		r.CompletedAt = &now
	})
}

// plan runs the Planning stage (spec §4.1.1), returning false if a fatal
// error aborted the run (the planner itself never fails fatally: missing,
// short, malformed, or timed-out output all fall back deterministically).
func (o *Orchestrator) plan(ctx context.Context, runID string) bool {
	ctx, span := o.telemetry.StartSpan(ctx, "eval.plan")
	defer span.End()

	run := o.snapshotLocked(runID)
	if run == nil {
		return false
	}

	variants, degraded, err := o.planner.Plan(ctx, run.BasePrompt, run.MustInclude, run.MustAvoid, run.NVariants, run.ObjectivePreset)
	if err != nil {
		span.RecordError(err)
		o.fail(runID, apperr.New(apperr.CodeEvalRunFailed, "eval.plan", err))
		return false
	}

	evalVariants := make([]*domain.EvalVariant, len(variants))
	for i, v := range variants {
		evalVariants[i] = &domain.EvalVariant{
			VariantID:     ids.VariantID(i + 1),
			VariantPrompt: v.VariantPrompt,
			MutationTags:  v.MutationTags,
			Status:        domain.VariantPlanned,
		}
	}

	o.update(runID, func(r *domain.EvalRun) {
		r.Variants = evalVariants
		r.Stage = domain.StageGenerating
		if degraded {
			r.Degraded = true
		}
	})
	return true
}

// generate runs anchor resolution then the bounded-parallel generating
// stage (spec §4.1.2).
func (o *Orchestrator) generate(ctx context.Context, runID string) bool {
	ctx, span := o.telemetry.StartSpan(ctx, "eval.generate")
	defer span.End()

	run := o.snapshotLocked(runID)
	if run == nil {
		return false
	}

	var anchorCommitID string
	var anchorBytes []byte

	if run.ParentCommitID != "" {
		commit, err := o.repo.GetCommit(ctx, run.ProjectID, run.ParentCommitID)
		if err != nil {
			span.RecordError(err)
			o.fail(runID, err)
			return false
		}
		data, err := o.blobs.Read(ctx, commit.ImagePaths[0])
		if err != nil {
			span.RecordError(err)
			o.fail(runID, err)
			return false
		}
		anchorCommitID = run.ParentCommitID
		anchorBytes = data
	} else {
		result, err := o.generator.TextToImage(ctx, run.BasePrompt)
		if err != nil {
			span.RecordError(err)
			o.fail(runID, apperr.New(apperr.CodeEvalRunFailed, "eval.generate.anchor", err))
			return false
		}
		commitID := o.ids.NextCommitID()
		relPath, _, err := o.blobs.Write(ctx, commitID, fmt.Sprintf("img_01.%s", result.Ext), result.ImageBytes)
		if err != nil {
			span.RecordError(err)
			o.fail(runID, err)
			return false
		}
		commit := &domain.Commit{
			CommitID:   commitID,
			ProjectID:  run.ProjectID,
			Prompt:     run.BasePrompt,
			Model:      run.ImageModel,
			ImagePaths: []string{relPath},
			Status:     domain.CommitSuccess,
			CreatedAt:  time.Now().UTC(),
		}
		if err := o.repo.CreateCommit(ctx, commit); err != nil {
			span.RecordError(err)
			o.fail(runID, err)
			return false
		}
		anchorCommitID = commitID
		anchorBytes = result.ImageBytes
	}

	o.update(runID, func(r *domain.EvalRun) {
		r.AnchorCommitID = anchorCommitID
	})

	sem := semaphore.NewWeighted(variantConcurrency)
	var wg sync.WaitGroup

	run = o.snapshotLocked(runID)
	for _, v := range run.Variants {
		v := v
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			o.generateVariant(ctx, runID, anchorCommitID, anchorBytes, v.VariantID, v.VariantPrompt)
		}()
	}
	wg.Wait()
	return true
}

func (o *Orchestrator) generateVariant(ctx context.Context, runID, anchorCommitID string, anchorBytes []byte, variantID, variantPrompt string) {
	ctx, span := o.telemetry.StartSpan(ctx, "eval.generateVariant")
	span.SetAttribute("variant_id", variantID)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("panic: %v", r))
			o.logger.Error("generate variant panicked", map[string]interface{}{"run_id": runID, "variant_id": variantID, "panic": fmt.Sprintf("%v", r), "stack": string(debug.Stack())})
			o.update(runID, func(run *domain.EvalRun) {
				v := findVariant(run.Variants, variantID)
				if v == nil || v.Status != domain.VariantPlanned {
					return
				}
				v.Status = domain.VariantGenerationFailed
				v.Error = fmt.Sprintf("internal error: %v", r)
				run.Progress.FailedVariants++
				run.Degraded = true
			})
		}
	}()

	start := time.Now()
	result, err := o.generator.ImageEdit(ctx, anchorBytes, variantPrompt)
	latencyMS := time.Since(start).Milliseconds()

	if err != nil {
		span.RecordError(err)
		commitID := o.ids.NextCommitID()
		_ = o.repo.CreateCommit(ctx, &domain.Commit{
			CommitID:       commitID,
			ProjectID:      o.runProjectID(runID),
			Prompt:         variantPrompt,
			ParentCommitID: anchorCommitID,
			ImagePaths:     []string{},
			Status:         domain.CommitFailed,
			Error:          err.Error(),
			CreatedAt:      time.Now().UTC(),
		})
		o.update(runID, func(r *domain.EvalRun) {
			v := findVariant(r.Variants, variantID)
			if v == nil {
				return
			}
			v.Status = domain.VariantGenerationFailed
			v.Error = err.Error()
			v.GenerationMS = latencyMS
			v.ParentCommitID = anchorCommitID
			r.Progress.FailedVariants++
			r.Degraded = true
		})
		return
	}

	commitID := o.ids.NextCommitID()
	relPath, url, err := o.blobs.Write(ctx, commitID, fmt.Sprintf("img_01.%s", result.Ext), result.ImageBytes)
	if err != nil {
		span.RecordError(err)
		o.update(runID, func(r *domain.EvalRun) {
			v := findVariant(r.Variants, variantID)
			if v == nil {
				return
			}
			v.Status = domain.VariantGenerationFailed
			v.Error = err.Error()
			r.Progress.FailedVariants++
			r.Degraded = true
		})
		return
	}

	if err := o.repo.CreateCommit(ctx, &domain.Commit{
		CommitID:       commitID,
		ProjectID:      o.runProjectID(runID),
		Prompt:         variantPrompt,
		ParentCommitID: anchorCommitID,
		ImagePaths:     []string{relPath},
		Status:         domain.CommitSuccess,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		span.RecordError(err)
		o.update(runID, func(r *domain.EvalRun) {
			v := findVariant(r.Variants, variantID)
			if v == nil {
				return
			}
			v.Status = domain.VariantGenerationFailed
			v.Error = err.Error()
			r.Progress.FailedVariants++
			r.Degraded = true
		})
		return
	}

	o.update(runID, func(r *domain.EvalRun) {
		v := findVariant(r.Variants, variantID)
		if v == nil {
			return
		}
		v.CommitID = commitID
		v.ImageURL = url
		v.ParentCommitID = anchorCommitID
		v.Status = domain.VariantGenerated
		v.GenerationMS = latencyMS
		r.Progress.GeneratedVariants++
	})
}

func (o *Orchestrator) runProjectID(runID string) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if r := o.runs[runID]; r != nil {
		return r.ProjectID
	}
	return ""
}

// evaluate runs the Evaluating stage (spec §4.1.3) under a second
// width-4 semaphore.
func (o *Orchestrator) evaluate(ctx context.Context, runID string) {
	ctx, span := o.telemetry.StartSpan(ctx, "eval.evaluate")
	defer span.End()

	o.update(runID, func(r *domain.EvalRun) {
		r.Stage = domain.StageEvaluating
	})

	run := o.snapshotLocked(runID)
	if run == nil {
		return
	}

	sem := semaphore.NewWeighted(variantConcurrency)
	var wg sync.WaitGroup
	for _, v := range run.Variants {
		v := v
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.Status != domain.VariantGenerated {
				o.update(runID, func(r *domain.EvalRun) {
					ev := findVariant(r.Variants, v.VariantID)
					if ev == nil {
						return
					}
					ev.Status = domain.VariantEvaluationSkipped
					r.Progress.EvaluatedVariants++
				})
				return
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			o.evaluateVariant(ctx, runID, run.BasePrompt, string(run.ObjectivePreset), v)
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) evaluateVariant(ctx context.Context, runID, basePrompt, objectivePreset string, v *domain.EvalVariant) {
	ctx, span := o.telemetry.StartSpan(ctx, "eval.evaluateVariant")
	span.SetAttribute("variant_id", v.VariantID)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("panic: %v", r))
			o.logger.Error("evaluate variant panicked", map[string]interface{}{"run_id": runID, "variant_id": v.VariantID, "panic": fmt.Sprintf("%v", r), "stack": string(debug.Stack())})
			o.update(runID, func(run *domain.EvalRun) {
				ev := findVariant(run.Variants, v.VariantID)
				if ev == nil || ev.Status != domain.VariantGenerated {
					return
				}
				ev.Status = domain.VariantEvaluationSkipped
				ev.Error = fmt.Sprintf("internal error: %v", r)
				run.Progress.EvaluatedVariants++
				run.Degraded = true
			})
		}
	}()

	commit, err := o.repo.GetCommit(ctx, o.runProjectID(runID), v.CommitID)
	var imageBytes []byte
	if err == nil && len(commit.ImagePaths) > 0 {
		imageBytes, _ = o.blobs.Read(ctx, commit.ImagePaths[0])
	}

	start := time.Now()
	var rubric *domain.Rubric
	degraded := false
	if imageBytes != nil {
		rubric, err = o.judge.Score(ctx, basePrompt, v.VariantPrompt, objectivePreset, imageBytes, "image/png")
	}
	if err != nil || imageBytes == nil {
		if err != nil {
			span.RecordError(err)
		}
		rubric = judge.NeutralFallback()
		degraded = true
	}
	latencyMS := time.Since(start).Milliseconds()

	composite := compositeScore(rubric)

	o.update(runID, func(r *domain.EvalRun) {
		ev := findVariant(r.Variants, v.VariantID)
		if ev == nil {
			return
		}
		ev.Rubric = rubric
		ev.CompositeScore = &composite
		ev.EvaluationMS = latencyMS
		if degraded {
			ev.Status = domain.VariantEvaluatedDegraded
			r.Degraded = true
		} else {
			ev.Status = domain.VariantEvaluated
		}
		r.Progress.EvaluatedVariants++
	})
}

// compositeScore applies spec §4.1.6's weighted formula, rounded to 4
// decimal places and not clamped (allowed range [-0.10, 0.90]).
func compositeScore(r *domain.Rubric) float64 {
	v := 0.35*r.PromptAdherence +
		0.20*r.SubjectFidelity +
		0.20*r.CompositionQuality +
		0.15*r.StyleCoherence -
		0.10*r.TechnicalArtifactPenalty
	return round4(v)
}

func round4(v float64) float64 {
	scaled := v * 10000
	if scaled >= 0 {
		return float64(int64(scaled+0.5)) / 10000
	}
	return float64(int64(scaled-0.5)) / 10000
}

var hardRuleSubstrings = []string{"artifact", "watermark", "limb"}

func hardRuleViolations(tags []string) int {
	count := 0
	for _, t := range tags {
		lower := strings.ToLower(t)
		for _, s := range hardRuleSubstrings {
			if strings.Contains(lower, s) {
				count++
				break
			}
		}
	}
	return count
}

// rank applies spec §4.1.4's ranking tie-break tuple over the survivor set
// (status ∈ {evaluated, evaluated_degraded}).
func (o *Orchestrator) rank(runID string) {
	o.update(runID, func(r *domain.EvalRun) {
		survivors := make([]*domain.EvalVariant, 0, len(r.Variants))
		for _, v := range r.Variants {
			if v.Status == domain.VariantEvaluated || v.Status == domain.VariantEvaluatedDegraded {
				survivors = append(survivors, v)
			}
		}

		sort.SliceStable(survivors, func(i, j int) bool {
			a, b := survivors[i], survivors[j]
			if *a.CompositeScore != *b.CompositeScore {
				return *a.CompositeScore > *b.CompositeScore
			}
			if a.Rubric.Confidence != b.Rubric.Confidence {
				return a.Rubric.Confidence > b.Rubric.Confidence
			}
			if a.Rubric.TechnicalArtifactPenalty != b.Rubric.TechnicalArtifactPenalty {
				return a.Rubric.TechnicalArtifactPenalty < b.Rubric.TechnicalArtifactPenalty
			}
			av, bv := hardRuleViolations(a.Rubric.FailureTags), hardRuleViolations(b.Rubric.FailureTags)
			if av != bv {
				return av < bv
			}
			return a.VariantID < b.VariantID
		})

		for i, v := range survivors {
			rank := i + 1
			v.Rank = &rank
		}

		r.Leaderboard = survivors
		topN := len(survivors)
		if topN > 3 {
			topN = 3
		}
		topK := make([]string, topN)
		for i := 0; i < topN; i++ {
			topK[i] = survivors[i].VariantID
		}
		r.TopK = topK
	})
}

// refine runs the Refining stage (spec §4.1.5).
func (o *Orchestrator) refine(ctx context.Context, runID string) {
	ctx, span := o.telemetry.StartSpan(ctx, "eval.refine")
	defer span.End()

	o.update(runID, func(r *domain.EvalRun) {
		r.Stage = domain.StageRefining
	})

	run := o.snapshotLocked(runID)
	if run == nil {
		return
	}

	topN := len(run.Leaderboard)
	if topN > 3 {
		topN = 3
	}
	top := make([]refiner.TopVariant, 0, topN)
	for i := 0; i < topN; i++ {
		v := run.Leaderboard[i]
		top = append(top, refiner.TopVariant{Prompt: v.VariantPrompt, StrengthTags: v.Rubric.StrengthTags, Composite: *v.CompositeScore})
	}

	bottomStart := len(run.Leaderboard) - 2
	if bottomStart < 0 {
		bottomStart = 0
	}
	bottom := make([]refiner.BottomVariant, 0, 2)
	for i := bottomStart; i < len(run.Leaderboard); i++ {
		v := run.Leaderboard[i]
		bottom = append(bottom, refiner.BottomVariant{Prompt: v.VariantPrompt, FailureTags: v.Rubric.FailureTags})
	}

	suggestions, degraded := o.refiner.Refine(ctx, run.BasePrompt, top, bottom)
	if degraded {
		span.RecordError(fmt.Errorf("refiner fell back to deterministic suggestions"))
	}

	o.update(runID, func(r *domain.EvalRun) {
		r.Suggestions = suggestions
		if degraded {
			r.Degraded = true
		}
		r.Stage = domain.StageDone
	})
}

// terminalize selects the run's final status (spec §4.1: "failed if a
// fatal error aborted a stage; else completed_degraded iff degraded; else
// completed").
func (o *Orchestrator) terminalize(runID string) {
	o.update(runID, func(r *domain.EvalRun) {
		if r.Status == domain.RunFailed {
			return
		}
		if r.Degraded {
			r.Status = domain.RunCompletedDegraded
		} else {
			r.Status = domain.RunCompleted
		}
		now := time.Now().UTC()
		r.CompletedAt = &now
	})
}

func findVariant(variants []*domain.EvalVariant, variantID string) *domain.EvalVariant {
	for _, v := range variants {
		if v.VariantID == variantID {
			return v
		}
	}
	return nil
}
