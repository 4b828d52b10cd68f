// Package compare implements the Compare Orchestrator (spec §2 item 9,
// §4.2): given a (baseline, candidate) commit pair, run the pixel,
// semantic, and structural drift signals concurrently, aggregate them into
// a single drift score, and derive a pass/fail/inconclusive verdict.
//
// Grounded on the teacher's SmartExecutor step fan-out (executor.go): a
// bounded-concurrency group with per-task panic recovery, here built on
// golang.org/x/sync/errgroup and semaphore.Weighted instead of the
// teacher's hand-rolled buffered-channel semaphore.
package compare

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/choiwab/promptsmith/internal/apperr"
	"github.com/choiwab/promptsmith/internal/blobstore"
	"github.com/choiwab/promptsmith/internal/domain"
	"github.com/choiwab/promptsmith/internal/ids"
	"github.com/choiwab/promptsmith/internal/logging"
	"github.com/choiwab/promptsmith/internal/pixel"
	"github.com/choiwab/promptsmith/internal/repository"
	"github.com/choiwab/promptsmith/internal/telemetry"
)

// signalConcurrency bounds the three compare signals (spec §7: "compare
// signals fan out up to 3 concurrent tasks, one per signal").
const signalConcurrency = 3

// Orchestrator computes ComparisonReports.
type Orchestrator struct {
	repo       repository.Repository
	blobs      *blobstore.Store
	ids        *ids.Factory
	semantic   SemanticSignal
	structural StructuralSignal
	logger     logging.Logger
	telemetry  telemetry.Telemetry
}

// New builds a compare Orchestrator. semantic/structural may be nil, in
// which case those signals are always treated as missing — used when no
// vision model is configured (spec §6's "absence forces ... calls to their
// deterministic fallbacks"; here there is no fallback value, only
// degradation, since §4.2 marks these signals non-fatal-missing rather
// than giving them a neutral placeholder).
func New(repo repository.Repository, blobs *blobstore.Store, idFactory *ids.Factory, semantic SemanticSignal, structural StructuralSignal, logger logging.Logger, tel telemetry.Telemetry) *Orchestrator {
	if logger == nil {
		logger = logging.NoOp{}
	}
	if tel == nil {
		tel = telemetry.NoOp{}
	}
	return &Orchestrator{
		repo:       repo,
		blobs:      blobs,
		ids:        idFactory,
		semantic:   semantic,
		structural: structural,
		logger:     logger.With("compare"),
		telemetry:  tel,
	}
}

type signalOutcome struct {
	value       float64
	explanation map[string]interface{}
	present     bool
}

// Compare runs the full comparison pipeline. baselineCommitID may be empty,
// in which case the project's active baseline is used.
func (o *Orchestrator) Compare(ctx context.Context, projectID, candidateCommitID, baselineCommitID string) (*domain.ComparisonReport, error) {
	ctx, span := o.telemetry.StartSpan(ctx, "compare.Compare")
	defer span.End()

	project, err := o.repo.GetProject(ctx, projectID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if baselineCommitID == "" {
		baselineCommitID = project.ActiveBaselineCommitID
		if baselineCommitID == "" {
			err := apperr.New(apperr.CodeBaselineNotSet, "compare.Compare", apperr.ErrBaselineNotSet)
			span.RecordError(err)
			return nil, err
		}
	}

	baseline, err := o.validCommit(ctx, projectID, baselineCommitID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	candidate, err := o.validCommit(ctx, projectID, candidateCommitID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	baselineBytes, err := o.blobs.Read(ctx, baseline.ImagePaths[0])
	if err != nil {
		err = apperr.New(apperr.CodeComparePipeline, "compare.Compare", err)
		span.RecordError(err)
		return nil, err
	}
	candidateBytes, err := o.blobs.Read(ctx, candidate.ImagePaths[0])
	if err != nil {
		err = apperr.New(apperr.CodeComparePipeline, "compare.Compare", err)
		span.RecordError(err)
		return nil, err
	}
	mediaType := mediaTypeForPath(candidate.ImagePaths[0])

	sem := semaphore.NewWeighted(signalConcurrency)
	group, gctx := errgroup.WithContext(ctx)

	var pixelResult *pixel.Result
	var pixelErr error
	var semanticOutcome, structuralOutcome signalOutcome

	group.Go(func() error {
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		defer sem.Release(1)
		_, span := o.telemetry.StartSpan(gctx, "compare.signal.pixel")
		defer span.End()
		defer o.recoverSignal("pixel", &pixelErr)
		pixelResult, pixelErr = pixel.Compare(baselineBytes, candidateBytes)
		if pixelErr != nil {
			span.RecordError(pixelErr)
		}
		return nil
	})

	group.Go(func() error {
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		defer sem.Release(1)
		sctx, span := o.telemetry.StartSpan(gctx, "compare.signal.semantic")
		defer span.End()
		var recovered error
		defer o.recoverSignal("semantic", &recovered)
		if o.semantic == nil {
			return nil
		}
		v, err := o.semantic.Similarity(sctx, baselineBytes, candidateBytes, mediaType)
		if err != nil {
			span.RecordError(err)
			o.logger.WarnContext(gctx, "semantic signal unavailable", map[string]interface{}{"error": err.Error()})
			return nil
		}
		semanticOutcome = signalOutcome{value: v, present: true}
		return nil
	})

	group.Go(func() error {
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		defer sem.Release(1)
		sctx, span := o.telemetry.StartSpan(gctx, "compare.signal.structural")
		defer span.End()
		var recovered error
		defer o.recoverSignal("structural", &recovered)
		if o.structural == nil {
			return nil
		}
		v, explanation, err := o.structural.Structural(sctx, baselineBytes, candidateBytes, mediaType)
		if err != nil {
			span.RecordError(err)
			o.logger.WarnContext(gctx, "structural signal unavailable", map[string]interface{}{"error": err.Error()})
			return nil
		}
		structuralOutcome = signalOutcome{value: v, explanation: explanation, present: true}
		return nil
	})

	if err := group.Wait(); err != nil {
		err = apperr.New(apperr.CodeComparePipeline, "compare.Compare", err)
		span.RecordError(err)
		return nil, err
	}

	// Pixel signal failure is fatal to the whole report (spec §4.2 table).
	if pixelErr != nil || pixelResult == nil {
		err := apperr.New(apperr.CodeComparePipeline, "compare.Compare", pixelErr)
		span.RecordError(err)
		return nil, err
	}

	reportID := o.ids.NextReportID()

	heatmapPath, _, err := o.blobs.Write(ctx, reportID, "diff_heatmap.png", pixelResult.HeatmapPNG)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	overlayPath, _, err := o.blobs.Write(ctx, reportID, "overlay.png", pixelResult.OverlayPNG)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	threshold := project.DriftThreshold
	if threshold == 0 {
		threshold = 0.30
	}

	drift, explanation := aggregate(pixelResult.Score, semanticOutcome, structuralOutcome)
	degraded := !semanticOutcome.present || !structuralOutcome.present
	verdict := deriveVerdict(drift, threshold, pixelResult.Score, semanticOutcome.present, structuralOutcome.present)

	report := &domain.ComparisonReport{
		ReportID:           reportID,
		ProjectID:          projectID,
		BaselineCommitID:   baseline.CommitID,
		CandidateCommitID:  candidate.CommitID,
		PixelDiffScore:     floatPtr(pixelResult.Score),
		DriftScore:         round4(drift),
		Threshold:          threshold,
		Verdict:            verdict,
		Degraded:           degraded,
		Explanation:        explanation,
		HeatmapPath:        heatmapPath,
		OverlayPath:        overlayPath,
		CreatedAt:          time.Now().UTC(),
	}
	if semanticOutcome.present {
		report.SemanticSimilarity = floatPtr(semanticOutcome.value)
	}
	if structuralOutcome.present {
		report.VisionStructuralScore = floatPtr(structuralOutcome.value)
	}

	if err := o.repo.PersistReport(ctx, report); err != nil {
		span.RecordError(err)
		return nil, err
	}
	o.telemetry.RecordMetric("compare.reports.completed", 1, map[string]string{"verdict": string(verdict)})
	return report, nil
}

func (o *Orchestrator) validCommit(ctx context.Context, projectID, commitID string) (*domain.Commit, error) {
	c, err := o.repo.GetCommit(ctx, projectID, commitID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CommitSuccess || len(c.ImagePaths) == 0 {
		return nil, apperr.New(apperr.CodeCommitNotFound, "compare.validCommit", apperr.ErrCommitNotFound)
	}
	return c, nil
}

// recoverSignal turns a panic inside a concurrent signal task into a
// logged, non-fatal error instead of crashing the group, mirroring the
// teacher's safeInvokeStepCallback panic-recovery pattern.
func (o *Orchestrator) recoverSignal(name string, target *error) {
	if r := recover(); r != nil {
		*target = fmt.Errorf("%s signal panicked: %v", name, r)
		o.logger.Error("signal task panicked", map[string]interface{}{
			"signal": name,
			"panic":  fmt.Sprintf("%v", r),
			"stack":  string(debug.Stack()),
		})
	}
}

// aggregate applies the weighted drift formula (spec §4.2), omitting the
// term for any missing signal without renormalizing the remaining weights.
func aggregate(pixelScore float64, semantic, structural signalOutcome) (float64, map[string]float64) {
	var drift float64
	explanation := map[string]float64{"pixel_diff_score": pixelScore}
	drift += 0.30 * pixelScore
	if semantic.present {
		drift += 0.40 * (1 - semantic.value)
		explanation["semantic_similarity"] = semantic.value
	}
	if structural.present {
		drift += 0.30 * structural.value
		explanation["vision_structural_score"] = structural.value
	}
	return drift, explanation
}

// deriveVerdict applies spec §4.2's verdict rules.
func deriveVerdict(drift, threshold, pixelScore float64, semanticPresent, structuralPresent bool) domain.Verdict {
	if semanticPresent && structuralPresent {
		if drift <= threshold {
			return domain.VerdictPass
		}
		return domain.VerdictFail
	}
	if pixelScore <= 0.70 {
		return domain.VerdictInconclusive
	}
	return domain.VerdictFail
}

func mediaTypeForPath(path string) string {
	if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg") {
		return "image/jpeg"
	}
	return "image/png"
}

func floatPtr(v float64) *float64 { return &v }

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
