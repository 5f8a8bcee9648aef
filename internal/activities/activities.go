package activities

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"redraft/internal/config"
	"redraft/internal/gateway"
	"redraft/internal/models"
	"redraft/internal/notify"
	"redraft/internal/report"
	"redraft/internal/rewrite"
	"redraft/internal/storage"
	"redraft/internal/util"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
)

// Activities bundles every side-effecting dependency the workflows
// call out to. Workflows stay deterministic; everything that touches
// Postgres, the relay, or a model provider lives here.
type Activities struct {
	Cfg         config.Config
	Cycles      *storage.CycleRepo
	Claims      *storage.ClaimRepo
	Penalties   *storage.PenaltyRepo
	Alerts      *storage.AlertRepo
	WorkItems   *storage.WorkItemRepo
	Parser      *report.Parser
	Gateway     *gateway.Gateway
	Engine      *rewrite.Engine
	Notifier    notify.Channel
	DataOutRoot string
}

// InitCycleActivity creates the cycle record. Created=false means an
// active cycle for this chunk already exists; the workflow ends without
// touching it.
func (a *Activities) InitCycleActivity(ctx context.Context, in InitCycleInput) (InitCycleOutput, error) {
	now := time.Now().UTC()
	created, err := a.Cycles.Create(ctx, models.RewriteCycle{
		ChunkID:         in.ChunkID,
		LotID:           in.LotID,
		Stage:           models.StageParsing,
		Outcome:         models.CyclePending,
		OriginalContent: in.OriginalContent,
		LatestContent:   in.OriginalContent,
		SimilarityMax:   in.SimilarityMax,
		AIMax:           in.AIMax,
		StartedAt:       now,
		ExpiresAt:       now.Add(a.Cfg.CycleTTL),
	})
	if err != nil {
		return InitCycleOutput{}, err
	}
	if created {
		if err := a.WorkItems.Upsert(ctx, models.WorkItem{
			ChunkID: in.ChunkID,
			LotID:   in.LotID,
			Status:  models.WorkItemRewriting,
		}); err != nil {
			return InitCycleOutput{}, err
		}
	}
	return InitCycleOutput{Created: created}, nil
}

// ParseReportActivity extracts and structures one checking report.
// Unreadable input is a normal outcome, not an activity failure, so the
// workflow can decide between re-fetching and conservative handling.
func (a *Activities) ParseReportActivity(ctx context.Context, in ParseReportInput) (ParseReportOutput, error) {
	logger := activity.GetLogger(ctx)
	rep, err := a.Parser.Parse(in.Raw, in.Kind, in.Original)
	if err != nil {
		if errors.Is(err, util.ErrReportUnreadable) {
			logger.Warn("report unreadable", "kind", in.Kind, "error", err)
			return ParseReportOutput{Unreadable: true, Reason: err.Error()}, nil
		}
		return ParseReportOutput{}, fmt.Errorf("parse %s report: %w", in.Kind, err)
	}
	return ParseReportOutput{Report: rep}, nil
}

func (a *Activities) PersistCycleStageActivity(ctx context.Context, in PersistStageInput) error {
	return a.Cycles.SetStage(ctx, in.ChunkID, in.Stage, in.SubmissionHandle)
}

// RewriteActivity runs one generation attempt and persists the revised
// content before returning, so a crash after generation never loses the
// text the next stage will submit.
func (a *Activities) RewriteActivity(ctx context.Context, in RewriteInput) (RewriteOutput, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.Cfg.EngineCallTimeout)
	defer cancel()

	revised, info, err := a.Engine.Rewrite(callCtx, in.Content, in.Flags, rewrite.CycleContext{
		ChunkID:         in.ChunkID,
		LotID:           in.LotID,
		AttemptNumber:   in.AttemptNumber,
		Recommendations: in.Recommendations,
	})
	if err != nil {
		return RewriteOutput{}, fmt.Errorf("rewrite attempt %d: %w", in.AttemptNumber, err)
	}
	if err := a.Cycles.SetLatestContent(ctx, in.ChunkID, revised); err != nil {
		return RewriteOutput{}, err
	}
	return RewriteOutput{Revised: revised, Provider: info.Name}, nil
}

func (a *Activities) SubmitActivity(ctx context.Context, in SubmitInput) (SubmitOutput, error) {
	handle, err := a.Gateway.Submit(ctx, in.Content, gateway.Meta{
		ChunkID:       in.ChunkID,
		LotID:         in.LotID,
		AttemptNumber: in.AttemptNumber,
	})
	if err != nil {
		return SubmitOutput{}, fmt.Errorf("submit attempt %d: %w", in.AttemptNumber, err)
	}
	return SubmitOutput{Handle: handle}, nil
}

// PollSubmissionActivity performs a single drain-and-check pass. The
// workflow owns the poll interval and the overall deadline.
func (a *Activities) PollSubmissionActivity(ctx context.Context, in PollSubmissionInput) (PollSubmissionOutput, error) {
	st, err := a.Gateway.Poll(ctx, in.Handle)
	if err != nil {
		return PollSubmissionOutput{}, err
	}
	return PollSubmissionOutput{
		State:      st.State,
		Similarity: st.Similarity,
		AI:         st.AI,
		Reason:     st.Reason,
	}, nil
}

func (a *Activities) AppendAttemptActivity(ctx context.Context, in AppendAttemptInput) error {
	return a.Cycles.AppendAttempt(ctx, in.ChunkID, in.Attempt)
}

// CompleteCycleActivity records the terminal stage and flips the work
// item: a passing chunk goes back to the open pool for human review, a
// failed one waits for an operator.
func (a *Activities) CompleteCycleActivity(ctx context.Context, in CompleteCycleInput) error {
	if err := a.Cycles.Complete(ctx, in.ChunkID, in.Stage, in.Outcome, in.FinalContent); err != nil {
		return err
	}
	status := models.WorkItemOpen
	if in.Outcome != models.CycleSuccess {
		status = models.WorkItemNeedsAttention
	}
	return a.WorkItems.SetStatus(ctx, in.ChunkID, status)
}

// EscalateCycleActivity enqueues the admin alert for an exhausted
// cycle. The escalation flag is compare-and-set so retries and replays
// produce exactly one alert.
func (a *Activities) EscalateCycleActivity(ctx context.Context, in EscalateCycleInput) (EscalateCycleOutput, error) {
	won, err := a.Cycles.MarkEscalated(ctx, in.ChunkID)
	if err != nil {
		return EscalateCycleOutput{}, err
	}
	if !won {
		return EscalateCycleOutput{Escalated: false}, nil
	}
	alert := models.AdminAlert{
		AlertID:        uuid.NewString(),
		Type:           "rewrite_failure",
		ChunkID:        in.ChunkID,
		LotID:          in.LotID,
		Attempts:       in.Attempts,
		ElapsedSeconds: in.ElapsedSeconds,
		LastSimilarity: in.LastSimilarity,
		LastAIScore:    in.LastAIScore,
		Timestamp:      time.Now().UTC(),
	}
	if err := a.Alerts.Push(ctx, alert); err != nil {
		return EscalateCycleOutput{}, err
	}
	activity.GetLogger(ctx).Info("cycle escalated",
		"chunk_id", in.ChunkID, "attempts", in.Attempts,
		"last_similarity", in.LastSimilarity, "last_ai", in.LastAIScore)
	return EscalateCycleOutput{Escalated: true}, nil
}

// WriteCycleArtifactsActivity dumps the cycle record and its final
// content under the data-out root for offline inspection.
func (a *Activities) WriteCycleArtifactsActivity(ctx context.Context, in WriteCycleArtifactsInput) (WriteCycleArtifactsOutput, error) {
	c, err := a.Cycles.Get(ctx, in.ChunkID)
	if err != nil {
		return WriteCycleArtifactsOutput{}, err
	}
	dir := util.SafeJoin(filepath.Join(a.DataOutRoot, "cycles"), c.ChunkID)
	if err := util.EnsureDir(dir); err != nil {
		return WriteCycleArtifactsOutput{}, err
	}
	if err := util.WriteJSONAtomic(filepath.Join(dir, "cycle.json"), c); err != nil {
		return WriteCycleArtifactsOutput{}, err
	}
	if err := util.WriteTextAtomic(filepath.Join(dir, "content.txt"), c.LatestContent); err != nil {
		return WriteCycleArtifactsOutput{}, err
	}
	return WriteCycleArtifactsOutput{Dir: dir}, nil
}

// MarkClaimWarnedActivity is the warning gate: true exactly once per
// active claim window.
func (a *Activities) MarkClaimWarnedActivity(ctx context.Context, in MarkClaimWarnedInput) (MarkClaimWarnedOutput, error) {
	warned, err := a.Claims.MarkWarned(ctx, in.ChunkID)
	if err != nil {
		return MarkClaimWarnedOutput{}, err
	}
	return MarkClaimWarnedOutput{Warned: warned}, nil
}

func (a *Activities) SendClaimWarningActivity(ctx context.Context, in SendClaimWarningInput) error {
	text := fmt.Sprintf("Your claim on chunk %s expires in %d minutes. Submit your review or it will be released.",
		in.ChunkID, in.RemainingSeconds/60)
	if err := a.Notifier.Send(ctx, in.ClaimantID, text); err != nil {
		// Notification failure must not abort the timer; the expiry
		// still fires on schedule.
		activity.GetLogger(ctx).Warn("claim warning delivery failed",
			"chunk_id", in.ChunkID, "claimant_id", in.ClaimantID, "error", err)
	}
	return nil
}

// ExpireClaimActivity releases an overdue claim, applies the penalty
// point, and notifies the claimant. Only the caller that wins the
// status transition applies the penalty.
func (a *Activities) ExpireClaimActivity(ctx context.Context, in ExpireClaimInput) (ExpireClaimOutput, error) {
	claim, won, err := a.Claims.Expire(ctx, in.ChunkID)
	if err != nil {
		return ExpireClaimOutput{}, err
	}
	if !won {
		return ExpireClaimOutput{Expired: false}, nil
	}

	state, suspended, err := a.Penalties.AddPoint(ctx, claim.ClaimantID, a.Cfg.PenaltyThreshold, a.Cfg.SuspensionFor)
	if err != nil {
		return ExpireClaimOutput{}, err
	}

	text := fmt.Sprintf("Your claim on chunk %s expired and the chunk was released.", in.ChunkID)
	if suspended {
		text = fmt.Sprintf("Your claim on chunk %s expired. You have been suspended from claiming until %s.",
			in.ChunkID, state.SuspendedUntil.Format(time.RFC3339))
	}
	if err := a.Notifier.Send(ctx, claim.ClaimantID, text); err != nil {
		activity.GetLogger(ctx).Warn("expiry notice delivery failed",
			"chunk_id", in.ChunkID, "claimant_id", claim.ClaimantID, "error", err)
	}

	activity.GetLogger(ctx).Info("claim expired",
		"chunk_id", in.ChunkID, "claimant_id", claim.ClaimantID,
		"points", state.Points, "suspended", suspended)
	return ExpireClaimOutput{
		Expired:    true,
		ClaimantID: claim.ClaimantID,
		Points:     state.Points,
		Suspended:  suspended,
	}, nil
}

func (a *Activities) ListActiveClaimsActivity(ctx context.Context) (ListActiveClaimsOutput, error) {
	claims, err := a.Claims.ListActive(ctx)
	if err != nil {
		return ListActiveClaimsOutput{}, err
	}
	return ListActiveClaimsOutput{Claims: claims}, nil
}

func (a *Activities) CleanupExpiredCyclesActivity(ctx context.Context) (CleanupExpiredCyclesOutput, error) {
	n, err := a.Cycles.DeleteExpired(ctx)
	if err != nil {
		return CleanupExpiredCyclesOutput{}, err
	}
	if n > 0 {
		activity.GetLogger(ctx).Info("expired cycles removed", "count", n)
	}
	return CleanupExpiredCyclesOutput{Deleted: n}, nil
}
