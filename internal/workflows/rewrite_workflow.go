package workflows

import (
	"time"

	"redraft/internal/activities"
	"redraft/internal/models"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// RewriteCycleWorkflow drives one chunk through bounded rewrite
// attempts until its scores clear the thresholds, the attempt budget
// runs out, or the cycle is escalated. Stage transitions are persisted
// before each blocking step so the database never claims less progress
// than actually happened.
func RewriteCycleWorkflow(ctx workflow.Context, input CycleInput) (CycleResult, error) {
	applyCycleDefaults(&input)
	logger := workflow.GetLogger(ctx)
	startedAt := workflow.Now(ctx)

	status := CycleStatus{
		ChunkID:     input.ChunkID,
		Stage:       models.StageParsing,
		MaxAttempts: input.MaxAttempts,
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetCycleStatus, func() (CycleStatus, error) {
		return status, nil
	}); err != nil {
		return CycleResult{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var initOut activities.InitCycleOutput
	if err := workflow.ExecuteActivity(ctx, "InitCycleActivity", activities.InitCycleInput{
		ChunkID:         input.ChunkID,
		LotID:           input.LotID,
		OriginalContent: input.Content,
		SimilarityMax:   input.SimilarityMax,
		AIMax:           input.AIMax,
	}).Get(ctx, &initOut); err != nil {
		return CycleResult{}, err
	}
	if !initOut.Created {
		logger.Info("cycle already active for chunk, leaving it alone", "chunk_id", input.ChunkID)
		return CycleResult{ChunkID: input.ChunkID, AlreadyActive: true}, nil
	}

	simRep, simOK := parseArtifact(ctx, input.SimilarityRaw, models.ReportSimilarity, input.Content)
	aiRep, aiOK := parseArtifact(ctx, input.AIRaw, models.ReportAIDetection, input.Content)

	if passesThresholds(simRep, simOK, aiRep, aiOK, input.SimilarityMax, input.AIMax) {
		status.Stage = models.StageCompleted
		status.LastSimilarity = simRep.OverallScore
		status.LastAIScore = aiRep.OverallScore
		if err := workflow.ExecuteActivity(ctx, "CompleteCycleActivity", activities.CompleteCycleInput{
			ChunkID: input.ChunkID,
			Stage:   models.StageCompleted,
			Outcome: models.CycleSuccess,
		}).Get(ctx, nil); err != nil {
			return CycleResult{}, err
		}
		_ = workflow.ExecuteActivity(ctx, "WriteCycleArtifactsActivity",
			activities.WriteCycleArtifactsInput{ChunkID: input.ChunkID}).Get(ctx, nil)
		return CycleResult{ChunkID: input.ChunkID, Outcome: models.CycleSuccess, Stage: models.StageCompleted}, nil
	}

	content := input.Content
	flags := mergeSpans(simRep, aiRep)
	recs := mergeRecommendations(simRep, aiRep)
	attemptDelay := time.Duration(input.AttemptDelaySec) * time.Second

	for attempt := 1; attempt <= input.MaxAttempts; attempt++ {
		status.Attempt = attempt
		status.LastError = ""

		status.Stage = models.StageGenerating
		persistStage(ctx, input.ChunkID, models.StageGenerating, "")
		attemptStart := workflow.Now(ctx)

		var rw activities.RewriteOutput
		if err := workflow.ExecuteActivity(ctx, "RewriteActivity", activities.RewriteInput{
			ChunkID:         input.ChunkID,
			LotID:           input.LotID,
			AttemptNumber:   attempt,
			Content:         content,
			Flags:           flags,
			Recommendations: recs,
		}).Get(ctx, &rw); err != nil {
			status.LastError = err.Error()
			recordAttempt(ctx, input.ChunkID, attempt, len(flags), attemptStart, "",
				0, 0, models.AttemptError, "rewrite failed: "+err.Error())
			sleepBetweenAttempts(ctx, attempt, input.MaxAttempts, attemptDelay)
			continue
		}

		status.Stage = models.StageSubmitting
		persistStage(ctx, input.ChunkID, models.StageSubmitting, "")

		var sub activities.SubmitOutput
		if err := workflow.ExecuteActivity(ctx, "SubmitActivity", activities.SubmitInput{
			ChunkID:       input.ChunkID,
			LotID:         input.LotID,
			AttemptNumber: attempt,
			Content:       rw.Revised,
		}).Get(ctx, &sub); err != nil {
			status.LastError = err.Error()
			recordAttempt(ctx, input.ChunkID, attempt, len(flags), attemptStart, "",
				0, 0, models.AttemptError, "submit failed: "+err.Error())
			sleepBetweenAttempts(ctx, attempt, input.MaxAttempts, attemptDelay)
			continue
		}

		status.Stage = models.StageAwaitingResult
		persistStage(ctx, input.ChunkID, models.StageAwaitingResult, sub.Handle)

		poll, err := awaitReports(ctx, sub.Handle,
			time.Duration(input.PollEverySec)*time.Second,
			time.Duration(input.GatewayTimeout)*time.Second)
		if err != nil || poll.State != models.SubmissionCompleted {
			reason := "gateway timeout"
			if err != nil {
				reason = err.Error()
			} else if poll.Reason != "" {
				reason = poll.Reason
			}
			status.LastError = reason
			recordAttempt(ctx, input.ChunkID, attempt, len(flags), attemptStart, sub.Handle,
				0, 0, models.AttemptError, reason)
			sleepBetweenAttempts(ctx, attempt, input.MaxAttempts, attemptDelay)
			continue
		}

		newSim, newAI, ok := parseWithRefetch(ctx, sub.Handle, poll, rw.Revised, input.MaxReportFetch)
		if !ok {
			status.LastError = "reports unreadable after refetch"
			recordAttempt(ctx, input.ChunkID, attempt, len(flags), attemptStart, sub.Handle,
				0, 0, models.AttemptError, "reports unreadable after refetch")
			sleepBetweenAttempts(ctx, attempt, input.MaxAttempts, attemptDelay)
			continue
		}

		status.LastSimilarity = newSim.OverallScore
		status.LastAIScore = newAI.OverallScore

		passes := passesThresholds(newSim, true, newAI, true, input.SimilarityMax, input.AIMax)
		outcome := models.AttemptFailure
		if passes {
			outcome = models.AttemptSuccess
		}
		recordAttempt(ctx, input.ChunkID, attempt, len(flags), attemptStart, sub.Handle,
			newSim.OverallScore, newAI.OverallScore, outcome, "")

		if passes {
			status.Stage = models.StageCompleted
			if err := workflow.ExecuteActivity(ctx, "CompleteCycleActivity", activities.CompleteCycleInput{
				ChunkID:      input.ChunkID,
				Stage:        models.StageCompleted,
				Outcome:      models.CycleSuccess,
				FinalContent: rw.Revised,
			}).Get(ctx, nil); err != nil {
				return CycleResult{}, err
			}
			_ = workflow.ExecuteActivity(ctx, "WriteCycleArtifactsActivity",
				activities.WriteCycleArtifactsInput{ChunkID: input.ChunkID}).Get(ctx, nil)
			logger.Info("cycle completed", "chunk_id", input.ChunkID, "attempts", attempt)
			return CycleResult{
				ChunkID:  input.ChunkID,
				Outcome:  models.CycleSuccess,
				Stage:    models.StageCompleted,
				Attempts: attempt,
			}, nil
		}

		content = rw.Revised
		flags = mergeSpans(newSim, newAI)
		recs = mergeRecommendations(newSim, newAI)
		sleepBetweenAttempts(ctx, attempt, input.MaxAttempts, attemptDelay)
	}

	// Attempt budget exhausted: close the cycle, then escalate.
	status.Stage = models.StageFailedExhaust
	if err := workflow.ExecuteActivity(ctx, "CompleteCycleActivity", activities.CompleteCycleInput{
		ChunkID: input.ChunkID,
		Stage:   models.StageFailedExhaust,
		Outcome: models.CycleFailure,
	}).Get(ctx, nil); err != nil {
		return CycleResult{}, err
	}

	var esc activities.EscalateCycleOutput
	if err := workflow.ExecuteActivity(ctx, "EscalateCycleActivity", activities.EscalateCycleInput{
		ChunkID:        input.ChunkID,
		LotID:          input.LotID,
		Attempts:       input.MaxAttempts,
		ElapsedSeconds: int64(workflow.Now(ctx).Sub(startedAt) / time.Second),
		LastSimilarity: status.LastSimilarity,
		LastAIScore:    status.LastAIScore,
	}).Get(ctx, &esc); err != nil {
		return CycleResult{}, err
	}
	if esc.Escalated {
		status.Stage = models.StageEscalated
		persistStage(ctx, input.ChunkID, models.StageEscalated, "")
	}
	_ = workflow.ExecuteActivity(ctx, "WriteCycleArtifactsActivity",
		activities.WriteCycleArtifactsInput{ChunkID: input.ChunkID}).Get(ctx, nil)

	logger.Info("cycle exhausted", "chunk_id", input.ChunkID,
		"attempts", input.MaxAttempts, "escalated", esc.Escalated)
	return CycleResult{
		ChunkID:   input.ChunkID,
		Outcome:   models.CycleFailure,
		Stage:     status.Stage,
		Attempts:  input.MaxAttempts,
		Escalated: esc.Escalated,
	}, nil
}

func applyCycleDefaults(in *CycleInput) {
	if in.SimilarityMax <= 0 {
		in.SimilarityMax = 10.0
	}
	if in.AIMax <= 0 {
		in.AIMax = 20.0
	}
	if in.MaxAttempts <= 0 {
		in.MaxAttempts = 3
	}
	if in.AttemptDelaySec <= 0 {
		in.AttemptDelaySec = 30
	}
	if in.PollEverySec <= 0 {
		in.PollEverySec = 15
	}
	if in.GatewayTimeout <= 0 {
		in.GatewayTimeout = 1800
	}
	if in.MaxReportFetch <= 0 {
		in.MaxReportFetch = 2
	}
}

// passesThresholds is conservative: a chunk only passes on two readable
// reports that both carry an explicit score at or under its threshold.
func passesThresholds(sim models.ParsedReport, simOK bool, ai models.ParsedReport, aiOK bool, simMax, aiMax float64) bool {
	if !simOK || !aiOK || !sim.ScoreFound || !ai.ScoreFound {
		return false
	}
	return sim.OverallScore <= simMax && ai.OverallScore <= aiMax
}

func parseArtifact(ctx workflow.Context, raw []byte, kind models.ReportKind, original string) (models.ParsedReport, bool) {
	if len(raw) == 0 {
		return models.ParsedReport{}, false
	}
	var out activities.ParseReportOutput
	if err := workflow.ExecuteActivity(ctx, "ParseReportActivity", activities.ParseReportInput{
		Raw:      raw,
		Kind:     kind,
		Original: original,
	}).Get(ctx, &out); err != nil {
		workflow.GetLogger(ctx).Warn("report parse failed", "kind", kind, "error", err)
		return models.ParsedReport{}, false
	}
	if out.Unreadable {
		return models.ParsedReport{}, false
	}
	return out.Report, true
}

// awaitReports polls the gateway until the submission resolves or the
// deadline passes. The poll interval is workflow time, so replays and
// the test environment's time skipping both behave.
func awaitReports(ctx workflow.Context, handle string, every, timeout time.Duration) (activities.PollSubmissionOutput, error) {
	deadline := workflow.Now(ctx).Add(timeout)
	for {
		var out activities.PollSubmissionOutput
		if err := workflow.ExecuteActivity(ctx, "PollSubmissionActivity",
			activities.PollSubmissionInput{Handle: handle}).Get(ctx, &out); err != nil {
			return activities.PollSubmissionOutput{}, err
		}
		if out.State != models.SubmissionPending {
			return out, nil
		}
		if workflow.Now(ctx).After(deadline) {
			out.State = models.SubmissionFailed
			out.Reason = "gateway timeout"
			return out, nil
		}
		if err := workflow.Sleep(ctx, every); err != nil {
			return activities.PollSubmissionOutput{}, err
		}
	}
}

// parseWithRefetch structures both fetched reports. An unreadable
// artifact spends the re-fetch budget, not a rewrite attempt: the
// submission is re-polled and re-parsed up to maxFetch extra times.
func parseWithRefetch(ctx workflow.Context, handle string, poll activities.PollSubmissionOutput, original string, maxFetch int) (models.ParsedReport, models.ParsedReport, bool) {
	for fetch := 0; ; fetch++ {
		sim, simOK := parseArtifact(ctx, poll.Similarity, models.ReportSimilarity, original)
		ai, aiOK := parseArtifact(ctx, poll.AI, models.ReportAIDetection, original)
		if simOK && aiOK {
			return sim, ai, true
		}
		if fetch >= maxFetch {
			return models.ParsedReport{}, models.ParsedReport{}, false
		}
		var refreshed activities.PollSubmissionOutput
		if err := workflow.ExecuteActivity(ctx, "PollSubmissionActivity",
			activities.PollSubmissionInput{Handle: handle}).Get(ctx, &refreshed); err != nil {
			return models.ParsedReport{}, models.ParsedReport{}, false
		}
		poll = refreshed
	}
}

func persistStage(ctx workflow.Context, chunkID string, stage models.CycleStage, handle string) {
	if err := workflow.ExecuteActivity(ctx, "PersistCycleStageActivity", activities.PersistStageInput{
		ChunkID:          chunkID,
		Stage:            stage,
		SubmissionHandle: handle,
	}).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("stage persist failed", "chunk_id", chunkID, "stage", stage, "error", err)
	}
}

func recordAttempt(ctx workflow.Context, chunkID string, number, spansAddressed int, startedAt time.Time, handle string, sim, ai float64, outcome models.AttemptOutcome, failReason string) {
	completed := workflow.Now(ctx)
	_ = workflow.ExecuteActivity(ctx, "AppendAttemptActivity", activities.AppendAttemptInput{
		ChunkID: chunkID,
		Attempt: models.RewriteAttempt{
			AttemptNumber:    number,
			SpansAddressed:   spansAddressed,
			SimilarityScore:  sim,
			AIScore:          ai,
			SubmissionHandle: handle,
			StartedAt:        startedAt,
			CompletedAt:      &completed,
			Outcome:          outcome,
			FailReason:       failReason,
		},
	}).Get(ctx, nil)
}

func sleepBetweenAttempts(ctx workflow.Context, attempt, max int, delay time.Duration) {
	if attempt < max && delay > 0 {
		_ = workflow.Sleep(ctx, delay)
	}
}

func mergeSpans(sim, ai models.ParsedReport) []models.FlaggedSpan {
	out := make([]models.FlaggedSpan, 0, len(sim.Spans)+len(ai.Spans))
	out = append(out, sim.Spans...)
	out = append(out, ai.Spans...)
	return out
}

func mergeRecommendations(sim, ai models.ParsedReport) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range append(append([]string{}, sim.Recommendations...), ai.Recommendations...) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
