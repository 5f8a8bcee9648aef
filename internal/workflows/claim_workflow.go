package workflows

import (
	"time"

	"redraft/internal/activities"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ClaimTimerWorkflowID is deterministic per chunk so at most one timer
// runs per claim, and a recovery sweep can re-start a lost one without
// duplicating a live one.
func ClaimTimerWorkflowID(chunkID string) string {
	return "claim-timer-" + chunkID
}

// ClaimTimerWorkflow enforces the review window on one claim: a
// warning partway through, expiry with penalty at the deadline, and
// immediate shutdown when the completion signal arrives. All state
// transitions go through compare-and-set activities, so a duplicate
// timer or a late signal cannot double-penalize.
func ClaimTimerWorkflow(ctx workflow.Context, input ClaimTimerInput) (ClaimTimerResult, error) {
	logger := workflow.GetLogger(ctx)
	warningOffset := time.Duration(input.WarningOffset) * time.Second
	if warningOffset <= 0 {
		warningOffset = 5 * time.Minute
	}

	state := ClaimTimerState{
		ChunkID:    input.ChunkID,
		ClaimantID: input.ClaimantID,
		ExpiresAt:  input.ExpiresAt,
		Phase:      "waiting",
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetClaimTimer, func() (ClaimTimerState, error) {
		return state, nil
	}); err != nil {
		return ClaimTimerResult{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	completedCh := workflow.GetSignalChannel(ctx, SignalClaimCompleted)

	warnAt := input.ExpiresAt.Add(-warningOffset)
	if d := warnAt.Sub(workflow.Now(ctx)); d > 0 {
		if signalBeforeTimer(ctx, completedCh, d) {
			state.Phase = "completed"
			return ClaimTimerResult{ChunkID: input.ChunkID, Outcome: "completed"}, nil
		}

		var mk activities.MarkClaimWarnedOutput
		if err := workflow.ExecuteActivity(ctx, "MarkClaimWarnedActivity",
			activities.MarkClaimWarnedInput{ChunkID: input.ChunkID}).Get(ctx, &mk); err != nil {
			logger.Warn("warning gate failed", "chunk_id", input.ChunkID, "error", err)
		}
		if mk.Warned {
			state.Warned = true
			state.Phase = "warned"
			remaining := input.ExpiresAt.Sub(workflow.Now(ctx))
			_ = workflow.ExecuteActivity(ctx, "SendClaimWarningActivity", activities.SendClaimWarningInput{
				ChunkID:          input.ChunkID,
				ClaimantID:       input.ClaimantID,
				RemainingSeconds: int64(remaining / time.Second),
			}).Get(ctx, nil)
		}
	}

	if d := input.ExpiresAt.Sub(workflow.Now(ctx)); d > 0 {
		if signalBeforeTimer(ctx, completedCh, d) {
			state.Phase = "completed"
			return ClaimTimerResult{ChunkID: input.ChunkID, Outcome: "completed", Warned: state.Warned}, nil
		}
	}

	var exp activities.ExpireClaimOutput
	if err := workflow.ExecuteActivity(ctx, "ExpireClaimActivity",
		activities.ExpireClaimInput{ChunkID: input.ChunkID}).Get(ctx, &exp); err != nil {
		return ClaimTimerResult{}, err
	}
	if !exp.Expired {
		// The claim resolved through another path between the timer
		// firing and the expiry transition.
		state.Phase = "completed"
		return ClaimTimerResult{ChunkID: input.ChunkID, Outcome: "completed", Warned: state.Warned}, nil
	}

	state.Phase = "expired"
	logger.Info("claim expired by timer", "chunk_id", input.ChunkID,
		"claimant_id", input.ClaimantID, "suspended", exp.Suspended)
	return ClaimTimerResult{
		ChunkID:   input.ChunkID,
		Outcome:   "expired",
		Warned:    state.Warned,
		Suspended: exp.Suspended,
	}, nil
}

// signalBeforeTimer waits for the completion signal or the timer,
// whichever fires first. Returns true when the signal won.
func signalBeforeTimer(ctx workflow.Context, ch workflow.ReceiveChannel, d time.Duration) bool {
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()

	signaled := false
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		var s ClaimCompletedSignal
		c.Receive(ctx, &s)
		signaled = true
	})
	sel.AddFuture(workflow.NewTimer(timerCtx, d), func(f workflow.Future) {})
	sel.Select(ctx)
	return signaled
}
