package workflows

import (
	"time"

	"redraft/internal/activities"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const ReconcileWorkflowID = "claim-reconcile"

// ClaimReconcileWorkflow is the recovery sweep for claims whose timer
// workflow was lost, plus housekeeping for expired cycle records. Each
// sweep lists active claims: past-due ones are expired directly through
// the compare-and-set transition, live ones get a timer workflow
// re-started under the claim's deterministic ID. Starting a timer that
// already runs is a no-op.
func ClaimReconcileWorkflow(ctx workflow.Context, input ReconcileInput) error {
	if input.EverySec <= 0 {
		input.EverySec = 60
	}
	if input.WarningOffset <= 0 {
		input.WarningOffset = 300
	}
	if input.MaxSweeps <= 0 {
		input.MaxSweeps = 100
	}

	logger := workflow.GetLogger(ctx)
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

	for sweep := 0; sweep < input.MaxSweeps; sweep++ {
		var claims activities.ListActiveClaimsOutput
		if err := workflow.ExecuteActivity(ctx, "ListActiveClaimsActivity").Get(ctx, &claims); err != nil {
			logger.Warn("active claim listing failed", "error", err)
		} else {
			for _, c := range claims.Claims {
				if !c.ExpiresAt.After(workflow.Now(ctx)) {
					var out activities.ExpireClaimOutput
					_ = workflow.ExecuteActivity(ctx, "ExpireClaimActivity",
						activities.ExpireClaimInput{ChunkID: c.ChunkID}).Get(ctx, &out)
					if out.Expired {
						logger.Info("reconcile expired overdue claim",
							"chunk_id", c.ChunkID, "claimant_id", out.ClaimantID)
					}
					continue
				}

				cwo := workflow.ChildWorkflowOptions{
					WorkflowID:            ClaimTimerWorkflowID(c.ChunkID),
					ParentClosePolicy:     enumspb.PARENT_CLOSE_POLICY_ABANDON,
					WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
				}
				childCtx := workflow.WithChildOptions(ctx, cwo)
				f := workflow.ExecuteChildWorkflow(childCtx, ClaimTimerWorkflow, ClaimTimerInput{
					ChunkID:       c.ChunkID,
					ClaimantID:    c.ClaimantID,
					ClaimedAt:     c.ClaimedAt,
					ExpiresAt:     c.ExpiresAt,
					WarningOffset: input.WarningOffset,
				})
				if err := f.GetChildWorkflowExecution().Get(ctx, nil); err != nil {
					// A live timer already owns this claim.
					continue
				}
				logger.Info("reconcile restarted claim timer", "chunk_id", c.ChunkID)
			}
		}

		var cleaned activities.CleanupExpiredCyclesOutput
		_ = workflow.ExecuteActivity(ctx, "CleanupExpiredCyclesActivity").Get(ctx, &cleaned)

		if err := workflow.Sleep(ctx, time.Duration(input.EverySec)*time.Second); err != nil {
			return err
		}
	}
	return workflow.NewContinueAsNewError(ctx, ClaimReconcileWorkflow, input)
}
