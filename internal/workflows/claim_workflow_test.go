package workflows

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"redraft/internal/activities"
	"redraft/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

func registerClaimStubs(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterWorkflow(ClaimTimerWorkflow)
	registerActivityName(env, "MarkClaimWarnedActivity", func(context.Context, activities.MarkClaimWarnedInput) (activities.MarkClaimWarnedOutput, error) {
		return activities.MarkClaimWarnedOutput{}, nil
	})
	registerActivityName(env, "SendClaimWarningActivity", func(context.Context, activities.SendClaimWarningInput) error { return nil })
	registerActivityName(env, "ExpireClaimActivity", func(context.Context, activities.ExpireClaimInput) (activities.ExpireClaimOutput, error) {
		return activities.ExpireClaimOutput{}, nil
	})
}

func claimInput(env *testsuite.TestWorkflowEnvironment) ClaimTimerInput {
	now := env.Now().UTC()
	return ClaimTimerInput{
		ChunkID:       "chunk-9",
		ClaimantID:    "checker-7",
		ClaimedAt:     now,
		ExpiresAt:     now.Add(15 * time.Minute),
		WarningOffset: 300,
	}
}

func TestClaimCompletedBeforeWarningSkipsPenalty(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	registerClaimStubs(env)

	var warnings, expirations atomic.Int32
	env.OnActivity("MarkClaimWarnedActivity", mock.Anything, mock.Anything).Return(
		func(context.Context, activities.MarkClaimWarnedInput) (activities.MarkClaimWarnedOutput, error) {
			warnings.Add(1)
			return activities.MarkClaimWarnedOutput{Warned: true}, nil
		})
	env.OnActivity("ExpireClaimActivity", mock.Anything, mock.Anything).Return(
		func(context.Context, activities.ExpireClaimInput) (activities.ExpireClaimOutput, error) {
			expirations.Add(1)
			return activities.ExpireClaimOutput{Expired: true}, nil
		})

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalClaimCompleted, ClaimCompletedSignal{ClaimantID: "checker-7"})
	}, 6*time.Minute)

	env.ExecuteWorkflow(ClaimTimerWorkflow, claimInput(env))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ClaimTimerResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "completed", out.Outcome)
	require.False(t, out.Warned)
	require.Equal(t, int32(0), warnings.Load())
	require.Equal(t, int32(0), expirations.Load())
}

func TestClaimWarnsOnceThenExpiresWithPenalty(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	registerClaimStubs(env)

	var warningsSent atomic.Int32
	env.OnActivity("MarkClaimWarnedActivity", mock.Anything, mock.Anything).Return(activities.MarkClaimWarnedOutput{Warned: true}, nil)
	env.OnActivity("SendClaimWarningActivity", mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.SendClaimWarningInput) error {
			warningsSent.Add(1)
			require.Equal(t, "checker-7", in.ClaimantID)
			require.InDelta(t, int64(300), in.RemainingSeconds, 5)
			return nil
		})
	env.OnActivity("ExpireClaimActivity", mock.Anything, mock.Anything).Return(activities.ExpireClaimOutput{
		Expired:    true,
		ClaimantID: "checker-7",
		Points:     1,
	}, nil)

	env.ExecuteWorkflow(ClaimTimerWorkflow, claimInput(env))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ClaimTimerResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "expired", out.Outcome)
	require.True(t, out.Warned)
	require.False(t, out.Suspended)
	require.Equal(t, int32(1), warningsSent.Load())
}

func TestClaimCompletedAfterWarningBeforeDeadline(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	registerClaimStubs(env)

	var expirations atomic.Int32
	env.OnActivity("MarkClaimWarnedActivity", mock.Anything, mock.Anything).Return(activities.MarkClaimWarnedOutput{Warned: true}, nil)
	env.OnActivity("SendClaimWarningActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("ExpireClaimActivity", mock.Anything, mock.Anything).Return(
		func(context.Context, activities.ExpireClaimInput) (activities.ExpireClaimOutput, error) {
			expirations.Add(1)
			return activities.ExpireClaimOutput{Expired: true}, nil
		})

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalClaimCompleted, ClaimCompletedSignal{ClaimantID: "checker-7"})
	}, 12*time.Minute)

	env.ExecuteWorkflow(ClaimTimerWorkflow, claimInput(env))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ClaimTimerResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "completed", out.Outcome)
	require.True(t, out.Warned)
	require.Equal(t, int32(0), expirations.Load())
}

func TestClaimExpiryLostRaceReportsCompleted(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	registerClaimStubs(env)

	env.OnActivity("MarkClaimWarnedActivity", mock.Anything, mock.Anything).Return(activities.MarkClaimWarnedOutput{Warned: false}, nil)
	env.OnActivity("ExpireClaimActivity", mock.Anything, mock.Anything).Return(activities.ExpireClaimOutput{Expired: false}, nil)

	env.ExecuteWorkflow(ClaimTimerWorkflow, claimInput(env))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ClaimTimerResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "completed", out.Outcome)
	require.False(t, out.Warned)
}

func TestClaimTimerQueryReflectsLostWarningGate(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	registerClaimStubs(env)

	// Another timer instance already holds the warned flag.
	env.OnActivity("MarkClaimWarnedActivity", mock.Anything, mock.Anything).Return(activities.MarkClaimWarnedOutput{Warned: false}, nil)
	env.OnActivity("ExpireClaimActivity", mock.Anything, mock.Anything).Return(activities.ExpireClaimOutput{Expired: true}, nil)

	env.RegisterDelayedCallback(func() {
		v, err := env.QueryWorkflow(QueryGetClaimTimer)
		require.NoError(t, err)
		var st ClaimTimerState
		require.NoError(t, v.Get(&st))
		require.False(t, st.Warned)
		require.Equal(t, "waiting", st.Phase)
	}, 12*time.Minute)

	env.ExecuteWorkflow(ClaimTimerWorkflow, claimInput(env))
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ClaimTimerResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "expired", out.Outcome)
	require.False(t, out.Warned)
}

func TestReconcileExpiresOverdueClaimDirectly(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ClaimReconcileWorkflow)
	registerClaimStubs(env)
	registerActivityName(env, "ListActiveClaimsActivity", func(context.Context) (activities.ListActiveClaimsOutput, error) {
		return activities.ListActiveClaimsOutput{}, nil
	})
	registerActivityName(env, "CleanupExpiredCyclesActivity", func(context.Context) (activities.CleanupExpiredCyclesOutput, error) {
		return activities.CleanupExpiredCyclesOutput{}, nil
	})

	overdue := env.Now().UTC().Add(-2 * time.Minute)
	env.OnActivity("ListActiveClaimsActivity", mock.Anything).Return(activities.ListActiveClaimsOutput{
		Claims: []models.Claim{{
			ChunkID:    "chunk-overdue",
			ClaimantID: "checker-1",
			ClaimedAt:  overdue.Add(-15 * time.Minute),
			ExpiresAt:  overdue,
			Status:     models.ClaimActive,
		}},
	}, nil)
	env.OnActivity("ExpireClaimActivity", mock.Anything, mock.Anything).Return(activities.ExpireClaimOutput{
		Expired:    true,
		ClaimantID: "checker-1",
		Points:     1,
	}, nil)

	env.ExecuteWorkflow(ClaimReconcileWorkflow, ReconcileInput{EverySec: 30, MaxSweeps: 1})
	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	require.True(t, workflow.IsContinueAsNewError(err))
	env.AssertCalled(t, "ExpireClaimActivity", mock.Anything, activities.ExpireClaimInput{ChunkID: "chunk-overdue"})
}
