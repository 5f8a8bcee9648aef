package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.InitCycleActivity)
	w.RegisterActivity(a.ParseReportActivity)
	w.RegisterActivity(a.PersistCycleStageActivity)
	w.RegisterActivity(a.RewriteActivity)
	w.RegisterActivity(a.SubmitActivity)
	w.RegisterActivity(a.PollSubmissionActivity)
	w.RegisterActivity(a.AppendAttemptActivity)
	w.RegisterActivity(a.CompleteCycleActivity)
	w.RegisterActivity(a.EscalateCycleActivity)
	w.RegisterActivity(a.WriteCycleArtifactsActivity)
	w.RegisterActivity(a.MarkClaimWarnedActivity)
	w.RegisterActivity(a.SendClaimWarningActivity)
	w.RegisterActivity(a.ExpireClaimActivity)
	w.RegisterActivity(a.ListActiveClaimsActivity)
	w.RegisterActivity(a.CleanupExpiredCyclesActivity)
}
