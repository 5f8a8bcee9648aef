package workflows

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker) {
	w.RegisterWorkflow(RewriteCycleWorkflow)
	w.RegisterWorkflow(ClaimTimerWorkflow)
	w.RegisterWorkflow(ClaimReconcileWorkflow)
}
