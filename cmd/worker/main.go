package main

import (
	"context"
	"log"
	"time"

	"redraft/internal/activities"
	"redraft/internal/config"
	"redraft/internal/storage"
	"redraft/internal/workflows"

	"github.com/joho/godotenv"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	a, err := activities.New(cfg, db)
	if err != nil {
		log.Fatal(err)
	}
	activities.Register(w, a)

	// The reconcile sweep always runs; an instance surviving a restart
	// is fine, the ID policy keeps it singular.
	_, err = c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    workflows.ReconcileWorkflowID,
		TaskQueue:             cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, workflows.ClaimReconcileWorkflow, workflows.ReconcileInput{
		EverySec:      int(cfg.ReconcileEvery / time.Second),
		WarningOffset: int(cfg.WarningOffset / time.Second),
	})
	if err != nil {
		log.Printf("reconcile workflow start: %v", err)
	}

	log.Printf("redraft worker listening on %s queue=%s providers=%q transport=%s",
		cfg.TemporalAddress, cfg.TemporalTaskQueue, cfg.RewriteProviders, cfg.Transport)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal(err)
	}
}
