package activities

import (
	"fmt"

	"redraft/internal/config"
	"redraft/internal/gateway"
	"redraft/internal/notify"
	"redraft/internal/report"
	"redraft/internal/rewrite"
	"redraft/internal/storage"
)

// New wires the activity set from config and an open database handle.
func New(cfg config.Config, db *storage.DB) (*Activities, error) {
	manager, err := rewrite.NewManager(cfg.RewriteProviders)
	if err != nil {
		return nil, fmt.Errorf("build rewrite providers: %w", err)
	}

	transport, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}
	subRepo := storage.NewSubmissionRepo(db)
	gw := gateway.New(transport, subRepo, cfg.GatewayTimeout, cfg.UploadRatePerSec, cfg.UploadBurst)

	return &Activities{
		Cfg:         cfg,
		Cycles:      storage.NewCycleRepo(db),
		Claims:      storage.NewClaimRepo(db),
		Penalties:   storage.NewPenaltyRepo(db),
		Alerts:      storage.NewAlertRepo(db),
		WorkItems:   storage.NewWorkItemRepo(db),
		Parser:      report.NewParser(report.AutoExtractor{}),
		Gateway:     gw,
		Engine:      rewrite.NewEngine(manager, cfg.LengthTolerance),
		Notifier:    notify.ByName(cfg.NotifyChannel),
		DataOutRoot: cfg.DataOutRoot,
	}, nil
}

func buildTransport(cfg config.Config) (gateway.SubmissionTransport, error) {
	switch cfg.Transport {
	case "loopback", "":
		// Dev transport: echoes both report artifacts back with fixed
		// scores comfortably under the thresholds.
		return gateway.NewLoopback(cfg.SimilarityMax/2, cfg.AIMax/2), nil
	default:
		return nil, fmt.Errorf("unknown submission transport %q", cfg.Transport)
	}
}
