package workflows

import (
	"time"

	"redraft/internal/models"
)

const (
	QueryGetCycleStatus = "GetCycleStatus"
	QueryGetClaimTimer  = "GetClaimTimer"

	SignalClaimCompleted = "claim-completed"
)

// CycleInput carries everything a rewrite cycle needs, including its
// tunables, so a running workflow is unaffected by config changes on
// the worker.
type CycleInput struct {
	ChunkID         string  `json:"chunk_id"`
	LotID           string  `json:"lot_id"`
	Content         string  `json:"content"`
	SimilarityRaw   []byte  `json:"similarity_raw"`
	AIRaw           []byte  `json:"ai_raw"`
	SimilarityMax   float64 `json:"similarity_max"`
	AIMax           float64 `json:"ai_max"`
	MaxAttempts     int     `json:"max_attempts"`
	AttemptDelaySec int     `json:"attempt_delay_sec"`
	PollEverySec    int     `json:"poll_every_sec"`
	GatewayTimeout  int     `json:"gateway_timeout_sec"`
	MaxReportFetch  int     `json:"max_report_fetch"`
}

// CycleStatus is the live progress surface exposed through the query
// handler and the API's /cycles/{id}/live endpoint.
type CycleStatus struct {
	ChunkID        string            `json:"chunk_id"`
	Stage          models.CycleStage `json:"stage"`
	Attempt        int               `json:"attempt"`
	MaxAttempts    int               `json:"max_attempts"`
	LastSimilarity float64           `json:"last_similarity"`
	LastAIScore    float64           `json:"last_ai_score"`
	LastError      string            `json:"last_error,omitempty"`
}

type CycleResult struct {
	ChunkID       string              `json:"chunk_id"`
	Outcome       models.CycleOutcome `json:"outcome"`
	Stage         models.CycleStage   `json:"stage"`
	Attempts      int                 `json:"attempts"`
	Escalated     bool                `json:"escalated"`
	AlreadyActive bool                `json:"already_active"`
}

type ClaimTimerInput struct {
	ChunkID       string    `json:"chunk_id"`
	ClaimantID    string    `json:"claimant_id"`
	ClaimedAt     time.Time `json:"claimed_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	WarningOffset int       `json:"warning_offset_sec"`
}

type ClaimTimerState struct {
	ChunkID    string    `json:"chunk_id"`
	ClaimantID string    `json:"claimant_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	Warned     bool      `json:"warned"`
	Phase      string    `json:"phase"`
}

type ClaimTimerResult struct {
	ChunkID   string `json:"chunk_id"`
	Outcome   string `json:"outcome"`
	Warned    bool   `json:"warned"`
	Suspended bool   `json:"suspended"`
}

type ClaimCompletedSignal struct {
	ClaimantID string `json:"claimant_id"`
}

type ReconcileInput struct {
	EverySec      int `json:"every_sec"`
	WarningOffset int `json:"warning_offset_sec"`
	MaxSweeps     int `json:"max_sweeps"`
}
