package activities

import (
	"redraft/internal/models"
)

type InitCycleInput struct {
	ChunkID         string  `json:"chunk_id"`
	LotID           string  `json:"lot_id"`
	OriginalContent string  `json:"original_content"`
	SimilarityMax   float64 `json:"similarity_max"`
	AIMax           float64 `json:"ai_max"`
}

type InitCycleOutput struct {
	Created bool `json:"created"`
}

type ParseReportInput struct {
	Raw      []byte            `json:"raw"`
	Kind     models.ReportKind `json:"kind"`
	Original string            `json:"original"`
}

type ParseReportOutput struct {
	Report     models.ParsedReport `json:"report"`
	Unreadable bool                `json:"unreadable"`
	Reason     string              `json:"reason,omitempty"`
}

type PersistStageInput struct {
	ChunkID          string            `json:"chunk_id"`
	Stage            models.CycleStage `json:"stage"`
	SubmissionHandle string            `json:"submission_handle,omitempty"`
}

type RewriteInput struct {
	ChunkID         string               `json:"chunk_id"`
	LotID           string               `json:"lot_id"`
	AttemptNumber   int                  `json:"attempt_number"`
	Content         string               `json:"content"`
	Flags           []models.FlaggedSpan `json:"flags"`
	Recommendations []string             `json:"recommendations,omitempty"`
}

type RewriteOutput struct {
	Revised  string `json:"revised"`
	Provider string `json:"provider"`
}

type SubmitInput struct {
	ChunkID       string `json:"chunk_id"`
	LotID         string `json:"lot_id"`
	AttemptNumber int    `json:"attempt_number"`
	Content       string `json:"content"`
}

type SubmitOutput struct {
	Handle string `json:"handle"`
}

type PollSubmissionInput struct {
	Handle string `json:"handle"`
}

type PollSubmissionOutput struct {
	State      models.SubmissionState `json:"state"`
	Similarity []byte                 `json:"similarity,omitempty"`
	AI         []byte                 `json:"ai,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

type AppendAttemptInput struct {
	ChunkID string                `json:"chunk_id"`
	Attempt models.RewriteAttempt `json:"attempt"`
}

type CompleteCycleInput struct {
	ChunkID      string              `json:"chunk_id"`
	Stage        models.CycleStage   `json:"stage"`
	Outcome      models.CycleOutcome `json:"outcome"`
	FinalContent string              `json:"final_content,omitempty"`
}

type EscalateCycleInput struct {
	ChunkID        string  `json:"chunk_id"`
	LotID          string  `json:"lot_id"`
	Attempts       int     `json:"attempts"`
	ElapsedSeconds int64   `json:"elapsed_seconds"`
	LastSimilarity float64 `json:"last_similarity"`
	LastAIScore    float64 `json:"last_ai_score"`
}

type EscalateCycleOutput struct {
	Escalated bool `json:"escalated"`
}

type WriteCycleArtifactsInput struct {
	ChunkID string `json:"chunk_id"`
}

type WriteCycleArtifactsOutput struct {
	Dir string `json:"dir"`
}

type MarkClaimWarnedInput struct {
	ChunkID string `json:"chunk_id"`
}

type MarkClaimWarnedOutput struct {
	Warned bool `json:"warned"`
}

type SendClaimWarningInput struct {
	ChunkID          string `json:"chunk_id"`
	ClaimantID       string `json:"claimant_id"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

type ExpireClaimInput struct {
	ChunkID string `json:"chunk_id"`
}

type ExpireClaimOutput struct {
	Expired    bool   `json:"expired"`
	ClaimantID string `json:"claimant_id,omitempty"`
	Points     int    `json:"points"`
	Suspended  bool   `json:"suspended"`
}

type ListActiveClaimsOutput struct {
	Claims []models.Claim `json:"claims"`
}

type CleanupExpiredCyclesOutput struct {
	Deleted int64 `json:"deleted"`
}
