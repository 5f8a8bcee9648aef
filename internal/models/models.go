package models

import "time"

type ReportKind string

const (
	ReportSimilarity  ReportKind = "similarity"
	ReportAIDetection ReportKind = "ai_detection"
)

type FlagKind string

const (
	FlagSimilarity      FlagKind = "similarity"
	FlagAIDetection     FlagKind = "ai_detection"
	FlagParaphrase      FlagKind = "paraphrase"
	FlagCitationMissing FlagKind = "citation_missing"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FlaggedSpan is one located finding inside the content snapshot a
// report was generated against. Immutable once parsed.
type FlaggedSpan struct {
	Text              string   `json:"text"`
	StartOffset       int      `json:"start_offset"`
	EndOffset         int      `json:"end_offset"`
	FlagKind          FlagKind `json:"flag_kind"`
	Confidence        float64  `json:"confidence"`
	Severity          Severity `json:"severity"`
	SourceAttribution string   `json:"source_attribution,omitempty"`
}

// ParsedReport is derived once per submitted document and never mutated;
// the next attempt produces a new one.
type ParsedReport struct {
	Kind              ReportKind       `json:"kind"`
	OverallScore      float64          `json:"overall_score"`
	ScoreFound        bool             `json:"score_found"`
	Spans             []FlaggedSpan    `json:"spans"`
	SeverityHistogram map[Severity]int `json:"severity_histogram"`
	Recommendations   []string         `json:"recommendations,omitempty"`
}

type AttemptOutcome string

const (
	AttemptPending AttemptOutcome = "pending"
	AttemptSuccess AttemptOutcome = "success"
	AttemptFailure AttemptOutcome = "failure"
	AttemptError   AttemptOutcome = "error"
)

// RewriteAttempt is append-only; never edited after CompletedAt is set.
type RewriteAttempt struct {
	AttemptNumber    int            `json:"attempt_number"`
	SpansAddressed   int            `json:"spans_addressed"`
	SimilarityScore  float64        `json:"similarity_score"`
	AIScore          float64        `json:"ai_score"`
	SubmissionHandle string         `json:"submission_handle,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Outcome          AttemptOutcome `json:"outcome"`
	FailReason       string         `json:"fail_reason,omitempty"`
}

type CycleStage string

const (
	StageParsing        CycleStage = "parsing"
	StageGenerating     CycleStage = "generating"
	StageSubmitting     CycleStage = "submitting"
	StageAwaitingResult CycleStage = "awaiting_result"
	StageCompleted      CycleStage = "completed"
	StageFailedExhaust  CycleStage = "failed_exhausted"
	StageEscalated      CycleStage = "escalated"
)

// Terminal reports whether a cycle in this stage can never transition again.
func (s CycleStage) Terminal() bool {
	return s == StageCompleted || s == StageFailedExhaust || s == StageEscalated
}

type CycleOutcome string

const (
	CyclePending CycleOutcome = "pending"
	CycleSuccess CycleOutcome = "success"
	CycleFailure CycleOutcome = "failure"
)

// RewriteCycle is the aggregate root for automated remediation of one
// chunk. One active cycle per chunk id, enforced by the store.
type RewriteCycle struct {
	ChunkID          string           `json:"chunk_id"`
	LotID            string           `json:"lot_id"`
	Stage            CycleStage       `json:"stage"`
	Outcome          CycleOutcome     `json:"outcome"`
	Attempts         []RewriteAttempt `json:"attempts"`
	OriginalContent  string           `json:"original_content"`
	LatestContent    string           `json:"latest_content"`
	SimilarityMax    float64          `json:"similarity_max"`
	AIMax            float64          `json:"ai_max"`
	SubmissionHandle string           `json:"submission_handle,omitempty"`
	Escalated        bool             `json:"escalated"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	ExpiresAt        time.Time        `json:"expires_at"`
}

func (c RewriteCycle) LastScores() (similarity, ai float64) {
	for i := len(c.Attempts) - 1; i >= 0; i-- {
		a := c.Attempts[i]
		if a.Outcome == AttemptSuccess || a.Outcome == AttemptFailure {
			return a.SimilarityScore, a.AIScore
		}
	}
	return 0, 0
}

type ClaimStatus string

const (
	ClaimActive    ClaimStatus = "active"
	ClaimCompleted ClaimStatus = "completed"
	ClaimExpired   ClaimStatus = "expired"
)

// Claim is a human reviewer's exclusive, time-boxed lock on a chunk.
type Claim struct {
	ChunkID    string      `json:"chunk_id"`
	ClaimantID string      `json:"claimant_id"`
	ClaimedAt  time.Time   `json:"claimed_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
	Warned     bool        `json:"warned"`
	Status     ClaimStatus `json:"status"`
}

// PenaltyState accumulates expired-claim penalties per claimant. Points
// reset to zero when a suspension is applied.
type PenaltyState struct {
	ClaimantID     string     `json:"claimant_id"`
	Points         int        `json:"points"`
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
}

type WorkItemStatus string

const (
	WorkItemOpen           WorkItemStatus = "open"
	WorkItemRewriting      WorkItemStatus = "rewriting"
	WorkItemChecking       WorkItemStatus = "checking"
	WorkItemSubmitted      WorkItemStatus = "submitted"
	WorkItemNeedsAttention WorkItemStatus = "needs_attention"
)

type WorkItem struct {
	ChunkID       string         `json:"chunk_id"`
	LotID         string         `json:"lot_id"`
	Status        WorkItemStatus `json:"status"`
	ClaimantID    string         `json:"claimant_id,omitempty"`
	ClaimDeadline *time.Time     `json:"claim_deadline,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// AdminAlert is the durable escalation payload, enqueued exactly once
// per exhausted cycle.
type AdminAlert struct {
	AlertID        string    `json:"alert_id"`
	Type           string    `json:"type"`
	ChunkID        string    `json:"chunk_id"`
	LotID          string    `json:"lot_id"`
	Attempts       int       `json:"attempts"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
	LastSimilarity float64   `json:"last_similarity_score"`
	LastAIScore    float64   `json:"last_ai_score"`
	Timestamp      time.Time `json:"timestamp"`
}

type SubmissionState string

const (
	SubmissionPending   SubmissionState = "pending"
	SubmissionCompleted SubmissionState = "completed"
	SubmissionFailed    SubmissionState = "failed"
)

// Submission tracks one upload to the checking service and the report
// artifacts correlated back to it.
type Submission struct {
	Handle             string          `json:"handle"`
	ChunkID            string          `json:"chunk_id"`
	Filename           string          `json:"filename"`
	SubmittedAt        time.Time       `json:"submitted_at"`
	Deadline           time.Time       `json:"deadline"`
	Status             SubmissionState `json:"status"`
	SimilarityArtifact []byte          `json:"-"`
	SimilarityMsgID    string          `json:"similarity_msg_id,omitempty"`
	AIArtifact         []byte          `json:"-"`
	AIMsgID            string          `json:"ai_msg_id,omitempty"`
}

func (s Submission) Complete() bool {
	return len(s.SimilarityArtifact) > 0 && len(s.AIArtifact) > 0
}
