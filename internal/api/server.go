package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"redraft/internal/config"
	"redraft/internal/storage"
	"redraft/internal/util"
	"redraft/internal/workflows"

	gocache "github.com/patrickmn/go-cache"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

type Server struct {
	cfg         config.Config
	db          *storage.DB
	cycleRepo   *storage.CycleRepo
	claimRepo   *storage.ClaimRepo
	penaltyRepo *storage.PenaltyRepo
	alertRepo   *storage.AlertRepo
	workRepo    *storage.WorkItemRepo
	temporal    tclient.Client
	statusCache *gocache.Cache
}

func NewServer(cfg config.Config) *Server {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		panic(err)
	}
	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		panic(err)
	}
	return &Server{
		cfg:         cfg,
		db:          db,
		cycleRepo:   storage.NewCycleRepo(db),
		claimRepo:   storage.NewClaimRepo(db),
		penaltyRepo: storage.NewPenaltyRepo(db),
		alertRepo:   storage.NewAlertRepo(db),
		workRepo:    storage.NewWorkItemRepo(db),
		temporal:    tc,
		statusCache: gocache.New(cfg.StatusCacheTTL, 2*cfg.StatusCacheTTL),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/cycles", s.handleCycles)
	mux.HandleFunc("/cycles/", s.handleCyclesScoped)
	mux.HandleFunc("/claims", s.handleClaims)
	mux.HandleFunc("/claims/", s.handleClaimsScoped)
	mux.HandleFunc("/claimants/", s.handleClaimantsScoped)
	mux.HandleFunc("/alerts", s.handleAlerts)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		ChunkID             string `json:"chunk_id"`
		LotID               string `json:"lot_id"`
		Content             string `json:"content"`
		SimilarityReportB64 string `json:"similarity_report_b64,omitempty"`
		AIReportB64         string `json:"ai_report_b64,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.ChunkID = strings.TrimSpace(req.ChunkID)
	req.LotID = strings.TrimSpace(req.LotID)
	if req.ChunkID == "" || strings.TrimSpace(req.Content) == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("chunk_id and content are required"))
		return
	}
	simRaw, err := decodeB64(req.SimilarityReportB64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid similarity_report_b64: %w", err))
		return
	}
	aiRaw, err := decodeB64(req.AIReportB64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid ai_report_b64: %w", err))
		return
	}

	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       "cycle-" + req.ChunkID,
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.RewriteCycleWorkflow, workflows.CycleInput{
		ChunkID:         req.ChunkID,
		LotID:           req.LotID,
		Content:         req.Content,
		SimilarityRaw:   simRaw,
		AIRaw:           aiRaw,
		SimilarityMax:   s.cfg.SimilarityMax,
		AIMax:           s.cfg.AIMax,
		MaxAttempts:     s.cfg.MaxAttempts,
		AttemptDelaySec: int(s.cfg.AttemptDelay / time.Second),
		PollEverySec:    int(s.cfg.GatewayPollEvery / time.Second),
		GatewayTimeout:  int(s.cfg.GatewayTimeout / time.Second),
		MaxReportFetch:  s.cfg.MaxReportRefetch,
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"chunk_id":    req.ChunkID,
		"workflow_id": we.GetID(),
		"run_id":      we.GetRunID(),
	})
}

func (s *Server) handleCyclesScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/cycles/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	chunkID := parts[0]

	if len(parts) == 1 {
		if cached, ok := s.statusCache.Get("cycle:" + chunkID); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
		c, err := s.cycleRepo.Get(r.Context(), chunkID)
		if err != nil {
			if errors.Is(err, util.ErrNotFound) {
				writeErr(w, http.StatusNotFound, err)
				return
			}
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		// Only terminal cycles are cached; a live one should read fresh.
		if c.Stage.Terminal() {
			s.statusCache.SetDefault("cycle:"+chunkID, c)
		}
		writeJSON(w, http.StatusOK, c)
		return
	}

	if len(parts) == 2 && parts[1] == "live" {
		var status workflows.CycleStatus
		resp, err := s.temporal.QueryWorkflow(r.Context(), "cycle-"+chunkID, "", workflows.QueryGetCycleStatus)
		if err != nil {
			// No running workflow to query; fall back to the stored record.
			c, dbErr := s.cycleRepo.Get(r.Context(), chunkID)
			if dbErr != nil {
				writeErr(w, http.StatusNotFound, dbErr)
				return
			}
			sim, ai := c.LastScores()
			writeJSON(w, http.StatusOK, workflows.CycleStatus{
				ChunkID:        c.ChunkID,
				Stage:          c.Stage,
				Attempt:        len(c.Attempts),
				LastSimilarity: sim,
				LastAIScore:    ai,
			})
			return
		}
		if err := resp.Get(&status); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		ChunkID    string `json:"chunk_id"`
		ClaimantID string `json:"claimant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.ChunkID = strings.TrimSpace(req.ChunkID)
	req.ClaimantID = strings.TrimSpace(req.ClaimantID)
	if req.ChunkID == "" || req.ClaimantID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("chunk_id and claimant_id are required"))
		return
	}

	suspended, err := s.penaltyRepo.IsSuspended(r.Context(), req.ClaimantID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if suspended {
		writeErr(w, http.StatusForbidden, util.ErrSuspended)
		return
	}

	claim, err := s.claimRepo.Start(r.Context(), req.ChunkID, req.ClaimantID, s.cfg.ClaimWindow)
	if err != nil {
		if errors.Is(err, util.ErrClaimConflict) {
			writeErr(w, http.StatusConflict, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	// Re-claiming by the same holder restarts the window, so any
	// previous timer for this chunk is replaced outright.
	_, err = s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                    workflows.ClaimTimerWorkflowID(req.ChunkID),
		TaskQueue:             s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_TERMINATE_IF_RUNNING,
	}, workflows.ClaimTimerWorkflow, workflows.ClaimTimerInput{
		ChunkID:       claim.ChunkID,
		ClaimantID:    claim.ClaimantID,
		ClaimedAt:     claim.ClaimedAt,
		ExpiresAt:     claim.ExpiresAt,
		WarningOffset: int(s.cfg.WarningOffset / time.Second),
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("start claim timer: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, claim)
}

func (s *Server) handleClaimsScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/claims/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	chunkID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		claim, err := s.claimRepo.Get(r.Context(), chunkID)
		if err != nil {
			if errors.Is(err, util.ErrNotFound) {
				writeErr(w, http.StatusNotFound, err)
				return
			}
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, claim)
		return
	}

	if len(parts) == 2 && parts[1] == "complete" {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		var req struct {
			ClaimantID string `json:"claimant_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		won, err := s.claimRepo.Complete(r.Context(), chunkID, strings.TrimSpace(req.ClaimantID))
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		if !won {
			writeErr(w, http.StatusConflict, fmt.Errorf("claim is not active for this claimant"))
			return
		}
		// Best effort: the timer may already be gone, and the store
		// transition above is what actually protects against expiry.
		_ = s.temporal.SignalWorkflow(r.Context(), workflows.ClaimTimerWorkflowID(chunkID), "",
			workflows.SignalClaimCompleted, workflows.ClaimCompletedSignal{ClaimantID: req.ClaimantID})
		writeJSON(w, http.StatusOK, map[string]any{"chunk_id": chunkID, "status": "completed"})
		return
	}

	writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) handleClaimantsScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/claimants/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "claims" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	claimantID := parts[0]

	claims, err := s.claimRepo.ListActiveByClaimant(r.Context(), claimantID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	penalty, err := s.penaltyRepo.Get(r.Context(), claimantID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claimant_id": claimantID,
		"claims":      claims,
		"penalty":     penalty,
	})
}

// handleAlerts drains escalation alerts oldest first. GET without
// consuming is deliberately not offered; the queue is a handoff, not a
// log.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	alert, err := s.alertRepo.Pop(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if alert == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alert": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alert": alert})
}

func decodeB64(s string) ([]byte, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "RD-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "RD-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "RD-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "RD-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "RD-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusForbidden:
		code = "RD-API-4003"
		msg = "Claimant is suspended from taking new claims."
	case status == http.StatusNotFound:
		code = "RD-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "RD-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "RD-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	if status >= 400 && status < 500 && err != nil {
		low := strings.ToLower(err.Error())
		switch {
		case strings.Contains(low, "chunk_id and content are required"):
			msg = "Both chunk and content are required."
		case strings.Contains(low, "chunk_id and claimant_id are required"):
			msg = "Both chunk and claimant are required."
		case strings.Contains(low, "already claimed"):
			msg = "Another reviewer already holds this claim."
		case strings.Contains(low, "not active for this claimant"):
			msg = "No active claim by this claimant on the chunk."
		case strings.Contains(low, "invalid json"):
			msg = "Malformed JSON request body."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
