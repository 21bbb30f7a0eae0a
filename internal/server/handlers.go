package server

import (
	"context"
	"encoding/csv"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/model"
	"github.com/vanshika/churngraph/internal/runstore"
)

const (
	defaultRunsPageSize = 20
	defaultRiskPageSize = 100
	maxPageSize         = 1000
)

// RunStore is the read side of the run store.
type RunStore interface {
	ListRuns(ctx context.Context, limit, offset int) ([]runstore.Run, error)
	GetRun(ctx context.Context, id string) (runstore.Run, error)
	RiskScores(ctx context.Context, runID string, limit, offset int) ([]domain.RiskScore, int, error)
	CohortMembers(ctx context.Context, runID string) ([]domain.CohortMember, error)
}

// APIHandlers exposes HTTP handlers for the results API.
type APIHandlers struct {
	logger *slog.Logger
	store  RunStore
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, store RunStore) *APIHandlers {
	return &APIHandlers{
		logger: logger,
		store:  store,
	}
}

type runSummary struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	StartedAt    string `json:"startedAt"`
	FinishedAt   string `json:"finishedAt,omitempty"`
	ModelVersion string `json:"modelVersion,omitempty"`
	CohortSize   int    `json:"cohortSize"`
	Scored       int    `json:"scored"`
	Error        string `json:"error,omitempty"`
}

type runsResponse struct {
	Runs   []runSummary `json:"runs"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type runResponse struct {
	runSummary
	Provenance domain.Provenance `json:"provenance"`
	Report     domain.Summary    `json:"report"`
	Metrics    model.Metrics     `json:"metrics"`
}

type riskScore struct {
	Rank         int     `json:"rank"`
	UserID       int64   `json:"userId"`
	RiskScore    float64 `json:"riskScore"`
	ModelVersion string  `json:"modelVersion"`
}

type riskResponse struct {
	RunID  string      `json:"runId"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Scores []riskScore `json:"scores"`
}

type cohortMember struct {
	UserID  int64   `json:"userId"`
	Churned bool    `json:"churned"`
	Weight  float64 `json:"weight"`
}

type cohortResponse struct {
	RunID   string         `json:"runId"`
	Members []cohortMember `json:"members"`
}

func (h *APIHandlers) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	limit, offset := pagination(r, defaultRunsPageSize)
	runs, err := h.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	response := runsResponse{Runs: make([]runSummary, 0, len(runs)), Limit: limit, Offset: offset}
	for _, run := range runs {
		response.Runs = append(response.Runs, summarize(run))
	}
	respondJSON(w, http.StatusOK, response)
}

// handleRun serves /runs/{id}, /runs/{id}/risk and /runs/{id}/cohort.
func (h *APIHandlers) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/runs/"), "/"), "/")
	runID := parts[0]
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	switch {
	case len(parts) == 1:
		h.getRun(w, r, runID)
	case len(parts) == 2 && parts[1] == "risk":
		h.getRisk(w, r, runID)
	case len(parts) == 2 && parts[1] == "cohort":
		h.getCohort(w, r, runID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *APIHandlers) getRun(w http.ResponseWriter, r *http.Request, runID string) {
	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		h.storeError(w, err, runID, "failed to fetch run")
		return
	}
	respondJSON(w, http.StatusOK, runResponse{
		runSummary: summarize(run),
		Provenance: run.Provenance,
		Report:     run.Report,
		Metrics:    run.Metrics,
	})
}

func (h *APIHandlers) getRisk(w http.ResponseWriter, r *http.Request, runID string) {
	limit, offset := pagination(r, defaultRiskPageSize)
	if wantsCSV(r) && r.URL.Query().Get("limit") == "" {
		// A CSV export without a limit carries the whole list.
		limit = 0
	}
	scores, total, err := h.store.RiskScores(r.Context(), runID, limit, offset)
	if err != nil {
		h.storeError(w, err, runID, "failed to fetch risk scores")
		return
	}

	if wantsCSV(r) {
		rows := make([][]string, 0, len(scores))
		for _, s := range scores {
			rows = append(rows, []string{
				strconv.Itoa(s.Rank),
				strconv.FormatInt(s.UserID, 10),
				strconv.FormatFloat(s.Score, 'f', -1, 64),
				s.ModelVersion,
			})
		}
		h.respondCSV(w, runID+"-risk.csv", []string{"rank", "user_id", "risk_score", "model_version"}, rows)
		return
	}

	response := riskResponse{RunID: runID, Total: total, Limit: limit, Offset: offset, Scores: make([]riskScore, 0, len(scores))}
	for _, s := range scores {
		response.Scores = append(response.Scores, riskScore{
			Rank:         s.Rank,
			UserID:       s.UserID,
			RiskScore:    s.Score,
			ModelVersion: s.ModelVersion,
		})
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *APIHandlers) getCohort(w http.ResponseWriter, r *http.Request, runID string) {
	members, err := h.store.CohortMembers(r.Context(), runID)
	if err != nil {
		h.storeError(w, err, runID, "failed to fetch cohort")
		return
	}

	if wantsCSV(r) {
		rows := make([][]string, 0, len(members))
		for _, m := range members {
			rows = append(rows, []string{
				strconv.FormatInt(m.UserID, 10),
				strconv.FormatBool(m.Churned),
				strconv.FormatFloat(m.Weight, 'f', -1, 64),
			})
		}
		h.respondCSV(w, runID+"-cohort.csv", []string{"user_id", "churned", "weight"}, rows)
		return
	}

	response := cohortResponse{RunID: runID, Members: make([]cohortMember, 0, len(members))}
	for _, m := range members {
		response.Members = append(response.Members, cohortMember{UserID: m.UserID, Churned: m.Churned, Weight: m.Weight})
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *APIHandlers) storeError(w http.ResponseWriter, err error, runID, msg string) {
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	h.logger.Error(msg, "error", err, "runId", runID)
	writeError(w, http.StatusInternalServerError, msg)
}

func (h *APIHandlers) respondCSV(w http.ResponseWriter, filename string, header []string, rows [][]string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		h.logger.Error("failed to write csv header", "error", err)
		return
	}
	if err := cw.WriteAll(rows); err != nil {
		h.logger.Error("failed to write csv rows", "error", err)
	}
}

func summarize(run runstore.Run) runSummary {
	return runSummary{
		ID:           run.ID,
		Status:       run.Status,
		StartedAt:    formatTime(run.StartedAt),
		FinishedAt:   formatTime(run.FinishedAt),
		ModelVersion: run.ModelVersion,
		CohortSize:   run.CohortSize,
		Scored:       run.Scored,
		Error:        run.Error,
	}
}

func wantsCSV(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("format"), "csv")
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	query := r.URL.Query()
	limit = parseInt(query.Get("limit"), defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset = parseInt(query.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	if v, err := strconv.Atoi(value); err == nil {
		return v
	}
	return fallback
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
