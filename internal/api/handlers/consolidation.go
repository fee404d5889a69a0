package handlers

import (
	"net/http"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/service"
)

type ConsolidationHandler struct {
	svc *service.ConsolidationService
}

func NewConsolidationHandler(svc *service.ConsolidationService) *ConsolidationHandler {
	return &ConsolidationHandler{svc: svc}
}

type consolidateRequest struct {
	DetectDuplicates     bool   `json:"detectDuplicates,omitempty"`
	DetectContradictions bool   `json:"detectContradictions,omitempty"`
	ApplyDecay           bool   `json:"applyDecay,omitempty"`
	CleanupStale         bool   `json:"cleanupStale,omitempty"`
	Namespace            string `json:"namespace,omitempty"`
}

type consolidateResults struct {
	DuplicatesRemoved      int   `json:"duplicatesRemoved"`
	ContradictionsDetected int   `json:"contradictionsDetected"`
	MemoriesDecayed        int   `json:"memoriesDecayed"`
	StaleDeleted           int   `json:"staleDeleted"`
	Duration               int64 `json:"duration"`
}

type consolidateResponse struct {
	Results consolidateResults `json:"results"`
}

// Trigger runs the requested passes synchronously and reports the counts.
// An empty body runs nothing and returns zeros, which doubles as a cheap
// reachability probe.
func (h *ConsolidationHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req consolidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	report, err := h.svc.Run(r.Context(), domain.ConsolidationOptions{
		Duplicates:     req.DetectDuplicates,
		Contradictions: req.DetectContradictions,
		Decay:          req.ApplyDecay,
		Stale:          req.CleanupStale,
		Namespace:      req.Namespace,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, consolidateResponse{Results: consolidateResults{
		DuplicatesRemoved:      report.DuplicatesRemoved,
		ContradictionsDetected: report.ContradictionsDetected,
		MemoriesDecayed:        report.MemoriesDecayed,
		StaleDeleted:           report.StaleDeleted,
		Duration:               report.DurationMS,
	}})
}
