package handlers

import (
	"net/http"

	"github.com/engramhq/engram/internal/service"
)

type StatusHandler struct {
	svc *service.MemoryService
}

func NewStatusHandler(svc *service.MemoryService) *StatusHandler {
	return &StatusHandler{svc: svc}
}

func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
