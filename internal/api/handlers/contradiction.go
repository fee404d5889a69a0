package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/service"
)

type ContradictionHandler struct {
	svc *service.ContradictionService
}

func NewContradictionHandler(svc *service.ContradictionService) *ContradictionHandler {
	return &ContradictionHandler{svc: svc}
}

type listContradictionsResponse struct {
	Contradictions  []domain.Contradiction `json:"contradictions"`
	UnresolvedCount int                    `json:"unresolvedCount"`
}

func (h *ContradictionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f domain.ContradictionListFilter
	if s := q.Get("status"); s != "" {
		if !domain.ValidContradictionStatus(s) {
			writeError(w, domain.Errorf(domain.KindInvalidField,
				"unknown status %q", s).WithDetail("field", "status"))
			return
		}
		status := domain.ContradictionStatus(s)
		f.Status = &status
	}
	if c := q.Get("category"); c != "" {
		cat := domain.Category(c)
		f.Category = &cat
	}
	if s := q.Get("sort"); s != "" {
		if !domain.ValidContradictionSort(s) {
			writeError(w, domain.Errorf(domain.KindInvalidField,
				"unknown sort %q", s).WithDetail("field", "sort"))
			return
		}
		f.Sort = domain.ContradictionSort(s)
	}

	items, unresolved, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []domain.Contradiction{}
	}

	writeJSON(w, http.StatusOK, listContradictionsResponse{
		Contradictions:  items,
		UnresolvedCount: unresolved,
	})
}

type resolveRequest struct {
	Action string `json:"action"`
}

type resolveResponse struct {
	Resolved bool `json:"resolved"`
}

func (h *ContradictionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.Resolve(r.Context(), chi.URLParam(r, "id"), req.Action); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Resolved: true})
}

type conflictsResponse struct {
	Conflicts []domain.Contradiction `json:"conflicts"`
	Count     int                    `json:"count"`
}

// Conflicts is the legacy alias for the unresolved subset. Older agent
// integrations poll it; new clients should use /api/contradictions.
func (h *ContradictionHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	status := domain.ContradictionUnresolved
	items, _, err := h.svc.List(r.Context(), domain.ContradictionListFilter{Status: &status})
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []domain.Contradiction{}
	}
	writeJSON(w, http.StatusOK, conflictsResponse{Conflicts: items, Count: len(items)})
}
