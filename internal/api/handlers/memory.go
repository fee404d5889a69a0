package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/service"
)

type MemoryHandler struct {
	memories *service.MemoryService
	recall   *service.RecallService
}

func NewMemoryHandler(memories *service.MemoryService, recall *service.RecallService) *MemoryHandler {
	return &MemoryHandler{memories: memories, recall: recall}
}

type createMemoryRequest struct {
	Content    string   `json:"content"`
	Category   string   `json:"category,omitempty"`
	Entity     *string  `json:"entity,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Namespace  string   `json:"namespace,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Source     string   `json:"source,omitempty"`
	DecayRate  *float64 `json:"decay_rate,omitempty"`
}

// createMemoryResponse carries the embedding explicitly; list and get
// responses leave it out to keep payloads small.
type createMemoryResponse struct {
	*domain.Memory
	Embedding []float32        `json:"embedding"`
	Warnings  []domain.Warning `json:"warnings,omitempty"`
}

func (h *MemoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.memories.Ingest(r.Context(), service.IngestInput{
		Content:    req.Content,
		Category:   req.Category,
		Entity:     req.Entity,
		Confidence: req.Confidence,
		Namespace:  req.Namespace,
		Tags:       req.Tags,
		Source:     req.Source,
		DecayRate:  req.DecayRate,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createMemoryResponse{
		Memory:    result.Memory,
		Embedding: result.Memory.Embedding,
		Warnings:  result.Warnings,
	})
}

type listMemoriesResponse struct {
	Memories   []domain.Memory `json:"memories"`
	Pagination pagination      `json:"pagination"`
}

type pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := parseIntParam(q.Get("limit"), service.DefaultListLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := parseIntParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if limit <= 0 {
		limit = service.DefaultListLimit
	}
	if limit > service.MaxListLimit {
		limit = service.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	f := domain.ListFilter{
		Namespace: q.Get("namespace"),
		Limit:     limit,
		Offset:    offset,
	}
	if c := q.Get("category"); c != "" {
		cat := domain.Category(c)
		f.Category = &cat
	}

	memories, total, err := h.memories.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if memories == nil {
		memories = []domain.Memory{}
	}

	writeJSON(w, http.StatusOK, listMemoriesResponse{
		Memories:   memories,
		Pagination: pagination{Total: total, Limit: limit, Offset: offset},
	})
}

func (h *MemoryHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	memory, err := h.memories.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memory)
}

func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.memories.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type bulkDeleteResponse struct {
	Deleted int `json:"deleted"`
}

func (h *MemoryHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	deleted, err := h.memories.BulkDelete(r.Context(), req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkDeleteResponse{Deleted: deleted})
}

type searchRequest struct {
	Query     string   `json:"query"`
	Limit     int      `json:"limit,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Namespace string   `json:"namespace,omitempty"`
	Category  string   `json:"category,omitempty"`
}

type searchResponse struct {
	Memories []domain.RecallResult `json:"memories"`
	Count    int                   `json:"count"`
}

func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	q := domain.RecallQuery{
		Query:     req.Query,
		Namespace: req.Namespace,
		Limit:     req.Limit,
		Threshold: req.Threshold,
	}
	if req.Category != "" {
		cat := domain.Category(req.Category)
		q.Category = &cat
	}

	results, err := h.recall.Recall(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []domain.RecallResult{}
	}

	writeJSON(w, http.StatusOK, searchResponse{Memories: results, Count: len(results)})
}

func parseIntParam(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, domain.Errorf(domain.KindInvalidField, "invalid integer %q", s)
	}
	return n, nil
}
