package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/buildconfig"
	"github.com/engramhq/engram/internal/domain"
)

const (
	// IngestTimeout bounds one write end to end, embedding included.
	IngestTimeout = 10 * time.Second
	// DefaultListLimit pages /api/memories when the caller sends none.
	DefaultListLimit = 50
	// MaxListLimit caps a single page.
	MaxListLimit = 1000
	// MaxBulkDeleteIDs caps one bulk-delete request.
	MaxBulkDeleteIDs = 1000
)

var timeNow = time.Now

// RuntimeConfig is the operator-visible configuration block reported by
// Status. Values are fixed at startup.
type RuntimeConfig struct {
	Port                  int    `json:"port"`
	DataDir               string `json:"data_dir"`
	EmbeddingProvider     string `json:"embedding_provider"`
	EmbeddingModel        string `json:"embedding_model"`
	EmbeddingDimensions   int    `json:"embedding_dimensions"`
	ConsolidationInterval string `json:"consolidation_interval"`
	RecallCandidateCap    int    `json:"recall_candidate_cap"`
}

type MemoryService struct {
	store     domain.MemoryStore
	embedder  domain.Embedder
	redactor  domain.Redactor
	extractor domain.Extractor
	cfg       RuntimeConfig
	logger    *zap.Logger
}

func NewMemoryService(ms domain.MemoryStore, emb domain.Embedder, red domain.Redactor, ext domain.Extractor, cfg RuntimeConfig, logger *zap.Logger) *MemoryService {
	return &MemoryService{
		store:     ms,
		embedder:  emb,
		redactor:  red,
		extractor: ext,
		cfg:       cfg,
		logger:    logger,
	}
}

// IngestInput carries the caller-supplied fields of one write. Pointer
// fields distinguish "absent" from zero so extraction only fills real gaps.
type IngestInput struct {
	Content    string
	Category   string
	Entity     *string
	Confidence *float64
	Namespace  string
	Tags       []string
	Source     string
	DecayRate  *float64
}

// IngestResult is the stored memory plus any non-fatal warnings picked up
// along the way (masked secrets, degraded embedding).
type IngestResult struct {
	Memory   *domain.Memory
	Warnings []domain.Warning
}

func (s *MemoryService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, IngestTimeout)
	defer cancel()

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, domain.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > domain.MaxContentLength {
		return nil, domain.Errorf(domain.KindInvalidField,
			"content exceeds %d characters", domain.MaxContentLength).
			WithDetail("field", "content")
	}
	if in.Category != "" && !domain.ValidCategory(in.Category) {
		return nil, domain.Errorf(domain.KindInvalidField,
			"unknown category %q", in.Category).WithDetail("field", "category")
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return nil, domain.NewError(domain.KindInvalidField,
			"confidence must be within [0, 1]").WithDetail("field", "confidence")
	}
	if in.Source != "" && !domain.ValidSource(in.Source) {
		return nil, domain.Errorf(domain.KindInvalidField,
			"unknown source %q", in.Source).WithDetail("field", "source")
	}
	if in.DecayRate != nil && (*in.DecayRate < 0 || *in.DecayRate > domain.MaxDecayRate) {
		return nil, domain.Errorf(domain.KindInvalidField,
			"decay_rate must be within [0, %g]", domain.MaxDecayRate).
			WithDetail("field", "decay_rate")
	}

	var warnings []domain.Warning

	redacted, err := s.redactor.Redact(content)
	if err != nil {
		return nil, err
	}
	content = redacted.Content
	if len(redacted.Masked) > 0 {
		warnings = append(warnings, domain.Warning{
			Kind:    domain.WarningSecretMasked,
			Message: "masked sensitive values: " + strings.Join(redacted.Masked, ", "),
		})
	}

	ext := s.extractor.Extract(content)

	category := domain.Category(in.Category)
	if category == "" {
		category = ext.Category
	}
	entity := in.Entity
	if entity == nil {
		entity = ext.Entity
	}
	confidence := ext.Confidence
	if in.Confidence != nil {
		confidence = *in.Confidence
	}
	namespace := in.Namespace
	if namespace == "" {
		namespace = domain.DefaultNamespace
	}
	source := domain.Source(in.Source)
	if source == "" {
		source = domain.SourceAPI
	}
	decayRate := domain.DefaultDecayRate
	if in.DecayRate != nil {
		decayRate = *in.DecayRate
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewError(domain.KindCanceled, "ingest canceled before commit")
		}
		s.logger.Warn("embedding failed, storing without vector", zap.Error(err))
		warnings = append(warnings, domain.Warning{
			Kind:    domain.WarningDegradedEmbedding,
			Message: "embedder unavailable; memory stored without embedding",
		})
		embedding = nil
	}

	// Last cancellation point: once the row is committed the client gets the
	// memory it was promised.
	if ctx.Err() != nil {
		return nil, domain.NewError(domain.KindCanceled, "ingest canceled before commit")
	}

	now := timeNow().UnixMilli()
	m := &domain.Memory{
		ID:         uuid.NewString(),
		Content:    content,
		Entity:     entity,
		Category:   category,
		Confidence: confidence,
		Embedding:  embedding,
		Source:     source,
		Namespace:  namespace,
		Tags:       domain.NormalizeTags(in.Tags),
		DecayRate:  decayRate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Put(ctx, m); err != nil {
		if !errors.Is(err, domain.ErrDuplicateID) {
			return nil, err
		}
		// One retry with a fresh id; a second collision is a real fault.
		m.ID = uuid.NewString()
		if err := s.store.Put(ctx, m); err != nil {
			return nil, err
		}
	}

	s.logger.Info("memory stored",
		zap.String("id", m.ID),
		zap.String("namespace", m.Namespace),
		zap.String("category", string(m.Category)),
		zap.Bool("embedded", m.HasEmbedding()),
	)

	return &IngestResult{Memory: m, Warnings: warnings}, nil
}

func (s *MemoryService) Get(ctx context.Context, id string) (*domain.Memory, error) {
	if id == "" {
		return nil, domain.NewError(domain.KindInvalidField, "id is required").
			WithDetail("field", "id")
	}
	return s.store.GetByID(ctx, id)
}

func (s *MemoryService) List(ctx context.Context, f domain.ListFilter) ([]domain.Memory, int, error) {
	if f.Category != nil && !domain.ValidCategory(string(*f.Category)) {
		return nil, 0, domain.Errorf(domain.KindInvalidField,
			"unknown category %q", *f.Category).WithDetail("field", "category")
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.List(ctx, f)
}

func (s *MemoryService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return domain.NewError(domain.KindInvalidField, "id is required").
			WithDetail("field", "id")
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("memory deleted", zap.String("id", id))
	return nil
}

func (s *MemoryService) BulkDelete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, domain.NewError(domain.KindInvalidField, "ids is required").
			WithDetail("field", "ids")
	}
	if len(ids) > MaxBulkDeleteIDs {
		return 0, domain.Errorf(domain.KindInvalidField,
			"too many ids: %d exceeds %d", len(ids), MaxBulkDeleteIDs).
			WithDetail("field", "ids")
	}
	deleted, err := s.store.BulkDelete(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.logger.Info("memories bulk deleted", zap.Int("requested", len(ids)), zap.Int("deleted", deleted))
	return deleted, nil
}

// StatusInfo is the full operator snapshot: store counts, embedder health
// and the effective runtime configuration.
type StatusInfo struct {
	Version string             `json:"version"`
	Memory  *domain.StoreStats `json:"memory"`
	Model   domain.ModelInfo   `json:"model"`
	Config  RuntimeConfig      `json:"config"`
}

func (s *MemoryService) Status(ctx context.Context) (*StatusInfo, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusInfo{
		Version: buildconfig.Version(),
		Memory:  stats,
		Model:   s.embedder.Info(),
		Config:  s.cfg,
	}, nil
}
