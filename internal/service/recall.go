package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/embedding"
)

const (
	// RecallTimeout bounds one query end to end.
	RecallTimeout = 5 * time.Second
	// ftsTopK is how many full-text hits join the candidate set.
	ftsTopK = 20
	// DefaultCandidateCap bounds the embedded scan when no cap is configured.
	DefaultCandidateCap = 10000
	// accessSaturation is the access count where the access term reaches 1.
	accessSaturation = 100
	// bumpTimeout bounds the detached access-stat write.
	bumpTimeout = 5 * time.Second

	msPerDay = float64(24 * time.Hour / time.Millisecond)
)

// Score weights. They sum to 1.0 before the full-text boost, so a perfect
// candidate lands at 1.1.
const (
	weightSimilarity = 0.5
	weightRecency    = 0.15
	weightConfidence = 0.2
	weightAccess     = 0.05
	ftsBoost         = 0.1
)

type RecallService struct {
	store        domain.MemoryStore
	embedder     domain.Embedder
	candidateCap int
	logger       *zap.Logger
}

func NewRecallService(ms domain.MemoryStore, emb domain.Embedder, candidateCap int, logger *zap.Logger) *RecallService {
	if candidateCap <= 0 {
		candidateCap = DefaultCandidateCap
	}
	return &RecallService{
		store:        ms,
		embedder:     emb,
		candidateCap: candidateCap,
		logger:       logger,
	}
}

type candidate struct {
	mem   domain.Memory
	inFTS bool
}

func (s *RecallService) Recall(ctx context.Context, q domain.RecallQuery) ([]domain.RecallResult, error) {
	query := strings.TrimSpace(q.Query)
	if query == "" {
		return nil, domain.NewError(domain.KindInvalidField, "query is required").
			WithDetail("field", "query")
	}
	if q.Limit < 0 || q.Limit > domain.MaxRecallLimit {
		return nil, domain.Errorf(domain.KindInvalidField,
			"limit must be within [1, %d]", domain.MaxRecallLimit).
			WithDetail("field", "limit")
	}
	limit := q.Limit
	if limit == 0 {
		limit = domain.DefaultRecallLimit
	}
	threshold := domain.DefaultRecallThreshold
	if q.Threshold != nil {
		if *q.Threshold < 0 || *q.Threshold > 1 {
			return nil, domain.NewError(domain.KindInvalidField,
				"threshold must be within [0, 1]").WithDetail("field", "threshold")
		}
		threshold = *q.Threshold
	}
	if q.Category != nil && !domain.ValidCategory(string(*q.Category)) {
		return nil, domain.Errorf(domain.KindInvalidField,
			"unknown category %q", *q.Category).WithDetail("field", "category")
	}
	namespace := q.Namespace
	if namespace == "" {
		namespace = domain.DefaultNamespace
	}

	ctx, cancel := context.WithTimeout(ctx, RecallTimeout)
	defer cancel()

	// Degraded mode: with the embedder down, full-text hits carry the recall
	// on their own and the similarity threshold is waived.
	queryVec, err := s.embedder.Embed(ctx, query)
	degraded := err != nil
	if degraded {
		if ctx.Err() != nil {
			return nil, domain.NewError(domain.KindCanceled, "recall canceled")
		}
		s.logger.Warn("query embedding failed, full-text only", zap.Error(err))
	}

	candidates := make(map[string]*candidate)

	ftsRows, err := s.store.SearchText(ctx, query, namespace, q.Category, ftsTopK)
	if err != nil {
		return nil, err
	}
	for _, m := range ftsRows {
		candidates[m.ID] = &candidate{mem: m, inFTS: true}
	}

	if !degraded {
		embedded, err := s.store.ListEmbedded(ctx, namespace, q.Category, s.candidateCap)
		if err != nil {
			return nil, err
		}
		for _, m := range embedded {
			if _, ok := candidates[m.ID]; ok {
				continue
			}
			candidates[m.ID] = &candidate{mem: m}
		}
	}

	now := timeNow().UnixMilli()
	scored := make([]domain.RecallResult, 0, len(candidates))
	for _, c := range candidates {
		similarity := 0.0
		if !degraded && c.mem.HasEmbedding() {
			similarity = math.Max(0, embedding.Cosine(queryVec, c.mem.Embedding))
		}
		if !degraded && similarity < threshold {
			continue
		}

		breakdown := domain.ScoreBreakdown{
			Similarity: similarity,
			Recency:    recencyScore(&c.mem, now),
			Confidence: c.mem.Confidence,
			Access:     accessScore(c.mem.AccessCount),
		}
		if c.inFTS {
			breakdown.FTSBoost = ftsBoost
		}

		scored = append(scored, domain.RecallResult{
			Memory: c.mem,
			Score: weightSimilarity*breakdown.Similarity +
				weightRecency*breakdown.Recency +
				weightConfidence*breakdown.Confidence +
				weightAccess*breakdown.Access +
				breakdown.FTSBoost,
			ScoreBreakdown: breakdown,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := &scored[i], &scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		la, lb := lastAccessedOrZero(&a.Memory), lastAccessedOrZero(&b.Memory)
		if la != lb {
			return la > lb
		}
		if a.Memory.CreatedAt != b.Memory.CreatedAt {
			return a.Memory.CreatedAt > b.Memory.CreatedAt
		}
		return a.Memory.ID < b.Memory.ID
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}

	// A canceled caller must leave no trace; otherwise the bump runs
	// detached so a slow writer never holds up the response. Callers see
	// the pre-bump rows.
	if len(scored) > 0 && ctx.Err() == nil {
		ids := make([]string, len(scored))
		for i := range scored {
			ids[i] = scored[i].Memory.ID
		}
		go func() {
			bctx, bcancel := context.WithTimeout(context.Background(), bumpTimeout)
			defer bcancel()
			if err := s.store.BumpAccess(bctx, ids, timeNow().UnixMilli()); err != nil {
				s.logger.Warn("access bump failed", zap.Error(err))
			}
		}()
	}

	return scored, nil
}

// recencyScore is 1/(1 + days_idle*decay_rate) using last access when set,
// creation time otherwise.
func recencyScore(m *domain.Memory, now int64) float64 {
	ref := m.CreatedAt
	if m.LastAccessed != nil {
		ref = *m.LastAccessed
	}
	days := float64(now-ref) / msPerDay
	if days < 0 {
		days = 0
	}
	return 1 / (1 + days*m.DecayRate)
}

// accessScore saturates logarithmically around 100 accesses.
func accessScore(count int) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(1, math.Log(1+float64(count))/math.Log(1+accessSaturation))
}

func lastAccessedOrZero(m *domain.Memory) int64 {
	if m.LastAccessed == nil {
		return 0
	}
	return *m.LastAccessed
}
