package service

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/embedding"
)

const (
	// DuplicateSimilarity is the cosine floor for merging two memories.
	DuplicateSimilarity = 0.92
	// ContradictionSimilarity is the cosine floor for a pair to be
	// considered topically close enough to conflict.
	ContradictionSimilarity = 0.7
	// contradictionOverlap is the token-overlap floor for the
	// preference/decision trigger.
	contradictionOverlap = 0.5
	// StaleMaxConfidence and StaleMinAgeDays gate the cleanup pass; only
	// never-accessed rows qualify.
	StaleMaxConfidence = 0.15
	StaleMinAgeDays    = 90

	// consolidationBatch keeps each writer acquisition small so foreground
	// writes interleave with a long consolidation run.
	consolidationBatch = 100
)

// negationTokens is the closed polarity list. Matching is whole-word over
// folded text, so "not" never fires inside "nothing".
var negationTokens = []string{
	"not", "no", "never", "don't", "dont", "doesn't", "doesnt",
	"didn't", "didnt", "won't", "wont", "can't", "cant", "cannot",
	"isn't", "isnt", "aren't", "arent", "without", "avoid", "stop",
}

var tokenSplitRe = regexp.MustCompile(`[^a-z0-9']+`)

type ConsolidationService struct {
	store          domain.MemoryStore
	contradictions domain.ContradictionStore
	candidateCap   int
	logger         *zap.Logger
}

func NewConsolidationService(ms domain.MemoryStore, cs domain.ContradictionStore, candidateCap int, logger *zap.Logger) *ConsolidationService {
	if candidateCap <= 0 {
		candidateCap = DefaultCandidateCap
	}
	return &ConsolidationService{
		store:          ms,
		contradictions: cs,
		candidateCap:   candidateCap,
		logger:         logger,
	}
}

// Run executes the requested passes and reports what changed. Passes scan as
// plain readers and commit through the store's writer in batches, so a run
// can be long without starving foreground writes. Cancellation is honored at
// batch boundaries: the report covers everything committed before the abort.
func (s *ConsolidationService) Run(ctx context.Context, opts domain.ConsolidationOptions) (*domain.ConsolidationReport, error) {
	start := timeNow()
	report := &domain.ConsolidationReport{}

	defer func() {
		report.DurationMS = timeNow().Sub(start).Milliseconds()
	}()

	namespaces, err := s.scopeNamespaces(ctx, opts.Namespace)
	if err != nil {
		return report, err
	}

	if opts.Duplicates {
		for _, ns := range namespaces {
			removed, err := s.mergeDuplicates(ctx, ns)
			report.DuplicatesRemoved += removed
			if err != nil {
				return report, err
			}
		}
	}

	if opts.Contradictions {
		for _, ns := range namespaces {
			detected, err := s.detectContradictions(ctx, ns)
			report.ContradictionsDetected += detected
			if err != nil {
				return report, err
			}
		}
	}

	if opts.Decay {
		decayed, err := s.applyDecay(ctx)
		report.MemoriesDecayed = decayed
		if err != nil {
			return report, err
		}
	}

	if opts.Stale {
		deleted, err := s.cleanupStale(ctx)
		report.StaleDeleted = deleted
		if err != nil {
			return report, err
		}
	}

	s.logger.Info("consolidation finished",
		zap.Int("duplicatesRemoved", report.DuplicatesRemoved),
		zap.Int("contradictionsDetected", report.ContradictionsDetected),
		zap.Int("memoriesDecayed", report.MemoriesDecayed),
		zap.Int("staleDeleted", report.StaleDeleted),
	)
	return report, nil
}

func (s *ConsolidationService) scopeNamespaces(ctx context.Context, namespace string) ([]string, error) {
	if namespace != "" {
		return []string{namespace}, nil
	}
	return s.store.Namespaces(ctx)
}

// mergeDuplicates clusters embedded memories around a seed (smallest id
// first) by cosine similarity and folds each cluster into its best row. One
// cluster is one writer transaction.
func (s *ConsolidationService) mergeDuplicates(ctx context.Context, namespace string) (int, error) {
	rows, err := s.store.ListEmbedded(ctx, namespace, nil, s.candidateCap)
	if err != nil {
		return 0, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	removed := 0
	merged := make(map[string]bool, len(rows))

	for i := range rows {
		if merged[rows[i].ID] {
			continue
		}
		cluster := []*domain.Memory{&rows[i]}
		for j := i + 1; j < len(rows); j++ {
			if merged[rows[j].ID] {
				continue
			}
			if embedding.Cosine(rows[i].Embedding, rows[j].Embedding) >= DuplicateSimilarity {
				cluster = append(cluster, &rows[j])
				merged[rows[j].ID] = true
			}
		}
		if len(cluster) < 2 {
			continue
		}

		if err := checkCanceled(ctx); err != nil {
			return removed, err
		}

		winner := pickWinner(cluster)
		merge := buildMerge(winner, cluster, timeNow().UnixMilli())
		if err := s.store.ApplyMerge(ctx, merge); err != nil {
			return removed, err
		}
		removed += len(merge.LoserIDs)

		s.logger.Debug("merged duplicate cluster",
			zap.String("namespace", namespace),
			zap.String("winner", merge.WinnerID),
			zap.Int("losers", len(merge.LoserIDs)),
		)
	}
	return removed, nil
}

// pickWinner orders the cluster by confidence, then access count, then
// update recency, then smallest id.
func pickWinner(cluster []*domain.Memory) *domain.Memory {
	winner := cluster[0]
	for _, m := range cluster[1:] {
		if betterWinner(m, winner) {
			winner = m
		}
	}
	return winner
}

func betterWinner(a, b *domain.Memory) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.AccessCount != b.AccessCount {
		return a.AccessCount > b.AccessCount
	}
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}
	return a.ID < b.ID
}

func buildMerge(winner *domain.Memory, cluster []*domain.Memory, now int64) *domain.Merge {
	merge := &domain.Merge{
		WinnerID:   winner.ID,
		Confidence: winner.Confidence,
		UpdatedAt:  now,
	}

	tags := append([]string{}, winner.Tags...)
	for _, m := range cluster {
		merge.AccessCount += m.AccessCount
		if m.Confidence > merge.Confidence {
			merge.Confidence = m.Confidence
		}
		if m.ID != winner.ID {
			merge.LoserIDs = append(merge.LoserIDs, m.ID)
			tags = append(tags, m.Tags...)
		}
	}
	merge.Tags = domain.NormalizeTags(tags)
	return merge
}

// detectContradictions pairs topically-close memories that share an entity
// and disagree, either by negation polarity or by being two strong
// preference/decision statements with heavy word overlap.
func (s *ConsolidationService) detectContradictions(ctx context.Context, namespace string) (int, error) {
	rows, err := s.store.ListEmbedded(ctx, namespace, nil, s.candidateCap)
	if err != nil {
		return 0, err
	}

	groups := make(map[string][]*domain.Memory)
	for i := range rows {
		if rows[i].Entity == nil || *rows[i].Entity == "" {
			continue
		}
		key := strings.ToLower(*rows[i].Entity)
		groups[key] = append(groups[key], &rows[i])
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	detected := 0
	for _, key := range keys {
		group := groups[key]
		sort.Slice(group, func(i, j int) bool {
			if group[i].CreatedAt != group[j].CreatedAt {
				return group[i].CreatedAt < group[j].CreatedAt
			}
			return group[i].ID < group[j].ID
		})

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if err := checkCanceled(ctx); err != nil {
					return detected, err
				}

				older, newer := group[i], group[j]
				cos := embedding.Cosine(older.Embedding, newer.Embedding)
				if cos < ContradictionSimilarity {
					continue
				}

				reason := conflictReason(older, newer)
				if reason == "" {
					continue
				}

				open, err := s.contradictions.ExistsOpen(ctx, older.ID, newer.ID)
				if err != nil {
					return detected, err
				}
				if open {
					continue
				}

				entity := *older.Entity
				c := &domain.Contradiction{
					ID:         uuid.NewString(),
					Memory1ID:  older.ID,
					Memory2ID:  newer.ID,
					Entity:     &entity,
					Confidence: contradictionConfidence(cos, older.Confidence, newer.Confidence),
					Reason:     reason,
					Status:     domain.ContradictionUnresolved,
					DetectedAt: timeNow().UnixMilli(),
				}
				if err := s.contradictions.Create(ctx, c); err != nil {
					return detected, err
				}
				detected++

				s.logger.Debug("contradiction detected",
					zap.String("entity", entity),
					zap.String("memory1", older.ID),
					zap.String("memory2", newer.ID),
					zap.String("reason", reason),
				)
			}
		}
	}
	return detected, nil
}

// contradictionConfidence blends topical closeness with how evenly matched
// the two confidences are: a strong belief against a weak one is less of a
// conflict than two strong ones.
func contradictionConfidence(cos, confA, confB float64) float64 {
	balance := 1 - math.Abs(confA-confB)/2
	return math.Min(cos, balance)
}

func conflictReason(a, b *domain.Memory) string {
	negA, negB := hasNegation(a.Content), hasNegation(b.Content)
	if negA != negB {
		return "negation polarity differs for the same entity"
	}

	if strongStance(a.Category) && strongStance(b.Category) &&
		a.Content != b.Content &&
		tokenOverlap(a.Content, b.Content) >= contradictionOverlap {
		return fmt.Sprintf("conflicting %s statements about the same entity", a.Category)
	}
	return ""
}

func strongStance(c domain.Category) bool {
	return c == domain.CategoryPreference || c == domain.CategoryDecision
}

func hasNegation(content string) bool {
	padded := " " + strings.Join(foldTokens(content), " ") + " "
	for _, tok := range negationTokens {
		if strings.Contains(padded, " "+tok+" ") {
			return true
		}
	}
	return false
}

// tokenOverlap is Jaccard similarity over folded word sets.
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(setA)+len(setB)-shared)
}

func tokenSet(content string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range foldTokens(content) {
		set[tok] = struct{}{}
	}
	return set
}

func foldTokens(content string) []string {
	raw := tokenSplitRe.Split(strings.ToLower(content), -1)
	out := raw[:0]
	for _, tok := range raw {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// applyDecay walks the whole table in keyset pages and shrinks confidence in
// proportion to idle days. Rows whose value would not change are skipped, so
// updated_at only moves when confidence does.
func (s *ConsolidationService) applyDecay(ctx context.Context) (int, error) {
	now := timeNow().UnixMilli()
	decayed := 0
	afterID := ""

	for {
		page, err := s.store.ListPage(ctx, afterID, consolidationBatch)
		if err != nil {
			return decayed, err
		}
		if len(page) == 0 {
			return decayed, nil
		}
		afterID = page[len(page)-1].ID

		updates := make([]domain.DecayUpdate, 0, len(page))
		for i := range page {
			if update, ok := decayUpdate(&page[i], now); ok {
				updates = append(updates, update)
			}
		}
		if len(updates) == 0 {
			continue
		}

		if err := checkCanceled(ctx); err != nil {
			return decayed, err
		}
		if err := s.store.ApplyDecay(ctx, updates); err != nil {
			return decayed, err
		}
		decayed += len(updates)
	}
}

// decayUpdate computes confidence*(1 - decay_rate*days_idle) clamped to
// [0, 1], measuring idleness from the latest of last access and last update.
func decayUpdate(m *domain.Memory, now int64) (domain.DecayUpdate, bool) {
	if m.DecayRate <= 0 {
		return domain.DecayUpdate{}, false
	}

	ref := m.UpdatedAt
	if m.LastAccessed != nil && *m.LastAccessed > ref {
		ref = *m.LastAccessed
	}
	days := float64(now-ref) / msPerDay
	if days <= 0 {
		return domain.DecayUpdate{}, false
	}

	next := m.Confidence * (1 - m.DecayRate*days)
	if next < 0 {
		next = 0
	}
	if next > 1 {
		next = 1
	}
	if next == m.Confidence {
		return domain.DecayUpdate{}, false
	}

	return domain.DecayUpdate{ID: m.ID, Confidence: next, UpdatedAt: now}, true
}

// cleanupStale deletes dead weight: low confidence, never accessed, past the
// age floor. It only ever runs when explicitly requested.
func (s *ConsolidationService) cleanupStale(ctx context.Context) (int, error) {
	cutoff := timeNow().UnixMilli() - int64(StaleMinAgeDays*msPerDay)
	deleted := 0

	for {
		ids, err := s.store.ListStaleIDs(ctx, StaleMaxConfidence, cutoff, consolidationBatch)
		if err != nil {
			return deleted, err
		}
		if len(ids) == 0 {
			return deleted, nil
		}

		if err := checkCanceled(ctx); err != nil {
			return deleted, err
		}
		n, err := s.store.BulkDelete(ctx, ids)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
}

func checkCanceled(ctx context.Context) error {
	if ctx.Err() != nil {
		return domain.NewError(domain.KindCanceled, "consolidation aborted at batch boundary")
	}
	return nil
}

// ConsolidationWorker runs the maintenance passes on a fixed schedule. The
// scheduled run never includes stale cleanup; deleting data stays an
// explicit, operator-initiated act.
type ConsolidationWorker struct {
	svc    *ConsolidationService
	logger *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewConsolidationWorker(svc *ConsolidationService, interval time.Duration, logger *zap.Logger) *ConsolidationWorker {
	return &ConsolidationWorker{
		svc:      svc,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (w *ConsolidationWorker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.logger.Info("consolidation worker started", zap.Duration("interval", w.interval))

		for {
			select {
			case <-ticker.C:
				w.runOnce()
			case <-w.stopCh:
				w.logger.Info("consolidation worker stopped")
				return
			}
		}
	}()
}

func (w *ConsolidationWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *ConsolidationWorker) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	_, err := w.svc.Run(ctx, domain.ConsolidationOptions{
		Duplicates:     true,
		Contradictions: true,
		Decay:          true,
	})
	if err != nil {
		w.logger.Error("scheduled consolidation failed", zap.Error(err))
	}
}
