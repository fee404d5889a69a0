package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/domain"
)

// mockMemoryStore implements domain.MemoryStore for testing. The mutex
// matters: recall's access bump lands from a goroutine.
type mockMemoryStore struct {
	mu       sync.Mutex
	memories map[string]*domain.Memory

	// putErrs is consumed one per Put call before the map is touched, so a
	// test can script a transient failure followed by success.
	putErrs   []error
	searchErr error
	bumped    chan []string
}

func newMockMemoryStore() *mockMemoryStore {
	return &mockMemoryStore{
		memories: make(map[string]*domain.Memory),
		bumped:   make(chan []string, 8),
	}
}

func (m *mockMemoryStore) Put(ctx context.Context, mem *domain.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.putErrs) > 0 {
		err := m.putErrs[0]
		m.putErrs = m.putErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, exists := m.memories[mem.ID]; exists {
		return domain.Errorf(domain.KindDuplicateID, "memory %s already exists", mem.ID)
	}
	cp := *mem
	m.memories[mem.ID] = &cp
	return nil
}

func (m *mockMemoryStore) GetByID(ctx context.Context, id string) (*domain.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.memories[id]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "memory %s not found", id)
	}
	cp := *mem
	return &cp, nil
}

func (m *mockMemoryStore) List(ctx context.Context, f domain.ListFilter) ([]domain.Memory, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []domain.Memory
	for _, mem := range m.memories {
		if f.Namespace != "" && mem.Namespace != f.Namespace {
			continue
		}
		if f.Category != nil && mem.Category != *f.Category {
			continue
		}
		all = append(all, *mem)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt != all[j].CreatedAt {
			return all[i].CreatedAt > all[j].CreatedAt
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	if f.Offset >= len(all) {
		return []domain.Memory{}, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (m *mockMemoryStore) ListPage(ctx context.Context, afterID string, limit int) ([]domain.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []domain.Memory
	for _, mem := range m.memories {
		if mem.ID > afterID {
			all = append(all, *mem)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *mockMemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.memories[id]; !ok {
		return domain.Errorf(domain.KindNotFound, "memory %s not found", id)
	}
	delete(m.memories, id)
	return nil
}

func (m *mockMemoryStore) BulkDelete(ctx context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := m.memories[id]; ok {
			delete(m.memories, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockMemoryStore) SearchText(ctx context.Context, query, namespace string, category *domain.Category, limit int) ([]domain.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}

	tokens := strings.Fields(strings.ToLower(query))
	var hits []domain.Memory
	for _, mem := range m.memories {
		if namespace != "" && mem.Namespace != namespace {
			continue
		}
		if category != nil && mem.Category != *category {
			continue
		}
		haystack := strings.ToLower(mem.Content + " " + string(mem.Category))
		if mem.Entity != nil {
			haystack += " " + strings.ToLower(*mem.Entity)
		}
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				hits = append(hits, *mem)
				break
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *mockMemoryStore) ListEmbedded(ctx context.Context, namespace string, category *domain.Category, limit int) ([]domain.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []domain.Memory
	for _, mem := range m.memories {
		if !mem.HasEmbedding() {
			continue
		}
		if namespace != "" && mem.Namespace != namespace {
			continue
		}
		if category != nil && mem.Category != *category {
			continue
		}
		rows = append(rows, *mem)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt != rows[j].CreatedAt {
			return rows[i].CreatedAt > rows[j].CreatedAt
		}
		return rows[i].ID < rows[j].ID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *mockMemoryStore) BumpAccess(ctx context.Context, ids []string, at int64) error {
	m.mu.Lock()
	for _, id := range ids {
		if mem, ok := m.memories[id]; ok {
			mem.AccessCount++
			ts := at
			mem.LastAccessed = &ts
		}
	}
	m.mu.Unlock()

	select {
	case m.bumped <- ids:
	default:
	}
	return nil
}

func (m *mockMemoryStore) ApplyMerge(ctx context.Context, merge *domain.Merge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	winner, ok := m.memories[merge.WinnerID]
	if !ok {
		return domain.Errorf(domain.KindNotFound, "memory %s not found", merge.WinnerID)
	}
	winner.AccessCount = merge.AccessCount
	winner.Tags = merge.Tags
	winner.Confidence = merge.Confidence
	winner.UpdatedAt = merge.UpdatedAt
	for _, id := range merge.LoserIDs {
		delete(m.memories, id)
	}
	return nil
}

func (m *mockMemoryStore) ApplyDecay(ctx context.Context, updates []domain.DecayUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		if mem, ok := m.memories[u.ID]; ok {
			mem.Confidence = u.Confidence
			mem.UpdatedAt = u.UpdatedAt
		}
	}
	return nil
}

func (m *mockMemoryStore) ListStaleIDs(ctx context.Context, maxConfidence float64, createdBefore int64, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, mem := range m.memories {
		if mem.Confidence < maxConfidence && mem.CreatedAt < createdBefore && mem.AccessCount == 0 {
			ids = append(ids, mem.ID)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *mockMemoryStore) Namespaces(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, mem := range m.memories {
		seen[mem.Namespace] = true
	}
	var out []string
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

func (m *mockMemoryStore) Stats(ctx context.Context) (*domain.StoreStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &domain.StoreStats{
		ByCategory:  make(map[string]int),
		ByNamespace: make(map[string]int),
	}
	for _, mem := range m.memories {
		stats.Total++
		if mem.HasEmbedding() {
			stats.WithEmbeddings++
		}
		stats.ByCategory[string(mem.Category)]++
		stats.ByNamespace[mem.Namespace]++
	}
	return stats, nil
}

func (m *mockMemoryStore) get(id string) *domain.Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mem, ok := m.memories[id]; ok {
		cp := *mem
		return &cp
	}
	return nil
}

func (m *mockMemoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.memories)
}

// mockContradictionStore implements domain.ContradictionStore for testing.
// It holds a reference to the memory store so resolutions can delete losers
// the way the real store does transactionally.
type mockContradictionStore struct {
	mu       sync.Mutex
	rows     map[string]*domain.Contradiction
	memories *mockMemoryStore
}

func newMockContradictionStore(memories *mockMemoryStore) *mockContradictionStore {
	return &mockContradictionStore{
		rows:     make(map[string]*domain.Contradiction),
		memories: memories,
	}
}

func (m *mockContradictionStore) Create(ctx context.Context, c *domain.Contradiction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[c.ID]; exists {
		return domain.Errorf(domain.KindDuplicateID, "contradiction %s already exists", c.ID)
	}
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *mockContradictionStore) GetByID(ctx context.Context, id string) (*domain.Contradiction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "contradiction %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockContradictionStore) List(ctx context.Context, f domain.ContradictionListFilter) ([]domain.Contradiction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Contradiction
	for _, c := range m.rows {
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt != out[j].DetectedAt {
			return out[i].DetectedAt > out[j].DetectedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockContradictionStore) CountUnresolved(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.rows {
		if c.Status == domain.ContradictionUnresolved {
			count++
		}
	}
	return count, nil
}

func (m *mockContradictionStore) ExistsOpen(ctx context.Context, memory1ID, memory2ID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.Status != domain.ContradictionUnresolved {
			continue
		}
		if (c.Memory1ID == memory1ID && c.Memory2ID == memory2ID) ||
			(c.Memory1ID == memory2ID && c.Memory2ID == memory1ID) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockContradictionStore) Resolve(ctx context.Context, id string, action domain.ResolutionAction, loserID string, resolvedAt int64) error {
	m.mu.Lock()
	c, ok := m.rows[id]
	if !ok {
		m.mu.Unlock()
		return domain.Errorf(domain.KindNotFound, "contradiction %s not found", id)
	}
	status := domain.ContradictionResolved
	if action == domain.ResolutionDismiss {
		status = domain.ContradictionDismissed
	}
	c.Status = status
	c.ResolutionAction = &action
	c.ResolvedAt = &resolvedAt

	if loserID != "" {
		for cid, other := range m.rows {
			if cid == id {
				continue
			}
			if other.Memory1ID == loserID || other.Memory2ID == loserID {
				delete(m.rows, cid)
			}
		}
	}
	m.mu.Unlock()

	if loserID != "" {
		m.memories.mu.Lock()
		delete(m.memories.memories, loserID)
		m.memories.mu.Unlock()
	}
	return nil
}

func (m *mockContradictionStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}
