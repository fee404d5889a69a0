package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/engramhq/engram/internal/domain"
)

const mockModelName = "mock-embedder"

// MockClient produces deterministic embeddings derived from token hashes:
// identical texts map to identical vectors and texts sharing tokens land
// near each other. That is enough signal for recall, dedupe and
// contradiction paths without a model runtime.
type MockClient struct {
	dims int

	mu        sync.Mutex
	overrides map[string][]float32
	failErr   error
}

func NewMockClient(dims int) *MockClient {
	if dims <= 0 {
		dims = 384
	}
	return &MockClient{
		dims:      dims,
		overrides: make(map[string][]float32),
	}
}

// FailWith makes every subsequent Embed call return err until Recover.
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Recover clears a previous FailWith.
func (m *MockClient) Recover() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = nil
}

// SetVector pins the exact vector returned for text, bypassing hashing.
func (m *MockClient) SetVector(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[text] = append([]float32(nil), vec...)
}

func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	failErr := m.failErr
	override, hasOverride := m.overrides[text]
	m.mu.Unlock()

	if failErr != nil {
		return nil, failErr
	}
	if hasOverride {
		return append([]float32(nil), override...), nil
	}

	vec := make([]float32, m.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(m.dims)]++
	}
	if norm := Normalize(vec); isNonZero(norm) {
		return norm, nil
	}
	// Whitespace-only input still gets a stable unit vector.
	vec[0] = 1
	return vec, nil
}

func (m *MockClient) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failErr == nil
}

func (m *MockClient) Info() domain.ModelInfo {
	return domain.ModelInfo{
		Name:       mockModelName,
		Dimensions: m.dims,
		Available:  m.Available(),
		Cached:     true,
	}
}

func isNonZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return true
		}
	}
	return false
}

var _ domain.Embedder = (*MockClient)(nil)
