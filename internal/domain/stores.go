package domain

import "context"

type ListFilter struct {
	Namespace string
	Category  *Category
	Limit     int
	Offset    int
}

// Merge is the single-transaction outcome of a duplicate cluster: the winner
// absorbs the cluster's stats and every loser row is removed, contradictions
// included.
type Merge struct {
	WinnerID    string
	LoserIDs    []string
	AccessCount int
	Tags        []string
	Confidence  float64
	UpdatedAt   int64
}

type DecayUpdate struct {
	ID         string
	Confidence float64
	UpdatedAt  int64
}

type StoreStats struct {
	Total          int            `json:"total"`
	WithEmbeddings int            `json:"withEmbeddings"`
	ByCategory     map[string]int `json:"byCategory"`
	ByNamespace    map[string]int `json:"byNamespace"`
}

type MemoryStore interface {
	Put(ctx context.Context, m *Memory) error
	GetByID(ctx context.Context, id string) (*Memory, error)
	List(ctx context.Context, f ListFilter) ([]Memory, int, error)
	// ListPage iterates the whole table in id order, keyset-paged.
	ListPage(ctx context.Context, afterID string, limit int) ([]Memory, error)
	Delete(ctx context.Context, id string) error
	BulkDelete(ctx context.Context, ids []string) (int, error)
	// SearchText runs the full-text leg and returns rows in rank order.
	SearchText(ctx context.Context, query, namespace string, category *Category, limit int) ([]Memory, error)
	// ListEmbedded returns rows carrying an embedding, newest first, capped.
	ListEmbedded(ctx context.Context, namespace string, category *Category, limit int) ([]Memory, error)
	BumpAccess(ctx context.Context, ids []string, at int64) error
	ApplyMerge(ctx context.Context, m *Merge) error
	ApplyDecay(ctx context.Context, updates []DecayUpdate) error
	ListStaleIDs(ctx context.Context, maxConfidence float64, createdBefore int64, limit int) ([]string, error)
	Namespaces(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*StoreStats, error)
}

// ContradictionListFilter narrows List. The zero value returns everything,
// newest first. Category matches when either referenced memory has it.
type ContradictionListFilter struct {
	Status   *ContradictionStatus
	Category *Category
	Sort     ContradictionSort
}

type ContradictionStore interface {
	Create(ctx context.Context, c *Contradiction) error
	GetByID(ctx context.Context, id string) (*Contradiction, error)
	List(ctx context.Context, f ContradictionListFilter) ([]Contradiction, error)
	CountUnresolved(ctx context.Context) (int, error)
	// ExistsOpen reports an unresolved row for the pair in either order.
	ExistsOpen(ctx context.Context, memory1ID, memory2ID string) (bool, error)
	// Resolve marks the row and, when loserID is non-empty, deletes that
	// memory in the same transaction while keeping this row intact.
	Resolve(ctx context.Context, id string, action ResolutionAction, loserID string, resolvedAt int64) error
}

type ModelInfo struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
	Available  bool   `json:"available"`
	Cached     bool   `json:"cached"`
	SizeBytes  int64  `json:"size"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Available is a fast, non-blocking health view; it never dials.
	Available() bool
	Info() ModelInfo
}

type Extraction struct {
	Category   Category
	Entity     *string
	Confidence float64
}

type Extractor interface {
	Extract(content string) Extraction
}

type RedactionResult struct {
	Content string
	// Masked lists the pattern names that were replaced in Content.
	Masked []string
}

type Redactor interface {
	// Redact returns the sanitized content, or a SecretDetected error naming
	// the pattern when a reject-class secret is present.
	Redact(content string) (RedactionResult, error)
}
