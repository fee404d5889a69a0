package domain

import "strings"

type Category string

const (
	CategoryPreference Category = "preference"
	CategoryFact       Category = "fact"
	CategoryPattern    Category = "pattern"
	CategoryDecision   Category = "decision"
	CategoryOutcome    Category = "outcome"
)

func ValidCategory(c string) bool {
	switch Category(c) {
	case CategoryPreference, CategoryFact, CategoryPattern, CategoryDecision, CategoryOutcome:
		return true
	}
	return false
}

type Source string

const (
	SourceCLI     Source = "cli"
	SourceMCP     Source = "mcp"
	SourceAPI     Source = "api"
	SourceImport  Source = "import"
	SourceManual  Source = "manual"
	SourceDesktop Source = "desktop"
)

func ValidSource(s string) bool {
	switch Source(s) {
	case SourceCLI, SourceMCP, SourceAPI, SourceImport, SourceManual, SourceDesktop:
		return true
	}
	return false
}

const (
	MaxContentLength  = 8192
	DefaultNamespace  = "default"
	DefaultConfidence = 0.8
	DefaultDecayRate  = 0.01
	MaxDecayRate      = 0.1
)

type Memory struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Entity       *string   `json:"entity,omitempty"`
	Category     Category  `json:"category"`
	Confidence   float64   `json:"confidence"`
	Embedding    []float32 `json:"-"`
	Source       Source    `json:"source"`
	Namespace    string    `json:"namespace"`
	Tags         []string  `json:"tags"`
	AccessCount  int       `json:"access_count"`
	DecayRate    float64   `json:"decay_rate"`
	CreatedAt    int64     `json:"created_at"`
	UpdatedAt    int64     `json:"updated_at"`
	LastAccessed *int64    `json:"last_accessed,omitempty"`
}

func (m *Memory) HasEmbedding() bool {
	return len(m.Embedding) > 0
}

// NormalizeTags trims, lowercases, and dedupes while preserving the order of
// first appearance. Empty tags are dropped.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
