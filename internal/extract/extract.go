package extract

import (
	"regexp"
	"strings"

	"github.com/engramhq/engram/internal/domain"
)

const (
	confidenceCeiling = 0.95
	confidenceFloor   = 0.5
	explicitBoost     = 0.15
	hedgePenalty      = 0.3
)

// categoryRule maps trigger phrases to a category. Rules are checked in
// order and the first rule with a matching phrase wins; content matching no
// rule is a fact.
type categoryRule struct {
	category domain.Category
	phrases  []string
}

var categoryRules = []categoryRule{
	{domain.CategoryPreference, []string{
		"i prefer", "i like", "i love", "i hate", "i dislike",
		"i'd rather", "favorite", "favourite", "prefers",
	}},
	{domain.CategoryDecision, []string{
		"decided to", "we decided", "decision:", "going with",
		"we chose", "chose to", "settled on", "opted for", "we'll use",
	}},
	{domain.CategoryOutcome, []string{
		"resulted in", "led to", "turned out", "worked well",
		"didn't work", "did not work", "failed because",
		"fixed the", "resolved the", "broke the",
	}},
	{domain.CategoryPattern, []string{
		"always", "never", "usually", "every time", "whenever",
		"typically", "tends to", "each time",
	}},
}

// explicitMarkers harden confidence; hedgeMarkers soften it. Hedging wins
// when both appear.
var (
	explicitMarkers = []string{"always", "never", "must", "definitely", "certainly"}
	hedgeMarkers    = []string{"might", "probably", "maybe", "perhaps", "possibly", "i think", "not sure"}
)

// entityWeights are known technology tokens, weighted so specific names beat
// generic ones when several occur in the same content.
var entityWeights = map[string]int{
	"kubernetes": 3, "postgresql": 3, "typescript": 3, "javascript": 3,
	"terraform": 3, "ansible": 3, "graphql": 3, "nodejs": 3, "golang": 3,
	"mongodb": 3, "rabbitmq": 3, "elasticsearch": 3, "prometheus": 3,
	"docker": 2, "postgres": 2, "mysql": 2, "sqlite": 2, "redis": 2,
	"python": 2, "rust": 2, "react": 2, "vue": 2, "kafka": 2, "nginx": 2,
	"github": 2, "gitlab": 2, "vim": 2, "vscode": 2, "grpc": 2, "jwt": 2,
	"git": 1, "aws": 1, "gcp": 1, "azure": 1, "linux": 1, "macos": 1,
	"windows": 1, "http": 1, "json": 1, "yaml": 1, "sql": 1, "api": 1,
	"tabs": 1, "spaces": 1,
}

var (
	wordRe  = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_]*`)
	camelRe = regexp.MustCompile(`^[a-z][a-z0-9]*(?:[A-Z][a-zA-Z0-9]*)+$`)
	snakeRe = regexp.MustCompile(`^[a-z][a-z0-9]*(?:_[a-z0-9]+)+$`)
)

// Extractor derives category, entity and confidence from raw content. It is
// rule-based and pure; ingest only applies the parts the caller left blank.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(content string) domain.Extraction {
	lowered := strings.ToLower(content)

	return domain.Extraction{
		Category:   classify(lowered),
		Entity:     scanEntity(content, lowered),
		Confidence: gaugeConfidence(lowered),
	}
}

func classify(lowered string) domain.Category {
	for _, rule := range categoryRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(lowered, phrase) {
				return rule.category
			}
		}
	}
	return domain.CategoryFact
}

// scanEntity picks the highest-weighted known token, falling back to the
// first camelCase or snake_case identifier. Ties go to the earliest match.
func scanEntity(content, lowered string) *string {
	var (
		best       string
		bestWeight int
	)
	for _, word := range wordRe.FindAllString(lowered, -1) {
		if w, ok := entityWeights[word]; ok && w > bestWeight {
			best, bestWeight = word, w
		}
	}
	if best != "" {
		return &best
	}

	// Identifiers keep their original casing.
	for _, word := range wordRe.FindAllString(content, -1) {
		if camelRe.MatchString(word) || snakeRe.MatchString(word) {
			ident := word
			return &ident
		}
	}
	return nil
}

func gaugeConfidence(lowered string) float64 {
	confidence := domain.DefaultConfidence
	if containsAny(lowered, hedgeMarkers) {
		confidence -= hedgePenalty
		if confidence < confidenceFloor {
			confidence = confidenceFloor
		}
		return confidence
	}
	if containsAny(lowered, explicitMarkers) {
		confidence += explicitBoost
		if confidence > confidenceCeiling {
			confidence = confidenceCeiling
		}
	}
	return confidence
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

var _ domain.Extractor = (*Extractor)(nil)
