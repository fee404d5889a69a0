package domain

const (
	DefaultRecallLimit     = 5
	MaxRecallLimit         = 100
	DefaultRecallThreshold = 0.3
)

type RecallQuery struct {
	Query     string
	Namespace string
	Category  *Category
	Limit     int
	// Threshold filters on raw similarity before blending. Nil means the
	// default; ignored entirely when the embedder is unavailable.
	Threshold *float64
}

type ScoreBreakdown struct {
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	Confidence float64 `json:"confidence"`
	Access     float64 `json:"access"`
	FTSBoost   float64 `json:"ftsBoost"`
}

type RecallResult struct {
	Memory
	Score          float64        `json:"score"`
	ScoreBreakdown ScoreBreakdown `json:"scoreBreakdown"`
}
