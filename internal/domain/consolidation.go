package domain

type ConsolidationOptions struct {
	Duplicates     bool
	Contradictions bool
	Decay          bool
	Stale          bool
	// Namespace restricts the run; empty means every namespace.
	Namespace string
}

type ConsolidationReport struct {
	DuplicatesRemoved      int   `json:"duplicatesRemoved"`
	ContradictionsDetected int   `json:"contradictionsDetected"`
	MemoriesDecayed        int   `json:"memoriesDecayed"`
	StaleDeleted           int   `json:"staleDeleted"`
	DurationMS             int64 `json:"duration_ms"`
}
