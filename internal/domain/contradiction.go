package domain

type ContradictionStatus string

const (
	ContradictionUnresolved ContradictionStatus = "unresolved"
	ContradictionResolved   ContradictionStatus = "resolved"
	ContradictionDismissed  ContradictionStatus = "dismissed"
)

func ValidContradictionStatus(s string) bool {
	switch ContradictionStatus(s) {
	case ContradictionUnresolved, ContradictionResolved, ContradictionDismissed:
		return true
	}
	return false
}

type ResolutionAction string

const (
	ResolutionKeepFirst  ResolutionAction = "keep_first"
	ResolutionKeepSecond ResolutionAction = "keep_second"
	ResolutionKeepBoth   ResolutionAction = "keep_both"
	ResolutionDismiss    ResolutionAction = "dismiss"
)

func ValidResolutionAction(a string) bool {
	switch ResolutionAction(a) {
	case ResolutionKeepFirst, ResolutionKeepSecond, ResolutionKeepBoth, ResolutionDismiss:
		return true
	}
	return false
}

type ContradictionSort string

const (
	SortNewest     ContradictionSort = "newest"
	SortOldest     ContradictionSort = "oldest"
	SortConfidence ContradictionSort = "confidence"
)

func ValidContradictionSort(s string) bool {
	switch ContradictionSort(s) {
	case SortNewest, SortOldest, SortConfidence:
		return true
	}
	return false
}

type Contradiction struct {
	ID               string              `json:"id"`
	Memory1ID        string              `json:"memory1_id"`
	Memory2ID        string              `json:"memory2_id"`
	Entity           *string             `json:"entity,omitempty"`
	Confidence       float64             `json:"confidence"`
	Reason           string              `json:"reason"`
	Status           ContradictionStatus `json:"status"`
	ResolutionAction *ResolutionAction   `json:"resolution_action,omitempty"`
	DetectedAt       int64               `json:"detected_at"`
	ResolvedAt       *int64              `json:"resolved_at,omitempty"`
}
