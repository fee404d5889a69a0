package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/domain"
)

type ContradictionService struct {
	store  domain.ContradictionStore
	logger *zap.Logger
}

func NewContradictionService(cs domain.ContradictionStore, logger *zap.Logger) *ContradictionService {
	return &ContradictionService{store: cs, logger: logger}
}

// List returns contradictions matching the filter plus the store-wide
// unresolved count, which the API reports regardless of filtering.
func (s *ContradictionService) List(ctx context.Context, f domain.ContradictionListFilter) ([]domain.Contradiction, int, error) {
	if f.Category != nil && !domain.ValidCategory(string(*f.Category)) {
		return nil, 0, domain.Errorf(domain.KindInvalidField,
			"unknown category %q", *f.Category).WithDetail("field", "category")
	}

	items, err := s.store.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	unresolved, err := s.store.CountUnresolved(ctx)
	if err != nil {
		return nil, 0, err
	}
	return items, unresolved, nil
}

// Resolve applies an action to a contradiction. keep_first and keep_second
// delete the losing memory in the same transaction; keep_both and dismiss
// only mark the row. Resolving an already-settled contradiction, or one
// whose loser is long gone, succeeds without changing anything.
func (s *ContradictionService) Resolve(ctx context.Context, id, action string) error {
	if !domain.ValidResolutionAction(action) {
		return domain.Errorf(domain.KindInvalidField,
			"unknown resolution action %q", action).WithDetail("field", "action")
	}

	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.ContradictionUnresolved {
		// Idempotent sink: the first resolution stands.
		s.logger.Debug("contradiction already settled",
			zap.String("id", id),
			zap.String("status", string(c.Status)),
		)
		return nil
	}

	resolved := domain.ResolutionAction(action)
	loserID := ""
	switch resolved {
	case domain.ResolutionKeepFirst:
		loserID = c.Memory2ID
	case domain.ResolutionKeepSecond:
		loserID = c.Memory1ID
	}

	if err := s.store.Resolve(ctx, id, resolved, loserID, timeNow().UnixMilli()); err != nil {
		return err
	}

	s.logger.Info("contradiction resolved",
		zap.String("id", id),
		zap.String("action", action),
	)
	return nil
}
