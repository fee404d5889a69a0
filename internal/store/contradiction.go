package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/engramhq/engram/internal/domain"
)

const contradictionColumns = `id, memory1_id, memory2_id, entity, confidence, reason, status, resolution_action, detected_at, resolved_at`

type ContradictionStore struct {
	db *DB
}

func NewContradictionStore(db *DB) *ContradictionStore {
	return &ContradictionStore{db: db}
}

func scanContradiction(sc rowScanner) (*domain.Contradiction, error) {
	var (
		c          domain.Contradiction
		entity     sql.NullString
		action     sql.NullString
		resolvedAt sql.NullInt64
	)
	err := sc.Scan(&c.ID, &c.Memory1ID, &c.Memory2ID, &entity, &c.Confidence,
		&c.Reason, &c.Status, &action, &c.DetectedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if entity.Valid {
		e := entity.String
		c.Entity = &e
	}
	if action.Valid {
		a := domain.ResolutionAction(action.String)
		c.ResolutionAction = &a
	}
	if resolvedAt.Valid {
		r := resolvedAt.Int64
		c.ResolvedAt = &r
	}
	return &c, nil
}

func (s *ContradictionStore) Create(ctx context.Context, c *domain.Contradiction) error {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	var entity any
	if c.Entity != nil {
		entity = *c.Entity
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO contradictions (id, memory1_id, memory2_id, entity, confidence, reason, status, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Memory1ID, c.Memory2ID, entity, c.Confidence, c.Reason, c.Status, c.DetectedAt,
	)
	if err != nil {
		if isDuplicateErr(err) {
			return domain.Errorf(domain.KindDuplicateID, "contradiction %s already exists", c.ID)
		}
		return fmt.Errorf("insert contradiction: %w", err)
	}
	return nil
}

func (s *ContradictionStore) GetByID(ctx context.Context, id string) (*domain.Contradiction, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT `+contradictionColumns+` FROM contradictions WHERE id = ?`, id)
	c, err := scanContradiction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Errorf(domain.KindNotFound, "contradiction %s not found", id)
		}
		return nil, fmt.Errorf("get contradiction: %w", err)
	}
	return c, nil
}

func (s *ContradictionStore) List(ctx context.Context, f domain.ContradictionListFilter) ([]domain.Contradiction, error) {
	query := `SELECT ` + prefixColumns("c", contradictionColumns) + ` FROM contradictions c`
	where := ""
	var args []any

	and := func(clause string) {
		if where == "" {
			where = ` WHERE ` + clause
			return
		}
		where += ` AND ` + clause
	}

	if f.Status != nil {
		and(`c.status = ?`)
		args = append(args, string(*f.Status))
	}
	if f.Category != nil {
		// A contradiction belongs to a category when either side does.
		and(`EXISTS (
			SELECT 1 FROM memories m
			WHERE m.id IN (c.memory1_id, c.memory2_id) AND m.category = ?
		)`)
		args = append(args, string(*f.Category))
	}

	order := ` ORDER BY c.detected_at DESC, c.id ASC`
	switch f.Sort {
	case domain.SortOldest:
		order = ` ORDER BY c.detected_at ASC, c.id ASC`
	case domain.SortConfidence:
		order = ` ORDER BY c.confidence DESC, c.detected_at DESC, c.id ASC`
	}

	rows, err := s.db.sql.QueryContext(ctx, query+where+order, args...)
	if err != nil {
		return nil, fmt.Errorf("list contradictions: %w", err)
	}
	defer rows.Close()

	var results []domain.Contradiction
	for rows.Next() {
		c, err := scanContradiction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contradiction: %w", err)
		}
		results = append(results, *c)
	}
	return results, rows.Err()
}

func (s *ContradictionStore) CountUnresolved(ctx context.Context) (int, error) {
	var count int
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contradictions WHERE status = ?`,
		domain.ContradictionUnresolved).Scan(&count)
	return count, err
}

func (s *ContradictionStore) ExistsOpen(ctx context.Context, memory1ID, memory2ID string) (bool, error) {
	var count int
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contradictions
		 WHERE status = ?
		   AND ((memory1_id = ? AND memory2_id = ?) OR (memory1_id = ? AND memory2_id = ?))`,
		domain.ContradictionUnresolved, memory1ID, memory2ID, memory2ID, memory1ID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check open contradiction: %w", err)
	}
	return count > 0, nil
}

// Resolve marks the row and removes the losing memory in one transaction.
// The resolved row itself is exempt from the dangling-reference cleanup so
// the audit trail of the decision survives.
func (s *ContradictionStore) Resolve(ctx context.Context, id string, action domain.ResolutionAction, loserID string, resolvedAt int64) error {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	status := domain.ContradictionResolved
	if action == domain.ResolutionDismiss {
		status = domain.ContradictionDismissed
	}

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resolve: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE contradictions
		 SET status = ?, resolution_action = ?, resolved_at = ?
		 WHERE id = ?`,
		status, string(action), resolvedAt, id)
	if err != nil {
		return fmt.Errorf("resolve contradiction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.Errorf(domain.KindNotFound, "contradiction %s not found", id)
	}

	if loserID != "" {
		// Zero rows here is fine; the loser may already be gone.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memories WHERE id = ?`, loserID); err != nil {
			return fmt.Errorf("delete losing memory: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM contradictions
			 WHERE (memory1_id = ? OR memory2_id = ?) AND id != ?`,
			loserID, loserID, id); err != nil {
			return fmt.Errorf("cascade contradictions: %w", err)
		}
	}

	return tx.Commit()
}
