package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/engramhq/engram/internal/domain"
)

// writeBatchSize caps rows touched per statement so long mutations yield the
// writer lock to concurrent requests.
const writeBatchSize = 100

const memoryColumns = `id, content, entity, category, confidence, embedding, source, namespace, tags, access_count, decay_rate, created_at, updated_at, last_accessed`

type MemoryStore struct {
	db *DB
}

func NewMemoryStore(db *DB) *MemoryStore {
	return &MemoryStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *MemoryStore) scanMemory(sc rowScanner) (*domain.Memory, error) {
	var (
		m            domain.Memory
		entity       sql.NullString
		embedding    []byte
		tags         string
		lastAccessed sql.NullInt64
	)
	err := sc.Scan(&m.ID, &m.Content, &entity, &m.Category, &m.Confidence, &embedding,
		&m.Source, &m.Namespace, &tags, &m.AccessCount, &m.DecayRate,
		&m.CreatedAt, &m.UpdatedAt, &lastAccessed)
	if err != nil {
		return nil, err
	}
	if entity.Valid {
		e := entity.String
		m.Entity = &e
	}
	// A blob of the wrong width is treated as no embedding at all.
	if len(embedding) == s.db.dims*4 {
		m.Embedding = unpackEmbedding(embedding)
	}
	m.Tags = decodeTags(tags)
	if lastAccessed.Valid {
		la := lastAccessed.Int64
		m.LastAccessed = &la
	}
	return &m, nil
}

func (s *MemoryStore) Put(ctx context.Context, m *domain.Memory) error {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	var entity any
	if m.Entity != nil {
		entity = *m.Entity
	}
	var lastAccessed any
	if m.LastAccessed != nil {
		lastAccessed = *m.LastAccessed
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, entity, m.Category, m.Confidence, packEmbedding(m.Embedding),
		m.Source, m.Namespace, encodeTags(m.Tags), m.AccessCount, m.DecayRate,
		m.CreatedAt, m.UpdatedAt, lastAccessed,
	)
	if err != nil {
		if isDuplicateErr(err) {
			return domain.Errorf(domain.KindDuplicateID, "memory %s already exists", m.ID)
		}
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*domain.Memory, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := s.scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Errorf(domain.KindNotFound, "memory %s not found", id)
		}
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

func (s *MemoryStore) List(ctx context.Context, f domain.ListFilter) ([]domain.Memory, int, error) {
	// An empty namespace filter means all namespaces.
	where := "1=1"
	var args []any
	if f.Namespace != "" {
		where = "namespace = ?"
		args = append(args, f.Namespace)
	}
	if f.Category != nil {
		where += " AND category = ?"
		args = append(args, string(*f.Category))
	}

	var total int
	if err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count memories: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE `+where+`
		 ORDER BY created_at DESC, id ASC
		 LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	memories, err := collectMemories(rows, s)
	if err != nil {
		return nil, 0, err
	}
	return memories, total, nil
}

func (s *MemoryStore) ListPage(ctx context.Context, afterID string, limit int) ([]domain.Memory, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE id > ?
		 ORDER BY id ASC
		 LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list page: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows, s)
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.Errorf(domain.KindNotFound, "memory %s not found", id)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM contradictions WHERE memory1_id = ? OR memory2_id = ?`, id, id); err != nil {
		return fmt.Errorf("cascade contradictions: %w", err)
	}

	return tx.Commit()
}

func (s *MemoryStore) BulkDelete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk delete: %w", err)
	}
	defer tx.Rollback()

	deleted := 0
	for _, batch := range chunkIDs(dedupeIDs(ids), writeBatchSize) {
		ph := placeholders(len(batch))
		args := idArgs(batch)

		res, err := tx.ExecContext(ctx,
			`DELETE FROM memories WHERE id IN (`+ph+`)`, args...)
		if err != nil {
			return 0, fmt.Errorf("bulk delete memories: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		deleted += int(n)

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM contradictions
			 WHERE memory1_id IN (`+ph+`) OR memory2_id IN (`+ph+`)`,
			append(args, args...)...); err != nil {
			return 0, fmt.Errorf("cascade contradictions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *MemoryStore) SearchText(ctx context.Context, query, namespace string, category *domain.Category, limit int) ([]domain.Memory, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}

	where := "memories_fts MATCH ? AND m.namespace = ?"
	args := []any{match, namespace}
	if category != nil {
		where += " AND m.category = ?"
		args = append(args, string(*category))
	}
	args = append(args, limit)

	cols := prefixColumns("m", memoryColumns)
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+cols+`
		 FROM memories_fts
		 JOIN memories m ON m.id = memories_fts.id
		 WHERE `+where+`
		 ORDER BY bm25(memories_fts), m.id ASC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows, s)
}

func (s *MemoryStore) ListEmbedded(ctx context.Context, namespace string, category *domain.Category, limit int) ([]domain.Memory, error) {
	where := "namespace = ? AND embedding IS NOT NULL AND length(embedding) = ?"
	args := []any{namespace, s.db.dims * 4}
	if category != nil {
		where += " AND category = ?"
		args = append(args, string(*category))
	}
	args = append(args, limit)

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE `+where+`
		 ORDER BY created_at DESC, id ASC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list embedded: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows, s)
}

func (s *MemoryStore) BumpAccess(ctx context.Context, ids []string, at int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	for _, batch := range chunkIDs(ids, writeBatchSize) {
		args := append([]any{at}, idArgs(batch)...)
		if _, err := s.db.sql.ExecContext(ctx,
			`UPDATE memories
			 SET access_count = access_count + 1, last_accessed = ?
			 WHERE id IN (`+placeholders(len(batch))+`)`, args...); err != nil {
			return fmt.Errorf("bump access: %w", err)
		}
	}
	return nil
}

func (s *MemoryStore) ApplyMerge(ctx context.Context, m *domain.Merge) error {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE memories
		 SET access_count = ?, tags = ?, confidence = ?, updated_at = ?
		 WHERE id = ?`,
		m.AccessCount, encodeTags(m.Tags), m.Confidence, m.UpdatedAt, m.WinnerID)
	if err != nil {
		return fmt.Errorf("update merge winner: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.Errorf(domain.KindNotFound, "merge winner %s not found", m.WinnerID)
	}

	for _, batch := range chunkIDs(m.LoserIDs, writeBatchSize) {
		ph := placeholders(len(batch))
		args := idArgs(batch)

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memories WHERE id IN (`+ph+`)`, args...); err != nil {
			return fmt.Errorf("delete merge losers: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM contradictions
			 WHERE memory1_id IN (`+ph+`) OR memory2_id IN (`+ph+`)`,
			append(args, args...)...); err != nil {
			return fmt.Errorf("cascade contradictions: %w", err)
		}
	}

	return tx.Commit()
}

func (s *MemoryStore) ApplyDecay(ctx context.Context, updates []domain.DecayUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decay: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE memories SET confidence = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare decay: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.Confidence, u.UpdatedAt, u.ID); err != nil {
			return fmt.Errorf("apply decay %s: %w", u.ID, err)
		}
	}

	return tx.Commit()
}

func (s *MemoryStore) ListStaleIDs(ctx context.Context, maxConfidence float64, createdBefore int64, limit int) ([]string, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id FROM memories
		 WHERE confidence < ? AND created_at < ? AND access_count = 0
		 ORDER BY id ASC
		 LIMIT ?`, maxConfidence, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *MemoryStore) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT DISTINCT namespace FROM memories ORDER BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		namespaces = append(namespaces, ns)
	}
	return namespaces, rows.Err()
}

func (s *MemoryStore) Stats(ctx context.Context) (*domain.StoreStats, error) {
	stats := &domain.StoreStats{
		ByCategory:  map[string]int{},
		ByNamespace: map[string]int{},
	}

	if err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories`).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count total: %w", err)
	}
	if err := s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE embedding IS NOT NULL AND length(embedding) = ?`,
		s.db.dims*4).Scan(&stats.WithEmbeddings); err != nil {
		return nil, fmt.Errorf("count embedded: %w", err)
	}

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM memories GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		stats.ByCategory[cat] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	nsRows, err := s.db.sql.QueryContext(ctx,
		`SELECT namespace, COUNT(*) FROM memories GROUP BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("count by namespace: %w", err)
	}
	defer nsRows.Close()
	for nsRows.Next() {
		var ns string
		var n int
		if err := nsRows.Scan(&ns, &n); err != nil {
			return nil, err
		}
		stats.ByNamespace[ns] = n
	}
	return stats, nsRows.Err()
}

func collectMemories(rows *sql.Rows, s *MemoryStore) ([]domain.Memory, error) {
	var memories []domain.Memory
	for rows.Next() {
		m, err := s.scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}

// ftsMatchExpr turns free text into a safe MATCH expression: bare tokens,
// quoted, OR-joined. FTS5 operators in user input stay inert inside quotes.
func ftsMatchExpr(query string) string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
