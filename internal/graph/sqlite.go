package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/commonkeep/gistgraph/internal/core"
)

// sqliteTimeLayout is fixed-width UTC so that lexicographic comparison
// of stored timestamps matches chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository implements Repository using SQLite as a relational
// emulation of the property graph. Useful for single-node deployments
// and tests; semantics match the Neo4j backend.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite repository at dbPath, applying pragmas
// and creating the schema.
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	// Pragmas are per-connection; a single pooled connection keeps them
	// in force and serializes writes.
	db.SetMaxOpenConns(1)

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the SQLite connection.
func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

// EnsureIndexes creates necessary indexes (already created in schema).
func (r *SQLiteRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

// StoreMemory inserts the memory row plus its agent, person, community
// and tag rows inside one transaction. Identity rows use INSERT OR
// IGNORE (merge-or-create); the memory row is a strict insert so a
// duplicate id fails the whole call.
func (r *SQLiteRepository) StoreMemory(ctx context.Context, req core.StoreRequest) error {
	contentJSON, err := json.Marshal(req.Content)
	if err != nil {
		return fmt.Errorf("marshaling content: %w", err)
	}

	now := time.Now().UTC().Format(sqliteTimeLayout)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO agents (id) VALUES (?)`, req.AgentID); err != nil {
		return fmt.Errorf("merging agent: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memories (id, type, content, timestamp, confidence, access_count) VALUES (?, ?, ?, ?, ?, 0)`,
		req.MemoryID, string(req.Type), string(contentJSON), now, req.Confidence,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %s", core.ErrDuplicateID, req.MemoryID)
		}
		return fmt.Errorf("inserting memory: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO agent_memories (agent_id, memory_id, confidence, recorded_at) VALUES (?, ?, ?, ?)`,
		req.AgentID, req.MemoryID, req.Confidence, now,
	)
	if err != nil {
		return fmt.Errorf("linking agent to memory: %w", err)
	}

	if req.PersonID != "" {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO persons (id) VALUES (?)`, req.PersonID); err != nil {
			return fmt.Errorf("merging person: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_persons (memory_id, person_id) VALUES (?, ?)`,
			req.MemoryID, req.PersonID,
		); err != nil {
			return fmt.Errorf("linking person: %w", err)
		}
	}

	if req.CommunityID != "" {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO communities (id) VALUES (?)`, req.CommunityID); err != nil {
			return fmt.Errorf("merging community: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_communities (memory_id, community_id) VALUES (?, ?)`,
			req.MemoryID, req.CommunityID,
		); err != nil {
			return fmt.Errorf("linking community: %w", err)
		}
	}

	for _, tag := range req.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (name) VALUES (?)`, tag); err != nil {
			return fmt.Errorf("merging tag: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_tags (memory_id, tag) VALUES (?, ?)`,
			req.MemoryID, tag,
		); err != nil {
			return fmt.Errorf("linking tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing memory: %w", err)
	}

	return nil
}

// LinkMemories inserts one edge row, guarded so the insert only happens
// when both endpoints exist. Zero rows affected means a missing endpoint.
func (r *SQLiteRepository) LinkMemories(ctx context.Context, fromID, toID string, relType core.RelationshipType, strength float64, metadata map[string]any) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	query := `
		INSERT INTO memory_links (from_id, to_id, type, strength, created_at, metadata)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM memories WHERE id = ?)
		  AND EXISTS (SELECT 1 FROM memories WHERE id = ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		fromID, toID, string(relType), strength,
		time.Now().UTC().Format(sqliteTimeLayout), string(metaJSON),
		fromID, toID,
	)
	if err != nil {
		return fmt.Errorf("inserting link: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking link insert: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s or %s", core.ErrNotFound, fromID, toID)
	}

	return nil
}

// RecallMemories runs the AND-combined filter query. Each requested tag
// contributes its own EXISTS clause, so a memory must carry all of them.
func (r *SQLiteRepository) RecallMemories(ctx context.Context, filter core.RecallFilter) ([]core.MemoryEntry, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT m.id, m.type, m.content, m.timestamp, m.confidence, m.access_count
		FROM memories m
		WHERE 1=1
	`)
	var args []any

	if filter.AgentID != "" {
		b.WriteString(` AND EXISTS (SELECT 1 FROM agent_memories am WHERE am.memory_id = m.id AND am.agent_id = ?)`)
		args = append(args, filter.AgentID)
	}
	if filter.PersonID != "" {
		b.WriteString(` AND EXISTS (SELECT 1 FROM memory_persons mp WHERE mp.memory_id = m.id AND mp.person_id = ?)`)
		args = append(args, filter.PersonID)
	}
	if filter.CommunityID != "" {
		b.WriteString(` AND EXISTS (SELECT 1 FROM memory_communities mc WHERE mc.memory_id = m.id AND mc.community_id = ?)`)
		args = append(args, filter.CommunityID)
	}
	if filter.Type != "" {
		b.WriteString(` AND m.type = ?`)
		args = append(args, string(filter.Type))
	}
	for _, tag := range filter.Tags {
		b.WriteString(` AND EXISTS (SELECT 1 FROM memory_tags mt WHERE mt.memory_id = m.id AND mt.tag = ?)`)
		args = append(args, tag)
	}

	b.WriteString(` ORDER BY m.timestamp DESC LIMIT ?`)
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("recalling memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// RelatedMemories walks outgoing edges with a recursive CTE, carrying
// the relationship-type path alongside the frontier. One row per
// distinct path; recursion is bounded by maxDepth.
func (r *SQLiteRepository) RelatedMemories(ctx context.Context, startID string, relTypes []core.RelationshipType, maxDepth, limit int) ([]core.RelatedMemory, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}

	typeFilter := ""
	args := []any{startID, maxDepth}
	if len(relTypes) > 0 {
		placeholders := make([]string, len(relTypes))
		for i, t := range relTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		typeFilter = " AND l.type IN (" + strings.Join(placeholders, ",") + ")"
	}

	query := fmt.Sprintf(`
		WITH RECURSIVE walk(memory_id, depth, rel_path) AS (
			SELECT ?, 0, ''
			UNION ALL
			SELECT l.to_id, w.depth + 1,
			       CASE WHEN w.rel_path = '' THEN l.type ELSE w.rel_path || ',' || l.type END
			FROM walk w
			JOIN memory_links l ON l.from_id = w.memory_id
			WHERE w.depth < ?%s
		)
		SELECT m.id, m.type, m.content, m.timestamp, m.confidence, m.access_count, w.rel_path, w.depth
		FROM walk w
		JOIN memories m ON m.id = w.memory_id
		WHERE w.depth > 0
		ORDER BY w.depth ASC
		LIMIT ?
	`, typeFilter)

	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("traversing related memories: %w", err)
	}
	defer rows.Close()

	var related []core.RelatedMemory
	for rows.Next() {
		var (
			entry     core.MemoryEntry
			typeStr   string
			content   sql.NullString
			timestamp string
			relPath   string
			depth     int
		)
		if err := rows.Scan(&entry.ID, &typeStr, &content, &timestamp, &entry.Confidence, &entry.AccessCount, &relPath, &depth); err != nil {
			return nil, fmt.Errorf("scanning related memory: %w", err)
		}
		if err := fillMemory(&entry, typeStr, content, timestamp); err != nil {
			return nil, err
		}

		var path []core.RelationshipType
		if relPath != "" {
			for _, t := range strings.Split(relPath, ",") {
				path = append(path, core.RelationshipType(t))
			}
		}

		related = append(related, core.RelatedMemory{
			Memory:   entry,
			Path:     path,
			Distance: depth,
		})
	}

	return related, rows.Err()
}

// PatternTransitions groups temporal_sequence edges out of pattern-typed
// memories by ordered (pattern, next) pair and keeps pairs repeating at
// least minOccurrences times inside the window.
func (r *SQLiteRepository) PatternTransitions(ctx context.Context, communityID string, minOccurrences int, since time.Time) ([]core.PatternTransition, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT p.id, p.type, p.content, p.timestamp, p.confidence, p.access_count,
		       n.id, n.type, n.content, n.timestamp, n.confidence, n.access_count,
		       count(*) AS occurrences
		FROM memory_links l
		JOIN memories p ON p.id = l.from_id
		JOIN memories n ON n.id = l.to_id
		WHERE p.type = 'pattern' AND l.type = 'temporal_sequence' AND l.created_at >= ?
	`)
	args := []any{since.UTC().Format(sqliteTimeLayout)}

	if communityID != "" {
		b.WriteString(` AND EXISTS (SELECT 1 FROM memory_communities mc WHERE mc.memory_id = p.id AND mc.community_id = ?)`)
		args = append(args, communityID)
	}

	b.WriteString(`
		GROUP BY p.id, n.id
		HAVING count(*) >= ?
		ORDER BY occurrences DESC
	`)
	args = append(args, minOccurrences)

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("mining pattern transitions: %w", err)
	}
	defer rows.Close()

	var transitions []core.PatternTransition
	for rows.Next() {
		var (
			pattern, next          core.MemoryEntry
			pType, nType           string
			pContent, nContent     sql.NullString
			pTimestamp, nTimestamp string
			occurrences            int64
		)
		if err := rows.Scan(
			&pattern.ID, &pType, &pContent, &pTimestamp, &pattern.Confidence, &pattern.AccessCount,
			&next.ID, &nType, &nContent, &nTimestamp, &next.Confidence, &next.AccessCount,
			&occurrences,
		); err != nil {
			return nil, fmt.Errorf("scanning pattern transition: %w", err)
		}
		if err := fillMemory(&pattern, pType, pContent, pTimestamp); err != nil {
			return nil, err
		}
		if err := fillMemory(&next, nType, nContent, nTimestamp); err != nil {
			return nil, err
		}

		transitions = append(transitions, core.PatternTransition{
			Pattern:     pattern,
			Next:        next,
			Occurrences: occurrences,
		})
	}

	return transitions, rows.Err()
}

// AgentKnowledge counts remembered memories per type, filtered by edge
// confidence and the lookback window.
func (r *SQLiteRepository) AgentKnowledge(ctx context.Context, agentID string, minConfidence float64, since time.Time) (map[core.MemoryType]int64, error) {
	query := `
		SELECT m.type, count(*)
		FROM agent_memories am
		JOIN memories m ON m.id = am.memory_id
		WHERE am.agent_id = ? AND am.confidence >= ? AND m.timestamp >= ?
		GROUP BY m.type
	`

	rows, err := r.db.QueryContext(ctx, query, agentID, minConfidence, since.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("aggregating agent knowledge: %w", err)
	}
	defer rows.Close()

	knowledge := make(map[core.MemoryType]int64)
	for rows.Next() {
		var (
			memType string
			count   int64
		)
		if err := rows.Scan(&memType, &count); err != nil {
			return nil, fmt.Errorf("scanning knowledge row: %w", err)
		}
		knowledge[core.MemoryType(memType)] = count
	}

	return knowledge, rows.Err()
}

// IncrementAccessCount bumps the counter with a single UPDATE, which
// SQLite executes atomically.
func (r *SQLiteRepository) IncrementAccessCount(ctx context.Context, memoryID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1 WHERE id = ?`, memoryID)
	if err != nil {
		return fmt.Errorf("incrementing access count: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking increment: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrNotFound, memoryID)
	}

	return nil
}

// scanMemories reads MemoryEntry rows in column order
// (id, type, content, timestamp, confidence, access_count).
func scanMemories(rows *sql.Rows) ([]core.MemoryEntry, error) {
	var memories []core.MemoryEntry
	for rows.Next() {
		var (
			entry     core.MemoryEntry
			typeStr   string
			content   sql.NullString
			timestamp string
		)
		if err := rows.Scan(&entry.ID, &typeStr, &content, &timestamp, &entry.Confidence, &entry.AccessCount); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		if err := fillMemory(&entry, typeStr, content, timestamp); err != nil {
			return nil, err
		}
		memories = append(memories, entry)
	}
	return memories, rows.Err()
}

// fillMemory decodes the serialized columns into the entry.
func fillMemory(entry *core.MemoryEntry, typeStr string, content sql.NullString, timestamp string) error {
	entry.Type = core.MemoryType(typeStr)

	ts, err := time.Parse(sqliteTimeLayout, timestamp)
	if err != nil {
		return fmt.Errorf("parsing timestamp for %s: %w", entry.ID, err)
	}
	entry.Timestamp = ts

	if content.Valid && content.String != "" {
		if err := json.Unmarshal([]byte(content.String), &entry.Content); err != nil {
			return fmt.Errorf("unmarshaling content for %s: %w", entry.ID, err)
		}
	}

	return nil
}
