package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/commonkeep/gistgraph/internal/core"
)

// Neo4jRepository implements Repository against a Neo4j instance.
type Neo4jRepository struct {
	driver   neo4j.DriverWithContext
	database string
}

// Config holds Neo4j connection configuration.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// NewNeo4j creates a new Neo4j repository and verifies connectivity.
func NewNeo4j(ctx context.Context, cfg Config) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	db := cfg.Database
	if db == "" {
		db = "neo4j"
	}

	return &Neo4jRepository{driver: driver, database: db}, nil
}

// Close closes the Neo4j connection.
func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// EnsureIndexes creates the uniqueness constraints the schema relies on.
// The MemoryEntry constraint is what turns a duplicate memory id into a
// failed StoreMemory instead of a second node.
func (r *Neo4jRepository) EnsureIndexes(ctx context.Context) error {
	session := r.newSession(ctx)
	defer session.Close(ctx)

	constraints := []string{
		`CREATE CONSTRAINT memory_entry_id IF NOT EXISTS FOR (m:MemoryEntry) REQUIRE m.id IS UNIQUE`,
		`CREATE CONSTRAINT agent_id IF NOT EXISTS FOR (a:Agent) REQUIRE a.id IS UNIQUE`,
		`CREATE CONSTRAINT person_id IF NOT EXISTS FOR (p:Person) REQUIRE p.id IS UNIQUE`,
		`CREATE CONSTRAINT community_id IF NOT EXISTS FOR (c:Community) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT tag_name IF NOT EXISTS FOR (t:Tag) REQUIRE t.name IS UNIQUE`,
	}

	for _, stmt := range constraints {
		if _, err := neo4j.ExecuteQuery(ctx, r.driver, stmt, nil,
			neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(r.database)); err != nil {
			return fmt.Errorf("creating constraint: %w", err)
		}
	}

	return nil
}

// StoreMemory creates the memory node plus its agent, person, community
// and tag links as one write query, so the engine applies all of it in a
// single transaction.
func (r *Neo4jRepository) StoreMemory(ctx context.Context, req core.StoreRequest) error {
	session := r.newSession(ctx)
	defer session.Close(ctx)

	contentJSON, err := json.Marshal(req.Content)
	if err != nil {
		return fmt.Errorf("marshaling content: %w", err)
	}

	now := time.Now().UTC()

	var b strings.Builder
	b.WriteString(`
		MERGE (a:Agent {id: $agent_id})
		CREATE (m:MemoryEntry {
			id: $memory_id,
			type: $type,
			content: $content,
			timestamp: $timestamp,
			confidence: $confidence,
			access_count: 0
		})
		CREATE (a)-[:REMEMBERS {confidence: $confidence, recorded_at: $timestamp}]->(m)
	`)

	params := map[string]any{
		"memory_id":  req.MemoryID,
		"agent_id":   req.AgentID,
		"type":       string(req.Type),
		"content":    string(contentJSON),
		"timestamp":  now,
		"confidence": req.Confidence,
	}

	if req.PersonID != "" {
		b.WriteString(`
		WITH m
		MERGE (p:Person {id: $person_id})
		CREATE (m)-[:FOR_PERSON]->(p)
		`)
		params["person_id"] = req.PersonID
	}

	if req.CommunityID != "" {
		b.WriteString(`
		WITH m
		MERGE (c:Community {id: $community_id})
		CREATE (m)-[:IN_COMMUNITY]->(c)
		`)
		params["community_id"] = req.CommunityID
	}

	if len(req.Tags) > 0 {
		b.WriteString(`
		WITH m
		UNWIND $tags AS tag
		MERGE (t:Tag {name: tag})
		CREATE (m)-[:TAGGED_WITH]->(t)
		`)
		params["tags"] = req.Tags
	}

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, b.String(), params)
		if err != nil {
			return nil, err
		}
		_, err = result.Consume(ctx)
		return nil, err
	})
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %s", core.ErrDuplicateID, req.MemoryID)
		}
		return fmt.Errorf("storing memory: %w", err)
	}

	return nil
}

// LinkMemories creates one new RELATES_TO edge between two existing
// memories. Edges are never merged: identical calls stack up as parallel
// edges.
func (r *Neo4jRepository) LinkMemories(ctx context.Context, fromID, toID string, relType core.RelationshipType, strength float64, metadata map[string]any) error {
	session := r.newSession(ctx)
	defer session.Close(ctx)

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	query := `
		MATCH (a:MemoryEntry {id: $from_id})
		MATCH (b:MemoryEntry {id: $to_id})
		CREATE (a)-[r:RELATES_TO {
			type: $type,
			strength: $strength,
			created_at: $created_at,
			metadata: $metadata
		}]->(b)
		RETURN type(r)
	`

	params := map[string]any{
		"from_id":    fromID,
		"to_id":      toID,
		"type":       string(relType),
		"strength":   strength,
		"created_at": time.Now().UTC(),
		"metadata":   string(metaJSON),
	}

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		// Zero rows means at least one MATCH found nothing.
		if len(records) == 0 {
			return nil, fmt.Errorf("%w: %s or %s", core.ErrNotFound, fromID, toID)
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	return nil
}

// RecallMemories runs a filtered read over the graph. Every provided
// filter adds a required match clause, so filters combine with AND and a
// memory must carry all requested tags to appear.
func (r *Neo4jRepository) RecallMemories(ctx context.Context, filter core.RecallFilter) ([]core.MemoryEntry, error) {
	session := r.newSession(ctx)
	defer session.Close(ctx)

	var b strings.Builder
	b.WriteString("MATCH (m:MemoryEntry)\n")
	params := map[string]any{}

	if filter.AgentID != "" {
		b.WriteString("MATCH (:Agent {id: $agent_id})-[:REMEMBERS]->(m)\n")
		params["agent_id"] = filter.AgentID
	}
	if filter.PersonID != "" {
		b.WriteString("MATCH (m)-[:FOR_PERSON]->(:Person {id: $person_id})\n")
		params["person_id"] = filter.PersonID
	}
	if filter.CommunityID != "" {
		b.WriteString("MATCH (m)-[:IN_COMMUNITY]->(:Community {id: $community_id})\n")
		params["community_id"] = filter.CommunityID
	}
	for i, tag := range filter.Tags {
		param := fmt.Sprintf("tag_%d", i)
		b.WriteString(fmt.Sprintf("MATCH (m)-[:TAGGED_WITH]->(:Tag {name: $%s})\n", param))
		params[param] = tag
	}
	if filter.Type != "" {
		b.WriteString("WHERE m.type = $type\n")
		params["type"] = string(filter.Type)
	}

	b.WriteString("RETURN m ORDER BY m.timestamp DESC LIMIT $limit")
	params["limit"] = filter.Limit

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, b.String(), params)
		if err != nil {
			return nil, err
		}

		var memories []core.MemoryEntry
		for result.Next(ctx) {
			nodeValue, _ := result.Record().Get("m")
			entry, err := memoryFromNode(nodeValue.(neo4j.Node))
			if err != nil {
				return nil, err
			}
			memories = append(memories, entry)
		}
		return memories, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("recalling memories: %w", err)
	}

	return result.([]core.MemoryEntry), nil
}

// RelatedMemories walks RELATES_TO edges outward from startID, one row
// per distinct path of 1..maxDepth hops. The relationship-type filter,
// when present, applies to every hop of a path.
func (r *Neo4jRepository) RelatedMemories(ctx context.Context, startID string, relTypes []core.RelationshipType, maxDepth, limit int) ([]core.RelatedMemory, error) {
	session := r.newSession(ctx)
	defer session.Close(ctx)

	if maxDepth < 1 {
		maxDepth = 1
	}

	// Variable-length bounds cannot be parametrized in Cypher.
	var b strings.Builder
	fmt.Fprintf(&b, "MATCH path = (:MemoryEntry {id: $start_id})-[:RELATES_TO*1..%d]->(m:MemoryEntry)\n", maxDepth)
	params := map[string]any{
		"start_id": startID,
		"limit":    limit,
	}

	if len(relTypes) > 0 {
		b.WriteString("WHERE all(r IN relationships(path) WHERE r.type IN $rel_types)\n")
		types := make([]string, len(relTypes))
		for i, t := range relTypes {
			types[i] = string(t)
		}
		params["rel_types"] = types
	}

	b.WriteString(`RETURN m, [r IN relationships(path) | r.type] AS rel_path, length(path) AS distance
ORDER BY distance ASC
LIMIT $limit`)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, b.String(), params)
		if err != nil {
			return nil, err
		}

		var related []core.RelatedMemory
		for result.Next(ctx) {
			record := result.Record()

			nodeValue, _ := record.Get("m")
			entry, err := memoryFromNode(nodeValue.(neo4j.Node))
			if err != nil {
				return nil, err
			}

			pathValue, _ := record.Get("rel_path")
			rawPath := pathValue.([]any)
			path := make([]core.RelationshipType, len(rawPath))
			for i, v := range rawPath {
				path[i] = core.RelationshipType(v.(string))
			}

			distance, _ := record.Get("distance")

			related = append(related, core.RelatedMemory{
				Memory:   entry,
				Path:     path,
				Distance: int(distance.(int64)),
			})
		}
		return related, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("traversing related memories: %w", err)
	}

	return result.([]core.RelatedMemory), nil
}

// PatternTransitions mines recurring transitions: pattern-typed memories
// whose temporal_sequence edges to the same next memory repeat at least
// minOccurrences times within the window.
func (r *Neo4jRepository) PatternTransitions(ctx context.Context, communityID string, minOccurrences int, since time.Time) ([]core.PatternTransition, error) {
	session := r.newSession(ctx)
	defer session.Close(ctx)

	var b strings.Builder
	b.WriteString("MATCH (p:MemoryEntry {type: 'pattern'})-[r:RELATES_TO {type: 'temporal_sequence'}]->(n:MemoryEntry)\n")
	params := map[string]any{
		"since":           since,
		"min_occurrences": minOccurrences,
	}

	if communityID != "" {
		b.WriteString("MATCH (p)-[:IN_COMMUNITY]->(:Community {id: $community_id})\n")
		params["community_id"] = communityID
	}

	b.WriteString(`WHERE r.created_at >= $since
WITH p, n, count(r) AS occurrences
WHERE occurrences >= $min_occurrences
RETURN p, n, occurrences
ORDER BY occurrences DESC`)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, b.String(), params)
		if err != nil {
			return nil, err
		}

		var transitions []core.PatternTransition
		for result.Next(ctx) {
			record := result.Record()

			patternValue, _ := record.Get("p")
			pattern, err := memoryFromNode(patternValue.(neo4j.Node))
			if err != nil {
				return nil, err
			}

			nextValue, _ := record.Get("n")
			next, err := memoryFromNode(nextValue.(neo4j.Node))
			if err != nil {
				return nil, err
			}

			occurrences, _ := record.Get("occurrences")

			transitions = append(transitions, core.PatternTransition{
				Pattern:     pattern,
				Next:        next,
				Occurrences: occurrences.(int64),
			})
		}
		return transitions, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("mining pattern transitions: %w", err)
	}

	return result.([]core.PatternTransition), nil
}

// AgentKnowledge aggregates a per-type count of the memories an agent
// remembers with sufficient edge confidence inside the window.
func (r *Neo4jRepository) AgentKnowledge(ctx context.Context, agentID string, minConfidence float64, since time.Time) (map[core.MemoryType]int64, error) {
	session := r.newSession(ctx)
	defer session.Close(ctx)

	query := `
		MATCH (a:Agent {id: $agent_id})-[r:REMEMBERS]->(m:MemoryEntry)
		WHERE r.confidence >= $min_confidence AND m.timestamp >= $since
		RETURN m.type AS type, count(m) AS count
	`

	params := map[string]any{
		"agent_id":       agentID,
		"min_confidence": minConfidence,
		"since":          since,
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}

		knowledge := make(map[core.MemoryType]int64)
		for result.Next(ctx) {
			record := result.Record()
			memType, _ := record.Get("type")
			count, _ := record.Get("count")
			knowledge[core.MemoryType(memType.(string))] = count.(int64)
		}
		return knowledge, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("aggregating agent knowledge: %w", err)
	}

	return result.(map[core.MemoryType]int64), nil
}

// IncrementAccessCount bumps a memory's access counter with a single
// read-modify-write query. Atomicity under concurrent calls is the
// engine's guarantee, not ours.
func (r *Neo4jRepository) IncrementAccessCount(ctx context.Context, memoryID string) error {
	session := r.newSession(ctx)
	defer session.Close(ctx)

	query := `
		MATCH (m:MemoryEntry {id: $memory_id})
		SET m.access_count = m.access_count + 1
		RETURN m.access_count
	`

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"memory_id": memoryID})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("%w: %s", core.ErrNotFound, memoryID)
		}
		return nil, nil
	})

	return err
}

func (r *Neo4jRepository) newSession(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
}

// memoryFromNode converts a Neo4j node back into a MemoryEntry,
// unmarshaling the JSON content property (Neo4j doesn't support nested
// maps as property values).
func memoryFromNode(node neo4j.Node) (core.MemoryEntry, error) {
	entry := core.MemoryEntry{}

	id, ok := node.Props["id"].(string)
	if !ok {
		return entry, fmt.Errorf("memory node missing id property")
	}
	entry.ID = id

	if t, ok := node.Props["type"].(string); ok {
		entry.Type = core.MemoryType(t)
	}
	if ts, ok := node.Props["timestamp"].(time.Time); ok {
		entry.Timestamp = ts
	}
	if conf, ok := node.Props["confidence"].(float64); ok {
		entry.Confidence = conf
	}
	if count, ok := node.Props["access_count"].(int64); ok {
		entry.AccessCount = count
	}

	if contentStr, ok := node.Props["content"].(string); ok && contentStr != "" {
		if err := json.Unmarshal([]byte(contentStr), &entry.Content); err != nil {
			return entry, fmt.Errorf("unmarshaling content for %s: %w", id, err)
		}
	}

	return entry, nil
}

// isConstraintViolation reports whether err is the engine rejecting a
// write for violating a uniqueness constraint.
func isConstraintViolation(err error) bool {
	var neo4jErr *db.Neo4jError
	if !errors.As(err, &neo4jErr) {
		return false
	}
	return strings.Contains(neo4jErr.Code, "ConstraintValidation")
}
