// Package graph provides the persistence backends for the memory graph.
// A Repository is the engine boundary: every operation is one
// self-contained request, executed atomically by the backend. The store
// layer above never constructs queries itself.
package graph

import (
	"context"
	"time"

	"github.com/commonkeep/gistgraph/internal/core"
)

// Repository defines the interface for graph storage backends.
// Both Neo4j and SQLite implement this interface.
//
// Identity nodes (agents, persons, communities, tags) are always created
// with merge-or-create semantics, so concurrent first references to the
// same identifier converge on one node. Memory nodes are created
// strictly; a duplicate memory id yields core.ErrDuplicateID. Edges
// between memories are multigraph edges: repeated identical LinkMemories
// calls produce distinct edges.
type Repository interface {
	// Lifecycle
	Close(ctx context.Context) error
	EnsureIndexes(ctx context.Context) error

	// Mutations
	StoreMemory(ctx context.Context, req core.StoreRequest) error
	LinkMemories(ctx context.Context, fromID, toID string, relType core.RelationshipType, strength float64, metadata map[string]any) error
	IncrementAccessCount(ctx context.Context, memoryID string) error

	// Reads
	RecallMemories(ctx context.Context, filter core.RecallFilter) ([]core.MemoryEntry, error)
	RelatedMemories(ctx context.Context, startID string, relTypes []core.RelationshipType, maxDepth, limit int) ([]core.RelatedMemory, error)
	PatternTransitions(ctx context.Context, communityID string, minOccurrences int, since time.Time) ([]core.PatternTransition, error)
	AgentKnowledge(ctx context.Context, agentID string, minConfidence float64, since time.Time) (map[core.MemoryType]int64, error)
}
