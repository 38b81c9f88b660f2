// Package memory is the caller-facing layer of the memory graph. It
// validates and normalizes inputs, delegates to a graph.Repository, and
// converts every backend error into a neutral failure value: false for
// mutations, an empty collection for reads. Callers check the returned
// value, never an error.
package memory

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/commonkeep/gistgraph/internal/core"
	"github.com/commonkeep/gistgraph/internal/graph"
)

// Defaults applied when a caller leaves the corresponding argument zero.
const (
	DefaultRecallLimit    = 50
	DefaultRelatedDepth   = 2
	DefaultRelatedLimit   = 20
	DefaultMinOccurrences = 3
	DefaultLookbackDays   = 30
	DefaultMinConfidence  = 0.5
)

// Store owns the memory-graph operations. It performs no locking of its
// own; every operation is one request that the backend executes
// atomically, so concurrent calls from multiple agents are safe to the
// extent the backend's primitives are.
type Store struct {
	repo   graph.Repository
	logger *log.Logger
}

// NewStore creates a Store over the given repository. A nil logger
// falls back to the package default.
func NewStore(repo graph.Repository, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{repo: repo, logger: logger}
}

// StoreMemory persists a new memory entry for an agent, merge-creating
// the agent, person, community and tag nodes it references. A zero
// confidence is treated as unset and defaults to 1.0; values outside
// [0,1] are clamped. Returns false on invalid input, duplicate memory
// id, or any engine error.
func (s *Store) StoreMemory(ctx context.Context, req core.StoreRequest) bool {
	if req.MemoryID == "" || req.AgentID == "" {
		s.logger.Warn("store_memory rejected", "reason", "missing memory_id or agent_id")
		return false
	}
	if !req.Type.Valid() {
		s.logger.Warn("store_memory rejected", "reason", "unknown memory type", "type", req.Type)
		return false
	}

	if req.Confidence == 0 {
		req.Confidence = 1.0
	}
	req.Confidence = core.ClampConfidence(req.Confidence)

	if err := s.repo.StoreMemory(ctx, req); err != nil {
		s.logger.Error("store_memory failed", "memory_id", req.MemoryID, "agent_id", req.AgentID, "err", err)
		return false
	}

	return true
}

// LinkMemories creates a new directed edge between two existing
// memories. Edges are never deduplicated: calling this twice with
// identical arguments produces two edges. A zero strength defaults to
// 1.0. Returns false when either endpoint is missing or the engine
// fails.
func (s *Store) LinkMemories(ctx context.Context, fromID, toID string, relType core.RelationshipType, strength float64, metadata map[string]any) bool {
	if fromID == "" || toID == "" {
		s.logger.Warn("link_memories rejected", "reason", "missing endpoint id")
		return false
	}
	if !relType.Valid() {
		s.logger.Warn("link_memories rejected", "reason", "unknown relationship type", "type", relType)
		return false
	}

	if strength == 0 {
		strength = 1.0
	}
	strength = core.ClampConfidence(strength)

	if err := s.repo.LinkMemories(ctx, fromID, toID, relType, strength, metadata); err != nil {
		s.logger.Error("link_memories failed", "from", fromID, "to", toID, "err", err)
		return false
	}

	return true
}

// RecallMemories returns memories matching every provided filter,
// newest first, capped at the limit (default 50). A memory must carry
// all requested tags to match. Returns an empty slice on any failure.
func (s *Store) RecallMemories(ctx context.Context, filter core.RecallFilter) []core.MemoryEntry {
	if filter.Type != "" && !filter.Type.Valid() {
		s.logger.Warn("recall_memories rejected", "reason", "unknown memory type", "type", filter.Type)
		return []core.MemoryEntry{}
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultRecallLimit
	}

	memories, err := s.repo.RecallMemories(ctx, filter)
	if err != nil {
		s.logger.Error("recall_memories failed", "err", err)
		return []core.MemoryEntry{}
	}
	if memories == nil {
		memories = []core.MemoryEntry{}
	}

	return memories
}

// FindRelatedMemories traverses outward from startID over relationship
// edges, up to maxDepth hops (default 2), returning one result per
// distinct path ordered by hop count, capped at limit (default 20).
// When relTypes is non-empty, every hop of a path must use one of the
// given types. Returns an empty slice on any failure.
func (s *Store) FindRelatedMemories(ctx context.Context, startID string, relTypes []core.RelationshipType, maxDepth, limit int) []core.RelatedMemory {
	if startID == "" {
		s.logger.Warn("find_related_memories rejected", "reason", "missing start id")
		return []core.RelatedMemory{}
	}
	for _, t := range relTypes {
		if !t.Valid() {
			s.logger.Warn("find_related_memories rejected", "reason", "unknown relationship type", "type", t)
			return []core.RelatedMemory{}
		}
	}
	if maxDepth <= 0 {
		maxDepth = DefaultRelatedDepth
	}
	if limit <= 0 {
		limit = DefaultRelatedLimit
	}

	related, err := s.repo.RelatedMemories(ctx, startID, relTypes, maxDepth, limit)
	if err != nil {
		s.logger.Error("find_related_memories failed", "start", startID, "err", err)
		return []core.RelatedMemory{}
	}
	if related == nil {
		related = []core.RelatedMemory{}
	}

	return related
}

// FindPatterns mines recurring transitions among pattern-typed memories
// connected by temporal_sequence edges created within the lookback
// window (default 30 days), keeping transitions observed at least
// minOccurrences times (default 3), ordered by occurrence count
// descending. Returns an empty slice on any failure.
func (s *Store) FindPatterns(ctx context.Context, communityID string, minOccurrences, lookbackDays int) []core.PatternTransition {
	if minOccurrences <= 0 {
		minOccurrences = DefaultMinOccurrences
	}
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	since := time.Now().UTC().AddDate(0, 0, -lookbackDays)

	transitions, err := s.repo.PatternTransitions(ctx, communityID, minOccurrences, since)
	if err != nil {
		s.logger.Error("find_patterns failed", "community", communityID, "err", err)
		return []core.PatternTransition{}
	}
	if transitions == nil {
		transitions = []core.PatternTransition{}
	}

	return transitions
}

// AgentKnowledge returns a per-type count of the memories an agent
// remembers with edge confidence at or above minConfidence (default
// 0.5 when zero) inside the lookback window (default 30 days). Returns
// an empty map on any failure.
func (s *Store) AgentKnowledge(ctx context.Context, agentID string, minConfidence float64, lookbackDays int) map[core.MemoryType]int64 {
	if agentID == "" {
		s.logger.Warn("agent_knowledge rejected", "reason", "missing agent id")
		return map[core.MemoryType]int64{}
	}
	if minConfidence == 0 {
		minConfidence = DefaultMinConfidence
	}
	minConfidence = core.ClampConfidence(minConfidence)
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	since := time.Now().UTC().AddDate(0, 0, -lookbackDays)

	knowledge, err := s.repo.AgentKnowledge(ctx, agentID, minConfidence, since)
	if err != nil {
		s.logger.Error("agent_knowledge failed", "agent", agentID, "err", err)
		return map[core.MemoryType]int64{}
	}
	if knowledge == nil {
		knowledge = map[core.MemoryType]int64{}
	}

	return knowledge
}

// IncrementAccessCount bumps a memory's access counter. Returns false
// when the memory does not exist or the engine fails.
func (s *Store) IncrementAccessCount(ctx context.Context, memoryID string) bool {
	if memoryID == "" {
		s.logger.Warn("increment_access_count rejected", "reason", "missing memory id")
		return false
	}

	if err := s.repo.IncrementAccessCount(ctx, memoryID); err != nil {
		s.logger.Error("increment_access_count failed", "memory_id", memoryID, "err", err)
		return false
	}

	return true
}
