package core

import (
	"errors"
	"time"
)

// MemoryType classifies a stored memory entry.
type MemoryType string

const (
	MemoryExperience   MemoryType = "experience"
	MemoryKnowledge    MemoryType = "knowledge"
	MemoryPattern      MemoryType = "pattern"
	MemoryRelationship MemoryType = "relationship"
	MemoryEvent        MemoryType = "event"
	MemoryContribution MemoryType = "contribution"
)

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryExperience, MemoryKnowledge, MemoryPattern,
		MemoryRelationship, MemoryEvent, MemoryContribution:
		return true
	}
	return false
}

// RelationshipType classifies an edge between two memory entries.
type RelationshipType string

const (
	RelCausation        RelationshipType = "causation"
	RelSimilarity       RelationshipType = "similarity"
	RelTemporalSequence RelationshipType = "temporal_sequence"
	RelContradiction    RelationshipType = "contradiction"
	RelGeneralization   RelationshipType = "generalization"
	RelSolution         RelationshipType = "solution"
)

// Valid reports whether t is one of the known relationship types.
func (t RelationshipType) Valid() bool {
	switch t {
	case RelCausation, RelSimilarity, RelTemporalSequence,
		RelContradiction, RelGeneralization, RelSolution:
		return true
	}
	return false
}

// MemoryEntry is one persisted unit of knowledge or experience.
// Content, type and confidence are immutable after creation; only
// AccessCount changes, via IncrementAccessCount.
type MemoryEntry struct {
	ID          string         `json:"id"`
	Type        MemoryType     `json:"type"`
	Content     map[string]any `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
	Confidence  float64        `json:"confidence"`
	AccessCount int64          `json:"access_count"`
}

// StoreRequest carries everything needed to persist a new memory entry.
// MemoryID must be globally unique; the store does not generate IDs.
type StoreRequest struct {
	MemoryID    string         `json:"memory_id"`
	Type        MemoryType     `json:"type"`
	Content     map[string]any `json:"content"`
	AgentID     string         `json:"agent_id"`
	PersonID    string         `json:"person_id,omitempty"`
	CommunityID string         `json:"community_id,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Confidence  float64        `json:"confidence"`
}

// RecallFilter selects memories for recall. Zero-valued fields are not
// applied. All applied filters must hold at once; a memory must carry
// every requested tag.
type RecallFilter struct {
	AgentID     string     `json:"agent_id,omitempty"`
	PersonID    string     `json:"person_id,omitempty"`
	CommunityID string     `json:"community_id,omitempty"`
	Type        MemoryType `json:"type,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Limit       int        `json:"limit,omitempty"`
}

// RelatedMemory is one traversal result: a reachable memory together with
// the ordered relationship types walked to reach it and the hop count.
type RelatedMemory struct {
	Memory   MemoryEntry        `json:"memory"`
	Path     []RelationshipType `json:"relationship_path"`
	Distance int                `json:"distance"`
}

// PatternTransition is one mined recurring transition: a pattern-typed
// memory followed by the same next memory Occurrences times.
type PatternTransition struct {
	Pattern     MemoryEntry `json:"pattern_memory"`
	Next        MemoryEntry `json:"next_memory"`
	Occurrences int64       `json:"occurrences"`
}

// Sentinel errors returned by graph repositories. The memory store
// collapses both into its neutral failure values, but callers working
// against a repository directly can tell them apart.
var (
	ErrNotFound    = errors.New("not found")
	ErrDuplicateID = errors.New("memory id already exists")
)

// ClampConfidence bounds a confidence or strength value to [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
