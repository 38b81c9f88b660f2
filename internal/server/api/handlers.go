// Package api exposes the memory graph operations over HTTP. Handlers
// are a thin JSON layer over the store; all semantics live below.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/commonkeep/gistgraph/internal/core"
	"github.com/commonkeep/gistgraph/internal/gist"
	"github.com/commonkeep/gistgraph/internal/memory"
)

// Server holds the HTTP server dependencies
type Server struct {
	store *memory.Store
}

// New creates a new API server
func New(store *memory.Store) *Server {
	return &Server{store: store}
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StoreMemoryRequest is the request body for storing a memory. A
// missing memory_id is filled with a generated UUID.
type StoreMemoryRequest struct {
	MemoryID    string          `json:"memory_id,omitempty"`
	Type        core.MemoryType `json:"type"`
	Content     map[string]any  `json:"content"`
	AgentID     string          `json:"agent_id"`
	PersonID    string          `json:"person_id,omitempty"`
	CommunityID string          `json:"community_id,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Confidence  float64         `json:"confidence,omitempty"`
}

// StoreMemory handles POST /api/memories
func (s *Server) StoreMemory(w http.ResponseWriter, r *http.Request) {
	var req StoreMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.MemoryID == "" {
		req.MemoryID = uuid.New().String()
	}

	ok := s.store.StoreMemory(r.Context(), core.StoreRequest{
		MemoryID:    req.MemoryID,
		Type:        req.Type,
		Content:     req.Content,
		AgentID:     req.AgentID,
		PersonID:    req.PersonID,
		CommunityID: req.CommunityID,
		Tags:        req.Tags,
		Confidence:  req.Confidence,
	})
	if !ok {
		http.Error(w, "storing memory failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"memory_id": req.MemoryID})
}

// LinkRequest is the request body for linking two memories
type LinkRequest struct {
	FromID   string                `json:"from_id"`
	ToID     string                `json:"to_id"`
	Type     core.RelationshipType `json:"type"`
	Strength float64               `json:"strength,omitempty"`
	Metadata map[string]any        `json:"metadata,omitempty"`
}

// LinkMemories handles POST /api/links
func (s *Server) LinkMemories(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !s.store.LinkMemories(r.Context(), req.FromID, req.ToID, req.Type, req.Strength, req.Metadata) {
		http.Error(w, "linking memories failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"from_id": req.FromID,
		"to_id":   req.ToID,
		"type":    req.Type,
	})
}

// RecallMemories handles GET /api/memories
// Query params: agent_id, person_id, community_id, type, tags (comma
// separated, all required to match), limit.
func (s *Server) RecallMemories(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := core.RecallFilter{
		AgentID:     query.Get("agent_id"),
		PersonID:    query.Get("person_id"),
		CommunityID: query.Get("community_id"),
		Type:        core.MemoryType(query.Get("type")),
		Limit:       intParam(query.Get("limit"), 0),
	}
	if tags := query.Get("tags"); tags != "" {
		filter.Tags = strings.Split(tags, ",")
	}

	memories := s.store.RecallMemories(r.Context(), filter)

	writeJSON(w, http.StatusOK, map[string]any{
		"memories": memories,
		"count":    len(memories),
	})
}

// RelatedMemories handles GET /api/memories/{id}/related
// Query params: types (comma separated), depth, limit.
func (s *Server) RelatedMemories(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	query := r.URL.Query()

	var relTypes []core.RelationshipType
	if types := query.Get("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			relTypes = append(relTypes, core.RelationshipType(t))
		}
	}

	related := s.store.FindRelatedMemories(r.Context(), id, relTypes,
		intParam(query.Get("depth"), 0), intParam(query.Get("limit"), 0))

	writeJSON(w, http.StatusOK, map[string]any{
		"start_id": id,
		"related":  related,
		"count":    len(related),
	})
}

// FindPatterns handles GET /api/patterns
// Query params: community_id, min_occurrences, lookback_days.
func (s *Server) FindPatterns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	transitions := s.store.FindPatterns(r.Context(), query.Get("community_id"),
		intParam(query.Get("min_occurrences"), 0), intParam(query.Get("lookback_days"), 0))

	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": transitions,
		"count":    len(transitions),
	})
}

// AgentKnowledge handles GET /api/agents/{id}/knowledge
// Query params: min_confidence, lookback_days.
func (s *Server) AgentKnowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	query := r.URL.Query()

	minConfidence := 0.0
	if v := query.Get("min_confidence"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "invalid min_confidence parameter", http.StatusBadRequest)
			return
		}
		minConfidence = parsed
	}

	knowledge := s.store.AgentKnowledge(r.Context(), id, minConfidence,
		intParam(query.Get("lookback_days"), 0))

	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":  id,
		"knowledge": knowledge,
	})
}

// IncrementAccess handles POST /api/memories/{id}/access
func (s *Server) IncrementAccess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.store.IncrementAccessCount(r.Context(), id) {
		http.Error(w, "incrementing access count failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"memory_id": id})
}

// ExtractGistsRequest is the request body for gist extraction. With
// Store set, every extracted gist is persisted as a knowledge memory
// for the given agent.
type ExtractGistsRequest struct {
	Text        string   `json:"text"`
	Context     string   `json:"context,omitempty"`
	Store       bool     `json:"store,omitempty"`
	AgentID     string   `json:"agent_id,omitempty"`
	CommunityID string   `json:"community_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ExtractGists handles POST /api/gists
func (s *Server) ExtractGists(w http.ResponseWriter, r *http.Request) {
	var req ExtractGistsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	gists := gist.ExtractAll(req.Text, req.Context)

	var stored []string
	if req.Store {
		if req.AgentID == "" {
			http.Error(w, "agent_id is required when store is set", http.StatusBadRequest)
			return
		}
		for _, g := range gists {
			memoryID := uuid.New().String()
			ok := s.store.StoreMemory(r.Context(), core.StoreRequest{
				MemoryID: memoryID,
				Type:     core.MemoryKnowledge,
				Content: map[string]any{
					"text":      g.Content,
					"gist_type": string(g.Type),
					"context":   g.Context,
				},
				AgentID:     req.AgentID,
				CommunityID: req.CommunityID,
				Tags:        req.Tags,
				Confidence:  g.Confidence,
			})
			if ok {
				stored = append(stored, memoryID)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"gists":      gists,
		"count":      len(gists),
		"stored_ids": stored,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func intParam(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
