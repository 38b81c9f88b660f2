package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commonkeep/gistgraph/internal/core"
	"github.com/commonkeep/gistgraph/internal/graph"
)

// Interface compliance (compile-time assertion)
var _ graph.Repository = (*fakeRepo)(nil)
var _ graph.Repository = (*downRepo)(nil)

// fakeRepo is an in-memory Repository with the same semantics as the
// real backends: merge-or-create identities, strict memory creation,
// multigraph edges, AND-combined recall filters.
type fakeRepo struct {
	mu       sync.Mutex
	seq      int
	base     time.Time
	memories map[string]*fakeMemory
	links    []fakeLink
}

type fakeMemory struct {
	entry       core.MemoryEntry
	agentID     string
	edgeConf    float64
	personID    string
	communityID string
	tags        map[string]bool
}

type fakeLink struct {
	from, to string
	relType  core.RelationshipType
	strength float64
	created  time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		base:     time.Now().UTC(),
		memories: make(map[string]*fakeMemory),
	}
}

func (f *fakeRepo) Close(ctx context.Context) error         { return nil }
func (f *fakeRepo) EnsureIndexes(ctx context.Context) error { return nil }

func (f *fakeRepo) StoreMemory(ctx context.Context, req core.StoreRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.memories[req.MemoryID]; exists {
		return fmt.Errorf("%w: %s", core.ErrDuplicateID, req.MemoryID)
	}

	// Monotonic timestamps so recall ordering is deterministic.
	f.seq++
	tags := make(map[string]bool, len(req.Tags))
	for _, t := range req.Tags {
		tags[t] = true
	}

	f.memories[req.MemoryID] = &fakeMemory{
		entry: core.MemoryEntry{
			ID:         req.MemoryID,
			Type:       req.Type,
			Content:    req.Content,
			Timestamp:  f.base.Add(time.Duration(f.seq) * time.Second),
			Confidence: req.Confidence,
		},
		agentID:     req.AgentID,
		edgeConf:    req.Confidence,
		personID:    req.PersonID,
		communityID: req.CommunityID,
		tags:        tags,
	}
	return nil
}

func (f *fakeRepo) LinkMemories(ctx context.Context, fromID, toID string, relType core.RelationshipType, strength float64, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.memories[fromID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, fromID)
	}
	if _, ok := f.memories[toID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, toID)
	}

	f.links = append(f.links, fakeLink{fromID, toID, relType, strength, time.Now().UTC()})
	return nil
}

func (f *fakeRepo) RecallMemories(ctx context.Context, filter core.RecallFilter) ([]core.MemoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []core.MemoryEntry
	for _, m := range f.memories {
		if filter.AgentID != "" && m.agentID != filter.AgentID {
			continue
		}
		if filter.PersonID != "" && m.personID != filter.PersonID {
			continue
		}
		if filter.CommunityID != "" && m.communityID != filter.CommunityID {
			continue
		}
		if filter.Type != "" && m.entry.Type != filter.Type {
			continue
		}
		all := true
		for _, tag := range filter.Tags {
			if !m.tags[tag] {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		out = append(out, m.entry)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeRepo) RelatedMemories(ctx context.Context, startID string, relTypes []core.RelationshipType, maxDepth, limit int) ([]core.RelatedMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	allowed := make(map[core.RelationshipType]bool, len(relTypes))
	for _, t := range relTypes {
		allowed[t] = true
	}

	var results []core.RelatedMemory
	var walk func(from string, depth int, path []core.RelationshipType)
	walk = func(from string, depth int, path []core.RelationshipType) {
		if depth >= maxDepth {
			return
		}
		for _, l := range f.links {
			if l.from != from {
				continue
			}
			if len(relTypes) > 0 && !allowed[l.relType] {
				continue
			}
			next := append(append([]core.RelationshipType{}, path...), l.relType)
			results = append(results, core.RelatedMemory{
				Memory:   f.memories[l.to].entry,
				Path:     next,
				Distance: depth + 1,
			})
			walk(l.to, depth+1, next)
		}
	}
	walk(startID, 0, nil)

	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (f *fakeRepo) PatternTransitions(ctx context.Context, communityID string, minOccurrences int, since time.Time) ([]core.PatternTransition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	type pair struct{ from, to string }
	counts := make(map[pair]int64)
	for _, l := range f.links {
		from := f.memories[l.from]
		if from.entry.Type != core.MemoryPattern || l.relType != core.RelTemporalSequence {
			continue
		}
		if l.created.Before(since) {
			continue
		}
		if communityID != "" && from.communityID != communityID {
			continue
		}
		counts[pair{l.from, l.to}]++
	}

	var out []core.PatternTransition
	for p, n := range counts {
		if n < int64(minOccurrences) {
			continue
		}
		out = append(out, core.PatternTransition{
			Pattern:     f.memories[p.from].entry,
			Next:        f.memories[p.to].entry,
			Occurrences: n,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Occurrences > out[j].Occurrences })
	return out, nil
}

func (f *fakeRepo) AgentKnowledge(ctx context.Context, agentID string, minConfidence float64, since time.Time) (map[core.MemoryType]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	knowledge := make(map[core.MemoryType]int64)
	for _, m := range f.memories {
		if m.agentID != agentID || m.edgeConf < minConfidence || m.entry.Timestamp.Before(since) {
			continue
		}
		knowledge[m.entry.Type]++
	}
	return knowledge, nil
}

func (f *fakeRepo) IncrementAccessCount(ctx context.Context, memoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.memories[memoryID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, memoryID)
	}
	m.entry.AccessCount++
	return nil
}

func (f *fakeRepo) accessCount(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memories[id].entry.AccessCount
}

func (f *fakeRepo) linkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

// downRepo fails every operation, standing in for an unreachable engine.
type downRepo struct{}

var errEngineDown = errors.New("engine unavailable")

func (downRepo) Close(ctx context.Context) error         { return nil }
func (downRepo) EnsureIndexes(ctx context.Context) error { return errEngineDown }
func (downRepo) StoreMemory(ctx context.Context, req core.StoreRequest) error {
	return errEngineDown
}
func (downRepo) LinkMemories(ctx context.Context, fromID, toID string, relType core.RelationshipType, strength float64, metadata map[string]any) error {
	return errEngineDown
}
func (downRepo) IncrementAccessCount(ctx context.Context, memoryID string) error {
	return errEngineDown
}
func (downRepo) RecallMemories(ctx context.Context, filter core.RecallFilter) ([]core.MemoryEntry, error) {
	return nil, errEngineDown
}
func (downRepo) RelatedMemories(ctx context.Context, startID string, relTypes []core.RelationshipType, maxDepth, limit int) ([]core.RelatedMemory, error) {
	return nil, errEngineDown
}
func (downRepo) PatternTransitions(ctx context.Context, communityID string, minOccurrences int, since time.Time) ([]core.PatternTransition, error) {
	return nil, errEngineDown
}
func (downRepo) AgentKnowledge(ctx context.Context, agentID string, minConfidence float64, since time.Time) (map[core.MemoryType]int64, error) {
	return nil, errEngineDown
}

func newTestStore(repo graph.Repository) *Store {
	return NewStore(repo, log.New(io.Discard))
}

func storeReq(id string) core.StoreRequest {
	return core.StoreRequest{
		MemoryID: id,
		Type:     core.MemoryKnowledge,
		Content:  map[string]any{"text": "the tool shed key lives in the lockbox"},
		AgentID:  "agent-1",
	}
}

func TestStoreMemoryAndRecall(t *testing.T) {
	repo := newFakeRepo()
	store := newTestStore(repo)
	ctx := context.Background()

	require.True(t, store.StoreMemory(ctx, storeReq("mem-1")))

	memories := store.RecallMemories(ctx, core.RecallFilter{AgentID: "agent-1"})
	require.Len(t, memories, 1)
	assert.Equal(t, "mem-1", memories[0].ID)
	assert.Equal(t, core.MemoryKnowledge, memories[0].Type)
	assert.Equal(t, "the tool shed key lives in the lockbox", memories[0].Content["text"])
	// Unset confidence defaults to 1.0.
	assert.Equal(t, 1.0, memories[0].Confidence)
}

func TestStoreMemoryRejectsInvalidInput(t *testing.T) {
	store := newTestStore(newFakeRepo())
	ctx := context.Background()

	tests := []struct {
		name string
		req  core.StoreRequest
	}{
		{"missing memory id", core.StoreRequest{Type: core.MemoryEvent, AgentID: "a"}},
		{"missing agent id", core.StoreRequest{MemoryID: "m", Type: core.MemoryEvent}},
		{"unknown type", core.StoreRequest{MemoryID: "m", AgentID: "a", Type: "daydream"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, store.StoreMemory(ctx, tt.req))
		})
	}
}

func TestStoreMemoryDuplicateID(t *testing.T) {
	store := newTestStore(newFakeRepo())
	ctx := context.Background()

	require.True(t, store.StoreMemory(ctx, storeReq("mem-1")))
	assert.False(t, store.StoreMemory(ctx, storeReq("mem-1")))
}

func TestStoreMemoryClampsConfidence(t *testing.T) {
	repo := newFakeRepo()
	store := newTestStore(repo)
	ctx := context.Background()

	req := storeReq("mem-1")
	req.Confidence = 4.2
	require.True(t, store.StoreMemory(ctx, req))

	memories := store.RecallMemories(ctx, core.RecallFilter{AgentID: "agent-1"})
	require.Len(t, memories, 1)
	assert.Equal(t, 1.0, memories[0].Confidence)
}

func TestLinkMemoriesMissingEndpoint(t *testing.T) {
	repo := newFakeRepo()
	store := newTestStore(repo)
	ctx := context.Background()

	require.True(t, store.StoreMemory(ctx, storeReq("mem-1")))

	assert.False(t, store.LinkMemories(ctx, "mem-1", "ghost", core.RelCausation, 1.0, nil))
	assert.False(t, store.LinkMemories(ctx, "ghost", "mem-1", core.RelCausation, 1.0, nil))
	assert.Equal(t, 0, repo.linkCount(), "no edge may be created when an endpoint is missing")
}

func TestLinkMemoriesMultigraph(t *testing.T) {
	repo := newFakeRepo()
	store := newTestStore(repo)
	ctx := context.Background()

	require.True(t, store.StoreMemory(ctx, storeReq("mem-1")))
	require.True(t, store.StoreMemory(ctx, storeReq("mem-2")))

	assert.True(t, store.LinkMemories(ctx, "mem-1", "mem-2", core.RelSimilarity, 0.8, nil))
	assert.True(t, store.LinkMemories(ctx, "mem-1", "mem-2", core.RelSimilarity, 0.8, nil))
	assert.Equal(t, 2, repo.linkCount(), "identical calls must stack parallel edges")
}

func TestLinkMemoriesRejectsUnknownType(t *testing.T) {
	store := newTestStore(newFakeRepo())
	assert.False(t, store.LinkMemories(context.Background(), "a", "b", "entanglement", 1.0, nil))
}

// Pins the tag-filter decision: a memory must carry every requested tag.
func TestRecallTagsRequireAll(t *testing.T) {
	store := newTestStore(newFakeRepo())
	ctx := context.Background()

	partial := storeReq("mem-partial")
	partial.Tags = []string{"garden"}
	require.True(t, store.StoreMemory(ctx, partial))

	full := storeReq("mem-full")
	full.Tags = []string{"garden", "budget"}
	require.True(t, store.StoreMemory(ctx, full))

	memories := store.RecallMemories(ctx, core.RecallFilter{Tags: []string{"garden", "budget"}})
	require.Len(t, memories, 1)
	assert.Equal(t, "mem-full", memories[0].ID)
}

func TestRecallOrderAndLimit(t *testing.T) {
	store := newTestStore(newFakeRepo())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.True(t, store.StoreMemory(ctx, storeReq(fmt.Sprintf("mem-%d", i))))
	}

	memories := store.RecallMemories(ctx, core.RecallFilter{AgentID: "agent-1", Limit: 2})
	require.Len(t, memories, 2)
	assert.Equal(t, "mem-3", memories[0].ID, "newest first")
	assert.Equal(t, "mem-2", memories[1].ID)
}

func TestRecallDefaultLimit(t *testing.T) {
	store := newTestStore(newFakeRepo())
	ctx := context.Background()

	for i := 0; i < DefaultRecallLimit+10; i++ {
		require.True(t, store.StoreMemory(ctx, storeReq(fmt.Sprintf("mem-%d", i))))
	}

	memories := store.RecallMemories(ctx, core.RecallFilter{AgentID: "agent-1"})
	assert.Len(t, memories, DefaultRecallLimit)
}

func TestFindRelatedDepthBound(t *testing.T) {
	store := newTestStore(newFakeRepo())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, store.StoreMemory(ctx, storeReq(id)))
	}
	require.True(t, store.LinkMemories(ctx, "a", "b", core.RelCausation, 1.0, nil))
	require.True(t, store.LinkMemories(ctx, "b", "c", core.RelSolution, 1.0, nil))

	oneHop := store.FindRelatedMemories(ctx, "a", nil, 1, 0)
	require.Len(t, oneHop, 1)
	assert.Equal(t, "b", oneHop[0].Memory.ID)
	assert.Equal(t, 1, oneHop[0].Distance)

	twoHops := store.FindRelatedMemories(ctx, "a", nil, 2, 0)
	require.Len(t, twoHops, 2)
	assert.Equal(t, "b", twoHops[0].Memory.ID)
	assert.Equal(t, "c", twoHops[1].Memory.ID)
	assert.Equal(t, []core.RelationshipType{core.RelCausation, core.RelSolution}, twoHops[1].Path)
	assert.Equal(t, 2, twoHops[1].Distance)
}

func TestFindRelatedTypeFilterAppliesToEveryHop(t *testing.T) {
	store := newTestStore(newFakeRepo())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, store.StoreMemory(ctx, storeReq(id)))
	}
	require.True(t, store.LinkMemories(ctx, "a", "b", core.RelCausation, 1.0, nil))
	require.True(t, store.LinkMemories(ctx, "b", "c", core.RelSimilarity, 1.0, nil))

	// The second hop uses a type outside the filter, so "c" is unreachable.
	related := store.FindRelatedMemories(ctx, "a", []core.RelationshipType{core.RelCausation}, 2, 0)
	require.Len(t, related, 1)
	assert.Equal(t, "b", related[0].Memory.ID)
}

func TestFindPatternsThreshold(t *testing.T) {
	store := newTestStore(newFakeRepo())
	ctx := context.Background()

	pattern := storeReq("pat-1")
	pattern.Type = core.MemoryPattern
	require.True(t, store.StoreMemory(ctx, pattern))

	rare := storeReq("pat-2")
	rare.Type = core.MemoryPattern
	require.True(t, store.StoreMemory(ctx, rare))

	require.True(t, store.StoreMemory(ctx, storeReq("next-1")))
	require.True(t, store.StoreMemory(ctx, storeReq("next-2")))

	for i := 0; i < 3; i++ {
		require.True(t, store.LinkMemories(ctx, "pat-1", "next-1", core.RelTemporalSequence, 1.0, nil))
	}
	for i := 0; i < 2; i++ {
		require.True(t, store.LinkMemories(ctx, "pat-2", "next-2", core.RelTemporalSequence, 1.0, nil))
	}

	transitions := store.FindPatterns(ctx, "", 3, 0)
	require.Len(t, transitions, 1, "a pair observed twice must be excluded")
	assert.Equal(t, "pat-1", transitions[0].Pattern.ID)
	assert.Equal(t, "next-1", transitions[0].Next.ID)
	assert.Equal(t, int64(3), transitions[0].Occurrences)
}

func TestAgentKnowledgeConfidenceFloor(t *testing.T) {
	store := newTestStore(newFakeRepo())
	ctx := context.Background()

	confident := storeReq("mem-high")
	confident.Confidence = 0.9
	require.True(t, store.StoreMemory(ctx, confident))

	shaky := storeReq("mem-low")
	shaky.Type = core.MemoryEvent
	shaky.Confidence = 0.3
	require.True(t, store.StoreMemory(ctx, shaky))

	knowledge := store.AgentKnowledge(ctx, "agent-1", 0.5, 0)
	assert.Equal(t, map[core.MemoryType]int64{core.MemoryKnowledge: 1}, knowledge)
}

func TestIncrementAccessCountConcurrent(t *testing.T) {
	repo := newFakeRepo()
	store := newTestStore(repo)
	ctx := context.Background()

	require.True(t, store.StoreMemory(ctx, storeReq("mem-1")))

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			store.IncrementAccessCount(ctx, "mem-1")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n), repo.accessCount("mem-1"))
}

func TestIncrementAccessCountMissing(t *testing.T) {
	store := newTestStore(newFakeRepo())
	assert.False(t, store.IncrementAccessCount(context.Background(), "ghost"))
}

func TestEngineFailuresAreNeutral(t *testing.T) {
	store := newTestStore(downRepo{})
	ctx := context.Background()

	assert.False(t, store.StoreMemory(ctx, storeReq("mem-1")))
	assert.False(t, store.LinkMemories(ctx, "a", "b", core.RelCausation, 1.0, nil))
	assert.False(t, store.IncrementAccessCount(ctx, "mem-1"))

	assert.NotNil(t, store.RecallMemories(ctx, core.RecallFilter{}))
	assert.Empty(t, store.RecallMemories(ctx, core.RecallFilter{}))
	assert.Empty(t, store.FindRelatedMemories(ctx, "a", nil, 0, 0))
	assert.Empty(t, store.FindPatterns(ctx, "", 0, 0))
	assert.Empty(t, store.AgentKnowledge(ctx, "agent-1", 0, 0))
}
