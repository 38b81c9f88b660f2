package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryTypeValid(t *testing.T) {
	for _, v := range []MemoryType{
		MemoryExperience, MemoryKnowledge, MemoryPattern,
		MemoryRelationship, MemoryEvent, MemoryContribution,
	} {
		assert.True(t, v.Valid(), "%s", v)
	}

	assert.False(t, MemoryType("").Valid())
	assert.False(t, MemoryType("daydream").Valid())
}

func TestRelationshipTypeValid(t *testing.T) {
	for _, v := range []RelationshipType{
		RelCausation, RelSimilarity, RelTemporalSequence,
		RelContradiction, RelGeneralization, RelSolution,
	} {
		assert.True(t, v.Valid(), "%s", v)
	}

	assert.False(t, RelationshipType("entanglement").Valid())
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.3))
	assert.Equal(t, 0.5, ClampConfidence(0.5))
	assert.Equal(t, 1.0, ClampConfidence(1.7))
}
