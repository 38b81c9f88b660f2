package graph

// SQLite schema DDL constants

const schemaMemories = `
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    content TEXT,
    timestamp DATETIME NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0,
    access_count INTEGER NOT NULL DEFAULT 0
)`

const schemaAgents = `
CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY
)`

const schemaAgentMemories = `
CREATE TABLE IF NOT EXISTS agent_memories (
    agent_id TEXT NOT NULL REFERENCES agents(id),
    memory_id TEXT NOT NULL REFERENCES memories(id),
    confidence REAL NOT NULL DEFAULT 1.0,
    recorded_at DATETIME NOT NULL,
    PRIMARY KEY (agent_id, memory_id)
)`

const schemaPersons = `
CREATE TABLE IF NOT EXISTS persons (
    id TEXT PRIMARY KEY
)`

const schemaCommunities = `
CREATE TABLE IF NOT EXISTS communities (
    id TEXT PRIMARY KEY
)`

const schemaTags = `
CREATE TABLE IF NOT EXISTS tags (
    name TEXT PRIMARY KEY
)`

const schemaMemoryPersons = `
CREATE TABLE IF NOT EXISTS memory_persons (
    memory_id TEXT NOT NULL REFERENCES memories(id),
    person_id TEXT NOT NULL REFERENCES persons(id),
    PRIMARY KEY (memory_id, person_id)
)`

const schemaMemoryCommunities = `
CREATE TABLE IF NOT EXISTS memory_communities (
    memory_id TEXT NOT NULL REFERENCES memories(id),
    community_id TEXT NOT NULL REFERENCES communities(id),
    PRIMARY KEY (memory_id, community_id)
)`

const schemaMemoryTags = `
CREATE TABLE IF NOT EXISTS memory_tags (
    memory_id TEXT NOT NULL REFERENCES memories(id),
    tag TEXT NOT NULL REFERENCES tags(name),
    PRIMARY KEY (memory_id, tag)
)`

// No uniqueness over (from_id, to_id, type): the memory graph is a
// directed multigraph and parallel edges of the same type are legal.
const schemaMemoryLinks = `
CREATE TABLE IF NOT EXISTS memory_links (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    from_id TEXT NOT NULL REFERENCES memories(id),
    to_id TEXT NOT NULL REFERENCES memories(id),
    type TEXT NOT NULL,
    strength REAL NOT NULL DEFAULT 1.0,
    created_at DATETIME NOT NULL,
    metadata TEXT
)`

// Index definitions
const indexMemoriesType = `CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type)`
const indexMemoriesTimestamp = `CREATE INDEX IF NOT EXISTS idx_memories_timestamp ON memories(timestamp)`
const indexAgentMemoriesMemory = `CREATE INDEX IF NOT EXISTS idx_agent_memories_memory ON agent_memories(memory_id)`
const indexLinksFrom = `CREATE INDEX IF NOT EXISTS idx_links_from ON memory_links(from_id)`
const indexLinksType = `CREATE INDEX IF NOT EXISTS idx_links_type ON memory_links(type)`
const indexMemoryTagsTag = `CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag)`

// allSchemaStatements returns every DDL statement in creation order.
func allSchemaStatements() []string {
	return []string{
		schemaMemories,
		schemaAgents,
		schemaAgentMemories,
		schemaPersons,
		schemaCommunities,
		schemaTags,
		schemaMemoryPersons,
		schemaMemoryCommunities,
		schemaMemoryTags,
		schemaMemoryLinks,
		indexMemoriesType,
		indexMemoriesTimestamp,
		indexAgentMemoriesMemory,
		indexLinksFrom,
		indexLinksType,
		indexMemoryTagsTag,
	}
}

// allPragmas returns connection pragmas applied at open.
func allPragmas() []string {
	return []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	}
}
