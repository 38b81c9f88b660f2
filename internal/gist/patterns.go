package gist

import "regexp"

// Type classifies an extracted gist.
type Type string

const (
	Insight    Type = "insight"
	Decision   Type = "decision"
	Action     Type = "action"
	Resource   Type = "resource"
	Connection Type = "connection"
	Milestone  Type = "milestone"
)

// pattern pairs a compiled expression with the base confidence assigned
// to each of its matches. Capture groups are bounded to keep matches at
// plausible content lengths.
type pattern struct {
	re   *regexp.Regexp
	base float64
}

// typeOrder fixes the evaluation order of the catalog. Deduplication
// keeps the first candidate in this order, so it must stay stable.
var typeOrder = []Type{Insight, Decision, Action, Resource, Connection, Milestone}

// catalog maps each gist type to its ordered pattern list. New types or
// patterns are additive data; extraction logic never branches on type.
var catalog = map[Type][]pattern{
	Insight: {
		{regexp.MustCompile(`(?is)key insight[:\s]+(.{10,200})`), 0.9},
		{regexp.MustCompile(`(?is)\b(?:i|we)\s+(?:realized|noticed|discovered|learned)\s+(?:that\s+)?(.{10,200})`), 0.8},
		{regexp.MustCompile(`(?is)\bit turns out\s+(?:that\s+)?(.{10,200})`), 0.75},
		{regexp.MustCompile(`(?is)\binterestingly[,\s]+(.{10,200})`), 0.7},
	},
	Decision: {
		{regexp.MustCompile(`(?is)\b(?:we|i)(?:'ve| have|'d| had)?\s+decided\s+to\s+(.{10,200})`), 0.9},
		{regexp.MustCompile(`(?is)\bthe decision\s+(?:is|was)\s+to\s+(.{10,200})`), 0.85},
		{regexp.MustCompile(`(?is)\blet's\s+(?:go with|proceed with|commit to)\s+(.{10,200})`), 0.75},
		{regexp.MustCompile(`(?is)\b(?:we|i)\s+(?:are|am|'re|'m)\s+going\s+with\s+(.{10,200})`), 0.7},
	},
	Action: {
		{regexp.MustCompile(`(?is)\b(?:action item|todo|to-do)[:\s]+(.{10,200})`), 0.9},
		{regexp.MustCompile(`(?is)\bnext steps?[:\s]+(.{10,200})`), 0.85},
		{regexp.MustCompile(`(?is)\b(?:i|we)\s+(?:will|'ll|need to|must|should)\s+(.{10,200})`), 0.75},
		{regexp.MustCompile(`(?is)\bremind me to\s+(.{10,200})`), 0.7},
	},
	Resource: {
		{regexp.MustCompile(`(?is)\b(?:useful|helpful|great)\s+(?:resource|link|tool|guide)[:\s]+(.{10,200})`), 0.85},
		{regexp.MustCompile(`(?is)(https?://\S{10,200})`), 0.8},
		{regexp.MustCompile(`(?is)\b(?:check out|refer to|documented (?:at|in))\s+(.{10,200})`), 0.7},
	},
	Connection: {
		{regexp.MustCompile(`(?is)\b(.{10,100}?)\s+(?:is related to|connects to|ties into)\s+(.{10,100})`), 0.8},
		{regexp.MustCompile(`(?is)\bthis\s+(?:relates|connects)\s+to\s+(.{10,200})`), 0.7},
		{regexp.MustCompile(`(?is)\b(?:similar to|reminds me of)\s+(.{10,200})`), 0.7},
	},
	Milestone: {
		{regexp.MustCompile(`(?is)\bmilestone[:\s]+(.{10,200})`), 0.9},
		{regexp.MustCompile(`(?is)\b(?:we|i)(?:'ve| have)?\s+(?:finished|completed|launched|shipped|delivered)\s+(.{10,200})`), 0.85},
		{regexp.MustCompile(`(?is)\bofficially\s+(.{10,200})`), 0.6},
	},
}

// boosters are emphasis words scanned over the whole source text. Every
// booster present adds its delta to every candidate from that text, so a
// single emphatic sentence lifts all gists extracted around it.
var boosters = map[string]float64{
	"critical":     0.1,
	"breakthrough": 0.1,
	"key":          0.05,
	"important":    0.05,
	"essential":    0.05,
	"urgent":       0.05,
	"major":        0.05,
}
