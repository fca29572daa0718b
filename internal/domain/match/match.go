package match

import "sort"

// Metadata is the fixed set of descriptive fields stored with every indexed segment.
type Metadata struct {
	Title       string
	URL         string
	PublishedAt string
}

// Match is a single retrieval hit.
type Match struct {
	id       string
	score    float64
	metadata Metadata
}

// New creates a match.
func New(id string, score float64, metadata Metadata) Match {
	return Match{id: id, score: score, metadata: metadata}
}

// ID returns the segment identifier.
func (m *Match) ID() string { return m.id }

// Score returns the similarity score, higher is more relevant.
func (m *Match) Score() float64 { return m.score }

// Metadata returns the segment metadata.
func (m *Match) Metadata() Metadata { return m.metadata }

// Title returns the segment title.
func (m *Match) Title() string { return m.metadata.Title }

// URL returns the episode URL.
func (m *Match) URL() string { return m.metadata.URL }

// PublishedAt returns the episode publication date as stored in the index.
func (m *Match) PublishedAt() string { return m.metadata.PublishedAt }

// Rank orders matches by descending score in place; ties keep id order so the
// result is deterministic. Returns at most limit matches (limit <= 0 means all).
func Rank(matches []Match, limit int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].id < matches[j].id
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
