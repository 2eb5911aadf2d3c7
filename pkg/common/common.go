package common

// Entity represents a node in the knowledge graph. An entity can be an
// organization, person, location, or any other relevant concept. The Units
// slice records the text chunks the entity was derived from and serves as
// its provenance.
type Entity struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Degree      int      `json:"degree"`
	Units       []string `json:"units"`
}

// Relationship represents an edge between two entities in the graph. The
// Source/Target pair is treated as undirected for traversal and clustering;
// the direction of the described connection lives in Description.
type Relationship struct {
	Source      string   `json:"source"`
	Target      string   `json:"target"`
	Description string   `json:"description"`
	Weight      float64  `json:"weight"`
	Units       []string `json:"units"`
}

// Key returns a canonical identifier for the relationship, independent of
// the order in which the endpoints were stored.
func (r Relationship) Key() string {
	if r.Source <= r.Target {
		return r.Source + "<->" + r.Target
	}
	return r.Target + "<->" + r.Source
}

// Unit represents a contiguous segment of source text. Units are the
// smallest building blocks of the graph and provide provenance for entities
// and relationships. They are immutable once created.
type Unit struct {
	ID     string `json:"id"`
	FileID string `json:"file_id"`
	Tokens int    `json:"tokens"`
	Text   string `json:"text"`
}

// Community is a set of graph entities (and their interconnecting edges)
// grouped by a partitioning algorithm at a given hierarchy level. Level 0 is
// the coarsest partition. Sibling communities at one level never overlap; a
// community's sub-communities further partition exactly its own entity set.
type Community struct {
	ID             string   `json:"id"`
	Level          int      `json:"level"`
	ParentID       string   `json:"parent_id,omitempty"`
	Entities       []string `json:"entities"`
	Relationships  []string `json:"relationships"`
	Units          []string `json:"units"`
	SubCommunities []string `json:"sub_communities,omitempty"`

	// Occurrence scores the community's corpus coverage relative to its
	// siblings at the same level, in [0,1]. The largest sibling scores 1.0.
	Occurrence float64 `json:"occurrence"`
}

// Finding is a single structured observation inside a community report.
type Finding struct {
	Summary     string `json:"summary"`
	Explanation string `json:"explanation"`
}

// CommunityReport is the generated natural-language description of one
// community. Rating is an externally produced importance score on a 0-10
// scale. Content holds the raw narrative text; Findings the structured form
// when the completion service returned one.
type CommunityReport struct {
	CommunityID string    `json:"community_id"`
	Level       int       `json:"level"`
	Title       string    `json:"title"`
	Rating      float64   `json:"rating"`
	Findings    []Finding `json:"findings"`
	Content     string    `json:"content"`
	Occurrence  float64   `json:"occurrence"`
}
