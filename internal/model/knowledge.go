package model

import "time"

// Relationship is a typed edge between two entities' key columns, scored
// with a [0,1] confidence.
type Relationship struct {
	SourceEntity string  `json:"source_entity"`
	TargetEntity string  `json:"target_entity"`
	SourceKey    string  `json:"source_key"`
	TargetKey    string  `json:"target_key"`
	RelationType string  `json:"relation_type"`
	Confidence   float64 `json:"confidence"`
}

// RelationshipKey is the dedup identity of a relationship. RelationType is
// deliberately excluded: conflicting relation types on the same key pair are
// resolved by confidence, not accumulated.
type RelationshipKey struct {
	SourceEntity string
	TargetEntity string
	SourceKey    string
	TargetKey    string
}

// Key returns the dedup identity of the relationship.
func (r Relationship) Key() RelationshipKey {
	return RelationshipKey{
		SourceEntity: r.SourceEntity,
		TargetEntity: r.TargetEntity,
		SourceKey:    r.SourceKey,
		TargetKey:    r.TargetKey,
	}
}

// HierarchyEntry places an entity at a level of the dataset hierarchy.
type HierarchyEntry struct {
	EntityName   string  `json:"entity_name"`
	Level        int     `json:"level"`
	AnchorColumn string  `json:"anchor_column,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// KnowledgeBase is the durable, versioned knowledge store shared across
// sessions. It is mutated only through the merge engine and is never
// partially written.
type KnowledgeBase struct {
	ID            string            `json:"id"`
	Version       int               `json:"version"`
	Definitions   map[string]string `json:"definitions"`
	Relationships []Relationship    `json:"relationships"`
	Hierarchy     []HierarchyEntry  `json:"hierarchy"`
	FileTags      map[string]string `json:"file_tags"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewKnowledgeBase returns an empty knowledge base with the given ID.
func NewKnowledgeBase(id string) *KnowledgeBase {
	return &KnowledgeBase{
		ID:          id,
		Definitions: make(map[string]string),
		FileTags:    make(map[string]string),
	}
}

// KnowledgeFragment is a partial, phase-produced unit of knowledge with the
// same shape as a KnowledgeBase, awaiting merge.
type KnowledgeFragment struct {
	Definitions   map[string]string `json:"definitions,omitempty"`
	Relationships []Relationship    `json:"relationships,omitempty"`
	Hierarchy     []HierarchyEntry  `json:"hierarchy,omitempty"`
	FileTags      map[string]string `json:"file_tags,omitempty"`
}

// Empty reports whether the fragment carries no facts.
func (f KnowledgeFragment) Empty() bool {
	return len(f.Definitions) == 0 &&
		len(f.Relationships) == 0 &&
		len(f.Hierarchy) == 0 &&
		len(f.FileTags) == 0
}

// SetDefinition records a term definition, allocating the map on first use.
func (f *KnowledgeFragment) SetDefinition(term, text string) {
	if f.Definitions == nil {
		f.Definitions = make(map[string]string)
	}
	f.Definitions[term] = text
}

// SetFileTag records a file tag, allocating the map on first use.
func (f *KnowledgeFragment) SetFileTag(key, value string) {
	if f.FileTags == nil {
		f.FileTags = make(map[string]string)
	}
	f.FileTags[key] = value
}
