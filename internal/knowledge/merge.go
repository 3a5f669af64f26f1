package knowledge

import (
	"sort"

	"github.com/sells-group/knowledge-cli/internal/model"
)

// Merge reconciles a fragment into a knowledge base and returns the merged
// result. It is a pure function: neither input is mutated and no I/O is
// performed, so callers choose their own transactional boundaries.
//
// Per-field rules:
//   - definitions: fragment overwrites base on key collision
//   - relationships: dedup on (source, target, sourceKey, targetKey);
//     higher confidence wins, ties keep the existing base entry
//   - hierarchy: dedup by entity name, higher-confidence row kept wholesale,
//     then re-sorted by level ascending
//   - file tags: fragment overwrites base per key
func Merge(base *model.KnowledgeBase, fragment model.KnowledgeFragment) *model.KnowledgeBase {
	merged := &model.KnowledgeBase{
		ID:            base.ID,
		Version:       base.Version,
		Definitions:   make(map[string]string, len(base.Definitions)+len(fragment.Definitions)),
		Relationships: mergeRelationships(base.Relationships, fragment.Relationships),
		Hierarchy:     mergeHierarchy(base.Hierarchy, fragment.Hierarchy),
		FileTags:      make(map[string]string, len(base.FileTags)+len(fragment.FileTags)),
		UpdatedAt:     base.UpdatedAt,
	}

	for term, text := range base.Definitions {
		merged.Definitions[term] = text
	}
	for term, text := range fragment.Definitions {
		merged.Definitions[term] = text
	}

	for k, v := range base.FileTags {
		merged.FileTags[k] = v
	}
	for k, v := range fragment.FileTags {
		merged.FileTags[k] = v
	}

	return merged
}

// mergeRelationships unions both sides by dedup key, keeping the
// higher-confidence edge per key. Base order is preserved for surviving
// base entries; new fragment edges append in fragment order.
func mergeRelationships(base, fragment []model.Relationship) []model.Relationship {
	merged := make([]model.Relationship, len(base))
	copy(merged, base)

	index := make(map[model.RelationshipKey]int, len(merged))
	for i, r := range merged {
		index[r.Key()] = i
	}

	for _, r := range fragment {
		key := r.Key()
		i, exists := index[key]
		if !exists {
			index[key] = len(merged)
			merged = append(merged, r)
			continue
		}
		// Strictly greater: a tie keeps the existing entry to avoid churn.
		if r.Confidence > merged[i].Confidence {
			merged[i] = r
		}
	}

	return merged
}

// mergeHierarchy dedups by entity name. On collision the higher-confidence
// row wins wholesale; rows are never field-merged. The result is sorted by
// level ascending.
func mergeHierarchy(base, fragment []model.HierarchyEntry) []model.HierarchyEntry {
	merged := make([]model.HierarchyEntry, len(base))
	copy(merged, base)

	index := make(map[string]int, len(merged))
	for i, h := range merged {
		index[h.EntityName] = i
	}

	for _, h := range fragment {
		i, exists := index[h.EntityName]
		if !exists {
			index[h.EntityName] = len(merged)
			merged = append(merged, h)
			continue
		}
		if h.Confidence > merged[i].Confidence {
			merged[i] = h
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Level < merged[j].Level
	})

	return merged
}
