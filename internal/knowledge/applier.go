package knowledge

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/knowledge-cli/internal/model"
)

// BaseStore is the durable load-whole/save-whole interface for knowledge
// bases. LoadKnowledgeBase returns (nil, nil) when the ID is unknown.
type BaseStore interface {
	LoadKnowledgeBase(ctx context.Context, id string) (*model.KnowledgeBase, error)
	SaveKnowledgeBase(ctx context.Context, kb *model.KnowledgeBase) error
}

// Applier wraps the load-merge-save sequence in a per-knowledge-base
// critical section so two sessions merging fragments concurrently cannot
// lose updates.
type Applier struct {
	store BaseStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewApplier creates an Applier over the given store.
func NewApplier(store BaseStore) *Applier {
	return &Applier{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// Apply merges the fragment into the identified knowledge base and persists
// the result, creating the base on first use. Returns the merged base.
// Re-applying an identical fragment is a no-op apart from the version bump.
func (a *Applier) Apply(ctx context.Context, kbID string, fragment model.KnowledgeFragment) (*model.KnowledgeBase, error) {
	lock := a.lockFor(kbID)
	lock.Lock()
	defer lock.Unlock()

	base, err := a.store.LoadKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, eris.Wrapf(err, "knowledge: load base %s", kbID)
	}
	if base == nil {
		base = model.NewKnowledgeBase(kbID)
	}

	merged := Merge(base, fragment)
	merged.Version = base.Version + 1

	if err := a.store.SaveKnowledgeBase(ctx, merged); err != nil {
		return nil, eris.Wrapf(err, "knowledge: save base %s", kbID)
	}

	zap.L().Info("knowledge: fragment merged",
		zap.String("kb_id", kbID),
		zap.Int("version", merged.Version),
		zap.Int("definitions", len(merged.Definitions)),
		zap.Int("relationships", len(merged.Relationships)),
		zap.Int("hierarchy", len(merged.Hierarchy)),
	)

	return merged, nil
}

func (a *Applier) lockFor(kbID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[kbID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[kbID] = lock
	}
	return lock
}
