package importpkg

import (
	"context"
	"fmt"

	"github.com/finverity/mbmigrate/internal/idgen"
	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
)

// existingItem is the minimal shape the conflict resolver needs from a
// target collection's item listing.
type existingItem struct {
	ID   int
	Name string
}

// itemCache lists a target collection's items once per (collection,
// model-kind) pair and serves every subsequent lookup from memory, so a
// run that renames many same-named items keeps generation O(1) amortized
// per §4.6.
type itemCache struct {
	client mbclient.Client
	byScope map[scopeKey]map[string]existingItem
}

type scopeKey struct {
	collectionID int // 0 means root
	kind         string
}

func newItemCache(client mbclient.Client) *itemCache {
	return &itemCache{client: client, byScope: make(map[scopeKey]map[string]existingItem)}
}

// lookup returns the existing target item named name inside collectionID
// (nil for root) restricted to models (e.g. "card", "dataset" for
// questions, or "dashboard"), loading and caching the listing on first
// use for that scope.
func (c *itemCache) lookup(ctx context.Context, collectionID *int, models []string, name string) (existingItem, bool, error) {
	key := scopeKey{collectionID: scopeID(collectionID), kind: models[0]}
	byName, ok := c.byScope[key]
	if !ok {
		coll := "root"
		if collectionID != nil {
			coll = fmt.Sprintf("%d", *collectionID)
		}
		items, err := c.client.GetCollectionItems(ctx, coll, mbclient.ItemFilter{Models: models})
		if err != nil {
			return existingItem{}, false, fmt.Errorf("list items in collection %s: %w", coll, err)
		}
		byName = make(map[string]existingItem, len(items))
		for _, it := range items {
			byName[it.Name] = existingItem{ID: it.ID, Name: it.Name}
		}
		c.byScope[key] = byName
	}
	found, ok := byName[name]
	return found, ok, nil
}

// record registers a newly created or renamed item in the cache so a
// subsequent lookup in the same run sees it without another API call.
func (c *itemCache) record(collectionID *int, kind, name string, id int) {
	key := scopeKey{collectionID: scopeID(collectionID), kind: kind}
	if c.byScope[key] == nil {
		c.byScope[key] = make(map[string]existingItem)
	}
	c.byScope[key][name] = existingItem{ID: id, Name: name}
}

func scopeID(collectionID *int) int {
	if collectionID == nil {
		return 0
	}
	return *collectionID
}

// conflictAction is the outcome of resolving one item's name conflict.
type conflictAction int

const (
	actionCreate conflictAction = iota
	actionUpdate
	actionSkip
)

// resolveConflict applies the package-level ConflictStrategy against an
// optional existing match, returning the action to take and (for
// actionSkip/actionUpdate) the existing target id, or a freshly generated
// unique name to create under (for a rename that produced one).
func resolveConflict(strategy model.ConflictStrategy, existing existingItem, found bool, renamer *idgen.UniqueRenamer, scope int, name string) (action conflictAction, targetID int, createName string) {
	if !found {
		return actionCreate, 0, name
	}
	switch strategy {
	case model.ConflictSkip:
		return actionSkip, existing.ID, name
	case model.ConflictOverwrite:
		return actionUpdate, existing.ID, name
	case model.ConflictRename:
		return actionCreate, 0, renamer.Rename(scope, name)
	default:
		return actionSkip, existing.ID, name
	}
}
