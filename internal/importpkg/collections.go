package importpkg

import (
	"context"
	"fmt"
	"sort"

	"github.com/finverity/mbmigrate/internal/idgen"
	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
	"github.com/finverity/mbmigrate/internal/resolver"
)

// CollectionInstaller creates or updates the target collection tree,
// parent-first so every child's target parent id is already resolvable
// by the time it is processed.
type CollectionInstaller struct {
	client   mbclient.Client
	res      *resolver.State
	cache    *itemCache
	renamer  *idgen.UniqueRenamer
	strategy model.ConflictStrategy
	report   *model.Report
}

// NewCollectionInstaller builds an installer against a target client and
// the shared resolver, report, and conflict strategy for this run.
func NewCollectionInstaller(client mbclient.Client, res *resolver.State, strategy model.ConflictStrategy, report *model.Report) *CollectionInstaller {
	ci := &CollectionInstaller{
		client:   client,
		res:      res,
		cache:    newItemCache(client),
		strategy: strategy,
		report:   report,
	}
	ci.renamer = idgen.NewUniqueRenamer(func(scope int, name string) bool {
		var collScope *int
		if scope != 0 {
			collScope = &scope
		}
		_, found, err := ci.cache.lookup(context.Background(), collScope, []string{"collection"}, name)
		return err == nil && found
	})
	return ci
}

// InstallAll processes collections in path order (a prefix of a child's
// path is always its ancestor's path, so this is equivalent to a
// parent-first topological order without needing a separate sort key).
// In dry-run mode no client calls are made; every collection is reported
// as though it would be created, and the resolver is seeded with its own
// source id so downstream question/dashboard rewriting can still be
// previewed. A failed collection does not abort the run: it is recorded
// as a failed report item and the rest of the tree is still attempted,
// matching QuestionInstaller and DashboardInstaller. A child whose parent
// failed naturally fails too, since the parent's source id was never
// registered with the resolver, and gets its own failed report item
// rather than being silently skipped.
func (ci *CollectionInstaller) InstallAll(ctx context.Context, collections []model.Collection, dryRun bool) error {
	ordered := make([]model.Collection, len(collections))
	copy(ordered, collections)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Path < ordered[j].Path })

	for _, coll := range ordered {
		if err := ci.installOne(ctx, coll, dryRun); err != nil {
			ci.report.Add(model.ReportItem{Kind: "collection", Status: model.StatusFailed, SourceID: coll.ID, Name: coll.Name, Reason: err.Error()})
		}
	}
	return nil
}

func (ci *CollectionInstaller) installOne(ctx context.Context, coll model.Collection, dryRun bool) error {
	if coll.IsPersonal() {
		ci.report.Add(model.ReportItem{
			Kind: "collection", Status: model.StatusSkipped,
			SourceID: coll.ID, Name: coll.Name, Reason: "personal collection is not migrated",
		})
		return nil
	}

	var targetParent *int
	if coll.ParentID != nil {
		p, ok := ci.res.ResolveCollection(*coll.ParentID)
		if !ok {
			return fmt.Errorf("%w: collection %d %q has unresolved parent %d (processed out of order)", model.ErrReference, coll.ID, coll.Name, *coll.ParentID)
		}
		targetParent = &p
	}

	if dryRun {
		ci.res.RegisterCollection(coll.ID, coll.ID)
		ci.report.Add(model.ReportItem{
			Kind: "collection", Status: model.StatusCreated,
			SourceID: coll.ID, Name: coll.Name, Reason: "dry run",
		})
		return nil
	}

	existing, found, err := ci.cache.lookup(ctx, targetParent, []string{"collection"}, coll.Name)
	if err != nil {
		return fmt.Errorf("check existing collections: %w", err)
	}

	action, targetID, createName := resolveConflict(ci.strategy, existing, found, ci.renamer, scopeID(targetParent), coll.Name)

	switch action {
	case actionSkip:
		ci.res.RegisterCollection(coll.ID, targetID)
		ci.report.Add(model.ReportItem{
			Kind: "collection", Status: model.StatusSkipped,
			SourceID: coll.ID, TargetID: &targetID, Name: coll.Name, Reason: "name already exists on target",
		})
		return nil

	case actionUpdate:
		fields := mbclient.Payload{"name": coll.Name, "description": coll.Description}
		if _, err := ci.client.UpdateCollection(ctx, targetID, fields); err != nil {
			return fmt.Errorf("%w: update collection %d: %v", model.ErrTransport, targetID, err)
		}
		ci.res.RegisterCollection(coll.ID, targetID)
		ci.cache.record(targetParent, "collection", coll.Name, targetID)
		ci.report.Add(model.ReportItem{Kind: "collection", Status: model.StatusUpdated, SourceID: coll.ID, TargetID: &targetID, Name: coll.Name})
		return nil

	default: // actionCreate
		fields := mbclient.Payload{"name": createName, "description": coll.Description}
		if targetParent != nil {
			fields["parent_id"] = float64(*targetParent)
		}
		created, err := ci.client.CreateCollection(ctx, fields)
		if err != nil {
			return fmt.Errorf("%w: create collection %q: %v", model.ErrTransport, coll.Name, err)
		}
		newID, _ := created["id"].(float64)
		ci.res.RegisterCollection(coll.ID, int(newID))
		ci.cache.record(targetParent, "collection", createName, int(newID))
		tgt := int(newID)
		ci.report.Add(model.ReportItem{Kind: "collection", Status: model.StatusCreated, SourceID: coll.ID, TargetID: &tgt, Name: createName})
		return nil
	}
}
