package export

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/finverity/mbmigrate/internal/idgen"
	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
)

// WalkCollections traverses the collection forest, skipping personal
// collections unless whitelisted, and dispatches every question/model and
// (if enabled) dashboard item it finds to qx/dx. It populates
// session.Collections and the session's collection path map, which every
// later exporter consults to decide whether a referenced item is in
// scope or belongs in the synthetic dependencies/ bucket.
func WalkCollections(ctx context.Context, session *Session, qx *QuestionExporter, dx *DashboardExporter) error {
	tree, err := session.Client.GetCollectionsTree(ctx, session.Opts.IncludeArchived)
	if err != nil {
		return fmt.Errorf("list collection tree: %w", err)
	}

	w := &collectionWalker{session: session, qx: qx, dx: dx, processed: make(map[int]bool)}

	if len(session.Opts.RootCollectionIDs) == 0 {
		// Uncategorized items living directly under the platform's root
		// collection are always in scope when no explicit roots were
		// given — mirrors the original tool's special-cased "root" walk.
		session.setCollectionPath(0, "collections")
		if err := w.processItems(ctx, "root", "collections"); err != nil {
			return err
		}
		return w.walkForest(ctx, tree, "", nil)
	}

	roots := make(map[int]bool, len(session.Opts.RootCollectionIDs))
	for _, id := range session.Opts.RootCollectionIDs {
		roots[id] = true
	}
	return w.walkForestFiltered(ctx, tree, "", nil, roots)
}

type collectionWalker struct {
	session   *Session
	qx        *QuestionExporter
	dx        *DashboardExporter
	processed map[int]bool
}

// walkForest traverses every node in the tree unconditionally (no
// root-collection filter in effect).
func (w *collectionWalker) walkForest(ctx context.Context, nodes []mbclient.Payload, parentPath string, parentID *int) error {
	for _, node := range nodes {
		if err := w.visit(ctx, node, parentPath, parentID); err != nil {
			return err
		}
	}
	return nil
}

// walkForestFiltered only descends into branches rooted at one of the
// whitelisted collection ids, but once inside such a branch walks every
// descendant unconditionally.
func (w *collectionWalker) walkForestFiltered(ctx context.Context, nodes []mbclient.Payload, parentPath string, parentID *int, roots map[int]bool) error {
	for _, node := range nodes {
		id, _, ok := collectionIdentity(node)
		if ok && roots[id] {
			if err := w.visit(ctx, node, parentPath, parentID); err != nil {
				return err
			}
			continue
		}
		children, _ := node["children"].([]any)
		if err := w.walkForestFiltered(ctx, asPayloads(children), parentPath, parentID, roots); err != nil {
			return err
		}
	}
	return nil
}

func (w *collectionWalker) visit(ctx context.Context, node mbclient.Payload, parentPath string, parentID *int) error {
	id, name, ok := collectionIdentity(node)
	if !ok {
		return nil
	}
	if w.processed[id] {
		return nil
	}

	personalOwner, isPersonal := personalOwnerID(node)
	if isPersonal && !w.session.personalWhitelisted(id) {
		warnf("skipping personal collection %q (id %d)", name, id)
		return nil
	}
	w.processed[id] = true

	segment := idgen.SanitizePathSegment(name)
	currentPath := strings.TrimPrefix(parentPath+"/"+segment, "/")
	w.session.setCollectionPath(id, currentPath)

	actualParentID := parentID
	if actualParentID == nil {
		if loc, ok := node["location"].(string); ok {
			if p, ok := parentFromLocation(loc); ok {
				actualParentID = &p
			}
		}
	}

	collection := model.Collection{
		ID:          id,
		Name:        name,
		Slug:        segment,
		Description: stringField(node["description"]),
		ParentID:    actualParentID,
		Path:        currentPath,
	}
	if personalOwner != 0 {
		collection.PersonalOwnerID = &personalOwner
	}
	w.session.Collections = append(w.session.Collections, collection)

	if err := WriteCollectionMeta(w.session.Opts.ExportDir, currentPath, node); err != nil {
		return fmt.Errorf("write collection metadata for %q: %w", name, err)
	}

	if err := w.processItems(ctx, strconv.Itoa(id), currentPath); err != nil {
		return err
	}

	children, _ := node["children"].([]any)
	return w.walkForest(ctx, asPayloads(children), currentPath, &id)
}

// processItems fetches every card, model, and (if enabled) dashboard
// directly inside a collection and dispatches each to the matching
// exporter.
func (w *collectionWalker) processItems(ctx context.Context, collectionID, basePath string) error {
	items, err := w.session.Client.GetCollectionItems(ctx, collectionID, mbclient.ItemFilter{
		Models:   []string{"card", "dataset", "dashboard"},
		Archived: w.session.Opts.IncludeArchived,
	})
	if err != nil {
		return fmt.Errorf("list items for collection %s: %w", collectionID, err)
	}

	for _, item := range items {
		switch item.Model {
		case "card", "dataset":
			if err := w.qx.ExportWithDependencies(ctx, item.ID, basePath, nil); err != nil {
				warnf("failed to export card %d: %v", item.ID, err)
			}
		case "dashboard":
			if w.session.Opts.IncludeDashboards {
				if err := w.dx.Export(ctx, item.ID, basePath); err != nil {
					warnf("failed to export dashboard %d: %v", item.ID, err)
				}
			}
		}
	}
	return nil
}

func (s *Session) personalWhitelisted(id int) bool {
	for _, v := range s.Opts.IncludePersonalIDs {
		if v == id {
			return true
		}
	}
	return false
}

func collectionIdentity(node mbclient.Payload) (id int, name string, ok bool) {
	idFloat, isFloat := node["id"].(float64)
	name, hasName := node["name"].(string)
	if !isFloat || !hasName {
		return 0, "", false
	}
	return int(idFloat), name, true
}

func personalOwnerID(node mbclient.Payload) (int, bool) {
	v, ok := node["personal_owner_id"].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

// parentFromLocation extracts the immediate parent id from a Metabase
// "location" string of the form "/24/25/" (parent 25, grandparent 24).
func parentFromLocation(location string) (int, bool) {
	trimmed := strings.Trim(location, "/")
	if trimmed == "" {
		return 0, false
	}
	parts := strings.Split(trimmed, "/")
	last := parts[len(parts)-1]
	id, err := strconv.Atoi(last)
	if err != nil {
		return 0, false
	}
	return id, true
}

func asPayloads(raw []any) []mbclient.Payload {
	out := make([]mbclient.Payload, 0, len(raw))
	for _, r := range raw {
		if p, ok := r.(mbclient.Payload); ok {
			out = append(out, p)
		}
	}
	return out
}
