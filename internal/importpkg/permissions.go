package importpkg

import (
	"context"
	"fmt"

	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
	"github.com/finverity/mbmigrate/internal/resolver"
)

// InstallPermissions rewrites the captured data- and collection-permission
// graphs' per-group, per-database (or per-collection) keys to their
// target ids and submits them verbatim otherwise — group membership and
// the policy values themselves are never reconciled, only which entity a
// policy applies to.
func InstallPermissions(ctx context.Context, client mbclient.Client, pkg *Package, res *resolver.State, report *model.Report, dryRun bool) error {
	if pkg.PermissionsGraph != nil {
		rewritten, warnings := rewriteGroupGraph(pkg.PermissionsGraph, func(srcID int) (int, bool) { return res.ResolveDatabase(srcID) })
		for _, w := range warnings {
			warnf("permissions graph: %s", w)
		}
		if !dryRun {
			if err := client.PutPermissionsGraph(ctx, rewritten); err != nil {
				report.Add(model.ReportItem{Kind: "permissions_graph", Status: model.StatusFailed, Reason: err.Error()})
				return fmt.Errorf("%w: put permissions graph: %v", model.ErrTransport, err)
			}
		}
		report.Add(model.ReportItem{Kind: "permissions_graph", Status: model.StatusUpdated, Name: "data permissions"})
	}

	if pkg.CollPermsGraph != nil {
		rewritten, warnings := rewriteGroupGraph(pkg.CollPermsGraph, func(srcID int) (int, bool) { return res.ResolveCollection(srcID) })
		for _, w := range warnings {
			warnf("collection permissions graph: %s", w)
		}
		if !dryRun {
			if err := client.PutCollectionPermissionsGraph(ctx, rewritten); err != nil {
				report.Add(model.ReportItem{Kind: "collection_permissions_graph", Status: model.StatusFailed, Reason: err.Error()})
				return fmt.Errorf("%w: put collection permissions graph: %v", model.ErrTransport, err)
			}
		}
		report.Add(model.ReportItem{Kind: "collection_permissions_graph", Status: model.StatusUpdated, Name: "collection permissions"})
	}

	return nil
}

// rewriteGroupGraph rewrites graph["groups"][group_id][entity_id] keys
// from source to target entity ids using resolve, leaving the special
// "root" key (the collection graph's catch-all) untouched. An entity id
// with no target mapping is dropped with a warning rather than sent on
// as a dangling source id the target would reject.
func rewriteGroupGraph(graph mbclient.Payload, resolve func(int) (int, bool)) (mbclient.Payload, []string) {
	out := make(mbclient.Payload, len(graph))
	for k, v := range graph {
		out[k] = v
	}

	groups, ok := graph["groups"].(mbclient.Payload)
	if !ok {
		return out, nil
	}

	var warnings []string
	rewrittenGroups := make(mbclient.Payload, len(groups))
	for groupID, rawEntities := range groups {
		entities, ok := rawEntities.(mbclient.Payload)
		if !ok {
			rewrittenGroups[groupID] = rawEntities
			continue
		}
		rewrittenEntities := make(mbclient.Payload, len(entities))
		for entityKey, policy := range entities {
			if entityKey == "root" {
				rewrittenEntities[entityKey] = policy
				continue
			}
			var srcID int
			if _, err := fmt.Sscanf(entityKey, "%d", &srcID); err != nil {
				rewrittenEntities[entityKey] = policy
				continue
			}
			tgtID, ok := resolve(srcID)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("group %s: no target mapping for entity %s, dropped", groupID, entityKey))
				continue
			}
			rewrittenEntities[fmt.Sprintf("%d", tgtID)] = policy
		}
		rewrittenGroups[groupID] = rewrittenEntities
	}
	out["groups"] = rewrittenGroups
	return out, warnings
}
